// Package secrets reads deployment secrets, such as the cookie signing key
// and the login password hash, from SSM Parameter Store or from
// KMS-encrypted blobs.
package secrets

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/nbweb/internal/log"
	"github.com/keithlinneman/nbweb/internal/xerrors"
)

// SSMAPI is the subset of the SSM client used by Store.
type SSMAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// KMSAPI is the subset of the KMS client used by Store.
type KMSAPI interface {
	Decrypt(ctx context.Context, in *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

type Options struct {
	Logger log.Logger

	// Client overrides the SSM client built from AWSConfig.
	Client SSMAPI

	// KMSClient overrides the KMS client built from AWSConfig.
	KMSClient KMSAPI

	// AWS config (uses default if nil)
	AWSConfig *aws.Config
}

type Store struct {
	client SSMAPI
	kms    KMSAPI
	logger log.Logger
}

func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	client, kmsClient := opts.Client, opts.KMSClient
	if client == nil || kmsClient == nil {
		var awsCfg aws.Config
		if opts.AWSConfig != nil {
			awsCfg = *opts.AWSConfig
		} else {
			var err error
			awsCfg, err = config.LoadDefaultConfig(ctx)
			if err != nil {
				return nil, xerrors.Wrap(err, "load AWS config")
			}
		}
		if client == nil {
			client = ssm.NewFromConfig(awsCfg)
		}
		if kmsClient == nil {
			kmsClient = kms.NewFromConfig(awsCfg)
		}
	}
	return &Store{client: client, kms: kmsClient, logger: opts.Logger}, nil
}

// Get returns the decrypted, whitespace-trimmed value of parameter name.
// Empty values are an error.
func (s *Store) Get(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", xerrors.New("SSM parameter name is required")
	}
	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", name)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", name)
	}

	v := strings.TrimSpace(*out.Parameter.Value)
	if v == "" {
		return "", xerrors.Newf("SSM parameter %s is empty", name)
	}

	s.logger.Debug(ctx, "loaded secret from SSM", "param", name, "version", out.Parameter.Version)
	return v, nil
}

// Resolve returns value when set, otherwise the SSM parameter named by
// param. With neither set it returns "".
func (s *Store) Resolve(ctx context.Context, value, param string) (string, error) {
	if value != "" || param == "" {
		return value, nil
	}
	return s.Get(ctx, param)
}

// Decrypt returns the plaintext of a base64 encoded KMS ciphertext. The
// key is taken from the ciphertext metadata.
func (s *Store) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	blob, err := base64.StdEncoding.DecodeString(strings.TrimSpace(ciphertext))
	if err != nil {
		return "", xerrors.Wrap(err, "decode KMS ciphertext")
	}
	if len(blob) == 0 {
		return "", xerrors.New("KMS ciphertext is empty")
	}
	out, err := s.kms.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: blob})
	if err != nil {
		return "", xerrors.Wrap(err, "kms decrypt")
	}
	if len(out.Plaintext) == 0 {
		return "", xerrors.New("kms decrypt returned no plaintext")
	}
	s.logger.Debug(ctx, "decrypted secret with KMS", "key_id", aws.ToString(out.KeyId))
	return string(out.Plaintext), nil
}
