package contents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/keithlinneman/nbweb/internal/log"
	"github.com/keithlinneman/nbweb/internal/xerrors"
)

// S3API is the subset of the S3 client used by S3Manager.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Options struct {
	Logger log.Logger

	// Bucket holding the contents tree: s3://{bucket}/{prefix}/{path}
	Bucket string
	Prefix string

	// MaxBytes caps object reads and writes; <= 0 disables the cap.
	MaxBytes int64

	// Client overrides the S3 client built from AWSConfig.
	Client S3API

	// AWS config (uses default if nil)
	AWSConfig *aws.Config
}

// S3Manager keeps contents as objects in a bucket. Directories are key
// prefixes; saving a directory writes an empty "dir/" marker object.
type S3Manager struct {
	opts   S3Options
	client S3API
	logger log.Logger
}

func NewS3Manager(ctx context.Context, opts S3Options) (*S3Manager, error) {
	if opts.Bucket == "" {
		return nil, xerrors.New("Bucket is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	opts.Prefix = strings.Trim(opts.Prefix, "/")

	client := opts.Client
	if client == nil {
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
		client = s3.NewFromConfig(awsCfg)
	}

	return &S3Manager{opts: opts, client: client, logger: opts.Logger}, nil
}

// objectKey returns the object key for the entry at p.
func (m *S3Manager) objectKey(p string) string {
	switch {
	case m.opts.Prefix == "":
		return p
	case p == "":
		return m.opts.Prefix
	}
	return m.opts.Prefix + "/" + p
}

// dirPrefix returns the listing prefix for the directory at p.
func (m *S3Manager) dirPrefix(p string) string {
	k := m.objectKey(p)
	if k == "" {
		return ""
	}
	return k + "/"
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	return errors.As(err, &nf) || errors.As(err, &nsk)
}

func (m *S3Manager) PathExists(ctx context.Context, dir string) (bool, error) {
	p, err := key("", dir)
	if err != nil {
		if errors.Is(err, ErrHidden) {
			return false, nil
		}
		return false, err
	}
	return m.isDir(ctx, p)
}

func (m *S3Manager) isDir(ctx context.Context, p string) (bool, error) {
	if p == "" {
		return true, nil
	}
	out, err := m.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(m.opts.Bucket),
		Prefix:  aws.String(m.dirPrefix(p)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, xerrors.Wrapf(err, "list s3://%s/%s", m.opts.Bucket, m.dirPrefix(p))
	}
	return len(out.Contents) > 0 || len(out.CommonPrefixes) > 0, nil
}

func (m *S3Manager) FileExists(ctx context.Context, name, dir string) (bool, error) {
	if name == "" {
		return false, nil
	}
	p, err := key(name, dir)
	if err != nil {
		if errors.Is(err, ErrHidden) {
			return false, nil
		}
		return false, err
	}
	_, err = m.head(ctx, p)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	}
	return false, err
}

func (m *S3Manager) head(ctx context.Context, p string) (*s3.HeadObjectOutput, error) {
	if p == "" {
		return nil, ErrNotFound
	}
	out, err := m.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(m.opts.Bucket),
		Key:    aws.String(m.objectKey(p)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, xerrors.Wrapf(err, "head s3://%s/%s", m.opts.Bucket, m.objectKey(p))
	}
	return out, nil
}

func (m *S3Manager) GetModel(ctx context.Context, name, dir string, content bool) (*Model, error) {
	p, err := key(name, dir)
	if err != nil {
		return nil, err
	}

	out, err := m.head(ctx, p)
	switch {
	case err == nil:
		model := objectModel(p, aws.ToInt64(out.ContentLength), aws.ToTime(out.LastModified))
		if content {
			data, err := m.read(ctx, p, model.Size)
			if err != nil {
				return nil, err
			}
			model.fill(data)
		}
		return model, nil
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	ok, err := m.isDir(ctx, p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	model := dirModel(p, time.Time{})
	if content {
		if err := m.listDir(ctx, model); err != nil {
			return nil, err
		}
	}
	return model, nil
}

func objectModel(p string, size int64, modified time.Time) *Model {
	name := path.Base("/" + p)
	return &Model{
		Name:         name,
		Path:         p,
		Type:         TypeForName(name),
		Size:         size,
		Created:      modified,
		LastModified: modified,
		Writable:     true,
	}
}

func dirModel(p string, modified time.Time) *Model {
	m := &Model{
		Name:         path.Base("/" + p),
		Path:         p,
		Type:         TypeDirectory,
		Created:      modified,
		LastModified: modified,
		Writable:     true,
	}
	if p == "" {
		m.Name = ""
	}
	return m
}

func (m *S3Manager) read(ctx context.Context, p string, size int64) ([]byte, error) {
	if m.opts.MaxBytes > 0 && size > m.opts.MaxBytes {
		return nil, ErrTooLarge
	}
	k := m.objectKey(p)
	out, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.opts.Bucket),
		Key:    aws.String(k),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, xerrors.Wrapf(err, "get S3 object s3://%s/%s", m.opts.Bucket, k)
	}
	defer out.Body.Close()

	var r io.Reader = out.Body
	if m.opts.MaxBytes > 0 {
		r = io.LimitReader(out.Body, m.opts.MaxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read S3 object s3://%s/%s", m.opts.Bucket, k)
	}
	if m.opts.MaxBytes > 0 && int64(len(data)) > m.opts.MaxBytes {
		return nil, ErrTooLarge
	}
	return data, nil
}

func (m *S3Manager) listDir(ctx context.Context, model *Model) error {
	prefix := m.dirPrefix(model.Path)
	pager := s3.NewListObjectsV2Paginator(m.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(m.opts.Bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	children := []Model{}
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return xerrors.Wrapf(err, "list s3://%s/%s", m.opts.Bucket, prefix)
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			if name == "" || strings.HasPrefix(name, ".") {
				continue
			}
			children = append(children, *dirModel(path.Join(model.Path, name), time.Time{}))
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			// "" is the directory's own marker object
			if name == "" || strings.Contains(name, "/") || strings.HasPrefix(name, ".") {
				continue
			}
			children = append(children, *objectModel(path.Join(model.Path, name), aws.ToInt64(obj.Size), aws.ToTime(obj.LastModified)))
		}
	}

	m.logger.Debug(ctx, "listed s3 directory", "bucket", m.opts.Bucket, "prefix", prefix, "entries", len(children))

	sort.Slice(children, func(i, j int) bool {
		if (children[i].Type == TypeDirectory) != (children[j].Type == TypeDirectory) {
			return children[i].Type == TypeDirectory
		}
		return strings.ToLower(children[i].Name) < strings.ToLower(children[j].Name)
	})
	model.Children = children
	model.HasContent = true
	model.Format = FormatJSON
	return nil
}

func (m *S3Manager) Save(ctx context.Context, model *Model, name, dir string) (*Model, error) {
	if model == nil {
		return nil, &FormatError{Msg: "no model"}
	}
	p, err := key(name, dir)
	if err != nil {
		return nil, err
	}
	if p == "" {
		return nil, ErrBadPath
	}

	typ := model.Type
	if typ == "" {
		typ = TypeForName(name)
	}

	in := &s3.PutObjectInput{Bucket: aws.String(m.opts.Bucket)}
	switch typ {
	case TypeDirectory:
		in.Key = aws.String(m.dirPrefix(p))
		in.Body = bytes.NewReader(nil)
	case TypeNotebook, TypeFile:
		if !model.HasContent {
			return nil, &FormatError{Msg: "no content"}
		}
		if typ == TypeNotebook && !json.Valid(model.Content) {
			return nil, &FormatError{Msg: "notebook content must be JSON"}
		}
		if m.opts.MaxBytes > 0 && int64(len(model.Content)) > m.opts.MaxBytes {
			return nil, ErrTooLarge
		}
		probe := &Model{Name: path.Base("/" + p), Type: typ}
		probe.fill(model.Content)
		in.Key = aws.String(m.objectKey(p))
		in.Body = bytes.NewReader(model.Content)
		in.ContentType = aws.String(probe.DownloadMimetype())
	default:
		return nil, &FormatError{Msg: "unknown type " + typ}
	}

	if _, err := m.client.PutObject(ctx, in); err != nil {
		return nil, xerrors.Wrapf(err, "put S3 object s3://%s/%s", m.opts.Bucket, aws.ToString(in.Key))
	}
	m.logger.Info(ctx, "saved contents", "bucket", m.opts.Bucket, "key", aws.ToString(in.Key), "type", typ)

	if typ == TypeDirectory {
		return dirModel(p, time.Now()), nil
	}
	saved := objectModel(p, int64(len(model.Content)), time.Now())
	return saved, nil
}
