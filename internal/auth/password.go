package auth

import (
	"golang.org/x/crypto/bcrypt"

	"github.com/keithlinneman/nbweb/internal/xerrors"
)

// BcryptCost is the cost factor for new password hashes.
const BcryptCost = 12

// HashPassword creates a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", xerrors.New("password must not be empty")
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", xerrors.Wrap(err, "hash password")
	}
	return string(b), nil
}

// CheckPassword reports whether password matches the bcrypt hash.
func CheckPassword(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
