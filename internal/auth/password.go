package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is enforced when creating or changing local passwords.
const MinPasswordLength = 8

// dummyHash is compared against when no stored hash exists so every failed
// lookup costs one bcrypt comparison.
var dummyHash = mustHash("gridgate-dummy-password")

// HashPassword returns a bcrypt hash with a fresh random salt.
func HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword compares a plaintext password with a stored hash.
// A nil hash still performs a comparison and then fails.
func CheckPassword(hash *string, password string) error {
	stored := dummyHash
	if hash != nil && *hash != "" {
		stored = []byte(*hash)
	}

	err := bcrypt.CompareHashAndPassword(stored, []byte(password))
	if hash == nil || *hash == "" {
		return ErrAuthenticationFailed
	}
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrAuthenticationFailed
		}
		return fmt.Errorf("compare password: %w", err)
	}
	return nil
}

func mustHash(password string) []byte {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return hash
}
