package local

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// DefaultHashCost is the bcrypt cost used for new passwords.
const DefaultHashCost = 12

var (
	errEmptyPassword      = errors.New("password must not be empty")
	errMismatchedPassword = errors.New("password does not match hash")
)

// HashPassword hashes password with cost, DefaultHashCost when cost is out
// of the bcrypt range.
func HashPassword(password string, cost int) (string, error) {
	if password == "" {
		return "", errEmptyPassword
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultHashCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	return string(h), err
}

// ComparePasswordAndHash validates the cleartext password against hash.
func ComparePasswordAndHash(password, hash string) error {
	if hash == "" {
		return errMismatchedPassword
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return errMismatchedPassword
		}
		return err
	}
	return nil
}
