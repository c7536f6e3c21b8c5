package database

import "github.com/pkg/errors"

// ErrNotFound denotes that the requested key does not exist in the database.
var ErrNotFound = errors.New("not found")

// IsNotFoundError returns whether err is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}
