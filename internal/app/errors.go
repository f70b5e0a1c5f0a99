package app

import "errors"

var (
	// ErrInvalidCredentials is returned when login or password do not match.
	// The message never distinguishes a missing user from a wrong password.
	ErrInvalidCredentials = errors.New("incorrect login or password")

	// ErrLoginTaken is returned when registering an existing login.
	ErrLoginTaken = errors.New("user already exists")

	// ErrForbidden is returned when the authenticated identity is not the
	// owner of the resolved resource.
	ErrForbidden = errors.New("you don't have permission to access this resource")

	ErrUserNotFound       = errors.New("user not found")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrBookNotFound       = errors.New("book not found")
	ErrFileNotFound       = errors.New("file not found")
)

// IsNotFound reports whether err is any of the missing-resource errors.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrCollectionNotFound) ||
		errors.Is(err, ErrBookNotFound) ||
		errors.Is(err, ErrFileNotFound)
}
