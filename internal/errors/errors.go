package errors

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the session, identity and gate packages
var (
	// Authorization errors
	ErrForbidden       = errors.New("forbidden")
	ErrInvalidArgument = errors.New("invalid argument")

	// Login flow errors
	ErrMissingFlowState  = errors.New("missing flow state")
	ErrIdentityProvider  = errors.New("identity provider error")
	ErrMalformedResponse = errors.New("malformed response")

	// Outbound request errors
	ErrNoToken           = errors.New("no login token available")
	ErrUnsupportedMethod = errors.New("http method not allowed")

	// Session errors
	ErrSessionNotFound     = errors.New("session not found")
	ErrNoSessionMiddleware = errors.New("session middleware not installed")

	// Configuration errors
	ErrRequiredValue = errors.New("required value missing")
	ErrInvalidValue  = errors.New("invalid value")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
