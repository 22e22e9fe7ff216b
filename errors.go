package gatekeeper

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig configuration failed validation
	ErrInvalidConfig = errors.New("invalid gatekeeper configuration")
	// ErrUnknownRole a role name or value outside guest/user/admin
	ErrUnknownRole = errors.New("unknown role")
	// ErrSigning the token signing key is unavailable
	ErrSigning = errors.New("token signing key unavailable")
)

// AuthErrorKind classifies token verification failures.
type AuthErrorKind string

const (
	AuthInvalid   AuthErrorKind = "invalid"
	AuthExpired   AuthErrorKind = "expired"
	AuthMalformed AuthErrorKind = "malformed"
)

// AuthError is returned when a token cannot be trusted.
type AuthError struct {
	Kind AuthErrorKind
	Err  error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return "auth: " + string(e.Kind) + " token"
	}
	return fmt.Sprintf("auth: %s token: %v", e.Kind, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// IsAuthError reports whether err is an AuthError of the given kind.
func IsAuthError(err error, kind AuthErrorKind) bool {
	var ae *AuthError
	return errors.As(err, &ae) && ae.Kind == kind
}

// SigningError is returned when a token cannot be issued.
type SigningError struct {
	Err error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("sign token: %v", e.Err)
}

func (e *SigningError) Unwrap() error { return e.Err }

// EngineError is an internal failure of the decision chain. The request must be denied.
type EngineError struct {
	// Stage is the check that failed: bot, shield or rate_limit
	Stage string
	Err   error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("decision engine %s check: %v", e.Stage, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }
