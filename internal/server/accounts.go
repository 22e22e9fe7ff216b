package server

import (
	"context"
	"errors"
	"strings"

	"github.com/Anas-Altaf/gatekeeper"
)

var (
	// ErrEmailTaken an account with the email already exists
	ErrEmailTaken = errors.New("email already exists")
	// ErrInvalidCredentials email or password did not match
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Account is the public view of a stored user.
type Account struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Email string          `json:"email"`
	Role  gatekeeper.Role `json:"role"`
}

// Accounts stores and checks credentials. Implementations live outside this
// module; the server only sees this interface.
type Accounts interface {
	Create(ctx context.Context, in SignUpRequest) (Account, error)
	Authenticate(ctx context.Context, email, password string) (Account, error)
}

// TokenSigner issues tokens after a successful credential check.
type TokenSigner interface {
	Sign(p gatekeeper.TokenPayload) (string, error)
}

// SignUpRequest is the sign-up body.
type SignUpRequest struct {
	Name     string `json:"name" validate:"required,min=2,max=255"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=6,max=128"`
	Role     string `json:"role" validate:"oneof=user admin"`
}

// Normalize trims and lower-cases the email and defaults the role.
func (r *SignUpRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	if r.Role == "" {
		r.Role = gatekeeper.RoleUser.String()
	}
}

// SignInRequest is the sign-in body.
type SignInRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=6,max=128"`
}

// Normalize trims and lower-cases the email.
func (r *SignInRequest) Normalize() {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
}
