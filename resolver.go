package gatekeeper

import (
	"errors"
	"log/slog"
)

// RoleResolver turns an optional token into an Identity. Authentication
// failures degrade the caller to guest; they never block the request.
type RoleResolver struct {
	verifier TokenVerifier
	logger   *slog.Logger
}

// NewRoleResolver creates a resolver. A nil verifier resolves everyone to guest.
func NewRoleResolver(verifier TokenVerifier, logger *slog.Logger) *RoleResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &RoleResolver{verifier: verifier, logger: logger}
}

// Resolve returns the caller's identity.
func (r *RoleResolver) Resolve(token string) Identity {
	guest := Identity{Role: RoleGuest}
	if token == "" || r.verifier == nil {
		return guest
	}

	p, err := r.verifier.Verify(token)
	if err != nil {
		kind := AuthInvalid
		var ae *AuthError
		if errors.As(err, &ae) {
			kind = ae.Kind
		}
		r.logger.Debug("token rejected, resolving as guest", "kind", string(kind), "error", err)
		return guest
	}
	if !p.Role.Valid() {
		r.logger.Debug("token carries unknown role, resolving as guest", "role", int(p.Role))
		return guest
	}

	return Identity{
		Role:          p.Role,
		SubjectID:     p.SubjectID,
		Authenticated: true,
	}
}
