// Package jwt signs and verifies identity tokens as HS256 JSON Web Tokens.
package jwt

import (
	"errors"
	"time"

	"github.com/Anas-Altaf/gatekeeper"
	libjwt "github.com/golang-jwt/jwt/v5"
)

// Claims is the token body.
type Claims struct {
	Role string `json:"role"`
	libjwt.RegisteredClaims
}

// Service holds the signing secret and token lifetime. Both are fixed at
// construction and the service is safe for concurrent use.
type Service struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithIssuer sets and requires the iss claim.
func WithIssuer(issuer string) Option {
	return func(s *Service) { s.issuer = issuer }
}

// WithClock overrides the time source used for iat, exp and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a token service. An empty secret yields a service whose
// Sign fails with gatekeeper.ErrSigning and whose Verify rejects everything.
func NewService(secret string, ttl time.Duration, opts ...Option) *Service {
	s := &Service{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the token lifetime.
func (s *Service) TTL() time.Duration { return s.ttl }

// Sign issues a token for p. A zero IssuedAt means now. Times are kept at
// second precision, so Verify returns exactly what was signed.
func (s *Service) Sign(p gatekeeper.TokenPayload) (string, error) {
	if len(s.secret) == 0 {
		return "", &gatekeeper.SigningError{Err: gatekeeper.ErrSigning}
	}
	if !p.Role.Valid() {
		return "", &gatekeeper.SigningError{Err: gatekeeper.ErrUnknownRole}
	}

	issuedAt := p.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = s.now()
	}
	issuedAt = issuedAt.Truncate(time.Second)

	claims := Claims{
		Role: p.Role.String(),
		RegisteredClaims: libjwt.RegisteredClaims{
			Subject:   p.SubjectID,
			Issuer:    s.issuer,
			IssuedAt:  libjwt.NewNumericDate(issuedAt),
			ExpiresAt: libjwt.NewNumericDate(issuedAt.Add(s.ttl)),
		},
	}

	token, err := libjwt.NewWithClaims(libjwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", &gatekeeper.SigningError{Err: err}
	}
	return token, nil
}

// Verify checks the signature and expiry of token and returns its payload.
// Failures are *gatekeeper.AuthError.
func (s *Service) Verify(token string) (gatekeeper.TokenPayload, error) {
	if len(s.secret) == 0 {
		return gatekeeper.TokenPayload{}, &gatekeeper.AuthError{Kind: gatekeeper.AuthInvalid, Err: gatekeeper.ErrSigning}
	}

	opts := []libjwt.ParserOption{
		libjwt.WithValidMethods([]string{libjwt.SigningMethodHS256.Alg()}),
		libjwt.WithTimeFunc(s.now),
		libjwt.WithExpirationRequired(),
		libjwt.WithIssuedAt(),
	}
	if s.issuer != "" {
		opts = append(opts, libjwt.WithIssuer(s.issuer))
	}

	var claims Claims
	_, err := libjwt.ParseWithClaims(token, &claims, func(*libjwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return gatekeeper.TokenPayload{}, classify(err)
	}

	role, err := gatekeeper.ParseRole(claims.Role)
	if err != nil {
		return gatekeeper.TokenPayload{}, &gatekeeper.AuthError{Kind: gatekeeper.AuthMalformed, Err: err}
	}

	p := gatekeeper.TokenPayload{
		SubjectID: claims.Subject,
		Role:      role,
	}
	if claims.IssuedAt != nil {
		p.IssuedAt = claims.IssuedAt.Time
	}
	return p, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, libjwt.ErrTokenExpired):
		return &gatekeeper.AuthError{Kind: gatekeeper.AuthExpired, Err: err}
	case errors.Is(err, libjwt.ErrTokenMalformed):
		return &gatekeeper.AuthError{Kind: gatekeeper.AuthMalformed, Err: err}
	default:
		return &gatekeeper.AuthError{Kind: gatekeeper.AuthInvalid, Err: err}
	}
}
