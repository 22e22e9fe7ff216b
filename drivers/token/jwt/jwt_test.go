package jwt

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Anas-Altaf/gatekeeper"
	libjwt "github.com/golang-jwt/jwt/v5"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func TestService_SignVerifyRoundTrip(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	svc := NewService(testSecret, time.Hour, WithClock(clock.Now), WithIssuer("acquisitions"))

	tests := []struct {
		name    string
		payload gatekeeper.TokenPayload
	}{
		{"user", gatekeeper.TokenPayload{SubjectID: "42", Role: gatekeeper.RoleUser, IssuedAt: clock.t}},
		{"admin", gatekeeper.TokenPayload{SubjectID: "7", Role: gatekeeper.RoleAdmin, IssuedAt: clock.t.Add(-time.Minute)}},
		{"guest without subject", gatekeeper.TokenPayload{Role: gatekeeper.RoleGuest, IssuedAt: clock.t}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := svc.Sign(tt.payload)
			if err != nil {
				t.Fatalf("Sign() error = %v", err)
			}

			got, err := svc.Verify(token)
			if err != nil {
				t.Fatalf("Verify() error = %v", err)
			}
			if got.SubjectID != tt.payload.SubjectID {
				t.Errorf("SubjectID = %q, want %q", got.SubjectID, tt.payload.SubjectID)
			}
			if got.Role != tt.payload.Role {
				t.Errorf("Role = %v, want %v", got.Role, tt.payload.Role)
			}
			if !got.IssuedAt.Equal(tt.payload.IssuedAt) {
				t.Errorf("IssuedAt = %v, want %v", got.IssuedAt, tt.payload.IssuedAt)
			}
		})
	}
}

func TestService_SignIsDeterministic(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	svc := NewService(testSecret, time.Hour, WithClock(clock.Now))

	p := gatekeeper.TokenPayload{SubjectID: "42", Role: gatekeeper.RoleUser, IssuedAt: clock.t}
	a, err := svc.Sign(p)
	if err != nil {
		t.Fatal(err)
	}
	b, err := svc.Sign(p)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("signing the same payload twice should give the same token")
	}
}

func TestService_ZeroIssuedAtUsesClock(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 500)}
	svc := NewService(testSecret, time.Hour, WithClock(clock.Now))

	token, err := svc.Sign(gatekeeper.TokenPayload{SubjectID: "1", Role: gatekeeper.RoleUser})
	if err != nil {
		t.Fatal(err)
	}
	got, err := svc.Verify(token)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IssuedAt.Equal(time.Unix(1_700_000_000, 0)) {
		t.Errorf("IssuedAt = %v, want clock time truncated to seconds", got.IssuedAt)
	}
}

func TestService_VerifyExpired(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	svc := NewService(testSecret, time.Hour, WithClock(clock.Now))

	token, err := svc.Sign(gatekeeper.TokenPayload{SubjectID: "42", Role: gatekeeper.RoleUser})
	if err != nil {
		t.Fatal(err)
	}

	clock.t = clock.t.Add(59 * time.Minute)
	if _, err := svc.Verify(token); err != nil {
		t.Fatalf("Verify() before expiry error = %v", err)
	}

	clock.t = clock.t.Add(2 * time.Minute)
	_, err = svc.Verify(token)
	if !gatekeeper.IsAuthError(err, gatekeeper.AuthExpired) {
		t.Fatalf("Verify() after expiry error = %v, want expired AuthError", err)
	}
}

func TestService_VerifyFailures(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	svc := NewService(testSecret, time.Hour, WithClock(clock.Now))
	other := NewService(strings.Repeat("x", 32), time.Hour, WithClock(clock.Now))

	foreign, err := other.Sign(gatekeeper.TokenPayload{SubjectID: "1", Role: gatekeeper.RoleAdmin})
	if err != nil {
		t.Fatal(err)
	}

	none := libjwt.NewWithClaims(libjwt.SigningMethodNone, Claims{
		Role: "admin",
		RegisteredClaims: libjwt.RegisteredClaims{
			ExpiresAt: libjwt.NewNumericDate(clock.t.Add(time.Hour)),
		},
	})
	unsigned, err := none.SignedString(libjwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}

	badRole, err := libjwt.NewWithClaims(libjwt.SigningMethodHS256, Claims{
		Role: "root",
		RegisteredClaims: libjwt.RegisteredClaims{
			ExpiresAt: libjwt.NewNumericDate(clock.t.Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		token string
		kind  gatekeeper.AuthErrorKind
	}{
		{"garbage", "not-a-token", gatekeeper.AuthMalformed},
		{"empty", "", gatekeeper.AuthMalformed},
		{"wrong secret", foreign, gatekeeper.AuthInvalid},
		{"alg none", unsigned, gatekeeper.AuthInvalid},
		{"unknown role", badRole, gatekeeper.AuthMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Verify(tt.token)
			if !gatekeeper.IsAuthError(err, tt.kind) {
				t.Errorf("Verify() error = %v, want %s AuthError", err, tt.kind)
			}
		})
	}
}

func TestService_MissingSecret(t *testing.T) {
	svc := NewService("", time.Hour)

	_, err := svc.Sign(gatekeeper.TokenPayload{SubjectID: "1", Role: gatekeeper.RoleUser})
	var se *gatekeeper.SigningError
	if !errors.As(err, &se) {
		t.Fatalf("Sign() error = %v, want SigningError", err)
	}
	if !errors.Is(err, gatekeeper.ErrSigning) {
		t.Errorf("Sign() error = %v, want ErrSigning", err)
	}

	if _, err := svc.Verify("a.b.c"); !gatekeeper.IsAuthError(err, gatekeeper.AuthInvalid) {
		t.Errorf("Verify() error = %v, want invalid AuthError", err)
	}
}

func TestService_IssuerMismatch(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	a := NewService(testSecret, time.Hour, WithClock(clock.Now), WithIssuer("a"))
	b := NewService(testSecret, time.Hour, WithClock(clock.Now), WithIssuer("b"))

	token, err := a.Sign(gatekeeper.TokenPayload{SubjectID: "1", Role: gatekeeper.RoleUser})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Verify(token); !gatekeeper.IsAuthError(err, gatekeeper.AuthInvalid) {
		t.Errorf("Verify() error = %v, want invalid AuthError", err)
	}
}
