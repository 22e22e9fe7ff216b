package gatekeeper

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Role is a caller's privilege tier. Privilege increases with the value.
type Role int

const (
	// RoleGuest unauthenticated caller
	RoleGuest Role = iota
	// RoleUser authenticated caller
	RoleUser
	// RoleAdmin administrator
	RoleAdmin
)

// Roles lists every role in ascending privilege.
var Roles = []Role{RoleGuest, RoleUser, RoleAdmin}

func (r Role) String() string {
	switch r {
	case RoleGuest:
		return "guest"
	case RoleUser:
		return "user"
	case RoleAdmin:
		return "admin"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r >= RoleGuest && r <= RoleAdmin
}

// ParseRole parses the text form of a role (guest, user, admin).
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "guest":
		return RoleGuest, nil
	case "user":
		return RoleUser, nil
	case "admin":
		return RoleAdmin, nil
	default:
		return RoleGuest, fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRole, int(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(text []byte) error {
	role, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = role
	return nil
}

// KeyBy selects how the rate limit counter space is partitioned.
type KeyBy string

const (
	// KeyByRole one shared budget per role
	KeyByRole KeyBy = "role"
	// KeyBySubject one budget per role and subject; guests are keyed by client IP
	KeyBySubject KeyBy = "subject"
)

// Reason is why a Decision was reached.
type Reason int

const (
	// ReasonAllowed no check denied the request
	ReasonAllowed Reason = iota
	// ReasonBotDetected the bot check flagged the request
	ReasonBotDetected
	// ReasonShieldViolation the shield check flagged the request
	ReasonShieldViolation
	// ReasonRateLimited the caller is over its window budget
	ReasonRateLimited
)

func (r Reason) String() string {
	switch r {
	case ReasonAllowed:
		return "allowed"
	case ReasonBotDetected:
		return "bot_detected"
	case ReasonShieldViolation:
		return "shield_violation"
	case ReasonRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// Request is the transport-neutral view of an inbound request.
type Request struct {
	// ID correlates log lines for one request
	ID        string
	IP        string
	Method    string
	Path      string
	RawQuery  string
	UserAgent string
	// Token is the raw bearer token, empty when the caller sent none
	Token  string
	Header map[string][]string
}

// Identity is the resolved caller.
type Identity struct {
	Role Role
	// SubjectID is empty for guests
	SubjectID     string
	Authenticated bool
}

// Result is the outcome of one rate limit check.
type Result struct {
	// Allowed is false when the caller is over budget
	Allowed bool
	// Limit is the policy's max requests per window
	Limit int64
	// Remaining budget in the current window
	Remaining int64
	// Reset window end as Unix seconds
	Reset int64
	// RetryAfter seconds until the window resets
	RetryAfter int64
}

// Decision is the single verdict composed from all checks.
type Decision struct {
	Denied bool
	Reason Reason
	// Detail is for logs only and must never reach the caller.
	Detail map[string]any
	// RateLimit is nil when the rate limit check did not run.
	RateLimit *Result
}

// Verdict is a detector's answer for one check.
type Verdict struct {
	Flagged bool
	// Rule names what matched. Log only.
	Rule string
}

// Detector is the bot and shield capability consumed by the Engine.
type Detector interface {
	DetectBot(ctx context.Context, req *Request) (Verdict, error)
	CheckShield(ctx context.Context, req *Request) (Verdict, error)
}

// TokenPayload is the verified content of an identity token.
type TokenPayload struct {
	SubjectID string
	Role      Role
	IssuedAt  time.Time
}

// TokenVerifier verifies identity tokens.
type TokenVerifier interface {
	Verify(token string) (TokenPayload, error)
}

// StatsEvent records one decision for statistics.
type StatsEvent struct {
	Role   Role
	Reason Reason
	Method string
	Path   string
	At     time.Time
}

// StatsRecorder persists decision statistics. Callers treat errors as best effort.
type StatsRecorder interface {
	Record(ctx context.Context, ev StatsEvent) error
}

// Snapshot is an aggregate view of recorded decisions.
type Snapshot struct {
	Total    int64            `json:"total"`
	ByReason map[string]int64 `json:"by_reason"`
	ByRole   map[string]int64 `json:"by_role"`
}

// StatsReader exposes recorded statistics.
type StatsReader interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}
