package gatekeeper

import (
	"fmt"
	"strings"
	"time"
)

// Policy is the rate limit applied to one role.
type Policy struct {
	Role        Role
	MaxRequests int64
	Window      time.Duration
	// Label names the policy in keys and logs, e.g. guest_rate_limit
	Label string
	// Message is returned to callers that exceed the policy
	Message string
}

// PolicyTable maps every role to its policy. It is a value type with no
// exported mutators; a table never changes once built.
type PolicyTable struct {
	policies [roleCount]Policy
}

const roleCount = int(RoleAdmin) + 1

// NewPolicyTable builds a table from one policy per role. Every role must be
// present, limits and windows must be positive, and MaxRequests must not
// decrease as privilege increases.
func NewPolicyTable(policies ...Policy) (PolicyTable, error) {
	var t PolicyTable
	var seen [roleCount]bool

	for _, p := range policies {
		if !p.Role.Valid() {
			return PolicyTable{}, fmt.Errorf("%w: %d", ErrUnknownRole, int(p.Role))
		}
		if seen[p.Role] {
			return PolicyTable{}, fmt.Errorf("duplicate policy for role %s: %w", p.Role, ErrInvalidConfig)
		}
		if p.MaxRequests <= 0 {
			return PolicyTable{}, fmt.Errorf("policy %s: limit must be > 0: %w", p.Role, ErrInvalidConfig)
		}
		if p.Window <= 0 {
			return PolicyTable{}, fmt.Errorf("policy %s: window must be > 0: %w", p.Role, ErrInvalidConfig)
		}
		if p.Label == "" {
			p.Label = p.Role.String() + "_rate_limit"
		}
		if p.Message == "" {
			p.Message = fmt.Sprintf("%s request limit exceeded (%d requests per %s).", capitalize(p.Role.String()), p.MaxRequests, p.Window)
		}
		seen[p.Role] = true
		t.policies[p.Role] = p
	}

	for _, r := range Roles {
		if !seen[r] {
			return PolicyTable{}, fmt.Errorf("missing policy for role %s: %w", r, ErrInvalidConfig)
		}
	}
	for i := 1; i < len(Roles); i++ {
		lower, higher := t.policies[Roles[i-1]], t.policies[Roles[i]]
		if higher.MaxRequests < lower.MaxRequests {
			return PolicyTable{}, fmt.Errorf("policy %s limit %d is below %s limit %d: %w",
				higher.Role, higher.MaxRequests, lower.Role, lower.MaxRequests, ErrInvalidConfig)
		}
	}

	return t, nil
}

// DefaultPolicies returns the stock per-minute budgets: guest 5, user 10, admin 20.
func DefaultPolicies() PolicyTable {
	t, err := NewPolicyTable(
		Policy{
			Role:        RoleGuest,
			MaxRequests: 5,
			Window:      time.Minute,
			Message:     "Guest request limit exceeded (5 requests per minute). Consider signing up for more access.",
		},
		Policy{
			Role:        RoleUser,
			MaxRequests: 10,
			Window:      time.Minute,
			Message:     "User request limit exceeded (10 requests per minute). Please wait before making more requests.",
		},
		Policy{
			Role:        RoleAdmin,
			MaxRequests: 20,
			Window:      time.Minute,
			Message:     "Admin request limit exceeded (20 requests per minute). Slow down!",
		},
	)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup returns the policy for r.
func (t PolicyTable) Lookup(r Role) (Policy, bool) {
	if !r.Valid() || t.policies[r].MaxRequests == 0 {
		return Policy{}, false
	}
	return t.policies[r], true
}

// Policies returns a copy of every policy in ascending privilege.
func (t PolicyTable) Policies() []Policy {
	out := make([]Policy, 0, len(Roles))
	for _, r := range Roles {
		if p, ok := t.Lookup(r); ok {
			out = append(out, p)
		}
	}
	return out
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
