// Package gatekeeper decides whether an inbound request may pass: it resolves
// the caller role from an optional token, runs bot and shield checks, applies
// the role rate limit and maps the verdict to an HTTP outcome.
package gatekeeper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Response messages. Bot and shield denials share one body so callers cannot
// tell which check matched.
const (
	MessageForbidden = "Access denied due to security policy."
	MessageInternal  = "Something went wrong with Security Middleware"
)

// ErrorBody is the JSON body of a denial.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Outcome is what Admit decided for one request.
type Outcome struct {
	Identity Identity
	Decision Decision
	// Status is http.StatusOK for passthrough, otherwise 403, 429 or 500
	Status int
	// Body is nil when the request is allowed
	Body *ErrorBody
	// Err is set on internal failures; never sent to the caller
	Err error
}

// Allowed reports whether the request may pass.
func (o *Outcome) Allowed() bool {
	return o.Status == http.StatusOK
}

// Gatekeeper resolves the caller, runs the decision engine and maps the
// decision to an HTTP outcome. It is safe for concurrent use.
type Gatekeeper struct {
	resolver *RoleResolver
	engine   *Engine
	stats    StatsRecorder
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Gatekeeper.
type Option func(*Gatekeeper)

// WithStats records every decision. Recording is best effort.
func WithStats(stats StatsRecorder) Option {
	return func(g *Gatekeeper) { g.stats = stats }
}

// WithLogger sets the logger used for denials. Default slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gatekeeper) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithClock overrides the clock used for stats timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Gatekeeper) { g.now = now }
}

// New creates a gatekeeper. Role messages come from the engine's policy
// table, so limits and messages cannot disagree.
func New(resolver *RoleResolver, engine *Engine, opts ...Option) *Gatekeeper {
	g := &Gatekeeper{
		resolver: resolver,
		engine:   engine,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Admit decides whether req may pass. It never returns nil and never panics;
// any internal failure yields a 500 outcome.
func (g *Gatekeeper) Admit(ctx context.Context, req *Request) (out *Outcome) {
	id := Identity{Role: RoleGuest}

	defer func() {
		if r := recover(); r != nil {
			out = g.fail(req, id, fmt.Errorf("gatekeeper panic: %v", r))
		}
	}()

	if g.resolver != nil {
		id = g.resolver.Resolve(req.Token)
	}

	if g.engine == nil {
		return g.fail(req, id, &EngineError{Stage: stageBot, Err: errNoDetector})
	}
	policy, ok := g.engine.Policies().Lookup(id.Role)
	if !ok {
		return g.fail(req, id, fmt.Errorf("%w: no policy for %s", ErrUnknownRole, id.Role))
	}

	decision, err := g.engine.Protect(ctx, req, id)
	if err != nil {
		return g.fail(req, id, err)
	}
	g.record(ctx, req, id, decision.Reason)

	out = &Outcome{Identity: id, Decision: decision, Status: http.StatusOK}
	if !decision.Denied {
		return out
	}

	switch decision.Reason {
	case ReasonBotDetected, ReasonShieldViolation:
		out.Status = http.StatusForbidden
		out.Body = &ErrorBody{Error: "Forbidden", Message: MessageForbidden}
	case ReasonRateLimited:
		out.Status = http.StatusTooManyRequests
		out.Body = &ErrorBody{Error: "Too Many Requests", Message: policy.Message}
	default:
		return g.fail(req, id, fmt.Errorf("denied with unexpected reason %s", decision.Reason))
	}

	g.logDenial(req, id, decision)
	return out
}

func (g *Gatekeeper) fail(req *Request, id Identity, err error) *Outcome {
	g.logger.Error("security middleware error",
		"error", err,
		"request_id", req.ID,
		"ip", req.IP,
		"path", req.Path,
		"method", req.Method,
		"user_agent", req.UserAgent,
		"role", id.Role.String(),
	)
	return &Outcome{
		Identity: id,
		Status:   http.StatusInternalServerError,
		Body:     &ErrorBody{Error: "Internal Server Error", Message: MessageInternal},
		Err:      err,
	}
}

func (g *Gatekeeper) logDenial(req *Request, id Identity, d Decision) {
	attrs := []any{
		"request_id", req.ID,
		"ip", req.IP,
		"path", req.Path,
		"method", req.Method,
		"user_agent", req.UserAgent,
		"role", id.Role.String(),
		"reason", d.Reason.String(),
	}
	if id.SubjectID != "" {
		attrs = append(attrs, "subject", id.SubjectID)
	}
	if len(d.Detail) > 0 {
		attrs = append(attrs, "detail", d.Detail)
	}

	switch d.Reason {
	case ReasonBotDetected:
		g.logger.Warn("bot request blocked", attrs...)
	case ReasonShieldViolation:
		g.logger.Warn("shield request blocked", attrs...)
	default:
		g.logger.Warn("rate limit exceeded for "+id.Role.String(), attrs...)
	}
}

func (g *Gatekeeper) record(ctx context.Context, req *Request, id Identity, reason Reason) {
	if g.stats == nil {
		return
	}
	ev := StatsEvent{
		Role:   id.Role,
		Reason: reason,
		Method: req.Method,
		Path:   req.Path,
		At:     g.now(),
	}
	if err := g.stats.Record(ctx, ev); err != nil {
		g.logger.Debug("record stats failed", "error", err)
	}
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity stored by WithIdentity.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
