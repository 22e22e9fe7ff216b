package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Anas-Altaf/gatekeeper/drivers/algorithm"
)

const (
	stageBot       = "bot"
	stageShield    = "shield"
	stageRateLimit = "rate_limit"
)

var errNoDetector = errors.New("no detector configured")

// Engine composes the bot, shield and rate limit checks into one Decision.
//
// Checks run in that fixed order and the first denial wins: bot and shield
// hits are incidents and must block whatever budget the caller has left.
type Engine struct {
	detector Detector
	limiter  algorithm.Algorithm
	policies PolicyTable
	keyBy    KeyBy
	timeout  time.Duration
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithKeyBy selects how rate limit keys are built. Default KeyBySubject.
func WithKeyBy(by KeyBy) EngineOption {
	return func(e *Engine) { e.keyBy = by }
}

// WithDetectorTimeout bounds each detector call. Default 500ms.
func WithDetectorTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.timeout = d }
}

// NewEngine creates an engine.
func NewEngine(detector Detector, limiter algorithm.Algorithm, policies PolicyTable, opts ...EngineOption) *Engine {
	e := &Engine{
		detector: detector,
		limiter:  limiter,
		policies: policies,
		keyBy:    KeyBySubject,
		timeout:  500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policies returns the policy table the engine enforces.
func (e *Engine) Policies() PolicyTable {
	return e.policies
}

// Protect evaluates req for the caller id. A non-nil error is an
// *EngineError and the request must not be allowed.
func (e *Engine) Protect(ctx context.Context, req *Request, id Identity) (Decision, error) {
	if e.detector == nil {
		return Decision{}, &EngineError{Stage: stageBot, Err: errNoDetector}
	}

	// 1. bot detection
	v, err := e.detect(ctx, e.detector.DetectBot, req)
	if err != nil {
		return Decision{}, &EngineError{Stage: stageBot, Err: err}
	}
	if v.Flagged {
		return Decision{
			Denied: true,
			Reason: ReasonBotDetected,
			Detail: map[string]any{"rule": v.Rule},
		}, nil
	}

	// 2. shield
	v, err = e.detect(ctx, e.detector.CheckShield, req)
	if err != nil {
		return Decision{}, &EngineError{Stage: stageShield, Err: err}
	}
	if v.Flagged {
		return Decision{
			Denied: true,
			Reason: ReasonShieldViolation,
			Detail: map[string]any{"rule": v.Rule},
		}, nil
	}

	// 3. rate limit
	policy, ok := e.policies.Lookup(id.Role)
	if !ok {
		return Decision{}, &EngineError{Stage: stageRateLimit, Err: fmt.Errorf("%w: %s", ErrUnknownRole, id.Role)}
	}
	key := buildKey(policy, e.keyBy, id, req.IP)

	res, err := e.limiter.Allow(ctx, key, policy.MaxRequests, policy.Window)
	if err != nil {
		return Decision{}, &EngineError{Stage: stageRateLimit, Err: err}
	}

	result := &Result{
		Allowed:    res.Allowed,
		Limit:      res.Limit,
		Remaining:  res.Remaining,
		Reset:      res.Reset,
		RetryAfter: res.RetryAfter,
	}
	if !res.Allowed {
		return Decision{
			Denied: true,
			Reason: ReasonRateLimited,
			Detail: map[string]any{
				"policy": policy.Label,
				"key":    key,
				"count":  res.Count,
			},
			RateLimit: result,
		}, nil
	}

	return Decision{Reason: ReasonAllowed, RateLimit: result}, nil
}

type detectFunc func(context.Context, *Request) (Verdict, error)

// detect runs one detector call under the engine timeout. The call is
// abandoned when the deadline passes even if the detector ignores ctx.
func (e *Engine) detect(ctx context.Context, fn detectFunc, req *Request) (Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type answer struct {
		v   Verdict
		err error
	}
	ch := make(chan answer, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- answer{err: fmt.Errorf("detector panic: %v", r)}
			}
		}()
		v, err := fn(ctx, req)
		ch <- answer{v, err}
	}()

	select {
	case a := <-ch:
		return a.v, a.err
	case <-ctx.Done():
		return Verdict{}, ctx.Err()
	}
}

// buildKey builds the counter key for a policy and caller.
func buildKey(policy Policy, by KeyBy, id Identity, ip string) string {
	parts := []string{policy.Label}

	switch by {
	case KeyByRole:
		parts = append(parts, "role")
	default:
		if id.Authenticated && id.SubjectID != "" {
			parts = append(parts, "user", id.SubjectID)
		} else {
			// no subject, fall back to the client IP
			if ip == "" {
				ip = "unknown"
			}
			parts = append(parts, "ip", ip)
		}
	}

	return strings.Join(parts, ":")
}
