// Package nethttp adapts the gatekeeper to plain net/http handlers.
package nethttp

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/Anas-Altaf/gatekeeper"
	"github.com/google/uuid"
)

// Admitter is the gatekeeper interface.
type Admitter interface {
	Admit(ctx context.Context, req *gatekeeper.Request) *gatekeeper.Outcome
}

// IPFunc extracts the client IP.
type IPFunc func(r *http.Request) string

// Options configures Middleware.
type Options struct {
	Gatekeeper Admitter
	// CookieName holds the token when no bearer header is sent. Default "token".
	CookieName         string
	TrustXForwardedFor bool
	IPFn               IPFunc
	// AddRateLimitHeaders sets X-RateLimit-* on every checked response
	AddRateLimitHeaders bool
}

// DefaultIPFunc uses the first X-Forwarded-For entry when trusted, else RemoteAddr.
func DefaultIPFunc(trustXFF bool) IPFunc {
	return func(r *http.Request) string {
		if trustXFF {
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
		}

		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

// Middleware admits requests through the gatekeeper before next runs.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.CookieName == "" {
		opts.CookieName = "token"
	}
	if opts.IPFn == nil {
		opts.IPFn = DefaultIPFunc(opts.TrustXForwardedFor)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", id)

			out := opts.Gatekeeper.Admit(r.Context(), &gatekeeper.Request{
				ID:        id,
				IP:        opts.IPFn(r),
				Method:    r.Method,
				Path:      r.URL.Path,
				RawQuery:  r.URL.RawQuery,
				UserAgent: r.UserAgent(),
				Token:     TokenFromRequest(r, opts.CookieName),
				Header:    r.Header,
			})

			rl := out.Decision.RateLimit
			if opts.AddRateLimitHeaders && rl != nil {
				w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(rl.Limit, 10))
				w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(rl.Remaining, 10))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(rl.Reset, 10))
			}

			if !out.Allowed() {
				if rl != nil && !rl.Allowed {
					w.Header().Set("Retry-After", strconv.FormatInt(rl.RetryAfter, 10))
				}
				body := out.Body
				if body == nil {
					body = &gatekeeper.ErrorBody{Error: "Internal Server Error", Message: gatekeeper.MessageInternal}
				}
				writeJSON(w, out.Status, body)
				return
			}

			next.ServeHTTP(w, r.WithContext(gatekeeper.WithIdentity(r.Context(), out.Identity)))
		})
	}
}

// TokenFromRequest returns the bearer token, else the named cookie.
func TokenFromRequest(r *http.Request, cookieName string) string {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	if c, err := r.Cookie(cookieName); err == nil {
		return c.Value
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
