package gin

import (
	"context"
	"fmt"
	"strings"

	"github.com/Anas-Altaf/gatekeeper"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Context keys set on allowed requests.
const (
	IdentityKey  = "gatekeeper.identity"
	RequestIDKey = "request_id"

	RequestIDHeader = "X-Request-ID"
)

// Admitter is the gatekeeper interface
type Admitter interface {
	Admit(ctx context.Context, req *gatekeeper.Request) *gatekeeper.Outcome
}

// Middleware is the gin admission middleware
type Middleware struct {
	Gatekeeper Admitter
	// OnError handles 500 outcomes
	OnError func(*gin.Context, *gatekeeper.Outcome)
	// OnDenied handles 403 and 429 outcomes
	OnDenied      func(*gin.Context, *gatekeeper.Outcome)
	RequestGetter func(*gin.Context) *gatekeeper.Request
	CookieName    string
}

// NewMiddleware creates the gin middleware
func NewMiddleware(gk Admitter, options ...Option) gin.HandlerFunc {
	m := &Middleware{
		Gatekeeper: gk,
		OnError:    DefaultErrorHandler,
		OnDenied:   DefaultDeniedHandler,
		CookieName: "token",
	}

	for _, opt := range options {
		opt(m)
	}
	if m.RequestGetter == nil {
		m.RequestGetter = m.defaultRequestGetter
	}

	return func(c *gin.Context) {
		m.Handle(c)
	}
}

// Handle admits or rejects one request
func (m *Middleware) Handle(c *gin.Context) {
	req := m.RequestGetter(c)
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	c.Set(RequestIDKey, req.ID)
	c.Header(RequestIDHeader, req.ID)

	out := m.Gatekeeper.Admit(c.Request.Context(), req)

	// rate limit headers
	if rl := out.Decision.RateLimit; rl != nil {
		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", rl.Limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", rl.Remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", rl.Reset))
	}

	switch {
	case out.Allowed():
	case out.Body == nil || out.Err != nil:
		m.OnError(c, out)
		return
	default:
		if rl := out.Decision.RateLimit; rl != nil && !rl.Allowed {
			c.Header("Retry-After", fmt.Sprintf("%d", rl.RetryAfter))
		}
		m.OnDenied(c, out)
		return
	}

	c.Set(IdentityKey, out.Identity)
	c.Request = c.Request.WithContext(gatekeeper.WithIdentity(c.Request.Context(), out.Identity))
	c.Next()
}

func (m *Middleware) defaultRequestGetter(c *gin.Context) *gatekeeper.Request {
	return &gatekeeper.Request{
		ID:        c.GetHeader(RequestIDHeader),
		IP:        c.ClientIP(),
		Method:    c.Request.Method,
		Path:      c.Request.URL.Path,
		RawQuery:  c.Request.URL.RawQuery,
		UserAgent: c.Request.UserAgent(),
		Token:     TokenFromRequest(c, m.CookieName),
		Header:    c.Request.Header,
	}
}

// Option configures the middleware
type Option func(*Middleware)

// WithErrorHandler overrides the 500 handler
func WithErrorHandler(handler func(*gin.Context, *gatekeeper.Outcome)) Option {
	return func(m *Middleware) {
		m.OnError = handler
	}
}

// WithDeniedHandler overrides the 403/429 handler
func WithDeniedHandler(handler func(*gin.Context, *gatekeeper.Outcome)) Option {
	return func(m *Middleware) {
		m.OnDenied = handler
	}
}

// WithRequestGetter overrides how requests are described to the gatekeeper
func WithRequestGetter(getter func(*gin.Context) *gatekeeper.Request) Option {
	return func(m *Middleware) {
		m.RequestGetter = getter
	}
}

// WithCookieName sets the cookie holding the token. Default "token".
func WithCookieName(name string) Option {
	return func(m *Middleware) {
		m.CookieName = name
	}
}

// DefaultErrorHandler writes the fail-closed 500 body
func DefaultErrorHandler(c *gin.Context, out *gatekeeper.Outcome) {
	body := out.Body
	if body == nil {
		body = &gatekeeper.ErrorBody{Error: "Internal Server Error", Message: gatekeeper.MessageInternal}
	}
	c.AbortWithStatusJSON(500, body)
}

// DefaultDeniedHandler writes the denial body as decided
func DefaultDeniedHandler(c *gin.Context, out *gatekeeper.Outcome) {
	c.AbortWithStatusJSON(out.Status, out.Body)
}

// TokenFromRequest returns the bearer token, else the named cookie.
func TokenFromRequest(c *gin.Context, cookieName string) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookieName == "" {
		return ""
	}
	token, err := c.Cookie(cookieName)
	if err != nil {
		return ""
	}
	return token
}

// Identity returns the caller resolved by the middleware.
func Identity(c *gin.Context) (gatekeeper.Identity, bool) {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return gatekeeper.Identity{}, false
	}
	id, ok := v.(gatekeeper.Identity)
	return id, ok
}

// RequireRole rejects callers below minRole with 403. It must run after the
// admission middleware.
func RequireRole(minRole gatekeeper.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := Identity(c)
		if !ok || id.Role < minRole {
			c.AbortWithStatusJSON(403, gatekeeper.ErrorBody{
				Error:   "Forbidden",
				Message: gatekeeper.MessageForbidden,
			})
			return
		}
		c.Next()
	}
}
