// Package server is the HTTP application: health and info routes, the auth
// routes that issue tokens, and the admin stats route, all behind the
// admission middleware.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Anas-Altaf/gatekeeper"
	ginmw "github.com/Anas-Altaf/gatekeeper/drivers/middleware/gin"
	"github.com/Anas-Altaf/gatekeeper/drivers/validation"
	"github.com/gin-gonic/gin"
)

// Options configures the server.
type Options struct {
	// Gatekeeper admits every /api request. Required.
	Gatekeeper ginmw.Admitter
	// Accounts enables the auth routes together with Tokens
	Accounts Accounts
	Tokens   TokenSigner
	// TokenTTL is the cookie lifetime
	TokenTTL time.Duration
	// Stats enables GET /api/admin/stats
	Stats gatekeeper.StatsReader

	Logger         *slog.Logger
	CookieName     string
	SecureCookie   bool
	TrustedProxies []string
	Now            func() time.Time
}

// Server holds the routes.
type Server struct {
	opts     Options
	engine   *gin.Engine
	validate *validation.Validator
	started  time.Time
}

// New builds the router.
func New(opts Options) (*Server, error) {
	if opts.Gatekeeper == nil {
		return nil, errors.New("server: gatekeeper is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CookieName == "" {
		opts.CookieName = "token"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	engine := gin.New()
	if err := engine.SetTrustedProxies(opts.TrustedProxies); err != nil {
		return nil, err
	}

	s := &Server{
		opts:     opts,
		engine:   engine,
		validate: validation.New(),
		started:  opts.Now(),
	}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	r := s.engine
	r.Use(gin.Recovery(), s.accessLog())

	r.GET("/health", s.health)

	api := r.Group("/api")
	api.Use(ginmw.NewMiddleware(s.opts.Gatekeeper, ginmw.WithCookieName(s.opts.CookieName)))
	api.GET("", s.info)
	api.GET("/me", s.me)

	if s.opts.Accounts != nil && s.opts.Tokens != nil {
		auth := api.Group("/auth")
		auth.POST("/sign-up", s.signUp)
		auth.POST("/sign-in", s.signIn)
		auth.POST("/sign-out", s.signOut)
	} else {
		s.opts.Logger.Warn("auth routes disabled: no account store configured", "routes", "/api/auth/*")
	}

	if s.opts.Stats != nil {
		admin := api.Group("/admin", ginmw.RequireRole(gatekeeper.RoleAdmin))
		admin.GET("/stats", s.stats)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Route Not Found"})
	})
}

func (s *Server) health(c *gin.Context) {
	now := s.opts.Now()
	c.JSON(http.StatusOK, gin.H{
		"status":    "OK",
		"timestamp": now.UTC().Format(time.RFC3339),
		"uptime":    now.Sub(s.started).Seconds(),
	})
}

func (s *Server) info(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Acquisitions API is running!"})
}

func (s *Server) me(c *gin.Context) {
	id, _ := ginmw.Identity(c)
	c.JSON(http.StatusOK, gin.H{
		"role":          id.Role,
		"subject_id":    id.SubjectID,
		"authenticated": id.Authenticated,
	})
}

func (s *Server) signUp(c *gin.Context) {
	var req SignUpRequest
	if errs := s.validate.BindJSON(c, &req); errs != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed", "details": validation.Format(errs)})
		return
	}

	account, err := s.opts.Accounts.Create(c.Request.Context(), req)
	if errors.Is(err, ErrEmailTaken) {
		c.JSON(http.StatusConflict, gin.H{"error": "Email already exists"})
		return
	}
	if err != nil {
		s.internalError(c, "sign up failed", err)
		return
	}

	if !s.issue(c, account) {
		return
	}
	s.opts.Logger.Info("user registered", "email", account.Email, "role", account.Role.String())
	c.JSON(http.StatusCreated, gin.H{"message": "User registered", "user": account})
}

func (s *Server) signIn(c *gin.Context) {
	var req SignInRequest
	if errs := s.validate.BindJSON(c, &req); errs != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed", "details": validation.Format(errs)})
		return
	}

	account, err := s.opts.Accounts.Authenticate(c.Request.Context(), req.Email, req.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}
	if err != nil {
		s.internalError(c, "sign in failed", err)
		return
	}

	if !s.issue(c, account) {
		return
	}
	s.opts.Logger.Info("user signed in", "email", account.Email)
	c.JSON(http.StatusOK, gin.H{"message": "User signed in successfully", "user": account})
}

func (s *Server) signOut(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(s.opts.CookieName, "", -1, "/", "", s.opts.SecureCookie, true)
	c.JSON(http.StatusOK, gin.H{"message": "User signed out successfully"})
}

// issue signs a token for account and sets the cookie. It writes the error
// response and returns false when signing fails.
func (s *Server) issue(c *gin.Context, account Account) bool {
	token, err := s.opts.Tokens.Sign(gatekeeper.TokenPayload{
		SubjectID: account.ID,
		Role:      account.Role,
	})
	if err != nil {
		s.internalError(c, "token signing failed", err)
		return false
	}

	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(s.opts.CookieName, token, int(s.opts.TokenTTL.Seconds()), "/", "", s.opts.SecureCookie, true)
	return true
}

func (s *Server) stats(c *gin.Context) {
	snap, err := s.opts.Stats.Snapshot(c.Request.Context())
	if err != nil {
		s.internalError(c, "read stats failed", err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) internalError(c *gin.Context, msg string, err error) {
	s.opts.Logger.Error(msg, "error", err, "request_id", c.GetString(ginmw.RequestIDKey))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.opts.Logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"ip", c.ClientIP(),
			"request_id", c.GetString(ginmw.RequestIDKey),
		)
	}
}

// Run serves on addr until ctx is cancelled, then shuts down within timeout.
func (s *Server) Run(ctx context.Context, addr string, timeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.opts.Logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.opts.Logger.Info("shutting down", "timeout", timeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
