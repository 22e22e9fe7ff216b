package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Anas-Altaf/gatekeeper"
	"github.com/Anas-Altaf/gatekeeper/drivers/algorithm"
	"github.com/Anas-Altaf/gatekeeper/drivers/detector/local"
	"github.com/Anas-Altaf/gatekeeper/drivers/detector/remote"
	"github.com/Anas-Altaf/gatekeeper/drivers/store/memory"
	redisstore "github.com/Anas-Altaf/gatekeeper/drivers/store/redis"
	"github.com/Anas-Altaf/gatekeeper/drivers/token/jwt"
	"github.com/Anas-Altaf/gatekeeper/internal/server"
	"github.com/gin-gonic/gin"
	libredis "github.com/go-redis/redis"
)

const usage = `usage:
  gatekeeper [serve] [-config file]
  gatekeeper token -subject id -role user|admin [-config file]

serve mounts no /api/auth routes: it has no account store. Mint tokens with
the token command instead.
`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "gatekeeper:", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	cmd := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		return serve(args)
	case "token":
		return mintToken(args, stdout)
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}

func serve(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configFile := fs.String("config", "", "YAML config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := gatekeeper.Load(*configFile)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	policies, err := cfg.PolicyTable()
	if err != nil {
		return err
	}

	var redisClient *libredis.Client
	if cfg.RateLimit.Store == "redis" {
		redisClient = libredis.NewClient(&libredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping().Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
	}

	var (
		store algorithm.Store
		stats interface {
			gatekeeper.StatsRecorder
			gatekeeper.StatsReader
		}
	)
	if redisClient != nil {
		store = redisstore.NewStore(redisClient, cfg.Redis.Prefix)
		if cfg.Stats.Enabled {
			stats = redisstore.NewStats(redisClient, cfg.Redis.Prefix+":stats", cfg.StatsTTL())
		}
	} else {
		mem := memory.NewStore()
		if every := cfg.SweepInterval(); every > 0 {
			mem.StartJanitor(ctx, every)
		}
		store = mem
		if cfg.Stats.Enabled {
			stats = memory.NewStats()
		}
	}

	var detector gatekeeper.Detector
	switch cfg.Detector.Mode {
	case "remote":
		detector = remote.New(cfg.Detector.Endpoint, remote.WithRateLimit(cfg.Detector.QPS, cfg.Detector.Burst))
	default:
		detector = local.New(
			local.WithBlockEmptyUserAgent(cfg.Detector.BlockEmptyUserAgent),
			local.WithDenyUserAgents(cfg.Detector.DenyUserAgents...),
			local.WithAllowUserAgents(cfg.Detector.AllowUserAgents...),
		)
	}

	tokens := newTokenService(cfg)
	engine := gatekeeper.NewEngine(detector, algorithm.NewFixedWindowLimiter(store), policies,
		gatekeeper.WithKeyBy(gatekeeper.KeyBy(cfg.RateLimit.KeyBy)),
		gatekeeper.WithDetectorTimeout(cfg.DetectorTimeout()),
	)

	gkOpts := []gatekeeper.Option{gatekeeper.WithLogger(logger)}
	opts := server.Options{
		Tokens:         tokens,
		TokenTTL:       tokens.TTL(),
		Logger:         logger,
		CookieName:     cfg.Auth.CookieName,
		TrustedProxies: cfg.Server.TrustedProxies,
	}
	if stats != nil {
		gkOpts = append(gkOpts, gatekeeper.WithStats(stats))
		opts.Stats = stats
	}
	opts.Gatekeeper = gatekeeper.New(gatekeeper.NewRoleResolver(tokens, logger), engine, gkOpts...)

	srv, err := server.New(opts)
	if err != nil {
		return err
	}

	logger.Info("gatekeeper starting",
		"store", cfg.RateLimit.Store,
		"key_by", cfg.RateLimit.KeyBy,
		"detector", cfg.Detector.Mode,
		"stats", stats != nil,
	)
	for _, p := range policies.Policies() {
		logger.Info("policy", "role", p.Role.String(), "limit", p.MaxRequests, "window", p.Window)
	}

	return srv.Run(ctx, cfg.Server.Listen, cfg.ShutdownTimeout())
}

func mintToken(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	configFile := fs.String("config", "", "YAML config file")
	subject := fs.String("subject", "", "subject id")
	role := fs.String("role", "user", "user or admin")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subject == "" {
		return errors.New("token: -subject is required")
	}

	r, err := gatekeeper.ParseRole(*role)
	if err != nil {
		return err
	}
	if r == gatekeeper.RoleGuest {
		return errors.New("token: guests do not carry tokens")
	}

	cfg, err := gatekeeper.Load(*configFile)
	if err != nil {
		return err
	}

	token, err := newTokenService(cfg).Sign(gatekeeper.TokenPayload{SubjectID: *subject, Role: r})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, token)
	return err
}

func newTokenService(cfg *gatekeeper.Config) *jwt.Service {
	var opts []jwt.Option
	if cfg.Auth.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Auth.Issuer))
	}
	return jwt.NewService(cfg.Auth.Secret, cfg.TokenTTL(), opts...)
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}
