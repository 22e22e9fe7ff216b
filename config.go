package gatekeeper

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the process configuration. It is built once at startup and then
// only read.
type Config struct {
	// Server HTTP listener
	Server ServerConfig `yaml:"server"`
	// Auth token signing
	Auth AuthConfig `yaml:"auth"`
	// RateLimit role policies and counter storage
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	// Detector bot and shield checks
	Detector DetectorConfig `yaml:"detector"`
	// Redis connection, used by the redis store and stats
	Redis RedisConfig `yaml:"redis"`
	// Stats decision statistics
	Stats StatsConfig `yaml:"stats"`
	// Log logging
	Log LogConfig `yaml:"log"`
}

// ServerConfig HTTP listener settings
type ServerConfig struct {
	Listen          string   `yaml:"listen"`
	TrustedProxies  []string `yaml:"trusted_proxies"`
	ShutdownTimeout string   `yaml:"shutdown_timeout"`
}

// AuthConfig token settings
type AuthConfig struct {
	// Secret HS256 key, at least 32 characters
	Secret string `yaml:"secret"`
	// ExpiresIn token lifetime (e.g. 24h)
	ExpiresIn  string `yaml:"expires_in"`
	Issuer     string `yaml:"issuer"`
	CookieName string `yaml:"cookie_name"`
}

// RateLimitConfig rate limit settings
type RateLimitConfig struct {
	// KeyBy role or subject
	KeyBy string `yaml:"key_by"`
	// Store memory or redis
	Store string `yaml:"store"`
	// SweepEvery janitor interval for the memory store, 0 disables it
	SweepEvery string `yaml:"sweep_every"`
	// Policies keyed by role name
	Policies map[string]PolicyConfig `yaml:"policies"`
}

// PolicyConfig one role's budget
type PolicyConfig struct {
	Limit   int64  `yaml:"limit"`
	Window  string `yaml:"window"`
	Message string `yaml:"message"`
}

// DetectorConfig bot and shield settings
type DetectorConfig struct {
	// Mode local or remote
	Mode string `yaml:"mode"`
	// Timeout bounds each detector call
	Timeout string `yaml:"timeout"`
	// Endpoint base URL of the remote detector
	Endpoint string `yaml:"endpoint"`
	// QPS caps outbound calls to the remote detector, 0 means unlimited
	QPS   float64 `yaml:"qps"`
	Burst int     `yaml:"burst"`

	BlockEmptyUserAgent bool     `yaml:"block_empty_user_agent"`
	DenyUserAgents      []string `yaml:"deny_user_agents"`
	AllowUserAgents     []string `yaml:"allow_user_agents"`
}

// RedisConfig connection settings
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// StatsConfig statistics settings
type StatsConfig struct {
	Enabled bool `yaml:"enabled"`
	// TTL of per-minute buckets in redis
	TTL string `yaml:"ttl"`
}

// LogConfig logging settings
type LogConfig struct {
	// Level debug, info, warn or error
	Level string `yaml:"level"`
}

// DefaultConfig returns a configuration with every field set except the secret.
func DefaultConfig() Config {
	policies := make(map[string]PolicyConfig, len(Roles))
	for _, p := range DefaultPolicies().Policies() {
		policies[p.Role.String()] = PolicyConfig{
			Limit:   p.MaxRequests,
			Window:  p.Window.String(),
			Message: p.Message,
		}
	}

	return Config{
		Server: ServerConfig{
			Listen:          ":3000",
			ShutdownTimeout: "10s",
		},
		Auth: AuthConfig{
			ExpiresIn:  "24h",
			Issuer:     "acquisitions",
			CookieName: "token",
		},
		RateLimit: RateLimitConfig{
			KeyBy:      string(KeyBySubject),
			Store:      "memory",
			SweepEvery: "1m",
			Policies:   policies,
		},
		Detector: DetectorConfig{
			Mode:                "local",
			Timeout:             "500ms",
			QPS:                 100,
			Burst:               20,
			BlockEmptyUserAgent: true,
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "gatekeeper",
		},
		Stats: StatsConfig{
			Enabled: true,
			TTL:     "24h",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the process configuration: defaults, then the YAML file when
// filename is not empty, then environment variables (a .env file is read
// first when present). The result is validated.
func Load(filename string) (*Config, error) {
	// a missing .env is normal outside development
	_ = godotenv.Load()

	config := DefaultConfig()
	if filename != "" {
		configPath, err := GetConfigPath(filename)
		if err != nil {
			return nil, err
		}
		if err := readConfigFile(configPath, &config); err != nil {
			return nil, err
		}
	}

	if err := ApplyEnv(&config); err != nil {
		return nil, err
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &config, nil
}

// LoadConfig reads and validates a YAML file on top of DefaultConfig.
func LoadConfig(filename string) (*Config, error) {
	config := DefaultConfig()
	if err := readConfigFile(filename, &config); err != nil {
		return nil, err
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &config, nil
}

func readConfigFile(filename string, config *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// ApplyEnv overrides config with environment variables that are set.
func ApplyEnv(config *Config) error {
	setString(&config.Auth.Secret, "JWT_SECRET")
	setString(&config.Auth.ExpiresIn, "JWT_EXPIRES_IN")
	setString(&config.Server.Listen, "LISTEN_ADDR")
	if port := getEnv("PORT"); port != "" && getEnv("LISTEN_ADDR") == "" {
		config.Server.Listen = ":" + port
	}
	setString(&config.RateLimit.Store, "RATE_LIMIT_STORE")
	setString(&config.RateLimit.KeyBy, "RATE_LIMIT_KEY_BY")
	setString(&config.Redis.Addr, "REDIS_ADDR")
	setString(&config.Redis.Password, "REDIS_PASSWORD")
	setString(&config.Detector.Mode, "DETECTOR_MODE")
	setString(&config.Detector.Endpoint, "DETECTOR_ENDPOINT")
	setString(&config.Log.Level, "LOG_LEVEL")

	if v := getEnv("REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		config.Redis.DB = db
	}
	return nil
}

func getEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func setString(dst *string, key string) {
	if v := getEnv(key); v != "" {
		*dst = v
	}
}

// validateConfig checks every field Load and LoadConfig accept.
func validateConfig(config *Config) error {
	if strings.TrimSpace(config.Auth.Secret) == "" {
		return fmt.Errorf("auth secret is required (JWT_SECRET): %w", ErrInvalidConfig)
	}
	if len(config.Auth.Secret) < 32 {
		return fmt.Errorf("auth secret must be at least 32 characters: %w", ErrInvalidConfig)
	}
	if d, err := parseDuration(config.Auth.ExpiresIn); err != nil || d <= 0 {
		return fmt.Errorf("invalid token lifetime %q: %w", config.Auth.ExpiresIn, ErrInvalidConfig)
	}

	if _, err := parseDuration(config.Server.ShutdownTimeout); err != nil {
		return fmt.Errorf("invalid shutdown timeout %q: %w", config.Server.ShutdownTimeout, ErrInvalidConfig)
	}

	switch KeyBy(config.RateLimit.KeyBy) {
	case KeyByRole, KeyBySubject:
	default:
		return fmt.Errorf("invalid key_by %q: %w", config.RateLimit.KeyBy, ErrInvalidConfig)
	}

	switch config.RateLimit.Store {
	case "memory":
	case "redis":
		if strings.TrimSpace(config.Redis.Addr) == "" {
			return fmt.Errorf("redis addr is required for the redis store: %w", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("invalid rate limit store %q: %w", config.RateLimit.Store, ErrInvalidConfig)
	}

	if d, err := parseDuration(config.RateLimit.SweepEvery); err != nil || d < 0 {
		return fmt.Errorf("invalid sweep interval %q: %w", config.RateLimit.SweepEvery, ErrInvalidConfig)
	}

	if _, err := config.PolicyTable(); err != nil {
		return err
	}

	switch config.Detector.Mode {
	case "local":
	case "remote":
		if strings.TrimSpace(config.Detector.Endpoint) == "" {
			return fmt.Errorf("detector endpoint is required in remote mode: %w", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("invalid detector mode %q: %w", config.Detector.Mode, ErrInvalidConfig)
	}
	if d, err := parseDuration(config.Detector.Timeout); err != nil || d <= 0 {
		return fmt.Errorf("invalid detector timeout %q: %w", config.Detector.Timeout, ErrInvalidConfig)
	}
	if config.Detector.QPS < 0 || config.Detector.Burst < 0 {
		return fmt.Errorf("detector qps and burst must be >= 0: %w", ErrInvalidConfig)
	}

	if config.Stats.TTL != "" {
		if _, err := parseDuration(config.Stats.TTL); err != nil {
			return fmt.Errorf("invalid stats ttl %q: %w", config.Stats.TTL, ErrInvalidConfig)
		}
	}

	switch strings.ToLower(config.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q: %w", config.Log.Level, ErrInvalidConfig)
	}

	return nil
}

// PolicyTable converts the configured policies.
func (c *Config) PolicyTable() (PolicyTable, error) {
	policies := make([]Policy, 0, len(c.RateLimit.Policies))
	for name, pc := range c.RateLimit.Policies {
		role, err := ParseRole(name)
		if err != nil {
			return PolicyTable{}, fmt.Errorf("policy %q: %w", name, err)
		}
		window, err := parseDuration(pc.Window)
		if err != nil {
			return PolicyTable{}, fmt.Errorf("policy %s: invalid window %q: %w", name, pc.Window, ErrInvalidConfig)
		}
		policies = append(policies, Policy{
			Role:        role,
			MaxRequests: pc.Limit,
			Window:      window,
			Message:     pc.Message,
		})
	}
	return NewPolicyTable(policies...)
}

// TokenTTL returns the validated token lifetime.
func (c *Config) TokenTTL() time.Duration {
	d, _ := parseDuration(c.Auth.ExpiresIn)
	return d
}

// DetectorTimeout returns the validated detector timeout.
func (c *Config) DetectorTimeout() time.Duration {
	d, _ := parseDuration(c.Detector.Timeout)
	return d
}

// SweepInterval returns the validated janitor interval.
func (c *Config) SweepInterval() time.Duration {
	d, _ := parseDuration(c.RateLimit.SweepEvery)
	return d
}

// ShutdownTimeout returns the validated graceful shutdown timeout.
func (c *Config) ShutdownTimeout() time.Duration {
	d, _ := parseDuration(c.Server.ShutdownTimeout)
	return d
}

// StatsTTL returns the validated stats bucket lifetime.
func (c *Config) StatsTTL() time.Duration {
	d, _ := parseDuration(c.Stats.TTL)
	return d
}

// parseDuration parses a duration string; empty means zero. A whole number of
// days ("1d", "7d") is accepted too.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid day count %q: %w", s, err)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// GetConfigPath resolves filename against the working directory, then the
// executable's directory.
func GetConfigPath(filename string) (string, error) {
	if filepath.IsAbs(filename) {
		return filename, nil
	}

	if _, err := os.Stat(filename); err == nil {
		return filename, nil
	}

	execPath, err := os.Executable()
	if err == nil {
		execDir := filepath.Dir(execPath)
		configPath := filepath.Join(execDir, filename)
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}
	}

	return "", fmt.Errorf("config file not found: %s", filename)
}
