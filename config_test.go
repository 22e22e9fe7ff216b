package gatekeeper

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp("", "gatekeeper_*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Remove(tmpfile.Name()) })

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}
	return tmpfile.Name()
}

func TestLoadConfig_Success(t *testing.T) {
	configContent := `
server:
  listen: ":8080"
auth:
  secret: "` + testSecret + `"
  expires_in: 1d
rate_limit:
  key_by: role
  store: redis
  policies:
    guest:
      limit: 3
      window: 30s
    user:
      limit: 10
      window: 1m
      message: "slow down"
    admin:
      limit: 50
      window: 1m
detector:
  mode: remote
  endpoint: http://detector:9000
  timeout: 250ms
redis:
  addr: redis:6379
  db: 2
log:
  level: debug
`

	config, err := LoadConfig(writeTempConfig(t, configContent))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if config.Server.Listen != ":8080" {
		t.Errorf("Server.Listen = %v, want :8080", config.Server.Listen)
	}
	if config.TokenTTL() != 24*time.Hour {
		t.Errorf("TokenTTL() = %v, want 24h", config.TokenTTL())
	}
	if config.RateLimit.KeyBy != "role" {
		t.Errorf("RateLimit.KeyBy = %v, want role", config.RateLimit.KeyBy)
	}
	if config.DetectorTimeout() != 250*time.Millisecond {
		t.Errorf("DetectorTimeout() = %v, want 250ms", config.DetectorTimeout())
	}
	if config.Redis.DB != 2 {
		t.Errorf("Redis.DB = %v, want 2", config.Redis.DB)
	}
	// untouched fields keep their defaults
	if config.Auth.CookieName != "token" {
		t.Errorf("Auth.CookieName = %v, want token", config.Auth.CookieName)
	}

	table, err := config.PolicyTable()
	if err != nil {
		t.Fatalf("PolicyTable() error = %v", err)
	}
	guest, _ := table.Lookup(RoleGuest)
	if guest.MaxRequests != 3 || guest.Window != 30*time.Second {
		t.Errorf("guest policy = %+v, want 3 per 30s", guest)
	}
	user, _ := table.Lookup(RoleUser)
	if user.Message != "slow down" {
		t.Errorf("user message = %q, want slow down", user.Message)
	}
	admin, _ := table.Lookup(RoleAdmin)
	if admin.Label != "admin_rate_limit" {
		t.Errorf("admin label = %q, want admin_rate_limit", admin.Label)
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := LoadConfig("/nonexistent/file.yaml")
	if err == nil {
		t.Error("LoadConfig() should return error for nonexistent file")
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	_, err := LoadConfig(writeTempConfig(t, "invalid: yaml: content: ["))
	if err == nil {
		t.Error("LoadConfig() should return error for invalid YAML")
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing secret", func(c *Config) { c.Auth.Secret = "" }},
		{"short secret", func(c *Config) { c.Auth.Secret = "short" }},
		{"zero token lifetime", func(c *Config) { c.Auth.ExpiresIn = "0s" }},
		{"bad key_by", func(c *Config) { c.RateLimit.KeyBy = "path" }},
		{"bad store", func(c *Config) { c.RateLimit.Store = "etcd" }},
		{"redis without addr", func(c *Config) { c.RateLimit.Store = "redis"; c.Redis.Addr = "" }},
		{"negative sweep", func(c *Config) { c.RateLimit.SweepEvery = "-1s" }},
		{"remote without endpoint", func(c *Config) { c.Detector.Mode = "remote" }},
		{"zero detector timeout", func(c *Config) { c.Detector.Timeout = "0s" }},
		{"negative qps", func(c *Config) { c.Detector.QPS = -1 }},
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }},
		{"unknown policy role", func(c *Config) {
			c.RateLimit.Policies["root"] = PolicyConfig{Limit: 100, Window: "1m"}
		}},
		{"missing policy", func(c *Config) { delete(c.RateLimit.Policies, "admin") }},
		{"admin below user", func(c *Config) {
			c.RateLimit.Policies["admin"] = PolicyConfig{Limit: 1, Window: "1m"}
		}},
		{"bad policy window", func(c *Config) {
			c.RateLimit.Policies["guest"] = PolicyConfig{Limit: 5, Window: "soon"}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			config.Auth.Secret = testSecret
			tt.mutate(&config)

			if err := validateConfig(&config); err == nil {
				t.Error("validateConfig() should return error")
			}
		})
	}

	t.Run("defaults with secret", func(t *testing.T) {
		config := DefaultConfig()
		config.Auth.Secret = testSecret
		if err := validateConfig(&config); err != nil {
			t.Errorf("validateConfig() error = %v", err)
		}
	})
}

func TestValidateConfig_WrapsErrInvalidConfig(t *testing.T) {
	config := DefaultConfig()
	err := validateConfig(&config)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("validateConfig() error = %v, want ErrInvalidConfig", err)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("JWT_EXPIRES_IN", "2h")
	t.Setenv("PORT", "4000")
	t.Setenv("RATE_LIMIT_STORE", "redis")
	t.Setenv("REDIS_ADDR", "cache:6379")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("LOG_LEVEL", "warn")

	config := DefaultConfig()
	if err := ApplyEnv(&config); err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}

	if config.Auth.Secret != testSecret {
		t.Error("JWT_SECRET not applied")
	}
	if config.Server.Listen != ":4000" {
		t.Errorf("Server.Listen = %v, want :4000", config.Server.Listen)
	}
	if config.RateLimit.Store != "redis" || config.Redis.Addr != "cache:6379" || config.Redis.DB != 3 {
		t.Errorf("redis settings not applied: %+v / %+v", config.RateLimit, config.Redis)
	}
	if config.Log.Level != "warn" {
		t.Errorf("Log.Level = %v, want warn", config.Log.Level)
	}
	if err := validateConfig(&config); err != nil {
		t.Errorf("validateConfig() error = %v", err)
	}
}

func TestApplyEnv_ListenAddrWinsOverPort(t *testing.T) {
	t.Setenv("LISTEN_ADDR", "127.0.0.1:9000")
	t.Setenv("PORT", "4000")

	config := DefaultConfig()
	if err := ApplyEnv(&config); err != nil {
		t.Fatal(err)
	}
	if config.Server.Listen != "127.0.0.1:9000" {
		t.Errorf("Server.Listen = %v, want 127.0.0.1:9000", config.Server.Listen)
	}
}

func TestApplyEnv_InvalidRedisDB(t *testing.T) {
	t.Setenv("REDIS_DB", "two")

	config := DefaultConfig()
	if err := ApplyEnv(&config); err == nil || !strings.Contains(err.Error(), "REDIS_DB") {
		t.Errorf("ApplyEnv() error = %v, want REDIS_DB error", err)
	}
}

func TestGetConfigPath(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpfile.Name())
	tmpfile.Close()

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{
			name:    "absolute path",
			input:   tmpfile.Name(),
			wantErr: false,
		},
		{
			name:    "missing relative path",
			input:   "nonexistent_config.yaml",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, err := GetConfigPath(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("GetConfigPath() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && path == "" {
				t.Error("GetConfigPath() returned empty path")
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"seconds", "60s", 60 * time.Second, false},
		{"minutes", "5m", 5 * time.Minute, false},
		{"hours", "24h", 24 * time.Hour, false},
		{"days", "7d", 7 * 24 * time.Hour, false},
		{"empty", "", 0, false},
		{"bad days", "xd", 0, true},
		{"garbage", "invalid", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDuration(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("parseDuration() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}
