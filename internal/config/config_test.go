package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: sync-1
api:
  base_url: https://api.example.com/v1
  rate_limit: 20
connection:
  url: wss://push.example.com/ws
  max_attempts: 7
cache:
  ttl: 90s
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "sync-1" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "sync-1")
	}
	if cfg.API.BaseURL != "https://api.example.com/v1" {
		t.Errorf("API.BaseURL = %q", cfg.API.BaseURL)
	}
	if cfg.API.RateLimit != 20 {
		t.Errorf("API.RateLimit = %v, want 20", cfg.API.RateLimit)
	}
	if cfg.Connection.MaxAttempts != 7 {
		t.Errorf("Connection.MaxAttempts = %d, want 7", cfg.Connection.MaxAttempts)
	}
	if cfg.Cache.TTL != 90*time.Second {
		t.Errorf("Cache.TTL = %v, want 90s", cfg.Cache.TTL)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_SYNC_TOKEN", "secret123")
	t.Setenv("TEST_DB_PASSWORD", "dbpass")

	yaml := `
auth:
  token: ${TEST_SYNC_TOKEN}
database:
  host: localhost
  password: ${TEST_DB_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Auth.Token != "secret123" {
		t.Errorf("Auth.Token = %q, want %q", cfg.Auth.Token, "secret123")
	}
	if cfg.Database.Password != "dbpass" {
		t.Errorf("Database.Password = %q, want %q", cfg.Database.Password, "dbpass")
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load of missing file should fail")
	}

	path := writeTempFile(t, "instance: [unclosed")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "parse config yaml") {
		t.Errorf("Load of bad yaml error = %v", err)
	}
}

func TestLoadWithDefaults(t *testing.T) {
	path := writeTempFile(t, "instance:\n  id: sync-1\n")

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Cache.TTL != 60*time.Second {
		t.Errorf("Cache.TTL = %v, want 60s", cfg.Cache.TTL)
	}
	if cfg.Connection.BaseDelay != time.Second {
		t.Errorf("Connection.BaseDelay = %v, want 1s", cfg.Connection.BaseDelay)
	}
	if cfg.Connection.MaxAttempts != 5 {
		t.Errorf("Connection.MaxAttempts = %d, want 5", cfg.Connection.MaxAttempts)
	}
	if cfg.Connection.MaxDelay != time.Minute {
		t.Errorf("Connection.MaxDelay = %v, want 1m", cfg.Connection.MaxDelay)
	}
	if cfg.Connection.HeartbeatInterval != 30*time.Second {
		t.Errorf("Connection.HeartbeatInterval = %v, want 30s", cfg.Connection.HeartbeatInterval)
	}
	if cfg.Connection.TokenParam != DefaultTokenParam {
		t.Errorf("Connection.TokenParam = %q, want %q", cfg.Connection.TokenParam, DefaultTokenParam)
	}
	if cfg.Poller.MinInterval != time.Second {
		t.Errorf("Poller.MinInterval = %v, want 1s", cfg.Poller.MinInterval)
	}
	if cfg.Poller.TimelineInterval != cfg.Poller.DefaultInterval {
		t.Errorf("Poller.TimelineInterval = %v, want default interval %v", cfg.Poller.TimelineInterval, cfg.Poller.DefaultInterval)
	}
	if cfg.Database.Port != DefaultDBPort {
		t.Errorf("Database.Port = %d, want default %d", cfg.Database.Port, DefaultDBPort)
	}
	if cfg.Database.Enabled() {
		t.Error("Database.Enabled() = true without a host")
	}
	if cfg.Metrics.Port != DefaultMetricsPort {
		t.Errorf("Metrics.Port = %d, want default %d", cfg.Metrics.Port, DefaultMetricsPort)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("Log = %+v, want info/text", cfg.Log)
	}
}

// validConfig returns a config that passes Validate.
func validConfig() SyncConfig {
	cfg := SyncConfig{
		Instance:   InstanceConfig{ID: "sync-1"},
		API:        APIConfig{BaseURL: "https://api.example.com"},
		Auth:       AuthConfig{Token: "tok"},
		Connection: ConnectionConfig{URL: "wss://push.example.com/ws"},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*SyncConfig)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(*SyncConfig) {},
			wantErr: "",
		},
		{
			name:    "missing instance id",
			mutate:  func(c *SyncConfig) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "missing api base url",
			mutate:  func(c *SyncConfig) { c.API.BaseURL = "" },
			wantErr: "api.base_url is required",
		},
		{
			name:    "push url with http scheme",
			mutate:  func(c *SyncConfig) { c.Connection.URL = "https://push.example.com" },
			wantErr: `connection.url must use ws or wss, got "https"`,
		},
		{
			name:    "no credential",
			mutate:  func(c *SyncConfig) { c.Auth.Token = "" },
			wantErr: "auth.token or auth.private_key_path is required",
		},
		{
			name: "private key without key id",
			mutate: func(c *SyncConfig) {
				c.Auth.Token = ""
				c.Auth.PrivateKeyPath = "/keys/sync.pem"
			},
			wantErr: "auth.key_id is required with auth.private_key_path",
		},
		{
			name: "private key without user id",
			mutate: func(c *SyncConfig) {
				c.Auth.PrivateKeyPath = "/keys/sync.pem"
				c.Auth.KeyID = "k1"
			},
			wantErr: "auth.user_id is required with auth.private_key_path",
		},
		{
			name:    "zero max attempts",
			mutate:  func(c *SyncConfig) { c.Connection.MaxAttempts = -1 },
			wantErr: "connection.max_attempts must be >= 1",
		},
		{
			name:    "max delay below base delay",
			mutate:  func(c *SyncConfig) { c.Connection.MaxDelay = 500 * time.Millisecond },
			wantErr: "connection.max_delay (500ms) cannot be below base_delay (1s)",
		},
		{
			name:    "negative cache ttl",
			mutate:  func(c *SyncConfig) { c.Cache.TTL = -time.Second },
			wantErr: "cache.ttl must be > 0",
		},
		{
			name:    "price buffer max below initial",
			mutate:  func(c *SyncConfig) { c.Router.PriceBufferMaxSize = 10 },
			wantErr: "router.price_buffer_max_size (10) cannot be below price_buffer_size (256)",
		},
		{
			name: "database missing password",
			mutate: func(c *SyncConfig) {
				c.Database.Host = "localhost"
				c.Database.Name = "sync"
				c.Database.User = "sync"
			},
			wantErr: "database.password is required",
		},
		{
			name: "database min_conns exceeds max_conns",
			mutate: func(c *SyncConfig) {
				c.Database = DatabaseConfig{Host: "localhost", Name: "db", User: "user", Password: "pass",
					MaxConns: 5, MinConns: 10, Writer: WriterConfig{BatchSize: 10}}
			},
			wantErr: "database.min_conns (10) cannot exceed max_conns (5)",
		},
		{
			name:    "metrics port out of range",
			mutate:  func(c *SyncConfig) { c.Metrics.Port = 70000 },
			wantErr: "metrics.port must be between 1 and 65535, got 70000",
		},
		{
			name:    "bad log level",
			mutate:  func(c *SyncConfig) { c.Log.Level = "loud" },
			wantErr: `log.level must be debug, info, warn or error, got "loud"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func TestLoadAndValidate(t *testing.T) {
	yaml := `
instance:
  id: sync-1
api:
  base_url: https://api.example.com
auth:
  token: tok
connection:
  url: ws://localhost:8080/ws
`
	if _, err := LoadAndValidate(writeTempFile(t, yaml)); err != nil {
		t.Errorf("LoadAndValidate() error = %v", err)
	}

	_, err := LoadAndValidate(writeTempFile(t, "instance:\n  id: sync-1\n"))
	if err == nil || !strings.HasPrefix(err.Error(), "validate config:") {
		t.Errorf("LoadAndValidate() error = %v, want validate config error", err)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestLoadAndValidate_ExampleConfig(t *testing.T) {
	t.Setenv("SYNC_USER_ID", "dealer-7")
	t.Setenv("SYNC_TOKEN", "tok")

	cfg, err := LoadAndValidate(filepath.Join("..", "..", "configs", "syncd.example.yaml"))
	if err != nil {
		t.Fatalf("LoadAndValidate() error = %v", err)
	}
	if cfg.Auth.UserID != "dealer-7" {
		t.Errorf("Auth.UserID = %q, want dealer-7", cfg.Auth.UserID)
	}
	if cfg.Database.Enabled() {
		t.Error("Database.Enabled() = true, want false for empty host")
	}
	if cfg.Poller.TimelineInterval != 30*time.Second {
		t.Errorf("Poller.TimelineInterval = %v, want 30s", cfg.Poller.TimelineInterval)
	}
}
