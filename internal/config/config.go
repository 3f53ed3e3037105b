package config

import "time"

// SyncConfig is the root configuration of a sync daemon.
type SyncConfig struct {
	Instance   InstanceConfig   `yaml:"instance"`
	API        APIConfig        `yaml:"api"`
	Auth       AuthConfig       `yaml:"auth"`
	Cache      CacheConfig      `yaml:"cache"`
	Connection ConnectionConfig `yaml:"connection"`
	Poller     PollerConfig     `yaml:"poller"`
	Router     RouterConfig     `yaml:"router"`
	Database   DatabaseConfig   `yaml:"database"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Log        LogConfig        `yaml:"log"`
}

// InstanceConfig identifies this daemon.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// APIConfig holds HTTP fallback settings.
type APIConfig struct {
	BaseURL         string        `yaml:"base_url"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxRetries      int           `yaml:"max_retries"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	RateLimit       float64       `yaml:"rate_limit"` // requests per second, 0 = unlimited
	RateBurst       int           `yaml:"rate_burst"`
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout"`
}

// AuthConfig selects the credential source. A private key takes
// precedence over a static token.
type AuthConfig struct {
	UserID         string        `yaml:"user_id"`
	Token          string        `yaml:"token"`
	PrivateKeyPath string        `yaml:"private_key_path"` // RSA key for minting RS256 tokens
	KeyID          string        `yaml:"key_id"`
	Issuer         string        `yaml:"issuer"`
	TokenTTL       time.Duration `yaml:"token_ttl"`
}

// CacheConfig holds entity cache settings.
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// ConnectionConfig holds push channel settings.
type ConnectionConfig struct {
	URL               string        `yaml:"url"`
	TokenParam        string        `yaml:"token_param"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxAttempts       int           `yaml:"max_attempts"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	QueueSize         int           `yaml:"queue_size"`
	MessageBufferSize int           `yaml:"message_buffer_size"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
}

// PollerConfig holds polling coordinator settings.
type PollerConfig struct {
	DefaultInterval  time.Duration `yaml:"default_interval"`
	TimelineInterval time.Duration `yaml:"timeline_interval"`
	MinInterval      time.Duration `yaml:"min_interval"`
	Timeout          time.Duration `yaml:"timeout"`
	Concurrency      int           `yaml:"concurrency"`
	PauseWhenHidden  bool          `yaml:"pause_when_hidden"`
}

// RouterConfig holds message router settings.
type RouterConfig struct {
	PriceBufferSize    int `yaml:"price_buffer_size"`
	PriceBufferMaxSize int `yaml:"price_buffer_max_size"`
}

// DatabaseConfig holds the optional price history store. Leaving host
// empty disables it.
type DatabaseConfig struct {
	Host     string       `yaml:"host"`
	Port     int          `yaml:"port"`
	Name     string       `yaml:"name"`
	User     string       `yaml:"user"`
	Password string       `yaml:"password"`
	SSLMode  string       `yaml:"ssl_mode"`
	MaxConns int          `yaml:"max_conns"`
	MinConns int          `yaml:"min_conns"`
	Writer   WriterConfig `yaml:"writer"`
}

// Enabled reports whether a database is configured.
func (d DatabaseConfig) Enabled() bool {
	return d.Host != ""
}

// WriterConfig holds price history writer settings.
type WriterConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// MetricsConfig holds the HTTP server for health, debug and metrics.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}
