package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultAPITimeout         = 30 * time.Second
	DefaultMaxRetries         = 3
	DefaultRetryBackoff       = time.Second
	DefaultRateBurst          = 10
	DefaultBreakerFailures    = 5
	DefaultBreakerTimeout     = 30 * time.Second
	DefaultTokenTTL           = 2 * time.Minute
	DefaultCacheTTL           = 60 * time.Second
	DefaultTokenParam         = "token"
	DefaultBaseDelay          = time.Second
	DefaultMaxAttempts        = 5
	DefaultMaxDelay           = time.Minute
	DefaultHeartbeatInterval  = 30 * time.Second
	DefaultQueueSize          = 256
	DefaultMessageBufferSize  = 4096
	DefaultHandshakeTimeout   = 10 * time.Second
	DefaultWriteTimeout       = 5 * time.Second
	DefaultPollInterval       = 30 * time.Second
	DefaultPollMinInterval    = time.Second
	DefaultPollTimeout        = 10 * time.Second
	DefaultPollConcurrency    = 8
	DefaultPriceBufferSize    = 256
	DefaultPriceBufferMaxSize = 65536
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 5
	DefaultMinConns           = 1
	DefaultBatchSize          = 500
	DefaultFlushInterval      = time.Second
	DefaultMetricsPort        = 9090
	DefaultMetricsPath        = "/metrics"
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
)

// ApplyDefaults fills every unset optional field.
func (c *SyncConfig) ApplyDefaults() {
	// API defaults
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}
	if c.API.RetryBackoff == 0 {
		c.API.RetryBackoff = DefaultRetryBackoff
	}
	if c.API.RateBurst == 0 {
		c.API.RateBurst = DefaultRateBurst
	}
	if c.API.BreakerFailures == 0 {
		c.API.BreakerFailures = DefaultBreakerFailures
	}
	if c.API.BreakerTimeout == 0 {
		c.API.BreakerTimeout = DefaultBreakerTimeout
	}

	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = DefaultTokenTTL
	}

	if c.Cache.TTL == 0 {
		c.Cache.TTL = DefaultCacheTTL
	}

	// Connection defaults
	if c.Connection.TokenParam == "" {
		c.Connection.TokenParam = DefaultTokenParam
	}
	if c.Connection.BaseDelay == 0 {
		c.Connection.BaseDelay = DefaultBaseDelay
	}
	if c.Connection.MaxAttempts == 0 {
		c.Connection.MaxAttempts = DefaultMaxAttempts
	}
	if c.Connection.MaxDelay == 0 {
		c.Connection.MaxDelay = DefaultMaxDelay
	}
	if c.Connection.HeartbeatInterval == 0 {
		c.Connection.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Connection.QueueSize == 0 {
		c.Connection.QueueSize = DefaultQueueSize
	}
	if c.Connection.MessageBufferSize == 0 {
		c.Connection.MessageBufferSize = DefaultMessageBufferSize
	}
	if c.Connection.HandshakeTimeout == 0 {
		c.Connection.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}

	// Poller defaults
	if c.Poller.DefaultInterval == 0 {
		c.Poller.DefaultInterval = DefaultPollInterval
	}
	if c.Poller.TimelineInterval == 0 {
		c.Poller.TimelineInterval = c.Poller.DefaultInterval
	}
	if c.Poller.MinInterval == 0 {
		c.Poller.MinInterval = DefaultPollMinInterval
	}
	if c.Poller.Timeout == 0 {
		c.Poller.Timeout = DefaultPollTimeout
	}
	if c.Poller.Concurrency == 0 {
		c.Poller.Concurrency = DefaultPollConcurrency
	}

	if c.Router.PriceBufferSize == 0 {
		c.Router.PriceBufferSize = DefaultPriceBufferSize
	}
	if c.Router.PriceBufferMaxSize == 0 {
		c.Router.PriceBufferMaxSize = DefaultPriceBufferMaxSize
	}

	// Database defaults
	if c.Database.Port == 0 {
		c.Database.Port = DefaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDBSSLMode
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = DefaultMinConns
	}
	if c.Database.Writer.BatchSize == 0 {
		c.Database.Writer.BatchSize = DefaultBatchSize
	}
	if c.Database.Writer.FlushInterval == 0 {
		c.Database.Writer.FlushInterval = DefaultFlushInterval
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}
