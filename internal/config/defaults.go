package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultLogLevel              = "info"
	DefaultGatewayURL            = "wss://gateway.discord.gg/?v=9&encoding=json"
	DefaultOS                    = "linux"
	DefaultBrowser               = "chrome"
	DefaultDevice                = "chrome"
	DefaultWriteTimeout          = 5 * time.Second
	DefaultHandshakeTimeout      = 10 * time.Second
	DefaultInvalidSessionDelay   = 1 * time.Second
	DefaultStopTimeout           = 10 * time.Second
	DefaultMaxIdentifyRejections = 3
	DefaultReconnectBaseDelay    = 1 * time.Second
	DefaultReconnectMaxDelay     = 30 * time.Second
	DefaultReconnectJitter       = 0.1
	DefaultReconnectMaxAttempts  = 10
	DefaultCacheCapacity         = 5000
	DefaultQueueSize             = 1024
	DefaultQueueLimit            = 100000
	DefaultSnipeLimit            = 10
	DefaultSnipeMaxChannels      = 1000
	DefaultBatchSize             = 100
	DefaultFlushInterval         = 5 * time.Second
	DefaultDBPort                = 5432
	DefaultDBSSLMode             = "prefer"
	DefaultMaxConns              = 4
	DefaultMinConns              = 1
	DefaultTopicPrefix           = "chatgate"
	DefaultBreakerFailures       = 5
	DefaultBreakerTimeout        = 30 * time.Second
	DefaultHealthPort            = 8080
)

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}

	// Gateway defaults
	if c.Gateway.URL == "" {
		c.Gateway.URL = DefaultGatewayURL
	}
	if c.Gateway.OS == "" {
		c.Gateway.OS = DefaultOS
	}
	if c.Gateway.Browser == "" {
		c.Gateway.Browser = DefaultBrowser
	}
	if c.Gateway.Device == "" {
		c.Gateway.Device = DefaultDevice
	}
	if c.Gateway.WriteTimeout == 0 {
		c.Gateway.WriteTimeout = DefaultWriteTimeout
	}
	if c.Gateway.HandshakeTimeout == 0 {
		c.Gateway.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Gateway.InvalidSessionDelay == 0 {
		c.Gateway.InvalidSessionDelay = DefaultInvalidSessionDelay
	}
	if c.Gateway.StopTimeout == 0 {
		c.Gateway.StopTimeout = DefaultStopTimeout
	}
	if c.Gateway.MaxIdentifyRejections == 0 {
		c.Gateway.MaxIdentifyRejections = DefaultMaxIdentifyRejections
	}

	// Reconnect defaults
	if c.Reconnect.BaseDelay == 0 {
		c.Reconnect.BaseDelay = DefaultReconnectBaseDelay
	}
	if c.Reconnect.MaxDelay == 0 {
		c.Reconnect.MaxDelay = DefaultReconnectMaxDelay
	}
	if c.Reconnect.Jitter == 0 {
		c.Reconnect.Jitter = DefaultReconnectJitter
	}
	if c.Reconnect.MaxAttempts == 0 {
		c.Reconnect.MaxAttempts = DefaultReconnectMaxAttempts
	}

	if c.Cache.Capacity == 0 {
		c.Cache.Capacity = DefaultCacheCapacity
	}

	if c.Dispatch.QueueSize == 0 {
		c.Dispatch.QueueSize = DefaultQueueSize
	}
	if c.Dispatch.QueueLimit == 0 {
		c.Dispatch.QueueLimit = DefaultQueueLimit
	}

	if c.Snipe.Limit == 0 {
		c.Snipe.Limit = DefaultSnipeLimit
	}
	if c.Snipe.MaxChannels == 0 {
		c.Snipe.MaxChannels = DefaultSnipeMaxChannels
	}

	// Archive defaults
	if c.Archive.BatchSize == 0 {
		c.Archive.BatchSize = DefaultBatchSize
	}
	if c.Archive.FlushInterval == 0 {
		c.Archive.FlushInterval = DefaultFlushInterval
	}
	applyDBDefaults(&c.Database)
	if c.Database.ApplicationName == "" {
		c.Database.ApplicationName = c.Instance.ID
	}

	if c.Relay.TopicPrefix == "" {
		c.Relay.TopicPrefix = DefaultTopicPrefix
	}
	if c.Relay.BreakerFailures == 0 {
		c.Relay.BreakerFailures = DefaultBreakerFailures
	}
	if c.Relay.BreakerTimeout == 0 {
		c.Relay.BreakerTimeout = DefaultBreakerTimeout
	}

	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
