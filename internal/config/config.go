package config

import "time"

// Config is the root configuration for a chatgate instance.
type Config struct {
	Instance  InstanceConfig  `yaml:"instance"`
	Log       LogConfig       `yaml:"log"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Cache     CacheConfig     `yaml:"cache"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Snipe     SnipeConfig     `yaml:"snipe"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Database  DBConfig        `yaml:"database"`
	Relay     RelayConfig     `yaml:"relay"`
	Health    HealthConfig    `yaml:"health"`
}

// InstanceConfig identifies this instance.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// GatewayConfig holds gateway connection settings.
type GatewayConfig struct {
	URL                   string        `yaml:"url"`
	Token                 string        `yaml:"token"`
	OS                    string        `yaml:"os"`
	Browser               string        `yaml:"browser"`
	Device                string        `yaml:"device"`
	WriteTimeout          time.Duration `yaml:"write_timeout"`
	HandshakeTimeout      time.Duration `yaml:"handshake_timeout"`
	InvalidSessionDelay   time.Duration `yaml:"invalid_session_delay"`
	StopTimeout           time.Duration `yaml:"stop_timeout"`
	MaxIdentifyRejections int           `yaml:"max_identify_rejections"`
}

// ReconnectConfig holds reconnect backoff settings.
type ReconnectConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Jitter      float64       `yaml:"jitter"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// CacheConfig holds message cache settings.
type CacheConfig struct {
	Capacity int `yaml:"capacity"`
}

// DispatchConfig holds event hand-off settings.
type DispatchConfig struct {
	QueueSize  int `yaml:"queue_size"`
	QueueLimit int `yaml:"queue_limit"`
}

// SnipeConfig holds deleted/edited message history settings.
type SnipeConfig struct {
	Limit       int `yaml:"limit"`
	MaxChannels int `yaml:"max_channels"`
}

// ArchiveConfig holds Postgres archive writer settings.
type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`

	ApplicationName string `yaml:"application_name"` // Reported to the server, defaults to instance.id
}

// RelayConfig holds AMQP event relay settings. An empty AMQPURL disables the relay.
type RelayConfig struct {
	AMQPURL         string        `yaml:"amqp_url"`
	TopicPrefix     string        `yaml:"topic_prefix"`
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout"`
}

// HealthConfig holds health/debug HTTP server settings.
type HealthConfig struct {
	Port int `yaml:"port"`
}
