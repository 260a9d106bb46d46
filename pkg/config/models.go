package config

import "time"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Client    ClientConfig
	Kafka     KafkaConfig
	Redis     RedisConfig
	Log       LogConfig
}

// ClientConfig holds settings consumed by the reconciliation SDK rather than
// the server, so client programs can load the same file.
type ClientConfig struct {
	Buffers BufferConfig
}

// BufferConfig sizes the SDK's per-category MRU buffers.
type BufferConfig struct {
	Notifications int
	Orders        int
	Deliveries    int
	Chat          int
	Presence      int
	Updates       int
}

type ServerConfig struct {
	Address         string
	Auth            AuthConfig
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwtSecret"`
}

// ConnectionLimitConfig caps simultaneous sessions per user. The limit is
// enforced when a connection authenticates, since that is the first moment a
// connection is attributable to a user.
type ConnectionLimitConfig struct {
	MaxPerUser int    `mapstructure:"maxPerUser"`
	Mode       string `mapstructure:"mode"` // "reject" or "cycle"
}

type TransportConfig struct {
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
}

// KafkaConfig describes the optional domain-event ingest. Disabled unless
// brokers are configured.
type KafkaConfig struct {
	Enabled bool
	Brokers []string
	GroupID string `mapstructure:"groupId"`
}

// RedisConfig describes the optional cross-instance broadcast bridge.
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	Channel  string
}

type LogConfig struct {
	Level string
}
