package config

import (
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	pkgconfig "github.com/thereayou/clubchat/pkg/config"
	applog "github.com/thereayou/clubchat/pkg/log"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Chat      ChatConfig
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	WebSocket WebSocketConfig
	Relay     RelayConfig
	NATS      NATSConfig `mapstructure:"nats"`
	Kafka     KafkaConfig
	Log       applog.Config
}

type ServerConfig struct {
	Host            string
	Port            int
	Mode            string
	ShutdownTimeout time.Duration `mapstructure:"-"`
}

type DatabaseConfig struct {
	Driver          string
	URL             string
	Path            string
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"-"`
}

// RedisConfig is optional. An empty URL disables the token blacklist, the
// redis rate-limit store and the redis relay.
type RedisConfig struct {
	URL string
}

type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret"`
	TokenDuration time.Duration `mapstructure:"-"`
}

type ChatConfig struct {
	EncryptionKey  string `mapstructure:"encryption_key"`
	EncryptionSalt string `mapstructure:"encryption_salt"`
	MaxBodyLength  int    `mapstructure:"max_body_length"`
	DefaultLimit   int    `mapstructure:"default_limit"`
	MaxLimit       int    `mapstructure:"max_limit"`
}

type RateLimitConfig struct {
	Store     string
	Send      RuleConfig `mapstructure:"-"`
	Read      RuleConfig `mapstructure:"-"`
	Handshake RuleConfig `mapstructure:"-"`
}

type RuleConfig struct {
	Window         time.Duration
	Quota          int
	SkipSuccessful bool
	SkipFailed     bool
}

type WebSocketConfig struct {
	WriteWait      time.Duration `mapstructure:"-"`
	PongWait       time.Duration `mapstructure:"-"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// RelayConfig selects cross-instance fan-out: "none", "redis" or "nats".
type RelayConfig struct {
	Driver  string
	Channel string
}

type NATSConfig struct {
	URL string
}

// KafkaConfig is optional. Empty brokers disables the lifecycle stream.
type KafkaConfig struct {
	Brokers string
	Topic   string
}

// LoadAndWatch reads config.yaml (if any) and the environment, and calls
// onChange with the re-decoded config every time the file changes. Only
// settings read at use time (the log level) take effect without a restart.
func LoadAndWatch(onChange func(*Config)) (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}
	cfg, err := FromViper(v)
	if err != nil {
		return nil, err
	}

	pkgconfig.Watch(v, func(e fsnotify.Event) {
		next, err := FromViper(v)
		if err != nil {
			applog.L().Warn().Err(err).Str("file", e.Name).Msg("config reload failed")
			return
		}
		applog.L().Info().Str("file", e.Name).Msg("config reloaded")
		onChange(next)
	})
	return cfg, nil
}

// FromViper applies defaults and env bindings to v and decodes it.
func FromViper(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	bindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.Server.ShutdownTimeout = pkgconfig.Duration(v, "server.shutdown_timeout", 30*time.Second)
	cfg.Database.ConnMaxLifetime = pkgconfig.Duration(v, "database.conn_max_lifetime", time.Hour)
	cfg.Auth.TokenDuration = pkgconfig.Duration(v, "auth.token_duration", 24*time.Hour)
	cfg.WebSocket.WriteWait = pkgconfig.Duration(v, "websocket.write_wait", 10*time.Second)
	cfg.WebSocket.PongWait = pkgconfig.Duration(v, "websocket.pong_wait", 60*time.Second)

	cfg.RateLimit.Send = rule(v, "ratelimit.send", 10*time.Second)
	cfg.RateLimit.Read = rule(v, "ratelimit.read", time.Minute)
	cfg.RateLimit.Handshake = rule(v, "ratelimit.handshake", time.Minute)

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.path", "clubchat.db")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", "1h")

	v.SetDefault("auth.token_duration", "24h")

	v.SetDefault("chat.encryption_salt", "salt")
	v.SetDefault("chat.max_body_length", 2000)
	v.SetDefault("chat.default_limit", 50)
	v.SetDefault("chat.max_limit", 100)

	v.SetDefault("ratelimit.store", "memory")
	v.SetDefault("ratelimit.send.window", "10s")
	v.SetDefault("ratelimit.send.quota", 10)
	v.SetDefault("ratelimit.read.window", "1m")
	v.SetDefault("ratelimit.read.quota", 120)
	v.SetDefault("ratelimit.handshake.window", "1m")
	v.SetDefault("ratelimit.handshake.quota", 10)
	v.SetDefault("ratelimit.handshake.skip_successful", true)

	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.max_message_size", 512*1024)
	v.SetDefault("websocket.send_buffer", 256)

	v.SetDefault("relay.driver", "none")
	v.SetDefault("relay.channel", "clubchat.events")
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")

	v.SetDefault("kafka.topic", "club-chat-lifecycle")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.service_name", "clubchat")
}

func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("server.port", "PORT")
	_ = v.BindEnv("server.mode", "GIN_MODE")
	_ = v.BindEnv("database.driver", "DB_DRIVER")
	_ = v.BindEnv("database.url", "DATABASE_URL")
	_ = v.BindEnv("database.path", "DB_PATH")
	_ = v.BindEnv("redis.url", "REDIS_URL")
	_ = v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	_ = v.BindEnv("chat.encryption_key", "CHAT_ENCRYPTION_KEY")
	_ = v.BindEnv("ratelimit.store", "RATE_LIMIT_STORE")
	_ = v.BindEnv("relay.driver", "RELAY_DRIVER")
	_ = v.BindEnv("nats.url", "NATS_URL")
	_ = v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	_ = v.BindEnv("kafka.topic", "KAFKA_TOPIC")
	_ = v.BindEnv("log.level", "LOG_LEVEL")
	_ = v.BindEnv("log.pretty", "LOG_PRETTY")
}

func rule(v *viper.Viper, prefix string, window time.Duration) RuleConfig {
	return RuleConfig{
		Window:         pkgconfig.Duration(v, prefix+".window", window),
		Quota:          v.GetInt(prefix + ".quota"),
		SkipSuccessful: v.GetBool(prefix + ".skip_successful"),
		SkipFailed:     v.GetBool(prefix + ".skip_failed"),
	}
}
