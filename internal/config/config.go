package config

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "CHATSYNC"

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Cors     CorsConfig
	Redis    RedisConfig
	Log      LogConfig
	Chat     ChatConfig
	Presence PresenceConfig
	WS       WSConfig `mapstructure:"ws"`

	// SigningKey is the decoded auth.signing_key.
	SigningKey []byte `mapstructure:"-"`
}

type ServerConfig struct {
	Addr string
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type AuthConfig struct {
	SigningKey string        `mapstructure:"signing_key"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
}

type CorsConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// RedisConfig enables the presence mirror when Address is set.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Channel  string
}

type LogConfig struct {
	Level  string
	Pretty bool
}

type ChatConfig struct {
	LockTimeout      time.Duration `mapstructure:"lock_timeout"`
	LockRetries      int           `mapstructure:"lock_retries"`
	SessionQueueSize int           `mapstructure:"session_queue_size"`
}

type PresenceConfig struct {
	OfflineGrace time.Duration `mapstructure:"offline_grace"`
}

type WSConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "localhost:8000")
	v.SetDefault("database.dsn", "")
	v.SetDefault("auth.signing_key", "")
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("cors.allowed_origins", []string{})
	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "presence:updates")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("chat.lock_timeout", "2s")
	v.SetDefault("chat.lock_retries", 2)
	v.SetDefault("chat.session_queue_size", 256)
	v.SetDefault("presence.offline_grace", "10s")
	v.SetDefault("ws.ping_interval", "30s")
	v.SetDefault("ws.pong_wait", "60s")
	v.SetDefault("ws.write_wait", "10s")
	v.SetDefault("ws.max_message_size", 1<<20)
}

// Load reads config.yaml from configPath, . or ./config and applies
// CHATSYNC_* environment overrides, e.g. CHATSYNC_DATABASE_DSN.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	if base64Secret == "" {
		return nil, fmt.Errorf("empty secret")
	}
	return base64.StdEncoding.DecodeString(base64Secret)
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN cannot be empty")
	}
	if c.Auth.SigningKey == "" {
		return fmt.Errorf("signing secret cannot be empty")
	}
	if c.Chat.LockTimeout <= 0 {
		return fmt.Errorf("chat lock timeout must be positive")
	}
	if c.Chat.LockRetries < 0 {
		return fmt.Errorf("chat lock retries cannot be negative")
	}
	if c.Chat.SessionQueueSize <= 0 {
		return fmt.Errorf("session queue size must be positive")
	}
	if c.WS.PingInterval >= c.WS.PongWait {
		return fmt.Errorf("ws ping interval must be shorter than pong wait")
	}

	signingKey, err := decodeSigningSecret(c.Auth.SigningKey)
	if err != nil {
		return fmt.Errorf("decode signing secret: %w", err)
	}
	c.SigningKey = signingKey

	return nil
}
