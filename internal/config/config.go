package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "SUPPORTDESK"

// Storage and queue backends.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
)

type TelegramConfig struct {
	Token         string
	Debug         bool
	PollTimeout   int
	SendTimeout   time.Duration
	ChatQueueSize int
	ChatIdleTime  time.Duration
}

type HTTPConfig struct {
	Addr      string
	JWTSecret string
	AdminKey  string
}

// Config is the resolved process configuration.
type Config struct {
	Telegram       TelegramConfig
	StorageBackend string
	PostgresDSN    string
	RedisURL       string
	QueueBackend   string
	HTTP           HTTPConfig
	LogLevel       string
	LogFormat      string
}

// NewViper returns a viper instance with defaults and SUPPORTDESK_ env binding.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.debug", false)
	v.SetDefault("telegram.poll_timeout", DefaultPollTimeout)
	v.SetDefault("telegram.send_timeout", DefaultSendTimeout)
	v.SetDefault("telegram.chat_queue_size", DefaultChatQueueSize)
	v.SetDefault("telegram.chat_idle_timeout", DefaultChatIdleTimeout)
	v.SetDefault("storage.backend", BackendPostgres)
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("queue.backend", BackendMemory)
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.jwt_secret", "")
	v.SetDefault("http.admin_key", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	return v
}

// Load reads .env (if present), then the optional config file, then resolves
// every key. Environment variables override file values.
func Load(v *viper.Viper, file string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if file == "" {
		file = v.GetString("config")
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	cfg := &Config{
		Telegram: TelegramConfig{
			Token:         strings.TrimSpace(v.GetString("telegram.token")),
			Debug:         v.GetBool("telegram.debug"),
			PollTimeout:   v.GetInt("telegram.poll_timeout"),
			SendTimeout:   v.GetDuration("telegram.send_timeout"),
			ChatQueueSize: v.GetInt("telegram.chat_queue_size"),
			ChatIdleTime:  v.GetDuration("telegram.chat_idle_timeout"),
		},
		StorageBackend: strings.ToLower(strings.TrimSpace(v.GetString("storage.backend"))),
		PostgresDSN:    strings.TrimSpace(v.GetString("postgres.dsn")),
		RedisURL:       strings.TrimSpace(v.GetString("redis.url")),
		QueueBackend:   strings.ToLower(strings.TrimSpace(v.GetString("queue.backend"))),
		HTTP: HTTPConfig{
			Addr:      v.GetString("http.addr"),
			JWTSecret: v.GetString("http.jwt_secret"),
			AdminKey:  v.GetString("http.admin_key"),
		},
		LogLevel:  v.GetString("log.level"),
		LogFormat: v.GetString("log.format"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks backend choices and fills fallbacks for non-positive timings.
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return errors.New("postgres.dsn is required for the postgres storage backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown storage.backend %q", c.StorageBackend)
	}

	switch c.QueueBackend {
	case BackendRedis:
		if c.RedisURL == "" {
			return errors.New("redis.url is required for the redis queue backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown queue.backend %q", c.QueueBackend)
	}

	if c.Telegram.SendTimeout <= 0 {
		c.Telegram.SendTimeout = DefaultSendTimeout
	}
	if c.Telegram.PollTimeout <= 0 {
		c.Telegram.PollTimeout = DefaultPollTimeout
	}
	if c.Telegram.ChatQueueSize <= 0 {
		c.Telegram.ChatQueueSize = DefaultChatQueueSize
	}
	if c.Telegram.ChatIdleTime <= 0 {
		c.Telegram.ChatIdleTime = DefaultChatIdleTimeout
	}
	return nil
}
