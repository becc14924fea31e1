package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the chat server runtime parameters.
type Config struct {
	HTTPAddress         string         `mapstructure:"http_address"`
	LogLevel            string         `mapstructure:"log_level"`
	ShutdownGracePeriod time.Duration  `mapstructure:"shutdown_grace_period"`
	Database            DatabaseConfig `mapstructure:"database"`
	Auth                AuthConfig     `mapstructure:"auth"`
	Admin               AdminConfig    `mapstructure:"admin"`
	Chat                ChatConfig     `mapstructure:"chat"`
}

// DatabaseConfig describes the sqlite message store.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// AuthConfig describes token issuance and verification.
type AuthConfig struct {
	SecretEnv string        `mapstructure:"secret_env"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// AdminConfig describes the metrics/health listener.
type AdminConfig struct {
	Address           string        `mapstructure:"address"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
}

// ChatConfig bounds the websocket session and routing layer.
type ChatConfig struct {
	HistoryLimit       int           `mapstructure:"history_limit"`
	MaxContentBytes    int           `mapstructure:"max_content_bytes"`
	SendBufferSize     int           `mapstructure:"send_buffer_size"`
	SessionIdleTimeout time.Duration `mapstructure:"session_idle_timeout"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
}

const (
	defaultHTTPAddress         = "0.0.0.0:8080"
	defaultAdminAddress        = "127.0.0.1:9090"
	defaultLogLevel            = "info"
	defaultShutdownGracePeriod = 10 * time.Second
	defaultReadHeaderTimeout   = 5 * time.Second
	defaultDatabasePath        = "data/chatapp.db"
	defaultSecretEnv           = "CHATAPP_AUTH_SECRET"
	defaultTokenTTL            = 24 * time.Hour
	defaultHistoryLimit        = 50
	defaultMaxContentBytes     = 4096
	defaultSendBufferSize      = 32
	defaultSessionIdleTimeout  = 5 * time.Minute
	defaultSweepInterval       = time.Minute
)

// Load reads configuration from the provided file path (if any) and the environment.
// Environment variables are prefixed with CHATAPP_ and can override file values.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CHATAPP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("http_address", defaultHTTPAddress)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("shutdown_grace_period", defaultShutdownGracePeriod.String())
	v.SetDefault("database.path", defaultDatabasePath)
	v.SetDefault("auth.secret_env", defaultSecretEnv)
	v.SetDefault("auth.token_ttl", defaultTokenTTL.String())
	v.SetDefault("admin.address", defaultAdminAddress)
	v.SetDefault("admin.read_header_timeout", defaultReadHeaderTimeout.String())
	v.SetDefault("chat.history_limit", defaultHistoryLimit)
	v.SetDefault("chat.max_content_bytes", defaultMaxContentBytes)
	v.SetDefault("chat.send_buffer_size", defaultSendBufferSize)
	v.SetDefault("chat.session_idle_timeout", defaultSessionIdleTimeout.String())
	v.SetDefault("chat.sweep_interval", defaultSweepInterval.String())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// Viper leaves durations as strings; normalize them here.
	durations := []struct {
		key string
		dst *time.Duration
		def time.Duration
	}{
		{"shutdown_grace_period", &cfg.ShutdownGracePeriod, defaultShutdownGracePeriod},
		{"auth.token_ttl", &cfg.Auth.TokenTTL, defaultTokenTTL},
		{"admin.read_header_timeout", &cfg.Admin.ReadHeaderTimeout, defaultReadHeaderTimeout},
		{"chat.session_idle_timeout", &cfg.Chat.SessionIdleTimeout, defaultSessionIdleTimeout},
		{"chat.sweep_interval", &cfg.Chat.SweepInterval, defaultSweepInterval},
	}
	for _, d := range durations {
		if !v.IsSet(d.key) {
			*d.dst = d.def
			continue
		}
		dur, err := time.ParseDuration(v.GetString(d.key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = dur
	}

	if cfg.HTTPAddress == "" {
		cfg.HTTPAddress = defaultHTTPAddress
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = defaultDatabasePath
	}
	if cfg.Auth.SecretEnv == "" {
		cfg.Auth.SecretEnv = defaultSecretEnv
	}
	if cfg.Chat.HistoryLimit <= 0 {
		cfg.Chat.HistoryLimit = defaultHistoryLimit
	}
	if cfg.Chat.MaxContentBytes <= 0 {
		cfg.Chat.MaxContentBytes = defaultMaxContentBytes
	}
	if cfg.Chat.SendBufferSize <= 0 {
		cfg.Chat.SendBufferSize = defaultSendBufferSize
	}

	return cfg, nil
}

// Secret fetches the token-signing secret from the configured environment variable.
func (c Config) Secret() (string, error) {
	env := c.Auth.SecretEnv
	if env == "" {
		env = defaultSecretEnv
	}
	val := strings.TrimSpace(getenv(env))
	if val == "" {
		return "", fmt.Errorf("auth secret env %s is empty", env)
	}
	return val, nil
}

// split out for testing.
var getenv = os.Getenv
