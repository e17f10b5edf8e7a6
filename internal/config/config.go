package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/example/faceme-bridge/internal/faceme"
)

// EnvPrefix prefixes every environment override, e.g. FACEME_REDIS_ADDR.
const EnvPrefix = "FACEME"

// Config is the configuration of the gateway and the CLI.
type Config struct {
	FaceMe   FaceMeConfig   `mapstructure:"faceme"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Log      LogConfig      `mapstructure:"log"`
}

type FaceMeConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Credential string        `mapstructure:"credential"`
	Identity   string        `mapstructure:"identity"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr string `mapstructure:"addr"`
}

type AuthConfig struct {
	JWTSecret   string `mapstructure:"jwt_secret"`
	JWTAudience string `mapstructure:"jwt_audience"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Defaults are applied before the file and the environment.
func Defaults() map[string]any {
	return map[string]any{
		"faceme.base_url":         faceme.DefaultBaseURL,
		"faceme.credential":       faceme.DefaultCredential,
		"faceme.identity":         faceme.DefaultIdentity,
		"faceme.timeout":          30 * time.Second,
		"server.addr":             ":8080",
		"server.shutdown_timeout": 15 * time.Second,
		"database.dsn":            "host=postgres user=postgres password=postgres dbname=faceme port=5432 sslmode=disable",
		"redis.addr":              "redis:6379",
		"auth.jwt_secret":         "dev-secret",
		"auth.jwt_audience":       "",
		"log.level":               "info",
	}
}

// Load reads path (YAML, JSON or TOML by extension) when it is not empty and
// overlays FACEME_* environment variables on top of it.
func Load(path string) (*Config, error) {
	v := viper.New()
	for k, val := range Defaults() {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// BridgeOptions converts the faceme section into bridge options.
func (c *Config) BridgeOptions() []faceme.Option {
	return []faceme.Option{
		faceme.WithBaseURL(c.FaceMe.BaseURL),
		faceme.WithCredential(c.FaceMe.Credential),
		faceme.WithIdentity(c.FaceMe.Identity),
		faceme.WithTimeout(c.FaceMe.Timeout),
	}
}
