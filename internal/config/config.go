package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EnvPrefix = "SENTINEL"
	FileName  = "sentinel"
)

type Config struct {
	Debug bool `mapstructure:"debug"`
	JSON  bool `mapstructure:"json"`

	Backend *BackendConfig `mapstructure:"backend"`
	Live    *LiveConfig    `mapstructure:"live"`
	Auth    *AuthConfig    `mapstructure:"auth"`
	Server  *ServerConfig  `mapstructure:"server"`
	Redis   *RedisConfig   `mapstructure:"redis"`
	Mongo   *MongoConfig   `mapstructure:"mongo"`
}

type BackendConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type LiveConfig struct {
	FrameInterval time.Duration `mapstructure:"frame-interval"`
	DialTimeout   time.Duration `mapstructure:"dial-timeout"`
}

type AuthConfig struct {
	Email    string `mapstructure:"email"`
	Password string `mapstructure:"password"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

// SetDefaults registers every known key so environment variables can
// override them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("json", false)

	v.SetDefault("backend.url", "http://localhost:9090")
	v.SetDefault("backend.timeout", "10s")

	v.SetDefault("live.frame-interval", "500ms")
	v.SetDefault("live.dial-timeout", "10s")

	v.SetDefault("auth.email", "")
	v.SetDefault("auth.password", "")

	v.SetDefault("server.addr", "localhost:9090")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "2h")

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "sentinel")
}

// Load reads file (or sentinel.yaml from the working directory when file is
// empty) and the SENTINEL_* environment into a Config. A missing default
// config file is not an error.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var config *Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	return config, config.validate()
}

func (c *Config) validate() error {
	if c.Backend == nil || c.Backend.URL == "" {
		return errors.New("backend.url is required")
	}
	if c.Live == nil || c.Live.FrameInterval <= 0 {
		return errors.New("live.frame-interval must be positive")
	}
	if c.Backend.Timeout <= 0 || c.Live.DialTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	return nil
}
