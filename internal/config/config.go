// Package config defines all configuration for the exchange server.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// fields overridable via EXCHANGE_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Seed     SeedConfig     `mapstructure:"seed"`
}

// ServerConfig holds the HTTP listener settings. Order endpoints are
// rate-limited per api key; a zero burst disables the limiter.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	OrderRateBurst  int           `mapstructure:"order_rate_burst"`
	OrderRatePerSec float64       `mapstructure:"order_rate_per_sec"`
}

// DatabaseConfig sets where the SQLite database lives.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SeedConfig lists users created at startup if absent, keyed by name.
// Fixed api keys make local clients reproducible across restarts.
type SeedConfig struct {
	Users []SeedUser `mapstructure:"users"`
}

// SeedUser is one bootstrap account.
type SeedUser struct {
	Name   string `mapstructure:"name"`
	Role   string `mapstructure:"role"`
	APIKey string `mapstructure:"api_key"`
}

// Load reads config from a YAML file with env var overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("EXCHANGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.order_rate_burst", 50)
	v.SetDefault("server.order_rate_per_sec", 25.0)
	v.SetDefault("database.path", "toy_exchange.db")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port)
	}
	if c.Server.OrderRateBurst < 0 || c.Server.OrderRatePerSec < 0 {
		return fmt.Errorf("server order rate settings must not be negative")
	}
	if c.Server.OrderRateBurst > 0 && c.Server.OrderRatePerSec == 0 {
		return fmt.Errorf("server.order_rate_per_sec is required when order_rate_burst is set")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	for _, u := range c.Seed.Users {
		if u.Name == "" || u.APIKey == "" {
			return fmt.Errorf("seed users need both name and api_key")
		}
		switch u.Role {
		case "USER", "ADMIN":
		default:
			return fmt.Errorf("seed user %q: role must be USER or ADMIN", u.Name)
		}
	}
	return nil
}
