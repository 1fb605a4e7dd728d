package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"workerwatch/logger"
	"workerwatch/storage"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "WORKERWATCH"

// Config holds every configurable value for the service.
type Config struct {
	// Server
	ListenAddr      string        `mapstructure:"listen_addr"`      // e.g. 0.0.0.0:9800
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"` // grace period for in-flight requests
	GinMode         string        `mapstructure:"gin_mode"`         // debug|release|test
	LogLevel        string        `mapstructure:"log_level"`        // debug|info|warn|error

	// Registry
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	TTL            time.Duration `mapstructure:"ttl"`
	StorageBackend string        `mapstructure:"storage_backend"` // memory|sqlite
	DBPath         string        `mapstructure:"db_path"`         // sqlite only, ":memory:" by default
}

var defaults = map[string]any{
	"listen_addr":      "0.0.0.0:9800",
	"shutdown_timeout": 5 * time.Second,
	"gin_mode":         "release",
	"log_level":        "info",
	"sweep_interval":   10 * time.Second,
	"ttl":              10 * time.Second,
	"storage_backend":  storage.BackendMemory,
	"db_path":          ":memory:",
}

// RegisterFlags adds the command-line flags understood by Load to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to a config file (default ./configs/config.yaml)")
	fs.String("listen-addr", defaults["listen_addr"].(string), "HTTP listen address")
	fs.Duration("shutdown-timeout", defaults["shutdown_timeout"].(time.Duration), "graceful shutdown timeout")
	fs.String("gin-mode", defaults["gin_mode"].(string), "gin mode: debug, release or test")
	fs.String("log-level", defaults["log_level"].(string), "log level: debug, info, warn or error")
	fs.Duration("sweep-interval", defaults["sweep_interval"].(time.Duration), "how often stale workers are evicted")
	fs.Duration("ttl", defaults["ttl"].(time.Duration), "how long a worker may go without reporting")
	fs.String("storage-backend", defaults["storage_backend"].(string), "registry backend: memory or sqlite")
	fs.String("db-path", defaults["db_path"].(string), "sqlite database path")
}

// Load reads configuration from (in decreasing priority):
//  1. command-line flags registered with RegisterFlags (flags may be nil)
//  2. environment variables (e.g. WORKERWATCH_LISTEN_ADDR)
//  3. a yaml file (./configs/config.yaml, or --config) if it exists.
//  4. built-in defaults
//
// It returns a fully populated and validated *Config or an error.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	explicit := ""
	if flags != nil {
		if f := flags.Lookup("config"); f != nil {
			explicit = f.Value.String()
		}
		for key := range defaults {
			if f := flags.Lookup(strings.ReplaceAll(key, "_", "-")); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", f.Name, err)
				}
			}
		}
	}

	if explicit != "" {
		v.SetConfigFile(explicit)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./configs")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("cannot decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	switch {
	case c.ListenAddr == "":
		return fmt.Errorf("listen_addr must not be empty")
	case c.TTL <= 0:
		return fmt.Errorf("ttl must be positive, got %s", c.TTL)
	case c.SweepInterval <= 0:
		return fmt.Errorf("sweep_interval must be positive, got %s", c.SweepInterval)
	case c.ShutdownTimeout <= 0:
		return fmt.Errorf("shutdown_timeout must be positive, got %s", c.ShutdownTimeout)
	case !logger.ValidLevel(c.LogLevel):
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}

	switch c.StorageBackend {
	case storage.BackendMemory:
	case storage.BackendSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("db_path must not be empty for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown storage_backend %q", c.StorageBackend)
	}

	switch c.GinMode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("invalid gin_mode %q", c.GinMode)
	}
	return nil
}
