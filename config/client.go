package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ClientConfig configures masteryctl, the device-side client. Values come
// from flags, MASTERY_* environment variables and an optional
// masteryctl.yaml, in that order of precedence.
type ClientConfig struct {
	Server struct {
		URL               string        `mapstructure:"url"`
		Timeout           time.Duration `mapstructure:"timeout"`
		RequestsPerSecond float64       `mapstructure:"requests_per_second"`
		Burst             int           `mapstructure:"burst"`
	} `mapstructure:"server"`

	AccountID string `mapstructure:"account_id"`

	// Local SQLite file holding the content cache and the mutation queue.
	DBPath string `mapstructure:"db_path"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

// NewClientViper returns a viper instance with client defaults and
// environment binding. The CLI binds its flags onto it before LoadClient.
func NewClientViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("server.url", "http://localhost:8080/api/v1")
	v.SetDefault("server.timeout", 10*time.Second)
	v.SetDefault("server.requests_per_second", 5.0)
	v.SetDefault("server.burst", 10)
	v.SetDefault("account_id", "")
	v.SetDefault("db_path", defaultClientDBPath())
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "text")

	v.SetEnvPrefix("MASTERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// LoadClient reads the config file (explicit path, or masteryctl.yaml in
// the working directory and the user config dir) and decodes the result.
// A missing file is not an error.
func LoadClient(v *viper.Viper, file string) (*ClientConfig, error) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("masteryctl")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "mastery"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !(file == "" && errors.Is(err, os.ErrNotExist)) {
			return nil, fmt.Errorf("read client config: %w", err)
		}
	}

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode client config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the client configuration.
func (c *ClientConfig) Validate() error {
	var errs []string

	if c.Server.URL == "" {
		errs = append(errs, "server.url is required")
	}
	if c.DBPath == "" {
		errs = append(errs, "db_path is required")
	}
	if c.Server.Timeout <= 0 {
		errs = append(errs, "server.timeout must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func defaultClientDBPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "mastery.db"
	}
	return filepath.Join(dir, "mastery", "mastery.db")
}
