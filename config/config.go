package config

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type Config struct {
	Log      Log      `mapstructure:"log"`
	HTTP     HTTP     `mapstructure:"http"`
	Recorder Recorder `mapstructure:"recorder"`

	mu sync.RWMutex
	v  *viper.Viper
}

type Log struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level"`
	// Format is json or text.
	Format string `mapstructure:"format"`
}

type HTTP struct {
	Addr string `mapstructure:"addr"`
}

type Recorder struct {
	// PersistenceEnabled false selects lite mode: the default storage tier
	// is never contacted and results land in the log fallback only.
	PersistenceEnabled bool `mapstructure:"persistence_enabled"`
	RecentResults      int  `mapstructure:"recent_results"`
}

// LoadConfig reads defaults, the optional config file, and environment
// overrides prefixed AUTOMATION_ (dots become underscores).
func LoadConfig(file string) (*Config, error) {
	v := viper.New()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("http.addr", ":8085")
	v.SetDefault("recorder.persistence_enabled", true)
	v.SetDefault("recorder.recent_results", 64)

	v.SetEnvPrefix("AUTOMATION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	cfg := &Config{v: v}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// Watch reloads the struct when the config file changes on disk. No-op when
// no file was loaded.
func (c *Config) Watch(logger *slog.Logger) {
	if c.v.ConfigFileUsed() == "" {
		return
	}
	c.v.OnConfigChange(func(e fsnotify.Event) {
		var next Config
		if err := c.v.Unmarshal(&next); err != nil {
			logger.Error("config reload failed",
				slog.String("file", e.Name),
				slog.Any("err", err),
			)
			return
		}
		c.mu.Lock()
		c.Log, c.HTTP, c.Recorder = next.Log, next.HTTP, next.Recorder
		c.mu.Unlock()
		logger.Info("config reloaded", slog.String("file", e.Name))
	})
	c.v.WatchConfig()
}

// LogSettings returns the log section. Safe against concurrent reloads.
func (c *Config) LogSettings() Log {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Log
}

// HTTPAddr returns the ops server bind address.
func (c *Config) HTTPAddr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.HTTP.Addr
}

// RecorderSettings returns the recorder section.
func (c *Config) RecorderSettings() Recorder {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Recorder
}

// LogLevel maps the configured level onto slog's.
func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(c.LogSettings().Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
