package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tinytelemetry/cepwatch/internal/model"
	"github.com/tinytelemetry/cepwatch/internal/socketrpc"
)

// tuiConfig holds only dashboard-relevant configuration. It shares the
// service's config file and CEPWATCH_* environment.
type tuiConfig struct {
	UpdateInterval     time.Duration `mapstructure:"update-interval"`
	SeriesWindow       int           `mapstructure:"series-window"`
	FeedWindow         int           `mapstructure:"feed-window"`
	ReverseScrollWheel bool          `mapstructure:"reverse-scroll-wheel"`
	SocketPath         string        `mapstructure:"socket-path"`
}

func loadTUIConfig(configPath string) (tuiConfig, error) {
	var cfg tuiConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("CEPWATCH")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("update-interval", model.DefaultUpdateInterval)
	v.SetDefault("series-window", model.DefaultSeriesWindow)
	v.SetDefault("feed-window", model.DefaultFeedWindow)
	v.SetDefault("reverse-scroll-wheel", false)
	v.SetDefault("socket-path", socketrpc.DefaultSocketPath())

	if configPath == "" {
		configPath = filepath.Join(home, ".config", "cepwatch", "config.yml")
	}
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	if cfg.UpdateInterval <= 0 {
		return cfg, fmt.Errorf("invalid update-interval: %s", cfg.UpdateInterval)
	}
	if strings.HasPrefix(cfg.SocketPath, "~/") {
		cfg.SocketPath = filepath.Join(home, cfg.SocketPath[2:])
	}
	return cfg, nil
}
