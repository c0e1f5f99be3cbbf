package main

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tinytelemetry/cepwatch/internal/model"
	"github.com/tinytelemetry/cepwatch/internal/socketrpc"
)

const (
	defaultBindHost            = "127.0.0.1"
	defaultAPIPort             = 3000
	defaultInsertBatchSize     = 2000
	defaultInsertFlushInterval = 100 * time.Millisecond
	defaultSampleRetention     = time.Hour
	defaultLogLevel            = "info"

	// sessionStoreMemory keeps the session store in memory; sessionStoreOff disables it.
	sessionStoreMemory = "memory"
	sessionStoreOff    = "off"
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	BackendURL          string        `mapstructure:"backend-url"`
	StreamURL           string        `mapstructure:"stream-url"`
	PollInterval        time.Duration `mapstructure:"poll-interval"`
	Throttle            int           `mapstructure:"throttle"`
	DialTimeout         time.Duration `mapstructure:"dial-timeout"`
	APIEnabled          bool          `mapstructure:"api-enabled"`
	APIPort             int           `mapstructure:"api-port"`
	APIAddr             string        `mapstructure:"api-addr"`
	SocketPath          string        `mapstructure:"socket-path"`
	SessionStore        string        `mapstructure:"session-store"`
	InsertBatchSize     int           `mapstructure:"insert-batch-size"`
	InsertFlushInterval time.Duration `mapstructure:"insert-flush-interval"`
	SampleRetention     time.Duration `mapstructure:"sample-retention"`
	LogFile             string        `mapstructure:"log-file"`
	LogLevel            string        `mapstructure:"log-level"`
	LogJSON             bool          `mapstructure:"log-json"`
	FeedWindow          int           `mapstructure:"feed-window"`
	ConfigPath          string        `mapstructure:"-"` // not from config file
}

// newViper builds the layered config source: defaults, optional YAML file,
// CEPWATCH_* environment and any bound flags.
func newViper(configPath string, flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("CEPWATCH")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("backend-url", model.DefaultBackendURL)
	v.SetDefault("stream-url", "")
	v.SetDefault("poll-interval", model.DefaultPollInterval)
	v.SetDefault("throttle", 0)
	v.SetDefault("dial-timeout", model.DefaultDialTimeout)
	v.SetDefault("api-enabled", true)
	v.SetDefault("api-port", defaultAPIPort)
	v.SetDefault("api-addr", "")
	v.SetDefault("socket-path", socketrpc.DefaultSocketPath())
	v.SetDefault("session-store", sessionStoreMemory)
	v.SetDefault("insert-batch-size", defaultInsertBatchSize)
	v.SetDefault("insert-flush-interval", defaultInsertFlushInterval)
	v.SetDefault("sample-retention", defaultSampleRetention)
	v.SetDefault("log-file", "")
	v.SetDefault("log-level", defaultLogLevel)
	v.SetDefault("log-json", false)
	v.SetDefault("feed-window", model.DefaultFeedWindow)

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			if f.Name == "config" {
				return
			}
			if err := v.BindPFlag(f.Name, f); err != nil && bindErr == nil {
				bindErr = err
			}
		})
		if bindErr != nil {
			return nil, bindErr
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("finding home directory: %w", err)
		}
		v.SetConfigFile(filepath.Join(home, ".config", "cepwatch", "config.yml"))
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return nil, err
		}
	}
	return v, nil
}

// loadConfig reads and validates the service configuration.
func loadConfig(configPath string, flags *pflag.FlagSet) (appConfig, *viper.Viper, error) {
	var cfg appConfig

	v, err := newViper(configPath, flags)
	if err != nil {
		return cfg, nil, err
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, nil, err
	}
	if _, err := os.Stat(v.ConfigFileUsed()); err == nil {
		cfg.ConfigPath = v.ConfigFileUsed()
	}

	if cfg.APIPort <= 0 || cfg.APIPort > 65535 {
		return cfg, nil, fmt.Errorf("invalid api-port: %d", cfg.APIPort)
	}
	if cfg.Throttle < 0 {
		return cfg, nil, fmt.Errorf("invalid throttle: %d (must not be negative)", cfg.Throttle)
	}
	if cfg.PollInterval <= 0 {
		return cfg, nil, fmt.Errorf("invalid poll-interval: %s", cfg.PollInterval)
	}
	if cfg.StreamURL == "" {
		cfg.StreamURL, err = deriveStreamURL(cfg.BackendURL)
		if err != nil {
			return cfg, nil, err
		}
	}
	if cfg.APIAddr == "" {
		cfg.APIAddr = net.JoinHostPort(defaultBindHost, strconv.Itoa(cfg.APIPort))
	}

	// Expand ~ in file paths
	if home, err := os.UserHomeDir(); err == nil {
		for _, p := range []*string{&cfg.SessionStore, &cfg.LogFile, &cfg.SocketPath} {
			if strings.HasPrefix(*p, "~/") {
				*p = filepath.Join(home, (*p)[2:])
			}
		}
	}

	return cfg, v, nil
}

// deriveStreamURL maps the backend REST base onto its websocket base.
func deriveStreamURL(backend string) (string, error) {
	u, err := url.Parse(backend)
	if err != nil {
		return "", fmt.Errorf("invalid backend-url %q: %w", backend, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid backend-url %q: unsupported scheme %q", backend, u.Scheme)
	}
	return strings.TrimRight(u.String(), "/"), nil
}

// storePath maps the session-store setting onto a DuckDB path. ok is false
// when the store is disabled.
func (c appConfig) storePath() (path string, ok bool) {
	switch strings.ToLower(c.SessionStore) {
	case sessionStoreOff, "false", "none":
		return "", false
	case "", sessionStoreMemory, ":memory:":
		return "", true
	default:
		return c.SessionStore, true
	}
}
