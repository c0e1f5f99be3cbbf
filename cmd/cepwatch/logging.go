package main

import (
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// configureRuntimeLogger points logrus at the service log file. The terminal
// stays reserved for the startup banner.
func configureRuntimeLogger(cfg appConfig) (func(), error) {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return func() {}, fmt.Errorf("invalid log-level: %w", err)
	}
	log.SetLevel(level)

	if cfg.LogJSON {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{
			DisableColors: true,
			FullTimestamp: true,
		})
	}

	logPath := cfg.LogFile
	if logPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			log.SetOutput(os.Stderr)
			return func() {}, nil
		}
		logPath = filepath.Join(home, ".local", "state", "cepwatch", "cepwatch.log")
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		log.SetOutput(os.Stderr)
		return func() {}, nil
	}
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.SetOutput(os.Stderr)
		return func() {}, nil
	}

	log.SetOutput(f)
	return func() {
		_ = f.Close()
	}, nil
}
