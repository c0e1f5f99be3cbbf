package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadTUIConfigDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := loadTUIConfig("")
	if err != nil {
		t.Fatalf("loadTUIConfig: %v", err)
	}
	if cfg.UpdateInterval != 500*time.Millisecond {
		t.Errorf("update interval = %s", cfg.UpdateInterval)
	}
	if cfg.SeriesWindow != 60 || cfg.FeedWindow != 1000 {
		t.Errorf("windows = %d/%d", cfg.SeriesWindow, cfg.FeedWindow)
	}
	if cfg.SocketPath == "" {
		t.Error("socket path should not be empty")
	}
}

func TestLoadTUIConfigFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	path := filepath.Join(t.TempDir(), "config.yml")
	body := "update-interval: 2s\nfeed-window: 50\nsocket-path: ~/run/cw.sock\nthrottle: 1000\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadTUIConfig(path)
	if err != nil {
		t.Fatalf("loadTUIConfig: %v", err)
	}
	if cfg.UpdateInterval != 2*time.Second {
		t.Errorf("update interval = %s", cfg.UpdateInterval)
	}
	if cfg.FeedWindow != 50 {
		t.Errorf("feed window = %d", cfg.FeedWindow)
	}
	if want := filepath.Join(home, "run", "cw.sock"); cfg.SocketPath != want {
		t.Errorf("socket path = %q, want %q", cfg.SocketPath, want)
	}
}

func TestLoadTUIConfigRejectsZeroInterval(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CEPWATCH_UPDATE_INTERVAL", "0s")

	if _, err := loadTUIConfig(""); err == nil {
		t.Fatal("expected error for zero update interval")
	}
}
