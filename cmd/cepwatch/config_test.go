package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_RUNTIME_DIR", "")
	for _, key := range []string{"CEPWATCH_THROTTLE", "CEPWATCH_BACKEND_URL", "CEPWATCH_STREAM_URL", "CEPWATCH_API_PORT"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	return home
}

func serveFlags(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "serve"}
	addServeFlags(cmd)
	if err := cmd.Flags().Parse(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return cmd
}

func TestLoadConfigDefaults(t *testing.T) {
	isolateHome(t)

	cfg, _, err := loadConfig("", serveFlags(t).Flags())
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.BackendURL != "http://localhost:9000" {
		t.Errorf("backend url = %q", cfg.BackendURL)
	}
	if cfg.StreamURL != "ws://localhost:9000" {
		t.Errorf("stream url = %q, want derived ws url", cfg.StreamURL)
	}
	if cfg.Throttle != 0 {
		t.Errorf("throttle = %d, want 0", cfg.Throttle)
	}
	if cfg.APIAddr != "127.0.0.1:3000" {
		t.Errorf("api addr = %q", cfg.APIAddr)
	}
	if cfg.SocketPath == "" {
		t.Error("socket path should default to a non-empty path")
	}
	if cfg.PollInterval != time.Second {
		t.Errorf("poll interval = %s", cfg.PollInterval)
	}
	if cfg.ConfigPath != "" {
		t.Errorf("config path = %q, want empty without a file", cfg.ConfigPath)
	}
}

func TestLoadConfigFlagsOverride(t *testing.T) {
	isolateHome(t)

	cmd := serveFlags(t, "--throttle", "1500", "--backend-url", "https://cep.example.org/api", "--api-port", "8081")
	cfg, _, err := loadConfig("", cmd.Flags())
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Throttle != 1500 {
		t.Errorf("throttle = %d, want 1500", cfg.Throttle)
	}
	if cfg.StreamURL != "wss://cep.example.org/api" {
		t.Errorf("stream url = %q", cfg.StreamURL)
	}
	if cfg.APIAddr != "127.0.0.1:8081" {
		t.Errorf("api addr = %q", cfg.APIAddr)
	}
}

func TestLoadConfigEnv(t *testing.T) {
	isolateHome(t)
	t.Setenv("CEPWATCH_THROTTLE", "250")

	cfg, _, err := loadConfig("", serveFlags(t).Flags())
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Throttle != 250 {
		t.Errorf("throttle = %d, want 250 from env", cfg.Throttle)
	}
}

func TestLoadConfigFile(t *testing.T) {
	home := isolateHome(t)
	path := filepath.Join(t.TempDir(), "config.yml")
	body := "backend-url: http://cep:8080\nthrottle: 2000\nsession-store: ~/state/session.duckdb\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, _, err := loadConfig(path, serveFlags(t).Flags())
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.ConfigPath != path {
		t.Errorf("config path = %q, want %q", cfg.ConfigPath, path)
	}
	if cfg.Throttle != 2000 {
		t.Errorf("throttle = %d, want 2000", cfg.Throttle)
	}
	if cfg.StreamURL != "ws://cep:8080" {
		t.Errorf("stream url = %q", cfg.StreamURL)
	}
	want := filepath.Join(home, "state", "session.duckdb")
	if got, ok := cfg.storePath(); !ok || got != want {
		t.Errorf("storePath() = %q, %v; want %q, true", got, ok, want)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"negative throttle", []string{"--throttle", "-1"}},
		{"port out of range", []string{"--api-port", "70000"}},
		{"zero poll interval", []string{"--poll-interval", "0s"}},
		{"unsupported scheme", []string{"--backend-url", "ftp://cep"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateHome(t)
			if _, _, err := loadConfig("", serveFlags(t, tt.args...).Flags()); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestDeriveStreamURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://localhost:9000", "ws://localhost:9000"},
		{"https://cep.example.org/", "wss://cep.example.org"},
		{"ws://already:1", "ws://already:1"},
	}
	for _, tt := range tests {
		got, err := deriveStreamURL(tt.in)
		if err != nil {
			t.Fatalf("deriveStreamURL(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("deriveStreamURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStorePath(t *testing.T) {
	tests := []struct {
		setting string
		path    string
		ok      bool
	}{
		{"memory", "", true},
		{"", "", true},
		{"off", "", false},
		{"OFF", "", false},
		{"/var/lib/cepwatch.duckdb", "/var/lib/cepwatch.duckdb", true},
	}
	for _, tt := range tests {
		path, ok := appConfig{SessionStore: tt.setting}.storePath()
		if path != tt.path || ok != tt.ok {
			t.Errorf("storePath(%q) = %q, %v; want %q, %v", tt.setting, path, ok, tt.path, tt.ok)
		}
	}
}

func TestParseIDs(t *testing.T) {
	ids, err := parseIDs([]string{"3", "17"})
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != 3 || ids[1] != 17 {
		t.Errorf("parseIDs = %v", ids)
	}
	if _, err := parseIDs([]string{"x"}); err == nil {
		t.Error("expected error for non-numeric id")
	}
}
