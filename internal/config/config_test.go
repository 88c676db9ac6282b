package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultProfile = "work"
	cfg.ReconnectBaseDelay = Duration{500 * time.Millisecond}
	off := false
	cfg.ReplaySubscriptions = &off
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "work" {
		t.Errorf("DefaultProfile = %q, want %q", loaded.DefaultProfile, "work")
	}
	if loaded.ReconnectBaseDelay.Duration != 500*time.Millisecond {
		t.Errorf("ReconnectBaseDelay = %v", loaded.ReconnectBaseDelay)
	}
	if loaded.Replay() {
		t.Error("Replay() = true, want false")
	}
}

func TestLoadFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("server_url = \"https://chat.example.com\"\ntyping_ttl = \"10s\"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		got  any
		want any
	}{
		{"typing_ttl", cfg.TypingTTL.Duration, 10 * time.Second},
		{"reconnect_base_delay", cfg.ReconnectBaseDelay.Duration, DefaultBaseDelay},
		{"max_reconnect_attempts", cfg.MaxReconnectAttempts, DefaultMaxAttempts},
		{"replay", cfg.Replay(), true},
		{"api url", cfg.APIURL(), "https://chat.example.com/api"},
		{"ws url", cfg.WebSocketURL(), "wss://chat.example.com/ws"},
		{"contacts topic", cfg.ContactsTopic, DefaultContactsTopic},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}

	cfg, err := LoadOrDefault("/nonexistent/config.toml")
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.WebSocketURL() != "ws://localhost:8080/ws" {
		t.Errorf("WebSocketURL() = %q", cfg.WebSocketURL())
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("typing_ttl = \"soon\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadOrDefault(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"bad scheme", func(c *Config) { c.ServerURL = "ftp://x" }, true},
		{"relative ws path", func(c *Config) { c.WSPath = "ws" }, true},
		{"negative attempts", func(c *Config) { c.MaxReconnectAttempts = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
