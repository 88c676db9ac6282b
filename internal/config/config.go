// Package config reads and writes the global ~/.nexus/config.toml.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Defaults applied to keys missing from the file.
const (
	DefaultServerURL      = "http://localhost:8080"
	DefaultAPIPath        = "/api"
	DefaultWSPath         = "/ws"
	DefaultProfile        = "main"
	DefaultBaseDelay      = 3 * time.Second
	DefaultMaxAttempts    = 5
	DefaultTypingTTL      = 6 * time.Second
	DefaultContactsTopic  = "/user/queue/contacts"
	DefaultChatsTopic     = "/user/queue/chats"
	DefaultHistoryPageLen = 50
)

// Duration is a time.Duration written as a Go duration string ("3s").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config represents the global ~/.nexus/config.toml.
type Config struct {
	ServerURL            string   `toml:"server_url"`
	APIPath              string   `toml:"api_path"`
	WSPath               string   `toml:"ws_path"`
	ContactsTopic        string   `toml:"contacts_topic"`
	ChatsTopic           string   `toml:"chats_topic"`
	ReconnectBaseDelay   Duration `toml:"reconnect_base_delay"`
	MaxReconnectAttempts int      `toml:"max_reconnect_attempts"`
	ReplaySubscriptions  *bool    `toml:"replay_subscriptions"`
	TypingTTL            Duration `toml:"typing_ttl"`
	HistoryPageSize      int      `toml:"history_page_size"`
	DefaultProfile       string   `toml:"default_profile"`
}

// Default returns a config with every key set to its default.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// LoadOrDefault reads path, falling back to defaults when the file does not
// exist. Any other read or parse error is returned.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyDefaults fills every unset key.
func (c *Config) ApplyDefaults() {
	setString(&c.ServerURL, DefaultServerURL)
	setString(&c.APIPath, DefaultAPIPath)
	setString(&c.WSPath, DefaultWSPath)
	setString(&c.ContactsTopic, DefaultContactsTopic)
	setString(&c.ChatsTopic, DefaultChatsTopic)
	setString(&c.DefaultProfile, DefaultProfile)
	if c.ReconnectBaseDelay.Duration == 0 {
		c.ReconnectBaseDelay.Duration = DefaultBaseDelay
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = DefaultMaxAttempts
	}
	if c.ReplaySubscriptions == nil {
		replay := true
		c.ReplaySubscriptions = &replay
	}
	if c.TypingTTL.Duration == 0 {
		c.TypingTTL.Duration = DefaultTypingTTL
	}
	if c.HistoryPageSize == 0 {
		c.HistoryPageSize = DefaultHistoryPageLen
	}
}

// Validate reports the first invalid key.
func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("server_url %q: must be an http(s) URL", c.ServerURL)
	}
	for key, p := range map[string]string{"api_path": c.APIPath, "ws_path": c.WSPath} {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("%s %q: must start with /", key, p)
		}
	}
	if c.ReconnectBaseDelay.Duration < 0 {
		return fmt.Errorf("reconnect_base_delay: must not be negative")
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max_reconnect_attempts: must not be negative")
	}
	if c.TypingTTL.Duration < 0 {
		return fmt.Errorf("typing_ttl: must not be negative")
	}
	return nil
}

// Replay reports whether lazily subscribed topics are replayed on reconnect.
func (c *Config) Replay() bool {
	return c.ReplaySubscriptions == nil || *c.ReplaySubscriptions
}

// APIURL is the REST base URL.
func (c *Config) APIURL() string {
	return strings.TrimRight(c.ServerURL, "/") + c.APIPath
}

// WebSocketURL is the channel endpoint, with the scheme switched to ws(s).
func (c *Config) WebSocketURL() string {
	base := strings.TrimRight(c.ServerURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + c.WSPath
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

func setString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}
