// Package config loads cowtalk settings from an optional TOML file.
//
// Lookup order for the file:
//   - an explicit path (the --config flag)
//   - $COWTALK_CONFIG
//   - $XDG_CONFIG_HOME/cowtalk/config.toml (or ~/.config/cowtalk/config.toml)
//
// A missing file is not an error; defaults apply.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	// DefaultHost is where clients connect when no host is given.
	DefaultHost = "localhost"
	// DefaultPort is the TCP port shared by server and client.
	DefaultPort = 9999
	// EnvConfigPath overrides the config file location.
	EnvConfigPath = "COWTALK_CONFIG"

	appDirectoryName = "cowtalk"
	configFileName   = "config.toml"
)

// Config is the whole settings file.
type Config struct {
	Server ServerConfig `toml:"server"`
	Client ClientConfig `toml:"client"`
	Log    LogConfig    `toml:"log"`
}

// ServerConfig tunes the relay.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
	// ConnectTimeout bounds the wait for the first (connect) frame.
	ConnectTimeout time.Duration `toml:"connect_timeout"`
	// SendQueueSize is the per-session outbound frame buffer.
	SendQueueSize int `toml:"send_queue_size"`
	MaxFrameSize  int `toml:"max_frame_size"`
	// ActivitySize is how many activity lines the console keeps.
	ActivitySize int    `toml:"activity_size"`
	ActivityLog  string `toml:"activity_log"`
}

// ClientConfig tunes the terminal client.
type ClientConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
	// TypingInterval is the minimum gap between transmitted typing updates.
	TypingInterval time.Duration `toml:"typing_interval"`
	// TypingTimeout expires a peer's typing indicator.
	TypingTimeout time.Duration `toml:"typing_timeout"`
	// SendInterval is the minimum gap between submitted lines.
	SendInterval     time.Duration `toml:"send_interval"`
	HistorySize      int           `toml:"history_size"`
	RedrawTick       time.Duration `toml:"redraw_tick"`
	Decorator        string        `toml:"decorator"`
	DecoratorTimeout time.Duration `toml:"decorator_timeout"`
}

// LogConfig selects the zap level and an optional log file.
type LogConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           DefaultPort,
			ConnectTimeout: 30 * time.Second,
			SendQueueSize:  64,
			MaxFrameSize:   64 * 1024,
			ActivitySize:   200,
			ActivityLog:    "chat.log",
		},
		Client: ClientConfig{
			Host:             DefaultHost,
			Port:             DefaultPort,
			TypingInterval:   time.Second,
			TypingTimeout:    3 * time.Second,
			SendInterval:     500 * time.Millisecond,
			HistorySize:      100,
			RedrawTick:       250 * time.Millisecond,
			Decorator:        "cowsay",
			DecoratorTimeout: 2 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// ResolvePath returns the config file to read, or "" when none applies.
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if override := os.Getenv(EnvConfigPath); override != "" {
		return override
	}

	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, appDirectoryName, configFileName)
}

// Load reads the resolved config file over the defaults and validates it.
func Load(explicit string) (*Config, error) {
	cfg := Default()

	path := ResolvePath(explicit)
	if path == "" {
		return cfg, nil
	}
	if err := LoadTOML(cfg, path); err != nil {
		// Only an explicitly requested file has to exist.
		if errors.Is(err, fs.ErrNotExist) && explicit == "" {
			return cfg, cfg.Validate()
		}
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadTOML decodes path into cfg, keeping values the file does not set.
func LoadTOML(cfg *Config, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}
	return nil
}

// Validate rejects values the server or client cannot run with.
func (c *Config) Validate() error {
	if err := validatePort("server.port", c.Server.Port); err != nil {
		return err
	}
	if err := validatePort("client.port", c.Client.Port); err != nil {
		return err
	}

	positive := []struct {
		name  string
		value int64
	}{
		{"server.send_queue_size", int64(c.Server.SendQueueSize)},
		{"server.max_frame_size", int64(c.Server.MaxFrameSize)},
		{"server.activity_size", int64(c.Server.ActivitySize)},
		{"client.history_size", int64(c.Client.HistorySize)},
		{"client.typing_interval", int64(c.Client.TypingInterval)},
		{"client.typing_timeout", int64(c.Client.TypingTimeout)},
		{"client.send_interval", int64(c.Client.SendInterval)},
		{"client.redraw_tick", int64(c.Client.RedrawTick)},
		{"client.decorator_timeout", int64(c.Client.DecoratorTimeout)},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive", p.name)
		}
	}
	if c.Server.ConnectTimeout < 0 {
		return errors.New("server.connect_timeout must not be negative")
	}
	return nil
}

func validatePort(name string, port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("%s %d out of range", name, port)
	}
	return nil
}
