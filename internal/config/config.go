package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port  int    `yaml:"port"`
	Bind  string `yaml:"bind"`
	Token string `yaml:"token"`

	Shell   string `yaml:"shell,omitempty"`
	WorkDir string `yaml:"work_dir,omitempty"`

	FlushDelay      time.Duration `yaml:"flush_delay"`
	ScrollbackLines int           `yaml:"scrollback_lines"`

	PollInterval  time.Duration `yaml:"poll_interval"`
	SampleTimeout time.Duration `yaml:"sample_timeout"`

	ArchivePath      string        `yaml:"archive_path,omitempty"`
	ArchiveRetention time.Duration `yaml:"archive_retention"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json,omitempty"`

	ConfigPath string `yaml:"-"`
	PrintToken bool   `yaml:"-"`
}

func Default() *Config {
	return &Config{
		Port:             8765,
		Bind:             "127.0.0.1",
		FlushDelay:       16 * time.Millisecond,
		ScrollbackLines:  1000,
		PollInterval:     1500 * time.Millisecond,
		SampleTimeout:    5 * time.Second,
		ArchiveRetention: 24 * time.Hour,
		LogLevel:         "info",
	}
}

// DefaultPath returns ~/.config/edexd/config.yaml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "edexd", "config.yaml"), nil
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	cfg.ConfigPath = path

	if err := cfg.loadFromFile(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	return cfg, nil
}

// RegisterFlags defines the command-line overrides on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("config", "", "config file (default ~/.config/edexd/config.yaml)")
	fs.Int("port", d.Port, "server port (1-65535)")
	fs.String("bind", d.Bind, "listen address")
	fs.String("token", "", "authentication token (auto-generated if empty)")
	fs.Bool("print-token", false, "print token to stdout (for local debugging)")
	fs.String("shell", "", "shell command line (platform default if empty)")
	fs.String("work-dir", "", "working directory for new shells (home if empty)")
	fs.Duration("flush-delay", d.FlushDelay, "output debounce delay")
	fs.Int("scrollback", d.ScrollbackLines, "records retained per session")
	fs.Duration("poll-interval", d.PollInterval, "telemetry polling interval")
	fs.Duration("sample-timeout", d.SampleTimeout, "timeout for one telemetry sample")
	fs.String("archive", "", "SQLite telemetry archive path (disabled if empty)")
	fs.Duration("archive-retention", d.ArchiveRetention, "how long archived samples are kept")
	fs.String("log-level", d.LogLevel, "log level (debug, info, warn, error)")
	fs.Bool("log-json", false, "emit JSON logs")
}

// ApplyFlags copies every flag the user set explicitly onto c, so flags win
// over the file and the file wins over defaults.
func (c *Config) ApplyFlags(fs *pflag.FlagSet) error {
	var err error
	set := func(name string, apply func() error) {
		if err == nil && fs.Changed(name) {
			err = apply()
		}
	}

	set("port", func() (e error) { c.Port, e = fs.GetInt("port"); return })
	set("bind", func() (e error) { c.Bind, e = fs.GetString("bind"); return })
	set("token", func() (e error) { c.Token, e = fs.GetString("token"); return })
	set("print-token", func() (e error) { c.PrintToken, e = fs.GetBool("print-token"); return })
	set("shell", func() (e error) { c.Shell, e = fs.GetString("shell"); return })
	set("work-dir", func() (e error) { c.WorkDir, e = fs.GetString("work-dir"); return })
	set("flush-delay", func() (e error) { c.FlushDelay, e = fs.GetDuration("flush-delay"); return })
	set("scrollback", func() (e error) { c.ScrollbackLines, e = fs.GetInt("scrollback"); return })
	set("poll-interval", func() (e error) { c.PollInterval, e = fs.GetDuration("poll-interval"); return })
	set("sample-timeout", func() (e error) { c.SampleTimeout, e = fs.GetDuration("sample-timeout"); return })
	set("archive", func() (e error) { c.ArchivePath, e = fs.GetString("archive"); return })
	set("archive-retention", func() (e error) { c.ArchiveRetention, e = fs.GetDuration("archive-retention"); return })
	set("log-level", func() (e error) { c.LogLevel, e = fs.GetString("log-level"); return })
	set("log-json", func() (e error) { c.LogJSON, e = fs.GetBool("log-json"); return })

	if err != nil {
		return fmt.Errorf("failed to read flags: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", c.Port)
	}
	if c.FlushDelay <= 0 {
		return fmt.Errorf("invalid flush_delay %s: must be positive", c.FlushDelay)
	}
	if c.ScrollbackLines <= 0 {
		return fmt.Errorf("invalid scrollback_lines %d: must be positive", c.ScrollbackLines)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("invalid poll_interval %s: must be positive", c.PollInterval)
	}
	if c.SampleTimeout <= 0 {
		return fmt.Errorf("invalid sample_timeout %s: must be positive", c.SampleTimeout)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// EnsureToken generates and persists a token when none is configured.
func (c *Config) EnsureToken() error {
	if c.Token != "" {
		return nil
	}
	token, err := generateToken()
	if err != nil {
		return fmt.Errorf("failed to generate token: %w", err)
	}
	c.Token = token
	if err := c.saveToFile(); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}

// SlogLevel returns the configured level. Validate rejects unknown names.
func (c *Config) SlogLevel() slog.Level {
	level, _ := parseLevel(c.LogLevel)
	return level
}

func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Bind, c.Port)
}

func parseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("invalid log_level %q", name)
}

func (c *Config) loadFromFile() error {
	data, err := os.ReadFile(c.ConfigPath)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %w", c.ConfigPath, err)
	}
	return nil
}

func (c *Config) saveToFile() error {
	dir := filepath.Dir(c.ConfigPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.ConfigPath, data, 0600)
}

func generateToken() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
