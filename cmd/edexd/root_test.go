package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.HasPrefix(out.String(), "edexd dev") {
		t.Fatalf("version output = %q", out.String())
	}
}

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "port: 9000\npoll_interval: 3s\nlog_level: debug\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	root := newRootCmd()
	if err := root.ParseFlags([]string{"--config", path, "--port", "9100"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	cfg, err := loadConfig(root)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Port != 9100 {
		t.Errorf("Port = %d, want 9100", cfg.Port)
	}
	if cfg.PollInterval != 3*time.Second {
		t.Errorf("PollInterval = %s, want 3s", cfg.PollInterval)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestLoadConfigRejectsInvalidFlag(t *testing.T) {
	root := newRootCmd()
	path := filepath.Join(t.TempDir(), "missing.yaml")
	if err := root.ParseFlags([]string{"--config", path, "--scrollback", "0"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if _, err := loadConfig(root); err == nil {
		t.Fatal("expected validation error for zero scrollback")
	}
}

func TestArchiveCommandRequiresPath(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"archive", "--config", filepath.Join(t.TempDir(), "none.yaml")})
	if err := root.Execute(); err == nil {
		t.Fatal("expected error without archive path")
	}
}

func TestConfigInitWritesExample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edexd", "config.yaml")

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"config", "init", "--config", path})
	if err := root.Execute(); err != nil {
		t.Fatalf("config init error = %v", err)
	}

	root = newRootCmd()
	if err := root.ParseFlags([]string{"--config", path}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	cfg, err := loadConfig(root)
	if err != nil {
		t.Fatalf("loadConfig() on example error = %v", err)
	}
	if cfg.Port != 8765 || cfg.PollInterval != 1500*time.Millisecond {
		t.Fatalf("example config = %+v", cfg)
	}

	again := newRootCmd()
	again.SetOut(&bytes.Buffer{})
	again.SetErr(&bytes.Buffer{})
	again.SetArgs([]string{"config", "init", "--config", path})
	if err := again.Execute(); err == nil {
		t.Fatal("expected error when config already exists")
	}
}
