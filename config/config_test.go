package config

import (
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		User:          "user@example.com",
		Pass:          "secret",
		OutDir:        "/tmp/mail",
		Host:          "imap.gmail.com",
		Port:          993,
		Mailbox:       "INBOX",
		MaxConcurrent: 5,
		BatchSize:     10,
		LaunchDelay:   50 * time.Millisecond,
		Timeout:       2 * time.Minute,
		LogLevel:      "info",
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"missing user", func(c *Config) { c.User = "" }, true},
		{"user without at sign", func(c *Config) { c.User = "userexample.com" }, true},
		{"missing pass", func(c *Config) { c.Pass = "" }, true},
		{"missing out dir", func(c *Config) { c.OutDir = "" }, true},
		{"missing host", func(c *Config) { c.Host = "" }, true},
		{"port zero", func(c *Config) { c.Port = 0 }, true},
		{"port too high", func(c *Config) { c.Port = 70000 }, true},
		{"missing mailbox", func(c *Config) { c.Mailbox = "" }, true},
		{"zero concurrency", func(c *Config) { c.MaxConcurrent = 0 }, true},
		{"negative concurrency", func(c *Config) { c.MaxConcurrent = -1 }, true},
		{"zero batch size", func(c *Config) { c.BatchSize = 0 }, true},
		{"negative launch delay", func(c *Config) { c.LaunchDelay = -time.Second }, true},
		{"negative timeout", func(c *Config) { c.Timeout = -time.Second }, true},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, true},
		{"mixed filter modes", func(c *Config) {
			c.IncludeHeader = []string{"a"}
			c.ExcludeBody = []string{"b"}
		}, true},
		{"include only", func(c *Config) { c.IncludeHeader = []string{"a"} }, false},
		{"exclude only", func(c *Config) { c.ExcludeBody = []string{"b"} }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := Validate(cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadDiscoveryConfigSkipsDestination(t *testing.T) {
	// Discovery-only commands save nothing, so --out must be neither
	// prompted for nor required.
	cmd := &cobra.Command{Use: "count"}
	RegisterFlags(cmd)
	require.NoError(t, cmd.Flags().Set("user", "user@example.com"))
	require.NoError(t, cmd.Flags().Set("pass", "secret"))

	cfg, err := LoadDiscoveryConfig(cmd)
	require.NoError(t, err)
	assert.Empty(t, cfg.OutDir)

	// The fetch path still insists on a destination.
	assert.Error(t, Validate(cfg))
}

func TestLoadDiscoveryConfigKeepsExplicitDestination(t *testing.T) {
	cmd := &cobra.Command{Use: "count"}
	RegisterFlags(cmd)
	require.NoError(t, cmd.Flags().Set("user", "user@example.com"))
	require.NoError(t, cmd.Flags().Set("pass", "secret"))
	require.NoError(t, cmd.Flags().Set("out", "mail//archive/"))

	cfg, err := LoadDiscoveryConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "mail/archive", cfg.OutDir)
}
