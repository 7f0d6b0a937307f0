package ssh

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTestKey(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "id_test")
	// Contents are only checked at BuildClientConfig time; Validate just
	// stats the path.
	if err := os.WriteFile(path, []byte("not a real key"), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestConfigValidate(t *testing.T) {
	keyPath := writeTestKey(t)

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid key auth", func(c *Config) { c.PrivateKeyPath = keyPath }, false},
		{"valid password auth", func(c *Config) {
			c.AuthMethod = AuthMethodPassword
			c.Password = "secret"
		}, false},
		{"missing host", func(c *Config) { c.Host = ""; c.PrivateKeyPath = keyPath }, true},
		{"missing user", func(c *Config) { c.User = ""; c.PrivateKeyPath = keyPath }, true},
		{"bad port", func(c *Config) { c.Port = 70000; c.PrivateKeyPath = keyPath }, true},
		{"password auth without password", func(c *Config) { c.AuthMethod = AuthMethodPassword }, true},
		{"missing key file", func(c *Config) { c.PrivateKeyPath = "/nonexistent/key" }, true},
		{"unknown auth method", func(c *Config) { c.AuthMethod = "kerberos" }, true},
		{"zero connect timeout", func(c *Config) {
			c.PrivateKeyPath = keyPath
			c.ConnectTimeout = 0
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("example.com", "deploy")
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("db1", "root")
	if cfg.Port != 22 {
		t.Errorf("Port = %d, want 22", cfg.Port)
	}
	if cfg.AuthMethod != AuthMethodKey {
		t.Errorf("AuthMethod = %s, want key", cfg.AuthMethod)
	}
	if !cfg.StrictHostKeyChecking {
		t.Error("StrictHostKeyChecking = false")
	}
	if cfg.ConnectTimeout != 30*time.Second {
		t.Errorf("ConnectTimeout = %v", cfg.ConnectTimeout)
	}
	if cfg.Address() != "db1:22" {
		t.Errorf("Address() = %s", cfg.Address())
	}
}

func TestTransportError(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := &TransportError{Op: "connect", Err: cause, IsTemporary: true}

	if err.Error() != "connect: connection refused" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is() did not unwrap the cause")
	}
	if !err.Temporary() {
		t.Error("Temporary() = false")
	}
}

func TestClientRequiresConnect(t *testing.T) {
	keyPath := writeTestKey(t)
	cfg := DefaultConfig("example.com", "deploy")
	cfg.PrivateKeyPath = keyPath

	c, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true before Connect")
	}

	var terr *TransportError
	if _, _, _, err := c.Exec(context.Background(), "true"); !errors.As(err, &terr) {
		t.Errorf("Exec() error = %v, want TransportError", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v", err)
	}
}

func TestNewClientRejectsInvalidConfig(t *testing.T) {
	if _, err := NewClient(&Config{}); err == nil {
		t.Fatal("NewClient() accepted an empty config")
	}
}
