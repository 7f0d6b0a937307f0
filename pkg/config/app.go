package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/stagecast/stagecast/pkg/telemetry"
)

// AppConfig is the application configuration loaded from stagecast.yaml.
// Sections that are absent keep their defaults.
type AppConfig struct {
	// Environment is the default stage environment for passes.
	Environment string `yaml:"environment" validate:"required"`

	// Inventory is the path to the host inventory file.
	Inventory string `yaml:"inventory" validate:"required"`

	// PolicyDir is the directory of Rego policies gating stage documents.
	// Empty disables policy gating.
	PolicyDir string `yaml:"policy_dir"`

	// Store configures pass-history persistence.
	Store StoreConfig `yaml:"store"`

	// SSH configures fleet dispatch defaults.
	SSH SSHDefaults `yaml:"ssh"`

	// Logging configures structured logging.
	Logging telemetry.LoggingConfig `yaml:"logging"`

	// Tracing configures distributed tracing.
	Tracing telemetry.TracingConfig `yaml:"tracing"`

	// Metrics configures Prometheus metrics.
	Metrics telemetry.MetricsConfig `yaml:"metrics"`
}

// StoreConfig configures the pass history store.
type StoreConfig struct {
	// Enabled controls whether passes are recorded.
	Enabled bool `yaml:"enabled"`

	// Path is the SQLite database path. ":memory:" keeps history only for
	// the process lifetime.
	Path string `yaml:"path"`
}

// SSHDefaults carries fleet-wide SSH settings applied to hosts that do not
// override them in the inventory.
type SSHDefaults struct {
	// User is the default login user.
	User string `yaml:"user"`

	// Port is the default SSH port.
	Port int `yaml:"port" validate:"min=0,max=65535"`

	// PrivateKeyPath is the default private key. Empty triggers default
	// key discovery.
	PrivateKeyPath string `yaml:"private_key_path"`

	// KnownHostsPath overrides the known_hosts file location.
	KnownHostsPath string `yaml:"known_hosts_path"`

	// StrictHostKeyChecking rejects unknown host keys when true.
	StrictHostKeyChecking bool `yaml:"strict_host_key_checking"`

	// ConnectTimeout bounds connection establishment.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// ExecTimeout bounds a single remote command.
	ExecTimeout time.Duration `yaml:"exec_timeout"`

	// RunnerPath is where the stage-runner agent is uploaded on targets.
	RunnerPath string `yaml:"runner_path"`
}

// DefaultAppConfig returns the built-in application configuration.
func DefaultAppConfig() *AppConfig {
	tel := telemetry.DefaultConfig()
	return &AppConfig{
		Environment: "base",
		Inventory:   "hosts.yaml",
		Store: StoreConfig{
			Enabled: true,
			Path:    "stagecast.db",
		},
		SSH: SSHDefaults{
			User:                  "root",
			Port:                  22,
			StrictHostKeyChecking: false,
			ConnectTimeout:        15 * time.Second,
			ExecTimeout:           5 * time.Minute,
			RunnerPath:            "/tmp/stage-runner",
		},
		Logging: tel.Logging,
		Tracing: tel.Tracing,
		Metrics: tel.Metrics,
	}
}

// LoadAppConfig reads stagecast.yaml from the given path, layering it over
// the defaults and validating the result. A missing file yields the
// defaults.
func LoadAppConfig(path string) (*AppConfig, error) {
	cfg := DefaultAppConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration with struct tags plus the telemetry
// section validators.
func (c *AppConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	tel := c.TelemetryConfig("dev")
	return tel.Validate()
}

// TelemetryConfig assembles the telemetry configuration from the app
// config sections.
func (c *AppConfig) TelemetryConfig(version string) *telemetry.Config {
	tel := telemetry.DefaultConfig()
	tel.ServiceVersion = version
	tel.Logging = c.Logging
	tel.Tracing = c.Tracing
	tel.Metrics = c.Metrics
	return tel
}
