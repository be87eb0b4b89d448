// Package config loads and validates the host configuration, composing the
// settings each subsystem exposes.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/alekspetrov/warden/internal/approval"
	"github.com/alekspetrov/warden/internal/cliadapter"
	"github.com/alekspetrov/warden/internal/executor"
	"github.com/alekspetrov/warden/internal/gateway"
	"github.com/alekspetrov/warden/internal/logging"
	"github.com/alekspetrov/warden/internal/pipeline"
	"github.com/alekspetrov/warden/internal/store"
	"github.com/alekspetrov/warden/internal/supervisor"
	"github.com/alekspetrov/warden/internal/termpool"
)

// Config represents the main configuration.
type Config struct {
	Version    string                                      `yaml:"version"`
	Logging    *logging.Config                             `yaml:"logging"`
	Pool       *termpool.Config                            `yaml:"pool"`
	Tools      map[cliadapter.CLIType]*cliadapter.ToolConfig `yaml:"tools"`
	Approval   *approval.Config                            `yaml:"approval"`
	Executor   *executor.Config                            `yaml:"executor"`
	Supervisor *supervisor.Config                          `yaml:"supervisor"`
	Pipeline   *pipeline.Config                            `yaml:"pipeline"`
	Store      *store.Config                               `yaml:"store"`
	Gateway    *gateway.Config                             `yaml:"gateway"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version:    "1.0",
		Logging:    logging.DefaultConfig(),
		Pool:       termpool.DefaultConfig(),
		Tools:      map[cliadapter.CLIType]*cliadapter.ToolConfig{},
		Approval:   approval.DefaultConfig(),
		Executor:   executor.DefaultConfig(),
		Supervisor: supervisor.DefaultConfig(),
		Pipeline:   pipeline.DefaultConfig(),
		Store:      store.DefaultConfig(),
		Gateway:    gateway.DefaultConfig(),
	}
}

// Load loads configuration from a file, applying defaults for anything the
// file leaves out. A missing file returns pure defaults.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if config.Store != nil {
		config.Store.Path = expandPath(config.Store.Path)
	}
	if config.Supervisor != nil {
		config.Supervisor.Workdir = expandPath(config.Supervisor.Workdir)
	}

	return config, nil
}

// Save saves configuration to a file.
func Save(config *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// DefaultConfigPath returns the default configuration path.
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".warden", "config.yaml")
}

// expandPath expands ~ to the home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Pool == nil {
		return fmt.Errorf("pool configuration is required")
	}
	if c.Pool.Capacity < 1 {
		return fmt.Errorf("invalid pool capacity: %d", c.Pool.Capacity)
	}
	if c.Gateway == nil {
		return fmt.Errorf("gateway configuration is required")
	}
	if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
		return fmt.Errorf("invalid gateway port: %d", c.Gateway.Port)
	}
	for cli := range c.Tools {
		if !cli.Valid() {
			return fmt.Errorf("unknown CLI type in tools: %q", cli)
		}
	}
	if c.Pipeline != nil {
		if !c.Pipeline.CLI.Valid() {
			return fmt.Errorf("invalid pipeline CLI type: %q", c.Pipeline.CLI)
		}
		if c.Pipeline.MaxFixIterations < 0 {
			return fmt.Errorf("invalid max fix iterations: %d", c.Pipeline.MaxFixIterations)
		}
	}
	if c.Supervisor != nil && c.Supervisor.HeartbeatIntervalSecs < 1 {
		return fmt.Errorf("invalid heartbeat interval: %d", c.Supervisor.HeartbeatIntervalSecs)
	}
	return nil
}

// Registry builds an adapter registry from the configured tool overrides.
func (c *Config) Registry() *cliadapter.Registry {
	registry := cliadapter.NewRegistry()
	for cli, tool := range c.Tools {
		registry.Override(cli, tool)
	}
	return registry
}
