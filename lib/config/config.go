// Copyright 2026 The Rigbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for rigbridge.
//
// Configuration is loaded from a single YAML file specified by:
//   - RIGBRIDGE_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery; the defaults in
// Default() apply only for fields the file leaves unset. Session
// limits, command timeouts, and snapshot persistence are deliberate
// configuration points; the protocol layer never infers them.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for a rigbridge server.
type Config struct {
	// Server configures the transport listener.
	Server ServerConfig `yaml:"server"`

	// Bridge configures the host bridge queue.
	Bridge BridgeConfig `yaml:"bridge"`

	// Snapshot configures scene tracker persistence.
	Snapshot SnapshotConfig `yaml:"snapshot"`

	// Rig configures the semantic feature layer.
	Rig RigConfig `yaml:"rig"`

	// Simhost configures the simulated host used by standalone mode.
	Simhost SimhostConfig `yaml:"simhost"`
}

// ServerConfig configures the transport listener.
type ServerConfig struct {
	// Network is "tcp" or "unix".
	Network string `yaml:"network"`

	// Listen is the TCP address (e.g. "127.0.0.1:9876") or Unix
	// socket path. Use ":0" to bind a random TCP port.
	Listen string `yaml:"listen"`

	// MaxSessions bounds concurrent agent sessions. Connections past
	// the limit are answered with a connection error and closed.
	// 0 means unlimited.
	MaxSessions int `yaml:"max_sessions"`
}

// BridgeConfig configures the host bridge queue.
type BridgeConfig struct {
	// CommandTimeout bounds how long a command waits for the host to
	// drain its queue before failing with "timeout".
	CommandTimeout Duration `yaml:"command_timeout"`

	// QueueCapacity bounds pending operations. Submissions past the
	// limit fail immediately instead of growing without bound while
	// the host stalls.
	QueueCapacity int `yaml:"queue_capacity"`
}

// SnapshotConfig configures scene tracker persistence across
// restarts. Whether tracker state should survive a host asset reload
// is the operator's call; persistence is off unless a path is set.
type SnapshotConfig struct {
	// Path is the snapshot file location. Empty disables persistence.
	Path string `yaml:"path"`
}

// RigConfig configures the semantic feature layer.
type RigConfig struct {
	// Profile selects the bone alias map ("metahuman", "rigify",
	// "generic").
	Profile string `yaml:"profile"`

	// FeatureMap optionally overrides the built-in feature map with a
	// YAML file.
	FeatureMap string `yaml:"feature_map"`

	// Presets optionally overrides the built-in presets with a YAML
	// file.
	Presets string `yaml:"presets"`
}

// SimhostConfig configures the simulated host for standalone mode.
type SimhostConfig struct {
	// RigFile is a JSONC rig definition. Empty uses the built-in
	// default face rig.
	RigFile string `yaml:"rig_file"`

	// TickInterval is the simulated per-frame drain cadence.
	TickInterval Duration `yaml:"tick_interval"`
}

// Duration is a time.Duration that unmarshals from YAML strings like
// "15s" or "50ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var text string
	if err := node.Decode(&text); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the default configuration, used as the base before
// the config file is merged in.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Network:     "tcp",
			Listen:      "127.0.0.1:9876",
			MaxSessions: 8,
		},
		Bridge: BridgeConfig{
			CommandTimeout: Duration(15 * time.Second),
			QueueCapacity:  64,
		},
		Rig: RigConfig{
			Profile: "generic",
		},
		Simhost: SimhostConfig{
			TickInterval: Duration(50 * time.Millisecond),
		},
	}
}

// Load loads configuration from the RIGBRIDGE_CONFIG environment
// variable. Fails when the variable is unset; there is no implicit
// search path.
func Load() (*Config, error) {
	path := os.Getenv("RIGBRIDGE_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("RIGBRIDGE_CONFIG environment variable not set; " +
			"set it to the path of your rigbridge.yaml, or use --config")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path, merged over
// Default().
func LoadFile(path string) (*Config, error) {
	configuration := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, configuration); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := configuration.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return configuration, nil
}

// Validate checks the configuration, collecting every error rather
// than stopping at the first.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Network != "tcp" && c.Server.Network != "unix" {
		errs = append(errs, fmt.Errorf("server.network must be tcp or unix, got %q", c.Server.Network))
	}
	if c.Server.Listen == "" {
		errs = append(errs, fmt.Errorf("server.listen is required"))
	}
	if c.Server.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("server.max_sessions must be >= 0"))
	}
	if c.Bridge.CommandTimeout <= 0 {
		errs = append(errs, fmt.Errorf("bridge.command_timeout must be positive"))
	}
	if c.Bridge.QueueCapacity <= 0 {
		errs = append(errs, fmt.Errorf("bridge.queue_capacity must be positive"))
	}
	if c.Simhost.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("simhost.tick_interval must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
