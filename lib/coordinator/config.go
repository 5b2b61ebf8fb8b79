// Copyright (C) The Tessera Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ghodss/yaml"
)

// Duration is a time.Duration that marshals as a string like "10s".
type Duration time.Duration

// UnmarshalJSON parses a duration string.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalJSON renders the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Config is the coordinator service configuration, loaded from a
// YAML file at startup.
type Config struct {
	// Listen is the management API address, e.g. ":9090".
	Listen string `json:"Listen"`

	LogLevel  string `json:"LogLevel"`
	LogFormat string `json:"LogFormat"`

	// ResourceGroupsPath is the resource-groups configuration
	// file. If the file is absent the engine runs in legacy mode.
	ResourceGroupsPath string `json:"ResourceGroupsPath"`

	// RefreshInterval overrides the refresh loop interval. Zero
	// selects the default: 1ms single-coordinator, the state
	// fetch interval when multiple coordinators are enabled.
	RefreshInterval Duration `json:"RefreshInterval"`

	MultiCoordinator struct {
		Enabled bool `json:"Enabled"`

		// DSN of the Postgres database shared by all
		// coordinators.
		DSN string `json:"DSN"`

		// Coordinator is this process's identity in the shared
		// state table; must be unique per coordinator.
		Coordinator string `json:"Coordinator"`

		// StateFetchInterval paces cluster state refresh (and
		// the refresh loop) in multi-coordinator mode.
		StateFetchInterval Duration `json:"StateFetchInterval"`

		// StaleAfter ages out occupancy rows from coordinators
		// that stopped publishing.
		StaleAfter Duration `json:"StaleAfter"`
	} `json:"MultiCoordinator"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	cfg := &Config{
		Listen:             ":9090",
		LogLevel:           "info",
		LogFormat:          "json",
		ResourceGroupsPath: "/etc/tessera/resource-groups.yml",
	}
	cfg.MultiCoordinator.StateFetchInterval = Duration(time.Second)
	return cfg
}

// LoadConfig reads the service configuration file, applying defaults
// for anything unset. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	buf, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	} else if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("error decoding config %q: %v", path, err)
	}
	if cfg.MultiCoordinator.Enabled && cfg.MultiCoordinator.DSN == "" {
		return nil, fmt.Errorf("config %q: MultiCoordinator.Enabled requires MultiCoordinator.DSN", path)
	}
	return cfg, nil
}

// ManagerRefreshInterval returns the refresh interval the resource
// group manager should use for this configuration: an explicit
// override wins, then the state fetch interval in multi-coordinator
// mode, then the engine default.
func (cfg *Config) ManagerRefreshInterval() time.Duration {
	if cfg.RefreshInterval > 0 {
		return time.Duration(cfg.RefreshInterval)
	}
	if cfg.MultiCoordinator.Enabled {
		return time.Duration(cfg.MultiCoordinator.StateFetchInterval)
	}
	return 0
}
