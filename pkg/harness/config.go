// Copyright 2025 veridiff project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package harness

import (
	"fmt"
	"time"

	"github.com/veridiff/veridiff/pkg/config"
	"github.com/veridiff/veridiff/pkg/osutil"
)

const defaultArch = "x86_64"

// Target describes one version/implementation under comparison.
// The fields are opaque to the harness and are passed through to the
// execution collaborator, which owns booting and snapshot reverts.
type Target struct {
	// ID uniquely names the target within a campaign.
	ID string `json:"id"`
	// Version is a human-readable version label.
	Version string `json:"version"`
	// Image is the disk/state image reference.
	Image string `json:"image"`
	// Snapshot is the clean-state snapshot the target is reverted to
	// before every input.
	Snapshot string `json:"snapshot"`
	// Arch is the target architecture (defaults to x86_64).
	Arch string `json:"arch,omitempty"`
}

// Config describes one campaign.
type Config struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Targets     []Target `json:"targets"`

	// ExecTimeout is the per-target, per-input execution timeout in
	// seconds, enforced by the execution collaborator.
	ExecTimeout int `json:"exec_timeout,omitempty"`

	// WorkDir, if set, is where per-input working copies are staged.
	WorkDir string `json:"workdir,omitempty"`

	// MaxInputs bounds the campaign (0 = the whole corpus).
	MaxInputs int `json:"max_inputs,omitempty"`
}

const defaultExecTimeout = 60 * time.Second

func (cfg *Config) execTimeout() time.Duration {
	if cfg.ExecTimeout <= 0 {
		return defaultExecTimeout
	}
	return time.Duration(cfg.ExecTimeout) * time.Second
}

// LoadConfig reads and validates a campaign config file.
func LoadConfig(filename string) (*Config, error) {
	cfg := new(Config)
	if err := config.LoadFile(filename, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the config before any execution starts. Everything
// caught here is a configuration error that aborts the campaign.
func (cfg *Config) Validate() error {
	if cfg.Name == "" {
		return fmt.Errorf("campaign name is empty")
	}
	if len(cfg.Targets) < 2 {
		return fmt.Errorf("differential campaign needs at least 2 targets, got %v", len(cfg.Targets))
	}
	seen := make(map[string]bool)
	for i := range cfg.Targets {
		target := &cfg.Targets[i]
		if target.ID == "" {
			return fmt.Errorf("target #%v has empty id", i)
		}
		if seen[target.ID] {
			return fmt.Errorf("duplicate target id %q", target.ID)
		}
		seen[target.ID] = true
		if target.Version == "" {
			return fmt.Errorf("target %v has empty version", target.ID)
		}
		if target.Image == "" {
			return fmt.Errorf("target %v has empty image", target.ID)
		}
		if err := osutil.IsAccessible(target.Image); err != nil {
			return fmt.Errorf("target %v image does not exist: %w", target.ID, err)
		}
		if target.Snapshot == "" {
			return fmt.Errorf("target %v has empty snapshot name", target.ID)
		}
		if target.Arch == "" {
			target.Arch = defaultArch
		}
	}
	if cfg.WorkDir != "" {
		if err := osutil.MkdirAll(cfg.WorkDir); err != nil {
			return fmt.Errorf("failed to create workdir: %w", err)
		}
	}
	return nil
}

// TargetIDs returns the ordered target id list persisted with the campaign.
func (cfg *Config) TargetIDs() []string {
	ids := make([]string, len(cfg.Targets))
	for i, target := range cfg.Targets {
		ids[i] = target.ID
	}
	return ids
}
