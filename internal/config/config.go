// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, applies defaults and validates it
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for missing config
func (c *Config) applyDefaults() {
	if c.Server.HTTP == "" {
		c.Server.HTTP = ":8080"
	}
	if c.Transport.Type == "" {
		c.Transport.Type = TransportLog
	}
	if c.Transport.TimeoutMs == 0 {
		c.Transport.TimeoutMs = 500
	}
	if c.Transport.QueueSize == 0 {
		c.Transport.QueueSize = 256
	}
	if c.Transport.MaxTransitionMs == 0 {
		c.Transport.MaxTransitionMs = 5000
	}
	if c.State.ThrottleMs == 0 {
		c.State.ThrottleMs = 100
	}
	if c.Animation.IntervalMs == 0 {
		c.Animation.IntervalMs = 33
	}
	if c.Animation.DefaultBrightness == 0 {
		c.Animation.DefaultBrightness = 0.5
	}
	if c.MQTT != nil && c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "lights"
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if len(c.Fixtures) == 0 {
		return fmt.Errorf("no fixtures defined")
	}

	switch c.Transport.Type {
	case TransportLog:
	case TransportExec:
		if c.Transport.Command == "" {
			return fmt.Errorf("exec transport requires a command")
		}
	case TransportMQTT:
		if c.MQTT == nil {
			return fmt.Errorf("mqtt transport requires an mqtt section")
		}
	default:
		return fmt.Errorf("unknown transport type %q", c.Transport.Type)
	}

	if b := c.Animation.DefaultBrightness; b < 0 || b > 1 {
		return fmt.Errorf("animation default_brightness %v out of range (0-1)", b)
	}

	ids := make(map[string]struct{}, len(c.Fixtures))
	addresses := make(map[string]string, len(c.Fixtures))

	for i, f := range c.Fixtures {
		if f.ID == "" {
			return fmt.Errorf("fixture %d missing id", i)
		}
		if f.Address == "" {
			return fmt.Errorf("fixture %q missing address", f.ID)
		}
		if _, ok := ids[f.ID]; ok {
			return fmt.Errorf("duplicate fixture id %q", f.ID)
		}
		if existing, ok := addresses[f.Address]; ok {
			return fmt.Errorf("address %s used by both %q and %q", f.Address, existing, f.ID)
		}
		ids[f.ID] = struct{}{}
		addresses[f.Address] = f.ID
	}

	for name, g := range c.Groups {
		if len(g.Fixtures) == 0 {
			return fmt.Errorf("group %q has no fixtures", name)
		}
		for _, id := range g.Fixtures {
			if _, ok := ids[id]; !ok {
				return fmt.Errorf("group %q: unknown fixture %q", name, id)
			}
		}
		if g.Brightness != nil && (*g.Brightness < 0 || *g.Brightness > 1) {
			return fmt.Errorf("group %q: brightness %v out of range (0-1)", name, *g.Brightness)
		}
	}

	if c.Schedule != nil {
		for i, e := range c.Schedule.Events {
			if e.Time == "" {
				return fmt.Errorf("schedule event %d missing time", i)
			}
			if e.Theme == "" && e.Brightness == nil && e.Power == nil {
				return fmt.Errorf("schedule event %d (%s) has no action", i, e.Time)
			}
		}
	}

	return nil
}

// GroupNames returns all group names, sorted
func (c *Config) GroupNames() []string {
	names := make([]string, 0, len(c.Groups))
	for name := range c.Groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Interval returns the animation tick interval
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Animation.IntervalMs) * time.Millisecond
}

// MaxTransition returns the longest transition sent to a fixture
func (c *Config) MaxTransition() time.Duration {
	return time.Duration(c.Transport.MaxTransitionMs) * time.Millisecond
}
