// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package lights

import (
	"time"

	"lighting-engine/internal/fixture"
)

// DefaultKelvin is reported for fixtures that were never commanded
const DefaultKelvin = 3500

// FixtureState is the last commanded (post-curve) state of a fixture.
// It approximates hardware: it is never invalidated by external changes.
type FixtureState struct {
	Hue        float64 `json:"hue"`
	Saturation float64 `json:"saturation"`
	Brightness int     `json:"brightness"`
	Kelvin     int     `json:"kelvin"`
	Power      bool    `json:"power"`
}

// FixtureStatus combines a definition with its cached state
type FixtureStatus struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	Label   string `json:"label"`
	Cached  bool   `json:"cached"` // false = never commanded, defaults reported
	FixtureState
}

// BrightnessEntry is a pre-curve fixture state used to re-derive hardware
// brightness when the master dimmer changes
type BrightnessEntry struct {
	ID         string   `json:"id"`
	Hue        float64  `json:"hue"`
	Saturation float64  `json:"saturation"`
	Brightness float64  `json:"brightness"` // logical 0-100, before curves
	Kelvin     float64  `json:"kelvin"`
	Group      *float64 `json:"group_brightness,omitempty"` // nil = no group dimming
}

// ApplyResult reports what happened to a batch of instructions
type ApplyResult struct {
	Applied int      `json:"applied"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors,omitempty"`
}

// cacheEntry is the internal cache record
type cacheEntry struct {
	state   FixtureState
	logical BrightnessEntry
	colored bool // false for entries only touched by power commands
	updated time.Time
}

// StateUpdate is the single event type sent to subscribers
type StateUpdate struct {
	Type     string                  `json:"type"` // always "state"
	Master   float64                 `json:"master"`
	Fixtures map[string]FixtureState `json:"fixtures"`
}

// InitMessage is sent once to new WebSocket clients
type InitMessage struct {
	Type     string               `json:"type"` // "init"
	Master   float64              `json:"master"`
	Fixtures []fixture.Definition `json:"fixtures"`
	Groups   []*fixture.Group     `json:"groups"`
	States   []FixtureStatus      `json:"states"`
}

