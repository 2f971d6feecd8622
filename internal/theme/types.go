// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

// Package theme defines lighting themes and animated palettes.
//
// The JSON form is the copy/paste interchange format shared with hand-written
// and generated themes: instructions are arrays of six strings
// [fixtureId, hue, saturation, brightness, kelvin, durationMs]. Instructions
// are parsed into Instruction values at the boundary and never carried as
// strings past it.
package theme

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Source records how a theme was produced
type Source string

const (
	SourceGenerated Source = "generated"
	SourceImported  Source = "imported"
	SourceMusic     Source = "music"
	SourceManual    Source = "manual"
)

// Easing selects the progress curve of an animation
type Easing string

const (
	EaseLinear    Easing = "linear"
	EaseIn        Easing = "ease-in"
	EaseOut       Easing = "ease-out"
	EaseInOut     Easing = "ease-in-out"
	TypeAnimated         = "animated"
	instructionFields    = 6
)

var (
	ErrMalformedInstruction = errors.New("malformed instruction")
	ErrTooFewKeyframes      = errors.New("animated palette needs at least 2 keyframes")
	ErrInvalidDuration      = errors.New("animated palette needs a positive duration")
	ErrNotAnimated          = errors.New("theme is not an animated palette")
)

// RawInstruction is one wire-format instruction
type RawInstruction []string

// Theme is a named, ordered set of per-fixture instructions
type Theme struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Instructions  []RawInstruction `json:"instructions"`
	SpotifySongID string           `json:"spotifySongId,omitempty"`
	Category      string           `json:"category,omitempty"`
	Tags          []string         `json:"tags,omitempty"`
	IsFavorite    bool             `json:"isFavorite,omitempty"`
	CreatedAt     int64            `json:"createdAt,omitempty"` // unix ms
	Source        Source           `json:"source,omitempty"`
}

// RawKeyframe is a theme snapshot anchored at time (0-1) in the cycle
type RawKeyframe struct {
	Time         float64          `json:"time"`
	Instructions []RawInstruction `json:"instructions"`
}

// Palette is a Theme that may carry animation keyframes.
// A static theme is a Palette whose Type is empty.
type Palette struct {
	Theme
	Type      string        `json:"type,omitempty"`
	Keyframes []RawKeyframe `json:"keyframes,omitempty"`
	Duration  int64         `json:"duration,omitempty"` // cycle length in ms
	Easing    Easing        `json:"easing,omitempty"`
	Loop      bool          `json:"loop,omitempty"`
}

// IsAnimated reports whether the palette should run on the animation engine
func (p *Palette) IsAnimated() bool {
	return p.Type == TypeAnimated
}

// CycleDuration returns the palette cycle length
func (p *Palette) CycleDuration() time.Duration {
	return time.Duration(p.Duration) * time.Millisecond
}

// Instruction is a parsed, typed instruction
type Instruction struct {
	FixtureID  string        `json:"fixture"`
	Hue        float64       `json:"hue"`
	Saturation float64       `json:"saturation"`
	Brightness float64       `json:"brightness"`
	Kelvin     float64       `json:"kelvin"`
	Duration   time.Duration `json:"duration"`
}

// Keyframe is a parsed keyframe
type Keyframe struct {
	Time         float64
	Instructions []Instruction
}

// NewID returns a random opaque theme id
func NewID() string {
	return uuid.NewString()
}

// EnsureIdentity assigns an id and creation time when missing
func (t *Theme) EnsureIdentity(now time.Time) {
	if t.ID == "" {
		t.ID = NewID()
	}
	if t.CreatedAt == 0 {
		t.CreatedAt = now.UnixMilli()
	}
}
