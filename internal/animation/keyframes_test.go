// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package animation

import (
	"math"
	"testing"
	"time"

	"lighting-engine/internal/theme"
)

func kf(t float64, ins ...theme.Instruction) theme.Keyframe {
	return theme.Keyframe{Time: t, Instructions: ins}
}

func in(id string, hue, bri float64) theme.Instruction {
	return theme.Instruction{
		FixtureID:  id,
		Hue:        hue,
		Saturation: 100,
		Brightness: bri,
		Kelvin:     3500,
		Duration:   800 * time.Millisecond,
	}
}

func almost(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestEase(t *testing.T) {
	tests := []struct {
		easing theme.Easing
		in     float64
		want   float64
	}{
		{theme.EaseLinear, 0.3, 0.3},
		{"", 0.3, 0.3},
		{theme.EaseIn, 0.5, 0.25},
		{theme.EaseOut, 0.5, 0.75},
		{theme.EaseInOut, 0.25, 0.125},
		{theme.EaseInOut, 0.75, 0.875},
		{theme.EaseInOut, 0.5, 0.5},
	}

	for _, tt := range tests {
		if got := ease(tt.in, tt.easing); !almost(got, tt.want) {
			t.Errorf("ease(%v, %q) = %v, want %v", tt.in, tt.easing, got, tt.want)
		}
	}
}

func TestFindKeyframes(t *testing.T) {
	tests := []struct {
		name     string
		times    []float64
		progress float64
		from, to int
		localT   float64
	}{
		{"wraparound", []float64{0, 0.5}, 0.75, 1, 0, 0.5},
		{"exact hit", []float64{0, 0.5}, 0.5, 1, 0, 0},
		{"exact hit first", []float64{0, 0.5}, 0, 0, 1, 0},
		{"between", []float64{0, 0.5, 1}, 0.25, 0, 1, 0.5},
		{"exact middle", []float64{0, 0.5, 1}, 0.5, 1, 2, 0},
		{"before first", []float64{0.2, 0.8}, 0.1, 1, 0, 0.75},
		{"after last", []float64{0.2, 0.8}, 0.9, 1, 0, 0.25},
		{"degenerate wrap", []float64{0, 1}, 1, 1, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames := make([]theme.Keyframe, len(tt.times))
			for i, tm := range tt.times {
				frames[i] = kf(tm)
			}

			from, to, localT := findKeyframes(frames, tt.progress)
			if from != tt.from || to != tt.to {
				t.Errorf("pair = (%d, %d), want (%d, %d)", from, to, tt.from, tt.to)
			}
			if !almost(localT, tt.localT) {
				t.Errorf("localT = %v, want %v", localT, tt.localT)
			}
		})
	}
}

func TestInterpolateByFixtureID(t *testing.T) {
	from := []theme.Instruction{in("strip", 0, 0), in("fireplace", 100, 100)}
	// Reordered and missing fireplace
	to := []theme.Instruction{in("shower", 50, 50), in("strip", 200, 100)}

	out := interpolate(from, to, 0.5)
	if len(out) != 2 {
		t.Fatalf("expected 2 instructions, got %d", len(out))
	}

	if out[0].FixtureID != "strip" || !almost(out[0].Hue, 100) || !almost(out[0].Brightness, 50) {
		t.Errorf("unexpected strip frame %+v", out[0])
	}
	if out[1].FixtureID != "fireplace" || !almost(out[1].Hue, 100) || !almost(out[1].Brightness, 100) {
		t.Errorf("expected fireplace held, got %+v", out[1])
	}
	if out[0].Duration != 800*time.Millisecond {
		t.Errorf("expected duration carried from source, got %v", out[0].Duration)
	}
}

func TestFrameMidpoint(t *testing.T) {
	frames := []theme.Keyframe{
		kf(0, in("strip", 0, 0), in("fireplace", 100, 20)),
		kf(1, in("strip", 200, 100), in("fireplace", 300, 60)),
	}

	ins, done := Frame(frames, 10*time.Second, theme.EaseLinear, true, 5*time.Second)
	if done {
		t.Error("looping animation should never be done")
	}
	if !almost(ins[0].Hue, 100) || !almost(ins[0].Brightness, 50) {
		t.Errorf("unexpected strip midpoint %+v", ins[0])
	}
	if !almost(ins[1].Hue, 200) || !almost(ins[1].Brightness, 40) {
		t.Errorf("unexpected fireplace midpoint %+v", ins[1])
	}
}

func TestFrameLoopWraps(t *testing.T) {
	frames := []theme.Keyframe{
		kf(0, in("strip", 0, 0)),
		kf(0.5, in("strip", 100, 100)),
	}

	// 17.5s into a 10s loop = progress 0.75, halfway back to the first keyframe
	ins, _ := Frame(frames, 10*time.Second, theme.EaseLinear, true, 17500*time.Millisecond)
	if !almost(ins[0].Hue, 50) {
		t.Errorf("expected hue 50, got %v", ins[0].Hue)
	}
}

func TestFrameNonLoopingEnd(t *testing.T) {
	frames := []theme.Keyframe{
		kf(0, in("strip", 0, 0)),
		kf(0.3, in("strip", 90, 30)),
		kf(0.6, in("strip", 180, 100)),
	}

	ins, done := Frame(frames, time.Second, theme.EaseLinear, false, 1200*time.Millisecond)
	if !done {
		t.Error("expected non-looping animation to be done")
	}
	if ins[0].Hue != 180 || ins[0].Brightness != 100 {
		t.Errorf("expected final keyframe, got %+v", ins[0])
	}
}

func TestProgress(t *testing.T) {
	if got := Progress(2500*time.Millisecond, time.Second); !almost(got, 0.5) {
		t.Errorf("expected 0.5, got %v", got)
	}
	if got := Progress(time.Second, 0); got != 0 {
		t.Errorf("expected 0 for zero duration, got %v", got)
	}
}
