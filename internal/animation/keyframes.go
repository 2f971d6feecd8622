// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

// Package animation plays animated palettes by interpolating between
// keyframes on a fixed tick.
package animation

import (
	"time"

	"lighting-engine/internal/theme"
)

// ease maps raw cycle progress through the palette easing
func ease(t float64, easing theme.Easing) float64 {
	switch easing {
	case theme.EaseIn:
		return t * t
	case theme.EaseOut:
		return t * (2 - t)
	case theme.EaseInOut:
		if t < 0.5 {
			return 2 * t * t
		}
		return -1 + (4-2*t)*t
	default:
		return t
	}
}

// findKeyframes resolves the pair of keyframes surrounding progress in a
// cyclic ordering. sorted must be ascending by time with at least 2 entries.
// An exact hit on a keyframe pairs it with the next one (localT = 0).
func findKeyframes(sorted []theme.Keyframe, progress float64) (from, to int, localT float64) {
	n := len(sorted)
	from, to = -1, -1
	for i, kf := range sorted {
		if kf.Time <= progress {
			from = i
		}
		if kf.Time >= progress {
			to = i
			break
		}
	}

	// Before the first keyframe: coming from the last one
	if from < 0 {
		from = n - 1
	}
	// Past the last keyframe: heading to the first one
	if to < 0 {
		to = 0
	}
	if from == to {
		to = (from + 1) % n
	}

	a, b := sorted[from].Time, sorted[to].Time
	if b > a {
		localT = (progress - a) / (b - a)
	} else {
		span := 1 - a + b
		switch {
		case span <= 0:
			localT = 0
		case progress >= a:
			localT = (progress - a) / span
		default:
			localT = (1 - a + progress) / span
		}
	}

	return from, to, clamp01(localT)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

// interpolate blends two keyframe instruction sets. Fixtures are matched by
// id; a fixture missing from to holds its from values. Fixture id and
// duration always come from from.
func interpolate(from, to []theme.Instruction, t float64) []theme.Instruction {
	out := make([]theme.Instruction, len(from))
	for i, a := range from {
		b, ok := match(to, i, a.FixtureID)
		if !ok {
			b = a
		}
		out[i] = theme.Instruction{
			FixtureID:  a.FixtureID,
			Hue:        lerp(a.Hue, b.Hue, t),
			Saturation: lerp(a.Saturation, b.Saturation, t),
			Brightness: lerp(a.Brightness, b.Brightness, t),
			Kelvin:     lerp(a.Kelvin, b.Kelvin, t),
			Duration:   a.Duration,
		}
	}
	return out
}

// match finds id in list, trying position i first
func match(list []theme.Instruction, i int, id string) (theme.Instruction, bool) {
	if i < len(list) && list[i].FixtureID == id {
		return list[i], true
	}
	for _, in := range list {
		if in.FixtureID == id {
			return in, true
		}
	}
	return theme.Instruction{}, false
}

// Progress returns the raw cycle progress in [0,1) for elapsed time
func Progress(elapsed, duration time.Duration) float64 {
	if duration <= 0 || elapsed < 0 {
		return 0
	}
	return float64(elapsed%duration) / float64(duration)
}

// Frame computes the instruction set for elapsed time into the animation.
// frames must be sorted ascending (see theme.Palette.ParsedKeyframes).
// done is true when a non-looping animation has reached its end, in which
// case the last keyframe is returned unchanged.
func Frame(frames []theme.Keyframe, duration time.Duration, easing theme.Easing, loop bool, elapsed time.Duration) (ins []theme.Instruction, done bool) {
	if !loop && elapsed >= duration {
		last := frames[len(frames)-1].Instructions
		return append([]theme.Instruction(nil), last...), true
	}

	progress := ease(Progress(elapsed, duration), easing)
	from, to, localT := findKeyframes(frames, progress)
	return interpolate(frames[from].Instructions, frames[to].Instructions, localT), false
}
