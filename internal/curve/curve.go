// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

// Package curve shapes fixture brightness through perceptual Bezier curves.
package curve

import "math"

// BezierY evaluates the dimming curve at x. The curve runs from (0,0) to
// (1,1) with control points (0.5, controlY) and (1,1); x is used directly as
// the curve parameter. ok is false when x is outside [0,1].
//
// controlY around 0.5 is close to linear, lower values compress the low end
// and higher values expand it.
func BezierY(x, controlY float64) (y float64, ok bool) {
	if x < 0 || x > 1 || math.IsNaN(x) {
		return 0, false
	}
	t := x
	u := 1 - t
	// y0 = 0 and y3 = 1, so the first term vanishes and the last is t^3
	return 3*controlY*t*u*u + 3*t*t*u + t*t*t, true
}

// ApplyBrightnessCurve composes the group and master dimmers over an
// individual brightness and returns the hardware brightness (0-100).
//
//	hardware = bezier(master, bezier(group, individual/100)) * 100
//
// individual is 0-100; group and master are 0-1 where 1 means no dimming.
// The group layer is always applied before the master layer.
func ApplyBrightnessCurve(individual, group, master float64) int {
	if master <= 0 {
		return 0
	}

	curved := individual / 100

	// Layer 1: group
	switch {
	case group >= 1:
	case group <= 0:
		curved = 0
	default:
		if y, ok := BezierY(group, curved); ok {
			curved = y
		}
	}

	// Layer 2: master
	if master < 1 {
		if y, ok := BezierY(master, curved); ok {
			curved = y
		}
	}

	return Clamp(int(math.Round(curved*100)), 0, 100)
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ClampFloat limits v to [lo, hi].
func ClampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
