// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FixtureBrightness is the last hardware brightness sent to a fixture (0-100)
	FixtureBrightness = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lighting_fixture_brightness",
			Help: "Last hardware brightness sent to a fixture (0-100)",
		},
		[]string{"fixture"},
	)

	// AnimationRunning indicates if an animation is playing
	AnimationRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lighting_animation_running",
			Help: "Animation running (1) or idle (0)",
		},
	)

	// AnimationTicks is total animation frames computed
	AnimationTicks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lighting_animation_ticks_total",
			Help: "Total animation frames applied",
		},
	)

	// CommandsTotal counts lighting commands by type
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lighting_commands_total",
			Help: "Total lighting commands by type",
		},
		[]string{"command"},
	)

	// InstructionsSkipped counts instructions that were not applied
	InstructionsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lighting_instructions_skipped_total",
			Help: "Total skipped instructions by reason",
		},
		[]string{"reason"},
	)

	// TransportDropped counts commands dropped by a full transport queue
	TransportDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lighting_transport_dropped_total",
			Help: "Total fixture commands dropped because the queue was full",
		},
	)

	// ErrorsTotal counts errors by type
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lighting_errors_total",
			Help: "Total errors by type",
		},
		[]string{"type"},
	)
)

// SetAnimationRunning updates the running metric
func SetAnimationRunning(running bool) {
	if running {
		AnimationRunning.Set(1)
	} else {
		AnimationRunning.Set(0)
	}
}
