// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package lights

import (
	"lighting-engine/internal/metrics"
	"lighting-engine/internal/theme"
)

// ThemeOptions controls theme application
type ThemeOptions struct {
	Master *float64 // master brightness 0-1, nil = no master dimming
}

// WithMaster returns options with a master brightness
func WithMaster(v float64) ThemeOptions {
	return ThemeOptions{Master: &v}
}

// SetLightingTheme applies every instruction of a theme in order.
// Malformed instructions and unknown fixtures are skipped; the rest of the
// theme is still applied.
func (d *Dispatcher) SetLightingTheme(t *theme.Theme, opts ThemeOptions) ApplyResult {
	master := 1.0
	if opts.Master != nil {
		master = *opts.Master
	}

	ins, errs := theme.ParseInstructions(t.Instructions)
	for _, err := range errs {
		metrics.InstructionsSkipped.WithLabelValues("malformed").Inc()
		d.logger.Warn("Malformed instruction, skipping", "theme", t.Name, "error", err)
	}

	d.logger.Info("Activating theme", "name", t.Name, "id", t.ID, "master", master)

	res := d.ApplyInstructions(ins, master)
	for _, e := range res.Errors {
		d.logger.Warn("Instruction skipped", "theme", t.Name, "reason", e)
	}

	res.Skipped += len(errs)
	for _, err := range errs {
		res.Errors = append(res.Errors, err.Error())
	}

	metrics.CommandsTotal.WithLabelValues("theme").Inc()
	d.broadcastState(true)
	return res
}
