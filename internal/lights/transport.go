// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package lights

import (
	"log/slog"
	"time"
)

// Color is a resolved HSBK command. Brightness is the post-curve hardware value.
type Color struct {
	Hue        float64 `json:"hue"`        // 0-360
	Saturation float64 `json:"saturation"` // 0-100
	Brightness int     `json:"brightness"` // 0-100
	Kelvin     int     `json:"kelvin"`     // 1500-9000
}

// Transport is the one-way outbound port to fixtures.
// Calls must not block on delivery; failures are the transport's to log.
type Transport interface {
	SetColor(address string, c Color, transition time.Duration)
	SetPower(address string, on bool)
}

// LogTransport only logs commands (simulation mode)
type LogTransport struct {
	logger *slog.Logger
}

// NewLogTransport creates a logging transport
func NewLogTransport(logger *slog.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

func (t *LogTransport) SetColor(address string, c Color, transition time.Duration) {
	t.logger.Debug("Fixture color",
		"address", address,
		"hue", c.Hue,
		"saturation", c.Saturation,
		"brightness", c.Brightness,
		"kelvin", c.Kelvin,
		"transition", transition)
}

func (t *LogTransport) SetPower(address string, on bool) {
	t.logger.Debug("Fixture power", "address", address, "on", on)
}
