// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package mqtt

import (
	"encoding/json"
	"log/slog"
	"time"

	"lighting-engine/internal/lights"
	"lighting-engine/internal/metrics"
)

// Publisher sends a payload on a topic without blocking
type Publisher interface {
	Publish(topic string, payload []byte) bool
}

// FixtureCommand is published on <prefix>/fixture/<address>/set.
// Color commands carry HSBK and a transition, power commands only power.
type FixtureCommand struct {
	Hue          *float64 `json:"hue,omitempty"`
	Saturation   *float64 `json:"saturation,omitempty"`
	Brightness   *int     `json:"brightness,omitempty"`
	Kelvin       *int     `json:"kelvin,omitempty"`
	TransitionMs *int64   `json:"transition_ms,omitempty"`
	Power        *bool    `json:"power,omitempty"`
}

// Transport sends fixture commands to a broker-side bridge
type Transport struct {
	pub    Publisher
	prefix string
	logger *slog.Logger
}

// NewTransport creates a fixture transport publishing under prefix
func NewTransport(pub Publisher, prefix string, logger *slog.Logger) *Transport {
	return &Transport{pub: pub, prefix: prefix, logger: logger}
}

// FixtureTopic returns the command topic of a fixture address
func FixtureTopic(prefix, address string) string {
	return prefix + "/fixture/" + address + "/set"
}

// SetColor publishes a color command
func (t *Transport) SetColor(address string, c lights.Color, transition time.Duration) {
	ms := transition.Milliseconds()
	t.send(address, FixtureCommand{
		Hue:          &c.Hue,
		Saturation:   &c.Saturation,
		Brightness:   &c.Brightness,
		Kelvin:       &c.Kelvin,
		TransitionMs: &ms,
	})
}

// SetPower publishes a power command
func (t *Transport) SetPower(address string, on bool) {
	t.send(address, FixtureCommand{Power: &on})
}

func (t *Transport) send(address string, cmd FixtureCommand) {
	data, err := json.Marshal(cmd)
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues("transport").Inc()
		return
	}
	if !t.pub.Publish(FixtureTopic(t.prefix, address), data) {
		metrics.TransportDropped.Inc()
		t.logger.Debug("MQTT not connected, dropping fixture command", "address", address)
	}
}
