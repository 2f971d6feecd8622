// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package lights

import (
	"encoding/json"
	"log/slog"
	"math"
	"sync"
	"time"

	"lighting-engine/internal/curve"
	"lighting-engine/internal/fixture"
	"lighting-engine/internal/metrics"
	"lighting-engine/internal/theme"
)

// Fixture value limits
const (
	maxHue        = 360
	maxPercent    = 100
	minKelvin     = 1500
	maxKelvin     = 9000
	defaultFadeMs = 300
)

// DefaultTransition is used by direct color commands without a duration
const DefaultTransition = defaultFadeMs * time.Millisecond

// Dispatcher resolves instructions to fixtures, sends them through the
// transport and keeps the state cache (hardware has no synchronous read-back)
type Dispatcher struct {
	registry      *fixture.Registry
	transport     Transport
	logger        *slog.Logger
	maxTransition time.Duration
	throttle      time.Duration
	now           func() time.Time

	mu            sync.RWMutex
	cache         map[string]*cacheEntry
	master        float64
	lastBroadcast time.Time

	// Subscribers for state changes (WebSocket clients, MQTT)
	// Channel sends pre-marshaled JSON []byte to avoid race conditions
	subsMu sync.RWMutex
	subs   map[chan []byte]struct{}

	// Refresh goroutine
	stopRefresh chan struct{}
}

// Options tunes a Dispatcher
type Options struct {
	MaxTransition time.Duration // 0 = unlimited
	Throttle      time.Duration // minimum interval between frame broadcasts
}

// NewDispatcher creates a dispatcher over the registry and transport
func NewDispatcher(registry *fixture.Registry, transport Transport, opts Options, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		registry:      registry,
		transport:     transport,
		logger:        logger,
		maxTransition: opts.MaxTransition,
		throttle:      opts.Throttle,
		now:           time.Now,
		cache:         make(map[string]*cacheEntry, registry.Len()),
		master:        1,
		subs:          make(map[chan []byte]struct{}),
	}
}

// Registry returns the fixture registry
func (d *Dispatcher) Registry() *fixture.Registry {
	return d.registry
}

// apply resolves and sends one instruction and updates the cache.
// Returns false when the fixture is unknown.
func (d *Dispatcher) apply(in theme.Instruction, master, group float64) bool {
	def, ok := d.registry.Resolve(in.FixtureID)
	if !ok {
		metrics.InstructionsSkipped.WithLabelValues("unknown_fixture").Inc()
		return false
	}

	hue := curve.ClampFloat(in.Hue, 0, maxHue)
	saturation := curve.ClampFloat(in.Saturation, 0, maxPercent)
	individual := curve.ClampFloat(in.Brightness, 0, maxPercent)
	kelvin := curve.Clamp(int(math.Round(in.Kelvin)), minKelvin, maxKelvin)

	hw := curve.ApplyBrightnessCurve(individual, group, master)

	transition := in.Duration
	if d.maxTransition > 0 && transition > d.maxTransition {
		transition = d.maxTransition
	}

	c := Color{Hue: hue, Saturation: saturation, Brightness: hw, Kelvin: kelvin}
	d.transport.SetColor(def.Address, c, transition)

	d.mu.Lock()
	d.cache[def.ID] = &cacheEntry{
		state: FixtureState{
			Hue:        hue,
			Saturation: saturation,
			Brightness: hw,
			Kelvin:     kelvin,
			Power:      hw > 0,
		},
		logical: BrightnessEntry{
			ID:         def.ID,
			Hue:        hue,
			Saturation: saturation,
			Brightness: individual,
			Kelvin:     float64(kelvin),
			Group:      &group,
		},
		colored: true,
		updated: d.now(),
	}
	d.mu.Unlock()

	metrics.FixtureBrightness.WithLabelValues(def.ID).Set(float64(hw))
	return true
}

// ApplyInstruction applies one instruction with master and group dimmers.
// An unknown fixture is logged and skipped.
func (d *Dispatcher) ApplyInstruction(in theme.Instruction, master, group float64) bool {
	if !d.apply(in, master, group) {
		d.logger.Warn("Unknown fixture, skipping", "fixture", in.FixtureID)
		return false
	}
	metrics.CommandsTotal.WithLabelValues("instruction").Inc()
	d.broadcastState(true)
	return true
}

// ApplyInstructions applies a batch in order with no group dimming
func (d *Dispatcher) ApplyInstructions(ins []theme.Instruction, master float64) ApplyResult {
	var res ApplyResult
	for _, in := range ins {
		if d.apply(in, master, 1) {
			res.Applied++
			continue
		}
		res.Skipped++
		res.Errors = append(res.Errors, "unknown fixture: "+in.FixtureID)
	}

	d.mu.Lock()
	d.master = master
	d.mu.Unlock()
	return res
}

// ApplyFrame applies one animation frame; broadcasts are throttled
func (d *Dispatcher) ApplyFrame(ins []theme.Instruction, master float64) {
	res := d.ApplyInstructions(ins, master)
	if res.Skipped > 0 {
		d.logger.Debug("Frame skipped instructions", "skipped", res.Skipped, "errors", res.Errors)
	}
	d.broadcastState(false)
}

// SetSingleLight sets one fixture directly
func (d *Dispatcher) SetSingleLight(id string, in theme.Instruction, master, group float64) bool {
	in.FixtureID = id
	return d.ApplyInstruction(in, master, group)
}

// SetGroupLights sets the same color on several fixtures
func (d *Dispatcher) SetGroupLights(ids []string, in theme.Instruction, master, group float64) ApplyResult {
	var res ApplyResult
	for _, id := range ids {
		in.FixtureID = id
		if d.apply(in, master, group) {
			res.Applied++
			continue
		}
		d.logger.Warn("Unknown fixture, skipping", "fixture", id)
		res.Skipped++
		res.Errors = append(res.Errors, "unknown fixture: "+id)
	}
	metrics.CommandsTotal.WithLabelValues("group").Inc()
	d.broadcastState(true)
	return res
}

// SetPower switches fixtures on or off; color fields are left untouched
func (d *Dispatcher) SetPower(ids []string, on bool) ApplyResult {
	var res ApplyResult
	for _, id := range ids {
		def, ok := d.registry.Resolve(id)
		if !ok {
			d.logger.Warn("Unknown fixture, skipping", "fixture", id)
			metrics.InstructionsSkipped.WithLabelValues("unknown_fixture").Inc()
			res.Skipped++
			res.Errors = append(res.Errors, "unknown fixture: "+id)
			continue
		}

		d.transport.SetPower(def.Address, on)

		d.mu.Lock()
		entry, cached := d.cache[def.ID]
		if !cached {
			entry = &cacheEntry{
				state:   FixtureState{Kelvin: DefaultKelvin},
				logical: BrightnessEntry{ID: def.ID, Kelvin: DefaultKelvin},
			}
			d.cache[def.ID] = entry
		}
		entry.state.Power = on
		entry.updated = d.now()
		d.mu.Unlock()

		res.Applied++
	}

	metrics.CommandsTotal.WithLabelValues("power").Inc()
	d.broadcastState(true)
	return res
}

// SetPowerAll switches every registered fixture
func (d *Dispatcher) SetPowerAll(on bool) ApplyResult {
	return d.SetPower(d.registry.IDs(), on)
}

// ReapplyBrightness recomputes and resends every entry under a new master.
// Entries carry pre-curve brightness so values are never curved twice.
func (d *Dispatcher) ReapplyBrightness(entries []BrightnessEntry, master float64, transition time.Duration) ApplyResult {
	var res ApplyResult
	for _, e := range entries {
		group := 1.0
		if e.Group != nil {
			group = *e.Group
		}
		in := theme.Instruction{
			FixtureID:  e.ID,
			Hue:        e.Hue,
			Saturation: e.Saturation,
			Brightness: e.Brightness,
			Kelvin:     e.Kelvin,
			Duration:   transition,
		}
		if d.apply(in, master, group) {
			res.Applied++
			continue
		}
		d.logger.Warn("Unknown fixture, skipping", "fixture", e.ID)
		res.Skipped++
		res.Errors = append(res.Errors, "unknown fixture: "+e.ID)
	}

	d.mu.Lock()
	d.master = master
	d.mu.Unlock()

	metrics.CommandsTotal.WithLabelValues("brightness").Inc()
	d.broadcastState(true)
	return res
}

// Rebrighten re-applies the last logical state of every commanded fixture
// under a new master brightness
func (d *Dispatcher) Rebrighten(master float64, transition time.Duration) ApplyResult {
	d.mu.RLock()
	entries := make([]BrightnessEntry, 0, len(d.cache))
	for _, id := range d.registry.IDs() {
		if e, ok := d.cache[id]; ok && e.colored {
			entries = append(entries, e.logical)
		}
	}
	d.mu.RUnlock()

	return d.ReapplyBrightness(entries, master, transition)
}

// Master returns the master brightness last used
func (d *Dispatcher) Master() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.master
}

// State returns a single fixture status
func (d *Dispatcher) State(id string) (FixtureStatus, bool) {
	def, ok := d.registry.Resolve(id)
	if !ok {
		return FixtureStatus{}, false
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.statusLocked(def), true
}

// States returns every fixture in registry order, with defaults for
// fixtures that were never commanded
func (d *Dispatcher) States() []FixtureStatus {
	defs := d.registry.All()
	out := make([]FixtureStatus, len(defs))

	d.mu.RLock()
	defer d.mu.RUnlock()
	for i, def := range defs {
		out[i] = d.statusLocked(def)
	}
	return out
}

func (d *Dispatcher) statusLocked(def fixture.Definition) FixtureStatus {
	st := FixtureStatus{
		ID:           def.ID,
		Address:      def.Address,
		Label:        def.Label,
		FixtureState: FixtureState{Kelvin: DefaultKelvin},
	}
	if e, ok := d.cache[def.ID]; ok {
		st.Cached = true
		st.FixtureState = e.state
	}
	return st
}

// InitMessage returns the full init message for new WebSocket clients
func (d *Dispatcher) InitMessage() InitMessage {
	groups := make([]*fixture.Group, 0)
	for _, name := range d.registry.Groups() {
		groups = append(groups, d.registry.Group(name))
	}
	return InitMessage{
		Type:     "init",
		Master:   d.Master(),
		Fixtures: d.registry.All(),
		Groups:   groups,
		States:   d.States(),
	}
}

// Subscribe returns a channel that receives pre-marshaled JSON state updates
func (d *Dispatcher) Subscribe() chan []byte {
	ch := make(chan []byte, 100)
	d.subsMu.Lock()
	d.subs[ch] = struct{}{}
	d.subsMu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber
func (d *Dispatcher) Unsubscribe(ch chan []byte) {
	d.subsMu.Lock()
	delete(d.subs, ch)
	close(ch)
	d.subsMu.Unlock()
}

// broadcastState sends current state to all subscribers.
// Unforced broadcasts are dropped inside the throttle window.
func (d *Dispatcher) broadcastState(force bool) {
	d.subsMu.RLock()
	if len(d.subs) == 0 {
		d.subsMu.RUnlock()
		return
	}
	d.subsMu.RUnlock()

	d.mu.Lock()
	now := d.now()
	if !force && d.throttle > 0 && now.Sub(d.lastBroadcast) < d.throttle {
		d.mu.Unlock()
		return
	}
	d.lastBroadcast = now

	fixtures := make(map[string]FixtureState, len(d.cache))
	for id, e := range d.cache {
		fixtures[id] = e.state
	}
	data, _ := json.Marshal(StateUpdate{
		Type:     "state",
		Master:   d.master,
		Fixtures: fixtures,
	})
	d.mu.Unlock()

	d.subsMu.RLock()
	defer d.subsMu.RUnlock()

	for ch := range d.subs {
		select {
		case ch <- data:
		default:
			// Channel full, skip
		}
	}
}

// StartRefresh starts periodic resync of fixtures with the cache
func (d *Dispatcher) StartRefresh(interval time.Duration) {
	if interval <= 0 {
		return
	}

	stop := make(chan struct{})
	d.stopRefresh = stop
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		d.logger.Info("Fixture refresh started", "interval", interval)

		for {
			select {
			case <-ticker.C:
				d.refresh(interval)
			case <-stop:
				d.logger.Info("Fixture refresh stopped")
				return
			}
		}
	}()
}

// StopRefresh stops the periodic refresh
func (d *Dispatcher) StopRefresh() {
	if d.stopRefresh != nil {
		close(d.stopRefresh)
		d.stopRefresh = nil
	}
}

// refresh resends cached state to fixtures not commanded within the last
// interval (animated fixtures are skipped) and syncs subscribers
func (d *Dispatcher) refresh(interval time.Duration) {
	d.broadcastState(true)

	type resend struct {
		address string
		state   FixtureState
	}

	now := d.now()
	var stale []resend

	d.mu.RLock()
	for _, def := range d.registry.All() {
		e, ok := d.cache[def.ID]
		if !ok || now.Sub(e.updated) < interval {
			continue
		}
		stale = append(stale, resend{address: def.Address, state: e.state})
	}
	d.mu.RUnlock()

	for _, r := range stale {
		d.transport.SetPower(r.address, r.state.Power)
		if r.state.Power {
			d.transport.SetColor(r.address, Color{
				Hue:        r.state.Hue,
				Saturation: r.state.Saturation,
				Brightness: r.state.Brightness,
				Kelvin:     r.state.Kelvin,
			}, 0)
		}
	}

	d.logger.Debug("Fixture state refreshed", "resent", len(stale))
}
