// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package animation

import (
	"log/slog"
	"sync"
	"time"

	"lighting-engine/internal/metrics"
	"lighting-engine/internal/theme"
)

// DefaultInterval is the tick cadence (~30 frames per second)
const DefaultInterval = 33 * time.Millisecond

// Applier receives every computed frame
type Applier interface {
	ApplyFrame(ins []theme.Instruction, master float64)
}

// Config tunes an Engine
type Config struct {
	Interval time.Duration    // 0 = DefaultInterval
	Now      func() time.Time // nil = time.Now
}

// Engine plays at most one animated palette at a time
type Engine struct {
	applier  Applier
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	mu     sync.RWMutex
	run    *run
	master float64
}

// run is one playing palette and its tick goroutine
type run struct {
	palette *theme.Palette
	frames  []theme.Keyframe
	start   time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// halt stops the goroutine and waits for it to exit
func (r *run) halt() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}

// Status describes the engine state
type Status struct {
	Running    bool    `json:"running"`
	PaletteID  string  `json:"palette_id,omitempty"`
	Name       string  `json:"name,omitempty"`
	Progress   float64 `json:"progress"`   // raw cycle progress 0-1
	Elapsed    int64   `json:"elapsed_ms"` // since start
	Duration   int64   `json:"duration_ms,omitempty"`
	Loop       bool    `json:"loop"`
	Brightness float64 `json:"brightness"`
}

// New creates an idle engine
func New(applier Applier, cfg Config, logger *slog.Logger) *Engine {
	e := &Engine{
		applier:  applier,
		logger:   logger,
		interval: cfg.Interval,
		now:      cfg.Now,
		master:   1,
	}
	if e.interval <= 0 {
		e.interval = DefaultInterval
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Start validates the palette and plays it, replacing any current run.
// An invalid palette returns an error and leaves the engine untouched.
func (e *Engine) Start(p *theme.Palette, master float64) error {
	frames, skipped, err := p.ParsedKeyframes()
	if err != nil {
		e.logger.Error("Cannot start animation", "name", p.Name, "error", err)
		return err
	}
	for _, s := range skipped {
		metrics.InstructionsSkipped.WithLabelValues("malformed").Inc()
		e.logger.Warn("Malformed keyframe instruction, skipping", "name", p.Name, "error", s)
	}

	r := &run{
		palette: p,
		frames:  frames,
		start:   e.now(),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	e.mu.Lock()
	old := e.run
	e.run = r
	e.master = master
	e.mu.Unlock()

	if old != nil {
		old.halt()
	}

	metrics.SetAnimationRunning(true)
	e.logger.Info("Starting animation", "name", p.Name, "id", p.ID,
		"keyframes", len(frames), "duration_ms", p.Duration, "loop", p.Loop, "brightness", master)

	go e.loop(r)
	return nil
}

// Stop halts the current run. Safe to call when idle.
// When Stop returns no further frame is applied.
func (e *Engine) Stop() {
	e.mu.Lock()
	r := e.run
	e.run = nil
	e.mu.Unlock()

	if r == nil {
		return
	}
	r.halt()
	metrics.SetAnimationRunning(false)
	e.logger.Info("Animation stopped", "name", r.palette.Name)
}

// loop ticks once immediately, then after each interval.
// The timer is only reset once a tick has finished, so ticks never overlap.
func (e *Engine) loop(r *run) {
	defer close(r.done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-timer.C:
		}

		select {
		case <-r.stop:
			return
		default:
		}

		if done := e.tick(r); done {
			e.finish(r)
			return
		}
		timer.Reset(e.interval)
	}
}

// tick applies one frame and reports whether the run completed
func (e *Engine) tick(r *run) bool {
	elapsed := e.now().Sub(r.start)
	ins, done := Frame(r.frames, r.palette.CycleDuration(), r.palette.Easing, r.palette.Loop, elapsed)

	e.mu.RLock()
	master := e.master
	e.mu.RUnlock()

	e.applier.ApplyFrame(ins, master)
	metrics.AnimationTicks.Inc()
	return done
}

// finish clears a naturally completed run if it is still current
func (e *Engine) finish(r *run) {
	e.mu.Lock()
	current := e.run == r
	if current {
		e.run = nil
	}
	e.mu.Unlock()

	if current {
		metrics.SetAnimationRunning(false)
		e.logger.Info("Animation completed", "name", r.palette.Name)
	}
}

// SetBrightness retunes the master brightness of the current run.
// The next tick uses the new value; the animation phase is kept.
func (e *Engine) SetBrightness(v float64) {
	e.mu.Lock()
	e.master = v
	e.mu.Unlock()
}

// Brightness returns the master brightness used by ticks
func (e *Engine) Brightness() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.master
}

// IsRunning reports whether a palette is playing
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.run != nil
}

// Current returns the playing palette, or nil when idle
func (e *Engine) Current() *theme.Palette {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.run == nil {
		return nil
	}
	return e.run.palette
}

// Status returns a snapshot of the engine state
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st := Status{Brightness: e.master}
	if e.run == nil {
		return st
	}

	elapsed := e.now().Sub(e.run.start)
	st.Running = true
	st.PaletteID = e.run.palette.ID
	st.Name = e.run.palette.Name
	st.Elapsed = elapsed.Milliseconds()
	st.Duration = e.run.palette.Duration
	st.Loop = e.run.palette.Loop
	st.Progress = Progress(elapsed, e.run.palette.CycleDuration())
	return st
}
