// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package lights

import (
	"sync"
	"time"
)

// Command is one recorded transport call
type Command struct {
	Kind       string // "color" or "power"
	Address    string
	Color      Color
	Transition time.Duration
	On         bool
}

// Recorder is a Transport that records every command, for tests
type Recorder struct {
	mu    sync.Mutex
	calls []Command
}

// NewRecorder creates a new recording transport
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) SetColor(address string, c Color, transition time.Duration) {
	r.mu.Lock()
	r.calls = append(r.calls, Command{Kind: "color", Address: address, Color: c, Transition: transition})
	r.mu.Unlock()
}

func (r *Recorder) SetPower(address string, on bool) {
	r.mu.Lock()
	r.calls = append(r.calls, Command{Kind: "power", Address: address, On: on})
	r.mu.Unlock()
}

// Calls returns a copy of the recorded commands
func (r *Recorder) Calls() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Command(nil), r.calls...)
}

// Last returns the most recent color command for an address
func (r *Recorder) Last(address string) (Command, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.calls) - 1; i >= 0; i-- {
		if r.calls[i].Address == address && r.calls[i].Kind == "color" {
			return r.calls[i], true
		}
	}
	return Command{}, false
}

// LastPower returns the most recent power command for an address
func (r *Recorder) LastPower(address string) (Command, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.calls) - 1; i >= 0; i-- {
		if r.calls[i].Address == address && r.calls[i].Kind == "power" {
			return r.calls[i], true
		}
	}
	return Command{}, false
}

// Reset clears the recorded commands
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.calls = nil
	r.mu.Unlock()
}
