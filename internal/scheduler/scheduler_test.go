// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package scheduler

import (
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/nathan-osman/go-sunrise"

	"lighting-engine/internal/config"
	"lighting-engine/internal/lights"
)

type call struct {
	kind       string
	theme      string
	brightness *float64
	power      bool
}

type fakeController struct {
	mu    sync.Mutex
	calls []call
}

func (c *fakeController) ActivateStored(id string, master *float64) (lights.ApplyResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call{kind: "theme", theme: id, brightness: master})
	return lights.ApplyResult{}, nil
}

func (c *fakeController) SetBrightness(v float64) (lights.ApplyResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call{kind: "brightness", brightness: &v})
	return lights.ApplyResult{}, nil
}

func (c *fakeController) SetPower(target string, on bool) (lights.ApplyResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call{kind: "power", power: on})
	return lights.ApplyResult{}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func float(v float64) *float64 { return &v }
func boolean(v bool) *bool      { return &v }

func newTestScheduler(t *testing.T, cfg *config.ScheduleConfig) (*Scheduler, *fakeController) {
	t.Helper()
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	ctrl := &fakeController{}
	s, err := New(cfg, ctrl, testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s, ctrl
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in     string
		anchor Anchor
		clock  time.Duration
		offset time.Duration
		err    bool
	}{
		{"07:30", AnchorClock, 7*time.Hour + 30*time.Minute, 0, false},
		{"23:59:30", AnchorClock, 23*time.Hour + 59*time.Minute + 30*time.Second, 0, false},
		{"sunrise", AnchorSunrise, 0, 0, false},
		{"Sunset-00:30", AnchorSunset, 0, -30 * time.Minute, false},
		{"sunrise+01:15:10", AnchorSunrise, 0, time.Hour + 15*time.Minute + 10*time.Second, false},
		{"sunset~1", 0, 0, 0, true},
		{"25:00", 0, 0, 0, true},
		{"noon", 0, 0, 0, true},
	}

	for _, tt := range tests {
		e, err := parseTime(tt.in)
		if tt.err {
			if err == nil {
				t.Errorf("parseTime(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseTime(%q): %v", tt.in, err)
			continue
		}
		if e.Anchor != tt.anchor || e.Clock != tt.clock || e.Offset != tt.offset {
			t.Errorf("parseTime(%q) = %+v", tt.in, e)
		}
	}
}

func TestNewSkipsInvalidEvents(t *testing.T) {
	s, _ := newTestScheduler(t, &config.ScheduleConfig{
		Events: []config.ScheduleEvent{
			{Time: "bogus", Power: boolean(true)},
			{Time: "sunset", Power: boolean(true)}, // no coordinates
			{Time: "08:00", Power: boolean(true)},
		},
	})
	if len(s.events) != 1 {
		t.Errorf("expected 1 valid event, got %d", len(s.events))
	}
}

func TestNewInvalidTimezone(t *testing.T) {
	_, err := New(&config.ScheduleConfig{Timezone: "Mars/Olympus"}, &fakeController{}, testLogger())
	if err == nil {
		t.Error("expected error for unknown timezone")
	}
}

func TestCheckExecutesClockEvent(t *testing.T) {
	s, ctrl := newTestScheduler(t, &config.ScheduleConfig{
		Events: []config.ScheduleEvent{
			{Time: "07:00", Theme: "morning", Brightness: float(0.8)},
			{Time: "23:00", Brightness: float(0.1), Power: boolean(false)},
		},
	})

	s.check(time.Date(2025, 3, 1, 6, 59, 59, 0, time.UTC))
	if len(ctrl.calls) != 0 {
		t.Fatalf("expected no calls before event, got %d", len(ctrl.calls))
	}

	at := time.Date(2025, 3, 1, 7, 0, 0, 0, time.UTC)
	s.check(at)
	s.check(at) // same second: not run twice
	if len(ctrl.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(ctrl.calls))
	}
	if c := ctrl.calls[0]; c.kind != "theme" || c.theme != "morning" || *c.brightness != 0.8 {
		t.Errorf("unexpected call %+v", c)
	}

	s.check(time.Date(2025, 3, 1, 23, 0, 0, 0, time.UTC))
	if len(ctrl.calls) != 3 {
		t.Fatalf("expected brightness and power calls, got %d", len(ctrl.calls))
	}
	if ctrl.calls[1].kind != "brightness" || ctrl.calls[2].kind != "power" || ctrl.calls[2].power {
		t.Errorf("unexpected calls %+v", ctrl.calls[1:])
	}
}

func TestClockEventAcrossDST(t *testing.T) {
	s, ctrl := newTestScheduler(t, &config.ScheduleConfig{
		Timezone: "America/New_York",
		Events:   []config.ScheduleEvent{{Time: "09:00", Theme: "morning"}},
	})

	// Clocks go forward at 02:00 on 2026-03-08
	for _, day := range []int{8, 1} {
		at, ok := s.occurrence(s.events[0], time.Date(2026, 3, day, 12, 0, 0, 0, s.location))
		if !ok || at.Hour() != 9 || at.Minute() != 0 {
			t.Errorf("March %d: expected 09:00, got %v", day, at)
		}
	}

	s.check(time.Date(2026, 3, 8, 9, 0, 0, 0, s.location))
	if len(ctrl.calls) != 1 {
		t.Errorf("expected event at 09:00 local, got %d calls", len(ctrl.calls))
	}
}

func TestCheckExecutesSolarEvent(t *testing.T) {
	lat, lon := 48.8566, 2.3522
	s, ctrl := newTestScheduler(t, &config.ScheduleConfig{
		Latitude:  lat,
		Longitude: lon,
		Events: []config.ScheduleEvent{
			{Time: "sunset-00:30", Power: boolean(true)},
		},
	})

	_, set := sunrise.SunriseSunset(lat, lon, 2025, time.June, 21)
	at := set.UTC().Add(-30 * time.Minute).Truncate(time.Second)

	s.check(at.Add(-time.Second))
	if len(ctrl.calls) != 0 {
		t.Fatalf("expected no calls before sunset offset, got %d", len(ctrl.calls))
	}

	s.check(at)
	if len(ctrl.calls) != 1 || ctrl.calls[0].kind != "power" || !ctrl.calls[0].power {
		t.Errorf("expected power on at sunset-30m, got %+v", ctrl.calls)
	}
}

func TestNextEvent(t *testing.T) {
	s, _ := newTestScheduler(t, &config.ScheduleConfig{
		Events: []config.ScheduleEvent{
			{Time: "07:00", Power: boolean(true)},
			{Time: "22:00", Power: boolean(false)},
		},
	})

	s.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	next := s.NextEvent()
	if next == nil || next.Time != "22:00:00" || next.In != 10*time.Hour {
		t.Errorf("expected 22:00 in 10h, got %+v", next)
	}

	// After the last event, wraps to tomorrow
	s.now = func() time.Time { return time.Date(2025, 3, 1, 23, 0, 0, 0, time.UTC) }
	next = s.NextEvent()
	if next == nil || next.Time != "07:00:00" || next.In != 8*time.Hour {
		t.Errorf("expected 07:00 in 8h, got %+v", next)
	}
}

func TestNextEventEmpty(t *testing.T) {
	s, _ := newTestScheduler(t, &config.ScheduleConfig{})
	if s.NextEvent() != nil {
		t.Error("expected no next event")
	}
}

func TestEvents(t *testing.T) {
	s, _ := newTestScheduler(t, &config.ScheduleConfig{
		Events: []config.ScheduleEvent{
			{Time: "21:30", Theme: "evening"},
			{Time: "06:45", Brightness: float(0.4)},
		},
	})

	events := s.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Time != "06:45:00" || events[1].Theme != "evening" {
		t.Errorf("expected events sorted by time, got %+v", events)
	}
}

func TestStartStop(t *testing.T) {
	s, _ := newTestScheduler(t, &config.ScheduleConfig{})
	s.Start()
	s.Start() // no-op
	s.Stop()
	s.Stop() // no-op
}
