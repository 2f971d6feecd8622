// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package scheduler

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nathan-osman/go-sunrise"

	"lighting-engine/internal/config"
	"lighting-engine/internal/lights"
)

// Anchor is what an event time is relative to
type Anchor int

const (
	AnchorClock   Anchor = iota // fixed HH:MM:SS
	AnchorSunrise               // sunrise + offset
	AnchorSunset                // sunset + offset
)

// Controller is the lighting surface the scheduler drives
type Controller interface {
	ActivateStored(id string, master *float64) (lights.ApplyResult, error)
	SetBrightness(v float64) (lights.ApplyResult, error)
	SetPower(target string, on bool) (lights.ApplyResult, error)
}

// Event is a parsed schedule event
type Event struct {
	Expr       string // as configured
	Anchor     Anchor
	Clock      time.Duration // since midnight, for AnchorClock
	Offset     time.Duration // for AnchorSunrise and AnchorSunset
	Theme      string
	Brightness *float64
	Power      *bool
}

// Scheduler runs scheduled lighting events
type Scheduler struct {
	events    []Event
	ctrl      Controller
	logger    *slog.Logger
	location  *time.Location
	latitude  float64
	longitude float64
	now       func() time.Time

	mu       sync.RWMutex
	lastRun  string // "2006-01-02 15:04:05" of last executed check
	sunDay   string // date of the cached sun times
	sunrise  time.Time
	sunset   time.Time
	stopChan chan struct{}
	running  bool
}

// New creates a new scheduler
func New(cfg *config.ScheduleConfig, ctrl Controller, logger *slog.Logger) (*Scheduler, error) {
	loc := time.Local
	if cfg.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, err
		}
	}

	events := make([]Event, 0, len(cfg.Events))
	for _, e := range cfg.Events {
		parsed, err := parseTime(e.Time)
		if err != nil {
			logger.Warn("Invalid schedule time", "time", e.Time, "error", err)
			continue
		}
		if parsed.Anchor != AnchorClock && cfg.Latitude == 0 && cfg.Longitude == 0 {
			logger.Warn("Solar schedule event needs latitude and longitude, skipping", "time", e.Time)
			continue
		}
		parsed.Theme = e.Theme
		parsed.Brightness = e.Brightness
		parsed.Power = e.Power
		events = append(events, parsed)
	}

	// Clock events by time, solar events after them
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Anchor != events[j].Anchor {
			return events[i].Anchor < events[j].Anchor
		}
		if events[i].Anchor == AnchorClock {
			return events[i].Clock < events[j].Clock
		}
		return events[i].Offset < events[j].Offset
	})

	return &Scheduler{
		events:    events,
		ctrl:      ctrl,
		logger:    logger,
		location:  loc,
		latitude:  cfg.Latitude,
		longitude: cfg.Longitude,
		now:       time.Now,
		stopChan:  make(chan struct{}),
	}, nil
}

// Start begins the scheduler loop
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go s.loop()
	s.logger.Info("Scheduler started", "events", len(s.events), "timezone", s.location.String())
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopChan)
	s.logger.Info("Scheduler stopped")
}

// loop checks every second for events to execute
func (s *Scheduler) loop() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.check(s.now())
		case <-s.stopChan:
			return
		}
	}
}

// check executes every event matching the given second
func (s *Scheduler) check(t time.Time) {
	now := t.In(s.location)
	nowStr := now.Format("2006-01-02 15:04:05")

	s.mu.Lock()
	if s.lastRun == nowStr {
		s.mu.Unlock()
		return
	}
	s.lastRun = nowStr
	s.mu.Unlock()

	for _, e := range s.events {
		at, ok := s.occurrence(e, now)
		if !ok {
			continue
		}
		if at.Hour() == now.Hour() && at.Minute() == now.Minute() && at.Second() == now.Second() {
			s.execute(e)
		}
	}
}

// occurrence returns when e happens on the day of the given time.
// ok is false when the sun does not rise or set that day.
func (s *Scheduler) occurrence(e Event, day time.Time) (time.Time, bool) {
	day = day.In(s.location)
	midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, s.location)

	switch e.Anchor {
	case AnchorClock:
		// Wall clock: DST days are not 24h long
		h, m, sec := int(e.Clock/time.Hour), int(e.Clock/time.Minute)%60, int(e.Clock/time.Second)%60
		return time.Date(day.Year(), day.Month(), day.Day(), h, m, sec, 0, s.location), true
	case AnchorSunrise, AnchorSunset:
		rise, set := s.sunTimes(midnight)
		base := rise
		if e.Anchor == AnchorSunset {
			base = set
		}
		if base.IsZero() {
			return time.Time{}, false
		}
		return base.In(s.location).Add(e.Offset).Truncate(time.Second), true
	}
	return time.Time{}, false
}

// sunTimes computes and caches sunrise and sunset for a day
func (s *Scheduler) sunTimes(day time.Time) (rise, set time.Time) {
	key := day.Format("2006-01-02")

	s.mu.RLock()
	if s.sunDay == key {
		rise, set = s.sunrise, s.sunset
		s.mu.RUnlock()
		return rise, set
	}
	s.mu.RUnlock()

	rise, set = sunrise.SunriseSunset(s.latitude, s.longitude, day.Year(), day.Month(), day.Day())

	s.mu.Lock()
	s.sunDay, s.sunrise, s.sunset = key, rise, set
	s.mu.Unlock()

	s.logger.Debug("Calculated sun times", "date", key,
		"sunrise", rise.In(s.location).Format("15:04:05"), "sunset", set.In(s.location).Format("15:04:05"))
	return rise, set
}

// execute runs a scheduled event: theme (with brightness), or brightness
// alone, then power
func (s *Scheduler) execute(e Event) {
	s.logger.Info("Executing scheduled event", "time", e.Expr, "theme", e.Theme)

	switch {
	case e.Theme != "":
		if _, err := s.ctrl.ActivateStored(e.Theme, e.Brightness); err != nil {
			s.logger.Error("Schedule theme failed", "theme", e.Theme, "error", err)
		}
	case e.Brightness != nil:
		if _, err := s.ctrl.SetBrightness(*e.Brightness); err != nil {
			s.logger.Error("Schedule brightness failed", "error", err)
		}
	}

	if e.Power != nil {
		if _, err := s.ctrl.SetPower("", *e.Power); err != nil {
			s.logger.Error("Schedule power failed", "error", err)
		}
	}
}

// NextEvent returns the next scheduled event
func (s *Scheduler) NextEvent() *NextEventInfo {
	if len(s.events) == 0 {
		return nil
	}

	now := s.now().In(s.location)

	// Today first, then tomorrow
	for d := 0; d < 2; d++ {
		day := now.AddDate(0, 0, d)
		var best *Event
		var bestAt time.Time
		for i := range s.events {
			at, ok := s.occurrence(s.events[i], day)
			if !ok || !at.After(now) {
				continue
			}
			if best == nil || at.Before(bestAt) {
				best, bestAt = &s.events[i], at
			}
		}
		if best != nil {
			return &NextEventInfo{
				Time:       bestAt.Format("15:04:05"),
				Expr:       best.Expr,
				In:         bestAt.Sub(now),
				InStr:      bestAt.Sub(now).Round(time.Second).String(),
				Theme:      best.Theme,
				Brightness: best.Brightness,
				Power:      best.Power,
			}
		}
	}

	return nil
}

// Events returns all scheduled events with today's resolved time
func (s *Scheduler) Events() []EventInfo {
	now := s.now()
	result := make([]EventInfo, len(s.events))
	for i, e := range s.events {
		info := EventInfo{
			Expr:       e.Expr,
			Theme:      e.Theme,
			Brightness: e.Brightness,
			Power:      e.Power,
		}
		if at, ok := s.occurrence(e, now); ok {
			info.Time = at.Format("15:04:05")
		}
		result[i] = info
	}
	return result
}

// NextEventInfo describes the next scheduled event
type NextEventInfo struct {
	Time       string        `json:"time"`
	Expr       string        `json:"expr"`
	In         time.Duration `json:"in"`
	InStr      string        `json:"in_str"`
	Theme      string        `json:"theme,omitempty"`
	Brightness *float64      `json:"brightness,omitempty"`
	Power      *bool         `json:"power,omitempty"`
}

// EventInfo describes a scheduled event
type EventInfo struct {
	Time       string   `json:"time,omitempty"` // today, empty when the sun does not rise or set
	Expr       string   `json:"expr"`
	Theme      string   `json:"theme,omitempty"`
	Brightness *float64 `json:"brightness,omitempty"`
	Power      *bool    `json:"power,omitempty"`
}

// Helper functions

// parseTime accepts "HH:MM[:SS]", "sunrise", "sunset" and solar times with
// an offset such as "sunset-00:30" or "sunrise+01:15:00"
func parseTime(s string) (Event, error) {
	expr := strings.TrimSpace(strings.ToLower(s))
	e := Event{Expr: s}

	for _, solar := range []struct {
		name   string
		anchor Anchor
	}{{"sunrise", AnchorSunrise}, {"sunset", AnchorSunset}} {
		if !strings.HasPrefix(expr, solar.name) {
			continue
		}
		e.Anchor = solar.anchor
		rest := expr[len(solar.name):]
		if rest == "" {
			return e, nil
		}
		sign := time.Duration(1)
		switch rest[0] {
		case '+':
		case '-':
			sign = -1
		default:
			return Event{}, fmt.Errorf("invalid offset %q", rest)
		}
		d, err := parseClock(rest[1:])
		if err != nil {
			return Event{}, err
		}
		e.Offset = sign * d
		return e, nil
	}

	d, err := parseClock(expr)
	if err != nil {
		return Event{}, err
	}
	e.Anchor = AnchorClock
	e.Clock = d
	return e, nil
}

// parseClock parses HH:MM[:SS] as a duration since midnight
func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04:05", s)
	if err != nil {
		// Try without seconds
		t, err = time.Parse("15:04", s)
		if err != nil {
			return 0, err
		}
	}
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second, nil
}
