// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package lights

import (
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"lighting-engine/internal/fixture"
	"lighting-engine/internal/theme"
)

func testRegistry() *fixture.Registry {
	return fixture.NewRegistry([]fixture.Definition{
		{ID: "strip", Address: "a1", Label: "Light Strip"},
		{ID: "fireplace", Address: "a2", Label: "Fireplace"},
		{ID: "shower", Address: "a3", Label: "Shower"},
	})
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestDispatcher() (*Dispatcher, *Recorder) {
	rec := NewRecorder()
	d := NewDispatcher(testRegistry(), rec, Options{MaxTransition: 5 * time.Second}, testLogger())
	return d, rec
}

func instr(id string, hue, sat, bri, kelvin float64) theme.Instruction {
	return theme.Instruction{
		FixtureID:  id,
		Hue:        hue,
		Saturation: sat,
		Brightness: bri,
		Kelvin:     kelvin,
		Duration:   500 * time.Millisecond,
	}
}

func TestApplyInstructionUpdatesCache(t *testing.T) {
	d, rec := newTestDispatcher()

	if !d.ApplyInstruction(instr("strip", 120, 80, 50, 3500), 1, 0.5) {
		t.Fatal("expected instruction to be applied")
	}

	cmd, ok := rec.Last("a1")
	if !ok {
		t.Fatal("no command sent to a1")
	}
	if cmd.Color.Brightness != 69 {
		t.Errorf("expected hardware brightness 69, got %d", cmd.Color.Brightness)
	}
	if cmd.Transition != 500*time.Millisecond {
		t.Errorf("expected transition 500ms, got %v", cmd.Transition)
	}

	st, ok := d.State("strip")
	if !ok {
		t.Fatal("strip state not found")
	}
	if !st.Cached {
		t.Error("expected cached state")
	}
	if st.Brightness != 69 || st.Hue != 120 || st.Kelvin != 3500 || !st.Power {
		t.Errorf("unexpected cached state %+v", st.FixtureState)
	}
}

func TestApplyInstructionUnknownFixture(t *testing.T) {
	d, rec := newTestDispatcher()

	if d.ApplyInstruction(instr("garage", 0, 0, 100, 3500), 1, 1) {
		t.Error("unknown fixture should not be applied")
	}
	if len(rec.Calls()) != 0 {
		t.Errorf("expected no commands, got %d", len(rec.Calls()))
	}
}

func TestApplyInstructionByAddress(t *testing.T) {
	d, _ := newTestDispatcher()

	d.ApplyInstruction(instr("a2", 10, 10, 40, 2700), 1, 1)

	st, _ := d.State("fireplace")
	if !st.Cached || st.Brightness != 40 {
		t.Errorf("expected fireplace cached at 40, got %+v", st)
	}
}

func TestApplyInstructionClamps(t *testing.T) {
	d, rec := newTestDispatcher()

	in := instr("strip", 400, 150, 120, 12000)
	in.Duration = 20 * time.Second
	d.ApplyInstruction(in, 1, 1)

	cmd, _ := rec.Last("a1")
	if cmd.Color.Hue != 360 || cmd.Color.Saturation != 100 || cmd.Color.Brightness != 100 {
		t.Errorf("expected clamped color, got %+v", cmd.Color)
	}
	if cmd.Color.Kelvin != 9000 {
		t.Errorf("expected kelvin 9000, got %d", cmd.Color.Kelvin)
	}
	if cmd.Transition != 5*time.Second {
		t.Errorf("expected transition clamped to 5s, got %v", cmd.Transition)
	}
}

func TestMasterOffPowersDown(t *testing.T) {
	d, _ := newTestDispatcher()

	d.ApplyInstruction(instr("strip", 0, 0, 100, 3500), 0, 1)

	st, _ := d.State("strip")
	if st.Brightness != 0 || st.Power {
		t.Errorf("expected dark fixture, got %+v", st.FixtureState)
	}
}

func TestSetPowerLeavesColor(t *testing.T) {
	d, rec := newTestDispatcher()

	d.ApplyInstruction(instr("strip", 200, 50, 60, 4000), 1, 1)
	res := d.SetPower([]string{"strip", "garage"}, false)

	if res.Applied != 1 || res.Skipped != 1 {
		t.Errorf("expected 1 applied 1 skipped, got %+v", res)
	}

	st, _ := d.State("strip")
	if st.Power {
		t.Error("expected power off")
	}
	if st.Hue != 200 || st.Brightness != 60 {
		t.Errorf("color fields should be untouched, got %+v", st.FixtureState)
	}

	calls := rec.Calls()
	last := calls[len(calls)-1]
	if last.Kind != "power" || last.On {
		t.Errorf("expected power off command, got %+v", last)
	}
}

func TestSetPowerUncachedFixture(t *testing.T) {
	d, _ := newTestDispatcher()

	d.SetPower([]string{"shower"}, true)

	st, _ := d.State("shower")
	if !st.Cached || !st.Power {
		t.Errorf("expected cached powered entry, got %+v", st)
	}
	if st.Kelvin != DefaultKelvin {
		t.Errorf("expected default kelvin, got %d", st.Kelvin)
	}
}

func TestSetPowerAll(t *testing.T) {
	d, rec := newTestDispatcher()

	res := d.SetPowerAll(true)
	if res.Applied != 3 {
		t.Errorf("expected 3 fixtures powered, got %d", res.Applied)
	}
	if len(rec.Calls()) != 3 {
		t.Errorf("expected 3 commands, got %d", len(rec.Calls()))
	}
}

func TestReapplyBrightnessUsesPreCurveValues(t *testing.T) {
	d, rec := newTestDispatcher()

	d.ApplyInstruction(instr("strip", 120, 80, 80, 3500), 0.25, 1)
	dimmed, _ := d.State("strip")
	if dimmed.Brightness >= 80 {
		t.Fatalf("expected dimmed brightness, got %d", dimmed.Brightness)
	}

	res := d.ReapplyBrightness([]BrightnessEntry{
		{ID: "strip", Hue: 120, Saturation: 80, Brightness: 80, Kelvin: 3500},
		{ID: "garage", Brightness: 50},
	}, 1, 300*time.Millisecond)

	if res.Applied != 1 || res.Skipped != 1 {
		t.Errorf("unexpected result %+v", res)
	}

	cmd, _ := rec.Last("a1")
	if cmd.Color.Brightness != 80 {
		t.Errorf("expected brightness 80 at full master, got %d", cmd.Color.Brightness)
	}
	if cmd.Transition != 300*time.Millisecond {
		t.Errorf("expected transition 300ms, got %v", cmd.Transition)
	}
	if d.Master() != 1 {
		t.Errorf("expected master 1, got %v", d.Master())
	}
}

func TestReapplyBrightnessKeepsGroup(t *testing.T) {
	d, rec := newTestDispatcher()

	half := 0.5
	d.ReapplyBrightness([]BrightnessEntry{
		{ID: "strip", Brightness: 50, Kelvin: 3500, Group: &half},
	}, 1, 0)

	cmd, _ := rec.Last("a1")
	if cmd.Color.Brightness != 69 {
		t.Errorf("expected group-curved brightness 69, got %d", cmd.Color.Brightness)
	}
}

func TestRebrightenAfterMasterOff(t *testing.T) {
	d, _ := newTestDispatcher()

	d.ApplyInstructions([]theme.Instruction{
		instr("strip", 10, 100, 70, 3000),
		instr("fireplace", 20, 100, 40, 2500),
	}, 0)

	if st, _ := d.State("strip"); st.Brightness != 0 {
		t.Fatalf("expected master off, got %d", st.Brightness)
	}

	res := d.Rebrighten(1, 0)
	if res.Applied != 2 {
		t.Errorf("expected 2 fixtures re-applied, got %+v", res)
	}

	if st, _ := d.State("strip"); st.Brightness != 70 {
		t.Errorf("expected strip restored to 70, got %d", st.Brightness)
	}
	if st, _ := d.State("fireplace"); st.Brightness != 40 {
		t.Errorf("expected fireplace restored to 40, got %d", st.Brightness)
	}
}

func TestRebrightenIgnoresPowerOnlyEntries(t *testing.T) {
	d, rec := newTestDispatcher()

	d.SetPower([]string{"shower"}, true)
	rec.Reset()

	if res := d.Rebrighten(0.5, 0); res.Applied != 0 {
		t.Errorf("expected nothing to re-apply, got %+v", res)
	}
	if len(rec.Calls()) != 0 {
		t.Errorf("expected no commands, got %d", len(rec.Calls()))
	}
}

func TestStatesDefaults(t *testing.T) {
	d, _ := newTestDispatcher()

	d.ApplyInstruction(instr("fireplace", 30, 90, 60, 2500), 1, 1)

	states := d.States()
	if len(states) != 3 {
		t.Fatalf("expected 3 states, got %d", len(states))
	}
	if states[0].ID != "strip" || states[0].Cached {
		t.Errorf("expected uncached strip first, got %+v", states[0])
	}
	if states[0].Kelvin != DefaultKelvin {
		t.Errorf("expected default kelvin, got %d", states[0].Kelvin)
	}
	if !states[1].Cached || states[1].Brightness != 60 {
		t.Errorf("expected cached fireplace at 60, got %+v", states[1])
	}

	if _, ok := d.State("garage"); ok {
		t.Error("expected unknown fixture to be not found")
	}
}

func TestStateSubscribe(t *testing.T) {
	d, _ := newTestDispatcher()

	ch := d.Subscribe()
	defer d.Unsubscribe(ch)

	select {
	case <-ch:
		t.Error("channel should be empty initially")
	default:
		// OK
	}
}

func TestStateBroadcast(t *testing.T) {
	d, _ := newTestDispatcher()

	ch := d.Subscribe()
	defer d.Unsubscribe(ch)

	d.ApplyInstruction(instr("strip", 120, 80, 50, 3500), 1, 1)

	select {
	case data := <-ch:
		var update StateUpdate
		if err := json.Unmarshal(data, &update); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if update.Type != "state" {
			t.Errorf("expected type state, got %s", update.Type)
		}
		if update.Fixtures["strip"].Brightness != 50 {
			t.Errorf("expected strip at 50, got %+v", update.Fixtures["strip"])
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for broadcast")
	}
}

func TestFrameBroadcastThrottled(t *testing.T) {
	d, _ := newTestDispatcher()
	d.throttle = time.Second

	now := time.Unix(1000, 0)
	d.now = func() time.Time { return now }

	ch := d.Subscribe()
	defer d.Unsubscribe(ch)

	frame := []theme.Instruction{instr("strip", 1, 1, 10, 3500)}
	d.ApplyFrame(frame, 1)
	d.ApplyFrame(frame, 1)

	if got := len(ch); got != 1 {
		t.Errorf("expected 1 broadcast inside throttle window, got %d", got)
	}

	now = now.Add(2 * time.Second)
	d.ApplyFrame(frame, 1)
	if got := len(ch); got != 2 {
		t.Errorf("expected 2 broadcasts after window, got %d", got)
	}
}

func TestRefreshResendsStaleFixtures(t *testing.T) {
	d, rec := newTestDispatcher()

	now := time.Unix(1000, 0)
	d.now = func() time.Time { return now }

	d.ApplyInstruction(instr("strip", 1, 1, 10, 3500), 1, 1)
	rec.Reset()

	d.refresh(time.Second)
	if len(rec.Calls()) != 0 {
		t.Errorf("fresh fixture should not be resent, got %d commands", len(rec.Calls()))
	}

	now = now.Add(5 * time.Second)
	d.refresh(time.Second)
	calls := rec.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected power + color resend, got %d", len(calls))
	}
	if calls[1].Color.Brightness != 10 {
		t.Errorf("expected cached brightness resent, got %d", calls[1].Color.Brightness)
	}
}

func TestStartStopRefreshRepeated(t *testing.T) {
	d, _ := newTestDispatcher()

	for i := 0; i < 200; i++ {
		d.StartRefresh(time.Microsecond)
		d.StopRefresh()
	}
	// Second stop is a no-op
	d.StopRefresh()
}

func TestInitMessage(t *testing.T) {
	d, _ := newTestDispatcher()

	msg := d.InitMessage()
	if msg.Type != "init" {
		t.Errorf("expected type init, got %s", msg.Type)
	}
	if len(msg.Fixtures) != 3 || len(msg.States) != 3 {
		t.Errorf("unexpected init message %+v", msg)
	}
}
