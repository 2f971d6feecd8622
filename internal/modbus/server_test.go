// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package modbus

import (
	"encoding/binary"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/tbrandon/mbserver"

	"lighting-engine/internal/animation"
	"lighting-engine/internal/api"
	"lighting-engine/internal/config"
	"lighting-engine/internal/fixture"
	"lighting-engine/internal/lights"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setupServer(t *testing.T) (*Server, *api.Handler, *lights.Recorder) {
	t.Helper()
	logger := testLogger()
	reg := fixture.FromConfig(&config.Config{Fixtures: []config.Fixture{
		{ID: "strip", Address: "a1"},
		{ID: "fireplace", Address: "a2"},
	}})
	rec := lights.NewRecorder()
	d := lights.NewDispatcher(reg, rec, lights.Options{MaxTransition: 5 * time.Second}, logger)
	e := animation.New(d, animation.Config{Interval: time.Millisecond}, logger)
	t.Cleanup(e.Stop)

	h := api.NewHandler(d, e, nil, 1, logger)
	return NewServer(&config.ModbusConfig{Port: ":5020"}, h, logger), h, rec
}

func frame(fn uint8, words ...uint16) *mbserver.TCPFrame {
	data := make([]byte, len(words)*2)
	for i, w := range words {
		binary.BigEndian.PutUint16(data[i*2:], w)
	}
	return &mbserver.TCPFrame{Function: fn, Data: data}
}

// multiFrame builds an FC16 request
func multiFrame(start uint16, values ...uint16) *mbserver.TCPFrame {
	data := make([]byte, 5+len(values)*2)
	binary.BigEndian.PutUint16(data[0:2], start)
	binary.BigEndian.PutUint16(data[2:4], uint16(len(values)))
	data[4] = byte(len(values) * 2)
	for i, v := range values {
		binary.BigEndian.PutUint16(data[5+i*2:], v)
	}
	return &mbserver.TCPFrame{Function: 16, Data: data}
}

func TestWriteColorBlockAndRead(t *testing.T) {
	s, _, rec := setupServer(t)

	// fireplace base = 5
	if _, ex := s.handleWriteMultipleRegisters(nil, multiFrame(5, 30, 90, 80, 2700, 1)); ex != &mbserver.Success {
		t.Fatalf("write failed: %v", ex)
	}
	cmd, ok := rec.Last("a2")
	if !ok || cmd.Color.Brightness != 80 || cmd.Color.Kelvin != 2700 {
		t.Errorf("unexpected color command %+v", cmd)
	}

	resp, ex := s.handleReadHoldingRegisters(nil, frame(3, 5, 5))
	if ex != &mbserver.Success {
		t.Fatalf("read failed: %v", ex)
	}
	if resp[0] != 10 {
		t.Fatalf("expected byte count 10, got %d", resp[0])
	}
	want := []uint16{30, 90, 80, 2700, 1}
	for i, w := range want {
		if got := binary.BigEndian.Uint16(resp[1+i*2:]); got != w {
			t.Errorf("register %d: expected %d, got %d", 5+i, w, got)
		}
	}
}

func TestWriteColorBlockMisaligned(t *testing.T) {
	s, _, _ := setupServer(t)

	if _, ex := s.handleWriteMultipleRegisters(nil, multiFrame(3, 0, 0, 0, 0)); ex != &mbserver.IllegalDataAddress {
		t.Errorf("expected IllegalDataAddress, got %v", ex)
	}
	if _, ex := s.handleWriteMultipleRegisters(nil, multiFrame(0, 0, 0)); ex != &mbserver.IllegalDataValue {
		t.Errorf("expected IllegalDataValue, got %v", ex)
	}
}

func TestReadOutOfRange(t *testing.T) {
	s, _, _ := setupServer(t)

	if _, ex := s.handleReadHoldingRegisters(nil, frame(3, 8, 5)); ex != &mbserver.IllegalDataAddress {
		t.Errorf("expected IllegalDataAddress, got %v", ex)
	}
}

func TestMasterRegister(t *testing.T) {
	s, h, _ := setupServer(t)

	if _, ex := s.handleWriteSingleRegister(nil, frame(6, RegMaster, 40)); ex != &mbserver.Success {
		t.Fatalf("write failed: %v", ex)
	}
	if h.Brightness() != 0.4 {
		t.Errorf("expected master 0.4, got %v", h.Brightness())
	}

	resp, ex := s.handleReadHoldingRegisters(nil, frame(3, RegMaster, 1))
	if ex != &mbserver.Success {
		t.Fatalf("read failed: %v", ex)
	}
	if got := binary.BigEndian.Uint16(resp[1:]); got != 40 {
		t.Errorf("expected 40, got %d", got)
	}

	if _, ex := s.handleWriteSingleRegister(nil, frame(6, RegMaster, 101)); ex != &mbserver.IllegalDataValue {
		t.Errorf("expected IllegalDataValue, got %v", ex)
	}
}

func TestPowerRegister(t *testing.T) {
	s, _, rec := setupServer(t)

	if _, ex := s.handleWriteSingleRegister(nil, frame(6, 4, 1)); ex != &mbserver.Success {
		t.Fatalf("write failed: %v", ex)
	}
	cmd, ok := rec.LastPower("a1")
	if !ok || cmd.Kind != "power" || !cmd.On {
		t.Errorf("expected a1 power on, got %+v", cmd)
	}

	// Hue register is not writable on its own
	if _, ex := s.handleWriteSingleRegister(nil, frame(6, 0, 10)); ex != &mbserver.IllegalDataAddress {
		t.Errorf("expected IllegalDataAddress, got %v", ex)
	}
}

func TestCoils(t *testing.T) {
	s, _, rec := setupServer(t)

	resp, ex := s.handleReadCoils(nil, frame(1, 0, 2))
	if ex != &mbserver.Success {
		t.Fatalf("read failed: %v", ex)
	}
	if resp[1] != 0 {
		t.Errorf("expected no coils set, got %08b", resp[1])
	}

	if _, ex := s.handleWriteSingleCoil(nil, frame(5, CoilPower, 0xFF00)); ex != &mbserver.Success {
		t.Fatalf("write failed: %v", ex)
	}
	if len(rec.Calls()) != 2 {
		t.Errorf("expected 2 power commands, got %d", len(rec.Calls()))
	}

	resp, _ = s.handleReadCoils(nil, frame(1, 0, 2))
	if resp[1] != 1<<CoilPower {
		t.Errorf("expected power coil set, got %08b", resp[1])
	}

	resp, _ = s.handleReadCoils(nil, frame(1, CoilPower, 1))
	if resp[1] != 1 {
		t.Errorf("expected shifted power coil, got %08b", resp[1])
	}

	// Stopping an idle engine is accepted
	if _, ex := s.handleWriteSingleCoil(nil, frame(5, CoilAnimation, 0)); ex != &mbserver.Success {
		t.Errorf("expected success, got %v", ex)
	}
	if _, ex := s.handleWriteSingleCoil(nil, frame(5, 7, 0)); ex != &mbserver.IllegalDataAddress {
		t.Errorf("expected IllegalDataAddress, got %v", ex)
	}
}
