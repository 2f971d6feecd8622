// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package modbus

import (
	"encoding/binary"
	"log/slog"
	"math"

	"github.com/tbrandon/mbserver"

	"lighting-engine/internal/api"
	"lighting-engine/internal/config"
	"lighting-engine/internal/lights"
)

// Register layout
const (
	RegistersPerFixture = 5    // hue, saturation, brightness, kelvin, power
	RegMaster           = 1000 // master brightness x100
)

// Offsets inside a fixture block
const (
	offHue = iota
	offSaturation
	offBrightness
	offKelvin
	offPower
)

// Coils
const (
	CoilAnimation = 0 // animation running; write 0 stops it
	CoilPower     = 1 // every fixture powered; write switches all
)

// Server is the Modbus TCP server for the lighting engine
// Register mapping (fixture i in registry order, base = i*5):
//   - base+0 hue (0-360), base+1 saturation (0-100), base+2 hardware
//     brightness (0-100), base+3 kelvin, base+4 power (0/1)
//   - FC16 on base with 4 or 5 registers sets a color (brightness is then
//     the logical 0-100 value) and optionally power
//   - FC06 on base+4 switches a fixture
//   - Register 1000 = master brightness x100 (read/write)
type Server struct {
	cfg    *config.ModbusConfig
	api    *api.Handler
	ids    []string
	logger *slog.Logger
	mb     *mbserver.Server
}

// NewServer creates a new Modbus TCP server
func NewServer(cfg *config.ModbusConfig, handler *api.Handler, logger *slog.Logger) *Server {
	states := handler.States()
	ids := make([]string, len(states))
	for i, st := range states {
		ids[i] = st.ID
	}
	return &Server{
		cfg:    cfg,
		api:    handler,
		ids:    ids,
		logger: logger,
	}
}

// Start starts the Modbus TCP server
func (s *Server) Start() error {
	s.mb = mbserver.NewServer()

	// Register custom handlers
	s.mb.RegisterFunctionHandler(3, s.handleReadHoldingRegisters)    // FC03
	s.mb.RegisterFunctionHandler(6, s.handleWriteSingleRegister)     // FC06
	s.mb.RegisterFunctionHandler(16, s.handleWriteMultipleRegisters) // FC16
	s.mb.RegisterFunctionHandler(1, s.handleReadCoils)               // FC01
	s.mb.RegisterFunctionHandler(5, s.handleWriteSingleCoil)         // FC05

	addr := s.cfg.Port
	if addr == "" {
		addr = ":502"
	}

	s.logger.Info("Modbus TCP server starting", "addr", addr, "fixtures", len(s.ids))

	go func() {
		if err := s.mb.ListenTCP(addr); err != nil {
			s.logger.Error("Modbus TCP server error", "error", err)
		}
	}()

	return nil
}

// Stop stops the Modbus TCP server
func (s *Server) Stop() {
	if s.mb != nil {
		s.mb.Close()
		s.logger.Info("Modbus TCP server stopped")
	}
}

func (s *Server) fixtureRegisters() uint16 {
	return uint16(len(s.ids) * RegistersPerFixture)
}

// registerValue returns one holding register from the state cache
func registerValue(st lights.FixtureStatus, offset int) uint16 {
	switch offset {
	case offHue:
		return uint16(math.Round(st.Hue))
	case offSaturation:
		return uint16(math.Round(st.Saturation))
	case offBrightness:
		return uint16(st.Brightness)
	case offKelvin:
		return uint16(st.Kelvin)
	default:
		if st.Power {
			return 1
		}
		return 0
	}
}

// FC03: Read Holding Registers (fixture states or master)
func (s *Server) handleReadHoldingRegisters(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}

	startAddr := binary.BigEndian.Uint16(data[0:2])
	quantity := binary.BigEndian.Uint16(data[2:4])

	if startAddr == RegMaster && quantity == 1 {
		resp := make([]byte, 3)
		resp[0] = 2
		binary.BigEndian.PutUint16(resp[1:], uint16(math.Round(s.api.Brightness()*100)))
		return resp, &mbserver.Success
	}

	if quantity == 0 || int(startAddr)+int(quantity) > int(s.fixtureRegisters()) {
		return []byte{}, &mbserver.IllegalDataAddress
	}

	states := s.api.States()

	// Build response: byte count then one big-endian word per register
	resp := make([]byte, 1+quantity*2)
	resp[0] = byte(quantity * 2)

	for i := uint16(0); i < quantity; i++ {
		reg := int(startAddr + i)
		st := states[reg/RegistersPerFixture]
		binary.BigEndian.PutUint16(resp[1+i*2:], registerValue(st, reg%RegistersPerFixture))
	}

	return resp, &mbserver.Success
}

// FC06: Write Single Register (master or fixture power)
func (s *Server) handleWriteSingleRegister(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}

	addr := binary.BigEndian.Uint16(data[0:2])
	value := binary.BigEndian.Uint16(data[2:4])

	switch {
	case addr == RegMaster:
		if value > 100 {
			return []byte{}, &mbserver.IllegalDataValue
		}
		if _, err := s.api.SetBrightness(float64(value) / 100); err != nil {
			s.logger.Warn("Modbus brightness failed", "value", value, "error", err)
			return []byte{}, &mbserver.SlaveDeviceFailure
		}
		s.logger.Debug("Modbus master brightness", "value", value)
	case addr < s.fixtureRegisters() && int(addr)%RegistersPerFixture == offPower:
		id := s.ids[int(addr)/RegistersPerFixture]
		if _, err := s.api.SetPower(id, value != 0); err != nil {
			s.logger.Warn("Modbus power failed", "fixture", id, "error", err)
			return []byte{}, &mbserver.SlaveDeviceFailure
		}
		s.logger.Debug("Modbus power", "fixture", id, "on", value != 0)
	default:
		return []byte{}, &mbserver.IllegalDataAddress
	}

	// Echo request as response
	return data[:4], &mbserver.Success
}

// FC16: Write Multiple Registers (one fixture color block)
func (s *Server) handleWriteMultipleRegisters(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 5 {
		return []byte{}, &mbserver.IllegalDataValue
	}

	startAddr := binary.BigEndian.Uint16(data[0:2])
	quantity := binary.BigEndian.Uint16(data[2:4])
	byteCount := data[4]

	if startAddr >= s.fixtureRegisters() || int(startAddr)%RegistersPerFixture != 0 {
		return []byte{}, &mbserver.IllegalDataAddress
	}
	if quantity != 4 && quantity != 5 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	if int(byteCount) != int(quantity)*2 || len(data) < 5+int(byteCount) {
		return []byte{}, &mbserver.IllegalDataValue
	}

	reg := func(i int) uint16 {
		return binary.BigEndian.Uint16(data[5+i*2:])
	}

	id := s.ids[int(startAddr)/RegistersPerFixture]
	resp := s.api.Handle(&api.Request{
		Cmd:    "set",
		Target: id,
		Color: &api.Color{
			Hue:        float64(reg(offHue)),
			Saturation: float64(reg(offSaturation)),
			Brightness: float64(reg(offBrightness)),
			Kelvin:     float64(reg(offKelvin)),
		},
	})
	if resp.Type == "error" {
		s.logger.Warn("Modbus color failed", "fixture", id, "error", resp.Error)
		return []byte{}, &mbserver.SlaveDeviceFailure
	}
	if quantity == 5 {
		if _, err := s.api.SetPower(id, reg(offPower) != 0); err != nil {
			return []byte{}, &mbserver.SlaveDeviceFailure
		}
	}

	s.logger.Debug("Modbus write color", "fixture", id, "registers", quantity)

	// Response: start addr + quantity
	out := make([]byte, 4)
	binary.BigEndian.PutUint16(out[0:2], startAddr)
	binary.BigEndian.PutUint16(out[2:4], quantity)
	return out, &mbserver.Success
}

// FC01: Read Coils (animation, power)
func (s *Server) handleReadCoils(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}

	startAddr := binary.BigEndian.Uint16(data[0:2])
	quantity := binary.BigEndian.Uint16(data[2:4])

	if quantity == 0 || startAddr+quantity > 2 {
		return []byte{}, &mbserver.IllegalDataAddress
	}

	var all byte
	if s.api.AnimationRunning() {
		all |= 1 << CoilAnimation
	}
	powered := len(s.ids) > 0
	for _, st := range s.api.States() {
		if !st.Power {
			powered = false
			break
		}
	}
	if powered {
		all |= 1 << CoilPower
	}

	coils := (all >> startAddr) & (1<<quantity - 1)
	return []byte{1, coils}, &mbserver.Success // byte count + coils byte
}

// FC05: Write Single Coil (stop animation, power all)
func (s *Server) handleWriteSingleCoil(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}

	addr := binary.BigEndian.Uint16(data[0:2])
	value := binary.BigEndian.Uint16(data[2:4])

	on := value == 0xFF00

	switch addr {
	case CoilAnimation: // Only a write 0 has an effect
		if !on && s.api.StopAnimation() {
			s.logger.Info("Modbus: animation stopped")
		}
	case CoilPower:
		if _, err := s.api.SetPower("", on); err != nil {
			return []byte{}, &mbserver.SlaveDeviceFailure
		}
		s.logger.Info("Modbus: power all", "on", on)
	default:
		return []byte{}, &mbserver.IllegalDataAddress
	}

	// Echo request as response
	return data[:4], &mbserver.Success
}
