package modbusctrl

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	mbserver "github.com/tbrandon/mbserver"

	"github.com/Agrid-Dev/preheat/internal/heating"
	"github.com/Agrid-Dev/preheat/internal/ports"
)

// Input registers per room, starting at room index * RoomRegisters.
const (
	RegLeadMinutes = iota
	RegPhase
	RegCurrentTemperature
	RegObservedTarget
	RegNextTargetTemperature
	RegFlowTemperature
	RegAmbientTemperature
	RegMinutesToNextChange

	RoomRegisters
)

// Holding registers.
const (
	RegEnvFlowTemperature = iota
	RegEnvOutsideTemperature

	environmentRegisters
)

// Unavailable is served for values that are not known yet.
const Unavailable uint16 = 0x8000

// Config for the Modbus controller.
type Config struct {
	Addr   string
	UnitID byte // UnitID (Modbus slave/unit ID). Use an integer 1..247.
	// Rooms fixes the register layout: room i starts at i*RoomRegisters.
	Rooms []string
	Now   func() time.Time
}

type Controller struct {
	svc   ports.RoomService
	env   ports.EnvironmentProvider
	state ports.StateWriter
	cfg   Config

	serv *mbserver.Server
}

func New(svc ports.RoomService, env ports.EnvironmentProvider, state ports.StateWriter, cfg Config) (*Controller, error) {
	if cfg.UnitID == 0 {
		return nil, errors.New("modbus: UnitID is required (non-zero)")
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:1502"
	}
	if len(cfg.Rooms)*RoomRegisters > math.MaxUint16 {
		return nil, errors.New("modbus: too many rooms for the register map")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Controller{svc: svc, env: env, state: state, cfg: cfg}, nil
}

// Run starts the Modbus server: reads are served from the latest room
// snapshots, environment writes go to the state writer. It blocks until
// ctx is canceled.
func (c *Controller) Run(ctx context.Context) error {
	serv := mbserver.NewServer()
	c.serv = serv

	// Register handlers BEFORE starting the TCP listener to avoid races inside mbserver
	// between handler registration and the server's goroutines.
	serv.RegisterFunctionHandler(2, c.readDiscreteInputs)
	serv.RegisterFunctionHandler(3, c.readHoldingRegisters)
	serv.RegisterFunctionHandler(4, c.readInputRegisters)
	serv.RegisterFunctionHandler(6, c.writeSingleRegister)
	serv.RegisterFunctionHandler(16, c.writeMultipleRegisters)

	// Now start listening after all handlers are registered.
	if err := serv.ListenTCP(c.cfg.Addr); err != nil {
		return fmt.Errorf("mbserver listen tcp %s: %w", c.cfg.Addr, err)
	}

	// Block until ctx.Done()
	<-ctx.Done()
	serv.Close()
	return ctx.Err()
}

// Read Discrete Inputs (function 2): input i is set while room i is HEATING.
func (c *Controller) readDiscreteInputs(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	start, qty, exc := readRange(frame.GetData(), 2000, len(c.cfg.Rooms))
	if exc != nil {
		return []byte{}, exc
	}
	byteCount := (qty + 7) / 8
	resp := make([]byte, 1+byteCount)
	resp[0] = byte(byteCount)
	for i := 0; i < qty; i++ {
		snap, err := c.svc.Room(c.cfg.Rooms[start+i])
		if err == nil && snap.Phase == heating.PhaseHeating {
			resp[1+i/8] |= 1 << (i % 8)
		}
	}
	return resp, &mbserver.Success
}

// Read Holding Registers (function 3): environment readings.
func (c *Controller) readHoldingRegisters(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	start, qty, exc := readRange(frame.GetData(), 125, environmentRegisters)
	if exc != nil {
		return []byte{}, exc
	}
	env, ok := c.env.Environment()
	regs := make([]uint16, 0, qty)
	for addr := start; addr < start+qty; addr++ {
		if !ok {
			regs = append(regs, Unavailable)
			continue
		}
		switch addr {
		case RegEnvFlowTemperature:
			regs = append(regs, encodeTemp(env.FlowTemperature))
		case RegEnvOutsideTemperature:
			regs = append(regs, encodeTemp(env.OutsideTemperature))
		}
	}
	return registersResponse(regs), &mbserver.Success
}

// Read Input Registers (function 4): RoomRegisters per configured room.
func (c *Controller) readInputRegisters(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	start, qty, exc := readRange(frame.GetData(), 125, len(c.cfg.Rooms)*RoomRegisters)
	if exc != nil {
		return []byte{}, exc
	}
	now := c.cfg.Now()
	regs := make([]uint16, 0, qty)
	for addr := start; addr < start+qty; addr++ {
		snap, err := c.svc.Room(c.cfg.Rooms[addr/RoomRegisters])
		if err != nil {
			regs = append(regs, Unavailable)
			continue
		}
		regs = append(regs, roomRegister(snap, addr%RoomRegisters, now))
	}
	return registersResponse(regs), &mbserver.Success
}

func roomRegister(s heating.Snapshot, k int, now time.Time) uint16 {
	switch k {
	case RegLeadMinutes:
		return clampUint16(float64(s.PredictedLeadMinutes))
	case RegPhase:
		return uint16(s.Phase)
	case RegCurrentTemperature:
		return encodeTemp(s.CurrentTemperature)
	case RegObservedTarget:
		return encodeTemp(s.ObservedTarget)
	case RegNextTargetTemperature:
		return encodeTemp(s.NextTargetTemperature)
	case RegFlowTemperature:
		return encodeOptionalTemp(s.FlowTemperature)
	case RegAmbientTemperature:
		return encodeOptionalTemp(s.AmbientTemperature)
	case RegMinutesToNextChange:
		return clampUint16(math.Ceil(s.NextScheduleChange.Sub(now).Minutes()))
	}
	return Unavailable
}

// Write Single Register (function 6)
func (c *Controller) writeSingleRegister(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	addr := binary.BigEndian.Uint16(data[0:2])
	value := binary.BigEndian.Uint16(data[2:4])

	if exc := c.writeEnvironment(int(addr), value); exc != nil {
		return []byte{}, exc
	}

	resp := make([]byte, 4)
	copy(resp, data[0:4])
	return resp, &mbserver.Success
}

// Write Multiple Registers (function 16)
func (c *Controller) writeMultipleRegisters(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	d := frame.GetData()
	if len(d) < 5 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	start := binary.BigEndian.Uint16(d[0:2])
	quantity := binary.BigEndian.Uint16(d[2:4])
	byteCount := int(d[4])
	if byteCount != int(quantity)*2 || len(d) < 5+byteCount {
		return []byte{}, &mbserver.IllegalDataValue
	}
	if int(start)+int(quantity) > environmentRegisters {
		return []byte{}, &mbserver.IllegalDataAddress
	}
	for i := 0; i < int(quantity); i++ {
		val := binary.BigEndian.Uint16(d[5+i*2 : 5+i*2+2])
		if exc := c.writeEnvironment(int(start)+i, val); exc != nil {
			return []byte{}, exc
		}
	}

	resp := make([]byte, 4)
	binary.BigEndian.PutUint16(resp[0:2], start)
	binary.BigEndian.PutUint16(resp[2:4], quantity)
	return resp, &mbserver.Success
}

func (c *Controller) writeEnvironment(addr int, value uint16) *mbserver.Exception {
	if value == Unavailable {
		return &mbserver.IllegalDataValue
	}
	var err error
	switch addr {
	case RegEnvFlowTemperature:
		err = c.state.SetFlowTemperature(decodeTemp(value))
	case RegEnvOutsideTemperature:
		err = c.state.SetOutsideTemperature(decodeTemp(value))
	default:
		return &mbserver.IllegalDataAddress
	}
	if err != nil {
		return &mbserver.IllegalDataValue
	}
	return nil
}

// readRange parses a start/quantity request against a map of size registers.
func readRange(data []byte, maxQty, size int) (start, qty int, exc *mbserver.Exception) {
	if len(data) < 4 {
		return 0, 0, &mbserver.IllegalDataValue
	}
	start = int(binary.BigEndian.Uint16(data[0:2]))
	qty = int(binary.BigEndian.Uint16(data[2:4]))
	if qty == 0 || qty > maxQty {
		return 0, 0, &mbserver.IllegalDataValue
	}
	if start+qty > size {
		return 0, 0, &mbserver.IllegalDataAddress
	}
	return start, qty, nil
}

func registersResponse(regs []uint16) []byte {
	byteCount := len(regs) * 2
	resp := make([]byte, 1+byteCount)
	resp[0] = byte(byteCount)
	for i, r := range regs {
		binary.BigEndian.PutUint16(resp[1+i*2:1+i*2+2], r)
	}
	return resp
}

const TemperatureScale int = 100

// encodeTemp keeps Unavailable out of the valid range.
func encodeTemp(v float64) uint16 {
	r := min(max(int(math.Round(v*float64(TemperatureScale))), math.MinInt16+1), math.MaxInt16)
	return uint16(int16(r))
}

func encodeOptionalTemp(v *float64) uint16 {
	if v == nil {
		return Unavailable
	}
	return encodeTemp(*v)
}

func decodeTemp(u uint16) float64 {
	i := int16(u)
	return float64(i) / float64(TemperatureScale)
}

func clampUint16(v float64) uint16 {
	return uint16(min(max(v, 0), math.MaxUint16))
}
