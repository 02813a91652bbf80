package environment

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goburrow/modbus"

	"github.com/Agrid-Dev/preheat/internal/heating"
	"github.com/Agrid-Dev/preheat/internal/logger"
)

var (
	ErrInvalidRegisterType = errors.New("register type must be holding or input")
	ErrInvalidScale        = errors.New("scale must be greater than zero")
	ErrMissingAddr         = errors.New("heat pump address is required")
)

type RegisterType string

const (
	RegisterHolding RegisterType = "holding"
	RegisterInput   RegisterType = "input"
)

func ParseRegisterType(s string) (RegisterType, error) {
	switch RegisterType(strings.ToLower(strings.TrimSpace(s))) {
	case RegisterHolding, "":
		return RegisterHolding, nil
	case RegisterInput:
		return RegisterInput, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRegisterType, s)
	}
}

// Config describes where a heat pump exposes its flow and outside
// temperatures. Both registers hold signed values divided by Scale.
type Config struct {
	Addr            string
	SlaveID         byte
	RegisterType    RegisterType
	FlowRegister    uint16
	OutsideRegister uint16
	Scale           float64
	Interval        time.Duration
	Timeout         time.Duration
}

// Sink receives the readings; hoststate.Store satisfies it.
type Sink interface {
	SetFlowTemperature(v float64) error
	SetOutsideTemperature(v float64) error
}

// Poller reads the heat pump over Modbus TCP on an interval.
type Poller struct {
	cfg  Config
	sink Sink
	log  *logger.Logger

	mu      sync.Mutex
	handler *modbus.TCPClientHandler
	client  modbus.Client
}

func New(cfg Config, sink Sink, log *logger.Logger) (*Poller, error) {
	if cfg.Addr == "" {
		return nil, ErrMissingAddr
	}
	rt, err := ParseRegisterType(string(cfg.RegisterType))
	if err != nil {
		return nil, err
	}
	cfg.RegisterType = rt
	if cfg.Scale == 0 {
		cfg.Scale = 10
	}
	if cfg.Scale < 0 {
		return nil, ErrInvalidScale
	}
	if cfg.SlaveID == 0 {
		cfg.SlaveID = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Poller{cfg: cfg, sink: sink, log: log.Named("heatpump")}, nil
}

func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	defer p.Close()

	p.pollOnce()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.pollOnce()
		}
	}
}

func (p *Poller) pollOnce() {
	env, err := p.Poll()
	if err != nil {
		p.log.Warnw("heat pump poll failed", "addr", p.cfg.Addr, "err", err)
		return
	}
	if err := p.sink.SetFlowTemperature(env.FlowTemperature); err != nil {
		p.log.Warnw("rejecting flow temperature", "value", env.FlowTemperature, "err", err)
	}
	if err := p.sink.SetOutsideTemperature(env.OutsideTemperature); err != nil {
		p.log.Warnw("rejecting outside temperature", "value", env.OutsideTemperature, "err", err)
	}
}

// Poll reads both registers. A failed read drops the connection so the
// next poll reconnects.
func (p *Poller) Poll() (heating.EnvironmentReadings, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.connect(); err != nil {
		return heating.EnvironmentReadings{}, err
	}
	flow, err := p.read(p.cfg.FlowRegister)
	if err != nil {
		p.disconnect()
		return heating.EnvironmentReadings{}, fmt.Errorf("read flow register %d: %w", p.cfg.FlowRegister, err)
	}
	outside, err := p.read(p.cfg.OutsideRegister)
	if err != nil {
		p.disconnect()
		return heating.EnvironmentReadings{}, fmt.Errorf("read outside register %d: %w", p.cfg.OutsideRegister, err)
	}
	return heating.EnvironmentReadings{FlowTemperature: flow, OutsideTemperature: outside}, nil
}

func (p *Poller) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnect()
}

func (p *Poller) connect() error {
	if p.client != nil {
		return nil
	}
	h := modbus.NewTCPClientHandler(p.cfg.Addr)
	h.SlaveId = p.cfg.SlaveID
	h.Timeout = p.cfg.Timeout
	if err := h.Connect(); err != nil {
		return fmt.Errorf("connect %s: %w", p.cfg.Addr, err)
	}
	p.handler = h
	p.client = modbus.NewClient(h)
	return nil
}

func (p *Poller) disconnect() {
	if p.handler != nil {
		_ = p.handler.Close()
	}
	p.handler = nil
	p.client = nil
}

func (p *Poller) read(addr uint16) (float64, error) {
	var (
		res []byte
		err error
	)
	switch p.cfg.RegisterType {
	case RegisterInput:
		res, err = p.client.ReadInputRegisters(addr, 1)
	default:
		res, err = p.client.ReadHoldingRegisters(addr, 1)
	}
	if err != nil {
		return 0, err
	}
	if len(res) < 2 {
		return 0, fmt.Errorf("short response: %d bytes", len(res))
	}
	return float64(int16(binary.BigEndian.Uint16(res[0:2]))) / p.cfg.Scale, nil
}
