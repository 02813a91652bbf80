package environment

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	mbserver "github.com/tbrandon/mbserver"
)

type fakeSink struct {
	mu      sync.Mutex
	flow    []float64
	outside []float64
	err     error
}

func (f *fakeSink) SetFlowTemperature(v float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flow = append(f.flow, v)
	return f.err
}

func (f *fakeSink) SetOutsideTemperature(v float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outside = append(f.outside, v)
	return f.err
}

func (f *fakeSink) last() (flow, outside float64, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.flow) == 0 {
		return 0, 0, 0
	}
	return f.flow[len(f.flow)-1], f.outside[len(f.outside)-1], len(f.flow)
}

func findFreeTCPAddr(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("free port: %v", err)
	}
	a := l.Addr().String()
	_ = l.Close()
	return a
}

// startHeatPump serves regs from both holding and input registers.
func startHeatPump(t *testing.T, regs map[uint16]int16) string {
	t.Helper()
	serv := mbserver.NewServer()
	read := func(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
		data := frame.GetData()
		if len(data) < 4 {
			return []byte{}, &mbserver.IllegalDataValue
		}
		start := binary.BigEndian.Uint16(data[0:2])
		qty := binary.BigEndian.Uint16(data[2:4])
		resp := make([]byte, 1+2*int(qty))
		resp[0] = byte(2 * qty)
		for i := uint16(0); i < qty; i++ {
			v, ok := regs[start+i]
			if !ok {
				return []byte{}, &mbserver.IllegalDataAddress
			}
			binary.BigEndian.PutUint16(resp[1+2*i:3+2*i], uint16(v))
		}
		return resp, &mbserver.Success
	}
	serv.RegisterFunctionHandler(3, read)
	serv.RegisterFunctionHandler(4, read)

	addr := findFreeTCPAddr(t)
	if err := serv.ListenTCP(addr); err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { serv.Close() })
	time.Sleep(20 * time.Millisecond)
	return addr
}

func TestNewValidation(t *testing.T) {
	sink := &fakeSink{}
	if _, err := New(Config{}, sink, nil); !errors.Is(err, ErrMissingAddr) {
		t.Fatalf("expected ErrMissingAddr, got %v", err)
	}
	if _, err := New(Config{Addr: "x:502", RegisterType: "coil"}, sink, nil); !errors.Is(err, ErrInvalidRegisterType) {
		t.Fatalf("expected ErrInvalidRegisterType, got %v", err)
	}
	if _, err := New(Config{Addr: "x:502", Scale: -1}, sink, nil); !errors.Is(err, ErrInvalidScale) {
		t.Fatalf("expected ErrInvalidScale, got %v", err)
	}

	p, err := New(Config{Addr: "x:502"}, sink, nil)
	if err != nil {
		t.Fatal(err)
	}
	if p.cfg.RegisterType != RegisterHolding || p.cfg.Scale != 10 || p.cfg.SlaveID != 1 || p.cfg.Interval != 30*time.Second {
		t.Fatalf("unexpected defaults %+v", p.cfg)
	}
}

func TestParseRegisterType(t *testing.T) {
	tests := []struct {
		in   string
		want RegisterType
	}{
		{"", RegisterHolding},
		{"holding", RegisterHolding},
		{" Input ", RegisterInput},
	}
	for _, tt := range tests {
		got, err := ParseRegisterType(tt.in)
		if err != nil || got != tt.want {
			t.Fatalf("ParseRegisterType(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestPollHoldingRegisters(t *testing.T) {
	addr := startHeatPump(t, map[uint16]int16{10: 455, 11: -35})
	p, err := New(Config{Addr: addr, FlowRegister: 10, OutsideRegister: 11}, &fakeSink{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	env, err := p.Poll()
	if err != nil {
		t.Fatalf("Poll() failed: %v", err)
	}
	if env.FlowTemperature != 45.5 || env.OutsideTemperature != -3.5 {
		t.Fatalf("unexpected readings %+v", env)
	}
}

func TestPollInputRegistersWithScale(t *testing.T) {
	addr := startHeatPump(t, map[uint16]int16{0: 4250, 1: 725})
	p, err := New(Config{Addr: addr, RegisterType: RegisterInput, FlowRegister: 0, OutsideRegister: 1, Scale: 100}, &fakeSink{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	env, err := p.Poll()
	if err != nil {
		t.Fatalf("Poll() failed: %v", err)
	}
	if env.FlowTemperature != 42.5 || env.OutsideTemperature != 7.25 {
		t.Fatalf("unexpected readings %+v", env)
	}
}

func TestPollMissingRegister(t *testing.T) {
	addr := startHeatPump(t, map[uint16]int16{10: 455})
	p, _ := New(Config{Addr: addr, FlowRegister: 10, OutsideRegister: 99}, &fakeSink{}, nil)
	defer p.Close()

	if _, err := p.Poll(); err == nil {
		t.Fatal("expected error for missing register")
	}
	if p.client != nil {
		t.Fatal("expected connection dropped after a failed read")
	}
}

func TestPollUnreachable(t *testing.T) {
	p, _ := New(Config{Addr: findFreeTCPAddr(t), Timeout: 200 * time.Millisecond}, &fakeSink{}, nil)

	if _, err := p.Poll(); err == nil {
		t.Fatal("expected connection error")
	}
}

func TestRunFeedsSink(t *testing.T) {
	addr := startHeatPump(t, map[uint16]int16{0: 400, 1: 50})
	sink := &fakeSink{}
	p, _ := New(Config{Addr: addr, FlowRegister: 0, OutsideRegister: 1, Interval: 10 * time.Millisecond}, sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		if _, _, n := sink.last(); n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("sink never received two polls")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	flow, outside, _ := sink.last()
	if flow != 40 || outside != 5 {
		t.Fatalf("unexpected readings flow=%v outside=%v", flow, outside)
	}
}
