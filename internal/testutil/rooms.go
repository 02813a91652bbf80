package testutil

import (
	"context"
	"sync"

	"github.com/Agrid-Dev/preheat/internal/heating"
	"github.com/Agrid-Dev/preheat/internal/hoststate"
)

// FakeRoomService is a reusable fake implementing ports.RoomService.
// Put ONLY what multiple test packages need here.
type FakeRoomService struct {
	mu sync.Mutex
	S  []heating.Snapshot

	SessionsByRoom map[string][]heating.Session
	SessionsErr    error
	SessionsLimit  int
}

func NewFakeRoomService(snaps ...heating.Snapshot) *FakeRoomService {
	return &FakeRoomService{S: snaps, SessionsByRoom: map[string][]heating.Session{}}
}

// Set replaces the snapshot of the room with the same id, or appends it.
func (f *FakeRoomService) Set(s heating.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.S {
		if f.S[i].RoomID == s.RoomID {
			f.S[i] = s
			return
		}
	}
	f.S = append(f.S, s)
}

func (f *FakeRoomService) Rooms() []heating.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]heating.Snapshot(nil), f.S...)
}

func (f *FakeRoomService) Room(id string) (heating.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.S {
		if s.RoomID == id {
			return s, nil
		}
	}
	return heating.Snapshot{}, heating.ErrUnknownRoom
}

func (f *FakeRoomService) Sessions(_ context.Context, roomID string, limit int) ([]heating.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SessionsLimit = limit
	if f.SessionsErr != nil {
		return nil, f.SessionsErr
	}
	return f.SessionsByRoom[roomID], nil
}

// FakeStateWriter is a reusable fake implementing ports.StateWriter.
type FakeStateWriter struct {
	mu sync.Mutex

	Current map[string]float64
	Target  map[string]float64
	Next    map[string]hoststate.NextSchedule
	Flow    *float64
	Outside *float64

	Err error
}

func NewFakeStateWriter() *FakeStateWriter {
	return &FakeStateWriter{
		Current: map[string]float64{},
		Target:  map[string]float64{},
		Next:    map[string]hoststate.NextSchedule{},
	}
}

func (f *FakeStateWriter) SetCurrentTemperature(roomID string, v float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.Current[roomID] = v
	return nil
}

func (f *FakeStateWriter) SetTargetTemperature(roomID string, v float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.Target[roomID] = v
	return nil
}

func (f *FakeStateWriter) SetNextSchedule(roomID string, next hoststate.NextSchedule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.Next[roomID] = next
	return nil
}

func (f *FakeStateWriter) SetFlowTemperature(v float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.Flow = &v
	return nil
}

func (f *FakeStateWriter) SetOutsideTemperature(v float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.Outside = &v
	return nil
}

// CurrentOf returns the recorded current temperature of a room.
func (f *FakeStateWriter) CurrentOf(roomID string) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.Current[roomID]
	return v, ok
}

// FakeNotifier records events and implements ports.Notifier.
type FakeNotifier struct {
	mu     sync.Mutex
	Events []heating.Event
	Err    error
}

func (f *FakeNotifier) Notify(_ context.Context, e heating.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Events = append(f.Events, e)
	return f.Err
}

func (f *FakeNotifier) Recorded() []heating.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]heating.Event(nil), f.Events...)
}
