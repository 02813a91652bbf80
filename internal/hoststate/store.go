package hoststate

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/Agrid-Dev/preheat/internal/heating"
)

// ScheduleTimeLayout is the host's textual format for schedule change times.
const ScheduleTimeLayout = "2006-01-02 15:04:05"

// NextSchedule is the next scheduled setpoint of a room. Nil fields are
// unknown and fall back when the schedule is read.
type NextSchedule struct {
	Temperature *float64   `json:"temperature,omitempty"`
	Time        *time.Time `json:"time,omitempty"`
}

// UnmarshalJSON accepts the change time either as RFC 3339 or in the host's
// local layout.
func (n *NextSchedule) UnmarshalJSON(b []byte) error {
	var raw struct {
		Temperature *float64 `json:"temperature"`
		Time        *string  `json:"time"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	n.Temperature = raw.Temperature
	n.Time = nil
	if raw.Time == nil || *raw.Time == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, *raw.Time)
	if err != nil {
		if t, err = ParseScheduleTime(*raw.Time, time.Local); err != nil {
			return err
		}
	}
	n.Time = &t
	return nil
}

type room struct {
	current    *float64
	target     *float64
	next       *float64
	nextChange *time.Time

	// farFuture is the sentinel handed out while nextChange is unknown. It is
	// kept so that consecutive reads do not look like schedule edits.
	farFuture time.Time
}

// Store caches the host state pushed by adapters and serves it to the
// coordinator with the documented fallbacks applied.
type Store struct {
	mu sync.RWMutex

	minTemperature float64
	horizon        time.Duration

	rooms   map[string]*room
	flow    *float64
	outside *float64
}

// New returns an empty store. minTemperature replaces an unknown target
// and horizon places the far-future change used when none is scheduled.
func New(minTemperature float64, horizon time.Duration) *Store {
	return &Store{
		minTemperature: minTemperature,
		horizon:        horizon,
		rooms:          make(map[string]*room),
	}
}

func (s *Store) SetCurrentTemperature(roomID string, v float64) error {
	if err := validTemperature(v); err != nil {
		return err
	}
	return s.updateRoom(roomID, func(r *room) { r.current = &v })
}

func (s *Store) SetTargetTemperature(roomID string, v float64) error {
	if err := validTemperature(v); err != nil {
		return err
	}
	return s.updateRoom(roomID, func(r *room) { r.target = &v })
}

// SetNextSchedule replaces the next scheduled setpoint; nil fields clear it.
func (s *Store) SetNextSchedule(roomID string, next NextSchedule) error {
	if next.Temperature != nil {
		if err := validTemperature(*next.Temperature); err != nil {
			return err
		}
	}
	if next.Time != nil && next.Time.IsZero() {
		return ErrInvalidScheduleTime
	}
	return s.updateRoom(roomID, func(r *room) {
		r.next = copyPtr(next.Temperature)
		r.nextChange = copyPtr(next.Time)
		if r.nextChange != nil {
			r.farFuture = time.Time{}
		}
	})
}

func (s *Store) SetFlowTemperature(v float64) error {
	if err := validTemperature(v); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flow = &v
	return nil
}

func (s *Store) SetOutsideTemperature(v float64) error {
	if err := validTemperature(v); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outside = &v
	return nil
}

// Schedule returns the room's schedule as of now. It reports false until
// the room's current temperature is known.
func (s *Store) Schedule(roomID string, now time.Time) (heating.RoomSchedule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok || r.current == nil {
		return heating.RoomSchedule{}, false
	}

	sched := heating.RoomSchedule{
		CurrentTemperature: *r.current,
		TargetTemperature:  s.minTemperature,
	}
	if r.target != nil {
		sched.TargetTemperature = *r.target
	}
	sched.NextTemperature = sched.TargetTemperature
	if r.next != nil {
		sched.NextTemperature = *r.next
	}

	switch {
	case r.nextChange != nil:
		sched.NextChange = *r.nextChange
	default:
		if !r.farFuture.After(now) {
			r.farFuture = now.Add(s.horizon)
		}
		sched.NextChange = r.farFuture
	}
	return sched, true
}

// Environment reports false until both flow and outside temperature are known.
func (s *Store) Environment() (heating.EnvironmentReadings, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.flow == nil || s.outside == nil {
		return heating.EnvironmentReadings{}, false
	}
	return heating.EnvironmentReadings{FlowTemperature: *s.flow, OutsideTemperature: *s.outside}, true
}

func (s *Store) updateRoom(roomID string, fn func(*room)) error {
	if roomID == "" {
		return ErrEmptyRoomID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		r = &room{}
		s.rooms[roomID] = r
	}
	fn(r)
	return nil
}

// ParseScheduleTime parses a change time in the host's layout, interpreted
// in loc.
func ParseScheduleTime(v string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(ScheduleTimeLayout, v, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidScheduleTime, err)
	}
	return t, nil
}

func validTemperature(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ErrInvalidTemperature
	}
	return nil
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
