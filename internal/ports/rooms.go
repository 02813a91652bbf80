package ports

import (
	"context"
	"time"

	"github.com/Agrid-Dev/preheat/internal/heating"
	"github.com/Agrid-Dev/preheat/internal/hoststate"
)

// RoomService is the read port used by controllers (HTTP/MQTT/Modbus).
type RoomService interface {
	Rooms() []heating.Snapshot
	Room(id string) (heating.Snapshot, error)
	Sessions(ctx context.Context, roomID string, limit int) ([]heating.Session, error)
}

// StateWriter is the write port through which adapters feed host state.
type StateWriter interface {
	SetCurrentTemperature(roomID string, v float64) error
	SetTargetTemperature(roomID string, v float64) error
	SetNextSchedule(roomID string, next hoststate.NextSchedule) error
	SetFlowTemperature(v float64) error
	SetOutsideTemperature(v float64) error
}

type ScheduleProvider interface {
	Schedule(roomID string, now time.Time) (heating.RoomSchedule, bool)
}

type EnvironmentProvider interface {
	Environment() (heating.EnvironmentReadings, bool)
}

// Notifier delivers room events to the external heating controller.
type Notifier interface {
	Notify(ctx context.Context, e heating.Event) error
}

// SessionStore persists closed phases.
type SessionStore interface {
	Append(ctx context.Context, s heating.Session) (heating.Session, error)
	List(ctx context.Context, roomID string, limit int) ([]heating.Session, error)
}
