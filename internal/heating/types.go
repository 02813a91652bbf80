package heating

import (
	"fmt"
	"time"
)

// Phase is the operating phase of a room.
type Phase int

const (
	PhaseUnknown Phase = iota
	PhaseHolding
	PhaseHeating
	PhaseCooling
)

func (p Phase) Valid() bool {
	return p == PhaseHolding || p == PhaseHeating || p == PhaseCooling
}

func (p Phase) String() string {
	switch p {
	case PhaseHolding:
		return "holding"
	case PhaseHeating:
		return "heating"
	case PhaseCooling:
		return "cooling"
	default:
		return "unknown"
	}
}

func ParsePhase(s string) (Phase, error) {
	switch s {
	case "holding":
		return PhaseHolding, nil
	case "heating":
		return PhaseHeating, nil
	case "cooling":
		return PhaseCooling, nil
	default:
		return PhaseUnknown, fmt.Errorf("%w: %q", ErrInvalidPhase, s)
	}
}

// Action is the request carried by an Event for the external heating controller.
type Action string

const (
	ActionAdvanceSchedule Action = "Advance Schedule"
	ActionCancelOverrides Action = "Cancel Overrides"
)

func (a Action) Valid() bool {
	return a == ActionAdvanceSchedule || a == ActionCancelOverrides
}

// Event is a notification for the host to forward.
type Event struct {
	Action Action    `json:"action"`
	Room   string    `json:"room"`
	Time   time.Time `json:"time"`
}

// RoomSchedule is the host's view of a room at tick time, fallbacks already applied.
type RoomSchedule struct {
	CurrentTemperature float64
	TargetTemperature  float64
	NextTemperature    float64
	NextChange         time.Time
}

// EnvironmentReadings are shared by every room for the duration of a tick.
type EnvironmentReadings struct {
	FlowTemperature    float64
	OutsideTemperature float64
}

// Session is one closed HEATING or COOLING phase.
type Session struct {
	ID                 string
	RoomID             string
	Phase              Phase
	OnTime             *time.Time
	OnTemperature      *float64
	OffTime            time.Time
	OffTemperature     float64
	FlowTemperature    *float64
	AmbientTemperature *float64
}

// Snapshot is the published state of a room after a tick.
type Snapshot struct {
	RoomID   string
	RoomName string

	CurrentTemperature    float64
	PredictedLeadMinutes  int
	EstimateMinutes       float64
	NextTargetTemperature float64
	NextScheduleChange    time.Time
	PlannedHeatStart      time.Time

	Phase              Phase
	ObservedTarget     float64
	ObservedNextChange time.Time

	OnTime             *time.Time
	OnTemperature      *float64
	OffTime            *time.Time
	OffTemperature     *float64
	FlowTemperature    *float64
	AmbientTemperature *float64
}
