package heating

import (
	"math"
	"time"

	"github.com/Agrid-Dev/preheat/internal/logger"
)

// RoomController runs the phase state machine of a single room.
// It is not safe for concurrent use; the caller serialises ticks.
type RoomController struct {
	id        string
	name      string
	predictor *Predictor
	log       *logger.Logger

	phase              Phase
	observedNextChange time.Time
	observedTarget     float64

	onTime         *time.Time
	onTemperature  *float64
	offTime        *time.Time
	offTemperature *float64
	flowEMA        *float64
	ambientEMA     *float64

	last    Snapshot
	pending []Session
}

// NewRoomController starts a room in HOLDING, planning against the schedule
// seen at discovery time.
func NewRoomController(id, name string, predictor *Predictor, log *logger.Logger, s RoomSchedule) *RoomController {
	if log == nil {
		log = logger.Nop()
	}
	c := &RoomController{
		id:                 id,
		name:               name,
		predictor:          predictor,
		log:                log.With("room", id),
		phase:              PhaseHolding,
		observedNextChange: s.NextChange,
		observedTarget:     s.TargetTemperature,
	}
	c.last = c.snapshot(s, 0, 0, s.NextChange)
	return c
}

func (c *RoomController) ID() string   { return c.id }
func (c *RoomController) Name() string { return c.name }
func (c *RoomController) Phase() Phase { return c.phase }

// Snapshot returns the state published by the last tick.
func (c *RoomController) Snapshot() Snapshot { return c.last }

// TakeSessions returns the phases closed since the previous call.
func (c *RoomController) TakeSessions() []Session {
	s := c.pending
	c.pending = nil
	return s
}

// Tick evaluates one update cycle. At most one transition happens per tick;
// the returned events are for the host to forward.
func (c *RoomController) Tick(now time.Time, s RoomSchedule, env EnvironmentReadings) []Event {
	estimate, lead := c.predict(s, env)
	plannedStart := s.NextChange.Add(-minutes(lead))

	var events []Event

	switch {
	case c.observedNextChange.Before(now):
		// The planned schedule change has passed.
		if c.phase != PhaseHolding {
			c.logPhaseEnd(now, s, env)
			c.phase = PhaseHolding
		}
		if s.CurrentTemperature > s.TargetTemperature {
			c.logPhaseStart(now, s, env)
			c.phase = PhaseCooling
		}
		c.observedNextChange = s.NextChange
		c.observedTarget = s.TargetTemperature

	case !c.observedNextChange.Equal(s.NextChange):
		// The schedule was edited; a pre-heat based on the old one is void.
		if s.NextChange.Before(now) {
			c.log.Warnw("next schedule change is not in the future",
				"next_change", s.NextChange, "now", now)
		}
		if c.phase == PhaseHeating {
			c.logPhaseEnd(now, s, env)
			c.phase = PhaseHolding
			events = append(events, c.event(ActionCancelOverrides, now))
		}
		c.observedNextChange = s.NextChange

	case c.targetReached(s):
		c.logPhaseEnd(now, s, env)
		c.observedTarget = s.TargetTemperature
		c.phase = PhaseHolding

	case c.observedTarget != s.TargetTemperature:
		// User changed the target. HEATING is void and replans next tick.
		if c.phase == PhaseHeating {
			c.logPhaseEnd(now, s, env)
			c.phase = PhaseHolding
		}
		if c.phase == PhaseCooling && s.CurrentTemperature <= s.TargetTemperature {
			c.log.Warnw("cooling continues while current temperature is not above target",
				"current", s.CurrentTemperature, "target", s.TargetTemperature)
		}
		c.observedTarget = s.TargetTemperature

	case plannedStart.Before(now):
		if c.phase != PhaseHolding {
			c.logPhaseEnd(now, s, env)
		}
		c.logPhaseStart(now, s, env)
		c.observedTarget = s.NextTemperature
		c.phase = PhaseHeating
		events = append(events, c.event(ActionAdvanceSchedule, now))
	}

	c.last = c.snapshot(s, estimate, lead, plannedStart)
	return events
}

func (c *RoomController) predict(s RoomSchedule, env EnvironmentReadings) (estimate, lead float64) {
	if s.NextTemperature == s.TargetTemperature {
		return 0, 0
	}
	estimate = c.predictor.Estimate(c.name, s.CurrentTemperature, s.NextTemperature, env.FlowTemperature, env.OutsideTemperature)
	return estimate, max(0, estimate)
}

func (c *RoomController) targetReached(s RoomSchedule) bool {
	switch c.phase {
	case PhaseHeating:
		return s.CurrentTemperature >= s.TargetTemperature
	case PhaseCooling:
		return s.CurrentTemperature <= s.TargetTemperature
	default:
		return false
	}
}

// logPhaseEnd never reads fields written by logPhaseStart, so an end and a
// start on the same tick keep both sets of values.
func (c *RoomController) logPhaseEnd(now time.Time, s RoomSchedule, env EnvironmentReadings) {
	off := now
	temp := s.CurrentTemperature
	c.offTime = &off
	c.offTemperature = &temp
	c.flowEMA = average(c.flowEMA, env.FlowTemperature)
	c.ambientEMA = average(c.ambientEMA, env.OutsideTemperature)

	c.pending = append(c.pending, Session{
		RoomID:             c.id,
		Phase:              c.phase,
		OnTime:             c.onTime,
		OnTemperature:      c.onTemperature,
		OffTime:            off,
		OffTemperature:     temp,
		FlowTemperature:    c.flowEMA,
		AmbientTemperature: c.ambientEMA,
	})
}

// logPhaseStart leaves the off values alone and restarts the averages.
func (c *RoomController) logPhaseStart(now time.Time, s RoomSchedule, env EnvironmentReadings) {
	on := now
	temp := s.CurrentTemperature
	flow := env.FlowTemperature
	ambient := env.OutsideTemperature
	c.onTime = &on
	c.onTemperature = &temp
	c.flowEMA = &flow
	c.ambientEMA = &ambient
}

func (c *RoomController) event(a Action, now time.Time) Event {
	return Event{Action: a, Room: c.id, Time: now}
}

func (c *RoomController) snapshot(s RoomSchedule, estimate, lead float64, plannedStart time.Time) Snapshot {
	return Snapshot{
		RoomID:                c.id,
		RoomName:              c.name,
		CurrentTemperature:    s.CurrentTemperature,
		PredictedLeadMinutes:  RoundMinutes(lead),
		EstimateMinutes:       estimate,
		NextTargetTemperature: s.NextTemperature,
		NextScheduleChange:    s.NextChange,
		PlannedHeatStart:      plannedStart,
		Phase:                 c.phase,
		ObservedTarget:        c.observedTarget,
		ObservedNextChange:    c.observedNextChange,
		OnTime:                c.onTime,
		OnTemperature:         c.onTemperature,
		OffTime:               c.offTime,
		OffTemperature:        c.offTemperature,
		FlowTemperature:       c.flowEMA,
		AmbientTemperature:    c.ambientEMA,
	}
}

// RoundMinutes rounds half up.
func RoundMinutes(m float64) int {
	return int(math.Floor(m + 0.5))
}

func average(prev *float64, v float64) *float64 {
	if prev != nil {
		v = (*prev + v) / 2
	}
	return &v
}

func minutes(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}
