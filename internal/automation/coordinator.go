package automation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Agrid-Dev/preheat/internal/device"
	"github.com/Agrid-Dev/preheat/internal/heating"
	"github.com/Agrid-Dev/preheat/internal/logger"
	"github.com/Agrid-Dev/preheat/internal/ports"
)

// Coordinator owns one RoomController per modeled room and drives them
// from the cached host state.
type Coordinator struct {
	predictor *heating.Predictor
	schedules ports.ScheduleProvider
	env       ports.EnvironmentProvider
	notifier  ports.Notifier
	sessions  ports.SessionStore
	log       *logger.Logger
	now       func() time.Time

	rooms []*device.Device

	tickMu      sync.Mutex
	controllers map[string]*heating.RoomController

	mu        sync.RWMutex
	snapshots map[string]heating.Snapshot
}

type Params struct {
	Predictor *heating.Predictor
	Rooms     []*device.Device
	Schedules ports.ScheduleProvider
	Env       ports.EnvironmentProvider

	// Optional.
	Notifier ports.Notifier
	Sessions ports.SessionStore
	Log      *logger.Logger
	Now      func() time.Time
}

// New keeps only the rooms the predictor has coefficients for.
func New(p Params) (*Coordinator, error) {
	if p.Predictor == nil || p.Schedules == nil || p.Env == nil {
		return nil, ErrMissingDependency
	}
	log := p.Log
	if log == nil {
		log = logger.Nop()
	}
	now := p.Now
	if now == nil {
		now = time.Now
	}

	c := &Coordinator{
		predictor:   p.Predictor,
		schedules:   p.Schedules,
		env:         p.Env,
		notifier:    p.Notifier,
		sessions:    p.Sessions,
		log:         log.Named("automation"),
		now:         now,
		controllers: make(map[string]*heating.RoomController),
		snapshots:   make(map[string]heating.Snapshot),
	}
	seen := make(map[string]bool)
	for _, d := range p.Rooms {
		if seen[d.ID] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRoom, d.ID)
		}
		seen[d.ID] = true
		if !p.Predictor.Modeled(d.Name) {
			c.log.Infow("room has no heating coefficients, ignoring", "room", d.ID, "name", d.Name)
			continue
		}
		c.rooms = append(c.rooms, d)
	}
	return c, nil
}

func (c *Coordinator) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.Tick(ctx, c.now())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Tick(ctx, c.now())
		}
	}
}

// Tick runs one update cycle over every room. Rooms whose inputs are not
// yet known are skipped.
func (c *Coordinator) Tick(ctx context.Context, now time.Time) {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	env, ok := c.env.Environment()
	if !ok {
		c.log.Debugw("environment readings unavailable, skipping tick")
		return
	}

	for _, d := range c.rooms {
		s, ok := c.schedules.Schedule(d.ID, now)
		if !ok {
			c.log.Debugw("schedule unavailable, skipping room", "room", d.ID)
			continue
		}

		rc, ok := c.controllers[d.ID]
		if !ok {
			rc = heating.NewRoomController(d.ID, d.Name, c.predictor, c.log, s)
			c.controllers[d.ID] = rc
			c.log.Infow("room discovered", "room", d.ID, "name", d.Name)
		}

		before := rc.Phase()
		events := rc.Tick(now, s, env)
		if after := rc.Phase(); after != before {
			c.log.Infow("phase changed", "room", d.ID, "from", before, "to", after)
		}

		c.mu.Lock()
		c.snapshots[d.ID] = rc.Snapshot()
		c.mu.Unlock()

		c.deliver(ctx, events)
		c.store(ctx, rc.TakeSessions())
	}
}

func (c *Coordinator) deliver(ctx context.Context, events []heating.Event) {
	for _, e := range events {
		c.log.Infow("room event", "room", e.Room, "action", e.Action)
		if c.notifier == nil {
			continue
		}
		if err := c.notifier.Notify(ctx, e); err != nil {
			c.log.Warnw("notify failed", "room", e.Room, "action", e.Action, "err", err)
		}
	}
}

func (c *Coordinator) store(ctx context.Context, sessions []heating.Session) {
	if c.sessions == nil {
		return
	}
	for _, s := range sessions {
		if _, err := c.sessions.Append(ctx, s); err != nil {
			c.log.Warnw("store session failed", "room", s.RoomID, "phase", s.Phase, "err", err)
		}
	}
}

// Rooms returns the snapshots of discovered rooms in configuration order.
func (c *Coordinator) Rooms() []heating.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]heating.Snapshot, 0, len(c.snapshots))
	for _, d := range c.rooms {
		if s, ok := c.snapshots[d.ID]; ok {
			out = append(out, s)
		}
	}
	return out
}

func (c *Coordinator) Room(id string) (heating.Snapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.snapshots[id]
	if !ok {
		return heating.Snapshot{}, heating.ErrUnknownRoom
	}
	return s, nil
}

func (c *Coordinator) Sessions(ctx context.Context, roomID string, limit int) ([]heating.Session, error) {
	if _, err := c.Room(roomID); err != nil {
		return nil, err
	}
	if c.sessions == nil {
		return nil, ErrSessionsDisabled
	}
	return c.sessions.List(ctx, roomID, limit)
}
