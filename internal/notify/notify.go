package notify

import (
	"context"
	"errors"

	"github.com/Agrid-Dev/preheat/internal/heating"
	"github.com/Agrid-Dev/preheat/internal/logger"
	"github.com/Agrid-Dev/preheat/internal/ports"
)

// Log writes every event to the structured log.
type Log struct {
	log *logger.Logger
}

func NewLog(log *logger.Logger) *Log {
	if log == nil {
		log = logger.Nop()
	}
	return &Log{log: log.Named("events")}
}

func (l *Log) Notify(_ context.Context, e heating.Event) error {
	l.log.Infow("heating controller request", "action", e.Action, "room", e.Room, "time", e.Time)
	return nil
}

// Multi fans an event out to every sink. All sinks are tried; their
// errors are joined.
type Multi []ports.Notifier

func (m Multi) Notify(ctx context.Context, e heating.Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
