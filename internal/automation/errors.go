package automation

import "errors"

var (
	ErrMissingDependency = errors.New("coordinator is missing a required dependency")
	ErrDuplicateRoom     = errors.New("duplicate room")
	ErrSessionsDisabled  = errors.New("session log is disabled")
)
