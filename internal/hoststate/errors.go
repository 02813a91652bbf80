package hoststate

import "errors"

var (
	ErrEmptyRoomID         = errors.New("room id must not be empty")
	ErrInvalidTemperature  = errors.New("temperature must be a finite number")
	ErrInvalidScheduleTime = errors.New("invalid schedule change time")
)
