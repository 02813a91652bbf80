package heating

import "errors"

var (
	ErrInvalidPhase        = errors.New("invalid phase")
	ErrUnknownRoom         = errors.New("unknown room")
	ErrInvalidCoefficients = errors.New("heating coefficients must be a [base_rate, flow_gain, cooling_gain] triple")
	ErrNegativeBaseRate    = errors.New("base heating rate must be greater or equal to zero")
	ErrNegativeHeatLoss    = errors.New("heat loss coefficient must be greater or equal to zero")
)
