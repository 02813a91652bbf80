package heating

import "time"

type RoomSimulatorParams struct {
	Coefficients       Coefficients
	OutsideTemperature float64
	FlowTemperature    float64
	HeatLoss           float64 // >= 0, fraction of the indoor/outdoor gap lost per hour. 0 for no loss.
}

func (params *RoomSimulatorParams) Validate() error {
	if params.HeatLoss < 0 {
		return ErrNegativeHeatLoss
	}
	return params.Coefficients.Validate()
}

// RoomSimulator integrates a room temperature for offline runs. While the
// room calls for heat it warms at the modeled rate; it always loses heat
// toward the outside.
type RoomSimulator struct {
	params      RoomSimulatorParams
	temperature float64
}

func NewRoomSimulator(params RoomSimulatorParams, initial float64) (*RoomSimulator, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &RoomSimulator{params: params, temperature: initial}, nil
}

func (r *RoomSimulator) Temperature() float64 { return r.temperature }

// Step advances the room by dt and returns the new temperature.
// Heat is called while the temperature is below target.
func (r *RoomSimulator) Step(target float64, dt time.Duration) float64 {
	hours := dt.Hours()
	if r.temperature < target {
		r.temperature += r.heatingRate() * hours
	}
	r.temperature += r.params.HeatLoss * (r.params.OutsideTemperature - r.temperature) * hours
	return r.temperature
}

func (r *RoomSimulator) heatingRate() float64 {
	c := r.params.Coefficients
	rate := c.BaseRate +
		c.FlowGain*(r.params.FlowTemperature-r.temperature) -
		c.CoolingGain*(r.temperature-r.params.OutsideTemperature)
	return max(0, rate)
}
