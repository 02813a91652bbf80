package heating

// Coefficients model how fast a room warms: BaseRate is °C per hour with no
// driving force, FlowGain scales with flow minus room temperature and
// CoolingGain with room minus outside temperature.
type Coefficients struct {
	BaseRate    float64
	FlowGain    float64
	CoolingGain float64
}

func (c Coefficients) Validate() error {
	if c.BaseRate < 0 {
		return ErrNegativeBaseRate
	}
	return nil
}

// CoefficientTable maps room names to their coefficients. Rooms missing
// from the table are not modeled.
type CoefficientTable map[string]Coefficients

type Predictor struct {
	table CoefficientTable
}

func NewPredictor(table CoefficientTable) (*Predictor, error) {
	t := make(CoefficientTable, len(table))
	for room, c := range table {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		t[room] = c
	}
	return &Predictor{table: t}, nil
}

// Modeled reports whether room has coefficients.
func (p *Predictor) Modeled(room string) bool {
	_, ok := p.table[room]
	return ok
}

// Estimate returns the heating time in minutes for room to go from current
// to target. When the room has to cool the result is negative or
// meaningless as a lead time; it is kept for diagnostics only.
func (p *Predictor) Estimate(room string, current, target, flow, outside float64) float64 {
	mid := (current + target) / 2
	gain := target - current
	heatingForce := flow - mid
	coolingForce := mid - outside

	c, ok := p.table[room]
	switch {
	case gain > 0:
		if heatingForce <= 0 || !ok {
			return 0
		}
		rate := c.BaseRate + c.FlowGain*heatingForce - c.CoolingGain*coolingForce
		if rate <= 0 {
			return 0
		}
		return gain / rate * 60
	case gain < 0 && coolingForce > 0 && ok:
		return (c.BaseRate + c.CoolingGain*coolingForce) * gain * 60
	default:
		return 0
	}
}

// LeadTime is Estimate clamped at zero: the minutes of pre-heating to plan for.
func (p *Predictor) LeadTime(room string, current, target, flow, outside float64) float64 {
	return max(0, p.Estimate(room, current, target, flow, outside))
}
