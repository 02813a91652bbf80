package heating

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CoefficientsFromSlice builds Coefficients from a [base_rate, flow_gain, cooling_gain] triple.
func CoefficientsFromSlice(v []float64) (Coefficients, error) {
	if len(v) != 3 {
		return Coefficients{}, ErrInvalidCoefficients
	}
	c := Coefficients{BaseRate: v[0], FlowGain: v[1], CoolingGain: v[2]}
	if err := c.Validate(); err != nil {
		return Coefficients{}, err
	}
	return c, nil
}

// TableFromSlices converts the inline configuration form into a table.
func TableFromSlices(m map[string][]float64) (CoefficientTable, error) {
	t := make(CoefficientTable, len(m))
	for room, v := range m {
		c, err := CoefficientsFromSlice(v)
		if err != nil {
			return nil, fmt.Errorf("room %q: %w", room, err)
		}
		t[room] = c
	}
	return t, nil
}

func (c *Coefficients) UnmarshalYAML(value *yaml.Node) error {
	var triple []float64
	if err := value.Decode(&triple); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCoefficients, err)
	}
	v, err := CoefficientsFromSlice(triple)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

func (c Coefficients) MarshalYAML() (any, error) {
	n := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
	for _, v := range []float64{c.BaseRate, c.FlowGain, c.CoolingGain} {
		item := &yaml.Node{}
		if err := item.Encode(v); err != nil {
			return nil, err
		}
		n.Content = append(n.Content, item)
	}
	return n, nil
}

// ParseCoefficients decodes a YAML document mapping room names to triples:
//
//	"Dining room": [0.45, 0, 0]
func ParseCoefficients(data []byte) (CoefficientTable, error) {
	var t CoefficientTable
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse coefficients: %w", err)
	}
	if t == nil {
		t = CoefficientTable{}
	}
	return t, nil
}

func LoadCoefficients(path string) (CoefficientTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read coefficients: %w", err)
	}
	return ParseCoefficients(data)
}
