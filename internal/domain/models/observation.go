package models

import (
	"fmt"
	"math"
)

// Observation records when the last estimate and the first confirmed price
// were seen, in seconds since the interval start.
type Observation struct {
	Start  float64 `json:"start"`
	End    float64 `json:"end"`
	Weight float64 `json:"weight,omitempty"`
}

// NewObservation builds a unit-weight observation, rejecting empty or inverted spans.
func NewObservation(start, end float64) (Observation, error) {
	return NewWeightedObservation(start, end, 1)
}

// NewWeightedObservation builds an observation with an explicit weight.
func NewWeightedObservation(start, end, weight float64) (Observation, error) {
	o := Observation{Start: start, End: end, Weight: weight}
	if err := o.Validate(); err != nil {
		return Observation{}, err
	}
	return o, nil
}

// Validate checks start < end, start >= 0, weight > 0 and finiteness.
// A zero weight is read as the default weight of 1.
func (o Observation) Validate() error {
	if !finite(o.Start) || !finite(o.End) || !finite(o.Weight) {
		return fmt.Errorf("observation: non-finite value")
	}
	if o.Start < 0 {
		return fmt.Errorf("observation: negative start %.3f", o.Start)
	}
	if o.Start >= o.End {
		return fmt.Errorf("observation: start %.3f not before end %.3f", o.Start, o.End)
	}
	if o.Weight < 0 {
		return fmt.Errorf("observation: negative weight %.3f", o.Weight)
	}
	return nil
}

// EffectiveWeight returns the weight, defaulting unset weights to 1.
func (o Observation) EffectiveWeight() float64 {
	if o.Weight == 0 {
		return 1
	}
	return o.Weight
}

// Width is the length of the observation's support.
func (o Observation) Width() float64 { return o.End - o.Start }

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
