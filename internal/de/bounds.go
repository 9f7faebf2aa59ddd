package de

import "fmt"

// Bound is the closed interval [Lower, Upper] for one dimension.
type Bound struct {
	Lower float64 `json:"lower" yaml:"lower"`
	Upper float64 `json:"upper" yaml:"upper"`
}

// Bounds defines the feasible hyperrectangle, one Bound per dimension.
type Bounds []Bound

// Uniform returns dims copies of the same bound.
func Uniform(lower, upper float64, dims int) Bounds {
	b := make(Bounds, dims)
	for i := range b {
		b[i] = Bound{Lower: lower, Upper: upper}
	}
	return b
}

// Validate checks that there is at least one dimension and lower <= upper everywhere.
func (b Bounds) Validate() error {
	if len(b) == 0 {
		return &ConfigError{Field: "Bounds", Reason: "must have at least one dimension"}
	}
	for i, bound := range b {
		if bound.Lower > bound.Upper {
			return &ConfigError{
				Field:  "Bounds",
				Reason: fmt.Sprintf("dimension %d has lower %g > upper %g", i, bound.Lower, bound.Upper),
			}
		}
	}
	return nil
}

// Contains reports whether x lies inside the hyperrectangle.
func (b Bounds) Contains(x []float64) bool {
	if len(x) != len(b) {
		return false
	}
	for i, v := range x {
		if v < b[i].Lower || v > b[i].Upper {
			return false
		}
	}
	return true
}

// Scale maps a point of the unit hypercube into the bounds.
func (b Bounds) Scale(unit []float64) []float64 {
	x := make([]float64, len(unit))
	for i, u := range unit {
		x[i] = b[i].Lower + u*(b[i].Upper-b[i].Lower)
	}
	return x
}

// Unscale maps a point of the bounds into the unit hypercube. Degenerate
// dimensions (lower == upper) map to 0.5.
func (b Bounds) Unscale(x []float64) []float64 {
	unit := make([]float64, len(x))
	for i, v := range x {
		span := b[i].Upper - b[i].Lower
		if span == 0 {
			unit[i] = 0.5
			continue
		}
		unit[i] = (v - b[i].Lower) / span
	}
	return unit
}

// Lower returns the lower corner.
func (b Bounds) Lower() []float64 {
	out := make([]float64, len(b))
	for i := range b {
		out[i] = b[i].Lower
	}
	return out
}

// Upper returns the upper corner.
func (b Bounds) Upper() []float64 {
	out := make([]float64, len(b))
	for i := range b {
		out[i] = b[i].Upper
	}
	return out
}
