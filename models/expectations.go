package models

import (
	"gonum.org/v1/gonum/mat"
)

// Ready-made expectation functions for the engine's aggregation step.
// Each is an rbpf.ExpectationFunc.

// FilteredSummaryColumn returns the tractable component's filtered
// summary (regime probabilities or Kalman mean) as a column matrix.
func FilteredSummaryColumn(summary mat.Vector, _ mat.Vector) *mat.Dense {
	out := mat.NewDense(summary.Len(), 1, nil)
	for i := 0; i < summary.Len(); i++ {
		out.Set(i, 0, summary.AtVec(i))
	}
	return out
}

// SampledStateColumn returns the sampled component as a column matrix.
func SampledStateColumn(_ mat.Vector, x2 mat.Vector) *mat.Dense {
	out := mat.NewDense(x2.Len(), 1, nil)
	for i := 0; i < x2.Len(); i++ {
		out.Set(i, 0, x2.AtVec(i))
	}
	return out
}
