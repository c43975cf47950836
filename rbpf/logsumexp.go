package rbpf

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// logMeanExp computes log( (1/n) Σ exp(x_i) ) with the max-subtraction
// trick, so inputs spanning the whole float range do not overflow or
// underflow. Returns -Inf when every input is -Inf.
func logMeanExp(x []float64) float64 {
	if len(x) == 0 {
		return math.Inf(-1)
	}
	lse := floats.LogSumExp(x)
	if math.IsInf(lse, -1) {
		return lse
	}
	return lse - math.Log(float64(len(x)))
}
