package cfilters

import (
	"math"
	"testing"

	"github.com/banshee-data/particle.report/internal/testutil"
	"gonum.org/v1/gonum/mat"
)

func scalarKalman(t *testing.T) *Kalman {
	t.Helper()
	k, err := NewKalman(
		mat.NewVecDense(1, []float64{0}),
		mat.NewSymDense(1, []float64{1}),
	)
	testutil.AssertNoError(t, err)
	return k
}

func scalarSystem() (f *mat.Dense, q *mat.SymDense, h *mat.Dense, r *mat.SymDense) {
	return mat.NewDense(1, 1, []float64{1}),
		mat.NewSymDense(1, []float64{0.5}),
		mat.NewDense(1, 1, []float64{1}),
		mat.NewSymDense(1, []float64{1})
}

func TestNewKalmanValidation(t *testing.T) {
	_, err := NewKalman(mat.NewVecDense(2, nil), mat.NewSymDense(3, nil))
	testutil.AssertError(t, err)
}

func TestKalmanScalarRecursion(t *testing.T) {
	k := scalarKalman(t)
	f, q, h, r := scalarSystem()

	// t=1: no predict step. S = 1 + 1 = 2, so
	// log p(y_1) = -0.5·log(4π) - 1/4 with y = 1.
	testutil.AssertNoError(t, k.Update(mat.NewVecDense(1, []float64{1}), f, q, h, r))
	testutil.AssertInDelta(t, k.LogCondLike(), -0.5*math.Log(4*math.Pi)-0.25, 1e-12)
	testutil.AssertInDelta(t, k.Mean().AtVec(0), 0.5, 1e-12)
	testutil.AssertInDelta(t, k.Cov().At(0, 0), 0.5, 1e-12)

	// t=2: predict gives mean 0.5, var 1. Observing exactly the predicted
	// value moves nothing and the innovation sits at its mode.
	testutil.AssertNoError(t, k.Update(mat.NewVecDense(1, []float64{0.5}), f, q, h, r))
	testutil.AssertInDelta(t, k.LogCondLike(), -0.5*math.Log(4*math.Pi), 1e-12)
	testutil.AssertInDelta(t, k.Mean().AtVec(0), 0.5, 1e-12)
	testutil.AssertInDelta(t, k.Cov().At(0, 0), 0.5, 1e-12)
}

func TestKalmanUpdateDimensionChecks(t *testing.T) {
	k := scalarKalman(t)
	f, q, h, r := scalarSystem()
	y := mat.NewVecDense(1, []float64{1})

	cases := []struct {
		name string
		err  error
	}{
		{"bad state transition", k.Update(y, mat.NewDense(2, 2, nil), q, h, r)},
		{"bad process noise", k.Update(y, f, mat.NewSymDense(2, nil), h, r)},
		{"bad observation matrix", k.Update(y, f, q, mat.NewDense(2, 1, nil), r)},
		{"bad observation noise", k.Update(y, f, q, h, mat.NewSymDense(2, nil))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			testutil.AssertError(t, tc.err)
		})
	}
}

func TestKalmanNonPositiveDefiniteInnovation(t *testing.T) {
	k := scalarKalman(t)
	// Zero observation noise against zero observation matrix leaves a
	// singular innovation covariance.
	err := k.Update(
		mat.NewVecDense(1, []float64{1}),
		mat.NewDense(1, 1, []float64{1}),
		mat.NewSymDense(1, []float64{0.5}),
		mat.NewDense(1, 1, []float64{0}),
		mat.NewSymDense(1, []float64{0}),
	)
	testutil.AssertError(t, err)
}

func TestKalmanCloneIndependence(t *testing.T) {
	k := scalarKalman(t)
	f, q, h, r := scalarSystem()
	testutil.AssertNoError(t, k.Update(mat.NewVecDense(1, []float64{1}), f, q, h, r))

	c := k.Clone()
	testutil.AssertNoError(t, c.Update(mat.NewVecDense(1, []float64{5}), f, q, h, r))

	testutil.AssertInDelta(t, k.Mean().AtVec(0), 0.5, 1e-12)
	if c.Mean().AtVec(0) == k.Mean().AtVec(0) {
		t.Error("clone did not diverge from original after update")
	}
}

func TestKalmanFilteredSummaryIsMean(t *testing.T) {
	k := scalarKalman(t)
	f, q, h, r := scalarSystem()
	testutil.AssertNoError(t, k.Update(mat.NewVecDense(1, []float64{1}), f, q, h, r))
	if k.FilteredSummary().AtVec(0) != k.Mean().AtVec(0) {
		t.Error("FilteredSummary() diverges from Mean()")
	}
}
