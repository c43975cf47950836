package cfilters

import (
	"math"
	"testing"

	"github.com/banshee-data/particle.report/internal/testutil"
	"gonum.org/v1/gonum/mat"
)

func twoStateHMM(t *testing.T) *HMM {
	t.Helper()
	h, err := NewHMM(
		mat.NewVecDense(2, []float64{0.5, 0.5}),
		mat.NewDense(2, 2, []float64{0.9, 0.1, 0.2, 0.8}),
	)
	testutil.AssertNoError(t, err)
	return h
}

func TestNewHMMValidation(t *testing.T) {
	cases := []struct {
		name  string
		init  *mat.VecDense
		trans *mat.Dense
	}{
		{"transition not square to init", mat.NewVecDense(2, []float64{0.5, 0.5}), mat.NewDense(3, 3, nil)},
		{"negative init prob", mat.NewVecDense(2, []float64{-0.1, 1.1}), mat.NewDense(2, 2, []float64{0.5, 0.5, 0.5, 0.5})},
		{"zero init mass", mat.NewVecDense(2, []float64{0, 0}), mat.NewDense(2, 2, []float64{0.5, 0.5, 0.5, 0.5})},
		{"row does not sum to one", mat.NewVecDense(2, []float64{0.5, 0.5}), mat.NewDense(2, 2, []float64{0.7, 0.1, 0.5, 0.5})},
		{"negative transition prob", mat.NewVecDense(2, []float64{0.5, 0.5}), mat.NewDense(2, 2, []float64{1.2, -0.2, 0.5, 0.5})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewHMM(tc.init, tc.trans)
			testutil.AssertError(t, err)
		})
	}
}

func TestNewHMMNormalizesInit(t *testing.T) {
	h, err := NewHMM(
		mat.NewVecDense(2, []float64{2, 6}),
		mat.NewDense(2, 2, []float64{0.5, 0.5, 0.5, 0.5}),
	)
	testutil.AssertNoError(t, err)
	probs := h.FilteredSummary()
	testutil.AssertInDelta(t, probs.AtVec(0), 0.25, 1e-12)
	testutil.AssertInDelta(t, probs.AtVec(1), 0.75, 1e-12)
}

// First update conditions the initial distribution directly; the second
// applies a transition step first. Both checked against hand arithmetic.
func TestHMMForwardRecursion(t *testing.T) {
	h := twoStateHMM(t)

	// t=1: prior (0.5, 0.5), densities (0.4, 0.1).
	// joint = (0.2, 0.05), normalizer 0.25.
	testutil.AssertNoError(t, h.Update(mat.NewVecDense(2, []float64{0.4, 0.1})))
	testutil.AssertInDelta(t, h.LogCondLike(), math.Log(0.25), 1e-12)
	testutil.AssertInDelta(t, h.FilteredSummary().AtVec(0), 0.8, 1e-12)
	testutil.AssertInDelta(t, h.FilteredSummary().AtVec(1), 0.2, 1e-12)

	// t=2: predicted = Tᵀ·(0.8, 0.2) = (0.76, 0.24); densities (0.5, 0.5)
	// give normalizer 0.5 and unchanged relative mass.
	testutil.AssertNoError(t, h.Update(mat.NewVecDense(2, []float64{0.5, 0.5})))
	testutil.AssertInDelta(t, h.LogCondLike(), math.Log(0.5), 1e-12)
	testutil.AssertInDelta(t, h.FilteredSummary().AtVec(0), 0.76, 1e-12)
	testutil.AssertInDelta(t, h.FilteredSummary().AtVec(1), 0.24, 1e-12)
}

func TestHMMUpdateDimensionMismatch(t *testing.T) {
	h := twoStateHMM(t)
	testutil.AssertError(t, h.Update(mat.NewVecDense(3, nil)))
}

func TestHMMZeroLikelihoodCollapsesContribution(t *testing.T) {
	h := twoStateHMM(t)
	testutil.AssertNoError(t, h.Update(mat.NewVecDense(2, []float64{0, 0})))
	if !math.IsInf(h.LogCondLike(), -1) {
		t.Errorf("log cond like = %v, want -Inf", h.LogCondLike())
	}
	// The filtered distribution stays a distribution.
	sum := h.FilteredSummary().AtVec(0) + h.FilteredSummary().AtVec(1)
	testutil.AssertInDelta(t, sum, 1, 1e-12)
}

func TestHMMCloneIndependence(t *testing.T) {
	h := twoStateHMM(t)
	testutil.AssertNoError(t, h.Update(mat.NewVecDense(2, []float64{0.4, 0.1})))

	c := h.Clone()
	testutil.AssertNoError(t, c.Update(mat.NewVecDense(2, []float64{0.1, 0.9})))

	// The original must be untouched by the clone's update.
	testutil.AssertInDelta(t, h.FilteredSummary().AtVec(0), 0.8, 1e-12)
	testutil.AssertInDelta(t, h.LogCondLike(), math.Log(0.25), 1e-12)
	if c.FilteredSummary().AtVec(0) == h.FilteredSummary().AtVec(0) {
		t.Error("clone did not diverge from original after update")
	}
}
