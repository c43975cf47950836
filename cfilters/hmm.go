// Package cfilters provides the embedded closed-form filters a
// Rao-Blackwellized particle filter conditions on: a discrete-state
// hidden-Markov forward filter and a linear-Gaussian Kalman filter.
//
// Both types expose the same capability surface (Update, LogCondLike,
// FilteredSummary, Clone) so the rbpf engine can be instantiated with
// either.
package cfilters

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// probTolerance is the slack allowed when validating that transition
// matrix rows sum to one.
const probTolerance = 1e-9

// HMM is a discrete-state forward filter. It carries the filtered
// probability vector of the hidden state conditional on the observation
// densities it has been updated with.
type HMM struct {
	// probs holds the filtered distribution P(x_t = j | y_{1:t}).
	probs *mat.VecDense
	// transT is the transpose of the transition matrix. Immutable after
	// construction and therefore shared between clones.
	transT *mat.Dense

	scratch         *mat.VecDense
	lastLogCondLike float64

	// fresh marks a filter that has not yet seen an observation; the
	// first update conditions the initial distribution directly, without
	// a transition step.
	fresh bool
}

// NewHMM builds a forward filter from an initial state distribution and a
// transition matrix. Element (i,j) of trans is the probability of moving
// from state i to state j; rows must be non-negative and sum to one. The
// initial distribution is normalized if it does not already sum to one.
func NewHMM(initProbs mat.Vector, trans mat.Matrix) (*HMM, error) {
	n := initProbs.Len()
	if n == 0 {
		return nil, fmt.Errorf("cfilters: initial distribution is empty")
	}
	r, c := trans.Dims()
	if r != n || c != n {
		return nil, fmt.Errorf("cfilters: transition matrix is %dx%d, want %dx%d", r, c, n, n)
	}

	var total float64
	for i := 0; i < n; i++ {
		p := initProbs.AtVec(i)
		if p < 0 || math.IsNaN(p) {
			return nil, fmt.Errorf("cfilters: initial probability %d is %v", i, p)
		}
		total += p
	}
	if total <= 0 {
		return nil, fmt.Errorf("cfilters: initial distribution sums to %v", total)
	}

	transT := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		var rowSum float64
		for j := 0; j < n; j++ {
			p := trans.At(i, j)
			if p < 0 || math.IsNaN(p) {
				return nil, fmt.Errorf("cfilters: transition probability (%d,%d) is %v", i, j, p)
			}
			rowSum += p
			transT.Set(j, i, p)
		}
		if math.Abs(rowSum-1) > probTolerance {
			return nil, fmt.Errorf("cfilters: transition matrix row %d sums to %v, want 1", i, rowSum)
		}
	}

	probs := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		probs.SetVec(i, initProbs.AtVec(i)/total)
	}
	return &HMM{
		probs:   probs,
		transT:  transT,
		scratch: mat.NewVecDense(n, nil),
		fresh:   true,
	}, nil
}

// Update runs one forward step. obsDens holds the conditional observation
// density p(y_t | x_t = j) per state, as raw (non-log) values. The log of
// the normalizing constant becomes the filter's conditional likelihood
// contribution.
//
// If the observation has zero density under every reachable state the
// contribution is set to -Inf and the filtered distribution is left at
// the predicted (pre-conditioning) distribution; the caller's importance
// weight then collapses for this particle alone instead of aborting the
// whole swarm.
func (h *HMM) Update(obsDens mat.Vector) error {
	n := h.probs.Len()
	if obsDens.Len() != n {
		return fmt.Errorf("cfilters: observation density vector has length %d, want %d", obsDens.Len(), n)
	}

	if h.fresh {
		h.fresh = false
	} else {
		h.scratch.MulVec(h.transT, h.probs)
		h.probs.CopyVec(h.scratch)
	}

	var sum float64
	for j := 0; j < n; j++ {
		d := obsDens.AtVec(j)
		if d < 0 || math.IsNaN(d) {
			return fmt.Errorf("cfilters: observation density for state %d is %v", j, d)
		}
		h.scratch.SetVec(j, h.probs.AtVec(j)*d)
		sum += h.scratch.AtVec(j)
	}
	if sum <= 0 {
		h.lastLogCondLike = math.Inf(-1)
		return nil
	}

	for j := 0; j < n; j++ {
		h.probs.SetVec(j, h.scratch.AtVec(j)/sum)
	}
	h.lastLogCondLike = math.Log(sum)
	return nil
}

// LogCondLike returns the log conditional likelihood contribution of the
// most recent update.
func (h *HMM) LogCondLike() float64 {
	return h.lastLogCondLike
}

// FilteredSummary returns the filtered state probability vector.
func (h *HMM) FilteredSummary() mat.Vector {
	return h.probs
}

// StateDim returns the number of hidden states.
func (h *HMM) StateDim() int {
	return h.probs.Len()
}

// Clone returns an independent copy. The transition matrix is shared, as
// it is never mutated after construction.
func (h *HMM) Clone() *HMM {
	return &HMM{
		probs:           mat.VecDenseCopyOf(h.probs),
		transT:          h.transT,
		scratch:         mat.NewVecDense(h.probs.Len(), nil),
		lastLogCondLike: h.lastLogCondLike,
		fresh:           h.fresh,
	}
}
