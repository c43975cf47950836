package cfilters

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

// Kalman is a linear-Gaussian filter with per-step system matrices, so a
// conditionally linear model can feed in matrices that depend on the
// current sampled state. It carries the filtered mean and covariance of
// the tractable component.
type Kalman struct {
	mean *mat.VecDense
	cov  *mat.SymDense

	lastLogCondLike float64

	// fresh marks a filter that has not yet seen an observation; the
	// first update conditions the time-1 prior directly, without a
	// predict step.
	fresh bool
}

// NewKalman builds a filter from the time-1 prior mean and covariance of
// the tractable state.
func NewKalman(mean mat.Vector, cov *mat.SymDense) (*Kalman, error) {
	n := mean.Len()
	if n == 0 {
		return nil, fmt.Errorf("cfilters: prior mean is empty")
	}
	if cov.SymmetricDim() != n {
		return nil, fmt.Errorf("cfilters: prior covariance is %dx%d, want %dx%d", cov.SymmetricDim(), cov.SymmetricDim(), n, n)
	}
	c := mat.NewSymDense(n, nil)
	c.CopySym(cov)
	return &Kalman{
		mean:  mat.VecDenseCopyOf(mean),
		cov:   c,
		fresh: true,
	}, nil
}

// Update runs one predict/correct cycle against observation y using the
// supplied system matrices: state transition f, process noise q,
// observation matrix h and observation noise r. The log density of the
// innovation becomes the filter's conditional likelihood contribution.
func (k *Kalman) Update(y mat.Vector, f mat.Matrix, q *mat.SymDense, h mat.Matrix, r *mat.SymDense) error {
	n := k.mean.Len()
	m := y.Len()
	if fr, fc := f.Dims(); fr != n || fc != n {
		return fmt.Errorf("cfilters: state transition matrix is %dx%d, want %dx%d", fr, fc, n, n)
	}
	if q.SymmetricDim() != n {
		return fmt.Errorf("cfilters: process noise is %dx%d, want %dx%d", q.SymmetricDim(), q.SymmetricDim(), n, n)
	}
	if hr, hc := h.Dims(); hr != m || hc != n {
		return fmt.Errorf("cfilters: observation matrix is %dx%d, want %dx%d", hr, hc, m, n)
	}
	if r.SymmetricDim() != m {
		return fmt.Errorf("cfilters: observation noise is %dx%d, want %dx%d", r.SymmetricDim(), r.SymmetricDim(), m, m)
	}

	// Predict: mean = f·mean, cov = f·cov·fᵀ + q.
	if k.fresh {
		k.fresh = false
	} else {
		var pm mat.VecDense
		pm.MulVec(f, k.mean)
		k.mean.CopyVec(&pm)

		var fp, fpft mat.Dense
		fp.Mul(f, k.cov)
		fpft.Mul(&fp, f.T())
		pc := symFromDense(&fpft)
		pc.AddSym(pc, q)
		k.cov = pc
	}

	// Innovation: yhat = h·mean, S = h·cov·hᵀ + r.
	var yhat mat.VecDense
	yhat.MulVec(h, k.mean)

	var ph, hph mat.Dense
	ph.Mul(h, k.cov)
	hph.Mul(&ph, h.T())
	s := symFromDense(&hph)
	s.AddSym(s, r)

	norm, ok := distmv.NewNormal(vecSlice(&yhat), s, nil)
	if !ok {
		return fmt.Errorf("cfilters: innovation covariance is not positive definite")
	}
	k.lastLogCondLike = norm.LogProb(vecSlice(y))

	// Gain: K = cov·hᵀ·S⁻¹, via the Cholesky factor of S.
	var chol mat.Cholesky
	if !chol.Factorize(s) {
		return fmt.Errorf("cfilters: innovation covariance Cholesky factorization failed")
	}
	var pht mat.Dense
	pht.Mul(k.cov, h.T())
	var kt mat.Dense
	if err := chol.SolveTo(&kt, pht.T()); err != nil {
		return fmt.Errorf("cfilters: solving for Kalman gain: %w", err)
	}
	gain := kt.T()

	// Correct: mean += K·(y - yhat), cov = (I - K·h)·cov.
	var innov mat.VecDense
	innov.SubVec(y, &yhat)
	var corr mat.VecDense
	corr.MulVec(gain, &innov)
	k.mean.AddVec(k.mean, &corr)

	var kh mat.Dense
	kh.Mul(gain, h)
	ikh := identity(n)
	ikh.Sub(ikh, &kh)
	var newCov mat.Dense
	newCov.Mul(ikh, k.cov)
	k.cov = symFromDense(&newCov)
	return nil
}

// LogCondLike returns the log conditional likelihood contribution of the
// most recent update.
func (k *Kalman) LogCondLike() float64 {
	return k.lastLogCondLike
}

// FilteredSummary returns the filtered mean.
func (k *Kalman) FilteredSummary() mat.Vector {
	return k.mean
}

// Mean returns the filtered mean vector.
func (k *Kalman) Mean() mat.Vector {
	return k.mean
}

// Cov returns the filtered covariance.
func (k *Kalman) Cov() *mat.SymDense {
	return k.cov
}

// Clone returns an independent copy.
func (k *Kalman) Clone() *Kalman {
	cov := mat.NewSymDense(k.cov.SymmetricDim(), nil)
	cov.CopySym(k.cov)
	return &Kalman{
		mean:            mat.VecDenseCopyOf(k.mean),
		cov:             cov,
		lastLogCondLike: k.lastLogCondLike,
		fresh:           k.fresh,
	}
}

// symFromDense copies a numerically symmetric dense matrix into a
// SymDense, averaging the off-diagonal pairs to absorb round-off skew.
func symFromDense(d *mat.Dense) *mat.SymDense {
	n, _ := d.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, 0.5*(d.At(i, j)+d.At(j, i)))
		}
	}
	return s
}

func identity(n int) *mat.Dense {
	d := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		d.Set(i, i, 1)
	}
	return d
}

func vecSlice(v mat.Vector) []float64 {
	out := make([]float64, v.Len())
	for i := range out {
		out[i] = v.AtVec(i)
	}
	return out
}
