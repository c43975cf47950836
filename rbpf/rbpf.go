// Package rbpf implements a Rao-Blackwellized (marginal) particle filter
// for state-space time series.
//
// The latent state is split in two: a tractable component whose posterior
// is carried exactly by an embedded closed-form filter (one per particle),
// and a sampled component propagated by sequential importance sampling.
// Marginalizing the tractable component out reduces Monte Carlo variance
// relative to a fully sampled particle filter.
//
// The engine is generic over the embedded filter, so the same control flow
// serves both the discrete-state (HMM) and the Gaussian (Kalman)
// instantiation; see the cfilters package for both.
package rbpf

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrNonPositiveDensity reports a model density function returning zero,
	// a negative value or NaN where the engine needs its logarithm. This is
	// an input-contract violation, not a recoverable condition.
	ErrNonPositiveDensity = errors.New("rbpf: non-positive density evaluation")

	// ErrDegenerateWeights reports that every particle weight collapsed to
	// -Inf, leaving the predictive likelihood undefined.
	ErrDegenerateWeights = errors.New("rbpf: all particle weights collapsed to -Inf")
)

// InnerFilter is the capability the engine needs from an embedded
// closed-form filter. The type parameter is the implementing type itself,
// so Clone can return a concrete copy.
type InnerFilter[F any] interface {
	// LogCondLike returns the log conditional likelihood contribution of
	// the most recent update, log p(y_t | y_{1:t-1}, x2_{1:t}).
	LogCondLike() float64
	// FilteredSummary returns the current filtered distribution of the
	// tractable component: a probability vector for a discrete filter, the
	// filtered mean for a Gaussian one.
	FilteredSummary() mat.Vector
	// Clone returns an independent deep copy.
	Clone() F
}

// Model supplies the problem-specific densities, samplers and
// embedded-filter hooks the engine calls at each step. Density functions
// return raw (non-log) values; the engine takes logarithms itself and
// fails with ErrNonPositiveDensity on zero or negative output.
type Model[F InnerFilter[F]] interface {
	// InitDensity evaluates the time-1 density of the sampled component.
	InitDensity(x2 mat.Vector) float64
	// SampleProposal1 draws the sampled component at time 1 given y_1.
	SampleProposal1(rng *rand.Rand, y mat.Vector) *mat.VecDense
	// ProposalDensity1 evaluates the time-1 proposal density.
	ProposalDensity1(x2, y mat.Vector) float64

	// TransitionDensity evaluates the sampled-component transition density.
	TransitionDensity(x2, x2prev mat.Vector) float64
	// SampleProposal draws the sampled component at time t given the
	// previous value and y_t.
	SampleProposal(rng *rand.Rand, x2prev, y mat.Vector) *mat.VecDense
	// ProposalDensity evaluates the time-t proposal density.
	ProposalDensity(x2, x2prev, y mat.Vector) float64

	// NewInner builds a fresh embedded filter whose initial parameters are
	// derived from the time-1 sampled value.
	NewInner(x21 mat.Vector) (F, error)
	// UpdateInner advances an embedded filter with the new observation,
	// conditioned on the current sampled value. Mutates f in place.
	UpdateInner(f F, y, x2 mat.Vector) error
}

// Resampler redraws the particle population proportionally to weight. It
// must mutate all three slices in lockstep, keeping index correspondence,
// and must validate the weights before touching anything so that a failed
// call leaves the swarm unchanged. Weights are unnormalized log-weights;
// implementations normalize internally and are expected to leave neutral
// (all-equal) weights behind.
type Resampler[F InnerFilter[F]] interface {
	Resample(rng *rand.Rand, inners []F, samples []*mat.VecDense, logWeights []float64) error
}

// ExpectationFunc maps a particle's filtered-distribution summary and
// sampled value to a matrix. The engine averages the outputs across
// particles under the self-normalized importance weights. Output shape
// must be the same for every particle.
type ExpectationFunc func(summary mat.Vector, x2 mat.Vector) *mat.Dense

// Engine is the sequential filtering engine. One observation enters per
// Filter call; the swarm is updated in place and results are read back
// through LogCondLike and Expectations.
//
// An Engine is not safe for concurrent use; each instance owns its swarm
// exclusively.
type Engine[F InnerFilter[F]] struct {
	model     Model[F]
	resampler Resampler[F]
	rng       *rand.Rand

	// resampleEvery is the fixed schedule R: resampling runs at steps
	// where (now+1) mod R == 0.
	resampleEvery int

	now             int
	lastLogCondLike float64

	// The particle swarm: parallel slices, index i's inner filter is
	// conditioned on index i's sampled history. Updated together or not
	// at all.
	inners     []F
	samples    []*mat.VecDense
	logWeights []float64

	expectations []*mat.Dense
}

// New constructs an engine with nparts particles and the given resampling
// schedule. Particle contents stay undefined until the first Filter call;
// log-weights start at zero. A nil rng gets a randomly seeded PCG source.
func New[F InnerFilter[F]](model Model[F], resampler Resampler[F], nparts, resampleEvery int, rng *rand.Rand) (*Engine[F], error) {
	if model == nil {
		return nil, errors.New("rbpf: model must not be nil")
	}
	if resampler == nil {
		return nil, errors.New("rbpf: resampler must not be nil")
	}
	if nparts <= 0 {
		return nil, fmt.Errorf("rbpf: particle count must be positive, got %d", nparts)
	}
	if resampleEvery <= 0 {
		return nil, fmt.Errorf("rbpf: resample schedule must be positive, got %d", resampleEvery)
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Engine[F]{
		model:         model,
		resampler:     resampler,
		rng:           rng,
		resampleEvery: resampleEvery,
		inners:        make([]F, nparts),
		samples:       make([]*mat.VecDense, nparts),
		logWeights:    make([]float64, nparts),
	}, nil
}

// Filter processes one observation. The first call initializes the swarm
// from the time-1 proposal; subsequent calls run the recursive update. On
// success it overwrites the last log conditional likelihood and the
// expectation estimates (one matrix per function in fns, in order), runs
// the resampler if the schedule says so, and advances time by one.
//
// On error the swarm, the accessors and the time counter are left exactly
// as they were before the call.
func (e *Engine[F]) Filter(y mat.Vector, fns []ExpectationFunc) error {
	if e.now == 0 {
		return e.filterInitial(y, fns)
	}
	return e.filterRecursive(y, fns)
}

// filterInitial is the t=1 branch: draw from the time-1 proposal, build
// and condition a fresh inner filter per particle, then weight by
// likelihood contribution plus the initial/proposal density ratio.
func (e *Engine[F]) filterInitial(y mat.Vector, fns []ExpectationFunc) error {
	n := len(e.inners)
	samples := make([]*mat.VecDense, n)
	inners := make([]F, n)
	weights := make([]float64, n)

	for i := 0; i < n; i++ {
		x2 := e.model.SampleProposal1(e.rng, y)
		f, err := e.model.NewInner(x2)
		if err != nil {
			return fmt.Errorf("rbpf: building inner filter for particle %d: %w", i, err)
		}
		if err := e.model.UpdateInner(f, y, x2); err != nil {
			return fmt.Errorf("rbpf: updating inner filter for particle %d: %w", i, err)
		}
		lmu, err := logDensity("initial density", e.model.InitDensity(x2))
		if err != nil {
			return err
		}
		lq, err := logDensity("time-1 proposal density", e.model.ProposalDensity1(x2, y))
		if err != nil {
			return err
		}
		samples[i] = x2
		inners[i] = f
		weights[i] = f.LogCondLike() + lmu - lq
	}

	// log p(y_1) is a stable log-mean-exp over the initial weights.
	ll := logMeanExp(weights)
	if math.IsInf(ll, -1) {
		return fmt.Errorf("rbpf: log p(y_1): %w", ErrDegenerateWeights)
	}

	exps, err := aggregateExpectations(fns, inners, samples, weights)
	if err != nil {
		return err
	}

	e.samples = samples
	e.inners = inners
	e.logWeights = weights
	e.lastLogCondLike = ll
	e.expectations = exps
	if err := e.maybeResample(); err != nil {
		return err
	}
	e.now++
	return nil
}

// filterRecursive is the t>1 branch. Proposals, cloned-and-updated inner
// filters and candidate weights are built in scratch storage and committed
// only after every particle and expectation function has succeeded, so a
// failing call cannot leave the swarm half-updated.
func (e *Engine[F]) filterRecursive(y mat.Vector, fns []ExpectationFunc) error {
	n := len(e.inners)
	samples := make([]*mat.VecDense, n)
	inners := make([]F, n)
	weights := make([]float64, n)

	for i := 0; i < n; i++ {
		x2 := e.model.SampleProposal(e.rng, e.samples[i], y)
		f := e.inners[i].Clone()
		if err := e.model.UpdateInner(f, y, x2); err != nil {
			return fmt.Errorf("rbpf: updating inner filter for particle %d: %w", i, err)
		}
		lf, err := logDensity("transition density", e.model.TransitionDensity(x2, e.samples[i]))
		if err != nil {
			return err
		}
		lq, err := logDensity("proposal density", e.model.ProposalDensity(x2, e.samples[i], y))
		if err != nil {
			return err
		}
		samples[i] = x2
		inners[i] = f
		weights[i] = e.logWeights[i] + f.LogCondLike() + lf - lq
	}

	// log p(y_t | y_{1:t-1}) = LSE(updated weights) - LSE(previous
	// weights), each sum stabilized by its own running maximum.
	numer := floats.LogSumExp(weights)
	denom := floats.LogSumExp(e.logWeights)
	if math.IsInf(numer, -1) || math.IsInf(denom, -1) {
		return fmt.Errorf("rbpf: log p(y_%d | y_1:%d): %w", e.now+1, e.now, ErrDegenerateWeights)
	}

	exps, err := aggregateExpectations(fns, inners, samples, weights)
	if err != nil {
		return err
	}

	e.samples = samples
	e.inners = inners
	e.logWeights = weights
	e.lastLogCondLike = numer - denom
	e.expectations = exps
	if err := e.maybeResample(); err != nil {
		return err
	}
	e.now++
	return nil
}

// maybeResample triggers the resampler on the schedule boundary. Called
// with the new-step state committed but time not yet advanced.
func (e *Engine[F]) maybeResample() error {
	if (e.now+1)%e.resampleEvery != 0 {
		return nil
	}
	if err := e.resampler.Resample(e.rng, e.inners, e.samples, e.logWeights); err != nil {
		return fmt.Errorf("rbpf: resampling at t=%d: %w", e.now+1, err)
	}
	return nil
}

// aggregateExpectations computes the self-normalized importance-sampling
// estimate of E[h(x1_t, x2_t) | y_{1:t}] for each h, preserving order.
// Log-weights are stabilized by subtracting the swarm maximum before
// exponentiating; every h must produce the same output shape for every
// particle.
func aggregateExpectations[F InnerFilter[F]](fns []ExpectationFunc, inners []F, samples []*mat.VecDense, logWeights []float64) ([]*mat.Dense, error) {
	out := make([]*mat.Dense, len(fns))
	if len(fns) == 0 {
		return out, nil
	}

	m := floats.Max(logWeights)
	if math.IsInf(m, -1) {
		return nil, fmt.Errorf("rbpf: expectation aggregation: %w", ErrDegenerateWeights)
	}
	relw := make([]float64, len(logWeights))
	var norm float64
	for i, lw := range logWeights {
		relw[i] = math.Exp(lw - m)
		norm += relw[i]
	}

	var tmp mat.Dense
	for k, h := range fns {
		var numer *mat.Dense
		var rows, cols int
		for i := range inners {
			hv := h(inners[i].FilteredSummary(), samples[i])
			if hv == nil {
				return nil, fmt.Errorf("rbpf: expectation function %d returned nil for particle %d", k, i)
			}
			r, c := hv.Dims()
			if numer == nil {
				rows, cols = r, c
				numer = mat.NewDense(r, c, nil)
			} else if r != rows || c != cols {
				return nil, fmt.Errorf("rbpf: expectation function %d: particle %d output is %dx%d, want %dx%d", k, i, r, c, rows, cols)
			}
			tmp.Reset()
			tmp.Scale(relw[i], hv)
			numer.Add(numer, &tmp)
		}
		numer.Scale(1/norm, numer)
		out[k] = numer
	}
	return out, nil
}

// LogCondLike returns the most recent log p(y_t | y_{1:t-1}) (log p(y_1)
// after the first call). Zero before any Filter call.
func (e *Engine[F]) LogCondLike() float64 {
	return e.lastLogCondLike
}

// Expectations returns deep copies of the current expectation estimates,
// one per function supplied to the latest Filter call, in the same order.
func (e *Engine[F]) Expectations() []*mat.Dense {
	out := make([]*mat.Dense, len(e.expectations))
	for i, m := range e.expectations {
		out[i] = mat.DenseCopyOf(m)
	}
	return out
}

// Now returns the number of observations processed so far.
func (e *Engine[F]) Now() int {
	return e.now
}

// NumParticles returns the fixed swarm cardinality.
func (e *Engine[F]) NumParticles() int {
	return len(e.inners)
}

// Samples returns copies of the current sampled-component values, indexed
// by particle. Undefined content before the first Filter call.
func (e *Engine[F]) Samples() []*mat.VecDense {
	out := make([]*mat.VecDense, len(e.samples))
	for i, s := range e.samples {
		if s != nil {
			out[i] = mat.VecDenseCopyOf(s)
		}
	}
	return out
}

// LogWeights returns a copy of the current unnormalized log-weights.
func (e *Engine[F]) LogWeights() []float64 {
	out := make([]float64, len(e.logWeights))
	copy(out, e.logWeights)
	return out
}

// logDensity takes the log of a raw density value, rejecting NaN, zero
// and negative evaluations per the model contract.
func logDensity(name string, d float64) (float64, error) {
	if math.IsNaN(d) || d <= 0 {
		return 0, fmt.Errorf("rbpf: %s returned %v: %w", name, d, ErrNonPositiveDensity)
	}
	return math.Log(d), nil
}
