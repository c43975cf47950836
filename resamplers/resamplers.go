// Package resamplers provides resampling schemes for the rbpf engine.
// Each scheme normalizes the unnormalized log-weights internally, draws an
// ancestor index per destination slot, then materializes copies from the
// index assignment so a particle resampled into several slots never
// aliases itself. All schemes leave neutral (zero) log-weights behind.
package resamplers

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/banshee-data/particle.report/rbpf"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Multinomial draws each ancestor independently from the normalized
// weight distribution.
type Multinomial[F rbpf.InnerFilter[F]] struct{}

// Resample implements rbpf.Resampler.
func (Multinomial[F]) Resample(rng *rand.Rand, inners []F, samples []*mat.VecDense, logWeights []float64) error {
	cdf, err := weightCDF(logWeights)
	if err != nil {
		return err
	}
	idx := make([]int, len(logWeights))
	for i := range idx {
		idx[i] = searchCDF(cdf, rng.Float64())
	}
	materialize(idx, inners, samples, logWeights)
	return nil
}

// Systematic draws a single uniform offset and places every ancestor
// position a fixed 1/n stride apart, which keeps the resampled population
// closer to the weight distribution than independent draws.
type Systematic[F rbpf.InnerFilter[F]] struct{}

// Resample implements rbpf.Resampler.
func (Systematic[F]) Resample(rng *rand.Rand, inners []F, samples []*mat.VecDense, logWeights []float64) error {
	cdf, err := weightCDF(logWeights)
	if err != nil {
		return err
	}
	n := len(logWeights)
	u := rng.Float64() / float64(n)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = searchCDF(cdf, u+float64(i)/float64(n))
	}
	materialize(idx, inners, samples, logWeights)
	return nil
}

// Stratified draws one uniform position inside each of n equal strata of
// the unit interval.
type Stratified[F rbpf.InnerFilter[F]] struct{}

// Resample implements rbpf.Resampler.
func (Stratified[F]) Resample(rng *rand.Rand, inners []F, samples []*mat.VecDense, logWeights []float64) error {
	cdf, err := weightCDF(logWeights)
	if err != nil {
		return err
	}
	n := len(logWeights)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = searchCDF(cdf, (float64(i)+rng.Float64())/float64(n))
	}
	materialize(idx, inners, samples, logWeights)
	return nil
}

// NoOp leaves the swarm untouched. Useful for pure sequential importance
// sampling and for tests that need the weight recursion undisturbed.
type NoOp[F rbpf.InnerFilter[F]] struct{}

// Resample implements rbpf.Resampler as a no-op.
func (NoOp[F]) Resample(*rand.Rand, []F, []*mat.VecDense, []float64) error {
	return nil
}

// weightCDF turns unnormalized log-weights into a cumulative distribution,
// stabilized by subtracting the maximum before exponentiating. It fails
// before any caller mutates the swarm, so a resampling error leaves the
// population intact.
func weightCDF(logWeights []float64) ([]float64, error) {
	if len(logWeights) == 0 {
		return nil, fmt.Errorf("resamplers: empty weight slice")
	}
	m := floats.Max(logWeights)
	if math.IsInf(m, -1) {
		return nil, fmt.Errorf("resamplers: %w", rbpf.ErrDegenerateWeights)
	}
	cdf := make([]float64, len(logWeights))
	var sum float64
	for i, lw := range logWeights {
		sum += math.Exp(lw - m)
		cdf[i] = sum
	}
	for i := range cdf {
		cdf[i] /= sum
	}
	// Guard against round-off leaving the last entry short of 1.
	cdf[len(cdf)-1] = 1
	return cdf, nil
}

// searchCDF returns the first index whose cumulative weight reaches u.
func searchCDF(cdf []float64, u float64) int {
	i := sort.SearchFloat64s(cdf, u)
	if i >= len(cdf) {
		i = len(cdf) - 1
	}
	return i
}

// materialize rewrites the three parallel collections from the ancestor
// assignment and resets the weights to neutral. Copies are taken from a
// snapshot of the sources, so duplicated ancestors stay independent.
func materialize[F rbpf.InnerFilter[F]](idx []int, inners []F, samples []*mat.VecDense, logWeights []float64) {
	srcInners := make([]F, len(inners))
	copy(srcInners, inners)
	srcSamples := make([]*mat.VecDense, len(samples))
	copy(srcSamples, samples)

	for i, a := range idx {
		inners[i] = srcInners[a].Clone()
		samples[i] = mat.VecDenseCopyOf(srcSamples[a])
		logWeights[i] = 0
	}
}
