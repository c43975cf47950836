// Package models contains complete model-contract implementations for the
// rbpf engine: problem-specific densities, proposal samplers and
// embedded-filter hooks. These double as working examples of how to author
// a model against the engine's interfaces.
package models

import (
	"fmt"
	"math/rand/v2"

	"github.com/banshee-data/particle.report/cfilters"
	"github.com/banshee-data/particle.report/rv"
	"gonum.org/v1/gonum/mat"
)

// RegimeSwitchingConfig parameterizes a regime-switching observation model
// with an AR(1) latent level. The regime chain is the tractable component
// (filtered exactly by an embedded HMM); the level is the sampled
// component.
//
// Observations are scalar: y_t = regimeMean[j] + x2_t + noise(regimeSigma[j])
// when the chain is in regime j.
type RegimeSwitchingConfig struct {
	// RegimeMeans and RegimeSigmas give the observation mean offset and
	// noise scale per regime; the two slices must have equal length.
	RegimeMeans  []float64
	RegimeSigmas []float64
	// Trans is the regime transition matrix, row-stochastic.
	Trans *mat.Dense
	// InitProbs is the time-1 regime distribution.
	InitProbs []float64

	// Phi and StateSigma drive the sampled level:
	// x2_t = Phi·x2_{t-1} + StateSigma·η.
	Phi        float64
	StateSigma float64
	// InitMean and InitSigma give the time-1 level distribution.
	InitMean  float64
	InitSigma float64
}

// RegimeSwitching implements rbpf.Model[*cfilters.HMM] with a bootstrap
// proposal (proposal ≡ transition), so the proposal density terms cancel
// against the transition terms analytically; the engine still evaluates
// them, keeping the weight recursion honest for non-bootstrap variants.
type RegimeSwitching struct {
	cfg       RegimeSwitchingConfig
	initProbs *mat.VecDense
}

// NewRegimeSwitching validates the configuration and builds the model.
func NewRegimeSwitching(cfg RegimeSwitchingConfig) (*RegimeSwitching, error) {
	k := len(cfg.RegimeMeans)
	if k == 0 {
		return nil, fmt.Errorf("models: no regimes configured")
	}
	if len(cfg.RegimeSigmas) != k {
		return nil, fmt.Errorf("models: %d regime means but %d regime sigmas", k, len(cfg.RegimeSigmas))
	}
	for j, s := range cfg.RegimeSigmas {
		if s <= 0 {
			return nil, fmt.Errorf("models: regime %d sigma must be positive, got %v", j, s)
		}
	}
	if cfg.Trans == nil {
		return nil, fmt.Errorf("models: nil regime transition matrix")
	}
	if r, c := cfg.Trans.Dims(); r != k || c != k {
		return nil, fmt.Errorf("models: transition matrix is %dx%d, want %dx%d", r, c, k, k)
	}
	if len(cfg.InitProbs) != k {
		return nil, fmt.Errorf("models: %d initial regime probabilities, want %d", len(cfg.InitProbs), k)
	}
	if cfg.StateSigma <= 0 || cfg.InitSigma <= 0 {
		return nil, fmt.Errorf("models: state and initial sigmas must be positive")
	}
	return &RegimeSwitching{
		cfg:       cfg,
		initProbs: mat.NewVecDense(k, append([]float64(nil), cfg.InitProbs...)),
	}, nil
}

// InitDensity evaluates the time-1 level density.
func (m *RegimeSwitching) InitDensity(x2 mat.Vector) float64 {
	return rv.NormalPDF(x2.AtVec(0), m.cfg.InitMean, m.cfg.InitSigma)
}

// SampleProposal1 draws the time-1 level from its prior.
func (m *RegimeSwitching) SampleProposal1(rng *rand.Rand, _ mat.Vector) *mat.VecDense {
	return mat.NewVecDense(1, []float64{rv.SampleNormal(rng, m.cfg.InitMean, m.cfg.InitSigma)})
}

// ProposalDensity1 evaluates the time-1 proposal density (bootstrap:
// equal to the initial density).
func (m *RegimeSwitching) ProposalDensity1(x2, _ mat.Vector) float64 {
	return m.InitDensity(x2)
}

// TransitionDensity evaluates the AR(1) level transition density.
func (m *RegimeSwitching) TransitionDensity(x2, x2prev mat.Vector) float64 {
	return rv.NormalPDF(x2.AtVec(0), m.cfg.Phi*x2prev.AtVec(0), m.cfg.StateSigma)
}

// SampleProposal draws the time-t level from the transition kernel.
func (m *RegimeSwitching) SampleProposal(rng *rand.Rand, x2prev, _ mat.Vector) *mat.VecDense {
	return mat.NewVecDense(1, []float64{rv.SampleNormal(rng, m.cfg.Phi*x2prev.AtVec(0), m.cfg.StateSigma)})
}

// ProposalDensity evaluates the time-t proposal density (bootstrap).
func (m *RegimeSwitching) ProposalDensity(x2, x2prev, _ mat.Vector) float64 {
	return m.TransitionDensity(x2, x2prev)
}

// NewInner builds the per-particle regime forward filter. The chain's
// parameters do not depend on the sampled level in this model, so every
// particle starts from the same distribution.
func (m *RegimeSwitching) NewInner(_ mat.Vector) (*cfilters.HMM, error) {
	return cfilters.NewHMM(m.initProbs, m.cfg.Trans)
}

// UpdateInner conditions the regime filter on y given the current level:
// the per-regime observation density is Normal(y; mean_j + x2, sigma_j).
func (m *RegimeSwitching) UpdateInner(f *cfilters.HMM, y, x2 mat.Vector) error {
	k := len(m.cfg.RegimeMeans)
	dens := mat.NewVecDense(k, nil)
	for j := 0; j < k; j++ {
		dens.SetVec(j, rv.NormalPDF(y.AtVec(0), m.cfg.RegimeMeans[j]+x2.AtVec(0), m.cfg.RegimeSigmas[j]))
	}
	return f.Update(dens)
}

// NumRegimes returns the regime count.
func (m *RegimeSwitching) NumRegimes() int {
	return len(m.cfg.RegimeMeans)
}
