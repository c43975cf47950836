package models

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/banshee-data/particle.report/cfilters"
	"github.com/banshee-data/particle.report/rv"
	"gonum.org/v1/gonum/mat"
)

// SwitchingLinearConfig parameterizes a conditionally linear-Gaussian
// model with a sampled log-volatility. The scalar signal x1 is the
// tractable component (filtered exactly by an embedded Kalman filter);
// the log-volatility x2 is the sampled component and modulates the
// observation noise:
//
//	x1_t = A·x1_{t-1} + w,  w ~ N(0, Q)
//	y_t  = C·x1_t + v,      v ~ N(0, R·exp(x2_t))
//	x2_t = Rho·x2_{t-1} + VolSigma·η
type SwitchingLinearConfig struct {
	A float64
	Q float64
	C float64
	R float64

	Rho      float64
	VolSigma float64

	// PriorMean and PriorVar give the time-1 distribution of the signal.
	PriorMean float64
	PriorVar  float64
}

// SwitchingLinear implements rbpf.Model[*cfilters.Kalman] with a
// bootstrap proposal for the log-volatility. Its stationary AR(1)
// distribution serves as the time-1 density, so |Rho| must be below 1.
type SwitchingLinear struct {
	cfg SwitchingLinearConfig

	// initSigma is the stationary standard deviation of the
	// log-volatility chain.
	initSigma float64

	// Constant system matrices; only the observation noise varies with
	// the sampled state.
	f *mat.Dense
	q *mat.SymDense
	h *mat.Dense
}

// NewSwitchingLinear validates the configuration and builds the model.
func NewSwitchingLinear(cfg SwitchingLinearConfig) (*SwitchingLinear, error) {
	if cfg.Q <= 0 || cfg.R <= 0 || cfg.PriorVar <= 0 {
		return nil, fmt.Errorf("models: Q, R and PriorVar must be positive")
	}
	if cfg.VolSigma <= 0 {
		return nil, fmt.Errorf("models: VolSigma must be positive, got %v", cfg.VolSigma)
	}
	if math.Abs(cfg.Rho) >= 1 {
		return nil, fmt.Errorf("models: |Rho| must be below 1 for a stationary volatility chain, got %v", cfg.Rho)
	}
	return &SwitchingLinear{
		cfg:       cfg,
		initSigma: cfg.VolSigma / math.Sqrt(1-cfg.Rho*cfg.Rho),
		f:         mat.NewDense(1, 1, []float64{cfg.A}),
		q:         mat.NewSymDense(1, []float64{cfg.Q}),
		h:         mat.NewDense(1, 1, []float64{cfg.C}),
	}, nil
}

// InitDensity evaluates the stationary log-volatility density.
func (m *SwitchingLinear) InitDensity(x2 mat.Vector) float64 {
	return rv.NormalPDF(x2.AtVec(0), 0, m.initSigma)
}

// SampleProposal1 draws the time-1 log-volatility from its stationary
// distribution.
func (m *SwitchingLinear) SampleProposal1(rng *rand.Rand, _ mat.Vector) *mat.VecDense {
	return mat.NewVecDense(1, []float64{rv.SampleNormal(rng, 0, m.initSigma)})
}

// ProposalDensity1 evaluates the time-1 proposal density (bootstrap).
func (m *SwitchingLinear) ProposalDensity1(x2, _ mat.Vector) float64 {
	return m.InitDensity(x2)
}

// TransitionDensity evaluates the AR(1) log-volatility transition.
func (m *SwitchingLinear) TransitionDensity(x2, x2prev mat.Vector) float64 {
	return rv.NormalPDF(x2.AtVec(0), m.cfg.Rho*x2prev.AtVec(0), m.cfg.VolSigma)
}

// SampleProposal draws the time-t log-volatility from the transition
// kernel.
func (m *SwitchingLinear) SampleProposal(rng *rand.Rand, x2prev, _ mat.Vector) *mat.VecDense {
	return mat.NewVecDense(1, []float64{rv.SampleNormal(rng, m.cfg.Rho*x2prev.AtVec(0), m.cfg.VolSigma)})
}

// ProposalDensity evaluates the time-t proposal density (bootstrap).
func (m *SwitchingLinear) ProposalDensity(x2, x2prev, _ mat.Vector) float64 {
	return m.TransitionDensity(x2, x2prev)
}

// NewInner builds the per-particle Kalman filter from the signal prior.
func (m *SwitchingLinear) NewInner(_ mat.Vector) (*cfilters.Kalman, error) {
	return cfilters.NewKalman(
		mat.NewVecDense(1, []float64{m.cfg.PriorMean}),
		mat.NewSymDense(1, []float64{m.cfg.PriorVar}),
	)
}

// UpdateInner advances the Kalman filter with the observation noise
// scaled by the current sampled log-volatility.
func (m *SwitchingLinear) UpdateInner(f *cfilters.Kalman, y, x2 mat.Vector) error {
	r := mat.NewSymDense(1, []float64{m.cfg.R * math.Exp(x2.AtVec(0))})
	return f.Update(y, m.f, m.q, m.h, r)
}
