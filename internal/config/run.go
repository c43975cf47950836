// Package config loads filter run configuration from JSON.
//
// Fields are pointer-typed so a file can set only what it needs; the
// getters fall back to the documented defaults, and the same JSON schema
// works for both full run files and partial overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Defaults applied by the getters when a field is absent.
const (
	DefaultParticles     = 1000
	DefaultResampleEvery = 1
	DefaultSeed          = uint64(1)
	DefaultModel         = "regime"
)

// RunConfig is the root configuration for one filter run.
type RunConfig struct {
	// Engine params
	Particles     *int    `json:"particles,omitempty"`
	ResampleEvery *int    `json:"resample_every,omitempty"`
	Seed          *uint64 `json:"seed,omitempty"`
	Resampler     *string `json:"resampler,omitempty"` // "multinomial" | "systematic" | "stratified"

	// Model selection: "regime" | "switching-linear"
	Model *string `json:"model,omitempty"`

	// Regime-switching model params
	RegimeMeans  []float64   `json:"regime_means,omitempty"`
	RegimeSigmas []float64   `json:"regime_sigmas,omitempty"`
	RegimeTrans  [][]float64 `json:"regime_trans,omitempty"`
	RegimeInit   []float64   `json:"regime_init,omitempty"`
	Phi          *float64    `json:"phi,omitempty"`
	StateSigma   *float64    `json:"state_sigma,omitempty"`
	InitMean     *float64    `json:"init_mean,omitempty"`
	InitSigma    *float64    `json:"init_sigma,omitempty"`

	// Switching-linear model params
	A         *float64 `json:"a,omitempty"`
	Q         *float64 `json:"q,omitempty"`
	C         *float64 `json:"c,omitempty"`
	R         *float64 `json:"r,omitempty"`
	Rho       *float64 `json:"rho,omitempty"`
	VolSigma  *float64 `json:"vol_sigma,omitempty"`
	PriorMean *float64 `json:"prior_mean,omitempty"`
	PriorVar  *float64 `json:"prior_var,omitempty"`
}

// Load reads a RunConfig from a JSON file.
func Load(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var cfg RunConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *RunConfig) GetParticles() int {
	if c.Particles != nil {
		return *c.Particles
	}
	return DefaultParticles
}

func (c *RunConfig) GetResampleEvery() int {
	if c.ResampleEvery != nil {
		return *c.ResampleEvery
	}
	return DefaultResampleEvery
}

func (c *RunConfig) GetSeed() uint64 {
	if c.Seed != nil {
		return *c.Seed
	}
	return DefaultSeed
}

func (c *RunConfig) GetResampler() string {
	if c.Resampler != nil {
		return *c.Resampler
	}
	return "multinomial"
}

func (c *RunConfig) GetModel() string {
	if c.Model != nil {
		return *c.Model
	}
	return DefaultModel
}

func (c *RunConfig) GetFloat(p *float64, def float64) float64 {
	if p != nil {
		return *p
	}
	return def
}
