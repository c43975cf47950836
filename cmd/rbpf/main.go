// Command rbpf runs a Rao-Blackwellized particle filter over a CSV of
// observations, records the run to sqlite and optionally renders an HTML
// report and a particle-cloud PNG.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/banshee-data/particle.report/cfilters"
	"github.com/banshee-data/particle.report/internal/config"
	"github.com/banshee-data/particle.report/internal/report"
	"github.com/banshee-data/particle.report/internal/runstore"
	"github.com/banshee-data/particle.report/models"
	"github.com/banshee-data/particle.report/rbpf"
	"github.com/banshee-data/particle.report/resamplers"
	"github.com/banshee-data/particle.report/rv"
	"gonum.org/v1/gonum/mat"
)

var (
	observationsPath = flag.String("observations", "", "CSV file of observations (first column, one row per time step)")
	configPath       = flag.String("config", "", "JSON run configuration (optional)")
	dbPath           = flag.String("db", "runs.db", "sqlite database for run output")
	migrationsDir    = flag.String("migrations", "", "migrations directory; when set, runs schema migrations before the run")
	reportPath       = flag.String("report", "", "write an HTML report to this path")
	scatterPath      = flag.String("scatter", "", "write a particle-cloud PNG to this path")
)

func main() {
	flag.Parse()
	if *observationsPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg := &config.RunConfig{}
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("[rbpf] %v", err)
		}
	}

	obs, err := readObservations(*observationsPath)
	if err != nil {
		log.Fatalf("[rbpf] %v", err)
	}
	log.Printf("[rbpf] loaded %d observations from %s", len(obs), *observationsPath)

	store, err := runstore.Open(*dbPath)
	if err != nil {
		log.Fatalf("[rbpf] opening run store: %v", err)
	}
	defer store.Close()
	if *migrationsDir != "" {
		if err := store.MigrateUp(*migrationsDir); err != nil {
			log.Fatalf("[rbpf] migrating run store: %v", err)
		}
	}

	runID, err := store.CreateRun(cfg.GetModel(), cfg.GetParticles(), cfg.GetResampleEvery(), cfg.GetSeed())
	if err != nil {
		log.Fatalf("[rbpf] %v", err)
	}
	log.Printf("[rbpf] run %s: model=%s particles=%d resample_every=%d seed=%d",
		runID, cfg.GetModel(), cfg.GetParticles(), cfg.GetResampleEvery(), cfg.GetSeed())

	var samples []*mat.VecDense
	var logWeights []float64
	var total float64

	switch cfg.GetModel() {
	case "regime":
		model, err := models.NewRegimeSwitching(regimeConfig(cfg))
		if err != nil {
			log.Fatalf("[rbpf] %v", err)
		}
		res, err := pickResampler[*cfilters.HMM](cfg.GetResampler())
		if err != nil {
			log.Fatalf("[rbpf] %v", err)
		}
		eng, err := rbpf.New(model, res, cfg.GetParticles(), cfg.GetResampleEvery(), rv.NewSource(cfg.GetSeed()))
		if err != nil {
			log.Fatalf("[rbpf] %v", err)
		}
		total, err = runEngine(eng, obs, store, runID)
		if err != nil {
			log.Fatalf("[rbpf] %v", err)
		}
		samples, logWeights = eng.Samples(), eng.LogWeights()
	case "switching-linear":
		model, err := models.NewSwitchingLinear(switchingLinearConfig(cfg))
		if err != nil {
			log.Fatalf("[rbpf] %v", err)
		}
		res, err := pickResampler[*cfilters.Kalman](cfg.GetResampler())
		if err != nil {
			log.Fatalf("[rbpf] %v", err)
		}
		eng, err := rbpf.New(model, res, cfg.GetParticles(), cfg.GetResampleEvery(), rv.NewSource(cfg.GetSeed()))
		if err != nil {
			log.Fatalf("[rbpf] %v", err)
		}
		total, err = runEngine(eng, obs, store, runID)
		if err != nil {
			log.Fatalf("[rbpf] %v", err)
		}
		samples, logWeights = eng.Samples(), eng.LogWeights()
	default:
		log.Fatalf("[rbpf] unknown model %q (want \"regime\" or \"switching-linear\")", cfg.GetModel())
	}

	if err := store.FinishRun(runID, total); err != nil {
		log.Fatalf("[rbpf] %v", err)
	}
	log.Printf("[rbpf] run %s finished: total log-likelihood %.4f over %d steps", runID, total, len(obs))

	if *reportPath != "" {
		steps, err := store.RunSteps(runID)
		if err != nil {
			log.Fatalf("[rbpf] %v", err)
		}
		if err := report.WriteHTML(*reportPath, "Filter run "+runID, steps); err != nil {
			log.Fatalf("[rbpf] %v", err)
		}
		log.Printf("[rbpf] wrote report to %s", *reportPath)
	}
	if *scatterPath != "" {
		if err := report.WriteParticleScatter(*scatterPath, samples, logWeights); err != nil {
			log.Fatalf("[rbpf] %v", err)
		}
		log.Printf("[rbpf] wrote particle scatter to %s", *scatterPath)
	}
}

// runEngine feeds every observation through the engine, recording the
// per-step log conditional likelihood and expectation estimates, and
// returns the accumulated log-likelihood.
func runEngine[F rbpf.InnerFilter[F]](eng *rbpf.Engine[F], obs []float64, store *runstore.Store, runID string) (float64, error) {
	fns := []rbpf.ExpectationFunc{models.FilteredSummaryColumn, models.SampledStateColumn}
	var total float64
	for t, y := range obs {
		if err := eng.Filter(mat.NewVecDense(1, []float64{y}), fns); err != nil {
			return total, fmt.Errorf("step %d: %w", t+1, err)
		}
		total += eng.LogCondLike()
		if err := store.RecordStep(runID, t+1, eng.LogCondLike(), flatten(eng.Expectations())); err != nil {
			return total, err
		}
	}
	return total, nil
}

func pickResampler[F rbpf.InnerFilter[F]](name string) (rbpf.Resampler[F], error) {
	switch name {
	case "multinomial":
		return resamplers.Multinomial[F]{}, nil
	case "systematic":
		return resamplers.Systematic[F]{}, nil
	case "stratified":
		return resamplers.Stratified[F]{}, nil
	}
	return nil, fmt.Errorf("unknown resampler %q", name)
}

// regimeConfig maps the run configuration onto the regime-switching model
// parameters, falling back to a two-regime default.
func regimeConfig(cfg *config.RunConfig) models.RegimeSwitchingConfig {
	out := models.RegimeSwitchingConfig{
		RegimeMeans:  []float64{-1, 1},
		RegimeSigmas: []float64{0.5, 0.5},
		Trans:        mat.NewDense(2, 2, []float64{0.9, 0.1, 0.1, 0.9}),
		InitProbs:    []float64{0.5, 0.5},
		Phi:          cfg.GetFloat(cfg.Phi, 0.95),
		StateSigma:   cfg.GetFloat(cfg.StateSigma, 0.2),
		InitMean:     cfg.GetFloat(cfg.InitMean, 0),
		InitSigma:    cfg.GetFloat(cfg.InitSigma, 1),
	}
	if len(cfg.RegimeMeans) > 0 {
		out.RegimeMeans = cfg.RegimeMeans
	}
	if len(cfg.RegimeSigmas) > 0 {
		out.RegimeSigmas = cfg.RegimeSigmas
	}
	if len(cfg.RegimeInit) > 0 {
		out.InitProbs = cfg.RegimeInit
	}
	if len(cfg.RegimeTrans) > 0 {
		k := len(cfg.RegimeTrans)
		trans := mat.NewDense(k, k, nil)
		for i, row := range cfg.RegimeTrans {
			for j, p := range row {
				trans.Set(i, j, p)
			}
		}
		out.Trans = trans
	}
	return out
}

func switchingLinearConfig(cfg *config.RunConfig) models.SwitchingLinearConfig {
	return models.SwitchingLinearConfig{
		A:         cfg.GetFloat(cfg.A, 0.98),
		Q:         cfg.GetFloat(cfg.Q, 0.02),
		C:         cfg.GetFloat(cfg.C, 1),
		R:         cfg.GetFloat(cfg.R, 1),
		Rho:       cfg.GetFloat(cfg.Rho, 0.95),
		VolSigma:  cfg.GetFloat(cfg.VolSigma, 0.2),
		PriorMean: cfg.GetFloat(cfg.PriorMean, 0),
		PriorVar:  cfg.GetFloat(cfg.PriorVar, 1),
	}
}

// readObservations parses the first column of a CSV file into a float
// series. Blank lines and a non-numeric header row are skipped.
func readObservations(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening observations: %w", err)
	}
	defer f.Close()

	var out []float64
	scanner := bufio.NewScanner(f)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		field := strings.TrimSpace(strings.Split(line, ",")[0])
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			if lineNo == 1 {
				continue // header row
			}
			return nil, fmt.Errorf("parsing observation on line %d: %w", lineNo, err)
		}
		out = append(out, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading observations: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no observations found in %s", path)
	}
	return out, nil
}

// flatten concatenates matrix entries row-major across the expectation
// sequence, matching the run_steps storage format.
func flatten(ms []*mat.Dense) []float64 {
	var out []float64
	for _, m := range ms {
		r, c := m.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				out = append(out, m.At(i, j))
			}
		}
	}
	return out
}
