// Package report renders filter run output: an HTML page of the
// log-likelihood and expectation series (go-echarts) and a PNG scatter
// of the final particle cloud (gonum/plot).
package report

import (
	"fmt"
	"os"

	"github.com/banshee-data/particle.report/internal/monitoring"
	"github.com/banshee-data/particle.report/internal/runstore"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var logf = monitoring.Component("Report")

// WriteHTML renders the run's per-step series to an HTML file: one line
// chart for log p(y_t | y_{1:t-1}) and, when expectations were recorded,
// one line per expectation component.
func WriteHTML(path, title string, steps []runstore.StepRow) error {
	if len(steps) == 0 {
		return fmt.Errorf("report: no steps to render")
	}

	xs := make([]int, len(steps))
	ll := make([]opts.LineData, len(steps))
	for i, s := range steps {
		xs[i] = s.T
		ll[i] = opts.LineData{Value: s.LogCondLike}
	}

	llChart := charts.NewLine()
	llChart.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "900px", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: "one-step-ahead log predictive likelihood"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t"}),
	)
	llChart.SetXAxis(xs).AddSeries("log p(y_t | y_1:t-1)", ll)

	page := components.NewPage()
	page.AddCharts(llChart)

	if n := len(steps[0].Expectations); n > 0 {
		expChart := charts.NewLine()
		expChart.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "420px"}),
			charts.WithTitleOpts(opts.Title{Title: "Posterior expectations", Subtitle: "self-normalized importance-sampling estimates"}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
			charts.WithXAxisOpts(opts.XAxis{Name: "t"}),
		)
		expChart.SetXAxis(xs)
		for j := 0; j < n; j++ {
			series := make([]opts.LineData, len(steps))
			for i, s := range steps {
				if j < len(s.Expectations) {
					series[i] = opts.LineData{Value: s.Expectations[j]}
				}
			}
			expChart.AddSeries(fmt.Sprintf("E[h_%d]", j), series)
		}
		page.AddCharts(expChart)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: creating %s: %w", path, err)
	}
	defer f.Close()
	if err := page.Render(f); err != nil {
		return fmt.Errorf("report: rendering %s: %w", path, err)
	}
	logf("wrote HTML report for %d steps to %s", len(steps), path)
	return nil
}

// WriteParticleScatter renders the final particle cloud to a PNG: sampled
// value on the x-axis, unnormalized log-weight on the y-axis. Only the
// first component of each sampled vector is plotted.
func WriteParticleScatter(path string, samples []*mat.VecDense, logWeights []float64) error {
	if len(samples) == 0 || len(samples) != len(logWeights) {
		return fmt.Errorf("report: %d samples and %d weights", len(samples), len(logWeights))
	}

	pts := make(plotter.XYs, 0, len(samples))
	for i, s := range samples {
		if s == nil {
			continue
		}
		pts = append(pts, plotter.XY{X: s.AtVec(0), Y: logWeights[i]})
	}

	p := plot.New()
	p.Title.Text = "Particle cloud"
	p.X.Label.Text = "sampled state"
	p.Y.Label.Text = "log weight"

	sc, err := plotter.NewScatter(pts)
	if err != nil {
		return fmt.Errorf("report: building scatter: %w", err)
	}
	sc.Radius = vg.Points(2)
	p.Add(sc)

	if err := p.Save(8*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("report: saving %s: %w", path, err)
	}
	logf("wrote particle scatter (%d particles) to %s", len(pts), path)
	return nil
}
