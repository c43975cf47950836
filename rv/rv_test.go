package rv

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestNormalPDF(t *testing.T) {
	// Standard normal at the mean: 1/sqrt(2*pi).
	want := 1 / math.Sqrt(2*math.Pi)
	if got := NormalPDF(0, 0, 1); math.Abs(got-want) > 1e-12 {
		t.Errorf("NormalPDF(0,0,1) = %v, want %v", got, want)
	}
	if got, lg := NormalPDF(1.3, 0.5, 2), NormalLogPDF(1.3, 0.5, 2); math.Abs(math.Log(got)-lg) > 1e-12 {
		t.Errorf("PDF and LogPDF disagree: log(%v) vs %v", got, lg)
	}
}

func TestMVNormalMatchesScalar(t *testing.T) {
	mu := mat.NewVecDense(1, []float64{0.5})
	sigma := mat.NewSymDense(1, []float64{4}) // variance 4, sd 2
	x := mat.NewVecDense(1, []float64{1.3})

	got, ok := MVNormalPDF(x, mu, sigma)
	if !ok {
		t.Fatal("MVNormalPDF rejected a positive definite covariance")
	}
	want := NormalPDF(1.3, 0.5, 2)
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("1-d MVNormalPDF = %v, scalar NormalPDF = %v", got, want)
	}
}

func TestMVNormalRejectsNonPD(t *testing.T) {
	mu := mat.NewVecDense(2, nil)
	sigma := mat.NewSymDense(2, []float64{1, 2, 2, 1}) // not positive definite
	if _, ok := MVNormalLogPDF(mu, mu, sigma); ok {
		t.Error("MVNormalLogPDF accepted a non positive definite covariance")
	}
	if _, ok := SampleMVNormal(NewSource(1), mu, sigma); ok {
		t.Error("SampleMVNormal accepted a non positive definite covariance")
	}
}

func TestNewSourceDeterministic(t *testing.T) {
	a, b := NewSource(7), NewSource(7)
	for i := 0; i < 10; i++ {
		if x, y := a.Float64(), b.Float64(); x != y {
			t.Fatalf("draw %d differs: %v vs %v", i, x, y)
		}
	}
	if NewSource(7).Float64() == NewSource(8).Float64() {
		t.Error("different seeds produced the same first draw")
	}
}

func TestSampleNormalMoments(t *testing.T) {
	rng := NewSource(123)
	const n = 20000
	var sum, sumSq float64
	for i := 0; i < n; i++ {
		x := SampleNormal(rng, 2, 0.5)
		sum += x
		sumSq += x * x
	}
	mean := sum / n
	variance := sumSq/n - mean*mean
	if math.Abs(mean-2) > 0.02 {
		t.Errorf("sample mean = %v, want about 2", mean)
	}
	if math.Abs(variance-0.25) > 0.02 {
		t.Errorf("sample variance = %v, want about 0.25", variance)
	}
}
