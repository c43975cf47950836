package runstore

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunLifecycle(t *testing.T) {
	s := openTestStore(t)

	id, err := s.CreateRun("regime", 500, 2, 42)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if id == "" {
		t.Fatal("CreateRun returned an empty run ID")
	}

	steps := []struct {
		ll   float64
		exps []float64
	}{
		{-1.3, []float64{0.5, -0.1}},
		{-0.9, []float64{0.6, 0.0}},
		{-1.1, nil},
	}
	total := 0.0
	for i, step := range steps {
		if err := s.RecordStep(id, i+1, step.ll, step.exps); err != nil {
			t.Fatalf("RecordStep(%d): %v", i+1, err)
		}
		total += step.ll
	}
	if err := s.FinishRun(id, total); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	run, err := s.GetRun(id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Model != "regime" || run.Particles != 500 || run.ResampleEvery != 2 || run.Seed != 42 {
		t.Errorf("GetRun = %+v", run)
	}
	if math.Abs(run.TotalLogLike-total) > 1e-12 {
		t.Errorf("TotalLogLike = %v, want %v", run.TotalLogLike, total)
	}

	got, err := s.RunSteps(id)
	if err != nil {
		t.Fatalf("RunSteps: %v", err)
	}
	want := make([]StepRow, len(steps))
	for i, step := range steps {
		want[i] = StepRow{T: i + 1, LogCondLike: step.ll, Expectations: step.exps}
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("RunSteps mismatch (-want +got):\n%s", diff)
	}
}

func TestDuplicateStepRejected(t *testing.T) {
	s := openTestStore(t)

	id, err := s.CreateRun("regime", 10, 1, 1)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := s.RecordStep(id, 1, -1, nil); err != nil {
		t.Fatalf("RecordStep: %v", err)
	}
	if err := s.RecordStep(id, 1, -2, nil); err == nil {
		t.Error("recording the same time step twice did not error")
	}
}

func TestGetRunMissing(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetRun("no-such-run"); err == nil {
		t.Error("GetRun on an unknown ID did not error")
	}
}
