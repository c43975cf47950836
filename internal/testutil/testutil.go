// Package testutil provides shared numeric test helpers.
//
// This package centralises common assertions used across the filter test
// files to reduce duplication.
package testutil

import (
	"math"
	"testing"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertInDelta checks that got is within tol of want.
func AssertInDelta(t *testing.T, got, want, tol float64) {
	t.Helper()
	if math.IsNaN(got) || math.Abs(got-want) > tol {
		t.Errorf("got %v, want %v (±%v)", got, want, tol)
	}
}

// AssertFinite checks that x is neither NaN nor infinite.
func AssertFinite(t *testing.T, x float64) {
	t.Helper()
	if math.IsNaN(x) || math.IsInf(x, 0) {
		t.Errorf("expected finite value, got %v", x)
	}
}

// AssertSlicesInDelta checks two equal-length slices elementwise.
func AssertSlicesInDelta(t *testing.T, got, want []float64, tol float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range got {
		if math.IsNaN(got[i]) || math.Abs(got[i]-want[i]) > tol {
			t.Errorf("index %d: got %v, want %v (±%v)", i, got[i], want[i], tol)
		}
	}
}
