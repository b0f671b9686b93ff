// Package testutil provides shared test infrastructure for the physiosim engine.
// It holds the physiological reference ranges and assertion helpers used across
// sim/ and its sub-package tests.
package testutil

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// ReferenceRanges represents the structure of testdata/reference_ranges.json.
type ReferenceRanges struct {
	Profiles []ReferenceProfile `json:"profiles"`
}

// ReferenceProfile is the settled vitals envelope expected for one patient profile.
type ReferenceProfile struct {
	Profile       string           `json:"profile"`
	SettleSeconds float64          `json:"settle_seconds"`
	Vitals        map[string]Range `json:"vitals"`
}

// Range is an inclusive interval.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// LoadReferenceRanges loads the reference ranges from the testdata directory.
// The path is resolved relative to this source file: sim/internal/testutil -> testdata.
func LoadReferenceRanges(t *testing.T) *ReferenceRanges {
	t.Helper()

	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get current file path")
	}
	path := filepath.Join(filepath.Dir(thisFile), "..", "..", "..", "testdata", "reference_ranges.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read reference ranges: %v", err)
	}

	var ranges ReferenceRanges
	if err := json.Unmarshal(data, &ranges); err != nil {
		t.Fatalf("Failed to parse reference ranges: %v", err)
	}
	return &ranges
}

// Profile returns the named entry or fails the test.
func (r *ReferenceRanges) Profile(t *testing.T, name string) ReferenceProfile {
	t.Helper()
	for _, p := range r.Profiles {
		if p.Profile == name {
			return p
		}
	}
	t.Fatalf("no reference ranges for profile %q", name)
	return ReferenceProfile{}
}

// AssertInRange fails when got falls outside r.
func AssertInRange(t *testing.T, name string, r Range, got float64) {
	t.Helper()
	if math.IsNaN(got) || got < r.Min || got > r.Max {
		t.Errorf("%s: got %v, want within [%v, %v]", name, got, r.Min, r.Max)
	}
}

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}
