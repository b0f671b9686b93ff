package sim

import (
	"math"
	"testing"
)

func TestPartitionedRNG_DeterministicDerivation(t *testing.T) {
	// Same seed and name produce the same sequence
	rng1 := NewPartitionedRNG(42)
	rng2 := NewPartitionedRNG(42)

	for i := 0; i < 3; i++ {
		v1 := rng1.Normal(SubsystemTemperature)
		v2 := rng2.Normal(SubsystemTemperature)
		if v1 != v2 {
			t.Errorf("Value %d: got %v and %v, want identical", i, v1, v2)
		}
	}
}

func TestPartitionedRNG_SubsystemIsolation(t *testing.T) {
	// Drawing from subsystem A doesn't affect subsystem B
	rngA := NewPartitionedRNG(42)
	for i := 0; i < 10; i++ {
		rngA.Normal("other")
	}
	aFirst := rngA.Normal(SubsystemTemperature)

	fresh := NewPartitionedRNG(42)
	if want := fresh.Normal(SubsystemTemperature); aFirst != want {
		t.Errorf("first temperature draw = %v, want %v (isolation broken)", aFirst, want)
	}
}

func TestPartitionedRNG_Skip_MatchesDraws(t *testing.T) {
	a := NewPartitionedRNG(7)
	for i := 0; i < 25; i++ {
		a.Normal(SubsystemTemperature)
	}

	b := NewPartitionedRNG(7)
	b.Skip(SubsystemTemperature, a.Draws(SubsystemTemperature))

	if b.Draws(SubsystemTemperature) != 25 {
		t.Errorf("Draws() = %d, want 25", b.Draws(SubsystemTemperature))
	}
	if got, want := b.Normal(SubsystemTemperature), a.Normal(SubsystemTemperature); got != want {
		t.Errorf("after Skip: %v, want %v", got, want)
	}
}

func TestPartitionedRNG_Seed(t *testing.T) {
	for _, seed := range []int64{0, -1, 12345, math.MinInt64, math.MaxInt64} {
		if got := NewPartitionedRNG(seed).Seed(); got != seed {
			t.Errorf("Seed() = %d, want %d", got, seed)
		}
	}
}

func TestPartitionedRNG_Draws_UnknownSubsystem(t *testing.T) {
	if n := NewPartitionedRNG(1).Draws("never"); n != 0 {
		t.Errorf("Draws() = %d, want 0", n)
	}
}

func TestFnv1a64_KnownValue(t *testing.T) {
	// FNV-1a 64-bit offset basis for the empty string
	if got := fnv1a64(""); uint64(got) != 0xcbf29ce484222325 {
		t.Errorf("fnv1a64(\"\") = %x, want cbf29ce484222325", uint64(got))
	}
}
