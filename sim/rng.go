package sim

import (
	"hash/fnv"
	"math/rand"
)

// === Subsystem Constants ===

const (
	// SubsystemTemperature is the RNG subsystem for body temperature noise.
	SubsystemTemperature = "temperature"
)

// === PartitionedRNG ===

// PartitionedRNG provides deterministic, isolated RNG instances per subsystem.
// Each subsystem is seeded with masterSeed XOR fnv1a64(subsystemName), so adding a
// new stochastic vital does not perturb the others.
//
// Every draw is counted so that a checkpointed run can fast-forward a fresh RNG to
// the same position.
//
// Thread-safety: NOT thread-safe. Must be called from single goroutine.
type PartitionedRNG struct {
	seed       int64
	subsystems map[string]*countedRand
}

type countedRand struct {
	r     *rand.Rand
	draws int64
}

// NewPartitionedRNG creates a PartitionedRNG from a master seed.
func NewPartitionedRNG(seed int64) *PartitionedRNG {
	return &PartitionedRNG{
		seed:       seed,
		subsystems: make(map[string]*countedRand),
	}
}

func (p *PartitionedRNG) forSubsystem(name string) *countedRand {
	if c, ok := p.subsystems[name]; ok {
		return c
	}
	c := &countedRand{r: rand.New(rand.NewSource(p.seed ^ fnv1a64(name)))}
	p.subsystems[name] = c
	return c
}

// Normal draws a standard normal sample for the named subsystem.
func (p *PartitionedRNG) Normal(name string) float64 {
	c := p.forSubsystem(name)
	c.draws++
	return c.r.NormFloat64()
}

// Draws reports how many samples the named subsystem has produced.
func (p *PartitionedRNG) Draws(name string) int64 {
	if c, ok := p.subsystems[name]; ok {
		return c.draws
	}
	return 0
}

// Skip advances the named subsystem by n samples.
func (p *PartitionedRNG) Skip(name string, n int64) {
	for i := int64(0); i < n; i++ {
		p.Normal(name)
	}
}

// Seed returns the master seed.
func (p *PartitionedRNG) Seed() int64 {
	return p.seed
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
