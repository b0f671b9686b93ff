package sim

import "math"

// DelayBuffer is a fixed-capacity ring of samples taken once per integration step.
// Its length is delay/step, so the oldest sample is the signal delayed by the
// configured transport time.
type DelayBuffer struct {
	delay   float64
	step    float64
	samples []float64
	head    int // index of the oldest sample
}

// NewDelayBuffer allocates a buffer for delay seconds at the given step, filled with
// initial.
func NewDelayBuffer(delay, step, initial float64) *DelayBuffer {
	n := delayLength(delay, step)
	b := &DelayBuffer{delay: delay, step: step, samples: make([]float64, n)}
	for i := range b.samples {
		b.samples[i] = initial
	}
	return b
}

func delayLength(delay, step float64) int {
	if step <= 0 {
		return 1
	}
	n := int(math.Round(delay / step))
	if n < 1 {
		n = 1
	}
	return n
}

// Len is the number of samples held.
func (b *DelayBuffer) Len() int { return len(b.samples) }

// Delay is the configured delay in seconds.
func (b *DelayBuffer) Delay() float64 { return b.delay }

// Push stores the newest sample, dropping the oldest.
func (b *DelayBuffer) Push(v float64) {
	b.samples[b.head] = v
	b.head = (b.head + 1) % len(b.samples)
}

// Oldest returns the delayed signal.
func (b *DelayBuffer) Oldest() float64 { return b.samples[b.head] }

// OldestSlope returns the rate of change (per second) of the delayed signal between
// its two oldest samples.
func (b *DelayBuffer) OldestSlope() float64 {
	if len(b.samples) < 2 {
		return 0
	}
	next := b.samples[(b.head+1)%len(b.samples)]
	return (next - b.samples[b.head]) / b.step
}

// Newest returns the most recently pushed sample.
func (b *DelayBuffer) Newest() float64 {
	return b.samples[(b.head+len(b.samples)-1)%len(b.samples)]
}

// Values returns the samples oldest first.
func (b *DelayBuffer) Values() []float64 {
	out := make([]float64, len(b.samples))
	for i := range out {
		out[i] = b.samples[(b.head+i)%len(b.samples)]
	}
	return out
}

// Resize recomputes the length for a new delay or step. The most recent samples are
// kept; when growing, the oldest kept sample is repeated to fill the older end.
func (b *DelayBuffer) Resize(delay, step float64) {
	n := delayLength(delay, step)
	b.delay, b.step = delay, step
	if n == len(b.samples) {
		return
	}
	old := b.Values()
	fresh := make([]float64, n)
	if n <= len(old) {
		copy(fresh, old[len(old)-n:])
	} else {
		pad := n - len(old)
		for i := 0; i < pad; i++ {
			fresh[i] = old[0]
		}
		copy(fresh[pad:], old)
	}
	b.samples = fresh
	b.head = 0
}

// restoreDelayBuffer rebuilds a buffer from checkpointed samples, oldest first.
func restoreDelayBuffer(delay, step float64, values []float64) *DelayBuffer {
	b := &DelayBuffer{delay: delay, step: step, samples: append([]float64(nil), values...)}
	if len(b.samples) == 0 {
		b.samples = []float64{0}
	}
	b.Resize(delay, step)
	return b
}
