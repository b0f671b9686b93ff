package sim

// cycleEpsilon absorbs floating-point drift when testing for a completed cycle.
const cycleEpsilon = 1e-9

// CycleClock tracks a periodic cycle (heart beat or breath) whose period can only
// change at a cycle boundary. A new period requested mid-cycle is staged in Next and
// takes effect when the current cycle completes, so a contraction in progress is
// never truncated or restarted.
type CycleClock struct {
	Start  float64 `yaml:"start"`
	Period float64 `yaml:"period"`
	Next   float64 `yaml:"next"`
}

func newCycleClock(t0, period float64) CycleClock {
	return CycleClock{Start: t0, Period: period, Next: period}
}

// SetPeriod stages the period of the next cycle. Calling it repeatedly within one
// cycle only keeps the last value.
func (c *CycleClock) SetPeriod(p float64) {
	if p > 0 {
		c.Next = p
	}
}

// At returns the phase within the cycle containing t and that cycle's period. A t
// past the end of the current cycle falls into the staged next cycle; the solver may
// probe slightly ahead of the boundary before Advance runs.
func (c *CycleClock) At(t float64) (phase, period float64) {
	p := t - c.Start
	if p < 0 {
		return 0, c.Period
	}
	if p >= c.Period-cycleEpsilon {
		return p - c.Period, c.Next
	}
	return p, c.Period
}

// Advance rolls over every cycle completed by t and reports how many there were.
func (c *CycleClock) Advance(t float64) int {
	n := 0
	for t-c.Start >= c.Period-cycleEpsilon {
		c.Start += c.Period
		c.Period = c.Next
		n++
	}
	return n
}

// BreathCycle is a breath clock plus the waveform shape captured at the start of the
// breath. Drive changes from the chemoreflex apply from the next breath on.
type BreathCycle struct {
	Clock CycleClock `yaml:"clock"`

	// IE is the inspiratory to expiratory time ratio.
	IE float64 `yaml:"ie"`

	// Amplitude is the peak muscle pressure (cmH2O, negative) or the ventilator
	// drive pressure above PEEP.
	Amplitude float64 `yaml:"amplitude"`

	NextIE        float64 `yaml:"next_ie"`
	NextAmplitude float64 `yaml:"next_amplitude"`
}

func newBreathCycle(t0, rr, ie, amp float64) BreathCycle {
	return BreathCycle{
		Clock:         newCycleClock(t0, 60/rr),
		IE:            ie,
		Amplitude:     amp,
		NextIE:        ie,
		NextAmplitude: amp,
	}
}

// Stage records the shape of the next breath.
func (b *BreathCycle) Stage(rr, ie, amp float64) {
	b.Clock.SetPeriod(60 / rr)
	b.NextIE = ie
	b.NextAmplitude = amp
}

// At returns the phase and shape of the breath containing t, falling into the
// staged next breath past the end of the current one.
func (b *BreathCycle) At(t float64) (phase, period, ie, amp float64) {
	p := t - b.Clock.Start
	if p >= b.Clock.Period-cycleEpsilon {
		return p - b.Clock.Period, b.Clock.Next, b.NextIE, b.NextAmplitude
	}
	if p < 0 {
		p = 0
	}
	return p, b.Clock.Period, b.IE, b.Amplitude
}

// Advance rolls the breath over and reports whether a new breath started.
func (b *BreathCycle) Advance(t float64) bool {
	if b.Clock.Advance(t) == 0 {
		return false
	}
	b.IE = b.NextIE
	b.Amplitude = b.NextAmplitude
	return true
}

// inspiratoryTime splits a breath period by the I:E ratio.
func inspiratoryTime(period, ie float64) float64 {
	return period * ie / (1 + ie)
}
