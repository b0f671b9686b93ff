package sim

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Vital names in pushed frames.
const (
	VitalHeartRate   = "heart_rate"
	VitalMAP         = "MAP"
	VitalSAP         = "SAP"
	VitalDAP         = "DAP"
	VitalSpO2        = "SpO2"
	VitalRR          = "RR"
	VitalEtCO2       = "EtCO2"
	VitalTemperature = "temperature"
)

// Raw per-step signal names.
const (
	RawHeartRate        = "heart_rate"
	RawArterialPressure = "ABP"
	RawSpO2             = "SpO2"
	RawRR               = "RR"
	RawCO2              = "CO2"
	RawTemperature      = "temperature"
	RawAirwayPressure   = "Paw"
)

// VitalNames lists the averaged vitals in display order.
var VitalNames = []string{
	VitalHeartRate, VitalMAP, VitalSAP, VitalDAP, VitalSpO2, VitalRR, VitalEtCO2, VitalTemperature,
}

// Vitals is one pushed frame: rolling-window values per vital plus the latest
// per-step raw values for trend display. Invalid marks vitals whose measurement is
// unavailable, e.g. heart rate during ECG lead-off.
type Vitals struct {
	Timestamp time.Time          `json:"timestamp"`
	SimTime   float64            `json:"sim_time"`
	Averaged  map[string]float64 `json:"averaged"`
	Raw       map[string]float64 `json:"raw"`
	Invalid   map[string]bool    `json:"invalid,omitempty"`
}

// Valid reports whether the named vital carries a usable measurement.
func (v Vitals) Valid(name string) bool {
	_, ok := v.Averaged[name]
	return ok && !v.Invalid[name]
}

// Sink receives pushed vitals frames. Sinks are called synchronously from the
// engine step; an error is logged and does not stop the simulation.
type Sink interface {
	PublishVitals(Vitals) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Vitals) error

func (f SinkFunc) PublishVitals(v Vitals) error { return f(v) }

// window is a fixed-length ring of per-step samples.
type window struct {
	data []float64
	next int
	full bool
}

func newWindow(n int) *window {
	if n < 1 {
		n = 1
	}
	return &window{data: make([]float64, n)}
}

func (w *window) push(v float64) {
	w.data[w.next] = v
	w.next++
	if w.next == len(w.data) {
		w.next = 0
		w.full = true
	}
}

func (w *window) values() []float64 {
	if w.full {
		return w.data
	}
	return w.data[:w.next]
}

func (w *window) empty() bool { return !w.full && w.next == 0 }

// VitalsWindow keeps the rolling per-step histories the averaged vitals are
// computed from.
type VitalsWindow struct {
	hr, abp, spo2, rr, co2, temp *window
}

// NewVitalsWindow sizes the histories to cover span seconds at the given step.
func NewVitalsWindow(span, step float64) *VitalsWindow {
	n := int(math.Round(span / step))
	return &VitalsWindow{
		hr:   newWindow(n),
		abp:  newWindow(n),
		spo2: newWindow(n),
		rr:   newWindow(n),
		co2:  newWindow(n),
		temp: newWindow(n),
	}
}

// Add records one step's observation and temperature.
func (w *VitalsWindow) Add(o Observation, temperature float64) {
	w.hr.push(o.HeartRate)
	w.abp.push(o.ArterialPressure)
	w.spo2.push(o.SpO2)
	w.rr.push(o.RespiratoryRate)
	w.co2.push(o.CO2)
	w.temp.push(temperature)
}

// Averaged computes the window values: means for rates, saturation and
// temperature; mean, max and min arterial pressure for MAP, SAP and DAP; the
// peak exhaled CO2 for EtCO2.
func (w *VitalsWindow) Averaged() map[string]float64 {
	out := make(map[string]float64, len(VitalNames))
	if w.abp.empty() {
		return out
	}
	abp := w.abp.values()
	out[VitalHeartRate] = stat.Mean(w.hr.values(), nil)
	out[VitalMAP] = stat.Mean(abp, nil)
	out[VitalSAP] = floats.Max(abp)
	out[VitalDAP] = floats.Min(abp)
	out[VitalSpO2] = stat.Mean(w.spo2.values(), nil)
	out[VitalRR] = stat.Mean(w.rr.values(), nil)
	out[VitalEtCO2] = floats.Max(w.co2.values())
	out[VitalTemperature] = stat.Mean(w.temp.values(), nil)
	return out
}

// rawVitals maps the latest observation to the raw signal names.
func rawVitals(o Observation, temperature float64) map[string]float64 {
	return map[string]float64{
		RawHeartRate:        o.HeartRate,
		RawArterialPressure: o.ArterialPressure,
		RawSpO2:             o.SpO2,
		RawRR:               o.RespiratoryRate,
		RawCO2:              o.CO2,
		RawTemperature:      temperature,
		RawAirwayPressure:   o.AirwayPressure,
	}
}

// circadianAmplitude is the peak deviation (°C) of the daily temperature rhythm.
const circadianAmplitude = 0.2

// bodyTemperature is the baseline plus a daily rhythm plus measurement noise.
func bodyTemperature(t, baseline, noiseSD, normal float64) float64 {
	return baseline + circadianAmplitude*math.Sin(2*math.Pi*t/86400) + noiseSD*normal
}
