package publish

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/physiosim/physiosim/sim"
	"github.com/physiosim/physiosim/sim/alarm"
)

// Exporter exposes the latest vitals and the alarm state as Prometheus metrics on
// its own registry.
type Exporter struct {
	registry *prometheus.Registry
	vital    *prometheus.GaugeVec
	valid    *prometheus.GaugeVec
	simTime  prometheus.Gauge
	frames   prometheus.Counter
	active   *prometheus.GaugeVec
	events   *prometheus.CounterVec
}

// NewExporter registers the physiosim metrics on a fresh registry.
func NewExporter() *Exporter {
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		vital: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "physiosim",
			Name:      "vital",
			Help:      "Latest rolling-window value of each vital sign.",
		}, []string{"name"}),
		valid: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "physiosim",
			Name:      "vital_valid",
			Help:      "1 if the vital carries a usable measurement, 0 if flagged unavailable.",
		}, []string{"name"}),
		simTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "physiosim",
			Name:      "sim_time_seconds",
			Help:      "Simulated time of the latest vitals frame.",
		}),
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "physiosim",
			Name:      "vitals_frames_total",
			Help:      "Vitals frames pushed.",
		}),
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "physiosim",
			Name:      "alarm_active",
			Help:      "1 while the alarm level is active.",
		}, []string{"parameter", "level"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "physiosim",
			Name:      "alarm_events_total",
			Help:      "Alarm activations and resolutions.",
		}, []string{"parameter", "level", "state"}),
	}
	e.registry.MustRegister(e.vital, e.valid, e.simTime, e.frames, e.active, e.events)
	return e
}

// Handler serves the registry in the Prometheus exposition format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// PublishVitals implements sim.Sink.
func (e *Exporter) PublishVitals(v sim.Vitals) error {
	for name, x := range v.Averaged {
		if v.Invalid[name] {
			e.valid.WithLabelValues(name).Set(0)
			continue
		}
		e.vital.WithLabelValues(name).Set(x)
		e.valid.WithLabelValues(name).Set(1)
	}
	for name, bad := range v.Invalid {
		if bad {
			e.valid.WithLabelValues(name).Set(0)
		}
	}
	e.simTime.Set(v.SimTime)
	e.frames.Inc()
	return nil
}

// PublishAlarm implements alarm.Listener.
func (e *Exporter) PublishAlarm(ev alarm.Event) error {
	state, x := "resolved", 0.0
	if ev.Active {
		state, x = "activated", 1
	}
	e.active.WithLabelValues(ev.Parameter, string(ev.Level)).Set(x)
	e.events.WithLabelValues(ev.Parameter, string(ev.Level), state).Inc()
	return nil
}
