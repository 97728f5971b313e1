// Package metrics exposes the progress of a coupled run as Prometheus
// collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/phil-mansfield/linkage"
)

const namespace = "linkage"

// Metrics is a linkage.Observer that updates its collectors on every event.
type Metrics struct {
	Steps       prometheus.Counter
	Checkpoints prometheus.Counter
	// Transitions is labeled by direction: "to_sediment" or "to_air".
	Transitions *prometheus.CounterVec
	Outside     prometheus.Gauge
	TimeYears   prometheus.Gauge
	// StepFraction is the consumed fraction of each step's allowed window.
	StepFraction prometheus.Histogram
	StepSeconds  prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Steps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "steps_total",
			Help: "Coupling steps completed.",
		}),
		Checkpoints: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "checkpoints_total",
			Help: "Checkpoints written, including checkpoint 0.",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "material_transitions_total",
			Help: "Particle material identifiers rewritten by reclassification.",
		}, []string{"direction"}),
		Outside: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "particles_outside",
			Help: "Particles outside the surface hull in the last step.",
		}),
		TimeYears: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "time_years",
			Help: "Simulation clock.",
		}),
		StepFraction: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "step_window_fraction",
			Help:    "Fraction of the allowed step window consumed by the update.",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		StepSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "step_duration_seconds",
			Help:    "Wall clock time of each coupling step.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	collectors := []prometheus.Collector{
		m.Steps, m.Checkpoints, m.Transitions, m.Outside, m.TimeYears,
		m.StepFraction, m.StepSeconds,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) Step(ev linkage.StepEvent) {
	m.Steps.Inc()
	m.TimeYears.Set(ev.TimeYears)
	m.Transitions.WithLabelValues("to_sediment").Add(float64(ev.Materials.ToSediment))
	m.Transitions.WithLabelValues("to_air").Add(float64(ev.Materials.ToAir))
	m.Outside.Set(float64(ev.Materials.Outside))
	if ev.RequestedSeconds > 0 {
		m.StepFraction.Observe(ev.ActualSeconds / ev.RequestedSeconds)
	}
	m.StepSeconds.Observe(ev.Elapsed.Seconds())
}

func (m *Metrics) Checkpoint(ev linkage.CheckpointEvent) error {
	m.Checkpoints.Inc()
	m.TimeYears.Set(ev.TimeYears)
	return nil
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
