package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/rail-geofence/model"
)

// GeofenceCollector exposes evaluator and simulator metrics.
type GeofenceCollector struct {
	gatherer prometheus.Gatherer

	EvaluationDuration *prometheus.HistogramVec
	AlertsRaised       *prometheus.CounterVec
	AlertsResolved     *prometheus.CounterVec
	TickDuration       prometheus.Histogram
	TrainsMoved        prometheus.Counter
}

// NewGeofenceCollector registers geofence metrics against the provided
// registerer.
func NewGeofenceCollector(reg prometheus.Registerer) (*GeofenceCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	evaluations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "railfence_geofence_evaluation_duration_seconds",
		Help:    "Duration of geofence checks, labeled by check.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
	}, []string{"check"}), "railfence_geofence_evaluation_duration_seconds")
	if err != nil {
		return nil, err
	}

	raised, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "railfence_alerts_raised_total",
		Help: "Alerts opened by the geofence checks, labeled by type.",
	}, []string{"type"}), "railfence_alerts_raised_total")
	if err != nil {
		return nil, err
	}

	resolved, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "railfence_alerts_resolved_total",
		Help: "Alerts resolved by the geofence checks, labeled by type.",
	}, []string{"type"}), "railfence_alerts_resolved_total")
	if err != nil {
		return nil, err
	}

	tick, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "railfence_simulation_tick_duration_seconds",
		Help:    "Wall time spent advancing every train by one tick.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}), "railfence_simulation_tick_duration_seconds")
	if err != nil {
		return nil, err
	}

	moved, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "railfence_trains_moved_total",
		Help: "Cumulative number of train repositionings performed by the simulator.",
	}), "railfence_trains_moved_total")
	if err != nil {
		return nil, err
	}

	return &GeofenceCollector{
		gatherer:           gatherer,
		EvaluationDuration: evaluations,
		AlertsRaised:       raised,
		AlertsResolved:     resolved,
		TickDuration:       tick,
		TrainsMoved:        moved,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *GeofenceCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// RecordEvaluation observes the duration of one geofence check.
func (c *GeofenceCollector) RecordEvaluation(check string, d time.Duration) {
	if c == nil || c.EvaluationDuration == nil {
		return
	}
	c.EvaluationDuration.WithLabelValues(check).Observe(d.Seconds())
}

// RecordAlertRaised counts an opened alert.
func (c *GeofenceCollector) RecordAlertRaised(kind model.AlertKind) {
	if c == nil || c.AlertsRaised == nil {
		return
	}
	c.AlertsRaised.WithLabelValues(string(kind)).Inc()
}

// RecordAlertsResolved counts resolved alerts.
func (c *GeofenceCollector) RecordAlertsResolved(kind model.AlertKind, count int) {
	if c == nil || c.AlertsResolved == nil || count <= 0 {
		return
	}
	c.AlertsResolved.WithLabelValues(string(kind)).Add(float64(count))
}

// ObserveTick records one full simulation tick.
func (c *GeofenceCollector) ObserveTick(d time.Duration, trainsMoved int) {
	if c == nil {
		return
	}
	if c.TickDuration != nil {
		c.TickDuration.Observe(d.Seconds())
	}
	if c.TrainsMoved != nil && trainsMoved > 0 {
		c.TrainsMoved.Add(float64(trainsMoved))
	}
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
