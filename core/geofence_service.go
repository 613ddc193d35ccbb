package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/rail-geofence/internal/logging"
	"github.com/signalsfoundry/rail-geofence/model"
)

const tracerName = "github.com/signalsfoundry/rail-geofence/core"

// Check names used for metrics labels.
const (
	CheckStationProximity = "station_proximity"
	CheckObjectTheft      = "theft"
)

// AlertNotifier is told about alert transitions after they are persisted.
// Implementations must not block for long; errors are theirs to handle.
type AlertNotifier interface {
	AlertRaised(ctx context.Context, a *model.Alert)
	AlertsResolved(ctx context.Context, key model.AlertKey, count int)
}

// GeofenceMetricsRecorder receives evaluation outcomes.
type GeofenceMetricsRecorder interface {
	RecordEvaluation(check string, d time.Duration)
	RecordAlertRaised(kind model.AlertKind)
	RecordAlertsResolved(kind model.AlertKind, count int)
}

// Evaluation summarises what a single check changed.
type Evaluation struct {
	Raised   []*model.Alert
	Resolved int
}

func (e *Evaluation) merge(other Evaluation) {
	e.Raised = append(e.Raised, other.Raised...)
	e.Resolved += other.Resolved
}

// GeofenceService decides whether alerts should be opened, left alone or
// resolved given the current positions in the store.
type GeofenceService struct {
	store    Store
	cfg      GeofenceConfig
	log      logging.Logger
	notifier AlertNotifier
	metrics  GeofenceMetricsRecorder
	now      func() time.Time
	tracer   trace.Tracer
}

// GeofenceOption customises GeofenceService construction.
type GeofenceOption func(*GeofenceService)

// WithGeofenceLogger attaches a structured logger.
func WithGeofenceLogger(l logging.Logger) GeofenceOption {
	return func(s *GeofenceService) {
		if l != nil {
			s.log = l
		}
	}
}

// WithAlertNotifier attaches a notifier invoked after alert transitions.
func WithAlertNotifier(n AlertNotifier) GeofenceOption {
	return func(s *GeofenceService) {
		s.notifier = n
	}
}

// WithGeofenceMetrics attaches a metrics recorder.
func WithGeofenceMetrics(m GeofenceMetricsRecorder) GeofenceOption {
	return func(s *GeofenceService) {
		s.metrics = m
	}
}

// WithClock overrides the time source used for alert timestamps.
func WithClock(now func() time.Time) GeofenceOption {
	return func(s *GeofenceService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewGeofenceService constructs an evaluator over store.
func NewGeofenceService(store Store, cfg GeofenceConfig, opts ...GeofenceOption) *GeofenceService {
	s := &GeofenceService{
		store:  store,
		cfg:    cfg,
		log:    logging.Noop(),
		now:    func() time.Time { return time.Now().UTC() },
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the radii the service was built with.
func (s *GeofenceService) Config() GeofenceConfig { return s.cfg }

// CheckStationProximity compares the train against every station. Inside the
// proximity radius an alert is opened unless one is already unresolved; the
// existing alert keeps its original distance. Outside the radius any
// unresolved alert for the pair is resolved. A missing train is a no-op.
func (s *GeofenceService) CheckStationProximity(ctx context.Context, trainNumber string) (Evaluation, error) {
	ctx, span := s.tracer.Start(ctx, "geofence.CheckStationProximity",
		trace.WithAttributes(attribute.String("train.number", trainNumber)))
	defer span.End()
	start := time.Now()
	defer func() { s.recordEvaluation(CheckStationProximity, time.Since(start)) }()

	var ev Evaluation
	train, err := s.store.GetTrain(ctx, trainNumber)
	if err != nil {
		if errors.Is(err, model.ErrTrainNotFound) {
			return ev, nil
		}
		return ev, spanError(span, fmt.Errorf("load train %q: %w", trainNumber, err))
	}

	stations, err := s.store.ListStations(ctx)
	if err != nil {
		return ev, spanError(span, fmt.Errorf("list stations: %w", err))
	}

	for _, st := range stations {
		key := model.StationAlertKey(train.Number, st.Code)
		d := Distance(train.Position, st.Position)

		if d <= s.cfg.StationProximityRadiusKm {
			alert := &model.Alert{
				TrainNumber: train.Number,
				TrainName:   train.Name,
				Detail: &model.StationProximity{
					StationCode: st.Code,
					StationName: st.Name,
					DistanceKm:  d,
				},
			}
			raised, err := s.raise(ctx, key, alert)
			if err != nil {
				return ev, spanError(span, err)
			}
			if raised {
				ev.Raised = append(ev.Raised, alert)
			}
			continue
		}

		n, err := s.resolve(ctx, key)
		if err != nil {
			return ev, spanError(span, err)
		}
		ev.Resolved += n
	}

	span.SetAttributes(
		attribute.Int("alerts.raised", len(ev.Raised)),
		attribute.Int("alerts.resolved", ev.Resolved),
	)
	return ev, nil
}

// CheckObjectTheft compares an object against its train. Beyond the coach
// radius a theft alert is opened unless one is already unresolved; within it
// any unresolved theft alert is resolved. A missing object, train or coach is
// a no-op.
func (s *GeofenceService) CheckObjectTheft(ctx context.Context, objectID string) (Evaluation, error) {
	ctx, span := s.tracer.Start(ctx, "geofence.CheckObjectTheft",
		trace.WithAttributes(attribute.String("object.id", objectID)))
	defer span.End()
	start := time.Now()
	defer func() { s.recordEvaluation(CheckObjectTheft, time.Since(start)) }()

	var ev Evaluation
	obj, err := s.store.GetObject(ctx, objectID)
	if err != nil {
		if errors.Is(err, model.ErrObjectNotFound) {
			return ev, nil
		}
		return ev, spanError(span, fmt.Errorf("load object %q: %w", objectID, err))
	}
	train, err := s.store.GetTrain(ctx, obj.TrainNumber)
	if err != nil {
		if errors.Is(err, model.ErrTrainNotFound) {
			return ev, nil
		}
		return ev, spanError(span, fmt.Errorf("load train %q: %w", obj.TrainNumber, err))
	}
	coach, ok := train.Coach(obj.CoachID)
	if !ok {
		return ev, nil
	}

	radius := coach.GeofenceRadiusKm
	if radius == 0 {
		radius = s.cfg.DefaultCoachGeofenceRadiusKm
	}
	key := model.TheftAlertKey(obj.ID)
	d := Distance(obj.Position, train.Position)

	if d > radius {
		alert := &model.Alert{
			TrainNumber: train.Number,
			TrainName:   train.Name,
			Detail: &model.Theft{
				ObjectID:   obj.ID,
				ObjectType: obj.Type,
				OwnerID:    obj.OwnerID,
				CoachID:    obj.CoachID,
				DistanceKm: d,
			},
		}
		raised, err := s.raise(ctx, key, alert)
		if err != nil {
			return ev, spanError(span, err)
		}
		if raised {
			ev.Raised = append(ev.Raised, alert)
		}
		return ev, nil
	}

	n, err := s.resolve(ctx, key)
	if err != nil {
		return ev, spanError(span, err)
	}
	ev.Resolved = n
	return ev, nil
}

// raise creates alert unless an unresolved alert for key exists. It reports
// whether a new alert was stored.
func (s *GeofenceService) raise(ctx context.Context, key model.AlertKey, alert *model.Alert) (bool, error) {
	existing, err := s.store.FindUnresolvedAlert(ctx, key)
	if err != nil {
		return false, fmt.Errorf("find unresolved alert %s: %w", key, err)
	}
	if existing != nil {
		return false, nil
	}

	alert.ID = uuid.NewString()
	alert.Timestamp = s.now()
	if err := s.store.CreateAlert(ctx, alert); err != nil {
		if errors.Is(err, model.ErrAlertExists) {
			// Another writer opened the alert between our read and write.
			s.log.Debug(ctx, "alert already open", logging.String("key", key.String()))
			return false, nil
		}
		return false, fmt.Errorf("create alert %s: %w", key, err)
	}

	s.log.Info(ctx, "alert raised",
		logging.String("alert_id", alert.ID),
		logging.String("type", string(alert.Kind())),
		logging.String("train_number", alert.TrainNumber),
		logging.String("key", key.Value),
		logging.Float64("distance_km", alert.DistanceKm()),
	)
	if s.metrics != nil {
		s.metrics.RecordAlertRaised(alert.Kind())
	}
	if s.notifier != nil {
		s.notifier.AlertRaised(ctx, alert.Clone())
	}
	return true, nil
}

func (s *GeofenceService) resolve(ctx context.Context, key model.AlertKey) (int, error) {
	n, err := s.store.ResolveAlerts(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("resolve alerts %s: %w", key, err)
	}
	if n == 0 {
		return 0, nil
	}

	s.log.Info(ctx, "alert resolved",
		logging.String("type", string(key.Kind)),
		logging.String("key", key.Value),
		logging.Int("count", n),
	)
	if s.metrics != nil {
		s.metrics.RecordAlertsResolved(key.Kind, n)
	}
	if s.notifier != nil {
		s.notifier.AlertsResolved(ctx, key, n)
	}
	return n, nil
}

func (s *GeofenceService) recordEvaluation(check string, d time.Duration) {
	if s.metrics != nil {
		s.metrics.RecordEvaluation(check, d)
	}
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
