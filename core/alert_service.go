package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/signalsfoundry/rail-geofence/internal/logging"
	"github.com/signalsfoundry/rail-geofence/model"
)

// DefaultAlertLimit caps listings when the caller sets no limit.
const DefaultAlertLimit = 1000

// AlertQueryStore is the subset of the store the alert service reads.
type AlertQueryStore interface {
	AlertStore
	GetTrain(ctx context.Context, number string) (*model.Train, error)
	GetUser(ctx context.Context, id string) (*model.User, error)
}

// AlertStats summarises the alerts raised in a trailing window.
type AlertStats struct {
	Total      int
	ByType     map[model.AlertKind]int
	Resolved   int
	Unresolved int
	ByTrain    []TrainAlertCount
	PeriodDays int
	Since      time.Time
}

// TrainAlertCount is one row of AlertStats.ByTrain.
type TrainAlertCount struct {
	TrainNumber string
	TrainName   string
	AlertCount  int
}

// AlertService answers alert queries and performs administrative alert
// changes for the façades.
type AlertService struct {
	store    AlertQueryStore
	log      logging.Logger
	notifier AlertNotifier
	now      func() time.Time
}

// AlertServiceOption customises AlertService construction.
type AlertServiceOption func(*AlertService)

// WithAlertServiceLogger attaches a structured logger.
func WithAlertServiceLogger(l logging.Logger) AlertServiceOption {
	return func(s *AlertService) {
		if l != nil {
			s.log = l
		}
	}
}

// WithAlertServiceNotifier publishes manual creates and resolves.
func WithAlertServiceNotifier(n AlertNotifier) AlertServiceOption {
	return func(s *AlertService) {
		s.notifier = n
	}
}

// WithAlertServiceClock overrides the time source used for stats windows and
// manual alert timestamps.
func WithAlertServiceClock(now func() time.Time) AlertServiceOption {
	return func(s *AlertService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewAlertService constructs an AlertService over store.
func NewAlertService(store AlertQueryStore, opts ...AlertServiceOption) *AlertService {
	s := &AlertService{
		store: store,
		log:   logging.Noop(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListAlerts returns alerts matching filter, newest first. A non-positive
// limit becomes DefaultAlertLimit.
func (s *AlertService) ListAlerts(ctx context.Context, filter model.AlertFilter) ([]*model.Alert, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultAlertLimit
	}
	return s.store.ListAlerts(ctx, filter)
}

// ActiveAlerts returns unresolved alerts, optionally narrowed by kind and
// train.
func (s *AlertService) ActiveAlerts(ctx context.Context, kind model.AlertKind, trainNumber string) ([]*model.Alert, error) {
	unresolved := false
	return s.ListAlerts(ctx, model.AlertFilter{
		Kind:        kind,
		Resolved:    &unresolved,
		TrainNumber: trainNumber,
	})
}

// AlertsForUser returns the unresolved alerts of the user's current train and
// the unresolved theft alerts of the user's registered objects, newest first.
// An unknown user has no alerts.
func (s *AlertService) AlertsForUser(ctx context.Context, userID string) ([]*model.Alert, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return []*model.Alert{}, nil
		}
		return nil, err
	}

	unresolved := false
	seen := make(map[string]struct{})
	var out []*model.Alert
	collect := func(f model.AlertFilter) error {
		f.Resolved = &unresolved
		f.Limit = DefaultAlertLimit
		alerts, err := s.store.ListAlerts(ctx, f)
		if err != nil {
			return err
		}
		for _, a := range alerts {
			if _, dup := seen[a.ID]; dup {
				continue
			}
			seen[a.ID] = struct{}{}
			out = append(out, a)
		}
		return nil
	}

	if user.CurrentTrain != "" {
		if err := collect(model.AlertFilter{TrainNumber: user.CurrentTrain}); err != nil {
			return nil, fmt.Errorf("alerts for train %q: %w", user.CurrentTrain, err)
		}
	}
	for _, objectID := range user.RegisteredObjects {
		if err := collect(model.AlertFilter{Kind: model.AlertTheft, ObjectID: objectID}); err != nil {
			return nil, fmt.Errorf("alerts for object %q: %w", objectID, err)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	if out == nil {
		out = []*model.Alert{}
	}
	return out, nil
}

// Stats summarises alerts raised in the last days days.
func (s *AlertService) Stats(ctx context.Context, days int) (*AlertStats, error) {
	if days <= 0 {
		return nil, fmt.Errorf("days %d must be positive: %w", days, model.ErrInvalidArgument)
	}
	since := s.now().Add(-time.Duration(days) * 24 * time.Hour)
	alerts, err := s.store.ListAlerts(ctx, model.AlertFilter{Since: since})
	if err != nil {
		return nil, fmt.Errorf("list alerts since %s: %w", since.Format(time.RFC3339), err)
	}

	stats := &AlertStats{
		ByType: map[model.AlertKind]int{
			model.AlertStationProximity: 0,
			model.AlertTheft:            0,
		},
		PeriodDays: days,
		Since:      since,
	}
	perTrain := make(map[string]*TrainAlertCount)
	for _, a := range alerts {
		stats.Total++
		stats.ByType[a.Kind()]++
		if a.Resolved {
			stats.Resolved++
		} else {
			stats.Unresolved++
		}
		row, ok := perTrain[a.TrainNumber]
		if !ok {
			// Alerts are newest first, so the first name seen is the latest.
			row = &TrainAlertCount{TrainNumber: a.TrainNumber, TrainName: a.TrainName}
			perTrain[a.TrainNumber] = row
		}
		row.AlertCount++
	}

	stats.ByTrain = make([]TrainAlertCount, 0, len(perTrain))
	for number, row := range perTrain {
		train, err := s.store.GetTrain(ctx, number)
		switch {
		case err == nil:
			row.TrainName = train.Name
		case !errors.Is(err, model.ErrTrainNotFound):
			return nil, fmt.Errorf("load train %q: %w", number, err)
		}
		stats.ByTrain = append(stats.ByTrain, *row)
	}
	sort.Slice(stats.ByTrain, func(i, j int) bool {
		if stats.ByTrain[i].AlertCount != stats.ByTrain[j].AlertCount {
			return stats.ByTrain[i].AlertCount > stats.ByTrain[j].AlertCount
		}
		return stats.ByTrain[i].TrainNumber < stats.ByTrain[j].TrainNumber
	})
	return stats, nil
}

// GetAlert returns a single alert by id.
func (s *AlertService) GetAlert(ctx context.Context, id string) (*model.Alert, error) {
	return s.store.GetAlert(ctx, id)
}

// CreateAlert stores a manually raised alert. A zero timestamp is set to now.
// The store rejects a second unresolved alert with the same natural key.
func (s *AlertService) CreateAlert(ctx context.Context, a *model.Alert) (*model.Alert, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	a = a.Clone()
	if a.Timestamp.IsZero() {
		a.Timestamp = s.now()
	}
	if err := s.store.CreateAlert(ctx, a); err != nil {
		return nil, err
	}

	s.log.Info(ctx, "alert created manually",
		logging.String("alert_id", a.ID),
		logging.String("type", string(a.Kind())),
		logging.String("train_number", a.TrainNumber),
	)
	if s.notifier != nil && !a.Resolved {
		s.notifier.AlertRaised(ctx, a.Clone())
	}
	return a, nil
}

// ResolveAlert marks one alert resolved. Resolving a resolved alert is a
// no-op that returns the alert.
func (s *AlertService) ResolveAlert(ctx context.Context, id string) (*model.Alert, error) {
	current, err := s.store.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Resolved {
		return current, nil
	}

	a, err := s.store.ResolveAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	s.log.Info(ctx, "alert resolved manually",
		logging.String("alert_id", a.ID),
		logging.String("type", string(a.Kind())),
	)
	if s.notifier != nil {
		s.notifier.AlertsResolved(ctx, a.Key(), 1)
	}
	return a, nil
}

// DeleteAlert removes an alert.
func (s *AlertService) DeleteAlert(ctx context.Context, id string) error {
	if err := s.store.DeleteAlert(ctx, id); err != nil {
		return err
	}
	s.log.Info(ctx, "alert deleted", logging.String("alert_id", id))
	return nil
}
