package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/signalsfoundry/rail-geofence/kb"
	"github.com/signalsfoundry/rail-geofence/model"
)

var statsNow = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

func stationAlert(train, station string, at time.Time, resolved bool) *model.Alert {
	return &model.Alert{
		TrainNumber: train,
		TrainName:   "name at detection",
		Timestamp:   at,
		Resolved:    resolved,
		Detail:      &model.StationProximity{StationCode: station, StationName: station, DistanceKm: 0.3},
	}
}

func theftAlert(train, object string, at time.Time, resolved bool) *model.Alert {
	return &model.Alert{
		TrainNumber: train,
		TrainName:   "name at detection",
		Timestamp:   at,
		Resolved:    resolved,
		Detail:      &model.Theft{ObjectID: object, ObjectType: "Luggage", OwnerID: "rahul", CoachID: "A1", DistanceKm: 0.2},
	}
}

func seedAlerts(t *testing.T, store *kb.KnowledgeBase, alerts ...*model.Alert) {
	t.Helper()
	for _, a := range alerts {
		if err := store.CreateAlert(context.Background(), a); err != nil {
			t.Fatalf("CreateAlert error: %v", err)
		}
	}
}

func newTestAlertService(store *kb.KnowledgeBase, opts ...AlertServiceOption) *AlertService {
	opts = append([]AlertServiceOption{WithAlertServiceClock(func() time.Time { return statsNow })}, opts...)
	return NewAlertService(store, opts...)
}

func TestListAlertsAppliesDefaultLimit(t *testing.T) {
	store := newTestKB(t)
	for i := 0; i < DefaultAlertLimit+5; i++ {
		seedAlerts(t, store, stationAlert("12301", "NDLS", statsNow.Add(-time.Duration(i)*time.Minute), true))
	}
	svc := newTestAlertService(store)

	got, err := svc.ListAlerts(context.Background(), model.AlertFilter{})
	if err != nil {
		t.Fatalf("ListAlerts error: %v", err)
	}
	if len(got) != DefaultAlertLimit {
		t.Fatalf("len = %d, want %d", len(got), DefaultAlertLimit)
	}
	if !got[0].Timestamp.Equal(statsNow) {
		t.Fatalf("first alert is not the newest: %v", got[0].Timestamp)
	}

	got, err = svc.ListAlerts(context.Background(), model.AlertFilter{Limit: 3})
	if err != nil {
		t.Fatalf("ListAlerts error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
}

func TestActiveAlerts(t *testing.T) {
	store := newTestKB(t)
	seedAlerts(t, store,
		stationAlert("12301", "NDLS", statsNow, false),
		stationAlert("12301", "BCT", statsNow, true),
		theftAlert("12301", "OBJ001", statsNow, false),
		stationAlert("12002", "NDLS", statsNow, false),
	)
	svc := newTestAlertService(store)
	ctx := context.Background()

	all, err := svc.ActiveAlerts(ctx, "", "")
	if err != nil {
		t.Fatalf("ActiveAlerts error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("active = %d, want 3", len(all))
	}

	thefts, _ := svc.ActiveAlerts(ctx, model.AlertTheft, "")
	if len(thefts) != 1 {
		t.Fatalf("active thefts = %d, want 1", len(thefts))
	}
	train, _ := svc.ActiveAlerts(ctx, model.AlertStationProximity, "12301")
	if len(train) != 1 {
		t.Fatalf("active station alerts for 12301 = %d, want 1", len(train))
	}
}

func TestAlertsForUser(t *testing.T) {
	ctx := context.Background()
	store := newTestKB(t)
	user := &model.User{
		Name:              "Rahul Sharma",
		Phone:             "+919876543210",
		Email:             "rahul@example.com",
		CurrentTrain:      "12301",
		CurrentCoach:      "A1",
		RegisteredObjects: []string{"OBJ001", "OBJ009"},
	}
	if err := store.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser error: %v", err)
	}

	seedAlerts(t, store,
		stationAlert("12301", "NDLS", statsNow.Add(-3*time.Minute), false),
		// On the user's train and one of their objects: must appear once.
		theftAlert("12301", "OBJ001", statsNow.Add(-1*time.Minute), false),
		// Object on another train.
		theftAlert("12002", "OBJ009", statsNow.Add(-2*time.Minute), false),
		// Resolved and unrelated alerts are excluded.
		theftAlert("12301", "OBJ002", statsNow, true),
		stationAlert("12002", "NDLS", statsNow, false),
	)

	svc := newTestAlertService(store)
	got, err := svc.AlertsForUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("AlertsForUser error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("alerts = %d, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp.After(got[i-1].Timestamp) {
			t.Fatalf("alerts not newest first at %d", i)
		}
	}
	if th, ok := got[0].Theft(); !ok || th.ObjectID != "OBJ001" {
		t.Fatalf("newest alert = %+v, want OBJ001 theft", got[0])
	}

	none, err := svc.AlertsForUser(ctx, "unknown")
	if err != nil {
		t.Fatalf("AlertsForUser unknown error: %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Fatalf("unknown user alerts = %v, want empty", none)
	}
}

func TestStats(t *testing.T) {
	store := newTestKB(t)
	seedAlerts(t, store,
		stationAlert("12301", "NDLS", statsNow.Add(-time.Hour), false),
		theftAlert("12301", "OBJ001", statsNow.Add(-2*time.Hour), true),
		theftAlert("12301", "OBJ002", statsNow.Add(-3*24*time.Hour), false),
		stationAlert("99999", "BCT", statsNow.Add(-time.Hour), true),
		// Outside the window.
		stationAlert("12301", "BCT", statsNow.Add(-10*24*time.Hour), true),
	)
	svc := newTestAlertService(store)

	stats, err := svc.Stats(context.Background(), 7)
	if err != nil {
		t.Fatalf("Stats error: %v", err)
	}
	if stats.Total != 4 || stats.PeriodDays != 7 {
		t.Fatalf("total=%d period=%d, want 4 and 7", stats.Total, stats.PeriodDays)
	}
	if stats.ByType[model.AlertStationProximity] != 2 || stats.ByType[model.AlertTheft] != 2 {
		t.Fatalf("by type = %v", stats.ByType)
	}
	if stats.Resolved != 2 || stats.Unresolved != 2 {
		t.Fatalf("resolved=%d unresolved=%d, want 2/2", stats.Resolved, stats.Unresolved)
	}
	if len(stats.ByTrain) != 2 {
		t.Fatalf("by train = %+v, want 2 rows", stats.ByTrain)
	}
	top := stats.ByTrain[0]
	if top.TrainNumber != "12301" || top.AlertCount != 3 || top.TrainName != "Rajdhani Express" {
		t.Fatalf("top row = %+v", top)
	}
	// A train that no longer exists keeps the name captured on its alerts.
	if gone := stats.ByTrain[1]; gone.TrainName != "name at detection" || gone.AlertCount != 1 {
		t.Fatalf("deleted train row = %+v", gone)
	}

	empty, err := NewAlertService(kb.NewKnowledgeBase()).Stats(context.Background(), 1)
	if err != nil {
		t.Fatalf("Stats error: %v", err)
	}
	if empty.Total != 0 || len(empty.ByTrain) != 0 || len(empty.ByType) != 2 {
		t.Fatalf("empty stats = %+v", empty)
	}

	if _, err := svc.Stats(context.Background(), 0); !errors.Is(err, model.ErrInvalidArgument) {
		t.Fatalf("Stats(0) error = %v, want ErrInvalidArgument", err)
	}
}

func TestManualAlertLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestKB(t)
	notifier := &recordingNotifier{}
	svc := newTestAlertService(store, WithAlertServiceNotifier(notifier))

	if _, err := svc.CreateAlert(ctx, &model.Alert{TrainNumber: "12301", Detail: &model.Theft{ObjectID: "OBJ001"}}); !errors.Is(err, model.ErrInvalidArgument) {
		t.Fatalf("incomplete theft alert error = %v, want ErrInvalidArgument", err)
	}

	in := stationAlert("12301", "NDLS", time.Time{}, false)
	created, err := svc.CreateAlert(ctx, in)
	if err != nil {
		t.Fatalf("CreateAlert error: %v", err)
	}
	if created.ID == "" || !created.Timestamp.Equal(statsNow) {
		t.Fatalf("created alert not populated: %+v", created)
	}
	if _, err := svc.CreateAlert(ctx, stationAlert("12301", "NDLS", statsNow, false)); !errors.Is(err, model.ErrAlertExists) {
		t.Fatalf("duplicate alert error = %v, want ErrAlertExists", err)
	}

	resolved, err := svc.ResolveAlert(ctx, created.ID)
	if err != nil {
		t.Fatalf("ResolveAlert error: %v", err)
	}
	if !resolved.Resolved {
		t.Fatalf("alert not resolved")
	}
	if _, err := svc.ResolveAlert(ctx, created.ID); err != nil {
		t.Fatalf("second ResolveAlert error: %v", err)
	}
	if len(notifier.raised) != 1 || len(notifier.resolved) != 1 {
		t.Fatalf("notifier saw %d raised / %d resolved, want 1 / 1", len(notifier.raised), len(notifier.resolved))
	}

	if err := svc.DeleteAlert(ctx, created.ID); err != nil {
		t.Fatalf("DeleteAlert error: %v", err)
	}
	if _, err := svc.GetAlert(ctx, created.ID); !errors.Is(err, model.ErrAlertNotFound) {
		t.Fatalf("GetAlert after delete error = %v, want ErrAlertNotFound", err)
	}
	if _, err := svc.ResolveAlert(ctx, "missing"); !errors.Is(err, model.ErrAlertNotFound) {
		t.Fatalf("ResolveAlert missing error = %v, want ErrAlertNotFound", err)
	}
}
