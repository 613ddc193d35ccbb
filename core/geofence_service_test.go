package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/rail-geofence/kb"
	"github.com/signalsfoundry/rail-geofence/model"
)

var ndls = &model.Station{Code: "NDLS", Name: "New Delhi", Position: model.Coordinate{Longitude: 77.2207, Latitude: 28.6425}}

func newTestKB(t *testing.T) *kb.KnowledgeBase {
	t.Helper()
	ctx := context.Background()
	store := kb.NewKnowledgeBase()
	if err := store.CreateStation(ctx, ndls); err != nil {
		t.Fatalf("CreateStation error: %v", err)
	}
	if err := store.CreateStation(ctx, &model.Station{Code: "BCT", Name: "Mumbai Central", Position: model.Coordinate{Longitude: 72.8213, Latitude: 18.9712}}); err != nil {
		t.Fatalf("CreateStation error: %v", err)
	}
	train := &model.Train{
		Number:   "12301",
		Name:     "Rajdhani Express",
		Position: model.Coordinate{Longitude: 77.1, Latitude: 28.55},
		SpeedKmh: 80,
		Coaches:  []model.Coach{{ID: "A1", GeofenceRadiusKm: 0.05}, {ID: "A2"}, {ID: "B1", GeofenceRadiusKm: 0.5}},
	}
	if err := store.CreateTrain(ctx, train); err != nil {
		t.Fatalf("CreateTrain error: %v", err)
	}
	for _, o := range []*model.TrackedObject{
		{ID: "OBJ001", Type: "Luggage", OwnerID: "rahul", TrainNumber: "12301", CoachID: "A1", Position: train.Position},
		{ID: "OBJ002", Type: "Laptop Bag", OwnerID: "rahul", TrainNumber: "12301", CoachID: "A2", Position: train.Position},
		{ID: "OBJ003", Type: "Suitcase", OwnerID: "priya", TrainNumber: "12301", CoachID: "B1", Position: train.Position},
	} {
		if err := store.CreateObject(ctx, o); err != nil {
			t.Fatalf("CreateObject error: %v", err)
		}
	}
	return store
}

func moveTrain(t *testing.T, store *kb.KnowledgeBase, pos model.Coordinate) {
	t.Helper()
	if err := store.UpdateTrainPosition(context.Background(), "12301", pos, 0); err != nil {
		t.Fatalf("UpdateTrainPosition error: %v", err)
	}
}

func moveObject(t *testing.T, store *kb.KnowledgeBase, id string, pos model.Coordinate) {
	t.Helper()
	if err := store.UpdateObjectPosition(context.Background(), id, pos); err != nil {
		t.Fatalf("UpdateObjectPosition error: %v", err)
	}
}

func listAlerts(t *testing.T, store *kb.KnowledgeBase, f model.AlertFilter) []*model.Alert {
	t.Helper()
	alerts, err := store.ListAlerts(context.Background(), f)
	if err != nil {
		t.Fatalf("ListAlerts error: %v", err)
	}
	return alerts
}

func unresolvedOnly() model.AlertFilter {
	f := false
	return model.AlertFilter{Resolved: &f}
}

type recordingNotifier struct {
	mu       sync.Mutex
	raised   []*model.Alert
	resolved []model.AlertKey
}

func (r *recordingNotifier) AlertRaised(_ context.Context, a *model.Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.raised = append(r.raised, a)
}

func (r *recordingNotifier) AlertsResolved(_ context.Context, key model.AlertKey, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolved = append(r.resolved, key)
}

type recordingMetrics struct {
	evaluations map[string]int
	raised      map[model.AlertKind]int
	resolved    map[model.AlertKind]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		evaluations: map[string]int{},
		raised:      map[model.AlertKind]int{},
		resolved:    map[model.AlertKind]int{},
	}
}

func (m *recordingMetrics) RecordEvaluation(check string, _ time.Duration) { m.evaluations[check]++ }
func (m *recordingMetrics) RecordAlertRaised(kind model.AlertKind)         { m.raised[kind]++ }
func (m *recordingMetrics) RecordAlertsResolved(kind model.AlertKind, n int) {
	m.resolved[kind] += n
}

func TestStationProximityIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestKB(t)
	svc := NewGeofenceService(store, DefaultGeofenceConfig())

	moveTrain(t, store, ndls.Position)
	for i := 0; i < 3; i++ {
		if _, err := svc.CheckStationProximity(ctx, "12301"); err != nil {
			t.Fatalf("CheckStationProximity error: %v", err)
		}
	}

	alerts := listAlerts(t, store, unresolvedOnly())
	if len(alerts) != 1 {
		t.Fatalf("unresolved alerts = %d, want 1", len(alerts))
	}
	if alerts[0].Key() != model.StationAlertKey("12301", "NDLS") {
		t.Fatalf("alert key = %v", alerts[0].Key())
	}
}

func TestStationProximityFreezesDistance(t *testing.T) {
	ctx := context.Background()
	store := newTestKB(t)
	svc := NewGeofenceService(store, DefaultGeofenceConfig())

	near := Destination(ndls.Position, 0, 0.8)
	moveTrain(t, store, near)
	if _, err := svc.CheckStationProximity(ctx, "12301"); err != nil {
		t.Fatalf("CheckStationProximity error: %v", err)
	}

	moveTrain(t, store, ndls.Position)
	ev, err := svc.CheckStationProximity(ctx, "12301")
	if err != nil {
		t.Fatalf("CheckStationProximity error: %v", err)
	}
	if len(ev.Raised) != 0 {
		t.Fatalf("second check raised %d alerts, want 0", len(ev.Raised))
	}

	alerts := listAlerts(t, store, model.AlertFilter{})
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(alerts))
	}
	if d := alerts[0].DistanceKm(); d < 0.79 || d > 0.81 {
		t.Fatalf("frozen distance = %v, want ~0.8", d)
	}
}

func TestStationProximityEnterLeaveEnter(t *testing.T) {
	ctx := context.Background()
	store := newTestKB(t)
	svc := NewGeofenceService(store, DefaultGeofenceConfig())

	check := func() Evaluation {
		ev, err := svc.CheckStationProximity(ctx, "12301")
		if err != nil {
			t.Fatalf("CheckStationProximity error: %v", err)
		}
		return ev
	}

	moveTrain(t, store, ndls.Position)
	if ev := check(); len(ev.Raised) != 1 {
		t.Fatalf("enter raised %d alerts, want 1", len(ev.Raised))
	}

	moveTrain(t, store, Destination(ndls.Position, 90, 5))
	if ev := check(); ev.Resolved != 1 {
		t.Fatalf("leave resolved %d alerts, want 1", ev.Resolved)
	}
	if got := listAlerts(t, store, unresolvedOnly()); len(got) != 0 {
		t.Fatalf("unresolved after leaving = %d, want 0", len(got))
	}

	moveTrain(t, store, ndls.Position)
	if ev := check(); len(ev.Raised) != 1 {
		t.Fatalf("re-enter raised %d alerts, want 1", len(ev.Raised))
	}

	all := listAlerts(t, store, model.AlertFilter{})
	if len(all) != 2 {
		t.Fatalf("total alerts = %d, want 2", len(all))
	}
	resolved := 0
	for _, a := range all {
		if a.Resolved {
			resolved++
		}
	}
	if resolved != 1 {
		t.Fatalf("resolved alerts = %d, want 1", resolved)
	}
}

func TestStationProximityBoundaryIsInclusive(t *testing.T) {
	ctx := context.Background()
	store := newTestKB(t)
	pos := Destination(ndls.Position, 180, 0.5)
	moveTrain(t, store, pos)

	cfg := GeofenceConfig{StationProximityRadiusKm: Distance(pos, ndls.Position), DefaultCoachGeofenceRadiusKm: 0.05}
	svc := NewGeofenceService(store, cfg)
	ev, err := svc.CheckStationProximity(ctx, "12301")
	if err != nil {
		t.Fatalf("CheckStationProximity error: %v", err)
	}
	if len(ev.Raised) != 1 {
		t.Fatalf("alert at exactly the radius: raised %d, want 1", len(ev.Raised))
	}
}

func TestStationProximityMissingTrainIsNoop(t *testing.T) {
	store := newTestKB(t)
	svc := NewGeofenceService(store, DefaultGeofenceConfig())
	ev, err := svc.CheckStationProximity(context.Background(), "00000")
	if err != nil {
		t.Fatalf("CheckStationProximity error: %v", err)
	}
	if len(ev.Raised) != 0 || ev.Resolved != 0 {
		t.Fatalf("missing train changed alerts: %+v", ev)
	}
}

func TestObjectTheftRaiseResolveRaise(t *testing.T) {
	ctx := context.Background()
	store := newTestKB(t)
	notifier := &recordingNotifier{}
	metrics := newRecordingMetrics()
	fixed := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
	svc := NewGeofenceService(store, DefaultGeofenceConfig(),
		WithAlertNotifier(notifier),
		WithGeofenceMetrics(metrics),
		WithClock(func() time.Time { return fixed }),
	)

	train, _ := store.GetTrain(ctx, "12301")
	moveObject(t, store, "OBJ001", Destination(train.Position, 45, 0.1))

	ev, err := svc.CheckObjectTheft(ctx, "OBJ001")
	if err != nil {
		t.Fatalf("CheckObjectTheft error: %v", err)
	}
	if len(ev.Raised) != 1 {
		t.Fatalf("raised %d theft alerts, want 1", len(ev.Raised))
	}
	alert := ev.Raised[0]
	th, ok := alert.Theft()
	if !ok || th.ObjectID != "OBJ001" || th.CoachID != "A1" || th.OwnerID != "rahul" {
		t.Fatalf("unexpected theft alert %+v", alert)
	}
	if !alert.Timestamp.Equal(fixed) || alert.TrainName != "Rajdhani Express" {
		t.Fatalf("alert common fields not populated: %+v", alert)
	}

	// Repeated checks do not duplicate the alert.
	if ev, _ := svc.CheckObjectTheft(ctx, "OBJ001"); len(ev.Raised) != 0 {
		t.Fatalf("repeat check raised %d alerts", len(ev.Raised))
	}

	moveObject(t, store, "OBJ001", train.Position)
	if ev, _ := svc.CheckObjectTheft(ctx, "OBJ001"); ev.Resolved != 1 {
		t.Fatalf("return resolved %d alerts, want 1", ev.Resolved)
	}

	moveObject(t, store, "OBJ001", Destination(train.Position, 200, 0.2))
	if ev, _ := svc.CheckObjectTheft(ctx, "OBJ001"); len(ev.Raised) != 1 {
		t.Fatalf("second displacement raised %d alerts, want 1", len(ev.Raised))
	}

	if got := listAlerts(t, store, model.AlertFilter{ObjectID: "OBJ001"}); len(got) != 2 {
		t.Fatalf("theft alerts for object = %d, want 2", len(got))
	}
	if len(notifier.raised) != 2 || len(notifier.resolved) != 1 {
		t.Fatalf("notifier saw %d raised / %d resolved, want 2 / 1", len(notifier.raised), len(notifier.resolved))
	}
	if metrics.raised[model.AlertTheft] != 2 || metrics.resolved[model.AlertTheft] != 1 {
		t.Fatalf("metrics raised=%v resolved=%v", metrics.raised, metrics.resolved)
	}
	if metrics.evaluations[CheckObjectTheft] != 4 {
		t.Fatalf("theft evaluations = %d, want 4", metrics.evaluations[CheckObjectTheft])
	}
}

func TestObjectTheftUsesCoachRadius(t *testing.T) {
	ctx := context.Background()
	store := newTestKB(t)
	svc := NewGeofenceService(store, DefaultGeofenceConfig())
	train, _ := store.GetTrain(ctx, "12301")

	// B1 has a 0.5 km radius, so 0.1 km is fine.
	moveObject(t, store, "OBJ003", Destination(train.Position, 10, 0.1))
	if ev, _ := svc.CheckObjectTheft(ctx, "OBJ003"); len(ev.Raised) != 0 {
		t.Fatalf("object inside coach radius raised an alert")
	}

	// A2 has no radius and falls back to the 0.05 km default.
	moveObject(t, store, "OBJ002", Destination(train.Position, 10, 0.06))
	if ev, _ := svc.CheckObjectTheft(ctx, "OBJ002"); len(ev.Raised) != 1 {
		t.Fatalf("object beyond default radius did not raise an alert")
	}
}

func TestObjectTheftDanglingReferencesAreNoops(t *testing.T) {
	ctx := context.Background()
	store := newTestKB(t)
	svc := NewGeofenceService(store, DefaultGeofenceConfig())

	if ev, err := svc.CheckObjectTheft(ctx, "missing"); err != nil || len(ev.Raised) != 0 {
		t.Fatalf("missing object: %+v, %v", ev, err)
	}

	// Dropping coach A1 from the train leaves OBJ001 pointing at nothing.
	train, _ := store.GetTrain(ctx, "12301")
	train.Coaches = train.Coaches[1:]
	if err := store.ReplaceTrain(ctx, train); err != nil {
		t.Fatalf("ReplaceTrain error: %v", err)
	}
	moveObject(t, store, "OBJ001", Destination(train.Position, 0, 3))
	if ev, err := svc.CheckObjectTheft(ctx, "OBJ001"); err != nil || len(ev.Raised) != 0 {
		t.Fatalf("missing coach: %+v, %v", ev, err)
	}

	if err := store.DeleteTrain(ctx, "12301"); err != nil {
		t.Fatalf("DeleteTrain error: %v", err)
	}
	if ev, err := svc.CheckObjectTheft(ctx, "OBJ002"); err != nil || len(ev.Raised) != 0 {
		t.Fatalf("missing train: %+v, %v", ev, err)
	}
}

type failingStationsStore struct {
	*kb.KnowledgeBase
	err error
}

func (f *failingStationsStore) ListStations(context.Context) ([]*model.Station, error) {
	return nil, f.err
}

func TestStationProximityPropagatesStoreErrors(t *testing.T) {
	boom := errors.New("disk on fire")
	store := &failingStationsStore{KnowledgeBase: newTestKB(t), err: boom}
	svc := NewGeofenceService(store, DefaultGeofenceConfig())

	if _, err := svc.CheckStationProximity(context.Background(), "12301"); !errors.Is(err, boom) {
		t.Fatalf("CheckStationProximity error = %v, want %v", err, boom)
	}
}

// racingStore hides the unresolved alert from the read so the write hits
// the uniqueness constraint, as if another writer got there first.
type racingStore struct {
	*kb.KnowledgeBase
}

func (r *racingStore) FindUnresolvedAlert(context.Context, model.AlertKey) (*model.Alert, error) {
	return nil, nil
}

func TestUniquenessViolationIsTreatedAsExisting(t *testing.T) {
	ctx := context.Background()
	base := newTestKB(t)
	store := &racingStore{KnowledgeBase: base}
	svc := NewGeofenceService(store, DefaultGeofenceConfig())

	moveTrain(t, base, ndls.Position)
	if ev, err := svc.CheckStationProximity(ctx, "12301"); err != nil || len(ev.Raised) != 1 {
		t.Fatalf("first check: %+v, %v", ev, err)
	}
	ev, err := svc.CheckStationProximity(ctx, "12301")
	if err != nil {
		t.Fatalf("second check error: %v", err)
	}
	if len(ev.Raised) != 0 {
		t.Fatalf("second check raised %d alerts, want 0", len(ev.Raised))
	}
	if got := listAlerts(t, base, model.AlertFilter{}); len(got) != 1 {
		t.Fatalf("alerts = %d, want 1", len(got))
	}
}
