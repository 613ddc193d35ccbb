package core

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/signalsfoundry/rail-geofence/kb"
	"github.com/signalsfoundry/rail-geofence/model"
)

func newTestSimulator(t *testing.T, store *kb.KnowledgeBase) *MotionSimulator {
	t.Helper()
	geo := NewGeofenceService(store, DefaultGeofenceConfig())
	return NewMotionSimulator(store, geo, DefaultMotionConfig(), rand.New(rand.NewPCG(1, 2)))
}

func TestTickMovesAlongHeadingWithJitter(t *testing.T) {
	ctx := context.Background()
	store := newTestKB(t)
	sim := newTestSimulator(t, store)
	start, _ := store.GetTrain(ctx, "12301")

	mv, err := sim.Tick(ctx, "12301")
	if err != nil {
		t.Fatalf("Tick error: %v", err)
	}

	step := start.SpeedKmh / 3600 * DefaultMotionConfig().TickSeconds / KmPerDegree
	if got := mv.Train.Position.Longitude - start.Position.Longitude; math.Abs(got-step) > 1e-12 {
		t.Fatalf("longitude step = %v, want %v", got, step)
	}
	if got := mv.Train.Position.Latitude; math.Abs(got-start.Position.Latitude) > 1e-12 {
		t.Fatalf("latitude changed to %v for an eastbound train", got)
	}

	dir := mv.Train.Direction
	if dir < 0 || dir >= 360 {
		t.Fatalf("direction %v outside [0,360)", dir)
	}
	if dir > 5 && dir < 355 {
		t.Fatalf("direction %v drifted more than 5 degrees from 0", dir)
	}

	stored, _ := store.GetTrain(ctx, "12301")
	if stored.Position != mv.Train.Position || stored.Direction != dir {
		t.Fatalf("store not updated: %+v", stored)
	}
	if mv.ObjectsMoved != 3 {
		t.Fatalf("objects moved = %d, want 3", mv.ObjectsMoved)
	}
	obj, _ := store.GetObject(ctx, "OBJ001")
	if obj.Position != mv.Train.Position {
		t.Fatalf("object did not ride with its train: %v vs %v", obj.Position, mv.Train.Position)
	}
}

func TestTickDistanceKeepsHeading(t *testing.T) {
	ctx := context.Background()
	store := newTestKB(t)
	sim := newTestSimulator(t, store)
	if err := store.UpdateTrainPosition(ctx, "12301", model.Coordinate{Longitude: 77.1, Latitude: 28.55}, 90); err != nil {
		t.Fatalf("UpdateTrainPosition error: %v", err)
	}

	mv, err := sim.TickDistance(ctx, "12301", 11.1)
	if err != nil {
		t.Fatalf("TickDistance error: %v", err)
	}
	if mv.Train.Direction != 90 {
		t.Fatalf("direction = %v, want 90", mv.Train.Direction)
	}
	if math.Abs(mv.Train.Position.Latitude-28.65) > 1e-9 || math.Abs(mv.Train.Position.Longitude-77.1) > 1e-9 {
		t.Fatalf("position = %v, want (77.1, 28.65)", mv.Train.Position)
	}

	if _, err := sim.TickDistance(ctx, "12301", -1); !errors.Is(err, model.ErrInvalidArgument) {
		t.Fatalf("negative distance error = %v, want ErrInvalidArgument", err)
	}
	if _, err := sim.TickDistance(ctx, "nope", 1); !errors.Is(err, model.ErrTrainNotFound) {
		t.Fatalf("missing train error = %v, want ErrTrainNotFound", err)
	}
}

func TestTickRunsStationCheck(t *testing.T) {
	ctx := context.Background()
	store := newTestKB(t)
	sim := newTestSimulator(t, store)

	approach := model.Coordinate{Longitude: ndls.Position.Longitude - 0.05, Latitude: ndls.Position.Latitude}
	if err := store.UpdateTrainPosition(ctx, "12301", approach, 0); err != nil {
		t.Fatalf("UpdateTrainPosition error: %v", err)
	}

	mv, err := sim.TickDistance(ctx, "12301", 0.05*KmPerDegree)
	if err != nil {
		t.Fatalf("TickDistance error: %v", err)
	}
	if len(mv.Alerts.Raised) != 1 {
		t.Fatalf("raised %d alerts on arrival, want 1", len(mv.Alerts.Raised))
	}
	sp, ok := mv.Alerts.Raised[0].StationProximity()
	if !ok || sp.StationCode != "NDLS" {
		t.Fatalf("unexpected alert %+v", mv.Alerts.Raised[0])
	}

	mv, err = sim.TickDistance(ctx, "12301", 10)
	if err != nil {
		t.Fatalf("TickDistance error: %v", err)
	}
	if mv.Alerts.Resolved != 1 {
		t.Fatalf("resolved %d alerts on departure, want 1", mv.Alerts.Resolved)
	}
}

func TestTickAllMovesEveryTrain(t *testing.T) {
	ctx := context.Background()
	store := newTestKB(t)
	second := &model.Train{Number: "12002", Name: "Shatabdi Express", Position: model.Coordinate{Longitude: 77.3, Latitude: 28.6}, SpeedKmh: 90, Direction: 180}
	if err := store.CreateTrain(ctx, second); err != nil {
		t.Fatalf("CreateTrain error: %v", err)
	}
	sim := newTestSimulator(t, store)

	moves, err := sim.TickAll(ctx, nil)
	if err != nil {
		t.Fatalf("TickAll error: %v", err)
	}
	if len(moves) != 2 {
		t.Fatalf("moved %d trains, want 2", len(moves))
	}

	d := 1.0
	moves, err = sim.TickAll(ctx, &d)
	if err != nil {
		t.Fatalf("TickAll error: %v", err)
	}
	for _, mv := range moves {
		if mv.Train.Number == "12002" && mv.Train.Position.Longitude >= 77.3 {
			t.Fatalf("westbound train did not move west: %v", mv.Train.Position)
		}
	}
}

func TestRelocateObjectRunsTheftCheck(t *testing.T) {
	ctx := context.Background()
	store := newTestKB(t)
	sim := newTestSimulator(t, store)
	train, _ := store.GetTrain(ctx, "12301")

	ev, err := sim.RelocateObject(ctx, "OBJ001", Destination(train.Position, 0, 1))
	if err != nil {
		t.Fatalf("RelocateObject error: %v", err)
	}
	if len(ev.Raised) != 1 {
		t.Fatalf("raised %d alerts, want 1", len(ev.Raised))
	}

	if _, err := sim.RelocateObject(ctx, "OBJ001", model.Coordinate{Longitude: 200}); !errors.Is(err, model.ErrInvalidArgument) {
		t.Fatalf("invalid coordinate error = %v, want ErrInvalidArgument", err)
	}
}

func TestReplaceObjectRunsTheftCheck(t *testing.T) {
	ctx := context.Background()
	store := newTestKB(t)
	sim := newTestSimulator(t, store)
	train, _ := store.GetTrain(ctx, "12301")

	obj, _ := store.GetObject(ctx, "OBJ001")
	obj.Position = Destination(train.Position, 0, 5)
	ev, err := sim.ReplaceObject(ctx, obj)
	if err != nil {
		t.Fatalf("ReplaceObject error: %v", err)
	}
	if len(ev.Raised) != 1 {
		t.Fatalf("raised %d alerts, want 1", len(ev.Raised))
	}
	open, _ := store.FindUnresolvedAlert(ctx, model.TheftAlertKey("OBJ001"))
	if open == nil {
		t.Fatalf("expected an unresolved theft alert for OBJ001")
	}

	// Position, train and coach unchanged: nothing to evaluate.
	again := &model.TrackedObject{ID: "OBJ001", Type: "Trunk", OwnerID: "rahul", TrainNumber: "12301", CoachID: "A1"}
	ev, err = sim.ReplaceObject(ctx, again)
	if err != nil {
		t.Fatalf("ReplaceObject error: %v", err)
	}
	if len(ev.Raised) != 0 || ev.Resolved != 0 || again.Position != obj.Position {
		t.Fatalf("unexpected evaluation %+v at %v", ev, again.Position)
	}

	back := &model.TrackedObject{ID: "OBJ001", Type: "Trunk", OwnerID: "rahul", TrainNumber: "12301", CoachID: "A1", Position: train.Position}
	ev, err = sim.ReplaceObject(ctx, back)
	if err != nil {
		t.Fatalf("ReplaceObject error: %v", err)
	}
	if ev.Resolved != 1 {
		t.Fatalf("resolved %d alerts, want 1", ev.Resolved)
	}

	if _, err := sim.ReplaceObject(ctx, &model.TrackedObject{ID: "NOPE"}); !model.IsNotFound(err) {
		t.Fatalf("unknown object error = %v, want not found", err)
	}
}

func TestReplaceTrainRechecksObjects(t *testing.T) {
	ctx := context.Background()
	store := newTestKB(t)
	sim := newTestSimulator(t, store)
	train, _ := store.GetTrain(ctx, "12301")

	ev, err := sim.RelocateObject(ctx, "OBJ003", Destination(train.Position, 0, 0.2))
	if err != nil {
		t.Fatalf("RelocateObject error: %v", err)
	}
	if len(ev.Raised) != 0 {
		t.Fatalf("0.2 km inside a 0.5 km coach raised %d alerts", len(ev.Raised))
	}

	shrunk := &model.Train{
		Number:   "12301",
		Name:     "Rajdhani Express",
		SpeedKmh: 80,
		Coaches:  []model.Coach{{ID: "A1", GeofenceRadiusKm: 0.05}, {ID: "A2"}, {ID: "B1", GeofenceRadiusKm: 0.1}},
	}
	stored, ev, err := sim.ReplaceTrain(ctx, shrunk)
	if err != nil {
		t.Fatalf("ReplaceTrain error: %v", err)
	}
	if stored.Position != train.Position {
		t.Fatalf("ReplaceTrain moved the train to %v", stored.Position)
	}
	if len(ev.Raised) != 1 {
		t.Fatalf("raised %d alerts, want 1", len(ev.Raised))
	}
	if theft, ok := ev.Raised[0].Detail.(*model.Theft); !ok || theft.ObjectID != "OBJ003" {
		t.Fatalf("unexpected alert %+v", ev.Raised[0])
	}

	shrunk.Coaches[2].GeofenceRadiusKm = 0.5
	_, ev, err = sim.ReplaceTrain(ctx, shrunk)
	if err != nil {
		t.Fatalf("ReplaceTrain error: %v", err)
	}
	if ev.Resolved != 1 {
		t.Fatalf("resolved %d alerts, want 1", ev.Resolved)
	}

	if _, _, err := sim.ReplaceTrain(ctx, &model.Train{Number: "99999", Name: "Ghost"}); !errors.Is(err, model.ErrTrainNotFound) {
		t.Fatalf("unknown train error = %v, want ErrTrainNotFound", err)
	}
}

func TestRelocateTrainKeepsHeading(t *testing.T) {
	ctx := context.Background()
	store := newTestKB(t)
	sim := newTestSimulator(t, store)
	if err := store.UpdateTrainMotion(ctx, "12301", 80, 135); err != nil {
		t.Fatalf("UpdateTrainMotion error: %v", err)
	}

	mv, err := sim.RelocateTrain(ctx, "12301", ndls.Position)
	if err != nil {
		t.Fatalf("RelocateTrain error: %v", err)
	}
	if mv.Train.Direction != 135 {
		t.Fatalf("direction = %v, want 135", mv.Train.Direction)
	}
	if len(mv.Alerts.Raised) != 1 {
		t.Fatalf("raised %d alerts, want 1", len(mv.Alerts.Raised))
	}
}

func TestSimulateTheft(t *testing.T) {
	ctx := context.Background()
	store := newTestKB(t)
	sim := newTestSimulator(t, store)

	res, err := sim.SimulateTheft(ctx, "OBJ001", 0.2)
	if err != nil {
		t.Fatalf("SimulateTheft error: %v", err)
	}
	if res.ActualDistanceKm == nil {
		t.Fatalf("actual distance missing")
	}
	if math.Abs(*res.ActualDistanceKm-0.2) > 1e-6 {
		t.Fatalf("actual distance = %v, want 0.2", *res.ActualDistanceKm)
	}
	if len(res.Alerts.Raised) != 1 {
		t.Fatalf("raised %d alerts, want 1", len(res.Alerts.Raised))
	}

	if _, err := sim.SimulateTheft(ctx, "missing", 0.1); !errors.Is(err, model.ErrObjectNotFound) {
		t.Fatalf("missing object error = %v, want ErrObjectNotFound", err)
	}
}

func TestSimulateTheftWithoutTrain(t *testing.T) {
	ctx := context.Background()
	store := newTestKB(t)
	sim := newTestSimulator(t, store)
	if err := store.DeleteTrain(ctx, "12301"); err != nil {
		t.Fatalf("DeleteTrain error: %v", err)
	}

	res, err := sim.SimulateTheft(ctx, "OBJ001", 0.1)
	if err != nil {
		t.Fatalf("SimulateTheft error: %v", err)
	}
	if res.ActualDistanceKm != nil {
		t.Fatalf("actual distance = %v, want nil", *res.ActualDistanceKm)
	}
	if len(res.Alerts.Raised) != 0 {
		t.Fatalf("alerts raised for an object without a train")
	}
}

func TestPlanJourney(t *testing.T) {
	ctx := context.Background()
	store := newTestKB(t)
	sim := newTestSimulator(t, store)
	train, _ := store.GetTrain(ctx, "12301")

	plan, err := sim.PlanJourney(ctx, "12301", "NDLS", 30, 0)
	if err != nil {
		t.Fatalf("PlanJourney error: %v", err)
	}
	wantDist := Distance(train.Position, ndls.Position)
	if math.Abs(plan.DistanceKm-wantDist) > 1e-9 {
		t.Fatalf("distance = %v, want %v", plan.DistanceKm, wantDist)
	}
	if math.Abs(plan.SpeedKmh-wantDist*2) > 1e-9 {
		t.Fatalf("speed = %v, want %v", plan.SpeedKmh, wantDist*2)
	}
	if plan.UpdatesCount != 60 {
		t.Fatalf("updates = %d, want 60", plan.UpdatesCount)
	}
	if plan.HeadingDeg != BearingToHeading(plan.BearingDeg) {
		t.Fatalf("heading %v does not match bearing %v", plan.HeadingDeg, plan.BearingDeg)
	}

	stored, _ := store.GetTrain(ctx, "12301")
	if stored.SpeedKmh != plan.SpeedKmh || stored.Direction != plan.HeadingDeg {
		t.Fatalf("train motion not stored: %+v", stored)
	}
	if stored.Position != train.Position {
		t.Fatalf("planning moved the train")
	}

	mv, err := sim.TickDistance(ctx, "12301", wantDist/2)
	if err != nil {
		t.Fatalf("TickDistance error: %v", err)
	}
	if after := Distance(mv.Train.Position, ndls.Position); after >= wantDist {
		t.Fatalf("train did not head towards the station: %v km left of %v", after, wantDist)
	}
}

func TestPlanJourneyRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	store := newTestKB(t)
	sim := newTestSimulator(t, store)

	tests := []struct {
		name     string
		train    string
		station  string
		duration float64
		want     error
	}{
		{"zero duration", "12301", "NDLS", 0, model.ErrInvalidArgument},
		{"negative duration", "12301", "NDLS", -5, model.ErrInvalidArgument},
		{"missing train", "00000", "NDLS", 30, model.ErrTrainNotFound},
		{"missing station", "12301", "XXX", 30, model.ErrStationNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := sim.PlanJourney(ctx, tt.train, tt.station, tt.duration, 30); !errors.Is(err, tt.want) {
				t.Fatalf("PlanJourney error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestGenerateRandomEventsCounts(t *testing.T) {
	ctx := context.Background()

	for _, p := range []float64{0, 0.3, 1} {
		store := newTestKB(t)
		sim := newTestSimulator(t, store)
		events, err := sim.GenerateRandomEvents(ctx, p, 25)
		if err != nil {
			t.Fatalf("GenerateRandomEvents(%v) error: %v", p, err)
		}
		if len(events) != 25 {
			t.Fatalf("GenerateRandomEvents(%v) produced %d events, want 25", p, len(events))
		}
		for _, ev := range events {
			switch {
			case p == 0 && ev.Type != RandomEventTrainMovement:
				t.Fatalf("p=0 produced %s", ev.Type)
			case p == 1 && ev.Type != RandomEventTheft:
				t.Fatalf("p=1 produced %s", ev.Type)
			}
			if ev.Type == RandomEventTheft && (ev.DistanceKm < 0.05 || ev.DistanceKm > 0.25) {
				t.Fatalf("theft distance %v outside [0.05, 0.25]", ev.DistanceKm)
			}
		}
	}
}

func TestGenerateRandomEventsEmptyStore(t *testing.T) {
	store := kb.NewKnowledgeBase()
	sim := newTestSimulator(t, store)

	events, err := sim.GenerateRandomEvents(context.Background(), 0.5, 10)
	if err != nil {
		t.Fatalf("GenerateRandomEvents error: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("produced %d events on an empty store, want 0", len(events))
	}
}

func TestGenerateRandomEventsRejectsBadInput(t *testing.T) {
	sim := newTestSimulator(t, newTestKB(t))
	for _, tc := range []struct {
		p     float64
		count int
	}{{-0.1, 1}, {1.5, 1}, {math.NaN(), 1}, {0.5, -1}} {
		if _, err := sim.GenerateRandomEvents(context.Background(), tc.p, tc.count); !errors.Is(err, model.ErrInvalidArgument) {
			t.Fatalf("GenerateRandomEvents(%v, %d) error = %v, want ErrInvalidArgument", tc.p, tc.count, err)
		}
	}
}

func TestConcurrentTicksKeepSingleAlert(t *testing.T) {
	ctx := context.Background()
	store := newTestKB(t)
	sim := newTestSimulator(t, store)
	if err := store.UpdateTrainPosition(ctx, "12301", ndls.Position, 0); err != nil {
		t.Fatalf("UpdateTrainPosition error: %v", err)
	}
	if err := store.UpdateTrainMotion(ctx, "12301", 1, 0); err != nil {
		t.Fatalf("UpdateTrainMotion error: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := sim.Tick(ctx, "12301"); err != nil {
				t.Errorf("Tick error: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := listAlerts(t, store, unresolvedOnly()); len(got) != 1 {
		t.Fatalf("unresolved alerts = %d, want 1", len(got))
	}
	if n := len(sim.locks.locks); n != 0 {
		t.Fatalf("keyed mutex retained %d keys", n)
	}
}
