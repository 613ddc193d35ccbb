package core

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/rail-geofence/internal/logging"
	"github.com/signalsfoundry/rail-geofence/model"
)

// Defaults applied by the façades when a caller leaves a parameter out.
const (
	DefaultTheftDistanceKm  = 0.1
	DefaultJourneyMinutes   = 30
	DefaultTheftProbability = 0.2
	DefaultRandomEventCount = 1
)

// RandomEventType labels the events produced by GenerateRandomEvents.
type RandomEventType string

const (
	RandomEventTheft         RandomEventType = "theft_simulation"
	RandomEventTrainMovement RandomEventType = "train_movement"
)

// TheftResult reports a simulated theft.
type TheftResult struct {
	Object              *model.TrackedObject
	RequestedDistanceKm float64
	// ActualDistanceKm is the distance between the displaced object and its
	// train, nil when the train no longer exists.
	ActualDistanceKm *float64
	Alerts           Evaluation
}

// JourneyPlan is the speed and heading assigned to a train so that ticks
// carry it to a station in the requested time.
type JourneyPlan struct {
	TrainNumber     string
	Destination     *model.Station
	DistanceKm      float64
	DurationMinutes float64
	SpeedKmh        float64
	// BearingDeg is the compass bearing to the destination; HeadingDeg is the
	// same direction in the tick convention and is what gets stored.
	BearingDeg   float64
	HeadingDeg   float64
	UpdatesCount int
}

// RandomEvent is one step taken by GenerateRandomEvents.
type RandomEvent struct {
	Type        RandomEventType
	ObjectID    string
	DistanceKm  float64
	TrainNumber string
	Position    model.Coordinate
}

// SimulateTheft moves an object distanceKm away from where it is, at a
// uniformly random bearing, and runs the theft check for it.
func (m *MotionSimulator) SimulateTheft(ctx context.Context, objectID string, distanceKm float64) (*TheftResult, error) {
	if distanceKm < 0 || math.IsNaN(distanceKm) || math.IsInf(distanceKm, 0) {
		return nil, fmt.Errorf("distance %v km: %w", distanceKm, model.ErrInvalidArgument)
	}
	ctx, span := m.tracer.Start(ctx, "motion.SimulateTheft",
		trace.WithAttributes(
			attribute.String("object.id", objectID),
			attribute.Float64("distance_km", distanceKm),
		))
	defer span.End()

	unlock := m.locks.Lock(objectKey(objectID))
	defer unlock()

	obj, err := m.store.GetObject(ctx, objectID)
	if err != nil {
		return nil, spanError(span, err)
	}

	bearing := m.randFloat() * 360
	obj.Position = Destination(obj.Position, bearing, distanceKm)
	if err := m.store.UpdateObjectPosition(ctx, obj.ID, obj.Position); err != nil {
		return nil, spanError(span, fmt.Errorf("update object %q position: %w", obj.ID, err))
	}
	ev, err := m.geofence.CheckObjectTheft(ctx, obj.ID)
	if err != nil {
		return nil, spanError(span, err)
	}

	res := &TheftResult{Object: obj, RequestedDistanceKm: distanceKm, Alerts: ev}
	train, err := m.store.GetTrain(ctx, obj.TrainNumber)
	switch {
	case err == nil:
		d := Distance(obj.Position, train.Position)
		res.ActualDistanceKm = &d
	case !errors.Is(err, model.ErrTrainNotFound):
		return nil, spanError(span, fmt.Errorf("load train %q: %w", obj.TrainNumber, err))
	}

	m.log.Info(ctx, "theft simulated",
		logging.String("object_id", obj.ID),
		logging.Float64("distance_km", distanceKm),
		logging.Float64("bearing", bearing),
		logging.Int("alerts_raised", len(ev.Raised)),
	)
	return res, nil
}

// PlanJourney sets a train's speed and heading so that it reaches the station
// in durationMinutes. No ticks are executed; the periodic driver carries the
// train. intervalSeconds only feeds the reported update count and falls back
// to the configured default when not positive.
func (m *MotionSimulator) PlanJourney(ctx context.Context, trainNumber, stationCode string, durationMinutes float64, intervalSeconds float64) (*JourneyPlan, error) {
	if durationMinutes <= 0 || math.IsNaN(durationMinutes) || math.IsInf(durationMinutes, 0) {
		return nil, fmt.Errorf("duration %v minutes must be positive: %w", durationMinutes, model.ErrInvalidArgument)
	}
	if intervalSeconds <= 0 {
		intervalSeconds = m.cfg.DefaultUpdateIntervalSeconds
	}

	ctx, span := m.tracer.Start(ctx, "motion.PlanJourney",
		trace.WithAttributes(
			attribute.String("train.number", trainNumber),
			attribute.String("station.code", stationCode),
		))
	defer span.End()

	unlock := m.locks.Lock(trainKey(trainNumber))
	defer unlock()

	train, err := m.store.GetTrain(ctx, trainNumber)
	if err != nil {
		return nil, spanError(span, err)
	}
	station, err := m.store.GetStation(ctx, stationCode)
	if err != nil {
		return nil, spanError(span, err)
	}

	dist := Distance(train.Position, station.Position)
	bearing := Bearing(train.Position, station.Position)
	plan := &JourneyPlan{
		TrainNumber:     train.Number,
		Destination:     station,
		DistanceKm:      dist,
		DurationMinutes: durationMinutes,
		SpeedKmh:        dist / durationMinutes * 60,
		BearingDeg:      bearing,
		HeadingDeg:      BearingToHeading(bearing),
		UpdatesCount:    int(durationMinutes * 60 / intervalSeconds),
	}
	if err := m.store.UpdateTrainMotion(ctx, train.Number, plan.SpeedKmh, plan.HeadingDeg); err != nil {
		return nil, spanError(span, fmt.Errorf("update train %q motion: %w", train.Number, err))
	}

	m.log.Info(ctx, "journey planned",
		logging.String("train_number", train.Number),
		logging.String("destination", station.Code),
		logging.Float64("distance_km", dist),
		logging.Float64("speed_kmh", plan.SpeedKmh),
		logging.Float64("bearing", bearing),
	)
	return plan, nil
}

// GenerateRandomEvents runs count iterations. Each one, with probability
// theftProbability, simulates a theft of a random object; otherwise it ticks
// a random train. An iteration whose collection is empty produces no event.
func (m *MotionSimulator) GenerateRandomEvents(ctx context.Context, theftProbability float64, count int) ([]RandomEvent, error) {
	if theftProbability < 0 || theftProbability > 1 || math.IsNaN(theftProbability) {
		return nil, fmt.Errorf("theft probability %v outside [0,1]: %w", theftProbability, model.ErrInvalidArgument)
	}
	if count < 0 {
		return nil, fmt.Errorf("event count %d: %w", count, model.ErrInvalidArgument)
	}

	ctx, span := m.tracer.Start(ctx, "motion.GenerateRandomEvents",
		trace.WithAttributes(attribute.Int("count", count)))
	defer span.End()

	events := make([]RandomEvent, 0, count)
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return events, err
		}
		var (
			ev  *RandomEvent
			err error
		)
		if m.randFloat() < theftProbability {
			ev, err = m.randomTheft(ctx)
		} else {
			ev, err = m.randomMovement(ctx)
		}
		if err != nil {
			return events, spanError(span, err)
		}
		if ev != nil {
			events = append(events, *ev)
		}
	}
	span.SetAttributes(attribute.Int("events", len(events)))
	return events, nil
}

func (m *MotionSimulator) randomTheft(ctx context.Context) (*RandomEvent, error) {
	objects, err := m.store.ListObjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	if len(objects) == 0 {
		return nil, nil
	}
	obj := objects[m.randIntN(len(objects))]
	dist := m.cfg.MinTheftDistanceKm + m.randFloat()*(m.cfg.MaxTheftDistanceKm-m.cfg.MinTheftDistanceKm)

	res, err := m.SimulateTheft(ctx, obj.ID, dist)
	if err != nil {
		if errors.Is(err, model.ErrObjectNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &RandomEvent{
		Type:       RandomEventTheft,
		ObjectID:   obj.ID,
		DistanceKm: dist,
		Position:   res.Object.Position,
	}, nil
}

func (m *MotionSimulator) randomMovement(ctx context.Context) (*RandomEvent, error) {
	trains, err := m.store.ListTrains(ctx)
	if err != nil {
		return nil, fmt.Errorf("list trains: %w", err)
	}
	if len(trains) == 0 {
		return nil, nil
	}
	t := trains[m.randIntN(len(trains))]

	mv, err := m.Tick(ctx, t.Number)
	if err != nil {
		if errors.Is(err, model.ErrTrainNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &RandomEvent{
		Type:        RandomEventTrainMovement,
		TrainNumber: t.Number,
		Position:    mv.Train.Position,
	}, nil
}
