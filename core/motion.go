package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/rail-geofence/internal/logging"
	"github.com/signalsfoundry/rail-geofence/model"
)

var errNoReferenceWriter = errors.New("store cannot replace trains or objects")

// RandomSource is the randomness the simulator draws from. *rand.Rand from
// math/rand/v2 satisfies it; tests pass a seeded PCG source.
type RandomSource interface {
	// Float64 returns a value in [0, 1).
	Float64() float64
	// IntN returns a value in [0, n).
	IntN(n int) int
}

// Movement describes one train repositioning and what it triggered.
type Movement struct {
	Train        *model.Train
	ObjectsMoved int
	Alerts       Evaluation
}

// MotionSimulator advances trains by discrete ticks and injects scenario
// events. Every write that can change a geofence distance is followed by the
// matching check.
type MotionSimulator struct {
	store    Store
	geofence *GeofenceService
	cfg      MotionConfig
	log      logging.Logger
	tracer   trace.Tracer

	rndMu sync.Mutex
	rnd   RandomSource

	locks keyedMutex
}

// MotionOption customises MotionSimulator construction.
type MotionOption func(*MotionSimulator)

// WithMotionLogger attaches a structured logger.
func WithMotionLogger(l logging.Logger) MotionOption {
	return func(m *MotionSimulator) {
		if l != nil {
			m.log = l
		}
	}
}

// NewMotionSimulator constructs a simulator writing to store and evaluating
// through geofence. rnd must not be nil.
func NewMotionSimulator(store Store, geofence *GeofenceService, cfg MotionConfig, rnd RandomSource, opts ...MotionOption) *MotionSimulator {
	m := &MotionSimulator{
		store:    store,
		geofence: geofence,
		cfg:      cfg,
		rnd:      rnd,
		log:      logging.Noop(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the motion parameters the simulator was built with.
func (m *MotionSimulator) Config() MotionConfig { return m.cfg }

// Tick advances one train by the distance covered at its speed during one
// tick, then perturbs its heading.
func (m *MotionSimulator) Tick(ctx context.Context, trainNumber string) (Movement, error) {
	return m.advance(ctx, trainNumber, nil)
}

// TickDistance advances one train by exactly distanceKm along its current
// heading. The heading is left unperturbed.
func (m *MotionSimulator) TickDistance(ctx context.Context, trainNumber string, distanceKm float64) (Movement, error) {
	if distanceKm < 0 || math.IsNaN(distanceKm) || math.IsInf(distanceKm, 0) {
		return Movement{}, fmt.Errorf("distance %v km: %w", distanceKm, model.ErrInvalidArgument)
	}
	return m.advance(ctx, trainNumber, &distanceKm)
}

// TickAll advances every train once. A nil distanceKm uses the speed-based
// step; otherwise every train moves by *distanceKm. Trains deleted while the
// tick is running are skipped.
func (m *MotionSimulator) TickAll(ctx context.Context, distanceKm *float64) ([]Movement, error) {
	ctx, span := m.tracer.Start(ctx, "motion.TickAll")
	defer span.End()

	if distanceKm != nil && (*distanceKm < 0 || math.IsNaN(*distanceKm) || math.IsInf(*distanceKm, 0)) {
		return nil, spanError(span, fmt.Errorf("distance %v km: %w", *distanceKm, model.ErrInvalidArgument))
	}

	trains, err := m.store.ListTrains(ctx)
	if err != nil {
		return nil, spanError(span, fmt.Errorf("list trains: %w", err))
	}

	moves := make([]Movement, 0, len(trains))
	for _, t := range trains {
		if err := ctx.Err(); err != nil {
			return moves, err
		}
		mv, err := m.advance(ctx, t.Number, distanceKm)
		if err != nil {
			if errors.Is(err, model.ErrTrainNotFound) {
				continue
			}
			return moves, spanError(span, err)
		}
		moves = append(moves, mv)
	}
	span.SetAttributes(attribute.Int("trains.moved", len(moves)))
	return moves, nil
}

// RelocateTrain places a train at pos without changing its heading, drags its
// objects along and runs the station proximity check.
func (m *MotionSimulator) RelocateTrain(ctx context.Context, trainNumber string, pos model.Coordinate) (Movement, error) {
	if err := pos.Validate(); err != nil {
		return Movement{}, err
	}
	unlock := m.locks.Lock(trainKey(trainNumber))
	defer unlock()

	train, err := m.store.GetTrain(ctx, trainNumber)
	if err != nil {
		return Movement{}, err
	}
	return m.place(ctx, train, pos, train.Direction)
}

// RelocateObject places a single object at pos and runs the theft check for
// it.
func (m *MotionSimulator) RelocateObject(ctx context.Context, objectID string, pos model.Coordinate) (Evaluation, error) {
	if err := pos.Validate(); err != nil {
		return Evaluation{}, err
	}
	unlock := m.locks.Lock(objectKey(objectID))
	defer unlock()

	if err := m.store.UpdateObjectPosition(ctx, objectID, pos); err != nil {
		return Evaluation{}, err
	}
	return m.geofence.CheckObjectTheft(ctx, objectID)
}

// ReplaceObject overwrites an object's attributes and runs the theft check
// when its position, train or coach changed. A zero position keeps the
// current one.
func (m *MotionSimulator) ReplaceObject(ctx context.Context, o *model.TrackedObject) (Evaluation, error) {
	w, err := m.referenceWriter()
	if err != nil {
		return Evaluation{}, err
	}
	unlock := m.locks.Lock(objectKey(o.ID))
	defer unlock()

	current, err := m.store.GetObject(ctx, o.ID)
	if err != nil {
		return Evaluation{}, err
	}
	if o.Position == (model.Coordinate{}) {
		o.Position = current.Position
	}
	if err := w.ReplaceObject(ctx, o); err != nil {
		return Evaluation{}, err
	}
	if o.Position == current.Position && o.TrainNumber == current.TrainNumber && o.CoachID == current.CoachID {
		return Evaluation{}, nil
	}
	return m.geofence.CheckObjectTheft(ctx, o.ID)
}

// ReplaceTrain overwrites a train's attributes, keeping its position, and
// re-runs the theft check for every object on it since coach radii may have
// changed. Objects whose coach was removed are left alone.
func (m *MotionSimulator) ReplaceTrain(ctx context.Context, t *model.Train) (*model.Train, Evaluation, error) {
	var ev Evaluation
	w, err := m.referenceWriter()
	if err != nil {
		return nil, ev, err
	}
	unlock := m.locks.Lock(trainKey(t.Number))
	defer unlock()

	if err := w.ReplaceTrain(ctx, t); err != nil {
		return nil, ev, err
	}
	stored, err := m.store.GetTrain(ctx, t.Number)
	if err != nil {
		return nil, ev, err
	}
	objects, err := m.store.ListObjects(ctx)
	if err != nil {
		return nil, ev, fmt.Errorf("list objects: %w", err)
	}
	for _, o := range objects {
		if o.TrainNumber != t.Number {
			continue
		}
		oe, err := m.checkObject(ctx, o.ID)
		if err != nil {
			return nil, ev, err
		}
		ev.merge(oe)
	}
	return stored, ev, nil
}

func (m *MotionSimulator) checkObject(ctx context.Context, objectID string) (Evaluation, error) {
	unlock := m.locks.Lock(objectKey(objectID))
	defer unlock()
	return m.geofence.CheckObjectTheft(ctx, objectID)
}

func (m *MotionSimulator) referenceWriter() (ReferenceWriter, error) {
	w, ok := m.store.(ReferenceWriter)
	if !ok {
		return nil, errNoReferenceWriter
	}
	return w, nil
}

func (m *MotionSimulator) advance(ctx context.Context, trainNumber string, distanceKm *float64) (Movement, error) {
	ctx, span := m.tracer.Start(ctx, "motion.Tick",
		trace.WithAttributes(attribute.String("train.number", trainNumber)))
	defer span.End()

	unlock := m.locks.Lock(trainKey(trainNumber))
	defer unlock()

	train, err := m.store.GetTrain(ctx, trainNumber)
	if err != nil {
		return Movement{}, spanError(span, err)
	}

	var stepDeg float64
	heading := train.Direction
	if distanceKm != nil {
		stepDeg = *distanceKm / KmPerDegree
	} else {
		stepDeg = train.SpeedKmh / 3600 * m.cfg.TickSeconds / KmPerDegree
		jitter := (m.randFloat()*2 - 1) * m.cfg.HeadingJitterDeg
		heading = normalizeDegrees(train.Direction + jitter)
	}

	pos := OffsetPlanar(train.Position, train.Direction, stepDeg)
	mv, err := m.place(ctx, train, pos, heading)
	if err != nil {
		return mv, spanError(span, err)
	}
	return mv, nil
}

// place writes the new train position, moves its objects and evaluates
// station proximity. The caller holds the train lock.
func (m *MotionSimulator) place(ctx context.Context, train *model.Train, pos model.Coordinate, heading float64) (Movement, error) {
	if err := m.store.UpdateTrainPosition(ctx, train.Number, pos, heading); err != nil {
		return Movement{}, fmt.Errorf("update train %q position: %w", train.Number, err)
	}
	moved, err := m.store.UpdateObjectsPosition(ctx, train.Number, pos)
	if err != nil {
		return Movement{}, fmt.Errorf("move objects of train %q: %w", train.Number, err)
	}
	ev, err := m.geofence.CheckStationProximity(ctx, train.Number)
	if err != nil {
		return Movement{}, err
	}

	train.Position = pos
	train.Direction = heading
	m.log.Debug(ctx, "train moved",
		logging.String("train_number", train.Number),
		logging.String("position", pos.String()),
		logging.Float64("direction", heading),
		logging.Int("objects_moved", moved),
	)
	return Movement{Train: train, ObjectsMoved: moved, Alerts: ev}, nil
}

func (m *MotionSimulator) randFloat() float64 {
	m.rndMu.Lock()
	defer m.rndMu.Unlock()
	return m.rnd.Float64()
}

func (m *MotionSimulator) randIntN(n int) int {
	m.rndMu.Lock()
	defer m.rndMu.Unlock()
	return m.rnd.IntN(n)
}

func trainKey(number string) string { return "train/" + number }
func objectKey(id string) string    { return "object/" + id }

// keyedMutex hands out one mutex per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sync.Mutex
	refs int
}

// Lock blocks until key is free and returns the matching unlock func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
