package kb

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/signalsfoundry/rail-geofence/model"
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventTrainMoved EventType = iota
	EventObjectMoved
	EventAlertCreated
	EventAlertResolved
)

func (t EventType) String() string {
	switch t {
	case EventTrainMoved:
		return "train_moved"
	case EventObjectMoved:
		return "object_moved"
	case EventAlertCreated:
		return "alert_created"
	case EventAlertResolved:
		return "alert_resolved"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event is emitted to subscribers when something interesting happens.
// Only the fields relevant to Type are populated; all values are copies.
type Event struct {
	Type   EventType
	Train  *model.Train
	Object *model.TrackedObject
	Alert  *model.Alert
}

// KnowledgeBase is an in-memory, thread-safe domain store for stations,
// trains, tracked objects, users and alerts. Every read returns a copy.
//
// The unresolved index enforces at most one unresolved alert per natural key
// under the write lock, so concurrent evaluators cannot create duplicates.
type KnowledgeBase struct {
	mu sync.RWMutex

	stations map[string]*model.Station
	trains   map[string]*model.Train
	objects  map[string]*model.TrackedObject
	users    map[string]*model.User
	alerts   map[string]*model.Alert

	unresolved map[model.AlertKey]string

	subs   map[int]func(Event)
	nextID int
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		stations:   make(map[string]*model.Station),
		trains:     make(map[string]*model.Train),
		objects:    make(map[string]*model.TrackedObject),
		users:      make(map[string]*model.User),
		alerts:     make(map[string]*model.Alert),
		unresolved: make(map[model.AlertKey]string),
		subs:       make(map[int]func(Event)),
	}
}

// ---- Stations ----

// CreateStation adds a station. It returns an error if the code already exists.
func (kb *KnowledgeBase) CreateStation(_ context.Context, s *model.Station) error {
	if err := s.Validate(); err != nil {
		return err
	}
	kb.mu.Lock()
	defer kb.mu.Unlock()

	if _, exists := kb.stations[s.Code]; exists {
		return fmt.Errorf("station with code %q: %w", s.Code, model.ErrStationExists)
	}
	cp := *s
	kb.stations[s.Code] = &cp
	return nil
}

// GetStation returns the station with the given code.
func (kb *KnowledgeBase) GetStation(_ context.Context, code string) (*model.Station, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	s, ok := kb.stations[code]
	if !ok {
		return nil, fmt.Errorf("station with code %q: %w", code, model.ErrStationNotFound)
	}
	cp := *s
	return &cp, nil
}

// ListStations returns a snapshot of all stations ordered by code.
func (kb *KnowledgeBase) ListStations(context.Context) ([]*model.Station, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]*model.Station, 0, len(kb.stations))
	for _, s := range kb.stations {
		cp := *s
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Code < res[j].Code })
	return res, nil
}

// DeleteStation removes a station. Alerts that reference it are kept.
func (kb *KnowledgeBase) DeleteStation(_ context.Context, code string) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	if _, ok := kb.stations[code]; !ok {
		return fmt.Errorf("station with code %q: %w", code, model.ErrStationNotFound)
	}
	delete(kb.stations, code)
	return nil
}

// ---- Trains ----

// CreateTrain adds a train. It returns an error if the number already exists.
func (kb *KnowledgeBase) CreateTrain(_ context.Context, t *model.Train) error {
	if err := t.Validate(); err != nil {
		return err
	}
	kb.mu.Lock()
	defer kb.mu.Unlock()

	if _, exists := kb.trains[t.Number]; exists {
		return fmt.Errorf("train with number %q: %w", t.Number, model.ErrTrainExists)
	}
	kb.trains[t.Number] = t.Clone()
	return nil
}

// GetTrain returns the train with the given number.
func (kb *KnowledgeBase) GetTrain(_ context.Context, number string) (*model.Train, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	t, ok := kb.trains[number]
	if !ok {
		return nil, fmt.Errorf("train with number %q: %w", number, model.ErrTrainNotFound)
	}
	return t.Clone(), nil
}

// ListTrains returns a snapshot of all trains ordered by number.
func (kb *KnowledgeBase) ListTrains(context.Context) ([]*model.Train, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]*model.Train, 0, len(kb.trains))
	for _, t := range kb.trains {
		res = append(res, t.Clone())
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Number < res[j].Number })
	return res, nil
}

// ReplaceTrain overwrites a train's name, speed, heading and coaches while
// keeping its current position.
func (kb *KnowledgeBase) ReplaceTrain(_ context.Context, t *model.Train) error {
	if err := t.Validate(); err != nil {
		return err
	}
	kb.mu.Lock()
	defer kb.mu.Unlock()

	existing, ok := kb.trains[t.Number]
	if !ok {
		return fmt.Errorf("train with number %q: %w", t.Number, model.ErrTrainNotFound)
	}
	next := t.Clone()
	next.Position = existing.Position
	kb.trains[t.Number] = next
	return nil
}

// DeleteTrain removes a train. Objects registered to it become dangling and
// are ignored by the theft check.
func (kb *KnowledgeBase) DeleteTrain(_ context.Context, number string) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	if _, ok := kb.trains[number]; !ok {
		return fmt.Errorf("train with number %q: %w", number, model.ErrTrainNotFound)
	}
	delete(kb.trains, number)
	return nil
}

// UpdateTrainPosition moves a train, sets its heading and notifies subscribers.
func (kb *KnowledgeBase) UpdateTrainPosition(_ context.Context, number string, pos model.Coordinate, direction float64) error {
	kb.mu.Lock()
	t, ok := kb.trains[number]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("train with number %q: %w", number, model.ErrTrainNotFound)
	}
	t.Position = pos
	t.Direction = direction
	event := Event{Type: EventTrainMoved, Train: t.Clone()}
	subs := kb.snapshotSubs()
	kb.mu.Unlock()

	// Notify subscribers outside the lock to avoid deadlocks.
	notify(subs, event)
	return nil
}

// UpdateTrainMotion sets a train's speed and heading.
func (kb *KnowledgeBase) UpdateTrainMotion(_ context.Context, number string, speedKmh, direction float64) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	t, ok := kb.trains[number]
	if !ok {
		return fmt.Errorf("train with number %q: %w", number, model.ErrTrainNotFound)
	}
	t.SpeedKmh = speedKmh
	t.Direction = direction
	return nil
}

// ---- Objects ----

// CreateObject adds a tracked object after checking that its train and
// coach exist.
func (kb *KnowledgeBase) CreateObject(_ context.Context, o *model.TrackedObject) error {
	if err := o.Validate(); err != nil {
		return err
	}
	kb.mu.Lock()
	defer kb.mu.Unlock()

	if _, exists := kb.objects[o.ID]; exists {
		return fmt.Errorf("object with ID %q: %w", o.ID, model.ErrObjectExists)
	}
	if err := kb.checkCoachLocked(o.TrainNumber, o.CoachID); err != nil {
		return err
	}
	kb.objects[o.ID] = o.Clone()
	return nil
}

// ReplaceObject overwrites an existing object after checking its train and
// coach references.
func (kb *KnowledgeBase) ReplaceObject(_ context.Context, o *model.TrackedObject) error {
	if err := o.Validate(); err != nil {
		return err
	}
	kb.mu.Lock()
	defer kb.mu.Unlock()

	if _, ok := kb.objects[o.ID]; !ok {
		return fmt.Errorf("object with ID %q: %w", o.ID, model.ErrObjectNotFound)
	}
	if err := kb.checkCoachLocked(o.TrainNumber, o.CoachID); err != nil {
		return err
	}
	kb.objects[o.ID] = o.Clone()
	return nil
}

func (kb *KnowledgeBase) checkCoachLocked(trainNumber, coachID string) error {
	t, ok := kb.trains[trainNumber]
	if !ok {
		return fmt.Errorf("train with number %q: %w", trainNumber, model.ErrTrainNotFound)
	}
	if _, ok := t.Coach(coachID); !ok {
		return fmt.Errorf("coach %q on train %q: %w", coachID, trainNumber, model.ErrCoachNotFound)
	}
	return nil
}

// GetObject returns the object with the given ID.
func (kb *KnowledgeBase) GetObject(_ context.Context, id string) (*model.TrackedObject, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	o, ok := kb.objects[id]
	if !ok {
		return nil, fmt.Errorf("object with ID %q: %w", id, model.ErrObjectNotFound)
	}
	return o.Clone(), nil
}

// ListObjects returns a snapshot of all objects ordered by ID.
func (kb *KnowledgeBase) ListObjects(context.Context) ([]*model.TrackedObject, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]*model.TrackedObject, 0, len(kb.objects))
	for _, o := range kb.objects {
		res = append(res, o.Clone())
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

// DeleteObject removes an object.
func (kb *KnowledgeBase) DeleteObject(_ context.Context, id string) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	if _, ok := kb.objects[id]; !ok {
		return fmt.Errorf("object with ID %q: %w", id, model.ErrObjectNotFound)
	}
	delete(kb.objects, id)
	return nil
}

// UpdateObjectPosition moves a single object and notifies subscribers.
func (kb *KnowledgeBase) UpdateObjectPosition(_ context.Context, id string, pos model.Coordinate) error {
	kb.mu.Lock()
	o, ok := kb.objects[id]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("object with ID %q: %w", id, model.ErrObjectNotFound)
	}
	o.Position = pos
	event := Event{Type: EventObjectMoved, Object: o.Clone()}
	subs := kb.snapshotSubs()
	kb.mu.Unlock()

	notify(subs, event)
	return nil
}

// UpdateObjectsPosition moves every object registered to trainNumber.
func (kb *KnowledgeBase) UpdateObjectsPosition(_ context.Context, trainNumber string, pos model.Coordinate) (int, error) {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	moved := 0
	for _, o := range kb.objects {
		if o.TrainNumber == trainNumber {
			o.Position = pos
			moved++
		}
	}
	return moved, nil
}

// ---- Users ----

// CreateUser adds a user, assigning an ID when empty. Email and phone must be
// unique, and the current train and coach must exist when set.
func (kb *KnowledgeBase) CreateUser(_ context.Context, u *model.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	kb.mu.Lock()
	defer kb.mu.Unlock()

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if _, exists := kb.users[u.ID]; exists {
		return fmt.Errorf("user with ID %q: %w", u.ID, model.ErrUserExists)
	}
	for _, other := range kb.users {
		if other.Email == u.Email {
			return fmt.Errorf("user with email %q: %w", u.Email, model.ErrUserExists)
		}
		if other.Phone == u.Phone {
			return fmt.Errorf("user with phone %q: %w", u.Phone, model.ErrUserExists)
		}
	}
	if u.CurrentTrain != "" {
		t, ok := kb.trains[u.CurrentTrain]
		if !ok {
			return fmt.Errorf("train with number %q: %w", u.CurrentTrain, model.ErrTrainNotFound)
		}
		if u.CurrentCoach != "" {
			if _, ok := t.Coach(u.CurrentCoach); !ok {
				return fmt.Errorf("coach %q on train %q: %w", u.CurrentCoach, u.CurrentTrain, model.ErrCoachNotFound)
			}
		}
	}
	kb.users[u.ID] = u.Clone()
	return nil
}

// GetUser returns the user with the given ID.
func (kb *KnowledgeBase) GetUser(_ context.Context, id string) (*model.User, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	u, ok := kb.users[id]
	if !ok {
		return nil, fmt.Errorf("user with ID %q: %w", id, model.ErrUserNotFound)
	}
	return u.Clone(), nil
}

// ListUsers returns a snapshot of all users ordered by name then ID.
func (kb *KnowledgeBase) ListUsers(context.Context) ([]*model.User, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]*model.User, 0, len(kb.users))
	for _, u := range kb.users {
		res = append(res, u.Clone())
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Name != res[j].Name {
			return res[i].Name < res[j].Name
		}
		return res[i].ID < res[j].ID
	})
	return res, nil
}

// DeleteUser removes a user.
func (kb *KnowledgeBase) DeleteUser(_ context.Context, id string) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	if _, ok := kb.users[id]; !ok {
		return fmt.Errorf("user with ID %q: %w", id, model.ErrUserNotFound)
	}
	delete(kb.users, id)
	return nil
}

// ---- Alerts ----

// CreateAlert stores an alert, assigning an ID when empty. An unresolved
// alert whose natural key already has an unresolved alert is rejected with
// model.ErrAlertExists.
func (kb *KnowledgeBase) CreateAlert(_ context.Context, a *model.Alert) error {
	if err := a.Validate(); err != nil {
		return err
	}
	kb.mu.Lock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if _, exists := kb.alerts[a.ID]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("alert with ID %q: %w", a.ID, model.ErrAlertExists)
	}
	key := a.Key()
	if !a.Resolved {
		if existing, ok := kb.unresolved[key]; ok {
			kb.mu.Unlock()
			return fmt.Errorf("alert %s held by %q: %w", key, existing, model.ErrAlertExists)
		}
		kb.unresolved[key] = a.ID
	}
	kb.alerts[a.ID] = a.Clone()
	event := Event{Type: EventAlertCreated, Alert: a.Clone()}
	subs := kb.snapshotSubs()
	kb.mu.Unlock()

	notify(subs, event)
	return nil
}

// GetAlert returns the alert with the given ID.
func (kb *KnowledgeBase) GetAlert(_ context.Context, id string) (*model.Alert, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	a, ok := kb.alerts[id]
	if !ok {
		return nil, fmt.Errorf("alert with ID %q: %w", id, model.ErrAlertNotFound)
	}
	return a.Clone(), nil
}

// FindUnresolvedAlert returns the unresolved alert for key, or nil.
func (kb *KnowledgeBase) FindUnresolvedAlert(_ context.Context, key model.AlertKey) (*model.Alert, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	id, ok := kb.unresolved[key]
	if !ok {
		return nil, nil
	}
	return kb.alerts[id].Clone(), nil
}

// ResolveAlerts marks the unresolved alert for key as resolved.
func (kb *KnowledgeBase) ResolveAlerts(_ context.Context, key model.AlertKey) (int, error) {
	kb.mu.Lock()
	id, ok := kb.unresolved[key]
	if !ok {
		kb.mu.Unlock()
		return 0, nil
	}
	a := kb.resolveLocked(id)
	event := Event{Type: EventAlertResolved, Alert: a.Clone()}
	subs := kb.snapshotSubs()
	kb.mu.Unlock()

	notify(subs, event)
	return 1, nil
}

// ResolveAlert marks a single alert resolved. Resolving an already resolved
// alert is a no-op that returns the alert unchanged.
func (kb *KnowledgeBase) ResolveAlert(_ context.Context, id string) (*model.Alert, error) {
	kb.mu.Lock()
	a, ok := kb.alerts[id]
	if !ok {
		kb.mu.Unlock()
		return nil, fmt.Errorf("alert with ID %q: %w", id, model.ErrAlertNotFound)
	}
	if a.Resolved {
		out := a.Clone()
		kb.mu.Unlock()
		return out, nil
	}
	a = kb.resolveLocked(id)
	out := a.Clone()
	event := Event{Type: EventAlertResolved, Alert: a.Clone()}
	subs := kb.snapshotSubs()
	kb.mu.Unlock()

	notify(subs, event)
	return out, nil
}

func (kb *KnowledgeBase) resolveLocked(id string) *model.Alert {
	a := kb.alerts[id]
	a.Resolved = true
	key := a.Key()
	if kb.unresolved[key] == id {
		delete(kb.unresolved, key)
	}
	return a
}

// DeleteAlert removes an alert and releases its natural key.
func (kb *KnowledgeBase) DeleteAlert(_ context.Context, id string) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	a, ok := kb.alerts[id]
	if !ok {
		return fmt.Errorf("alert with ID %q: %w", id, model.ErrAlertNotFound)
	}
	if key := a.Key(); kb.unresolved[key] == id {
		delete(kb.unresolved, key)
	}
	delete(kb.alerts, id)
	return nil
}

// ListAlerts returns alerts matching filter, newest first.
func (kb *KnowledgeBase) ListAlerts(_ context.Context, filter model.AlertFilter) ([]*model.Alert, error) {
	kb.mu.RLock()
	res := make([]*model.Alert, 0)
	for _, a := range kb.alerts {
		if filter.Matches(a) {
			res = append(res, a.Clone())
		}
	}
	kb.mu.RUnlock()

	sort.Slice(res, func(i, j int) bool {
		if !res[i].Timestamp.Equal(res[j].Timestamp) {
			return res[i].Timestamp.After(res[j].Timestamp)
		}
		return res[i].ID < res[j].ID
	})
	if filter.Limit > 0 && len(res) > filter.Limit {
		res = res[:filter.Limit]
	}
	return res, nil
}

// EntityCounts reports the size of each collection and the number of
// unresolved alerts.
func (kb *KnowledgeBase) EntityCounts(context.Context) (model.EntityCounts, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return model.EntityCounts{
		Stations:         len(kb.stations),
		Trains:           len(kb.trains),
		Objects:          len(kb.objects),
		Users:            len(kb.users),
		UnresolvedAlerts: len(kb.unresolved),
	}, nil
}

// ---- Subscriptions ----

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	id := kb.nextID
	kb.nextID++
	kb.subs[id] = fn

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		delete(kb.subs, id)
	}
}

func (kb *KnowledgeBase) snapshotSubs() []func(Event) {
	out := make([]func(Event), 0, len(kb.subs))
	for _, fn := range kb.subs {
		out = append(out, fn)
	}
	return out
}

func notify(subs []func(Event), e Event) {
	for _, sub := range subs {
		sub(e)
	}
}
