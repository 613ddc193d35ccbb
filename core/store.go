package core

import (
	"context"

	"github.com/signalsfoundry/rail-geofence/model"
)

// Store is the persistence contract the geofence evaluator and the motion
// simulator depend on. Lookups of missing entities return an error wrapping
// the matching model.Err*NotFound sentinel.
type Store interface {
	GetTrain(ctx context.Context, number string) (*model.Train, error)
	ListTrains(ctx context.Context) ([]*model.Train, error)
	GetStation(ctx context.Context, code string) (*model.Station, error)
	ListStations(ctx context.Context) ([]*model.Station, error)
	GetObject(ctx context.Context, id string) (*model.TrackedObject, error)
	ListObjects(ctx context.Context) ([]*model.TrackedObject, error)

	// UpdateTrainPosition moves a train and sets its heading.
	UpdateTrainPosition(ctx context.Context, number string, pos model.Coordinate, direction float64) error
	// UpdateTrainMotion sets a train's speed and heading without moving it.
	UpdateTrainMotion(ctx context.Context, number string, speedKmh, direction float64) error
	// UpdateObjectsPosition moves every object registered to the train and
	// returns how many were moved.
	UpdateObjectsPosition(ctx context.Context, trainNumber string, pos model.Coordinate) (int, error)
	UpdateObjectPosition(ctx context.Context, id string, pos model.Coordinate) error

	// FindUnresolvedAlert returns the unresolved alert for key, or
	// (nil, nil) when there is none.
	FindUnresolvedAlert(ctx context.Context, key model.AlertKey) (*model.Alert, error)
	// CreateAlert stores a new alert. It fails with model.ErrAlertExists when
	// an unresolved alert with the same natural key already exists.
	CreateAlert(ctx context.Context, a *model.Alert) error
	// ResolveAlerts marks every unresolved alert for key as resolved and
	// returns how many changed.
	ResolveAlerts(ctx context.Context, key model.AlertKey) (int, error)
}

// AlertStore is the read/administration side of alert persistence used by
// the alert query service and the façades.
type AlertStore interface {
	GetAlert(ctx context.Context, id string) (*model.Alert, error)
	// ListAlerts returns alerts matching filter, newest first, capped at
	// filter.Limit when positive.
	ListAlerts(ctx context.Context, filter model.AlertFilter) ([]*model.Alert, error)
	CreateAlert(ctx context.Context, a *model.Alert) error
	// ResolveAlert marks a single alert resolved by id.
	ResolveAlert(ctx context.Context, id string) (*model.Alert, error)
	DeleteAlert(ctx context.Context, id string) error
}

// ReferenceWriter overwrites trains and objects in place. Callers go through
// MotionSimulator.ReplaceTrain and ReplaceObject so the theft check follows
// the write.
type ReferenceWriter interface {
	// ReplaceTrain overwrites name, speed, heading and coaches. The position
	// is left untouched; moves go through UpdateTrainPosition.
	ReplaceTrain(ctx context.Context, t *model.Train) error
	// ReplaceObject overwrites an existing object's attributes.
	ReplaceObject(ctx context.Context, o *model.TrackedObject) error
}

// AdminStore adds reference-data management on top of Store and AlertStore.
// Both the in-memory knowledge base and the sqlite store implement it.
type AdminStore interface {
	Store
	AlertStore

	CreateStation(ctx context.Context, s *model.Station) error
	DeleteStation(ctx context.Context, code string) error

	ReferenceWriter

	CreateTrain(ctx context.Context, t *model.Train) error
	DeleteTrain(ctx context.Context, number string) error

	CreateObject(ctx context.Context, o *model.TrackedObject) error
	DeleteObject(ctx context.Context, id string) error

	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	ListUsers(ctx context.Context) ([]*model.User, error)
	DeleteUser(ctx context.Context, id string) error
}
