package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// AlertKind discriminates the alert variants.
type AlertKind string

const (
	AlertStationProximity AlertKind = "station_proximity"
	AlertTheft            AlertKind = "theft"
)

// ParseAlertKind converts a wire value into an AlertKind.
func ParseAlertKind(s string) (AlertKind, error) {
	switch AlertKind(strings.ToLower(strings.TrimSpace(s))) {
	case AlertStationProximity:
		return AlertStationProximity, nil
	case AlertTheft:
		return AlertTheft, nil
	default:
		return "", fmt.Errorf("%w: unknown alert type %q", ErrInvalidArgument, s)
	}
}

// AlertDetail is the variant-specific payload of an Alert. It is implemented
// only by *StationProximity and *Theft.
type AlertDetail interface {
	Kind() AlertKind
	naturalKey(trainNumber string) string
	distance() float64
}

// StationProximity records a train observed within the station radius.
// DistanceKm is frozen at the moment of detection.
type StationProximity struct {
	StationCode string
	StationName string
	DistanceKm  float64
}

func (*StationProximity) Kind() AlertKind { return AlertStationProximity }

func (s *StationProximity) naturalKey(trainNumber string) string {
	return stationKeyValue(trainNumber, s.StationCode)
}

func (s *StationProximity) distance() float64 { return s.DistanceKm }

// Theft records an object observed outside its coach radius.
type Theft struct {
	ObjectID   string
	ObjectType string
	OwnerID    string
	CoachID    string
	DistanceKm float64
}

func (*Theft) Kind() AlertKind { return AlertTheft }

func (t *Theft) naturalKey(string) string { return t.ObjectID }

func (t *Theft) distance() float64 { return t.DistanceKm }

// AlertKey is the natural key of an alert. At most one unresolved alert may
// exist per key.
type AlertKey struct {
	Kind  AlertKind
	Value string
}

func (k AlertKey) String() string { return string(k.Kind) + ":" + k.Value }

// StationAlertKey is the key of the proximity alert for a train at a station.
func StationAlertKey(trainNumber, stationCode string) AlertKey {
	return AlertKey{Kind: AlertStationProximity, Value: stationKeyValue(trainNumber, stationCode)}
}

// TheftAlertKey is the key of the theft alert for an object.
func TheftAlertKey(objectID string) AlertKey {
	return AlertKey{Kind: AlertTheft, Value: objectID}
}

func stationKeyValue(trainNumber, stationCode string) string {
	return trainNumber + "/" + stationCode
}

// Alert is a geofence event. Detail carries the variant-specific fields.
type Alert struct {
	ID          string
	TrainNumber string
	TrainName   string
	Timestamp   time.Time
	Resolved    bool
	Detail      AlertDetail
}

// Kind returns the variant of the alert, or "" when Detail is unset.
func (a *Alert) Kind() AlertKind {
	if a == nil || a.Detail == nil {
		return ""
	}
	return a.Detail.Kind()
}

// Key returns the natural key of the alert.
func (a *Alert) Key() AlertKey {
	if a == nil || a.Detail == nil {
		return AlertKey{}
	}
	return AlertKey{Kind: a.Detail.Kind(), Value: a.Detail.naturalKey(a.TrainNumber)}
}

// DistanceKm returns the distance recorded when the alert was raised.
func (a *Alert) DistanceKm() float64 {
	if a == nil || a.Detail == nil {
		return 0
	}
	return a.Detail.distance()
}

// StationProximity returns the proximity payload when the alert is of that kind.
func (a *Alert) StationProximity() (*StationProximity, bool) {
	if a == nil {
		return nil, false
	}
	sp, ok := a.Detail.(*StationProximity)
	return sp, ok
}

// Theft returns the theft payload when the alert is of that kind.
func (a *Alert) Theft() (*Theft, bool) {
	if a == nil {
		return nil, false
	}
	th, ok := a.Detail.(*Theft)
	return th, ok
}

// Clone returns a deep copy of the alert and its detail.
func (a *Alert) Clone() *Alert {
	if a == nil {
		return nil
	}
	cp := *a
	switch d := a.Detail.(type) {
	case *StationProximity:
		dd := *d
		cp.Detail = &dd
	case *Theft:
		dd := *d
		cp.Detail = &dd
	}
	return &cp
}

// Validate checks that the alert carries the common fields and the fields
// required by its variant.
func (a *Alert) Validate() error {
	if a == nil {
		return fmt.Errorf("%w: alert is required", ErrInvalidArgument)
	}
	if strings.TrimSpace(a.TrainNumber) == "" {
		return fmt.Errorf("%w: alert train number is required", ErrInvalidArgument)
	}
	switch d := a.Detail.(type) {
	case *StationProximity:
		if d.StationCode == "" || d.StationName == "" {
			return fmt.Errorf("%w: station proximity alert requires stationCode and stationName", ErrInvalidArgument)
		}
		if d.DistanceKm < 0 {
			return fmt.Errorf("%w: distance must be non-negative", ErrInvalidArgument)
		}
	case *Theft:
		if d.ObjectID == "" || d.ObjectType == "" || d.OwnerID == "" || d.CoachID == "" {
			return fmt.Errorf("%w: theft alert requires objectId, objectType, ownerId and coachId", ErrInvalidArgument)
		}
		if d.DistanceKm < 0 {
			return fmt.Errorf("%w: distance must be non-negative", ErrInvalidArgument)
		}
	default:
		return fmt.Errorf("%w: alert detail is required", ErrInvalidArgument)
	}
	return nil
}

type alertJSON struct {
	ID          string    `json:"id"`
	Type        AlertKind `json:"type"`
	TrainNumber string    `json:"trainNumber"`
	TrainName   string    `json:"trainName"`
	Timestamp   time.Time `json:"timestamp"`
	Resolved    bool      `json:"resolved"`
	StationCode string    `json:"stationCode,omitempty"`
	StationName string    `json:"stationName,omitempty"`
	ObjectID    string    `json:"objectId,omitempty"`
	ObjectType  string    `json:"objectType,omitempty"`
	OwnerID     string    `json:"ownerId,omitempty"`
	CoachID     string    `json:"coachId,omitempty"`
	DistanceKm  float64   `json:"distanceKm"`
}

// MarshalJSON flattens the variant into the wire schema, tagged by "type".
func (a Alert) MarshalJSON() ([]byte, error) {
	out := alertJSON{
		ID:          a.ID,
		Type:        a.Kind(),
		TrainNumber: a.TrainNumber,
		TrainName:   a.TrainName,
		Timestamp:   a.Timestamp.UTC(),
		Resolved:    a.Resolved,
	}
	switch d := a.Detail.(type) {
	case *StationProximity:
		out.StationCode = d.StationCode
		out.StationName = d.StationName
		out.DistanceKm = d.DistanceKm
	case *Theft:
		out.ObjectID = d.ObjectID
		out.ObjectType = d.ObjectType
		out.OwnerID = d.OwnerID
		out.CoachID = d.CoachID
		out.DistanceKm = d.DistanceKm
	default:
		return nil, fmt.Errorf("marshal alert %q: missing detail", a.ID)
	}
	return json.Marshal(out)
}

// UnmarshalJSON rebuilds the variant from the "type" tag.
func (a *Alert) UnmarshalJSON(data []byte) error {
	var in alertJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	kind, err := ParseAlertKind(string(in.Type))
	if err != nil {
		return err
	}
	*a = Alert{
		ID:          in.ID,
		TrainNumber: in.TrainNumber,
		TrainName:   in.TrainName,
		Timestamp:   in.Timestamp,
		Resolved:    in.Resolved,
	}
	switch kind {
	case AlertStationProximity:
		a.Detail = &StationProximity{
			StationCode: in.StationCode,
			StationName: in.StationName,
			DistanceKm:  in.DistanceKm,
		}
	case AlertTheft:
		a.Detail = &Theft{
			ObjectID:   in.ObjectID,
			ObjectType: in.ObjectType,
			OwnerID:    in.OwnerID,
			CoachID:    in.CoachID,
			DistanceKm: in.DistanceKm,
		}
	}
	return nil
}
