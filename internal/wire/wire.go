// Package wire holds the JSON shapes shared by the REST and gRPC façades for
// results that have no JSON form of their own in core.
package wire

import (
	"time"

	"github.com/signalsfoundry/rail-geofence/core"
	"github.com/signalsfoundry/rail-geofence/model"
)

// Evaluation is the JSON form of core.Evaluation.
type Evaluation struct {
	Raised   []*model.Alert `json:"raised"`
	Resolved int            `json:"resolved"`
}

// FromEvaluation converts a core evaluation, never returning a nil slice.
func FromEvaluation(e core.Evaluation) Evaluation {
	raised := e.Raised
	if raised == nil {
		raised = []*model.Alert{}
	}
	return Evaluation{Raised: raised, Resolved: e.Resolved}
}

// Movement is one repositioned train.
type Movement struct {
	TrainNumber  string           `json:"trainNumber"`
	Position     model.Coordinate `json:"position"`
	Direction    float64          `json:"direction"`
	SpeedKmh     float64          `json:"speedKmh"`
	ObjectsMoved int              `json:"objectsMoved"`
	Alerts       Evaluation       `json:"alerts"`
}

func FromMovement(m core.Movement) Movement {
	out := Movement{ObjectsMoved: m.ObjectsMoved, Alerts: FromEvaluation(m.Alerts)}
	if m.Train != nil {
		out.TrainNumber = m.Train.Number
		out.Position = m.Train.Position
		out.Direction = m.Train.Direction
		out.SpeedKmh = m.Train.SpeedKmh
	}
	return out
}

// MovementReport wraps a batch of movements.
type MovementReport struct {
	UpdatedTrains int        `json:"updatedTrains"`
	Movements     []Movement `json:"movements"`
}

func FromMovements(ms []core.Movement) MovementReport {
	out := MovementReport{UpdatedTrains: len(ms), Movements: make([]Movement, 0, len(ms))}
	for _, m := range ms {
		out.Movements = append(out.Movements, FromMovement(m))
	}
	return out
}

// Theft is the result of a simulated theft.
type Theft struct {
	Object              *model.TrackedObject `json:"object"`
	RequestedDistanceKm float64              `json:"requestedDistanceKm"`
	ActualDistanceKm    *float64             `json:"actualDistanceKm"`
	Alerts              Evaluation           `json:"alerts"`
}

func FromTheft(r *core.TheftResult) Theft {
	return Theft{
		Object:              r.Object,
		RequestedDistanceKm: r.RequestedDistanceKm,
		ActualDistanceKm:    r.ActualDistanceKm,
		Alerts:              FromEvaluation(r.Alerts),
	}
}

// Journey is a planned train journey.
type Journey struct {
	TrainNumber     string         `json:"trainNumber"`
	Destination     *model.Station `json:"destination"`
	DistanceKm      float64        `json:"distanceKm"`
	DurationMinutes float64        `json:"durationMinutes"`
	SpeedKmh        float64        `json:"speedKmh"`
	BearingDeg      float64        `json:"bearingDeg"`
	HeadingDeg      float64        `json:"headingDeg"`
	UpdatesCount    int            `json:"updatesCount"`
}

func FromJourney(p *core.JourneyPlan) Journey {
	return Journey{
		TrainNumber:     p.TrainNumber,
		Destination:     p.Destination,
		DistanceKm:      p.DistanceKm,
		DurationMinutes: p.DurationMinutes,
		SpeedKmh:        p.SpeedKmh,
		BearingDeg:      p.BearingDeg,
		HeadingDeg:      p.HeadingDeg,
		UpdatesCount:    p.UpdatesCount,
	}
}

// RandomEvent is one generated event.
type RandomEvent struct {
	Type        core.RandomEventType `json:"type"`
	ObjectID    string               `json:"objectId,omitempty"`
	DistanceKm  float64              `json:"distanceKm,omitempty"`
	TrainNumber string               `json:"trainNumber,omitempty"`
	Position    *model.Coordinate    `json:"position,omitempty"`
}

// RandomEvents wraps a batch of generated events.
type RandomEvents struct {
	EventsGenerated int           `json:"eventsGenerated"`
	Events          []RandomEvent `json:"events"`
}

func FromRandomEvents(evs []core.RandomEvent) RandomEvents {
	out := RandomEvents{EventsGenerated: len(evs), Events: make([]RandomEvent, 0, len(evs))}
	for _, e := range evs {
		re := RandomEvent{Type: e.Type, ObjectID: e.ObjectID, DistanceKm: e.DistanceKm, TrainNumber: e.TrainNumber}
		if e.Type == core.RandomEventTrainMovement {
			pos := e.Position
			re.Position = &pos
		}
		out.Events = append(out.Events, re)
	}
	return out
}

// TrainAlertCount is one per-train row of Stats.
type TrainAlertCount struct {
	TrainNumber string `json:"trainNumber"`
	TrainName   string `json:"trainName"`
	AlertCount  int    `json:"alertCount"`
}

// Stats is the alert summary for a trailing window.
type Stats struct {
	Total      int                     `json:"totalAlerts"`
	ByType     map[model.AlertKind]int `json:"alertsByType"`
	Resolved   int                     `json:"resolvedAlerts"`
	Unresolved int                     `json:"unresolvedAlerts"`
	ByTrain    []TrainAlertCount       `json:"alertsByTrain"`
	PeriodDays int                     `json:"periodDays"`
	Since      time.Time               `json:"since"`
}

func FromStats(s *core.AlertStats) Stats {
	out := Stats{
		Total:      s.Total,
		ByType:     s.ByType,
		Resolved:   s.Resolved,
		Unresolved: s.Unresolved,
		ByTrain:    make([]TrainAlertCount, 0, len(s.ByTrain)),
		PeriodDays: s.PeriodDays,
		Since:      s.Since.UTC(),
	}
	for _, row := range s.ByTrain {
		out.ByTrain = append(out.ByTrain, TrainAlertCount(row))
	}
	return out
}

// Alerts wraps an alert listing.
type Alerts struct {
	Count  int            `json:"count"`
	Alerts []*model.Alert `json:"alerts"`
}

func FromAlerts(as []*model.Alert) Alerts {
	if as == nil {
		as = []*model.Alert{}
	}
	return Alerts{Count: len(as), Alerts: as}
}
