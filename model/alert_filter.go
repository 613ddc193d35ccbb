package model

import "time"

// AlertFilter narrows alert listings. Zero values mean "no constraint".
type AlertFilter struct {
	Kind        AlertKind
	Resolved    *bool
	TrainNumber string
	ObjectID    string
	StationCode string
	Since       time.Time
	Limit       int
}

// Matches reports whether a satisfies every constraint in the filter.
// Limit is not applied here; stores apply it after sorting.
func (f AlertFilter) Matches(a *Alert) bool {
	if a == nil {
		return false
	}
	if f.Kind != "" && a.Kind() != f.Kind {
		return false
	}
	if f.Resolved != nil && a.Resolved != *f.Resolved {
		return false
	}
	if f.TrainNumber != "" && a.TrainNumber != f.TrainNumber {
		return false
	}
	if f.ObjectID != "" {
		th, ok := a.Theft()
		if !ok || th.ObjectID != f.ObjectID {
			return false
		}
	}
	if f.StationCode != "" {
		sp, ok := a.StationProximity()
		if !ok || sp.StationCode != f.StationCode {
			return false
		}
	}
	if !f.Since.IsZero() && a.Timestamp.Before(f.Since) {
		return false
	}
	return true
}
