package model

import (
	"fmt"
	"strings"
)

// Coach is a carriage of a train. GeofenceRadiusKm bounds how far a tracked
// object may drift from the train; zero means "use the configured default".
type Coach struct {
	ID               string  `json:"id"`
	GeofenceRadiusKm float64 `json:"geofenceRadiusKm,omitempty"`
}

// Train is a moving entity. Direction is the simulator heading in degrees,
// measured counter-clockwise from east (0 = +longitude, 90 = +latitude).
type Train struct {
	Number    string     `json:"number"`
	Name      string     `json:"name"`
	Position  Coordinate `json:"position"`
	SpeedKmh  float64    `json:"speedKmh"`
	Direction float64    `json:"direction"`
	Coaches   []Coach    `json:"coaches"`
}

// Coach looks up a coach by ID.
func (t *Train) Coach(id string) (Coach, bool) {
	if t == nil {
		return Coach{}, false
	}
	for _, c := range t.Coaches {
		if c.ID == id {
			return c, true
		}
	}
	return Coach{}, false
}

// Clone returns a deep copy so callers never share the coach slice.
func (t *Train) Clone() *Train {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Coaches = append([]Coach(nil), t.Coaches...)
	return &cp
}

// Validate checks identity, motion bounds, position and coach uniqueness.
func (t *Train) Validate() error {
	if t == nil {
		return fmt.Errorf("%w: train is required", ErrInvalidArgument)
	}
	if strings.TrimSpace(t.Number) == "" {
		return fmt.Errorf("%w: train number is required", ErrInvalidArgument)
	}
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: train name is required", ErrInvalidArgument)
	}
	if t.SpeedKmh < 0 {
		return fmt.Errorf("%w: speed must be non-negative", ErrInvalidArgument)
	}
	if t.Direction < 0 || t.Direction >= 360 {
		return fmt.Errorf("%w: direction %v out of range [0, 360)", ErrInvalidArgument, t.Direction)
	}
	if err := t.Position.Validate(); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(t.Coaches))
	for _, c := range t.Coaches {
		if strings.TrimSpace(c.ID) == "" {
			return fmt.Errorf("%w: coach id is required", ErrInvalidArgument)
		}
		if c.GeofenceRadiusKm < 0 {
			return fmt.Errorf("%w: coach %q radius must be non-negative", ErrInvalidArgument, c.ID)
		}
		if _, dup := seen[c.ID]; dup {
			return fmt.Errorf("%w: duplicate coach %q", ErrInvalidArgument, c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	return nil
}
