package model

import (
	"fmt"
	"strings"
)

// TrackedObject is a passenger-owned item expected to stay with its coach.
type TrackedObject struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	OwnerID     string     `json:"ownerId"`
	TrainNumber string     `json:"trainNumber"`
	CoachID     string     `json:"coachId"`
	Position    Coordinate `json:"position"`
}

// Clone returns a copy of the object.
func (o *TrackedObject) Clone() *TrackedObject {
	if o == nil {
		return nil
	}
	cp := *o
	return &cp
}

// Validate checks the object's own fields. Whether the referenced train and
// coach exist is checked by the caller against a store.
func (o *TrackedObject) Validate() error {
	if o == nil {
		return fmt.Errorf("%w: object is required", ErrInvalidArgument)
	}
	switch {
	case strings.TrimSpace(o.ID) == "":
		return fmt.Errorf("%w: object id is required", ErrInvalidArgument)
	case strings.TrimSpace(o.Type) == "":
		return fmt.Errorf("%w: object type is required", ErrInvalidArgument)
	case strings.TrimSpace(o.OwnerID) == "":
		return fmt.Errorf("%w: object owner is required", ErrInvalidArgument)
	case strings.TrimSpace(o.TrainNumber) == "":
		return fmt.Errorf("%w: object train number is required", ErrInvalidArgument)
	case strings.TrimSpace(o.CoachID) == "":
		return fmt.Errorf("%w: object coach id is required", ErrInvalidArgument)
	}
	return o.Position.Validate()
}
