package model

import (
	"fmt"
	"strings"
)

// User is a passenger. Users are reference data for alert queries; the
// geofence checks never read them.
type User struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Phone             string   `json:"phone"`
	Email             string   `json:"email"`
	CurrentTrain      string   `json:"currentTrain,omitempty"`
	CurrentCoach      string   `json:"currentCoach,omitempty"`
	RegisteredObjects []string `json:"registeredObjects,omitempty"`
}

// Clone returns a deep copy of the user.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	cp := *u
	cp.RegisteredObjects = append([]string(nil), u.RegisteredObjects...)
	return &cp
}

// Validate checks required contact fields.
func (u *User) Validate() error {
	if u == nil {
		return fmt.Errorf("%w: user is required", ErrInvalidArgument)
	}
	if strings.TrimSpace(u.Name) == "" {
		return fmt.Errorf("%w: user name is required", ErrInvalidArgument)
	}
	if strings.TrimSpace(u.Phone) == "" {
		return fmt.Errorf("%w: user phone is required", ErrInvalidArgument)
	}
	if !strings.Contains(u.Email, "@") {
		return fmt.Errorf("%w: user email %q is not valid", ErrInvalidArgument, u.Email)
	}
	if u.CurrentCoach != "" && u.CurrentTrain == "" {
		return fmt.Errorf("%w: current coach requires a current train", ErrInvalidArgument)
	}
	return nil
}
