package model

import (
	"fmt"
	"strings"
)

// Station is a fixed reference point trains are checked against.
type Station struct {
	Code     string     `json:"code"`
	Name     string     `json:"name"`
	Position Coordinate `json:"position"`
}

// Validate checks the fields a station must carry before it is stored.
func (s *Station) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: station is required", ErrInvalidArgument)
	}
	if strings.TrimSpace(s.Code) == "" {
		return fmt.Errorf("%w: station code is required", ErrInvalidArgument)
	}
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: station name is required", ErrInvalidArgument)
	}
	return s.Position.Validate()
}
