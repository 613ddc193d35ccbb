package model

import "fmt"

// Coordinate is a WGS84 position in decimal degrees.
type Coordinate struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
}

// Validate checks that the coordinate lies within the valid degree ranges.
func (c Coordinate) Validate() error {
	if c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v out of range [-90, 90]", ErrInvalidArgument, c.Latitude)
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v out of range [-180, 180]", ErrInvalidArgument, c.Longitude)
	}
	return nil
}

func (c Coordinate) String() string {
	return fmt.Sprintf("(%.6f, %.6f)", c.Longitude, c.Latitude)
}
