package core

// GeofenceConfig holds the radii used by the geofence checks. It is read once
// at startup and passed by value.
type GeofenceConfig struct {
	// StationProximityRadiusKm is the distance at or below which a train is
	// considered to be at a station.
	StationProximityRadiusKm float64
	// DefaultCoachGeofenceRadiusKm applies to coaches whose own radius is zero.
	DefaultCoachGeofenceRadiusKm float64
}

// DefaultGeofenceConfig returns the stock radii: 1 km around stations and
// 50 m around coaches.
func DefaultGeofenceConfig() GeofenceConfig {
	return GeofenceConfig{
		StationProximityRadiusKm:     1.0,
		DefaultCoachGeofenceRadiusKm: 0.05,
	}
}

// MotionConfig tunes the movement simulator.
type MotionConfig struct {
	// TickSeconds is the simulated time covered by one tick.
	TickSeconds float64
	// HeadingJitterDeg bounds the uniform heading perturbation applied per tick.
	HeadingJitterDeg float64
	// DefaultUpdateIntervalSeconds is used by journey planning when the
	// caller passes no interval.
	DefaultUpdateIntervalSeconds float64
	// MinTheftDistanceKm and MaxTheftDistanceKm bound random theft displacement.
	MinTheftDistanceKm float64
	MaxTheftDistanceKm float64
}

// DefaultMotionConfig returns a 5 second tick with ±5° jitter.
func DefaultMotionConfig() MotionConfig {
	return MotionConfig{
		TickSeconds:                  5,
		HeadingJitterDeg:             5,
		DefaultUpdateIntervalSeconds: 30,
		MinTheftDistanceKm:           0.05,
		MaxTheftDistanceKm:           0.25,
	}
}
