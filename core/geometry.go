package core

import (
	"math"

	"github.com/signalsfoundry/rail-geofence/model"
)

// EarthRadiusKm is the mean Earth radius used by every great-circle
// calculation in this package (kilometres).
const EarthRadiusKm = 6371.0

// KmPerDegree is the flat-earth conversion the simulator uses to turn a
// distance into a degree step. It ignores the cos(latitude) shrinkage of
// longitude degrees, so east-west steps are shorter than requested away from
// the equator.
const KmPerDegree = 111.0

func toRadians(deg float64) float64 { return deg * math.Pi / 180 }
func toDegrees(rad float64) float64 { return rad * 180 / math.Pi }

// Distance returns the great-circle distance between a and b in kilometres
// using the haversine formula.
func Distance(a, b model.Coordinate) float64 {
	lat1 := toRadians(a.Latitude)
	lat2 := toRadians(b.Latitude)
	dLat := lat2 - lat1
	dLon := toRadians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	// Rounding can push h a hair above 1 for antipodal points.
	if h > 1 {
		h = 1
	}
	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

// Bearing returns the initial compass bearing from a to b in degrees within
// [0, 360), where 0 is north and 90 is east.
func Bearing(a, b model.Coordinate) float64 {
	lat1 := toRadians(a.Latitude)
	lat2 := toRadians(b.Latitude)
	dLon := toRadians(b.Longitude - a.Longitude)

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	return normalizeDegrees(toDegrees(math.Atan2(y, x)))
}

// Destination returns the point reached by travelling distanceKm from origin
// along the great circle with the given initial compass bearing.
func Destination(origin model.Coordinate, bearingDeg, distanceKm float64) model.Coordinate {
	lat1 := toRadians(origin.Latitude)
	lon1 := toRadians(origin.Longitude)
	brng := toRadians(bearingDeg)
	delta := distanceKm / EarthRadiusKm

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(delta) + math.Cos(lat1)*math.Sin(delta)*math.Cos(brng))
	lon2 := lon1 + math.Atan2(
		math.Sin(brng)*math.Sin(delta)*math.Cos(lat1),
		math.Cos(delta)-math.Sin(lat1)*math.Sin(lat2),
	)

	return model.Coordinate{
		Longitude: normalizeLongitude(toDegrees(lon2)),
		Latitude:  toDegrees(lat2),
	}
}

// OffsetPlanar moves origin by distanceDeg degrees along headingDeg, where the
// heading is measured counter-clockwise from east. This is the simulator's
// planar step: longitude += d*cos(h), latitude += d*sin(h).
func OffsetPlanar(origin model.Coordinate, headingDeg, distanceDeg float64) model.Coordinate {
	h := toRadians(headingDeg)
	return model.Coordinate{
		Longitude: origin.Longitude + distanceDeg*math.Cos(h),
		Latitude:  origin.Latitude + distanceDeg*math.Sin(h),
	}
}

// BearingToHeading converts a compass bearing (clockwise from north) into a
// simulator heading (counter-clockwise from east).
func BearingToHeading(bearingDeg float64) float64 {
	return normalizeDegrees(90 - bearingDeg)
}

func normalizeDegrees(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	// math.Mod(-1e-15, 360) + 360 rounds to exactly 360.
	if deg >= 360 {
		deg = 0
	}
	return deg
}

func normalizeLongitude(lon float64) float64 {
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}
