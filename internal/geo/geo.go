// Package geo provides pure great-circle math over GPS samples.
// Nothing here holds state; every function is a plain computation so the
// tracking aggregates can be replayed from storage and always come out equal.
package geo

import (
	"math"
	"time"
)

// earthRadiusMeters is the mean Earth radius used by the haversine formula.
const earthRadiusMeters = 6371000

// Haversine returns the great-circle distance in meters between two
// coordinates given in decimal degrees.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// SpeedMPS returns the average speed in meters per second implied by moving
// distanceMeters over elapsed. Returns 0 when elapsed is not positive, so a
// duplicate timestamp never produces an infinite speed.
func SpeedMPS(distanceMeters float64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return distanceMeters / elapsed.Seconds()
}

// PaceMinPerKm returns the pace in minutes per kilometer for the given speed.
// Returns 0 for a zero or negative speed rather than dividing by zero.
func PaceMinPerKm(speedMPS float64) float64 {
	if speedMPS <= 0 {
		return 0
	}
	return (1000 / speedMPS) / 60
}

// Point is the minimal coordinate pair PathLength needs. Defined here so the
// package stays free of domain imports.
type Point struct {
	Lat float64
	Lng float64
}

// PathLength returns the sum of great-circle distances between consecutive
// points, in meters. Fewer than two points yield 0.
func PathLength(points []Point) float64 {
	var total float64
	for i := 1; i < len(points); i++ {
		total += Haversine(points[i-1].Lat, points[i-1].Lng, points[i].Lat, points[i].Lng)
	}
	return total
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
