// Package geo holds the coordinate math used by the movement engine and the
// bus finder.
package geo

import "math"

// EarthRadiusKm is the mean Earth radius used for great-circle distances.
const EarthRadiusKm = 6371.0

// Distance returns the haversine great-circle distance in kilometers.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

// Interpolate moves linearly from start toward end by progress. Progress is
// not clamped; callers pass a value in [0,1]. The weighted form returns start
// and end exactly at 0 and 1.
func Interpolate(startLat, startLng, endLat, endLng, progress float64) (lat, lng float64) {
	lat = startLat*(1-progress) + endLat*progress
	lng = startLng*(1-progress) + endLng*progress
	return lat, lng
}
