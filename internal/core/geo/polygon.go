// Package geo provides the polygon area math used for farm registration.
package geo

import (
	"math"

	"cropsight/internal/core/models"
)

// earthRadiusM is the mean Earth radius in meters
const earthRadiusM = 6371000.0

// PolygonArea returns the area of a closed lat/lon polygon in square meters
// using a spherical-excess shoelace approximation. Fewer than 3 points is a
// degenerate polygon and yields 0. The absolute value makes the result
// independent of winding order. Polygons crossing the antimeridian are not
// handled; the raw longitude difference is used.
func PolygonArea(polygon []models.Coordinate) float64 {
	if len(polygon) < 3 {
		return 0
	}

	var area float64
	for i := range polygon {
		j := (i + 1) % len(polygon)

		lat1 := polygon[i].Latitude * math.Pi / 180
		lat2 := polygon[j].Latitude * math.Pi / 180
		lon1 := polygon[i].Longitude * math.Pi / 180
		lon2 := polygon[j].Longitude * math.Pi / 180

		area += (lon2 - lon1) * (2 + math.Sin(lat1) + math.Sin(lat2)) * earthRadiusM * earthRadiusM
	}

	return math.Abs(area) / 2.0
}
