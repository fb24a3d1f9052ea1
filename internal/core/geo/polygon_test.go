package geo

import (
	"testing"

	"cropsight/internal/core/models"

	"github.com/stretchr/testify/assert"
)

func TestPolygonAreaDegenerate(t *testing.T) {
	assert.Zero(t, PolygonArea(nil))
	assert.Zero(t, PolygonArea([]models.Coordinate{}))
	assert.Zero(t, PolygonArea([]models.Coordinate{
		{Latitude: 0, Longitude: 0},
		{Latitude: 0, Longitude: 1},
	}))
}

func TestPolygonAreaEquatorSquare(t *testing.T) {
	// ~100m x 100m square near the equator. One degree of longitude at the
	// equator is about 111.32 km, so 100m is roughly 0.000898 degrees.
	d := 100.0 / 111320.0
	square := []models.Coordinate{
		{Latitude: 0, Longitude: 0},
		{Latitude: 0, Longitude: d},
		{Latitude: d, Longitude: d},
		{Latitude: d, Longitude: 0},
	}

	area := PolygonArea(square)
	assert.InEpsilon(t, 10000.0, area, 0.05, "expected ~10,000 m², got %f", area)
}

func TestPolygonAreaWindingOrder(t *testing.T) {
	d := 0.001
	poly := []models.Coordinate{
		{Latitude: 10, Longitude: 20},
		{Latitude: 10, Longitude: 20 + d},
		{Latitude: 10 + d, Longitude: 20 + d},
		{Latitude: 10 + d, Longitude: 20},
	}

	reversed := make([]models.Coordinate, len(poly))
	for i, p := range poly {
		reversed[len(poly)-1-i] = p
	}

	assert.InDelta(t, PolygonArea(poly), PolygonArea(reversed), 1e-9)
	assert.Greater(t, PolygonArea(poly), 0.0)
}

func TestPolygonAreaKnownTriangle(t *testing.T) {
	// Right triangle: half the square's area
	d := 100.0 / 111320.0
	triangle := []models.Coordinate{
		{Latitude: 0, Longitude: 0},
		{Latitude: 0, Longitude: d},
		{Latitude: d, Longitude: 0},
	}

	area := PolygonArea(triangle)
	assert.InEpsilon(t, 5000.0, area, 0.05)
}
