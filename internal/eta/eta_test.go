package eta

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

func TestEstimateSecondsNaive(t *testing.T) {
	a := models.Coordinate{Latitude: 37.788, Longitude: -122.432}
	b := models.Coordinate{Latitude: 37.789, Longitude: -122.431}

	dist := geo.DistanceMeters(a, b)
	got := EstimateSeconds(a, b, 10)
	assert.InDelta(t, dist/10, got, 1e-9)

	// non-positive speed falls back to the default
	def := EstimateSeconds(a, b, 0)
	assert.InDelta(t, dist/8.0, def, 1e-9)
}

func TestMinutes(t *testing.T) {
	assert.Equal(t, 1, Minutes(0), "never less than one minute")
	assert.Equal(t, 1, Minutes(29))
	assert.Equal(t, 2, Minutes(95))
	assert.Equal(t, 10, Minutes(600))
}

func TestCache(t *testing.T) {
	c := NewCache(50 * time.Millisecond)
	a := models.Coordinate{Latitude: 1, Longitude: 2}
	b := models.Coordinate{Latitude: 3, Longitude: 4}

	_, ok := c.Get(a, b)
	assert.False(t, ok)

	c.Set(a, b, 120)
	v, ok := c.Get(a, b)
	assert.True(t, ok)
	assert.Equal(t, 120.0, v)

	// direction matters
	_, ok = c.Get(b, a)
	assert.False(t, ok)

	time.Sleep(80 * time.Millisecond)
	_, ok = c.Get(a, b)
	assert.False(t, ok, "entry expired")
}
