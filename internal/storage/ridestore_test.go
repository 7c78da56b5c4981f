package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-dispatch/internal/models"
)

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()

	ride := &models.Ride{ID: "r-1", RiderID: "u-1", Status: "requested", CreatedAt: time.Now()}
	require.NoError(t, s.SaveRide(ride))

	got, ok := s.Get("r-1")
	require.True(t, ok)
	assert.Equal(t, "u-1", got.RiderID)

	ride.Status = "accepted"
	ride.DriverID = "d-1"
	require.NoError(t, s.UpdateRide(ride))

	got, _ = s.Get("r-1")
	assert.Equal(t, "accepted", got.Status)
	assert.Equal(t, "d-1", got.DriverID)

	_, ok = s.Get("missing")
	assert.False(t, ok)
}
