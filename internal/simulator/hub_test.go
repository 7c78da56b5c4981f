package simulator

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/session"
	"github.com/example/ride-dispatch/internal/storage"
	"github.com/example/ride-dispatch/internal/transport"
	"github.com/example/ride-dispatch/internal/wire"
)

func testConfig() config.SimulatorConfig {
	return config.SimulatorConfig{
		OfferCount:      2,
		OfferDelay:      10 * time.Millisecond,
		DefaultSpeedMps: 10,
	}
}

func testPool() *geo.Index {
	idx := geo.NewIndex()
	idx.Upsert(models.Driver{
		ID: "d-001", Name: "Jenny Wilson", Rating: 4.9, Vehicle: "Toyota Prius",
		Plate: "GR 678-UVWX", Loc: models.Coordinate{Latitude: 37.787, Longitude: -122.431}, Online: true,
	})
	idx.Upsert(models.Driver{
		ID: "d-002", Name: "Marcus Reed", Rating: 4.7, Vehicle: "Honda Civic",
		Plate: "KL 221-ABCD", Loc: models.Coordinate{Latitude: 37.791, Longitude: -122.429}, Online: true,
	})
	return idx
}

// startSim runs a full simulator and returns its websocket URL and store.
func startSim(t *testing.T) (string, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	hub := NewHub(testPool(), store, testConfig(), nil)
	srv := httptest.NewServer(NewServer(hub, nil))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", store
}

func riderPlace(lat, lon float64) models.Place {
	return models.Place{Coordinates: &models.Coordinate{Latitude: lat, Longitude: lon}, Address: "test"}
}

func TestFullRideFlow(t *testing.T) {
	wsURL, store := startSim(t)

	conn := transport.New(wsURL)
	client := session.NewClient(conn, "rider-1", session.ClientWithTimeout(5*time.Second))
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	offers := make(chan []models.DriverOffer, 8)
	outcomes := make(chan session.Outcome, 1)
	completed := make(chan struct{}, 1)
	s, err := client.NewSession(
		riderPlace(37.78825, -122.4324), riderPlace(37.77825, -122.4224),
		session.Callbacks{
			OnOffersUpdated: func(list []models.DriverOffer) { offers <- list },
			OnOutcome:       func(o session.Outcome) { outcomes <- o },
			OnRideCompleted: func() { completed <- struct{}{} },
		})
	require.NoError(t, err)
	require.NoError(t, s.Begin())

	// both scripted drivers eventually offer
	var got []models.DriverOffer
	deadline := time.After(3 * time.Second)
	for len(got) < 2 {
		select {
		case got = <-offers:
		case <-deadline:
			t.Fatalf("only %d offers arrived", len(got))
		}
	}
	assert.Equal(t, "d-001", got[0].DriverID, "nearest driver offers first")
	assert.Greater(t, got[0].Price, 0.0)
	assert.GreaterOrEqual(t, got[0].ETAMinutes, 1)

	require.NoError(t, s.SelectOffer("d-001"))
	select {
	case o := <-outcomes:
		require.Equal(t, session.StateConfirmed, o.State)
		require.NotNil(t, o.Offer)
		assert.Equal(t, "Jenny Wilson", o.Offer.Name)
	case <-time.After(3 * time.Second):
		t.Fatal("no confirmation arrived")
	}

	select {
	case <-completed:
	case <-time.After(3 * time.Second):
		t.Fatal("ride never completed")
	}

	require.Eventually(t, func() bool {
		r, ok := store.Get(s.ID())
		return ok && r.Status == rideStatusCompleted
	}, 2*time.Second, 20*time.Millisecond)
	r, _ := store.Get(s.ID())
	assert.Equal(t, "d-001", r.DriverID)
	assert.Equal(t, "rider-1", r.RiderID)
}

func TestCancelStopsRide(t *testing.T) {
	wsURL, store := startSim(t)

	conn := transport.New(wsURL)
	client := session.NewClient(conn, "rider-2", session.ClientWithTimeout(5*time.Second))
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	offers := make(chan []models.DriverOffer, 8)
	s, err := client.NewSession(
		riderPlace(37.78825, -122.4324), riderPlace(37.77825, -122.4224),
		session.Callbacks{OnOffersUpdated: func(list []models.DriverOffer) { offers <- list }})
	require.NoError(t, err)
	require.NoError(t, s.Begin())

	select {
	case <-offers:
	case <-time.After(3 * time.Second):
		t.Fatal("no offer arrived before cancelling")
	}
	s.Cancel()
	require.Equal(t, session.StateCancelled, s.State())

	require.Eventually(t, func() bool {
		r, ok := store.Get(s.ID())
		return ok && r.Status == rideStatusCancelled
	}, 2*time.Second, 20*time.Millisecond)
}

func TestUnknownDriverAccept(t *testing.T) {
	store := storage.NewMemoryStore()
	hub := NewHub(testPool(), store, testConfig(), nil)
	srv := httptest.NewServer(NewServer(hub, nil))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	conn := transport.New(wsURL)
	client := session.NewClient(conn, "rider-3", session.ClientWithTimeout(5*time.Second))
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	outcomes := make(chan session.Outcome, 1)
	offers := make(chan []models.DriverOffer, 8)
	s, err := client.NewSession(
		riderPlace(37.78825, -122.4324), riderPlace(37.77825, -122.4224),
		session.Callbacks{
			OnOffersUpdated: func(list []models.DriverOffer) { offers <- list },
			OnOutcome:       func(o session.Outcome) { outcomes <- o },
		})
	require.NoError(t, err)
	require.NoError(t, s.Begin())
	select {
	case <-offers:
	case <-time.After(3 * time.Second):
		t.Fatal("no offer arrived")
	}

	// the client refuses locally before anything reaches the wire
	var ude *session.UnknownDriverError
	require.ErrorAs(t, s.SelectOffer("ghost"), &ude)
}

func TestDriverSeedEndpoint(t *testing.T) {
	pool := geo.NewIndex()
	hub := NewHub(pool, storage.NewMemoryStore(), testConfig(), nil)
	srv := httptest.NewServer(NewServer(hub, nil))
	defer srv.Close()

	body := []byte(`{"id":"d-900","name":"Priya Nair","rating":4.8,"car":"Hyundai Ioniq","plate":"MN 914-EFGH","loc":{"latitude":37.784,"longitude":-122.439}}`)
	resp, err := http.Post(srv.URL+"/internal/driver/locations", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	got := pool.Nearby(models.Coordinate{Latitude: 37.784, Longitude: -122.439}, 5)
	require.Len(t, got, 1)
	assert.Equal(t, "d-900", got[0].ID)
	assert.True(t, got[0].Online, "seeded drivers come up online")

	// missing id is rejected
	resp, err = http.Post(srv.URL+"/internal/driver/locations", "application/json", strings.NewReader(`{"name":"x"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestFareQuote(t *testing.T) {
	hub := NewHub(testPool(), storage.NewMemoryStore(), testConfig(), nil)
	pickup := riderPlace(37.78825, -122.4324)
	dropoff := riderPlace(37.77825, -122.4224)

	miles := geo.DistanceMiles(*pickup.Coordinates, *dropoff.Coordinates)
	want := 2.50 + 1.60*miles
	got := hub.fareQuote(wire.RideDetails{Pickup: pickup, Dropoff: dropoff})
	assert.InDelta(t, want, got, 0.005, "quote is base fare plus per-mile, rounded to cents")
}
