// Package simulator is a local stand-in for the dispatch backend: it
// accepts rider websocket connections, answers ride requests with
// offers from a scripted driver pool, and plays out the accepted ride.
// It holds no matching authority; candidates are simply the nearest
// online drivers.
package simulator

import (
	"encoding/json"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/eta"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
	"github.com/example/ride-dispatch/internal/wire"
)

const (
	rideStatusRequested = "requested"
	rideStatusAccepted  = "accepted"
	rideStatusOngoing   = "ongoing"
	rideStatusCompleted = "completed"
	rideStatusCancelled = "cancelled"
)

type Hub struct {
	Pool   geo.Pool
	Store  storage.RideStore
	Events *ingest.EventProducer
	ETA    eta.Client // optional routed estimator
	Cache  *eta.Cache
	Cfg    config.SimulatorConfig
	Logger *slog.Logger

	mu     sync.Mutex
	riders map[string]*riderConn
	rides  map[string]*rideState
}

func NewHub(pool geo.Pool, store storage.RideStore, cfg config.SimulatorConfig, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		Pool:   pool,
		Store:  store,
		Cfg:    cfg,
		Logger: logger,
		Cache:  eta.NewCache(time.Minute),
		riders: make(map[string]*riderConn),
		rides:  make(map[string]*rideState),
	}
	if cfg.OSRMEndpoint != "" {
		h.ETA = eta.NewOSRMClient(cfg.OSRMEndpoint)
	}
	return h
}

type riderConn struct {
	userID  string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (rc *riderConn) send(v any) error {
	rc.writeMu.Lock()
	defer rc.writeMu.Unlock()
	_ = rc.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return rc.conn.WriteJSON(v)
}

type rideState struct {
	ride     *models.Ride
	rider    *riderConn
	offered  map[string]models.Driver
	accepted string
	done     bool
	stop     chan struct{}
}

// inboundCommand mirrors wire.Command with a raw payload so the hub can
// decode type-specific data lazily.
type inboundCommand struct {
	Type     wire.Type       `json:"type"`
	Role     string          `json:"role"`
	UserID   string          `json:"userId"`
	RideID   string          `json:"rideId"`
	DriverID string          `json:"driverId"`
	Data     json.RawMessage `json:"data"`
}

// ServeRider owns one rider websocket until it closes.
func (h *Hub) ServeRider(conn *websocket.Conn) {
	observability.SimRidersConnected.Inc()
	rc := &riderConn{conn: conn}
	defer func() {
		observability.SimRidersConnected.Dec()
		h.dropRider(rc)
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd inboundCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			h.Logger.Warn("malformed rider frame", "error", err)
			continue
		}
		h.handleCommand(rc, cmd)
	}
}

func (h *Hub) handleCommand(rc *riderConn, cmd inboundCommand) {
	switch cmd.Type {
	case wire.TypeConnect:
		h.mu.Lock()
		rc.userID = cmd.UserID
		h.riders[cmd.UserID] = rc
		h.mu.Unlock()
		h.Logger.Info("rider connected", "user_id", cmd.UserID)
	case wire.TypeRequestRide:
		var details wire.RideDetails
		if err := json.Unmarshal(cmd.Data, &details); err != nil {
			h.sendError(rc, "invalid ride request payload")
			return
		}
		h.handleRequestRide(rc, cmd, details)
	case wire.TypeAcceptDriver:
		h.handleAcceptDriver(rc, cmd.RideID, cmd.DriverID)
	case wire.TypeRejectDriver:
		h.handleRejectDriver(cmd.RideID, cmd.DriverID)
	case wire.TypeCancelRide:
		h.handleCancelRide(cmd.RideID, cmd.UserID)
	case wire.TypeRateDriver:
		var rd wire.RatingDetails
		_ = json.Unmarshal(cmd.Data, &rd)
		h.Logger.Info("driver rated", "ride_id", cmd.RideID, "driver_id", cmd.DriverID, "rating", rd.Rating)
	default:
		h.sendError(rc, "unsupported command "+string(cmd.Type))
	}
}

func (h *Hub) handleRequestRide(rc *riderConn, cmd inboundCommand, details wire.RideDetails) {
	if !details.Pickup.HasCoordinates() || !details.Dropoff.HasCoordinates() {
		h.sendError(rc, "ride request without coordinates")
		return
	}
	pickup := *details.Pickup.Coordinates

	ride := &models.Ride{
		ID:        cmd.RideID,
		RiderID:   cmd.UserID,
		Pickup:    details.Pickup,
		Dropoff:   details.Dropoff,
		Status:    rideStatusRequested,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if ride.ID == "" {
		ride.ID = uuid.NewString()
	}
	_ = h.Store.SaveRide(ride)
	_ = h.Events.Publish(ingest.EventRideRequested, ride.ID, ride.RiderID, "")

	cands := h.Pool.Nearby(pickup, h.Cfg.OfferCount)
	h.Logger.Info("ride requested", "ride_id", ride.ID, "candidates", len(cands))

	rs := &rideState{ride: ride, rider: rc, offered: make(map[string]models.Driver), stop: make(chan struct{})}
	h.mu.Lock()
	h.rides[ride.ID] = rs
	h.mu.Unlock()

	_ = rc.send(wire.NearbyDrivers{
		Type:    wire.TypeNearbyDrivers,
		RideID:  ride.ID,
		Drivers: h.driverInfos(cands, pickup, details),
	})

	price := h.fareQuote(details)
	for i, d := range cands {
		d := d
		delay := h.Cfg.OfferDelay * time.Duration(i+1)
		time.AfterFunc(delay, func() { h.emitOffer(rs, d, pickup, price) })
	}
}

// emitOffer sends one driverRequest unless the ride has been decided or
// cancelled in the meantime.
func (h *Hub) emitOffer(rs *rideState, d models.Driver, pickup models.Coordinate, price float64) {
	h.mu.Lock()
	if rs.done || rs.accepted != "" {
		h.mu.Unlock()
		return
	}
	rs.offered[d.ID] = d
	h.mu.Unlock()

	info := h.driverInfo(d, pickup, price)
	if err := rs.rider.send(wire.DriverRequest{
		Type:     wire.TypeDriverRequest,
		DriverID: d.ID,
		Driver:   info,
		RideID:   rs.ride.ID,
	}); err != nil {
		h.Logger.Warn("offer send failed", "ride_id", rs.ride.ID, "driver_id", d.ID, "error", err)
		return
	}
	observability.SimOffersSent.Inc()
}

func (h *Hub) handleAcceptDriver(rc *riderConn, rideID, driverID string) {
	h.mu.Lock()
	rs, ok := h.rides[rideID]
	if !ok || rs.done {
		h.mu.Unlock()
		return
	}
	d, offered := rs.offered[driverID]
	if !offered {
		h.mu.Unlock()
		h.sendError(rc, "driver "+driverID+" was not offered for ride "+rideID)
		return
	}
	rs.accepted = driverID
	rs.ride.Status = rideStatusAccepted
	rs.ride.DriverID = driverID
	rs.ride.UpdatedAt = time.Now()
	h.mu.Unlock()

	_ = h.Store.UpdateRide(rs.ride)
	_ = h.Events.Publish(ingest.EventRideAccepted, rideID, rs.ride.RiderID, driverID)

	pickup := *rs.ride.Pickup.Coordinates
	_ = rc.send(wire.RideAccepted{
		Type:     wire.TypeRideAccepted,
		DriverID: driverID,
		Driver:   h.driverInfo(d, pickup, h.fareQuote(wire.RideDetails{Pickup: rs.ride.Pickup, Dropoff: rs.ride.Dropoff})),
		RideID:   rideID,
	})
	go h.runProgress(rs, d)
}

func (h *Hub) handleRejectDriver(rideID, driverID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rs, ok := h.rides[rideID]
	if !ok || rs.done {
		return
	}
	delete(rs.offered, driverID)
	h.Logger.Info("driver rejected", "ride_id", rideID, "driver_id", driverID)
}

func (h *Hub) handleCancelRide(rideID, userID string) {
	h.mu.Lock()
	rs, ok := h.rides[rideID]
	if !ok || rs.done {
		h.mu.Unlock()
		return
	}
	rs.done = true
	close(rs.stop)
	rs.ride.Status = rideStatusCancelled
	rs.ride.UpdatedAt = time.Now()
	h.mu.Unlock()

	_ = h.Store.UpdateRide(rs.ride)
	_ = h.Events.Publish(ingest.EventRideCancelled, rideID, userID, rs.ride.DriverID)
	h.Logger.Info("ride cancelled", "ride_id", rideID, "by", userID)
}

// runProgress plays the accepted ride forward: the driver closes in,
// the ride starts, the ride completes. Cancellation stops it.
func (h *Hub) runProgress(rs *rideState, d models.Driver) {
	step := h.Cfg.OfferDelay * 2
	pickup := *rs.ride.Pickup.Coordinates
	dropoff := *rs.ride.Dropoff.Coordinates

	waypoints := []models.Coordinate{
		midpoint(d.Loc, pickup),
		pickup,
	}
	for _, loc := range waypoints {
		select {
		case <-time.After(step):
		case <-rs.stop:
			return
		}
		_ = rs.rider.send(wire.DriverLocation{
			Type: wire.TypeDriverLocation, DriverID: d.ID, Location: loc, RideID: rs.ride.ID,
		})
	}

	select {
	case <-time.After(step):
	case <-rs.stop:
		return
	}
	h.mu.Lock()
	if rs.done {
		h.mu.Unlock()
		return
	}
	rs.ride.Status = rideStatusOngoing
	rs.ride.UpdatedAt = time.Now()
	h.mu.Unlock()
	_ = h.Store.UpdateRide(rs.ride)
	_ = rs.rider.send(wire.RideStarted{Type: wire.TypeRideStarted, RideID: rs.ride.ID})

	select {
	case <-time.After(step):
	case <-rs.stop:
		return
	}
	h.mu.Lock()
	if rs.done {
		h.mu.Unlock()
		return
	}
	rs.done = true
	rs.ride.Status = rideStatusCompleted
	rs.ride.UpdatedAt = time.Now()
	h.mu.Unlock()
	_ = h.Store.UpdateRide(rs.ride)
	_ = h.Events.Publish(ingest.EventRideCompleted, rs.ride.ID, rs.ride.RiderID, d.ID)
	_ = rs.rider.send(wire.DriverLocation{
		Type: wire.TypeDriverLocation, DriverID: d.ID, Location: dropoff, RideID: rs.ride.ID,
	})
	_ = rs.rider.send(wire.RideCompleted{Type: wire.TypeRideCompleted, RideID: rs.ride.ID})
}

func (h *Hub) dropRider(rc *riderConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if rc.userID != "" && h.riders[rc.userID] == rc {
		delete(h.riders, rc.userID)
	}
	for _, rs := range h.rides {
		if rs.rider == rc && !rs.done {
			rs.done = true
			close(rs.stop)
		}
	}
}

func (h *Hub) sendError(rc *riderConn, msg string) {
	_ = rc.send(wire.ServerError{Type: wire.TypeError, Message: msg})
}

func (h *Hub) driverInfos(ds []models.Driver, pickup models.Coordinate, details wire.RideDetails) []wire.DriverInfo {
	price := h.fareQuote(details)
	out := make([]wire.DriverInfo, 0, len(ds))
	for _, d := range ds {
		out = append(out, h.driverInfo(d, pickup, price))
	}
	return out
}

func (h *Hub) driverInfo(d models.Driver, pickup models.Coordinate, price float64) wire.DriverInfo {
	return wire.DriverInfo{
		Name:       d.Name,
		Rating:     d.Rating,
		Car:        d.Vehicle,
		Plate:      d.Plate,
		ETAMinutes: eta.Minutes(h.etaSeconds(d.Loc, pickup)),
		Latitude:   d.Loc.Latitude,
		Longitude:  d.Loc.Longitude,
		Price:      price,
	}
}

func (h *Hub) etaSeconds(from, to models.Coordinate) float64 {
	if h.Cache != nil {
		if v, ok := h.Cache.Get(from, to); ok {
			return v
		}
	}
	if h.ETA != nil {
		if v, err := h.ETA.EstimateSeconds(from, to); err == nil {
			if h.Cache != nil {
				h.Cache.Set(from, to, v)
			}
			return v
		}
	}
	return eta.EstimateSeconds(from, to, h.Cfg.DefaultSpeedMps)
}

// fareQuote is a flat demo tariff: base fare plus a per-mile rate.
func (h *Hub) fareQuote(details wire.RideDetails) float64 {
	miles := geo.DistanceMiles(*details.Pickup.Coordinates, *details.Dropoff.Coordinates)
	return math.Round((2.50+1.60*miles)*100) / 100
}

func midpoint(a, b models.Coordinate) models.Coordinate {
	return models.Coordinate{
		Latitude:  (a.Latitude + b.Latitude) / 2,
		Longitude: (a.Longitude + b.Longitude) / 2,
	}
}
