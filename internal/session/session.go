// Package session drives one ride-request negotiation attempt: it owns
// the session id, the pickup and destination, the live offer set and
// the negotiation state machine. Events arrive from the transport read
// loop; user actions arrive from the presentation layer. Every state
// transition happens under one mutex, and callbacks are fired after the
// lock is released so observers may call back into the session.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/offers"
	"github.com/example/ride-dispatch/internal/wire"
)

// State is the negotiation state of a ride session.
type State string

const (
	StateIdle            State = "idle"
	StateSearching       State = "searching"
	StateOffersAvailable State = "offersAvailable"
	StateDriverSelected  State = "driverSelected"
	StateConfirmed       State = "confirmed"
	StateCancelled       State = "cancelled"
	StateTimedOut        State = "timedOut"
	StateFailed          State = "failed"
)

// Terminal reports whether the state accepts no further transitions.
func (s State) Terminal() bool {
	switch s {
	case StateConfirmed, StateCancelled, StateTimedOut, StateFailed:
		return true
	}
	return false
}

// DefaultOfferTimeout is the no-offer search window.
const DefaultOfferTimeout = 20 * time.Second

// Outcome is the single terminal result of a session, delivered to the
// observer exactly once.
type Outcome struct {
	State       State
	Offer       *models.DriverOffer // set when State == StateConfirmed
	Err         error               // NoDriversError, TransportError or DispatchError
	CancelledBy string              // "user", "driver", ... when State == StateCancelled
}

// Callbacks is how the presentation layer observes the session. Any
// field may be nil. Callbacks run on the transport read goroutine (or
// the timer goroutine) and must not block.
type Callbacks struct {
	OnStateChange   func(from, to State)
	OnOffersUpdated func(offers []models.DriverOffer)
	OnNearbyDrivers func(drivers []wire.DriverInfo)
	OnDriverLocation func(driverID string, loc models.Coordinate)
	OnRideStarted   func()
	OnRideCompleted func()
	// OnRideCancelled fires for a post-confirmation cancellation by the
	// driver or server; before confirmation a cancellation is a terminal
	// outcome instead.
	OnRideCancelled func(cancelledBy string)
	OnOutcome       func(Outcome)
}

// Transport is the slice of the connection a session needs.
type Transport interface {
	Send(cmd wire.Command) bool
	Connected() bool
}

type Session struct {
	id      string
	userID  string
	pickup  models.Place
	dest    models.Place
	tr      Transport
	timeout time.Duration
	logger  *slog.Logger
	cb      Callbacks

	mu          sync.Mutex
	state       State
	offers      *offers.Collector
	selected    string
	final       *models.DriverOffer
	timer       *time.Timer
	timerGen    int
	outcomeSent bool
}

type Option func(*Session)

func WithTimeout(d time.Duration) Option { return func(s *Session) { s.timeout = d } }

func WithLogger(l *slog.Logger) Option { return func(s *Session) { s.logger = l } }

func WithCallbacks(cb Callbacks) Option { return func(s *Session) { s.cb = cb } }

// WithID overrides the generated session id.
func WithID(id string) Option { return func(s *Session) { s.id = id } }

// New validates the places and builds an Idle session with a fresh
// ride id. Ids are never reused; a retry is a brand new session.
func New(tr Transport, userID string, pickup, destination models.Place, opts ...Option) (*Session, error) {
	if !pickup.HasCoordinates() {
		return nil, &MissingLocationError{Which: "pickup"}
	}
	if !destination.HasCoordinates() {
		return nil, &MissingLocationError{Which: "destination"}
	}
	s := &Session{
		id:      uuid.NewString(),
		userID:  userID,
		pickup:  pickup,
		dest:    destination,
		tr:      tr,
		timeout: DefaultOfferTimeout,
		logger:  slog.Default(),
		state:   StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("ride_id", s.id)
	s.offers = offers.NewCollector(s.logger)
	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) Pickup() models.Place { return s.pickup }

func (s *Session) Destination() models.Place { return s.dest }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Offers returns the current offer list in first-seen order.
func (s *Session) Offers() []models.DriverOffer { return s.offers.List() }

// FinalOffer returns the confirmed offer, if the session reached
// StateConfirmed.
func (s *Session) FinalOffer() *models.DriverOffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.final == nil {
		return nil
	}
	o := *s.final
	return &o
}

// Begin transmits the ride request and opens the no-offer search
// window. The call returns once the send is initiated; the result of
// the search arrives through callbacks.
func (s *Session) Begin() error {
	s.mu.Lock()
	if s.state != StateIdle {
		st := s.state
		s.mu.Unlock()
		return &InvalidStateError{Op: "begin", State: st}
	}
	fire := s.setStateLocked(StateSearching)
	s.startTimerLocked()
	s.mu.Unlock()
	fire()

	if !s.tr.Send(wire.RequestRide(s.userID, s.id, s.pickup, s.dest)) {
		s.fail(&TransportError{})
	}
	return nil
}

// Cancel is local-first: the session moves to Cancelled whether or not
// the cancelRide send reaches the server, and stops reacting to further
// server events for this ride id.
func (s *Session) Cancel() {
	_ = s.tr.Send(wire.CancelRide(s.userID, s.id))
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	fire := s.terminalLocked(StateCancelled, Outcome{State: StateCancelled, CancelledBy: "user"})
	s.mu.Unlock()
	fire()
}

// SelectOffer commits to one driver and transmits the accept command.
// Requires StateOffersAvailable and a live offer from the driver.
func (s *Session) SelectOffer(driverID string) error {
	s.mu.Lock()
	if s.state != StateOffersAvailable {
		st := s.state
		s.mu.Unlock()
		return &InvalidStateError{Op: "selectOffer", State: st}
	}
	if _, ok := s.offers.Get(driverID); !ok {
		s.mu.Unlock()
		return &UnknownDriverError{DriverID: driverID}
	}
	s.selected = driverID
	fire := s.setStateLocked(StateDriverSelected)
	s.mu.Unlock()
	fire()

	if !s.tr.Send(wire.AcceptDriver(s.userID, s.id, driverID)) {
		s.fail(&TransportError{})
	}
	return nil
}

// RejectOffer declines a driver's offer and drops it from the list.
// When the last offer goes away the session falls back to Searching
// and the search window restarts.
func (s *Session) RejectOffer(driverID string) error {
	s.mu.Lock()
	if s.state != StateOffersAvailable {
		st := s.state
		s.mu.Unlock()
		return &InvalidStateError{Op: "rejectOffer", State: st}
	}
	if _, ok := s.offers.Get(driverID); !ok {
		s.mu.Unlock()
		return &UnknownDriverError{DriverID: driverID}
	}
	s.offers.Remove(driverID)
	var fire func()
	if s.offers.Len() == 0 {
		fire = s.setStateLocked(StateSearching)
		s.startTimerLocked()
	}
	list := s.offers.List()
	s.mu.Unlock()
	if fire != nil {
		fire()
	}
	s.notifyOffers(list)
	_ = s.tr.Send(wire.RejectDriver(s.userID, s.id, driverID))
	return nil
}

// RateDriver sends a rating for the confirmed driver, best-effort.
func (s *Session) RateDriver(rating float64, comment string) error {
	s.mu.Lock()
	if s.state != StateConfirmed || s.final == nil {
		st := s.state
		s.mu.Unlock()
		return &InvalidStateError{Op: "rateDriver", State: st}
	}
	driverID := s.final.DriverID
	s.mu.Unlock()
	if !s.tr.Send(wire.RateDriver(s.userID, s.id, driverID, rating, comment)) {
		return &TransportError{}
	}
	return nil
}

// HandleMessage feeds one inbound frame to the state machine. Frames
// scoped to a different ride id are discarded; that guards against
// races from a previous, abandoned session.
func (s *Session) HandleMessage(msg wire.Message) {
	if ride := msg.Ride(); ride != "" && ride != s.id {
		s.logger.Debug("discarding frame for foreign ride", "type", msg.MessageType(), "frame_ride_id", ride)
		return
	}
	switch m := msg.(type) {
	case wire.NearbyDrivers:
		if s.cb.OnNearbyDrivers != nil {
			s.cb.OnNearbyDrivers(m.Drivers)
		}
	case wire.DriverRequest:
		s.handleDriverRequest(m)
	case wire.RideAccepted:
		s.handleRideAccepted(m)
	case wire.RideRejected:
		s.handleRideRejected(m)
	case wire.RideCancelled:
		s.handleRideCancelled(m)
	case wire.DriverLocation:
		s.handleDriverLocation(m)
	case wire.RideStarted:
		s.handleRideProgress(StateConfirmed, s.cb.OnRideStarted)
	case wire.RideCompleted:
		s.handleRideProgress(StateConfirmed, s.cb.OnRideCompleted)
	case wire.ServerError:
		s.fail(&DispatchError{Message: m.Message})
	}
}

// HandleDisconnect fails a live negotiation when the transport drops.
// After confirmation the session stays Confirmed; progress updates just
// stop until the caller reconnects.
func (s *Session) HandleDisconnect(err error) {
	s.fail(&TransportError{Err: err})
}

func (s *Session) handleDriverRequest(m wire.DriverRequest) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		s.logger.Debug("offer after decision dropped", "driver_id", m.DriverID)
		return
	}
	if s.offers.Upsert(m.Driver.Offer(m.DriverID)) {
		observability.OffersCollected.Inc()
	}
	var fire func()
	if s.state == StateSearching {
		// first offer closes the search window; this transition fires
		// exactly once per window even as more offers arrive
		s.stopTimerLocked()
		fire = s.setStateLocked(StateOffersAvailable)
	}
	list := s.offers.List()
	s.mu.Unlock()
	if fire != nil {
		fire()
	}
	s.notifyOffers(list)
}

func (s *Session) handleRideAccepted(m wire.RideAccepted) {
	s.mu.Lock()
	if s.state != StateDriverSelected || m.DriverID != s.selected {
		st := s.state
		s.mu.Unlock()
		s.logger.Debug("ignoring rideAccepted", "driver_id", m.DriverID, "state", st)
		return
	}
	final := m.Driver.Offer(m.DriverID)
	if prior, ok := s.offers.Get(m.DriverID); ok && final.Price == 0 {
		final.Price = prior.Price
	}
	s.final = &final
	fire := s.terminalLocked(StateConfirmed, Outcome{State: StateConfirmed, Offer: &final})
	s.mu.Unlock()
	fire()
}

func (s *Session) handleRideRejected(m wire.RideRejected) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.offers.Remove(m.DriverID)
	var fire func()
	switch s.state {
	case StateDriverSelected:
		if m.DriverID != s.selected {
			break // some other driver withdrew while we wait for ours
		}
		s.selected = ""
		if s.offers.Len() > 0 {
			fire = s.setStateLocked(StateOffersAvailable)
		} else {
			fire = s.setStateLocked(StateSearching)
			s.startTimerLocked()
		}
	case StateOffersAvailable:
		if s.offers.Len() == 0 {
			fire = s.setStateLocked(StateSearching)
			s.startTimerLocked()
		}
	}
	list := s.offers.List()
	s.mu.Unlock()
	if fire != nil {
		fire()
	}
	s.notifyOffers(list)
}

func (s *Session) handleRideCancelled(m wire.RideCancelled) {
	s.mu.Lock()
	if s.state.Terminal() {
		confirmed := s.state == StateConfirmed
		s.mu.Unlock()
		if confirmed && s.cb.OnRideCancelled != nil {
			s.cb.OnRideCancelled(m.CancelledBy)
		}
		return
	}
	fire := s.terminalLocked(StateCancelled, Outcome{State: StateCancelled, CancelledBy: m.CancelledBy})
	s.mu.Unlock()
	fire()
}

func (s *Session) handleDriverLocation(m wire.DriverLocation) {
	s.mu.Lock()
	relevant := false
	if !s.state.Terminal() {
		if o, ok := s.offers.Get(m.DriverID); ok {
			o.Location = m.Location
			s.offers.Upsert(o)
			relevant = true
		}
	} else if s.state == StateConfirmed && s.final != nil && s.final.DriverID == m.DriverID {
		s.final.Location = m.Location
		relevant = true
	}
	s.mu.Unlock()
	if relevant && s.cb.OnDriverLocation != nil {
		s.cb.OnDriverLocation(m.DriverID, m.Location)
	}
}

func (s *Session) handleRideProgress(want State, cb func()) {
	s.mu.Lock()
	ok := s.state == want
	s.mu.Unlock()
	if ok && cb != nil {
		cb()
	}
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	fire := s.terminalLocked(StateFailed, Outcome{State: StateFailed, Err: err})
	s.mu.Unlock()
	fire()
}

// setStateLocked records a non-terminal transition and returns the
// notification to run after the lock is released.
func (s *Session) setStateLocked(to State) func() {
	from := s.state
	s.state = to
	s.logger.Info("state change", "from", from, "to", to)
	cb := s.cb.OnStateChange
	return func() {
		if cb != nil {
			cb(from, to)
		}
	}
}

// terminalLocked moves the session into a terminal state, stops the
// timer, freezes and clears the offer set, and returns the one-shot
// outcome notification.
func (s *Session) terminalLocked(to State, out Outcome) func() {
	from := s.state
	s.state = to
	s.stopTimerLocked()
	s.offers.Freeze()
	s.offers.Clear()
	first := !s.outcomeSent
	s.outcomeSent = true
	s.logger.Info("session ended", "from", from, "outcome", to)
	observability.SessionOutcomes.WithLabelValues(string(to)).Inc()
	stateCB, outcomeCB := s.cb.OnStateChange, s.cb.OnOutcome
	return func() {
		if stateCB != nil {
			stateCB(from, to)
		}
		if first && outcomeCB != nil {
			outcomeCB(out)
		}
	}
}

func (s *Session) startTimerLocked() {
	s.timerGen++
	gen := s.timerGen
	s.timer = time.AfterFunc(s.timeout, func() { s.onTimeout(gen) })
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerGen++
}

// onTimeout fires when the search window elapses with no offers. The
// generation check discards a stale timer that lost the race with an
// arriving offer or a cancellation.
func (s *Session) onTimeout(gen int) {
	s.mu.Lock()
	if gen != s.timerGen || s.state != StateSearching {
		s.mu.Unlock()
		return
	}
	fire := s.terminalLocked(StateTimedOut, Outcome{State: StateTimedOut, Err: &NoDriversError{}})
	s.mu.Unlock()
	fire()
}

func (s *Session) notifyOffers(list []models.DriverOffer) {
	if s.cb.OnOffersUpdated != nil {
		s.cb.OnOffersUpdated(list)
	}
}
