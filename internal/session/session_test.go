package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/wire"
)

type fakeTransport struct {
	mu   sync.Mutex
	sent []wire.Command
	down bool
}

func (f *fakeTransport) Send(cmd wire.Command) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return false
	}
	f.sent = append(f.sent, cmd)
	return true
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.down
}

func (f *fakeTransport) commands() []wire.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]wire.Command(nil), f.sent...)
}

func (f *fakeTransport) lastOfType(t wire.Type) (wire.Command, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].Type == t {
			return f.sent[i], true
		}
	}
	return wire.Command{}, false
}

func place(lat, lon float64) models.Place {
	return models.Place{
		Coordinates: &models.Coordinate{Latitude: lat, Longitude: lon},
		Address:     "somewhere",
	}
}

func newTestSession(t *testing.T, ft *fakeTransport, cb Callbacks, opts ...Option) *Session {
	t.Helper()
	opts = append([]Option{WithCallbacks(cb), WithTimeout(time.Second)}, opts...)
	s, err := New(ft, "rider-1", place(37.78, -122.43), place(37.77, -122.42), opts...)
	require.NoError(t, err)
	return s
}

func offerFrame(rideID, driverID string, price float64) wire.DriverRequest {
	return wire.DriverRequest{
		Type:     wire.TypeDriverRequest,
		DriverID: driverID,
		RideID:   rideID,
		Driver: wire.DriverInfo{
			Name: "Driver " + driverID, Rating: 4.8, Car: "Toyota Prius",
			Plate: "GR 678-UVWX", ETAMinutes: 4,
			Latitude: 37.787, Longitude: -122.431, Price: price,
		},
	}
}

func TestNewRequiresCoordinates(t *testing.T) {
	ft := &fakeTransport{}

	_, err := New(ft, "rider-1", models.Place{Address: "no coords"}, place(1, 2))
	var mle *MissingLocationError
	require.ErrorAs(t, err, &mle)
	assert.Equal(t, "pickup", mle.Which)

	_, err = New(ft, "rider-1", place(1, 2), models.Place{Address: "no coords"})
	require.ErrorAs(t, err, &mle)
	assert.Equal(t, "destination", mle.Which)

	assert.Empty(t, ft.commands(), "nothing may be transmitted for an invalid request")
}

func TestBeginSendsRequestRide(t *testing.T) {
	ft := &fakeTransport{}
	s := newTestSession(t, ft, Callbacks{})

	require.NoError(t, s.Begin())
	assert.Equal(t, StateSearching, s.State())

	cmd, ok := ft.lastOfType(wire.TypeRequestRide)
	require.True(t, ok)
	assert.Equal(t, wire.RoleRider, cmd.Role)
	assert.Equal(t, "rider-1", cmd.UserID)
	assert.Equal(t, s.ID(), cmd.RideID)

	var ise *InvalidStateError
	require.ErrorAs(t, s.Begin(), &ise)
	assert.Equal(t, StateSearching, ise.State)
}

func TestSearchTimesOutWithoutOffers(t *testing.T) {
	ft := &fakeTransport{}
	outcomes := make(chan Outcome, 1)
	s := newTestSession(t, ft,
		Callbacks{OnOutcome: func(o Outcome) { outcomes <- o }},
		WithTimeout(20*time.Millisecond))

	require.NoError(t, s.Begin())

	select {
	case o := <-outcomes:
		assert.Equal(t, StateTimedOut, o.State)
		var nde *NoDriversError
		assert.ErrorAs(t, o.Err, &nde)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the no-driver outcome")
	}
	assert.Equal(t, StateTimedOut, s.State())
	assert.Empty(t, s.Offers())
}

func TestFirstOfferClosesSearchWindow(t *testing.T) {
	ft := &fakeTransport{}
	outcomes := make(chan Outcome, 1)
	var transitions []State
	var mu sync.Mutex
	s := newTestSession(t, ft, Callbacks{
		OnStateChange: func(_, to State) {
			mu.Lock()
			transitions = append(transitions, to)
			mu.Unlock()
		},
		OnOutcome: func(o Outcome) { outcomes <- o },
	}, WithTimeout(40*time.Millisecond))

	require.NoError(t, s.Begin())
	s.HandleMessage(offerFrame(s.ID(), "d1", 12.50))
	assert.Equal(t, StateOffersAvailable, s.State())

	// well past the window: the stopped timer must not fire
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, StateOffersAvailable, s.State())
	select {
	case o := <-outcomes:
		t.Fatalf("unexpected outcome %v", o.State)
	default:
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateSearching, StateOffersAvailable}, transitions)
}

func TestOffersDedupeByDriver(t *testing.T) {
	ft := &fakeTransport{}
	s := newTestSession(t, ft, Callbacks{})
	require.NoError(t, s.Begin())

	s.HandleMessage(offerFrame(s.ID(), "d1", 10))
	s.HandleMessage(offerFrame(s.ID(), "d2", 11))
	s.HandleMessage(offerFrame(s.ID(), "d1", 9)) // re-offer replaces in place

	list := s.Offers()
	require.Len(t, list, 2)
	assert.Equal(t, "d1", list[0].DriverID)
	assert.Equal(t, 9.0, list[0].Price)
	assert.Equal(t, "d2", list[1].DriverID)
}

func TestSelectOfferConfirms(t *testing.T) {
	ft := &fakeTransport{}
	outcomes := make(chan Outcome, 1)
	s := newTestSession(t, ft, Callbacks{OnOutcome: func(o Outcome) { outcomes <- o }})
	require.NoError(t, s.Begin())
	s.HandleMessage(offerFrame(s.ID(), "d1", 12.50))

	require.NoError(t, s.SelectOffer("d1"))
	assert.Equal(t, StateDriverSelected, s.State())
	cmd, ok := ft.lastOfType(wire.TypeAcceptDriver)
	require.True(t, ok)
	assert.Equal(t, "d1", cmd.DriverID)

	s.HandleMessage(wire.RideAccepted{
		Type: wire.TypeRideAccepted, DriverID: "d1", RideID: s.ID(),
		Driver: wire.DriverInfo{Name: "Driver d1", Car: "Toyota Prius", Plate: "GR 678-UVWX"},
	})

	select {
	case o := <-outcomes:
		assert.Equal(t, StateConfirmed, o.State)
		require.NotNil(t, o.Offer)
		assert.Equal(t, "d1", o.Offer.DriverID)
		// accept frame carried no price, confirmed offer keeps the quoted one
		assert.Equal(t, 12.50, o.Offer.Price)
	case <-time.After(time.Second):
		t.Fatal("no outcome after rideAccepted")
	}
	require.NotNil(t, s.FinalOffer())
	assert.Equal(t, "d1", s.FinalOffer().DriverID)
}

func TestSelectOfferValidation(t *testing.T) {
	ft := &fakeTransport{}
	s := newTestSession(t, ft, Callbacks{})

	var ise *InvalidStateError
	require.ErrorAs(t, s.SelectOffer("d1"), &ise)

	require.NoError(t, s.Begin())
	s.HandleMessage(offerFrame(s.ID(), "d1", 10))

	var ude *UnknownDriverError
	require.ErrorAs(t, s.SelectOffer("ghost"), &ude)
	assert.Equal(t, "ghost", ude.DriverID)
}

func TestAcceptFromWrongDriverIgnored(t *testing.T) {
	ft := &fakeTransport{}
	s := newTestSession(t, ft, Callbacks{})
	require.NoError(t, s.Begin())
	s.HandleMessage(offerFrame(s.ID(), "d1", 10))
	s.HandleMessage(offerFrame(s.ID(), "d2", 11))
	require.NoError(t, s.SelectOffer("d1"))

	s.HandleMessage(wire.RideAccepted{Type: wire.TypeRideAccepted, DriverID: "d2", RideID: s.ID()})
	assert.Equal(t, StateDriverSelected, s.State())
	assert.Nil(t, s.FinalOffer())
}

func TestCancelIsLocalFirst(t *testing.T) {
	ft := &fakeTransport{down: true}
	outcomes := make(chan Outcome, 1)
	s := newTestSession(t, ft, Callbacks{OnOutcome: func(o Outcome) { outcomes <- o }})

	// transport down: requestRide fails, the session is already terminal
	require.NoError(t, s.Begin())
	<-outcomes
	require.Equal(t, StateFailed, s.State())

	ft2 := &fakeTransport{down: true}
	s2 := newTestSession(t, ft2, Callbacks{OnOutcome: func(o Outcome) { outcomes <- o }})
	ft2.mu.Lock()
	ft2.down = false
	ft2.mu.Unlock()
	require.NoError(t, s2.Begin())
	ft2.mu.Lock()
	ft2.down = true
	ft2.mu.Unlock()

	s2.Cancel()
	assert.Equal(t, StateCancelled, s2.State(), "cancel succeeds locally even when the send fails")
	o := <-outcomes
	assert.Equal(t, StateCancelled, o.State)
	assert.Equal(t, "user", o.CancelledBy)
}

func TestForeignRideFramesDiscarded(t *testing.T) {
	ft := &fakeTransport{}
	s := newTestSession(t, ft, Callbacks{})
	require.NoError(t, s.Begin())

	s.HandleMessage(offerFrame("some-other-ride", "d1", 10))
	assert.Empty(t, s.Offers())
	assert.Equal(t, StateSearching, s.State())
}

func TestRejectedSelectionFallsBackToOffers(t *testing.T) {
	ft := &fakeTransport{}
	s := newTestSession(t, ft, Callbacks{})
	require.NoError(t, s.Begin())
	s.HandleMessage(offerFrame(s.ID(), "d1", 10))
	s.HandleMessage(offerFrame(s.ID(), "d2", 11))
	require.NoError(t, s.SelectOffer("d1"))

	s.HandleMessage(wire.RideRejected{Type: wire.TypeRideRejected, DriverID: "d1", RideID: s.ID()})
	assert.Equal(t, StateOffersAvailable, s.State())
	list := s.Offers()
	require.Len(t, list, 1)
	assert.Equal(t, "d2", list[0].DriverID)
}

func TestRejectedSelectionFallsBackToSearching(t *testing.T) {
	ft := &fakeTransport{}
	outcomes := make(chan Outcome, 1)
	s := newTestSession(t, ft,
		Callbacks{OnOutcome: func(o Outcome) { outcomes <- o }},
		WithTimeout(30*time.Millisecond))
	require.NoError(t, s.Begin())
	s.HandleMessage(offerFrame(s.ID(), "d1", 10))
	require.NoError(t, s.SelectOffer("d1"))

	s.HandleMessage(wire.RideRejected{Type: wire.TypeRideRejected, DriverID: "d1", RideID: s.ID()})
	assert.Equal(t, StateSearching, s.State())

	// the search window restarted; with no further offers it elapses
	select {
	case o := <-outcomes:
		assert.Equal(t, StateTimedOut, o.State)
	case <-time.After(time.Second):
		t.Fatal("restarted search window never timed out")
	}
}

func TestRejectOfferLocally(t *testing.T) {
	ft := &fakeTransport{}
	s := newTestSession(t, ft, Callbacks{}, WithTimeout(time.Hour))
	require.NoError(t, s.Begin())
	s.HandleMessage(offerFrame(s.ID(), "d1", 10))
	s.HandleMessage(offerFrame(s.ID(), "d2", 11))

	require.NoError(t, s.RejectOffer("d1"))
	assert.Equal(t, StateOffersAvailable, s.State())
	cmd, ok := ft.lastOfType(wire.TypeRejectDriver)
	require.True(t, ok)
	assert.Equal(t, "d1", cmd.DriverID)

	require.NoError(t, s.RejectOffer("d2"))
	assert.Equal(t, StateSearching, s.State(), "rejecting the last offer resumes the search")
}

func TestDriverCancelBeforeConfirm(t *testing.T) {
	ft := &fakeTransport{}
	outcomes := make(chan Outcome, 1)
	s := newTestSession(t, ft, Callbacks{OnOutcome: func(o Outcome) { outcomes <- o }})
	require.NoError(t, s.Begin())
	s.HandleMessage(offerFrame(s.ID(), "d1", 10))
	require.NoError(t, s.SelectOffer("d1"))

	s.HandleMessage(wire.RideCancelled{Type: wire.TypeRideCancelled, CancelledBy: "driver", RideID: s.ID()})
	o := <-outcomes
	assert.Equal(t, StateCancelled, o.State)
	assert.Equal(t, "driver", o.CancelledBy)
}

func TestDisconnectFailsLiveSession(t *testing.T) {
	ft := &fakeTransport{}
	outcomes := make(chan Outcome, 1)
	s := newTestSession(t, ft, Callbacks{OnOutcome: func(o Outcome) { outcomes <- o }})
	require.NoError(t, s.Begin())

	s.HandleDisconnect(assert.AnError)
	o := <-outcomes
	assert.Equal(t, StateFailed, o.State)
	var te *TransportError
	require.ErrorAs(t, o.Err, &te)
	assert.ErrorIs(t, te.Err, assert.AnError)
}

func TestServerErrorFailsSession(t *testing.T) {
	ft := &fakeTransport{}
	outcomes := make(chan Outcome, 1)
	s := newTestSession(t, ft, Callbacks{OnOutcome: func(o Outcome) { outcomes <- o }})
	require.NoError(t, s.Begin())

	s.HandleMessage(wire.ServerError{Type: wire.TypeError, Message: "dispatch overloaded"})
	o := <-outcomes
	assert.Equal(t, StateFailed, o.State)
	var de *DispatchError
	require.ErrorAs(t, o.Err, &de)
	assert.Equal(t, "dispatch overloaded", de.Message)
}

func TestOutcomeDeliveredOnce(t *testing.T) {
	ft := &fakeTransport{}
	outcomes := make(chan Outcome, 4)
	s := newTestSession(t, ft, Callbacks{OnOutcome: func(o Outcome) { outcomes <- o }})
	require.NoError(t, s.Begin())

	s.Cancel()
	s.Cancel()
	s.HandleMessage(wire.RideCancelled{Type: wire.TypeRideCancelled, CancelledBy: "driver", RideID: s.ID()})
	s.HandleDisconnect(nil)

	require.Len(t, outcomes, 1)
	o := <-outcomes
	assert.Equal(t, StateCancelled, o.State)
}

func TestLateOfferAfterDecisionDropped(t *testing.T) {
	ft := &fakeTransport{}
	s := newTestSession(t, ft, Callbacks{})
	require.NoError(t, s.Begin())
	s.Cancel()

	s.HandleMessage(offerFrame(s.ID(), "d9", 10))
	assert.Empty(t, s.Offers())
	assert.Equal(t, StateCancelled, s.State())
}

func TestProgressAfterConfirm(t *testing.T) {
	ft := &fakeTransport{}
	var started, completed bool
	var gotLoc models.Coordinate
	var cancelledBy string
	outcomes := make(chan Outcome, 1)
	s := newTestSession(t, ft, Callbacks{
		OnDriverLocation: func(_ string, loc models.Coordinate) { gotLoc = loc },
		OnRideStarted:    func() { started = true },
		OnRideCompleted:  func() { completed = true },
		OnRideCancelled:  func(by string) { cancelledBy = by },
		OnOutcome:        func(o Outcome) { outcomes <- o },
	})
	require.NoError(t, s.Begin())
	s.HandleMessage(offerFrame(s.ID(), "d1", 10))
	require.NoError(t, s.SelectOffer("d1"))
	s.HandleMessage(wire.RideAccepted{Type: wire.TypeRideAccepted, DriverID: "d1", RideID: s.ID()})
	<-outcomes

	s.HandleMessage(wire.DriverLocation{
		Type: wire.TypeDriverLocation, DriverID: "d1", RideID: s.ID(),
		Location: models.Coordinate{Latitude: 37.785, Longitude: -122.43},
	})
	s.HandleMessage(wire.RideStarted{Type: wire.TypeRideStarted, RideID: s.ID()})
	s.HandleMessage(wire.RideCompleted{Type: wire.TypeRideCompleted, RideID: s.ID()})
	s.HandleMessage(wire.RideCancelled{Type: wire.TypeRideCancelled, CancelledBy: "driver", RideID: s.ID()})

	assert.Equal(t, 37.785, gotLoc.Latitude)
	assert.True(t, started)
	assert.True(t, completed)
	assert.Equal(t, "driver", cancelledBy)
	assert.Equal(t, StateConfirmed, s.State(), "post-confirm events never leave Confirmed")
}

func TestRateDriverOnlyWhenConfirmed(t *testing.T) {
	ft := &fakeTransport{}
	outcomes := make(chan Outcome, 1)
	s := newTestSession(t, ft, Callbacks{OnOutcome: func(o Outcome) { outcomes <- o }})

	var ise *InvalidStateError
	require.ErrorAs(t, s.RateDriver(5, "great"), &ise)

	require.NoError(t, s.Begin())
	s.HandleMessage(offerFrame(s.ID(), "d1", 10))
	require.NoError(t, s.SelectOffer("d1"))
	s.HandleMessage(wire.RideAccepted{Type: wire.TypeRideAccepted, DriverID: "d1", RideID: s.ID()})
	<-outcomes

	require.NoError(t, s.RateDriver(4.5, "smooth ride"))
	cmd, ok := ft.lastOfType(wire.TypeRateDriver)
	require.True(t, ok)
	assert.Equal(t, "d1", cmd.DriverID)
	details, ok := cmd.Data.(wire.RatingDetails)
	require.True(t, ok)
	assert.Equal(t, 4.5, details.Rating)
	assert.Equal(t, "smooth ride", details.Comment)
}
