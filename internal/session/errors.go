package session

import "fmt"

// MissingLocationError means pickup or destination has no coordinates.
// Raised at session creation; a request is never sent with partial data.
type MissingLocationError struct {
	Which string // "pickup" or "destination"
}

func (e *MissingLocationError) Error() string {
	return fmt.Sprintf("session: %s has no coordinates", e.Which)
}

// InvalidStateError means an operation was attempted in a state that
// forbids it. Session state is unchanged.
type InvalidStateError struct {
	Op    string
	State State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("session: %s not allowed in state %s", e.Op, e.State)
}

// UnknownDriverError means the referenced driver has no live offer.
type UnknownDriverError struct {
	DriverID string
}

func (e *UnknownDriverError) Error() string {
	return fmt.Sprintf("session: no live offer from driver %s", e.DriverID)
}

// NoDriversError is the terminal outcome of the no-offer timeout: the
// search window closed with zero offers collected. Distinct from
// TransportError so callers can put up a retry affordance.
type NoDriversError struct{}

func (*NoDriversError) Error() string { return "session: no drivers available" }

// TransportError wraps an asynchronous connection failure. It is
// delivered through the outcome callback, never returned from the call
// that triggered the send.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return "session: transport failure"
	}
	return "session: transport failure: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// DispatchError carries an error frame sent by the dispatch backend.
type DispatchError struct {
	Message string
}

func (e *DispatchError) Error() string { return "session: dispatch error: " + e.Message }

// ActiveSessionError means a new session was requested while another
// one is still live on the same connection. The policy here is reject,
// not cancel-and-replace: the caller must cancel the old session first.
type ActiveSessionError struct {
	RideID string
}

func (e *ActiveSessionError) Error() string {
	return fmt.Sprintf("session: ride %s is still active", e.RideID)
}
