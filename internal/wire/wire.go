// Package wire defines the JSON frame taxonomy spoken over the dispatch
// websocket. Every frame is keyed by its "type" field; outbound frames
// are Commands built by the rider client, inbound frames decode into one
// of the Message variants below.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/example/ride-dispatch/internal/models"
)

type Type string

const (
	// rider -> dispatch
	TypeConnect      Type = "connect"
	TypeRequestRide  Type = "requestRide"
	TypeAcceptDriver Type = "acceptDriver"
	TypeRejectDriver Type = "rejectDriver"
	TypeCancelRide   Type = "cancelRide"
	TypeRateDriver   Type = "rateDriver"

	// dispatch -> rider
	TypeNearbyDrivers  Type = "nearbyDrivers"
	TypeDriverRequest  Type = "driverRequest"
	TypeRideAccepted   Type = "rideAccepted"
	TypeRideRejected   Type = "rideRejected"
	TypeRideCancelled  Type = "rideCancelled"
	TypeDriverLocation Type = "driverLocation"
	TypeRideStarted    Type = "rideStarted"
	TypeRideCompleted  Type = "rideCompleted"
	TypeError          Type = "error"
)

// RoleRider is the role announced in every outbound frame.
const RoleRider = "user"

// Command is an outbound frame. All commands carry the sender identity;
// ride-scoped commands carry the session's ride id as well.
type Command struct {
	Type     Type   `json:"type"`
	Role     string `json:"role"`
	UserID   string `json:"userId"`
	RideID   string `json:"rideId,omitempty"`
	DriverID string `json:"driverId,omitempty"`
	Data     any    `json:"data,omitempty"`
}

// RideDetails is the payload of a requestRide command.
type RideDetails struct {
	Pickup  models.Place `json:"pickup"`
	Dropoff models.Place `json:"dropoff"`
}

// RatingDetails is the payload of a rateDriver command.
type RatingDetails struct {
	Rating  float64 `json:"rating"`
	Comment string  `json:"comment,omitempty"`
}

func Handshake(userID string) Command {
	return Command{Type: TypeConnect, Role: RoleRider, UserID: userID}
}

func RequestRide(userID, rideID string, pickup, dropoff models.Place) Command {
	return Command{
		Type: TypeRequestRide, Role: RoleRider, UserID: userID, RideID: rideID,
		Data: RideDetails{Pickup: pickup, Dropoff: dropoff},
	}
}

func AcceptDriver(userID, rideID, driverID string) Command {
	return Command{Type: TypeAcceptDriver, Role: RoleRider, UserID: userID, RideID: rideID, DriverID: driverID}
}

func RejectDriver(userID, rideID, driverID string) Command {
	return Command{Type: TypeRejectDriver, Role: RoleRider, UserID: userID, RideID: rideID, DriverID: driverID}
}

func CancelRide(userID, rideID string) Command {
	return Command{Type: TypeCancelRide, Role: RoleRider, UserID: userID, RideID: rideID}
}

func RateDriver(userID, rideID, driverID string, rating float64, comment string) Command {
	return Command{
		Type: TypeRateDriver, Role: RoleRider, UserID: userID, RideID: rideID, DriverID: driverID,
		Data: RatingDetails{Rating: rating, Comment: comment},
	}
}

// DriverInfo is the driver detail block carried by driverRequest and
// rideAccepted frames.
type DriverInfo struct {
	Name       string  `json:"name"`
	Rating     float64 `json:"rating"`
	Car        string  `json:"car"`
	Plate      string  `json:"plate"`
	ETAMinutes int     `json:"eta"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Price      float64 `json:"price,omitempty"`
}

// Offer converts the wire detail block into the domain offer type.
func (d DriverInfo) Offer(driverID string) models.DriverOffer {
	return models.DriverOffer{
		DriverID:   driverID,
		Name:       d.Name,
		Rating:     d.Rating,
		Vehicle:    d.Car,
		Plate:      d.Plate,
		ETAMinutes: d.ETAMinutes,
		Location:   models.Coordinate{Latitude: d.Latitude, Longitude: d.Longitude},
		Price:      d.Price,
	}
}

// Message is an inbound frame. Ride returns the ride id the frame is
// scoped to, or "" for connection-level frames.
type Message interface {
	MessageType() Type
	Ride() string
}

type NearbyDrivers struct {
	Type    Type         `json:"type"`
	Drivers []DriverInfo `json:"drivers"`
	RideID  string       `json:"rideId"`
}

type DriverRequest struct {
	Type     Type       `json:"type"`
	DriverID string     `json:"driverId"`
	Driver   DriverInfo `json:"driver"`
	RideID   string     `json:"rideId"`
}

type RideAccepted struct {
	Type     Type       `json:"type"`
	DriverID string     `json:"driverId"`
	Driver   DriverInfo `json:"driver"`
	RideID   string     `json:"rideId"`
}

type RideRejected struct {
	Type     Type   `json:"type"`
	DriverID string `json:"driverId"`
	RideID   string `json:"rideId"`
}

type RideCancelled struct {
	Type        Type   `json:"type"`
	CancelledBy string `json:"cancelledBy"`
	RideID      string `json:"rideId"`
}

type DriverLocation struct {
	Type     Type              `json:"type"`
	DriverID string            `json:"driverId"`
	Location models.Coordinate `json:"location"`
	RideID   string            `json:"rideId"`
}

type RideStarted struct {
	Type   Type   `json:"type"`
	RideID string `json:"rideId"`
}

type RideCompleted struct {
	Type   Type   `json:"type"`
	RideID string `json:"rideId"`
}

type ServerError struct {
	Type    Type   `json:"type"`
	Message string `json:"message"`
}

func (NearbyDrivers) MessageType() Type  { return TypeNearbyDrivers }
func (DriverRequest) MessageType() Type  { return TypeDriverRequest }
func (RideAccepted) MessageType() Type   { return TypeRideAccepted }
func (RideRejected) MessageType() Type   { return TypeRideRejected }
func (RideCancelled) MessageType() Type  { return TypeRideCancelled }
func (DriverLocation) MessageType() Type { return TypeDriverLocation }
func (RideStarted) MessageType() Type    { return TypeRideStarted }
func (RideCompleted) MessageType() Type  { return TypeRideCompleted }
func (ServerError) MessageType() Type    { return TypeError }

func (m NearbyDrivers) Ride() string  { return m.RideID }
func (m DriverRequest) Ride() string  { return m.RideID }
func (m RideAccepted) Ride() string   { return m.RideID }
func (m RideRejected) Ride() string   { return m.RideID }
func (m RideCancelled) Ride() string  { return m.RideID }
func (m DriverLocation) Ride() string { return m.RideID }
func (m RideStarted) Ride() string    { return m.RideID }
func (m RideCompleted) Ride() string  { return m.RideID }
func (ServerError) Ride() string      { return "" }

// UnknownTypeError reports a frame whose type has no variant. Receivers
// count and drop these rather than tearing the connection down.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("wire: unknown message type %q", e.Type)
}

// Decode parses an inbound frame into its typed variant.
func Decode(data []byte) (Message, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("wire: malformed frame: %w", err)
	}
	switch Type(head.Type) {
	case TypeNearbyDrivers:
		return decodeInto[NearbyDrivers](data)
	case TypeDriverRequest:
		return decodeInto[DriverRequest](data)
	case TypeRideAccepted:
		return decodeInto[RideAccepted](data)
	case TypeRideRejected:
		return decodeInto[RideRejected](data)
	case TypeRideCancelled:
		return decodeInto[RideCancelled](data)
	case TypeDriverLocation:
		return decodeInto[DriverLocation](data)
	case TypeRideStarted:
		return decodeInto[RideStarted](data)
	case TypeRideCompleted:
		return decodeInto[RideCompleted](data)
	case TypeError:
		return decodeInto[ServerError](data)
	default:
		return nil, &UnknownTypeError{Type: head.Type}
	}
}

func decodeInto[M Message](data []byte) (Message, error) {
	var m M
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("wire: decode %s: %w", m.MessageType(), err)
	}
	return m, nil
}
