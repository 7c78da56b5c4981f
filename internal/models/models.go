package models

import "time"

type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Place is a pickup or dropoff point. Coordinates is a pointer so a
// place built from a bare address can be told apart from one that has
// been geocoded; a session refuses to start without coordinates.
type Place struct {
	Coordinates *Coordinate `json:"coordinates"`
	Address     string      `json:"address"`
	Name        string      `json:"name,omitempty"`
}

// HasCoordinates reports whether the place can go into a ride request.
func (p Place) HasCoordinates() bool { return p.Coordinates != nil }

// DriverOffer is one driver's answer to a ride request.
type DriverOffer struct {
	DriverID   string     `json:"driverId"`
	Name       string     `json:"name"`
	Rating     float64    `json:"rating"` // 0..5
	Vehicle    string     `json:"car"`
	Plate      string     `json:"plate"`
	ETAMinutes int        `json:"eta"`
	Location   Coordinate `json:"location"`
	Price      float64    `json:"price"`
}

// Driver is a dispatch-side pool entry.
type Driver struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	Rating  float64    `json:"rating"`
	Vehicle string     `json:"car"`
	Plate   string     `json:"plate"`
	Loc     Coordinate `json:"loc"`
	Online  bool       `json:"online"`
	Updated time.Time  `json:"updated"`
}

type Ride struct {
	ID        string
	RiderID   string
	DriverID  string
	Pickup    Place
	Dropoff   Place
	Status    string // requested, accepted, ongoing, completed, cancelled
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Profile mirrors the user record held by the external profile service.
type Profile struct {
	ID          string `json:"id,omitempty"`
	ProviderUID string `json:"firebaseUid,omitempty"`
	Name        string `json:"name,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Gender      string `json:"gender,omitempty"`
	PhotoURL    string `json:"photoUrl,omitempty"`
}
