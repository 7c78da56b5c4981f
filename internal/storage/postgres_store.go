package storage

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) SaveRide(r *models.Ride) error {
	_, err := p.db.Exec(`INSERT INTO rides(id, rider_id, driver_id, pickup_lat, pickup_lon, pickup_address, dropoff_lat, dropoff_lon, dropoff_address, status, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		r.ID, r.RiderID, r.DriverID,
		r.Pickup.Coordinates.Latitude, r.Pickup.Coordinates.Longitude, r.Pickup.Address,
		r.Dropoff.Coordinates.Latitude, r.Dropoff.Coordinates.Longitude, r.Dropoff.Address,
		r.Status, r.CreatedAt, r.UpdatedAt)
	return err
}

func (p *PostgresStore) UpdateRide(r *models.Ride) error {
	_, err := p.db.Exec(`UPDATE rides SET driver_id=$1, status=$2, updated_at=$3 WHERE id=$4`,
		r.DriverID, r.Status, time.Now(), r.ID)
	return err
}

// Migrate applies the rides schema; used by dispatchsim when MIGRATE=true.
func (p *PostgresStore) Migrate(schema string) error {
	_, err := p.db.Exec(schema)
	return err
}
