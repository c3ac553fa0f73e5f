package journal

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/dispatch-client/internal/models"
)

type PostgresJournal struct {
	db *sql.DB
}

func NewPostgresJournal(dsn string) (*PostgresJournal, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresJournal{db: db}, nil
}

func (p *PostgresJournal) SaveOfferResolution(offer models.RideOffer, resolution models.OfferStatus, at time.Time) error {
	_, err := p.db.Exec(`INSERT INTO offer_resolutions(ride_id, offer_id, pickup_lat, pickup_lon, dropoff_lat, dropoff_lon, distance_km, resolution, received_at, resolved_at) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		offer.RideID, offer.OfferID, offer.Pickup.Lat, offer.Pickup.Lon, offer.Dropoff.Lat, offer.Dropoff.Lon, offer.DistanceKm, string(resolution), offer.ReceivedAt, at)
	return err
}

func (p *PostgresJournal) SaveTransition(rideID, from, to string, at time.Time) error {
	_, err := p.db.Exec(`INSERT INTO ride_transitions(ride_id, phase_from, phase_to, at) VALUES($1,$2,$3,$4)`,
		rideID, from, to, at)
	return err
}

func (p *PostgresJournal) Close() error { return p.db.Close() }
