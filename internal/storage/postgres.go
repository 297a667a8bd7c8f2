package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/ride"
)

// PostgresStore persists rides and tracking points. Status transitions
// ride on a conditional UPDATE (WHERE status = expected), so the row's
// own atomicity arbitrates concurrent writers.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ride store ping: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

const rideColumns = `id, rider_id, driver_id, pickup_address, dropoff_address,
	pickup_lat, pickup_lng, dropoff_lat, dropoff_lng, current_lat, current_lng,
	distance_km, fare_estimate, final_fare, payment_method, payment_status, payment_reference,
	status, created_at, accepted_at, started_at, completed_at, cancelled_at,
	cancel_reason, cancelled_by`

func (p *PostgresStore) CreateRide(ctx context.Context, r *ride.Ride) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO rides (`+rideColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25)`,
		rideArgs(r)...)
	return err
}

func (p *PostgresStore) GetRide(ctx context.Context, id string) (*ride.Ride, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1`, id)
	r, err := scanRide(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRideNotFound
	}
	return r, err
}

func (p *PostgresStore) UpdateRide(ctx context.Context, r *ride.Ride) error {
	res, err := p.db.ExecContext(ctx, updateRideSQL+` WHERE id = $1`, rideArgs(r)...)
	if err != nil {
		return err
	}
	return checkUpdated(res)
}

func (p *PostgresStore) TransitionRide(ctx context.Context, r *ride.Ride, expect ride.Status) (bool, error) {
	args := append(rideArgs(r), string(expect))
	res, err := p.db.ExecContext(ctx, updateRideSQL+` WHERE id = $1 AND status = $26`, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *PostgresStore) SetCurrent(ctx context.Context, rideID string, c models.Coord) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE rides SET current_lat = $2, current_lng = $3
		WHERE id = $1 AND status IN ('ACCEPTED', 'DRIVER_ARRIVING', 'ARRIVED', 'ONGOING')`,
		rideID, c.Lat, c.Lng)
	return err
}

func (p *PostgresStore) ActiveRides(ctx context.Context, userID string) ([]*ride.Ride, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+rideColumns+` FROM rides
		WHERE (rider_id = $1 OR driver_id = $1)
		  AND status NOT IN ('COMPLETED', 'CANCELLED', 'FAILED')
		ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*ride.Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Append(ctx context.Context, pt models.TrackingPoint) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO ride_tracking (ride_id, lat, lng, speed_kmh, heading, accuracy_m, at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		pt.RideID, pt.Coord.Lat, pt.Coord.Lng, pt.SpeedKmh, pt.Heading, pt.AccuracyM, pt.At)
	return err
}

func (p *PostgresStore) History(ctx context.Context, rideID string) ([]models.TrackingPoint, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT ride_id, lat, lng, speed_kmh, heading, accuracy_m, at
		FROM ride_tracking WHERE ride_id = $1 ORDER BY at`, rideID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.TrackingPoint
	for rows.Next() {
		var pt models.TrackingPoint
		if err := rows.Scan(&pt.RideID, &pt.Coord.Lat, &pt.Coord.Lng, &pt.SpeedKmh, &pt.Heading, &pt.AccuracyM, &pt.At); err != nil {
			return nil, err
		}
		out = append(out, pt)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Latest(ctx context.Context, rideID string) (*models.TrackingPoint, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT ride_id, lat, lng, speed_kmh, heading, accuracy_m, at
		FROM ride_tracking WHERE ride_id = $1 ORDER BY at DESC LIMIT 1`, rideID)
	var pt models.TrackingPoint
	err := row.Scan(&pt.RideID, &pt.Coord.Lat, &pt.Coord.Lng, &pt.SpeedKmh, &pt.Heading, &pt.AccuracyM, &pt.At)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pt, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

const updateRideSQL = `
	UPDATE rides SET
		rider_id=$2, driver_id=$3, pickup_address=$4, dropoff_address=$5,
		pickup_lat=$6, pickup_lng=$7, dropoff_lat=$8, dropoff_lng=$9,
		current_lat=$10, current_lng=$11, distance_km=$12, fare_estimate=$13,
		final_fare=$14, payment_method=$15, payment_status=$16, payment_reference=$17,
		status=$18, created_at=$19, accepted_at=$20, started_at=$21,
		completed_at=$22, cancelled_at=$23, cancel_reason=$24, cancelled_by=$25`

func rideArgs(r *ride.Ride) []interface{} {
	var curLat, curLng sql.NullFloat64
	if r.Current != nil {
		curLat = sql.NullFloat64{Float64: r.Current.Lat, Valid: true}
		curLng = sql.NullFloat64{Float64: r.Current.Lng, Valid: true}
	}
	return []interface{}{
		r.ID, r.RiderID, nullString(r.DriverID), r.PickupAddress, r.DropoffAddress,
		r.Pickup.Lat, r.Pickup.Lng, r.Dropoff.Lat, r.Dropoff.Lng, curLat, curLng,
		r.DistanceKm, r.FareEstimate, r.FinalFare, string(r.PaymentMethod),
		string(r.PaymentStatus), r.PaymentReference, string(r.Status), r.CreatedAt,
		nullTime(r.AcceptedAt), nullTime(r.StartedAt), nullTime(r.CompletedAt),
		nullTime(r.CancelledAt), r.CancelReason, nullString(r.CancelledBy),
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRide(row rowScanner) (*ride.Ride, error) {
	var (
		r                                              ride.Ride
		driverID, cancelledBy                          sql.NullString
		curLat, curLng                                 sql.NullFloat64
		acceptedAt, startedAt, completedAt, cancelledAt sql.NullTime
		method, payStatus, status                      string
	)
	err := row.Scan(
		&r.ID, &r.RiderID, &driverID, &r.PickupAddress, &r.DropoffAddress,
		&r.Pickup.Lat, &r.Pickup.Lng, &r.Dropoff.Lat, &r.Dropoff.Lng, &curLat, &curLng,
		&r.DistanceKm, &r.FareEstimate, &r.FinalFare, &method, &payStatus, &r.PaymentReference,
		&status, &r.CreatedAt, &acceptedAt, &startedAt, &completedAt, &cancelledAt,
		&r.CancelReason, &cancelledBy,
	)
	if err != nil {
		return nil, err
	}
	r.DriverID = driverID.String
	r.CancelledBy = cancelledBy.String
	if curLat.Valid && curLng.Valid {
		r.Current = &models.Coord{Lat: curLat.Float64, Lng: curLng.Float64}
	}
	r.PaymentMethod = ride.PaymentMethod(method)
	r.PaymentStatus = ride.PaymentStatus(payStatus)
	r.Status = ride.Status(status)
	r.AcceptedAt = timePtr(acceptedAt)
	r.StartedAt = timePtr(startedAt)
	r.CompletedAt = timePtr(completedAt)
	r.CancelledAt = timePtr(cancelledAt)
	return &r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func checkUpdated(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRideNotFound
	}
	return nil
}
