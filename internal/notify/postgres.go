package notify

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore persists notifications in the notifications table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("notification store ping: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Create(ctx context.Context, n *Notification) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, ride_id, type, title, message, read, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		n.ID, n.UserID, nullable(n.RideID), string(n.Type), n.Title, n.Message, n.Read, n.CreatedAt)
	return err
}

func (p *PostgresStore) CreateBatch(ctx context.Context, ns []*Notification) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, n := range ns {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO notifications (id, user_id, ride_id, type, title, message, read, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			n.ID, n.UserID, nullable(n.RideID), string(n.Type), n.Title, n.Message, n.Read, n.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *PostgresStore) RecentExists(ctx context.Context, rideID string, t Type, window time.Duration) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM notifications
			WHERE ride_id = $1 AND type = $2 AND created_at >= $3
		)`, rideID, string(t), time.Now().Add(-window)).Scan(&exists)
	return exists, err
}

func (p *PostgresStore) MarkRead(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `UPDATE notifications SET read = true WHERE id = $1`, id)
	return err
}

func (p *PostgresStore) ForUser(ctx context.Context, userID string, limit int) ([]*Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, COALESCE(ride_id, ''), type, title, message, read, created_at
		FROM notifications WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Notification
	for rows.Next() {
		var n Notification
		var typ string
		if err := rows.Scan(&n.ID, &n.UserID, &n.RideID, &typ, &n.Title, &n.Message, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Type = Type(typ)
		out = append(out, &n)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
