// Package journal persists attendance entries in PostgreSQL.
package journal

import (
	"context"
	"time"

	"github.com/abihf/blinkgate/session"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS attendance_entries (
	id UUID PRIMARY KEY,
	device_id TEXT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL,
	outcome TEXT NOT NULL,
	message TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS attendance_entries_device_recorded_idx
	ON attendance_entries (device_id, recorded_at DESC);
`

// Store writes entries of one device.
type Store struct {
	pool     *pgxpool.Pool
	deviceID string
}

// Open connects to databaseURL and creates the table when missing.
func Open(ctx context.Context, databaseURL, deviceID string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	s := &Store{pool: pool, deviceID: deviceID}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to create attendance_entries")
	}
	return nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Record inserts entry. Recording the same entry twice is a no-op.
func (s *Store) Record(ctx context.Context, entry session.Entry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO attendance_entries (id, device_id, recorded_at, outcome, message)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		entry.ID.String(), s.deviceID, entry.Timestamp, string(entry.Outcome), entry.Message)
	if err != nil {
		return errors.Wrap(err, "failed to insert attendance entry")
	}
	return nil
}

// Recent returns up to limit entries of this device, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]session.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::text, recorded_at, outcome, message
		FROM attendance_entries
		WHERE device_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2`,
		s.deviceID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query attendance entries")
	}
	defer rows.Close()

	entries := []session.Entry{}
	for rows.Next() {
		var (
			id         string
			recordedAt time.Time
			outcome    string
			message    string
		)
		if err := rows.Scan(&id, &recordedAt, &outcome, &message); err != nil {
			return nil, errors.Wrap(err, "failed to scan attendance entry")
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid entry id %q", id)
		}
		entries = append(entries, session.Entry{
			ID:        parsed,
			Timestamp: recordedAt,
			Outcome:   session.Outcome(outcome),
			Message:   message,
		})
	}
	return entries, errors.Wrap(rows.Err(), "failed to read attendance entries")
}
