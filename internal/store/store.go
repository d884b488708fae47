package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Store manages the PostgreSQL connection holding observer sessions and posture intervals.
type Store struct {
	conn *pgx.Conn
}

// Session is one observer connection.
type Session struct {
	ID        string
	Role      string
	Server    string
	StartedAt time.Time
}

// Interval is a stored posture run.
type Interval struct {
	ID        int64
	SessionID string
	BodyID    string
	Posture   int
	StartedAt time.Time
	EndedAt   time.Time
	Frames    int
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS observer_sessions (
			id TEXT PRIMARY KEY,
			role TEXT NOT NULL,
			server TEXT NOT NULL,
			started_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS posture_intervals (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT REFERENCES observer_sessions(id) ON DELETE CASCADE,
			body_id TEXT NOT NULL,
			posture SMALLINT NOT NULL CHECK (posture BETWEEN 0 AND 3),
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ NOT NULL,
			frames INT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS posture_intervals_session_id_idx ON posture_intervals (session_id);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// CreateSession registers an observer session. Re-registering an ID updates it.
func (s *Store) CreateSession(ctx context.Context, id, role, server string) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO observer_sessions (id, role, server, started_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET started_at = NOW(), server = EXCLUDED.server
	`, id, role, server)
	return err
}

// InsertInterval saves a closed posture run.
func (s *Store) InsertInterval(ctx context.Context, sessionID, bodyID string, posture int, start, end time.Time, frames int) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO posture_intervals (session_id, body_id, posture, started_at, ended_at, frames)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, sessionID, bodyID, posture, start, end, frames)
	return err
}

// ListIntervals returns the most recent intervals, newest first. limit <= 0 means no limit.
func (s *Store) ListIntervals(ctx context.Context, limit int) ([]Interval, error) {
	query := `
		SELECT id, session_id, body_id, posture, started_at, ended_at, frames
		FROM posture_intervals
		ORDER BY started_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Interval
	for rows.Next() {
		var iv Interval
		if err := rows.Scan(&iv.ID, &iv.SessionID, &iv.BodyID, &iv.Posture, &iv.StartedAt, &iv.EndedAt, &iv.Frames); err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS posture_intervals CASCADE;
		DROP TABLE IF EXISTS observer_sessions CASCADE;
	`)
	return err
}
