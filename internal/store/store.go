// Package store persists the optional turn audit log in Postgres. The
// engine works fully without it; a deployment enables it by configuring
// storage.postgres.url.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// Store wraps the audit database handle.
type Store struct {
	DB *sql.DB
}

// NewWithDSN opens and pings the audit database.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &Store{DB: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// TurnRecord is one completed turn as persisted for offline review.
type TurnRecord struct {
	ID                  string
	SessionID           string
	Intent              string
	Message             string
	RiskLevel           string
	AdjustedProbability *float64
	Degraded            bool
	Assessment          json.RawMessage
	CreatedAt           time.Time
}

// RecordTurn inserts one audit row.
func (s *Store) RecordTurn(ctx context.Context, rec TurnRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	var assessment interface{}
	if len(rec.Assessment) > 0 {
		assessment = []byte(rec.Assessment)
	}
	var level interface{}
	if rec.RiskLevel != "" {
		level = rec.RiskLevel
	}
	var prob interface{}
	if rec.AdjustedProbability != nil {
		prob = *rec.AdjustedProbability
	}
	_, err := s.DB.ExecContext(ctx, `
        INSERT INTO turn_audit (id, session_id, intent, message, risk_level, adjusted_probability, degraded, assessment)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.SessionID, rec.Intent, rec.Message, level, prob, rec.Degraded, assessment)
	if err != nil {
		return fmt.Errorf("inserting turn audit row: %w", err)
	}
	return nil
}

// RecentTurns returns the newest audit rows for a session, newest first.
func (s *Store) RecentTurns(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
        SELECT id, session_id, intent, message,
               COALESCE(risk_level, ''), adjusted_probability, degraded,
               COALESCE(assessment, 'null'), created_at
        FROM turn_audit
        WHERE session_id = $1
        ORDER BY created_at DESC
        LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying turn audit: %w", err)
	}
	defer rows.Close()

	var out []TurnRecord
	for rows.Next() {
		var rec TurnRecord
		var prob sql.NullFloat64
		var assessment []byte
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Intent, &rec.Message,
			&rec.RiskLevel, &prob, &rec.Degraded, &assessment, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning turn audit row: %w", err)
		}
		if prob.Valid {
			v := prob.Float64
			rec.AdjustedProbability = &v
		}
		if string(assessment) != "null" {
			rec.Assessment = assessment
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
