// Package postgres persists the identity-commitment set, the
// domain-partitioned nullifier set and the action-commitment log.
// The nullifier table's primary key is what makes TryConsume atomic: a
// conflicting insert affects zero rows, so exactly one concurrent caller
// ever observes a consumption.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/talatops/zk-snark-voting/internal/protocol"
	"github.com/talatops/zk-snark-voting/internal/zk"
)

// Config holds connection pool settings.
type Config struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store is the PostgreSQL implementation of the protocol's persistence
// collaborators.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Connect opens a pooled connection and verifies it with a ping.
func Connect(connString string, cfg *Config, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg != nil {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// HealthCheck verifies connectivity for readiness probes.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// ============================================================================
// Identity Store
// ============================================================================

// AddIdentity inserts a commitment, one immutable row per registrant.
func (s *Store) AddIdentity(ctx context.Context, commitment string) error {
	query := `
		INSERT INTO identities (commitment, registered_at)
		VALUES ($1, $2)
		ON CONFLICT (commitment) DO NOTHING
	`

	result, err := s.db.ExecContext(ctx, query, commitment, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert identity: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read insert result: %w", err)
	}
	if rows == 0 {
		return protocol.ErrDuplicateIdentity
	}

	return nil
}

// HasIdentity reports whether a commitment is registered.
func (s *Store) HasIdentity(ctx context.Context, commitment string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM identities WHERE commitment = $1)`

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, commitment).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to query identity: %w", err)
	}
	return exists, nil
}

// ============================================================================
// Nullifier Ledger
// ============================================================================

// TryConsume atomically records a nullifier under its domain. The composite
// primary key (domain, nullifier) makes the insert the linearization point:
// the caller whose insert affected a row consumed it, everyone else lost.
func (s *Store) TryConsume(ctx context.Context, domain zk.Domain, nullifier string) (bool, error) {
	query := `
		INSERT INTO nullifiers (domain, nullifier, consumed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (domain, nullifier) DO NOTHING
	`

	result, err := s.db.ExecContext(ctx, query, string(domain), nullifier, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to insert nullifier: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}

	return rows == 1, nil
}

// Release deletes a consumed nullifier, compensating a transition whose
// persistence step failed after the insert.
func (s *Store) Release(ctx context.Context, domain zk.Domain, nullifier string) error {
	query := `DELETE FROM nullifiers WHERE domain = $1 AND nullifier = $2`

	if _, err := s.db.ExecContext(ctx, query, string(domain), nullifier); err != nil {
		return fmt.Errorf("failed to release nullifier: %w", err)
	}
	return nil
}

// IsUsed reports whether a nullifier has been consumed in the given domain.
func (s *Store) IsUsed(ctx context.Context, domain zk.Domain, nullifier string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM nullifiers WHERE domain = $1 AND nullifier = $2)`

	var used bool
	if err := s.db.QueryRowContext(ctx, query, string(domain), nullifier).Scan(&used); err != nil {
		return false, fmt.Errorf("failed to query nullifier: %w", err)
	}
	return used, nil
}

// ============================================================================
// Action Store
// ============================================================================

// RecordAction appends to the action-commitment log, keyed by nullifier.
func (s *Store) RecordAction(ctx context.Context, rec protocol.ActionRecord) error {
	query := `
		INSERT INTO actions (domain, nullifier, commitment, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	metadataJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal action metadata: %w", err)
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, query,
		string(rec.Domain),
		rec.Nullifier,
		rec.Commitment,
		metadataJSON,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert action: %w", err)
	}

	return nil
}

// AddBallotOption adds a candidate; re-adding an existing one is a no-op.
func (s *Store) AddBallotOption(ctx context.Context, name string) error {
	query := `
		INSERT INTO ballot_options (name, added_at)
		VALUES ($1, $2)
		ON CONFLICT (name) DO NOTHING
	`

	if _, err := s.db.ExecContext(ctx, query, name, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to insert ballot option: %w", err)
	}
	return nil
}

// RemoveBallotOption deletes a candidate.
func (s *Store) RemoveBallotOption(ctx context.Context, name string) error {
	query := `DELETE FROM ballot_options WHERE name = $1`

	result, err := s.db.ExecContext(ctx, query, name)
	if err != nil {
		return fmt.Errorf("failed to delete ballot option: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("ballot option not found: %s", name)
	}
	return nil
}

// ListBallotOptions returns the ballot in insertion order.
func (s *Store) ListBallotOptions(ctx context.Context) ([]string, error) {
	query := `SELECT name FROM ballot_options ORDER BY added_at ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query ballot options: %w", err)
	}
	defer rows.Close()

	options := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan ballot option: %w", err)
		}
		options = append(options, name)
	}

	return options, rows.Err()
}
