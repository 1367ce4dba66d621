// Package contextpg implements [ports.ContextPort] over PostgreSQL,
// following the teacher's pkg/memory/postgres session-store shape: a single
// pgxpool.Pool, an idempotent Migrate, and pgvector-backed vector columns.
// It keeps a rolling log of interaction summaries for
// Context.RecentInteractions and a single "current emotional trend" vector,
// supplied by the caller of RecordEmotionalTrend, which feeds the snapshot
// Fingerprint the Autonomy Cycle uses for novelty comparisons.
package contextpg

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/nyxveil/corona/internal/ports"
)

const ddl = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS interaction_log (
    id         BIGSERIAL    PRIMARY KEY,
    summary    TEXT         NOT NULL,
    timestamp  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_interaction_log_timestamp
    ON interaction_log (timestamp);

CREATE TABLE IF NOT EXISTS emotional_trend (
    id         BIGSERIAL    PRIMARY KEY,
    embedding  vector(%d),
    tag        TEXT         NOT NULL DEFAULT '',
    timestamp  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_emotional_trend_timestamp
    ON emotional_trend (timestamp);
`

// Migrate creates the tables Store needs, sized for embeddingDimensions. It
// is idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if _, err := pool.Exec(ctx, fmt.Sprintf(ddl, embeddingDimensions)); err != nil {
		return fmt.Errorf("contextpg: migrate: %w", err)
	}
	return nil
}

// Store implements [ports.ContextPort] backed by a PostgreSQL connection
// pool. All methods are safe for concurrent use.
type Store struct {
	pool         *pgxpool.Pool
	recentWindow time.Duration
}

// New opens a connection pool to dsn, registers pgvector types, and runs
// Migrate for embeddingDimensions. recentWindow bounds how far back
// RecentInteractions looks.
func New(ctx context.Context, dsn string, embeddingDimensions int, recentWindow time.Duration) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("contextpg: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("contextpg: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("contextpg: ping: %w", err)
	}
	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("contextpg: migrate: %w", err)
	}

	if recentWindow <= 0 {
		recentWindow = 10 * time.Minute
	}
	return &Store{pool: pool, recentWindow: recentWindow}, nil
}

var _ ports.ContextPort = (*Store)(nil)

// Close releases the underlying connection pool.
func (s *Store) Close() { s.pool.Close() }

// Ping verifies connectivity to Postgres, for use as a [health.Checker].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// RecordInteraction appends summary to the interaction log.
func (s *Store) RecordInteraction(ctx context.Context, summary string) error {
	const q = `INSERT INTO interaction_log (summary) VALUES ($1)`
	if _, err := s.pool.Exec(ctx, q, summary); err != nil {
		return fmt.Errorf("contextpg: record interaction: %w", err)
	}
	return nil
}

// RecordEmotionalTrend stores embedding as the latest emotional-trend vector,
// tagged for debugging. Snapshot folds the latest trend vector into the
// context Fingerprint, which the Autonomy Cycle compares by Hamming
// distance; no pgvector distance query is issued.
func (s *Store) RecordEmotionalTrend(ctx context.Context, embedding []float32, tag string) error {
	const q = `INSERT INTO emotional_trend (embedding, tag) VALUES ($1, $2)`
	if _, err := s.pool.Exec(ctx, q, pgvector.NewVector(embedding), tag); err != nil {
		return fmt.Errorf("contextpg: record emotional trend: %w", err)
	}
	return nil
}

// Snapshot implements [ports.ContextPort]. It is a cheap point-in-time read
// of the last recentWindow of interactions and the most recent emotional
// trend vector; it performs no expensive computation of its own.
func (s *Store) Snapshot(ctx context.Context) (ports.Context, error) {
	const interactionsQ = `
		SELECT summary, timestamp
		FROM   interaction_log
		WHERE  timestamp >= now() - $1::interval
		ORDER  BY timestamp DESC
		LIMIT  50`

	rows, err := s.pool.Query(ctx, interactionsQ, fmt.Sprintf("%d microseconds", s.recentWindow.Microseconds()))
	if err != nil {
		return ports.Context{}, fmt.Errorf("contextpg: snapshot interactions: %w", err)
	}
	recent, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ports.InteractionSummary, error) {
		var is ports.InteractionSummary
		if err := row.Scan(&is.Summary, &is.Timestamp); err != nil {
			return ports.InteractionSummary{}, err
		}
		return is, nil
	})
	if err != nil {
		return ports.Context{}, fmt.Errorf("contextpg: scan interactions: %w", err)
	}

	var (
		activityTag string
		summaryVec  pgvector.Vector
		haveTrend   bool
	)
	const trendQ = `SELECT tag, embedding FROM emotional_trend ORDER BY timestamp DESC LIMIT 1`
	switch err := s.pool.QueryRow(ctx, trendQ).Scan(&activityTag, &summaryVec); {
	case err == nil:
		haveTrend = true
	case err == pgx.ErrNoRows:
	default:
		return ports.Context{}, fmt.Errorf("contextpg: snapshot trend: %w", err)
	}

	now := time.Now()
	snapshot := ports.Context{
		Now:                now,
		RecentInteractions: recent,
		ActivityTag:        activityTag,
	}
	if haveTrend {
		snapshot.EmotionalSummary = vectorBytes(summaryVec.Slice())
	}
	snapshot.Fingerprint = fingerprint(snapshot)
	return snapshot, nil
}

// vectorBytes packs a float32 embedding into a compact byte fingerprint; the
// internal structure is owned entirely by this package per ContextPort's
// contract.
func vectorBytes(v []float32) []byte {
	b := make([]byte, len(v)*4)
	for i, f := range v {
		bits := math.Float32bits(f)
		b[i*4] = byte(bits)
		b[i*4+1] = byte(bits >> 8)
		b[i*4+2] = byte(bits >> 16)
		b[i*4+3] = byte(bits >> 24)
	}
	return b
}

// fingerprint hashes the snapshot's observable content down to a 32-byte
// SHA-256 digest (within the port's 64-byte cap) so repeated snapshots with
// identical content share a cache key.
func fingerprint(c ports.Context) []byte {
	h := sha256.New()
	h.Write([]byte(c.ActivityTag))
	h.Write(c.EmotionalSummary)
	for _, i := range c.RecentInteractions {
		h.Write([]byte(i.Summary))
	}
	return h.Sum(nil)
}
