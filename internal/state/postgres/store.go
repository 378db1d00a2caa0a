// Package postgres implements the shared incremental crawl state backend.
// Every Record* call is its own durable, atomic statement or transaction, so
// any number of drivers can write concurrently and Checkpoint is a no-op.
// Newly accepted ids are appended to a notification FIFO that the publisher drains.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/steam-harvester/internal/harvest"
	storagepg "github.com/JakeFAU/steam-harvester/internal/storage/postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS harvest_accepted (
	id          TEXT PRIMARY KEY,
	record      JSONB NOT NULL,
	record_hash TEXT NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS harvest_pending (
	id       TEXT PRIMARY KEY,
	added_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS harvest_discarded (
	id       TEXT PRIMARY KEY,
	added_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS harvest_new_accepted (
	seq       BIGSERIAL PRIMARY KEY,
	id        TEXT NOT NULL,
	queued_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

const statusQuery = `
SELECT CASE
	WHEN EXISTS (SELECT 1 FROM harvest_accepted WHERE id = $1) THEN 'accepted'
	WHEN EXISTS (SELECT 1 FROM harvest_discarded WHERE id = $1) THEN 'discarded'
	WHEN EXISTS (SELECT 1 FROM harvest_pending WHERE id = $1) THEN 'pending_release'
	ELSE 'unvisited'
END`

const upsertAccepted = `
INSERT INTO harvest_accepted (id, record, record_hash, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (id) DO UPDATE
SET record = EXCLUDED.record, record_hash = EXCLUDED.record_hash, updated_at = now()
WHERE harvest_accepted.record_hash <> EXCLUDED.record_hash`

const insertPending = `
INSERT INTO harvest_pending (id)
SELECT $1::text
WHERE NOT EXISTS (SELECT 1 FROM harvest_accepted WHERE id = $1::text)
  AND NOT EXISTS (SELECT 1 FROM harvest_discarded WHERE id = $1::text)
ON CONFLICT (id) DO NOTHING`

const insertDiscarded = `
INSERT INTO harvest_discarded (id)
SELECT $1::text
WHERE NOT EXISTS (SELECT 1 FROM harvest_accepted WHERE id = $1::text)
ON CONFLICT (id) DO NOTHING`

const countsQuery = `
SELECT
	(SELECT count(*) FROM harvest_accepted),
	(SELECT count(*) FROM harvest_pending),
	(SELECT count(*) FROM harvest_discarded)`

// Hasher digests serialized records.
type Hasher interface {
	HashJSON(doc []byte) (string, error)
}

// Store is the Postgres harvest.Store.
type Store struct {
	db     storagepg.DB
	hasher Hasher
	logger *zap.Logger
}

// New opens a pool from cfg.
func New(ctx context.Context, cfg storagepg.Config, hasher Hasher, logger *zap.Logger) (*Store, error) {
	pool, err := storagepg.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", harvest.ErrPersistence, err)
	}
	return NewWithDB(pool, hasher, logger)
}

// NewWithDB constructs a store from an existing pool (primarily for testing).
func NewWithDB(db storagepg.DB, hasher Hasher, logger *zap.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, hasher: hasher, logger: logger}, nil
}

// EnsureSchema creates the tables when they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("%w: ensure schema: %v", harvest.ErrPersistence, err)
	}
	return nil
}

// Status implements harvest.Store.
func (s *Store) Status(ctx context.Context, id string) (harvest.Status, error) {
	var status string
	if err := s.db.QueryRow(ctx, statusQuery, id).Scan(&status); err != nil {
		return "", fmt.Errorf("%w: status of %s: %v", harvest.ErrPersistence, id, err)
	}
	return harvest.Status(status), nil
}

// RecordAccepted upserts the record, clears the id from the other collections
// and queues a notification, all in one transaction. Writing identical
// content again changes nothing and queues nothing.
func (s *Store) RecordAccepted(ctx context.Context, id string, rec harvest.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: marshal record %s: %v", harvest.ErrPersistence, id, err)
	}
	hash, err := s.hasher.HashJSON(raw)
	if err != nil {
		return fmt.Errorf("%w: hash record %s: %v", harvest.ErrPersistence, id, err)
	}

	err = storagepg.InTx(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, upsertAccepted, id, string(raw), hash)
		if err != nil {
			return fmt.Errorf("upsert accepted: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM harvest_pending WHERE id = $1`, id); err != nil {
			return fmt.Errorf("clear pending: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM harvest_discarded WHERE id = $1`, id); err != nil {
			return fmt.Errorf("clear discarded: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, `INSERT INTO harvest_new_accepted (id) VALUES ($1)`, id); err != nil {
			return fmt.Errorf("queue notification: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: accept %s: %v", harvest.ErrPersistence, id, err)
	}
	return nil
}

// RecordPending implements harvest.Store.
func (s *Store) RecordPending(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, insertPending, id); err != nil {
		return fmt.Errorf("%w: pending %s: %v", harvest.ErrPersistence, id, err)
	}
	return nil
}

// RecordDiscarded inserts id unless it was accepted, then removes it from pending.
func (s *Store) RecordDiscarded(ctx context.Context, id string) error {
	err := storagepg.InTx(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertDiscarded, id); err != nil {
			return fmt.Errorf("insert discarded: %w", err)
		}
		_, err := tx.Exec(ctx,
			`DELETE FROM harvest_pending WHERE id = $1 AND EXISTS (SELECT 1 FROM harvest_discarded WHERE id = $1)`, id)
		if err != nil {
			return fmt.Errorf("clear pending: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: discard %s: %v", harvest.ErrPersistence, id, err)
	}
	return nil
}

// Checkpoint is a no-op: every write is already durable.
func (s *Store) Checkpoint(context.Context, ...harvest.Collection) error {
	return nil
}

// Counts implements harvest.Store.
func (s *Store) Counts(ctx context.Context) (harvest.Counts, error) {
	var accepted, pending, discarded int64
	if err := s.db.QueryRow(ctx, countsQuery).Scan(&accepted, &pending, &discarded); err != nil {
		return harvest.Counts{}, fmt.Errorf("%w: counts: %v", harvest.ErrPersistence, err)
	}
	return harvest.Counts{Accepted: int(accepted), Pending: int(pending), Discarded: int(discarded)}, nil
}

// Records loads accepted records by id. Unknown ids are absent from the result.
func (s *Store) Records(ctx context.Context, ids []string) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.Query(ctx, `SELECT id, record FROM harvest_accepted WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: load records: %v", harvest.ErrPersistence, err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var record []byte
		if err := rows.Scan(&id, &record); err != nil {
			return nil, fmt.Errorf("%w: scan record: %v", harvest.ErrPersistence, err)
		}
		out[id] = record
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate records: %v", harvest.ErrPersistence, err)
	}
	return out, nil
}

// NextNotifications returns up to limit queued notifications, oldest first,
// without removing them.
func (s *Store) NextNotifications(ctx context.Context, limit int) ([]harvest.Notification, error) {
	rows, err := s.db.Query(ctx, `SELECT seq, id FROM harvest_new_accepted ORDER BY seq LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: read notifications: %v", harvest.ErrPersistence, err)
	}
	defer rows.Close()
	var out []harvest.Notification
	for rows.Next() {
		var n harvest.Notification
		if err := rows.Scan(&n.Seq, &n.ID); err != nil {
			return nil, fmt.Errorf("%w: scan notification: %v", harvest.ErrPersistence, err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate notifications: %v", harvest.ErrPersistence, err)
	}
	return out, nil
}

// AckNotifications removes every notification up to and including seq.
func (s *Store) AckNotifications(ctx context.Context, seq int64) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM harvest_new_accepted WHERE seq <= $1`, seq); err != nil {
		return fmt.Errorf("%w: ack notifications: %v", harvest.ErrPersistence, err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.db.Close()
	return nil
}
