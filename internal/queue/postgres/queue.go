// Package postgres implements a durable multi-consumer work queue on a
// Postgres table. Pops use FOR UPDATE SKIP LOCKED so concurrent consumers on
// any number of hosts never receive the same id.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/steam-harvester/internal/harvest"
	storagepg "github.com/JakeFAU/steam-harvester/internal/storage/postgres"
)

const (
	defaultName         = "default"
	defaultPollInterval = time.Second
	pushChunk           = 1000
)

const schema = `
CREATE TABLE IF NOT EXISTS harvest_queue (
	seq  BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	id   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS harvest_queue_name_seq ON harvest_queue (name, seq);`

const pushSQL = `
INSERT INTO harvest_queue (name, id)
SELECT $1, t.id FROM unnest($2::text[]) WITH ORDINALITY AS t(id, ord)
ORDER BY t.ord`

const popSQL = `
DELETE FROM harvest_queue
WHERE seq = (
	SELECT seq FROM harvest_queue
	WHERE name = $1
	ORDER BY seq
	FOR UPDATE SKIP LOCKED
	LIMIT 1
)
RETURNING id`

// Config selects the queue and how often an empty queue is polled.
type Config struct {
	Name         string
	PollInterval time.Duration
}

// Queue is a harvest.Queue stored in Postgres.
type Queue struct {
	db   storagepg.DB
	name string
	poll time.Duration
}

// New constructs a queue over db.
func New(db storagepg.DB, cfg Config) (*Queue, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if cfg.Name == "" {
		cfg.Name = defaultName
	}
	if err := storagepg.ValidateIdentifier(cfg.Name); err != nil {
		return nil, fmt.Errorf("queue name: %w", err)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &Queue{db: db, name: cfg.Name, poll: cfg.PollInterval}, nil
}

// EnsureSchema creates the queue table when missing.
func (q *Queue) EnsureSchema(ctx context.Context) error {
	if _, err := q.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("%w: ensure queue schema: %v", harvest.ErrPersistence, err)
	}
	return nil
}

// Push appends ids, preserving their order.
func (q *Queue) Push(ctx context.Context, ids ...string) error {
	for start := 0; start < len(ids); start += pushChunk {
		end := min(start+pushChunk, len(ids))
		if _, err := q.db.Exec(ctx, pushSQL, q.name, ids[start:end]); err != nil {
			return fmt.Errorf("%w: push %d ids: %v", harvest.ErrPersistence, end-start, err)
		}
	}
	return nil
}

// TryPop removes and returns the oldest id without blocking.
func (q *Queue) TryPop(ctx context.Context) (string, bool, error) {
	var id string
	err := q.db.QueryRow(ctx, popSQL, q.name).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", false, fmt.Errorf("pop canceled: %w", ctxErr)
		}
		return "", false, fmt.Errorf("%w: pop: %v", harvest.ErrPersistence, err)
	}
	return id, true, nil
}

// Pop polls until an id is available or ctx ends.
func (q *Queue) Pop(ctx context.Context) (string, error) {
	for {
		id, ok, err := q.TryPop(ctx)
		if err != nil {
			return "", err
		}
		if ok {
			return id, nil
		}
		timer := time.NewTimer(q.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", fmt.Errorf("pop canceled: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

// Len counts queued ids.
func (q *Queue) Len(ctx context.Context) (int, error) {
	var n int64
	if err := q.db.QueryRow(ctx, `SELECT count(*) FROM harvest_queue WHERE name = $1`, q.name).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: queue length: %v", harvest.ErrPersistence, err)
	}
	return int(n), nil
}

// Snapshot lists up to limit ids in pop order. A non-positive limit lists all.
func (q *Queue) Snapshot(ctx context.Context, limit int) ([]string, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if limit > 0 {
		rows, err = q.db.Query(ctx, `SELECT id FROM harvest_queue WHERE name = $1 ORDER BY seq LIMIT $2`, q.name, limit)
	} else {
		rows, err = q.db.Query(ctx, `SELECT id FROM harvest_queue WHERE name = $1 ORDER BY seq`, q.name)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: snapshot: %v", harvest.ErrPersistence, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: scan queue row: %v", harvest.ErrPersistence, err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate queue: %v", harvest.ErrPersistence, err)
	}
	return out, nil
}

// Close is a no-op; the pool is owned by the caller.
func (q *Queue) Close() error {
	return nil
}
