package harvest

import (
	"context"
	"time"
)

// Store persists the three crawl collections. Implementations must keep the
// collections consistent: an accepted id is removed from pending and is never
// discarded afterwards; a discarded id is never reported pending.
type Store interface {
	Status(ctx context.Context, id string) (Status, error)
	RecordAccepted(ctx context.Context, id string, rec Record) error
	RecordPending(ctx context.Context, id string) error
	RecordDiscarded(ctx context.Context, id string) error
	// Checkpoint durably persists the named collections, or all of them when
	// none are given. Backends whose writes are already durable return nil.
	Checkpoint(ctx context.Context, collections ...Collection) error
	Counts(ctx context.Context) (Counts, error)
	Close() error
}

// Queue is a durable multi-consumer list of item identifiers.
type Queue interface {
	Push(ctx context.Context, ids ...string) error
	// Pop blocks until an id is available. Each id is delivered to exactly one caller.
	Pop(ctx context.Context) (string, error)
	// TryPop returns immediately; ok is false when the queue is empty.
	TryPop(ctx context.Context) (id string, ok bool, err error)
	Len(ctx context.Context) (int, error)
	// Snapshot returns up to limit queued ids in pop order without removing them.
	Snapshot(ctx context.Context, limit int) ([]string, error)
	Close() error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run and batch identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
