package progress

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/steam-harvester/internal/harvest"
)

const defaultEvery = 25

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Total      int64     `json:"total"`
	Done       int64     `json:"done"`
	Processed  int64     `json:"processed"`
	Skipped    int64     `json:"skipped"`
	Accepted   int64     `json:"accepted"`
	Pending    int64     `json:"pending_release"`
	Discarded  int64     `json:"discarded"`
	Unresolved int64     `json:"unresolved"`
	Percent    float64   `json:"percent"`
	StartedAt  time.Time `json:"started_at"`
	Elapsed    string    `json:"elapsed"`
}

// Tracker counts item outcomes across every driver of a process. It is safe
// for concurrent use and logs a progress line every N processed ids.
type Tracker struct {
	total      atomic.Int64
	processed  atomic.Int64
	skipped    atomic.Int64
	accepted   atomic.Int64
	pending    atomic.Int64
	discarded  atomic.Int64
	unresolved atomic.Int64

	every   int64
	started time.Time
	clock   harvest.Clock
	logger  *zap.Logger
}

// NewTracker builds a tracker that logs every `every` processed ids. A
// non-positive value uses the default of 25.
func NewTracker(clock harvest.Clock, logger *zap.Logger, every int) *Tracker {
	if every <= 0 {
		every = defaultEvery
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{every: int64(every), clock: clock, logger: logger}
	t.started = t.now()
	return t
}

func (t *Tracker) now() time.Time {
	if t.clock == nil {
		return time.Now().UTC()
	}
	return t.clock.Now()
}

// AddTotal grows the expected number of ids.
func (t *Tracker) AddTotal(n int) {
	if t == nil || n <= 0 {
		return
	}
	t.total.Add(int64(n))
}

// Skip counts an id resolved without a network call.
func (t *Tracker) Skip() {
	if t == nil {
		return
	}
	t.skipped.Add(1)
}

// Observe counts one processed id by outcome.
func (t *Tracker) Observe(kind harvest.OutcomeKind) {
	if t == nil {
		return
	}
	switch kind {
	case harvest.OutcomeAccepted:
		t.accepted.Add(1)
	case harvest.OutcomePending:
		t.pending.Add(1)
	case harvest.OutcomeDiscarded:
		t.discarded.Add(1)
	}
	t.tick()
}

// Unresolved counts a processed id that could not be classified.
func (t *Tracker) Unresolved() {
	if t == nil {
		return
	}
	t.unresolved.Add(1)
	t.tick()
}

func (t *Tracker) tick() {
	if n := t.processed.Add(1); n%t.every == 0 {
		snap := t.Snapshot()
		fields := []zap.Field{
			zap.Int64("done", snap.Done),
			zap.Int64("processed", snap.Processed),
		}
		if snap.Total > 0 {
			fields = append(fields, zap.Int64("total", snap.Total), zap.Float64("percent", snap.Percent))
		}
		t.logger.Info("progress", fields...)
	}
}

// Snapshot copies the counters.
func (t *Tracker) Snapshot() Snapshot {
	if t == nil {
		return Snapshot{}
	}
	snap := Snapshot{
		Total:      t.total.Load(),
		Processed:  t.processed.Load(),
		Skipped:    t.skipped.Load(),
		Accepted:   t.accepted.Load(),
		Pending:    t.pending.Load(),
		Discarded:  t.discarded.Load(),
		Unresolved: t.unresolved.Load(),
		StartedAt:  t.started,
		Elapsed:    t.now().Sub(t.started).Round(time.Second).String(),
	}
	snap.Done = snap.Processed + snap.Skipped
	if snap.Total > 0 {
		snap.Percent = float64(snap.Done) * 100 / float64(snap.Total)
	}
	return snap
}
