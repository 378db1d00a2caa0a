// Package memory contains an in-memory indexer for tests and dry runs.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/steam-harvester/internal/publisher"
)

// Indexer stores indexed batches for inspection.
type Indexer struct {
	mu      sync.RWMutex
	batches [][]publisher.Document
	failing error
}

// New returns a memory Indexer.
func New() *Indexer {
	return &Indexer{}
}

// FailWith makes every following Index call return err. Nil restores success.
func (i *Indexer) FailWith(err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.failing = err
}

// Index records a copy of the batch.
func (i *Indexer) Index(_ context.Context, batch []publisher.Document) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.failing != nil {
		return i.failing
	}
	i.batches = append(i.batches, append([]publisher.Document(nil), batch...))
	return nil
}

// Batches returns the recorded batches.
func (i *Indexer) Batches() [][]publisher.Document {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([][]publisher.Document, len(i.batches))
	copy(out, i.batches)
	return out
}

// Documents flattens every recorded batch.
func (i *Indexer) Documents() []publisher.Document {
	var out []publisher.Document
	for _, b := range i.Batches() {
		out = append(out, b...)
	}
	return out
}

// Close implements publisher.Indexer.
func (i *Indexer) Close() error {
	return nil
}
