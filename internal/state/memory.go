package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/JakeFAU/steam-harvester/internal/harvest"
)

// Memory is a harvest.Store without durable storage. Checkpoints are counted
// but write nothing; it backs dry runs and tests.
type Memory struct {
	mu          sync.Mutex
	state       *State
	checkpoints map[harvest.Collection]int
}

// NewMemory wraps st, or a fresh State when st is nil.
func NewMemory(st *State) *Memory {
	if st == nil {
		st = New()
	}
	return &Memory{state: st, checkpoints: make(map[harvest.Collection]int)}
}

// Status implements harvest.Store.
func (m *Memory) Status(_ context.Context, id string) (harvest.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Status(id), nil
}

// RecordAccepted implements harvest.Store.
func (m *Memory) RecordAccepted(_ context.Context, id string, rec harvest.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: marshal record %s: %v", harvest.ErrPersistence, id, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Accept(id, raw)
	return nil
}

// RecordPending implements harvest.Store.
func (m *Memory) RecordPending(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.AddPending(id)
	return nil
}

// RecordDiscarded implements harvest.Store.
func (m *Memory) RecordDiscarded(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.AddDiscarded(id)
	return nil
}

// Checkpoint implements harvest.Store.
func (m *Memory) Checkpoint(_ context.Context, collections ...harvest.Collection) error {
	if len(collections) == 0 {
		collections = harvest.AllCollections
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, col := range collections {
		m.checkpoints[col]++
	}
	return nil
}

// Checkpoints reports how often col was checkpointed.
func (m *Memory) Checkpoints(col harvest.Collection) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkpoints[col]
}

// Counts implements harvest.Store.
func (m *Memory) Counts(_ context.Context) (harvest.Counts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Counts(), nil
}

// Record returns the stored bytes of an accepted record.
func (m *Memory) Record(id string) (json.RawMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.state.Record(id)
	return append(json.RawMessage(nil), raw...), ok
}

// Close implements harvest.Store.
func (m *Memory) Close() error {
	return nil
}
