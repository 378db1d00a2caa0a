// Package file persists crawl state as three JSON documents: the accepted
// dataset keyed by id, the pending-release list and the discarded list.
// Mutations stay in memory until Checkpoint, which replaces each file
// atomically and keeps the previous version as a .bak sibling.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/steam-harvester/internal/archive"
	"github.com/JakeFAU/steam-harvester/internal/harvest"
	"github.com/JakeFAU/steam-harvester/internal/metrics"
	"github.com/JakeFAU/steam-harvester/internal/state"
	"github.com/JakeFAU/steam-harvester/internal/storage/local"
)

// Paths locates the three documents.
type Paths struct {
	Accepted  string
	Pending   string
	Discarded string
}

func (p Paths) of(col harvest.Collection) string {
	switch col {
	case harvest.CollectionAccepted:
		return p.Accepted
	case harvest.CollectionPending:
		return p.Pending
	case harvest.CollectionDiscarded:
		return p.Discarded
	default:
		return ""
	}
}

// Archiver receives a copy of all three documents after every full checkpoint.
type Archiver interface {
	Archive(ctx context.Context, objects ...archive.Object) ([]string, error)
}

// Option customizes a Store.
type Option func(*Store)

// WithArchiver uploads snapshots after full checkpoints.
func WithArchiver(a Archiver) Option {
	return func(s *Store) { s.archiver = a }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithoutBackup disables the .bak copy of replaced files.
func WithoutBackup() Option {
	return func(s *Store) { s.backup = false }
}

// Store is a file-backed harvest.Store. It is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	paths    Paths
	state    *state.State
	backup   bool
	archiver Archiver
	logger   *zap.Logger
}

// Open loads the three documents. A missing file is read from its .bak copy
// when one exists, otherwise it loads as an empty collection, as does an
// empty file; a file that exists but cannot be parsed is an error.
func Open(paths Paths, opts ...Option) (*Store, error) {
	for _, col := range harvest.AllCollections {
		if strings.TrimSpace(paths.of(col)) == "" {
			return nil, fmt.Errorf("path for %s collection is required", col)
		}
	}
	s := &Store{
		paths:  paths,
		state:  state.New(),
		backup: true,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, col := range harvest.AllCollections {
		path := paths.of(col)
		// #nosec G304 -- paths come from operator configuration.
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			path = bakName(path)
			// #nosec G304 -- derived from operator configuration.
			data, err = os.ReadFile(path)
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			if err == nil {
				s.logger.Warn("restoring collection from backup", zap.String("collection", string(col)), zap.String("path", path))
			}
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", harvest.ErrPersistence, path, err)
		}
		if err := s.state.Decode(col, data); err != nil {
			return nil, fmt.Errorf("%w: load %s: %v", harvest.ErrPersistence, path, err)
		}
	}
	s.state.Normalize()

	counts := s.state.Counts()
	s.logger.Info("loaded crawl state",
		zap.Int("accepted", counts.Accepted),
		zap.Int("pending", counts.Pending),
		zap.Int("discarded", counts.Discarded),
	)
	return s, nil
}

// Status implements harvest.Store.
func (s *Store) Status(_ context.Context, id string) (harvest.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Status(id), nil
}

// RecordAccepted implements harvest.Store.
func (s *Store) RecordAccepted(_ context.Context, id string, rec harvest.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: marshal record %s: %v", harvest.ErrPersistence, id, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Accept(id, raw)
	return nil
}

// RecordPending implements harvest.Store.
func (s *Store) RecordPending(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.AddPending(id)
	return nil
}

// RecordDiscarded implements harvest.Store.
func (s *Store) RecordDiscarded(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.AddDiscarded(id)
	return nil
}

// Counts implements harvest.Store.
func (s *Store) Counts(_ context.Context) (harvest.Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Counts(), nil
}

// Record returns the stored bytes of an accepted record.
func (s *Store) Record(id string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.state.Record(id)
	return append(json.RawMessage(nil), raw...), ok
}

// Checkpoint writes the named collections, or all three when none are named.
// Each file is replaced atomically, so a crash leaves the previous checkpoint
// readable. Errors wrap harvest.ErrPersistence.
func (s *Store) Checkpoint(ctx context.Context, collections ...harvest.Collection) error {
	full := len(collections) == 0
	if full {
		collections = harvest.AllCollections
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	written := make([]archive.Object, 0, len(collections))
	for _, col := range collections {
		path := s.paths.of(col)
		if path == "" {
			return fmt.Errorf("%w: unknown collection %q", harvest.ErrPersistence, col)
		}
		data, err := s.state.Encode(col)
		if err == nil {
			err = local.WriteFileAtomic(path, data, s.backupPath(path))
		}
		metrics.ObserveCheckpoint(string(col), err)
		if err != nil {
			return fmt.Errorf("%w: checkpoint %s: %v", harvest.ErrPersistence, path, err)
		}
		written = append(written, archive.Object{Name: filepath.Base(path), Data: data})
	}
	s.logger.Debug("checkpoint written", zap.Int("collections", len(written)))

	if full && s.archiver != nil {
		if _, err := s.archiver.Archive(ctx, written...); err != nil {
			s.logger.Warn("snapshot archive failed", zap.Error(err))
		}
	}
	return nil
}

// backupPath mirrors the legacy layout: games.json is backed up as games.bak.
func (s *Store) backupPath(path string) string {
	if !s.backup {
		return ""
	}
	return bakName(path)
}

func bakName(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".bak"
}

// Close implements harvest.Store. It does not checkpoint.
func (s *Store) Close() error {
	return nil
}
