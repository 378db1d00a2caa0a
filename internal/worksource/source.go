// Package worksource produces the list of item ids a crawl campaign visits.
package worksource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/steam-harvester/internal/harvest"
	"github.com/JakeFAU/steam-harvester/internal/requester"
	"github.com/JakeFAU/steam-harvester/internal/storage/local"
)

// Lister fetches the full catalog listing in one request.
type Lister interface {
	AppList(ctx context.Context, policy requester.Policy, state requester.Backoff) ([]string, requester.Backoff, error)
}

// Config controls where the listing is cached and how it is fetched.
type Config struct {
	CachePath string
	Shuffle   bool
	Policy    requester.Policy
	// Seed is the initial backoff delay for the listing request.
	Seed time.Duration
}

// Source resolves the id backlog from explicit ids, the cache file or the
// catalog endpoint, in that order of preference.
type Source struct {
	lister Lister
	cfg    Config
	rng    *rand.Rand
	logger *zap.Logger
}

// New constructs a Source. A nil rng uses an unseeded generator.
func New(lister Lister, cfg Config, rng *rand.Rand, logger *zap.Logger) *Source {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{lister: lister, cfg: cfg, rng: rng, logger: logger}
}

// List returns explicit unchanged when it is non-empty. Otherwise it loads or
// fetches the catalog listing and shuffles it once.
func (s *Source) List(ctx context.Context, explicit []string) ([]string, error) {
	if len(explicit) > 0 {
		return explicit, nil
	}

	ids, err := s.readCache()
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids, err = s.fetch(ctx)
		if err != nil {
			return nil, err
		}
	}
	if len(ids) == 0 {
		return nil, harvest.ErrEmptyWorkSource
	}
	if s.cfg.Shuffle {
		s.rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	}
	return ids, nil
}

// readCache returns nil ids when no usable cache exists.
func (s *Source) readCache() ([]string, error) {
	if s.cfg.CachePath == "" {
		return nil, nil
	}
	data, err := os.ReadFile(s.cfg.CachePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read applist cache: %v", harvest.ErrPersistence, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parse applist cache %s: %v", harvest.ErrPersistence, s.cfg.CachePath, err)
	}
	ids := make([]string, 0, len(raw))
	for _, r := range raw {
		ids = append(ids, strings.Trim(string(bytes.TrimSpace(r)), `"`))
	}
	s.logger.Info("loaded cached applist", zap.String("path", s.cfg.CachePath), zap.Int("ids", len(ids)))
	return ids, nil
}

func (s *Source) fetch(ctx context.Context) ([]string, error) {
	if s.lister == nil {
		return nil, harvest.ErrEmptyWorkSource
	}
	s.logger.Info("requesting catalog listing")
	seed := requester.NewBackoff(s.cfg.Seed)
	ids, _, err := s.lister.AppList(ctx, s.cfg.Policy, seed)
	if err != nil {
		return nil, fmt.Errorf("list catalog: %w", err)
	}
	if len(ids) == 0 || s.cfg.CachePath == "" {
		return ids, nil
	}
	data, err := json.MarshalIndent(ids, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("encode applist cache: %w", err)
	}
	if err := local.WriteFileAtomic(s.cfg.CachePath, data, ""); err != nil {
		return nil, fmt.Errorf("%w: write applist cache: %v", harvest.ErrPersistence, err)
	}
	return ids, nil
}

// ReadIDsFile parses an explicit id list. Ids may be separated by commas or
// newlines; only the first column of each line is used and non-numeric
// header cells are ignored.
func ReadIDsFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ids file: %w", err)
	}
	lines := strings.FieldsFunc(string(data), func(r rune) bool { return r == '\n' || r == '\r' })
	multiColumn := false
	for _, line := range lines {
		if strings.Count(line, ",") > 0 && !allNumericCells(line) {
			multiColumn = true
			break
		}
	}

	var ids []string
	seen := make(map[string]struct{})
	add := func(cell string) {
		cell = strings.Trim(strings.TrimSpace(cell), `"`)
		if _, err := strconv.ParseUint(cell, 10, 64); err != nil {
			return
		}
		if _, dup := seen[cell]; dup {
			return
		}
		seen[cell] = struct{}{}
		ids = append(ids, cell)
	}
	for _, line := range lines {
		if multiColumn {
			add(strings.SplitN(line, ",", 2)[0])
			continue
		}
		for _, cell := range strings.Split(line, ",") {
			add(cell)
		}
	}
	return ids, nil
}

func allNumericCells(line string) bool {
	for _, cell := range strings.Split(line, ",") {
		cell = strings.Trim(strings.TrimSpace(cell), `"`)
		if cell == "" {
			continue
		}
		if _, err := strconv.ParseUint(cell, 10, 64); err != nil {
			return false
		}
	}
	return true
}
