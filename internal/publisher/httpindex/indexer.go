// Package httpindex posts document batches to a search indexing API.
package httpindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/JakeFAU/steam-harvester/internal/publisher"
	"github.com/JakeFAU/steam-harvester/internal/requester"
)

// Config locates the indexing API.
type Config struct {
	Endpoint string
	Dataset  string
	APIKey   string
	Retries  int
	// Backoff is the initial retry delay.
	Backoff time.Duration
}

// Indexer sends each batch as one JSON array through a backoff requester.
type Indexer struct {
	req *requester.Requester
	cfg Config

	mu    sync.Mutex
	state requester.Backoff
}

// New constructs an Indexer.
func New(req *requester.Requester, cfg Config) (*Indexer, error) {
	if req == nil {
		return nil, errors.New("requester is required")
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("publish.endpoint is required")
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	return &Indexer{req: req, cfg: cfg, state: requester.NewBackoff(cfg.Backoff)}, nil
}

// Index implements publisher.Indexer.
func (i *Indexer) Index(ctx context.Context, batch []publisher.Document) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}
	header := http.Header{}
	if i.cfg.Dataset != "" {
		header.Set("TR-Dataset", i.cfg.Dataset)
	}
	if i.cfg.APIKey != "" {
		header.Set("Authorization", i.cfg.APIKey)
	}
	policy := requester.Policy{Endpoint: "index", Retries: i.cfg.Retries, Floor: i.cfg.Backoff}

	i.mu.Lock()
	defer i.mu.Unlock()
	_, next, err := i.req.Post(ctx, i.cfg.Endpoint, header, body, policy, i.state)
	i.state = next
	if err != nil {
		return fmt.Errorf("post batch: %w", err)
	}
	return nil
}

// Close implements publisher.Indexer.
func (i *Indexer) Close() error {
	return nil
}
