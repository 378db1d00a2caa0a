// Package steamapi wraps the three remote endpoints the harvester consumes:
// the catalog listing, the per-item detail endpoint and the popularity
// enrichment endpoint.
package steamapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/JakeFAU/steam-harvester/internal/harvest"
	"github.com/JakeFAU/steam-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/steam-harvester/internal/requester"
)

// Default endpoint locations.
const (
	DefaultAppListURL    = "http://api.steampowered.com/ISteamApps/GetAppList/v2/"
	DefaultDetailsURL    = "http://store.steampowered.com/api/appdetails/"
	DefaultEnrichmentURL = "https://steamspy.com/api.php"
)

// Config locates the endpoints and sets the locale of detail requests.
type Config struct {
	AppListURL    string
	DetailsURL    string
	EnrichmentURL string
	Currency      string
	Language      string
}

// Client issues catalog requests through a backoff requester.
type Client struct {
	req     *requester.Requester
	limiter *ratelimit.Limiter
	cfg     Config
	logger  *zap.Logger
}

// New builds a Client. limiter may be nil for unthrottled use.
func New(req *requester.Requester, limiter *ratelimit.Limiter, cfg Config, logger *zap.Logger) *Client {
	if cfg.AppListURL == "" {
		cfg.AppListURL = DefaultAppListURL
	}
	if cfg.DetailsURL == "" {
		cfg.DetailsURL = DefaultDetailsURL
	}
	if cfg.EnrichmentURL == "" {
		cfg.EnrichmentURL = DefaultEnrichmentURL
	}
	if cfg.Currency == "" {
		cfg.Currency = "us"
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{req: req, limiter: limiter, cfg: cfg, logger: logger}
}

type appListResponse struct {
	AppList struct {
		Apps []struct {
			AppID json.Number `json:"appid"`
		} `json:"apps"`
	} `json:"applist"`
}

// AppList fetches every item identifier in the catalog, in listing order, without duplicates.
func (c *Client) AppList(ctx context.Context, policy requester.Policy, state requester.Backoff) ([]string, requester.Backoff, error) {
	if err := c.wait(ctx, c.cfg.AppListURL); err != nil {
		return nil, state, err
	}
	resp, state, err := c.req.Get(ctx, c.cfg.AppListURL, nil, policy, state)
	if err != nil {
		return nil, state, fmt.Errorf("fetch app list: %w", err)
	}
	var payload appListResponse
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, state, fmt.Errorf("decode app list: %w", err)
	}
	seen := make(map[string]struct{}, len(payload.AppList.Apps))
	ids := make([]string, 0, len(payload.AppList.Apps))
	for _, app := range payload.AppList.Apps {
		id := app.AppID.String()
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, state, nil
}

// Details fetches the detail envelope of one item. The endpoint keys its
// response by id; the returned bytes are that inner envelope, or nil when the
// id is missing from the response.
func (c *Client) Details(ctx context.Context, id string, policy requester.Policy, state requester.Backoff) ([]byte, requester.Backoff, error) {
	if err := c.wait(ctx, c.cfg.DetailsURL); err != nil {
		return nil, state, err
	}
	query := url.Values{
		"appids": {id},
		"cc":     {c.cfg.Currency},
		"l":      {c.cfg.Language},
	}
	resp, state, err := c.req.Get(ctx, c.cfg.DetailsURL, query, policy, state)
	if err != nil {
		return nil, state, fmt.Errorf("fetch details for %s: %w", id, err)
	}
	body := bytes.TrimSpace(resp.Body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil, state, nil
	}
	var keyed map[string]json.RawMessage
	if err := json.Unmarshal(body, &keyed); err != nil {
		return nil, state, fmt.Errorf("details for %s: %w: %v", id, harvest.ErrMalformedPayload, err)
	}
	envelope, ok := keyed[id]
	if !ok || bytes.Equal(bytes.TrimSpace(envelope), []byte("null")) {
		return nil, state, nil
	}
	return envelope, state, nil
}

// Enrichment fetches popularity statistics for one item. It returns nil when
// the endpoint has nothing usable for the id; only request exhaustion and
// cancellation are reported as errors.
func (c *Client) Enrichment(ctx context.Context, id string, policy requester.Policy, state requester.Backoff) (*harvest.Popularity, requester.Backoff, error) {
	if err := c.wait(ctx, c.cfg.EnrichmentURL); err != nil {
		return nil, state, err
	}
	query := url.Values{
		"request": {"appdetails"},
		"appid":   {id},
	}
	resp, state, err := c.req.Get(ctx, c.cfg.EnrichmentURL, query, policy, state)
	if err != nil {
		return nil, state, fmt.Errorf("fetch enrichment for %s: %w", id, err)
	}
	pop, err := ParsePopularity(resp.Body)
	if err != nil {
		c.logger.Warn("unusable enrichment payload", zap.String("id", id), zap.Error(err))
		return nil, state, nil
	}
	return pop, state, nil
}

func (c *Client) wait(ctx context.Context, rawURL string) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx, rawURL); err != nil {
		return fmt.Errorf("throttle %s: %w", rawURL, err)
	}
	return nil
}
