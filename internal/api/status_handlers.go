package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/steam-harvester/internal/harvest"
	"github.com/JakeFAU/steam-harvester/internal/progress"
)

const (
	defaultPreviewLimit = 20
	maxPreviewLimit     = 500
	statusTimeout       = 3 * time.Second
)

type statusResponse struct {
	Run      progress.Snapshot `json:"run"`
	Stored   *harvest.Counts   `json:"stored,omitempty"`
	Queued   *int              `json:"queued,omitempty"`
	Warnings []string          `json:"warnings,omitempty"`
}

// status handles GET /v1/status. Run counters always come back; stored
// collection sizes and queue depth are included when their backends answer.
func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	resp := statusResponse{Run: s.tracker.Snapshot()}
	if s.store != nil {
		counts, err := s.store.Counts(ctx)
		if err != nil {
			s.logger.Warn("status counts failed", zap.Error(err))
			resp.Warnings = append(resp.Warnings, "store counts unavailable")
		} else {
			resp.Stored = &counts
		}
	}
	if s.queue != nil {
		n, err := s.queue.Len(ctx)
		if err != nil {
			s.logger.Warn("status queue length failed", zap.Error(err))
			resp.Warnings = append(resp.Warnings, "queue length unavailable")
		} else {
			resp.Queued = &n
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// queuePreview handles GET /v1/queue?limit=. It lists the next ids in pop
// order without removing them.
func (s *Server) queuePreview(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeError(w, http.StatusNotFound, "no shared queue in this run")
		return
	}
	limit, err := parseLimit(r, defaultPreviewLimit, maxPreviewLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	ids, err := s.queue.Snapshot(ctx, limit)
	if err != nil {
		s.logger.Error("queue snapshot failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read queue")
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ids": ids})
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	return min(val, maxLimit), nil
}
