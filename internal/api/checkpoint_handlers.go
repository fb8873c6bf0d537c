package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/contributor-crawler/internal/crawler"
	"github.com/JakeFAU/contributor-crawler/internal/store"
)

const (
	defaultCheckpointLimit = 50
	maxCheckpointLimit     = 500
	checkpointTimeout      = 3 * time.Second
)

// CheckpointHandler exposes read-only views of live checkpoints.
type CheckpointHandler struct {
	repo    store.CheckpointStore
	timeout time.Duration
	logger  *zap.Logger
}

// NewCheckpointHandler wires the checkpoint store and logger.
func NewCheckpointHandler(repo store.CheckpointStore, logger *zap.Logger) *CheckpointHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CheckpointHandler{
		repo:    repo,
		timeout: checkpointTimeout,
		logger:  logger,
	}
}

// List handles GET /v1/checkpoints?limit=&offset=. It returns
// {"checkpoints": [...]} ordered by keyword, 400 for invalid paging, 503 when
// no store is wired, or 500 if the store call fails.
func (h *CheckpointHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "checkpoint store unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultCheckpointLimit, maxCheckpointLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cps, err := h.repo.List(ctx)
	if err != nil {
		h.logger.Error("list checkpoints failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list checkpoints")
		return
	}
	if offset >= len(cps) {
		cps = nil
	} else {
		cps = cps[offset:]
	}
	if len(cps) > limit {
		cps = cps[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"checkpoints": toCheckpointDTOs(cps),
	})
}

// Get handles GET /v1/checkpoints/{keyword}. It returns {"checkpoint": {...}}
// or 404 when the keyword has nothing to resume.
func (h *CheckpointHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "checkpoint store unavailable")
		return
	}
	keyword := strings.TrimSpace(chi.URLParam(r, "keyword"))
	if keyword == "" {
		writeError(w, http.StatusBadRequest, "keyword is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cp, err := h.repo.Load(ctx, keyword)
	if err != nil {
		h.logger.Error("load checkpoint failed", zap.String("keyword", keyword), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load checkpoint")
		return
	}
	if cp == nil {
		writeError(w, http.StatusNotFound, "checkpoint not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"checkpoint": toCheckpointDTO(*cp)})
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func toCheckpointDTOs(in []crawler.Checkpoint) []checkpointDTO {
	out := make([]checkpointDTO, 0, len(in))
	for _, cp := range in {
		out = append(out, toCheckpointDTO(cp))
	}
	return out
}

func toCheckpointDTO(cp crawler.Checkpoint) checkpointDTO {
	dto := checkpointDTO{
		Keyword:            cp.Keyword,
		RunID:              cp.RunID,
		SubRangeIndex:      cp.SubRangeIndex,
		SubRanges:          len(cp.SubRanges),
		EntityIndex:        cp.EntityIndex,
		TotalEntitiesFound: cp.TotalEntitiesFound,
		LastUpdated:        cp.LastUpdated,
	}
	if !cp.Done() {
		cur := cp.SubRanges[cp.SubRangeIndex]
		dto.Current = &rangeDTO{Start: cur.Start, End: cur.End}
	}
	return dto
}

type checkpointDTO struct {
	Keyword            string    `json:"keyword"`
	RunID              string    `json:"run_id"`
	SubRangeIndex      int       `json:"sub_range_index"`
	SubRanges          int       `json:"sub_ranges"`
	EntityIndex        int       `json:"entity_index"`
	TotalEntitiesFound int       `json:"total_entities_found"`
	LastUpdated        time.Time `json:"last_updated"`
	Current            *rangeDTO `json:"current,omitempty"`
}

type rangeDTO struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}
