package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/japaniel/wordfamily/pkg/bundle"
	"github.com/japaniel/wordfamily/pkg/db"
	"github.com/japaniel/wordfamily/pkg/logger"
	"github.com/japaniel/wordfamily/pkg/vocab"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// WordHandler serves the vocabulary endpoints from a local store.
type WordHandler struct {
	log   *logger.Logger
	store *db.Store
	now   func() time.Time
}

func NewWordHandler(log *logger.Logger, store *db.Store) *WordHandler {
	return &WordHandler{log: log.With("handler", "WordHandler"), store: store, now: time.Now}
}

func parseLevelParam(c *gin.Context) (vocab.Level, bool) {
	level, err := vocab.ParseLevel(c.Query("level"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_level", err)
		return "", false
	}
	return level, true
}

func intQuery(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return v, nil
}

// ListWords handles GET /words?startFrom&limit&level. hasMore is exact.
func (h *WordHandler) ListWords(c *gin.Context) {
	start, err := intQuery(c, "startFrom", 1)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_start", err)
		return
	}
	limit, err := intQuery(c, "limit", defaultLimit)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_limit", err)
		return
	}
	if start < 1 {
		start = 1
	}
	if limit < 1 {
		limit = 1
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	level, ok := parseLevelParam(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	words, err := h.store.GetWords(ctx, start, limit, level)
	if err != nil {
		h.log.Error("list words failed", "error", err)
		RespondError(c, http.StatusInternalServerError, "store_error", err)
		return
	}
	hasMore := false
	if len(words) > 0 {
		hasMore, err = h.store.HasWordsAfter(ctx, words[len(words)-1].WordID, level)
		if err != nil {
			RespondError(c, http.StatusInternalServerError, "store_error", err)
			return
		}
	}
	c.JSON(http.StatusOK, DataEnvelope{
		Success:    true,
		Data:       words,
		Pagination: &Pagination{HasMore: hasMore, StartFrom: start, Limit: limit},
	})
}

// FirstUnlearned handles GET /words/first-unlearned?level.
func (h *WordHandler) FirstUnlearned(c *gin.Context) {
	level, ok := parseLevelParam(c)
	if !ok {
		return
	}
	fu, err := h.store.GetFirstUnlearned(c.Request.Context(), level)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "store_error", err)
		return
	}
	RespondOK(c, fu)
}

// Counts handles GET /words/counts.
func (h *WordHandler) Counts(c *gin.Context) {
	counts, err := h.store.Counts(c.Request.Context())
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "store_error", err)
		return
	}
	RespondOK(c, counts)
}

// Stats handles GET /words/stats.
func (h *WordHandler) Stats(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context())
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "store_error", err)
		return
	}
	RespondOK(c, stats)
}

type setLearnedRequest struct {
	Learned *bool `json:"learned"`
}

// SetLearned handles POST /learned-words/:wordId with body {"learned": bool}.
func (h *WordHandler) SetLearned(c *gin.Context) {
	wordID, err := strconv.Atoi(c.Param("wordId"))
	if err != nil || wordID < 1 {
		RespondError(c, http.StatusBadRequest, "invalid_word_id", errors.New("wordId must be a positive integer"))
		return
	}
	var req setLearnedRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Learned == nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", errors.New(`body must be {"learned": bool}`))
		return
	}
	found, err := h.store.SetLearned(c.Request.Context(), wordID, *req.Learned, h.now())
	if err != nil {
		h.log.Error("set learned failed", "word_id", wordID, "error", err)
		RespondError(c, http.StatusInternalServerError, "store_error", err)
		return
	}
	if !found {
		RespondError(c, http.StatusNotFound, "not_found", fmt.Errorf("word %d not found", wordID))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type HealthHandler struct{}

func NewHealthHandler() *HealthHandler { return &HealthHandler{} }

func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// Seed loads the dataset into an empty store. It reports how many words were
// written; a store that already has words is left alone.
func Seed(ctx context.Context, store *db.Store, ds *bundle.Dataset) (int, error) {
	n, err := store.Count(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 || ds.Len() == 0 {
		return 0, nil
	}
	words := ds.Words()
	if err := store.PutWords(ctx, words); err != nil {
		return 0, fmt.Errorf("seed: %w", err)
	}
	return len(words), nil
}
