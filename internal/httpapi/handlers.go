// LifeMap - Privacy-Oriented Location Journaling
// Copyright 2026 LifeMap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lifemap-app/lifemap

package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/lifemap-app/lifemap/internal/logging"
	"github.com/lifemap-app/lifemap/internal/metrics"
	"github.com/lifemap-app/lifemap/internal/point"
	"github.com/lifemap-app/lifemap/internal/store"
)

const (
	// MaxSyncBatch is the largest envelope batch one sync request may carry.
	MaxSyncBatch = 100

	// MaxPointsLimit caps a single points-query page.
	MaxPointsLimit = 5000

	// DefaultPointsLimit applies when a points query omits limit.
	DefaultPointsLimit = 1000
)

// syncRequest is the body of POST /location/sync.
type syncRequest struct {
	Points []*point.Envelope `json:"points" validate:"required,min=1,dive,required"`
}

// syncResponse mirrors the client's SyncResponse.
type syncResponse struct {
	Success     bool     `json:"success"`
	SyncedCount int      `json:"syncedCount"`
	FailedCount int      `json:"failedCount"`
	Errors      []string `json:"errors,omitempty"`
}

// Handler implements the remote sync and query endpoints over an
// EnvelopeStore. It only ever sees ciphertext.
type Handler struct {
	envelopes *store.EnvelopeStore
	validate  *validator.Validate
}

// NewHandler creates a handler backed by the given envelope store.
func NewHandler(envelopes *store.EnvelopeStore) *Handler {
	return &Handler{
		envelopes: envelopes,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Sync handles POST /location/sync. Valid envelopes are stored; invalid
// entries are reported per index without failing the whole batch, matching
// the partial-success contract the client's retry policy expects.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authenticated user")
		return
	}

	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if len(req.Points) == 0 {
		writeError(w, http.StatusBadRequest, "points array is required and must not be empty")
		return
	}
	if len(req.Points) > MaxSyncBatch {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("batch exceeds maximum of %d points", MaxSyncBatch))
		return
	}

	resp := syncResponse{}
	for i, env := range req.Points {
		if err := h.validateEnvelope(env, userID); err != nil {
			resp.FailedCount++
			resp.Errors = append(resp.Errors, fmt.Sprintf("point %d: %s", i, err))
			continue
		}
		if _, err := h.envelopes.Put(r.Context(), env); err != nil {
			logging.Error().Err(err).Str("id", env.ID).Msg("Envelope store write failed")
			resp.FailedCount++
			resp.Errors = append(resp.Errors, fmt.Sprintf("point %d: storage failure", i))
			continue
		}
		resp.SyncedCount++
	}
	resp.Success = resp.FailedCount == 0

	logging.Debug().
		Str("user", userID).
		Int("synced", resp.SyncedCount).
		Int("failed", resp.FailedCount).
		Msg("Sync batch processed")
	writeJSON(w, http.StatusOK, resp)
}

// validateEnvelope checks structural validity and that the envelope belongs
// to the authenticated user. Cross-user uploads are rejected, never stored.
func (h *Handler) validateEnvelope(env *point.Envelope, userID string) error {
	if env == nil {
		return fmt.Errorf("null entry")
	}
	if err := h.validate.Struct(env); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			return fmt.Errorf("invalid field %s", errs[0].Field())
		}
		return fmt.Errorf("invalid envelope")
	}
	if env.OwnerID != userID {
		return fmt.Errorf("owner mismatch")
	}
	return nil
}

// Points handles GET /location/points: a paged listing of the
// authenticated user's envelopes, optionally bounded by startDate/endDate
// (RFC3339 or epoch milliseconds).
func (h *Handler) Points(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authenticated user")
		return
	}

	q := store.EnvelopeQuery{Limit: DefaultPointsLimit}
	params := r.URL.Query()

	if v := params.Get("startDate"); v != "" {
		ms, err := parseTimestamp(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid startDate")
			return
		}
		q.StartMs = ms
	}
	if v := params.Get("endDate"); v != "" {
		ms, err := parseTimestamp(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid endDate")
			return
		}
		q.EndMs = ms
	}
	if v := params.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		if limit > MaxPointsLimit {
			limit = MaxPointsLimit
		}
		q.Limit = limit
	}
	if v := params.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		q.Offset = offset
	}

	page, err := h.envelopes.QueryByOwner(r.Context(), userID, q)
	if err != nil {
		logging.Error().Err(err).Str("user", userID).Msg("Envelope query failed")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if page.Points == nil {
		page.Points = []*point.Envelope{}
	}
	writeJSON(w, http.StatusOK, page)
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// parseTimestamp accepts RFC3339 or epoch milliseconds and returns epoch
// milliseconds.
func parseTimestamp(v string) (int64, error) {
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return ms, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	if status == http.StatusTooManyRequests {
		metrics.APIRateLimited.Inc()
	}
	writeJSON(w, status, map[string]any{"success": false, "error": message})
}
