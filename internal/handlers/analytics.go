package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/signalboard/signalboard/internal/analytics"
)

// dateParam returns the ?date= filter, validated as YYYY-MM-DD.
func dateParam(r *http.Request) (string, error) {
	date := r.URL.Query().Get("date")
	if date == "" {
		return "", nil
	}
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		return "", errors.New("date must be YYYY-MM-DD")
	}
	return date, nil
}

// requireAnalytics writes 503 and returns false when recording is disabled.
func (h *Handler) requireAnalytics(w http.ResponseWriter) bool {
	if h.analytics == nil {
		h.Error(w, http.StatusServiceUnavailable, "analytics disabled")
		return false
	}
	return true
}

// Flows lists message flows, newest first.
func (h *Handler) Flows(w http.ResponseWriter, r *http.Request) {
	if !h.requireAnalytics(w) {
		return
	}
	date, err := dateParam(r)
	if err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	flows, err := h.analytics.Flows(r.Context(), date)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list flows")
		h.Error(w, http.StatusInternalServerError, "failed to list flows")
		return
	}
	h.JSON(w, http.StatusOK, flows)
}

// CustomMessages lists custom request texts, newest first.
func (h *Handler) CustomMessages(w http.ResponseWriter, r *http.Request) {
	if !h.requireAnalytics(w) {
		return
	}
	date, err := dateParam(r)
	if err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	messages, err := h.analytics.CustomMessages(r.Context(), date)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list custom messages")
		h.Error(w, http.StatusInternalServerError, "failed to list custom messages")
		return
	}
	h.JSON(w, http.StatusOK, messages)
}

// Cancellations lists withdrawn requests, newest first.
func (h *Handler) Cancellations(w http.ResponseWriter, r *http.Request) {
	if !h.requireAnalytics(w) {
		return
	}
	date, err := dateParam(r)
	if err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	cancellations, err := h.analytics.Cancellations(r.Context(), date)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list cancellations")
		h.Error(w, http.StatusInternalServerError, "failed to list cancellations")
		return
	}
	h.JSON(w, http.StatusOK, cancellations)
}

// Counts returns the row count of every analytics table.
func (h *Handler) Counts(w http.ResponseWriter, r *http.Request) {
	if !h.requireAnalytics(w) {
		return
	}
	counts, err := h.analytics.Counts(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to count analytics rows")
		h.Error(w, http.StatusInternalServerError, "failed to count rows")
		return
	}
	h.JSON(w, http.StatusOK, counts)
}

// ExportCSV streams message flows as a CSV attachment.
func (h *Handler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	if !h.requireAnalytics(w) {
		return
	}
	date, err := dateParam(r)
	if err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	flows, err := h.analytics.Flows(r.Context(), date)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to export flows")
		h.Error(w, http.StatusInternalServerError, "failed to export flows")
		return
	}

	name := "message-flows.csv"
	if date != "" {
		name = "message-flows-" + date + ".csv"
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	if err := analytics.WriteFlowsCSV(w, flows); err != nil {
		h.logger.Error().Err(err).Msg("failed to write csv")
	}
}

// ResetTable deletes every row of one analytics table.
func (h *Handler) ResetTable(w http.ResponseWriter, r *http.Request) {
	if !h.requireAnalytics(w) {
		return
	}
	table := analytics.Table(chi.URLParam(r, "table"))
	n, err := h.analytics.Reset(r.Context(), table)
	if errors.Is(err, analytics.ErrUnknownTable) {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("table", string(table)).Msg("failed to reset table")
		h.Error(w, http.StatusInternalServerError, "failed to reset table")
		return
	}
	h.logger.Info().Str("table", string(table)).Int64("deleted", n).Msg("analytics table reset")
	h.JSON(w, http.StatusOK, map[string]any{"table": table, "deleted": n})
}
