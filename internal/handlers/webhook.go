package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/signalboard/signalboard/internal/metrics"
	"github.com/signalboard/signalboard/internal/webhook"
)

// Webhook relays a client-posted JSON body to the url chosen by its
// "type" field and mirrors the upstream status.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "body too large")
		return
	}
	var req struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if h.webhook == nil {
		h.Error(w, http.StatusInternalServerError, req.Type+" webhook not configured")
		return
	}
	status, upstream, err := h.webhook.Forward(r.Context(), req.Type, body)
	if errors.Is(err, webhook.ErrNotConfigured) {
		h.logger.Error().Str("type", req.Type).Msg("webhook url not configured")
		h.Error(w, http.StatusInternalServerError, req.Type+" webhook not configured")
		return
	}
	if err != nil {
		metrics.SinkFailures.WithLabelValues("webhook").Inc()
		h.logger.Error().Err(err).Str("type", req.Type).Msg("failed to forward webhook")
		h.Error(w, http.StatusInternalServerError, "failed to forward request")
		return
	}

	details := upstreamDetails(upstream)
	if status >= http.StatusOK && status < http.StatusMultipleChoices {
		h.JSON(w, http.StatusOK, map[string]any{"success": true, "upstreamResponse": details})
		return
	}
	h.logger.Warn().Int("status", status).Str("type", req.Type).Msg("webhook upstream failed")
	h.JSON(w, status, map[string]any{"error": "webhook failed", "details": details})
}

// upstreamDetails keeps a JSON response as-is and wraps anything else as
// a string.
func upstreamDetails(body []byte) any {
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	return string(body)
}
