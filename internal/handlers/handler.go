package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/signalboard/signalboard/internal/analytics"
	"github.com/signalboard/signalboard/internal/protocol"
	"github.com/signalboard/signalboard/internal/relay"
	"github.com/signalboard/signalboard/internal/webhook"
)

// Handler contains shared dependencies for all HTTP handlers. analytics
// is nil when recording is disabled.
type Handler struct {
	hub       *relay.Hub
	rooms     *protocol.Catalog
	analytics analytics.Store
	webhook   *webhook.Forwarder
	logger    zerolog.Logger
}

// NewHandler creates a new Handler. forwarder may be nil.
func NewHandler(hub *relay.Hub, rooms *protocol.Catalog, store analytics.Store, forwarder *webhook.Forwarder, logger zerolog.Logger) *Handler {
	return &Handler{
		hub:       hub,
		rooms:     rooms,
		analytics: store,
		webhook:   forwarder,
		logger:    logger.With().Str("component", "handlers").Logger(),
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}
