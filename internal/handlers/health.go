package handlers

import (
	"context"
	"net/http"
	"time"
)

const version = "0.1.0"

// Check represents the status of a health check.
type Check struct {
	Status  string `json:"status"` // "pass", "fail" or "disabled"
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string           `json:"status"` // "ok" or "degraded"
	Version   string           `json:"version"`
	Clients   int              `json:"clients"`
	Checks    map[string]Check `json:"checks"`
	Timestamp string           `json:"timestamp"`
}

// Health reports connected clients and the analytics store. A failing
// store degrades the status but the board keeps working without it, so
// the response is still 200.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]Check)
	status := "ok"

	if h.analytics != nil {
		start := time.Now()
		if err := h.analytics.Ping(ctx); err != nil {
			checks["analytics"] = Check{Status: "fail", Message: "connection failed"}
			status = "degraded"
		} else {
			checks["analytics"] = Check{Status: "pass", Latency: time.Since(start).String()}
		}
	} else {
		checks["analytics"] = Check{Status: "disabled"}
	}

	h.JSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Version:   version,
		Clients:   h.hub.ClientCount(),
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
