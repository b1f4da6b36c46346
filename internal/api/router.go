package api

import (
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/signalboard/signalboard/internal/analytics"
	"github.com/signalboard/signalboard/internal/api/middleware"
	"github.com/signalboard/signalboard/internal/handlers"
	"github.com/signalboard/signalboard/internal/protocol"
	"github.com/signalboard/signalboard/internal/relay"
	"github.com/signalboard/signalboard/internal/webhook"
)

// Deps are the collaborators the router serves. Analytics and Limiter may
// be nil.
type Deps struct {
	Hub       *relay.Hub
	Rooms     *protocol.Catalog
	Analytics analytics.Store
	Webhook   *webhook.Forwarder
	Limiter   relay.Limiter

	WSPath         string
	SendBuffer     int
	AllowedOrigins []string
}

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, deps Deps) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(deps.Hub, deps.Rooms, deps.Analytics, deps.Webhook, logger)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", h.Health)

	r.HandleFunc(deps.WSPath, relay.HandleWebSocket(deps.Hub, deps.Limiter, logger, relay.Options{
		SendBuffer:     deps.SendBuffer,
		OriginPatterns: originPatterns(deps.AllowedOrigins),
	}))

	r.Group(func(r chi.Router) {
		r.Use(middleware.MaxBodySize(64 * 1024))

		r.Get("/api/rooms", h.ListRooms)
		r.Get("/api/notices", h.ListNotices)

		r.Route("/api/analytics", func(r chi.Router) {
			r.Get("/flows", h.Flows)
			r.Get("/custom", h.CustomMessages)
			r.Get("/cancellations", h.Cancellations)
			r.Get("/counts", h.Counts)
			r.Get("/export.csv", h.ExportCSV)
			r.Delete("/{table}", h.ResetTable)
		})

		r.HandleFunc("/api/webhook", h.Webhook)
	})

	return r
}

// originPatterns maps the CORS origin list onto websocket.Accept host
// patterns. An empty list keeps the same-origin check.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimPrefix(o, "https://")
		patterns = append(patterns, strings.TrimPrefix(o, "http://"))
	}
	return patterns
}
