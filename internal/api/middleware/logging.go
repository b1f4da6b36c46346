package middleware

import (
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Logger logs one line per request, at warn for 4xx and error for 5xx.
// A websocket upgrade is logged when the session closes, so its duration
// is the length of the board connection.
func Logger(logger zerolog.Logger) func(next http.Handler) http.Handler {
	logger = logger.With().Str("component", "http").Logger()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			upgrade := isWebSocketUpgrade(r)

			defer func() {
				status := ww.Status()
				var ev *zerolog.Event
				switch {
				case status >= http.StatusInternalServerError:
					ev = logger.Error()
				case status >= http.StatusBadRequest:
					ev = logger.Warn()
				default:
					ev = logger.Info()
				}
				ev = ev.
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", status).
					Str("request_id", chimw.GetReqID(r.Context())).
					Str("remote_addr", r.RemoteAddr)
				if upgrade {
					ev.Bool("websocket", true).
						Dur("session", time.Since(start)).
						Msg("websocket session closed")
					return
				}
				ev.Int("bytes", ww.BytesWritten()).
					Dur("latency", time.Since(start)).
					Msg("request completed")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
