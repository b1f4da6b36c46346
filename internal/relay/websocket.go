package relay

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/signalboard/signalboard/internal/metrics"
	"github.com/signalboard/signalboard/internal/protocol"
)

// Options configures the websocket endpoint.
type Options struct {
	// SendBuffer is the number of frames queued per client before it is
	// disconnected as too slow.
	SendBuffer int
	// OriginPatterns is passed to websocket.Accept. "*" accepts any origin.
	OriginPatterns []string
}

// HandleWebSocket upgrades the request and serves one board client until it
// disconnects. limiter may be nil to disable inbound rate limiting.
func HandleWebSocket(hub *Hub, limiter Limiter, logger zerolog.Logger, opts Options) http.HandlerFunc {
	logger = logger.With().Str("component", "websocket").Logger()

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			logger.Error().Err(err).Msg("websocket accept error")
			return
		}
		defer conn.CloseNow()

		client := NewClient(conn, r.RemoteAddr, opts.SendBuffer)
		if !hub.Register(client) {
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		}
		defer hub.Unregister(client)
		if mem, ok := limiter.(*RateLimiter); ok {
			defer mem.Forget(client.ID)
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		go func() {
			if err := client.writePump(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Debug().Err(err).Str("client", client.ID).Msg("write pump stopped")
			}
			cancel()
		}()

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				logger.Info().Str("client", client.ID).Err(err).Msg("client disconnected")
				return
			}

			payload, err := protocol.Decode(data)
			if err != nil {
				metrics.EventsRejected.WithLabelValues("invalid").Inc()
				logger.Warn().Str("client", client.ID).Err(err).Msg("invalid event")
				hub.Reply(client, protocol.Error{Message: err.Error()})
				continue
			}

			if limiter != nil && !limiter.Allow(ctx, limitKey(limiter, client)) {
				metrics.EventsRejected.WithLabelValues("rate_limited").Inc()
				logger.Warn().
					Str("client", client.ID).
					Str("remote_addr", client.RemoteAddr).
					Str("event", payload.Event()).
					Msg("rate limit exceeded")
				hub.Reply(client, protocol.Error{Message: "rate limit exceeded"})
				continue
			}

			hub.Publish(client, payload)
		}
	}
}

// limitKey picks the budget an event is charged to. The shared Redis
// budget follows the client address so reconnecting or spreading
// connections across processes does not reset it; the in-process budget
// is per connection.
func limitKey(limiter Limiter, c *Client) string {
	if _, ok := limiter.(*RedisLimiter); ok {
		return clientHost(c.RemoteAddr)
	}
	return c.ID
}

// clientHost strips the port from a RemoteAddr, which chi's RealIP
// middleware may already have replaced with a bare address.
func clientHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
