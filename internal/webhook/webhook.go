// Package webhook forwards room actions and display state changes to
// external automation endpoints.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/signalboard/signalboard/internal/metrics"
	"github.com/signalboard/signalboard/internal/protocol"
	"github.com/signalboard/signalboard/internal/relay"
)

// Kinds of forwarded payloads, carried in the body's "type" field.
const (
	KindRoomAction = "room-action"
	KindRoomState  = "room-state"
)

// maxResponseBytes caps how much of an upstream response is kept.
const maxResponseBytes = 64 * 1024

var ErrNotConfigured = errors.New("webhook url not configured")

// Payload is the body posted for hub-originated forwards.
type Payload struct {
	Type      string `json:"type"`
	Action    string `json:"action,omitempty"`
	State     string `json:"state,omitempty"`
	Timestamp string `json:"timestamp"`
}

type Forwarder struct {
	client *http.Client
	urls   map[string]string
	logger zerolog.Logger
	wg     sync.WaitGroup
}

// NewForwarder creates a forwarder. An empty url disables that kind.
func NewForwarder(roomActionURL, roomStateURL string, timeout time.Duration, logger zerolog.Logger) *Forwarder {
	return &Forwarder{
		client: &http.Client{Timeout: timeout},
		urls: map[string]string{
			KindRoomAction: roomActionURL,
			KindRoomState:  roomStateURL,
		},
		logger: logger.With().Str("component", "webhook").Logger(),
	}
}

// Enabled reports whether any webhook url is configured.
func (f *Forwarder) Enabled() bool {
	for _, u := range f.urls {
		if u != "" {
			return true
		}
	}
	return false
}

// Forward posts body to the url configured for kind and returns the
// upstream status and body.
func (f *Forwarder) Forward(ctx context.Context, kind string, body []byte) (int, []byte, error) {
	url := f.urls[kind]
	if url == "" {
		return 0, nil, fmt.Errorf("%w: %q", ErrNotConfigured, kind)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := f.client.Do(req)
	metrics.WebhookLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, respBody, nil
}

// Observe forwards room actions and display state changes in the
// background. Other events are ignored.
func (f *Forwarder) Observe(ev relay.Event) {
	var p Payload
	switch v := ev.Payload.(type) {
	case protocol.RoomActionResponse:
		p = Payload{Type: KindRoomAction, Action: v.Action}
	case protocol.RoomStateChange:
		p = Payload{Type: KindRoomState, State: v.State.String()}
	default:
		return
	}
	if f.urls[p.Type] == "" {
		return
	}
	p.Timestamp = ev.At.UTC().Format(time.RFC3339)

	body, err := json.Marshal(p)
	if err != nil {
		f.logger.Error().Err(err).Msg("failed to encode webhook payload")
		return
	}

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		status, _, err := f.Forward(context.Background(), p.Type, body)
		if err == nil && status >= http.StatusBadRequest {
			err = fmt.Errorf("upstream status %d", status)
		}
		if err != nil {
			metrics.SinkFailures.WithLabelValues("webhook").Inc()
			f.logger.Warn().Err(err).Str("type", p.Type).Msg("webhook forward failed")
			return
		}
		f.logger.Debug().Str("type", p.Type).Msg("webhook forwarded")
	}()
}

// Wait blocks until in-flight background forwards have finished.
func (f *Forwarder) Wait() {
	f.wg.Wait()
}
