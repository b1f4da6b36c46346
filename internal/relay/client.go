package relay

import (
	"context"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const writeTimeout = 5 * time.Second

// Client is one websocket connection registered with the hub. The hub owns
// the send channel: only the hub loop writes to it or closes it.
type Client struct {
	ID         string
	RemoteAddr string
	conn       *websocket.Conn
	send       chan []byte
}

func NewClient(conn *websocket.Conn, remoteAddr string, buffer int) *Client {
	if buffer <= 0 {
		buffer = 1
	}
	return &Client{
		ID:         uuid.NewString(),
		RemoteAddr: remoteAddr,
		conn:       conn,
		send:       make(chan []byte, buffer),
	}
}

// enqueue hands a frame to the client's writer without blocking.
func (c *Client) enqueue(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// writePump drains the send channel onto the connection until the hub
// closes it or the connection fails.
func (c *Client) writePump(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-c.send:
			if !ok {
				return c.conn.Close(websocket.StatusNormalClosure, "")
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}
