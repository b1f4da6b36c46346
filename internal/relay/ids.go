package relay

import (
	"strconv"
	"sync"
	"time"
)

// IDGenerator assigns message ids of the form {roomId}-{unixMillis}.
// The millisecond part never repeats within a process: when the clock has
// not moved past the previous id it is bumped by one.
type IDGenerator struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func NewIDGenerator() *IDGenerator {
	return &IDGenerator{now: time.Now}
}

func (g *IDGenerator) Next(roomID string) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now().UnixMilli()
	if ms <= g.last {
		ms = g.last + 1
	}
	g.last = ms
	return roomID + "-" + strconv.FormatInt(ms, 10)
}
