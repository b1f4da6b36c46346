package protocol

import (
	"fmt"
	"sort"
)

// Room is a physical meeting room with a dashboard.
type Room struct {
	ID     string `json:"id" yaml:"id"`
	Number string `json:"number" yaml:"number"`
	Name   string `json:"name" yaml:"name"`
}

// Catalog is the fixed set of rooms known to the board.
type Catalog struct {
	rooms []Room
	byID  map[string]Room
}

// DefaultRooms is the catalog used when no room file is configured.
func DefaultRooms() []Room {
	return []Room{
		{ID: "dashboard-a", Number: "139", Name: "Room 139"},
		{ID: "dashboard-b", Number: "143", Name: "Room 143"},
		{ID: "dashboard-c", Number: "150", Name: "Room 150"},
	}
}

// NewCatalog builds a catalog, rejecting empty or duplicate ids.
func NewCatalog(rooms []Room) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]Room, len(rooms))}
	for _, r := range rooms {
		if r.ID == "" {
			return nil, fmt.Errorf("%w: empty id", ErrInvalidRoom)
		}
		if _, dup := c.byID[r.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidRoom, r.ID)
		}
		if r.Name == "" {
			r.Name = "Room " + r.Number
		}
		c.byID[r.ID] = r
		c.rooms = append(c.rooms, r)
	}
	return c, nil
}

// Has reports whether id names a room in the catalog.
func (c *Catalog) Has(id string) bool {
	_, ok := c.byID[id]
	return ok
}

// Get returns the room with the given id.
func (c *Catalog) Get(id string) (Room, bool) {
	r, ok := c.byID[id]
	return r, ok
}

// Rooms returns the rooms in catalog order.
func (c *Catalog) Rooms() []Room {
	out := make([]Room, len(c.rooms))
	copy(out, c.rooms)
	return out
}

// IDs returns the room ids sorted.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.byID))
	for id := range c.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
