package handlers

import (
	"net/http"

	"github.com/signalboard/signalboard/internal/protocol"
)

// RoomInfo is one room in the catalog listing.
type RoomInfo struct {
	ID     string `json:"id"`
	Number string `json:"number"`
	Name   string `json:"name"`
}

// NoticeInfo is one canned display state and its text.
type NoticeInfo struct {
	State   protocol.DisplayState `json:"state"`
	Title   string                `json:"title"`
	Message string                `json:"message"`
	Color   string                `json:"color"`
}

// ListRooms returns the room catalog in order.
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	rooms := h.rooms.Rooms()
	result := make([]RoomInfo, 0, len(rooms))
	for _, room := range rooms {
		result = append(result, RoomInfo{ID: room.ID, Number: room.Number, Name: room.Name})
	}
	h.JSON(w, http.StatusOK, result)
}

// ListNotices returns the display notices, with the lunch time template
// left unfilled.
func (h *Handler) ListNotices(w http.ResponseWriter, r *http.Request) {
	states := []protocol.DisplayState{protocol.State1, protocol.State2, protocol.State3, protocol.State4}
	result := make([]NoticeInfo, 0, len(states))
	for _, s := range states {
		n, ok := protocol.NoticeFor(s, "")
		if !ok {
			continue
		}
		result = append(result, NoticeInfo{State: s, Title: n.Title, Message: n.Message, Color: n.Color})
	}
	h.JSON(w, http.StatusOK, result)
}
