package ws

import (
	"sync"
)

// Hub keeps client sets per chatID.
type Hub struct {
	rooms sync.Map // chatID -> *room
}

func NewHub() *Hub { return &Hub{} }

// Broadcast is called by the transport's fan-out loop. Delivery includes the
// sender's own connection, which is what keeps local history ordering.
func (h *Hub) Broadcast(chatID string, msg []byte) {
	if v, ok := h.rooms.Load(chatID); ok {
		v.(*room).broadcast(msg)
	}
}

func (h *Hub) Join(chatID string, c *clientConn) {
	r, _ := h.rooms.LoadOrStore(chatID, newRoom())
	r.(*room).add(c)
}

func (h *Hub) Leave(chatID string, c *clientConn) {
	if v, ok := h.rooms.Load(chatID); ok {
		v.(*room).remove(c)
	}
}
