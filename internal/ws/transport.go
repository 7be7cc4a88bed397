package ws

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Transport is the group-broadcast collaborator: Publish delivers a payload
// to every instance whose hub has members in the room, in publish order per
// room. Subscribe/Unsubscribe track local interest in a room's channel.
type Transport interface {
	Publish(ctx context.Context, chatID string, payload []byte) error
	Subscribe(chatID string)
	Unsubscribe(chatID string)
}

func eventsChannel(chatID string) string { return "chat:" + chatID + ":events" }

// redisTransport implements Transport on Redis pub/sub. It keeps **exactly
// one** Redis subscription per "chat:<id>:events" channel ― no matter how
// many websocket clients join the same room.
type redisTransport struct {
	rdc  *redis.Client
	hub  *Hub
	mu   sync.Mutex
	subs map[string]*subEntry // chatID ➜ subscription data
}

type subEntry struct {
	refCnt int
	cancel context.CancelFunc
}

func NewRedisTransport(rdc *redis.Client, hub *Hub) Transport {
	return &redisTransport{
		rdc:  rdc,
		hub:  hub,
		subs: make(map[string]*subEntry),
	}
}

// Publish fans the payload out through Redis so peer instances see it too.
// Per-room ordering is whatever Redis guarantees for a single channel, which
// is publish order.
func (t *redisTransport) Publish(ctx context.Context, chatID string, payload []byte) error {
	return t.rdc.Publish(ctx, eventsChannel(chatID), payload).Err()
}

// Subscribe ensures the process is subscribed to the room's channel;
// subsequent calls for the same room only increment the ref-counter.
func (t *redisTransport) Subscribe(chatID string) {
	t.mu.Lock()
	if e, ok := t.subs[chatID]; ok {
		e.refCnt++
		t.mu.Unlock()
		return
	}

	// First member → create Redis SUB and fan-out loop.
	ctx, cancel := context.WithCancel(context.Background())
	ps := t.rdc.Subscribe(ctx, eventsChannel(chatID))

	t.subs[chatID] = &subEntry{refCnt: 1, cancel: cancel}
	t.mu.Unlock()

	go func() {
		defer ps.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ps.Channel():
				if !ok { // Redis connection closed.
					zap.L().Warn("ws.subscription_closed", zap.String("chat_id", chatID))
					return
				}
				// Payloads are complete wire frames; forward them verbatim.
				t.hub.Broadcast(chatID, []byte(m.Payload))
			}
		}
	}()
}

// Unsubscribe decrements the ref-counter and tears the Redis SUB down when
// the last websocket client leaves the room.
func (t *redisTransport) Unsubscribe(chatID string) {
	t.mu.Lock()
	e, ok := t.subs[chatID]
	if !ok {
		t.mu.Unlock()
		return
	}
	e.refCnt--
	if e.refCnt > 0 {
		t.mu.Unlock()
		return
	}
	delete(t.subs, chatID)
	t.mu.Unlock()

	// Outside the lock → stop the fan-out goroutine.
	e.cancel()
}
