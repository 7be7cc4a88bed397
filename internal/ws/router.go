package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// internal (untyped) handler signature; frame is the full inbound frame.
type rawHandler func(ctx context.Context, c *ConnContext, frame json.RawMessage) (any, error)

// Router keeps a map[frame type]handler, à-la gin.Engine.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]rawHandler
}

func NewRouter() *Router { return &Router{handlers: make(map[string]rawHandler)} }

// Register binds a frame type to a strongly-typed handler. The handler's
// return value, when non-nil, is written back to the requesting connection
// only; broadcasts go through the Transport instead.
func Register[Req any](
	r *Router,
	frameType string,
	h func(ctx context.Context, c *ConnContext, req Req) (any, error),
) {
	if frameType == "" {
		panic("ws router: empty frame type")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[frameType] = func(ctx context.Context, c *ConnContext, frame json.RawMessage) (any, error) {
		var req Req
		if len(frame) > 0 {
			if err := json.Unmarshal(frame, &req); err != nil {
				return nil, err
			}
		}
		return h(ctx, c, req)
	}
}

// dispatch is called by the server's reader loop. An unknown frame type is a
// protocol violation for that frame only, never fatal to the session.
func (r *Router) dispatch(ctx context.Context, c *ConnContext, frameType string, frame json.RawMessage) (any, error) {
	r.mu.RLock()
	h, ok := r.handlers[frameType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown message type %q", frameType)
	}
	return h(ctx, c, frame)
}
