package registrywatcher

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"streamchatgo/internal/services/chat"
)

// Run listens for room-registry change notifications published by any
// instance and folds them into the local cache, so a get issued anywhere
// after a completed create/delete observes the new state.
// Run must be started once at service boot.
func Run(ctx context.Context, rdb *redis.Client, svc chat.IChatService) {
	ps := rdb.Subscribe(ctx, chat.RegistryChannel)
	defer ps.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ps.Channel():
			if !ok {
				return
			}
			var ev chat.RegistryEvent
			if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
				zap.L().Warn("registrywatcher.decode", zap.Error(err))
				continue
			}
			svc.ApplyRemote(ev)
		}
	}
}
