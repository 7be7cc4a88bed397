package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"streamchatgo/internal/callback"
	"streamchatgo/internal/config"
	"streamchatgo/internal/counter"
	"streamchatgo/internal/database/db_client"
	"streamchatgo/internal/http/http_server"
	"streamchatgo/internal/redis/redis_client"
	"streamchatgo/internal/redis/watcher/registrywatcher"
	"streamchatgo/internal/services/chat"
	"streamchatgo/internal/syncmsg"
	"streamchatgo/internal/ws"
)

var (
	Log, _ = zap.NewDevelopment()
)

func main() {
	defer Log.Sync()
	zap.ReplaceGlobals(Log)

	var err error
	var cfg *config.Config
	var redisClient *redis.Client
	var chatService chat.IChatService

	// 1. Load configuration
	cfg, err = config.LoadConfig()
	if err != nil {
		Log.Fatal("Failed to load configuration", zap.Error(err))
	}
	Log.Debug("Configuration loaded successfully", zap.Any("config", cfg))

	// 2. Context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	// 3. Redis
	redisClient, err = redis_client.NewRedisClient(cfg.RedisChatHost, int(cfg.RedisChatPort))
	if err != nil {
		Log.Fatal("Failed to create Redis client", zap.Error(err))
	}
	defer redisClient.Close()
	Log.Debug("Redis client created successfully")

	// 4. Postgres db client
	pgDb, err := db_client.Open(cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDb)
	if err != nil {
		Log.Fatal("pg-open", zap.Error(err))
	}
	defer pgDb.Close()

	if err := db_client.EnsureSchema(ctx, pgDb); err != nil {
		Log.Fatal("pg-schema", zap.Error(err))
	}

	// 5. Room registry service (write-through cache over Postgres)
	chatService = chat.NewChatService(redisClient, pgDb)

	// 6. Background: registry change notifications from peer instances
	go registrywatcher.Run(ctx, redisClient, chatService)

	// 7. Background: durable message writer off the broadcast path
	persister := syncmsg.Run(ctx, pgDb)

	// 8. WebSockets hub + Redis fan-out
	hub := ws.NewHub()
	transport := ws.NewRedisTransport(redisClient, hub)
	counters := counter.NewTable()
	forwarder := callback.NewForwarder(time.Duration(cfg.CallbackTimeoutMs) * time.Millisecond)

	var authenticator ws.Authenticator = ws.QueryAuthenticator{}
	if cfg.AuthMode == "session" {
		authenticator = ws.NewSessionAuthenticator(redisClient)
	}

	// 9. Initialize the WS server
	wsSrv := ws.NewWsServer(hub, transport, authenticator, chatService, counters, forwarder, persister, cfg.SharedSecret)

	// 10. HTTP + WS server
	httpServer := http_server.NewHttpServer(ctx, cfg.HttpServerPort, wsSrv, chatService, counters, transport)
	if err := httpServer.Start(); err != nil {
		Log.Fatal("Failed to start HTTP server", zap.Error(err))
	}
}
