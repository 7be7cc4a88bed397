package http_server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/abrar71/swaggerfilesv2" // swagger embed files

	"streamchatgo/internal/counter"
	"streamchatgo/internal/http/chathandler"
	"streamchatgo/internal/services/chat"
	"streamchatgo/internal/ws"
)

type httpServer struct {
	listenPort uint16
	srv        http.Server
	ln         net.Listener
	chatSvc    chat.IChatService
	counters   *counter.Table
	transport  ws.Transport
	wsSrv      *ws.WsServer
	ctx        context.Context
}

func NewHttpServer(
	ctx context.Context,
	listenPort uint16,
	wsSrv *ws.WsServer,
	chatSvc chat.IChatService,
	counters *counter.Table,
	transport ws.Transport,
) *httpServer {
	return &httpServer{
		listenPort: listenPort,
		wsSrv:      wsSrv,
		chatSvc:    chatSvc,
		counters:   counters,
		transport:  transport,
		ctx:        ctx,
	}
}

func (h *httpServer) Start() error {
	var err error
	listenAddr := fmt.Sprintf(":%d", h.listenPort)
	h.ln, err = net.Listen("tcp", listenAddr)
	if err != nil {
		return err
	}

	routerEngine := gin.New()

	// Swagger UI and API specs
	routerEngine.StaticFS("/swagger-apis", http.FS(swaggerfilesv2.FS))
	routerEngine.Static("/api-specs", "api_specs")

	routerEngine.Use(ginzap.RecoveryWithZap(zap.L(), true))

	// websocket endpoint; the meeting ID is part of the path
	routerEngine.GET("/ws/:meeting_id", h.wsSrv.Handle)

	// administrative REST API
	ch := chathandler.New(h.chatSvc, h.counters, h.transport)
	ch.Register(routerEngine)

	h.srv = http.Server{
		Handler: routerEngine,
	}

	return h.srv.Serve(h.ln)
}

// Dispose gracefully shuts the HTTP server down.
// It waits up to 10 s for in-flight requests to finish.
func (h *httpServer) Dispose() error {
	ctx, cancel := context.WithTimeout(h.ctx, 10*time.Second)
	defer cancel()

	if err := h.srv.Shutdown(ctx); err != nil {
		zap.L().Error("http_dispose", zap.Error(err))
		return err // e.g. active conns didn't finish in time
	}

	if ctx.Err() == context.DeadlineExceeded {
		zap.L().Error("http_dispose", zap.Error(errors.New("shutdown timed out")))
	}

	return nil
}
