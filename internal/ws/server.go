package ws

import (
	"context"
	"encoding/json"
	"errors"
	"html"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"streamchatgo/internal/callback"
	"streamchatgo/internal/counter"
	"streamchatgo/internal/services/chat"
	"streamchatgo/internal/signing"
	"streamchatgo/internal/syncmsg"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 12 * time.Second
	pingPeriod = 3 * time.Second // must be < pongWait

	maxFrameBytes = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true }, // dev-only
}

// ConnContext carries the authenticated identity of one session through the
// frame handlers. It is owned by the connection's reader goroutine.
type ConnContext struct {
	MeetingID string
	UserName  string
	Conn      *clientConn
	Server    *WsServer
}

type WsServer struct {
	hub       *Hub
	transport Transport
	router    *Router
	auth      Authenticator
	chatSvc   chat.IChatService
	counters  *counter.Table
	forwarder *callback.Forwarder
	persister *syncmsg.Persister
	secret    string
}

func NewWsServer(
	h *Hub,
	transport Transport,
	auth Authenticator,
	chatSvc chat.IChatService,
	counters *counter.Table,
	forwarder *callback.Forwarder,
	persister *syncmsg.Persister,
	sharedSecret string,
) *WsServer {
	router := NewRouter()
	srv := &WsServer{
		hub:       h,
		transport: transport,
		router:    router,
		auth:      auth,
		chatSvc:   chatSvc,
		counters:  counters,
		forwarder: forwarder,
		persister: persister,
		secret:    sharedSecret,
	}
	srv.registerHandlers() // ← all frame types configured here
	return srv
}

// ---------------------------------------------------------------------------
//  Public: Gin entry-point
// ---------------------------------------------------------------------------

// Handle runs the connection lifecycle: upgrade, authenticate, join, then
// hand off to the reader. Authentication failures close with 1008 and no
// further explanation; a missing transport is a deployment error and panics.
func (s *WsServer) Handle(ginCtx *gin.Context) {
	meetingID := ginCtx.Param("meeting_id")
	if meetingID == "" {
		ginCtx.JSON(http.StatusBadRequest, gin.H{"error": "meeting_id is required"})
		return
	}

	rawConn, err := upgrader.Upgrade(ginCtx.Writer, ginCtx.Request, nil)
	if err != nil {
		zap.L().Warn("ws.upgrade", zap.Error(err))
		return
	}
	rawConn.SetReadLimit(maxFrameBytes)

	// ─────────────────── Authenticating ───────────────────────
	creds, err := s.auth.Credentials(ginCtx.Request)
	if err != nil {
		if !errors.Is(err, ErrMissingCredentials) {
			zap.L().Warn("ws.credentials", zap.Error(err))
		}
		closePolicyViolation(rawConn)
		return
	}
	expected := signing.ConnectionChecksum(creds.UserName, meetingID, s.secret)
	if creds.Checksum != expected {
		closePolicyViolation(rawConn)
		return
	}

	// ─────────────────── Joining ──────────────────────────────
	if s.transport == nil {
		// Not a per-connection failure: the operator wired the server without
		// a group-broadcast transport. Recovery middleware logs the panic.
		panic("ws: broadcast transport is unconfigured or does not support groups")
	}

	wsConn := &clientConn{rawConn: rawConn}
	s.hub.Join(meetingID, wsConn)
	s.transport.Subscribe(meetingID) // may be a no-op (already subscribed)
	s.counters.Increment(meetingID)

	// From here on the session counts as joined; the reader's cleanup is the
	// single place that undoes all three registrations.
	go s.reader(meetingID, creds.UserName, wsConn)
	go s.pinger(wsConn)
}

// ---------------------------------------------------------------------------
//  Private helpers
// ---------------------------------------------------------------------------

func (s *WsServer) registerHandlers() {
	// 🔹 chat.message ---------------------------------------------------------
	Register(
		s.router,
		TypeChatMessage,
		func(ctx context.Context, cc *ConnContext, req ChatMessageIn) (any, error) {
			out := ChatMessageOut{
				Type:     TypeChatMessage,
				UserName: cc.UserName, // never trust the client's name
				Message:  html.EscapeString(req.Message),
			}
			payload, err := json.Marshal(out)
			if err != nil {
				return nil, err
			}
			if err := s.transport.Publish(ctx, cc.MeetingID, payload); err != nil {
				return nil, err
			}

			room, err := s.chatSvc.GetChat(ctx, cc.MeetingID)
			if err != nil {
				zap.L().Warn("ws.chat_lookup", zap.String("chat_id", cc.MeetingID), zap.Error(err))
				return nil, nil
			}
			if room == nil {
				// Unregistered room: broadcast only, nothing to forward or keep.
				return nil, nil
			}

			// Forward + persist off the reader goroutine. The forward is
			// at-most-once and may outlive this connection; persistence does
			// not wait for its outcome.
			go func(room *chat.Chat, msg ChatMessageOut) {
				s.forwarder.Forward(context.Background(), room, msg.UserName, msg.Message)
				s.persister.Enqueue(syncmsg.Pending{
					ChatID:   room.ChatID,
					UserName: msg.UserName,
					Message:  msg.Message,
				})
			}(room, out)
			return nil, nil
		},
	)

	// 🔹 chat.update ----------------------------------------------------------
	Register(
		s.router,
		TypeChatUpdate,
		func(ctx context.Context, cc *ConnContext, _ struct{}) (any, error) {
			return ChatUpdateOut{
				Type:    TypeChatUpdate,
				Viewers: s.counters.Value(cc.MeetingID),
			}, nil
		},
	)
}

// reader owns the Active state: it replays history as the first frame, then
// dispatches inbound frames until the socket closes. Its deferred cleanup is
// the deterministic replacement for a finalizer: leave, unsubscribe and
// decrement run exactly once per completed join.
func (s *WsServer) reader(meetingID, userName string, conn *clientConn) {
	defer func() {
		s.hub.Leave(meetingID, conn)
		s.transport.Unsubscribe(meetingID)
		s.counters.Decrement(meetingID)
	}()

	_ = conn.rawConn.SetReadDeadline(time.Now().Add(pongWait))
	conn.rawConn.SetPongHandler(func(string) error {
		return conn.rawConn.SetReadDeadline(time.Now().Add(pongWait))
	})

	if err := s.pushHistory(meetingID, conn); err != nil {
		zap.L().Warn("ws.history", zap.String("chat_id", meetingID), zap.Error(err))
		return
	}

	cc := &ConnContext{MeetingID: meetingID, UserName: userName, Conn: conn, Server: s}

	for {
		mt, data, err := conn.rawConn.ReadMessage()
		if err != nil {
			return // client closed or errored
		}
		if mt != websocket.TextMessage {
			_ = conn.writeJSON(ErrorOut{Type: TypeError, Error: "no text payload in frame"})
			continue
		}

		var head frameHead
		if err := json.Unmarshal(data, &head); err != nil {
			_ = conn.writeJSON(ErrorOut{Type: TypeError, Error: "malformed frame"})
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 1900*time.Millisecond)
		res, err := s.router.dispatch(ctx, cc, head.Type, data)
		cancel()

		// ---- rejected frame -> in-band error, session stays open ----
		if err != nil {
			_ = conn.writeJSON(ErrorOut{Type: TypeError, Error: err.Error()})
			continue
		}

		// ---- direct reply (chat.update); broadcasts took the transport ----
		if res != nil {
			_ = conn.writeJSON(res)
		}
	}
}

// pushHistory sends the room's full message history as the first frame.
func (s *WsServer) pushHistory(meetingID string, conn *clientConn) error {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
	defer cancel()

	msgs, err := s.chatSvc.History(ctx, meetingID)
	if err != nil {
		return err
	}

	history := make([]ChatMessageOut, 0, len(msgs))
	for _, m := range msgs {
		history = append(history, ChatMessageOut{
			Type:     TypeChatMessage,
			UserName: m.UserName,
			Message:  m.Message,
		})
	}
	return conn.writeJSON(history)
}

func (s *WsServer) pinger(conn *clientConn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for range ticker.C {
		if err := conn.write(websocket.PingMessage, nil); err != nil {
			_ = conn.rawConn.Close()
			return
		}
	}
}

// closePolicyViolation rejects an unauthenticated connection with close code
// 1008 and nothing else; the client learns no more than "policy violation".
func closePolicyViolation(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = conn.Close()
}
