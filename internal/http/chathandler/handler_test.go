package chathandler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamchatgo/internal/counter"
	"streamchatgo/internal/services/chat"
	"streamchatgo/internal/ws"
)

type fakeChatSvc struct {
	mu    sync.Mutex
	rooms map[string]*chat.Chat
}

func newFakeChatSvc() *fakeChatSvc { return &fakeChatSvc{rooms: make(map[string]*chat.Chat)} }

func (f *fakeChatSvc) StartChat(_ context.Context, c *chat.Chat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rooms[c.ChatID]; ok {
		return chat.ErrChatExists
	}
	f.rooms[c.ChatID] = c
	return nil
}

func (f *fakeChatSvc) EndChat(_ context.Context, chatID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rooms[chatID]; !ok {
		return chat.ErrChatNotFound
	}
	delete(f.rooms, chatID)
	return nil
}

func (f *fakeChatSvc) GetChat(_ context.Context, chatID string) (*chat.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rooms[chatID], nil
}

func (f *fakeChatSvc) ListChatIDs(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.rooms))
	for id := range f.rooms {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeChatSvc) History(context.Context, string) ([]chat.ChatMessage, error) { return nil, nil }
func (f *fakeChatSvc) ApplyRemote(chat.RegistryEvent)                              {}

type capturedPublish struct {
	ChatID  string
	Payload []byte
}

type fakeTransport struct {
	mu        sync.Mutex
	published []capturedPublish
}

func (t *fakeTransport) Publish(_ context.Context, chatID string, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.published = append(t.published, capturedPublish{ChatID: chatID, Payload: payload})
	return nil
}
func (t *fakeTransport) Subscribe(string)   {}
func (t *fakeTransport) Unsubscribe(string) {}

func setupHandler(t *testing.T) (*gin.Engine, *fakeChatSvc, *counter.Table, *fakeTransport) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc := newFakeChatSvc()
	counters := counter.NewTable()
	transport := &fakeTransport{}

	engine := gin.New()
	New(svc, counters, transport).Register(engine)
	return engine, svc, counters, transport
}

func doJSON(t *testing.T, engine *gin.Engine, method, path string, body any) (*httptest.ResponseRecorder, ApiResponse) {
	t.Helper()

	var reqBody *bytes.Buffer
	if body != nil {
		reqBody = bytes.NewBuffer(nil)
		require.NoError(t, json.NewEncoder(reqBody).Encode(body))
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")

	resp := httptest.NewRecorder()
	engine.ServeHTTP(resp, req)

	var out ApiResponse
	if resp.Body.Len() > 0 {
		_ = json.Unmarshal(resp.Body.Bytes(), &out)
	}
	return resp, out
}

func TestStartChatCreatesRoom(t *testing.T) {
	engine, svc, _, _ := setupHandler(t)

	resp, out := doJSON(t, engine, http.MethodPost, "/startChat", StartChatBody{ChatID: "meeting-1"})

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, out.Success)

	room, _ := svc.GetChat(context.Background(), "meeting-1")
	require.NotNil(t, room)
	assert.False(t, room.HasCallback())
}

func TestStartChatWithFullCallbackTriple(t *testing.T) {
	engine, svc, _, _ := setupHandler(t)

	resp, _ := doJSON(t, engine, http.MethodPost, "/startChat", StartChatBody{
		ChatID:         "meeting-1",
		CallbackURI:    "https://cb",
		CallbackSecret: "s",
		CallbackID:     "id",
	})

	assert.Equal(t, http.StatusOK, resp.Code)
	room, _ := svc.GetChat(context.Background(), "meeting-1")
	require.NotNil(t, room)
	assert.True(t, room.HasCallback())
}

func TestStartChatRejectsPartialCallback(t *testing.T) {
	engine, svc, _, _ := setupHandler(t)

	resp, out := doJSON(t, engine, http.MethodPost, "/startChat", StartChatBody{
		ChatID:         "meeting-1",
		CallbackURI:    "https://cb",
		CallbackSecret: "s",
	})
	assert.Equal(t, http.StatusForbidden, resp.Code)
	assert.False(t, out.Success)
	assert.Equal(t, "Parameter callback_id is mandatory when enabling callbacks, but is missing", out.Message)

	resp, out = doJSON(t, engine, http.MethodPost, "/startChat", StartChatBody{
		ChatID:      "meeting-1",
		CallbackURI: "https://cb",
	})
	assert.Equal(t, http.StatusForbidden, resp.Code)
	assert.Equal(t, "Parameters callback_secret and callback_id are mandatory when enabling callbacks, but are missing", out.Message)

	// Nothing was created along the way.
	room, _ := svc.GetChat(context.Background(), "meeting-1")
	assert.Nil(t, room)
}

func TestStartChatDuplicate(t *testing.T) {
	engine, _, _, _ := setupHandler(t)

	resp, _ := doJSON(t, engine, http.MethodPost, "/startChat", StartChatBody{ChatID: "meeting-1"})
	require.Equal(t, http.StatusOK, resp.Code)

	resp, _ = doJSON(t, engine, http.MethodPost, "/startChat", StartChatBody{ChatID: "meeting-1"})
	assert.Equal(t, http.StatusNotModified, resp.Code)
}

func TestEndChat(t *testing.T) {
	engine, svc, _, _ := setupHandler(t)
	require.NoError(t, svc.StartChat(context.Background(), &chat.Chat{ChatID: "meeting-1"}))

	resp, out := doJSON(t, engine, http.MethodPost, "/endChat", EndChatBody{ChatID: "meeting-1"})
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, out.Success)

	resp, out = doJSON(t, engine, http.MethodPost, "/endChat", EndChatBody{ChatID: "meeting-1"})
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.False(t, out.Success)
}

func TestSendMessagePublishesIntoRoom(t *testing.T) {
	engine, svc, _, transport := setupHandler(t)
	require.NoError(t, svc.StartChat(context.Background(), &chat.Chat{ChatID: "meeting-1"}))

	resp, out := doJSON(t, engine, http.MethodPost, "/sendMessage", SendMessageBody{
		ChatID:   "meeting-1",
		UserName: "moderator",
		Message:  "stream starts soon",
	})
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, out.Success)

	require.Len(t, transport.published, 1)
	assert.Equal(t, "meeting-1", transport.published[0].ChatID)

	var frame ws.ChatMessageOut
	require.NoError(t, json.Unmarshal(transport.published[0].Payload, &frame))
	assert.Equal(t, ws.TypeChatMessage, frame.Type)
	assert.Equal(t, "moderator", frame.UserName)
	assert.Equal(t, "stream starts soon", frame.Message)
}

func TestSendMessageUnknownRoom(t *testing.T) {
	engine, _, _, transport := setupHandler(t)

	resp, out := doJSON(t, engine, http.MethodPost, "/sendMessage", SendMessageBody{
		ChatID:   "ghost",
		UserName: "moderator",
		Message:  "anyone here?",
	})
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.False(t, out.Success)
	assert.Empty(t, transport.published)
}

func TestViewerCounts(t *testing.T) {
	engine, svc, counters, _ := setupHandler(t)
	require.NoError(t, svc.StartChat(context.Background(), &chat.Chat{ChatID: "meeting-1"}))
	require.NoError(t, svc.StartChat(context.Background(), &chat.Chat{ChatID: "meeting-2"}))

	counters.Increment("meeting-1")
	counters.Increment("meeting-1")
	counters.Increment("meeting-2")

	// Explicit ids.
	resp, out := doJSON(t, engine, http.MethodGet, "/viewerCounts?meeting_id=meeting-1", nil)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, map[string]any{"meeting-1": float64(2)}, out.Content)

	// All known chats.
	resp, out = doJSON(t, engine, http.MethodGet, "/viewerCounts", nil)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, map[string]any{"meeting-1": float64(2), "meeting-2": float64(1)}, out.Content)
}
