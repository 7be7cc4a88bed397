package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Chat is one room of the gateway. The callback triple is optional; a chat
// without a callback URI is never forwarded to the system of record.
type Chat struct {
	ChatID         string `json:"chat_id"`
	CallbackURI    string `json:"callback_uri,omitempty"`
	CallbackSecret string `json:"callback_secret,omitempty"`
	CallbackID     string `json:"callback_id,omitempty"`
}

// HasCallback reports whether the external callback is configured.
func (c *Chat) HasCallback() bool { return c != nil && c.CallbackURI != "" }

// ChatMessage is one persisted chat line, already HTML-escaped.
type ChatMessage struct {
	UserName string `json:"user_name"`
	Message  string `json:"message"`
}

const (
	// RegistryChannel carries create/delete notifications between instances
	// so every cache converges within one write.
	RegistryChannel = "chat:registry:events"

	registryOpCreate = "create"
	registryOpDelete = "delete"
)

// RegistryEvent is the pub/sub payload published on every chat create/delete.
type RegistryEvent struct {
	Op   string `json:"op"`
	Chat Chat   `json:"chat"`
}

var (
	ErrChatExists   = errors.New("chat already started")
	ErrChatNotFound = errors.New("chat not found")
)

type IChatService interface {
	StartChat(ctx context.Context, chat *Chat) error
	EndChat(ctx context.Context, chatID string) error
	GetChat(ctx context.Context, chatID string) (*Chat, error)
	ListChatIDs(ctx context.Context) ([]string, error)
	History(ctx context.Context, chatID string) ([]ChatMessage, error)
	ApplyRemote(ev RegistryEvent)
}

type chatService struct {
	rdc *redis.Client
	db  *sql.DB

	mu    sync.RWMutex
	cache map[string]*Chat // chatID -> chat, or nil for a known-absent id
}

func NewChatService(rdc *redis.Client, db *sql.DB) IChatService {
	return &chatService{
		rdc:   rdc,
		db:    db,
		cache: make(map[string]*Chat),
	}
}

// StartChat inserts the chat row and writes the cache through, then notifies
// peer instances. A duplicate id is reported, never overwritten.
func (svc *chatService) StartChat(ctx context.Context, chat *Chat) error {
	const q = `
	INSERT INTO chats (chat_id, callback_uri, callback_secret, callback_id)
	     VALUES ($1, $2, $3, $4)
	ON CONFLICT (chat_id) DO NOTHING`

	res, err := svc.db.ExecContext(ctx, q,
		chat.ChatID, chat.CallbackURI, chat.CallbackSecret, chat.CallbackID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrChatExists
	}

	svc.storeCache(chat.ChatID, chat)
	svc.notify(ctx, RegistryEvent{Op: registryOpCreate, Chat: *chat})
	return nil
}

// EndChat deletes the chat and its messages (ON DELETE CASCADE), caches the
// absence and notifies peers.
func (svc *chatService) EndChat(ctx context.Context, chatID string) error {
	res, err := svc.db.ExecContext(ctx, `DELETE FROM chats WHERE chat_id = $1`, chatID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrChatNotFound
	}

	svc.storeCache(chatID, nil)
	svc.notify(ctx, RegistryEvent{Op: registryOpDelete, Chat: Chat{ChatID: chatID}})
	return nil
}

// GetChat serves from the cache when possible and falls back to Postgres,
// caching hits and definitive misses alike. Absence is (nil, nil), never an
// error; callers branch on nil to decide whether to forward.
func (svc *chatService) GetChat(ctx context.Context, chatID string) (*Chat, error) {
	svc.mu.RLock()
	cached, ok := svc.cache[chatID]
	svc.mu.RUnlock()
	if ok {
		return cached, nil
	}

	const q = `SELECT chat_id, callback_uri, callback_secret, callback_id
	             FROM chats WHERE chat_id = $1`
	chat := &Chat{}
	err := svc.db.QueryRowContext(ctx, q, chatID).Scan(
		&chat.ChatID, &chat.CallbackURI, &chat.CallbackSecret, &chat.CallbackID)
	if errors.Is(err, sql.ErrNoRows) {
		svc.storeCache(chatID, nil)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	svc.storeCache(chatID, chat)
	return chat, nil
}

func (svc *chatService) ListChatIDs(ctx context.Context) ([]string, error) {
	rows, err := svc.db.QueryContext(ctx, `SELECT chat_id FROM chats ORDER BY chat_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// History returns every message of the chat in creation order.
func (svc *chatService) History(ctx context.Context, chatID string) ([]ChatMessage, error) {
	const q = `SELECT user_name, message FROM messages
	            WHERE chat_id = $1 ORDER BY id`
	rows, err := svc.db.QueryContext(ctx, q, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []ChatMessage{}
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.UserName, &m.Message); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ApplyRemote folds a registry notification from another instance into the
// local cache. Replaying our own notifications is harmless: the payload
// carries the full row.
func (svc *chatService) ApplyRemote(ev RegistryEvent) {
	switch ev.Op {
	case registryOpCreate:
		chat := ev.Chat
		svc.storeCache(chat.ChatID, &chat)
	case registryOpDelete:
		svc.storeCache(ev.Chat.ChatID, nil)
	default:
		zap.L().Warn("registry.unknown_op", zap.String("op", ev.Op))
	}
}

func (svc *chatService) storeCache(chatID string, chat *Chat) {
	svc.mu.Lock()
	svc.cache[chatID] = chat
	svc.mu.Unlock()
}

func (svc *chatService) notify(ctx context.Context, ev RegistryEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		zap.L().Error("registry.marshal", zap.Error(err))
		return
	}
	if err := svc.rdc.Publish(ctx, RegistryChannel, payload).Err(); err != nil {
		zap.L().Warn("registry.notify", zap.String("chat_id", ev.Chat.ChatID), zap.Error(err))
	}
}
