package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"streamchatgo/internal/services/chat"
	"streamchatgo/internal/signing"
)

// Payload is the signed body POSTed to <callback_uri>/sendMessage.
type Payload struct {
	ChatID   string `json:"chat_id"`
	UserName string `json:"user_name"`
	Message  string `json:"message"`
	Checksum string `json:"checksum"`
}

// Forwarder mirrors chat messages to a room's external callback endpoint.
// Delivery is best-effort and at-most-once: failures are logged, never
// retried, and never surfaced to the sending connection.
type Forwarder struct {
	client *http.Client
}

func NewForwarder(timeout time.Duration) *Forwarder {
	return &Forwarder{client: &http.Client{Timeout: timeout}}
}

// Forward signs and delivers one message. Callers that must not block put it
// on its own goroutine; an in-flight forward is allowed to outlive the
// connection that triggered it.
func (f *Forwarder) Forward(ctx context.Context, c *chat.Chat, userName, message string) {
	if !c.HasCallback() {
		return
	}

	p := Payload{
		ChatID:   c.ChatID,
		UserName: userName,
		Message:  message,
	}
	p.Checksum = signing.Checksum([]signing.Param{
		{Key: "chat_id", Value: p.ChatID},
		{Key: "user_name", Value: p.UserName},
		{Key: "message", Value: p.Message},
	}, c.CallbackSecret, "sendMessage")

	body, err := json.Marshal(p)
	if err != nil {
		zap.L().Error("callback.marshal", zap.Error(err))
		return
	}

	url := strings.TrimRight(c.CallbackURI, "/") + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		zap.L().Error("callback.request", zap.String("chat_id", c.ChatID), zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		zap.L().Warn("callback.deliver", zap.String("chat_id", c.ChatID), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		zap.L().Warn("callback.status",
			zap.String("chat_id", c.ChatID),
			zap.Int("status", resp.StatusCode),
		)
	}
}
