package chathandler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"streamchatgo/internal/counter"
	"streamchatgo/internal/services/chat"
	"streamchatgo/internal/ws"
)

type Handler struct {
	svc       chat.IChatService
	counters  *counter.Table
	transport ws.Transport
}

func New(svc chat.IChatService, counters *counter.Table, transport ws.Transport) *Handler {
	return &Handler{svc: svc, counters: counters, transport: transport}
}

func (h *Handler) Register(r gin.IRoutes) {
	r.POST("/startChat", h.startChat)
	r.POST("/endChat", h.endChat)
	r.POST("/sendMessage", h.sendMessage)
	r.GET("/viewerCounts", h.viewerCounts)
}

// @Summary		Start a chat
// @Description	Creates the chat room for a meeting. The callback triple is all-or-nothing.
// @Tags			Chats
// @Param			body	body	StartChatBody	true	"Chat definition"
// @Success		200	{object}	ApiResponse
// @Failure		403	{object}	ApiResponse
// @Router			/startChat [post]
func (h *Handler) startChat(ginCtx *gin.Context) {
	var body StartChatBody
	if err := ginCtx.ShouldBindJSON(&body); err != nil {
		ginCtx.JSON(http.StatusBadRequest, ApiResponse{Success: false, Message: err.Error()})
		return
	}

	// Enabling callbacks requires the full triple; name exactly what is
	// missing so the administrative caller can fix its request.
	given := map[string]string{
		"callback_uri":    body.CallbackURI,
		"callback_secret": body.CallbackSecret,
		"callback_id":     body.CallbackID,
	}
	var missing []string
	for _, param := range []string{"callback_uri", "callback_secret", "callback_id"} {
		if given[param] == "" {
			missing = append(missing, param)
		}
	}
	switch len(missing) {
	case 1:
		ginCtx.JSON(http.StatusForbidden, ApiResponse{
			Success: false,
			Message: fmt.Sprintf("Parameter %s is mandatory when enabling callbacks, but is missing", missing[0]),
		})
		return
	case 2:
		ginCtx.JSON(http.StatusForbidden, ApiResponse{
			Success: false,
			Message: fmt.Sprintf("Parameters %s and %s are mandatory when enabling callbacks, but are missing",
				missing[0], missing[1]),
		})
		return
	}

	newChat := &chat.Chat{ChatID: body.ChatID}
	if len(missing) == 0 {
		newChat.CallbackURI = body.CallbackURI
		newChat.CallbackSecret = body.CallbackSecret
		newChat.CallbackID = body.CallbackID
	}

	if err := h.svc.StartChat(ginCtx.Request.Context(), newChat); err != nil {
		if errors.Is(err, chat.ErrChatExists) {
			ginCtx.JSON(http.StatusNotModified, ApiResponse{
				Success: false,
				Message: "Channel's chat has already been started.",
			})
			return
		}
		zap.L().Error("chathandler.start", zap.String("chat_id", body.ChatID), zap.Error(err))
		ginCtx.JSON(http.StatusInternalServerError, ApiResponse{Success: false, Message: err.Error()})
		return
	}
	ginCtx.JSON(http.StatusOK, ApiResponse{Success: true, Message: "Added room successfully."})
}

// @Summary		End a chat
// @Description	Deletes the chat room and its message history.
// @Tags			Chats
// @Param			body	body	EndChatBody	true	"Chat to end"
// @Success		200	{object}	ApiResponse
// @Failure		404	{object}	ApiResponse
// @Router			/endChat [post]
func (h *Handler) endChat(ginCtx *gin.Context) {
	var body EndChatBody
	if err := ginCtx.ShouldBindJSON(&body); err != nil {
		ginCtx.JSON(http.StatusBadRequest, ApiResponse{Success: false, Message: err.Error()})
		return
	}

	if err := h.svc.EndChat(ginCtx.Request.Context(), body.ChatID); err != nil {
		if errors.Is(err, chat.ErrChatNotFound) {
			ginCtx.JSON(http.StatusNotFound, ApiResponse{Success: false, Message: "No chat was found"})
			return
		}
		zap.L().Error("chathandler.end", zap.String("chat_id", body.ChatID), zap.Error(err))
		ginCtx.JSON(http.StatusInternalServerError, ApiResponse{Success: false, Message: err.Error()})
		return
	}
	ginCtx.JSON(http.StatusOK, ApiResponse{Success: true, Message: "Chat has ended successfully"})
}

// @Summary		Send a server-side message
// @Description	Broadcasts a message into a room without an open websocket session.
// @Tags			Chats
// @Param			body	body	SendMessageBody	true	"Message payload"
// @Success		200	{object}	ApiResponse
// @Failure		404	{object}	ApiResponse
// @Router			/sendMessage [post]
func (h *Handler) sendMessage(ginCtx *gin.Context) {
	var body SendMessageBody
	if err := ginCtx.ShouldBindJSON(&body); err != nil {
		ginCtx.JSON(http.StatusBadRequest, ApiResponse{Success: false, Message: err.Error()})
		return
	}

	ctx := ginCtx.Request.Context()
	room, err := h.svc.GetChat(ctx, body.ChatID)
	if err != nil {
		zap.L().Error("chathandler.lookup", zap.String("chat_id", body.ChatID), zap.Error(err))
		ginCtx.JSON(http.StatusInternalServerError, ApiResponse{Success: false, Message: err.Error()})
		return
	}
	if room == nil {
		ginCtx.JSON(http.StatusNotFound, ApiResponse{Success: false, Message: "No chat was found."})
		return
	}

	payload, _ := json.Marshal(ws.ChatMessageOut{
		Type:     ws.TypeChatMessage,
		UserName: body.UserName,
		Message:  body.Message,
	})
	if err := h.transport.Publish(ctx, room.ChatID, payload); err != nil {
		zap.L().Error("chathandler.publish", zap.String("chat_id", room.ChatID), zap.Error(err))
		ginCtx.JSON(http.StatusInternalServerError, ApiResponse{Success: false, Message: err.Error()})
		return
	}
	ginCtx.JSON(http.StatusOK, ApiResponse{Success: true, Message: "Send message successfully."})
}

// @Summary		Viewer counts
// @Description	Returns the live viewer count per room, for the requested meeting IDs or all known chats.
// @Tags			Chats
// @Param			meeting_id	query	[]string	false	"Meeting IDs to report; repeatable"
// @Success		200	{object}	ApiResponse
// @Router			/viewerCounts [get]
func (h *Handler) viewerCounts(ginCtx *gin.Context) {
	ids := ginCtx.QueryArray("meeting_id")
	if len(ids) == 0 {
		var err error
		ids, err = h.svc.ListChatIDs(ginCtx.Request.Context())
		if err != nil {
			zap.L().Error("chathandler.list", zap.Error(err))
			ginCtx.JSON(http.StatusInternalServerError, ApiResponse{Success: false, Message: err.Error()})
			return
		}
	}

	// Snapshot with no ids would report every counter ever touched, deleted
	// chats included; stick to the registered set resolved above.
	counts := map[string]int{}
	if len(ids) > 0 {
		counts = h.counters.Snapshot(ids...)
	}

	ginCtx.JSON(http.StatusOK, ApiResponse{
		Success: true,
		Message: "Success, see 'content'",
		Content: counts,
	})
}
