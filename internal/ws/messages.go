package ws

// Frame kinds on the wire. Inbound frames carry "chat.message" or
// "chat.update"; everything published into a room's channel is forwarded to
// clients verbatim, so the room-management kinds pass through unchanged.
const (
	TypeChatMessage  = "chat.message"
	TypeChatUpdate   = "chat.update"
	TypeChatRedirect = "chat.redirect"
	TypeChatClear    = "chat.clear"
	TypeChatReload   = "chat.reload"
	TypeError        = "error"
)

// frameHead is the minimal decode used to pick a handler.
type frameHead struct {
	Type string `json:"type"`
}

// ChatMessageIn is the client's "chat.message" frame. Any user_name the
// client sends alongside is ignored; the server stamps the authenticated one.
type ChatMessageIn struct {
	Message string `json:"message"`
}

// ChatMessageOut is broadcast to every room member and used for the history
// array sent on join.
type ChatMessageOut struct {
	Type     string `json:"type"`
	UserName string `json:"user_name"`
	Message  string `json:"message"`
}

// ChatUpdateOut answers a "chat.update" request; it goes to the requesting
// connection only.
type ChatUpdateOut struct {
	Type    string `json:"type"`
	Viewers int    `json:"viewers"`
}

// ErrorOut reports a rejected frame without closing the connection.
type ErrorOut struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}
