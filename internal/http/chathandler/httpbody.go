package chathandler

type StartChatBody struct {
	ChatID         string `json:"chat_id" binding:"required" example:"meeting-1"`
	CallbackURI    string `json:"callback_uri"    example:"https://lms.example.org/webhooks"`
	CallbackSecret string `json:"callback_secret" example:"s3cret"`
	CallbackID     string `json:"callback_id"     example:"course-42"`
} // @name StartChatRequest

type EndChatBody struct {
	ChatID string `json:"chat_id" binding:"required" example:"meeting-1"`
} // @name EndChatRequest

type SendMessageBody struct {
	ChatID   string `json:"chat_id"   binding:"required" example:"meeting-1"`
	UserName string `json:"user_name" binding:"required" example:"moderator"`
	Message  string `json:"message"   binding:"required" example:"stream starts in 5 minutes"`
} // @name SendMessageRequest

// ApiResponse is the envelope of every administrative endpoint.
type ApiResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Content any    `json:"content,omitempty"`
} // @name ApiResponse
