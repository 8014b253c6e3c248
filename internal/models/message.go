package models

import "time"

// Role tells who authored a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Image is an inline raster payload returned by the model, base64 encoded.
type Image struct {
	MIMEType string `json:"mime_type" msgpack:"mime_type"`
	Data     string `json:"data" msgpack:"data"`
}

// ChatMessage is one immutable entry of the conversation log.
// Content is markdown for the assistant and plain text for the user.
type ChatMessage struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Images    []Image   `json:"images,omitempty"`
}
