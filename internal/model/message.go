package model

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a session transcript. Rows are append-only.
// ClientMessageID is set by clients that want retry deduplication; the
// unique index rejects a second insert with the same id in one session.
// ReplyToID links an assistant message to the user message it answers,
// which is how a deduplicated retry finds the stored response.
type Message struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	SessionID       string    `gorm:"size:64;not null;index;uniqueIndex:uniq_session_client_msg" json:"session_id"`
	UserID          uint      `gorm:"not null;index" json:"user_id"`
	Role            string    `gorm:"size:16;not null" json:"role"`
	Content         string    `gorm:"type:text;not null" json:"content"`
	ClientMessageID *string   `gorm:"size:128;uniqueIndex:uniq_session_client_msg" json:"client_message_id,omitempty"`
	ReplyToID       *uint     `gorm:"index" json:"reply_to_id,omitempty"`
	CreatedAt       time.Time `gorm:"index" json:"created_at"`
}
