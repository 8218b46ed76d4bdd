package model

import "time"

// Session is a persistent conversation between a user and the assistant.
// Sessions have no fixed lifecycle; they exist until explicitly deleted.
// Name stays nil until the first exchange derives one.
type Session struct {
	ID             string    `gorm:"primaryKey;size:64" json:"session_id"`
	UserID         uint      `gorm:"not null;index" json:"user_id"`
	Name           *string   `gorm:"size:128" json:"name"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `gorm:"index" json:"last_activity_at"`
}
