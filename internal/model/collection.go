package model

import "time"

// UserCollection maps a user to their single remote vector store. The
// unique index on UserID is what makes concurrent first-uploads converge
// on one collection: the loser of the insert race re-reads the winner's
// row and discards its own remote store.
type UserCollection struct {
	ID           uint      `gorm:"primaryKey" json:"-"`
	UserID       uint      `gorm:"not null;uniqueIndex" json:"user_id"`
	CollectionID string    `gorm:"size:128;not null" json:"collection_id"`
	CreatedAt    time.Time `json:"created_at"`
}
