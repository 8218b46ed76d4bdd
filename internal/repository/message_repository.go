package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"docuchat/internal/model"
)

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// AppendExchange persists a user/assistant message pair in one
// transaction; the assistant row is linked back to the user row so a
// deduplicated retry can recover the stored response.
func (r *MessageRepository) AppendExchange(userMsg, assistantMsg *model.Message) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(userMsg).Error; err != nil {
			return err
		}
		assistantMsg.ReplyToID = &userMsg.ID
		return tx.Create(assistantMsg).Error
	})
	if err != nil {
		return fmt.Errorf("append exchange failed: %w", err)
	}
	return nil
}

func (r *MessageRepository) ListBySessionID(sessionID string, limit int) ([]model.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}

	var messages []model.Message
	if err := r.db.Where("session_id = ?", sessionID).Order("created_at ASC, id ASC").Limit(limit).Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("list messages failed: %w", err)
	}
	return messages, nil
}

// ListRecentBySessionID returns the newest messages in chronological order.
func (r *MessageRepository) ListRecentBySessionID(sessionID string, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 20
	}

	var messages []model.Message
	if err := r.db.Where("session_id = ?", sessionID).Order("created_at DESC, id DESC").Limit(limit).Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("list recent messages failed: %w", err)
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (r *MessageRepository) GetByClientMessageID(sessionID, clientMessageID string) (*model.Message, error) {
	var msg model.Message
	if err := r.db.Where("session_id = ? AND client_message_id = ?", sessionID, clientMessageID).First(&msg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get message by client id failed: %w", err)
	}
	return &msg, nil
}

func (r *MessageRepository) GetReply(sessionID string, userMessageID uint) (*model.Message, error) {
	var msg model.Message
	if err := r.db.Where("session_id = ? AND reply_to_id = ?", sessionID, userMessageID).First(&msg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get reply failed: %w", err)
	}
	return &msg, nil
}

func (r *MessageRepository) CountBySessionID(sessionID string) (int64, error) {
	var count int64
	if err := r.db.Model(&model.Message{}).Where("session_id = ?", sessionID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count messages failed: %w", err)
	}
	return count, nil
}
