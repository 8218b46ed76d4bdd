package repository

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"docuchat/internal/model"
)

type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(session *model.Session) error {
	if err := r.db.Create(session).Error; err != nil {
		return fmt.Errorf("create session failed: %w", err)
	}
	return nil
}

func (r *SessionRepository) GetByID(sessionID string) (*model.Session, error) {
	var session model.Session
	if err := r.db.Where("id = ?", sessionID).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session failed: %w", err)
	}
	return &session, nil
}

func (r *SessionRepository) ListByUserID(userID uint) ([]model.Session, error) {
	var sessions []model.Session
	if err := r.db.Where("user_id = ?", userID).Order("last_activity_at DESC").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("list sessions failed: %w", err)
	}
	return sessions, nil
}

// SetName writes the session name only if it is still unset.
func (r *SessionRepository) SetName(sessionID, name string) error {
	if err := r.db.Model(&model.Session{}).
		Where("id = ? AND name IS NULL", sessionID).
		Update("name", name).Error; err != nil {
		return fmt.Errorf("set session name failed: %w", err)
	}
	return nil
}

func (r *SessionRepository) TouchActivity(sessionID string, at time.Time) error {
	if err := r.db.Model(&model.Session{}).
		Where("id = ?", sessionID).
		Update("last_activity_at", at).Error; err != nil {
		return fmt.Errorf("touch session activity failed: %w", err)
	}
	return nil
}

// DeleteWithMessages removes the session and its transcript in one
// transaction so a crash cannot orphan messages.
func (r *SessionRepository) DeleteWithMessages(sessionID string, userID uint) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Delete(&model.Message{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ? AND user_id = ?", sessionID, userID).Delete(&model.Session{}).Error
	})
	if err != nil {
		return fmt.Errorf("delete session failed: %w", err)
	}
	return nil
}
