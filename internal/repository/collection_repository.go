package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"docuchat/internal/model"
)

type CollectionRepository struct {
	db *gorm.DB
}

func NewCollectionRepository(db *gorm.DB) *CollectionRepository {
	return &CollectionRepository{db: db}
}

func (r *CollectionRepository) GetByUserID(userID uint) (*model.UserCollection, error) {
	var col model.UserCollection
	if err := r.db.Where("user_id = ?", userID).First(&col).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user collection failed: %w", err)
	}
	return &col, nil
}

// CreateIfAbsent is the conditional-create guard behind the
// one-collection-per-user invariant. The insert is a no-op when a row
// for the user already exists; the returned record is always the live
// row, and won reports whether this caller's collection id was the one
// persisted.
func (r *CollectionRepository) CreateIfAbsent(userID uint, collectionID string) (*model.UserCollection, bool, error) {
	candidate := &model.UserCollection{UserID: userID, CollectionID: collectionID}
	res := r.db.Clauses(clause.OnConflict{DoNothing: true}).Create(candidate)
	if res.Error != nil {
		return nil, false, fmt.Errorf("create user collection failed: %w", res.Error)
	}

	live, err := r.GetByUserID(userID)
	if err != nil {
		return nil, false, err
	}
	if live == nil {
		return nil, false, fmt.Errorf("user collection vanished after create")
	}
	return live, res.RowsAffected > 0 && live.CollectionID == collectionID, nil
}

func (r *CollectionRepository) DeleteByUserID(userID uint) error {
	if err := r.db.Where("user_id = ?", userID).Delete(&model.UserCollection{}).Error; err != nil {
		return fmt.Errorf("delete user collection failed: %w", err)
	}
	return nil
}
