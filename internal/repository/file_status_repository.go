package repository

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"docuchat/internal/model"
)

var (
	// ErrStatusExists is returned when a ledger row for the key already
	// exists; the caller lost the creation race.
	ErrStatusExists = errors.New("file status already exists")
	// ErrStageConflict is returned when a conditional stage transition
	// matched zero rows: another run moved the ledger first.
	ErrStageConflict = errors.New("file status stage conflict")
)

type FileStatusRepository struct {
	db *gorm.DB
}

func NewFileStatusRepository(db *gorm.DB) *FileStatusRepository {
	return &FileStatusRepository{db: db}
}

func (r *FileStatusRepository) GetByUserAndFile(userID uint, fileName string) (*model.FileStatus, error) {
	var status model.FileStatus
	if err := r.db.Where("user_id = ? AND file_name = ?", userID, fileName).First(&status).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get file status failed: %w", err)
	}
	return &status, nil
}

func (r *FileStatusRepository) ListByUserID(userID uint) ([]model.FileStatus, error) {
	var statuses []model.FileStatus
	if err := r.db.Where("user_id = ?", userID).Order("updated_at DESC").Find(&statuses).Error; err != nil {
		return nil, fmt.Errorf("list file statuses failed: %w", err)
	}
	return statuses, nil
}

// Create inserts a fresh ledger row. The unique (user_id, file_name)
// index turns a concurrent duplicate into ErrStatusExists instead of a
// second live row.
func (r *FileStatusRepository) Create(status *model.FileStatus) error {
	if err := r.db.Create(status).Error; err != nil {
		if isDuplicateKey(err) {
			return ErrStatusExists
		}
		return fmt.Errorf("create file status failed: %w", err)
	}
	return nil
}

// AdvanceStage performs the compare-and-set transition from -> to,
// applying extra column updates in the same statement. Zero affected
// rows means the guard failed and the caller must stop.
func (r *FileStatusRepository) AdvanceStage(userID uint, fileName, from, to string, updates map[string]interface{}) error {
	values := map[string]interface{}{"stage": to}
	for k, v := range updates {
		values[k] = v
	}
	res := r.db.Model(&model.FileStatus{}).
		Where("user_id = ? AND file_name = ? AND stage = ?", userID, fileName, from).
		Updates(values)
	if res.Error != nil {
		return fmt.Errorf("advance stage %s->%s failed: %w", from, to, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStageConflict
	}
	return nil
}

// MarkFailed records a terminal failure from whatever stage the run was
// in. Unlike AdvanceStage it is unconditional: the error text must land
// even if a concurrent transition already moved the row.
func (r *FileStatusRepository) MarkFailed(userID uint, fileName, errMsg string) error {
	if err := r.db.Model(&model.FileStatus{}).
		Where("user_id = ? AND file_name = ?", userID, fileName).
		Updates(map[string]interface{}{"stage": model.StageFailed, "error": errMsg}).Error; err != nil {
		return fmt.Errorf("mark file status failed: %w", err)
	}
	return nil
}

// RecordError updates the error text without changing the stage, used by
// the deletion coordinator to leave a resumable deleting row behind.
func (r *FileStatusRepository) RecordError(userID uint, fileName, errMsg string) error {
	if err := r.db.Model(&model.FileStatus{}).
		Where("user_id = ? AND file_name = ?", userID, fileName).
		Update("error", errMsg).Error; err != nil {
		return fmt.Errorf("record file status error failed: %w", err)
	}
	return nil
}

// Reset supersedes a terminal row with a fresh received row for a retry
// upload. The stage guard keeps it from clobbering a live run.
func (r *FileStatusRepository) Reset(userID uint, fileName, fromTerminal string, fresh *model.FileStatus) error {
	res := r.db.Model(&model.FileStatus{}).
		Where("user_id = ? AND file_name = ? AND stage = ?", userID, fileName, fromTerminal).
		Updates(map[string]interface{}{
			"stage":          model.StageReceived,
			"error":          "",
			"object_key":     fresh.ObjectKey,
			"content_type":   fresh.ContentType,
			"size":           fresh.Size,
			"remote_file_id": "",
			"collection_id":  "",
			"item_id":        "",
		})
	if res.Error != nil {
		return fmt.Errorf("reset file status failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStageConflict
	}
	return nil
}

// CountCollectionMembers counts the user's files that hold or are about
// to hold a collection membership, excluding one file name; the deletion
// coordinator uses it to decide whether the collection just lost its
// last member. Rows still mid-indexing count too, so an in-flight run
// cannot have the collection deleted out from under it.
func (r *FileStatusRepository) CountCollectionMembers(userID uint, excludeFileName string) (int64, error) {
	var count int64
	if err := r.db.Model(&model.FileStatus{}).
		Where("user_id = ? AND file_name <> ? AND collection_id <> '' AND stage IN ?",
			userID, excludeFileName, []string{model.StageIndexing, model.StageIndexed}).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count collection members failed: %w", err)
	}
	return count, nil
}

func (r *FileStatusRepository) Delete(userID uint, fileName string) error {
	if err := r.db.Where("user_id = ? AND file_name = ?", userID, fileName).Delete(&model.FileStatus{}).Error; err != nil {
		return fmt.Errorf("delete file status failed: %w", err)
	}
	return nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// MySQL 1062 surfaces as a plain error string through the driver.
	return strings.Contains(err.Error(), "Duplicate entry") || strings.Contains(err.Error(), "1062")
}
