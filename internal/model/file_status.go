package model

import "time"

// Ledger stages for one uploaded file. The stage column doubles as the
// pipeline's mutual-exclusion token: every transition is a conditional
// update guarded on the previous stage.
const (
	StageReceived  = "received"
	StageUploading = "uploading"
	StageUploaded  = "uploaded"
	StageIndexing  = "indexing"
	StageIndexed   = "indexed"
	StageFailed    = "failed"
	StageDeleting  = "deleting"
	StageDeleted   = "deleted"
)

// TerminalStage reports whether a stage ends a pipeline run. Only a
// terminal row may be superseded by a fresh received row.
func TerminalStage(stage string) bool {
	return stage == StageIndexed || stage == StageFailed || stage == StageDeleted
}

// FileStatus is the durable processing-status ledger row for one
// (user, file name) pair. Remote identifiers are recorded as soon as the
// corresponding remote call succeeds so that deletion and retry can
// unwind partial runs.
type FileStatus struct {
	ID           uint      `gorm:"primaryKey" json:"-"`
	UserID       uint      `gorm:"not null;uniqueIndex:uniq_user_file" json:"user_id"`
	FileName     string    `gorm:"size:256;not null;uniqueIndex:uniq_user_file" json:"file_name"`
	Stage        string    `gorm:"size:16;not null;index" json:"stage"`
	Error        string    `gorm:"type:text" json:"error,omitempty"`
	ObjectKey    string    `gorm:"size:512" json:"object_key,omitempty"`
	ContentType  string    `gorm:"size:128" json:"content_type,omitempty"`
	Size         int64     `json:"size"`
	RemoteFileID string    `gorm:"size:128" json:"remote_file_id,omitempty"`
	CollectionID string    `gorm:"size:128" json:"collection_id,omitempty"`
	ItemID       string    `gorm:"size:128" json:"item_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
