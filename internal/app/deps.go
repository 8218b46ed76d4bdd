package app

import (
	"context"
	"io"
	"time"

	"docuchat/internal/model"
)

// Store and client contracts the services depend on. The concrete
// implementations live in internal/repository, internal/platform and
// internal/ai; tests substitute in-memory fakes.

type SessionStore interface {
	Create(session *model.Session) error
	GetByID(sessionID string) (*model.Session, error)
	ListByUserID(userID uint) ([]model.Session, error)
	SetName(sessionID, name string) error
	TouchActivity(sessionID string, at time.Time) error
	DeleteWithMessages(sessionID string, userID uint) error
}

type MessageStore interface {
	AppendExchange(userMsg, assistantMsg *model.Message) error
	ListBySessionID(sessionID string, limit int) ([]model.Message, error)
	ListRecentBySessionID(sessionID string, limit int) ([]model.Message, error)
	GetByClientMessageID(sessionID, clientMessageID string) (*model.Message, error)
	GetReply(sessionID string, userMessageID uint) (*model.Message, error)
	CountBySessionID(sessionID string) (int64, error)
}

type FileStatusStore interface {
	GetByUserAndFile(userID uint, fileName string) (*model.FileStatus, error)
	ListByUserID(userID uint) ([]model.FileStatus, error)
	Create(status *model.FileStatus) error
	AdvanceStage(userID uint, fileName, from, to string, updates map[string]interface{}) error
	MarkFailed(userID uint, fileName, errMsg string) error
	RecordError(userID uint, fileName, errMsg string) error
	Reset(userID uint, fileName, fromTerminal string, fresh *model.FileStatus) error
	Delete(userID uint, fileName string) error
	CountCollectionMembers(userID uint, excludeFileName string) (int64, error)
}

type CollectionStore interface {
	GetByUserID(userID uint) (*model.UserCollection, error)
	CreateIfAbsent(userID uint, collectionID string) (*model.UserCollection, bool, error)
	DeleteByUserID(userID uint) error
}

// IndexClient is the remote document index: blob handles plus the
// per-user semantic collection.
type IndexClient interface {
	UploadFile(ctx context.Context, fileName string, content io.Reader) (string, error)
	DeleteFile(ctx context.Context, fileID string) error
	CreateCollection(ctx context.Context, name string) (string, error)
	DeleteCollection(ctx context.Context, collectionID string) error
	AddItem(ctx context.Context, collectionID, fileID string) (string, error)
	RemoveItem(ctx context.Context, collectionID, itemID string) error
	AwaitItemIndexed(ctx context.Context, collectionID, itemID string, interval, budget time.Duration) error
}

// BlobStore is the raw upload bucket.
type BlobStore interface {
	Get(ctx context.Context, objectKey string) ([]byte, error)
	Delete(ctx context.Context, objectKey string) error
}

type HistoryCache interface {
	GetHistory(ctx context.Context, sessionID string) ([]model.Message, bool, error)
	SetHistory(ctx context.Context, sessionID string, messages []model.Message) error
	DeleteHistory(ctx context.Context, sessionID string) error
	MarkDirty(ctx context.Context, sessionID string) error
	IsDirty(ctx context.Context, sessionID string) (bool, error)
}
