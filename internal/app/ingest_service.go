package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"docuchat/internal/ai"
	"docuchat/internal/model"
	"docuchat/internal/pkg/filetype"
	"docuchat/internal/pkg/pdfextract"
	"docuchat/internal/repository"
)

var (
	// ErrDuplicateTrigger means another pipeline run already holds the
	// ledger for this file; the trigger is dropped as a no-op.
	ErrDuplicateTrigger = errors.New("pipeline already active for file")
	ErrDocumentNotFound = errors.New("document not found")
)

// IngestService drives an uploaded file through the vectorization
// pipeline and reverses it on deletion. All cross-run coordination goes
// through the file-status ledger; the service itself is stateless.
type IngestService struct {
	statusRepo     FileStatusStore
	collectionRepo CollectionStore
	index          IndexClient
	blobs          BlobStore
	logger         *zap.Logger

	pollInterval time.Duration
	awaitBudget  time.Duration
	retry        RetryPolicy
}

func NewIngestService(
	statusRepo FileStatusStore,
	collectionRepo CollectionStore,
	index IndexClient,
	blobs BlobStore,
	logger *zap.Logger,
	pollInterval time.Duration,
	awaitBudget time.Duration,
	retry RetryPolicy,
) *IngestService {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if awaitBudget <= 0 {
		awaitBudget = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestService{
		statusRepo:     statusRepo,
		collectionRepo: collectionRepo,
		index:          index,
		blobs:          blobs,
		logger:         logger,
		pollInterval:   pollInterval,
		awaitBudget:    awaitBudget,
		retry:          retry,
	}
}

// Vectorize runs the ingestion pipeline for one upload event. The
// caller does not see per-file failures: a validation or provider error
// lands in the ledger as a failed stage and Vectorize returns nil. Only
// duplicate triggers and ledger-infrastructure errors are returned.
func (s *IngestService) Vectorize(ctx context.Context, event model.UploadEvent) error {
	log := s.logger.With(
		zap.Uint("user_id", event.UserID),
		zap.String("file_name", event.FileName),
	)

	if err := s.claimLedger(ctx, event); err != nil {
		return err
	}
	log.Info("vectorize started", zap.String("object_key", event.ObjectKey))

	if err := s.statusRepo.AdvanceStage(event.UserID, event.FileName, model.StageReceived, model.StageUploading, nil); err != nil {
		return s.stageConflictOrErr(err)
	}

	if !filetype.Supported(event.FileName) {
		msg := fmt.Sprintf("file type %q not supported; supported types: %s",
			filetype.Extension(event.FileName), filetype.SupportedList())
		log.Warn("unsupported file type", zap.String("extension", filetype.Extension(event.FileName)))
		return s.fail(event, msg)
	}

	data, err := s.blobs.Get(ctx, event.ObjectKey)
	if err != nil {
		log.Error("blob fetch failed", zap.Error(err))
		return s.fail(event, fmt.Sprintf("fetch uploaded blob: %v", err))
	}

	if filetype.IsPDF(event.FileName) {
		if _, probeErr := pdfextract.ExtractText(bytes.NewReader(data)); probeErr != nil {
			// Advisory only: the provider may still parse what we cannot.
			log.Warn("pdf probe failed", zap.Error(probeErr))
		}
	}

	var fileID string
	err = s.retry.Do(ctx, func() error {
		var uploadErr error
		fileID, uploadErr = s.index.UploadFile(ctx, event.FileName, bytes.NewReader(data))
		return uploadErr
	})
	if err != nil {
		log.Error("remote upload failed", zap.Error(err))
		return s.fail(event, fmt.Sprintf("upload to document store: %v", err))
	}
	if err := s.statusRepo.AdvanceStage(event.UserID, event.FileName, model.StageUploading, model.StageUploaded,
		map[string]interface{}{"remote_file_id": fileID}); err != nil {
		return s.stageConflictOrErr(err)
	}

	collectionID, err := s.resolveCollection(ctx, event.UserID)
	if err != nil {
		log.Error("resolve collection failed", zap.Error(err))
		return s.fail(event, fmt.Sprintf("resolve collection: %v", err))
	}

	if err := s.statusRepo.AdvanceStage(event.UserID, event.FileName, model.StageUploaded, model.StageIndexing,
		map[string]interface{}{"collection_id": collectionID}); err != nil {
		return s.stageConflictOrErr(err)
	}

	var itemID string
	err = s.retry.Do(ctx, func() error {
		var addErr error
		itemID, addErr = s.index.AddItem(ctx, collectionID, fileID)
		return addErr
	})
	if err == nil {
		err = s.index.AwaitItemIndexed(ctx, collectionID, itemID, s.pollInterval, s.awaitBudget)
	}
	if err != nil {
		// The uploaded blob stays behind for a later retry or deletion.
		log.Error("indexing failed", zap.Error(err))
		return s.fail(event, fmt.Sprintf("index in collection: %v", err))
	}

	if err := s.statusRepo.AdvanceStage(event.UserID, event.FileName, model.StageIndexing, model.StageIndexed,
		map[string]interface{}{"item_id": itemID, "error": ""}); err != nil {
		return s.stageConflictOrErr(err)
	}

	log.Info("vectorize completed",
		zap.String("remote_file_id", fileID),
		zap.String("collection_id", collectionID))
	return nil
}

// claimLedger creates (or supersedes) the status row so that at most
// one pipeline run is live per file. A fresh row starts at received; a
// terminal row is reset after its remote leftovers are cleared.
func (s *IngestService) claimLedger(ctx context.Context, event model.UploadEvent) error {
	existing, err := s.statusRepo.GetByUserAndFile(event.UserID, event.FileName)
	if err != nil {
		return err
	}

	fresh := &model.FileStatus{
		UserID:      event.UserID,
		FileName:    event.FileName,
		Stage:       model.StageReceived,
		ObjectKey:   event.ObjectKey,
		ContentType: event.ContentType,
		Size:        event.Size,
	}

	if existing == nil {
		if err := s.statusRepo.Create(fresh); err != nil {
			if errors.Is(err, repository.ErrStatusExists) {
				return ErrDuplicateTrigger
			}
			return err
		}
		return nil
	}

	if !model.TerminalStage(existing.Stage) {
		return ErrDuplicateTrigger
	}

	// The superseded run's remote leftovers must be gone before the key
	// is reused, or the old item stays a live collection member next to
	// the new one. A failed cleanup keeps the row terminal with the
	// error recorded; the redelivered event retries the supersede.
	if err := s.cleanupRemoteArtifacts(ctx, existing); err != nil {
		if recErr := s.statusRepo.RecordError(event.UserID, event.FileName, err.Error()); recErr != nil {
			s.logger.Error("record cleanup error failed", zap.String("file_name", event.FileName), zap.Error(recErr))
		}
		return err
	}

	if err := s.statusRepo.Reset(event.UserID, event.FileName, existing.Stage, fresh); err != nil {
		if errors.Is(err, repository.ErrStageConflict) {
			return ErrDuplicateTrigger
		}
		return err
	}
	return nil
}

// cleanupRemoteArtifacts removes remote state recorded by a finished
// run. Missing resources count as already removed; any other failure is
// returned so the caller does not reuse the key while the old artifacts
// may still exist.
func (s *IngestService) cleanupRemoteArtifacts(ctx context.Context, status *model.FileStatus) error {
	if status.ItemID != "" && status.CollectionID != "" {
		if err := s.index.RemoveItem(ctx, status.CollectionID, status.ItemID); err != nil && !ai.IsNotFound(err) {
			return fmt.Errorf("remove stale collection item: %w", err)
		}
	}
	if status.RemoteFileID != "" {
		if err := s.index.DeleteFile(ctx, status.RemoteFileID); err != nil && !ai.IsNotFound(err) {
			return fmt.Errorf("delete stale remote file: %w", err)
		}
	}
	return nil
}

// resolveCollection returns the user's collection id, creating the
// remote store on first use. Under a concurrent first-upload race the
// loser deletes its own store and adopts the winner's.
func (s *IngestService) resolveCollection(ctx context.Context, userID uint) (string, error) {
	col, err := s.collectionRepo.GetByUserID(userID)
	if err != nil {
		return "", err
	}
	if col != nil {
		return col.CollectionID, nil
	}

	var remoteID string
	err = s.retry.Do(ctx, func() error {
		var createErr error
		remoteID, createErr = s.index.CreateCollection(ctx, fmt.Sprintf("docuchat-user-%d", userID))
		return createErr
	})
	if err != nil {
		return "", err
	}

	live, won, err := s.collectionRepo.CreateIfAbsent(userID, remoteID)
	if err != nil {
		return "", err
	}
	if !won {
		if delErr := s.index.DeleteCollection(ctx, remoteID); delErr != nil && !ai.IsNotFound(delErr) {
			s.logger.Warn("delete orphan collection failed", zap.String("collection_id", remoteID), zap.Error(delErr))
		}
	}
	return live.CollectionID, nil
}

// ListDocuments returns the user's ledger rows, newest activity first.
func (s *IngestService) ListDocuments(userID uint) ([]model.FileStatus, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	return s.statusRepo.ListByUserID(userID)
}

// GetDocument returns the ledger row for one of the user's files.
func (s *IngestService) GetDocument(userID uint, fileName string) (*model.FileStatus, error) {
	if userID == 0 || fileName == "" {
		return nil, ErrInvalidInput
	}
	status, err := s.statusRepo.GetByUserAndFile(userID, fileName)
	if err != nil {
		return nil, err
	}
	if status == nil || status.Stage == model.StageDeleted {
		return nil, ErrDocumentNotFound
	}
	return status, nil
}

// DeleteDocument reverses the pipeline for one file: unindex, delete
// the remote blob, delete the raw upload, clear the ledger. Remote
// resources that are already gone are skipped; a remote failure leaves
// the row in deleting with the error recorded so a retry can resume.
func (s *IngestService) DeleteDocument(ctx context.Context, userID uint, fileName string) error {
	if userID == 0 || fileName == "" {
		return ErrInvalidInput
	}

	status, err := s.statusRepo.GetByUserAndFile(userID, fileName)
	if err != nil {
		return err
	}
	if status == nil || status.Stage == model.StageDeleted {
		return ErrDocumentNotFound
	}

	if status.Stage != model.StageDeleting {
		if err := s.statusRepo.AdvanceStage(userID, fileName, status.Stage, model.StageDeleting, nil); err != nil {
			return s.stageConflictOrErr(err)
		}
	}

	recordAndFail := func(step string, cause error) error {
		msg := fmt.Sprintf("%s: %v", step, cause)
		if recErr := s.statusRepo.RecordError(userID, fileName, msg); recErr != nil {
			s.logger.Error("record deletion error failed", zap.String("file_name", fileName), zap.Error(recErr))
		}
		return cause
	}

	if status.ItemID != "" && status.CollectionID != "" {
		if err := s.index.RemoveItem(ctx, status.CollectionID, status.ItemID); err != nil && !ai.IsNotFound(err) {
			return recordAndFail("remove collection item", err)
		}
	}

	if status.RemoteFileID != "" {
		if err := s.index.DeleteFile(ctx, status.RemoteFileID); err != nil && !ai.IsNotFound(err) {
			return recordAndFail("delete remote file", err)
		}
	}

	if status.ObjectKey != "" {
		if err := s.blobs.Delete(ctx, status.ObjectKey); err != nil {
			return recordAndFail("delete raw blob", err)
		}
	}

	// Drop the collection itself when its last member is gone.
	if status.CollectionID != "" {
		remaining, err := s.statusRepo.CountCollectionMembers(userID, fileName)
		if err != nil {
			return recordAndFail("count remaining documents", err)
		}
		if remaining == 0 {
			if err := s.index.DeleteCollection(ctx, status.CollectionID); err != nil && !ai.IsNotFound(err) {
				return recordAndFail("delete collection", err)
			}
			if err := s.collectionRepo.DeleteByUserID(userID); err != nil {
				return recordAndFail("clear collection record", err)
			}
		}
	}

	if err := s.statusRepo.Delete(userID, fileName); err != nil {
		return err
	}

	s.logger.Info("document deleted", zap.Uint("user_id", userID), zap.String("file_name", fileName))
	return nil
}

// fail marks the ledger row failed and swallows the pipeline error: the
// trigger's caller observes outcomes only through the ledger.
func (s *IngestService) fail(event model.UploadEvent, msg string) error {
	if err := s.statusRepo.MarkFailed(event.UserID, event.FileName, msg); err != nil {
		return err
	}
	return nil
}

func (s *IngestService) stageConflictOrErr(err error) error {
	if errors.Is(err, repository.ErrStageConflict) {
		return ErrDuplicateTrigger
	}
	return err
}
