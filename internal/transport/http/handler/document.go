package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"docuchat/internal/app"
	"docuchat/internal/model"
	"docuchat/internal/pkg/filetype"
	"docuchat/internal/pkg/pathutil"
	"docuchat/internal/platform/objectstore"
	"docuchat/internal/platform/rabbitmq"
	"docuchat/internal/transport/http/response"
)

const maxUploadBytes = 50 << 20

type DocumentHandler struct {
	ingest    *app.IngestService
	blobs     *objectstore.Store
	publisher *rabbitmq.UploadEventPublisher
	logger    *zap.Logger
}

func NewDocumentHandler(ingest *app.IngestService, blobs *objectstore.Store, publisher *rabbitmq.UploadEventPublisher, logger *zap.Logger) *DocumentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentHandler{
		ingest:    ingest,
		blobs:     blobs,
		publisher: publisher,
		logger:    logger,
	}
}

// Upload stores the raw file and enqueues it for vectorization. The
// response is 202-style: accepted, pipeline runs asynchronously.
func (h *DocumentHandler) Upload(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing file field")
		return
	}
	if fileHeader.Size > maxUploadBytes {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "file too large")
		return
	}

	fileName := pathutil.SafeFileName(fileHeader.Filename)
	if fileName == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid file name")
		return
	}
	if !filetype.Supported(fileName) {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest,
			fmt.Sprintf("unsupported file type; supported: %s", filetype.SupportedList()))
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "read upload failed")
		return
	}
	defer src.Close()

	contentType := fileHeader.Header.Get("Content-Type")
	objectKey := pathutil.ObjectKey(userID, fileName)

	if err := h.blobs.Put(c.Request.Context(), objectKey, src, fileHeader.Size, contentType); err != nil {
		h.logger.Error("store upload failed", zap.String("object_key", objectKey), zap.Error(err))
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "store upload failed")
		return
	}

	event := model.UploadEvent{
		UserID:      userID,
		FileName:    fileName,
		ObjectKey:   objectKey,
		ContentType: contentType,
		Size:        fileHeader.Size,
	}
	if err := h.publisher.Publish(c.Request.Context(), event); err != nil {
		h.logger.Error("publish upload event failed", zap.String("object_key", objectKey), zap.Error(err))
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "enqueue upload failed")
		return
	}

	c.JSON(http.StatusAccepted, response.APIResponse{
		Code:    response.CodeOK,
		Message: "accepted",
		Data: gin.H{
			"file_name": fileName,
			"status":    model.StageReceived,
		},
	})
}

func (h *DocumentHandler) List(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	statuses, err := h.ingest.ListDocuments(userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list documents failed")
		return
	}

	response.OK(c, gin.H{"documents": statuses})
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	fileName := pathutil.SafeFileName(c.Param("fileName"))
	if fileName == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid file name")
		return
	}

	err := h.ingest.DeleteDocument(c.Request.Context(), userID, fileName)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrDocumentNotFound):
			response.Error(c, http.StatusNotFound, response.CodeDocumentNotFound, err.Error())
		case errors.Is(err, app.ErrDuplicateTrigger):
			response.Error(c, http.StatusConflict, response.CodeConflict, "deletion already in progress")
		default:
			h.logger.Error("delete document failed",
				zap.Uint("user_id", userID),
				zap.String("file_name", fileName),
				zap.Error(err))
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "delete document failed")
		}
		return
	}

	response.OK(c, gin.H{"deleted": true, "file_name": fileName})
}

// Status reports the ledger entry for a single document.
func (h *DocumentHandler) Status(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	fileName := pathutil.SafeFileName(c.Param("fileName"))
	if fileName == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid file name")
		return
	}

	status, err := h.ingest.GetDocument(userID, fileName)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrDocumentNotFound):
			response.Error(c, http.StatusNotFound, response.CodeDocumentNotFound, "document not found")
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid file name")
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "fetch document status failed")
		}
		return
	}

	response.OK(c, status)
}
