package model

// UploadEvent is the upload-completed notification published by the
// document upload endpoint and consumed by the vectorize worker. It is
// carried over the broker, not stored.
type UploadEvent struct {
	UserID      uint   `json:"user_id"`
	FileName    string `json:"file_name"`
	ObjectKey   string `json:"object_key"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}
