package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// ProviderError classifies a failed provider call. Transient errors
// (rate limits, 5xx, network) may be retried; everything else is a
// permanent rejection of the request.
type ProviderError struct {
	Op         string
	StatusCode int
	Message    string
	Transient  bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: provider status %d: %s", e.Op, e.StatusCode, e.Message)
}

// IsTransient reports whether err is a retryable provider failure.
func IsTransient(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Transient
}

// IsNotFound reports whether the provider no longer knows the resource.
// Deletion paths treat this as already-removed.
func IsNotFound(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.StatusCode == http.StatusNotFound
}

type Config struct {
	BaseURL string
	APIKey  string
	Model   string
}

// Client talks to an OpenAI-compatible API: files, vector stores and the
// responses endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 90 * time.Second},
	}
}

// UploadFile streams file content to the provider and returns its file id.
func (c *Client) UploadFile(ctx context.Context, fileName string, content io.Reader) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("purpose", "assistants"); err != nil {
		return "", fmt.Errorf("write upload field failed: %w", err)
	}
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return "", fmt.Errorf("create upload part failed: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return "", fmt.Errorf("copy upload content failed: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close upload writer failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/files"), &body)
	if err != nil {
		return "", fmt.Errorf("build upload request failed: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	var parsed struct {
		ID string `json:"id"`
	}
	if err := c.do(req, "upload file", &parsed); err != nil {
		return "", err
	}
	return parsed.ID, nil
}

func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/files/"+fileID, nil, "delete file", nil)
}

// CreateCollection creates a vector store and returns its id.
func (c *Client) CreateCollection(ctx context.Context, name string) (string, error) {
	var parsed struct {
		ID string `json:"id"`
	}
	payload := map[string]interface{}{"name": name}
	if err := c.doJSON(ctx, http.MethodPost, "/vector_stores", payload, "create vector store", &parsed); err != nil {
		return "", err
	}
	return parsed.ID, nil
}

func (c *Client) DeleteCollection(ctx context.Context, collectionID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/vector_stores/"+collectionID, nil, "delete vector store", nil)
}

// AddItem attaches an uploaded file to a vector store and returns the
// item id (the provider reuses the file id).
func (c *Client) AddItem(ctx context.Context, collectionID, fileID string) (string, error) {
	var parsed struct {
		ID string `json:"id"`
	}
	payload := map[string]interface{}{"file_id": fileID}
	path := "/vector_stores/" + collectionID + "/files"
	if err := c.doJSON(ctx, http.MethodPost, path, payload, "add vector store file", &parsed); err != nil {
		return "", err
	}
	return parsed.ID, nil
}

func (c *Client) RemoveItem(ctx context.Context, collectionID, itemID string) error {
	path := "/vector_stores/" + collectionID + "/files/" + itemID
	return c.doJSON(ctx, http.MethodDelete, path, nil, "remove vector store file", nil)
}

// AwaitItemIndexed polls the vector store until the file finishes
// server-side processing, up to budget. Polling is progress-watching at
// a fixed interval, not error retry.
func (c *Client) AwaitItemIndexed(ctx context.Context, collectionID, itemID string, interval, budget time.Duration) error {
	deadline := time.Now().Add(budget)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, lastErr, err := c.itemStatus(ctx, collectionID, itemID)
		if err != nil {
			return err
		}
		switch status {
		case "completed":
			return nil
		case "failed":
			return &ProviderError{Op: "await indexing", StatusCode: http.StatusOK, Message: "file processing failed: " + lastErr}
		case "cancelled":
			return &ProviderError{Op: "await indexing", StatusCode: http.StatusOK, Message: "file processing was cancelled"}
		}

		if time.Now().After(deadline) {
			return &ProviderError{
				Op: "await indexing", StatusCode: http.StatusRequestTimeout,
				Message: fmt.Sprintf("file not indexed within %s", budget), Transient: true,
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) itemStatus(ctx context.Context, collectionID, itemID string) (string, string, error) {
	var parsed struct {
		Status    string `json:"status"`
		LastError *struct {
			Message string `json:"message"`
		} `json:"last_error"`
	}
	path := "/vector_stores/" + collectionID + "/files/" + itemID
	if err := c.doJSON(ctx, http.MethodGet, path, nil, "retrieve vector store file", &parsed); err != nil {
		return "", "", err
	}
	lastErr := ""
	if parsed.LastError != nil {
		lastErr = parsed.LastError.Message
	}
	return parsed.Status, lastErr, nil
}

func (c *Client) url(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + path
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload interface{}, op string, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s request failed: %w", op, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return fmt.Errorf("build %s request failed: %w", op, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	return c.do(req, op, out)
}

func (c *Client) do(req *http.Request, op string, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ProviderError{Op: op, Message: err.Error(), Transient: true}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ProviderError{Op: op, StatusCode: resp.StatusCode, Message: err.Error(), Transient: true}
	}
	if resp.StatusCode >= 300 {
		return &ProviderError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(raw)),
			Transient:  resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parse %s response failed: %w", op, err)
	}
	return nil
}
