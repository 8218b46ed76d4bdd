package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(Config{BaseURL: server.URL, APIKey: "test-key", Model: "test-model"})
}

func TestProviderErrorClassification(t *testing.T) {
	for _, tc := range []struct {
		status    int
		transient bool
		notFound  bool
	}{
		{http.StatusTooManyRequests, true, false},
		{http.StatusServiceUnavailable, true, false},
		{http.StatusInternalServerError, true, false},
		{http.StatusBadRequest, false, false},
		{http.StatusNotFound, false, true},
	} {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		})
		err := client.DeleteFile(context.Background(), "file-1")
		require.Error(t, err)
		require.Equal(t, tc.transient, IsTransient(err), "status %d", tc.status)
		require.Equal(t, tc.notFound, IsNotFound(err), "status %d", tc.status)
	}
}

func TestNetworkErrorIsTransient(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:1", APIKey: "k"})
	err := client.DeleteFile(context.Background(), "file-1")
	require.Error(t, err)
	require.True(t, IsTransient(err))
}

func TestUploadFile(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/files", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Equal(t, "assistants", r.FormValue("purpose"))
		_, header, err := r.FormFile("file")
		require.NoError(t, err)
		require.Equal(t, "notes.txt", header.Filename)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "file-abc"})
	})

	fileID, err := client.UploadFile(context.Background(), "notes.txt", strings.NewReader("hello"))
	require.NoError(t, err)
	require.Equal(t, "file-abc", fileID)
}

func TestAwaitItemIndexedCompletes(t *testing.T) {
	polls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		polls++
		status := "in_progress"
		if polls >= 2 {
			status = "completed"
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
	})

	err := client.AwaitItemIndexed(context.Background(), "vs-1", "item-1", time.Millisecond, time.Second)
	require.NoError(t, err)
	require.GreaterOrEqual(t, polls, 2)
}

func TestAwaitItemIndexedTimeout(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "in_progress"})
	})

	err := client.AwaitItemIndexed(context.Background(), "vs-1", "item-1", time.Millisecond, 5*time.Millisecond)
	require.Error(t, err)
	require.True(t, IsTransient(err))
	require.Contains(t, err.Error(), "not indexed within")
}

func TestAwaitItemIndexedProcessingFailed(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":     "failed",
			"last_error": map[string]string{"message": "unparseable file"},
		})
	})

	err := client.AwaitItemIndexed(context.Background(), "vs-1", "item-1", time.Millisecond, time.Second)
	require.Error(t, err)
	require.False(t, IsTransient(err))
	require.Contains(t, err.Error(), "unparseable file")
}

func responsesBody(text string) map[string]interface{} {
	return map[string]interface{}{
		"output": []map[string]interface{}{{
			"type": "message",
			"content": []map[string]interface{}{{
				"type": "output_text",
				"text": text,
			}},
		}},
	}
}

func TestRespondWithGroundingScope(t *testing.T) {
	var payload map[string]interface{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/responses", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		_ = json.NewEncoder(w).Encode(responsesBody("grounded answer"))
	})

	answer, err := client.Respond(context.Background(), RespondInput{
		Prompt:           "what does the report say",
		CollectionIDs:    []string{"vs-1"},
		MaxSearchResults: 5,
	})
	require.NoError(t, err)
	require.Equal(t, "grounded answer", answer)

	tools, ok := payload["tools"].([]interface{})
	require.True(t, ok)
	require.Len(t, tools, 1)
	tool := tools[0].(map[string]interface{})
	require.Equal(t, "file_search", tool["type"])
	require.Equal(t, []interface{}{"vs-1"}, tool["vector_store_ids"])
	require.EqualValues(t, 5, tool["max_num_results"])
}

func TestRespondWithoutCollectionsOmitsTools(t *testing.T) {
	var payload map[string]interface{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		_ = json.NewEncoder(w).Encode(responsesBody("plain answer"))
	})

	answer, err := client.Respond(context.Background(), RespondInput{Prompt: "hi"})
	require.NoError(t, err)
	require.Equal(t, "plain answer", answer)
	require.NotContains(t, payload, "tools")
}

func TestGenerateSessionNameTruncates(t *testing.T) {
	long := strings.Repeat("a very descriptive title ", 5)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(responsesBody(long))
	})

	name, err := client.GenerateSessionName(context.Background(), "first prompt")
	require.NoError(t, err)
	require.LessOrEqual(t, len([]rune(name)), 50)
	require.True(t, strings.HasSuffix(name, "..."))
}

func TestTruncateName(t *testing.T) {
	require.Equal(t, "short", TruncateName("short", 50))
	require.Equal(t, "short", TruncateName("  short  ", 50))

	long := strings.Repeat("x", 60)
	got := TruncateName(long, 50)
	require.Len(t, []rune(got), 50)
	require.True(t, strings.HasSuffix(got, "..."))
}
