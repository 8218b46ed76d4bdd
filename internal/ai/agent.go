package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const assistantInstructions = "You are a helpful assistant specialized in answering questions about the user's documents. " +
	"When document search is available, prioritize it to answer the user's question. " +
	"Provide clear, accurate, and concise responses. " +
	"Provide the source of your information in the format: [Source: <file_name>, page number]."

const namingInstructions = "You are a session name generator. Create a concise, descriptive title " +
	"(maximum 50 characters) for a chat session based on the user's first message. " +
	"The title should capture the main topic or intent of the conversation. " +
	"Return only the title, nothing else."

// RespondInput is the per-call agent configuration. CollectionIDs is the
// grounding scope: the set of vector stores this invocation may search.
// An empty scope means the agent answers without document grounding.
type RespondInput struct {
	History          []ChatMessage
	Prompt           string
	CollectionIDs    []string
	MaxSearchResults int
}

// Respond runs one agent turn through the responses endpoint, with a
// file_search tool scoped to the given collections.
func (c *Client) Respond(ctx context.Context, input RespondInput) (string, error) {
	items := make([]map[string]interface{}, 0, len(input.History)+1)
	for _, m := range input.History {
		items = append(items, map[string]interface{}{"role": m.Role, "content": m.Content})
	}
	items = append(items, map[string]interface{}{"role": "user", "content": input.Prompt})

	payload := map[string]interface{}{
		"model":        c.cfg.Model,
		"instructions": assistantInstructions,
		"input":        items,
		"temperature":  0.1,
	}
	if len(input.CollectionIDs) > 0 {
		maxResults := input.MaxSearchResults
		if maxResults <= 0 {
			maxResults = 3
		}
		payload["tools"] = []map[string]interface{}{{
			"type":             "file_search",
			"vector_store_ids": input.CollectionIDs,
			"max_num_results":  maxResults,
		}}
	}

	text, err := c.respond(ctx, payload, "agent respond")
	if err != nil {
		return "", err
	}
	return text, nil
}

// GenerateSessionName derives a short display name from a session's
// first prompt. Callers fall back to truncating the prompt on error.
func (c *Client) GenerateSessionName(ctx context.Context, prompt string) (string, error) {
	payload := map[string]interface{}{
		"model":        c.cfg.Model,
		"instructions": namingInstructions,
		"input":        prompt,
		"temperature":  0.3,
	}
	name, err := c.respond(ctx, payload, "generate session name")
	if err != nil {
		return "", err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", &ProviderError{Op: "generate session name", StatusCode: http.StatusOK, Message: "empty title"}
	}
	return TruncateName(name, 50), nil
}

// TruncateName caps s at max runes, appending an ellipsis when cut.
func TruncateName(s string, max int) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= max {
		return string(runes)
	}
	return string(runes[:max-3]) + "..."
}

func (c *Client) respond(ctx context.Context, payload map[string]interface{}, op string) (string, error) {
	var parsed struct {
		Output []struct {
			Type    string `json:"type"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"output"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/responses", payload, op, &parsed); err != nil {
		return "", err
	}

	var full strings.Builder
	for _, item := range parsed.Output {
		if item.Type != "message" {
			continue
		}
		for _, content := range item.Content {
			if content.Type == "output_text" {
				full.WriteString(content.Text)
			}
		}
	}
	if full.Len() == 0 {
		return "", fmt.Errorf("empty %s output", op)
	}
	return full.String(), nil
}
