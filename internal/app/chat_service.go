package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"docuchat/internal/ai"
	"docuchat/internal/model"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNotSessionOwner = errors.New("session belongs to another user")
	ErrPromptEmpty     = errors.New("prompt is empty")
)

// AgentClient is the LLM agent provider: one-shot invocations with a
// document-search capability scoped per call.
type AgentClient interface {
	Respond(ctx context.Context, input ai.RespondInput) (string, error)
	GenerateSessionName(ctx context.Context, prompt string) (string, error)
}

// ChatService owns the session store operations and the chat
// orchestration: resolve session, deduplicate retries, scope the agent
// to the user's collections, persist the exchange, name new sessions.
type ChatService struct {
	sessionRepo    SessionStore
	messageRepo    MessageStore
	collectionRepo CollectionStore
	agent          AgentClient
	historyCache   HistoryCache
	logger         *zap.Logger

	maxContext       int
	maxSearchResults int
	retry            RetryPolicy
}

func NewChatService(
	sessionRepo SessionStore,
	messageRepo MessageStore,
	collectionRepo CollectionStore,
	agent AgentClient,
	historyCache HistoryCache,
	logger *zap.Logger,
	maxContext int,
	maxSearchResults int,
	retry RetryPolicy,
) *ChatService {
	if maxContext <= 0 {
		maxContext = 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{
		sessionRepo:      sessionRepo,
		messageRepo:      messageRepo,
		collectionRepo:   collectionRepo,
		agent:            agent,
		historyCache:     historyCache,
		logger:           logger,
		maxContext:       maxContext,
		maxSearchResults: maxSearchResults,
		retry:            retry,
	}
}

// DefaultSessionID is the session used when a caller omits session_id.
// It is keyed per user so one user's default transcript can never bleed
// into another's.
func DefaultSessionID(userID uint) string {
	return fmt.Sprintf("default-%d", userID)
}

func (s *ChatService) CreateSession(userID uint) (*model.Session, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}

	now := time.Now()
	session := &model.Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := s.sessionRepo.Create(session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *ChatService) ListSessions(userID uint) ([]model.Session, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	return s.sessionRepo.ListByUserID(userID)
}

// DeleteSession removes a session and its transcript. Ownership is
// verified first: deleting another user's session is an authorization
// failure, never a silent success.
func (s *ChatService) DeleteSession(userID uint, sessionID string) error {
	if userID == 0 || sessionID == "" {
		return ErrInvalidInput
	}
	session, err := s.sessionRepo.GetByID(sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return ErrSessionNotFound
	}
	if session.UserID != userID {
		return ErrNotSessionOwner
	}
	if err := s.sessionRepo.DeleteWithMessages(sessionID, userID); err != nil {
		return err
	}
	if s.historyCache != nil {
		_ = s.historyCache.DeleteHistory(context.Background(), sessionID)
	}
	return nil
}

func (s *ChatService) GetHistory(userID uint, sessionID string, limit int) ([]model.Message, error) {
	if userID == 0 || sessionID == "" {
		return nil, ErrInvalidInput
	}

	session, err := s.sessionRepo.GetByID(sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if session.UserID != userID {
		return nil, ErrNotSessionOwner
	}

	ctx := context.Background()
	if s.historyCache != nil {
		dirty, err := s.historyCache.IsDirty(ctx, sessionID)
		if err == nil && !dirty {
			if cached, hit, cacheErr := s.historyCache.GetHistory(ctx, sessionID); cacheErr == nil && hit {
				return trimMessages(cached, limit), nil
			}
		}
	}

	messages, err := s.messageRepo.ListBySessionID(sessionID, limit)
	if err != nil {
		return nil, err
	}
	if s.historyCache != nil {
		if dirty, dirtyErr := s.historyCache.IsDirty(ctx, sessionID); dirtyErr == nil && !dirty {
			_ = s.historyCache.SetHistory(ctx, sessionID, messages)
		}
	}
	return messages, nil
}

type ChatInput struct {
	UserID          uint
	Prompt          string
	SessionID       string // empty = the user's default session
	ClientMessageID string // optional retry deduplication token
}

type ChatResult struct {
	SessionID    string        `json:"session_id"`
	SessionName  *string       `json:"session_name"`
	Message      model.Message `json:"message"`
	Deduplicated bool          `json:"deduplicated"`
}

// Chat runs one conversation turn. A retried clientMessageID returns
// the stored assistant response without a second model invocation; a
// fresh prompt invokes the agent scoped to the user's collections and
// appends the exchange atomically.
func (s *ChatService) Chat(ctx context.Context, input ChatInput) (*ChatResult, error) {
	if input.UserID == 0 {
		return nil, ErrInvalidInput
	}
	prompt := strings.TrimSpace(input.Prompt)
	if prompt == "" {
		return nil, ErrPromptEmpty
	}

	session, err := s.resolveSession(input.UserID, input.SessionID)
	if err != nil {
		return nil, err
	}

	if input.ClientMessageID != "" {
		if result, err := s.replayIfSeen(session, input.ClientMessageID); err != nil || result != nil {
			return result, err
		}
	}

	priorCount, err := s.messageRepo.CountBySessionID(session.ID)
	if err != nil {
		return nil, err
	}

	history, err := s.loadContext(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	scope, err := s.groundingScope(input.UserID)
	if err != nil {
		return nil, err
	}

	var answer string
	err = s.retry.Do(ctx, func() error {
		var respondErr error
		answer, respondErr = s.agent.Respond(ctx, ai.RespondInput{
			History:          history,
			Prompt:           prompt,
			CollectionIDs:    scope,
			MaxSearchResults: s.maxSearchResults,
		})
		return respondErr
	})
	if err != nil {
		s.logger.Warn("agent invocation failed",
			zap.String("session_id", session.ID),
			zap.Error(err))
		return nil, err
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		answer = "The model returned an empty response."
	}

	now := time.Now()
	userMsg := &model.Message{
		SessionID: session.ID,
		UserID:    input.UserID,
		Role:      model.RoleUser,
		Content:   prompt,
		CreatedAt: now,
	}
	if input.ClientMessageID != "" {
		cmid := input.ClientMessageID
		userMsg.ClientMessageID = &cmid
	}
	assistantMsg := &model.Message{
		SessionID: session.ID,
		UserID:    input.UserID,
		Role:      model.RoleAssistant,
		Content:   answer,
		CreatedAt: now.Add(time.Millisecond),
	}

	if s.historyCache != nil {
		_ = s.historyCache.MarkDirty(ctx, session.ID)
		_ = s.historyCache.DeleteHistory(ctx, session.ID)
	}
	if err := s.messageRepo.AppendExchange(userMsg, assistantMsg); err != nil {
		// A concurrent retry with the same client id may have won the
		// unique-index race; replay its stored response.
		if input.ClientMessageID != "" {
			if result, replayErr := s.replayIfSeen(session, input.ClientMessageID); replayErr == nil && result != nil {
				return result, nil
			}
		}
		return nil, err
	}

	sessionName := session.Name
	if priorCount == 0 {
		named := s.nameSession(ctx, session.ID, prompt)
		sessionName = &named
	}

	if err := s.sessionRepo.TouchActivity(session.ID, now); err != nil {
		s.logger.Warn("touch session activity failed", zap.String("session_id", session.ID), zap.Error(err))
	}

	return &ChatResult{
		SessionID:   session.ID,
		SessionName: sessionName,
		Message:     *assistantMsg,
	}, nil
}

// resolveSession fetches the session, lazily creating it when the id is
// new (the default session in particular is created on first use).
func (s *ChatService) resolveSession(userID uint, sessionID string) (*model.Session, error) {
	id := strings.TrimSpace(sessionID)
	if id == "" || id == "default" {
		id = DefaultSessionID(userID)
	}

	session, err := s.sessionRepo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if session != nil {
		if session.UserID != userID {
			return nil, ErrNotSessionOwner
		}
		return session, nil
	}

	now := time.Now()
	session = &model.Session{
		ID:             id,
		UserID:         userID,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := s.sessionRepo.Create(session); err != nil {
		// Lost a concurrent-create race; use the winner's row.
		existing, getErr := s.sessionRepo.GetByID(id)
		if getErr == nil && existing != nil {
			if existing.UserID != userID {
				return nil, ErrNotSessionOwner
			}
			return existing, nil
		}
		return nil, err
	}
	return session, nil
}

// replayIfSeen returns the stored assistant response for a previously
// processed clientMessageID, or nil when the id is fresh.
func (s *ChatService) replayIfSeen(session *model.Session, clientMessageID string) (*ChatResult, error) {
	prior, err := s.messageRepo.GetByClientMessageID(session.ID, clientMessageID)
	if err != nil {
		return nil, err
	}
	if prior == nil {
		return nil, nil
	}
	reply, err := s.messageRepo.GetReply(session.ID, prior.ID)
	if err != nil {
		return nil, err
	}
	if reply == nil {
		return nil, fmt.Errorf("stored reply missing for client message %s", clientMessageID)
	}

	current, err := s.sessionRepo.GetByID(session.ID)
	if err != nil {
		return nil, err
	}
	name := session.Name
	if current != nil {
		name = current.Name
	}
	return &ChatResult{
		SessionID:    session.ID,
		SessionName:  name,
		Message:      *reply,
		Deduplicated: true,
	}, nil
}

func (s *ChatService) loadContext(ctx context.Context, sessionID string) ([]ai.ChatMessage, error) {
	var recent []model.Message

	cached := false
	if s.historyCache != nil {
		if dirty, err := s.historyCache.IsDirty(ctx, sessionID); err == nil && !dirty {
			if messages, hit, err := s.historyCache.GetHistory(ctx, sessionID); err == nil && hit {
				recent = trimMessages(messages, s.maxContext)
				cached = true
			}
		}
	}
	if !cached {
		var err error
		recent, err = s.messageRepo.ListRecentBySessionID(sessionID, s.maxContext)
		if err != nil {
			return nil, err
		}
	}

	history := make([]ai.ChatMessage, 0, len(recent))
	for _, item := range recent {
		role := item.Role
		if role == "" {
			role = model.RoleUser
		}
		history = append(history, ai.ChatMessage{Role: role, Content: item.Content})
	}
	return history, nil
}

// groundingScope returns the collection ids the agent may search; empty
// when the user has no indexed documents yet.
func (s *ChatService) groundingScope(userID uint) ([]string, error) {
	col, err := s.collectionRepo.GetByUserID(userID)
	if err != nil {
		return nil, err
	}
	if col == nil {
		return nil, nil
	}
	return []string{col.CollectionID}, nil
}

// nameSession derives and persists the session's display name from its
// first prompt. Provider failure falls back to truncating the prompt;
// the name is set once and never overwritten.
func (s *ChatService) nameSession(ctx context.Context, sessionID, prompt string) string {
	name, err := s.agent.GenerateSessionName(ctx, prompt)
	if err != nil {
		s.logger.Warn("generate session name failed", zap.String("session_id", sessionID), zap.Error(err))
		name = ai.TruncateName(prompt, 50)
	}
	if err := s.sessionRepo.SetName(sessionID, name); err != nil {
		s.logger.Warn("set session name failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	return name
}

func trimMessages(messages []model.Message, limit int) []model.Message {
	if limit <= 0 || limit >= len(messages) {
		return messages
	}
	return messages[len(messages)-limit:]
}
