package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"docuchat/internal/ai"
	"docuchat/internal/model"
	"docuchat/internal/repository"
)

// In-memory implementations of the store and client contracts, with the
// same conflict semantics as the real repositories.

type fakeSessionStore struct {
	sessions  map[string]*model.Session
	createErr error
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: map[string]*model.Session{}}
}

func (f *fakeSessionStore) Create(session *model.Session) error {
	if f.createErr != nil {
		return f.createErr
	}
	if _, ok := f.sessions[session.ID]; ok {
		return errors.New("duplicate session id")
	}
	cp := *session
	f.sessions[session.ID] = &cp
	return nil
}

func (f *fakeSessionStore) GetByID(sessionID string) (*model.Session, error) {
	session, ok := f.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	cp := *session
	return &cp, nil
}

func (f *fakeSessionStore) ListByUserID(userID uint) ([]model.Session, error) {
	var out []model.Session
	for _, session := range f.sessions {
		if session.UserID == userID {
			out = append(out, *session)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	return out, nil
}

func (f *fakeSessionStore) SetName(sessionID, name string) error {
	session, ok := f.sessions[sessionID]
	if !ok {
		return nil
	}
	if session.Name == nil {
		session.Name = &name
	}
	return nil
}

func (f *fakeSessionStore) TouchActivity(sessionID string, at time.Time) error {
	if session, ok := f.sessions[sessionID]; ok {
		session.LastActivityAt = at
	}
	return nil
}

func (f *fakeSessionStore) DeleteWithMessages(sessionID string, userID uint) error {
	delete(f.sessions, sessionID)
	return nil
}

type fakeMessageStore struct {
	messages   []model.Message
	nextID     uint
	appendHook func(f *fakeMessageStore) error
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{nextID: 1}
}

func (f *fakeMessageStore) AppendExchange(userMsg, assistantMsg *model.Message) error {
	if f.appendHook != nil {
		if err := f.appendHook(f); err != nil {
			return err
		}
	}
	if userMsg.ClientMessageID != nil {
		for _, m := range f.messages {
			if m.SessionID == userMsg.SessionID && m.ClientMessageID != nil &&
				*m.ClientMessageID == *userMsg.ClientMessageID {
				return errors.New("Duplicate entry for key 'uniq_session_client_msg'")
			}
		}
	}
	userMsg.ID = f.nextID
	f.nextID++
	assistantMsg.ID = f.nextID
	f.nextID++
	assistantMsg.ReplyToID = &userMsg.ID
	f.messages = append(f.messages, *userMsg, *assistantMsg)
	return nil
}

func (f *fakeMessageStore) ListBySessionID(sessionID string, limit int) ([]model.Message, error) {
	var out []model.Message
	for _, m := range f.messages {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeMessageStore) ListRecentBySessionID(sessionID string, limit int) ([]model.Message, error) {
	return f.ListBySessionID(sessionID, limit)
}

func (f *fakeMessageStore) GetByClientMessageID(sessionID, clientMessageID string) (*model.Message, error) {
	for _, m := range f.messages {
		if m.SessionID == sessionID && m.ClientMessageID != nil && *m.ClientMessageID == clientMessageID {
			cp := m
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeMessageStore) GetReply(sessionID string, userMessageID uint) (*model.Message, error) {
	for _, m := range f.messages {
		if m.SessionID == sessionID && m.ReplyToID != nil && *m.ReplyToID == userMessageID {
			cp := m
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeMessageStore) CountBySessionID(sessionID string) (int64, error) {
	var n int64
	for _, m := range f.messages {
		if m.SessionID == sessionID {
			n++
		}
	}
	return n, nil
}

type fakeCollectionStore struct {
	collections map[uint]*model.UserCollection
	// raceWinner simulates losing the unique-index insert race: the
	// insert is discarded and this id is returned as the live row.
	raceWinner string
}

func newFakeCollectionStore() *fakeCollectionStore {
	return &fakeCollectionStore{collections: map[uint]*model.UserCollection{}}
}

func (f *fakeCollectionStore) GetByUserID(userID uint) (*model.UserCollection, error) {
	col, ok := f.collections[userID]
	if !ok {
		return nil, nil
	}
	cp := *col
	return &cp, nil
}

func (f *fakeCollectionStore) CreateIfAbsent(userID uint, collectionID string) (*model.UserCollection, bool, error) {
	if existing, ok := f.collections[userID]; ok {
		cp := *existing
		return &cp, false, nil
	}
	if f.raceWinner != "" {
		col := &model.UserCollection{UserID: userID, CollectionID: f.raceWinner}
		f.collections[userID] = col
		cp := *col
		return &cp, false, nil
	}
	col := &model.UserCollection{UserID: userID, CollectionID: collectionID}
	f.collections[userID] = col
	cp := *col
	return &cp, true, nil
}

func (f *fakeCollectionStore) DeleteByUserID(userID uint) error {
	delete(f.collections, userID)
	return nil
}

type key struct {
	userID   uint
	fileName string
}

type fakeStatusStore struct {
	rows map[key]*model.FileStatus
}

func newFakeStatusStore() *fakeStatusStore {
	return &fakeStatusStore{rows: map[key]*model.FileStatus{}}
}

func (f *fakeStatusStore) GetByUserAndFile(userID uint, fileName string) (*model.FileStatus, error) {
	row, ok := f.rows[key{userID, fileName}]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (f *fakeStatusStore) ListByUserID(userID uint) ([]model.FileStatus, error) {
	var out []model.FileStatus
	for k, row := range f.rows {
		if k.userID == userID {
			out = append(out, *row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileName < out[j].FileName })
	return out, nil
}

func (f *fakeStatusStore) Create(status *model.FileStatus) error {
	k := key{status.UserID, status.FileName}
	if _, ok := f.rows[k]; ok {
		return repository.ErrStatusExists
	}
	cp := *status
	f.rows[k] = &cp
	return nil
}

func (f *fakeStatusStore) AdvanceStage(userID uint, fileName, from, to string, updates map[string]interface{}) error {
	row, ok := f.rows[key{userID, fileName}]
	if !ok || row.Stage != from {
		return repository.ErrStageConflict
	}
	row.Stage = to
	applyStatusUpdates(row, updates)
	return nil
}

func (f *fakeStatusStore) MarkFailed(userID uint, fileName, errMsg string) error {
	row, ok := f.rows[key{userID, fileName}]
	if !ok {
		return errors.New("status row missing")
	}
	row.Stage = model.StageFailed
	row.Error = errMsg
	return nil
}

func (f *fakeStatusStore) RecordError(userID uint, fileName, errMsg string) error {
	row, ok := f.rows[key{userID, fileName}]
	if !ok {
		return errors.New("status row missing")
	}
	row.Error = errMsg
	return nil
}

func (f *fakeStatusStore) Reset(userID uint, fileName, fromTerminal string, fresh *model.FileStatus) error {
	row, ok := f.rows[key{userID, fileName}]
	if !ok || row.Stage != fromTerminal {
		return repository.ErrStageConflict
	}
	cp := *fresh
	cp.ID = row.ID
	f.rows[key{userID, fileName}] = &cp
	return nil
}

func (f *fakeStatusStore) Delete(userID uint, fileName string) error {
	delete(f.rows, key{userID, fileName})
	return nil
}

func (f *fakeStatusStore) CountCollectionMembers(userID uint, excludeFileName string) (int64, error) {
	var n int64
	for k, row := range f.rows {
		if k.userID != userID || k.fileName == excludeFileName || row.CollectionID == "" {
			continue
		}
		if row.Stage == model.StageIndexing || row.Stage == model.StageIndexed {
			n++
		}
	}
	return n, nil
}

func applyStatusUpdates(row *model.FileStatus, updates map[string]interface{}) {
	for column, value := range updates {
		switch column {
		case "remote_file_id":
			row.RemoteFileID = value.(string)
		case "collection_id":
			row.CollectionID = value.(string)
		case "item_id":
			row.ItemID = value.(string)
		case "error":
			row.Error = value.(string)
		}
	}
}

type fakeIndexClient struct {
	uploads     int
	collections int
	items       map[string]string // itemID -> collectionID
	deletedFile []string
	deletedCol  []string
	removedItem []string

	uploadErr     error
	addItemErr    error
	awaitErr      error
	createColErr  error
	removeItemErr error
}

func newFakeIndexClient() *fakeIndexClient {
	return &fakeIndexClient{items: map[string]string{}}
}

func (f *fakeIndexClient) UploadFile(ctx context.Context, fileName string, content io.Reader) (string, error) {
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	f.uploads++
	return fmt.Sprintf("file-%d", f.uploads), nil
}

func (f *fakeIndexClient) DeleteFile(ctx context.Context, fileID string) error {
	f.deletedFile = append(f.deletedFile, fileID)
	return nil
}

func (f *fakeIndexClient) CreateCollection(ctx context.Context, name string) (string, error) {
	if f.createColErr != nil {
		return "", f.createColErr
	}
	f.collections++
	return fmt.Sprintf("vs-%d", f.collections), nil
}

func (f *fakeIndexClient) DeleteCollection(ctx context.Context, collectionID string) error {
	f.deletedCol = append(f.deletedCol, collectionID)
	return nil
}

func (f *fakeIndexClient) AddItem(ctx context.Context, collectionID, fileID string) (string, error) {
	if f.addItemErr != nil {
		return "", f.addItemErr
	}
	itemID := fmt.Sprintf("item-%s", fileID)
	f.items[itemID] = collectionID
	return itemID, nil
}

func (f *fakeIndexClient) RemoveItem(ctx context.Context, collectionID, itemID string) error {
	if f.removeItemErr != nil {
		return f.removeItemErr
	}
	f.removedItem = append(f.removedItem, itemID)
	delete(f.items, itemID)
	return nil
}

func (f *fakeIndexClient) AwaitItemIndexed(ctx context.Context, collectionID, itemID string, interval, budget time.Duration) error {
	return f.awaitErr
}

type fakeBlobStore struct {
	objects map[string][]byte
	deleted []string
	getErr  error
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: map[string][]byte{}}
}

func (f *fakeBlobStore) Get(ctx context.Context, objectKey string) ([]byte, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.objects[objectKey]
	if !ok {
		return nil, fmt.Errorf("object %s not found", objectKey)
	}
	return data, nil
}

func (f *fakeBlobStore) Delete(ctx context.Context, objectKey string) error {
	f.deleted = append(f.deleted, objectKey)
	delete(f.objects, objectKey)
	return nil
}

type fakeHistoryCache struct {
	histories map[string][]model.Message
	dirty     map[string]bool

	setCalls  int
	delCalls  int
	markCalls int
	getErr    error
}

func newFakeHistoryCache() *fakeHistoryCache {
	return &fakeHistoryCache{histories: map[string][]model.Message{}, dirty: map[string]bool{}}
}

func (f *fakeHistoryCache) GetHistory(ctx context.Context, sessionID string) ([]model.Message, bool, error) {
	if f.getErr != nil {
		return nil, false, f.getErr
	}
	messages, ok := f.histories[sessionID]
	if !ok {
		return nil, false, nil
	}
	out := make([]model.Message, len(messages))
	copy(out, messages)
	return out, true, nil
}

func (f *fakeHistoryCache) SetHistory(ctx context.Context, sessionID string, messages []model.Message) error {
	f.setCalls++
	cp := make([]model.Message, len(messages))
	copy(cp, messages)
	f.histories[sessionID] = cp
	return nil
}

func (f *fakeHistoryCache) DeleteHistory(ctx context.Context, sessionID string) error {
	f.delCalls++
	delete(f.histories, sessionID)
	return nil
}

func (f *fakeHistoryCache) MarkDirty(ctx context.Context, sessionID string) error {
	f.markCalls++
	f.dirty[sessionID] = true
	return nil
}

func (f *fakeHistoryCache) IsDirty(ctx context.Context, sessionID string) (bool, error) {
	return f.dirty[sessionID], nil
}

type fakeAgent struct {
	responses []string
	calls     int
	respondFn func(input ai.RespondInput) (string, error)

	nameResult string
	nameErr    error
	nameCalls  int

	lastInput ai.RespondInput
}

func (f *fakeAgent) Respond(ctx context.Context, input ai.RespondInput) (string, error) {
	f.calls++
	f.lastInput = input
	if f.respondFn != nil {
		return f.respondFn(input)
	}
	if len(f.responses) > 0 {
		answer := f.responses[0]
		if len(f.responses) > 1 {
			f.responses = f.responses[1:]
		}
		return answer, nil
	}
	return "stub answer", nil
}

func (f *fakeAgent) GenerateSessionName(ctx context.Context, prompt string) (string, error) {
	f.nameCalls++
	if f.nameErr != nil {
		return "", f.nameErr
	}
	if f.nameResult != "" {
		return f.nameResult, nil
	}
	return "Generated Name", nil
}

func testRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
}
