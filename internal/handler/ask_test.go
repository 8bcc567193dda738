package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/connexus-ai/docengine-backend/internal/model"
	"github.com/connexus-ai/docengine-backend/internal/pipeline"
	"github.com/connexus-ai/docengine-backend/internal/sse"
)

type fakeRunner struct {
	conversationID string
	query          string
	calls          int
}

func (f *fakeRunner) Run(ctx context.Context, conversationID, query string, isAuto bool, emit pipeline.Emit) error {
	f.calls++
	f.conversationID = conversationID
	f.query = query
	emit(pipeline.Event{Type: pipeline.EventChunk, Payload: pipeline.ChunkPayload{Text: "answer"}})
	emit(pipeline.Event{Type: pipeline.EventDone, Payload: pipeline.DonePayload{}})
	return nil
}

type fakeAskConvoStore struct {
	created   bool
	createdID string
}

func (f *fakeAskConvoStore) CreateConversation(ctx context.Context, id, title string) error {
	f.created = true
	f.createdID = id
	return nil
}
func (f *fakeAskConvoStore) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	return nil, nil
}
func (f *fakeAskConvoStore) GetMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	return nil, nil
}
func (f *fakeAskConvoStore) DeleteConversation(ctx context.Context, conversationID string) error {
	return nil
}

type denyingAdmitter struct{}

func (denyingAdmitter) CheckRate(ctx context.Context, clientIP string) error {
	return errors.New("rate limit exceeded")
}

// TestAsk_ReadsQParam confirms the question comes from the q query param
// (not the legacy query param name), matching /search's sibling handler.
func TestAsk_ReadsQParam(t *testing.T) {
	runner := &fakeRunner{}
	convoStore := &fakeAskConvoStore{}
	deps := AskDeps{
		Pipeline:          runner,
		Dispatcher:        sse.New(nil),
		ConversationStore: convoStore,
		NewID:             func() string { return "conv-new" },
	}

	req := httptest.NewRequest(http.MethodGet, "/ask?q=who+met+whom&conversation_id=c1", nil)
	rec := httptest.NewRecorder()
	Ask(deps).ServeHTTP(rec, req)

	require.Equal(t, 1, runner.calls)
	assert.Equal(t, "who met whom", runner.query)
	assert.Equal(t, "c1", runner.conversationID)
	assert.False(t, convoStore.created)
}

// TestAsk_MissingQReturns400 confirms the legacy "query" param name is no
// longer read at all: only q is required.
func TestAsk_MissingQReturns400(t *testing.T) {
	runner := &fakeRunner{}
	deps := AskDeps{
		Pipeline:          runner,
		Dispatcher:        sse.New(nil),
		ConversationStore: &fakeAskConvoStore{},
		NewID:             func() string { return "conv-new" },
	}

	req := httptest.NewRequest(http.MethodGet, "/ask?query=who+met+whom", nil)
	rec := httptest.NewRecorder()
	Ask(deps).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, runner.calls)
}

// TestAsk_MissingConversationID_AutoCreates confirms the optional
// conversation_id is backed by auto-creation, not a 400.
func TestAsk_MissingConversationID_AutoCreates(t *testing.T) {
	runner := &fakeRunner{}
	convoStore := &fakeAskConvoStore{}
	deps := AskDeps{
		Pipeline:          runner,
		Dispatcher:        sse.New(nil),
		ConversationStore: convoStore,
		NewID:             func() string { return "conv-new" },
	}

	req := httptest.NewRequest(http.MethodGet, "/ask?q=who+met+whom", nil)
	rec := httptest.NewRecorder()
	Ask(deps).ServeHTTP(rec, req)

	require.Equal(t, 1, runner.calls)
	assert.True(t, convoStore.created)
	assert.Equal(t, "conv-new", convoStore.createdID)
	assert.Equal(t, "conv-new", runner.conversationID)
}

// TestAsk_RateLimitDenied_Returns429NoBody confirms admission denial never
// writes SSE headers or event frames, matching the rate-limit middleware's
// own 429 convention.
func TestAsk_RateLimitDenied_Returns429NoBody(t *testing.T) {
	runner := &fakeRunner{}
	deps := AskDeps{
		Pipeline:          runner,
		Dispatcher:        sse.New(denyingAdmitter{}),
		ConversationStore: &fakeAskConvoStore{},
		NewID:             func() string { return "conv-new" },
	}

	req := httptest.NewRequest(http.MethodGet, "/ask?q=who+met+whom&conversation_id=c1", nil)
	rec := httptest.NewRecorder()
	Ask(deps).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Empty(t, rec.Header().Get("Content-Type"))
	assert.Equal(t, 0, runner.calls)
}

type fakeInvestigator struct {
	startCalled bool
	startErr    error
	stopCalled  bool
	stopErr     error
	runCalled   bool
	session     model.AutoSession
}

func (f *fakeInvestigator) Start(ctx context.Context, conversationID string, maxQueries uint32) (model.AutoSession, error) {
	f.startCalled = true
	if f.startErr != nil {
		return model.AutoSession{}, f.startErr
	}
	f.session = model.AutoSession{ConversationID: conversationID, MaxQueries: maxQueries, Status: model.AutoSessionRunning}
	return f.session, nil
}

func (f *fakeInvestigator) Stop(ctx context.Context, conversationID string) error {
	f.stopCalled = true
	return f.stopErr
}

func (f *fakeInvestigator) Run(ctx context.Context, clientIP string, session model.AutoSession, emit pipeline.Emit) error {
	f.runCalled = true
	emit(pipeline.Event{Type: pipeline.EventAutoComplete, Payload: pipeline.AutoCompletePayload{TotalQueries: session.MaxQueries}})
	return nil
}

func TestAutoStart_StreamsInvestigatorEvents(t *testing.T) {
	inv := &fakeInvestigator{}
	deps := AutoDeps{Investigator: inv, Dispatcher: sse.New(nil)}

	body := strings.NewReader(`{"conversation_id":"c1","max_queries":5}`)
	req := httptest.NewRequest(http.MethodPost, "/auto/start", body)
	rec := httptest.NewRecorder()
	AutoStart(deps).ServeHTTP(rec, req)

	assert.True(t, inv.startCalled)
	assert.True(t, inv.runCalled)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "auto_complete")
}

func TestAutoStart_MissingConversationIDReturns400(t *testing.T) {
	inv := &fakeInvestigator{}
	deps := AutoDeps{Investigator: inv, Dispatcher: sse.New(nil)}

	body := strings.NewReader(`{"max_queries":5}`)
	req := httptest.NewRequest(http.MethodPost, "/auto/start", body)
	rec := httptest.NewRecorder()
	AutoStart(deps).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, inv.startCalled)
}

func TestAutoStart_AlreadyRunningReturns409(t *testing.T) {
	inv := &fakeInvestigator{startErr: errors.New("autoinvestigate: session already running")}
	deps := AutoDeps{Investigator: inv, Dispatcher: sse.New(nil)}

	body := strings.NewReader(`{"conversation_id":"c1"}`)
	req := httptest.NewRequest(http.MethodPost, "/auto/start", body)
	rec := httptest.NewRecorder()
	AutoStart(deps).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, inv.runCalled)
}

func TestAutoStop_SignalsInvestigator(t *testing.T) {
	inv := &fakeInvestigator{}
	deps := AutoDeps{Investigator: inv, Dispatcher: sse.New(nil)}

	body := strings.NewReader(`{"conversation_id":"c1"}`)
	req := httptest.NewRequest(http.MethodPost, "/auto/stop", body)
	rec := httptest.NewRecorder()
	AutoStop(deps).ServeHTTP(rec, req)

	assert.True(t, inv.stopCalled)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "stopping")
}
