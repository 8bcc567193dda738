package autoinvestigate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/connexus-ai/docengine-backend/internal/model"
	"github.com/connexus-ai/docengine-backend/internal/pipeline"
)

type fakeRepo struct {
	sessions map[string]*model.AutoSession
	nextID   uint64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{sessions: make(map[string]*model.AutoSession)}
}

func (r *fakeRepo) CreateSession(ctx context.Context, s model.AutoSession) (uint64, error) {
	r.nextID++
	s.ID = r.nextID
	r.sessions[s.ConversationID] = &s
	return s.ID, nil
}

func (r *fakeRepo) GetRunningSession(ctx context.Context, conversationID string) (*model.AutoSession, error) {
	s, ok := r.sessions[conversationID]
	if !ok || s.Status != model.AutoSessionRunning {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *fakeRepo) UpdateSession(ctx context.Context, s model.AutoSession) error {
	r.sessions[s.ConversationID] = &s
	return nil
}

type fakeConvoReader struct {
	messages []model.Message
}

func (f *fakeConvoReader) GetMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	return f.messages, nil
}

// fakeRunner emits a fixed set of suggestions each call and tracks how
// many times it was invoked.
type fakeRunner struct {
	suggestions [][]string
	calls       int
	err         error
}

func (f *fakeRunner) Run(ctx context.Context, conversationID, query string, isAuto bool, emit pipeline.Emit) error {
	idx := f.calls
	f.calls++
	if f.err != nil {
		return f.err
	}
	if idx < len(f.suggestions) {
		emit(pipeline.Event{Type: pipeline.EventSuggestions, Payload: pipeline.SuggestionsPayload{Queries: f.suggestions[idx]}})
	}
	emit(pipeline.Event{Type: pipeline.EventDone, Payload: pipeline.DonePayload{}})
	return nil
}

func TestStart_RejectsOutOfRangeMaxQueries(t *testing.T) {
	inv := New(newFakeRepo(), &fakeConvoReader{}, &fakeRunner{})
	_, err := inv.Start(context.Background(), "c1", 0)
	assert.ErrorIs(t, err, ErrInvalidMaxQueries)
	_, err = inv.Start(context.Background(), "c1", 51)
	assert.ErrorIs(t, err, ErrInvalidMaxQueries)
}

func TestStart_RejectsWhenAlreadyRunning(t *testing.T) {
	repo := newFakeRepo()
	inv := New(repo, &fakeConvoReader{}, &fakeRunner{})
	_, err := inv.Start(context.Background(), "c1", 5)
	require.NoError(t, err)
	_, err = inv.Start(context.Background(), "c1", 5)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestRun_StopsWhenSuggestionsExhausted(t *testing.T) {
	repo := newFakeRepo()
	convo := &fakeConvoReader{messages: []model.Message{
		{Role: model.RoleUser, Content: "who met whom"},
		{Role: model.RoleAssistant, Content: "Alice met Bob.", SuggestedQueries: []string{"what happened next"}},
	}}
	runner := &fakeRunner{suggestions: [][]string{{"completely unrelated follow up about finances"}, {}}}
	inv := New(repo, convo, runner)

	session, err := inv.Start(context.Background(), "c1", 10)
	require.NoError(t, err)

	var events []pipeline.Event
	err = inv.Run(context.Background(), "1.2.3.4", session, func(e pipeline.Event) { events = append(events, e) })
	require.NoError(t, err)

	assert.Equal(t, 2, runner.calls) // first iteration's suggestion is novel and drives a second call; the second call yields no suggestions, ending the loop
	final := repo.sessions["c1"]
	assert.Equal(t, model.AutoSessionCompleted, final.Status)

	var sawComplete bool
	for _, e := range events {
		if e.Type == pipeline.EventAutoComplete {
			sawComplete = true
		}
	}
	assert.True(t, sawComplete)
}

func TestRun_StopsAtMaxQueries(t *testing.T) {
	repo := newFakeRepo()
	convo := &fakeConvoReader{messages: []model.Message{
		{Role: model.RoleUser, Content: "who met whom"},
		{Role: model.RoleAssistant, Content: "Alice met Bob.", SuggestedQueries: []string{"completely different question about finances"}},
	}}
	runner := &fakeRunner{suggestions: [][]string{
		{"completely different question about finances"},
		{"yet another unrelated topic entirely"},
	}}
	inv := New(repo, convo, runner)

	session, err := inv.Start(context.Background(), "c1", 2)
	require.NoError(t, err)

	err = inv.Run(context.Background(), "1.2.3.4", session, func(pipeline.Event) {})
	require.NoError(t, err)
	assert.Equal(t, 2, runner.calls)
	assert.Equal(t, model.AutoSessionCompleted, repo.sessions["c1"].Status)
}

func TestRun_ExitsAtBoundaryWhenStoppedExternally(t *testing.T) {
	repo := newFakeRepo()
	convo := &fakeConvoReader{messages: []model.Message{
		{Role: model.RoleUser, Content: "who met whom"},
		{Role: model.RoleAssistant, Content: "Alice met Bob.", SuggestedQueries: []string{"different enough follow up question"}},
	}}
	runner := &fakeRunner{suggestions: [][]string{{"different enough follow up question"}}}
	inv := New(repo, convo, runner)

	session, err := inv.Start(context.Background(), "c1", 10)
	require.NoError(t, err)
	require.NoError(t, inv.Stop(context.Background(), "c1"))

	err = inv.Run(context.Background(), "1.2.3.4", session, func(pipeline.Event) {})
	require.NoError(t, err)
	assert.Equal(t, 0, runner.calls)
}

func TestRun_RunnerErrorStopsSession(t *testing.T) {
	repo := newFakeRepo()
	convo := &fakeConvoReader{messages: []model.Message{
		{Role: model.RoleUser, Content: "who met whom"},
		{Role: model.RoleAssistant, Content: "Alice met Bob.", SuggestedQueries: []string{"a distinct enough follow up"}},
	}}
	runner := &fakeRunner{err: assertError{}}
	inv := New(repo, convo, runner)

	session, err := inv.Start(context.Background(), "c1", 10)
	require.NoError(t, err)

	err = inv.Run(context.Background(), "1.2.3.4", session, func(pipeline.Event) {})
	assert.Error(t, err)
	assert.Equal(t, model.AutoSessionStopped, repo.sessions["c1"].Status)
}

type assertError struct{}

func (assertError) Error() string { return "admission denied" }

func TestIsNovel_RejectsNearDuplicateQuestions(t *testing.T) {
	prior := []string{"Who did Alice meet with in March?"}
	assert.False(t, isNovel("Who did Alice meet with in March?", prior))
	assert.True(t, isNovel("What was discussed in the April board meeting regarding the merger?", prior))
}

func TestPickNextQuery_PicksFirstNovelCandidate(t *testing.T) {
	q, ok := pickNextQuery(
		[]string{"Who did Alice meet with in March?"},
		[]string{"Who did Alice meet with in March?", "What was discussed in the April board meeting regarding the merger?"},
	)
	require.True(t, ok)
	assert.Equal(t, "What was discussed in the April board meeting regarding the merger?", q)
}

func TestPickNextQuery_NoCandidatesEndsSession(t *testing.T) {
	_, ok := pickNextQuery([]string{"seed"}, nil)
	assert.False(t, ok)
}

func TestLastAssistantSuggestions_ReturnsMostRecentAssistantTurn(t *testing.T) {
	messages := []model.Message{
		{Role: model.RoleUser, Content: "q1"},
		{Role: model.RoleAssistant, Content: "a1", SuggestedQueries: []string{"stale"}},
		{Role: model.RoleUser, Content: "q2"},
		{Role: model.RoleAssistant, Content: "a2", SuggestedQueries: []string{"fresh", "fresher"}},
	}
	assert.Equal(t, []string{"fresh", "fresher"}, lastAssistantSuggestions(messages))
}

func TestLastAssistantSuggestions_NilWhenNoAssistantTurnYet(t *testing.T) {
	messages := []model.Message{{Role: model.RoleUser, Content: "q1"}}
	assert.Nil(t, lastAssistantSuggestions(messages))
}
