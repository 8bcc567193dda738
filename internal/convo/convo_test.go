package convo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/connexus-ai/docengine-backend/internal/model"
)

type fakeRepo struct {
	conversations map[string]model.Conversation
	messages      map[string][]model.Message
	nextID        uint64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{conversations: make(map[string]model.Conversation), messages: make(map[string][]model.Message)}
}

func (f *fakeRepo) CreateConversation(ctx context.Context, id, title string, createdAt time.Time) error {
	f.conversations[id] = model.Conversation{ID: id, Title: title, CreatedAt: createdAt, UpdatedAt: createdAt}
	return nil
}

func (f *fakeRepo) AppendMessage(ctx context.Context, msg model.Message) (uint64, error) {
	f.nextID++
	msg.ID = f.nextID
	f.messages[msg.ConversationID] = append(f.messages[msg.ConversationID], msg)
	c := f.conversations[msg.ConversationID]
	c.UpdatedAt = msg.CreatedAt
	f.conversations[msg.ConversationID] = c
	return msg.ID, nil
}

func (f *fakeRepo) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	var out []model.Conversation
	for _, c := range f.conversations {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeRepo) GetMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	return f.messages[conversationID], nil
}

func (f *fakeRepo) DeleteConversation(ctx context.Context, conversationID string) error {
	delete(f.conversations, conversationID)
	delete(f.messages, conversationID)
	return nil
}

func (f *fakeRepo) ConversationExists(ctx context.Context, conversationID string) (bool, error) {
	_, ok := f.conversations[conversationID]
	return ok, nil
}

func TestAppendMessages_SourcesNeverNil(t *testing.T) {
	repo := newFakeRepo()
	s := New(repo)
	require.NoError(t, s.CreateConversation(context.Background(), "c1", "Test"))

	_, err := s.AppendUserMessage(context.Background(), "c1", "what happened?")
	require.NoError(t, err)

	msgs, err := s.GetMessages(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.NotNil(t, msgs[0].Sources)
	assert.Empty(t, msgs[0].Sources)
}

func TestAppendAssistantMessage_CarriesSources(t *testing.T) {
	repo := newFakeRepo()
	s := New(repo)
	require.NoError(t, s.CreateConversation(context.Background(), "c1", "Test"))

	_, err := s.AppendAssistantMessage(context.Background(), "c1", "answer", []uint64{1, 2}, nil, false)
	require.NoError(t, err)

	msgs, err := s.GetMessages(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []uint64{1, 2}, msgs[0].Sources)
	assert.Equal(t, model.RoleAssistant, msgs[0].Role)
}

func TestAppendAssistantMessage_CarriesSuggestedQueries(t *testing.T) {
	repo := newFakeRepo()
	s := New(repo)
	require.NoError(t, s.CreateConversation(context.Background(), "c1", "Test"))

	_, err := s.AppendAssistantMessage(context.Background(), "c1", "answer", nil, []string{"follow up"}, false)
	require.NoError(t, err)

	msgs, err := s.GetMessages(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []string{"follow up"}, msgs[0].SuggestedQueries)
}

func TestGetMessages_UnknownConversationReturnsErrNotFound(t *testing.T) {
	s := New(newFakeRepo())
	_, err := s.GetMessages(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteConversation_UnknownReturnsErrNotFound(t *testing.T) {
	s := New(newFakeRepo())
	err := s.DeleteConversation(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteConversation_RemovesMessages(t *testing.T) {
	repo := newFakeRepo()
	s := New(repo)
	require.NoError(t, s.CreateConversation(context.Background(), "c1", "Test"))
	_, err := s.AppendUserMessage(context.Background(), "c1", "hi")
	require.NoError(t, err)

	require.NoError(t, s.DeleteConversation(context.Background(), "c1"))
	_, err = s.GetMessages(context.Background(), "c1")
	assert.ErrorIs(t, err, ErrNotFound)
}
