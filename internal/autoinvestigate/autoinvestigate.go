// Package autoinvestigate implements the Auto-Investigator (C6): a bounded
// background loop that drives the Query Pipeline (C5) against its own
// follow-up suggestions until it runs dry, hits its query budget, or is
// told to stop. Grounded on the teacher's service/session.go
// (GetOrCreateActive/status-transition shape, generalized from a
// per-user learning session to a per-conversation AutoSession) and
// service/selfrag.go (bounded iterate-until-satisfied loop over a single
// model call).
package autoinvestigate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/connexus-ai/docengine-backend/internal/model"
	"github.com/connexus-ai/docengine-backend/internal/pipeline"
)

// ErrAlreadyRunning is returned by Start when the conversation already has
// a running AutoSession (§9 Open Question decision #2: at most one running
// session per conversation).
var ErrAlreadyRunning = errors.New("autoinvestigate: session already running")

// ErrInvalidMaxQueries is returned when max_queries falls outside [1, 50].
var ErrInvalidMaxQueries = errors.New("autoinvestigate: max_queries out of range")

const (
	minMaxQueries = 1
	maxMaxQueries = 50

	// similarityThreshold is the minimum normalized edit distance a
	// candidate follow-up question must have against every prior user
	// question in the conversation to be considered novel.
	similarityThreshold = 0.25
)

// Repository is the persistence boundary for AutoSession lifecycle rows,
// implemented by internal/repository.
type Repository interface {
	CreateSession(ctx context.Context, s model.AutoSession) (uint64, error)
	GetRunningSession(ctx context.Context, conversationID string) (*model.AutoSession, error)
	UpdateSession(ctx context.Context, s model.AutoSession) error
}

// ConversationReader is the read half of C7 the investigator needs: the
// prior messages in the conversation, to find the last user question and
// to de-duplicate follow-ups against everything already asked.
type ConversationReader interface {
	GetMessages(ctx context.Context, conversationID string) ([]model.Message, error)
}

// Runner is the C5 collaborator. Run takes no client IP, and inner
// pipeline calls are not individually admitted through the rate gate.
type Runner interface {
	Run(ctx context.Context, conversationID, query string, isAuto bool, emit pipeline.Emit) error
}

// Investigator implements the C6 contract.
type Investigator struct {
	repo   Repository
	convo  ConversationReader
	runner Runner
}

// New creates an Investigator.
func New(repo Repository, convo ConversationReader, runner Runner) *Investigator {
	return &Investigator{repo: repo, convo: convo, runner: runner}
}

// Start creates a new running AutoSession for conversationID and begins
// driving it. It returns as soon as the session is admitted; the actual
// loop runs via Run, which callers invoke from their own goroutine (the
// Stream Dispatcher, C8, owns that goroutine and the event sink).
func (inv *Investigator) Start(ctx context.Context, conversationID string, maxQueries uint32) (model.AutoSession, error) {
	if maxQueries < minMaxQueries || maxQueries > maxMaxQueries {
		return model.AutoSession{}, ErrInvalidMaxQueries
	}

	existing, err := inv.repo.GetRunningSession(ctx, conversationID)
	if err != nil {
		return model.AutoSession{}, fmt.Errorf("autoinvestigate: start: %w", err)
	}
	if existing != nil {
		return model.AutoSession{}, ErrAlreadyRunning
	}

	session := model.AutoSession{
		ConversationID: conversationID,
		Status:         model.AutoSessionRunning,
		QueryCount:     0,
		MaxQueries:     maxQueries,
	}
	id, err := inv.repo.CreateSession(ctx, session)
	if err != nil {
		return model.AutoSession{}, fmt.Errorf("autoinvestigate: start: create: %w", err)
	}
	session.ID = id
	return session, nil
}

// Stop signals a running session to halt at its next loop boundary (not
// mid-flight, per §4.6). The in-flight pipeline invocation, if any,
// completes normally.
func (inv *Investigator) Stop(ctx context.Context, conversationID string) error {
	session, err := inv.repo.GetRunningSession(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("autoinvestigate: stop: %w", err)
	}
	if session == nil {
		return nil
	}
	session.Status = model.AutoSessionStopped
	if err := inv.repo.UpdateSession(ctx, *session); err != nil {
		return fmt.Errorf("autoinvestigate: stop: %w", err)
	}
	return nil
}

// Run drives session's loop to completion: each iteration invokes the
// pipeline against the first pipeline-suggested follow-up that is
// sufficiently distinct from every question already asked in the
// conversation, multiplexing the pipeline's own events onto emit, with
// auto_query/auto_complete bracketing each iteration per §4.6 and §6's
// event table. The first iteration's candidate suggestions come from the
// conversation's last assistant message (persisted by the pipeline that
// answered it, see model.Message.SuggestedQueries) rather than re-asking
// the question that message already answers — every later iteration's
// candidates come from the previous iteration's own pipeline.EventSuggestions
// event instead. clientIP is not used. The loop makes no admission check
// between iterations: the session's only rate check is the one the Stream
// Dispatcher (C8) makes once before the session's stream starts.
func (inv *Investigator) Run(ctx context.Context, clientIP string, session model.AutoSession, emit pipeline.Emit) error {
	var pendingSuggestions []string
	seeded := false

	for session.QueryCount < session.MaxQueries {
		current, err := inv.repo.GetRunningSession(ctx, session.ConversationID)
		if err != nil {
			return fmt.Errorf("autoinvestigate: run: %w", err)
		}
		if current == nil || current.Status != model.AutoSessionRunning {
			return nil // stopped externally; exit at this boundary
		}

		messages, err := inv.convo.GetMessages(ctx, session.ConversationID)
		if err != nil {
			return fmt.Errorf("autoinvestigate: run: get messages: %w", err)
		}

		if !seeded {
			pendingSuggestions = lastAssistantSuggestions(messages)
			seeded = true
		}

		priorQuestions := userQuestions(messages)
		nextQuery, ok := pickNextQuery(priorQuestions, pendingSuggestions)
		if !ok {
			return inv.complete(ctx, session, emit)
		}

		emit(pipeline.Event{Type: pipeline.EventAutoQuery, Payload: pipeline.AutoQueryPayload{Query: nextQuery}})

		var captured []string
		wrapped := func(e pipeline.Event) {
			if e.Type == pipeline.EventSuggestions {
				if payload, ok := e.Payload.(pipeline.SuggestionsPayload); ok {
					captured = payload.Queries
				}
			}
			emit(e)
		}

		runErr := inv.runner.Run(ctx, session.ConversationID, nextQuery, true, wrapped)
		pendingSuggestions = captured
		session.QueryCount++
		if updateErr := inv.repo.UpdateSession(ctx, session); updateErr != nil {
			return fmt.Errorf("autoinvestigate: run: update count: %w", updateErr)
		}
		if runErr != nil {
			// A failed invocation (index outage, model error,
			// cancellation) ends the session as stopped rather than
			// retrying indefinitely.
			session.Status = model.AutoSessionStopped
			_ = inv.repo.UpdateSession(ctx, session)
			return runErr
		}
	}

	return inv.complete(ctx, session, emit)
}

func (inv *Investigator) complete(ctx context.Context, session model.AutoSession, emit pipeline.Emit) error {
	session.Status = model.AutoSessionCompleted
	if err := inv.repo.UpdateSession(ctx, session); err != nil {
		return fmt.Errorf("autoinvestigate: run: complete: %w", err)
	}
	emit(pipeline.Event{Type: pipeline.EventAutoComplete, Payload: pipeline.AutoCompletePayload{TotalQueries: session.QueryCount}})
	return nil
}

// pickNextQuery picks the first candidate suggestion whose edit-distance to
// every question already asked in the conversation exceeds the novelty
// threshold. candidates is either the last assistant message's persisted
// SuggestedQueries (first iteration) or the prior iteration's own
// pipeline.EventSuggestions payload (every iteration after). Returns
// ok=false once no candidate clears the bar, which ends the session as
// completed (§4.5 Stage 3 + §4.6).
func pickNextQuery(priorQuestions, candidates []string) (string, bool) {
	for _, candidate := range candidates {
		if isNovel(candidate, priorQuestions) {
			return candidate, true
		}
	}
	return "", false
}

// userQuestions returns every user-authored message's content, in order.
func userQuestions(messages []model.Message) []string {
	var out []string
	for _, m := range messages {
		if m.Role == model.RoleUser {
			out = append(out, m.Content)
		}
	}
	return out
}

// lastAssistantSuggestions returns the most recent assistant message's
// persisted SuggestedQueries, or nil if the conversation has no assistant
// turn yet.
func lastAssistantSuggestions(messages []model.Message) []string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == model.RoleAssistant {
			return messages[i].SuggestedQueries
		}
	}
	return nil
}

// isNovel reports whether candidate is sufficiently distinct from every
// question in prior, using normalized Levenshtein distance.
func isNovel(candidate string, prior []string) bool {
	candidate = strings.ToLower(strings.TrimSpace(candidate))
	for _, p := range prior {
		p = strings.ToLower(strings.TrimSpace(p))
		if normalizedDistance(candidate, p) < similarityThreshold {
			return false
		}
	}
	return true
}

// normalizedDistance returns the Levenshtein edit distance between a and b
// divided by the length of the longer string, in [0, 1].
func normalizedDistance(a, b string) float64 {
	if a == b {
		return 0
	}
	dist := levenshtein(a, b)
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 0
	}
	return float64(dist) / float64(maxLen)
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}
	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			curr[j] = minOf(del, minOf(ins, sub))
		}
		prev, curr = curr, prev
	}
	return prev[lb]
}

func minOf(a, b int) int {
	if a < b {
		return a
	}
	return b
}
