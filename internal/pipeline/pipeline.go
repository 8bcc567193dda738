// Package pipeline implements the Query Pipeline (C5), the heart of the
// system: parse intent, retrieve, analyze, format, each stage carrying a
// deadline and cooperating with cancellation. Grounded on the teacher's
// handler/chat.go (staged SSE event emission) and service/selfrag.go
// (bounded local-model iteration with a fallback path), generalized from
// a single-provider RAG answer loop into the spec's four explicit stages
// with a local/external model split.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"github.com/connexus-ai/docengine-backend/internal/externalmodel"
	"github.com/connexus-ai/docengine-backend/internal/model"
	"github.com/connexus-ai/docengine-backend/internal/search"
)

// ErrNoMessages names a pipeline invocation with no conversation context to
// persist against. Run does not return it: it persists against whatever
// conversationID it is given.
var ErrNoMessages = errors.New("pipeline: no conversation context")

// SearchService is the C1 collaborator.
type SearchService interface {
	Search(ctx context.Context, terms string, limit int) ([]model.SearchHit, error)
}

// LocalModel is the C2 collaborator.
type LocalModel interface {
	Complete(ctx context.Context, prompt string, maxTokens int, temperature float32) (string, error)
}

// ExternalModel is the C3 collaborator.
type ExternalModel interface {
	Analyze(ctx context.Context, system, prompt string, maxTokens uint32, hitDocIDs []uint64) (model.Analysis, error)
}

// BudgetGate is the C4 collaborator's read-only half: whether the
// external model may be used at all for this invocation.
type BudgetGate interface {
	BudgetAvailable(ctx context.Context) (bool, error)
}

// ConversationStore is the C7 collaborator.
type ConversationStore interface {
	AppendUserMessage(ctx context.Context, conversationID, content string) (uint64, error)
	AppendAssistantMessage(ctx context.Context, conversationID, content string, sources []uint64, suggestedQueries []string, isAuto bool) (uint64, error)
}

// SilenceNotifier records a Silence Protocol trigger: a turn answered with
// no grounding (zero search hits) or with only low-confidence grounding.
// Implemented by internal/middleware's *Metrics.
type SilenceNotifier interface {
	IncrementSilenceTrigger()
}

// Timeouts holds the per-stage deadlines (§5).
type Timeouts struct {
	IntentParse time.Duration
	Search      time.Duration
	Analyze     time.Duration
	Format      time.Duration
}

// DefaultTimeouts matches §5's enumerated defaults.
var DefaultTimeouts = Timeouts{
	IntentParse: 8 * time.Second,
	Search:      2 * time.Second,
	Analyze:     60 * time.Second,
	Format:      30 * time.Second,
}

// Pipeline implements the C5 contract.
type Pipeline struct {
	search   SearchService
	local    LocalModel
	external ExternalModel
	budget   BudgetGate
	convo    ConversationStore
	silence  SilenceNotifier
	timeouts Timeouts
}

// New creates a Pipeline. external and budget may be nil — in that
// configuration every invocation routes Stage 3 through the local-model
// fallback, which is a valid (if degraded) deployment. silence may also be
// nil, in which case Silence Protocol triggers simply aren't counted.
func New(searchSvc SearchService, local LocalModel, external ExternalModel, budget BudgetGate, convo ConversationStore, silence SilenceNotifier, timeouts Timeouts) *Pipeline {
	return &Pipeline{search: searchSvc, local: local, external: external, budget: budget, convo: convo, silence: silence, timeouts: timeouts}
}

// Run executes one full invocation for conversationID and query, emitting
// ordered events via emit and persisting the exchange on success. isAuto
// marks an invocation driven by the auto-investigator (C6) rather than a
// direct user query; it is threaded through to the persisted assistant
// message only, and has no effect on staging.
func (p *Pipeline) Run(ctx context.Context, conversationID, query string, isAuto bool, emit Emit) error {
	emit(Event{Type: EventStatus, Payload: StatusPayload{Msg: "parsing intent"}})
	intent := p.parseIntent(ctx, query)

	emit(Event{Type: EventStatus, Payload: StatusPayload{Msg: "retrieving"}})
	hits, err := p.retrieve(ctx, intent)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		emit(Event{Type: EventError, Payload: ErrorPayload{Msg: err.Error(), Code: "IndexUnavailable"}})
		return err
	}

	docIDs := hitDocIDs(hits)
	emit(Event{Type: EventSources, Payload: SourcesPayload{IDs: docIDs}})

	if len(hits) == 0 {
		if p.silence != nil {
			p.silence.IncrementSilenceTrigger()
		}
		msg := noResultsMessage(query)
		emit(Event{Type: EventChunk, Payload: ChunkPayload{Text: msg}})
		emit(Event{Type: EventDone, Payload: DonePayload{}})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return p.persist(ctx, conversationID, query, msg, nil, nil, isAuto)
	}

	emit(Event{Type: EventStatus, Payload: StatusPayload{Msg: "analyzing"}})
	analysis, err := p.analyze(ctx, query, hits)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		emit(Event{Type: EventError, Payload: ErrorPayload{Msg: err.Error(), Code: "ModelError"}})
		return err
	}
	if analysis.Confidence == model.ConfidenceLow && p.silence != nil {
		p.silence.IncrementSilenceTrigger()
	}

	emit(Event{Type: EventStatus, Payload: StatusPayload{Msg: "formatting response"}})
	answer, err := p.format(ctx, query, analysis)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		emit(Event{Type: EventError, Payload: ErrorPayload{Msg: err.Error(), Code: "ModelError"}})
		return err
	}

	if ctx.Err() != nil {
		// Cancellation took effect during formatting: discard the partial
		// answer, emit nothing further, persist nothing (§5).
		return ctx.Err()
	}

	emit(Event{Type: EventChunk, Payload: ChunkPayload{Text: answer}})
	emit(Event{Type: EventSources, Payload: SourcesPayload{IDs: analysis.Sources}})
	suggestions := analysis.SuggestedQueries
	if len(suggestions) > 5 {
		suggestions = suggestions[:5]
	}
	if len(suggestions) > 0 {
		emit(Event{Type: EventSuggestions, Payload: SuggestionsPayload{Queries: suggestions}})
	}
	emit(Event{Type: EventDone, Payload: DonePayload{}})

	return p.persist(ctx, conversationID, query, answer, analysis.Sources, suggestions, isAuto)
}

func (p *Pipeline) persist(ctx context.Context, conversationID, query, answer string, sources []uint64, suggestedQueries []string, isAuto bool) error {
	if p.convo == nil {
		return nil
	}
	// Persistence runs on the invocation's own ctx, so a cancellation that
	// arrives mid-write fails the write. Run checks ctx.Err() before calling
	// persist, so no write starts once cancellation has taken effect (§5).
	if _, err := p.convo.AppendUserMessage(ctx, conversationID, query); err != nil {
		return fmt.Errorf("pipeline: persist user message: %w", err)
	}
	if _, err := p.convo.AppendAssistantMessage(ctx, conversationID, answer, sources, suggestedQueries, isAuto); err != nil {
		return fmt.Errorf("pipeline: persist assistant message: %w", err)
	}
	return nil
}

func hitDocIDs(hits []model.SearchHit) []uint64 {
	ids := make([]uint64, len(hits))
	for i, h := range hits {
		ids[i] = h.DocID
	}
	return ids
}

// retrieve implements Stage 2: translate Intent to search terms, call C1,
// and for timeline intents, re-sort by timestamp ascending.
func (p *Pipeline) retrieve(ctx context.Context, intent model.Intent) ([]model.SearchHit, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeouts.Search)
	defer cancel()

	terms := searchTermsFor(intent)
	hits, err := p.search.Search(ctx, terms, 10)
	if err != nil {
		if errors.Is(err, search.ErrInvalidQuery) {
			return []model.SearchHit{}, nil
		}
		return nil, err
	}

	if intent.Kind == model.IntentTimeline {
		sort.SliceStable(hits, func(i, j int) bool {
			a, b := hits[i].Timestamp, hits[j].Timestamp
			switch {
			case a == nil && b == nil:
				return false
			case a == nil:
				return false
			case b == nil:
				return true
			default:
				return a.Before(*b)
			}
		})
	}

	return hits, nil
}

func searchTermsFor(intent model.Intent) string {
	base := strings.Join(intent.Entities, " ")
	switch intent.Kind {
	case model.IntentConnections:
		return base + " with OR between OR meeting"
	case model.IntentTimeline:
		return base
	default:
		return base
	}
}

// analyze implements Stage 3: serialize the top hits into a compact
// context block and call C3, falling back to C2 on a budget short-circuit
// or an unrecoverable upstream failure.
func (p *Pipeline) analyze(ctx context.Context, query string, hits []model.SearchHit) (model.Analysis, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeouts.Analyze)
	defer cancel()

	contextBlock := buildContextBlock(hits)
	docIDs := hitDocIDs(hits)

	if p.external != nil && p.budget != nil {
		available, err := p.budget.BudgetAvailable(ctx)
		if err == nil && available {
			analysis, err := p.external.Analyze(ctx, analyzeSystemPrompt, buildAnalyzePrompt(query, contextBlock), 1024, docIDs)
			if err == nil {
				return analysis, nil
			}
			if errors.Is(err, externalmodel.ErrUpstream) {
				// one retry with jittered backoff (§7 UpstreamError row)
				select {
				case <-time.After(250*time.Millisecond + rand.N(250*time.Millisecond)):
				case <-ctx.Done():
					return model.Analysis{}, ctx.Err()
				}
				analysis, err = p.external.Analyze(ctx, analyzeSystemPrompt, buildAnalyzePrompt(query, contextBlock), 1024, docIDs)
				if err == nil {
					return analysis, nil
				}
			}
			// falls through to local fallback below
		}
	}

	return p.analyzeLocalFallback(ctx, query, contextBlock, docIDs)
}

// analyzeLocalFallback asks C2 for a short findings + source list only
// (no hypotheses/contradictions), per §4.5 Stage 3's documented fallback,
// and marks confidence=medium.
func (p *Pipeline) analyzeLocalFallback(ctx context.Context, query, contextBlock string, docIDs []uint64) (model.Analysis, error) {
	if p.local == nil {
		return externalmodel.FallbackFor(docIDs), nil
	}

	prompt := buildLocalFallbackPrompt(query, contextBlock)
	raw, err := p.local.Complete(ctx, prompt, 384, 0)
	if err != nil {
		return externalmodel.FallbackFor(docIDs), nil
	}

	findings := parseFindingsList(raw)
	if len(findings) == 0 {
		return externalmodel.FallbackFor(docIDs), nil
	}

	return model.Analysis{
		Findings:   findings,
		Sources:    docIDs,
		Confidence: model.ConfidenceMedium,
	}, nil
}

// format implements Stage 4: produce the final prose, then run the
// citation normalizer and enforce the grounding invariant.
func (p *Pipeline) format(ctx context.Context, query string, analysis model.Analysis) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeouts.Format)
	defer cancel()

	if p.local == nil {
		return "", fmt.Errorf("pipeline: no local model configured for formatting")
	}

	lang := detectLanguage(query)
	prompt := buildFormatPrompt(query, analysis, lang)

	raw, err := p.local.Complete(ctx, prompt, 512, 0.7)
	if err != nil {
		return "", fmt.Errorf("pipeline: format: %w", err)
	}

	return normalizeCitations(raw, analysis.Sources), nil
}
