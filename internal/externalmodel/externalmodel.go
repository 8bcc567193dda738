// Package externalmodel implements the External Model Client (C3): a
// blocking call to a paid remote completion API with per-day call-count
// and cost ceilings enforced upstream by internal/admission. Grounded on
// the teacher's internal/gcpclient (genai.go's retry/backoff shape,
// byollm.go's provider-agnostic chat-completion body) and
// internal/service/generator.go's lenient JSON-extraction pattern,
// generalized from a single Vertex-or-BYOLLM choice into a configured
// Provider (vertex, anthropic, openai).
package externalmodel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/connexus-ai/docengine-backend/internal/model"
)

// ErrBudget names the C3 contract's budget-exhausted outcome. Nothing in
// this module returns it: internal/pipeline asks its BudgetGate's
// BudgetAvailable before calling Analyze and takes the local fallback when
// the budget is spent.
var ErrBudget = errors.New("externalmodel: budget exhausted")

// ErrUpstream wraps any failure reaching or parsing a response from the
// remote provider after retries are exhausted.
var ErrUpstream = errors.New("externalmodel: upstream error")

// Completer is the minimal interface each provider backend implements. It
// mirrors the teacher's GenAIClient/BYOLLMClient shape.
type Completer interface {
	Complete(ctx context.Context, system, prompt string, maxTokens int) (text string, tokensIn, tokensOut int, err error)
}

// CostTable maps a model name to a micro-USD cost per input and output
// token. Values are configuration constants (§4.3).
type CostTable map[string]struct {
	InputMicroUSDPerToken  uint64
	OutputMicroUSDPerToken uint64
}

// DefaultCostTable gives conservative per-token costs for the providers
// wired into SPEC_FULL.md's domain stack.
var DefaultCostTable = CostTable{
	"gemini-1.5-pro":       {InputMicroUSDPerToken: 1, OutputMicroUSDPerToken: 4},
	"claude-sonnet-4-5":    {InputMicroUSDPerToken: 3, OutputMicroUSDPerToken: 15},
	"gpt-4o":               {InputMicroUSDPerToken: 2, OutputMicroUSDPerToken: 10},
	"gpt-4o-mini":          {InputMicroUSDPerToken: 1, OutputMicroUSDPerToken: 2},
}

// AuditRecorder persists one record per call that reaches the remote
// endpoint (§4.3). Implemented by internal/repository.
type AuditRecorder interface {
	RecordExternalCall(ctx context.Context, call model.AuditExternalCall) error
}

// BudgetRecorder credits today's global budget counter with a call's cost.
// Implemented by internal/admission.Gate; invoked in the same call as the
// audit record so the two stay in lockstep (§8 invariant 3: budget calls
// equal audit row count for the day).
type BudgetRecorder interface {
	RecordExternalCall(ctx context.Context, costMicroUSD uint64) error
}

// Client implements the C3 contract.
type Client struct {
	completer Completer
	modelName string
	costTable CostTable
	audit     AuditRecorder
	budget    BudgetRecorder
	now       func() time.Time
}

// New creates a Client wrapping a provider-specific Completer.
func New(completer Completer, modelName string, costTable CostTable, audit AuditRecorder, budget BudgetRecorder) *Client {
	if costTable == nil {
		costTable = DefaultCostTable
	}
	return &Client{completer: completer, modelName: modelName, costTable: costTable, audit: audit, budget: budget, now: time.Now}
}

// Analyze implements: analyze(system, prompt, max_tokens) -> Analysis |
// BudgetError | UpstreamError (§4.3). BudgetError is the caller's
// responsibility (internal/admission short-circuits before this is ever
// called); Analyze only ever returns an Analysis or ErrUpstream.
//
// hitDocIDs is the rank-ordered doc_id list that produced prompt's context
// block; it has no effect on a successful parse and is used only to build
// the spec-mandated fallback Analysis (first five ids) if JSON extraction
// fails entirely.
func (c *Client) Analyze(ctx context.Context, system, prompt string, maxTokens uint32, hitDocIDs []uint64) (model.Analysis, error) {
	raw, tokensIn, tokensOut, err := c.completer.Complete(ctx, system, prompt, int(maxTokens))
	if err != nil {
		return model.Analysis{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	cost := c.computeCost(tokensIn, tokensOut)
	if c.audit != nil {
		auditErr := c.audit.RecordExternalCall(ctx, model.AuditExternalCall{
			Provider:     providerNameFor(c.completer),
			Model:        c.modelName,
			TokensIn:     tokensIn,
			TokensOut:    tokensOut,
			CostMicroUSD: cost,
			CreatedAt:    c.now(),
		})
		if auditErr != nil {
			// audit failure never blocks the caller from getting their
			// answer; it is logged by the repository implementation.
			_ = auditErr
		}
	}
	if c.budget != nil {
		_ = c.budget.RecordExternalCall(ctx, cost)
	}

	analysis, ok := extractAnalysis(raw)
	if !ok {
		return FallbackFor(hitDocIDs), nil
	}
	return analysis, nil
}

func (c *Client) computeCost(tokensIn, tokensOut int) uint64 {
	rate, ok := c.costTable[c.modelName]
	if !ok {
		return 0
	}
	return uint64(tokensIn)*rate.InputMicroUSDPerToken + uint64(tokensOut)*rate.OutputMicroUSDPerToken
}

func providerNameFor(c Completer) string {
	type named interface{ ProviderName() string }
	if n, ok := c.(named); ok {
		return n.ProviderName()
	}
	return "unknown"
}

// FallbackFor builds the spec-mandated degraded Analysis (§4.3):
// confidence=low, a single synthesized finding, sources set to the first
// five of hitDocIDs, all other fields empty.
func FallbackFor(hitDocIDs []uint64) model.Analysis {
	n := len(hitDocIDs)
	sources := hitDocIDs
	if len(sources) > 5 {
		sources = sources[:5]
	}
	return model.Analysis{
		Findings:   []string{fmt.Sprintf("Parser failed; raw search returned %d hits", n)},
		Sources:    sources,
		Confidence: model.ConfidenceLow,
	}
}
