package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"unicode"

	"github.com/connexus-ai/docengine-backend/internal/model"
)

// stopWords is the closed set excluded by tokenizeNouns' crude noun
// extraction: short function words that are never themselves the subject
// of an investigative question.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "was": true,
	"were": true, "who": true, "what": true, "when": true, "where": true,
	"why": true, "how": true, "did": true, "does": true, "do": true,
	"and": true, "or": true, "of": true, "to": true, "in": true, "on": true,
	"at": true, "with": true, "for": true, "about": true, "between": true,
	"please": true, "can": true, "you": true, "tell": true, "me": true,
	"show": true, "find": true, "search": true, "list": true, "give": true,
}

// parseIntent implements Stage 1: ask the local model to classify the
// query, falling back to a deterministic heuristic on any parse failure
// or deadline (§4.5 Stage 1).
func (p *Pipeline) parseIntent(ctx context.Context, query string) model.Intent {
	fallback := model.Intent{Kind: model.IntentSearch, Entities: tokenizeNouns(query), Filters: map[string]string{}}

	if p.local == nil {
		return fallback
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeouts.IntentParse)
	defer cancel()

	raw, err := p.local.Complete(ctx, buildIntentPrompt(query), 128, 0)
	if err != nil {
		return fallback
	}

	intent, ok := parseIntentJSON(raw)
	if !ok {
		return fallback
	}
	if intent.Filters == nil {
		intent.Filters = map[string]string{}
	}
	if len(intent.Entities) == 0 {
		intent.Entities = tokenizeNouns(query)
	}
	return intent
}

const intentSystemPreamble = `Classify the investigative question below. Respond with exactly one JSON object: {"intent":"search"|"connections"|"timeline","entities":["..."]}. No prose, no explanation.`

func buildIntentPrompt(query string) string {
	var b strings.Builder
	b.WriteString(intentSystemPreamble)
	b.WriteString("\n\nQuestion: ")
	b.WriteString(query)
	return b.String()
}

type intentJSON struct {
	Intent   string            `json:"intent"`
	Entities []string          `json:"entities"`
	Filters  map[string]string `json:"filters"`
}

// parseIntentJSON strips code fences and leading list markers, then scans
// lines for the first one that parses as a JSON object carrying both
// "intent" and "entities" keys.
func parseIntentJSON(raw string) (model.Intent, bool) {
	for _, line := range candidateLines(raw) {
		var j map[string]json.RawMessage
		if err := json.Unmarshal([]byte(line), &j); err != nil {
			continue
		}
		if _, ok := j["intent"]; !ok {
			continue
		}
		if _, ok := j["entities"]; !ok {
			continue
		}
		var parsed intentJSON
		if err := json.Unmarshal([]byte(line), &parsed); err != nil {
			continue
		}
		kind := model.IntentKind(parsed.Intent)
		if kind != model.IntentSearch && kind != model.IntentConnections && kind != model.IntentTimeline {
			kind = model.IntentSearch
		}
		return model.Intent{Kind: kind, Entities: parsed.Entities, Filters: parsed.Filters}, true
	}
	return model.Intent{}, false
}

// candidateLines strips optional ``` fences and leading list markers
// (-, *, digits followed by '.'), then returns every line whose first
// non-whitespace rune is '{', which is a candidate JSON object.
func candidateLines(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		trimmed = strings.TrimSpace(trimmed)
		trimmed = strings.TrimLeft(trimmed, "-*")
		trimmed = strings.TrimSpace(trimmed)
		if trimmed == "" {
			continue
		}
		if trimmed[0] != '{' {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

// tokenizeNouns is the deterministic Stage 1 fallback: lowercase, split on
// non-letter runes, drop stop words and single-character tokens. It is not
// a real part-of-speech tagger — it is the cheap heuristic the spec's
// fallback rule calls for when the model cannot be trusted.
func tokenizeNouns(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 || stopWords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}
