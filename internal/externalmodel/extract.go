package externalmodel

import (
	"encoding/json"
	"strings"

	"github.com/connexus-ai/docengine-backend/internal/model"
)

// analysisJSON mirrors model.Analysis for lenient decoding; confidence
// arrives as a model-chosen string and is normalized separately.
type analysisJSON struct {
	Findings         []string `json:"findings"`
	Sources          []uint64 `json:"sources"`
	Confidence       string   `json:"confidence"`
	Hypotheses       []string `json:"hypotheses"`
	Contradictions   []string `json:"contradictions"`
	SuggestedQueries []string `json:"suggested_queries"`
}

// extractAnalysis finds the first balanced JSON object in raw and decodes
// it into an Analysis, per §4.3's lenient-parsing rule. Returns ok=false
// if no balanced object is found or it fails to decode.
func extractAnalysis(raw string) (model.Analysis, bool) {
	obj, ok := firstBalancedObject(raw)
	if !ok {
		return model.Analysis{}, false
	}

	var parsed analysisJSON
	if err := json.Unmarshal([]byte(obj), &parsed); err != nil {
		return model.Analysis{}, false
	}

	return model.Analysis{
		Findings:         parsed.Findings,
		Sources:          parsed.Sources,
		Confidence:       normalizeConfidence(parsed.Confidence),
		Hypotheses:       parsed.Hypotheses,
		Contradictions:   parsed.Contradictions,
		SuggestedQueries: parsed.SuggestedQueries,
	}, true
}

func normalizeConfidence(s string) model.Confidence {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(model.ConfidenceHigh):
		return model.ConfidenceHigh
	case string(model.ConfidenceMedium):
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}

// firstBalancedObject scans raw for the first top-level balanced `{...}`
// span, honoring string literals and escapes so braces inside quoted
// strings don't unbalance the scan. This is the lenient extraction rule
// that tolerates markdown fences, leading prose, or trailing commentary
// around the JSON the model was asked to emit.
func firstBalancedObject(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(raw); i++ {
		c := raw[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], true
			}
		}
	}

	return "", false
}
