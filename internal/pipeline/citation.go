package pipeline

import (
	"regexp"
	"strconv"
	"strings"
)

// citationPattern matches a [#123] or [123] style citation token,
// capturing the digit run.
var citationPattern = regexp.MustCompile(`\[#?(\d+)\]`)

// metaLinePrefixes are lines the format-stage model sometimes echoes back
// from its own prompt scaffolding; the normalizer drops them entirely
// rather than let them leak into the user-facing answer.
var metaLinePrefixes = []string{"User asked:", "Confidence level:"}

// normalizeCitations runs once over the fully assembled answer (Open
// Question §9 decision: whole-text pass, not per-token). It strips 1-2
// digit bracket tokens, which are almost always markdown-style footnote
// artifacts rather than doc_id citations, keeps 3+-digit citations that
// name a real source doc_id, drops scaffolding lines the model echoed
// back, and appends a Sources line if normalization stripped every
// citation from the text (§4.5 Stage 4 grounding invariant).
func normalizeCitations(text string, sources []uint64) string {
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if hasMetaPrefix(trimmed) {
			continue
		}
		kept = append(kept, line)
	}
	text = strings.Join(kept, "\n")

	allowed := make(map[uint64]bool, len(sources))
	for _, s := range sources {
		allowed[s] = true
	}

	survived := false
	result := citationPattern.ReplaceAllStringFunc(text, func(match string) string {
		groups := citationPattern.FindStringSubmatch(match)
		digits := groups[1]
		if len(digits) <= 2 {
			return ""
		}
		id, err := strconv.ParseUint(digits, 10, 64)
		if err != nil || !allowed[id] {
			return ""
		}
		survived = true
		return "[#" + digits + "]"
	})

	result = strings.TrimSpace(result)

	if !survived && len(sources) > 0 {
		result = strings.TrimSpace(result) + "\n\nSources: " + formatSourcesLine(sources)
	}

	return result
}

func hasMetaPrefix(line string) bool {
	for _, p := range metaLinePrefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

func formatSourcesLine(sources []uint64) string {
	var b strings.Builder
	for i, s := range sources {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString("[#")
		b.WriteString(strconv.FormatUint(s, 10))
		b.WriteString("]")
	}
	return b.String()
}
