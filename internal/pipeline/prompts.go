package pipeline

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/connexus-ai/docengine-backend/internal/model"
)

const analyzeSystemPrompt = `You are an investigative analyst. Given a question and a set of source documents, respond with exactly one JSON object: {"findings":["..."],"sources":[doc_id,...],"confidence":"low"|"medium"|"high","hypotheses":["..."],"contradictions":["..."],"suggested_queries":["..."]}. Only cite doc_ids present in the supplied context. No prose outside the JSON object.`

// buildContextBlock serializes up to 10 hits into the compact record
// format Stage 3 hands to the analysis model (§4.5 Stage 3).
func buildContextBlock(hits []model.SearchHit) string {
	var b strings.Builder
	for _, h := range hits {
		b.WriteString("- [#")
		b.WriteString(strconv.FormatUint(h.DocID, 10))
		b.WriteString("] ")
		b.WriteString(h.Title)
		if h.Timestamp != nil {
			b.WriteString(" (")
			b.WriteString(h.Timestamp.Format("2006-01-02"))
			b.WriteString(")")
		}
		if h.Sender != nil && *h.Sender != "" {
			b.WriteString(" from ")
			b.WriteString(*h.Sender)
		}
		b.WriteString(": ")
		b.WriteString(h.Snippet)
		b.WriteString("\n")
	}
	return b.String()
}

func buildAnalyzePrompt(query, contextBlock string) string {
	return fmt.Sprintf("Question: %s\n\nSources:\n%s", query, contextBlock)
}

// buildLocalFallbackPrompt asks for findings and sources only, omitting
// hypotheses/contradictions, per Stage 3's documented degraded mode.
func buildLocalFallbackPrompt(query, contextBlock string) string {
	return fmt.Sprintf(
		"Question: %s\n\nSources:\n%s\nList only the factual findings that answer the question, one per line, each prefixed with the doc_id it comes from in the form [#ID]. No commentary.",
		query, contextBlock,
	)
}

// parseFindingsList turns the local fallback model's line-oriented output
// into a findings slice, dropping blank lines and stripping list markers.
func parseFindingsList(raw string) []string {
	var findings []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		findings = append(findings, line)
	}
	return findings
}

// buildFormatPrompt assembles Stage 4's strict style contract: prose only,
// respond in lang, cite every factual claim with [#ID], trailing Sources
// line (§4.5 Stage 4).
func buildFormatPrompt(query string, analysis model.Analysis, lang string) string {
	var b strings.Builder
	b.WriteString("Answer the question using only the findings below. Respond in ")
	b.WriteString(lang)
	b.WriteString(". Write flowing prose, no bullet points or headings. ")
	b.WriteString("Follow every factual claim with its citation in the form [#ID], using only the doc_ids listed in Sources. ")
	b.WriteString("End with a line of the form \"Sources: [#id1] [#id2] ...\" listing every doc_id you cited.\n\n")
	b.WriteString("Question: ")
	b.WriteString(query)
	b.WriteString("\n\nFindings:\n")
	for _, f := range analysis.Findings {
		b.WriteString("- ")
		b.WriteString(f)
		b.WriteString("\n")
	}
	if len(analysis.Hypotheses) > 0 {
		b.WriteString("\nHypotheses:\n")
		for _, h := range analysis.Hypotheses {
			b.WriteString("- ")
			b.WriteString(h)
			b.WriteString("\n")
		}
	}
	if len(analysis.Contradictions) > 0 {
		b.WriteString("\nContradictions:\n")
		for _, c := range analysis.Contradictions {
			b.WriteString("- ")
			b.WriteString(c)
			b.WriteString("\n")
		}
	}
	b.WriteString("\nSources: ")
	for i, s := range analysis.Sources {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString("[#")
		b.WriteString(strconv.FormatUint(s, 10))
		b.WriteString("]")
	}
	return b.String()
}

// noResultsMessage is the locale-parameterized "no relevant documents"
// chunk emitted by Stage 2 when the search returns zero hits (§4.5 Stage
// 2).
func noResultsMessage(query string) string {
	lang := detectLanguage(query)
	if lang == "es" {
		return "No se encontraron documentos relevantes para esta pregunta."
	}
	return "No relevant documents were found for this question."
}
