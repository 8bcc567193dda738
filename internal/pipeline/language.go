package pipeline

import "strings"

// languageMarkers is a small closed set of high-frequency function words
// per language; detectLanguage counts hits per set and picks the
// plurality, defaulting to English. This is deliberately not a real
// language-identification model — Open Question §9 decision #2 treats
// detection as a cheap heuristic sufficient to steer Stage 4's response
// language, not a correctness-critical classifier.
var languageMarkers = map[string][]string{
	"es": {"que", "de", "la", "el", "quien", "quién", "cuando", "cuándo", "donde", "dónde", "por", "para", "con", "los", "las", "se", "fue", "era"},
	"fr": {"que", "de", "le", "la", "qui", "quand", "où", "pour", "avec", "les", "des", "est", "était", "un", "une"},
}

func detectLanguage(query string) string {
	fields := strings.Fields(strings.ToLower(query))
	best := "en"
	bestScore := 0
	for lang, markers := range languageMarkers {
		set := make(map[string]bool, len(markers))
		for _, m := range markers {
			set[m] = true
		}
		score := 0
		for _, f := range fields {
			f = strings.Trim(f, ".,;:!?¿¡")
			if set[f] {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			best = lang
		}
	}
	if bestScore == 0 {
		return "en"
	}
	return best
}
