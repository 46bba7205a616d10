package util

import (
	"sort"
	"strings"
	"unicode"
)

const defaultSnippetRunes = 320

// Snippet trims chunk text for display.
func Snippet(s string, maxRunes int) string {
	return clip(NormalizeText(s), maxRunes)
}

// QuerySnippet picks the sentence(s) of a retrieved chunk that share the most
// terms with the query, falling back to the head of the chunk.
func QuerySnippet(content, query string, maxRunes int) string {
	content = NormalizeText(content)
	if content == "" {
		return ""
	}
	terms := queryTerms(query)
	sentences := SplitSentences(content)
	if len(terms) == 0 || len(sentences) < 2 {
		return clip(content, maxRunes)
	}

	type scored struct {
		pos      int
		sentence string
		hits     int
	}
	list := make([]scored, 0, len(sentences))
	for i, s := range sentences {
		low := strings.ToLower(s)
		hits := 0
		for _, term := range terms {
			if strings.Contains(low, term) {
				hits++
			}
		}
		list = append(list, scored{pos: i, sentence: s, hits: hits})
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].hits > list[j].hits
	})
	if list[0].hits == 0 {
		return clip(content, maxRunes)
	}
	picked := []scored{list[0]}
	if list[1].hits > 0 {
		picked = append(picked, list[1])
	}
	// keep reading order
	sort.Slice(picked, func(i, j int) bool { return picked[i].pos < picked[j].pos })
	parts := make([]string, 0, len(picked))
	for _, p := range picked {
		parts = append(parts, p.sentence)
	}
	return clip(strings.Join(parts, " "), maxRunes)
}

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "was": {}, "were": {}, "what": {}, "how": {},
	"why": {}, "which": {}, "that": {}, "this": {}, "these": {}, "those": {}, "with": {},
	"from": {}, "about": {}, "does": {}, "can": {}, "course": {}, "lesson": {},
}

func queryTerms(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	seen := map[string]struct{}{}
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < 3 {
			continue
		}
		if _, ok := stopWords[f]; ok {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		terms = append(terms, f)
	}
	return terms
}

func clip(s string, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = defaultSnippetRunes
	}
	runes := []rune(strings.TrimSpace(s))
	if len(runes) > maxRunes {
		return strings.TrimSpace(string(runes[:maxRunes])) + "..."
	}
	return string(runes)
}
