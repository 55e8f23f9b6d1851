package keywords

import "strings"

// Normalize prepares a keyword for comparison: trimmed, one leading '#' removed, lower-cased.
func Normalize(keyword string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(keyword), "#"))
}

// Matches reports whether text contains keyword, ignoring case and a leading '#'.
func Matches(text, keyword string) bool {
	normalized := Normalize(keyword)
	if normalized == "" {
		return false
	}
	return strings.Contains(strings.ToLower(text), normalized)
}

// MatchedKeywords returns the distinct normalized keywords found in text, in keyword order.
func MatchedKeywords(text string, keywords []string) []string {
	lowered := strings.ToLower(text)
	seen := make(map[string]struct{}, len(keywords))
	var hits []string
	for _, keyword := range keywords {
		normalized := Normalize(keyword)
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		if strings.Contains(lowered, normalized) {
			seen[normalized] = struct{}{}
			hits = append(hits, normalized)
		}
	}
	return hits
}
