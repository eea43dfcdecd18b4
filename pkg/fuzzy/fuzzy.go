package fuzzy

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// LevenshteinDistance calculates the edit distance between two strings
func LevenshteinDistance(s1, s2 string) int {
	r1 := []rune(normalizeString(s1))
	r2 := []rune(normalizeString(s2))
	m, n := len(r1), len(r2)
	if m == 0 {
		return n
	}
	if n == 0 {
		return m
	}

	// Two rolling rows are enough
	prev := make([]int, n+1)
	curr := make([]int, n+1)
	for j := 0; j <= n; j++ {
		prev[j] = j
	}
	for i := 1; i <= m; i++ {
		curr[0] = i
		for j := 1; j <= n; j++ {
			cost := 0
			if r1[i-1] != r2[j-1] {
				cost = 1
			}
			curr[j] = min3(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}
	return prev[n]
}

// FuzzyMatch checks if query fuzzy-matches text within a given threshold
func FuzzyMatch(query, text string, threshold int) bool {
	query = normalizeString(query)
	text = normalizeString(text)
	if query == "" {
		return true
	}
	if text == "" {
		return false
	}
	if strings.Contains(text, query) {
		return true
	}

	for _, word := range strings.Fields(text) {
		if strings.HasPrefix(word, query) || LevenshteinDistance(query, word) <= threshold {
			return true
		}
	}
	return false
}

// Threshold picks the typo tolerance for a query
func Threshold(query string) int {
	switch n := len([]rune(query)); {
	case n <= 3:
		return 0
	case n >= 8:
		return 2
	default:
		return 1
	}
}

// MatchParticipant checks a conversation counterparty against a search query
func MatchParticipant(query, name, username, participantID string) bool {
	threshold := Threshold(query)
	return FuzzyMatch(query, name, threshold) ||
		FuzzyMatch(query, username, threshold) ||
		strings.EqualFold(strings.TrimSpace(query), participantID)
}

// ParticipantScore ranks a match. Higher score = more relevant
func ParticipantScore(query, name, username string) float64 {
	query = normalizeString(query)
	if query == "" {
		return 0
	}
	score := 0.0

	usernameNorm := normalizeString(username)
	switch {
	case usernameNorm == query:
		score += 120
	case strings.HasPrefix(usernameNorm, query):
		score += 80
	case strings.Contains(usernameNorm, query):
		score += 50
	}

	nameNorm := normalizeString(name)
	if strings.Contains(nameNorm, query) {
		score += 70
		if containsWord(nameNorm, query) {
			score += 30
		}
	} else {
		for _, word := range strings.Fields(nameNorm) {
			if dist := LevenshteinDistance(query, word); dist <= 2 {
				score += 40 - float64(dist)*12
			}
			if strings.HasPrefix(word, query) {
				score += 35
			}
		}
	}
	return score
}

// Helper functions

func min3(a, b, c int) int {
	if a < b {
		if a < c {
			return a
		}
		return c
	}
	if b < c {
		return b
	}
	return c
}

// normalizeString lowercases, strips accents and collapses whitespace
func normalizeString(s string) string {
	s = removeAccents(strings.ToLower(s))
	return strings.Join(strings.Fields(s), " ")
}

// containsWord checks if text contains query as a whole word
func containsWord(text, query string) bool {
	for _, word := range strings.Fields(text) {
		if word == query {
			return true
		}
	}
	return false
}

// removeAccents removes diacritical marks so "José" matches "jose"
func removeAccents(s string) string {
	var result strings.Builder
	for _, r := range norm.NFD.String(s) {
		if unicode.Is(unicode.Mn, r) { // Mn: Mark, nonspacing
			continue
		}
		// Letters with strokes do not decompose
		switch r {
		case 'đ':
			result.WriteRune('d')
		case 'ø':
			result.WriteRune('o')
		default:
			result.WriteRune(r)
		}
	}
	return result.String()
}
