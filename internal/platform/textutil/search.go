package textutil

import (
	"html"
	"strings"
	"sync"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var (
	stripPolicyOnce sync.Once
	stripPolicy     *bluemonday.Policy
)

func strictPolicy() *bluemonday.Policy {
	stripPolicyOnce.Do(func() {
		stripPolicy = bluemonday.StrictPolicy()
	})
	return stripPolicy
}

// NormalizeSearch prepares free text for case- and width-insensitive matching. Markup is dropped,
// the text is NFKC-normalised and case-folded, and runs of whitespace collapse to a single space.
func NormalizeSearch(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	value = html.UnescapeString(strictPolicy().Sanitize(value))
	value = norm.NFKC.String(value)
	value = cases.Fold().String(value)
	return strings.Join(strings.FieldsFunc(value, unicode.IsSpace), " ")
}

// MatchesSearch reports whether any candidate contains the already-normalised term.
func MatchesSearch(term string, candidates ...string) bool {
	if term == "" {
		return true
	}
	for _, candidate := range candidates {
		if strings.Contains(NormalizeSearch(candidate), term) {
			return true
		}
	}
	return false
}

// NormalizeIDs trims ids, dropping blanks and duplicates while keeping first-seen order.
func NormalizeIDs(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
