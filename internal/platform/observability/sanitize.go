package observability

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Rune limits for values copied from requests into log entries.
const (
	textLimit   = 256
	routeLimit  = 180
	methodLimit = 10
	idLimit     = 64
)

// sanitizeString drops control runes and invalid UTF-8 and keeps at most limit runes, so request
// values cannot forge log lines.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = textLimit
	}
	clean := strings.Map(func(r rune) rune {
		if r == utf8.RuneError || unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
	if utf8.RuneCountInString(clean) <= limit {
		return clean
	}
	return string([]rune(clean)[:limit])
}

// SanitizeRoute cleans a route pattern or path for logging. Blank routes log as "/".
func SanitizeRoute(route string) string {
	if strings.TrimSpace(route) == "" {
		return "/"
	}
	return sanitizeString(route, routeLimit)
}

func SanitizeMethod(method string) string {
	return strings.ToUpper(sanitizeString(method, methodLimit))
}

// SanitizeUserID cleans a caller id. Scheduler callers are logged as "system:<principal>".
func SanitizeUserID(uid string) string {
	return sanitizeString(strings.TrimSpace(uid), idLimit)
}
