package logging

import (
	"fmt"
	"regexp"
)

const (
	// MaxQueryLogLength is the maximum length of rendered query text in logs
	MaxQueryLogLength = 200
	// MaxValueLogLength is the maximum length of a parameter value in logs
	MaxValueLogLength = 64
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

type redaction struct {
	pattern     *regexp.Regexp
	replacement string
}

var (
	// password=xxx, pwd=xxx, pass=xxx (until next delimiter)
	passwordRedaction = redaction{regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`), "${1}=" + RedactedText}

	// api_key=..., apikey=..., key=... with long token values
	apiKeyRedaction = redaction{regexp.MustCompile(`(?i)(api[_-]?key|apikey|key)=[A-Za-z0-9-_]{20,}`), "${1}=" + RedactedText}

	// user:pass@host inside URLs
	userInfoRedaction = redaction{regexp.MustCompile(`://[^:/\s]+:[^@/\s]+@`), "://" + RedactedText + "@"}

	// sqlserver style "user id=...;" segments
	userIDRedaction = redaction{regexp.MustCompile(`(?i)(user id)=[^;&\s]+`), "${1}=" + RedactedText}
)

func redact(s string, rules ...redaction) string {
	for _, r := range rules {
		s = r.pattern.ReplaceAllString(s, r.replacement)
	}
	return s
}

// SanitizeConnectionString removes credentials from a DSN or connection URL.
// Use this before logging any connection string.
func SanitizeConnectionString(connStr string) string {
	return redact(connStr, passwordRedaction, userIDRedaction, userInfoRedaction)
}

// SanitizeError sanitizes error messages from drivers, which frequently echo
// the DSN they failed to use.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return redact(err.Error(), passwordRedaction, userIDRedaction, apiKeyRedaction, userInfoRedaction)
}

// SanitizeQuery truncates rendered query text for logging and redacts
// credential-looking fragments.
func SanitizeQuery(query string) string {
	return redact(TruncateString(query, MaxQueryLogLength), passwordRedaction, apiKeyRedaction)
}

// SanitizeValue renders a parameter value for logs, truncated to MaxValueLogLength.
func SanitizeValue(v any) string {
	return TruncateString(fmt.Sprintf("%v", v), MaxValueLogLength)
}

// TruncateString truncates a string to maxLen and adds ellipsis if needed
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
