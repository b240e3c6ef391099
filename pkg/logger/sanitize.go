package logger

import (
	"log/slog"
	"net/url"
	"strings"
)

var sensitiveParams = []string{
	"password", "token", "refresh", "access", "secret", "otp", "code", "key", "auth",
}

// RedactedAttr returns a redacted slog attribute for sensitive values
// In production, returns "[REDACTED]"; in development, returns the actual value
func RedactedAttr(key, value, env string) slog.Attr {
	if env == "production" {
		return slog.String(key, "[REDACTED]")
	}
	return slog.String(key, value)
}

// RedactQuery replaces the values of sensitive query parameters.
// Unparsable queries are redacted entirely.
func RedactQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "[REDACTED]"
	}
	for name := range values {
		if isSensitive(name) {
			values[name] = []string{"[REDACTED]"}
		}
	}
	return values.Encode()
}

func isSensitive(param string) bool {
	p := strings.ToLower(param)
	for _, s := range sensitiveParams {
		if strings.Contains(p, s) {
			return true
		}
	}
	return false
}
