// Package redact strips credentials from log output. Kioku handles API keys
// for the chat and embedding endpoints and a Redis/Postgres DSN; none of them
// may reach a log line.
package redact

import (
	"log/slog"
	"net/url"
	"strings"
)

const placeholder = "[REDACTED]"

var sensitiveWords = []string{"password", "passwd", "token", "secret", "api_key", "apikey", "credential", "auth"}

// String replaces every occurrence of each sensitive value in s with
// [REDACTED]. Values shorter than 4 characters are skipped.
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// IsSensitiveKey reports whether a key name suggests it holds a secret.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, word := range sensitiveWords {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

// DSN hides the password of a URL-style connection string such as
// redis://user:pw@host:6379/0. Strings that do not parse are returned as is.
func DSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, ok := u.User.Password(); !ok {
		return dsn
	}
	u.User = url.UserPassword(u.User.Username(), "xxxxx")
	return strings.Replace(u.String(), "xxxxx", placeholder, 1)
}

// ReplaceAttr is a slog.HandlerOptions.ReplaceAttr hook that blanks
// non-empty string attributes whose key looks sensitive and masks DSN
// passwords in attributes named "dsn" or "*_url".
func ReplaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindString || a.Value.String() == "" {
		return a
	}
	switch {
	case IsSensitiveKey(a.Key):
		return slog.String(a.Key, placeholder)
	case a.Key == "dsn" || strings.HasSuffix(a.Key, "_url"):
		return slog.String(a.Key, DSN(a.Value.String()))
	}
	return a
}
