package model

import "regexp"

// RedactedToken is the fixed literal substituted for secret material in any
// rendered header set, config, or error message.
const RedactedToken = "<redacted>"

// sensitiveHeader matches header names whose values must never be displayed.
var sensitiveHeader = regexp.MustCompile(`(?i)(authorization|api[_-]?key|token|secret)`)

// inlineSecret matches "name: value" and "name=value" occurrences of
// sensitive names inside free-form text, capturing the name and any
// Bearer/Basic scheme word so only the credential itself is replaced.
var inlineSecret = regexp.MustCompile(`(?i)\b(authorization|api[_-]?key|token|secret)\b(\s*[:=]\s*)((?:bearer|basic)\s+)?(\S+)`)

// SensitiveHeader reports whether a header name must have its value redacted
// on display.
func SensitiveHeader(name string) bool {
	return sensitiveHeader.MatchString(name)
}

// RedactHeaders returns a copy of headers with every sensitive value replaced
// by RedactedToken. The input map is never mutated.
func RedactHeaders(headers map[string]string) map[string]string {
	if headers == nil {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if SensitiveHeader(k) {
			out[k] = RedactedToken
		} else {
			out[k] = v
		}
	}
	return out
}

// Redact replaces inline secret assignments in free-form text with
// RedactedToken. Provider error bodies occasionally echo request headers;
// every message rendered by Error passes through here.
func Redact(s string) string {
	return inlineSecret.ReplaceAllString(s, "${1}${2}${3}"+RedactedToken)
}
