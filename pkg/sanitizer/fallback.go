package sanitizer

import (
	"strings"

	"github.com/resolvecore/resolver/pkg/domain"
)

// redactMarker is the one-way, non-restorable placeholder used by the
// degraded-delivery path's primary pass (SanitizeWithFallback). It is
// intentionally distinct from the <TYPE_nnnnn> tokens Sanitize produces,
// since callers on this path (e.g. the Notifier, or audit logging of a
// payload that must never block on a sanitization bug) never need to
// restore the original value.
const redactMarker = "***REDACTED***"

// fallbackMarker is used by SafeFallback specifically, so a caller can tell
// whether the primary or the degraded path produced a given result.
const fallbackMarker = "[REDACTED]"

// fallbackLabels are the secret-bearing field names SafeFallback recognizes
// without using a regex engine, so it can never itself fail the way a
// pathological regex could.
var fallbackLabels = []string{"password", "passwd", "pwd", "api_key", "apikey", "token", "secret"}

// SanitizeWithFallback redacts text for degraded, non-restorable delivery
// (e.g. a notification that must go out even if sanitization misbehaves).
// If the primary regex-based pass panics, it recovers and falls back to
// SafeFallback, returning the fallback result alongside a non-nil error so
// the caller can log the degraded path without losing the notification.
func (s *Sanitizer) SanitizeWithFallback(text string) (result string, err error) {
	if text == "" {
		return "", nil
	}

	defer func() {
		if r := recover(); r != nil {
			result = s.SafeFallback(text)
			err = errPanicRecovered(r)
		}
	}()

	var out []byte
	cursor := 0
	for _, d := range s.Detect(text) {
		out = append(out, text[cursor:d.Start]...)
		out = append(out, redactMarker...)
		cursor = d.End
	}
	out = append(out, text[cursor:]...)
	return string(out), nil
}

// SafeFallback redacts recognizable secret-bearing fields using only plain
// string scanning (no regex engine), so it remains safe to call even if the
// primary pattern set is misbehaving. It preserves all non-secret content.
func (s *Sanitizer) SafeFallback(text string) string {
	if text == "" {
		return text
	}
	lower := strings.ToLower(text)
	var b strings.Builder
	i := 0
	for i < len(text) {
		label, labelLen := matchLabelAt(lower, i)
		if label == "" {
			b.WriteByte(text[i])
			i++
			continue
		}
		j := i + labelLen
		for j < len(text) && (text[j] == ' ' || text[j] == '\t') {
			j++
		}
		if j >= len(text) || text[j] != ':' && text[j] != '=' {
			b.WriteString(text[i:j])
			i = j
			continue
		}
		j++
		for j < len(text) && (text[j] == ' ' || text[j] == '\t') {
			j++
		}
		valueStart := j
		quote := byte(0)
		if j < len(text) && (text[j] == '\'' || text[j] == '"') {
			quote = text[j]
			j++
			valueStart = j
		}
		for j < len(text) {
			c := text[j]
			if quote != 0 {
				if c == quote {
					break
				}
			} else if c == ' ' || c == ',' || c == '}' || c == ')' || c == ']' || c == '\n' || c == '\t' {
				break
			}
			j++
		}
		b.WriteString(text[i:valueStart])
		if j > valueStart {
			b.WriteString(fallbackMarker)
		}
		i = j
		if quote != 0 && i < len(text) && text[i] == quote {
			b.WriteByte(text[i])
			i++
		}
	}
	return b.String()
}

// SanitizeOrFallback is the recover-guarded entry point the Resolver calls
// before any provider call: it runs the primary Sanitize pass and, only if
// that pass panics, recovers and falls back to the non-restorable
// SafeFallback path. The returned map is nil exactly when the fallback path
// ran, signaling to the caller that tokens in this text cannot be restored
// later and the text must be treated as terminal (already redacted).
func (s *Sanitizer) SanitizeOrFallback(text string) (result string, sm *domain.SensitiveMap, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = s.SafeFallback(text)
			sm = nil
			err = errPanicRecovered(r)
		}
	}()
	return s.Sanitize(text)
}

// matchLabelAt returns the longest fallbackLabel matching lower at position
// i (case-insensitive, word-boundary on the left), or "" if none matches.
func matchLabelAt(lower string, i int) (label string, length int) {
	if i > 0 && isWordByte(lower[i-1]) {
		return "", 0
	}
	for _, l := range fallbackLabels {
		if strings.HasPrefix(lower[i:], l) {
			end := i + len(l)
			if end == len(lower) || !isWordByte(lower[end]) {
				if len(l) > len(label) {
					label, length = l, len(l)
				}
			}
		}
	}
	return label, length
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

type panicError struct{ v interface{} }

func (e panicError) Error() string { return "sanitizer recovered from panic" }

func errPanicRecovered(v interface{}) error { return panicError{v} }
