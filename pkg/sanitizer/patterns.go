package sanitizer

import (
	"regexp"

	"github.com/resolvecore/resolver/pkg/domain"
)

// pattern pairs a domain.SensitiveType with the regexp used to detect it.
// Order matters: per spec.md §4.A "the first match for a span wins", so more
// specific patterns (card numbers, API keys) are listed before the broader
// ones they could otherwise be swallowed by.
type pattern struct {
	typ domain.SensitiveType
	re  *regexp.Regexp
}

// defaultPatterns is the minimum recognized set from spec.md §4.A. The list
// is ordered most-specific-first.
var defaultPatterns = []pattern{
	{domain.SensitiveAPIKey, regexp.MustCompile(`(?i)\b(?:api[_-]?key|apikey)\s*[:=]\s*['"]?([A-Za-z0-9_\-]{8,})['"]?`)},
	{domain.SensitivePassword, regexp.MustCompile(`(?i)\b(?:password|passwd|pwd)\s*[:=]\s*['"]?(\S{3,})['"]?`)},
	{domain.SensitiveCardNumber, regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`)},
	{domain.SensitiveAccountNumber, regexp.MustCompile(`(?i)\b(?:account|acct)[_ -]?(?:number|no|num)\s*[:=]\s*([A-Za-z0-9\-]{6,})`)},
	{domain.SensitiveTaxID, regexp.MustCompile(`\b\d{2}-\d{7}\b|\b\d{3}-\d{2}-\d{4}\b`)},
	{domain.SensitiveNationalID, regexp.MustCompile(`(?i)\b(?:national[_ -]?id|ssn)\s*[:=]\s*([A-Za-z0-9\-]{5,})`)},
	{domain.SensitiveEmail, regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)},
	{domain.SensitivePhoneNumber, regexp.MustCompile(`\b\+?\d{1,3}[\s.\-]?\(?\d{2,4}\)?[\s.\-]?\d{3,4}[\s.\-]?\d{3,4}\b`)},
	{domain.SensitiveIPAddress, regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)},
}

// MandatoryTypes is the default mandatory subset from
// sanitizer.mandatory_types (spec.md §6): a post-scrub survival of any of
// these patterns fails with SanitizationRequired.
var MandatoryTypes = map[domain.SensitiveType]bool{
	domain.SensitiveAPIKey:   true,
	domain.SensitivePassword: true,
	domain.SensitiveTaxID:    true,
}
