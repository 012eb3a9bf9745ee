// Package sanitizer detects, tokenizes, and restores sensitive fields in
// text before/after it crosses an external (LLM provider) boundary. See
// spec.md §4.A.
package sanitizer

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"regexp"
	"sort"

	"github.com/resolvecore/resolver/pkg/domain"
	rerrors "github.com/resolvecore/resolver/pkg/obs/errors"
)

// Sanitizer detects and tokenizes sensitive text spans. The zero value is
// not usable; construct with NewSanitizer.
type Sanitizer struct {
	patterns  []pattern
	mandatory map[domain.SensitiveType]bool
}

// Option configures a Sanitizer.
type Option func(*Sanitizer)

// WithMandatoryTypes overrides the default mandatory subset (sanitizer.mandatory_types).
func WithMandatoryTypes(types []domain.SensitiveType) Option {
	return func(s *Sanitizer) {
		m := make(map[domain.SensitiveType]bool, len(types))
		for _, t := range types {
			m[t] = true
		}
		s.mandatory = m
	}
}

// NewSanitizer constructs a Sanitizer with the default pattern set.
func NewSanitizer(opts ...Option) *Sanitizer {
	s := &Sanitizer{patterns: defaultPatterns, mandatory: MandatoryTypes}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Detect reports every recognized (type, span) in text, reporting-only.
func (s *Sanitizer) Detect(text string) []domain.Detection {
	var out []domain.Detection
	claimed := make([]bool, len(text)+1)
	for _, p := range s.patterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			start, end := loc[0], loc[1]
			if spanClaimed(claimed, start, end) {
				continue
			}
			markClaimed(claimed, start, end)
			out = append(out, domain.Detection{Type: p.typ, Start: start, End: end, Match: text[start:end]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

func spanClaimed(claimed []bool, start, end int) bool {
	for i := start; i < end; i++ {
		if claimed[i] {
			return true
		}
	}
	return false
}

func markClaimed(claimed []bool, start, end int) {
	for i := start; i < end; i++ {
		claimed[i] = true
	}
}

// Sanitize replaces every recognized span with a deterministic opaque token
// of the form <TYPE_nnnnn> and returns the scrubbed text plus a SensitiveMap
// bound to this call. Counters are per-call and per-type. Fails with
// KindSanitizationRequired if a mandatory-type pattern survives the scrub.
func (s *Sanitizer) Sanitize(text string) (string, *domain.SensitiveMap, error) {
	detections := s.Detect(text)

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", nil, rerrors.New(rerrors.KindInternal, "generate sanitization key", "sanitizer", "", err)
	}

	sm := &domain.SensitiveMap{Key: key, Mappings: make(map[string]domain.SensitiveMapping, len(detections))}
	counters := make(map[domain.SensitiveType]int)

	var out []byte
	cursor := 0
	for _, d := range detections {
		out = append(out, text[cursor:d.Start]...)
		counters[d.Type]++
		token := fmt.Sprintf("<%s_%05d>", d.Type, counters[d.Type])
		out = append(out, token...)
		sm.Mappings[token] = domain.SensitiveMapping{
			Token:    token,
			Type:     d.Type,
			Original: d.Match,
			MAC:      mac(key, token, d.Match),
		}
		cursor = d.End
	}
	out = append(out, text[cursor:]...)
	scrubbed := string(out)

	if err := s.checkMandatory(scrubbed); err != nil {
		return scrubbed, sm, err
	}
	return scrubbed, sm, nil
}

// checkMandatory is the defensive post-check from spec.md §4.A: the scrubbed
// text must not still contain a mandatory-type pattern. It always checks
// against the full default pattern set, independent of which patterns this
// Sanitizer instance is configured to scrub, because the point of the check
// is to catch exactly the case where scrubbing missed something.
func (s *Sanitizer) checkMandatory(scrubbed string) error {
	for _, p := range defaultPatterns {
		if !s.mandatory[p.typ] {
			continue
		}
		if p.re.MatchString(scrubbed) {
			return rerrors.New(rerrors.KindSanitizationRequired, "post-scrub verification", "sanitizer", string(p.typ), nil)
		}
	}
	return nil
}

// Restore reverses tokens to their originals using exact-match substitution.
// A token whose MAC does not verify against sm is left unchanged and reported
// via mismatches, signaling a provenance mismatch for the caller to log.
func (s *Sanitizer) Restore(text string, sm *domain.SensitiveMap) (restored string, mismatches []string) {
	if sm == nil {
		return text, nil
	}
	tokenPattern := regexp.MustCompile(`<[A-Za-z]+_\d{5}>`)
	restored = tokenPattern.ReplaceAllStringFunc(text, func(token string) string {
		mapping, ok := sm.Mappings[token]
		if !ok {
			return token
		}
		if !hmac.Equal(mapping.MAC, mac(sm.Key, token, mapping.Original)) {
			mismatches = append(mismatches, token)
			return token
		}
		return mapping.Original
	})
	return restored, mismatches
}

func mac(key []byte, token, original string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(token))
	h.Write([]byte{0})
	h.Write([]byte(original))
	return h.Sum(nil)
}
