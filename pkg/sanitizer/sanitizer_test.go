package sanitizer

import (
	"strings"
	"testing"

	"github.com/resolvecore/resolver/pkg/domain"
	rerrors "github.com/resolvecore/resolver/pkg/obs/errors"
)

func TestSanitizeRestoreRoundTrip(t *testing.T) {
	tests := []string{
		"apikey=sk-ABCDEF0123456789 failing to connect",
		"contact jane.doe@example.com about invoice",
		"password: hunter2 was rejected",
		"plain text with no secrets at all",
	}

	s := NewSanitizer()
	for _, text := range tests {
		t.Run(text, func(t *testing.T) {
			scrubbed, sm, err := s.Sanitize(text)
			if err != nil {
				t.Fatalf("Sanitize() error = %v", err)
			}
			restored, mismatches := s.Restore(scrubbed, sm)
			if len(mismatches) != 0 {
				t.Errorf("Restore() mismatches = %v, want none", mismatches)
			}
			if restored != text {
				t.Errorf("Restore(Sanitize(t)) = %q, want %q", restored, text)
			}
		})
	}
}

func TestSanitizeTokenizesAndHidesSecret(t *testing.T) {
	s := NewSanitizer()
	text := "Connection failed: apikey=sk-ABCDEF0123456789"
	scrubbed, sm, err := s.Sanitize(text)
	if err != nil {
		t.Fatalf("Sanitize() error = %v", err)
	}
	if strings.Contains(scrubbed, "sk-ABCDEF0123456789") {
		t.Errorf("scrubbed text still contains the secret: %q", scrubbed)
	}
	if !strings.Contains(scrubbed, "<ApiKey_00001>") {
		t.Errorf("scrubbed text = %q, want a <ApiKey_00001> token", scrubbed)
	}
	if len(sm.Mappings) != 1 {
		t.Errorf("len(sm.Mappings) = %d, want 1", len(sm.Mappings))
	}
}

func TestRestoreLeavesUnknownTokensUnchanged(t *testing.T) {
	s := NewSanitizer()
	sm := &domain.SensitiveMap{Key: []byte("k"), Mappings: map[string]domain.SensitiveMapping{}}
	restored, mismatches := s.Restore("value is <ApiKey_00099>", sm)
	if restored != "value is <ApiKey_00099>" {
		t.Errorf("Restore() = %q, want token left unchanged", restored)
	}
	if len(mismatches) != 0 {
		t.Errorf("unknown token should not be reported as a MAC mismatch, got %v", mismatches)
	}
}

func TestRestoreDetectsTamperedMAC(t *testing.T) {
	s := NewSanitizer()
	_, sm, err := s.Sanitize("password: hunter2")
	if err != nil {
		t.Fatalf("Sanitize() error = %v", err)
	}
	for token, m := range sm.Mappings {
		m.MAC[0] ^= 0xFF
		sm.Mappings[token] = m
	}
	restored, mismatches := s.Restore("password: <Password_00001>", sm)
	if len(mismatches) != 1 {
		t.Fatalf("mismatches = %v, want exactly one tampered token", mismatches)
	}
	if strings.Contains(restored, "hunter2") {
		t.Errorf("restored = %q, must not leak the original on a MAC mismatch", restored)
	}
}

func TestSanitizationRequiredOnMandatoryTypeSurvival(t *testing.T) {
	// A Sanitizer with an empty pattern set can never scrub anything, so the
	// defensive post-check over the default mandatory types must fire.
	s := &Sanitizer{patterns: nil, mandatory: MandatoryTypes}
	_, _, err := s.Sanitize("password: hunter2")
	if !rerrors.Is(err, rerrors.KindSanitizationRequired) {
		t.Fatalf("Sanitize() error = %v, want KindSanitizationRequired", err)
	}
}

func TestDetectIsReportingOnly(t *testing.T) {
	s := NewSanitizer()
	text := "apikey=sk-ABCDEF0123456789"
	detections := s.Detect(text)
	if len(detections) != 1 || detections[0].Type != domain.SensitiveAPIKey {
		t.Fatalf("Detect() = %+v, want one ApiKey detection", detections)
	}
	if text != "apikey=sk-ABCDEF0123456789" {
		t.Errorf("Detect() must not mutate its input")
	}
}
