package errors

import (
	"fmt"
	"testing"
)

func TestResolutionError_Message(t *testing.T) {
	err := New(KindNotFound, "get incident", "entrystore", "incident-1", nil)
	if err.Kind != KindNotFound {
		t.Fatalf("Kind = %v, want %v", err.Kind, KindNotFound)
	}
	if err.Message() != stableMessages[KindNotFound] {
		t.Errorf("Message() = %q, want %q", err.Message(), stableMessages[KindNotFound])
	}
}

func TestIsAndKindOf(t *testing.T) {
	cause := fmt.Errorf("row not found")
	err := New(KindNotFound, "get entry", "entrystore", "e1", cause)

	if !Is(err, KindNotFound) {
		t.Error("Is(err, KindNotFound) = false, want true")
	}
	if Is(err, KindConflict) {
		t.Error("Is(err, KindConflict) = true, want false")
	}
	if KindOf(err) != KindNotFound {
		t.Errorf("KindOf() = %v, want %v", KindOf(err), KindNotFound)
	}
	if KindOf(cause) != KindInternal {
		t.Errorf("KindOf(plain error) = %v, want %v", KindOf(cause), KindInternal)
	}
}

func TestResolutionError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := New(KindInternal, "do thing", "", "", cause)
	if err.Unwrap().(*OperationError).Cause != cause {
		t.Errorf("Unwrap chain did not reach cause")
	}
}
