package domain

import "time"

// EventKind enumerates the audit event types from spec.md §3.
type EventKind string

const (
	EventIngest   EventKind = "Ingest"
	EventSanitize EventKind = "Sanitize"
	EventRetrieve EventKind = "Retrieve"
	EventLLMCall  EventKind = "LLMCall"
	EventRestore  EventKind = "Restore"
	EventPersist  EventKind = "Persist"
	EventNotify   EventKind = "Notify"
	EventError    EventKind = "Error"
)

// GenesisHash is the fixed hash used as PrevHash for the first audit event.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// AuditEvent is one append-only, hash-chained record. See spec.md §3, §4.H.
type AuditEvent struct {
	Seq           int64          `json:"seq"`
	PrevHash      string         `json:"prev_hash"`
	Hash          string         `json:"hash"`
	Kind          EventKind      `json:"kind"`
	CorrelationID string         `json:"correlation_id"`
	ActorID       string         `json:"actor_id"`
	Timestamp     time.Time      `json:"timestamp"`
	Payload       map[string]any `json:"payload"`
	DurationMs    int64          `json:"duration_ms"`
}

// MaxPayloadBytes is the default Audit Log payload size cap (64 KiB).
const MaxPayloadBytes = 64 * 1024
