// Package audit is the hash-chained, append-only Audit Log. See spec.md §4.H.
package audit

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/resolvecore/resolver/pkg/domain"
	rerrors "github.com/resolvecore/resolver/pkg/obs/errors"
)

// DefaultRetention is spec.md §4.H's default retention schedule by Kind.
var DefaultRetention = map[domain.EventKind]time.Duration{
	domain.EventPersist:  7 * 365 * 24 * time.Hour,
	domain.EventLLMCall:  7 * 365 * 24 * time.Hour,
	domain.EventRetrieve: 90 * 24 * time.Hour,
}

// Log is the append-only, hash-chained Audit Log.
type Log struct {
	db *sqlx.DB
}

// New wraps an already-open *sqlx.DB (the same pgx-stdlib connection
// convention as pkg/entrystore).
func New(db *sqlx.DB) *Log { return &Log{db: db} }

// Append writes event, computing its Hash from the prior event's Hash and
// the canonical bytes of its payload. The caller is responsible for ensuring
// payload is already sanitized; Append never inspects payload contents
// beyond enforcing the size cap.
func (l *Log) Append(ctx context.Context, event domain.AuditEvent) (int64, error) {
	canonical, err := canonicalBytes(event.Payload)
	if err != nil {
		return 0, rerrors.New(rerrors.KindInvalidInput, "append audit event", "audit", "", err)
	}
	if len(canonical) > domain.MaxPayloadBytes {
		return 0, rerrors.New(rerrors.KindInvalidInput, "append audit event", "audit", "", fmt.Errorf("payload exceeds %d bytes", domain.MaxPayloadBytes))
	}

	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, rerrors.New(rerrors.KindTransient, "append audit event", "audit", "", err)
	}
	defer tx.Rollback()

	prevHash := domain.GenesisHash
	var lastSeq int64
	err = tx.GetContext(ctx, &lastSeq, `SELECT coalesce(max(seq), 0) FROM audit_events`)
	if err != nil {
		return 0, rerrors.New(rerrors.KindTransient, "append audit event", "audit", "", err)
	}
	if lastSeq > 0 {
		if err := tx.GetContext(ctx, &prevHash, `SELECT hash FROM audit_events WHERE seq = $1`, lastSeq); err != nil {
			return 0, rerrors.New(rerrors.KindTransient, "append audit event", "audit", "", err)
		}
	}

	event.Seq = lastSeq + 1
	event.PrevHash = prevHash
	event.Hash = chainHash(prevHash, canonical)
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_events (seq, prev_hash, hash, kind, correlation_id, actor_id, timestamp, payload, duration_ms)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		event.Seq, event.PrevHash, event.Hash, string(event.Kind), event.CorrelationID, event.ActorID,
		event.Timestamp, canonical, event.DurationMs,
	)
	if err != nil {
		return 0, rerrors.New(rerrors.KindTransient, "append audit event", "audit", "", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, rerrors.New(rerrors.KindTransient, "commit audit event", "audit", "", err)
	}
	return event.Seq, nil
}

// Read returns up to limit events starting at seq fromSeq, in append order.
func (l *Log) Read(ctx context.Context, fromSeq int64, limit int) ([]domain.AuditEvent, error) {
	rows, err := l.db.QueryxContext(ctx, `
		SELECT seq, prev_hash, hash, kind, correlation_id, actor_id, timestamp, payload, duration_ms
		FROM audit_events WHERE seq >= $1 ORDER BY seq ASC LIMIT $2`, fromSeq, limit)
	if err != nil {
		return nil, rerrors.New(rerrors.KindTransient, "read audit events", "audit", "", err)
	}
	defer rows.Close()

	var out []domain.AuditEvent
	for rows.Next() {
		var r auditRow
		if err := rows.StructScan(&r); err != nil {
			return nil, rerrors.New(rerrors.KindTransient, "scan audit event", "audit", "", err)
		}
		e, err := r.toDomain()
		if err != nil {
			return nil, rerrors.New(rerrors.KindInternal, "decode audit payload", "audit", "", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// Verify recomputes the hash chain over [fromSeq, toSeq] and compares it
// against the stored chain, returning IntegrityError pointing at the first
// mismatched sequence number.
func (l *Log) Verify(ctx context.Context, fromSeq, toSeq int64) error {
	events, err := l.Read(ctx, fromSeq, int(toSeq-fromSeq+1))
	if err != nil {
		return err
	}

	prevHash := domain.GenesisHash
	if fromSeq > 1 {
		var stored string
		if err := l.db.GetContext(ctx, &stored, `SELECT hash FROM audit_events WHERE seq = $1`, fromSeq-1); err == nil {
			prevHash = stored
		}
	}

	for _, e := range events {
		canonical, err := canonicalBytes(e.Payload)
		if err != nil {
			return rerrors.New(rerrors.KindInternal, "verify audit chain", "audit", "", err)
		}
		want := chainHash(prevHash, canonical)
		if want != e.Hash || e.PrevHash != prevHash {
			return rerrors.New(rerrors.KindIntegrityError, "verify audit chain", "audit", fmt.Sprintf("seq=%d", e.Seq), nil)
		}
		prevHash = e.Hash
	}
	return nil
}

func chainHash(prevHash string, canonicalPayload []byte) string {
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write(canonicalPayload)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// canonicalBytes produces deterministic JSON: keys sorted, no extraneous
// whitespace, so the same logical payload always hashes identically.
func canonicalBytes(payload map[string]interface{}) ([]byte, error) {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]byte, 0, 256)
	ordered = append(ordered, '{')
	for i, k := range keys {
		if i > 0 {
			ordered = append(ordered, ',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(payload[k])
		if err != nil {
			return nil, err
		}
		ordered = append(ordered, kb...)
		ordered = append(ordered, ':')
		ordered = append(ordered, vb...)
	}
	ordered = append(ordered, '}')
	return ordered, nil
}

type auditRow struct {
	Seq           int64          `db:"seq"`
	PrevHash      string         `db:"prev_hash"`
	Hash          string         `db:"hash"`
	Kind          string         `db:"kind"`
	CorrelationID string         `db:"correlation_id"`
	ActorID       sql.NullString `db:"actor_id"`
	Timestamp     time.Time      `db:"timestamp"`
	Payload       []byte         `db:"payload"`
	DurationMs    int64          `db:"duration_ms"`
}

func (r auditRow) toDomain() (domain.AuditEvent, error) {
	var payload map[string]interface{}
	if len(r.Payload) > 0 {
		if err := json.Unmarshal(r.Payload, &payload); err != nil {
			return domain.AuditEvent{}, err
		}
	}
	return domain.AuditEvent{
		Seq:           r.Seq,
		PrevHash:      r.PrevHash,
		Hash:          r.Hash,
		Kind:          domain.EventKind(r.Kind),
		CorrelationID: r.CorrelationID,
		ActorID:       r.ActorID.String,
		Timestamp:     r.Timestamp,
		Payload:       payload,
		DurationMs:    r.DurationMs,
	}, nil
}
