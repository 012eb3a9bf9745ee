package entrystore

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/resolvecore/resolver/pkg/domain"
	rerrors "github.com/resolvecore/resolver/pkg/obs/errors"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "pgx"), nil), mock
}

func mockRowsFor(e domain.Entry) *sqlmock.Rows {
	cols := []string{
		"id", "kind", "title", "description", "solution", "technical_area", "business_area",
		"severity", "priority", "tags", "status", "assigned_to", "reporter", "sla_deadline",
		"usage_count", "success_count", "confidence_score", "last_used", "embedding",
		"version", "archived", "created_at", "updated_at", "resolved_at", "created_by",
	}
	return sqlmock.NewRows(cols).AddRow(
		e.ID, string(e.Kind), e.Title, e.Description, e.Solution, e.TechnicalArea, e.BusinessArea,
		string(e.Severity), e.Priority, pqStringArray(e.Tags), string(e.Status), e.AssignedTo, e.Reporter, timeOrNil(e.SLADeadline),
		e.UsageCount, e.SuccessCount, e.ConfidenceScore, timeOrNil(e.LastUsed), nil,
		e.Version, e.Archived, e.CreatedAt, e.UpdatedAt, timeOrNil(e.ResolvedAt), e.CreatedBy,
	)
}

func timeOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func sampleEntry() domain.Entry {
	now := time.Now().UTC()
	return domain.Entry{
		ID:            uuid.New(),
		Kind:          domain.KindIncident,
		Title:         "database connection pool exhausted",
		Description:   "service reports timeouts acquiring a connection under load",
		TechnicalArea: "database",
		Severity:      domain.SeverityHigh,
		Priority:      2,
		Tags:          []string{"postgres", "timeout"},
		Status:        domain.StatusOpen,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
		CreatedBy:     "oncall-bot",
	}
}

func TestStoreCreate(t *testing.T) {
	store, mock := newMockStore(t)
	e := sampleEntry()

	mock.ExpectExec("INSERT INTO entries").WillReturnResult(sqlmock.NewResult(1, 1))

	created, err := store.Create(context.Background(), e)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created.Version != 1 {
		t.Errorf("Version = %d, want 1", created.Version)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestStoreCreateRejectsInvalidEntry(t *testing.T) {
	store, _ := newMockStore(t)
	e := sampleEntry()
	e.Title = ""

	_, err := store.Create(context.Background(), e)
	if !rerrors.Is(err, rerrors.KindInvalidInput) {
		t.Fatalf("Create() error = %v, want KindInvalidInput", err)
	}
}

func TestStoreGetNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT .* FROM entries WHERE id = \\$1").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(nil))

	_, err := store.Get(context.Background(), id)
	if !rerrors.Is(err, rerrors.KindNotFound) {
		t.Fatalf("Get() error = %v, want KindNotFound", err)
	}
}

func TestStoreGetFound(t *testing.T) {
	store, mock := newMockStore(t)
	e := sampleEntry()

	mock.ExpectQuery("SELECT .* FROM entries WHERE id = \\$1").
		WithArgs(e.ID).
		WillReturnRows(mockRowsFor(e))

	got, err := store.Get(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Title != e.Title || got.ID != e.ID {
		t.Errorf("Get() = %+v, want %+v", got, e)
	}
}

func TestStoreUpdateConflictOnStaleVersion(t *testing.T) {
	store, mock := newMockStore(t)
	e := sampleEntry()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .* FROM entries WHERE id = \\$1 FOR UPDATE").
		WithArgs(e.ID).
		WillReturnRows(mockRowsFor(e))
	mock.ExpectRollback()

	_, err := store.Update(context.Background(), e.ID, e.Version+1, func(cur domain.Entry) (domain.Entry, error) {
		return cur, nil
	})
	if !rerrors.Is(err, rerrors.KindConflict) {
		t.Fatalf("Update() error = %v, want KindConflict", err)
	}
}

func TestStoreRecordUsage(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE entries SET usage_count = usage_count \\+ 1, last_used = now\\(\\), success_count = success_count \\+ 1 WHERE id = \\$1").
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.RecordUsage(context.Background(), id, true); err != nil {
		t.Fatalf("RecordUsage() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestStoreRecordUsageNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE entries SET usage_count").
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.RecordUsage(context.Background(), id, false)
	if !rerrors.Is(err, rerrors.KindNotFound) {
		t.Fatalf("RecordUsage() error = %v, want KindNotFound", err)
	}
}
