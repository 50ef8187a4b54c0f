// internal/ledger/ledger_test.go
package ledger

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	commonerrors "assignment-engine/internal/common/errors"
	"assignment-engine/internal/common/logger"
	"assignment-engine/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

type testLogger struct {
	t *testing.T
}

func (tl *testLogger) Debug(msg string, fields map[string]interface{}) {
	tl.t.Logf("DEBUG: %s %v", msg, fields)
}

func (tl *testLogger) Info(msg string, fields map[string]interface{}) {
	tl.t.Logf("INFO: %s %v", msg, fields)
}

func (tl *testLogger) Warn(msg string, fields map[string]interface{}) {
	tl.t.Logf("WARN: %s %v", msg, fields)
}

func (tl *testLogger) Error(msg string, fields map[string]interface{}) {
	tl.t.Logf("ERROR: %s %v", msg, fields)
}

func (tl *testLogger) WithFields(fields map[string]interface{}) logger.Logger {
	return tl
}

func (tl *testLogger) WithError(err error) logger.Logger {
	return tl
}

func newTestLogger(t *testing.T) logger.Logger {
	return &testLogger{t: t}
}

// fakeNotifier records dispatched events.
type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeNotifier) Notify(ctx context.Context, eventKind string, payload map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventKind)
}

// fakeIndexer records indexed entries.
type fakeIndexer struct {
	mu      sync.Mutex
	entries []*models.AssignmentLogEntry
}

func (f *fakeIndexer) IndexEntry(ctx context.Context, entry *models.AssignmentLogEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
}

func expectLockApplication(mock sqlmock.Sqlmock, applicationID, sectorID string, current interface{}) {
	mock.ExpectQuery(`SELECT sector_id, assigned_consultant_id`).
		WithArgs(applicationID).
		WillReturnRows(sqlmock.NewRows([]string{"sector_id", "assigned_consultant_id"}).
			AddRow(sectorID, current))
}

func TestAssign_FreshApplication(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	expectLockApplication(mock, "app-1", "sector-1", nil)

	// No open entry to close.
	mock.ExpectQuery(`UPDATE assignment_log`).
		WithArgs(sqlmock.AnyArg(), nil, "initial assignment", "app-1").
		WillReturnError(sql.ErrNoRows)

	mock.ExpectExec(`INSERT INTO assignment_log`).
		WithArgs(
			sqlmock.AnyArg(), // entry ID (UUID)
			"app-1",
			"c-1",
			nil,
			models.AssignmentTypeAutomatic,
			"initial assignment",
			"sector-1",
			nil,
			sqlmock.AnyArg(), // assigned_at
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	mock.ExpectExec(`UPDATE applications`).
		WithArgs("c-1", sqlmock.AnyArg(), models.AssignmentTypeAutomatic, "app-1").
		WillReturnResult(sqlmock.NewResult(1, 1))

	mock.ExpectCommit()

	notifier := &fakeNotifier{}
	indexer := &fakeIndexer{}
	l := New(db, newTestLogger(t), notifier, indexer)

	entry, err := l.Assign(context.Background(), "app-1", "c-1", nil, models.AssignmentTypeAutomatic, "initial assignment")

	assert.NoError(t, err)
	assert.NotNil(t, entry)
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, "app-1", entry.ApplicationID)
	assert.Equal(t, "c-1", entry.ConsultantID)
	assert.Nil(t, entry.PreviousConsultantID)
	assert.Nil(t, entry.AssignedBy)
	assert.Equal(t, []string{"consultant_assigned"}, notifier.events)
	assert.Len(t, indexer.entries, 1)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssign_ClosesOpenEntry(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	actor := "admin-1"

	mock.ExpectBegin()
	expectLockApplication(mock, "app-1", "sector-1", "c-old")

	mock.ExpectQuery(`UPDATE assignment_log`).
		WithArgs(sqlmock.AnyArg(), "admin-1", "workload balancing", "app-1").
		WillReturnRows(sqlmock.NewRows([]string{"consultant_id"}).AddRow("c-old"))

	mock.ExpectExec(`INSERT INTO assignment_log`).
		WithArgs(
			sqlmock.AnyArg(),
			"app-1",
			"c-new",
			"admin-1",
			models.AssignmentTypeManual,
			"workload balancing",
			"sector-1",
			sqlmock.AnyArg(), // previous consultant pointer
			sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	mock.ExpectExec(`UPDATE applications`).
		WithArgs("c-new", sqlmock.AnyArg(), models.AssignmentTypeManual, "app-1").
		WillReturnResult(sqlmock.NewResult(1, 1))

	mock.ExpectCommit()

	notifier := &fakeNotifier{}
	l := New(db, newTestLogger(t), notifier, nil)

	entry, err := l.Reassign(context.Background(), "app-1", "c-new", actor, "workload balancing")

	assert.NoError(t, err)
	assert.NotNil(t, entry)
	assert.Equal(t, "c-new", entry.ConsultantID)
	assert.NotNil(t, entry.PreviousConsultantID)
	assert.Equal(t, "c-old", *entry.PreviousConsultantID)
	assert.Equal(t, []string{"consultant_reassigned"}, notifier.events)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssign_ApplicationNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT sector_id, assigned_consultant_id`).
		WithArgs("app-missing").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	l := New(db, newTestLogger(t), nil, nil)

	entry, err := l.Assign(context.Background(), "app-missing", "c-1", nil, models.AssignmentTypeAutomatic, "")

	assert.Error(t, err)
	assert.Nil(t, entry)
	code, ok := commonerrors.CodeOf(err)
	assert.True(t, ok)
	assert.Equal(t, commonerrors.ErrCodeApplicationNotFound, code)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssign_ConflictRetriesThenSurfaces(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	duplicate := &pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"}

	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		expectLockApplication(mock, "app-1", "sector-1", nil)
		mock.ExpectQuery(`UPDATE assignment_log`).
			WithArgs(sqlmock.AnyArg(), nil, "", "app-1").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectExec(`INSERT INTO assignment_log`).
			WillReturnError(duplicate)
		mock.ExpectRollback()
	}

	l := New(db, newTestLogger(t), nil, nil)

	entry, err := l.Assign(context.Background(), "app-1", "c-1", nil, models.AssignmentTypeAutomatic, "")

	assert.Error(t, err)
	assert.Nil(t, entry)
	code, ok := commonerrors.CodeOf(err)
	assert.True(t, ok)
	assert.Equal(t, commonerrors.ErrCodeConcurrentAssignmentConflict, code)
	assert.True(t, commonerrors.IsRetryable(err))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssign_ConflictRetrySucceeds(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	deadlock := &pq.Error{Code: "40P01", Message: "deadlock detected"}

	// First attempt loses the race.
	mock.ExpectBegin()
	expectLockApplication(mock, "app-1", "sector-1", nil)
	mock.ExpectQuery(`UPDATE assignment_log`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO assignment_log`).
		WillReturnError(deadlock)
	mock.ExpectRollback()

	// Retry sees the winner's entry and closes it.
	mock.ExpectBegin()
	expectLockApplication(mock, "app-1", "sector-1", "c-winner")
	mock.ExpectQuery(`UPDATE assignment_log`).
		WillReturnRows(sqlmock.NewRows([]string{"consultant_id"}).AddRow("c-winner"))
	mock.ExpectExec(`INSERT INTO assignment_log`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`UPDATE applications`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	l := New(db, newTestLogger(t), nil, nil)

	entry, err := l.Assign(context.Background(), "app-1", "c-1", nil, models.AssignmentTypeAutomatic, "")

	assert.NoError(t, err)
	assert.NotNil(t, entry)
	assert.Equal(t, "c-1", entry.ConsultantID)
	assert.NotNil(t, entry.PreviousConsultantID)
	assert.Equal(t, "c-winner", *entry.PreviousConsultantID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRelease_ClosesOpenEntry(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM applications`).
		WithArgs("app-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("app-1"))

	mock.ExpectQuery(`UPDATE assignment_log`).
		WithArgs(sqlmock.AnyArg(), "admin-1", "consultant unavailable", "app-1").
		WillReturnRows(sqlmock.NewRows([]string{"consultant_id"}).AddRow("c-1"))

	mock.ExpectExec(`UPDATE applications`).
		WithArgs(sqlmock.AnyArg(), "app-1").
		WillReturnResult(sqlmock.NewResult(1, 1))

	mock.ExpectCommit()

	notifier := &fakeNotifier{}
	l := New(db, newTestLogger(t), notifier, nil)

	err = l.Release(context.Background(), "app-1", "admin-1", "consultant unavailable")

	assert.NoError(t, err)
	assert.Equal(t, []string{"consultant_released"}, notifier.events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRelease_NoOpenAssignment(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM applications`).
		WithArgs("app-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("app-1"))
	mock.ExpectQuery(`UPDATE assignment_log`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	l := New(db, newTestLogger(t), nil, nil)

	err = l.Release(context.Background(), "app-1", "admin-1", "cleanup")

	assert.Error(t, err)
	code, ok := commonerrors.CodeOf(err)
	assert.True(t, ok)
	assert.Equal(t, commonerrors.ErrCodeNoOpenAssignment, code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCurrentAssignee(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT consultant_id`).
		WithArgs("app-1").
		WillReturnRows(sqlmock.NewRows([]string{"consultant_id"}).AddRow("c-1"))

	l := New(db, newTestLogger(t), nil, nil)

	assignee, err := l.CurrentAssignee(context.Background(), "app-1")

	assert.NoError(t, err)
	assert.NotNil(t, assignee)
	assert.Equal(t, "c-1", *assignee)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCurrentAssignee_Unassigned(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT consultant_id`).
		WithArgs("app-1").
		WillReturnError(sql.ErrNoRows)

	l := New(db, newTestLogger(t), nil, nil)

	assignee, err := l.CurrentAssignee(context.Background(), "app-1")

	assert.NoError(t, err)
	assert.Nil(t, assignee)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistory_NewestFirst(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	cols := []string{
		"id", "application_id", "consultant_id", "assigned_by", "assignment_type",
		"reason", "sector_id", "previous_consultant_id", "assigned_at",
		"unassigned_at", "unassigned_by", "unassignment_reason",
	}
	first := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	second := first.Add(2 * time.Hour)
	rows := sqlmock.NewRows(cols).
		AddRow("entry-2", "app-1", "c-2", "admin-1", models.AssignmentTypeManual,
			"reassigned", "sector-1", "c-1", second, nil, nil, nil).
		AddRow("entry-1", "app-1", "c-1", nil, models.AssignmentTypeAutomatic,
			"initial", "sector-1", nil, first, second, "admin-1", "reassigned")

	mock.ExpectQuery(`SELECT id, application_id, consultant_id`).
		WithArgs("app-1").
		WillReturnRows(rows)

	l := New(db, newTestLogger(t), nil, nil)

	entries, err := l.History(context.Background(), "app-1")

	assert.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, "entry-2", entries[0].ID)
	assert.Equal(t, "entry-1", entries[1].ID)
	assert.True(t, entries[0].IsOpen())
	assert.False(t, entries[1].IsOpen())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsConcurrencyError(t *testing.T) {
	assert.False(t, isConcurrencyError(nil))
	assert.False(t, isConcurrencyError(sql.ErrNoRows))
	assert.True(t, isConcurrencyError(&pq.Error{Code: "23505"}))
	assert.True(t, isConcurrencyError(&pq.Error{Code: "40001"}))
	assert.True(t, isConcurrencyError(&pq.Error{Code: "40P01"}))
	assert.False(t, isConcurrencyError(&pq.Error{Code: "23503"}))
}
