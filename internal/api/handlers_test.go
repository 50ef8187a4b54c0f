// internal/api/handlers_test.go
package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	commonerrors "assignment-engine/internal/common/errors"
	"assignment-engine/internal/common/logger"
	"assignment-engine/internal/directory"
	"assignment-engine/internal/engine"
	"assignment-engine/internal/ledger"
	"assignment-engine/internal/matcher"
	"assignment-engine/internal/room"
	"assignment-engine/internal/statemachine"

	"github.com/DATA-DOG/go-sqlmock"
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

func newTestRouter(t *testing.T, db *sqlmockDB, healthCheck func() error) http.Handler {
	log := newTestLogger(t)
	dir := directory.NewSQLReader(db.db, nil, 0, log)
	m := matcher.New(dir, 10, log)
	l := ledger.New(db.db, log, nil, nil)
	rooms := room.NewManager(db.db, room.Defaults{}, log)
	sm := statemachine.New(db.db, rooms, nil, log)
	eng := engine.New(db.db, dir, m, l, sm, rooms, nil, log)
	return NewRouter(eng, healthCheck, log)
}

type sqlmockDB struct {
	db   *sql.DB
	mock sqlmock.Sqlmock
}

func newSqlmockDB(t *testing.T) *sqlmockDB {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &sqlmockDB{db: db, mock: mock}
}

func TestHealthz(t *testing.T) {
	db := newSqlmockDB(t)
	router := newTestRouter(t, db, func() error { return nil })

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestHealthz_Unhealthy(t *testing.T) {
	db := newSqlmockDB(t)
	router := newTestRouter(t, db, func() error { return errors.New("db down") })

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCurrentAssignee_Endpoint(t *testing.T) {
	db := newSqlmockDB(t)
	db.mock.ExpectQuery(`SELECT consultant_id`).
		WithArgs("app-1").
		WillReturnRows(sqlmock.NewRows([]string{"consultant_id"}).AddRow("c-1"))

	router := newTestRouter(t, db, nil)

	req := httptest.NewRequest(http.MethodGet, "/applications/app-1/assignee", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "c-1", body["consultantId"])

	assert.NoError(t, db.mock.ExpectationsWereMet())
}

func TestCreateApplication_MissingOwner(t *testing.T) {
	db := newSqlmockDB(t)
	router := newTestRouter(t, db, nil)

	req := httptest.NewRequest(http.MethodPost, "/applications",
		strings.NewReader(`{"sectorId": "sector-1"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "ownerId is required")
}

func TestWriteEngineError_Mapping(t *testing.T) {
	h := &handlers{logger: newTestLogger(t)}

	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"invalid transition", commonerrors.NewInvalidTransitionError("pending", "approved"), http.StatusBadRequest},
		{"validation failed", commonerrors.NewApplicationValidationFailedError("bad data"), http.StatusUnprocessableEntity},
		{"application not found", commonerrors.NewApplicationNotFoundError("app-1"), http.StatusNotFound},
		{"room not found", commonerrors.NewRoomNotFoundError("app-1"), http.StatusNotFound},
		{"assignment conflict", commonerrors.NewConcurrentAssignmentConflictError("app-1", errors.New("23505")), http.StatusConflict},
		{"no open assignment", commonerrors.NewNoOpenAssignmentError("app-1"), http.StatusBadRequest},
		{"plain error", errors.New("boom"), http.StatusInternalServerError},
		{"infrastructure error", commonerrors.NewDatabaseConnectionFailedError(errors.New("down")), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.writeEngineError(rec, tt.err)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}
