// internal/room/manager.go
package room

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	commonerrors "assignment-engine/internal/common/errors"
	"assignment-engine/internal/common/logger"
	"assignment-engine/internal/common/metrics"
	"assignment-engine/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Defaults applied to newly created rooms.
type Defaults struct {
	AllowedFileExtensions []string
	MaxFileSizeMB         int
	AutoArchiveAfterDays  int
}

// Manager owns the one-to-one collaboration room per application: status,
// priority, settings and rolling activity counters. Rooms are created only
// on the application status-changed path and archived, never deleted.
type Manager struct {
	db       *sql.DB
	defaults Defaults
	logger   logger.Logger
}

func NewManager(db *sql.DB, defaults Defaults, log logger.Logger) *Manager {
	return &Manager{
		db:       db,
		defaults: defaults,
		logger:   log.WithFields(map[string]interface{}{"component": "room"}),
	}
}

// mapApplicationStatus returns the room status an application status maps
// to, and whether the mapping changes the room at all.
func mapApplicationStatus(status models.ApplicationStatus) (models.RoomStatus, bool) {
	switch status {
	case models.StatusUnderReview:
		return models.RoomUnderReview, true
	case models.StatusApproved, models.StatusRejected, models.StatusCancelled:
		return models.RoomCompleted, true
	}
	return "", false
}

// OnApplicationStatusChanged keeps the room in sync with its application.
// The submitted/pending statuses are the only creation path; every other
// operation on a missing room is an error. The mapping is idempotent:
// re-delivering the same status change leaves the room unchanged.
func (m *Manager) OnApplicationStatusChanged(ctx context.Context, applicationID string, appStatus models.ApplicationStatus, actorID string) error {
	now := time.Now().UTC()

	if appStatus == models.StatusSubmitted || appStatus == models.StatusPending {
		created, err := m.createIfAbsent(ctx, applicationID, now)
		if err != nil {
			return err
		}
		if created {
			return nil
		}
		// Room already exists; the re-delivered status still counts as
		// activity.
		return m.touchActivity(ctx, applicationID, now)
	}

	newStatus, changed := mapApplicationStatus(appStatus)
	if !changed {
		// Room status unchanged, still counts as activity.
		return m.touchActivity(ctx, applicationID, now)
	}

	res, err := m.db.ExecContext(ctx, `
		UPDATE application_rooms
		SET status = $1, last_activity_at = $2, updated_at = $2
		WHERE application_id = $3 AND archived_at IS NULL`,
		newStatus, now, applicationID)
	if err != nil {
		return fmt.Errorf("update room status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return commonerrors.NewRoomNotFoundError(applicationID)
	}

	m.logger.Info("room status updated", map[string]interface{}{
		"applicationId": applicationID,
		"roomStatus":    newStatus,
		"appStatus":     appStatus,
		"actorId":       actorID,
	})
	return nil
}

func (m *Manager) createIfAbsent(ctx context.Context, applicationID string, now time.Time) (bool, error) {
	res, err := m.db.ExecContext(ctx, `
		INSERT INTO application_rooms (
			id, application_id, status, priority, last_activity_at,
			allowed_file_extensions, max_file_size_mb, auto_archive_after_days,
			message_count, document_count, created_at, updated_at
		)
		SELECT $1, $2, $3, a.priority, $4, $5, $6, $7, 0, 0, $4, $4
		FROM applications a WHERE a.id = $2
		ON CONFLICT (application_id) DO NOTHING`,
		uuid.New().String(), applicationID, models.RoomActive, now,
		pq.Array(m.defaults.AllowedFileExtensions), m.defaults.MaxFileSizeMB,
		m.defaults.AutoArchiveAfterDays)
	if err != nil {
		return false, fmt.Errorf("create room: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (m *Manager) touchActivity(ctx context.Context, applicationID string, now time.Time) error {
	res, err := m.db.ExecContext(ctx, `
		UPDATE application_rooms
		SET last_activity_at = $1, updated_at = $1
		WHERE application_id = $2 AND archived_at IS NULL`, now, applicationID)
	if err != nil {
		return fmt.Errorf("touch room activity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return commonerrors.NewRoomNotFoundError(applicationID)
	}
	return nil
}

// UpdateStats applies a message or document event to the room's counters.
// The response-time estimate is the delta between the acting side's event
// and the other side's most recent activity, once both sides have acted.
// Activity on a waiting_documents room clears the wait: the room returns to
// the status mapped from the current application status.
func (m *Manager) UpdateStats(ctx context.Context, applicationID string, eventKind models.RoomEventKind, meta models.RoomActivityMeta) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return commonerrors.NewDatabaseConnectionFailedError(err)
	}
	defer tx.Rollback()

	var roomID string
	var roomStatus models.RoomStatus
	var lastConsultant, lastUser sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT id, status, last_consultant_activity, last_user_activity
		FROM application_rooms
		WHERE application_id = $1 AND archived_at IS NULL
		FOR UPDATE`, applicationID).Scan(&roomID, &roomStatus, &lastConsultant, &lastUser)
	if err != nil {
		if err == sql.ErrNoRows {
			return commonerrors.NewRoomNotFoundError(applicationID)
		}
		return fmt.Errorf("lock room: %w", err)
	}

	now := time.Now().UTC()

	counterColumn := "message_count"
	if eventKind == models.RoomEventDocument {
		counterColumn = "document_count"
	}

	activityColumn := "last_user_activity"
	var other sql.NullTime = lastConsultant
	if meta.IsConsultant {
		activityColumn = "last_consultant_activity"
		other = lastUser
	}

	var responseTime *int
	if other.Valid {
		minutes := int(now.Sub(other.Time).Minutes())
		responseTime = &minutes
	}

	statusClause := ""
	args := []interface{}{now, responseTime, roomID}
	if roomStatus == models.RoomWaitingDocuments {
		restored, err := m.statusAfterWait(ctx, tx, applicationID)
		if err != nil {
			return err
		}
		statusClause = `,
		    status = $4`
		args = append(args, restored)
	}

	query := fmt.Sprintf(`
		UPDATE application_rooms
		SET %s = %s + 1,
		    %s = $1,
		    last_activity_at = $1,
		    updated_at = $1,
		    response_time_minutes = COALESCE($2, response_time_minutes)%s
		WHERE id = $3`, counterColumn, counterColumn, activityColumn, statusClause)

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update room stats: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit room stats: %w", err)
	}

	metrics.RoomEvents.WithLabelValues(string(eventKind)).Inc()
	return nil
}

// statusAfterWait resolves the status a waiting_documents room returns to
// once activity arrives: the room status mapped from the application's
// current status, or active when no mapping applies.
func (m *Manager) statusAfterWait(ctx context.Context, tx *sql.Tx, applicationID string) (models.RoomStatus, error) {
	var appStatus models.ApplicationStatus
	err := tx.QueryRowContext(ctx, `
		SELECT status FROM applications WHERE id = $1`, applicationID).Scan(&appStatus)
	if err != nil {
		return "", fmt.Errorf("resolve application status: %w", err)
	}
	if mapped, ok := mapApplicationStatus(appStatus); ok {
		return mapped, nil
	}
	return models.RoomActive, nil
}

// SetPriority writes a new priority unconditionally. Priority is advisory,
// so no transition restriction applies; the reason is kept for the audit
// trail.
func (m *Manager) SetPriority(ctx context.Context, applicationID, newPriority, reason string) error {
	now := time.Now().UTC()
	res, err := m.db.ExecContext(ctx, `
		UPDATE application_rooms
		SET priority = $1, updated_at = $2
		WHERE application_id = $3 AND archived_at IS NULL`,
		newPriority, now, applicationID)
	if err != nil {
		return fmt.Errorf("set room priority: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return commonerrors.NewRoomNotFoundError(applicationID)
	}

	m.logger.Info("room priority changed", map[string]interface{}{
		"applicationId": applicationID,
		"priority":      newPriority,
		"reason":        reason,
	})
	return nil
}

// AddConsultantNote appends a note to the room's note log. Notes never
// change room status.
func (m *Manager) AddConsultantNote(ctx context.Context, applicationID, note, actorID string) (*models.RoomNote, error) {
	var roomID string
	err := m.db.QueryRowContext(ctx, `
		SELECT id FROM application_rooms WHERE application_id = $1`, applicationID).Scan(&roomID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, commonerrors.NewRoomNotFoundError(applicationID)
		}
		return nil, fmt.Errorf("resolve room: %w", err)
	}

	n := &models.RoomNote{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		AuthorID:  actorID,
		Note:      note,
		CreatedAt: time.Now().UTC(),
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO room_notes (id, room_id, author_id, note, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		n.ID, n.RoomID, n.AuthorID, n.Note, n.CreatedAt)
	if err != nil {
		return nil, commonerrors.NewDatabaseInsertFailedError(err)
	}

	return n, nil
}

// RequestDocuments moves an active or under-review room to
// waiting_documents. The next status-changed cascade or room activity
// returns it to the mapped status.
func (m *Manager) RequestDocuments(ctx context.Context, applicationID, actorID string) error {
	now := time.Now().UTC()
	res, err := m.db.ExecContext(ctx, `
		UPDATE application_rooms
		SET status = $1, last_activity_at = $2, updated_at = $2
		WHERE application_id = $3
		  AND status IN ($4, $5)
		  AND archived_at IS NULL`,
		models.RoomWaitingDocuments, now, applicationID,
		models.RoomActive, models.RoomUnderReview)
	if err != nil {
		return fmt.Errorf("request documents: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return commonerrors.NewRoomNotFoundError(applicationID)
	}

	m.logger.Info("documents requested", map[string]interface{}{
		"applicationId": applicationID,
		"actorId":       actorID,
	})
	return nil
}

// Archive marks a room archived. Manual counterpart of the stale sweep.
func (m *Manager) Archive(ctx context.Context, applicationID, actorID string) error {
	now := time.Now().UTC()
	res, err := m.db.ExecContext(ctx, `
		UPDATE application_rooms
		SET status = $1, archived_at = $2, updated_at = $2
		WHERE application_id = $3 AND archived_at IS NULL`,
		models.RoomArchived, now, applicationID)
	if err != nil {
		return fmt.Errorf("archive room: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return commonerrors.NewRoomNotFoundError(applicationID)
	}

	metrics.RoomsArchived.Inc()
	m.logger.Info("room archived", map[string]interface{}{
		"applicationId": applicationID,
		"actorId":       actorID,
	})
	return nil
}

// ArchiveStale archives completed rooms whose last activity predates their
// auto-archive horizon. Returns the number of rooms archived.
func (m *Manager) ArchiveStale(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	res, err := m.db.ExecContext(ctx, `
		UPDATE application_rooms
		SET status = $1, archived_at = $2, updated_at = $2
		WHERE status = $3
		  AND archived_at IS NULL
		  AND last_activity_at < $2::timestamptz - (auto_archive_after_days || ' days')::interval`,
		models.RoomArchived, now, models.RoomCompleted)
	if err != nil {
		return 0, fmt.Errorf("archive stale rooms: %w", err)
	}

	n, _ := res.RowsAffected()
	if n > 0 {
		metrics.RoomsArchived.Add(float64(n))
		m.logger.Info("stale rooms archived", map[string]interface{}{
			"count": n,
		})
	}
	return int(n), nil
}

// Get returns the room for an application.
func (m *Manager) Get(ctx context.Context, applicationID string) (*models.ApplicationRoom, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT id, application_id, status, priority, last_activity_at,
		       allowed_file_extensions, max_file_size_mb, auto_archive_after_days,
		       message_count, document_count, last_consultant_activity,
		       last_user_activity, response_time_minutes,
		       created_at, updated_at, archived_at
		FROM application_rooms
		WHERE application_id = $1`, applicationID)

	var r models.ApplicationRoom
	var lastConsultant, lastUser, archivedAt sql.NullTime
	var responseTime sql.NullInt64
	err := row.Scan(&r.ID, &r.ApplicationID, &r.Status, &r.Priority, &r.LastActivityAt,
		pq.Array(&r.Settings.AllowedFileExtensions), &r.Settings.MaxFileSizeMB,
		&r.Settings.AutoArchiveAfterDays, &r.Stats.MessageCount, &r.Stats.DocumentCount,
		&lastConsultant, &lastUser, &responseTime, &r.CreatedAt, &r.UpdatedAt, &archivedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, commonerrors.NewRoomNotFoundError(applicationID)
		}
		return nil, fmt.Errorf("get room: %w", err)
	}

	if lastConsultant.Valid {
		r.Stats.LastConsultantActivity = &lastConsultant.Time
	}
	if lastUser.Valid {
		r.Stats.LastUserActivity = &lastUser.Time
	}
	if responseTime.Valid {
		minutes := int(responseTime.Int64)
		r.Stats.ResponseTimeMinutes = &minutes
	}
	if archivedAt.Valid {
		r.ArchivedAt = &archivedAt.Time
	}

	return &r, nil
}
