// internal/ledger/ledger.go
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	commonerrors "assignment-engine/internal/common/errors"
	"assignment-engine/internal/common/logger"
	"assignment-engine/internal/common/metrics"
	"assignment-engine/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Notifier is the fire-and-forget notification side-channel. Dispatch
// failures must never roll back an assignment.
type Notifier interface {
	Notify(ctx context.Context, eventKind string, payload map[string]interface{})
}

// Indexer mirrors closed and opened ledger entries into the search backend.
// Indexing failures must never roll back an assignment.
type Indexer interface {
	IndexEntry(ctx context.Context, entry *models.AssignmentLogEntry)
}

// Ledger records every assignment, reassignment and release as an immutable
// audit entry. The open entry (unassigned_at IS NULL) defines the current
// assignee; the application's assigned_consultant_id is a read-optimized
// cache of it, kept in sync inside the same transaction.
type Ledger struct {
	db       *sql.DB
	logger   logger.Logger
	notifier Notifier
	indexer  Indexer
}

func New(db *sql.DB, log logger.Logger, notifier Notifier, indexer Indexer) *Ledger {
	return &Ledger{
		db:       db,
		logger:   log.WithFields(map[string]interface{}{"component": "ledger"}),
		notifier: notifier,
		indexer:  indexer,
	}
}

// Assign opens a ledger entry for the application. When an open entry
// already exists the call behaves as a reassignment: the old entry is closed
// in the same transaction and the new entry records the previous consultant.
// On a commit-time race the write is retried once with fresh state, then
// surfaced as a conflict; the first committer wins.
func (l *Ledger) Assign(ctx context.Context, applicationID, consultantID string, assignedBy *string, assignmentType, reason string) (*models.AssignmentLogEntry, error) {
	entry, err := l.assignOnce(ctx, applicationID, consultantID, assignedBy, assignmentType, reason)
	if err != nil && isConcurrencyError(err) {
		l.logger.Warn("assignment race detected, retrying with fresh state", map[string]interface{}{
			"applicationId": applicationID,
			"consultantId":  consultantID,
		})
		metrics.AssignmentConflicts.Inc()
		entry, err = l.assignOnce(ctx, applicationID, consultantID, assignedBy, assignmentType, reason)
		if err != nil {
			if isConcurrencyError(err) {
				return nil, commonerrors.NewConcurrentAssignmentConflictError(applicationID, err)
			}
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	metrics.AssignmentsTotal.WithLabelValues(assignmentType).Inc()
	l.dispatch(entry)
	return entry, nil
}

// Reassign assigns a new consultant to an application that may already have
// one. Identical semantics to Assign with a manual assignment type.
func (l *Ledger) Reassign(ctx context.Context, applicationID, newConsultantID, actorID, reason string) (*models.AssignmentLogEntry, error) {
	return l.Assign(ctx, applicationID, newConsultantID, &actorID, models.AssignmentTypeManual, reason)
}

func (l *Ledger) assignOnce(ctx context.Context, applicationID, consultantID string, assignedBy *string, assignmentType, reason string) (*models.AssignmentLogEntry, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, commonerrors.NewDatabaseConnectionFailedError(err)
	}
	defer tx.Rollback()

	var sectorID string
	var currentConsultant sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT sector_id, assigned_consultant_id
		FROM applications
		WHERE id = $1
		FOR UPDATE`, applicationID).Scan(&sectorID, &currentConsultant)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, commonerrors.NewApplicationNotFoundError(applicationID)
		}
		return nil, fmt.Errorf("lock application: %w", err)
	}

	now := time.Now().UTC()

	// Close any open entry; its consultant becomes the previous consultant
	// of the new entry.
	var previousConsultant *string
	var prev string
	err = tx.QueryRowContext(ctx, `
		UPDATE assignment_log
		SET unassigned_at = $1, unassigned_by = $2, unassignment_reason = $3
		WHERE application_id = $4 AND unassigned_at IS NULL
		RETURNING consultant_id`,
		now, assignedBy, reason, applicationID).Scan(&prev)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("close open entry: %w", err)
	}
	if err == nil {
		previousConsultant = &prev
	}

	entry := &models.AssignmentLogEntry{
		ID:                   uuid.New().String(),
		ApplicationID:        applicationID,
		ConsultantID:         consultantID,
		AssignedBy:           assignedBy,
		AssignmentType:       assignmentType,
		Reason:               reason,
		SectorID:             sectorID,
		PreviousConsultantID: previousConsultant,
		AssignedAt:           now,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO assignment_log (
			id, application_id, consultant_id, assigned_by, assignment_type,
			reason, sector_id, previous_consultant_id, assigned_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.ApplicationID, entry.ConsultantID, entry.AssignedBy,
		entry.AssignmentType, entry.Reason, entry.SectorID,
		entry.PreviousConsultantID, entry.AssignedAt)
	if err != nil {
		return nil, fmt.Errorf("open entry: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE applications
		SET assigned_consultant_id = $1,
		    consultant_assigned_at = $2,
		    consultant_assignment_type = $3,
		    updated_at = $2
		WHERE id = $4`,
		consultantID, now, assignmentType, applicationID)
	if err != nil {
		return nil, fmt.Errorf("update application assignee: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit assignment: %w", err)
	}

	l.logger.Info("assignment recorded", map[string]interface{}{
		"applicationId":      applicationID,
		"consultantId":       consultantID,
		"assignmentType":     assignmentType,
		"previousConsultant": previousConsultant,
	})

	return entry, nil
}

// Release closes the application's open entry without opening a new one.
func (l *Ledger) Release(ctx context.Context, applicationID, actorID, reason string) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return commonerrors.NewDatabaseConnectionFailedError(err)
	}
	defer tx.Rollback()

	var lockedID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM applications WHERE id = $1 FOR UPDATE`, applicationID).Scan(&lockedID)
	if err != nil {
		if err == sql.ErrNoRows {
			return commonerrors.NewApplicationNotFoundError(applicationID)
		}
		return fmt.Errorf("lock application: %w", err)
	}

	now := time.Now().UTC()

	var released string
	err = tx.QueryRowContext(ctx, `
		UPDATE assignment_log
		SET unassigned_at = $1, unassigned_by = $2, unassignment_reason = $3
		WHERE application_id = $4 AND unassigned_at IS NULL
		RETURNING consultant_id`,
		now, actorID, reason, applicationID).Scan(&released)
	if err != nil {
		if err == sql.ErrNoRows {
			return commonerrors.NewNoOpenAssignmentError(applicationID)
		}
		return fmt.Errorf("close open entry: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE applications
		SET assigned_consultant_id = NULL,
		    consultant_assigned_at = NULL,
		    consultant_assignment_type = '',
		    updated_at = $1
		WHERE id = $2`, now, applicationID)
	if err != nil {
		return fmt.Errorf("clear application assignee: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit release: %w", err)
	}

	l.logger.Info("assignment released", map[string]interface{}{
		"applicationId": applicationID,
		"consultantId":  released,
		"actorId":       actorID,
	})

	if l.notifier != nil {
		l.notifier.Notify(context.WithoutCancel(ctx), "consultant_released", map[string]interface{}{
			"applicationId": applicationID,
			"consultantId":  released,
			"actorId":       actorID,
			"reason":        reason,
		})
	}

	return nil
}

// CurrentAssignee returns the consultant holding the open entry, or nil when
// the application is unassigned.
func (l *Ledger) CurrentAssignee(ctx context.Context, applicationID string) (*string, error) {
	var consultantID string
	err := l.db.QueryRowContext(ctx, `
		SELECT consultant_id
		FROM assignment_log
		WHERE application_id = $1 AND unassigned_at IS NULL`, applicationID).Scan(&consultantID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("current assignee: %w", err)
	}
	return &consultantID, nil
}

// History returns the full assignment history for an application, newest
// first.
func (l *Ledger) History(ctx context.Context, applicationID string) ([]models.AssignmentLogEntry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, application_id, consultant_id, assigned_by, assignment_type,
		       reason, sector_id, previous_consultant_id, assigned_at,
		       unassigned_at, unassigned_by, unassignment_reason
		FROM assignment_log
		WHERE application_id = $1
		ORDER BY assigned_at DESC, id`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("assignment history: %w", err)
	}
	defer rows.Close()

	var entries []models.AssignmentLogEntry
	for rows.Next() {
		var e models.AssignmentLogEntry
		if err := rows.Scan(&e.ID, &e.ApplicationID, &e.ConsultantID, &e.AssignedBy,
			&e.AssignmentType, &e.Reason, &e.SectorID, &e.PreviousConsultantID,
			&e.AssignedAt, &e.UnassignedAt, &e.UnassignedBy, &e.UnassignmentReason); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("assignment history: %w", err)
	}
	return entries, nil
}

// dispatch fans an opened entry out to the notification and search
// side-channels. Both are best-effort.
func (l *Ledger) dispatch(entry *models.AssignmentLogEntry) {
	ctx := context.Background()

	if l.notifier != nil {
		eventKind := "consultant_assigned"
		if entry.PreviousConsultantID != nil {
			eventKind = "consultant_reassigned"
		}
		payload := map[string]interface{}{
			"applicationId":  entry.ApplicationID,
			"consultantId":   entry.ConsultantID,
			"assignmentType": entry.AssignmentType,
			"sectorId":       entry.SectorID,
		}
		if entry.PreviousConsultantID != nil {
			payload["previousConsultantId"] = *entry.PreviousConsultantID
		}
		l.notifier.Notify(ctx, eventKind, payload)
	}

	if l.indexer != nil {
		l.indexer.IndexEntry(ctx, entry)
	}
}

// isConcurrencyError recognizes commit-time races: the partial unique index
// on open entries (23505), serialization failures (40001) and deadlocks
// (40P01).
func isConcurrencyError(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code {
	case "23505", "40001", "40P01":
		return true
	}
	return false
}
