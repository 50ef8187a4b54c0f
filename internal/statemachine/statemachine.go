// internal/statemachine/statemachine.go
package statemachine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	commonerrors "assignment-engine/internal/common/errors"
	"assignment-engine/internal/common/logger"
	"assignment-engine/internal/common/metrics"
	"assignment-engine/internal/models"
)

// RoomCascade receives the synchronous status-changed cascade. The room
// mapping is idempotent, so re-delivery after a partial failure is safe.
type RoomCascade interface {
	OnApplicationStatusChanged(ctx context.Context, applicationID string, appStatus models.ApplicationStatus, actorID string) error
}

// Notifier is the fire-and-forget notification side-channel.
type Notifier interface {
	Notify(ctx context.Context, eventKind string, payload map[string]interface{})
}

// transitions is the allowed transition table. Terminal statuses have no
// outgoing edges; any open status may additionally move to cancelled.
var transitions = map[models.ApplicationStatus][]models.ApplicationStatus{
	models.StatusDraft:          {models.StatusSubmitted},
	models.StatusSubmitted:      {models.StatusPending},
	models.StatusPending:        {models.StatusUnderReview, models.StatusAdditionalInfo},
	models.StatusUnderReview:    {models.StatusApproved, models.StatusRejected, models.StatusAdditionalInfo},
	models.StatusAdditionalInfo: {models.StatusUnderReview},
}

// CanTransition reports whether from -> to is a permitted edge.
func CanTransition(from, to models.ApplicationStatus) bool {
	if to == models.StatusCancelled && !from.IsTerminal() {
		return true
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// StateMachine validates and applies status transitions on applications,
// stamping lifecycle timestamps and routing the room cascade.
type StateMachine struct {
	db       *sql.DB
	rooms    RoomCascade
	notifier Notifier
	logger   logger.Logger
}

func New(db *sql.DB, rooms RoomCascade, notifier Notifier, log logger.Logger) *StateMachine {
	return &StateMachine{
		db:       db,
		rooms:    rooms,
		notifier: notifier,
		logger:   log.WithFields(map[string]interface{}{"component": "statemachine"}),
	}
}

// Transition moves an application to toStatus. Invalid transitions are
// rejected with no side effects. A request equal to the current status is an
// idempotent no-op success. Transitions on the same application serialize on
// the row lock; different applications are independent.
func (sm *StateMachine) Transition(ctx context.Context, applicationID string, toStatus models.ApplicationStatus, actorID string) (*models.Application, error) {
	tx, err := sm.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, commonerrors.NewDatabaseConnectionFailedError(err)
	}
	defer tx.Rollback()

	var current models.ApplicationStatus
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM applications WHERE id = $1 FOR UPDATE`, applicationID).Scan(&current)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, commonerrors.NewApplicationNotFoundError(applicationID)
		}
		return nil, fmt.Errorf("lock application: %w", err)
	}

	if current == toStatus {
		// Idempotent no-op: nothing stamped, no cascade.
		return sm.load(ctx, applicationID)
	}

	if !CanTransition(current, toStatus) {
		metrics.TransitionsRejected.Inc()
		return nil, commonerrors.NewInvalidTransitionError(string(current), string(toStatus))
	}

	now := time.Now().UTC()
	query := `UPDATE applications SET status = $1, updated_at = $2`
	args := []interface{}{toStatus, now}

	switch toStatus {
	case models.StatusSubmitted:
		query += fmt.Sprintf(", submitted_at = $%d", len(args)+1)
		args = append(args, now)
	case models.StatusUnderReview:
		query += fmt.Sprintf(", reviewed_at = $%d, reviewed_by = $%d", len(args)+1, len(args)+2)
		args = append(args, now, actorID)
	case models.StatusApproved:
		query += fmt.Sprintf(", approved_at = $%d, approved_by = $%d", len(args)+1, len(args)+2)
		args = append(args, now, actorID)
	case models.StatusRejected:
		query += fmt.Sprintf(", rejected_at = $%d", len(args)+1)
		args = append(args, now)
	}

	query += fmt.Sprintf(" WHERE id = $%d", len(args)+1)
	args = append(args, applicationID)

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("apply transition: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}

	metrics.TransitionsTotal.WithLabelValues(string(toStatus)).Inc()
	sm.logger.Info("application transitioned", map[string]interface{}{
		"applicationId": applicationID,
		"from":          current,
		"to":            toStatus,
		"actorId":       actorID,
	})

	if err := sm.rooms.OnApplicationStatusChanged(ctx, applicationID, toStatus, actorID); err != nil {
		// Transition is committed; the idempotent mapping lets the caller
		// re-drive the cascade safely.
		sm.logger.Error("room cascade failed", map[string]interface{}{
			"applicationId": applicationID,
			"to":            toStatus,
			"error":         err,
		})
		return nil, err
	}

	if sm.notifier != nil {
		sm.notifier.Notify(ctx, "application_status_changed", map[string]interface{}{
			"applicationId": applicationID,
			"from":          string(current),
			"to":            string(toStatus),
			"actorId":       actorID,
		})
	}

	return sm.load(ctx, applicationID)
}

func (sm *StateMachine) load(ctx context.Context, applicationID string) (*models.Application, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT id, owner_id, sector_id, status, priority,
		       assigned_consultant_id, consultant_assigned_at, consultant_assignment_type,
		       consultant_notes, consultant_rating,
		       submitted_at, reviewed_at, reviewed_by, approved_at, approved_by, rejected_at,
		       created_at, updated_at
		FROM applications WHERE id = $1`, applicationID)

	var app models.Application
	var assignedConsultant, reviewedBy, approvedBy sql.NullString
	var assignedAt, submittedAt, reviewedAt, approvedAt, rejectedAt sql.NullTime
	var assignmentType, notes sql.NullString
	var rating sql.NullInt64

	err := row.Scan(&app.ID, &app.OwnerID, &app.SectorID, &app.Status, &app.Priority,
		&assignedConsultant, &assignedAt, &assignmentType, &notes, &rating,
		&submittedAt, &reviewedAt, &reviewedBy, &approvedAt, &approvedBy, &rejectedAt,
		&app.CreatedAt, &app.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, commonerrors.NewApplicationNotFoundError(applicationID)
		}
		return nil, fmt.Errorf("load application: %w", err)
	}

	if assignedConsultant.Valid {
		app.AssignedConsultantID = &assignedConsultant.String
	}
	if assignedAt.Valid {
		app.ConsultantAssignedAt = &assignedAt.Time
	}
	app.ConsultantAssignmentType = assignmentType.String
	app.ConsultantNotes = notes.String
	if rating.Valid {
		v := int(rating.Int64)
		app.ConsultantRating = &v
	}
	if submittedAt.Valid {
		app.SubmittedAt = &submittedAt.Time
	}
	if reviewedAt.Valid {
		app.ReviewedAt = &reviewedAt.Time
	}
	if reviewedBy.Valid {
		app.ReviewedBy = &reviewedBy.String
	}
	if approvedAt.Valid {
		app.ApprovedAt = &approvedAt.Time
	}
	if approvedBy.Valid {
		app.ApprovedBy = &approvedBy.String
	}
	if rejectedAt.Valid {
		app.RejectedAt = &rejectedAt.Time
	}

	return &app, nil
}

// Load exposes application lookup for the engine facade.
func (sm *StateMachine) Load(ctx context.Context, applicationID string) (*models.Application, error) {
	return sm.load(ctx, applicationID)
}
