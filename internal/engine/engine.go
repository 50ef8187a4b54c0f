// internal/engine/engine.go
package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	commonerrors "assignment-engine/internal/common/errors"
	"assignment-engine/internal/common/logger"
	"assignment-engine/internal/directory"
	"assignment-engine/internal/ledger"
	"assignment-engine/internal/matcher"
	"assignment-engine/internal/models"
	"assignment-engine/internal/room"
	"assignment-engine/internal/statemachine"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
)

// defaultSchema accepts any JSON object; sector-specific schemas tighten it.
const defaultSchema = `{"type": "object"}`

// AssignmentResult reports the outcome of automatic matching at creation.
type AssignmentResult struct {
	Matched                  bool                       `json:"matched"`
	ConsultantID             *string                    `json:"consultantId,omitempty"`
	RequiresManualAssignment bool                       `json:"requiresManualAssignment"`
	Entry                    *models.AssignmentLogEntry `json:"entry,omitempty"`
}

// Recorder receives per-operation telemetry from the facade. A nil Recorder
// disables recording.
type Recorder interface {
	RecordOperation(ctx context.Context, operation, status string)
	RecordDuration(ctx context.Context, operation string, duration time.Duration)
}

// Engine is the single entry point the surrounding request layer calls. It
// wires the matcher, ledger, state machine and room manager behind the
// exposed operations; no HTTP or wire concerns live here.
type Engine struct {
	db            *sql.DB
	directory     directory.Reader
	matcher       *matcher.Matcher
	ledger        *ledger.Ledger
	stateMachine  *statemachine.StateMachine
	rooms         *room.Manager
	obs           Recorder
	logger        logger.Logger
	sectorSchemas map[string]*gojsonschema.Schema
}

func New(db *sql.DB, dir directory.Reader, m *matcher.Matcher, l *ledger.Ledger, sm *statemachine.StateMachine, rooms *room.Manager, obs Recorder, log logger.Logger) *Engine {
	return &Engine{
		db:            db,
		directory:     dir,
		matcher:       m,
		ledger:        l,
		stateMachine:  sm,
		rooms:         rooms,
		obs:           obs,
		logger:        log.WithFields(map[string]interface{}{"component": "engine"}),
		sectorSchemas: map[string]*gojsonschema.Schema{},
	}
}

func (e *Engine) record(ctx context.Context, operation string, start time.Time, err error) {
	if e.obs == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	e.obs.RecordOperation(ctx, operation, status)
	e.obs.RecordDuration(ctx, operation, time.Since(start))
}

// RegisterSectorSchema installs a JSON schema used to validate application
// data for a sector. Sectors without a schema fall back to the permissive
// default.
func (e *Engine) RegisterSectorSchema(sectorID, schemaJSON string) error {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return fmt.Errorf("compile schema for sector %s: %w", sectorID, err)
	}
	e.sectorSchemas[sectorID] = schema
	return nil
}

// CreateApplicationAndAssign creates an application for an owner, creates
// and activates its room, and runs automatic consultant matching. A sector
// without an eligible consultant is not an error: the application is created
// unassigned and flagged for manual assignment.
func (e *Engine) CreateApplicationAndAssign(ctx context.Context, ownerID, sectorID string, applicationData map[string]interface{}) (*models.Application, *AssignmentResult, error) {
	start := time.Now()
	app, result, err := e.createApplicationAndAssign(ctx, ownerID, sectorID, applicationData)
	e.record(ctx, "create_application", start, err)
	return app, result, err
}

func (e *Engine) createApplicationAndAssign(ctx context.Context, ownerID, sectorID string, applicationData map[string]interface{}) (*models.Application, *AssignmentResult, error) {
	owner, err := e.directory.GetUser(ctx, ownerID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve owner: %w", err)
	}
	if sectorID == "" {
		// Sector is inherited from the owner at creation time.
		sectorID = owner.SectorID
	}
	if sectorID == "" {
		return nil, nil, commonerrors.NewApplicationValidationFailedError("owner has no sector affiliation")
	}

	if err := e.validateApplicationData(sectorID, applicationData); err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	app := &models.Application{
		ID:              uuid.New().String(),
		OwnerID:         ownerID,
		SectorID:        sectorID,
		Status:          models.StatusPending,
		Priority:        models.PriorityMedium,
		ApplicationData: applicationData,
		SubmittedAt:     &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	dataJSON, err := json.Marshal(applicationData)
	if err != nil {
		return nil, nil, commonerrors.NewApplicationValidationFailedError(fmt.Sprintf("marshal application data: %v", err))
	}

	_, err = e.db.ExecContext(ctx, `
		INSERT INTO applications (
			id, owner_id, sector_id, status, priority, application_data,
			submitted_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $7, $7)`,
		app.ID, app.OwnerID, app.SectorID, app.Status, app.Priority, dataJSON, now)
	if err != nil {
		return nil, nil, commonerrors.NewDatabaseInsertFailedError(err)
	}

	// Creation path for the room: the application is already pending.
	if err := e.rooms.OnApplicationStatusChanged(ctx, app.ID, app.Status, ownerID); err != nil {
		return nil, nil, fmt.Errorf("create room: %w", err)
	}

	result := &AssignmentResult{}
	consultant, err := e.matcher.Match(ctx, sectorID)
	if err != nil {
		if errors.Is(err, matcher.ErrNoMatch) {
			e.logger.Warn("no consultant available, application flagged for manual assignment", map[string]interface{}{
				"applicationId": app.ID,
				"sectorId":      sectorID,
			})
			result.RequiresManualAssignment = true
			return app, result, nil
		}
		return nil, nil, fmt.Errorf("match consultant: %w", err)
	}

	entry, err := e.ledger.Assign(ctx, app.ID, consultant.ID, nil, models.AssignmentTypeAutomatic, "automatic assignment on submission")
	if err != nil {
		return nil, nil, fmt.Errorf("record assignment: %w", err)
	}

	result.Matched = true
	result.ConsultantID = &consultant.ID
	result.Entry = entry
	app.AssignedConsultantID = &consultant.ID
	app.ConsultantAssignedAt = &entry.AssignedAt
	app.ConsultantAssignmentType = models.AssignmentTypeAutomatic

	return app, result, nil
}

func (e *Engine) validateApplicationData(sectorID string, data map[string]interface{}) error {
	schema, ok := e.sectorSchemas[sectorID]
	if !ok {
		var err error
		schema, err = gojsonschema.NewSchema(gojsonschema.NewStringLoader(defaultSchema))
		if err != nil {
			return fmt.Errorf("compile default schema: %w", err)
		}
	}

	if data == nil {
		data = map[string]interface{}{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(data))
	if err != nil {
		return commonerrors.NewApplicationValidationFailedError(err.Error())
	}
	if !result.Valid() {
		details := ""
		for i, resErr := range result.Errors() {
			if i > 0 {
				details += "; "
			}
			details += resErr.String()
		}
		return commonerrors.NewApplicationValidationFailedError(details)
	}
	return nil
}

// TransitionApplication applies a status transition via the state machine.
func (e *Engine) TransitionApplication(ctx context.Context, applicationID string, toStatus models.ApplicationStatus, actorID string) (*models.Application, error) {
	start := time.Now()
	app, err := e.stateMachine.Transition(ctx, applicationID, toStatus, actorID)
	e.record(ctx, "transition_application", start, err)
	return app, err
}

// ReassignConsultant moves the application to a new consultant, recording
// the previous one in the ledger.
func (e *Engine) ReassignConsultant(ctx context.Context, applicationID, newConsultantID, actorID, reason string) (*models.AssignmentLogEntry, error) {
	start := time.Now()
	entry, err := e.ledger.Reassign(ctx, applicationID, newConsultantID, actorID, reason)
	e.record(ctx, "reassign_consultant", start, err)
	return entry, err
}

// ReleaseConsultant closes the application's open assignment.
func (e *Engine) ReleaseConsultant(ctx context.Context, applicationID, actorID, reason string) error {
	start := time.Now()
	err := e.ledger.Release(ctx, applicationID, actorID, reason)
	e.record(ctx, "release_consultant", start, err)
	return err
}

// CurrentAssignee returns the consultant currently owning the application.
func (e *Engine) CurrentAssignee(ctx context.Context, applicationID string) (*string, error) {
	return e.ledger.CurrentAssignee(ctx, applicationID)
}

// AssignmentHistory returns the full audit history for an application.
func (e *Engine) AssignmentHistory(ctx context.Context, applicationID string) ([]models.AssignmentLogEntry, error) {
	return e.ledger.History(ctx, applicationID)
}

// RecordRoomActivity applies a message or document event to the room.
func (e *Engine) RecordRoomActivity(ctx context.Context, applicationID string, eventKind models.RoomEventKind, meta models.RoomActivityMeta) error {
	start := time.Now()
	err := e.recordRoomActivity(ctx, applicationID, eventKind, meta)
	e.record(ctx, "record_room_activity", start, err)
	return err
}

func (e *Engine) recordRoomActivity(ctx context.Context, applicationID string, eventKind models.RoomEventKind, meta models.RoomActivityMeta) error {
	switch eventKind {
	case models.RoomEventMessage, models.RoomEventDocument:
	default:
		return fmt.Errorf("unknown room event kind: %s", eventKind)
	}
	return e.rooms.UpdateStats(ctx, applicationID, eventKind, meta)
}

// SetRoomPriority updates the advisory room priority with an audit reason.
func (e *Engine) SetRoomPriority(ctx context.Context, applicationID, newPriority, reason string) error {
	return e.rooms.SetPriority(ctx, applicationID, newPriority, reason)
}

// AddConsultantNote appends a note to the application's room.
func (e *Engine) AddConsultantNote(ctx context.Context, applicationID, note, actorID string) (*models.RoomNote, error) {
	return e.rooms.AddConsultantNote(ctx, applicationID, note, actorID)
}

// RequestDocuments marks the room as waiting on applicant documents.
func (e *Engine) RequestDocuments(ctx context.Context, applicationID, actorID string) error {
	return e.rooms.RequestDocuments(ctx, applicationID, actorID)
}

// GetApplication loads a single application.
func (e *Engine) GetApplication(ctx context.Context, applicationID string) (*models.Application, error) {
	return e.stateMachine.Load(ctx, applicationID)
}

// GetRoom loads the room for an application.
func (e *Engine) GetRoom(ctx context.Context, applicationID string) (*models.ApplicationRoom, error) {
	return e.rooms.Get(ctx, applicationID)
}
