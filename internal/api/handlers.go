// internal/api/handlers.go
package api

import (
	"encoding/json"
	"net/http"

	commonerrors "assignment-engine/internal/common/errors"
	"assignment-engine/internal/common/logger"
	"assignment-engine/internal/engine"
	"assignment-engine/internal/models"

	"github.com/gorilla/mux"
)

type handlers struct {
	engine *engine.Engine
	health func() error
	logger logger.Logger
}

type createApplicationRequest struct {
	OwnerID         string                 `json:"ownerId"`
	SectorID        string                 `json:"sectorId,omitempty"`
	ApplicationData map[string]interface{} `json:"applicationData,omitempty"`
}

type transitionRequest struct {
	ToStatus string `json:"toStatus"`
	ActorID  string `json:"actorId"`
}

type reassignRequest struct {
	ConsultantID string `json:"consultantId"`
	ActorID      string `json:"actorId"`
	Reason       string `json:"reason"`
}

type releaseRequest struct {
	ActorID string `json:"actorId"`
	Reason  string `json:"reason"`
}

type roomActivityRequest struct {
	EventKind    string `json:"eventKind"`
	ActorID      string `json:"actorId"`
	IsConsultant bool   `json:"isConsultant"`
}

type roomPriorityRequest struct {
	Priority string `json:"priority"`
	Reason   string `json:"reason"`
}

type roomNoteRequest struct {
	Note    string `json:"note"`
	ActorID string `json:"actorId"`
}

type actorRequest struct {
	ActorID string `json:"actorId"`
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) createApplication(w http.ResponseWriter, r *http.Request) {
	var req createApplicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OwnerID == "" {
		writeError(w, http.StatusBadRequest, "ownerId is required")
		return
	}

	app, result, err := h.engine.CreateApplicationAndAssign(r.Context(), req.OwnerID, req.SectorID, req.ApplicationData)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"application":      app,
		"assignmentResult": result,
	})
}

func (h *handlers) getApplication(w http.ResponseWriter, r *http.Request) {
	app, err := h.engine.GetApplication(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (h *handlers) transitionApplication(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	app, err := h.engine.TransitionApplication(r.Context(), mux.Vars(r)["id"],
		models.ApplicationStatus(req.ToStatus), req.ActorID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (h *handlers) reassignConsultant(w http.ResponseWriter, r *http.Request) {
	var req reassignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ConsultantID == "" {
		writeError(w, http.StatusBadRequest, "consultantId is required")
		return
	}

	entry, err := h.engine.ReassignConsultant(r.Context(), mux.Vars(r)["id"],
		req.ConsultantID, req.ActorID, req.Reason)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *handlers) releaseConsultant(w http.ResponseWriter, r *http.Request) {
	var req releaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.engine.ReleaseConsultant(r.Context(), mux.Vars(r)["id"], req.ActorID, req.Reason); err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

func (h *handlers) currentAssignee(w http.ResponseWriter, r *http.Request) {
	consultantID, err := h.engine.CurrentAssignee(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"consultantId": consultantID})
}

func (h *handlers) assignmentHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.engine.AssignmentHistory(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *handlers) getRoom(w http.ResponseWriter, r *http.Request) {
	room, err := h.engine.GetRoom(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (h *handlers) recordRoomActivity(w http.ResponseWriter, r *http.Request) {
	var req roomActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.engine.RecordRoomActivity(r.Context(), mux.Vars(r)["id"],
		models.RoomEventKind(req.EventKind),
		models.RoomActivityMeta{ActorID: req.ActorID, IsConsultant: req.IsConsultant})
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func (h *handlers) setRoomPriority(w http.ResponseWriter, r *http.Request) {
	var req roomPriorityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.engine.SetRoomPriority(r.Context(), mux.Vars(r)["id"], req.Priority, req.Reason); err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *handlers) addConsultantNote(w http.ResponseWriter, r *http.Request) {
	var req roomNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Note == "" {
		writeError(w, http.StatusBadRequest, "note is required")
		return
	}

	note, err := h.engine.AddConsultantNote(r.Context(), mux.Vars(r)["id"], req.Note, req.ActorID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

func (h *handlers) requestDocuments(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.engine.RequestDocuments(r.Context(), mux.Vars(r)["id"], req.ActorID); err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "waiting_documents"})
}

// writeEngineError maps engine error codes to HTTP statuses. NoMatch never
// reaches this path: matching failures are recovered inside the engine.
func (h *handlers) writeEngineError(w http.ResponseWriter, err error) {
	code, ok := commonerrors.CodeOf(err)
	if !ok {
		h.logger.Error("internal error", map[string]interface{}{"error": err})
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	switch code {
	case commonerrors.ErrCodeInvalidTransition:
		writeError(w, http.StatusBadRequest, err.Error())
	case commonerrors.ErrCodeApplicationValidationFailed:
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case commonerrors.ErrCodeRoomNotFound, commonerrors.ErrCodeApplicationNotFound:
		writeError(w, http.StatusNotFound, err.Error())
	case commonerrors.ErrCodeConcurrentAssignmentConflict:
		writeError(w, http.StatusConflict, err.Error())
	case commonerrors.ErrCodeNoOpenAssignment:
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("internal error", map[string]interface{}{"error": err, "code": code})
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
