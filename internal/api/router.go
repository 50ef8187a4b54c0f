// internal/api/router.go
package api

import (
	"net/http"

	"assignment-engine/internal/common/logger"
	"assignment-engine/internal/engine"

	"github.com/gorilla/mux"
)

// NewRouter builds the HTTP surface of the engine. Handlers stay thin: all
// business rules live behind the engine facade.
func NewRouter(eng *engine.Engine, healthCheck func() error, log logger.Logger) *mux.Router {
	h := &handlers{
		engine: eng,
		health: healthCheck,
		logger: log.WithFields(map[string]interface{}{"component": "api"}),
	}

	r := mux.NewRouter()

	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)

	r.HandleFunc("/applications", h.createApplication).Methods(http.MethodPost)
	r.HandleFunc("/applications/{id}", h.getApplication).Methods(http.MethodGet)
	r.HandleFunc("/applications/{id}/transition", h.transitionApplication).Methods(http.MethodPost)
	r.HandleFunc("/applications/{id}/reassign", h.reassignConsultant).Methods(http.MethodPost)
	r.HandleFunc("/applications/{id}/release", h.releaseConsultant).Methods(http.MethodPost)
	r.HandleFunc("/applications/{id}/assignee", h.currentAssignee).Methods(http.MethodGet)
	r.HandleFunc("/applications/{id}/assignments", h.assignmentHistory).Methods(http.MethodGet)

	r.HandleFunc("/applications/{id}/room", h.getRoom).Methods(http.MethodGet)
	r.HandleFunc("/applications/{id}/room/activity", h.recordRoomActivity).Methods(http.MethodPost)
	r.HandleFunc("/applications/{id}/room/priority", h.setRoomPriority).Methods(http.MethodPut)
	r.HandleFunc("/applications/{id}/room/notes", h.addConsultantNote).Methods(http.MethodPost)
	r.HandleFunc("/applications/{id}/room/request-documents", h.requestDocuments).Methods(http.MethodPost)

	return r
}
