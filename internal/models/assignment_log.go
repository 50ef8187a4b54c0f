// internal/models/assignment_log.go
package models

import "time"

// AssignmentLogEntry is an append-only audit record of a consultant
// assignment. For a given application at most one entry is open
// (UnassignedAt == nil); that entry defines the current assignee. Closed
// entries are never edited.
type AssignmentLogEntry struct {
	ID                   string     `json:"id"`
	ApplicationID        string     `json:"applicationId"`
	ConsultantID         string     `json:"consultantId"`
	AssignedBy           *string    `json:"assignedBy,omitempty"` // nil means automatic
	AssignmentType       string     `json:"assignmentType"`
	Reason               string     `json:"reason,omitempty"`
	SectorID             string     `json:"sectorId"`
	PreviousConsultantID *string    `json:"previousConsultantId,omitempty"`
	AssignedAt           time.Time  `json:"assignedAt"`
	UnassignedAt         *time.Time `json:"unassignedAt,omitempty"`
	UnassignedBy         *string    `json:"unassignedBy,omitempty"`
	UnassignmentReason   *string    `json:"unassignmentReason,omitempty"`
}

// IsOpen reports whether the entry still defines the current assignee.
func (e *AssignmentLogEntry) IsOpen() bool {
	return e.UnassignedAt == nil
}
