// internal/models/application.go
package models

import "time"

// ApplicationStatus is the finite set of application lifecycle states.
type ApplicationStatus string

const (
	StatusDraft          ApplicationStatus = "draft"
	StatusSubmitted      ApplicationStatus = "submitted"
	StatusPending        ApplicationStatus = "pending"
	StatusUnderReview    ApplicationStatus = "under_review"
	StatusApproved       ApplicationStatus = "approved"
	StatusRejected       ApplicationStatus = "rejected"
	StatusAdditionalInfo ApplicationStatus = "additional_info_required"
	StatusCancelled      ApplicationStatus = "cancelled"
	StatusCompleted      ApplicationStatus = "completed"
)

// IsTerminal reports whether no further transition is permitted from s.
func (s ApplicationStatus) IsTerminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// IsOpen reports whether an application in this status counts against its
// consultant's load.
func (s ApplicationStatus) IsOpen() bool {
	switch s {
	case StatusPending, StatusUnderReview, StatusAdditionalInfo:
		return true
	}
	return false
}

// Assignment types recorded on applications and ledger entries.
const (
	AssignmentTypeManual    = "manual"
	AssignmentTypeAutomatic = "automatic"
)

// Priority levels, advisory only.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Application is a submitted grant/incentive application. Applications are
// never physically deleted; terminal statuses retire them.
type Application struct {
	ID                       string                 `json:"id"`
	OwnerID                  string                 `json:"ownerId"`
	SectorID                 string                 `json:"sectorId"`
	Status                   ApplicationStatus      `json:"status"`
	Priority                 string                 `json:"priority"`
	ApplicationData          map[string]interface{} `json:"applicationData,omitempty"`
	AssignedConsultantID     *string                `json:"assignedConsultantId,omitempty"`
	ConsultantAssignedAt     *time.Time             `json:"consultantAssignedAt,omitempty"`
	ConsultantAssignmentType string                 `json:"consultantAssignmentType,omitempty"`
	ConsultantNotes          string                 `json:"consultantNotes,omitempty"`
	ConsultantRating         *int                   `json:"consultantRating,omitempty"`
	SubmittedAt              *time.Time             `json:"submittedAt,omitempty"`
	ReviewedAt               *time.Time             `json:"reviewedAt,omitempty"`
	ReviewedBy               *string                `json:"reviewedBy,omitempty"`
	ApprovedAt               *time.Time             `json:"approvedAt,omitempty"`
	ApprovedBy               *string                `json:"approvedBy,omitempty"`
	RejectedAt               *time.Time             `json:"rejectedAt,omitempty"`
	CreatedAt                time.Time              `json:"createdAt"`
	UpdatedAt                time.Time              `json:"updatedAt"`
}
