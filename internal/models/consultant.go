// internal/models/consultant.go
package models

import "time"

// Consultant is a role-qualified identity read from the consultant
// directory. Load is derived at match time from open assigned applications
// and is never stored.
type Consultant struct {
	ID                        string    `json:"id"`
	Name                      string    `json:"name"`
	Email                     string    `json:"email"`
	SectorID                  string    `json:"sectorId"`
	Active                    bool      `json:"active"`
	Approved                  bool      `json:"approved"`
	MaxConcurrentApplications int       `json:"maxConcurrentApplications"`
	CreatedAt                 time.Time `json:"createdAt"`
}

// User is the directory view of a platform user (applicant or consultant).
type User struct {
	ID       string `json:"id"`
	SectorID string `json:"sectorId"`
	Role     string `json:"role"`
}

const (
	RoleApplicant  = "applicant"
	RoleConsultant = "consultant"
	RoleAdmin      = "admin"
)
