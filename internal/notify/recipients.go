// internal/notify/recipients.go
package notify

import (
	"context"
	"database/sql"
	"fmt"
)

// DirectoryRecipients resolves notification recipients from the consultant
// and user tables.
type DirectoryRecipients struct {
	db *sql.DB
}

func NewDirectoryRecipients(db *sql.DB) *DirectoryRecipients {
	return &DirectoryRecipients{db: db}
}

// Resolve picks the contact for an event. Assignment events go to the
// consultant named in the payload; status change events go to the applicant.
func (r *DirectoryRecipients) Resolve(ctx context.Context, eventKind string, payload map[string]interface{}) (string, string, error) {
	switch eventKind {
	case "consultant_assigned", "consultant_reassigned", "consultant_released":
		consultantID, _ := payload["consultantId"].(string)
		if consultantID == "" {
			return "", "", fmt.Errorf("payload missing consultantId for %s", eventKind)
		}
		return r.consultantContact(ctx, consultantID)
	case "application_status_changed":
		applicationID, _ := payload["applicationId"].(string)
		if applicationID == "" {
			return "", "", fmt.Errorf("payload missing applicationId for %s", eventKind)
		}
		return r.applicantContact(ctx, applicationID)
	default:
		return "", "", fmt.Errorf("unknown event kind: %s", eventKind)
	}
}

func (r *DirectoryRecipients) consultantContact(ctx context.Context, consultantID string) (string, string, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT email, COALESCE(phone, '')
		FROM consultants
		WHERE id = $1`, consultantID)

	var email, phone string
	if err := row.Scan(&email, &phone); err != nil {
		if err == sql.ErrNoRows {
			return "", "", fmt.Errorf("consultant not found: %s", consultantID)
		}
		return "", "", fmt.Errorf("resolve consultant contact: %w", err)
	}
	return email, phone, nil
}

func (r *DirectoryRecipients) applicantContact(ctx context.Context, applicationID string) (string, string, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT u.email, COALESCE(u.phone, '')
		FROM applications a
		JOIN users u ON u.id = a.owner_id
		WHERE a.id = $1`, applicationID)

	var email, phone string
	if err := row.Scan(&email, &phone); err != nil {
		if err == sql.ErrNoRows {
			return "", "", fmt.Errorf("application not found: %s", applicationID)
		}
		return "", "", fmt.Errorf("resolve applicant contact: %w", err)
	}
	return email, phone, nil
}
