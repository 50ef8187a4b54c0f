// internal/models/room.go
package models

import "time"

// RoomStatus is the finite set of collaboration room states.
type RoomStatus string

const (
	RoomActive           RoomStatus = "active"
	RoomWaitingDocuments RoomStatus = "waiting_documents"
	RoomUnderReview      RoomStatus = "under_review"
	RoomCompleted        RoomStatus = "completed"
	RoomArchived         RoomStatus = "archived"
)

// RoomSettings configures upload limits and the auto-archive horizon for a
// single room.
type RoomSettings struct {
	AllowedFileExtensions []string `json:"allowedFileExtensions"`
	MaxFileSizeMB         int      `json:"maxFileSizeMb"`
	AutoArchiveAfterDays  int      `json:"autoArchiveAfterDays"`
}

// RoomStats carries rolling activity counters for a room.
type RoomStats struct {
	MessageCount           int        `json:"messageCount"`
	DocumentCount          int        `json:"documentCount"`
	LastConsultantActivity *time.Time `json:"lastConsultantActivity,omitempty"`
	LastUserActivity       *time.Time `json:"lastUserActivity,omitempty"`
	ResponseTimeMinutes    *int       `json:"responseTimeMinutes,omitempty"`
}

// ApplicationRoom is the one-to-one collaboration context for an
// application. Rooms are archived, never deleted.
type ApplicationRoom struct {
	ID             string       `json:"id"`
	ApplicationID  string       `json:"applicationId"`
	Status         RoomStatus   `json:"status"`
	Priority       string       `json:"priority"`
	LastActivityAt time.Time    `json:"lastActivityAt"`
	Settings       RoomSettings `json:"settings"`
	Stats          RoomStats    `json:"stats"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
	ArchivedAt     *time.Time   `json:"archivedAt,omitempty"`
}

// RoomNote is an append-only consultant note attached to a room.
type RoomNote struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	AuthorID  string    `json:"authorId"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"createdAt"`
}

// RoomEventKind identifies an incoming activity event.
type RoomEventKind string

const (
	RoomEventMessage  RoomEventKind = "message"
	RoomEventDocument RoomEventKind = "document"
)

// RoomActivityMeta describes which side of the collaboration acted.
type RoomActivityMeta struct {
	ActorID      string `json:"actorId"`
	IsConsultant bool   `json:"isConsultant"`
}
