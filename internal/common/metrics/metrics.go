// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AssignmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_assignments_total",
			Help: "Total number of consultant assignments recorded",
		},
		[]string{"assignment_type"},
	)

	AssignmentConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_assignment_conflicts_total",
			Help: "Total number of concurrent assignment conflicts detected",
		},
	)

	MatchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_match_outcomes_total",
			Help: "Consultant match outcomes by result",
		},
		[]string{"outcome"},
	)

	MatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "engine_match_duration_seconds",
			Help: "Duration of consultant matching in seconds",
		},
	)

	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_transitions_total",
			Help: "Application status transitions by target status",
		},
		[]string{"to_status"},
	)

	TransitionsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_transitions_rejected_total",
			Help: "Status transition requests rejected as invalid",
		},
	)

	RoomEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_room_events_total",
			Help: "Room activity events by kind",
		},
		[]string{"event_kind"},
	)

	RoomsArchived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_rooms_archived_total",
			Help: "Rooms archived manually or by the auto-archive sweep",
		},
	)

	NotificationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_notification_failures_total",
			Help: "Notification dispatch failures by event kind",
		},
		[]string{"event_kind"},
	)
)
