package mq

import "time"

const (
	RoutingKeyActivityLogged = "activity.logged"
	RoutingKeyStageShifted   = "stage.deadline_shifted"
)

// ActivityLoggedPayload is published for every activity log entry.
type ActivityLoggedPayload struct {
	EntityType   string    `json:"entity_type"`
	EntityID     string    `json:"entity_id"`
	ActionType   string    `json:"action_type"`
	UserID       string    `json:"user_id"`
	FieldChanged string    `json:"field_changed,omitempty"`
	OldValue     string    `json:"old_value,omitempty"`
	NewValue     string    `json:"new_value,omitempty"`
	Description  string    `json:"description"`
	TraceID      string    `json:"trace_id,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}
