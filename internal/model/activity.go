package model

const (
	EntityStage      = "stage"
	EntityDependency = "stage_dependency"
	EntityItem       = "item"
	EntityProject    = "project"

	ActionCreated   = "created"
	ActionUpdated   = "updated"
	ActionDeleted   = "deleted"
	ActionReordered = "reordered"
	ActionShifted   = "deadline_shifted"
	ActionTemplated = "template_applied"
)

// ActivityEntry is the write contract of the activity log.
type ActivityEntry struct {
	EntityType   string `json:"entity_type"`
	EntityID     string `json:"entity_id"`
	ActionType   string `json:"action_type"`
	UserID       string `json:"user_id"`
	FieldChanged string `json:"field_changed,omitempty"`
	OldValue     string `json:"old_value,omitempty"`
	NewValue     string `json:"new_value,omitempty"`
	Description  string `json:"description"`
}

// Actor is the user on whose behalf an operation runs.
type Actor struct {
	UserID string
	Role   string
}
