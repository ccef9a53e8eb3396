package model

import (
	"encoding/json"
	"time"
)

const (
	StageStatusPending    = "pending"
	StageStatusInProgress = "in_progress"
	StageStatusCompleted  = "completed"
	StageStatusOnHold     = "on_hold"
	StageStatusCancelled  = "cancelled"
)

// Stage is a node of an item's production workflow.
type Stage struct {
	ID               string          `json:"id"`
	ProjectID        string          `json:"project_id"`
	ItemID           string          `json:"item_id"`
	Name             string          `json:"name"`
	StageTypeID      string          `json:"stage_type_id"`
	Status           string          `json:"status"`
	Order            int             `json:"order"`
	PlannedStartDate *time.Time      `json:"planned_start_date,omitempty"`
	PlannedEndDate   *time.Time      `json:"planned_end_date,omitempty"`
	DurationDays     int             `json:"duration_days"`
	AssigneeID       *string         `json:"assignee_id,omitempty"`
	IsSystem         bool            `json:"is_system"`
	Payload          json.RawMessage `json:"payload,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Scheduled reports whether both ends of the planned window are set.
func (s *Stage) Scheduled() bool {
	return s.PlannedStartDate != nil && s.PlannedEndDate != nil
}

// Window returns the planned window. Only valid when Scheduled is true.
func (s *Stage) Window() (time.Time, time.Time) {
	return *s.PlannedStartDate, *s.PlannedEndDate
}

// SetWindow stores copies of start and end.
func (s *Stage) SetWindow(start, end time.Time) {
	s.PlannedStartDate = &start
	s.PlannedEndDate = &end
}

func ValidStageStatus(s string) bool {
	switch s {
	case StageStatusPending, StageStatusInProgress, StageStatusCompleted, StageStatusOnHold, StageStatusCancelled:
		return true
	}
	return false
}

// ShiftedStage describes one stage moved by a deadline cascade.
type ShiftedStage struct {
	ID       string    `json:"id"`
	OldStart time.Time `json:"old_start"`
	OldEnd   time.Time `json:"old_end"`
	NewStart time.Time `json:"new_start"`
	NewEnd   time.Time `json:"new_end"`
}

// DeadlineHistoryEntry is an immutable audit record of one window change.
type DeadlineHistoryEntry struct {
	ID        string     `json:"id"`
	StageID   string     `json:"stage_id"`
	OldStart  *time.Time `json:"old_start,omitempty"`
	OldEnd    *time.Time `json:"old_end,omitempty"`
	NewStart  time.Time  `json:"new_start"`
	NewEnd    time.Time  `json:"new_end"`
	Reason    string     `json:"reason"`
	ChangedBy string     `json:"changed_by"`
	CreatedAt time.Time  `json:"created_at"`
}
