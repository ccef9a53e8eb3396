package model

import "time"

const (
	ProjectStatusPending    = "pending"
	ProjectStatusInProgress = "in_progress"
	ProjectStatusOnHold     = "on_hold"
	ProjectStatusCompleted  = "completed"
)

type Project struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Status       string     `json:"status"` // pending / in_progress / on_hold / completed
	StartedAt    *time.Time `json:"started_at,omitempty"`
	DurationDays int        `json:"duration_days"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Item is one position (e.g. a piece of furniture) inside a project.
type Item struct {
	ID              string    `json:"id"`
	ProjectID       string    `json:"project_id"`
	Name            string    `json:"name"`
	Quantity        int       `json:"quantity"`
	ReadyForMontage bool      `json:"ready_for_montage"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func ValidProjectStatus(s string) bool {
	switch s {
	case ProjectStatusPending, ProjectStatusInProgress, ProjectStatusOnHold, ProjectStatusCompleted:
		return true
	}
	return false
}
