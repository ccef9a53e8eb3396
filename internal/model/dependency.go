package model

import "time"

// Dependency means StageID cannot start until DependsOnStageID is completed.
type Dependency struct {
	ID               string    `json:"id"`
	StageID          string    `json:"stage_id"`
	DependsOnStageID string    `json:"depends_on_stage_id"`
	CreatedAt        time.Time `json:"created_at"`
}
