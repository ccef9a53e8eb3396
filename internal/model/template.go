package model

import "time"

// ProcessTemplate is a reusable stage graph used to seed new items.
type ProcessTemplate struct {
	ID           string               `json:"id"`
	Name         string               `json:"name"`
	Description  string               `json:"description"`
	Stages       []TemplateStage      `json:"stages"`
	Dependencies []TemplateDependency `json:"dependencies"`
	CreatedAt    time.Time            `json:"created_at"`
}

type TemplateStage struct {
	ID           string `json:"id"`
	TemplateID   string `json:"template_id"`
	Name         string `json:"name"`
	StageTypeID  string `json:"stage_type_id"`
	DurationDays int    `json:"duration_days"`
	Order        int    `json:"order"`
}

type TemplateDependency struct {
	ID                       string `json:"id"`
	TemplateID               string `json:"template_id"`
	TemplateStageID          string `json:"template_stage_id"`
	DependsOnTemplateStageID string `json:"depends_on_template_stage_id"`
}
