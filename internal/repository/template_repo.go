package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"stageflow/internal/model"
)

type TemplateRepository struct {
	db     querier
	logger *zap.Logger
}

func NewTemplateRepository(db querier, logger *zap.Logger) *TemplateRepository {
	return &TemplateRepository{db: db, logger: logger}
}

func (r *TemplateRepository) GetTemplate(ctx context.Context, id string) (*model.ProcessTemplate, error) {
	var t model.ProcessTemplate
	err := r.db.QueryRow(ctx, `
        SELECT id, name, description, created_at
        FROM process_templates
        WHERE id = $1
    `, id).Scan(&t.ID, &t.Name, &t.Description, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &model.TemplateNotFoundError{TemplateID: id}
		}
		r.logger.Error("Failed to load template", zap.Error(err), zap.String("template_id", id))
		return nil, err
	}

	if t.Stages, err = r.listStages(ctx, id); err != nil {
		return nil, err
	}
	if t.Dependencies, err = r.listDependencies(ctx, id); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TemplateRepository) ListTemplates(ctx context.Context) ([]model.ProcessTemplate, error) {
	rows, err := r.db.Query(ctx, `
        SELECT id, name, description, created_at
        FROM process_templates
        ORDER BY name ASC
    `)
	if err != nil {
		r.logger.Error("Failed to query templates", zap.Error(err))
		return nil, err
	}

	templates := []model.ProcessTemplate{}
	for rows.Next() {
		var t model.ProcessTemplate
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		templates = append(templates, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range templates {
		if templates[i].Stages, err = r.listStages(ctx, templates[i].ID); err != nil {
			return nil, err
		}
		if templates[i].Dependencies, err = r.listDependencies(ctx, templates[i].ID); err != nil {
			return nil, err
		}
	}
	return templates, nil
}

func (r *TemplateRepository) listStages(ctx context.Context, templateID string) ([]model.TemplateStage, error) {
	rows, err := r.db.Query(ctx, `
        SELECT id, template_id, name, stage_type_id, duration_days, sort_order
        FROM template_stages
        WHERE template_id = $1
        ORDER BY sort_order ASC, id ASC
    `, templateID)
	if err != nil {
		r.logger.Error("Failed to query template stages", zap.Error(err), zap.String("template_id", templateID))
		return nil, err
	}
	defer rows.Close()

	stages := []model.TemplateStage{}
	for rows.Next() {
		var s model.TemplateStage
		if err := rows.Scan(&s.ID, &s.TemplateID, &s.Name, &s.StageTypeID, &s.DurationDays, &s.Order); err != nil {
			return nil, err
		}
		stages = append(stages, s)
	}
	return stages, rows.Err()
}

func (r *TemplateRepository) listDependencies(ctx context.Context, templateID string) ([]model.TemplateDependency, error) {
	rows, err := r.db.Query(ctx, `
        SELECT id, template_id, template_stage_id, depends_on_template_stage_id
        FROM template_dependencies
        WHERE template_id = $1
        ORDER BY id ASC
    `, templateID)
	if err != nil {
		r.logger.Error("Failed to query template dependencies", zap.Error(err), zap.String("template_id", templateID))
		return nil, err
	}
	defer rows.Close()

	deps := []model.TemplateDependency{}
	for rows.Next() {
		var d model.TemplateDependency
		if err := rows.Scan(&d.ID, &d.TemplateID, &d.TemplateStageID, &d.DependsOnTemplateStageID); err != nil {
			return nil, err
		}
		deps = append(deps, d)
	}
	return deps, rows.Err()
}

// InsertTemplate writes the template, its stages and its edges as one batch.
func (r *TemplateRepository) InsertTemplate(ctx context.Context, t *model.ProcessTemplate) error {
	r.logger.Debug("Inserting template",
		zap.String("template_id", t.ID),
		zap.Int("stage_count", len(t.Stages)),
		zap.Int("dependency_count", len(t.Dependencies)),
	)

	batch := &pgx.Batch{}
	batch.Queue(`INSERT INTO process_templates (id, name, description) VALUES ($1, $2, $3)`,
		t.ID, t.Name, t.Description)
	for _, s := range t.Stages {
		batch.Queue(`
            INSERT INTO template_stages (id, template_id, name, stage_type_id, duration_days, sort_order)
            VALUES ($1, $2, $3, $4, $5, $6)
        `, s.ID, t.ID, s.Name, s.StageTypeID, s.DurationDays, s.Order)
	}
	for _, d := range t.Dependencies {
		batch.Queue(`
            INSERT INTO template_dependencies (id, template_id, template_stage_id, depends_on_template_stage_id)
            VALUES ($1, $2, $3, $4)
        `, d.ID, t.ID, d.TemplateStageID, d.DependsOnTemplateStageID)
	}

	results := r.db.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			r.logger.Error("Failed to insert template", zap.Error(err), zap.String("template_id", t.ID))
			return fmt.Errorf("template batch statement %d: %w", i, err)
		}
	}
	if err := results.Close(); err != nil {
		return err
	}

	r.logger.Info("Template inserted successfully", zap.String("template_id", t.ID))
	return nil
}
