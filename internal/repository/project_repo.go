package repository

import (
	"context"

	"go.uber.org/zap"

	"stageflow/internal/model"
)

type ProjectRepository struct {
	db     querier
	logger *zap.Logger
}

func NewProjectRepository(db querier, logger *zap.Logger) *ProjectRepository {
	return &ProjectRepository{db: db, logger: logger}
}

func (r *ProjectRepository) InsertProject(ctx context.Context, p *model.Project) error {
	r.logger.Debug("Inserting project",
		zap.String("project_id", p.ID),
		zap.String("name", p.Name),
	)

	query := `
        INSERT INTO projects (id, name, status, started_at, duration_days)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING created_at, updated_at
    `
	err := r.db.QueryRow(ctx, query,
		p.ID,
		p.Name,
		p.Status,
		p.StartedAt,
		p.DurationDays,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to insert project", zap.Error(err), zap.String("project_id", p.ID))
		return err
	}

	r.logger.Info("Project inserted successfully", zap.String("project_id", p.ID))
	return nil
}

func (r *ProjectRepository) GetProject(ctx context.Context, id string) (*model.Project, error) {
	query := `
        SELECT id, name, status, started_at, duration_days, created_at, updated_at
        FROM projects
        WHERE id = $1
    `
	var p model.Project
	err := r.db.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.Name,
		&p.Status,
		&p.StartedAt,
		&p.DurationDays,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err, "project", id)
	}
	return &p, nil
}

func (r *ProjectRepository) InsertItem(ctx context.Context, it *model.Item) error {
	r.logger.Debug("Inserting item",
		zap.String("item_id", it.ID),
		zap.String("project_id", it.ProjectID),
	)

	query := `
        INSERT INTO project_items (id, project_id, name, quantity, ready_for_montage)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING created_at, updated_at
    `
	err := r.db.QueryRow(ctx, query,
		it.ID,
		it.ProjectID,
		it.Name,
		it.Quantity,
		it.ReadyForMontage,
	).Scan(&it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to insert item", zap.Error(err), zap.String("item_id", it.ID))
		return err
	}

	r.logger.Info("Item inserted successfully",
		zap.String("item_id", it.ID),
		zap.String("project_id", it.ProjectID),
	)
	return nil
}

func (r *ProjectRepository) GetItem(ctx context.Context, id string) (*model.Item, error) {
	query := `
        SELECT id, project_id, name, quantity, ready_for_montage, created_at, updated_at
        FROM project_items
        WHERE id = $1
    `
	var it model.Item
	err := r.db.QueryRow(ctx, query, id).Scan(
		&it.ID,
		&it.ProjectID,
		&it.Name,
		&it.Quantity,
		&it.ReadyForMontage,
		&it.CreatedAt,
		&it.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err, "item", id)
	}
	return &it, nil
}

func (r *ProjectRepository) ListProjectItems(ctx context.Context, projectID string) ([]model.Item, error) {
	query := `
        SELECT id, project_id, name, quantity, ready_for_montage, created_at, updated_at
        FROM project_items
        WHERE project_id = $1
        ORDER BY created_at ASC, id ASC
    `
	rows, err := r.db.Query(ctx, query, projectID)
	if err != nil {
		r.logger.Error("Failed to query items", zap.Error(err), zap.String("project_id", projectID))
		return nil, err
	}
	defer rows.Close()

	items := []model.Item{}
	for rows.Next() {
		var it model.Item
		if err := rows.Scan(
			&it.ID,
			&it.ProjectID,
			&it.Name,
			&it.Quantity,
			&it.ReadyForMontage,
			&it.CreatedAt,
			&it.UpdatedAt,
		); err != nil {
			r.logger.Error("Failed to scan item row", zap.Error(err))
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
