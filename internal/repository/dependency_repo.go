package repository

import (
	"context"

	"go.uber.org/zap"

	"stageflow/internal/model"
)

type DependencyRepository struct {
	db     querier
	logger *zap.Logger
}

func NewDependencyRepository(db querier, logger *zap.Logger) *DependencyRepository {
	return &DependencyRepository{db: db, logger: logger}
}

func (r *DependencyRepository) GetDependency(ctx context.Context, id string) (*model.Dependency, error) {
	query := `
        SELECT id, stage_id, depends_on_stage_id, created_at
        FROM stage_dependencies
        WHERE id = $1
    `
	var d model.Dependency
	err := r.db.QueryRow(ctx, query, id).Scan(&d.ID, &d.StageID, &d.DependsOnStageID, &d.CreatedAt)
	if err != nil {
		return nil, notFound(err, "dependency", id)
	}
	return &d, nil
}

func (r *DependencyRepository) ListItemDependencies(ctx context.Context, itemID string) ([]model.Dependency, error) {
	query := `
        SELECT d.id, d.stage_id, d.depends_on_stage_id, d.created_at
        FROM stage_dependencies d
        JOIN project_stages s ON s.id = d.stage_id
        WHERE s.item_id = $1
        ORDER BY d.created_at ASC, d.id ASC
    `
	rows, err := r.db.Query(ctx, query, itemID)
	if err != nil {
		r.logger.Error("Failed to query dependencies", zap.Error(err), zap.String("item_id", itemID))
		return nil, err
	}
	defer rows.Close()

	deps := []model.Dependency{}
	for rows.Next() {
		var d model.Dependency
		if err := rows.Scan(&d.ID, &d.StageID, &d.DependsOnStageID, &d.CreatedAt); err != nil {
			r.logger.Error("Failed to scan dependency row", zap.Error(err))
			return nil, err
		}
		deps = append(deps, d)
	}
	return deps, rows.Err()
}

func (r *DependencyRepository) InsertDependency(ctx context.Context, d *model.Dependency) error {
	r.logger.Debug("Inserting stage dependency",
		zap.String("stage_id", d.StageID),
		zap.String("depends_on_stage_id", d.DependsOnStageID),
	)

	query := `
        INSERT INTO stage_dependencies (id, stage_id, depends_on_stage_id)
        VALUES ($1, $2, $3)
        RETURNING created_at
    `
	err := r.db.QueryRow(ctx, query, d.ID, d.StageID, d.DependsOnStageID).Scan(&d.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return &model.ValidationError{Field: "depends_on_stage_id", Message: "dependency already exists"}
		}
		r.logger.Error("Failed to insert stage dependency",
			zap.Error(err),
			zap.String("stage_id", d.StageID),
			zap.String("depends_on_stage_id", d.DependsOnStageID),
		)
		return err
	}

	r.logger.Info("Stage dependency inserted",
		zap.String("dependency_id", d.ID),
		zap.String("stage_id", d.StageID),
	)
	return nil
}

func (r *DependencyRepository) DeleteDependency(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM stage_dependencies WHERE id = $1`, id)
	if err != nil {
		r.logger.Error("Failed to delete stage dependency", zap.Error(err), zap.String("dependency_id", id))
		return err
	}
	if tag.RowsAffected() == 0 {
		return &model.NotFoundError{Entity: "dependency", ID: id}
	}
	r.logger.Info("Stage dependency deleted", zap.String("dependency_id", id))
	return nil
}
