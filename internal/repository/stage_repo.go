package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"stageflow/internal/model"
)

const stageColumns = `
        id, project_id, item_id, name, stage_type_id, status, sort_order,
        planned_start_date, planned_end_date, duration_days, assignee_id,
        is_system, payload, created_at, updated_at`

type StageRepository struct {
	db     querier
	logger *zap.Logger
}

func NewStageRepository(db querier, logger *zap.Logger) *StageRepository {
	return &StageRepository{db: db, logger: logger}
}

func scanStage(row pgx.Row) (*model.Stage, error) {
	var s model.Stage
	err := row.Scan(
		&s.ID,
		&s.ProjectID,
		&s.ItemID,
		&s.Name,
		&s.StageTypeID,
		&s.Status,
		&s.Order,
		&s.PlannedStartDate,
		&s.PlannedEndDate,
		&s.DurationDays,
		&s.AssigneeID,
		&s.IsSystem,
		&s.Payload,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *StageRepository) GetStage(ctx context.Context, id string) (*model.Stage, error) {
	query := `SELECT` + stageColumns + `
        FROM project_stages
        WHERE id = $1
    `
	s, err := scanStage(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "stage", id)
	}
	return s, nil
}

func (r *StageRepository) ListItemStages(ctx context.Context, itemID string) ([]model.Stage, error) {
	query := `SELECT` + stageColumns + `
        FROM project_stages
        WHERE item_id = $1
        ORDER BY sort_order ASC, id ASC
    `
	return r.list(ctx, query, itemID)
}

func (r *StageRepository) ListProjectStages(ctx context.Context, projectID string) ([]model.Stage, error) {
	query := `SELECT` + stageColumns + `
        FROM project_stages
        WHERE project_id = $1
        ORDER BY item_id ASC, sort_order ASC, id ASC
    `
	return r.list(ctx, query, projectID)
}

func (r *StageRepository) list(ctx context.Context, query string, arg string) ([]model.Stage, error) {
	rows, err := r.db.Query(ctx, query, arg)
	if err != nil {
		r.logger.Error("Failed to query stages", zap.Error(err), zap.String("key", arg))
		return nil, err
	}
	defer rows.Close()

	stages := []model.Stage{}
	for rows.Next() {
		s, err := scanStage(rows)
		if err != nil {
			r.logger.Error("Failed to scan stage row", zap.Error(err))
			return nil, err
		}
		stages = append(stages, *s)
	}
	return stages, rows.Err()
}

func (r *StageRepository) InsertStage(ctx context.Context, s *model.Stage) error {
	r.logger.Debug("Inserting stage",
		zap.String("stage_id", s.ID),
		zap.String("item_id", s.ItemID),
		zap.String("stage_type_id", s.StageTypeID),
		zap.Int("order", s.Order),
	)

	query := `
        INSERT INTO project_stages (
            id, project_id, item_id, name, stage_type_id, status, sort_order,
            planned_start_date, planned_end_date, duration_days, assignee_id,
            is_system, payload)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, COALESCE($13::jsonb, '{}'::jsonb))
        RETURNING created_at, updated_at
    `
	err := r.db.QueryRow(ctx, query, insertArgs(s)...).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to insert stage", zap.Error(err), zap.String("stage_id", s.ID))
		return err
	}

	r.logger.Info("Stage inserted successfully",
		zap.String("stage_id", s.ID),
		zap.String("item_id", s.ItemID),
	)
	return nil
}

// InsertSystemStage relies on uq_project_stages_system to drop concurrent duplicates.
func (r *StageRepository) InsertSystemStage(ctx context.Context, s *model.Stage) (bool, error) {
	r.logger.Debug("Inserting system stage",
		zap.String("item_id", s.ItemID),
		zap.String("stage_type_id", s.StageTypeID),
	)

	query := `
        INSERT INTO project_stages (
            id, project_id, item_id, name, stage_type_id, status, sort_order,
            planned_start_date, planned_end_date, duration_days, assignee_id,
            is_system, payload)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, COALESCE($13::jsonb, '{}'::jsonb))
        ON CONFLICT (item_id, stage_type_id) WHERE is_system DO NOTHING
        RETURNING created_at, updated_at
    `
	err := r.db.QueryRow(ctx, query, insertArgs(s)...).Scan(&s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		r.logger.Debug("System stage already present", zap.String("item_id", s.ItemID))
		return false, nil
	}
	if err != nil {
		r.logger.Error("Failed to insert system stage", zap.Error(err), zap.String("item_id", s.ItemID))
		return false, err
	}

	r.logger.Info("System stage provisioned",
		zap.String("stage_id", s.ID),
		zap.String("item_id", s.ItemID),
	)
	return true, nil
}

func insertArgs(s *model.Stage) []any {
	var payload any
	if len(s.Payload) > 0 {
		payload = string(s.Payload)
	}
	return []any{
		s.ID,
		s.ProjectID,
		s.ItemID,
		s.Name,
		s.StageTypeID,
		s.Status,
		s.Order,
		s.PlannedStartDate,
		s.PlannedEndDate,
		s.DurationDays,
		s.AssigneeID,
		s.IsSystem,
		payload,
	}
}

func (r *StageRepository) UpdateStage(ctx context.Context, s *model.Stage) error {
	r.logger.Debug("Updating stage", zap.String("stage_id", s.ID))

	var payload any
	if len(s.Payload) > 0 {
		payload = string(s.Payload)
	}
	query := `
        UPDATE project_stages
        SET name = $2,
            status = $3,
            planned_start_date = $4,
            planned_end_date = $5,
            duration_days = $6,
            assignee_id = $7,
            payload = COALESCE($8::jsonb, payload),
            updated_at = NOW()
        WHERE id = $1
        RETURNING updated_at
    `
	err := r.db.QueryRow(ctx, query,
		s.ID,
		s.Name,
		s.Status,
		s.PlannedStartDate,
		s.PlannedEndDate,
		s.DurationDays,
		s.AssigneeID,
		payload,
	).Scan(&s.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to update stage", zap.Error(err), zap.String("stage_id", s.ID))
		return notFound(err, "stage", s.ID)
	}
	return nil
}

// UpdateStageOrders writes every order in one parameterized statement. The
// (item_id, sort_order) constraint is deferred, so intermediate duplicates
// inside the statement are fine.
func (r *StageRepository) UpdateStageOrders(ctx context.Context, itemID string, orderedIDs []string) error {
	r.logger.Debug("Reordering stages",
		zap.String("item_id", itemID),
		zap.Int("count", len(orderedIDs)),
	)

	orders := make([]int32, len(orderedIDs))
	for i := range orderedIDs {
		orders[i] = int32(i)
	}

	query := `
        UPDATE project_stages AS s
        SET sort_order = v.ord, updated_at = NOW()
        FROM unnest($2::text[], $3::int[]) AS v(id, ord)
        WHERE s.id = v.id AND s.item_id = $1
    `
	tag, err := r.db.Exec(ctx, query, itemID, orderedIDs, orders)
	if err != nil {
		r.logger.Error("Failed to reorder stages", zap.Error(err), zap.String("item_id", itemID))
		return err
	}
	if tag.RowsAffected() != int64(len(orderedIDs)) {
		return fmt.Errorf("reorder touched %d rows, expected %d", tag.RowsAffected(), len(orderedIDs))
	}

	r.logger.Info("Stages reordered",
		zap.String("item_id", itemID),
		zap.Int64("rows_affected", tag.RowsAffected()),
	)
	return nil
}

func (r *StageRepository) DeleteStage(ctx context.Context, id string) error {
	r.logger.Debug("Deleting stage", zap.String("stage_id", id))

	tag, err := r.db.Exec(ctx, `DELETE FROM project_stages WHERE id = $1`, id)
	if err != nil {
		r.logger.Error("Failed to delete stage", zap.Error(err), zap.String("stage_id", id))
		return err
	}
	if tag.RowsAffected() == 0 {
		return &model.NotFoundError{Entity: "stage", ID: id}
	}

	r.logger.Info("Stage deleted", zap.String("stage_id", id))
	return nil
}
