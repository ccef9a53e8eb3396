package repository

import (
	"context"

	"go.uber.org/zap"

	"stageflow/internal/model"
)

type HistoryRepository struct {
	db     querier
	logger *zap.Logger
}

func NewHistoryRepository(db querier, logger *zap.Logger) *HistoryRepository {
	return &HistoryRepository{db: db, logger: logger}
}

func (r *HistoryRepository) InsertDeadlineHistory(ctx context.Context, e *model.DeadlineHistoryEntry) error {
	query := `
        INSERT INTO stage_deadline_history (id, stage_id, old_start, old_end, new_start, new_end, reason, changed_by)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING created_at
    `
	err := r.db.QueryRow(ctx, query,
		e.ID,
		e.StageID,
		e.OldStart,
		e.OldEnd,
		e.NewStart,
		e.NewEnd,
		e.Reason,
		e.ChangedBy,
	).Scan(&e.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to insert deadline history", zap.Error(err), zap.String("stage_id", e.StageID))
		return err
	}
	return nil
}

func (r *HistoryRepository) ListDeadlineHistory(ctx context.Context, stageID string) ([]model.DeadlineHistoryEntry, error) {
	query := `
        SELECT id, stage_id, old_start, old_end, new_start, new_end, reason, changed_by, created_at
        FROM stage_deadline_history
        WHERE stage_id = $1
        ORDER BY created_at DESC, id DESC
    `
	rows, err := r.db.Query(ctx, query, stageID)
	if err != nil {
		r.logger.Error("Failed to query deadline history", zap.Error(err), zap.String("stage_id", stageID))
		return nil, err
	}
	defer rows.Close()

	entries := []model.DeadlineHistoryEntry{}
	for rows.Next() {
		var e model.DeadlineHistoryEntry
		if err := rows.Scan(
			&e.ID,
			&e.StageID,
			&e.OldStart,
			&e.OldEnd,
			&e.NewStart,
			&e.NewEnd,
			&e.Reason,
			&e.ChangedBy,
			&e.CreatedAt,
		); err != nil {
			r.logger.Error("Failed to scan deadline history row", zap.Error(err))
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
