package schedule

import (
	"context"
	"time"

	"go.uber.org/zap"

	"stageflow/internal/model"
	"stageflow/internal/store"
	"stageflow/pkg/logger"
	"stageflow/pkg/metrics"
)

// EnsureSystemStage makes sure the item has a stage of stageType. A missing
// one is created at order 0 as a pending system stage and the existing stages
// move down by one. An empty stageType means the configured system type.
// The returned flag reports whether a stage was created.
func (s *Service) EnsureSystemStage(ctx context.Context, actor model.Actor, itemID, stageType string) (_ *model.Stage, _ bool, err error) {
	start := time.Now()
	defer func() { err = s.finish(ctx, "ensure_system_stage", start, err) }()

	var (
		sys     *model.Stage
		created bool
	)
	err = s.withItem(ctx, itemID, func(tx store.Tx) error {
		item, err := tx.GetItem(ctx, itemID)
		if err != nil {
			return err
		}
		sys, created, err = s.ensureStageOfType(ctx, tx, item, stageType)
		return err
	})
	if err != nil {
		return nil, false, err
	}

	s.afterSystemStage(ctx, actor, sys, created)
	return sys, created, nil
}

func (s *Service) ensureSystemStage(ctx context.Context, tx store.Tx, item *model.Item) (*model.Stage, bool, error) {
	return s.ensureStageOfType(ctx, tx, item, "")
}

func (s *Service) ensureStageOfType(ctx context.Context, tx store.Tx, item *model.Item, stageType string) (*model.Stage, bool, error) {
	name := s.cfg.SystemStageName
	if stageType == "" || stageType == s.cfg.SystemStageType {
		stageType = s.cfg.SystemStageType
	} else {
		name = stageType
	}

	stages, err := tx.ListItemStages(ctx, item.ID)
	if err != nil {
		return nil, false, err
	}
	if existing := findStageOfType(stages, stageType); existing != nil {
		return existing, false, nil
	}

	payload, err := model.NormalizePayload(stageType, nil)
	if err != nil {
		return nil, false, err
	}
	sys := &model.Stage{
		ID:          s.newID(),
		ProjectID:   item.ProjectID,
		ItemID:      item.ID,
		Name:        name,
		StageTypeID: stageType,
		Status:      model.StageStatusPending,
		Order:       0,
		IsSystem:    true,
		Payload:     payload,
	}
	inserted, err := tx.InsertSystemStage(ctx, sys)
	if err != nil {
		return nil, false, err
	}
	if !inserted {
		// a concurrent writer won the unique index
		stages, err = tx.ListItemStages(ctx, item.ID)
		if err != nil {
			return nil, false, err
		}
		if existing := findStageOfType(stages, stageType); existing != nil {
			return existing, false, nil
		}
		return nil, false, &model.NotFoundError{Entity: "system stage", ID: item.ID}
	}

	ordered := make([]string, 0, len(stages)+1)
	ordered = append(ordered, sys.ID)
	for _, st := range stages {
		ordered = append(ordered, st.ID)
	}
	if err := tx.UpdateStageOrders(ctx, item.ID, ordered); err != nil {
		return nil, false, err
	}
	return sys, true, nil
}

func (s *Service) afterSystemStage(ctx context.Context, actor model.Actor, sys *model.Stage, created bool) {
	if !created {
		return
	}
	metrics.IncrementSystemStageProvisioned()
	logger.WithTrace(ctx, s.logger).Info("System stage provisioned",
		zap.String("item_id", sys.ItemID),
		zap.String("stage_id", sys.ID),
		zap.String("stage_type", sys.StageTypeID),
	)
	s.emit(ctx, model.ActivityEntry{
		EntityType:  model.EntityStage,
		EntityID:    sys.ID,
		ActionType:  model.ActionCreated,
		UserID:      actor.UserID,
		Description: "system stage " + sys.Name + " provisioned",
	})
}

func findStageOfType(stages []model.Stage, stageType string) *model.Stage {
	for i := range stages {
		if stages[i].StageTypeID == stageType {
			st := stages[i]
			return &st
		}
	}
	return nil
}
