package schedule

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"stageflow/internal/graph"
	"stageflow/internal/model"
	"stageflow/internal/store"
	"stageflow/pkg/logger"
	"stageflow/pkg/metrics"
)

// AddDependency records that stageID cannot start before dependsOnID is
// completed. Edges across items and edges closing a cycle are rejected with
// CyclicDependencyError and nothing is written.
func (s *Service) AddDependency(ctx context.Context, actor model.Actor, stageID, dependsOnID string) (_ *model.Dependency, err error) {
	start := time.Now()
	defer func() { err = s.finish(ctx, "add_dependency", start, err) }()

	if err := required("stage_id", stageID); err != nil {
		return nil, err
	}
	if err := required("depends_on_stage_id", dependsOnID); err != nil {
		return nil, err
	}
	itemID, err := s.itemOfStage(ctx, stageID)
	if err != nil {
		return nil, err
	}

	dep := &model.Dependency{ID: s.newID(), StageID: stageID, DependsOnStageID: dependsOnID}
	err = s.withItem(ctx, itemID, func(tx store.Tx) error {
		st, err := tx.GetStage(ctx, stageID)
		if err != nil {
			return err
		}
		pre, err := tx.GetStage(ctx, dependsOnID)
		if err != nil {
			return err
		}
		if st.ItemID != pre.ItemID {
			return &model.CyclicDependencyError{StageID: stageID, DependsOnStageID: dependsOnID}
		}

		stages, err := tx.ListItemStages(ctx, itemID)
		if err != nil {
			return err
		}
		deps, err := tx.ListItemDependencies(ctx, itemID)
		if err != nil {
			return err
		}
		g := graph.FromItem(stages, deps)
		if g.HasEdge(stageID, dependsOnID) {
			return &model.ValidationError{Field: "depends_on_stage_id", Message: "dependency already exists"}
		}
		if err := g.AddEdge(stageID, dependsOnID); err != nil {
			return err
		}
		return tx.InsertDependency(ctx, dep)
	})
	if err != nil {
		if errors.Is(err, model.ErrCyclicDependency) {
			metrics.IncrementCyclicRejected()
			logger.WithTrace(ctx, s.logger).Info("Dependency rejected",
				zap.String("stage_id", stageID),
				zap.String("depends_on_stage_id", dependsOnID),
			)
		}
		return nil, err
	}

	s.emit(ctx, model.ActivityEntry{
		EntityType:  model.EntityDependency,
		EntityID:    dep.ID,
		ActionType:  model.ActionCreated,
		UserID:      actor.UserID,
		NewValue:    dependsOnID,
		Description: "stage " + stageID + " now depends on " + dependsOnID,
	})
	return dep, nil
}

func (s *Service) RemoveDependency(ctx context.Context, actor model.Actor, dependencyID string) (err error) {
	start := time.Now()
	defer func() { err = s.finish(ctx, "remove_dependency", start, err) }()

	dep, err := s.store.GetDependency(ctx, dependencyID)
	if err != nil {
		return err
	}
	itemID, err := s.itemOfStage(ctx, dep.StageID)
	if err != nil {
		return err
	}

	err = s.withItem(ctx, itemID, func(tx store.Tx) error {
		return tx.DeleteDependency(ctx, dependencyID)
	})
	if err != nil {
		return err
	}

	s.emit(ctx, model.ActivityEntry{
		EntityType:  model.EntityDependency,
		EntityID:    dependencyID,
		ActionType:  model.ActionDeleted,
		UserID:      actor.UserID,
		OldValue:    dep.DependsOnStageID,
		Description: "stage " + dep.StageID + " no longer depends on " + dep.DependsOnStageID,
	})
	return nil
}

func (s *Service) ListItemDependencies(ctx context.Context, itemID string) (_ []model.Dependency, err error) {
	start := time.Now()
	defer func() { err = s.finish(ctx, "list_item_dependencies", start, err) }()

	if _, err := s.store.GetItem(ctx, itemID); err != nil {
		return nil, err
	}
	return s.store.ListItemDependencies(ctx, itemID)
}
