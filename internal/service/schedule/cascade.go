package schedule

import (
	"context"
	"time"

	"go.uber.org/zap"

	"stageflow/internal/graph"
	"stageflow/internal/model"
	"stageflow/internal/store"
	"stageflow/pkg/logger"
	"stageflow/pkg/metrics"
)

// DeadlineResult is the outcome of a deadline edit.
type DeadlineResult struct {
	UpdatedStage  model.Stage          `json:"updated_stage"`
	ShiftedStages []model.ShiftedStage `json:"shifted_stages"`
}

// UpdateStageDeadline sets the planned window of a stage and pushes every
// transitive dependent that would now start before one of its prerequisites
// ends. Dependents keep their duration. The edit, the shifts and one history
// entry per changed stage are written in a single transaction; an unchanged
// window writes nothing.
func (s *Service) UpdateStageDeadline(ctx context.Context, actor model.Actor, stageID string, newStart, newEnd time.Time, reason string) (_ *DeadlineResult, err error) {
	start := time.Now()
	defer func() { err = s.finish(ctx, "update_stage_deadline", start, err) }()

	// 与数据库精度对齐，否则同一窗口的重复提交会被当成修改
	newStart, newEnd = newStart.Truncate(timePrecision), newEnd.Truncate(timePrecision)
	if newEnd.Before(newStart) {
		return nil, &model.ValidationError{Field: "planned_end_date", Message: "must not be before planned_start_date"}
	}
	itemID, err := s.itemOfStage(ctx, stageID)
	if err != nil {
		return nil, err
	}

	var (
		result  *DeadlineResult
		changed bool
		before  model.Stage
	)
	err = s.withItem(ctx, itemID, func(tx store.Tx) error {
		stages, err := tx.ListItemStages(ctx, itemID)
		if err != nil {
			return err
		}
		deps, err := tx.ListItemDependencies(ctx, itemID)
		if err != nil {
			return err
		}
		byID := indexStages(stages)
		edited, ok := byID[stageID]
		if !ok {
			return &model.NotFoundError{Entity: "stage", ID: stageID}
		}
		before = *edited

		changed = !sameWindow(edited, newStart, newEnd)
		if changed {
			edited.SetWindow(newStart, newEnd)
		}

		shifted, err := s.cascade(graph.FromItem(stages, deps), byID, stageID)
		if err != nil {
			return err
		}
		result = &DeadlineResult{UpdatedStage: *edited, ShiftedStages: shifted}

		if changed {
			if err := s.persistWindow(ctx, tx, edited, before.PlannedStartDate, before.PlannedEndDate, actor, reason); err != nil {
				return err
			}
		}
		cascadeReason := "cascade from stage " + stageID
		for _, sh := range shifted {
			oldStart, oldEnd := sh.OldStart, sh.OldEnd
			if err := s.persistWindow(ctx, tx, byID[sh.ID], &oldStart, &oldEnd, actor, cascadeReason); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ObserveCascade(len(result.ShiftedStages))
	if len(result.ShiftedStages) > 0 {
		logger.WithTrace(ctx, s.logger).Info("Deadline cascade applied",
			zap.String("stage_id", stageID),
			zap.Int("shifted", len(result.ShiftedStages)),
		)
	}

	var entries []model.ActivityEntry
	if changed {
		entries = append(entries, model.ActivityEntry{
			EntityType:   model.EntityStage,
			EntityID:     stageID,
			ActionType:   model.ActionUpdated,
			UserID:       actor.UserID,
			FieldChanged: "planned_end_date",
			OldValue:     formatTime(before.PlannedEndDate),
			NewValue:     newEnd.Format(time.RFC3339),
			Description:  "stage " + before.Name + " rescheduled: " + reason,
		})
	}
	for _, sh := range result.ShiftedStages {
		entries = append(entries, model.ActivityEntry{
			EntityType:   model.EntityStage,
			EntityID:     sh.ID,
			ActionType:   model.ActionShifted,
			UserID:       actor.UserID,
			FieldChanged: "planned_end_date",
			OldValue:     sh.OldEnd.Format(time.RFC3339),
			NewValue:     sh.NewEnd.Format(time.RFC3339),
			Description:  "shifted by " + sh.NewEnd.Sub(sh.OldEnd).String() + " after stage " + stageID + " moved",
		})
	}
	s.emit(ctx, entries...)
	return result, nil
}

// cascade walks the dependents of rootID and moves the ones that start too
// early. byID is updated in place. Reached stages are examined in topological
// order so each one is moved at most once, after all of its reached
// prerequisites are final.
func (s *Service) cascade(g *graph.Graph, byID map[string]*model.Stage, rootID string) ([]model.ShiftedStage, error) {
	shifted := []model.ShiftedStage{}
	downstream := g.DownstreamOf(rootID)
	if len(downstream) == 0 {
		return shifted, nil
	}

	reached := make(map[string]struct{}, len(downstream)+1)
	reached[rootID] = struct{}{}
	for _, id := range downstream {
		reached[id] = struct{}{}
	}

	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}
	for _, id := range order {
		if _, ok := reached[id]; !ok || id == rootID {
			continue
		}
		st := byID[id]
		if !st.Scheduled() {
			continue
		}

		var earliest *time.Time
		for _, preID := range g.Prerequisites(id) {
			if _, ok := reached[preID]; !ok {
				continue
			}
			pre := byID[preID]
			if !pre.Scheduled() {
				continue
			}
			bound := pre.PlannedEndDate.Add(s.cfg.MinLag)
			if earliest == nil || bound.After(*earliest) {
				earliest = &bound
			}
		}

		oldStart, oldEnd := st.Window()
		if earliest == nil || !oldStart.Before(*earliest) {
			continue
		}
		delta := earliest.Sub(oldStart)
		st.SetWindow(*earliest, oldEnd.Add(delta))
		shifted = append(shifted, model.ShiftedStage{
			ID:       id,
			OldStart: oldStart,
			OldEnd:   oldEnd,
			NewStart: *st.PlannedStartDate,
			NewEnd:   *st.PlannedEndDate,
		})
	}
	return shifted, nil
}

func (s *Service) persistWindow(ctx context.Context, tx store.Tx, st *model.Stage, oldStart, oldEnd *time.Time, actor model.Actor, reason string) error {
	if err := tx.UpdateStage(ctx, st); err != nil {
		return err
	}
	return tx.InsertDeadlineHistory(ctx, &model.DeadlineHistoryEntry{
		ID:        s.newID(),
		StageID:   st.ID,
		OldStart:  oldStart,
		OldEnd:    oldEnd,
		NewStart:  *st.PlannedStartDate,
		NewEnd:    *st.PlannedEndDate,
		Reason:    reason,
		ChangedBy: actor.UserID,
	})
}

func sameWindow(st *model.Stage, start, end time.Time) bool {
	if !st.Scheduled() {
		return false
	}
	oldStart, oldEnd := st.Window()
	return oldStart.Equal(start) && oldEnd.Equal(end)
}

// GetDeadlineHistory lists the window changes of a stage, newest first.
func (s *Service) GetDeadlineHistory(ctx context.Context, stageID string) (_ []model.DeadlineHistoryEntry, err error) {
	start := time.Now()
	defer func() { err = s.finish(ctx, "get_deadline_history", start, err) }()

	if _, err := s.store.GetStage(ctx, stageID); err != nil {
		return nil, err
	}
	return s.store.ListDeadlineHistory(ctx, stageID)
}
