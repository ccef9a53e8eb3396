package schedule

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"stageflow/internal/graph"
	"stageflow/internal/model"
	"stageflow/internal/store"
	"stageflow/pkg/rbac"
)

type CreateStageInput struct {
	ItemID           string          `json:"item_id"`
	Name             string          `json:"name"`
	StageTypeID      string          `json:"stage_type_id"`
	PlannedStartDate *time.Time      `json:"planned_start_date"`
	PlannedEndDate   *time.Time      `json:"planned_end_date"`
	DurationDays     int             `json:"duration_days"`
	AssigneeID       *string         `json:"assignee_id"`
	Payload          json.RawMessage `json:"payload"`
}

func (in CreateStageInput) validate() error {
	if err := required("item_id", in.ItemID); err != nil {
		return err
	}
	if err := required("name", in.Name); err != nil {
		return err
	}
	if err := required("stage_type_id", in.StageTypeID); err != nil {
		return err
	}
	if in.DurationDays < 0 {
		return &model.ValidationError{Field: "duration_days", Message: "must not be negative"}
	}
	if (in.PlannedStartDate == nil) != (in.PlannedEndDate == nil) {
		return &model.ValidationError{Field: "planned_end_date", Message: "start and end must be set together"}
	}
	if in.PlannedStartDate != nil && in.PlannedEndDate.Before(*in.PlannedStartDate) {
		return &model.ValidationError{Field: "planned_end_date", Message: "must not be before planned_start_date"}
	}
	return nil
}

// CreateStage appends a stage to the end of the item's order.
func (s *Service) CreateStage(ctx context.Context, actor model.Actor, in CreateStageInput) (_ *model.Stage, err error) {
	start := time.Now()
	defer func() { err = s.finish(ctx, "create_stage", start, err) }()

	if err := in.validate(); err != nil {
		return nil, err
	}
	// 系统阶段只能由 EnsureSystemStage 创建，每个 item 恰好一个
	if in.StageTypeID == s.cfg.SystemStageType {
		return nil, &model.ValidationError{Field: "stage_type_id", Message: in.StageTypeID + " stages are provisioned by the system"}
	}
	in.PlannedStartDate = truncateTime(in.PlannedStartDate)
	in.PlannedEndDate = truncateTime(in.PlannedEndDate)
	payload, err := model.NormalizePayload(in.StageTypeID, in.Payload)
	if err != nil {
		return nil, err
	}

	st := &model.Stage{
		ID:               s.newID(),
		ItemID:           in.ItemID,
		Name:             in.Name,
		StageTypeID:      in.StageTypeID,
		Status:           model.StageStatusPending,
		PlannedStartDate: in.PlannedStartDate,
		PlannedEndDate:   in.PlannedEndDate,
		DurationDays:     in.DurationDays,
		AssigneeID:       in.AssigneeID,
		Payload:          payload,
	}
	err = s.withItem(ctx, in.ItemID, func(tx store.Tx) error {
		item, err := tx.GetItem(ctx, in.ItemID)
		if err != nil {
			return err
		}
		stages, err := tx.ListItemStages(ctx, in.ItemID)
		if err != nil {
			return err
		}
		st.ProjectID = item.ProjectID
		st.Order = len(stages)
		return tx.InsertStage(ctx, st)
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, model.ActivityEntry{
		EntityType:  model.EntityStage,
		EntityID:    st.ID,
		ActionType:  model.ActionCreated,
		UserID:      actor.UserID,
		Description: "stage " + st.Name + " created",
	})
	return st, nil
}

// UpdateStageInput is a partial update; nil fields are left as they are.
// Planned dates change through UpdateStageDeadline only.
type UpdateStageInput struct {
	Name         *string         `json:"name"`
	DurationDays *int            `json:"duration_days"`
	AssigneeID   *string         `json:"assignee_id"` // "" clears the assignee
	Payload      json.RawMessage `json:"payload"`
}

func (s *Service) UpdateStage(ctx context.Context, actor model.Actor, stageID string, in UpdateStageInput) (_ *model.Stage, err error) {
	start := time.Now()
	defer func() { err = s.finish(ctx, "update_stage", start, err) }()

	if in.Name != nil && *in.Name == "" {
		return nil, &model.ValidationError{Field: "name", Message: "must not be empty"}
	}
	if in.DurationDays != nil && *in.DurationDays < 0 {
		return nil, &model.ValidationError{Field: "duration_days", Message: "must not be negative"}
	}

	itemID, err := s.itemOfStage(ctx, stageID)
	if err != nil {
		return nil, err
	}

	var (
		updated *model.Stage
		changes []model.ActivityEntry
	)
	err = s.withItem(ctx, itemID, func(tx store.Tx) error {
		st, err := tx.GetStage(ctx, stageID)
		if err != nil {
			return err
		}
		change := func(field, oldValue, newValue string) {
			changes = append(changes, model.ActivityEntry{
				EntityType:   model.EntityStage,
				EntityID:     st.ID,
				ActionType:   model.ActionUpdated,
				UserID:       actor.UserID,
				FieldChanged: field,
				OldValue:     oldValue,
				NewValue:     newValue,
				Description:  "stage " + st.Name + ": " + field + " changed",
			})
		}

		if in.Name != nil && *in.Name != st.Name {
			change("name", st.Name, *in.Name)
			st.Name = *in.Name
		}
		if in.DurationDays != nil && *in.DurationDays != st.DurationDays {
			change("duration_days", strconv.Itoa(st.DurationDays), strconv.Itoa(*in.DurationDays))
			st.DurationDays = *in.DurationDays
		}
		if in.AssigneeID != nil {
			old := ""
			if st.AssigneeID != nil {
				old = *st.AssigneeID
			}
			if old != *in.AssigneeID {
				change("assignee_id", old, *in.AssigneeID)
				st.AssigneeID = nil
				if *in.AssigneeID != "" {
					id := *in.AssigneeID
					st.AssigneeID = &id
				}
			}
		}
		if in.Payload != nil {
			payload, err := model.NormalizePayload(st.StageTypeID, in.Payload)
			if err != nil {
				return err
			}
			if string(payload) != string(st.Payload) {
				change("payload", string(st.Payload), string(payload))
				st.Payload = payload
			}
		}

		updated = st
		if len(changes) == 0 {
			return nil
		}
		return tx.UpdateStage(ctx, st)
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, changes...)
	return updated, nil
}

// UpdateStageStatus moves a stage to status. Starting a stage whose direct
// prerequisites are not all completed fails with BlockedStageError.
func (s *Service) UpdateStageStatus(ctx context.Context, actor model.Actor, stageID, status string) (_ *model.Stage, err error) {
	start := time.Now()
	defer func() { err = s.finish(ctx, "update_stage_status", start, err) }()

	if !model.ValidStageStatus(status) {
		return nil, &model.ValidationError{Field: "status", Message: "unknown stage status " + status}
	}
	itemID, err := s.itemOfStage(ctx, stageID)
	if err != nil {
		return nil, err
	}

	var (
		st  *model.Stage
		old string
	)
	err = s.withItem(ctx, itemID, func(tx store.Tx) error {
		var err error
		st, err = tx.GetStage(ctx, stageID)
		if err != nil {
			return err
		}
		old = st.Status
		if old == status {
			return nil
		}
		if status == model.StageStatusInProgress {
			blockers, err := blockersOf(ctx, tx, st)
			if err != nil {
				return err
			}
			if len(blockers) > 0 {
				ids := make([]string, len(blockers))
				for i, b := range blockers {
					ids[i] = b.ID
				}
				return &model.BlockedStageError{StageID: st.ID, Blockers: ids}
			}
		}
		st.Status = status
		return tx.UpdateStage(ctx, st)
	})
	if err != nil {
		return nil, err
	}

	if old != status {
		s.emit(ctx, model.ActivityEntry{
			EntityType:   model.EntityStage,
			EntityID:     st.ID,
			ActionType:   model.ActionUpdated,
			UserID:       actor.UserID,
			FieldChanged: "status",
			OldValue:     old,
			NewValue:     status,
			Description:  "stage " + st.Name + " moved to " + status,
		})
	}
	return st, nil
}

// DeleteStage removes a stage with its edges and closes the gap in the
// item's order. System stages can only be removed by admins.
func (s *Service) DeleteStage(ctx context.Context, actor model.Actor, stageID string) (err error) {
	start := time.Now()
	defer func() { err = s.finish(ctx, "delete_stage", start, err) }()

	itemID, err := s.itemOfStage(ctx, stageID)
	if err != nil {
		return err
	}

	var name string
	err = s.withItem(ctx, itemID, func(tx store.Tx) error {
		st, err := tx.GetStage(ctx, stageID)
		if err != nil {
			return err
		}
		if st.IsSystem {
			if err := rbac.CheckPermission(actor, rbac.PermissionDeleteSystemStage); err != nil {
				return err
			}
		}
		name = st.Name
		if err := tx.DeleteStage(ctx, stageID); err != nil {
			return err
		}

		rest, err := tx.ListItemStages(ctx, itemID)
		if err != nil {
			return err
		}
		if len(rest) == 0 {
			return nil
		}
		ids := make([]string, len(rest))
		for i, r := range rest {
			ids[i] = r.ID
		}
		return tx.UpdateStageOrders(ctx, itemID, ids)
	})
	if err != nil {
		return err
	}

	s.emit(ctx, model.ActivityEntry{
		EntityType:  model.EntityStage,
		EntityID:    stageID,
		ActionType:  model.ActionDeleted,
		UserID:      actor.UserID,
		Description: "stage " + name + " deleted",
	})
	return nil
}

func (s *Service) GetStage(ctx context.Context, stageID string) (_ *model.Stage, err error) {
	start := time.Now()
	defer func() { err = s.finish(ctx, "get_stage", start, err) }()
	return s.store.GetStage(ctx, stageID)
}

// ListItemStages returns the item's stages by order.
func (s *Service) ListItemStages(ctx context.Context, itemID string) (_ []model.Stage, err error) {
	start := time.Now()
	defer func() { err = s.finish(ctx, "list_item_stages", start, err) }()

	if _, err := s.store.GetItem(ctx, itemID); err != nil {
		return nil, err
	}
	return s.store.ListItemStages(ctx, itemID)
}

// GetBlockers returns the direct prerequisites of a stage that are not
// completed yet. The stage is actionable when the result is empty.
func (s *Service) GetBlockers(ctx context.Context, stageID string) (_ []model.Stage, err error) {
	start := time.Now()
	defer func() { err = s.finish(ctx, "get_blockers", start, err) }()

	st, err := s.store.GetStage(ctx, stageID)
	if err != nil {
		return nil, err
	}
	return blockersOf(ctx, s.store, st)
}

func blockersOf(ctx context.Context, r store.Reader, st *model.Stage) ([]model.Stage, error) {
	stages, err := r.ListItemStages(ctx, st.ItemID)
	if err != nil {
		return nil, err
	}
	deps, err := r.ListItemDependencies(ctx, st.ItemID)
	if err != nil {
		return nil, err
	}

	g := graph.FromItem(stages, deps)
	byID := indexStages(stages)
	blockers := []model.Stage{}
	for _, id := range g.Prerequisites(st.ID) {
		if pre, ok := byID[id]; ok && pre.Status != model.StageStatusCompleted {
			blockers = append(blockers, *pre)
		}
	}
	return blockers, nil
}

func indexStages(stages []model.Stage) map[string]*model.Stage {
	byID := make(map[string]*model.Stage, len(stages))
	for i := range stages {
		byID[stages[i].ID] = &stages[i]
	}
	return byID
}
