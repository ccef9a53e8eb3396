package schedule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"stageflow/internal/model"
	"stageflow/internal/store"
)

// ReorderItemStages sets order = index for every stage of the item.
// orderedIDs must be exactly the item's stage set.
func (s *Service) ReorderItemStages(ctx context.Context, actor model.Actor, itemID string, orderedIDs []string) (_ []model.Stage, err error) {
	start := time.Now()
	defer func() { err = s.finish(ctx, "reorder_item_stages", start, err) }()

	var stages []model.Stage
	err = s.withItem(ctx, itemID, func(tx store.Tx) error {
		if _, err := tx.GetItem(ctx, itemID); err != nil {
			return err
		}
		current, err := tx.ListItemStages(ctx, itemID)
		if err != nil {
			return err
		}
		if err := checkReorderSet(itemID, current, orderedIDs); err != nil {
			return err
		}
		if err := tx.UpdateStageOrders(ctx, itemID, orderedIDs); err != nil {
			return err
		}
		stages, err = tx.ListItemStages(ctx, itemID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, model.ActivityEntry{
		EntityType:  model.EntityItem,
		EntityID:    itemID,
		ActionType:  model.ActionReordered,
		UserID:      actor.UserID,
		NewValue:    strings.Join(orderedIDs, ","),
		Description: fmt.Sprintf("%d stages reordered", len(orderedIDs)),
	})
	return stages, nil
}

func checkReorderSet(itemID string, current []model.Stage, orderedIDs []string) error {
	if len(orderedIDs) != len(current) {
		return &model.InvalidReorderSetError{
			ItemID: itemID,
			Reason: fmt.Sprintf("expected %d stage ids, got %d", len(current), len(orderedIDs)),
		}
	}
	owned := make(map[string]struct{}, len(current))
	for _, st := range current {
		owned[st.ID] = struct{}{}
	}
	seen := make(map[string]struct{}, len(orderedIDs))
	for _, id := range orderedIDs {
		if _, ok := owned[id]; !ok {
			return &model.InvalidReorderSetError{ItemID: itemID, Reason: "stage " + id + " does not belong to the item"}
		}
		if _, dup := seen[id]; dup {
			return &model.InvalidReorderSetError{ItemID: itemID, Reason: "stage " + id + " listed twice"}
		}
		seen[id] = struct{}{}
	}
	return nil
}
