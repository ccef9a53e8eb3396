package schedule

import (
	"context"
	"time"

	"stageflow/internal/model"
	"stageflow/internal/store"
)

type CreateProjectInput struct {
	Name         string     `json:"name"`
	Status       string     `json:"status"`
	StartedAt    *time.Time `json:"started_at"`
	DurationDays int        `json:"duration_days"`
}

func (s *Service) CreateProject(ctx context.Context, actor model.Actor, in CreateProjectInput) (_ *model.Project, err error) {
	start := time.Now()
	defer func() { err = s.finish(ctx, "create_project", start, err) }()

	if err := required("name", in.Name); err != nil {
		return nil, err
	}
	if in.Status == "" {
		in.Status = model.ProjectStatusPending
	}
	if !model.ValidProjectStatus(in.Status) {
		return nil, &model.ValidationError{Field: "status", Message: "unknown project status " + in.Status}
	}
	if in.DurationDays < 0 {
		return nil, &model.ValidationError{Field: "duration_days", Message: "must not be negative"}
	}

	p := &model.Project{
		ID:           s.newID(),
		Name:         in.Name,
		Status:       in.Status,
		StartedAt:    in.StartedAt,
		DurationDays: in.DurationDays,
	}
	if err := s.store.InTx(ctx, func(tx store.Tx) error {
		return tx.InsertProject(ctx, p)
	}); err != nil {
		return nil, err
	}

	s.emit(ctx, model.ActivityEntry{
		EntityType:  model.EntityProject,
		EntityID:    p.ID,
		ActionType:  model.ActionCreated,
		UserID:      actor.UserID,
		Description: "project " + p.Name + " created",
	})
	return p, nil
}

type CreateItemInput struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// CreateItemResult holds the new item and its provisioned system stage.
type CreateItemResult struct {
	Item        model.Item  `json:"item"`
	SystemStage model.Stage `json:"system_stage"`
}

// CreateItem adds an item to a project and provisions its system stage in
// the same transaction.
func (s *Service) CreateItem(ctx context.Context, actor model.Actor, projectID string, in CreateItemInput) (_ *CreateItemResult, err error) {
	start := time.Now()
	defer func() { err = s.finish(ctx, "create_item", start, err) }()

	if err := required("name", in.Name); err != nil {
		return nil, err
	}
	if in.Quantity == 0 {
		in.Quantity = 1
	}
	if in.Quantity < 0 {
		return nil, &model.ValidationError{Field: "quantity", Message: "must be positive"}
	}

	item := &model.Item{
		ID:        s.newID(),
		ProjectID: projectID,
		Name:      in.Name,
		Quantity:  in.Quantity,
	}
	var (
		sys     *model.Stage
		created bool
	)
	err = s.withItem(ctx, item.ID, func(tx store.Tx) error {
		if _, err := tx.GetProject(ctx, projectID); err != nil {
			return err
		}
		if err := tx.InsertItem(ctx, item); err != nil {
			return err
		}
		var err error
		sys, created, err = s.ensureSystemStage(ctx, tx, item)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.afterSystemStage(ctx, actor, sys, created)
	s.emit(ctx, model.ActivityEntry{
		EntityType:  model.EntityItem,
		EntityID:    item.ID,
		ActionType:  model.ActionCreated,
		UserID:      actor.UserID,
		Description: "item " + item.Name + " created",
	})
	return &CreateItemResult{Item: *item, SystemStage: *sys}, nil
}

func (s *Service) GetProject(ctx context.Context, projectID string) (_ *model.Project, err error) {
	start := time.Now()
	defer func() { err = s.finish(ctx, "get_project", start, err) }()
	return s.store.GetProject(ctx, projectID)
}

func (s *Service) ListProjectItems(ctx context.Context, projectID string) (_ []model.Item, err error) {
	start := time.Now()
	defer func() { err = s.finish(ctx, "list_project_items", start, err) }()

	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return s.store.ListProjectItems(ctx, projectID)
}

// ProjectFinalDeadline is the latest planned end over the project's stages.
// Without any scheduled stage it falls back to started_at + duration_days,
// and to nil when the project has not started either.
func (s *Service) ProjectFinalDeadline(ctx context.Context, projectID string) (_ *time.Time, err error) {
	start := time.Now()
	defer func() { err = s.finish(ctx, "project_final_deadline", start, err) }()

	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	stages, err := s.store.ListProjectStages(ctx, projectID)
	if err != nil {
		return nil, err
	}

	var latest *time.Time
	for i := range stages {
		end := stages[i].PlannedEndDate
		if end == nil {
			continue
		}
		if latest == nil || end.After(*latest) {
			t := *end
			latest = &t
		}
	}
	if latest != nil {
		return latest, nil
	}
	if p.StartedAt != nil {
		t := p.StartedAt.AddDate(0, 0, p.DurationDays)
		return &t, nil
	}
	return nil, nil
}
