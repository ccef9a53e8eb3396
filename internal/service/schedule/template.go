package schedule

import (
	"context"
	"sort"
	"strconv"
	"time"

	"stageflow/internal/graph"
	"stageflow/internal/model"
	"stageflow/internal/store"
)

type TemplateStageInput struct {
	// Key identifies the stage inside the request so edges can refer to it.
	Key          string `json:"key"`
	Name         string `json:"name"`
	StageTypeID  string `json:"stage_type_id"`
	DurationDays int    `json:"duration_days"`
}

type TemplateEdgeInput struct {
	StageKey     string `json:"stage_key"`
	DependsOnKey string `json:"depends_on_key"`
}

type CreateTemplateInput struct {
	Name         string               `json:"name"`
	Description  string               `json:"description"`
	Stages       []TemplateStageInput `json:"stages"`
	Dependencies []TemplateEdgeInput  `json:"dependencies"`
}

// CreateTemplate stores a template whose stage graph is checked to be acyclic.
func (s *Service) CreateTemplate(ctx context.Context, actor model.Actor, in CreateTemplateInput) (_ *model.ProcessTemplate, err error) {
	start := time.Now()
	defer func() { err = s.finish(ctx, "create_template", start, err) }()

	if err := required("name", in.Name); err != nil {
		return nil, err
	}
	if len(in.Stages) == 0 {
		return nil, &model.ValidationError{Field: "stages", Message: "at least one stage is required"}
	}

	tpl := &model.ProcessTemplate{
		ID:          s.newID(),
		Name:        in.Name,
		Description: in.Description,
	}
	g := graph.New()
	ids := make(map[string]string, len(in.Stages))
	systemKey := ""
	for i, st := range in.Stages {
		field := "stages[" + strconv.Itoa(i) + "]"
		if st.Key == "" {
			st.Key = strconv.Itoa(i)
		}
		if _, dup := ids[st.Key]; dup {
			return nil, &model.ValidationError{Field: field + ".key", Message: "duplicate key " + st.Key}
		}
		if err := required(field+".name", st.Name); err != nil {
			return nil, err
		}
		if err := required(field+".stage_type_id", st.StageTypeID); err != nil {
			return nil, err
		}
		if st.DurationDays < 0 {
			return nil, &model.ValidationError{Field: field + ".duration_days", Message: "must not be negative"}
		}
		if st.StageTypeID == s.cfg.SystemStageType {
			if systemKey != "" {
				return nil, &model.ValidationError{Field: field + ".stage_type_id", Message: "only one " + st.StageTypeID + " stage is allowed, already used by " + systemKey}
			}
			systemKey = st.Key
		}
		id := s.newID()
		ids[st.Key] = id
		g.AddNode(id)
		tpl.Stages = append(tpl.Stages, model.TemplateStage{
			ID:           id,
			TemplateID:   tpl.ID,
			Name:         st.Name,
			StageTypeID:  st.StageTypeID,
			DurationDays: st.DurationDays,
			Order:        i,
		})
	}
	for i, e := range in.Dependencies {
		from, ok := ids[e.StageKey]
		if !ok {
			return nil, &model.ValidationError{Field: "dependencies[" + strconv.Itoa(i) + "].stage_key", Message: "unknown stage key " + e.StageKey}
		}
		to, ok := ids[e.DependsOnKey]
		if !ok {
			return nil, &model.ValidationError{Field: "dependencies[" + strconv.Itoa(i) + "].depends_on_key", Message: "unknown stage key " + e.DependsOnKey}
		}
		if g.HasEdge(from, to) {
			continue
		}
		if err := g.AddEdge(from, to); err != nil {
			return nil, err
		}
		tpl.Dependencies = append(tpl.Dependencies, model.TemplateDependency{
			ID:                       s.newID(),
			TemplateID:               tpl.ID,
			TemplateStageID:          from,
			DependsOnTemplateStageID: to,
		})
	}

	if err := s.store.InTx(ctx, func(tx store.Tx) error {
		return tx.InsertTemplate(ctx, tpl)
	}); err != nil {
		return nil, err
	}
	return tpl, nil
}

func (s *Service) GetTemplate(ctx context.Context, templateID string) (_ *model.ProcessTemplate, err error) {
	start := time.Now()
	defer func() { err = s.finish(ctx, "get_template", start, err) }()
	return s.store.GetTemplate(ctx, templateID)
}

func (s *Service) ListTemplates(ctx context.Context) (_ []model.ProcessTemplate, err error) {
	start := time.Now()
	defer func() { err = s.finish(ctx, "list_templates", start, err) }()
	return s.store.ListTemplates(ctx)
}

// ApplyResult holds what a template application created.
type ApplyResult struct {
	Stages       []model.Stage      `json:"stages"`
	Dependencies []model.Dependency `json:"dependencies"`
}

// ApplyTemplateToItem copies a template's stages and edges into the item,
// after its existing stages. A template stage of the system type is not
// copied: its edges attach to the item's system stage, which is provisioned
// first when missing. With startAt set the new stages are laid out back to
// back in dependency order starting at startAt.
func (s *Service) ApplyTemplateToItem(ctx context.Context, actor model.Actor, templateID, itemID string, startAt *time.Time) (_ *ApplyResult, err error) {
	start := time.Now()
	defer func() { err = s.finish(ctx, "apply_template", start, err) }()

	startAt = truncateTime(startAt)
	var (
		result     *ApplyResult
		name       string
		sys        *model.Stage
		sysCreated bool
	)
	err = s.withItem(ctx, itemID, func(tx store.Tx) error {
		item, err := tx.GetItem(ctx, itemID)
		if err != nil {
			return err
		}
		tpl, err := tx.GetTemplate(ctx, templateID)
		if err != nil {
			return err
		}
		name = tpl.Name
		if s.systemTemplateStage(tpl) != nil {
			if sys, sysCreated, err = s.ensureSystemStage(ctx, tx, item); err != nil {
				return err
			}
		}
		existing, err := tx.ListItemStages(ctx, itemID)
		if err != nil {
			return err
		}
		deps, err := tx.ListItemDependencies(ctx, itemID)
		if err != nil {
			return err
		}

		result, err = s.instantiate(tpl, item, existing, deps, startAt)
		if err != nil {
			return err
		}
		for i := range result.Stages {
			if err := tx.InsertStage(ctx, &result.Stages[i]); err != nil {
				return err
			}
		}
		for i := range result.Dependencies {
			if err := tx.InsertDependency(ctx, &result.Dependencies[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if sys != nil {
		s.afterSystemStage(ctx, actor, sys, sysCreated)
	}
	entries := []model.ActivityEntry{{
		EntityType:  model.EntityItem,
		EntityID:    itemID,
		ActionType:  model.ActionTemplated,
		UserID:      actor.UserID,
		NewValue:    templateID,
		Description: "template " + name + " applied with " + strconv.Itoa(len(result.Stages)) + " stages",
	}}
	for _, st := range result.Stages {
		entries = append(entries, model.ActivityEntry{
			EntityType:  model.EntityStage,
			EntityID:    st.ID,
			ActionType:  model.ActionCreated,
			UserID:      actor.UserID,
			Description: "stage " + st.Name + " created from template " + name,
		})
	}
	s.emit(ctx, entries...)
	return result, nil
}

func (s *Service) systemTemplateStage(tpl *model.ProcessTemplate) *model.TemplateStage {
	for i := range tpl.Stages {
		if tpl.Stages[i].StageTypeID == s.cfg.SystemStageType {
			return &tpl.Stages[i]
		}
	}
	return nil
}

// instantiate builds the new stages and edges without touching the store.
func (s *Service) instantiate(tpl *model.ProcessTemplate, item *model.Item, existing []model.Stage, deps []model.Dependency, startAt *time.Time) (*ApplyResult, error) {
	tplStages := append([]model.TemplateStage(nil), tpl.Stages...)
	sort.SliceStable(tplStages, func(i, j int) bool { return tplStages[i].Order < tplStages[j].Order })

	base := 0
	for _, st := range existing {
		if st.Order >= base {
			base = st.Order + 1
		}
	}

	g := graph.FromItem(existing, deps)
	result := &ApplyResult{
		Stages:       make([]model.Stage, 0, len(tplStages)),
		Dependencies: make([]model.Dependency, 0, len(tpl.Dependencies)),
	}
	// template stage id -> item stage id
	remap := make(map[string]string, len(tplStages))
	for _, ts := range tplStages {
		if ts.StageTypeID == s.cfg.SystemStageType {
			sys := findStageOfType(existing, ts.StageTypeID)
			if sys == nil {
				return nil, &model.NotFoundError{Entity: "system stage", ID: item.ID}
			}
			remap[ts.ID] = sys.ID
			continue
		}
		payload, err := model.NormalizePayload(ts.StageTypeID, nil)
		if err != nil {
			return nil, err
		}
		st := model.Stage{
			ID:           s.newID(),
			ProjectID:    item.ProjectID,
			ItemID:       item.ID,
			Name:         ts.Name,
			StageTypeID:  ts.StageTypeID,
			Status:       model.StageStatusPending,
			Order:        base + len(result.Stages),
			DurationDays: ts.DurationDays,
			Payload:      payload,
		}
		remap[ts.ID] = st.ID
		g.AddNode(st.ID)
		result.Stages = append(result.Stages, st)
	}

	for _, td := range tpl.Dependencies {
		from, okFrom := remap[td.TemplateStageID]
		to, okTo := remap[td.DependsOnTemplateStageID]
		if !okFrom || !okTo {
			return nil, &model.ValidationError{Field: "template", Message: "template dependency " + td.ID + " references an unknown stage"}
		}
		if g.HasEdge(from, to) {
			continue
		}
		dep := model.Dependency{
			ID:               s.newID(),
			StageID:          from,
			DependsOnStageID: to,
		}
		if err := g.AddEdge(dep.StageID, dep.DependsOnStageID); err != nil {
			return nil, err
		}
		result.Dependencies = append(result.Dependencies, dep)
	}

	if startAt != nil {
		if err := s.layout(g, result.Stages, existing, *startAt); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// layout schedules the new stages from startAt, each starting once all of
// its scheduled prerequisites have ended. Existing stages are read, never moved.
func (s *Service) layout(g *graph.Graph, stages, existing []model.Stage, startAt time.Time) error {
	byID := make(map[string]*model.Stage, len(stages)+len(existing))
	for i := range existing {
		byID[existing[i].ID] = &existing[i]
	}
	fresh := make(map[string]bool, len(stages))
	for i := range stages {
		byID[stages[i].ID] = &stages[i]
		fresh[stages[i].ID] = true
	}
	order, err := g.TopologicalOrder()
	if err != nil {
		return err
	}
	for _, id := range order {
		st, ok := byID[id]
		if !ok || !fresh[id] {
			continue
		}
		begin := startAt
		for _, preID := range g.Prerequisites(id) {
			pre, ok := byID[preID]
			if !ok || !pre.Scheduled() {
				continue
			}
			if bound := pre.PlannedEndDate.Add(s.cfg.MinLag); bound.After(begin) {
				begin = bound
			}
		}
		st.SetWindow(begin, begin.AddDate(0, 0, st.DurationDays))
	}
	return nil
}
