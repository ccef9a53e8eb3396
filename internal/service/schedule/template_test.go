package schedule

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stageflow/internal/model"
)

func kitchenTemplate() CreateTemplateInput {
	return CreateTemplateInput{
		Name:        "Kitchen",
		Description: "cut, assemble, deliver, install",
		Stages: []TemplateStageInput{
			{Key: "cut", Name: "Cutting", StageTypeID: model.StageTypeCutting, DurationDays: 2},
			{Key: "edge", Name: "Edging", StageTypeID: "edging", DurationDays: 1},
			{Key: "asm", Name: "Assembly", StageTypeID: model.StageTypeAssembly, DurationDays: 3},
			{Key: "inst", Name: "Installation", StageTypeID: model.StageTypeInstallation, DurationDays: 1},
		},
		Dependencies: []TemplateEdgeInput{
			{StageKey: "asm", DependsOnKey: "cut"},
			{StageKey: "asm", DependsOnKey: "edge"},
			{StageKey: "inst", DependsOnKey: "asm"},
		},
	}
}

func TestCreateTemplate(t *testing.T) {
	f := newFixture(t, Config{})

	tpl, err := f.svc.CreateTemplate(f.ctx, manager, kitchenTemplate())
	require.NoError(t, err)
	assert.Len(t, tpl.Stages, 4)
	assert.Len(t, tpl.Dependencies, 3)

	list, err := f.svc.ListTemplates(f.ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	got, err := f.svc.GetTemplate(f.ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, tpl.Name, got.Name)
}

func TestCreateTemplateRejects(t *testing.T) {
	f := newFixture(t, Config{})

	cyclic := kitchenTemplate()
	cyclic.Dependencies = append(cyclic.Dependencies, TemplateEdgeInput{StageKey: "cut", DependsOnKey: "inst"})
	_, err := f.svc.CreateTemplate(f.ctx, manager, cyclic)
	assert.ErrorIs(t, err, model.ErrCyclicDependency)

	dangling := kitchenTemplate()
	dangling.Dependencies = append(dangling.Dependencies, TemplateEdgeInput{StageKey: "inst", DependsOnKey: "paint"})
	_, err = f.svc.CreateTemplate(f.ctx, manager, dangling)
	assert.ErrorIs(t, err, model.ErrValidation)

	dup := kitchenTemplate()
	dup.Stages[1].Key = "cut"
	_, err = f.svc.CreateTemplate(f.ctx, manager, dup)
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = f.svc.CreateTemplate(f.ctx, manager, CreateTemplateInput{Name: "empty"})
	assert.ErrorIs(t, err, model.ErrValidation)

	list, err := f.svc.ListTemplates(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestApplyTemplateToItem(t *testing.T) {
	f := newFixture(t, Config{})
	tpl, err := f.svc.CreateTemplate(f.ctx, manager, kitchenTemplate())
	require.NoError(t, err)
	res := f.newItem(t)

	applied, err := f.svc.ApplyTemplateToItem(f.ctx, manager, tpl.ID, res.Item.ID, nil)
	require.NoError(t, err)
	require.Len(t, applied.Stages, 4)
	require.Len(t, applied.Dependencies, 3)

	byName := map[string]model.Stage{}
	for i, st := range applied.Stages {
		assert.Equal(t, i+1, st.Order, "appended after the system stage")
		assert.Equal(t, model.StageStatusPending, st.Status)
		assert.False(t, st.Scheduled())
		byName[st.Name] = st
	}
	assert.Equal(t, 3, byName["Assembly"].DurationDays)

	// edges are the template's edges with ids remapped
	edges := map[[2]string]bool{}
	for _, d := range applied.Dependencies {
		edges[[2]string{d.StageID, d.DependsOnStageID}] = true
	}
	assert.Equal(t, map[[2]string]bool{
		{byName["Assembly"].ID, byName["Cutting"].ID}:     true,
		{byName["Assembly"].ID, byName["Edging"].ID}:      true,
		{byName["Installation"].ID, byName["Assembly"].ID}: true,
	}, edges)

	stages, err := f.svc.ListItemStages(f.ctx, res.Item.ID)
	require.NoError(t, err)
	assert.Len(t, stages, 5)
	assert.Len(t, f.rec.actions(model.ActionTemplated), 1)

	// a second application yields fresh ids
	again, err := f.svc.ApplyTemplateToItem(f.ctx, manager, tpl.ID, res.Item.ID, nil)
	require.NoError(t, err)
	assert.NotEqual(t, applied.Stages[0].ID, again.Stages[0].ID)
	assert.Equal(t, 5, again.Stages[0].Order)
}

func TestApplyTemplateLaysOutFromStartDate(t *testing.T) {
	f := newFixture(t, Config{})
	tpl, err := f.svc.CreateTemplate(f.ctx, manager, kitchenTemplate())
	require.NoError(t, err)
	res := f.newItem(t)

	applied, err := f.svc.ApplyTemplateToItem(f.ctx, manager, tpl.ID, res.Item.ID, ptr(day(0)))
	require.NoError(t, err)

	byName := map[string]*model.Stage{}
	for i := range applied.Stages {
		byName[applied.Stages[i].Name] = &applied.Stages[i]
	}
	assertWindow(t, byName["Cutting"], 0, 2)
	assertWindow(t, byName["Edging"], 0, 1)
	assertWindow(t, byName["Assembly"], 2, 5)
	assertWindow(t, byName["Installation"], 5, 6)
}

func TestApplyTemplateFailures(t *testing.T) {
	f := newFixture(t, Config{})
	tpl, err := f.svc.CreateTemplate(f.ctx, manager, kitchenTemplate())
	require.NoError(t, err)
	res := f.newItem(t)

	_, err = f.svc.ApplyTemplateToItem(f.ctx, manager, "missing", res.Item.ID, nil)
	var tnf *model.TemplateNotFoundError
	require.True(t, errors.As(err, &tnf))
	assert.Equal(t, "missing", tnf.TemplateID)

	_, err = f.svc.ApplyTemplateToItem(f.ctx, manager, tpl.ID, "missing", nil)
	assert.ErrorIs(t, err, model.ErrNotFound)

	f.store.FailOn("InsertDependency", errors.New("broken pipe"))
	_, err = f.svc.ApplyTemplateToItem(f.ctx, manager, tpl.ID, res.Item.ID, nil)
	assert.ErrorIs(t, err, model.ErrInfra)

	stages, err := f.svc.ListItemStages(f.ctx, res.Item.ID)
	require.NoError(t, err)
	assert.Len(t, stages, 1, "no partial template left behind")
}

func procurementTemplate() CreateTemplateInput {
	return CreateTemplateInput{
		Name: "Bought-in cabinet",
		Stages: []TemplateStageInput{
			{Key: "buy", Name: "Buy parts", StageTypeID: model.StageTypeProcurement, DurationDays: 4},
			{Key: "asm", Name: "Assembly", StageTypeID: model.StageTypeAssembly, DurationDays: 2},
		},
		Dependencies: []TemplateEdgeInput{{StageKey: "asm", DependsOnKey: "buy"}},
	}
}

func countOfType(stages []model.Stage, stageType string) int {
	n := 0
	for _, st := range stages {
		if st.StageTypeID == stageType {
			n++
		}
	}
	return n
}

func TestApplyTemplateReusesSystemStage(t *testing.T) {
	f := newFixture(t, Config{})
	tpl, err := f.svc.CreateTemplate(f.ctx, manager, procurementTemplate())
	require.NoError(t, err)
	res := f.newItem(t)

	applied, err := f.svc.ApplyTemplateToItem(f.ctx, manager, tpl.ID, res.Item.ID, nil)
	require.NoError(t, err)
	require.Len(t, applied.Stages, 1)
	assert.Equal(t, "Assembly", applied.Stages[0].Name)
	assert.Equal(t, 1, applied.Stages[0].Order)
	require.Len(t, applied.Dependencies, 1)
	assert.Equal(t, applied.Stages[0].ID, applied.Dependencies[0].StageID)
	assert.Equal(t, res.SystemStage.ID, applied.Dependencies[0].DependsOnStageID)

	stages, err := f.svc.ListItemStages(f.ctx, res.Item.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, countOfType(stages, model.StageTypeProcurement))

	blockers, err := f.svc.GetBlockers(f.ctx, applied.Stages[0].ID)
	require.NoError(t, err)
	require.Len(t, blockers, 1)
	assert.Equal(t, res.SystemStage.ID, blockers[0].ID)
}

func TestApplyTemplateLaysOutAfterSystemStage(t *testing.T) {
	f := newFixture(t, Config{})
	tpl, err := f.svc.CreateTemplate(f.ctx, manager, procurementTemplate())
	require.NoError(t, err)
	res := f.newItem(t)
	_, err = f.svc.UpdateStageDeadline(f.ctx, manager, res.SystemStage.ID, day(0), day(4), "")
	require.NoError(t, err)

	applied, err := f.svc.ApplyTemplateToItem(f.ctx, manager, tpl.ID, res.Item.ID, ptr(day(0)))
	require.NoError(t, err)
	require.Len(t, applied.Stages, 1)
	assertWindow(t, &applied.Stages[0], 4, 6)
	assertWindow(t, f.reload(t, res.SystemStage.ID), 0, 4)
}

func TestApplyTemplateProvisionsMissingSystemStage(t *testing.T) {
	f := newFixture(t, Config{})
	tpl, err := f.svc.CreateTemplate(f.ctx, manager, procurementTemplate())
	require.NoError(t, err)
	res := f.newItem(t)
	require.NoError(t, f.svc.DeleteStage(f.ctx, admin, res.SystemStage.ID))

	applied, err := f.svc.ApplyTemplateToItem(f.ctx, manager, tpl.ID, res.Item.ID, nil)
	require.NoError(t, err)

	stages, err := f.svc.ListItemStages(f.ctx, res.Item.ID)
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.Equal(t, 1, countOfType(stages, model.StageTypeProcurement))
	assert.True(t, stages[0].IsSystem)
	assert.Equal(t, stages[0].ID, applied.Dependencies[0].DependsOnStageID)
}

func TestCreateTemplateRejectsSecondSystemStage(t *testing.T) {
	f := newFixture(t, Config{})
	in := procurementTemplate()
	in.Stages = append(in.Stages, TemplateStageInput{Key: "buy2", Name: "Buy more", StageTypeID: model.StageTypeProcurement})

	_, err := f.svc.CreateTemplate(f.ctx, manager, in)
	assert.ErrorIs(t, err, model.ErrValidation)
}
