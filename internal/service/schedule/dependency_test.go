package schedule

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stageflow/internal/graph"
	"stageflow/internal/model"
)

func TestAddDependencyRejectsCycles(t *testing.T) {
	f := newFixture(t, Config{})
	item := f.newItem(t).Item
	a := f.stage(t, item.ID, "A", nil, nil)
	b := f.stage(t, item.ID, "B", nil, nil)
	c := f.stage(t, item.ID, "C", nil, nil)
	f.depend(t, b.ID, a.ID)
	f.depend(t, c.ID, b.ID)

	tests := []struct {
		name        string
		stage, upon string
	}{
		{"direct", a.ID, b.ID},
		{"transitive", a.ID, c.ID},
		{"self", b.ID, b.ID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.AddDependency(f.ctx, manager, tt.stage, tt.upon)
			var cyc *model.CyclicDependencyError
			require.True(t, errors.As(err, &cyc), "got %v", err)
			assert.Equal(t, tt.stage, cyc.StageID)
			assert.Equal(t, tt.upon, cyc.DependsOnStageID)
		})
	}

	deps, err := f.svc.ListItemDependencies(f.ctx, item.ID)
	require.NoError(t, err)
	assert.Len(t, deps, 2)
}

func TestAddDependencyAcrossItems(t *testing.T) {
	f := newFixture(t, Config{})
	one := f.newItem(t).Item
	two := f.newItem(t).Item
	a := f.stage(t, one.ID, "A", nil, nil)
	b := f.stage(t, two.ID, "B", nil, nil)

	_, err := f.svc.AddDependency(f.ctx, manager, a.ID, b.ID)
	assert.ErrorIs(t, err, model.ErrCyclicDependency)
}

func TestAddDependencyValidation(t *testing.T) {
	f := newFixture(t, Config{})
	item := f.newItem(t).Item
	a := f.stage(t, item.ID, "A", nil, nil)
	b := f.stage(t, item.ID, "B", nil, nil)
	f.depend(t, b.ID, a.ID)

	_, err := f.svc.AddDependency(f.ctx, manager, b.ID, a.ID)
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = f.svc.AddDependency(f.ctx, manager, b.ID, "")
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = f.svc.AddDependency(f.ctx, manager, b.ID, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestAddDependencyRollsBack(t *testing.T) {
	f := newFixture(t, Config{})
	item := f.newItem(t).Item
	a := f.stage(t, item.ID, "A", nil, nil)
	b := f.stage(t, item.ID, "B", nil, nil)

	f.store.FailOn("InsertDependency", errors.New("timeout"))
	_, err := f.svc.AddDependency(f.ctx, manager, b.ID, a.ID)
	assert.ErrorIs(t, err, model.ErrInfra)

	deps, err := f.svc.ListItemDependencies(f.ctx, item.ID)
	require.NoError(t, err)
	assert.Empty(t, deps)
}

func TestItemGraphStaysAcyclic(t *testing.T) {
	f := newFixture(t, Config{})
	item := f.newItem(t).Item
	ids := make([]string, 6)
	for i := range ids {
		ids[i] = f.stage(t, item.ID, string(rune('A'+i)), nil, nil).ID
	}

	accepted := 0
	for i := range ids {
		for j := range ids {
			// alternate directions so both forward and backward edges are tried
			from, to := ids[i], ids[(i+j*5)%len(ids)]
			if _, err := f.svc.AddDependency(f.ctx, manager, from, to); err == nil {
				accepted++
			}

			stages, err := f.svc.ListItemStages(f.ctx, item.ID)
			require.NoError(t, err)
			deps, err := f.svc.ListItemDependencies(f.ctx, item.ID)
			require.NoError(t, err)
			_, err = graph.FromItem(stages, deps).TopologicalOrder()
			require.NoError(t, err)
		}
	}
	assert.Positive(t, accepted)
}

func TestRemoveDependency(t *testing.T) {
	f := newFixture(t, Config{})
	item := f.newItem(t).Item
	a := f.stage(t, item.ID, "A", nil, nil)
	b := f.stage(t, item.ID, "B", nil, nil)
	d := f.depend(t, b.ID, a.ID)

	require.NoError(t, f.svc.RemoveDependency(f.ctx, manager, d.ID))
	assert.ErrorIs(t, f.svc.RemoveDependency(f.ctx, manager, d.ID), model.ErrNotFound)

	// the reverse edge is legal once the original one is gone
	_, err := f.svc.AddDependency(f.ctx, manager, a.ID, b.ID)
	assert.NoError(t, err)
}

func TestGetBlockers(t *testing.T) {
	f := newFixture(t, Config{})
	item := f.newItem(t).Item
	a := f.stage(t, item.ID, "A", nil, nil)
	b := f.stage(t, item.ID, "B", nil, nil)
	c := f.stage(t, item.ID, "C", nil, nil)
	f.depend(t, b.ID, a.ID)
	f.depend(t, c.ID, b.ID)

	blockers, err := f.svc.GetBlockers(f.ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, blockers, 1)
	assert.Equal(t, b.ID, blockers[0].ID)

	blockers, err = f.svc.GetBlockers(f.ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, blockers)

	_, err = f.svc.UpdateStageStatus(f.ctx, worker, b.ID, model.StageStatusInProgress)
	var blocked *model.BlockedStageError
	require.True(t, errors.As(err, &blocked))
	assert.Equal(t, []string{a.ID}, blocked.Blockers)
	assert.Equal(t, model.StageStatusPending, f.reload(t, b.ID).Status)

	_, err = f.svc.UpdateStageStatus(f.ctx, worker, a.ID, model.StageStatusCompleted)
	require.NoError(t, err)

	blockers, err = f.svc.GetBlockers(f.ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, blockers)

	st, err := f.svc.UpdateStageStatus(f.ctx, worker, b.ID, model.StageStatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, model.StageStatusInProgress, st.Status)

	_, err = f.svc.UpdateStageStatus(f.ctx, worker, b.ID, "finished")
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = f.svc.GetBlockers(f.ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}
