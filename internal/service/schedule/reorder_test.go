package schedule

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stageflow/internal/model"
)

func TestReorderItemStages(t *testing.T) {
	f := newFixture(t, Config{})
	res := f.newItem(t)
	s1 := res.SystemStage
	s2 := f.stage(t, res.Item.ID, "S2", nil, nil)
	s3 := f.stage(t, res.Item.ID, "S3", nil, nil)

	stages, err := f.svc.ReorderItemStages(f.ctx, manager, res.Item.ID, []string{s3.ID, s1.ID, s2.ID})
	require.NoError(t, err)
	require.Len(t, stages, 3)
	assert.Equal(t, []string{s3.ID, s1.ID, s2.ID}, []string{stages[0].ID, stages[1].ID, stages[2].ID})
	assert.Equal(t, 0, f.reload(t, s3.ID).Order)
	assert.Equal(t, 1, f.reload(t, s1.ID).Order)
	assert.Equal(t, 2, f.reload(t, s2.ID).Order)
	assert.Len(t, f.rec.actions(model.ActionReordered), 1)
}

func TestReorderRejectsBadSets(t *testing.T) {
	f := newFixture(t, Config{})
	res := f.newItem(t)
	s1 := res.SystemStage
	s2 := f.stage(t, res.Item.ID, "S2", nil, nil)
	s3 := f.stage(t, res.Item.ID, "S3", nil, nil)
	foreign := f.stage(t, f.newItem(t).Item.ID, "X", nil, nil)

	tests := []struct {
		name string
		ids  []string
	}{
		{"missing stage", []string{s1.ID, s2.ID}},
		{"duplicate", []string{s1.ID, s2.ID, s2.ID}},
		{"foreign stage", []string{s1.ID, s2.ID, foreign.ID}},
		{"extra stage", []string{s1.ID, s2.ID, s3.ID, foreign.ID}},
		{"empty", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.ReorderItemStages(f.ctx, manager, res.Item.ID, tt.ids)
			var invalid *model.InvalidReorderSetError
			require.True(t, errors.As(err, &invalid), "got %v", err)
			assert.Equal(t, res.Item.ID, invalid.ItemID)

			assert.Equal(t, 0, f.reload(t, s1.ID).Order)
			assert.Equal(t, 1, f.reload(t, s2.ID).Order)
			assert.Equal(t, 2, f.reload(t, s3.ID).Order)
		})
	}
}

func TestReorderRollsBack(t *testing.T) {
	f := newFixture(t, Config{})
	res := f.newItem(t)
	s2 := f.stage(t, res.Item.ID, "S2", nil, nil)

	f.store.FailOn("Commit", errors.New("serialization failure"))
	_, err := f.svc.ReorderItemStages(f.ctx, manager, res.Item.ID, []string{s2.ID, res.SystemStage.ID})
	assert.ErrorIs(t, err, model.ErrInfra)
	assert.Equal(t, 0, f.reload(t, res.SystemStage.ID).Order)
	assert.Empty(t, f.rec.actions(model.ActionReordered))
}

func TestReorderUnknownItem(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.svc.ReorderItemStages(f.ctx, manager, "missing", nil)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestEnsureSystemStage(t *testing.T) {
	f := newFixture(t, Config{SystemStageType: "measurement", SystemStageName: "Measurement"})
	res := f.newItem(t)
	assert.Equal(t, "Measurement", res.SystemStage.Name)
	a := f.stage(t, res.Item.ID, "A", nil, nil)

	t.Run("existing stage is kept", func(t *testing.T) {
		st, created, err := f.svc.EnsureSystemStage(f.ctx, manager, res.Item.ID, "")
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, res.SystemStage.ID, st.ID)
	})

	t.Run("missing type is provisioned at the front", func(t *testing.T) {
		st, created, err := f.svc.EnsureSystemStage(f.ctx, manager, res.Item.ID, model.StageTypeProcurement)
		require.NoError(t, err)
		assert.True(t, created)
		assert.True(t, st.IsSystem)

		stages, err := f.svc.ListItemStages(f.ctx, res.Item.ID)
		require.NoError(t, err)
		require.Len(t, stages, 3)
		assert.Equal(t, []string{st.ID, res.SystemStage.ID, a.ID}, []string{stages[0].ID, stages[1].ID, stages[2].ID})
		for i, s := range stages {
			assert.Equal(t, i, s.Order)
		}

		_, created, err = f.svc.EnsureSystemStage(f.ctx, manager, res.Item.ID, model.StageTypeProcurement)
		require.NoError(t, err)
		assert.False(t, created)
	})

	t.Run("unknown item", func(t *testing.T) {
		_, _, err := f.svc.EnsureSystemStage(f.ctx, manager, "missing", "")
		assert.ErrorIs(t, err, model.ErrNotFound)
	})
}
