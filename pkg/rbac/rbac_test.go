package rbac

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"stageflow/internal/model"
)

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role       string
		permission string
		want       bool
	}{
		{RoleUser, PermissionEditDeadline, true},
		{RoleUser, PermissionApplyTemplate, false},
		{RoleUser, PermissionDeleteSystemStage, false},
		{RoleManager, PermissionApplyTemplate, true},
		{RoleManager, PermissionDeleteSystemStage, false},
		{RoleAdmin, PermissionDeleteSystemStage, true},
		{"ghost", PermissionReadSchedule, false},
	}
	for _, tt := range tests {
		t.Run(tt.role+"/"+tt.permission, func(t *testing.T) {
			assert.Equal(t, tt.want, HasPermission(tt.role, tt.permission))
		})
	}
}

func TestCheckPermission(t *testing.T) {
	err := CheckPermission(model.Actor{UserID: "u1", Role: RoleUser}, PermissionDeleteSystemStage)
	var denied *model.PermissionDeniedError
	assert.True(t, errors.As(err, &denied))
	assert.Equal(t, "u1", denied.UserID)
	assert.ErrorIs(t, err, model.ErrPermissionDenied)

	assert.NoError(t, CheckPermission(model.Actor{UserID: "a", Role: RoleAdmin}, PermissionDeleteSystemStage))
}
