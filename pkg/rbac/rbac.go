package rbac

import "stageflow/internal/model"

// 权限常量
const (
	PermissionReadSchedule   = "schedule:read"
	PermissionEditStage      = "stage:edit"
	PermissionEditDeadline   = "stage:deadline"
	PermissionApplyTemplate  = "template:apply"
	PermissionManageTemplate = "template:manage"
	PermissionCreateProject  = "project:create"

	// 敏感操作权限
	PermissionDeleteSystemStage = "stage:delete_system"
)

// 角色常量
const (
	RoleUser    = "user"
	RoleManager = "manager"
	RoleAdmin   = "admin"
)

// 角色权限映射
var rolePermissions = map[string][]string{
	RoleUser: {
		PermissionReadSchedule,
		PermissionEditStage,
		PermissionEditDeadline,
	},
	RoleManager: {
		PermissionReadSchedule,
		PermissionEditStage,
		PermissionEditDeadline,
		PermissionApplyTemplate,
		PermissionManageTemplate,
		PermissionCreateProject,
	},
	RoleAdmin: {
		PermissionReadSchedule,
		PermissionEditStage,
		PermissionEditDeadline,
		PermissionApplyTemplate,
		PermissionManageTemplate,
		PermissionCreateProject,
		PermissionDeleteSystemStage,
	},
}

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	_, ok := rolePermissions[role]
	return ok
}

// HasPermission 检查角色是否有指定权限
func HasPermission(role, permission string) bool {
	permissions, ok := rolePermissions[role]
	if !ok {
		return false
	}

	for _, p := range permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// CheckPermission 返回错误而不是布尔值，便于在 service 中直接返回
func CheckPermission(actor model.Actor, permission string) error {
	if !HasPermission(actor.Role, permission) {
		return &model.PermissionDeniedError{
			UserID: actor.UserID,
			Action: permission,
		}
	}
	return nil
}
