package model

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrCyclicDependency = errors.New("cyclic dependency")
	ErrInvalidReorder   = errors.New("invalid reorder set")
	ErrPermissionDenied = errors.New("permission denied")
	ErrTemplateNotFound = errors.New("template not found")
	ErrValidation       = errors.New("validation failed")
	ErrBlocked          = errors.New("stage is blocked")
	ErrInfra            = errors.New("infrastructure failure")
)

// NotFoundError 表示实体不存在
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// CyclicDependencyError is returned when an edge would close a cycle.
type CyclicDependencyError struct {
	StageID          string
	DependsOnStageID string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("adding dependency %s -> %s would create a cycle", e.StageID, e.DependsOnStageID)
}

func (e *CyclicDependencyError) Is(target error) bool { return target == ErrCyclicDependency }

type InvalidReorderSetError struct {
	ItemID string
	Reason string
}

func (e *InvalidReorderSetError) Error() string {
	return fmt.Sprintf("invalid reorder set for item %s: %s", e.ItemID, e.Reason)
}

func (e *InvalidReorderSetError) Is(target error) bool { return target == ErrInvalidReorder }

// PermissionDeniedError 表示权限不足的错误
type PermissionDeniedError struct {
	UserID string
	Action string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("user %q is not allowed to %s", e.UserID, e.Action)
}

func (e *PermissionDeniedError) Is(target error) bool { return target == ErrPermissionDenied }

type TemplateNotFoundError struct {
	TemplateID string
}

func (e *TemplateNotFoundError) Error() string {
	return fmt.Sprintf("template %q not found", e.TemplateID)
}

func (e *TemplateNotFoundError) Is(target error) bool {
	return target == ErrTemplateNotFound || target == ErrNotFound
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// BlockedStageError lists the unfinished prerequisites of a stage.
type BlockedStageError struct {
	StageID  string
	Blockers []string
}

func (e *BlockedStageError) Error() string {
	return fmt.Sprintf("stage %s is blocked by %d unfinished prerequisite(s)", e.StageID, len(e.Blockers))
}

func (e *BlockedStageError) Is(target error) bool { return target == ErrBlocked }

// InfraError hides persistence details from callers.
type InfraError struct {
	Op  string
	Err error
}

func (e *InfraError) Error() string {
	return fmt.Sprintf("%s: storage failure", e.Op)
}

func (e *InfraError) Unwrap() error { return e.Err }

func (e *InfraError) Is(target error) bool { return target == ErrInfra }

// WrapInfra passes domain errors through untouched and wraps everything else.
func WrapInfra(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, domain := range []error{ErrNotFound, ErrCyclicDependency, ErrInvalidReorder,
		ErrPermissionDenied, ErrValidation, ErrBlocked, ErrInfra} {
		if errors.Is(err, domain) {
			return err
		}
	}
	return &InfraError{Op: op, Err: err}
}
