// Package store declares the persistence port used by the scheduling service.
// Implementations live in internal/repository (PostgreSQL) and
// internal/repository/memstore (in-memory, used by tests and local runs).
package store

import (
	"context"

	"stageflow/internal/model"
)

// Reader covers every read the scheduling operations perform.
// Missing rows are reported as *model.NotFoundError.
type Reader interface {
	GetProject(ctx context.Context, id string) (*model.Project, error)
	GetItem(ctx context.Context, id string) (*model.Item, error)
	ListProjectItems(ctx context.Context, projectID string) ([]model.Item, error)

	GetStage(ctx context.Context, id string) (*model.Stage, error)
	ListItemStages(ctx context.Context, itemID string) ([]model.Stage, error)
	ListProjectStages(ctx context.Context, projectID string) ([]model.Stage, error)

	GetDependency(ctx context.Context, id string) (*model.Dependency, error)
	ListItemDependencies(ctx context.Context, itemID string) ([]model.Dependency, error)

	// GetTemplate returns the template with its stages and dependencies loaded.
	GetTemplate(ctx context.Context, id string) (*model.ProcessTemplate, error)
	ListTemplates(ctx context.Context) ([]model.ProcessTemplate, error)

	ListDeadlineHistory(ctx context.Context, stageID string) ([]model.DeadlineHistoryEntry, error)
}

// Tx is a transaction-scoped view of the store. Nothing written through a Tx
// is visible to other readers before the enclosing InTx returns nil.
type Tx interface {
	Reader

	// LockItem serialises item-scoped writers until the transaction ends.
	LockItem(ctx context.Context, itemID string) error

	InsertProject(ctx context.Context, p *model.Project) error
	InsertItem(ctx context.Context, it *model.Item) error

	InsertStage(ctx context.Context, s *model.Stage) error
	// InsertSystemStage inserts s unless the item already has a system stage of
	// the same type. It reports whether a row was written.
	InsertSystemStage(ctx context.Context, s *model.Stage) (bool, error)
	UpdateStage(ctx context.Context, s *model.Stage) error
	// UpdateStageOrders sets order = index for every id, in one batch.
	UpdateStageOrders(ctx context.Context, itemID string, orderedIDs []string) error
	DeleteStage(ctx context.Context, id string) error

	InsertDependency(ctx context.Context, d *model.Dependency) error
	DeleteDependency(ctx context.Context, id string) error

	InsertTemplate(ctx context.Context, t *model.ProcessTemplate) error

	InsertDeadlineHistory(ctx context.Context, e *model.DeadlineHistoryEntry) error
}

// Store is the full persistence port.
type Store interface {
	Reader
	// InTx runs fn in a single transaction. A non-nil error from fn (or from
	// the commit) rolls back every write made through tx.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
}
