// Package schedule implements the stage scheduling operations: dependency
// management with cycle protection, blocker resolution, deadline cascades,
// reordering, template instantiation and system-stage provisioning.
//
// Every item-scoped write runs under the item lock and inside one store
// transaction. Activity entries are emitted after commit and their failures
// never fail the operation.
package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"stageflow/internal/activity"
	"stageflow/internal/model"
	"stageflow/internal/store"
	"stageflow/pkg/logger"
	"stageflow/pkg/metrics"
)

// ItemLocker provides mutual exclusion per item across service instances.
type ItemLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// ActivityRecorder is the sink of activity-log entries.
type ActivityRecorder interface {
	Record(ctx context.Context, e model.ActivityEntry) error
}

type Config struct {
	// MinLag is kept between a prerequisite's end and its dependent's start.
	MinLag          time.Duration
	SystemStageType string
	SystemStageName string
}

type Service struct {
	store    store.Store
	locker   ItemLocker
	recorder ActivityRecorder
	cfg      Config
	logger   *zap.Logger

	now   func() time.Time
	newID func() string
}

func NewService(st store.Store, locker ItemLocker, recorder ActivityRecorder, cfg Config, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if recorder == nil {
		recorder = activity.NewLogRecorder(log)
	}
	if cfg.SystemStageType == "" {
		cfg.SystemStageType = model.StageTypeProcurement
	}
	if cfg.SystemStageName == "" {
		cfg.SystemStageName = "Procurement"
	}
	return &Service{
		store:    st,
		locker:   locker,
		recorder: recorder,
		cfg:      cfg,
		logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

// withItem runs fn in a transaction while holding the item lock, both the
// distributed one and the in-transaction one.
func (s *Service) withItem(ctx context.Context, itemID string, fn func(tx store.Tx) error) error {
	unlock, err := s.locker.Lock(ctx, itemID)
	if err != nil {
		return err
	}
	defer unlock()

	return s.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.LockItem(ctx, itemID); err != nil {
			return err
		}
		return fn(tx)
	})
}

// itemOfStage resolves the item a stage belongs to, so the lock can be taken
// before the transaction re-reads the stage.
func (s *Service) itemOfStage(ctx context.Context, stageID string) (string, error) {
	st, err := s.store.GetStage(ctx, stageID)
	if err != nil {
		return "", err
	}
	return st.ItemID, nil
}

// finish records the operation metric and maps non-domain errors to InfraError.
func (s *Service) finish(ctx context.Context, op string, start time.Time, err error) error {
	err = model.WrapInfra(op, err)
	metrics.ObserveOperation(op, err, time.Since(start))
	if err != nil {
		log := logger.WithTrace(ctx, s.logger)
		var infra *model.InfraError
		if errors.As(err, &infra) {
			log.Error("Schedule operation failed", zap.String("operation", op), zap.Error(infra.Err))
		} else {
			log.Debug("Schedule operation rejected", zap.String("operation", op), zap.Error(err))
		}
	}
	return err
}

func (s *Service) emit(ctx context.Context, entries ...model.ActivityEntry) {
	for _, e := range entries {
		if err := s.recorder.Record(ctx, e); err != nil {
			metrics.IncrementActivity("failed")
			logger.WithTrace(ctx, s.logger).Warn("Failed to record activity",
				zap.String("entity_type", e.EntityType),
				zap.String("entity_id", e.EntityID),
				zap.String("action_type", e.ActionType),
				zap.Error(err),
			)
			continue
		}
		metrics.IncrementActivity("success")
	}
}

func required(field, value string) error {
	if value == "" {
		return &model.ValidationError{Field: field, Message: "is required"}
	}
	return nil
}

// timePrecision is the resolution PostgreSQL keeps for TIMESTAMPTZ columns.
const timePrecision = time.Microsecond

func truncateTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.Truncate(timePrecision)
	return &v
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
