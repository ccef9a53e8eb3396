// Package activity delivers activity-log entries to their sink. Delivery is
// best effort: callers log failures and carry on.
package activity

import (
	"context"
	"time"

	"go.uber.org/zap"

	mqcontracts "stageflow/contracts/mq"
	"stageflow/internal/model"
	"stageflow/pkg/circuitbreaker"
	"stageflow/pkg/trace"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// MQRecorder publishes entries to the message broker behind a circuit breaker
// so a dead broker costs one fast failure per call instead of a timeout.
type MQRecorder struct {
	pub     Publisher
	breaker *circuitbreaker.CircuitBreaker
	timeout time.Duration
	logger  *zap.Logger
}

func NewMQRecorder(pub Publisher, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *MQRecorder {
	if breaker == nil {
		breaker = circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig())
	}
	return &MQRecorder{
		pub:     pub,
		breaker: breaker,
		timeout: 2 * time.Second,
		logger:  logger,
	}
}

func (r *MQRecorder) Record(ctx context.Context, e model.ActivityEntry) error {
	payload := mqcontracts.ActivityLoggedPayload{
		EntityType:   e.EntityType,
		EntityID:     e.EntityID,
		ActionType:   e.ActionType,
		UserID:       e.UserID,
		FieldChanged: e.FieldChanged,
		OldValue:     e.OldValue,
		NewValue:     e.NewValue,
		Description:  e.Description,
		TraceID:      trace.FromContext(ctx),
		OccurredAt:   time.Now().UTC(),
	}

	routingKey := mqcontracts.RoutingKeyActivityLogged
	if e.ActionType == model.ActionShifted {
		routingKey = mqcontracts.RoutingKeyStageShifted
	}

	// the request context may end right after the response is written
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	err := r.breaker.Execute(func() error {
		return r.pub.Publish(pubCtx, routingKey, payload)
	})
	if err != nil {
		r.logger.Warn("Failed to publish activity entry",
			zap.String("routing_key", routingKey),
			zap.String("entity_type", e.EntityType),
			zap.String("entity_id", e.EntityID),
			zap.String("breaker_state", r.breaker.GetState().String()),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// LogRecorder writes entries to the structured log only. Used when no broker
// is configured.
type LogRecorder struct {
	logger *zap.Logger
}

func NewLogRecorder(logger *zap.Logger) *LogRecorder {
	return &LogRecorder{logger: logger}
}

func (r *LogRecorder) Record(ctx context.Context, e model.ActivityEntry) error {
	r.logger.Info("activity",
		zap.String("entity_type", e.EntityType),
		zap.String("entity_id", e.EntityID),
		zap.String("action_type", e.ActionType),
		zap.String("user_id", e.UserID),
		zap.String("field_changed", e.FieldChanged),
		zap.String("old_value", e.OldValue),
		zap.String("new_value", e.NewValue),
		zap.String("description", e.Description),
		zap.String("trace_id", trace.FromContext(ctx)),
	)
	return nil
}
