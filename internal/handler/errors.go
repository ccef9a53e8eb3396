package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"stageflow/internal/model"
	"stageflow/pkg/logger"
)

// Context keys set by the auth middleware.
const (
	ContextUserID = "user_id"
	ContextRole   = "role"
)

func actorFrom(c *gin.Context) model.Actor {
	return model.Actor{
		UserID: c.GetString(ContextUserID),
		Role:   c.GetString(ContextRole),
	}
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrValidation), errors.Is(err, model.ErrInvalidReorder):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrCyclicDependency), errors.Is(err, model.ErrBlocked):
		return http.StatusConflict
	case errors.Is(err, model.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the error body. Infrastructure details never reach
// the client.
func respondError(c *gin.Context, log *zap.Logger, op string, err error) {
	status := statusFor(err)
	log = logger.WithTrace(c.Request.Context(), log)
	if status == http.StatusInternalServerError {
		log.Error(op+": failed", zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}

	log.Warn(op+": rejected", zap.Int("status", status), zap.Error(err))
	body := gin.H{"error": err.Error()}
	var blocked *model.BlockedStageError
	if errors.As(err, &blocked) {
		body["blockers"] = blocked.Blockers
	}
	var invalid *model.ValidationError
	if errors.As(err, &invalid) && invalid.Field != "" {
		body["field"] = invalid.Field
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, log *zap.Logger, op string, err error) {
	logger.WithTrace(c.Request.Context(), log).Warn(op+": invalid request body", zap.Error(err))
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
}
