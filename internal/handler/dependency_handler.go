package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"stageflow/internal/service/schedule"
)

type DependencyHandler struct {
	svc    *schedule.Service
	logger *zap.Logger
}

func NewDependencyHandler(svc *schedule.Service, logger *zap.Logger) *DependencyHandler {
	return &DependencyHandler{svc: svc, logger: logger}
}

type createDependencyRequest struct {
	StageID          string `json:"stage_id" binding:"required"`
	DependsOnStageID string `json:"depends_on_stage_id" binding:"required"`
}

func (h *DependencyHandler) CreateDependency(c *gin.Context) {
	var req createDependencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "CreateDependency", err)
		return
	}

	dep, err := h.svc.AddDependency(c.Request.Context(), actorFrom(c), req.StageID, req.DependsOnStageID)
	if err != nil {
		respondError(c, h.logger, "CreateDependency", err)
		return
	}

	h.logger.Info("CreateDependency: success",
		zap.String("dependency_id", dep.ID),
		zap.String("stage_id", dep.StageID),
		zap.String("depends_on_stage_id", dep.DependsOnStageID),
	)
	c.JSON(http.StatusCreated, gin.H{"dependency": dep})
}

func (h *DependencyHandler) DeleteDependency(c *gin.Context) {
	id := c.Param("id")
	if err := h.svc.RemoveDependency(c.Request.Context(), actorFrom(c), id); err != nil {
		respondError(c, h.logger, "DeleteDependency", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *DependencyHandler) ListItemDependencies(c *gin.Context) {
	deps, err := h.svc.ListItemDependencies(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "ListItemDependencies", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dependencies": deps})
}
