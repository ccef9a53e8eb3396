package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"stageflow/internal/service/schedule"
)

type StageHandler struct {
	svc    *schedule.Service
	logger *zap.Logger
}

func NewStageHandler(svc *schedule.Service, logger *zap.Logger) *StageHandler {
	return &StageHandler{svc: svc, logger: logger}
}

func (h *StageHandler) CreateStage(c *gin.Context) {
	var req schedule.CreateStageInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "CreateStage", err)
		return
	}

	st, err := h.svc.CreateStage(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		respondError(c, h.logger, "CreateStage", err)
		return
	}

	h.logger.Info("CreateStage: success",
		zap.String("item_id", st.ItemID),
		zap.String("stage_id", st.ID),
	)
	c.JSON(http.StatusCreated, gin.H{"stage": st})
}

func (h *StageHandler) GetStage(c *gin.Context) {
	st, err := h.svc.GetStage(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "GetStage", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stage": st})
}

func (h *StageHandler) UpdateStage(c *gin.Context) {
	var req schedule.UpdateStageInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "UpdateStage", err)
		return
	}

	st, err := h.svc.UpdateStage(c.Request.Context(), actorFrom(c), c.Param("id"), req)
	if err != nil {
		respondError(c, h.logger, "UpdateStage", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stage": st})
}

type updateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *StageHandler) UpdateStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "UpdateStatus", err)
		return
	}

	st, err := h.svc.UpdateStageStatus(c.Request.Context(), actorFrom(c), c.Param("id"), req.Status)
	if err != nil {
		respondError(c, h.logger, "UpdateStatus", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stage": st})
}

func (h *StageHandler) DeleteStage(c *gin.Context) {
	stageID := c.Param("id")
	if err := h.svc.DeleteStage(c.Request.Context(), actorFrom(c), stageID); err != nil {
		respondError(c, h.logger, "DeleteStage", err)
		return
	}

	h.logger.Info("DeleteStage: success", zap.String("stage_id", stageID))
	c.Status(http.StatusNoContent)
}

type updateDeadlineRequest struct {
	PlannedStartDate time.Time `json:"planned_start_date" binding:"required"`
	PlannedEndDate   time.Time `json:"planned_end_date" binding:"required"`
	Reason           string    `json:"reason"`
}

func (h *StageHandler) UpdateDeadline(c *gin.Context) {
	stageID := c.Param("id")
	var req updateDeadlineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "UpdateDeadline", err)
		return
	}

	res, err := h.svc.UpdateStageDeadline(c.Request.Context(), actorFrom(c), stageID, req.PlannedStartDate, req.PlannedEndDate, req.Reason)
	if err != nil {
		respondError(c, h.logger, "UpdateDeadline", err)
		return
	}

	h.logger.Info("UpdateDeadline: success",
		zap.String("stage_id", stageID),
		zap.Int("shifted_count", len(res.ShiftedStages)),
	)
	c.JSON(http.StatusOK, res)
}

func (h *StageHandler) History(c *gin.Context) {
	entries, err := h.svc.GetDeadlineHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "History", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": entries})
}

func (h *StageHandler) Blockers(c *gin.Context) {
	blockers, err := h.svc.GetBlockers(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "Blockers", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"blockers":   blockers,
		"actionable": len(blockers) == 0,
	})
}

func (h *StageHandler) ListItemStages(c *gin.Context) {
	stages, err := h.svc.ListItemStages(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "ListItemStages", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stages": stages})
}

type reorderRequest struct {
	StageIDs []string `json:"stage_ids" binding:"required"`
}

func (h *StageHandler) Reorder(c *gin.Context) {
	itemID := c.Param("id")
	var req reorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "Reorder", err)
		return
	}

	stages, err := h.svc.ReorderItemStages(c.Request.Context(), actorFrom(c), itemID, req.StageIDs)
	if err != nil {
		respondError(c, h.logger, "Reorder", err)
		return
	}

	h.logger.Info("Reorder: success",
		zap.String("item_id", itemID),
		zap.Int("stage_count", len(stages)),
	)
	c.JSON(http.StatusOK, gin.H{"stages": stages})
}

type ensureSystemStageRequest struct {
	StageTypeID string `json:"stage_type_id"`
}

func (h *StageHandler) EnsureSystemStage(c *gin.Context) {
	var req ensureSystemStageRequest
	// an empty body selects the configured system stage type
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, h.logger, "EnsureSystemStage", err)
			return
		}
	}

	st, created, err := h.svc.EnsureSystemStage(c.Request.Context(), actorFrom(c), c.Param("id"), req.StageTypeID)
	if err != nil {
		respondError(c, h.logger, "EnsureSystemStage", err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"stage": st, "created": created})
}
