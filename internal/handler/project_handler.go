package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"stageflow/internal/service/schedule"
)

type ProjectHandler struct {
	svc    *schedule.Service
	logger *zap.Logger
}

func NewProjectHandler(svc *schedule.Service, logger *zap.Logger) *ProjectHandler {
	return &ProjectHandler{svc: svc, logger: logger}
}

func (h *ProjectHandler) CreateProject(c *gin.Context) {
	var req schedule.CreateProjectInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "CreateProject", err)
		return
	}

	p, err := h.svc.CreateProject(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		respondError(c, h.logger, "CreateProject", err)
		return
	}

	h.logger.Info("CreateProject: success", zap.String("project_id", p.ID))
	c.JSON(http.StatusCreated, gin.H{"project": p})
}

func (h *ProjectHandler) GetProject(c *gin.Context) {
	p, err := h.svc.GetProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "GetProject", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"project": p})
}

func (h *ProjectHandler) ListItems(c *gin.Context) {
	items, err := h.svc.ListProjectItems(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "ListItems", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *ProjectHandler) CreateItem(c *gin.Context) {
	projectID := c.Param("id")
	var req schedule.CreateItemInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "CreateItem", err)
		return
	}

	res, err := h.svc.CreateItem(c.Request.Context(), actorFrom(c), projectID, req)
	if err != nil {
		respondError(c, h.logger, "CreateItem", err)
		return
	}

	h.logger.Info("CreateItem: success",
		zap.String("project_id", projectID),
		zap.String("item_id", res.Item.ID),
		zap.String("system_stage_id", res.SystemStage.ID),
	)
	c.JSON(http.StatusCreated, res)
}

func (h *ProjectHandler) FinalDeadline(c *gin.Context) {
	deadline, err := h.svc.ProjectFinalDeadline(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "FinalDeadline", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"final_deadline": deadline})
}
