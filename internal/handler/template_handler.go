package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"stageflow/internal/service/schedule"
)

type TemplateHandler struct {
	svc    *schedule.Service
	logger *zap.Logger
}

func NewTemplateHandler(svc *schedule.Service, logger *zap.Logger) *TemplateHandler {
	return &TemplateHandler{svc: svc, logger: logger}
}

func (h *TemplateHandler) CreateTemplate(c *gin.Context) {
	var req schedule.CreateTemplateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "CreateTemplate", err)
		return
	}

	tpl, err := h.svc.CreateTemplate(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		respondError(c, h.logger, "CreateTemplate", err)
		return
	}

	h.logger.Info("CreateTemplate: success",
		zap.String("template_id", tpl.ID),
		zap.Int("stage_count", len(tpl.Stages)),
	)
	c.JSON(http.StatusCreated, gin.H{"template": tpl})
}

func (h *TemplateHandler) ListTemplates(c *gin.Context) {
	list, err := h.svc.ListTemplates(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "ListTemplates", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"templates": list})
}

func (h *TemplateHandler) GetTemplate(c *gin.Context) {
	tpl, err := h.svc.GetTemplate(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "GetTemplate", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"template": tpl})
}

type applyTemplateRequest struct {
	TemplateID string     `json:"template_id" binding:"required"`
	StartAt    *time.Time `json:"start_at"`
}

// ApplyTemplate instantiates a template into the item given in the path.
func (h *TemplateHandler) ApplyTemplate(c *gin.Context) {
	itemID := c.Param("id")
	var req applyTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "ApplyTemplate", err)
		return
	}

	res, err := h.svc.ApplyTemplateToItem(c.Request.Context(), actorFrom(c), req.TemplateID, itemID, req.StartAt)
	if err != nil {
		respondError(c, h.logger, "ApplyTemplate", err)
		return
	}

	h.logger.Info("ApplyTemplate: success",
		zap.String("item_id", itemID),
		zap.String("template_id", req.TemplateID),
		zap.Int("stage_count", len(res.Stages)),
	)
	c.JSON(http.StatusCreated, res)
}
