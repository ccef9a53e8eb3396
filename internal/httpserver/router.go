package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"stageflow/internal/handler"
	"stageflow/pkg/rbac"
)

type Handlers struct {
	Projects     *handler.ProjectHandler
	Stages       *handler.StageHandler
	Dependencies *handler.DependencyHandler
	Templates    *handler.TemplateHandler
}

type Options struct {
	JWTSecret      string
	AllowedOrigins []string
	// ReadyChecks run on /readyz; the first failure marks the service not ready.
	ReadyChecks map[string]func(ctx context.Context) error
}

func NewRouter(h Handlers, opts Options, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(TraceMiddleware())
	r.Use(RequestLogMiddleware(logger))

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization", "X-Trace-ID")
	corsCfg.ExposeHeaders = []string{"X-Trace-ID"}
	if len(opts.AllowedOrigins) > 0 {
		corsCfg.AllowOrigins = opts.AllowedOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	r.Use(cors.New(corsCfg))

	// Health endpoints (放在最前面)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
		defer cancel()

		for name, check := range opts.ReadyChecks {
			if err := check(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": name + "_not_ready", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	api.Use(AuthMiddleware(opts.JWTSecret))
	{
		api.POST("/projects", RequirePermission(rbac.PermissionCreateProject), h.Projects.CreateProject)
		api.GET("/projects/:id", h.Projects.GetProject)
		api.GET("/projects/:id/items", h.Projects.ListItems)
		api.POST("/projects/:id/items", RequirePermission(rbac.PermissionCreateProject), h.Projects.CreateItem)
		api.GET("/projects/:id/final-deadline", h.Projects.FinalDeadline)

		api.GET("/items/:id/stages", h.Stages.ListItemStages)
		api.PUT("/items/:id/stages/order", RequirePermission(rbac.PermissionEditStage), h.Stages.Reorder)
		api.POST("/items/:id/system-stage", RequirePermission(rbac.PermissionEditStage), h.Stages.EnsureSystemStage)
		api.GET("/items/:id/dependencies", h.Dependencies.ListItemDependencies)
		api.POST("/items/:id/apply-template", RequirePermission(rbac.PermissionApplyTemplate), h.Templates.ApplyTemplate)

		api.POST("/stages", RequirePermission(rbac.PermissionEditStage), h.Stages.CreateStage)
		api.GET("/stages/:id", h.Stages.GetStage)
		api.PATCH("/stages/:id", RequirePermission(rbac.PermissionEditStage), h.Stages.UpdateStage)
		api.DELETE("/stages/:id", RequirePermission(rbac.PermissionEditStage), h.Stages.DeleteStage)
		api.PUT("/stages/:id/status", RequirePermission(rbac.PermissionEditStage), h.Stages.UpdateStatus)
		api.PUT("/stages/:id/deadline", RequirePermission(rbac.PermissionEditDeadline), h.Stages.UpdateDeadline)
		api.GET("/stages/:id/history", h.Stages.History)
		api.GET("/stages/:id/blockers", h.Stages.Blockers)

		api.POST("/dependencies", RequirePermission(rbac.PermissionEditStage), h.Dependencies.CreateDependency)
		api.DELETE("/dependencies/:id", RequirePermission(rbac.PermissionEditStage), h.Dependencies.DeleteDependency)

		api.POST("/templates", RequirePermission(rbac.PermissionManageTemplate), h.Templates.CreateTemplate)
		api.GET("/templates", h.Templates.ListTemplates)
		api.GET("/templates/:id", h.Templates.GetTemplate)
	}

	return r
}
