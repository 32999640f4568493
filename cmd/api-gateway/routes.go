package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/noah-isme/sos-safeguard-api/internal/handler"
	"github.com/noah-isme/sos-safeguard-api/internal/middleware"
	"github.com/noah-isme/sos-safeguard-api/internal/models"
	"github.com/noah-isme/sos-safeguard-api/internal/service"
	"github.com/noah-isme/sos-safeguard-api/pkg/config"
)

type routeDeps struct {
	auth          middleware.TokenAuthenticator
	audit         service.AuditSink
	metrics       *service.MetricsService
	authHandler   *handler.AuthHandler
	cases         *handler.CaseHandler
	workflows     *handler.WorkflowHandler
	users         *handler.UserHandler
	villages      *handler.VillageHandler
	analytics     *handler.AnalyticsHandler
	notifications *handler.NotificationHandler
	admin         *handler.AdminHandler
	observability *handler.MetricsHandler
}

func registerRoutes(r *gin.Engine, cfg *config.Config, d routeDeps) {
	r.Use(middleware.Metrics(d.metrics, "/health", "/ready", "/metrics"))

	r.GET("/health", d.observability.Health)
	r.GET("/ready", d.observability.Ready)
	r.GET("/metrics", d.observability.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", d.authHandler.Login)
	auth.POST("/refresh", d.authHandler.Refresh)

	secured := api.Group("")
	secured.Use(middleware.JWT(d.auth))

	secured.POST("/auth/logout", d.authHandler.Logout)
	secured.POST("/auth/change-password", d.authHandler.ChangePassword)
	secured.GET("/auth/me", d.authHandler.Me)

	cases := secured.Group("/cases")
	cases.POST("", d.cases.Create)
	cases.GET("", d.cases.List)
	cases.GET("/:id", middleware.Audit(d.audit, models.AuditActionCaseView, "case"), d.cases.Get)
	cases.GET("/:id/workflow", d.workflows.ByCase)

	review := cases.Group("")
	review.Use(middleware.MinTier(models.TierReviewer))
	review.POST("/:id/claim", d.cases.Claim)
	review.PATCH("/:id/classification", d.cases.Classify)
	review.POST("/:id/escalate", d.cases.Escalate)
	review.POST("/:id/close", d.cases.Close)
	review.POST("/:id/archive", d.cases.Archive)

	workflows := secured.Group("/workflows")
	workflows.Use(middleware.MinTier(models.TierReviewer))
	workflows.GET("/mine", d.workflows.Mine)
	workflows.GET("/:id", d.workflows.Get)
	workflows.POST("/:id/stages/:stage/complete", d.workflows.CompleteStage)
	workflows.POST("/:id/notes", d.workflows.AddNote)
	workflows.GET("/:id/dossier", d.workflows.Dossier)
	workflows.POST("/:id/evidence", d.workflows.UploadEvidence)
	workflows.GET("/:id/evidence/*ref", d.workflows.Evidence)

	villages := secured.Group("/villages")
	villages.GET("", d.villages.List)
	villages.GET("/:id", d.villages.Get)
	villages.GET("/:id/statistics", middleware.MinTier(models.TierGovernance), d.analytics.VillageStatistics)
	villages.POST("", middleware.RequireTiers(models.TierSuperAdmin), d.villages.Create)
	villages.PATCH("/:id", middleware.RequireTiers(models.TierSuperAdmin), d.villages.Update)

	analytics := secured.Group("/analytics")
	analytics.Use(middleware.MinTier(models.TierGovernance))
	analytics.GET("", d.analytics.Overview)
	analytics.GET("/village-ratings", d.analytics.Ratings)

	users := secured.Group("/users")
	users.GET("", middleware.MinTier(models.TierGovernance), d.users.List)
	users.GET("/:id", d.users.Get)

	admin := users.Group("")
	admin.Use(middleware.RequireTiers(models.TierSuperAdmin))
	admin.POST("", d.users.Create)
	admin.PATCH("/:id/role", d.users.UpdateRole)
	admin.PUT("/:id/villages", d.users.GrantVillages)
	admin.PUT("/:id/temporary-role", d.users.SetTemporaryRole)
	admin.DELETE("/:id/temporary-role", d.users.RevokeTemporaryRole)
	admin.PATCH("/:id/active", d.users.SetActive)
	admin.PUT("/:id/password", d.users.ResetPassword)

	secured.GET("/notifications", d.notifications.List)
	secured.POST("/notifications/:id/read", d.notifications.MarkRead)

	secured.POST("/admin/sweeps", middleware.RequireTiers(models.TierSuperAdmin), d.admin.Sweep)
}
