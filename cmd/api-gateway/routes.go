package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/meal-voucher-api/internal/handler"
	"github.com/noah-isme/meal-voucher-api/internal/middleware"
	"github.com/noah-isme/meal-voucher-api/internal/models"
	"github.com/noah-isme/meal-voucher-api/internal/service"
	"github.com/noah-isme/meal-voucher-api/pkg/config"
	"github.com/noah-isme/meal-voucher-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/meal-voucher-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/meal-voucher-api/pkg/middleware/requestid"
)

type routes struct {
	tokens     middleware.TokenValidator
	metrics    *service.MetricsService
	auth       *handler.AuthHandler
	redemption *handler.RedemptionHandler
	terminals  *handler.TerminalHandler
	extraMeals *handler.ExtraMealHandler
	masterData *handler.MasterDataHandler
	system     *handler.MetricsHandler
}

func newRouter(cfg *config.Config, logr *zap.Logger, h routes) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(h.metrics))
	r.Use(middleware.ClientInfo())

	r.GET("/health", h.system.Health)
	r.GET("/ready", h.system.Ready)
	r.GET("/metrics", h.system.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.WithResponseMeta())

	auth := api.Group("/auth")
	auth.POST("/login", h.auth.Login)
	auth.POST("/refresh", h.auth.Refresh)

	secured := api.Group("")
	secured.Use(middleware.JWT(h.tokens))
	secured.GET("/auth/me", h.auth.Me)
	secured.POST("/auth/logout", h.auth.Logout)
	secured.POST("/auth/change-password", h.auth.ChangePassword)
	secured.GET("/availability", h.system.Availability)

	admins := middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin)
	secured.GET("/system/metrics", admins, h.system.System)

	vouchers := secured.Group("/vouchers", middleware.RequirePermission(models.PermissionTerminal))
	vouchers.POST("/validate", h.redemption.Validate)
	vouchers.POST("/redeem", h.redemption.Redeem)

	kiosk := secured.Group("/terminals/:terminalId", middleware.RequirePermission(models.PermissionTerminal))
	kiosk.GET("", h.terminals.Snapshot)
	kiosk.POST("/keys", h.terminals.PressKey)
	kiosk.POST("/submit", h.terminals.Submit)
	kiosk.POST("/meal-type", h.terminals.SelectMealType)
	kiosk.POST("/confirm", h.terminals.Confirm)
	kiosk.POST("/cancel", h.terminals.Cancel)
	kiosk.POST("/start-over", h.terminals.StartOver)

	masterRead := secured.Group("")
	masterRead.GET("/meal-types", h.masterData.ListMealTypes)
	masterRead.GET("/meal-types/:id", h.masterData.GetMealType)
	masterRead.GET("/shifts", h.masterData.ListShifts)
	masterRead.GET("/shifts/:id", h.masterData.GetShift)

	masterWrite := secured.Group("", middleware.RequirePermission(models.PermissionMasterData))
	masterWrite.POST("/meal-types", h.masterData.CreateMealType)
	masterWrite.PUT("/meal-types/:id", h.masterData.UpdateMealType)
	masterWrite.POST("/shifts", h.masterData.CreateShift)
	masterWrite.PUT("/shifts/:id", h.masterData.UpdateShift)

	if cfg.ExtraMeals.Enabled {
		extras := secured.Group("/extra-meals")
		extras.GET("", h.extraMeals.List)
		extras.POST("", h.extraMeals.Create)
		extras.GET("/:id", h.extraMeals.Get)
		extras.PATCH("/:id", h.extraMeals.Update)
		extras.DELETE("/:id", h.extraMeals.Delete)
		extras.POST("/:id/approve", middleware.RequirePermission(models.PermissionExtraMeals), h.extraMeals.Approve)
		extras.POST("/:id/reject", middleware.RequirePermission(models.PermissionExtraMeals), h.extraMeals.Reject)
	}

	return r
}
