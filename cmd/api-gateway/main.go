package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	_ "github.com/noah-isme/meal-voucher-api/api/swagger"
	"github.com/noah-isme/meal-voucher-api/internal/handler"
	"github.com/noah-isme/meal-voucher-api/internal/repository"
	"github.com/noah-isme/meal-voucher-api/internal/service"
	"github.com/noah-isme/meal-voucher-api/internal/timewindow"
	"github.com/noah-isme/meal-voucher-api/pkg/cache"
	"github.com/noah-isme/meal-voucher-api/pkg/config"
	"github.com/noah-isme/meal-voucher-api/pkg/database"
	"github.com/noah-isme/meal-voucher-api/pkg/logger"
	"github.com/noah-isme/meal-voucher-api/pkg/retry"
)

// @title Meal Voucher API
// @version 1.0.0
// @description Voucher redemption kiosks and the extra-meal approval workflow
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	metrics := service.NewMetricsService()

	var cacheRepo *repository.CacheRepository
	if redisClient, err := cache.NewRedis(ctx, cfg.Redis); err != nil {
		logr.Warn("redis unavailable, meal types will be read from postgres", zap.Error(err))
	} else {
		cacheRepo = repository.NewCacheRepository(redisClient, logr)
		defer cacheRepo.Close() //nolint:errcheck
	}
	var cacheBackend service.CacheRepository
	if cacheRepo != nil {
		cacheBackend = cacheRepo
	}
	cacheSvc := service.NewCacheService(cacheBackend, metrics, cfg.Availability.CacheTTL, logr, cfg.Availability.CacheEnabled)

	clock := timewindow.NewWallClock(cfg.Location())
	validate := validator.New()
	exec := retry.NewExecutor(retry.PolicyFromConfig(cfg.Retry), retry.WithObserver(metrics), retry.WithLogger(logr))

	users := repository.NewUserRepository(db)
	holders := repository.NewHolderRepository(db)
	shifts := repository.NewShiftRepository(db)
	mealTypeRepo := repository.NewMealTypeRepository(db)
	records := repository.NewMealRecordRepository(db)
	extraMeals := repository.NewExtraMealRepository(db)

	authSvc := service.NewAuthService(users, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "meal-voucher-api",
	})
	mealTypeSvc := service.NewMealTypeService(mealTypeRepo, cacheSvc, exec, users, validate, logr)
	shiftSvc := service.NewShiftService(shifts, users, validate, logr)
	checker := service.NewEligibilityChecker(holders, shifts, records, mealTypeSvc, exec, clock, cfg.Redemption.ShiftGracePeriod, logr)
	redemptionSvc := service.NewRedemptionService(checker, records, mealTypeSvc, exec, users, metrics, clock, validate, logr)
	guard := service.NewSessionGuard(users, logr)
	extraMealSvc := service.NewExtraMealService(extraMeals, holders, mealTypeRepo, guard, exec, users, clock, validate, logr)

	var cachePing interface {
		Ping(ctx context.Context) error
	}
	if cacheRepo != nil {
		cachePing = cacheRepo
	}
	monitor := service.NewAvailabilityMonitor(mealTypeSvc, db, cachePing, clock, cfg.Availability.RefreshInterval, metrics, logr)
	monitor.Start(ctx)
	defer monitor.Stop()

	terminalSvc := service.NewTerminalService(redemptionSvc, monitor, metrics, cfg.Terminal.SessionTTL, logr)
	defer terminalSvc.Close()

	router := newRouter(cfg, logr, routes{
		tokens:     authSvc,
		metrics:    metrics,
		auth:       handler.NewAuthHandler(authSvc),
		redemption: handler.NewRedemptionHandler(redemptionSvc),
		terminals:  handler.NewTerminalHandler(terminalSvc),
		extraMeals: handler.NewExtraMealHandler(extraMealSvc),
		masterData: handler.NewMasterDataHandler(mealTypeSvc, shiftSvc),
		system:     handler.NewMetricsHandler(metrics, monitor),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Error("server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}
}
