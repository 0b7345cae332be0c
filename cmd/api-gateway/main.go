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
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/stagehub/stages-api/api/swagger"
	"github.com/stagehub/stages-api/internal/handler"
	"github.com/stagehub/stages-api/internal/middleware"
	"github.com/stagehub/stages-api/internal/models"
	"github.com/stagehub/stages-api/internal/repository"
	"github.com/stagehub/stages-api/internal/service"
	"github.com/stagehub/stages-api/migrations"
	"github.com/stagehub/stages-api/pkg/cache"
	"github.com/stagehub/stages-api/pkg/config"
	"github.com/stagehub/stages-api/pkg/database"
	"github.com/stagehub/stages-api/pkg/logger"
	"github.com/stagehub/stages-api/pkg/mailer"
	corsmiddleware "github.com/stagehub/stages-api/pkg/middleware/cors"
	reqidmiddleware "github.com/stagehub/stages-api/pkg/middleware/requestid"
	"github.com/stagehub/stages-api/pkg/storage"
)

// @title Stages API
// @version 1.0.0
// @description Internship request management service
// @BasePath /api/v1
// @schemes http

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	if err := database.Migrate(ctx, db, migrations.FS); err != nil {
		logr.Sugar().Fatalw("failed to run migrations", "error", err)
	}

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, rate limiting disabled", "error", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	uploadStore, err := storage.NewLocalStorage(cfg.Uploads.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init upload storage", "error", err)
	}
	exportStore, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init export storage", "error", err)
	}

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	requestRepo := repository.NewRequestRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	metricsSvc := service.NewMetricsService()
	authSvc := service.NewAuthService(userRepo, auditRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "stages-api",
	})
	requestSvc := service.NewRequestService(requestRepo, auditRepo, validate, logr).WithMetrics(metricsSvc)
	querySvc := service.NewQueryService(requestRepo, cfg.Query, logr)
	dispatcherSvc := service.NewDispatcherService(
		notificationRepo,
		mailer.NewSMTPSender(cfg.Mail),
		cfg.Dispatcher,
		logr,
	).WithMetrics(metricsSvc)
	exportSvc := service.NewExportService(requestRepo, exportStore, cfg.Exports.WorkerConcurrency, cfg.Exports.WorkerRetries, logr)

	dispatcherSvc.Start()
	defer dispatcherSvc.Stop()
	exportSvc.Start(ctx)
	defer exportSvc.Stop()

	authHandler := handler.NewAuthHandler(authSvc)
	requestHandler := handler.NewRequestHandler(requestSvc, querySvc, uploadStore, cfg.Uploads)
	notificationHandler := handler.NewNotificationHandler(dispatcherSvc)
	exportHandler := handler.NewExportHandler(exportSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	limiter := middleware.NewRedisLimiter(redisClient)

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/register", middleware.LoginRateLimit(limiter, cfg.RateLimit), authHandler.Register)
	auth.POST("/login", middleware.LoginRateLimit(limiter, cfg.RateLimit), authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)
	auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
	auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)

	requests := api.Group("/requests", middleware.JWT(authSvc))
	requests.POST("", requestHandler.Create)
	requests.GET("", requestHandler.List)
	requests.GET("/stats", requestHandler.Stats)
	requests.GET("/export", exportHandler.Export)
	requests.POST("/export", middleware.RBAC(models.RoleAdmin), exportHandler.Schedule)
	requests.GET("/export/:name", middleware.RBAC(models.RoleAdmin), exportHandler.Download)
	requests.GET("/:id", requestHandler.Get)
	requests.PUT("/:id", requestHandler.Update)
	requests.DELETE("/:id", requestHandler.Delete)
	requests.POST("/:id/submit", requestHandler.Submit)
	requests.POST("/:id/decision", middleware.RBAC(models.RoleAdmin), requestHandler.Decide)
	requests.POST("/:id/documents", requestHandler.UploadDocuments)

	notifications := api.Group("/notifications", middleware.JWT(authSvc), middleware.RBAC(models.RoleAdmin))
	notifications.GET("", notificationHandler.List)
	notifications.POST("/drain", notificationHandler.Drain)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
