package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/kelasku/kelasku-api/api/swagger"
	"github.com/kelasku/kelasku-api/internal/handler"
	"github.com/kelasku/kelasku-api/internal/middleware"
	"github.com/kelasku/kelasku-api/internal/models"
	"github.com/kelasku/kelasku-api/internal/repository"
	"github.com/kelasku/kelasku-api/internal/service"
	"github.com/kelasku/kelasku-api/pkg/cache"
	"github.com/kelasku/kelasku-api/pkg/config"
	"github.com/kelasku/kelasku-api/pkg/database"
	"github.com/kelasku/kelasku-api/pkg/jobs"
	"github.com/kelasku/kelasku-api/pkg/logger"
	"github.com/kelasku/kelasku-api/pkg/mail"
	corsmiddleware "github.com/kelasku/kelasku-api/pkg/middleware/cors"
	reqidmiddleware "github.com/kelasku/kelasku-api/pkg/middleware/requestid"
	"github.com/kelasku/kelasku-api/pkg/payment"
	"github.com/kelasku/kelasku-api/pkg/storage"
)

// @title Kelasku API
// @version 1.0.0
// @description Online course marketplace: courses, lessons, missions, reviews, and Midtrans-backed subscriptions.
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		// The API degrades to uncached reads when redis is unavailable.
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close()

	fileStore, err := storage.NewLocalStorage(cfg.Uploads.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init upload storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Uploads.SignedURLSecret, cfg.Uploads.SignedURLTTL)

	var sender mail.Sender = mail.NopSender{}
	if cfg.Mail.Enabled {
		sender = mail.NewSendgridSender(cfg.Mail.APIKey, cfg.Mail.FromName, cfg.Mail.FromEmail, logr)
	}

	gateway := payment.NewMidtransGateway(cfg.Payments.ServerKey, cfg.Payments.Production)

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	lessonRepo := repository.NewLessonRepository(db)
	missionRepo := repository.NewMissionRepository(db)
	reviewRepo := repository.NewReviewRepository(db)
	subscriptionRepo := repository.NewSubscriptionRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)

	// Services.
	metricsSvc := service.NewMetricsService()
	notificationSvc := service.NewNotificationService(sender, metricsSvc, logr, jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		MaxRetries: cfg.Notifications.MaxRetries,
		RetryDelay: cfg.Notifications.RetryDelay,
		Logger:     logr,
	})

	authSvc := service.NewAuthService(userRepo, nil, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "kelasku-api",
	})
	courseSvc := service.NewCourseService(courseRepo, cacheRepo, cfg.Catalog.CacheTTL, nil, logr)
	lessonSvc := service.NewLessonService(lessonRepo, courseRepo, cacheRepo, nil, logr)
	missionSvc := service.NewMissionService(missionRepo, lessonRepo, courseRepo, subscriptionRepo, reviewRepo, userRepo, notificationSvc, cacheRepo, cfg.Catalog.StatusCacheTTL, metricsSvc, nil, logr)
	reviewSvc := service.NewReviewService(reviewRepo, missionRepo, lessonRepo, courseRepo, userRepo, fileStore, signer, notificationSvc, cacheRepo, service.UploadPolicy{
		MaxFileSizeBytes: cfg.Uploads.MaxFileSizeBytes,
		AllowedMIMEs:     cfg.Uploads.AllowedMIMEs,
	}, nil, logr)
	subscriptionSvc := service.NewSubscriptionService(subscriptionRepo, courseRepo, logr)
	paymentSvc := service.NewPaymentService(paymentRepo, subscriptionRepo, courseRepo, userRepo, gateway, notificationSvc, cfg.Payments.ServerKey, cfg.Payments.FinishURL, nil, logr)
	exportSvc := service.NewExportService(courseRepo, lessonRepo, missionRepo, reviewRepo, nil, nil, logr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	notificationSvc.Start(ctx)
	defer notificationSvc.Stop()

	// Handlers.
	authHandler := handler.NewAuthHandler(authSvc)
	courseHandler := handler.NewCourseHandler(courseSvc)
	lessonHandler := handler.NewLessonHandler(lessonSvc)
	missionHandler := handler.NewMissionHandler(missionSvc)
	reviewHandler := handler.NewReviewHandler(reviewSvc)
	subscriptionHandler := handler.NewSubscriptionHandler(subscriptionSvc)
	paymentHandler := handler.NewPaymentHandler(paymentSvc)
	reportHandler := handler.NewReportHandler(exportSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": "database unreachable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
		auth.POST("/change-password", middleware.JWT(authSvc), authHandler.ChangePassword)
		auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)
	}

	// Catalog reads are public; the optional token only personalizes them.
	api.GET("/courses", middleware.OptionalJWT(authSvc), courseHandler.List)
	api.GET("/courses/:id", middleware.OptionalJWT(authSvc), courseHandler.Get)
	api.GET("/courses/:id/lessons", middleware.OptionalJWT(authSvc), lessonHandler.List)

	teacherOrAdmin := middleware.RequireRoles(models.RoleTeacher, models.RoleAdmin)

	courses := api.Group("/courses", middleware.JWT(authSvc))
	{
		courses.POST("", teacherOrAdmin, middleware.Audit(userRepo, "CREATE", "course"), courseHandler.Create)
		courses.PUT("/:id", teacherOrAdmin, middleware.Audit(userRepo, "UPDATE", "course"), courseHandler.Update)

		courses.POST("/:id/lessons", teacherOrAdmin, lessonHandler.Append)
		courses.POST("/:id/lessons/:lessonId/move", teacherOrAdmin, lessonHandler.Move)
		courses.DELETE("/:id/lessons/:lessonId", teacherOrAdmin, middleware.Audit(userRepo, "DELETE", "lesson"), lessonHandler.Remove)

		courses.POST("/:id/subscribe", middleware.RequireRoles(models.RoleStudent), paymentHandler.Subscribe)
		courses.GET("/:id/reports/grades", teacherOrAdmin, reportHandler.CourseGrades)
	}

	lessons := api.Group("/lessons", middleware.JWT(authSvc))
	{
		lessons.PUT("/:lessonId", teacherOrAdmin, lessonHandler.Update)
		lessons.POST("/:lessonId/mission", teacherOrAdmin, missionHandler.Create)
	}

	missions := api.Group("/missions", middleware.JWT(authSvc))
	{
		missions.GET("/:id", missionHandler.Get)
		missions.PUT("/:id", teacherOrAdmin, missionHandler.Update)
		missions.POST("/:id/reconcile", teacherOrAdmin, missionHandler.Reconcile)
	}

	reviews := api.Group("/reviews", middleware.JWT(authSvc))
	{
		reviews.GET("/:id", reviewHandler.Get)
		reviews.POST("/:id/grade", teacherOrAdmin, reviewHandler.Grade)
		reviews.PUT("/:id/extension", teacherOrAdmin, reviewHandler.Extend)
		reviews.GET("/:id/documents", reviewHandler.ListDocuments)
		reviews.POST("/:id/documents", reviewHandler.UploadDocument)
		reviews.GET("/:id/documents/:docId/download", reviewHandler.DocumentDownload)
		reviews.GET("/:id/messages", reviewHandler.ListMessages)
		reviews.POST("/:id/messages", reviewHandler.PostMessage)
	}

	subscriptions := api.Group("/subscriptions", middleware.JWT(authSvc))
	{
		subscriptions.GET("", subscriptionHandler.List)
		subscriptions.GET("/:id", subscriptionHandler.Get)
	}

	// Signed token downloads and the gateway callback authenticate themselves.
	api.GET("/downloads", reviewHandler.Download)
	api.POST("/payments/notification", paymentHandler.Notification)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
