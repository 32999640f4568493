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
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sos-safeguard-api/api/swagger"
	"github.com/noah-isme/sos-safeguard-api/internal/handler"
	"github.com/noah-isme/sos-safeguard-api/internal/models"
	"github.com/noah-isme/sos-safeguard-api/internal/repository"
	"github.com/noah-isme/sos-safeguard-api/internal/service"
	"github.com/noah-isme/sos-safeguard-api/pkg/cache"
	"github.com/noah-isme/sos-safeguard-api/pkg/config"
	"github.com/noah-isme/sos-safeguard-api/pkg/database"
	"github.com/noah-isme/sos-safeguard-api/pkg/export"
	"github.com/noah-isme/sos-safeguard-api/pkg/fieldcipher"
	"github.com/noah-isme/sos-safeguard-api/pkg/jobs"
	"github.com/noah-isme/sos-safeguard-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sos-safeguard-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sos-safeguard-api/pkg/middleware/requestid"
	"github.com/noah-isme/sos-safeguard-api/pkg/storage"
	"github.com/noah-isme/sos-safeguard-api/pkg/tracing"
)

// @title SOS Safeguard API
// @version 1.0.0
// @description Safeguarding case intake, review and documentation workflow
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg, logr)
	if err != nil {
		logr.Fatal("failed to init tracing", zap.Error(err))
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, login throttling and sweeper lease disabled", zap.Error(err))
	}
	coordination := repository.NewCoordinationRepository(redisClient, logr)
	defer coordination.Close() //nolint:errcheck

	cipher := newFieldCipher(cfg.Crypto, logr)

	timeout := cfg.Database.QueryTimeout
	userRepo := repository.NewUserRepository(db, timeout)
	villageRepo := repository.NewVillageRepository(db, timeout)
	caseRepo := repository.NewCaseRepository(db, timeout)
	workflowRepo := repository.NewWorkflowRepository(db, timeout)
	notificationRepo := repository.NewNotificationRepository(db, timeout)
	auditRepo := repository.NewAuditRepository(db, timeout)

	validate := validator.New()
	resolver := service.NewScopeResolver()
	metrics := service.NewMetricsService()
	audit := service.NewAuditService(auditRepo, logr)

	notifications := service.NewNotificationService(notificationRepo, logr, metrics)
	queue := jobs.NewQueue("notifications", notifications.Handle, jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		BufferSize: cfg.Notifications.BufferSize,
		MaxRetries: cfg.Notifications.MaxRetries,
		RetryDelay: cfg.Notifications.RetryDelay,
		Logger:     logr,
		OnDrop: func(job jobs.Job, err error) {
			metrics.RecordNotification(models.NotificationKind(job.Type), "dropped")
		},
	})
	queue.Start(ctx)
	notifications.UseQueue(queue)
	if err := metrics.TrackQueue(queue.Name(), func() service.QueueStats {
		st := queue.Stats()
		return service.QueueStats{Pending: st.Pending, Dropped: st.Dropped}
	}); err != nil {
		logr.Warn("queue metrics not registered", zap.Error(err))
	}

	cacheSvc := service.NewCacheService(repository.NewCacheRepository(redisClient), metrics, cfg.Analytics.OverviewTTL, logr,
		cfg.Analytics.CacheEnabled && coordination.Enabled())

	authOpts := []service.AuthServiceOption{
		service.WithAuthAudit(audit),
		service.WithAuthMetrics(metrics),
	}
	if cfg.LoginLimit.Enabled && coordination.Enabled() {
		authOpts = append(authOpts, service.WithAuthLimiter(coordination))
	}
	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
		MaxLoginAttempts:   cfg.LoginLimit.MaxAttempts,
		LoginWindow:        cfg.LoginLimit.Window,
	}, authOpts...)

	userSvc := service.NewUserService(userRepo, villageRepo, resolver, validate, logr, service.WithUserAudit(audit))
	villageSvc := service.NewVillageService(villageRepo, validate, logr,
		service.WithVillageAudit(audit),
		service.WithVillageCache(cacheSvc),
	)
	analyticsSvc := service.NewAnalyticsService(repository.NewAnalyticsRepository(db, timeout), villageRepo, cacheSvc, metrics, logr,
		service.AnalyticsConfig{OverviewTTL: cfg.Analytics.OverviewTTL, RatingsTTL: cfg.Analytics.RatingsTTL})

	caseSvc := service.NewCaseService(caseRepo, cipher, resolver, validate, logr,
		service.CaseServiceConfig{InitialWindow: cfg.Workflow.InitialReportWindow},
		service.WithCaseNotifier(notifications),
		service.WithCaseAudit(audit),
		service.WithCaseDirectory(userRepo),
		service.WithCaseMetrics(metrics),
	)

	workflowOpts := []service.WorkflowServiceOption{
		service.WithWorkflowNotifier(notifications),
		service.WithWorkflowAudit(audit),
		service.WithWorkflowMetrics(metrics),
		service.WithWorkflowRenderer(export.NewDossierRenderer()),
	}
	evidence, err := storage.NewLocalEvidence(cfg.Evidence.BaseDir)
	if err != nil {
		logr.Fatal("failed to open evidence store", zap.Error(err))
	}
	workflowOpts = append(workflowOpts, service.WithWorkflowEvidenceFiles(evidence, cfg.Evidence.MaxUploadBytes, cfg.Evidence.MaxFiles))
	if cfg.Evidence.Enabled {
		workflowOpts = append(workflowOpts, service.WithWorkflowEvidenceStore(evidence))
	}
	workflowSvc := service.NewWorkflowService(workflowRepo, caseRepo, cipher, resolver, validate, logr,
		service.WorkflowServiceConfig{FinalWindow: cfg.Workflow.FinalReportWindow}, workflowOpts...)

	sweeper := service.NewDeadlineSweeper(caseRepo, notifications, coordination, logr, metrics, service.SweeperConfig{
		Interval:        cfg.Sweeper.Interval,
		Lookahead:       cfg.Sweeper.Lookahead,
		Concurrency:     cfg.Sweeper.Concurrency,
		DistributedLock: cfg.Sweeper.DistributedLock,
		LockTTL:         cfg.Sweeper.LockTTL,
		DedupeReminders: cfg.Sweeper.DedupeReminders,
		ReminderKind:    models.NotificationKind(cfg.Sweeper.ReminderTemplate),
	})
	sweeper.UseAudit(audit)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(otelgin.Middleware(cfg.ServiceName))
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))

	checks := map[string]handler.Pinger{"postgres": handler.PingerFunc(db.PingContext)}
	if coordination.Enabled() {
		checks["redis"] = coordination
	}

	registerRoutes(r, cfg, routeDeps{
		auth:          authSvc,
		audit:         audit,
		metrics:       metrics,
		authHandler:   handler.NewAuthHandler(authSvc),
		cases:         handler.NewCaseHandler(caseSvc),
		workflows:     handler.NewWorkflowHandler(workflowSvc, uploadBodyLimit(cfg.Evidence)),
		users:         handler.NewUserHandler(userSvc),
		villages:      handler.NewVillageHandler(villageSvc),
		analytics:     handler.NewAnalyticsHandler(analyticsSvc),
		notifications: handler.NewNotificationHandler(notifications),
		admin:         handler.NewAdminHandler(sweeper),
		observability: handler.NewMetricsHandler(metrics, checks),
	})

	if cfg.Sweeper.Enabled {
		go sweeper.Run(ctx)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("http shutdown failed", zap.Error(err))
	}
	queue.Stop()
	audit.Wait()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logr.Warn("tracing shutdown failed", zap.Error(err))
	}
}

// newFieldCipher builds the column cipher. A missing key is reported by the cipher itself,
// once, and the process keeps running in passthrough mode.
func newFieldCipher(cfg config.CryptoConfig, logr *zap.Logger) *fieldcipher.Cipher {
	return fieldcipher.New(cfg.FieldKey, cfg.PreviousFieldKeys, logr)
}

// uploadBodyLimit bounds a multipart evidence upload: every file at its limit plus room for
// the form framing.
func uploadBodyLimit(cfg config.EvidenceConfig) int64 {
	if cfg.MaxUploadBytes <= 0 || cfg.MaxFiles <= 0 {
		return 0
	}
	return cfg.MaxUploadBytes*int64(cfg.MaxFiles) + 1<<20
}
