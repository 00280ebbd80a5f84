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
	"github.com/redis/go-redis/v9"

	"github.com/plantctl/mes-api/internal/handler"
	"github.com/plantctl/mes-api/internal/middleware"
	"github.com/plantctl/mes-api/internal/repository"
	"github.com/plantctl/mes-api/internal/service"
	"github.com/plantctl/mes-api/pkg/cache"
	"github.com/plantctl/mes-api/pkg/config"
	"github.com/plantctl/mes-api/pkg/database"
	"github.com/plantctl/mes-api/pkg/logger"
	corsmiddleware "github.com/plantctl/mes-api/pkg/middleware/cors"
	reqidmiddleware "github.com/plantctl/mes-api/pkg/middleware/requestid"
	"github.com/plantctl/mes-api/pkg/scheduler"
)

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

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, board cache disabled", "error", err)
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	validate := validator.New()

	detailRepo := repository.NewDetailRepository(db)
	machineRepo := repository.NewMachineRepository(db)
	changeoverRepo := repository.NewChangeoverRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	stageRepo := repository.NewRouteStageRepository(db)
	execRepo := repository.NewExecutionRepository(db)
	shiftRepo := repository.NewShiftRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metricsSvc := service.NewMetricsService()
	shiftSvc := service.NewShiftService(shiftRepo, validate, logr)
	catalogSvc := service.NewCatalogService(detailRepo, machineRepo, changeoverRepo, validate, logr)
	orderSvc := service.NewOrderService(db, orderRepo, stageRepo, detailRepo, validate, logr)
	execSvc := service.NewExecutionService(db, stageRepo, execRepo, orderRepo, machineRepo, validate, logr)
	assignSvc := service.NewAssignmentService(db, stageRepo, machineRepo, orderRepo, changeoverRepo, execRepo, validate, logr)
	autoSvc := service.NewAutomationService(db, stageRepo, machineRepo, execRepo, changeoverRepo, execSvc, shiftSvc, metricsSvc, cfg.Automation, logr)
	boardSvc := service.NewBoardService(machineRepo, execRepo, cacheRepo, metricsSvc, cfg.Board, logr)

	catalogHandler := handler.NewCatalogHandler(catalogSvc)
	orderHandler := handler.NewOrderHandler(orderSvc)
	stageHandler := handler.NewStageHandler(assignSvc, autoSvc, execSvc)
	execHandler := handler.NewExecutionHandler(execSvc)
	machineHandler := handler.NewMachineHandler(boardSvc, execSvc)
	autoHandler := handler.NewAutomationHandler(autoSvc)
	shiftHandler := handler.NewShiftHandler(shiftSvc)

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
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db unreachable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	api := r.Group(cfg.APIPrefix)
	{
		api.POST("/details", catalogHandler.CreateDetail)
		api.GET("/details", catalogHandler.ListDetails)
		api.POST("/details/:id/operations", catalogHandler.AddOperation)
		api.GET("/details/:id/operations", catalogHandler.ProcessPlan)

		api.POST("/machine-types", catalogHandler.CreateMachineType)
		api.POST("/machines", catalogHandler.CreateMachine)
		api.GET("/machines", catalogHandler.ListMachines)
		api.GET("/machines/:id/changeovers", catalogHandler.ListChangeovers)
		api.POST("/machines/:id/release", machineHandler.Release)
		api.POST("/changeovers", catalogHandler.CreateChangeover)
		api.GET("/board", machineHandler.Board)

		api.POST("/orders", orderHandler.Create)
		api.GET("/orders", orderHandler.List)
		api.GET("/orders/:id", orderHandler.Get)
		api.POST("/orders/:id/start", orderHandler.Start)
		api.POST("/orders/:id/cancel", orderHandler.Cancel)

		api.POST("/stages/:id/assign-machine", stageHandler.AssignMachine)
		api.POST("/stages/:id/start", stageHandler.Start)
		api.POST("/stages/:id/queue", stageHandler.Enqueue)
		api.DELETE("/stages/:id/queue", stageHandler.Dequeue)
		api.GET("/stages/:id/estimated-start", stageHandler.EstimatedStart)

		api.POST("/executions/:id/pause", execHandler.Pause)
		api.POST("/executions/:id/resume", execHandler.Resume)
		api.POST("/executions/:id/complete", execHandler.Complete)
		api.PATCH("/executions/:id/actual-time", execHandler.UpdateActualTime)
		api.GET("/executions/:id/logs", execHandler.Logs)

		api.POST("/automation/run", autoHandler.Run)
		api.GET("/automation/queue", autoHandler.Queue)

		api.POST("/shifts", shiftHandler.Create)
		api.GET("/shifts", shiftHandler.List)
		api.POST("/shifts/:id/assign", shiftHandler.Assign)
		api.DELETE("/shift-assignments/:id", shiftHandler.Unassign)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Scheduler.Enabled {
		sched := scheduler.New("automation-pass", func(ctx context.Context) error {
			_, err := autoSvc.ProcessPass(ctx, false)
			return err
		}, scheduler.Config{Period: cfg.Scheduler.Period, Logger: logr})
		sched.Start(ctx)
		defer sched.Stop()
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("shutdown incomplete", "error", err)
	}
}
