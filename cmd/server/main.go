package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fslongjin/flutterbox/internal/build"
	"github.com/fslongjin/flutterbox/internal/config"
	"github.com/fslongjin/flutterbox/internal/handler"
	"github.com/fslongjin/flutterbox/internal/lifecycle"
	"github.com/fslongjin/flutterbox/internal/logx"
	"github.com/fslongjin/flutterbox/internal/metrics"
	"github.com/fslongjin/flutterbox/internal/service"
	"github.com/fslongjin/flutterbox/internal/store"
	"github.com/fslongjin/flutterbox/internal/workspace"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, closeLogger, err := logx.Init("flutterbox-server", cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() {
		if err := closeLogger(); err != nil {
			slog.Error("failed to close logger", "error", err)
		}
	}()

	stdLog := slog.NewLogLogger(logger.Handler(), slog.LevelInfo)
	log.SetFlags(0)
	log.SetOutput(stdLog.Writer())

	dbPath := cfg.DBPath()
	slog.Info("initializing database", "component", "store", "db_path", dbPath)
	if err := store.InitDB(dbPath); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.CloseDB()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewPrometheusRecorder(registry)

	files, err := workspace.NewStore(cfg.Workspace, cfg.Build)
	if err != nil {
		log.Fatalf("Failed to open workspace root: %v", err)
	}
	slog.Info("workspace store ready",
		"component", "workspace_store",
		"root", files.Root(),
		"template_dir", files.TemplateDir(),
		"build_exclusive", cfg.Build.IsExclusive(),
		"build_timeout", cfg.Build.Timeout.String(),
	)

	meta := store.NewWorkspaceStore()
	orchestrator := build.NewOrchestrator(files, cfg.Build, recorder)
	workspaceSvc := service.NewWorkspaceService(files, meta, recorder)
	buildSvc := service.NewBuildService(files, orchestrator, meta)

	drainState := lifecycle.NewDrainManager()

	workspaceHandler := handler.NewWorkspaceHandler(workspaceSvc)
	buildHandler := handler.NewBuildHandler(buildSvc, drainState)
	previewHandler := handler.NewPreviewHandler(buildSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logx.RequestIDMiddleware())
	r.Use(logx.AccessLogMiddleware("api_http", "/health", "/readyz", "/metrics"))

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Cache-Control", "Last-Event-ID", "X-Request-ID", "Upgrade", "Connection", "Sec-WebSocket-Key", "Sec-WebSocket-Version", "Sec-WebSocket-Extensions", "Sec-WebSocket-Protocol"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
	r.Use(drainState.Middleware("/health", "/readyz", "/metrics"))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		if drainState.IsDraining() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "draining"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.HTTPHandler(registry)))

	api := r.Group("/api")
	workspaceHandler.RegisterRoutes(api)
	buildHandler.RegisterRoutes(api)
	previewHandler.RegisterRoutes(r)

	// Cancelling baseCtx cancels every in-flight request, which kills the
	// builds bound to open log streams.
	baseCtx, cancelRequests := context.WithCancel(context.Background())
	defer cancelRequests()

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Log streams stay open for the length of a build.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return baseCtx },
	}

	go func() {
		slog.Info("api server starting", "component", "http_server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down api server", "component", "http_server", "active_streams", drainState.ActiveStreams())

	drainState.StartDraining()
	time.Sleep(cfg.Server.DrainDelay)

	ctxShutdown, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		slog.Warn("server shutdown timed out, cancelling open build streams",
			"component", "http_server",
			"active_streams", drainState.ActiveStreams(),
			"error", err,
		)
	}
	cancelRequests()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer drainCancel()
	if err := drainState.WaitStreams(drainCtx); err != nil {
		slog.Warn("build streams did not drain", "component", "http_server", "active_streams", drainState.ActiveStreams())
	}

	slog.Info("api server stopped", "component", "http_server")
}
