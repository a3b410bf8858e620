package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/adskit/ads/internal/agent"
	"github.com/adskit/ads/internal/agent/cliproc"
	"github.com/adskit/ads/internal/agent/probe"
	"github.com/adskit/ads/internal/app"
	"github.com/adskit/ads/internal/common/logger"
	"github.com/adskit/ads/internal/config"
	"github.com/adskit/ads/internal/events/bus"
	"github.com/adskit/ads/internal/gateway/api"
	gw "github.com/adskit/ads/internal/gateway/websocket"
	"github.com/adskit/ads/internal/session"
	"github.com/adskit/ads/internal/task/repository"
	"github.com/adskit/ads/internal/task/verification"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting ads server...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Workspace marker and state directory
	if err := app.EnsureWorkspaceMarker(cfg.Workspace.Root, cfg.Workspace.MarkerPath()); err != nil {
		log.Fatal("Failed to write workspace marker", zap.Error(err))
	}

	// 4. Task store. A migration failure is fatal.
	repo, err := repository.NewSQLiteRepository(cfg.Workspace.StateDBPath())
	if err != nil {
		log.Fatal("Failed to open task store", zap.Error(err))
	}
	defer repo.Close()
	log.Info("Task store ready", zap.String("path", cfg.Workspace.StateDBPath()))

	// 5. Event bus: NATS when configured, in-memory otherwise
	var events bus.Bus
	if cfg.NATS.URL != "" {
		events, err = bus.NewNATSBus(bus.NATSOptions{
			URL:           cfg.NATS.URL,
			MaxReconnects: cfg.NATS.MaxReconnects,
		}, log)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		log.Info("Connected to NATS event bus", zap.String("url", cfg.NATS.URL))
	} else {
		events = bus.NewMemoryBus(log)
	}
	defer events.Close()

	// 6. Availability prober
	prober := probe.New(cfg.Agents.ProbeTimeout(), log)
	prober.ProbeAll(ctx, map[string]string{
		agent.IDCodex: cfg.Agents.CodexBin,
		agent.IDAmp:   cfg.Agents.AmpBin,
		agent.IDDroid: cfg.Agents.DroidBin,
	})

	// 7. Thread store and session manager
	threads, err := session.NewThreadStore(filepath.Join(cfg.Workspace.StateDir(), "threads.json"))
	if err != nil {
		log.Fatal("Failed to load thread store", zap.Error(err))
	}
	runner := cliproc.NewRunner(log)
	sessions := session.NewManager(session.ManagerOptions{
		Factory:         app.NewAdapterFactory(cfg, runner, log),
		Threads:         threads,
		Prober:          prober,
		IdleTimeout:     cfg.Session.IdleTimeout(),
		CleanupInterval: cfg.Session.CleanupInterval(),
	}, log)
	sessions.SetLogDir(filepath.Join(cfg.Workspace.StateDir(), "logs"))
	sessions.StartCleanup(ctx)

	// 8. Verification runner
	verifier := verification.NewRunner(verification.Config{
		Enabled:         cfg.Coordinator.VerificationEnabled,
		ExecToolEnabled: cfg.Coordinator.ExecToolEnabled,
		AllowList:       cfg.Coordinator.CommandAllowList,
		SuiteDir:        filepath.Join(cfg.Workspace.StateDir(), "smokes"),
		ArtifactDir:     filepath.Join(cfg.Workspace.StateDir(), "artifacts"),
	}, log)

	// 9. Application core
	core := app.New(cfg, sessions, repo, verifier, prober, events, log)

	// 10. HTTP server with gin: health + REST + WS bridge
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	hub := gw.NewHub(cfg.Gateway.MaxClients, cfg.Gateway.HistoryLimit, log)
	go hub.Run(ctx)

	bridge := gw.NewHandler(core, events, hub, gw.Config{
		AllowedOrigins: cfg.Gateway.AllowedOrigins,
		BearerToken:    cfg.Gateway.BearerToken,
		Heartbeat:      time.Duration(cfg.Gateway.HeartbeatMs) * time.Millisecond,
		MaxMissedPongs: cfg.Gateway.MaxMissedPongs,
	}, log)
	bridge.Register(router)

	handler := api.NewHandler(sessions, repo, prober, hub, cfg.Workspace.Root, log)
	router.GET("/health", handler.HealthCheck)
	api.SetupRoutes(router.Group("/api/v1"), handler)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// 11. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down ads server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	log.Info("ads server stopped")
}
