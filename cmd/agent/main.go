package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shopsync/config"
	"shopsync/internal/api"
	"shopsync/internal/backoff"
	"shopsync/internal/netmon"
	"shopsync/internal/queue"
	"shopsync/internal/service"
	"shopsync/internal/syncengine"
	"shopsync/internal/util"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting shopsync agent")

	tp, err := util.InitTracer("shopsync-agent", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	q, err := queue.Open(cfg.Agent.QueuePath)
	if err != nil {
		log.Fatalf("Failed to open mutation queue: %v", err)
	}
	defer q.Close()
	log.Println("Mutation queue opened")

	// Anything stranded in flight by a crash goes back to pending; the
	// idempotency keys make resending safe.
	if err := q.RequeueInFlight(context.Background()); err != nil {
		log.Fatalf("Failed to recover in-flight mutations: %v", err)
	}

	monitor := netmon.New(
		netmon.HTTPProber(&http.Client{}, cfg.Agent.ServerURL+"/health"),
		cfg.Sync.ProbeInterval,
	)

	reconciler := syncengine.NewHTTPReconciler(cfg.Agent.ServerURL+"/api/v1", cfg.Agent.TenantID, nil)
	engine := syncengine.New(q, monitor, reconciler, syncengine.Options{
		Policy: backoff.Policy{
			Base:        cfg.Sync.BackoffBase,
			Max:         cfg.Sync.BackoffMax,
			Jitter:      cfg.Sync.JitterFraction,
			MaxAttempts: cfg.Sync.MaxAttempts,
		},
		BatchSize:      cfg.Sync.BatchSize,
		FlushInterval:  cfg.Sync.FlushInterval,
		RequestTimeout: cfg.Sync.RequestTimeout,
	})

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	monitor.Start(runCtx)
	go engine.Run(runCtx)

	pos := service.NewPOSService(q, engine, cfg.Agent.TenantID)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewAgentHandler(pos)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Agent.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting agent HTTP server on port %s", cfg.Agent.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down agent...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	monitor.Stop()
	engine.Stop()
	runCancel()

	log.Println("Agent exited")
}
