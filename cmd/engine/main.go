// Command engine boots the saga engine's HTTP surface: it wires the state
// store, lock service, queue driver, event bus, tool invoker, confirmation
// service, failover policy engine, heartbeat service, and outbox relay
// into a workflow.Machine, then serves the four endpoints spec §6
// describes.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/randalmurphal/sagaengine/internal/httpapi"
	"github.com/randalmurphal/sagaengine/pkg/sagaengine/confirm"
	"github.com/randalmurphal/sagaengine/pkg/sagaengine/config"
	"github.com/randalmurphal/sagaengine/pkg/sagaengine/event"
	"github.com/randalmurphal/sagaengine/pkg/sagaengine/failover"
	"github.com/randalmurphal/sagaengine/pkg/sagaengine/heartbeat"
	"github.com/randalmurphal/sagaengine/pkg/sagaengine/lock"
	"github.com/randalmurphal/sagaengine/pkg/sagaengine/outbox"
	"github.com/randalmurphal/sagaengine/pkg/sagaengine/queue"
	"github.com/randalmurphal/sagaengine/pkg/sagaengine/reconcile"
	"github.com/randalmurphal/sagaengine/pkg/sagaengine/store"
	"github.com/randalmurphal/sagaengine/pkg/sagaengine/tool"
	"github.com/randalmurphal/sagaengine/pkg/sagaengine/trace"
	"github.com/randalmurphal/sagaengine/pkg/sagaengine/workflow"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfgPath := os.Getenv("SAGAENGINE_CONFIG")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	raw, err := config.FromFile(cfgPath)
	if err != nil {
		logger.Warn("no config file found, running with defaults", "path", cfgPath, "error", err)
		raw = config.New(nil)
	}
	cfg := config.NewEngine(raw)

	if cfg.Production() {
		if err := raw.ValidateProduction(); err != nil {
			log.Fatalf("fatal misconfiguration: %v", err)
		}
	}

	addr := raw.String("server.addr", ":8080")
	baseURL := raw.String("server.baseUrl", "http://localhost:8080")

	st, err := openStore(cfg, logger)
	if err != nil {
		log.Fatalf("open state store: %v", err)
	}
	defer st.Close()

	queueDrv, err := queue.New(queue.Config{
		Token:             cfg.QueueToken(),
		SigningKeyCurrent: cfg.QueueSigningKeyCurrent(),
		SigningKeyNext:    cfg.QueueSigningKeyNext(),
		Production:        cfg.Production(),
	})
	if err != nil {
		log.Fatalf("construct queue driver: %v", err)
	}

	bus := event.NewBus(event.Config{
		SigningKeyCurrent: cfg.QueueSigningKeyCurrent(),
		SigningKeyNext:    cfg.QueueSigningKeyNext(),
		Logger:            logger,
	})
	defer bus.Close()

	locks := lock.New(st, lock.WithTTL(cfg.LockTTL()), lock.WithGrace(cfg.LockGrace()))
	invoker := tool.New(nil)
	confirms := confirm.New(st, confirm.WithTTL(cfg.ConfirmationTTL()))
	policy := failover.New(nil)
	heartbeats := heartbeat.New(st, queueDrv, baseURL+"/engine/heartbeat-check", baseURL+"/engine/execute-step",
		heartbeat.WithDelay(cfg.HeartbeatDelay()),
		heartbeat.WithMaxRecoveryAttempts(cfg.ReconcileMaxRecoveryAttempts()),
		heartbeat.WithLogger(logger),
	)

	machine := workflow.New(st, locks, invoker, confirms, policy, queueDrv, baseURL+"/engine/execute-step",
		workflow.WithEventBus(bus),
		workflow.WithHeartbeats(heartbeats),
		workflow.WithLogger(logger),
		workflow.WithSpanManager(trace.NewSpanManager()),
	)

	relay := outbox.New(outbox.NewMemoryStore(), queueDrv, outbox.Config{
		QueueURL: baseURL + "/engine/execute-step",
	})
	relay.Start(context.Background())
	defer relay.Stop()

	reconciler := reconcile.New(st,
		reconcile.WithLogger(logger),
		reconcile.WithStallThreshold(cfg.ReconcileMinInactive()),
		reconcile.WithQueueDriver(queueDrv),
		reconcile.WithExecuteStepURL(baseURL+"/engine/execute-step"),
		reconcile.WithEventBus(bus),
	)
	stopReconcile := startReconcileLoop(reconciler, logger)
	defer close(stopReconcile)

	server := httpapi.New(machine, confirms, cfg,
		httpapi.WithRelay(relay),
		httpapi.WithHeartbeatService(heartbeats),
		httpapi.WithLogger(logger),
		httpapi.WithSpanManager(trace.NewSpanManager()),
	)

	httpServer := &http.Server{Addr: addr, Handler: server.Handler()}

	go func() {
		logger.Info("saga engine listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	waitForShutdown(httpServer, logger)
}

// openStore selects the state store backend: Redis when stateStore.url is
// configured (the token, if any, travels as part of the connection string
// per go-redis convention), SQLite for a local file-backed default,
// matching spec §6's "empty URL selects the local backend" convention.
func openStore(cfg config.Engine, logger *slog.Logger) (store.Store, error) {
	url := cfg.StateStoreURL()
	if url == "" {
		return store.NewSQLiteStore("sagaengine.db")
	}
	return store.NewRedisStore(url, store.WithLogger(logger))
}

// startReconcileLoop runs the reconciler (C11) on a fixed interval until
// the returned channel is closed.
func startReconcileLoop(r *reconcile.Reconciler, logger *slog.Logger) chan struct{} {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				result, err := r.Scan(context.Background())
				if err != nil {
					logger.Error("reconcile scan failed", "error", err)
					continue
				}
				if len(result.Findings) > 0 {
					logger.Info("reconcile scan found stalled sagas", "count", len(result.Findings))
				}
			}
		}
	}()
	return stop
}

func waitForShutdown(srv *http.Server, logger *slog.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
