// Package main runs the register daemon: a localhost REST/WebSocket server
// over the offline sale queue with background synchronization.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mwren/tillpoint/cmd/registerd/handlers"
	"github.com/mwren/tillpoint/internal/backend"
	"github.com/mwren/tillpoint/internal/catalog"
	"github.com/mwren/tillpoint/internal/config"
	"github.com/mwren/tillpoint/internal/connectivity"
	"github.com/mwren/tillpoint/internal/db"
	"github.com/mwren/tillpoint/internal/logging"
	"github.com/mwren/tillpoint/internal/queue"
	"github.com/mwren/tillpoint/internal/register"
	syncpkg "github.com/mwren/tillpoint/internal/sync"
	"github.com/mwren/tillpoint/internal/sync/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Init(os.Stderr, "info", "text")
		logging.Error("invalid configuration", err, nil)
		os.Exit(1)
	}

	logging.Init(os.Stdout, cfg.App.LogLevel, cfg.App.LogFormat)
	logging.Info("registerd starting", map[string]interface{}{
		"tenant": cfg.Register.TenantID,
		"store":  cfg.Register.StoreID,
		"listen": cfg.Register.ListenAddr,
	})

	// Storage. The queue must be durable before anything else runs.
	database, err := db.Open(cfg.App.DataDir)
	if err != nil {
		logging.Error("failed to open database", err, nil)
		os.Exit(1)
	}
	defer database.Close()

	migrator := db.NewMigrator(database.DB, db.Migrations())
	if err := migrator.Initialize(); err != nil {
		logging.Error("failed to initialize migrations", err, nil)
		os.Exit(1)
	}
	if err := migrator.Up(); err != nil {
		logging.Error("failed to apply migrations", err, nil)
		os.Exit(1)
	}

	repo := db.NewRepository(database.DB)
	defer repo.Close()

	cache := catalog.NewCache(repo, cfg.Register.TenantID)
	saleQueue := queue.New(repo)

	// Backend plumbing: HTTP client, reachability monitor, probe.
	client := backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.AuthToken,
		cfg.Backend.SubmitTimeout, cfg.Backend.FetchTimeout)

	// Start pessimistic; the first probe corrects within seconds and queued
	// checkouts work either way.
	monitor := connectivity.NewMonitor(false)
	probe := connectivity.NewProbe(monitor, client, cfg.Probe.Interval, cfg.Probe.Timeout)

	syncer := syncpkg.New(saleQueue, cache, client, cfg.Register.TenantID,
		cfg.Register.StoreID, cfg.Sync.AlertPending)

	// WebSocket hub receives every engine event the UI cares about.
	hub := NewWSHub()
	syncer.SetNotifier(hub)
	monitor.Subscribe(hub.ConnectivityChanged)

	session := register.NewSession(cfg.Register.TenantID, cfg.Register.StoreID,
		cache, saleQueue, syncer, monitor)
	session.SetQueuedListener(hub)

	sched := scheduler.New(syncer, saleQueue, monitor, &scheduler.Config{
		SyncInterval: cfg.Sync.Interval,
		BackoffBase:  cfg.Sync.BackoffBase,
		BackoffMax:   cfg.Sync.BackoffMax,
		Retention:    time.Duration(cfg.Sync.RetentionDays) * 24 * time.Hour,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched.Start(ctx)
	defer sched.Stop()
	probe.Start(ctx)
	defer probe.Stop()

	// REST API for the register UI.
	registerHandler := handlers.NewRegisterHandler(session)
	productHandler := handlers.NewProductHandler(cache)
	salesHandler := handlers.NewSalesHandler(saleQueue)
	syncHandler := handlers.NewSyncHandler(syncer, saleQueue, monitor)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/health", syncHandler.Health)
	mux.HandleFunc("/api/v1/products", productHandler.Lookup)
	mux.HandleFunc("/api/v1/cart", registerHandler.GetCart)
	mux.HandleFunc("/api/v1/cart/items", registerHandler.AddItem)
	mux.HandleFunc("/api/v1/cart/items/quantity", registerHandler.SetQuantity)
	mux.HandleFunc("/api/v1/cart/items/remove", registerHandler.RemoveItem)
	mux.HandleFunc("/api/v1/cart/clear", registerHandler.ClearCart)
	mux.HandleFunc("/api/v1/checkout", registerHandler.Checkout)
	mux.HandleFunc("/api/v1/sales", salesHandler.List)
	mux.HandleFunc("/api/v1/sales/get", salesHandler.Get)
	mux.HandleFunc("/api/v1/sync/status", syncHandler.GetStatus)
	mux.HandleFunc("/api/v1/sync/now", syncHandler.TriggerDrain)
	mux.HandleFunc("/ws", HandleWebSocket(hub))

	server := &http.Server{
		Addr:    cfg.Register.ListenAddr,
		Handler: mux,
	}

	go func() {
		logging.Info("listening", map[string]interface{}{"addr": cfg.Register.ListenAddr})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("server failed", err, nil)
			stop()
		}
	}()

	<-ctx.Done()
	logging.Info("shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Error("shutdown incomplete", err, nil)
	}
}
