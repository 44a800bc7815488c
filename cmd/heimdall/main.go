package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"heimdall/internal/audit"
	"heimdall/internal/automod"
	"heimdall/internal/bot"
	"heimdall/internal/config"
	"heimdall/internal/escalation"
	"heimdall/internal/infractions"
	"heimdall/internal/metrics"
	"heimdall/internal/rulestore"
	"heimdall/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		logger.Fatal("storage init failed", zap.Error(err))
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	auditLogger := audit.NewLogger(store, logger)
	ledger := infractions.NewLedger(store, logger)
	resolver := escalation.NewResolver(escalation.Config{
		TTL: time.Duration(cfg.Automod.EscalationTTLDays) * 24 * time.Hour,
	})
	ruleStore, err := rulestore.New(store, logger)
	if err != nil {
		logger.Fatal("rule store init failed", zap.Error(err))
	}
	instruments := metrics.New()

	service := automod.New(automod.Deps{
		Rules:    ruleStore,
		Ledger:   ledger,
		Resolver: resolver,
		Store:    store,
		Audit:    auditLogger,
		Metrics:  instruments,
		Logger:   logger,
		Defaults: bot.DefaultSettings(cfg, ""),
	})

	botSvc, err := bot.New(cfg, logger, store, ruleStore, ledger, service, auditLogger)
	if err != nil {
		logger.Fatal("bot init failed", zap.Error(err))
	}

	if err := botSvc.Start(); err != nil {
		logger.Fatal("bot start failed", zap.Error(err))
	}
	logger.Info("bot started")

	startAuditCleanup(store, logger, cfg.RetentionDays)

	var server *http.Server
	if cfg.Health.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		mux.Handle("/metrics", instruments.Handler())
		server = &http.Server{Addr: cfg.Health.Addr, Handler: mux}
		go func() {
			logger.Info("health endpoint enabled", zap.String("addr", cfg.Health.Addr))
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("health server error", zap.Error(err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown requested")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if server != nil {
		_ = server.Shutdown(ctx)
	}
	botSvc.Close(ctx)
}

func startAuditCleanup(store *storage.Store, logger *zap.Logger, retentionDays int) {
	if retentionDays <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			if err := store.CleanupAuditLogs(context.Background(), retentionDays); err != nil {
				logger.Warn("audit cleanup failed", zap.Error(err))
			}
			<-ticker.C
		}
	}()
}
