package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"support-signaling/internal/active"
	"support-signaling/internal/auth"
	"support-signaling/internal/config"
	"support-signaling/internal/directory"
	"support-signaling/internal/httpapi"
	"support-signaling/internal/ledger"
	"support-signaling/internal/notify"
	"support-signaling/internal/presence"
	"support-signaling/internal/relay"
	"support-signaling/internal/reporting"
	"support-signaling/internal/ws"
	"support-signaling/pkg/logger"
	"support-signaling/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Participant directory: Postgres source fronted by a Redis profile cache.
	dir := directory.NewCachedLookup(directory.NewPostgresLookup(db), rdb, 0, log)

	ledgerRepo := ledger.NewPostgresRepo(db)
	ledgerSvc := ledger.NewService(ledgerRepo)

	// Settle whatever the previous process left ringing or ongoing before
	// accepting new connections.
	if n, err := ledgerSvc.SweepStale(rootCtx); err != nil {
		log.Error("boot sweep failed", "err", err)
		os.Exit(1)
	} else if n > 0 {
		log.Info("boot sweep settled records", "count", n)
	}

	pres := presence.NewRegistry()
	activeReg := active.NewRegistry(pres.Broadcast, log)
	notifier := notify.NewRedisNotifier(rdb, log)

	relaySvc := relay.NewService(pres, activeReg, ledgerSvc, dir, notifier, cfg.Signaling, log)

	wsHandler := &ws.Handler{
		Auth:       authManager,
		Relay:      relaySvc,
		Presence:   pres,
		Dir:        dir,
		SendBuffer: cfg.Signaling.SendBuffer,
		Log:        log,
	}

	handlers := httpapi.Handlers{
		Auth:      authManager,
		Ledger:    ledgerSvc,
		Active:    activeReg,
		Reporting: reporting.NewService(ledgerRepo),
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, registerDeps{
		db:        db,
		handlers:  handlers,
		wsHandler: wsHandler,
		authMW:    auth.RequireAccessToken(authManager),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// WriteTimeout must stay zero: it would kill long-lived websocket
		// connections served by the same listener.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
