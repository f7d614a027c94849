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

	"voicefront/internal/auth"
	"voicefront/internal/callflow"
	"voicefront/internal/config"
	"voicefront/internal/numbers"
	"voicefront/internal/pipeline"
	"voicefront/internal/push"
	"voicefront/internal/session"
	"voicefront/internal/speech"
	"voicefront/internal/storage"
	"voicefront/internal/store"
	"voicefront/internal/telephony"
	"voicefront/pkg/logger"
	"voicefront/pkg/utils"

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

	st := store.NewPostgres(db)

	provider := telephony.NewTwilioProvider(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken)
	speechClient := speech.NewClient(cfg.OpenAI)
	blobs := storage.NewDisk(cfg.Storage.AudioDir)

	notifier, err := push.New(cfg.APNs, st, log)
	if err != nil {
		log.Error("push init failed", "err", err)
		os.Exit(1)
	}

	processor := pipeline.NewProcessor(st, speechClient, blobs, notifier, log)
	pool := pipeline.NewPool(processor, rdb, log, 0, 0)

	sessions := session.NewRegistry(st, speechClient)

	callflowSvc := callflow.NewService(st, sessions, pool, notifier, log,
		cfg.RecordingWebhookURL(), cfg.App.BaseURL)

	numbersSvc := numbers.NewService(st, provider, log,
		cfg.VoiceWebhookURL(), cfg.StatusWebhookURL(), cfg.Allocation.DefaultCountry)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		authMW:       auth.RequireAccessToken(authManager),
		callflow:     callflow.NewHandler(callflowSvc),
		numbers:      numbers.NewHandler(numbersSvc),
		store:        st,
		speech:       speechClient,
		allocator:    numbersSvc,
		push:         notifier,
		autoAllocate: cfg.Allocation.AutoAllocateOnUpgrade,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
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

	// Drain in-flight recording jobs after the listener stops accepting new
	// webhooks; transcripts for already-acknowledged recordings should land.
	if err := pool.Shutdown(shutdownCtx); err != nil {
		log.Error("pipeline shutdown incomplete", "err", err)
	}
}
