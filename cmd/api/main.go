package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"

	"roofcrm/internal/auth"
	"roofcrm/internal/callcontrol"
	"roofcrm/internal/callrecords"
	"roofcrm/internal/config"
	"roofcrm/internal/httpapi"
	"roofcrm/internal/media"
	"roofcrm/internal/telephony"
	"roofcrm/internal/transcription"
	"roofcrm/pkg/logger"
	"roofcrm/pkg/utils"
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

	if cfg.App.Env == "production" {
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

	records := callrecords.NewService(callrecords.NewPostgresRepo(db))

	gate, err := media.NewWebRTCGate(cfg.Media, log)
	if err != nil {
		log.Error("media gate init failed", "err", err)
		os.Exit(1)
	}
	defer gate.Close()

	var bridge callcontrol.Transcriber
	if cfg.Transcription.Enabled {
		sink := transcription.NewWSSink(cfg.Transcription, log)
		defer sink.Close()
		bridge = sink
	} else {
		bridge = transcription.NopBridge{}
	}

	registry := callcontrol.NewRegistry(
		providerFactory(cfg.Provider, log),
		gate, records, bridge, cfg.Provider.CallerID, log,
	)
	defer registry.CloseAll()

	h := httpapi.Handlers{
		Auth:     authManager,
		Registry: registry,
		Records:  records,
		Gate:     gate,
		Redis:    rdb,
		Calls:    cfg.Calls,
		Log:      log,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, h, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "provider", cfg.Provider.Name)
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
	registry.CloseAll()

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}

// providerFactory builds per-session telephony providers. For Twilio the
// session identity is baked into the webhook URLs so inbound signaling
// reaches the session that owns the call.
func providerFactory(cfg config.ProviderConfig, log *slog.Logger) callcontrol.ProviderFactory {
	return func(workspaceID, userID string) (telephony.Provider, error) {
		switch cfg.Name {
		case config.ProviderTwilio:
			tc := cfg.Twilio
			session := url.Values{"workspace_id": {workspaceID}, "user_id": {userID}}.Encode()
			tc.VoiceURL = withQuery(tc.VoiceURL, session)
			tc.StatusCallbackURL = withQuery(tc.StatusCallbackURL, session)
			return telephony.NewTwilioProvider(tc, log), nil
		case config.ProviderSIPBridge:
			return telephony.NewSIPBridgeProvider(cfg.SIPBridge, log), nil
		default:
			return nil, fmt.Errorf("unknown provider %q", cfg.Name)
		}
	}
}

func withQuery(rawURL, query string) string {
	if rawURL == "" || query == "" {
		return rawURL
	}
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + query
}
