package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/civaigentics/widget/backend/internal/config"
	"github.com/civaigentics/widget/backend/internal/handler"
	feedbackHandler "github.com/civaigentics/widget/backend/internal/handler/feedback"
	"github.com/civaigentics/widget/backend/internal/logging"
	"github.com/civaigentics/widget/backend/internal/model/agent"
	"github.com/civaigentics/widget/backend/internal/service/provider/elevenlabs"
	"github.com/civaigentics/widget/backend/internal/service/session"
	"github.com/civaigentics/widget/backend/internal/service/sink"
	"github.com/civaigentics/widget/backend/internal/service/widget"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.Init("info", false)
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := logging.Init(cfg.Log.Level, cfg.Log.Pretty)
	if envErr != nil {
		logger.Debug().Err(envErr).Msg("no .env file loaded, using process environment")
	}

	provider := elevenlabs.NewClient(cfg.Provider, nil)
	if !cfg.Provider.Enabled() {
		logger.Warn().Msg("ELEVENLABS_API_KEY or ELEVENLABS_AGENT_ID not set, signed URLs and chat relay will fail")
	}

	sinks := sink.Multi{}
	webhook := sink.NewWebhook(cfg.Feedback.WebhookURL, &http.Client{Timeout: cfg.Feedback.Timeout})
	if webhook.Enabled() {
		sinks = append(sinks, webhook)
	} else {
		logger.Info().Msg("feedback webhook not configured")
	}

	var stats feedbackHandler.RatingStats
	if cfg.Feedback.DBPath != "" {
		store, err := sink.OpenSQLite(cfg.Feedback.DBPath, logger)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.Feedback.DBPath).Msg("failed to open feedback database")
		}
		defer store.Close()
		sinks = append(sinks, store)
		stats = store
	}

	dialer := elevenlabs.NewDialer(elevenlabs.Options{VoiceCapable: cfg.Widget.VoiceCapable}, logger)
	host := widget.NewHost(widget.Deps{
		Fetcher:  provider,
		Provider: dialer,
		Sink:     sinks,
		Session: session.Config{
			AgentName:      cfg.Widget.AgentName,
			SettleDelay:    cfg.Widget.SettleDelay,
			ConnectTimeout: cfg.Widget.ConnectTimeout,
		},
		ReportTimeout: cfg.Feedback.Timeout,
	}, logger)
	defer host.Shutdown()

	router := handler.NewRouter(handler.Deps{
		Provider:  provider,
		Sink:      sinks,
		Stats:     stats,
		Agents:    agent.NewMemoryStore(agent.FromConfig(cfg.Provider.AgentID, cfg.Widget)),
		Widgets:   host,
		AgentName: cfg.Widget.AgentName,
		Logger:    logger,
	})

	startServer(ctx, logger, cfg.Server, router)
}

func startServer(ctx context.Context, logger zerolog.Logger, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
		// Event streams end with the process context.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	logger.Info().Str("addr", addr).Msg("widget backend listening")
	if err := runServer(ctx, srv); err != nil {
		logger.Error().Err(err).Msg("server error")
		return
	}
	logger.Info().Msg("server stopped")
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
