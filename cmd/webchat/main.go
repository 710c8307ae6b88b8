// Command webchat runs the standalone Direct Line-compatible WebChat
// server: token minting, conversation/session stores, and the REST +
// WebSocket activity surface. It publishes posted activities onto the same
// bus every other platform receiver uses, and runs independently of
// cmd/gateway so a WebChat-only deployment needs no platform credentials.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/greentic-ai/messaging-gateway/internal/bus"
	"github.com/greentic-ai/messaging-gateway/internal/config"
	"github.com/greentic-ai/messaging-gateway/internal/subject"
	"github.com/greentic-ai/messaging-gateway/internal/webchat"
)

func main() {
	logger := newLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

	cfg, err := config.LoadWebChatConfig(&logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load webchat configuration")
	}
	logger = newLogger(cfg.LogLevel, cfg.LogFormat)
	cfg.LogConfig(logger)

	busClient, err := bus.NewClient(bus.Config{
		URL:             cfg.NATSURL,
		MaxReconnects:   -1,
		ReconnectWait:   2 * time.Second,
		ReconnectJitter: time.Second,
		MaxPingsOut:     3,
		PingInterval:    20 * time.Second,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to NATS")
	}
	defer busClient.Close()

	scheme := subject.NewScheme(cfg.SubjectPrefix)
	ingressBridge := webchat.NewIngressBridge(busClient, scheme, cfg.Env, cfg.Team)

	var oauth webchat.OAuthExchanger
	if cfg.OAuthBaseURL != "" {
		oauth = webchat.NewHTTPOAuthExchanger(cfg.OAuthBaseURL+"/token", cfg.OAuthClientID, cfg.OAuthClientSecret, cfg.DirectLineBaseURL+"/webchat/oauth/callback")
	}

	server := webchat.NewServer(
		webchat.NewConversationStore(),
		webchat.NewSessionStore(),
		webchat.NewTokenManager(cfg.JWTSigningKey, cfg.TokenTTL),
		webchat.NewTokenGenerationLimiter(),
		ingressBridge,
		oauth,
		cfg.TokenTTL,
		logger,
	)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      server.NewRouter(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("starting webchat HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("webchat HTTP server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn().Msg("shutdown timed out waiting for HTTP server")
	}
}

func newLogger(level, format string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	l := zerolog.New(os.Stdout).With().Timestamp().Logger()
	switch level {
	case "debug":
		l = l.Level(zerolog.DebugLevel)
	case "warn":
		l = l.Level(zerolog.WarnLevel)
	case "error":
		l = l.Level(zerolog.ErrorLevel)
	default:
		l = l.Level(zerolog.InfoLevel)
	}
	if format == "pretty" {
		l = l.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return l
}
