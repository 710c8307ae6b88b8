// Command gateway runs the ingress/egress bridge of the messaging gateway:
// platform webhook intake, bus publish, a worker-forward bridge, and the
// egress send worker. Wiring follows the teacher's graceful-shutdown
// pattern (go-server/internal/server/server.go): a cancellable context,
// an errgroup-free WaitGroup of long-lived tasks, and signal-triggered
// drain.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/greentic-ai/messaging-gateway/internal/admin"
	"github.com/greentic-ai/messaging-gateway/internal/bus"
	"github.com/greentic-ai/messaging-gateway/internal/card"
	"github.com/greentic-ai/messaging-gateway/internal/config"
	"github.com/greentic-ai/messaging-gateway/internal/dlq"
	"github.com/greentic-ai/messaging-gateway/internal/egress"
	"github.com/greentic-ai/messaging-gateway/internal/envelope"
	"github.com/greentic-ai/messaging-gateway/internal/idempotency"
	"github.com/greentic-ai/messaging-gateway/internal/ingress"
	"github.com/greentic-ai/messaging-gateway/internal/registry"
	"github.com/greentic-ai/messaging-gateway/internal/subject"
	"github.com/greentic-ai/messaging-gateway/internal/telemetry"
	"github.com/greentic-ai/messaging-gateway/internal/tenant"
	"github.com/greentic-ai/messaging-gateway/internal/worker"
)

func main() {
	logger := newLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

	cfg, err := config.LoadGatewayConfig(&logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load gateway configuration")
	}
	logger = newLogger(cfg.LogLevel, cfg.LogFormat)
	cfg.LogConfig(logger)

	busClient, err := bus.NewClient(bus.Config{
		URL:             cfg.NATSURL,
		MaxReconnects:   cfg.NATSMaxReconnects,
		ReconnectWait:   cfg.NATSReconnectWait,
		ReconnectJitter: cfg.NATSReconnectJitter,
		MaxPingsOut:     3,
		PingInterval:    20 * time.Second,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to NATS")
	}
	defer busClient.Close()

	metrics := telemetry.NewSink()

	guard, err := idempotency.NewGuard(busClient.JetStream(), cfg.IdempotencyBucket, cfg.IdempotencyTTL, metrics, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize idempotency guard")
	}

	dlqQueue, err := dlq.NewQueue(busClient.JetStream(), cfg.DLQSubjectFmt, cfg.ReplaySubjectFmt, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize DLQ")
	}

	scheme := subject.NewScheme(cfg.SubjectPrefix)

	reg := registry.New()
	if len(cfg.RegistryPackPaths) > 0 && cfg.RegistryPackPaths[0] != "" {
		loaded, err := registry.LoadFromPaths(cfg.RegistryRoot, cfg.RegistryPackPaths)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to load adapter registry")
		}
		reg = loaded
	}

	secretsResolver, err := egress.NewKVSecretsResolver(busClient.JetStream(), cfg.SecretsKVBucket, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize secrets resolver")
	}

	cardEngine := card.Bootstrap()

	senders := []egress.Sender{
		egress.NewSlackSender(cfg.SlackAPIBase, "{env}/{tenant}/{team}/slack", secretsResolver),
		egress.NewTeamsSender(cfg.MSGraphAuthBase, cfg.MSGraphAPIBase, "{env}/{tenant}/{team}/teams", secretsResolver),
		egress.NewWebexSender(cfg.WebexAPIBase, "{env}/{tenant}/{team}/webex", secretsResolver),
		egress.NewTelegramSender(cfg.TelegramAPIBase, "{env}/{tenant}/{team}/telegram", secretsResolver),
		egress.NewWhatsAppSender(cfg.WhatsAppAPIBase, "{env}/{tenant}/{team}/whatsapp", secretsResolver),
	}
	egressWorker := egress.NewWorker(senders, cardEngine, dlqQueue, metrics, logger)

	var transport worker.Transport
	if cfg.WorkerTransport == "http" && cfg.WorkerHTTPURL != "" {
		transport = worker.NewHTTPTransport(cfg.WorkerHTTPURL, cfg.WorkerTimeout)
	} else {
		transport = worker.NewNATSTransport(busClient.Conn(), cfg.WorkerNATSSubject, cfg.WorkerTimeout)
	}

	receiver := ingress.NewReceiver(busClient, guard, dlqQueue, scheme, cfg.Env, cfg.Team, metrics, logger)
	ingressMux := receiver.NewRouter(cfg, cfg.WebexBotPersonID)

	adminServer := admin.NewServer(dlqQueue, reg, logger)
	adminMux := adminServer.NewRouter()

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	ingressHTTP := &http.Server{Addr: cfg.HTTPAddr, Handler: ingressMux, ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second}
	adminHTTP := &http.Server{Addr: adminAddr(cfg.HTTPAddr), Handler: adminMux, ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second}

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("starting ingress HTTP server")
		if err := ingressHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("ingress HTTP server error")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info().Str("addr", adminHTTP.Addr).Msg("starting admin HTTP server")
		if err := adminHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("admin HTTP server error")
		}
	}()

	egressSubject := cfg.SubjectPrefix + ".out.>"
	egressSub, err := busClient.Subscribe(ctx, bus.SubscribeOpts{
		Subject: egressSubject,
		Durable: "egress-worker",
	}, func(ctx context.Context, d bus.Delivery) bus.HandlerResult {
		return handleEgressDelivery(ctx, d, egressWorker, logger)
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to subscribe to egress subject")
	}

	forwarder := worker.NewForwarder(transport, cfg.WorkerMaxRetries, logger)
	bridge := newWorkerBridge(scheme, forwarder, busClient, logger)
	ingressSubject := cfg.SubjectPrefix + ".in.>"
	ingressSub, err := busClient.Subscribe(ctx, bus.SubscribeOpts{
		Subject: ingressSubject,
		Durable: "worker-bridge",
	}, bridge.Handle)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to subscribe to ingress subject for worker bridge")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("shutdown signal received, draining")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = ingressHTTP.Shutdown(shutdownCtx)
	_ = adminHTTP.Shutdown(shutdownCtx)
	_ = egressSub.Stop()
	_ = ingressSub.Stop()
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn().Msg("shutdown timed out waiting for HTTP servers")
	}
}

func handleEgressDelivery(ctx context.Context, d bus.Delivery, w *egress.Worker, logger zerolog.Logger) bus.HandlerResult {
	var out envelope.OutMessage
	if err := json.Unmarshal(d.Payload(), &out); err != nil {
		logger.Error().Err(err).Str("subject", d.Subject()).Msg("undecodable egress envelope, acking poison message")
		return bus.HandlerResult{Outcome: bus.OutcomeAck}
	}
	tenantCtx := tenant.Context{Env: out.TenantCtx.Env, Tenant: out.TenantCtx.Tenant, Team: out.TenantCtx.Team}
	ack, retry := w.Dispatch(ctx, tenantCtx, out)
	switch {
	case retry:
		return bus.HandlerResult{Outcome: bus.OutcomeRetry}
	case ack:
		return bus.HandlerResult{Outcome: bus.OutcomeAck}
	default:
		return bus.HandlerResult{Outcome: bus.OutcomeTerminal}
	}
}

func adminAddr(gatewayAddr string) string {
	if gatewayAddr == ":8080" {
		return ":8081"
	}
	return gatewayAddr + "-admin"
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

func millisToDuration(ms int64) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
