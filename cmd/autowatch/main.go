// Command autowatch is the process entrypoint: it wires every component
// with explicit constructor calls — no container, no service locator — and
// starts the webhook HTTP server, the health/diagnostics HTTP server, and
// the four background loops together, honoring
// signal.NotifyContext(os.Interrupt, syscall.SIGTERM) for graceful
// shutdown.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"autowatch/internal/config"
	"autowatch/internal/db"
	"autowatch/internal/diagnostics"
	"autowatch/internal/fanout"
	"autowatch/internal/health"
	"autowatch/internal/platform"
	"autowatch/internal/poller"
	"autowatch/internal/refresh"
	"autowatch/internal/scheduler"
	"autowatch/internal/vault"
	"autowatch/internal/webhook"
	"autowatch/internal/websub"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("loading config failed", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("autowatch exited with error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	conn, err := db.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	repos := db.NewRepositories(conn)

	v, err := vault.New(cfg.DataProtection.KeyDirectory)
	if err != nil {
		return err
	}

	auth := cfg.Authentication["youtube"]
	platformClient := platform.NewYouTubeClient(auth.ClientID, auth.ClientSecret)
	hub := websub.NewHTTPHubClient()

	refreshLoop := &refresh.Loop{
		Users:    repos.Users,
		Vault:    v,
		Platform: platformClient,
		Log:      logger.With("component", "refresh"),
	}

	websubManager := &websub.Manager{
		Subscriptions: repos.Subscriptions,
		Hub:           hub,
		CallbackURL:   cfg.CallbackURL(),
		Log:           logger.With("component", "websub"),
	}

	fallbackPoller := poller.New(repos.Subscriptions, repos.WebhookEvents, repos.Users, v, platformClient,
		logger.With("component", "poller"), cfg.PollingInterval())

	fanOutProcessor := fanout.New(repos.WebhookEvents, repos.Subscriptions, repos.ProcessedVideos, v, platformClient,
		logger.With("component", "fanout"))

	reader := diagnostics.New(repos.Subscriptions, repos.WebhookEvents, repos.ProcessedVideos, repos.Quota)

	monitor := health.NewMonitor()
	monitor.Register("refresh", cfg.TokenRefreshInterval())
	monitor.Register("websub", cfg.WebSubManagerInterval())
	monitor.Register("poller", cfg.PollingInterval())
	monitor.Register("fanout", cfg.FanOutInterval())

	sched := scheduler.New(logger.With("component", "scheduler"))
	if err := sched.Add(scheduler.Job{Name: "refresh", Interval: cfg.TokenRefreshInterval(), Run: tracked(monitor, "refresh", refreshLoop.Tick)}); err != nil {
		return err
	}
	if err := sched.Add(scheduler.Job{Name: "websub", Interval: cfg.WebSubManagerInterval(), Run: tracked(monitor, "websub", websubManager.Tick)}); err != nil {
		return err
	}
	if err := sched.Add(scheduler.Job{Name: "poller", Interval: cfg.PollingInterval(), Run: tracked(monitor, "poller", fallbackPoller.Tick)}); err != nil {
		return err
	}
	if err := sched.Add(scheduler.Job{Name: "fanout", Interval: cfg.FanOutInterval(), Run: tracked(monitor, "fanout", fanOutProcessor.Tick)}); err != nil {
		return err
	}

	receiver := &webhook.Receiver{
		Events:        repos.WebhookEvents,
		Subscriptions: repos.Subscriptions,
		Log:           logger.With("component", "webhook"),
	}

	webhookMux := http.NewServeMux()
	webhookMux.Handle("/webhook", receiver)
	webhookServer := &http.Server{Addr: cfg.HTTPAddr, Handler: requestLogger(logger, webhookMux)}

	opsMux := http.NewServeMux()
	health.NewServer(monitor).RegisterRoutes(opsMux)
	diagnostics.NewHandler(reader, repos.Subscriptions, websubManager).RegisterRoutes(opsMux)
	opsServer := &http.Server{Addr: cfg.HealthAddr, Handler: opsMux}

	errCh := make(chan error, 2)
	go func() { errCh <- webhookServer.ListenAndServe() }()
	go func() { errCh <- opsServer.ListenAndServe() }()
	go sched.Start(ctx)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "err", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = webhookServer.Shutdown(shutdownCtx)
	_ = opsServer.Shutdown(shutdownCtx)

	return nil
}

// tracked wraps a loop's tick function so successful ticks are recorded
// with the health monitor, which observes completion from outside.
func tracked(monitor *health.Monitor, name string, tick func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := tick(ctx); err != nil {
			return err
		}
		monitor.RecordTick(name, time.Now())
		return nil
	}
}

func requestLogger(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Info("http request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
