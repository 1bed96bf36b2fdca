package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-command"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/arka-hq/go-guard/adapters/gocommand"
	"github.com/arka-hq/go-guard/adapters/gojob"
	"github.com/arka-hq/go-guard/adapters/gologger"
	"github.com/arka-hq/go-guard/core"
	"github.com/arka-hq/go-guard/githubevents"
	"github.com/arka-hq/go-guard/httpapi"
	"github.com/arka-hq/go-guard/metrics/prom"
	"github.com/arka-hq/go-guard/ratelimit"
	"github.com/arka-hq/go-guard/webhooks"
)

const shutdownTimeout = 30 * time.Second

// app is one wired guard process: stores, service, command bus, sweep
// pipeline and HTTP handler.
type app struct {
	cfg      core.Config
	logger   glog.Logger
	provider glog.LoggerProvider

	backends *backends
	service  *core.Service
	registry *prometheus.Registry
	handler  http.Handler

	backoff *ratelimit.BackoffLimiter
	queue   *gojob.MemoryQueue
	worker  *gojob.SweepWorker
	sweeper *core.Sweeper
	bus     *gocommand.Bus
}

type appOptions struct {
	Provider     glog.LoggerProvider
	SecretLookup func(key string) (string, bool)
	Now          func() time.Time
}

func newApp(ctx context.Context, cfg core.Config, opts appOptions) (*app, error) {
	provider, logger := gologger.Resolve(gologger.LoggerName, opts.Provider, nil)

	stores, err := openBackends(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(strings.TrimSpace(cfg.Store.Driver), core.StoreDriverSQL) && !cfg.RateLimit.Disabled {
		logger.Warn("sql store shares the replay ledger only; rate limit windows stay per process, use the redis store for shared limiting")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	httpMetrics, err := prom.NewHTTPMetrics(registry)
	if err != nil {
		_ = stores.Close()
		return nil, err
	}

	serviceOpts := []core.Option{
		core.WithLoggerProvider(provider),
		core.WithLogger(logger),
		core.WithMetricsRecorder(prom.NewRecorder(registry)),
		core.WithReplayLedger(stores.Ledger),
		core.WithWindowStore(stores.Windows),
	}
	if opts.Now != nil {
		serviceOpts = append(serviceOpts, core.WithClock(opts.Now))
	}
	svc, err := core.NewService(cfg, serviceOpts...)
	if err != nil {
		_ = stores.Close()
		return nil, err
	}
	cfg = svc.Config()

	a := &app{
		cfg:      cfg,
		logger:   logger,
		provider: provider,
		backends: stores,
		service:  svc,
		registry: registry,
		backoff:  ratelimit.NewBackoffLimiter(),
	}

	a.bus = gocommand.NewBus(command.NewRegistry())
	if err := a.bus.MirrorToQueue("queue", jobqueuecommand.NewRegistry()); err != nil {
		_ = a.close()
		return nil, err
	}
	if err := gocommand.RegisterGuard(a.bus, svc); err != nil {
		_ = a.close()
		return nil, err
	}
	if err := a.bus.Start(); err != nil {
		_ = a.close()
		return nil, fmt.Errorf("guardd: command registry: %w", err)
	}

	if err := a.wireSweeps(); err != nil {
		_ = a.close()
		return nil, err
	}

	secret := webhooks.EnvSecret{Key: cfg.Webhook.SecretEnv, Lookup: opts.SecretLookup}
	gatesSecret := webhooks.EnvSecret{Key: cfg.Webhook.GatesSecret(), Lookup: opts.SecretLookup}
	eventHandler := githubevents.NewHandler(stores.Recorder, cfg.Webhook, gologger.Named(provider, logger, "github"))

	github := webhooks.NewTemplateProcessor(webhooks.NewGitHubWebhookTemplate(secret), svc, eventHandler)
	github.ReplayTTL = cfg.Webhook.ReplayTTL
	github.Logger = gologger.Named(provider, logger, "webhook")

	gates := webhooks.NewTemplateProcessor(webhooks.NewGatesWebhookTemplate(gatesSecret), svc, nil)
	gates.ReplayTTL = cfg.Webhook.ReplayTTL
	gates.Logger = gologger.Named(provider, logger, "webhook")

	a.handler = httpapi.NewRouter(httpapi.Options{
		GitHub:       github,
		Gates:        gates,
		Limiter:      svc,
		Backoff:      a.backoff,
		RateLimit:    cfg.RateLimit,
		MaxBodyBytes: cfg.Webhook.MaxBodyBytes,
		Logger:       gologger.Named(provider, logger, "http"),
		Metrics:      httpMetrics,
		Gatherer:     registry,
	})
	return a, nil
}

// wireSweeps connects ticker -> queue -> worker -> command bus purge.
func (a *app) wireSweeps() error {
	_, sweepLogger, _, _ := gologger.ResolveForJob(gologger.LoggerName+".sweep", a.provider, a.logger)

	policy := gojob.DefaultRetryPolicy()
	a.queue = gojob.NewMemoryQueue(8)
	a.worker = gojob.NewSweepWorker(a.queue, policy, sweepLogger)
	if err := a.worker.Register(gojob.JobIDSweepReplay, gocommand.DispatchPurger{}); err != nil {
		return err
	}

	a.sweeper = core.NewSweeper(a.cfg.SweepInterval, sweepLogger)
	if err := a.sweeper.Register("backoff", a.backoff); err != nil {
		return err
	}
	return a.sweeper.Register("guard", gojob.SweepTrigger{
		Queue: a.queue,
		JobID: gojob.JobIDSweepReplay,
	})
}

// serve runs the HTTP server, sweeper and worker until ctx is cancelled,
// then drains the server within shutdownTimeout.
func (a *app) serve(ctx context.Context) error {
	server := httpapi.NewServer(a.cfg.HTTPAddr, a.handler)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go a.sweeper.Run(runCtx)
	go a.worker.Run(runCtx, time.Second)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("guard listening", "addr", a.cfg.HTTPAddr, "store", a.cfg.Store.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			return fmt.Errorf("guardd: http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("guard shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("guardd: shutdown: %w", err)
	}
	return nil
}

func (a *app) close() error {
	if a == nil {
		return nil
	}
	a.bus.Close()
	if a.backends != nil && a.backends.Close != nil {
		return a.backends.Close()
	}
	return nil
}
