package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pass-provisioning/internal/app"
	"pass-provisioning/internal/common/camunda"
	"pass-provisioning/internal/common/config"
	"pass-provisioning/internal/common/logger"
	"pass-provisioning/internal/reconcile"
	"pass-provisioning/internal/webhook"

	ps "pass-provisioning/internal/workers/provisioning/provision-subscription"
	rs "pass-provisioning/internal/workers/provisioning/reconcile-subscriptions"
	vs "pass-provisioning/internal/workers/provisioning/validate-subscription"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("info", "console", "stdout")
		bootLog.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting pass provisioner...",
		zap.String("environment", cfg.App.Environment),
		zap.String("webhookMode", cfg.Webhook.Mode),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.Connect(ctx, cfg, log, app.Options{ServiceName: "provisioner"})
	if err != nil {
		zapLog.Fatal("startup failed", zap.Error(err))
	}
	defer deps.Close(context.Background())

	liveProcessor := deps.NewProcessor(cfg.Webhook.Tolerance())

	var workers []*camunda.CamundaWorker
	if deps.Zeebe != nil {
		workers = startWorkers(cfg, deps, log)
		zapLog.Info("Zeebe workers registered", zap.Int("count", len(workers)))
	}

	opts := webhook.Options{
		Processor: liveProcessor,
		Verifier:  liveProcessor.Verifier(),
		Logger:    log,
		Tracer:    deps.Tracer.Tracer(),
		Checks:    deps.ReadinessChecks(),
	}
	if deps.Zeebe != nil {
		opts.Publisher = deps.Zeebe
	}
	server := webhook.NewServer(cfg.Webhook, opts)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		zapLog.Info("Shutdown signal received, stopping...")
	case err := <-errCh:
		if err != nil {
			zapLog.Error("Webhook server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping webhook server", zap.Error(err))
	}
	for _, w := range workers {
		w.Stop(shutdownCtx)
	}

	zapLog.Info("Pass provisioner stopped gracefully")
}

func startWorkers(cfg *config.Config, deps *app.Dependencies, log logger.Logger) []*camunda.CamundaWorker {
	var workers []*camunda.CamundaWorker
	zc := deps.Zeebe.GetClient()

	if wcfg := config.GetWorkerConfig(cfg, ps.TaskType); wcfg.Enabled {
		// Queued deliveries are verified against their original signature,
		// which may be as old as the message TTL.
		tolerance := cfg.Webhook.Tolerance() + config.GetDuration(cfg.Camunda.MessageTTL)
		handler := ps.NewHandler(ps.LoadConfig(config.GetDuration(wcfg.Timeout)), deps.NewProcessor(tolerance), log)
		w := camunda.NewWorker(zc, ps.TaskType, maxJobs(cfg, wcfg), handler, log)
		w.Start()
		workers = append(workers, w)
	}

	if wcfg := config.GetWorkerConfig(cfg, rs.TaskType); wcfg.Enabled {
		defaults := reconcile.Options{
			Window:      cfg.Reconcile.Window(),
			Concurrency: cfg.Reconcile.Concurrency,
			Heal:        cfg.Reconcile.Heal,
		}
		factory := func(window time.Duration, heal bool) *reconcile.Sweeper {
			opts := defaults
			opts.Window = window
			opts.Heal = heal
			return deps.NewSweeper(opts)
		}

		var reporter rs.Reporter
		if r := deps.Reporter(); r != nil {
			reporter = r
		}
		wc := rs.LoadConfig(config.GetDuration(wcfg.Timeout), cfg.TenantIDs())
		handler := rs.NewHandler(wc, defaults, factory, reporter, log)
		w := camunda.NewWorker(zc, rs.TaskType, maxJobs(cfg, wcfg), handler, log)
		w.Start()
		workers = append(workers, w)
	}

	if wcfg := config.GetWorkerConfig(cfg, vs.TaskType); wcfg.Enabled {
		handler := vs.NewHandler(vs.LoadConfig(config.GetDuration(wcfg.Timeout)), deps.Store, deps.Clock, log)
		w := camunda.NewWorker(zc, vs.TaskType, maxJobs(cfg, wcfg), handler, log)
		w.Start()
		workers = append(workers, w)
	}

	return workers
}

func maxJobs(cfg *config.Config, wcfg config.WorkerConfig) int {
	if wcfg.MaxJobsActive > 0 {
		return wcfg.MaxJobsActive
	}
	return cfg.Camunda.MaxJobsActive
}
