// Package app connects the service's backing stores and builds the
// components shared by the provisioner and the reconcile CLI.
package app

import (
	"context"
	"fmt"
	"time"

	"pass-provisioning/internal/audit"
	"pass-provisioning/internal/catalog"
	"pass-provisioning/internal/common/aws"
	"pass-provisioning/internal/common/camunda"
	"pass-provisioning/internal/common/clock"
	"pass-provisioning/internal/common/config"
	"pass-provisioning/internal/common/database"
	httpclient "pass-provisioning/internal/common/http"
	"pass-provisioning/internal/common/logger"
	"pass-provisioning/internal/common/observability"
	"pass-provisioning/internal/common/retry"
	"pass-provisioning/internal/payments"
	"pass-provisioning/internal/processor"
	"pass-provisioning/internal/reconcile"
	"pass-provisioning/internal/signature"
	"pass-provisioning/internal/subscription"
	"pass-provisioning/migrations"
)

// Dependencies holds every connected client. Optional backends are nil
// when disabled in config.
type Dependencies struct {
	Config *config.Config
	Logger logger.Logger
	Clock  clock.Clock

	Postgres *database.PostgresClient
	Redis    *database.RedisClient
	Elastic  *database.ElasticsearchClient
	Zeebe    *camunda.Client
	SNS      *aws.SNSClient
	SES      *aws.SESClient

	Tracer *observability.TracerProvider
	Obs    *observability.Observability

	Audit    *audit.Trail
	Catalog  catalog.Lookup
	Store    *subscription.Store
	Payments *payments.Client
}

// Options limits what Connect dials. The reconcile CLI has no use for Zeebe.
type Options struct {
	ServiceName string
	SkipZeebe   bool
}

// RetryWithBackoff runs operation until it succeeds, doubling the delay
// between attempts. It gives up early when ctx ends.
func RetryWithBackoff(ctx context.Context, operation func() error, maxRetries int, initialDelay time.Duration, log logger.Logger, operationName string) error {
	policy := retry.Policy{
		MaxAttempts: maxRetries,
		BaseDelay:   initialDelay,
		MaxDelay:    30 * time.Second,
		Backoff:     retry.Exponential,
	}
	_, err := retry.Do(ctx, policy, nil,
		func(attempt int, err error, delay time.Duration) {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName), map[string]interface{}{
				"error":       err.Error(),
				"attempt":     attempt,
				"maxRetries":  maxRetries,
				"nextRetryIn": delay.String(),
			})
		},
		func(context.Context, int) error { return operation() })
	if err != nil {
		return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
	}
	return nil
}

// Connect dials every configured backend with bounded startup retries and
// applies migrations when asked to. On error, whatever was opened is closed.
func Connect(ctx context.Context, cfg *config.Config, log logger.Logger, opts Options) (deps *Dependencies, err error) {
	d := &Dependencies{Config: cfg, Logger: log, Clock: clock.NewSystem()}
	defer func() {
		if err != nil {
			d.Close(context.Background())
		}
	}()

	if opts.ServiceName == "" {
		opts.ServiceName = cfg.App.Name
	}

	d.Tracer, err = observability.NewTracerProvider(cfg.Tracing, opts.ServiceName, cfg.App.Version)
	if err != nil {
		return nil, err
	}
	d.Obs, err = observability.New(opts.ServiceName)
	if err != nil {
		return nil, err
	}

	err = RetryWithBackoff(ctx, func() error {
		pg, err := database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		if err := pg.Ping(ctx); err != nil {
			pg.Close()
			return err
		}
		d.Postgres = pg
		return nil
	}, 15, 2*time.Second, log, "PostgreSQL connection")
	if err != nil {
		return nil, err
	}
	log.Info("PostgreSQL connected successfully", nil)

	if cfg.Database.Postgres.AutoMigrate {
		if err := migrations.Apply(ctx, d.Postgres.DB); err != nil {
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		log.Info("Database migrations applied", nil)
	}

	var source catalog.Lookup = catalog.NewPostgresSource(d.Postgres.DB)
	if cfg.Catalog.CacheEnabled {
		err = RetryWithBackoff(ctx, func() error {
			rdb, err := database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return err
			}
			if err := rdb.Ping(ctx); err != nil {
				rdb.Close()
				return err
			}
			d.Redis = rdb
			return nil
		}, 10, 2*time.Second, log, "Redis connection")
		if err != nil {
			return nil, err
		}
		log.Info("Redis connected successfully", nil)
		source = catalog.NewCachedLookup(source, d.Redis.Client, cfg.Catalog.CacheTTL(), log)
	}
	d.Catalog = source
	d.Store = subscription.NewStore(d.Postgres.DB)

	var trailOpts []audit.Option
	if cfg.Audit.EnableElasticsearch {
		err = RetryWithBackoff(ctx, func() error {
			es, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			if err := es.Ping(ctx); err != nil {
				return err
			}
			d.Elastic = es
			return nil
		}, 15, 2*time.Second, log, "Elasticsearch connection")
		if err != nil {
			return nil, err
		}
		log.Info("Elasticsearch connected successfully", nil)
		trailOpts = append(trailOpts, audit.WithSecondary(audit.NewElasticsearchSink(d.Elastic, cfg.Audit.ElasticsearchIndex)))
	}

	if cfg.Notifications.SNS.Enabled {
		d.SNS, err = aws.NewSNSClient(ctx, cfg.Notifications.AWS.Region)
		if err != nil {
			return nil, err
		}
		trailOpts = append(trailOpts, audit.WithAlerter(audit.NewSNSAlerter(d.SNS, cfg.Notifications.SNS.TopicARN)))
	}
	if cfg.Notifications.SES.Enabled {
		d.SES, err = aws.NewSESClient(ctx, cfg.Notifications.AWS.Region)
		if err != nil {
			return nil, err
		}
	}

	d.Audit = audit.NewTrail(audit.NewPostgresSink(d.Postgres.DB), log, trailOpts...)

	d.Payments = payments.NewClient(
		httpclient.NewClient(cfg.Payments.BaseURL, config.GetDuration(cfg.Payments.Timeout)),
		cfg, cfg.Payments.PageSize)

	if cfg.Camunda.Enabled && !opts.SkipZeebe {
		err = RetryWithBackoff(ctx, func() error {
			zc, err := camunda.NewClientWithConfig(&camunda.ClientConfig{
				GatewayAddress:         cfg.Camunda.BrokerAddress,
				UsePlaintextConnection: true,
				ConnectionTimeout:      config.GetDuration(cfg.Camunda.Timeout),
				RequestTimeout:         config.GetDuration(cfg.Camunda.RequestTimeout),
				MessageTTL:             config.GetDuration(cfg.Camunda.MessageTTL),
			})
			if err != nil {
				return err
			}
			d.Zeebe = zc
			return nil
		}, 10, 2*time.Second, log, "Zeebe client initialization")
		if err != nil {
			return nil, err
		}
		log.Info("Zeebe client connected successfully", nil)
	}

	return d, nil
}

// NewProcessor builds an event processor. tolerance bounds signature age;
// deliveries replayed from Zeebe need it widened by the message TTL.
func (d *Dependencies) NewProcessor(tolerance time.Duration) *processor.Processor {
	return processor.New(processor.Deps{
		Verifier: signature.NewVerifier(d.Config, tolerance, d.Clock),
		Tenants:  d.Config,
		Catalog:  d.Catalog,
		Guard:    subscription.NewGuard(d.Store),
		Writer:   subscription.NewWriter(d.Store, d.Clock),
		Audit:    d.Audit,
		Clock:    d.Clock,
		Logger:   d.Logger.Named("processor"),
		Tracer:   d.Tracer.Tracer(),
		Obs:      d.Obs,
	}, processor.RetryPolicy(d.Config.Provisioning))
}

// NewSweeper builds a reconciliation sweeper. Healing goes through a
// processor with the live signature tolerance.
func (d *Dependencies) NewSweeper(opts reconcile.Options) *reconcile.Sweeper {
	var healer reconcile.Healer
	if opts.Heal {
		healer = d.NewProcessor(d.Config.Webhook.Tolerance())
	}
	return reconcile.NewSweeper(d.Payments, subscription.NewGuard(d.Store), healer, d.Config,
		d.Clock, d.Logger, opts).WithTracer(d.Tracer.Tracer())
}

// Reporter returns the SES reporter, or nil when mail is disabled.
func (d *Dependencies) Reporter() *reconcile.SESReporter {
	if d.SES == nil || len(d.Config.Notifications.SES.Operators) == 0 {
		return nil
	}
	return reconcile.NewSESReporter(d.SES, d.Config.Notifications.SES.FromEmail, d.Config.Notifications.SES.Operators)
}

// ReadinessChecks lists a probe per connected backend.
func (d *Dependencies) ReadinessChecks() map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{
		"postgres": d.Postgres.Ping,
	}
	if d.Redis != nil {
		checks["redis"] = d.Redis.Ping
	}
	if d.Elastic != nil {
		checks["elasticsearch"] = d.Elastic.Ping
	}
	if d.Zeebe != nil {
		checks["zeebe"] = d.Zeebe.HealthCheck
	}
	return checks
}

func (d *Dependencies) Close(ctx context.Context) {
	if d.Zeebe != nil {
		if err := d.Zeebe.Close(); err != nil {
			d.Logger.Error("Error closing Zeebe client", map[string]interface{}{"error": err.Error()})
		}
	}
	if d.Redis != nil {
		d.Redis.Close()
	}
	if d.Postgres != nil {
		d.Postgres.Close()
	}
	if d.Obs != nil {
		_ = d.Obs.Shutdown(ctx)
	}
	if d.Tracer != nil {
		_ = d.Tracer.Shutdown(ctx)
	}
}
