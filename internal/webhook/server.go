// Package webhook receives signed payment events over HTTP.
package webhook

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"time"

	"pass-provisioning/internal/common/camunda"
	"pass-provisioning/internal/common/config"
	"pass-provisioning/internal/common/logger"
	"pass-provisioning/internal/common/observability"
	"pass-provisioning/internal/processor"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
)

type Processor interface {
	Process(ctx context.Context, env processor.Envelope) *processor.Result
}

type Verifier interface {
	Verify(payload []byte, header, account string) error
}

// Publisher queues verified deliveries when the server runs in zeebe mode.
type Publisher interface {
	PublishPaymentEvent(ctx context.Context, msg camunda.PaymentEventMessage) error
}

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck = func(ctx context.Context) error

type Options struct {
	Processor Processor
	Verifier  Verifier
	Publisher Publisher
	Logger    logger.Logger
	Tracer    trace.Tracer
	Checks    map[string]ReadinessCheck
}

type Server struct {
	cfg        config.WebhookConfig
	router     *gin.Engine
	httpServer *http.Server
	processor  Processor
	verifier   Verifier
	publisher  Publisher
	logger     logger.Logger
	tracer     trace.Tracer
	checks     map[string]ReadinessCheck
}

func NewServer(cfg config.WebhookConfig, opts Options) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:       cfg,
		router:    gin.New(),
		processor: opts.Processor,
		verifier:  opts.Verifier,
		publisher: opts.Publisher,
		logger:    opts.Logger,
		tracer:    opts.Tracer,
		checks:    opts.Checks,
	}
	if s.logger == nil {
		s.logger = logger.NewNoOpLogger()
	}
	s.logger = s.logger.Named("webhook")
	if s.tracer == nil {
		s.tracer = observability.NoopTracer()
	}
	if s.cfg.MaxBodyBytes <= 0 {
		s.cfg.MaxBodyBytes = 1 << 20
	}
	if s.cfg.Path == "" {
		s.cfg.Path = "/webhooks/payments"
	}

	s.router.Use(gin.Recovery(), s.requestLogger())

	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ready", s.handleReady)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.POST(s.cfg.Path, s.handlePaymentEvent)

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown. Request contexts derive from ctx, so
// cancelling it interrupts in-flight retry loops.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info("Webhook server listening", map[string]interface{}{
		"address": s.cfg.ListenAddress,
		"path":    s.cfg.Path,
		"mode":    s.cfg.Mode,
	})
	if err := s.httpServer.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	failures := gin.H{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "failures": failures})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/health" || c.Request.URL.Path == "/metrics" {
			return
		}
		s.logger.Debug("HTTP request", map[string]interface{}{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"durationMs": time.Since(start).Milliseconds(),
		})
	}
}
