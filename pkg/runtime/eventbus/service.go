// Package eventbus wraps an embedded NATS server plus the JetStream event
// bus as a single runner.Service, so a single-binary deployment gets event
// fan-out without an external broker.
package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/plaenen/iamcore/pkg/infrastructure/nats"
	"github.com/plaenen/iamcore/pkg/messaging"
	"github.com/plaenen/iamcore/pkg/observability"
	"github.com/plaenen/iamcore/pkg/runner"
)

// Service manages the embedded server and the bus together. Start brings
// up the server first, Stop drains the bus before shutting the server down.
type Service struct {
	config messaging.NATSConfig
	server *nats.EmbeddedServer
	bus    *messaging.NATSBus
	logger *slog.Logger
	tracer trace.Tracer
}

// Option configures the event bus service.
type Option func(*Service)

// WithConfig sets the NATS configuration. The URL is ignored and replaced
// with the embedded server URL.
func WithConfig(config messaging.NATSConfig) Option {
	return func(s *Service) {
		s.config = config
	}
}

// WithLogger sets the logger for the service.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithTracer sets the OpenTelemetry tracer for the service.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// New creates a new event bus service for use with runner.
func New(opts ...Option) *Service {
	s := &Service{
		config: messaging.DefaultNATSConfig(),
		logger: slog.Default(),
		tracer: noop.NewTracerProvider().Tracer("eventbus"),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Name returns the service name for logging.
func (s *Service) Name() string {
	return "eventbus"
}

// Start starts the embedded NATS server and connects the bus to it.
func (s *Service) Start(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "eventbus.Start")
	defer span.End()

	s.logger.Info("starting eventbus service")

	srv, err := nats.StartEmbeddedServer()
	if err != nil {
		observability.SetSpanError(ctx, err)
		s.logger.Error("failed to start embedded NATS", "error", err)
		return fmt.Errorf("failed to start embedded NATS: %w", err)
	}
	s.server = srv

	s.config.URL = srv.URL()

	bus, err := messaging.NewNATSBus(s.config)
	if err != nil {
		srv.Shutdown()
		observability.SetSpanError(ctx, err)
		s.logger.Error("failed to create event bus", "error", err)
		return fmt.Errorf("failed to create event bus: %w", err)
	}
	s.bus = bus

	span.SetAttributes(
		attribute.String("nats.url", srv.URL()),
		attribute.String("stream.name", s.config.StreamName),
		attribute.String("stream.max_age", s.config.MaxAge.String()),
	)

	s.logger.Info("eventbus service started",
		"url", srv.URL(),
		"stream", s.config.StreamName)

	return nil
}

// Stop drains the bus first, then shuts the server down.
func (s *Service) Stop(ctx context.Context) error {
	_, span := s.tracer.Start(ctx, "eventbus.Stop")
	defer span.End()

	s.logger.Info("stopping eventbus service")

	if s.bus != nil {
		if err := s.bus.Close(); err != nil {
			s.logger.Warn("error closing event bus", "error", err)
		}
		// give in-flight deliveries time to drain
		time.Sleep(100 * time.Millisecond)
	}

	if s.server != nil {
		s.server.Shutdown()
	}

	s.logger.Info("eventbus service stopped")
	return nil
}

// HealthCheck checks that the server is responsive and the bus exists.
func (s *Service) HealthCheck(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "eventbus.HealthCheck")
	defer span.End()

	if s.server == nil {
		err := fmt.Errorf("nats server not started")
		observability.SetSpanError(ctx, err)
		return err
	}

	if s.bus == nil {
		err := fmt.Errorf("event bus not created")
		observability.SetSpanError(ctx, err)
		return err
	}

	nc, err := nats.ConnectToEmbedded(s.server)
	if err != nil {
		observability.SetSpanError(ctx, err)
		return fmt.Errorf("nats server not responsive: %w", err)
	}
	nc.Close()

	span.SetAttributes(attribute.Bool("healthy", true))
	return nil
}

// EventBus returns the bus. Only available after Start() succeeds.
func (s *Service) EventBus() *messaging.NATSBus {
	return s.bus
}

// URL returns the NATS server connection URL.
// Only available after Start() succeeds.
func (s *Service) URL() string {
	if s.server == nil {
		return ""
	}
	return s.server.URL()
}

// Server returns the underlying embedded server.
// Only available after Start() succeeds.
func (s *Service) Server() *nats.EmbeddedServer {
	return s.server
}

var _ runner.Service = (*Service)(nil)
var _ runner.HealthChecker = (*Service)(nil)
