// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator assembles the household chat service.
//
// This package wires every component of the service: HTTP routing, the
// model backend, the policy engine, the stores, the access guard, the
// retention scheduler and the observability infrastructure.
//
// # Extension Points
//
// The service accepts dependency injection via extensions.ServiceOptions,
// so a deployment can provide its own:
//   - AuthProvider: Token validation (defaults to JWT, or Nop without a secret)
//   - AuthzProvider: Workspace access (defaults to space membership)
//   - AuditLogger: Audit trail (defaults to structured logs)
//   - MessageFilter: Inbound screening (defaults to the policy engine)
//
// # Usage
//
//	cfg, err := config.Load(path)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := orchestrator.New(ctx, cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run(ctx))
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/AleutianAI/hearth/pkg/extensions"
	"github.com/AleutianAI/hearth/pkg/registry"
	"github.com/AleutianAI/hearth/services/llm"
	"github.com/AleutianAI/hearth/services/orchestrator/access"
	"github.com/AleutianAI/hearth/services/orchestrator/chat"
	"github.com/AleutianAI/hearth/services/orchestrator/conversation"
	"github.com/AleutianAI/hearth/services/orchestrator/handlers"
	"github.com/AleutianAI/hearth/services/orchestrator/observability"
	"github.com/AleutianAI/hearth/services/orchestrator/routes"
	"github.com/AleutianAI/hearth/services/orchestrator/spacecontext"
	"github.com/AleutianAI/hearth/services/orchestrator/tools"
	"github.com/AleutianAI/hearth/services/orchestrator/ttl"
	"github.com/AleutianAI/hearth/services/orchestrator/turnlog"
	"github.com/AleutianAI/hearth/services/policy_engine"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the chat service.
//
// # Description
//
// Service abstracts the service lifecycle so that the CLI and tests can
// drive it without knowing how it is assembled.
//
// # Thread Safety
//
// Run blocks and must be called at most once per instance. Router is safe
// to call at any time.
type Service interface {
	// Run serves HTTP until ctx is cancelled or the listener fails.
	//
	// # Description
	//
	// Starts the retention scheduler, registers with Consul when
	// configured, and serves on the configured port. On cancellation it
	// stops accepting requests, waits for open turns to persist, then
	// releases every resource.
	//
	// # Outputs
	//
	//   - error: Non-nil if the listener fails. A clean shutdown returns nil.
	Run(ctx context.Context) error

	// Router returns the configured Gin engine, for tests.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds the service configuration.
//
// # Description
//
// Config centralizes all configuration for the service. It is populated
// by config.Load from a YAML file and HEARTH_* environment variables, or
// programmatically for tests. Zero values take the defaults applied by
// applyConfigDefaults.
//
// # Examples
//
//	// Local development: in-memory stores, Nop auth, seeded households
//	cfg := Config{
//	    Model:         llm.Config{Backend: "openai", APIKey: key},
//	    HouseholdSeed: "./households.yaml",
//	}
//
//	// Production
//	cfg := Config{
//	    Database: DatabaseConfig{Driver: "postgres", DSN: dsn},
//	    Redis:    RedisConfig{Addr: "redis:6379"},
//	    Pending:  PendingConfig{Backend: "redis"},
//	    Auth:     extensions.JWTConfig{Secret: secret, Issuer: "hearth-auth"},
//	}
type Config struct {
	// Port is the HTTP server port. Default: 12210
	Port int `mapstructure:"port" validate:"gte=0,lte=65535"`

	// GinMode is "debug", "release" or "test". Empty keeps Gin's own default.
	GinMode string `mapstructure:"gin_mode" validate:"omitempty,oneof=debug release test"`

	// ServiceName names traces, logs and the Consul service. Default: hearth
	ServiceName string `mapstructure:"service_name"`

	// TracingEnabled turns on OTLP trace export to OTelEndpoint.
	TracingEnabled bool `mapstructure:"tracing_enabled"`

	// OTelEndpoint is the OpenTelemetry collector. Default: otel-collector:4317
	OTelEndpoint string `mapstructure:"otel_endpoint"`

	Model    llm.Config     `mapstructure:"model"`
	Chat     chat.Config    `mapstructure:"chat"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Pending  PendingConfig  `mapstructure:"pending"`

	// Auth configures JWT validation. An empty secret falls back to the
	// Nop provider, which accepts every request as one local user.
	Auth extensions.JWTConfig `mapstructure:"auth"`

	// Tiers overrides the built-in tier allowances.
	Tiers access.TierTable `mapstructure:"tiers"`

	// RateWindow is the window RequestsPerWindow applies to. Default: 1m
	RateWindow time.Duration `mapstructure:"rate_window"`

	Policy PolicyConfig `mapstructure:"policy"`

	// Heartbeat is the SSE keepalive interval. Default: 15s
	Heartbeat time.Duration `mapstructure:"heartbeat"`

	// AllowedOrigins lists browser origins accepted for WebSocket upgrades.
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	Retention RetentionConfig `mapstructure:"retention"`

	// TurnLog publishes turn records to RocketMQ when name servers are
	// set; otherwise they are logged.
	TurnLog turnlog.Config `mapstructure:"turn_log"`

	// Consul registers the service when an address is set.
	Consul registry.Config `mapstructure:"consul"`

	// HouseholdSeed is an optional YAML file of spaces and members loaded
	// at startup.
	HouseholdSeed string `mapstructure:"household_seed"`

	// ShutdownTimeout bounds graceful shutdown. Default: 30s
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig selects the relational store. Driver is "memory",
// "postgres" or "sqlite". Default: memory
type DatabaseConfig struct {
	Driver      string `mapstructure:"driver" validate:"omitempty,oneof=memory postgres sqlite"`
	DSN         string `mapstructure:"dsn"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

// RedisConfig enables Redis-backed usage counters and rate limiting when
// Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// PendingConfig selects where paused tool calls wait for confirmation.
// Backend is "memory", "redis" or "badger".
type PendingConfig struct {
	Backend   string        `mapstructure:"backend" validate:"omitempty,oneof=memory redis badger"`
	BadgerDir string        `mapstructure:"badger_dir"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// PolicyConfig points the sanitizer and PII detector at optional override
// catalogues that are watched for changes.
type PolicyConfig struct {
	SanitizerOverride string `mapstructure:"sanitizer_override"`
	PIIOverride       string `mapstructure:"pii_override"`
}

// RetentionConfig controls pruning of idle conversations. A negative
// Conversations value disables pruning.
type RetentionConfig struct {
	Conversations time.Duration       `mapstructure:"conversations"`
	Scheduler     ttl.SchedulerConfig `mapstructure:"scheduler"`
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Fields
//
//   - config: Configuration with defaults applied
//   - opts: Extension options, completed with defaults
//   - router: Gin HTTP engine
//   - stores: Persistence handles, closed on shutdown
//   - orchestrator: Chat turn engine
//   - scheduler: Retention scheduler (nil when nothing to sweep)
//   - registrar: Consul registrar (nil when not configured)
//   - publisher: Closable turn publisher (nil for the log publisher)
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New returns.
type service struct {
	config        Config
	opts          extensions.ServiceOptions
	router        *gin.Engine
	registry      *prometheus.Registry
	stores        *stores
	orchestrator  *chat.Orchestrator
	scheduler     ttl.Scheduler
	registrar     *registry.ConsulRegistrar
	publisher     *turnlog.RocketMQPublisher
	stopWatchers  context.CancelFunc
	tracerCleanup func(context.Context)
}

// =============================================================================
// Constructor
// =============================================================================

// New creates the chat Service with the given configuration.
//
// # Description
//
// New initializes all components:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing when enabled
//  3. Creates a Prometheus registry with the chat metrics
//  4. Opens the stores (gorm, Redis, Badger or memory)
//  5. Loads the policy catalogues and starts override watchers
//  6. Creates the model backend and the chat orchestrator
//  7. Sets up HTTP routes with extension options
//
// Nil fields of opts are filled with the service defaults, not Nops.
//
// # Inputs
//
//   - ctx: Bounds startup I/O. Override watchers outlive it.
//   - cfg: Service configuration. Zero values use defaults.
//   - opts: Extension options. May be nil.
//
// # Outputs
//
//   - Service: Ready-to-run service
//   - error: Non-nil if any required component fails to initialize
func New(ctx context.Context, cfg Config, opts *extensions.ServiceOptions) (Service, error) {
	cfg = applyConfigDefaults(cfg)
	model, err := llm.NewChatModel(ctx, cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize model backend: %w", err)
	}
	return newService(ctx, cfg, opts, model)
}

func newService(ctx context.Context, cfg Config, opts *extensions.ServiceOptions, model llm.ChatModel) (*service, error) {
	s := &service{config: applyConfigDefaults(cfg)}
	ok := false
	defer func() {
		if !ok {
			s.cleanup()
		}
	}()

	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}

	if s.config.TracingEnabled {
		cleanup, err := s.initTracer(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	}

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewChatMetrics(s.registry)

	st, err := openStores(ctx, s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to open stores: %w", err)
	}
	s.stores = st

	engine, filter, err := s.initPolicy()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	toolRegistry := tools.NewRegistry(metrics)
	if err := tools.RegisterHouseholdTools(toolRegistry, st.household); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	publisher, err := s.initPublisher()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize turn publisher: %w", err)
	}

	s.orchestrator, err = chat.New(chat.Dependencies{
		Model:         model,
		Tools:         toolRegistry,
		Conversations: st.conversations,
		Usage:         st.usage,
		Pending:       st.pending,
		Publisher:     publisher,
		Redactor:      engine,
		Metrics:       metrics,
	}, s.config.Chat)
	if err != nil {
		return nil, err
	}

	s.opts, err = s.resolveOptions(opts, filter)
	if err != nil {
		return nil, err
	}

	if err := s.initRouter(metrics); err != nil {
		return nil, err
	}

	s.initScheduler()

	if s.config.Consul.Enabled() {
		if s.config.Consul.ServiceName == "" {
			s.config.Consul.ServiceName = s.config.ServiceName
		}
		s.registrar, err = registry.NewConsulRegistrar(s.config.Consul)
		if err != nil {
			return nil, err
		}
	}

	slog.Info("chat service initialized",
		"model", s.orchestrator.ModelName(),
		"tools", len(toolRegistry.ListTools()),
		"auth", fmt.Sprintf("%T", s.opts.AuthProvider))
	ok = true
	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run serves HTTP until ctx is cancelled or the listener fails.
//
// # Description
//
// The listener and the shutdown watcher run in one errgroup. Shutdown
// order: deregister from Consul, drain HTTP, wait for turn persistence,
// stop the scheduler, close stores.
func (s *service) Run(ctx context.Context) error {
	defer s.cleanup()

	ln, err := net.Listen("tcp", ":"+strconv.Itoa(s.config.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", s.config.Port, err)
	}
	return s.serve(ctx, ln)
}

func (s *service) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.scheduler != nil {
		if err := s.scheduler.Start(ctx); err != nil {
			ln.Close()
			return fmt.Errorf("failed to start retention scheduler: %w", err)
		}
	}

	var registrationID string
	if s.registrar != nil {
		port := ln.Addr().(*net.TCPAddr).Port
		id, err := s.registrar.Register(port)
		if err != nil {
			slog.Warn("consul registration failed, continuing unregistered", "error", err)
		} else {
			registrationID = id
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting chat server", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down chat server")

		if registrationID != "" {
			if err := s.registrar.Deregister(registrationID); err != nil {
				slog.Warn("consul deregistration failed", "error", err)
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http shutdown incomplete", "error", err)
		}
		if err := s.orchestrator.WaitForPersistence(shutdownCtx); err != nil {
			slog.Warn("turn persistence did not finish before shutdown", "error", err)
		}
		return nil
	})
	return g.Wait()
}

func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12210
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "hearth"
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "otel-collector:4317"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "memory"
	}
	if cfg.Pending.Backend == "" {
		cfg.Pending.Backend = "memory"
	}
	if cfg.Pending.BadgerDir == "" {
		cfg.Pending.BadgerDir = "./data/pending"
	}
	if cfg.Pending.TTL <= 0 {
		cfg.Pending.TTL = 24 * time.Hour
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = access.DefaultRateWindow
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = handlers.DefaultHeartbeatInterval
	}
	if cfg.Retention.Conversations == 0 {
		cfg.Retention.Conversations = 90 * 24 * time.Hour
	}
	if cfg.Retention.Scheduler.Interval <= 0 || cfg.Retention.Scheduler.BatchSize <= 0 {
		d := ttl.DefaultSchedulerConfig()
		if cfg.Retention.Scheduler.Interval <= 0 {
			cfg.Retention.Scheduler.Interval = d.Interval
		}
		if cfg.Retention.Scheduler.BatchSize <= 0 {
			cfg.Retention.Scheduler.BatchSize = d.BatchSize
		}
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	return cfg
}

// initTracer initializes OpenTelemetry distributed tracing.
//
// # Description
//
// Sets up an OTLP trace exporter that sends spans to the configured
// collector. The gRPC connection is lazy, so an unreachable collector
// does not block startup.
//
// # Outputs
//
//   - func(context.Context): Cleanup function to call on shutdown
//   - error: Non-nil if tracer setup fails
//
// # Limitations
//
//   - Uses an insecure gRPC connection (appropriate for internal networks)
func (s *service) initTracer(ctx context.Context) (func(context.Context), error) {
	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(s.config.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(traceExporter)))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceProvider.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown tracer provider", "error", err)
		}
		conn.Close()
	}
	return cleanup, nil
}

// initPolicy loads the catalogues and watches override files. The PII
// engine doubles as the redactor for household context.
func (s *service) initPolicy() (*policy_engine.PolicyEngine, *policy_engine.ChatFilter, error) {
	engine, err := policy_engine.NewPolicyEngine()
	if err != nil {
		return nil, nil, err
	}
	sanitizer, err := policy_engine.NewInputSanitizer()
	if err != nil {
		return nil, nil, err
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	s.stopWatchers = cancel
	overrides := []struct {
		path   string
		target policy_engine.Reloadable
	}{
		{s.config.Policy.SanitizerOverride, sanitizer},
		{s.config.Policy.PIIOverride, engine},
	}
	for _, o := range overrides {
		if o.path == "" {
			continue
		}
		if err := policy_engine.WatchOverride(watchCtx, o.path, o.target); err != nil {
			return nil, nil, err
		}
		slog.Info("policy override active", "path", o.path)
	}

	filter, err := policy_engine.NewChatFilter(sanitizer, policy_engine.NewPIIDetector(engine))
	if err != nil {
		return nil, nil, err
	}
	return engine, filter, nil
}

func (s *service) initPublisher() (chat.TurnPublisher, error) {
	if !s.config.TurnLog.Enabled() {
		return turnlog.LogPublisher{Logger: slog.Default().With("component", "turnlog")}, nil
	}
	pub, err := turnlog.NewRocketMQPublisher(s.config.TurnLog)
	if err != nil {
		return nil, err
	}
	s.publisher = pub
	return pub, nil
}

// resolveOptions completes opts with the service defaults.
func (s *service) resolveOptions(opts *extensions.ServiceOptions, filter extensions.MessageFilter) (extensions.ServiceOptions, error) {
	var resolved extensions.ServiceOptions
	if opts != nil {
		resolved = *opts
	}
	if resolved.AuthProvider == nil {
		if s.config.Auth.Secret != "" {
			provider, err := extensions.NewJWTAuthProvider(s.config.Auth)
			if err != nil {
				return resolved, fmt.Errorf("failed to initialize auth: %w", err)
			}
			resolved.AuthProvider = provider
		} else {
			slog.Warn("no auth secret configured, every request runs as the local user")
			resolved.AuthProvider = &extensions.NopAuthProvider{}
		}
	}
	if resolved.AuthzProvider == nil {
		resolved.AuthzProvider = access.NewSpaceAuthz(s.stores.household)
	}
	if resolved.AuditLogger == nil {
		resolved.AuditLogger = &extensions.SlogAuditLogger{Logger: slog.Default()}
	}
	if resolved.MessageFilter == nil {
		resolved.MessageFilter = filter
	}
	return resolved.WithDefaults(), nil
}

// initRouter sets up the Gin engine with all routes.
func (s *service) initRouter(metrics *observability.ChatMetrics) error {
	guard := access.NewGuard(access.GuardConfig{
		Spaces:     s.stores.household,
		Usage:      s.stores.usage,
		Limiter:    s.stores.limiter,
		Tiers:      s.config.Tiers,
		RateWindow: s.config.RateWindow,
	})

	chatHandler, err := handlers.NewChatHandler(handlers.ChatDependencies{
		Orchestrator:   s.orchestrator,
		Access:         guard,
		Context:        spacecontext.NewBuilder(s.stores.household, spacecontext.DefaultLimits()),
		Options:        s.opts,
		Metrics:        metrics,
		Conversations:  s.stores.conversations,
		Heartbeat:      s.config.Heartbeat,
		AllowedOrigins: s.config.AllowedOrigins,
	})
	if err != nil {
		return err
	}

	s.router = gin.New()
	s.router.Use(gin.Recovery(), otelgin.Middleware(s.config.ServiceName))
	if gin.Mode() != gin.TestMode {
		s.router.Use(gin.Logger())
	}

	routes.SetupRoutes(s.router, routes.Handlers{
		Chat:          chatHandler,
		Conversations: handlers.NewConversationHandler(s.stores.conversations, s.stores.usage, guard, s.opts, metrics),
		Tools:         s.orchestrator,
		ModelName:     s.orchestrator.ModelName(),
		Auth:          s.opts.AuthProvider,
		Gatherer:      s.registry,
	})
	return nil
}

// initScheduler collects the sweepers the configured stores support.
func (s *service) initScheduler() {
	var sweepers []ttl.Sweeper
	if s.config.Retention.Conversations > 0 {
		if pruner, ok := s.stores.conversations.(ttl.ConversationPruner); ok {
			sweepers = append(sweepers, ttl.ConversationRetention(pruner, s.config.Retention.Conversations))
		}
	}
	if sweeper, ok := s.stores.pending.(ttl.PendingSweeper); ok {
		sweepers = append(sweepers, ttl.PendingExpiry(sweeper))
	}
	if idle, ok := s.stores.limiter.(ttl.IdleSweeper); ok {
		sweepers = append(sweepers, ttl.IdleRateBuckets(idle))
	}
	if len(sweepers) > 0 {
		s.scheduler = ttl.NewScheduler(s.config.Retention.Scheduler, sweepers...)
	}
}

// cleanup releases all resources held by the service.
//
// # Description
//
// Called when Run exits or on initialization failure. Safe to call on a
// partially built service.
func (s *service) cleanup() {
	if s.scheduler != nil {
		if err := s.scheduler.Stop(); err != nil {
			slog.Debug("retention scheduler stop", "error", err)
		}
	}
	if s.stopWatchers != nil {
		s.stopWatchers()
	}
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			slog.Warn("turn publisher close error", "error", err)
		}
		s.publisher = nil
	}
	if s.stores != nil {
		s.stores.close()
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
		s.tracerCleanup = nil
	}
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var (
	_ Service                = (*service)(nil)
	_ handlers.ToolLister    = (*chat.Orchestrator)(nil)
	_ ttl.ConversationPruner = (*conversation.GormStore)(nil)
	_ ttl.ConversationPruner = (*conversation.MemoryStore)(nil)
	_ ttl.PendingSweeper     = (*conversation.MemoryPendingStore)(nil)
	_ ttl.IdleSweeper        = (*access.MemoryRateLimiter)(nil)
)
