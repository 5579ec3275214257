package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/plaenen/iamcore/pkg/auth"
	"github.com/plaenen/iamcore/pkg/command"
	"github.com/plaenen/iamcore/pkg/database"
	"github.com/plaenen/iamcore/pkg/eventstore"
	"github.com/plaenen/iamcore/pkg/idgen"
	"github.com/plaenen/iamcore/pkg/messaging"
	"github.com/plaenen/iamcore/pkg/observability"
	"github.com/plaenen/iamcore/pkg/permission"
	"github.com/plaenen/iamcore/pkg/projection"
	"github.com/plaenen/iamcore/pkg/query"
	queryprojection "github.com/plaenen/iamcore/pkg/query/projection"
	"github.com/plaenen/iamcore/pkg/runner"
	rteventbus "github.com/plaenen/iamcore/pkg/runtime/eventbus"
	"github.com/plaenen/iamcore/pkg/secrets"
	"github.com/plaenen/iamcore/pkg/session"
	"github.com/plaenen/iamcore/pkg/token"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the event log, projection engine and event bus",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	logger := newLogger()

	tel, err := observability.Init(ctx, observability.Config{
		ServiceName: "iamcore",
		Environment: viper.GetString("environment"),
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer tel.Shutdown(context.Background())

	pool, err := database.New(ctx,
		database.WithDSN(viper.GetString("database.dsn")),
		database.WithMaxConns(int32(viper.GetInt("database.max_conns"))),
	)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	gen, err := idgen.NewSnowflake(viper.GetInt64("idgen.worker_id"))
	if err != nil {
		return fmt.Errorf("init id generator: %w", err)
	}

	// Event bus: embedded NATS for single-binary deployments, an external
	// cluster otherwise. Both speak JetStream.
	var (
		bus    messaging.EventBus
		busSvc *rteventbus.Service
	)
	switch {
	case viper.GetBool("nats.embedded"):
		busSvc = rteventbus.New(
			rteventbus.WithConfig(messaging.NATSConfig{
				StreamName: viper.GetString("nats.stream"),
				MaxAge:     24 * time.Hour,
			}),
			rteventbus.WithLogger(logger),
			rteventbus.WithTracer(tel.Tracer("eventbus")),
		)
		if err := busSvc.Start(ctx); err != nil {
			return err
		}
		defer busSvc.Stop(context.Background())
		bus = busSvc.EventBus()
	case viper.GetString("nats.url") != "":
		natsBus, err := messaging.NewNATSBus(messaging.NATSConfig{
			URL:        viper.GetString("nats.url"),
			StreamName: viper.GetString("nats.stream"),
			MaxAge:     24 * time.Hour,
		})
		if err != nil {
			return fmt.Errorf("connect NATS: %w", err)
		}
		defer natsBus.Close()
		bus = natsBus
	}

	pgStore, err := eventstore.NewPostgresStore(ctx, pool, gen, bus)
	if err != nil {
		return fmt.Errorf("open eventstore: %w", err)
	}
	store := observability.InstrumentEventstore(pgStore, tel)

	secretStore, err := openSecretStore(ctx)
	if err != nil {
		return fmt.Errorf("open secret store: %w", err)
	}
	defer secretStore.Close()

	bundle, err := secretStore.Bundle(ctx)
	if err != nil {
		return fmt.Errorf("load secrets: %w", err)
	}
	signingKey, err := bundle.SigningKeyBytes()
	if err != nil {
		return err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     viper.GetString("redis.addr"),
		Password: viper.GetString("redis.password"),
		DB:       viper.GetInt("redis.db"),
	})
	defer rdb.Close()

	queries := query.New(pool)
	sessions := session.NewManager(session.NewRedisStore(rdb))
	tokens, err := token.NewService(signingKey, token.NewRedisStore(rdb))
	if err != nil {
		return fmt.Errorf("init token service: %w", err)
	}

	core := &coreService{
		logger:   logger,
		pool:     pool,
		store:    store,
		redis:    rdb,
		commands: command.New(store),
		queries:  queries,
		auth:     auth.NewProvider(queries.Users, sessions, tokens, auth.DefaultPolicy()),
		perms:    permission.NewEngine(queries.Members, queries.Grants),
	}

	manager := projection.NewManager(store, logger)
	for _, p := range queryprojection.All() {
		manager.Register(projection.NewHandler(p, store, pool, bus,
			projection.WithHandlerLogger(logger),
		))
	}

	services := []runner.Service{
		core,
		&projectionService{manager: manager},
	}

	r := runner.New(services,
		runner.WithLogger(runner.NewSlogLogger(logger)),
	)

	logger.Info("iamcore starting",
		"projections", len(manager.Names()),
		"embedded_nats", busSvc != nil)
	return r.Run(ctx)
}

func openSecretStore(ctx context.Context) (secrets.Store, error) {
	keeperURL := viper.GetString("secrets.keeper_url")
	bundlePath := viper.GetString("secrets.bundle_path")
	if keeperURL != "" && bundlePath != "" {
		return secrets.Open(ctx, keeperURL, bundlePath)
	}
	return secrets.NewEnvStore(viper.GetString("secrets.env_key")), nil
}

// coreService holds the command and query sides and reports their health.
// It carries no background work of its own; the projection engine and the
// event bus run as sibling services.
type coreService struct {
	logger   *slog.Logger
	pool     *database.Pool
	store    eventstore.Eventstore
	redis    *redis.Client
	commands *command.Commands
	queries  *query.Queries
	auth     *auth.Provider
	perms    *permission.Engine
}

func (s *coreService) Name() string { return "core" }

func (s *coreService) Start(ctx context.Context) error {
	return s.HealthCheck(ctx)
}

func (s *coreService) Stop(context.Context) error {
	return nil
}

func (s *coreService) HealthCheck(ctx context.Context) error {
	if err := s.store.Health(ctx); err != nil {
		return fmt.Errorf("eventstore: %w", err)
	}
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

// projectionService adapts the projection manager to the runner lifecycle.
type projectionService struct {
	manager *projection.Manager
}

func (s *projectionService) Name() string { return "projections" }

func (s *projectionService) Start(ctx context.Context) error {
	return s.manager.Start(ctx)
}

func (s *projectionService) Stop(context.Context) error {
	s.manager.Stop()
	return nil
}

func (s *projectionService) HealthCheck(ctx context.Context) error {
	return s.manager.Health(ctx)
}
