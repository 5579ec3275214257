package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/plaenen/iamcore/pkg/database"
	"github.com/plaenen/iamcore/pkg/eventstore"
	"github.com/plaenen/iamcore/pkg/idgen"
	"github.com/plaenen/iamcore/pkg/projection"
	queryprojection "github.com/plaenen/iamcore/pkg/query/projection"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the eventstore and read-model schemas",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd.Context())
		},
	}
}

func runMigrate(ctx context.Context) error {
	logger := newLogger()

	pool, err := database.New(ctx, database.WithDSN(viper.GetString("database.dsn")))
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	gen, err := idgen.NewSnowflake(viper.GetInt64("idgen.worker_id"))
	if err != nil {
		return err
	}

	// opening the store runs the eventstore migrations
	store, err := eventstore.NewPostgresStore(ctx, pool, gen, nil)
	if err != nil {
		return fmt.Errorf("migrate eventstore: %w", err)
	}
	defer store.Close()
	logger.Info("eventstore schema up to date")

	err = pool.WithTransaction(ctx, func(ctx context.Context) error {
		ex := pool.Executor(ctx)
		if err := projection.InitStateTables(ctx, ex); err != nil {
			return err
		}
		for _, p := range queryprojection.All() {
			if err := p.Init(ctx, ex); err != nil {
				return fmt.Errorf("init projection %s: %w", p.Name(), err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Info("read-model schemas up to date", "projections", len(queryprojection.All()))
	return nil
}
