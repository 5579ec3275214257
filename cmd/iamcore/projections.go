package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/plaenen/iamcore/pkg/database"
	"github.com/plaenen/iamcore/pkg/eventstore"
	"github.com/plaenen/iamcore/pkg/idgen"
	"github.com/plaenen/iamcore/pkg/projection"
	queryprojection "github.com/plaenen/iamcore/pkg/query/projection"
)

func newProjectionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projections",
		Short: "Inspect and manage read-model projections",
	}
	cmd.AddCommand(
		newProjectionsListCmd(),
		newProjectionsResetCmd(),
		newProjectionsFailedCmd(),
	)
	return cmd
}

func newProjectionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projections with their positions and lag",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProjectionsList(cmd.Context())
		},
	}
}

func runProjectionsList(ctx context.Context) error {
	pool, err := database.New(ctx, database.WithDSN(viper.GetString("database.dsn")))
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	gen, err := idgen.NewSnowflake(viper.GetInt64("idgen.worker_id"))
	if err != nil {
		return err
	}
	store, err := eventstore.NewPostgresStore(ctx, pool, gen, nil)
	if err != nil {
		return fmt.Errorf("open eventstore: %w", err)
	}
	defer store.Close()

	head, err := store.LatestPosition(ctx)
	if err != nil {
		return err
	}

	cursors, err := projection.Cursors(ctx, pool)
	if err != nil {
		return err
	}
	byName := make(map[string]*projection.Cursor, len(cursors))
	for _, c := range cursors {
		byName[c.ProjectionName] = c
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROJECTION\tPOSITION\tBEHIND\tLAST UPDATED")
	for _, p := range queryprojection.All() {
		c, ok := byName[p.Name()]
		if !ok {
			fmt.Fprintf(w, "%s\t-\t%v\tnever\n", p.Name(), !head.IsZero())
			continue
		}
		fmt.Fprintf(w, "%s\t%s/%d\t%v\t%s\n",
			c.ProjectionName,
			c.Position.Position.String(), c.Position.InPositionOrder,
			head.After(c.Position),
			c.LastUpdated.Format("2006-01-02 15:04:05"),
		)
	}
	return w.Flush()
}

func newProjectionsResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <name>",
		Short: "Drop a projection's read model so it replays from the start",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectionsReset(cmd.Context(), args[0])
		},
	}
}

func runProjectionsReset(ctx context.Context, name string) error {
	logger := newLogger()

	target, err := findProjection(name)
	if err != nil {
		return err
	}

	pool, err := database.New(ctx, database.WithDSN(viper.GetString("database.dsn")))
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if err := projection.Reset(ctx, pool, target); err != nil {
		return fmt.Errorf("reset projection %s: %w", name, err)
	}
	logger.Info("projection reset, it will replay on next start", "projection", name)
	return nil
}

func newProjectionsFailedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "failed <name>",
		Short: "List a projection's quarantined events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectionsFailed(cmd.Context(), args[0])
		},
	}
}

func runProjectionsFailed(ctx context.Context, name string) error {
	if _, err := findProjection(name); err != nil {
		return err
	}

	pool, err := database.New(ctx, database.WithDSN(viper.GetString("database.dsn")))
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	failed, err := projection.FailedEvents(ctx, pool, name)
	if err != nil {
		return err
	}
	if len(failed) == 0 {
		fmt.Println("no quarantined events")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EVENT\tTYPE\tAGGREGATE\tFAILURES\tLAST ERROR")
	for _, fe := range failed {
		fmt.Fprintf(w, "%s\t%s\t%s/%s\t%d\t%s\n",
			fe.EventID, fe.EventType, fe.AggregateType, fe.AggregateID,
			fe.FailureCount, fe.LastError,
		)
	}
	return w.Flush()
}

func findProjection(name string) (projection.Projection, error) {
	for _, p := range queryprojection.All() {
		if p.Name() == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("unknown projection %q (see 'iamcore projections list')", name)
}
