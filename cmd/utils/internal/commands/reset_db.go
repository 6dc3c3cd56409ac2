package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newResetDBCommand(e *env) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset-db",
		Short: "Drop the order and kitchen databases",
		Long:  "Drops the order and kitchen MongoDB databases. This cannot be undone and requires --yes.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to drop databases without --yes")
			}
			return resetDB(cmd.Context(), e)
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm dropping every fulfillment database")
	return cmd
}

func resetDB(ctx context.Context, e *env) error {
	log := e.logger.With("command", "reset-db")

	client, err := e.mongoClient(ctx)
	if err != nil {
		return err
	}
	defer client.Disconnect(context.Background())

	for _, db := range []string{e.orderDB(client).Name(), e.kitchenDB(client).Name()} {
		if err := client.Database(db).Drop(ctx); err != nil {
			return fmt.Errorf("cannot drop %s: %w", db, err)
		}
		log.Info("database dropped", "database", db)
	}
	return nil
}
