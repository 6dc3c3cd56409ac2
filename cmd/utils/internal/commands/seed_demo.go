package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/fulfillment/cmd/utils/internal/seeding"
	"github.com/appetiteclub/fulfillment/pkg"
	"github.com/appetiteclub/fulfillment/pkg/event"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

func newSeedDemoCommand(e *env) *cobra.Command {
	var (
		force   bool
		publish bool
	)

	cmd := &cobra.Command{
		Use:   "seed-demo",
		Short: "Insert demo orders and announce them to the kitchen",
		Long: `Inserts a fixed set of demo orders into the order database and, unless
--publish=false, publishes ORDER_PLACED for each so the kitchen service builds
their tickets. Runs once per database unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return seedDemo(cmd.Context(), e, force, publish)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "seed even if the demo marker is present")
	cmd.Flags().BoolVar(&publish, "publish", true, "publish ORDER_PLACED for each demo order")
	return cmd
}

func seedDemo(ctx context.Context, e *env, force, publish bool) error {
	log := e.logger.With("command", "seed-demo")

	client, err := e.mongoClient(ctx)
	if err != nil {
		return err
	}
	defer client.Disconnect(context.Background())

	db := e.orderDB(client)
	seeds := db.Collection("_seeds")

	if !force {
		n, err := seeds.CountDocuments(ctx, bson.M{"_id": seeding.Marker})
		if err != nil {
			return fmt.Errorf("cannot check seed marker: %w", err)
		}
		if n > 0 {
			log.Info("demo orders already seeded", "marker", seeding.Marker)
			return nil
		}
	}

	orders := seeding.DemoOrders(time.Now())
	if err := insertOrders(ctx, db.Collection("orders"), orders); err != nil {
		return err
	}
	log.Info("demo orders inserted", "count", len(orders), "database", db.Name())

	marker := bson.M{"$set": bson.M{"applied_at": time.Now().UTC(), "orders": len(orders)}}
	if _, err := seeds.UpdateByID(ctx, seeding.Marker, marker, upsert()); err != nil {
		return fmt.Errorf("cannot record seed marker: %w", err)
	}

	if !publish {
		return nil
	}
	return publishPlaced(ctx, e.config, log, orders)
}

// insertOrders replaces any earlier copy so --force reseeds cleanly.
func insertOrders(ctx context.Context, coll *mongo.Collection, orders []seeding.Order) error {
	for _, o := range orders {
		doc, err := seeding.OrderDoc(o)
		if err != nil {
			return err
		}
		if _, err := coll.ReplaceOne(ctx, bson.M{"_id": o.ID.String()}, doc, replaceUpsert()); err != nil {
			return fmt.Errorf("cannot insert demo order %s: %w", o.ID, err)
		}
	}
	return nil
}

func publishPlaced(ctx context.Context, config *apt.Config, log apt.Logger, orders []seeding.Order) error {
	bus, err := pkg.NewBus(config, "utils", log)
	if err != nil {
		return fmt.Errorf("cannot connect to bus: %w", err)
	}
	defer bus.Close()

	var errs []error
	for _, o := range orders {
		data, err := json.Marshal(seeding.PlacedEvent(o))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := pkg.PublishKeyed(ctx, bus, event.OrderEventsTopic, o.ID.String(), data); err != nil {
			log.Error("cannot publish demo order", "order_id", o.ID.String(), "error", err)
			errs = append(errs, fmt.Errorf("publish %s: %w", o.ID, err))
			continue
		}
		log.Debug("demo order published", "order_id", o.ID.String())
	}
	return errors.Join(errs...)
}
