package commands

import (
	"context"
	"fmt"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/fulfillment/cmd/utils/internal/seeding"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func newClearDemoCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-demo",
		Short: "Remove demo orders and the kitchen tickets built from them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return clearDemo(cmd.Context(), e)
		},
	}
}

func clearDemo(ctx context.Context, e *env) error {
	log := e.logger.With("command", "clear-demo")

	client, err := e.mongoClient(ctx)
	if err != nil {
		return err
	}
	defer client.Disconnect(context.Background())

	if err := clearOrderDemo(ctx, e.orderDB(client), log); err != nil {
		return fmt.Errorf("cannot clear order demo data: %w", err)
	}
	if err := clearKitchenDemo(ctx, e.kitchenDB(client), log); err != nil {
		return fmt.Errorf("cannot clear kitchen demo data: %w", err)
	}
	return nil
}

func clearOrderDemo(ctx context.Context, db *mongo.Database, log apt.Logger) error {
	res, err := db.Collection("orders").DeleteMany(ctx, bson.M{"created_by": seeding.CreatedBy})
	if err != nil {
		return fmt.Errorf("delete demo orders: %w", err)
	}
	log.Info("deleted demo orders", "count", res.DeletedCount)

	if _, err := db.Collection("_seeds").DeleteOne(ctx, bson.M{"_id": seeding.Marker}); err != nil {
		return fmt.Errorf("delete seed marker: %w", err)
	}
	return nil
}

// clearKitchenDemo finds tickets by the demo order ids; tickets carry no
// seed tag of their own.
func clearKitchenDemo(ctx context.Context, db *mongo.Database, log apt.Logger) error {
	tickets := db.Collection("tickets")
	filter := bson.M{"order_id": bson.M{"$in": seeding.DemoOrderIDs()}}

	cursor, err := tickets.Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return fmt.Errorf("find demo tickets: %w", err)
	}
	var found []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &found); err != nil {
		return fmt.Errorf("decode demo tickets: %w", err)
	}
	if len(found) == 0 {
		log.Info("no demo tickets to delete")
		return nil
	}

	ids := make([]string, 0, len(found))
	for _, t := range found {
		ids = append(ids, t.ID)
	}

	items, err := db.Collection("ticket_items").DeleteMany(ctx, bson.M{"ticket_id": bson.M{"$in": ids}})
	if err != nil {
		return fmt.Errorf("delete demo ticket items: %w", err)
	}
	res, err := tickets.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return fmt.Errorf("delete demo tickets: %w", err)
	}
	log.Info("deleted demo tickets", "tickets", res.DeletedCount, "items", items.DeletedCount)
	return nil
}

func upsert() *options.UpdateOptions {
	return options.Update().SetUpsert(true)
}

func replaceUpsert() *options.ReplaceOptions {
	return options.Replace().SetUpsert(true)
}
