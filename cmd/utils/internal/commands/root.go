package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	namespace = "UTILS"

	defaultMongoURL     = "mongodb://localhost:27017"
	defaultOrderDB      = "fulfillment_order"
	defaultKitchenDB    = "fulfillment_kitchen"
	mongoConnectTimeout = 10 * time.Second
)

// env is what every subcommand shares once the root has loaded config.
type env struct {
	configPath string
	logLevel   string

	config *apt.Config
	logger apt.Logger
}

// NewRootCommand builds the fulfillment-utils command tree.
func NewRootCommand(version string) *cobra.Command {
	e := &env{}

	root := &cobra.Command{
		Use:           "fulfillment-utils",
		Short:         "Operational helpers for the fulfillment services",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.load(cmd.Flags().Changed("config"))
		},
	}

	root.PersistentFlags().StringVar(&e.configPath, "config", "config.yaml", "path to config file")
	root.PersistentFlags().StringVar(&e.logLevel, "log-level", "", "log level (overrides log.level)")

	root.AddCommand(
		newSeedDemoCommand(e),
		newClearDemoCommand(e),
		newResetDBCommand(e),
		newSignPaymentCommand(e),
		newSignWebhookCommand(e),
		newTokenCommand(e),
		newBlockUserCommand(e),
		newVersionCommand(version),
	)

	return root
}

// load reads the config file with UTILS_ env overrides. A missing file is
// only an error when --config was given explicitly.
func (e *env) load(explicit bool) error {
	cfg := apt.NewConfig()
	err := cfg.MergeYAMLFileWithEnv(e.configPath, namespace+"_")
	if err != nil && (explicit || !errors.Is(err, fs.ErrNotExist)) {
		return fmt.Errorf("cannot load config %s: %w", e.configPath, err)
	}
	e.config = cfg

	level := e.logLevel
	if level == "" {
		level = cfg.GetStringOrDef("log.level", "info")
	}
	e.logger = apt.NewLogger(level).With("app", "fulfillment-utils")
	return nil
}

// mongoClient connects to db.mongo.url and verifies the connection.
func (e *env) mongoClient(ctx context.Context) (*mongo.Client, error) {
	url := e.config.GetStringOrDef("db.mongo.url", defaultMongoURL)

	opts := options.Client().ApplyURI(url).
		SetConnectTimeout(mongoConnectTimeout).
		SetServerSelectionTimeout(mongoConnectTimeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("cannot ping MongoDB: %w", err)
	}
	return client, nil
}

func (e *env) orderDB(client *mongo.Client) *mongo.Database {
	return client.Database(e.config.GetStringOrDef("db.order.name", defaultOrderDB))
}

func (e *env) kitchenDB(client *mongo.Client) *mongo.Database {
	return client.Database(e.config.GetStringOrDef("db.kitchen.name", defaultKitchenDB))
}

func newVersionCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "fulfillment-utils version %s\n", version)
			return err
		},
	}
}
