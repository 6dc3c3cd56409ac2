package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/appetiteclub/apt"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// BaseRepo owns the client connection of one service database. Repositories
// are built from GetDatabase after Start.
type BaseRepo struct {
	client      *mongo.Client
	db          *mongo.Database
	logger      apt.Logger
	config      *apt.Config
	defaultName string
}

func NewBaseRepo(config *apt.Config, defaultName string, logger apt.Logger) *BaseRepo {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &BaseRepo{
		logger:      logger,
		config:      config,
		defaultName: defaultName,
	}
}

func (r *BaseRepo) Start(ctx context.Context) error {
	connString := r.config.GetStringOrDef("db.mongo.url", "mongodb://localhost:27017")
	dbName := r.config.GetStringOrDef("db.mongo.name", r.defaultName)

	clientOptions := options.Client().ApplyURI(connString).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return fmt.Errorf("cannot connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return fmt.Errorf("cannot ping MongoDB: %w", err)
	}

	r.client = client
	r.db = client.Database(dbName)

	r.logger.Info("connected to MongoDB", "database", dbName)
	return nil
}

func (r *BaseRepo) Stop(ctx context.Context) error {
	if r.client != nil {
		if err := r.client.Disconnect(ctx); err != nil {
			return fmt.Errorf("cannot disconnect from MongoDB: %w", err)
		}
		r.logger.Info("disconnected from MongoDB")
	}
	return nil
}

func (r *BaseRepo) GetDatabase() *mongo.Database {
	return r.db
}

// Index is a declarative index definition applied by EnsureIndexes.
type Index struct {
	Keys   []string
	Unique bool
	// Descending sorts every key in reverse order.
	Descending bool
}

// EnsureIndexes creates the indexes on coll. Creating an index that already
// exists with the same definition is a no-op in MongoDB.
func EnsureIndexes(ctx context.Context, coll *mongo.Collection, indexes ...Index) error {
	if len(indexes) == 0 {
		return nil
	}

	models := make([]mongo.IndexModel, 0, len(indexes))
	for _, idx := range indexes {
		order := 1
		if idx.Descending {
			order = -1
		}
		keys := make(bson.D, 0, len(idx.Keys))
		for _, k := range idx.Keys {
			keys = append(keys, bson.E{Key: k, Value: order})
		}
		opts := options.Index()
		if idx.Unique {
			opts.SetUnique(true)
		}
		models = append(models, mongo.IndexModel{Keys: keys, Options: opts})
	}

	if _, err := coll.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("cannot create indexes on %s: %w", coll.Name(), err)
	}
	return nil
}
