package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"statusflow/internal/config"
	"statusflow/internal/constants"
	"statusflow/internal/logger"
	"statusflow/pkg/migrations"
	"statusflow/pkg/models"
)

type moduleDocument struct {
	ID             string `bson:"_id"`
	ModuleState    string `bson:"moduleState"`
	LastUpdatedUtc string `bson:"lastUpdatedUtc"`
}

func (d moduleDocument) record() models.ModuleRecord {
	return models.ModuleRecord{
		ModuleCategoryID: d.ID,
		ModuleState:      d.ModuleState,
		LastUpdatedUtc:   d.LastUpdatedUtc,
	}
}

// MongoStore keeps one document per module keyed by _id. UpsertMany needs a
// replica set or sharded cluster for multi-document transactions.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	now        func() time.Time
	logger     logger.Logger
}

func NewMongoStore(client *mongo.Client, cfg config.MongoDBConfig, log logger.Logger, opts ...Option) *MongoStore {
	o := buildOptions(opts)
	return &MongoStore{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		now:        o.now,
		logger:     log,
	}
}

func connectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client, nil
}

func (s *MongoStore) Init(ctx context.Context) error {
	if err := migrations.EnsureModuleIndexes(ctx, s.collection); err != nil {
		return err
	}
	s.logger.Infow("MongoDB store ready", "collection", s.collection.Name())
	return nil
}

func (s *MongoStore) Upsert(ctx context.Context, moduleID, state string) (err error) {
	start := time.Now()
	defer func() { observe(constants.StoreTypeMongoDB, "upsert", start, err) }()

	if moduleID == "" {
		return ErrInvalidID
	}
	return s.upsert(ctx, moduleID, state)
}

func (s *MongoStore) UpsertMany(ctx context.Context, updates []models.ModuleUpdate) (err error) {
	start := time.Now()
	defer func() { observe(constants.StoreTypeMongoDB, "upsert_many", start, err) }()

	if err := validateUpdates(updates); err != nil {
		return err
	}

	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		for _, u := range updates {
			if err := s.upsert(sc, u.ModuleCategoryID, u.ModuleState); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

func (s *MongoStore) upsert(ctx context.Context, moduleID, state string) error {
	update := bson.M{"$set": bson.M{
		"moduleState":    state,
		"lastUpdatedUtc": FormatTimestamp(s.now()),
	}}
	_, err := s.collection.UpdateOne(ctx, bson.M{"_id": moduleID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert module %s: %w", moduleID, err)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, moduleID string) (models.ModuleRecord, error) {
	var doc moduleDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": moduleID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.ModuleRecord{}, notFound(moduleID)
	}
	if err != nil {
		return models.ModuleRecord{}, fmt.Errorf("failed to get module %s: %w", moduleID, err)
	}
	return doc.record(), nil
}

func (s *MongoStore) List(ctx context.Context) ([]models.ModuleRecord, error) {
	cursor, err := s.collection.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query modules: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []moduleDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode modules: %w", err)
	}

	records := make([]models.ModuleRecord, 0, len(docs))
	for _, d := range docs {
		records = append(records, d.record())
	}
	return records, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}
