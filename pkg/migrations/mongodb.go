package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureModuleIndexes creates the secondary indexes of the module collection.
// The collection itself is created by the first upsert.
func EnsureModuleIndexes(ctx context.Context, collection *mongo.Collection) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "lastUpdatedUtc", Value: -1}},
			Options: options.Index().SetName("idx_modules_last_updated_utc"),
		},
		{
			Keys:    bson.D{{Key: "moduleState", Value: 1}},
			Options: options.Index().SetName("idx_modules_module_state"),
		},
	}

	_, err := collection.Indexes().CreateMany(ctx, indexes)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("failed to create indexes on %s: %w", collection.Name(), err)
	}
	return nil
}
