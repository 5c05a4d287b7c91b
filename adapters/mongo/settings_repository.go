package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/cheesyocean/voicedesk/domain/entities"
	"github.com/cheesyocean/voicedesk/domain/repositories"
)

const adminKeyLength = 12

type SettingsRepository struct {
	collection *mongo.Collection
	shopID     string
	shopName   string
	logger     *zap.Logger
}

// NewSettingsRepository creates a MongoDB settings repository scoped to one
// shop document.
func NewSettingsRepository(db *mongo.Database, shopID, shopName string, logger *zap.Logger) repositories.SettingsRepository {
	return &SettingsRepository{
		collection: db.Collection("settings"),
		shopID:     shopID,
		shopName:   shopName,
		logger:     logger,
	}
}

// Get implements repositories.SettingsRepository. A missing shop document is
// seeded from the default template with a freshly generated admin key.
func (r *SettingsRepository) Get(ctx context.Context) (*entities.Settings, error) {
	var settings entities.Settings
	err := r.collection.FindOne(ctx, bson.M{"_id": r.shopID}).Decode(&settings)
	if err == nil {
		return &settings, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	seeded := entities.DefaultSettings(r.shopName)
	seeded.ID = r.shopID
	key, err := entities.GenerateAdminKey(adminKeyLength)
	if err != nil {
		return nil, err
	}
	seeded.ShopInfo.AdminKey = key

	// Another instance may seed concurrently; treat a duplicate as someone
	// else having won and re-read.
	opts := options.Update().SetUpsert(true)
	if _, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": r.shopID},
		bson.M{"$setOnInsert": seeded},
		opts); err != nil {
		return nil, fmt.Errorf("failed to seed settings: %w", err)
	}

	// Key value deliberately not logged.
	r.logger.Info("Seeded default shop settings", zap.String("shop_id", r.shopID))

	if err := r.collection.FindOne(ctx, bson.M{"_id": r.shopID}).Decode(&settings); err != nil {
		return nil, fmt.Errorf("failed to reload settings: %w", err)
	}
	return &settings, nil
}

// Save implements repositories.SettingsRepository
func (r *SettingsRepository) Save(ctx context.Context, settings *entities.Settings) error {
	if settings == nil {
		return errors.New("settings cannot be nil")
	}
	settings.ID = r.shopID
	opts := options.Replace().SetUpsert(true)
	if _, err := r.collection.ReplaceOne(ctx, bson.M{"_id": r.shopID}, settings, opts); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}
