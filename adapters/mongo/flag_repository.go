package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/cheesyocean/voicedesk/domain/entities"
	"github.com/cheesyocean/voicedesk/domain/repositories"
)

// flagDocument holds one client's durable flags.
type flagDocument struct {
	ClientID     string          `bson:"_id"`
	BannedUntil  *time.Time      `bson:"banned_until,omitempty"`
	CurrentOrder *entities.Order `bson:"current_order,omitempty"`
}

type ClientFlagRepository struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

// NewClientFlagRepository creates a MongoDB client flag repository
func NewClientFlagRepository(db *mongo.Database, logger *zap.Logger) repositories.ClientFlagRepository {
	return &ClientFlagRepository{
		collection: db.Collection("client_flags"),
		logger:     logger,
	}
}

// BannedUntil implements repositories.ClientFlagRepository
func (r *ClientFlagRepository) BannedUntil(ctx context.Context, clientID string) (time.Time, error) {
	doc, err := r.get(ctx, clientID)
	if err != nil {
		return time.Time{}, err
	}
	if doc == nil || doc.BannedUntil == nil {
		return time.Time{}, nil
	}
	return *doc.BannedUntil, nil
}

// SetBannedUntil implements repositories.ClientFlagRepository
func (r *ClientFlagRepository) SetBannedUntil(ctx context.Context, clientID string, until time.Time) error {
	return r.upsert(ctx, clientID, bson.M{"$set": bson.M{"banned_until": until}})
}

// CurrentOrder implements repositories.ClientFlagRepository
func (r *ClientFlagRepository) CurrentOrder(ctx context.Context, clientID string) (*entities.Order, error) {
	doc, err := r.get(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}
	return doc.CurrentOrder, nil
}

// SetCurrentOrder implements repositories.ClientFlagRepository
func (r *ClientFlagRepository) SetCurrentOrder(ctx context.Context, clientID string, order *entities.Order) error {
	if order == nil {
		return errors.New("order cannot be nil")
	}
	return r.upsert(ctx, clientID, bson.M{"$set": bson.M{"current_order": order}})
}

// ClearCurrentOrder implements repositories.ClientFlagRepository
func (r *ClientFlagRepository) ClearCurrentOrder(ctx context.Context, clientID string) error {
	return r.upsert(ctx, clientID, bson.M{"$unset": bson.M{"current_order": ""}})
}

func (r *ClientFlagRepository) get(ctx context.Context, clientID string) (*flagDocument, error) {
	var doc flagDocument
	err := r.collection.FindOne(ctx, bson.M{"_id": clientID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load client flags: %w", err)
	}
	return &doc, nil
}

func (r *ClientFlagRepository) upsert(ctx context.Context, clientID string, update bson.M) error {
	opts := options.Update().SetUpsert(true)
	if _, err := r.collection.UpdateOne(ctx, bson.M{"_id": clientID}, update, opts); err != nil {
		return fmt.Errorf("failed to update client flags: %w", err)
	}
	return nil
}
