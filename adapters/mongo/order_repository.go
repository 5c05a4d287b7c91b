package mongo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/cheesyocean/voicedesk/domain/entities"
	"github.com/cheesyocean/voicedesk/domain/repositories"
)

// orderDocument is the persisted shape of an order.
type orderDocument struct {
	ID                   primitive.ObjectID   `bson:"_id,omitempty"`
	CustomerName         string               `bson:"customer_name"`
	Address              string               `bson:"address"`
	WhatsappNumber       string               `bson:"whatsapp_number"`
	Items                []string             `bson:"items"`
	Total                float64              `bson:"total"`
	PaymentMethod        string               `bson:"payment_method"`
	SpecialInstructions  string               `bson:"special_instructions"`
	OrderTimestamp       time.Time            `bson:"order_timestamp"`
	ExpectedDeliveryTime *time.Time           `bson:"expected_delivery_time,omitempty"`
	AssignedRider        entities.Rider       `bson:"assigned_rider"`
	Status               entities.OrderStatus `bson:"status"`
}

func (d *orderDocument) toEntity() entities.Order {
	return entities.Order{
		ID:                   d.ID.Hex(),
		CustomerName:         d.CustomerName,
		Address:              d.Address,
		WhatsappNumber:       d.WhatsappNumber,
		Items:                d.Items,
		Total:                d.Total,
		PaymentMethod:        d.PaymentMethod,
		SpecialInstructions:  d.SpecialInstructions,
		OrderTimestamp:       d.OrderTimestamp,
		ExpectedDeliveryTime: d.ExpectedDeliveryTime,
		AssignedRider:        d.AssignedRider,
		Status:               d.Status,
	}
}

type OrderRepository struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

// NewOrderRepository creates a MongoDB order repository
func NewOrderRepository(db *mongo.Database, logger *zap.Logger) repositories.OrderRepository {
	return &OrderRepository{
		collection: db.Collection("orders"),
		logger:     logger,
	}
}

// Save implements repositories.OrderRepository
func (r *OrderRepository) Save(ctx context.Context, order *entities.Order) (string, error) {
	if order == nil {
		return "", errors.New("order cannot be nil")
	}
	if err := order.Validate(); err != nil {
		return "", fmt.Errorf("invalid order: %w", err)
	}

	doc := orderDocument{
		CustomerName:         order.CustomerName,
		Address:              order.Address,
		WhatsappNumber:       order.WhatsappNumber,
		Items:                order.Items,
		Total:                order.Total,
		PaymentMethod:        order.PaymentMethod,
		SpecialInstructions:  order.SpecialInstructions,
		OrderTimestamp:       order.OrderTimestamp,
		ExpectedDeliveryTime: order.ExpectedDeliveryTime,
		AssignedRider:        order.AssignedRider,
		Status:               order.Status,
	}
	if doc.OrderTimestamp.IsZero() {
		doc.OrderTimestamp = time.Now()
	}

	result, err := r.collection.InsertOne(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("failed to save order: %w", err)
	}
	oid, ok := result.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", errors.New("unexpected inserted id type")
	}
	order.ID = oid.Hex()
	return order.ID, nil
}

// Get implements repositories.OrderRepository
func (r *OrderRepository) Get(ctx context.Context, id string) (*entities.Order, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("invalid order id %q: %w", id, err)
	}
	var doc orderDocument
	if err := r.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	order := doc.toEntity()
	return &order, nil
}

// UpdateStatus implements repositories.OrderRepository
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, status entities.OrderStatus) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("invalid order id %q: %w", id, err)
	}
	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": oid},
		bson.M{"$set": bson.M{"status": status}})
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("order %s not found", id)
	}
	return nil
}

// History implements repositories.OrderRepository
func (r *OrderRepository) History(ctx context.Context) ([]entities.Order, error) {
	opts := options.Find().SetSort(bson.D{{Key: "order_timestamp", Value: -1}})
	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query order history: %w", err)
	}
	defer cursor.Close(ctx)

	var orders []entities.Order
	for cursor.Next(ctx) {
		var doc orderDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode order: %w", err)
		}
		orders = append(orders, doc.toEntity())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("order history cursor: %w", err)
	}
	return orders, nil
}

var activeStatuses = []entities.OrderStatus{
	entities.OrderStatusPlaced,
	entities.OrderStatusPreparing,
	entities.OrderStatusOutForDelivery,
}

// ListenActive implements repositories.OrderRepository. It pushes the full
// active set immediately, then again after every change to the collection,
// oldest order first.
func (r *OrderRepository) ListenActive(ctx context.Context, fn func([]entities.Order)) (func(), error) {
	streamCtx, cancel := context.WithCancel(ctx)

	stream, err := r.collection.Watch(streamCtx, mongo.Pipeline{},
		options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to watch orders: %w", err)
	}

	push := func() {
		orders, err := r.activeOrders(streamCtx)
		if err != nil {
			if streamCtx.Err() == nil {
				r.logger.Error("Failed to load active orders", zap.Error(err))
			}
			return
		}
		fn(orders)
	}

	go func() {
		defer stream.Close(context.Background())
		push()
		for stream.Next(streamCtx) {
			push()
		}
		if err := stream.Err(); err != nil && streamCtx.Err() == nil {
			r.logger.Error("Active orders change stream ended", zap.Error(err))
		}
	}()

	return cancel, nil
}

// ListenOne implements repositories.OrderRepository
func (r *OrderRepository) ListenOne(ctx context.Context, id string, fn func(entities.Order)) (func(), error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("invalid order id %q: %w", id, err)
	}

	streamCtx, cancel := context.WithCancel(ctx)

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"documentKey._id": oid}}},
	}
	stream, err := r.collection.Watch(streamCtx, pipeline,
		options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to watch order %s: %w", id, err)
	}

	go func() {
		defer stream.Close(context.Background())
		for stream.Next(streamCtx) {
			var event struct {
				FullDocument orderDocument `bson:"fullDocument"`
			}
			if err := stream.Decode(&event); err != nil {
				r.logger.Error("Failed to decode order change", zap.Error(err))
				continue
			}
			if event.FullDocument.ID.IsZero() {
				continue
			}
			fn(event.FullDocument.toEntity())
		}
		if err := stream.Err(); err != nil && streamCtx.Err() == nil {
			r.logger.Error("Order change stream ended",
				zap.String("order_id", id), zap.Error(err))
		}
	}()

	return cancel, nil
}

func (r *OrderRepository) activeOrders(ctx context.Context) ([]entities.Order, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"status": bson.M{"$in": activeStatuses}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var orders []entities.Order
	for cursor.Next(ctx) {
		var doc orderDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		orders = append(orders, doc.toEntity())
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].OrderTimestamp.Before(orders[j].OrderTimestamp)
	})
	return orders, nil
}
