package repositories

import (
	"context"

	"github.com/cheesyocean/voicedesk/domain/entities"
)

// OrderRepository persists orders and streams their changes.
type OrderRepository interface {
	// Save stores a new order and returns its generated identifier.
	Save(ctx context.Context, order *entities.Order) (string, error)

	// Get fetches one order by id.
	Get(ctx context.Context, id string) (*entities.Order, error)

	// UpdateStatus sets the status of an existing order.
	UpdateStatus(ctx context.Context, id string, status entities.OrderStatus) error

	// History returns all orders, newest first.
	History(ctx context.Context) ([]entities.Order, error)

	// ListenActive pushes the current set of active orders (Placed,
	// Preparing, Out for Delivery), oldest first, on every change. The
	// returned stop function cancels the listener and is safe to call more
	// than once.
	ListenActive(ctx context.Context, fn func([]entities.Order)) (stop func(), err error)

	// ListenOne pushes updates for a single order until stopped.
	ListenOne(ctx context.Context, id string, fn func(entities.Order)) (stop func(), err error)
}
