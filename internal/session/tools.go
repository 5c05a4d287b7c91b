package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/cheesyocean/voicedesk/domain/entities"
	"github.com/cheesyocean/voicedesk/domain/repositories"
	"github.com/cheesyocean/voicedesk/internal/scheduler"
)

// Tool names the model may invoke.
const (
	ToolPlaceOrder       = "placeOrder"
	ToolCheckOrderStatus = "checkOrderStatus"
)

// Canned checkOrderStatus replies. The tool is a conversational nicety and
// deliberately does not re-query the store.
const (
	statusReplyActive = "Order is in system. Check screen for status."
	statusReplyNone   = "No active order found."
)

// PlaceOrderArgs mirrors the placeOrder tool schema.
type PlaceOrderArgs struct {
	CustomerName        string   `json:"customerName" validate:"required"`
	Address             string   `json:"address" validate:"required"`
	WhatsappNumber      string   `json:"whatsappNumber" validate:"required"`
	Items               []string `json:"items" validate:"required,min=1,dive,required"`
	Total               float64  `json:"total" validate:"required,gt=0"`
	PaymentMethod       string   `json:"paymentMethod" validate:"required"`
	SpecialInstructions string   `json:"specialInstructions"`
}

// ToolDispatcher routes tool calls from the live conversation to business
// logic. Every invocation produces exactly one correlated response; the
// remote conversation stalls otherwise.
type ToolDispatcher struct {
	orders    repositories.OrderRepository
	scheduler *scheduler.RiderScheduler
	roster    []entities.Rider
	validate  *validator.Validate
	logger    *zap.Logger

	// onOrderPlaced fires only after the order is durably stored.
	onOrderPlaced func(entities.Order)

	now func() time.Time

	mu      sync.Mutex
	orderID string
}

// NewToolDispatcher creates a dispatcher bound to one session's roster.
func NewToolDispatcher(
	orders repositories.OrderRepository,
	riderScheduler *scheduler.RiderScheduler,
	roster []entities.Rider,
	onOrderPlaced func(entities.Order),
	logger *zap.Logger,
) *ToolDispatcher {
	return &ToolDispatcher{
		orders:        orders,
		scheduler:     riderScheduler,
		roster:        roster,
		validate:      validator.New(),
		logger:        logger,
		onOrderPlaced: onOrderPlaced,
		now:           time.Now,
	}
}

// Dispatch handles a batch of tool calls and returns the responses in call
// order.
func (d *ToolDispatcher) Dispatch(ctx context.Context, calls []repositories.ToolCall) []repositories.ToolResponse {
	responses := make([]repositories.ToolResponse, 0, len(calls))
	for _, call := range calls {
		responses = append(responses, repositories.ToolResponse{
			ID:     call.ID,
			Name:   call.Name,
			Result: d.dispatchOne(ctx, call),
		})
	}
	return responses
}

func (d *ToolDispatcher) dispatchOne(ctx context.Context, call repositories.ToolCall) string {
	switch call.Name {
	case ToolPlaceOrder:
		return d.handlePlaceOrder(ctx, call.Args)
	case ToolCheckOrderStatus:
		return d.handleCheckOrderStatus()
	default:
		d.logger.Warn("Unknown tool call", zap.String("tool", call.Name))
		return fmt.Sprintf("Unknown function %q.", call.Name)
	}
}

func (d *ToolDispatcher) handlePlaceOrder(ctx context.Context, rawArgs map[string]any) string {
	args, err := decodePlaceOrderArgs(rawArgs)
	if err == nil {
		err = d.validate.Struct(args)
	}
	if err != nil {
		d.logger.Warn("Rejecting placeOrder call", zap.Error(err))
		return "Order rejected: required details are missing."
	}
	if args.SpecialInstructions == "" {
		args.SpecialInstructions = "None"
	}

	assignment, err := d.scheduler.Assign(d.roster, len(args.Items))
	if err != nil {
		if errors.Is(err, scheduler.ErrNoRiders) {
			d.logger.Error("Order placement failed: no riders available")
			return "Order could not be placed: no riders are available."
		}
		d.logger.Error("Rider assignment failed", zap.Error(err))
		return "Order could not be placed right now."
	}

	now := d.now()
	expected := assignment.ExpectedDelivery
	order := entities.Order{
		CustomerName:         args.CustomerName,
		Address:              args.Address,
		WhatsappNumber:       args.WhatsappNumber,
		Items:                args.Items,
		Total:                args.Total,
		PaymentMethod:        args.PaymentMethod,
		SpecialInstructions:  args.SpecialInstructions,
		OrderTimestamp:       now,
		ExpectedDeliveryTime: &expected,
		AssignedRider:        assignment.Rider,
		Status:               entities.OrderStatusPlaced,
	}

	// Accepted by business logic is not the same as durably stored; only a
	// successful save triggers the order-placed side effects.
	id, err := d.orders.Save(ctx, &order)
	if err != nil {
		d.logger.Error("Failed to save order", zap.Error(err))
		return "Problem confirming order."
	}
	order.ID = id

	d.mu.Lock()
	d.orderID = id
	d.mu.Unlock()

	d.logger.Info("Order placed",
		zap.String("order_id", id),
		zap.String("rider", assignment.Rider.Name),
		zap.Time("expected_delivery", expected))

	if d.onOrderPlaced != nil {
		d.onOrderPlaced(order)
	}
	return "OK"
}

func (d *ToolDispatcher) handleCheckOrderStatus() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.orderID == "" {
		return statusReplyNone
	}
	return statusReplyActive
}

// OrderPlaced reports whether an order was committed during this session.
func (d *ToolDispatcher) OrderPlaced() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.orderID != ""
}

// OrderID returns the session-local order id, empty when none was placed.
func (d *ToolDispatcher) OrderID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.orderID
}

func decodePlaceOrderArgs(raw map[string]any) (*PlaceOrderArgs, error) {
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool arguments: %w", err)
	}
	var args PlaceOrderArgs
	if err := json.Unmarshal(encoded, &args); err != nil {
		return nil, fmt.Errorf("failed to decode placeOrder arguments: %w", err)
	}
	return &args, nil
}
