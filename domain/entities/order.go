package entities

import (
	"errors"
	"time"
)

// OrderStatus represents the lifecycle status of an order
type OrderStatus string

const (
	OrderStatusPlaced         OrderStatus = "Order Placed"
	OrderStatusPreparing      OrderStatus = "Preparing"
	OrderStatusOutForDelivery OrderStatus = "Out for Delivery"
	OrderStatusDelivered      OrderStatus = "Delivered"
	OrderStatusCanceled       OrderStatus = "Canceled"
)

// CancellationWindow is how long after placement a customer may cancel.
const CancellationWindow = 5 * time.Minute

// statusRank orders the forward delivery sequence. Canceled sits outside it.
var statusRank = map[OrderStatus]int{
	OrderStatusPlaced:         0,
	OrderStatusPreparing:      1,
	OrderStatusOutForDelivery: 2,
	OrderStatusDelivered:      3,
}

// Rider identifies a delivery rider on the roster.
type Rider struct {
	Name   string `json:"name" bson:"name"`
	Number string `json:"number" bson:"number"`
}

// Key returns the identity used by the availability table.
func (r Rider) Key() string {
	return r.Name + "/" + r.Number
}

// Order represents a customer order taken over a voice session
type Order struct {
	ID                   string      `json:"id" bson:"_id,omitempty"`
	CustomerName         string      `json:"customerName" bson:"customer_name"`
	Address              string      `json:"address" bson:"address"`
	WhatsappNumber       string      `json:"whatsappNumber" bson:"whatsapp_number"`
	Items                []string    `json:"items" bson:"items"`
	Total                float64     `json:"total" bson:"total"`
	PaymentMethod        string      `json:"paymentMethod" bson:"payment_method"`
	SpecialInstructions  string      `json:"specialInstructions" bson:"special_instructions"`
	OrderTimestamp       time.Time   `json:"orderTimestamp" bson:"order_timestamp"`
	ExpectedDeliveryTime *time.Time  `json:"expectedDeliveryTime" bson:"expected_delivery_time,omitempty"`
	AssignedRider        Rider       `json:"assignedRider" bson:"assigned_rider"`
	Status               OrderStatus `json:"status" bson:"status"`
}

// IsTerminal reports whether the order has reached a final status.
func (o *Order) IsTerminal() bool {
	return o.Status == OrderStatusDelivered || o.Status == OrderStatusCanceled
}

// IsActive reports whether the order still needs kitchen or rider attention.
func (o *Order) IsActive() bool {
	return !o.IsTerminal()
}

// CanCancelAt reports whether the customer may still cancel at the given time.
// Cancellation is only allowed from Placed, within the cancellation window.
func (o *Order) CanCancelAt(now time.Time) bool {
	return o.Status == OrderStatusPlaced && now.Sub(o.OrderTimestamp) < CancellationWindow
}

// CanTransitionTo validates a status change. The delivery sequence only moves
// forward; Canceled is reachable from Placed only.
func (o *Order) CanTransitionTo(next OrderStatus) bool {
	if next == OrderStatusCanceled {
		return o.Status == OrderStatusPlaced
	}
	from, ok := statusRank[o.Status]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to > from
}

// Validate validates the order data before persistence.
func (o *Order) Validate() error {
	if o.CustomerName == "" {
		return errors.New("customer name is required")
	}
	if o.Address == "" {
		return errors.New("address is required")
	}
	if o.WhatsappNumber == "" {
		return errors.New("whatsapp number is required")
	}
	if len(o.Items) == 0 {
		return errors.New("at least one item is required")
	}
	if o.Total <= 0 {
		return errors.New("total must be positive")
	}
	if o.PaymentMethod == "" {
		return errors.New("payment method is required")
	}
	return nil
}
