package api

import (
	"time"

	"github.com/cheesyocean/voicedesk/domain/entities"
)

// AdminLoginRequest represents the request payload for admin authentication
type AdminLoginRequest struct {
	AdminKey string `json:"admin_key" validate:"required"`
}

// AdminLoginResponse represents the response payload for admin authentication
type AdminLoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// UpdateOrderStatusRequest carries a requested order status change.
type UpdateOrderStatusRequest struct {
	Status entities.OrderStatus `json:"status" validate:"required"`
}

// KeyStatusResponse reports whether a usable Gemini API key is configured.
type KeyStatusResponse struct {
	Present bool `json:"present"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
