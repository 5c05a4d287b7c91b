package api

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/cheesyocean/voicedesk/domain/entities"
	"github.com/cheesyocean/voicedesk/domain/repositories"
	"github.com/cheesyocean/voicedesk/internal/auth"
	"github.com/cheesyocean/voicedesk/internal/session"
	"github.com/cheesyocean/voicedesk/internal/websocket"
)

// Deps holds every collaborator the HTTP layer needs.
type Deps struct {
	Hub         *websocket.Hub
	Settings    repositories.SettingsRepository
	Orders      repositories.OrderRepository
	Auth        *auth.Manager
	Credentials *session.CredentialResolver
	ShopID      string
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, deps Deps, logger *zap.Logger) {
	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "voicedesk-server",
		})
	})

	// API v1 routes
	v1 := e.Group("/api/v1")

	v1.POST("/admin/login", func(c echo.Context) error {
		return adminLogin(c, deps, logger)
	})

	v1.GET("/settings", func(c echo.Context) error {
		return getSettings(c, deps, logger)
	})
	v1.PUT("/settings", requireAdmin(deps.Auth, logger, func(c echo.Context) error {
		return updateSettings(c, deps, logger)
	}))

	v1.GET("/orders", requireAdmin(deps.Auth, logger, func(c echo.Context) error {
		return listOrders(c, deps, logger)
	}))
	v1.GET("/orders/stream", requireAdmin(deps.Auth, logger, func(c echo.Context) error {
		return streamActiveOrders(c, deps, logger)
	}))
	v1.PATCH("/orders/:id/status", requireAdmin(deps.Auth, logger, func(c echo.Context) error {
		return updateOrderStatus(c, deps, logger)
	}))

	v1.GET("/gemini/status", func(c echo.Context) error {
		return c.JSON(http.StatusOK, KeyStatusResponse{Present: deps.Credentials.HasLocalKey()})
	})

	// Customer voice sessions
	e.GET("/ws", func(c echo.Context) error {
		return websocket.HandleWebSocket(deps.Hub, c, logger)
	})
}

// adminLogin exchanges the shop admin key for a short-lived JWT.
func adminLogin(c echo.Context, deps Deps, logger *zap.Logger) error {
	var req AdminLoginRequest
	if err := c.Bind(&req); err != nil {
		logger.Error("Failed to bind admin login request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}
	if req.AdminKey == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Admin key is required",
		})
	}

	settings, err := deps.Settings.Get(c.Request().Context())
	if err != nil {
		logger.Error("Failed to load settings for admin login", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to load shop settings",
		})
	}

	if subtle.ConstantTimeCompare([]byte(req.AdminKey), []byte(settings.ShopInfo.AdminKey)) != 1 {
		logger.Warn("Admin authentication failed")
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "authentication_failed",
			Message: "Invalid admin key",
		})
	}

	token, err := deps.Auth.GenerateAdminToken(deps.ShopID)
	if err != nil {
		logger.Error("Failed to generate admin token", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate authentication token",
		})
	}

	logger.Info("Admin authenticated successfully", zap.String("shop_id", deps.ShopID))
	return c.JSON(http.StatusOK, AdminLoginResponse{
		Token:     token,
		ExpiresAt: time.Now().Add(auth.AdminTokenTTL),
	})
}

// getSettings returns the shop configuration with the admin key stripped.
func getSettings(c echo.Context, deps Deps, logger *zap.Logger) error {
	settings, err := deps.Settings.Get(c.Request().Context())
	if err != nil {
		logger.Error("Failed to load settings", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to load shop settings",
		})
	}
	return c.JSON(http.StatusOK, settings.Public())
}

func updateSettings(c echo.Context, deps Deps, logger *zap.Logger) error {
	var incoming entities.Settings
	if err := c.Bind(&incoming); err != nil {
		logger.Error("Failed to bind settings update", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}
	if incoming.ShopInfo.Name == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Shop name is required",
		})
	}

	current, err := deps.Settings.Get(c.Request().Context())
	if err != nil {
		logger.Error("Failed to load settings", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to load shop settings",
		})
	}

	// The admin key never travels through this endpoint.
	incoming.ID = current.ID
	incoming.ShopInfo.AdminKey = current.ShopInfo.AdminKey

	if err := deps.Settings.Save(c.Request().Context(), &incoming); err != nil {
		logger.Error("Failed to save settings", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to save shop settings",
		})
	}

	logger.Info("Shop settings updated", zap.String("shop_id", deps.ShopID))
	return c.JSON(http.StatusOK, incoming.Public())
}

func listOrders(c echo.Context, deps Deps, logger *zap.Logger) error {
	orders, err := deps.Orders.History(c.Request().Context())
	if err != nil {
		logger.Error("Failed to load order history", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to load orders",
		})
	}
	return c.JSON(http.StatusOK, orders)
}

// streamActiveOrders pushes the active order set to the dashboard as
// server-sent events, one snapshot per change, until the client disconnects.
func streamActiveOrders(c echo.Context, deps Deps, logger *zap.Logger) error {
	ctx := c.Request().Context()

	snapshots := make(chan []entities.Order, 8)
	stop, err := deps.Orders.ListenActive(ctx, func(orders []entities.Order) {
		select {
		case snapshots <- orders:
		default:
			// The dashboard only needs the latest snapshot; drop when slow.
		}
	})
	if err != nil {
		logger.Error("Failed to open active order listener", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to stream orders",
		})
	}
	defer stop()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	for {
		select {
		case <-ctx.Done():
			return nil
		case orders := <-snapshots:
			payload, err := json.Marshal(orders)
			if err != nil {
				logger.Error("Failed to encode order snapshot", zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}

func updateOrderStatus(c echo.Context, deps Deps, logger *zap.Logger) error {
	orderID := c.Param("id")

	var req UpdateOrderStatusRequest
	if err := c.Bind(&req); err != nil {
		logger.Error("Failed to bind status update", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	order, err := deps.Orders.Get(c.Request().Context(), orderID)
	if err != nil {
		logger.Warn("Order not found for status update",
			zap.String("order_id", orderID), zap.Error(err))
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "order_not_found",
			Message: "Order not found",
		})
	}

	if !order.CanTransitionTo(req.Status) {
		return c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "invalid_transition",
			Message: "Order cannot move from " + string(order.Status) + " to " + string(req.Status),
		})
	}
	if req.Status == entities.OrderStatusCanceled && !order.CanCancelAt(time.Now()) {
		return c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "cancellation_window_closed",
			Message: "Orders can only be canceled within five minutes of placement",
		})
	}

	if err := deps.Orders.UpdateStatus(c.Request().Context(), orderID, req.Status); err != nil {
		logger.Error("Failed to update order status",
			zap.String("order_id", orderID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to update order status",
		})
	}

	order.Status = req.Status
	logger.Info("Order status updated",
		zap.String("order_id", orderID),
		zap.String("status", string(req.Status)))
	return c.JSON(http.StatusOK, order)
}

// requireAdmin validates the bearer token on admin-only endpoints.
func requireAdmin(manager *auth.Manager, logger *zap.Logger, next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		var token string
		authHeader := c.Request().Header.Get("Authorization")
		if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
			token = authHeader[7:]
		}
		if token == "" {
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "missing_token",
				Message: "JWT token is required in Authorization header",
			})
		}

		claims, err := manager.ValidateToken(token)
		if err != nil {
			logger.Warn("Admin request rejected: invalid token", zap.Error(err))
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "invalid_token",
				Message: "Invalid or expired JWT token",
			})
		}

		c.Set("shop_id", claims.ShopID)
		return next(c)
	}
}
