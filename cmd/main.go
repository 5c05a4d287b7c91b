package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/cheesyocean/voicedesk/adapters/gemini"
	"github.com/cheesyocean/voicedesk/adapters/mongo"
	"github.com/cheesyocean/voicedesk/internal/api"
	"github.com/cheesyocean/voicedesk/internal/auth"
	"github.com/cheesyocean/voicedesk/internal/config"
	"github.com/cheesyocean/voicedesk/internal/scheduler"
	"github.com/cheesyocean/voicedesk/internal/session"
	"github.com/cheesyocean/voicedesk/internal/websocket"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Initialize adapters
	db, err := mongo.NewClient(cfg.MongoURI, cfg.MongoDatabase, logger)
	if err != nil {
		logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
	}

	dialer, err := gemini.NewDialer(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModel, logger)
	if err != nil {
		logger.Fatal("Failed to create Gemini dialer", zap.Error(err))
	}

	orders := mongo.NewOrderRepository(db.Database, logger)
	settings := mongo.NewSettingsRepository(db.Database, cfg.ShopID, cfg.ShopName, logger)
	flags := mongo.NewClientFlagRepository(db.Database, logger)

	riders := scheduler.NewRiderScheduler(logger)
	credentials := session.NewCredentialResolver(cfg.GeminiAPIKey, cfg.GeminiKeyStatusURL, logger)
	jwtManager := auth.NewManager(cfg.JWTSecret)

	// Initialize WebSocket hub for customer voice sessions
	hub := websocket.NewHub(websocket.Deps{
		Dialer:      dialer,
		Settings:    settings,
		Orders:      orders,
		Flags:       flags,
		Scheduler:   riders,
		Credentials: credentials,
	}, logger)
	go hub.Run()

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Initialize API routes
	api.InitRoutes(e, api.Deps{
		Hub:         hub,
		Settings:    settings,
		Orders:      orders,
		Auth:        jwtManager,
		Credentials: credentials,
		ShopID:      cfg.ShopID,
	}, logger)

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Server started",
		zap.String("port", cfg.Port),
		zap.String("shop_id", cfg.ShopID))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}
	if err := db.Close(ctx); err != nil {
		logger.Error("Failed to close MongoDB connection", zap.Error(err))
	}

	logger.Info("Server exited")
}
