package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the process configuration, loaded from the environment with an
// optional .env file for development.
type Config struct {
	Port string `envconfig:"PORT" default:"8080"`

	GeminiAPIKey       string `envconfig:"GEMINI_API_KEY"`
	GeminiKeyStatusURL string `envconfig:"GEMINI_KEY_STATUS_URL"`
	GeminiModel        string `envconfig:"GEMINI_MODEL"`

	MongoURI      string `envconfig:"MONGODB_URI" default:"mongodb://localhost:27017"`
	MongoDatabase string `envconfig:"MONGODB_DATABASE" default:"voicedesk"`

	ShopID   string `envconfig:"SHOP_ID" default:"cheesy_occean"`
	ShopName string `envconfig:"SHOP_NAME" default:"Cheesy Occean Pizza"`

	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`
}

// Load reads configuration from the environment. A missing .env file is not
// an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return &cfg, nil
}
