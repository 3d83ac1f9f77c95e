// Package config loads server configuration from the environment.
// A .env file is honored in development; real environments set the
// variables directly.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the full server configuration.
type Config struct {
	Port   int    `env:"PORT" envDefault:"8080"`
	DBPath string `env:"DB_PATH" envDefault:"datavend.db"`

	// Fulfillment provider
	DataAPIURL string `env:"DATA_API_URL" envDefault:"https://api.datamartgh.shop"`
	DataAPIKey string `env:"DATA_API_KEY,required"`

	// Payment gateway
	PaystackURL       string `env:"PAYSTACK_URL" envDefault:"https://api.paystack.co"`
	PaystackSecretKey string `env:"PAYSTACK_SECRET_KEY,required"`

	// Where the hosted payment page sends the buyer afterwards.
	PaymentCallbackURL string `env:"PAYMENT_CALLBACK_URL" envDefault:"http://localhost:8080/payment-callback"`

	// CORS origins for the frontend, comma-separated.
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
}

// Load reads .env (if present) and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load() // missing .env is fine

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return &cfg, nil
}
