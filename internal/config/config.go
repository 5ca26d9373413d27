package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Port        int
	JWTSecret   string
	DatabaseURL string
	CORSOrigins []string

	// Payment gateway settings.
	StripeAPIKey        string
	StripeWebhookSecret string
	// PlanPriceIDs maps plan IDs to gateway price IDs.
	PlanPriceIDs map[string]string
	// CheckoutSuccessURL / CheckoutCancelURL are where the gateway redirects
	// the tenant after a checkout session.
	CheckoutSuccessURL string
	CheckoutCancelURL  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	port, _ := strconv.Atoi(getEnv("PORT", "4001"))

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	dbURL := getEnv("DATABASE_URL", "")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	stripeKey := getEnv("STRIPE_API_KEY", "")
	if stripeKey == "" {
		return nil, fmt.Errorf("STRIPE_API_KEY is required")
	}

	webhookSecret := getEnv("STRIPE_WEBHOOK_SECRET", "")
	if webhookSecret == "" {
		return nil, fmt.Errorf("STRIPE_WEBHOOK_SECRET is required")
	}

	priceIDs := map[string]string{
		"starter":  getEnv("STRIPE_PRICE_STARTER", ""),
		"pro":      getEnv("STRIPE_PRICE_PRO", ""),
		"business": getEnv("STRIPE_PRICE_BUSINESS", ""),
	}
	for plan, id := range priceIDs {
		if id == "" {
			return nil, fmt.Errorf("STRIPE_PRICE_%s is required", strings.ToUpper(plan))
		}
	}

	origins := strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000,https://app.magnetlab.io"), ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}

	appURL := getEnv("APP_URL", "http://localhost:3000")

	return &Config{
		Port:                port,
		JWTSecret:           jwtSecret,
		DatabaseURL:         dbURL,
		CORSOrigins:         origins,
		StripeAPIKey:        stripeKey,
		StripeWebhookSecret: webhookSecret,
		PlanPriceIDs:        priceIDs,
		CheckoutSuccessURL:  getEnv("CHECKOUT_SUCCESS_URL", appURL+"/billing?checkout=success"),
		CheckoutCancelURL:   getEnv("CHECKOUT_CANCEL_URL", appURL+"/billing?checkout=canceled"),
	}, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
