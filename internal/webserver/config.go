package webserver

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/time/rate"
)

// WebserverConfig holds the configuration for the webserver.
type WebserverConfig struct {
	ListenTo           string
	CorsAllowedOrigins []string
	RateLimit          RateLimitConfig
	MetricsEnabled     bool
}

// RateLimitConfig defines the per-caller limit on mutating requests.
type RateLimitConfig struct {
	Rate  rate.Limit // Requests per second
	Burst int        // Maximum burst size
}

// NewWebserverConfig initializes the webserver configuration from environment variables.
func NewWebserverConfig() (*WebserverConfig, error) {
	config := &WebserverConfig{}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	config.ListenTo = ":" + port

	corsAllowedOrigins := os.Getenv("CORS_ALLOWED_ORIGINS")
	if corsAllowedOrigins != "" {
		config.CorsAllowedOrigins = strings.Split(corsAllowedOrigins, ",")
	}

	rateLimit, err := parseRateLimit(getEnv("RATE_LIMIT", "5:10"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse RATE_LIMIT: %w", err)
	}
	config.RateLimit = rateLimit

	config.MetricsEnabled, err = strconv.ParseBool(getEnv("METRICS_ENABLED", "true"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse METRICS_ENABLED: %w", err)
	}

	return config, nil
}

// parseRateLimit parses a rate:burst pair.
func parseRateLimit(input string) (RateLimitConfig, error) {
	parts := strings.Split(input, ":")
	if len(parts) != 2 {
		return RateLimitConfig{}, fmt.Errorf("invalid rate limit: %s", input)
	}
	rateValue, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil || rateValue <= 0 {
		return RateLimitConfig{}, fmt.Errorf("invalid rate value in %s", input)
	}
	burst, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || burst <= 0 {
		return RateLimitConfig{}, fmt.Errorf("invalid burst value in %s", input)
	}
	return RateLimitConfig{
		Rate:  rate.Limit(rateValue),
		Burst: burst,
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
