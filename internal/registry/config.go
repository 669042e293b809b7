package registry

import (
	"fmt"
	"os"
	"strings"
)

// Config holds the registry configuration.
type Config struct {
	// Owner is the identity that creates the registry.
	Owner string
}

// LoadConfig reads the registry configuration from environment variables.
func LoadConfig() (*Config, error) {
	owner := strings.TrimSpace(os.Getenv("REGISTRY_OWNER"))
	if owner == "" {
		return nil, fmt.Errorf("REGISTRY_OWNER is required")
	}
	return &Config{Owner: owner}, nil
}
