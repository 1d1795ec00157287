package relay

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds relay configuration.
type Config struct {
	// Addr is the listen address for the HTTP(S) server.
	Addr string
	// Debug enables verbose logging and gin debug mode.
	Debug bool
	// AllowedOrigins is the CORS allow-list for the HTTP surface.
	AllowedOrigins []string
}

// Overrides optionally overrides values from environment variables.
//
// A nil pointer means "use the environment/default value".
type Overrides struct {
	Addr  *string
	Debug *bool
}

// LoadConfig loads relay configuration from environment variables and
// applies any explicit overrides.
func LoadConfig(overrides Overrides) (*Config, error) {
	port := 8080
	if portStr := os.Getenv("PORT"); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT %q: %w", portStr, err)
		}
		port = p
	}

	addr := fmt.Sprintf(":%d", port)
	if overrides.Addr != nil {
		addr = *overrides.Addr
	}

	debug := false
	if debugStr := os.Getenv("DEBUG"); debugStr == "true" || debugStr == "1" {
		debug = true
	}
	if overrides.Debug != nil {
		debug = *overrides.Debug
	}

	return &Config{
		Addr:           addr,
		Debug:          debug,
		AllowedOrigins: []string{"*"}, // Self-hosted relay: allow all origins.
	}, nil
}
