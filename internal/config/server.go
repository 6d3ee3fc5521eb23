// Package config provides configuration management for Quantiv.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Environment represents the deployment environment.
type Environment string

const (
	// EnvDevelopment is the default local development environment.
	EnvDevelopment Environment = "development"
	// EnvStaging is the staging/pre-production environment.
	EnvStaging Environment = "staging"
	// EnvProduction is the production environment.
	EnvProduction Environment = "production"
)

// ServerConfig holds issuance-server configuration loaded from environment
// variables.
type ServerConfig struct {
	Environment Environment
	Port        int

	// GitHub repository the installer assets are published under.
	GitHubOwner string
	GitHubRepo  string
	GitHubToken string

	// StateDB is the SQLite database path. Empty selects the in-memory
	// backend, which loses issued state on restart.
	StateDB string

	// AllowAnyAsset is accepted for compatibility with older deployments
	// but gates nothing; asset resolution always applies the matching rules.
	AllowAnyAsset bool

	// CORSOrigins lists allowed origins for the purchase-site frontend.
	// Empty allows any origin.
	CORSOrigins []string

	// Rate limiting and token cleanup for the public endpoints.
	RateLimit        int // requests per period (default: 60)
	RatePeriodSecs   int // period length in seconds (default: 60)
	TokenMaxAgeHrs   int // unused download token lifetime in hours (default: 72)
	TokenJanitorCron string
}

// LoadServerConfig reads server configuration from environment variables.
func LoadServerConfig() ServerConfig {
	env := Environment(os.Getenv("ENV"))
	switch env {
	case EnvDevelopment, EnvStaging, EnvProduction:
		// valid
	default:
		env = EnvDevelopment
	}

	port := getEnvInt("PORT", 8088)
	if port <= 0 || port > 65535 {
		port = 8088
	}

	rateLimit := getEnvInt("RATE_LIMIT", 60)
	if rateLimit <= 0 {
		rateLimit = 60
	}
	ratePeriod := getEnvInt("RATE_PERIOD_SECONDS", 60)
	if ratePeriod <= 0 {
		ratePeriod = 60
	}
	tokenMaxAge := getEnvInt("TOKEN_MAX_AGE_HOURS", 72)
	if tokenMaxAge <= 0 {
		tokenMaxAge = 72
	}

	janitorCron := os.Getenv("TOKEN_JANITOR_CRON")
	if janitorCron == "" {
		janitorCron = "@hourly"
	}

	return ServerConfig{
		Environment:      env,
		Port:             port,
		GitHubOwner:      getEnvDefault("GITHUB_OWNER", "quantivhq"),
		GitHubRepo:       getEnvDefault("GITHUB_REPO", "quantiv-app"),
		GitHubToken:      os.Getenv("GITHUB_TOKEN"),
		StateDB:          os.Getenv("STATE_DB"),
		AllowAnyAsset:    getEnvBool("ALLOW_ANY_ASSET", false),
		CORSOrigins:      splitList(os.Getenv("CORS_ORIGINS")),
		RateLimit:        rateLimit,
		RatePeriodSecs:   ratePeriod,
		TokenMaxAgeHrs:   tokenMaxAge,
		TokenJanitorCron: janitorCron,
	}
}

// getEnvDefault reads an environment variable, returning the default if unset.
func getEnvDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvBool reads a boolean from an environment variable, returning the default if unset or invalid.
func getEnvBool(key string, defaultVal bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultVal
	}
}

// getEnvInt reads an integer from an environment variable, returning the default if unset or invalid.
func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// splitList parses a comma-separated list, trimming whitespace and dropping
// empty entries.
func splitList(val string) []string {
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
