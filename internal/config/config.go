package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Authorizer kinds
const (
	AuthorizerNone = "none"
	AuthorizerHMAC = "hmac"
	AuthorizerJWKS = "jwks"
)

// Config holds all configuration for the dispatcher and its runtimes
type Config struct {
	Environment       string
	Stage             string
	Log               LogConfig
	RoutesFile        string
	SecurityConfigDir string
	Auth              AuthConfig
	RateLimit         RateLimitConfig
	DevServerPort     string
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level  string
	Format string // "json" or "text"
}

// AuthConfig selects and configures the route authorizer
type AuthConfig struct {
	Authorizer  string // "none", "hmac" or "jwks"
	JWTSecret   string
	Issuer      string
	Audience    string
	JWKSURL     string
	JWKSRefresh time.Duration
}

// RateLimitConfig holds the defaults of the rate limit step
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// Load loads configuration from environment variables and an optional .env file
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("STAGE", "dev")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("ROUTES_FILE", "routes.yaml")
	v.SetDefault("SECURITY_CONFIG_DIR", ".")
	v.SetDefault("AUTHORIZER", AuthorizerNone)
	v.SetDefault("JWKS_REFRESH", "15m")
	v.SetDefault("RATE_LIMIT_RPS", 10)
	v.SetDefault("RATE_LIMIT_BURST", 20)
	v.SetDefault("DEV_SERVER_PORT", "3000")

	config := &Config{
		Environment: v.GetString("ENVIRONMENT"),
		Stage:       v.GetString("STAGE"),
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: strings.ToLower(v.GetString("LOG_FORMAT")),
		},
		RoutesFile:        v.GetString("ROUTES_FILE"),
		SecurityConfigDir: v.GetString("SECURITY_CONFIG_DIR"),
		Auth: AuthConfig{
			Authorizer:  strings.ToLower(v.GetString("AUTHORIZER")),
			JWTSecret:   v.GetString("JWT_SECRET"),
			Issuer:      v.GetString("JWT_ISSUER"),
			Audience:    v.GetString("JWT_AUDIENCE"),
			JWKSURL:     v.GetString("JWKS_URL"),
			JWKSRefresh: v.GetDuration("JWKS_REFRESH"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: v.GetFloat64("RATE_LIMIT_RPS"),
			Burst:             v.GetInt("RATE_LIMIT_BURST"),
		},
		DevServerPort: v.GetString("DEV_SERVER_PORT"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks that the selected authorizer has what it needs
func (c *Config) Validate() error {
	switch c.Auth.Authorizer {
	case AuthorizerNone, "":
	case AuthorizerHMAC:
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("AUTHORIZER=hmac requires JWT_SECRET")
		}
	case AuthorizerJWKS:
		if c.Auth.JWKSURL == "" {
			return fmt.Errorf("AUTHORIZER=jwks requires JWKS_URL")
		}
	default:
		return fmt.Errorf("unknown AUTHORIZER %q, expected none, hmac or jwks", c.Auth.Authorizer)
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unknown LOG_FORMAT %q, expected json or text", c.Log.Format)
	}
	return nil
}

// GetEnv gets an environment variable with a fallback value
func GetEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// GetEnvAsInt gets an environment variable as integer with a fallback value
func GetEnvAsInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}
