package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

var configEnvVars = []string{
	"ENVIRONMENT",
	"STAGE",
	"LOG_LEVEL",
	"LOG_FORMAT",
	"ROUTES_FILE",
	"SECURITY_CONFIG_DIR",
	"AUTHORIZER",
	"JWT_SECRET",
	"JWT_ISSUER",
	"JWT_AUDIENCE",
	"JWKS_URL",
	"JWKS_REFRESH",
	"RATE_LIMIT_RPS",
	"RATE_LIMIT_BURST",
	"DEV_SERVER_PORT",
}

// clearEnv unsets the configuration variables and restores them after the test
func clearEnv(t *testing.T) {
	t.Helper()
	originalEnv := make(map[string]string)
	for _, key := range configEnvVars {
		originalEnv[key] = os.Getenv(key)
		os.Unsetenv(key)
	}
	t.Cleanup(func() {
		for key, value := range originalEnv {
			if value != "" {
				os.Setenv(key, value)
			} else {
				os.Unsetenv(key)
			}
		}
	})
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		wantErr bool
		check   func(*testing.T, *Config)
	}{
		{
			name:    "default configuration",
			envVars: map[string]string{},
			check: func(t *testing.T, c *Config) {
				if c.Environment != "development" || c.Stage != "dev" {
					t.Errorf("unexpected environment %q stage %q", c.Environment, c.Stage)
				}
				if c.Auth.Authorizer != AuthorizerNone {
					t.Errorf("Expected default authorizer none, got %s", c.Auth.Authorizer)
				}
				if c.Auth.JWKSRefresh != 15*time.Minute {
					t.Errorf("Expected JWKS refresh 15m, got %v", c.Auth.JWKSRefresh)
				}
				if c.RoutesFile != "routes.yaml" || c.SecurityConfigDir != "." {
					t.Errorf("unexpected file locations %q %q", c.RoutesFile, c.SecurityConfigDir)
				}
				if c.RateLimit.RequestsPerSecond != 10 || c.RateLimit.Burst != 20 {
					t.Errorf("unexpected rate limit %+v", c.RateLimit)
				}
				if c.DevServerPort != "3000" {
					t.Errorf("Expected port 3000, got %s", c.DevServerPort)
				}
			},
		},
		{
			name: "custom configuration",
			envVars: map[string]string{
				"AUTHORIZER":       "HMAC",
				"JWT_SECRET":       "s3cret",
				"JWT_ISSUER":       "issuer",
				"LOG_FORMAT":       "JSON",
				"LOG_LEVEL":        "debug",
				"RATE_LIMIT_RPS":   "2.5",
				"RATE_LIMIT_BURST": "5",
				"JWKS_REFRESH":     "1h",
			},
			check: func(t *testing.T, c *Config) {
				if c.Auth.Authorizer != AuthorizerHMAC || c.Auth.JWTSecret != "s3cret" || c.Auth.Issuer != "issuer" {
					t.Errorf("unexpected auth config %+v", c.Auth)
				}
				if c.Log.Format != "json" || c.Log.Level != "debug" {
					t.Errorf("unexpected log config %+v", c.Log)
				}
				if c.RateLimit.RequestsPerSecond != 2.5 || c.RateLimit.Burst != 5 {
					t.Errorf("unexpected rate limit %+v", c.RateLimit)
				}
				if c.Auth.JWKSRefresh != time.Hour {
					t.Errorf("Expected JWKS refresh 1h, got %v", c.Auth.JWKSRefresh)
				}
			},
		},
		{
			name:    "hmac without secret",
			envVars: map[string]string{"AUTHORIZER": "hmac"},
			wantErr: true,
		},
		{
			name:    "jwks without url",
			envVars: map[string]string{"AUTHORIZER": "jwks"},
			wantErr: true,
		},
		{
			name:    "unknown authorizer",
			envVars: map[string]string{"AUTHORIZER": "oauth"},
			wantErr: true,
		},
		{
			name:    "unknown log format",
			envVars: map[string]string{"LOG_FORMAT": "xml"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for key, value := range tt.envVars {
				os.Setenv(key, value)
			}

			config, err := Load()
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			tt.check(t, config)
		})
	}
}

func TestAdaptForLambda(t *testing.T) {
	config := &Config{
		Stage:             "dev",
		Log:               LogConfig{Format: "text"},
		RoutesFile:        "routes.yaml",
		SecurityConfigDir: ".",
	}

	adapted := adaptForLambda(config, &ServerlessConfig{IsLambda: true, Stage: "prod", TaskRoot: "/var/task"})

	if adapted.Log.Format != "json" {
		t.Errorf("Expected json logs in Lambda, got %s", adapted.Log.Format)
	}
	if adapted.RoutesFile != "/var/task/routes.yaml" {
		t.Errorf("Expected routes file under task root, got %s", adapted.RoutesFile)
	}
	if adapted.SecurityConfigDir != "/var/task" {
		t.Errorf("Expected security dir /var/task, got %s", adapted.SecurityConfigDir)
	}
	if adapted.Stage != "prod" {
		t.Errorf("Expected stage prod, got %s", adapted.Stage)
	}

	abs := adaptForLambda(&Config{RoutesFile: "/etc/routes.yaml", SecurityConfigDir: "/etc"}, &ServerlessConfig{TaskRoot: "/var/task"})
	if abs.RoutesFile != "/etc/routes.yaml" || abs.SecurityConfigDir != "/etc" {
		t.Errorf("absolute locations must be kept: %+v", abs)
	}
}

func TestNewLogger(t *testing.T) {
	logger := NewLogger(LogConfig{Level: "warn", Format: "json"})
	if logger.GetLevel() != logrus.WarnLevel {
		t.Errorf("Expected warn level, got %v", logger.GetLevel())
	}
	if _, ok := logger.Formatter.(*logrus.JSONFormatter); !ok {
		t.Errorf("Expected JSON formatter, got %T", logger.Formatter)
	}

	logger = NewLogger(LogConfig{Level: "verbose"})
	if logger.GetLevel() != logrus.InfoLevel {
		t.Errorf("Expected info level fallback, got %v", logger.GetLevel())
	}
}

func TestGetEnvHelpers(t *testing.T) {
	os.Setenv("CONFIG_TEST_INT", "42")
	defer os.Unsetenv("CONFIG_TEST_INT")

	if got := GetEnvAsInt("CONFIG_TEST_INT", 1); got != 42 {
		t.Errorf("GetEnvAsInt = %d", got)
	}
	if got := GetEnvAsInt("CONFIG_TEST_MISSING", 7); got != 7 {
		t.Errorf("GetEnvAsInt fallback = %d", got)
	}
	if got := GetEnv("CONFIG_TEST_MISSING", "fallback"); got != "fallback" {
		t.Errorf("GetEnv fallback = %s", got)
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}
