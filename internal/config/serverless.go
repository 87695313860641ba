package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
)

// ServerlessConfig holds serverless-specific configuration
type ServerlessConfig struct {
	IsLambda     bool
	FunctionName string
	Region       string
	Stage        string
	TaskRoot     string
	MemoryMB     int
}

// Global serverless configuration
var (
	serverlessConfig *ServerlessConfig
	serverlessOnce   sync.Once
)

// GetServerlessConfig returns the serverless configuration
func GetServerlessConfig() *ServerlessConfig {
	serverlessOnce.Do(func() {
		serverlessConfig = &ServerlessConfig{
			IsLambda:     isRunningInLambda(),
			FunctionName: os.Getenv("AWS_LAMBDA_FUNCTION_NAME"),
			Region:       os.Getenv("AWS_REGION"),
			Stage:        GetEnv("STAGE", "dev"),
			TaskRoot:     os.Getenv("LAMBDA_TASK_ROOT"),
			MemoryMB:     GetEnvAsInt("AWS_LAMBDA_FUNCTION_MEMORY_SIZE", 0),
		}
	})
	return serverlessConfig
}

// isRunningInLambda detects if the application is running in AWS Lambda
func isRunningInLambda() bool {
	return os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != ""
}

// IsServerlessMode returns true if running in serverless mode
func IsServerlessMode() bool {
	return GetServerlessConfig().IsLambda
}

// GetDeploymentMode returns the current deployment mode
func GetDeploymentMode() string {
	if IsServerlessMode() {
		return "serverless"
	}
	return "server"
}

// AdaptConfigForServerless modifies configuration for serverless deployment
func AdaptConfigForServerless(ctx context.Context, config *Config) *Config {
	if !IsServerlessMode() {
		return config
	}
	return adaptForLambda(config, GetServerlessConfig())
}

func adaptForLambda(config *Config, sc *ServerlessConfig) *Config {
	// CloudWatch indexes JSON log lines
	config.Log.Format = "json"

	// Relative paths resolve against the deployment package, not the cwd
	if sc.TaskRoot != "" {
		if config.SecurityConfigDir == "." {
			config.SecurityConfigDir = sc.TaskRoot
		}
		if config.RoutesFile != "" && !filepath.IsAbs(config.RoutesFile) {
			config.RoutesFile = filepath.Join(sc.TaskRoot, config.RoutesFile)
		}
	}

	if sc.Stage != "" {
		config.Stage = sc.Stage
	}
	return config
}

// GetOptimizedConfig returns configuration optimized for the current deployment mode
func GetOptimizedConfig() (*Config, error) {
	config, err := Load()
	if err != nil {
		return nil, err
	}

	// Apply serverless adaptations if needed
	config = AdaptConfigForServerless(context.Background(), config)

	return config, nil
}
