package main

import (
	"log"

	"lambda-route-proxy/internal/config"
	"lambda-route-proxy/internal/exampleapp"
	"lambda-route-proxy/pkg/lambda"
)

func main() {
	cfg, err := config.GetOptimizedConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	lambda.Start(exampleapp.NewRegistry(exampleapp.NewStore(), cfg.RateLimit))
}
