// Package config содержит логику чтения конфигурации сервиса fanpoints.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса fanpoints.
type Config struct {
	RunAddress         string `env:"RUN_ADDRESS"`
	DatabaseURI        string `env:"DATABASE_URI"`
	CatalogPath        string `env:"CATALOG_PATH"`
	FulfillmentAddress string `env:"FULFILLMENT_ADDRESS"`
	GatewaySecret      string `env:"GATEWAY_SECRET"`
	SweepTime          string `env:"SWEEP_TIME"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Значения переменных окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envCatalogPath := cfg.CatalogPath
	envFulfillmentAddress := cfg.FulfillmentAddress
	envGatewaySecret := cfg.GatewaySecret
	envSweepTime := cfg.SweepTime

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.CatalogPath, "c", "catalog.yaml", "path to catalog and rewards config")
	flag.StringVar(&cfg.FulfillmentAddress, "f", "", "fulfillment service address")
	flag.StringVar(&cfg.GatewaySecret, "s", "", "shared secret for gateway request signing")
	flag.StringVar(&cfg.SweepTime, "t", "00:05", "daily streak sweep time (UTC, HH:MM)")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envCatalogPath != "" {
		cfg.CatalogPath = envCatalogPath
	}
	if envFulfillmentAddress != "" {
		cfg.FulfillmentAddress = envFulfillmentAddress
	}
	if envGatewaySecret != "" {
		cfg.GatewaySecret = envGatewaySecret
	}
	if envSweepTime != "" {
		cfg.SweepTime = envSweepTime
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.SweepTime == "" {
		cfg.SweepTime = "00:05"
	}

	return cfg, nil
}
