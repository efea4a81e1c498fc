// Package config loads process configuration from the environment. Signing
// secrets are checked here, once, at startup: missing secret material is a
// fatal configuration error, never a per-call failure.
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"ghostcart/pkg/signature"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Config struct {
	// Store backend: memory, sqlite, or postgres.
	StoreBackend string
	SQLitePath   string
	DatabaseURL  string

	Port string

	// DemoMode accelerates monitoring and forces payment approval for
	// demonstrations.
	DemoMode bool

	// Landed-cost constants. The coordinator compares constraints against
	// price + tax + shipping, so these must match what carts are priced with.
	TaxRateBps        int64
	FlatShippingCents int64

	CheckInterval  time.Duration
	PriceDropDelay time.Duration
	CallTimeout    time.Duration
	Workers        int

	userSecret    string
	agentSecret   string
	paymentSecret string
}

// Load reads the environment. The three role secrets are required.
func Load() (*Config, error) {
	cfg := &Config{
		StoreBackend:      getenv("GHOSTCART_STORE", "sqlite"),
		SQLitePath:        getenv("GHOSTCART_SQLITE_PATH", "./ghostcart.db"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		Port:              getenv("SERVICE_PORT", "8000"),
		DemoMode:          getenvBool("GHOSTCART_DEMO_MODE", true),
		TaxRateBps:        800,
		FlatShippingCents: 1000,
		PriceDropDelay:    45 * time.Second,
		CallTimeout:       10 * time.Second,
		Workers:           getenvInt("GHOSTCART_WORKERS", 4),

		userSecret:    os.Getenv("GHOSTCART_USER_SECRET"),
		agentSecret:   os.Getenv("GHOSTCART_AGENT_SECRET"),
		paymentSecret: os.Getenv("GHOSTCART_PAYMENT_SECRET"),
	}

	if cfg.DemoMode {
		cfg.CheckInterval = 10 * time.Second
	} else {
		cfg.CheckInterval = 5 * time.Minute
	}

	for _, missing := range []struct{ name, value string }{
		{"GHOSTCART_USER_SECRET", cfg.userSecret},
		{"GHOSTCART_AGENT_SECRET", cfg.agentSecret},
		{"GHOSTCART_PAYMENT_SECRET", cfg.paymentSecret},
	} {
		if missing.value == "" {
			return nil, fmt.Errorf("%s is required", missing.name)
		}
	}
	return cfg, nil
}

// Keyring builds the role keyring from the loaded secrets.
func (c *Config) Keyring() (*signature.Keyring, error) {
	return signature.NewKeyring(c.userSecret, c.agentSecret, c.paymentSecret)
}

// ConnectPostgres opens the pool for the postgres backend.
func (c *Config) ConnectPostgres(ctx context.Context) (*pgxpool.Pool, error) {
	if c.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for the postgres store backend")
	}
	pc, err := pgxpool.ParseConfig(c.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	pc.MaxConns = 10
	pc.MinConns = 1
	pc.MaxConnLifetime = 30 * time.Minute
	pc.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
