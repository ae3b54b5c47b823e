package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DBSource string
	Port     string
	Env      string

	PaymentURI         string
	PaymentShopID      string
	PaymentSecret      string
	PaymentCurrency    string
	PaymentMethodType  string
	RedirectURIBalance string
	RedirectURICart    string
	PaymentHTTPTimeout time.Duration
	DedupWindow        time.Duration
	PollInterval       time.Duration
	PollMaxFailures    int
	TxMaxRetries       int
	OTELEndpoint       string
}

func Load() (*Config, error) {
	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	paymentURI := os.Getenv("PAYMENT_URI")
	if paymentURI == "" {
		return nil, fmt.Errorf("PAYMENT_URI environment variable is required")
	}

	cfg := &Config{
		DBSource:           dbSource,
		Port:               getEnv("SERVER_PORT", "8080"),
		Env:                getEnv("ENVIRONMENT", "development"),
		PaymentURI:         paymentURI,
		PaymentShopID:      os.Getenv("PAYMENT_SHOP_ID"),
		PaymentSecret:      os.Getenv("PAYMENT_SECRET"),
		PaymentCurrency:    getEnv("PAYMENT_CURRENCY", "RUB"),
		PaymentMethodType:  getEnv("PAYMENT_METHOD_TYPE", "bank_card"),
		RedirectURIBalance: getEnv("PAYMENT_REDIRECT_URI_BALANCE", "http://localhost:8080/profile"),
		RedirectURICart:    getEnv("PAYMENT_REDIRECT_URI_CART", "http://localhost:8080/cart"),
		OTELEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	var err error
	if cfg.PaymentHTTPTimeout, err = getDuration("PAYMENT_HTTP_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.DedupWindow, err = getDuration("PAYMENT_DEDUP_WINDOW", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = getDuration("PAYMENT_POLL_INTERVAL", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.PollMaxFailures, err = getInt("PAYMENT_POLL_MAX_FAILURES", 3); err != nil {
		return nil, err
	}
	if cfg.TxMaxRetries, err = getInt("TX_MAX_RETRIES", 3); err != nil {
		return nil, err
	}

	if cfg.DedupWindow < time.Second {
		return nil, fmt.Errorf("PAYMENT_DEDUP_WINDOW must be at least 1s, got %s", cfg.DedupWindow)
	}
	if cfg.PollMaxFailures < 1 {
		return nil, fmt.Errorf("PAYMENT_POLL_MAX_FAILURES must be positive, got %d", cfg.PollMaxFailures)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
