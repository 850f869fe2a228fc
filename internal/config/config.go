// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Ledger settings
	RPCURL            string
	ChainID           int64
	CashTokenContract string // ERC-20 cash token address
	SecTokenContract  string // ERC-20 securities token address
	OracleTimeout     time.Duration
	OracleMaxAttempts int

	// Validation pipeline settings
	InitialRiskThreshold float64  // Notional cutoff in human units (base-unit values auto-normalized)
	Blacklist            []string // Party addresses blocked by compliance
	LearningEnabled      bool
	ContextStageEnabled  bool

	// Fraud classifier
	MLEnabled bool
	ModelPath string // JSON model artifact (weights + scaler + threshold)

	// Advisory reasoner
	AdvisorEnabled bool
	AdvisorURL     string
	AdvisorTimeout time.Duration

	// Security
	AdminSecret  string
	RateLimitRPS int

	// Tracing
	OTLPEndpoint string
}

// Defaults
const (
	DefaultRPCURL        = "http://127.0.0.1:8545"
	DefaultChainID       = 31337 // local anvil/hardhat
	DefaultPort          = "8080"
	DefaultEnv           = "development"
	DefaultLogLevel      = "info"
	DefaultModelPath     = "fraud_model.json"
	DefaultRateLimit     = 100
	DefaultRiskThreshold = 1000 // human units of the cash token

	DefaultOracleTimeout  = 5 * time.Second
	DefaultAdvisorTimeout = 10 * time.Second
)

// tokenDecimals is the ERC-20 decimal scale used when a threshold is
// supplied in base units rather than human units.
const tokenDecimals = 1e18

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", DefaultPort),
		Env:                  getEnv("ENV", DefaultEnv),
		LogLevel:             getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:          os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		RPCURL:               getEnv("RPC_URL", DefaultRPCURL),
		ChainID:              getEnvInt64("CHAIN_ID", DefaultChainID),
		CashTokenContract:    os.Getenv("CASH_TOKEN_CONTRACT"),
		SecTokenContract:     os.Getenv("SEC_TOKEN_CONTRACT"),
		OracleTimeout:        getEnvDuration("ORACLE_TIMEOUT", DefaultOracleTimeout),
		OracleMaxAttempts:    int(getEnvInt64("ORACLE_MAX_ATTEMPTS", 2)),
		InitialRiskThreshold: NormalizeThreshold(getEnvFloat("RISK_THRESHOLD", DefaultRiskThreshold)),
		Blacklist:            splitList(os.Getenv("COMPLIANCE_BLACKLIST")),
		LearningEnabled:      getEnvBool("LEARNING_ENABLED", true),
		ContextStageEnabled:  getEnvBool("CONTEXT_STAGE_ENABLED", true),
		MLEnabled:            getEnvBool("ML_FRAUD_DETECTION", true),
		ModelPath:            getEnv("ML_MODEL_PATH", DefaultModelPath),
		AdvisorEnabled:       getEnvBool("ADVISOR_ENABLED", false),
		AdvisorURL:           os.Getenv("ADVISOR_URL"),
		AdvisorTimeout:       getEnvDuration("ADVISOR_TIMEOUT", DefaultAdvisorTimeout),
		AdminSecret:          os.Getenv("ADMIN_SECRET"),
		RateLimitRPS:         int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("RPC_URL is required")
	}
	if c.CashTokenContract == "" {
		return fmt.Errorf("CASH_TOKEN_CONTRACT is required")
	}
	if c.SecTokenContract == "" {
		return fmt.Errorf("SEC_TOKEN_CONTRACT is required")
	}
	if c.InitialRiskThreshold <= 0 {
		return fmt.Errorf("RISK_THRESHOLD must be positive")
	}
	if c.AdvisorEnabled && c.AdvisorURL == "" {
		return fmt.Errorf("ADVISOR_URL is required when ADVISOR_ENABLED is set")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// NormalizeThreshold converts a threshold given in 18-decimal base units
// to human units. Operators sometimes paste raw on-chain values; anything
// above 1e9 is assumed to be base units.
func NormalizeThreshold(v float64) float64 {
	if v > 1e9 {
		return v / tokenDecimals
	}
	return v
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
