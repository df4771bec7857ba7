// Package config provides configuration management for the portfolio monitor.
// It loads configuration from environment variables and .env files.
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
	Server    ServerConfig
	Database  DatabaseConfig
	RPC       RPCConfig
	PriceFeed PriceFeedConfig
	Monitor   MonitorConfig
	Executor  ExecutorConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// RPCConfig holds Ethereum RPC configuration
type RPCConfig struct {
	URL     string
	ChainID int64
}

// PriceFeedConfig holds price feed client configuration
type PriceFeedConfig struct {
	BaseURL           string
	RequestsPerSecond float64
	Burst             int
	CacheTTL          time.Duration
}

// TokenConfig describes one token the monitor tracks
type TokenConfig struct {
	Symbol          string
	ContractAddress string // empty for the native token
	Decimals        int
}

// MonitorConfig holds monitoring service configuration
type MonitorConfig struct {
	MarketInterval    time.Duration
	SweepInterval     time.Duration
	SnapshotTimeout   time.Duration
	DefaultAllocation map[string]float64
	Tokens            []TokenConfig
}

// ExecutorConfig holds rebalance execution configuration
type ExecutorConfig struct {
	PrivateKey string
	Network    string
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env file is optional - environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "portfolio_monitor"),
				User:           getEnv("POSTGRES_USER", "monitor"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "portfolio_monitor"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
		},
		RPC: RPCConfig{
			URL:     getEnv("RPC_URL", ""),
			ChainID: int64(getEnvAsInt("RPC_CHAIN_ID", 11155111)),
		},
		PriceFeed: PriceFeedConfig{
			BaseURL:           getEnv("PRICE_FEED_URL", "https://api.coingecko.com/api/v3"),
			RequestsPerSecond: getEnvAsFloat("PRICE_FEED_RPS", 0.5),
			Burst:             getEnvAsInt("PRICE_FEED_BURST", 2),
			CacheTTL:          getEnvAsDuration("PRICE_CACHE_TTL", 60*time.Second),
		},
		Monitor: MonitorConfig{
			MarketInterval:    getEnvAsDuration("MONITOR_MARKET_INTERVAL", 5*time.Minute),
			SweepInterval:     getEnvAsDuration("MONITOR_SWEEP_INTERVAL", time.Minute),
			SnapshotTimeout:   getEnvAsDuration("MONITOR_SNAPSHOT_TIMEOUT", 30*time.Second),
			DefaultAllocation: parseAllocation(getEnv("MONITOR_DEFAULT_ALLOCATION", "ETH:40,USDC:30,LINK:30")),
			Tokens:            loadTokenConfigs(),
		},
		Executor: ExecutorConfig{
			PrivateKey: getEnv("EXECUTOR_PRIVATE_KEY", ""),
			Network:    getEnv("EXECUTOR_NETWORK", "sepolia"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsInt("RATE_LIMIT_RPS", 10),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 20),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks configuration invariants that would otherwise surface
// as confusing runtime behavior.
func (c *Config) Validate() error {
	if c.Monitor.MarketInterval <= 0 {
		return fmt.Errorf("market interval must be positive, got %v", c.Monitor.MarketInterval)
	}
	if c.Monitor.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %v", c.Monitor.SweepInterval)
	}
	if c.Monitor.SnapshotTimeout <= 0 {
		return fmt.Errorf("snapshot timeout must be positive, got %v", c.Monitor.SnapshotTimeout)
	}
	if len(c.Monitor.DefaultAllocation) == 0 {
		return fmt.Errorf("default allocation must not be empty")
	}
	var sum float64
	for symbol, pct := range c.Monitor.DefaultAllocation {
		if pct < 0 {
			return fmt.Errorf("default allocation for %s cannot be negative", symbol)
		}
		sum += pct
	}
	if sum < 99.5 || sum > 100.5 {
		return fmt.Errorf("default allocation must sum to 100, got %.2f", sum)
	}
	if len(c.Monitor.Tokens) == 0 {
		return fmt.Errorf("at least one monitored token is required")
	}
	return nil
}

// loadTokenConfigs loads the monitored token set.
// Format: MONITOR_TOKENS=ETH,USDC,LINK with per-token
// <SYMBOL>_CONTRACT and <SYMBOL>_DECIMALS overrides.
func loadTokenConfigs() []TokenConfig {
	symbols := strings.Split(getEnv("MONITOR_TOKENS", "ETH,USDC,LINK"), ",")

	defaults := map[string]TokenConfig{
		"ETH":  {Symbol: "ETH", Decimals: 18},
		"USDC": {Symbol: "USDC", ContractAddress: "0x14A3Fb98C14759169f998155ba4c31d1393D6D7c", Decimals: 6},
		"LINK": {Symbol: "LINK", ContractAddress: "0x779877A7B0D9E8603169DdbD7836e478b4624789", Decimals: 18},
	}

	var tokens []TokenConfig
	for _, symbol := range symbols {
		symbol = strings.TrimSpace(strings.ToUpper(symbol))
		if symbol == "" {
			continue
		}

		token, ok := defaults[symbol]
		if !ok {
			token = TokenConfig{Symbol: symbol, Decimals: 18}
		}
		if contract := getEnv(symbol+"_CONTRACT", ""); contract != "" {
			token.ContractAddress = contract
		}
		if decimals := getEnvAsInt(symbol+"_DECIMALS", 0); decimals > 0 {
			token.Decimals = decimals
		}
		tokens = append(tokens, token)
	}

	return tokens
}

// parseAllocation parses "ETH:40,USDC:30,LINK:30" into a percentage map.
// Malformed entries are skipped.
func parseAllocation(raw string) map[string]float64 {
	allocation := make(map[string]float64)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, ":", 2)
		if len(kv) != 2 {
			continue
		}
		pct, err := strconv.ParseFloat(strings.TrimSpace(kv[1]), 64)
		if err != nil {
			continue
		}
		allocation[strings.TrimSpace(strings.ToUpper(kv[0]))] = pct
	}
	return allocation
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
