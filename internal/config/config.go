package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"wallet-engine/internal/validation"
)

// Config holds all configuration for the application
type Config struct {
	LogLevel   string
	LogJSON    bool
	MaxRetries int
	RetryDelay time.Duration
	HTTP       HTTPConfig
	Server     ServerConfig
	Kafka      KafkaConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Chain      ChainConfig
	Indexer    IndexerConfig
	Session    SessionConfig
}

// HTTPConfig holds HTTP client configuration
type HTTPConfig struct {
	Timeout time.Duration
}

// ServerConfig holds the wallet API listener configuration
type ServerConfig struct {
	Addr            string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

// KafkaConfig holds Kafka configuration
type KafkaConfig struct {
	Enabled       bool
	BrokerAddress string
	Topic         string
	BatchSize     int
	BatchTimeout  time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN returns the lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled    bool
	Host       string
	Port       int
	Password   string
	DB         int
	BalanceTTL time.Duration
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// ChainConfig holds configuration for the Ethereum RPC endpoint
type ChainConfig struct {
	RpcEndpoint       string
	ApiKey            string
	ExplorerBaseURL   string
	BlockPollInterval time.Duration
	GasLimit          uint64
}

// IndexerConfig holds configuration for the asset transfer indexer
type IndexerConfig struct {
	Endpoint  string
	ApiKey    string
	RateLimit float64
}

// SessionConfig holds configuration for the client wallet session
type SessionConfig struct {
	APIBaseURL          string
	UserID              string
	HistoryPollInterval time.Duration
	ConfirmationTimeout time.Duration
	CloseDelay          time.Duration
	ProvisionTimeout    time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// A missing .env is fine, the variables may be set externally.
	_ = godotenv.Load()

	config := &Config{
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		LogJSON:    getEnvAsBool("LOG_JSON", false),
		MaxRetries: getEnvAsInt("MAX_RETRIES", 1),
		RetryDelay: getEnvAsDuration("RETRY_DELAY", 5*time.Second),
		HTTP: HTTPConfig{
			Timeout: getEnvAsDuration("HTTP_TIMEOUT", 30*time.Second),
		},
		Server: ServerConfig{
			Addr:            getEnv("SERVER_ADDR", ":8080"),
			AllowedOrigins:  []string{getEnv("CORS_ALLOWED_ORIGIN", "*")},
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Kafka: KafkaConfig{
			Enabled:       getEnvAsBool("KAFKA_ENABLED", false),
			BrokerAddress: getEnv("KAFKA_BROKER_ADDRESS", "localhost:9092"),
			Topic:         getEnv("KAFKA_TOPIC", "wallet-transfers"),
			BatchSize:     getEnvAsInt("KAFKA_BATCH_SIZE", 10),
			BatchTimeout:  getEnvAsDuration("KAFKA_BATCH_TIMEOUT", 5*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "wallet"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Enabled:    getEnvAsBool("REDIS_ENABLED", false),
			Host:       getEnv("REDIS_HOST", "localhost"),
			Port:       getEnvAsInt("REDIS_PORT", 6379),
			Password:   getEnv("REDIS_PASSWORD", ""),
			DB:         getEnvAsInt("REDIS_DB", 0),
			BalanceTTL: getEnvAsDuration("REDIS_BALANCE_TTL", 10*time.Minute),
		},
		Chain: ChainConfig{
			RpcEndpoint:       getEnv("ETHEREUM_RPC_ENDPOINT", "https://ethereum-sepolia-rpc.publicnode.com"),
			ApiKey:            getEnv("ETHEREUM_API_KEY", ""),
			ExplorerBaseURL:   getEnv("ETHEREUM_EXPLORER_URL", "https://sepolia.etherscan.io/tx/"),
			BlockPollInterval: getEnvAsDuration("ETHEREUM_BLOCK_POLL_INTERVAL", 12*time.Second),
			GasLimit:          uint64(getEnvAsInt("ETHEREUM_GAS_LIMIT", 21000)),
		},
		Indexer: IndexerConfig{
			Endpoint:  getEnv("INDEXER_ENDPOINT", "https://eth-sepolia.g.alchemy.com/v2/"),
			ApiKey:    getEnv("INDEXER_API_KEY", ""),
			RateLimit: getEnvAsFloat("INDEXER_RATE_LIMIT", 4),
		},
		Session: SessionConfig{
			APIBaseURL:          getEnv("WALLET_API_URL", "http://localhost:8080"),
			UserID:              getEnv("WALLET_USER_ID", ""),
			HistoryPollInterval: getEnvAsDuration("HISTORY_POLL_INTERVAL", 15*time.Second),
			ConfirmationTimeout: getEnvAsDuration("CONFIRMATION_TIMEOUT", 5*time.Minute),
			CloseDelay:          getEnvAsDuration("TRANSFER_CLOSE_DELAY", 500*time.Millisecond),
			ProvisionTimeout:    getEnvAsDuration("PROVISION_TIMEOUT", 30*time.Second),
		},
	}

	urls := []struct {
		env      string
		value    string
		optional bool
	}{
		{env: "ETHEREUM_RPC_ENDPOINT", value: config.Chain.RpcEndpoint},
		{env: "ETHEREUM_EXPLORER_URL", value: config.Chain.ExplorerBaseURL, optional: true},
		{env: "WALLET_API_URL", value: config.Session.APIBaseURL},
		{env: "INDEXER_ENDPOINT", value: config.Indexer.Endpoint},
	}
	for _, u := range urls {
		if u.optional && u.value == "" {
			continue
		}
		if err := validation.ValidateURL(u.value); err != nil {
			return nil, fmt.Errorf("%s: %w", u.env, err)
		}
	}
	if config.Session.HistoryPollInterval <= 0 {
		return nil, fmt.Errorf("HISTORY_POLL_INTERVAL must be positive")
	}

	return config, nil
}

// URL is the indexer endpoint with the API key appended, the way
// Alchemy expects it.
func (c IndexerConfig) URL() string {
	return c.Endpoint + c.ApiKey
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as int or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsFloat gets an environment variable as float64 or returns a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("15s") or plain seconds ("15").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
