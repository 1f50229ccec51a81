package config

import (
	"fmt"
	"time"

	"sealedchat-backend/pkg/e2ee"
	"sealedchat-backend/pkg/env"
)

// Config holds all configuration for the relay
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Cassandra CassandraConfig
	JWT       JWTConfig
	Log       LogConfig
	Chat      ChatConfig
	Crypto    CryptoConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port            int
	Environment     string // development, staging, production
	ServiceName     string
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds CockroachDB configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host        string
	Port        int
	Password    string
	DB          int
	PoolSize    int
	Timeout     time.Duration
	PresenceTTL time.Duration
	TypingTTL   time.Duration
}

// CassandraConfig holds Cassandra configuration
type CassandraConfig struct {
	Hosts       []string
	Keyspace    string
	Username    string
	Password    string
	Consistency string
	Timeout     time.Duration
	Migrate     bool
}

// JWTConfig holds JWT verification configuration. Tokens are issued elsewhere.
type JWTConfig struct {
	Secret            string
	AccessTokenExpiry time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level    string // debug, info, warn, error
	Format   string // json, console
	Output   string // stdout, file
	FilePath string
}

// ChatConfig holds relay behaviour limits
type ChatConfig struct {
	MaxGroupParticipants int
	DeleteForAllWindow   time.Duration
	HistoryPageSize      int
	HistoryMaxPageSize   int
	UnreadScanLimit      int
}

// CryptoConfig holds client key parameters
type CryptoConfig struct {
	RSABits          int
	PBKDF2Iterations int
	SaltContext      string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            env.GetInt("PORT", 8082),
			Environment:     env.GetString("ENV", "development"),
			ServiceName:     env.GetString("SERVICE_NAME", "chat-service"),
			ShutdownTimeout: env.GetDuration("SHUTDOWN_TIMEOUT", 5*time.Second),
		},
		Database: DatabaseConfig{
			Host:     env.GetString("DB_HOST", "localhost"),
			Port:     env.GetInt("DB_PORT", 26257),
			User:     env.GetString("DB_USER", "root"),
			Password: env.GetStringFromFile("DB_PASSWORD", ""),
			Database: env.GetString("DB_NAME", "sealedchat"),
			SSLMode:  env.GetString("DB_SSL_MODE", "disable"),
			MaxConns: env.GetInt("DB_MAX_CONNS", 25),
			MinConns: env.GetInt("DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Host:        env.GetString("REDIS_HOST", "localhost"),
			Port:        env.GetInt("REDIS_PORT", 6379),
			Password:    env.GetStringFromFile("REDIS_PASSWORD", ""),
			DB:          env.GetInt("REDIS_DB", 0),
			PoolSize:    env.GetInt("REDIS_POOL_SIZE", 10),
			Timeout:     env.GetDuration("REDIS_TIMEOUT", 5*time.Second),
			PresenceTTL: env.GetDuration("PRESENCE_TTL", 5*time.Minute),
			TypingTTL:   env.GetDuration("TYPING_TTL", 10*time.Second),
		},
		Cassandra: CassandraConfig{
			Hosts:       env.GetStringSlice("CASSANDRA_HOSTS", []string{"localhost"}),
			Keyspace:    env.GetString("CASSANDRA_KEYSPACE", "sealedchat"),
			Username:    env.GetString("CASSANDRA_USER", ""),
			Password:    env.GetStringFromFile("CASSANDRA_PASSWORD", ""),
			Consistency: env.GetString("CASSANDRA_CONSISTENCY", "QUORUM"),
			Timeout:     env.GetDuration("CASSANDRA_TIMEOUT", 600*time.Millisecond),
			Migrate:     env.GetBool("CASSANDRA_MIGRATE", false),
		},
		JWT: JWTConfig{
			Secret:            env.GetStringFromFile("JWT_SECRET", ""),
			AccessTokenExpiry: env.GetDuration("JWT_ACCESS_EXPIRY", 15*time.Minute),
		},
		Log: LogConfig{
			Level:    env.GetString("LOG_LEVEL", "info"),
			Format:   env.GetString("LOG_FORMAT", "json"),
			Output:   env.GetString("LOG_OUTPUT", "stdout"),
			FilePath: env.GetString("LOG_FILE_PATH", "/logs/app.log"),
		},
		Chat: ChatConfig{
			MaxGroupParticipants: env.GetInt("CHAT_MAX_GROUP_PARTICIPANTS", 50),
			DeleteForAllWindow:   env.GetDuration("CHAT_DELETE_FOR_ALL_WINDOW", time.Hour),
			HistoryPageSize:      env.GetInt("CHAT_HISTORY_PAGE_SIZE", 50),
			HistoryMaxPageSize:   env.GetInt("CHAT_HISTORY_MAX_PAGE_SIZE", 100),
			UnreadScanLimit:      env.GetInt("CHAT_UNREAD_SCAN_LIMIT", 500),
		},
		Crypto: CryptoConfig{
			RSABits:          env.GetInt("CRYPTO_RSA_BITS", e2ee.MinKeyBits),
			PBKDF2Iterations: env.GetInt("CRYPTO_PBKDF2_ITERATIONS", e2ee.DefaultIterations),
			SaltContext:      env.GetString("CRYPTO_SALT_CONTEXT", e2ee.DefaultSaltContext),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Environment == "production" {
		if c.JWT.Secret == "" {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
		}
	}

	if c.Chat.MaxGroupParticipants < 3 || c.Chat.MaxGroupParticipants > 50 {
		return fmt.Errorf("CHAT_MAX_GROUP_PARTICIPANTS must be between 3 and 50, got %d", c.Chat.MaxGroupParticipants)
	}
	if c.Chat.HistoryPageSize <= 0 || c.Chat.HistoryPageSize > c.Chat.HistoryMaxPageSize {
		return fmt.Errorf("CHAT_HISTORY_PAGE_SIZE must be in (0, %d]", c.Chat.HistoryMaxPageSize)
	}
	if c.Crypto.RSABits < e2ee.MinKeyBits {
		return fmt.Errorf("CRYPTO_RSA_BITS must be at least %d", e2ee.MinKeyBits)
	}
	if c.Crypto.PBKDF2Iterations < 10000 {
		return fmt.Errorf("CRYPTO_PBKDF2_ITERATIONS must be at least 10000")
	}

	return nil
}

// DSN returns the CockroachDB connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d&pool_min_conns=%d",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode, d.MaxConns, d.MinConns)
}

// Addr returns the Redis address
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// KeyStore returns the private-key sealer configured by c
func (c CryptoConfig) KeyStore() *e2ee.KeyStore {
	return &e2ee.KeyStore{Iterations: c.PBKDF2Iterations, SaltContext: c.SaltContext}
}
