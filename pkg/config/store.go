package config

import (
	"fmt"
	"time"
)

// StoreConfig controls the persistence layer.
type StoreConfig struct {
	// Postgres connection settings.
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// Connection pool settings.
	MaxConns        int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// AllowInMemoryFallback initializes an ephemeral in-memory store when the
	// primary store cannot be opened. Data written to the fallback does not
	// survive the process.
	AllowInMemoryFallback bool

	// VectorDim is the embedding dimension D. Schema columns and embedder
	// output must agree on this value.
	VectorDim int

	// Retry discipline for store operations.
	MaxRetries int
	BaseDelay  time.Duration

	// InitTimeout bounds how long public operations wait for initialization.
	InitTimeout time.Duration
}

// DefaultStoreConfig returns the built-in store defaults.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Host:            "localhost",
		Port:            5432,
		User:            "parallax",
		Database:        "parallax",
		SSLMode:         "disable",
		MaxConns:        10,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		VectorDim:       384,
		MaxRetries:      3,
		BaseDelay:       100 * time.Millisecond,
		InitTimeout:     30 * time.Second,
	}
}

// DSN returns a pgx-compatible connection string.
func (c StoreConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

func (c *StoreConfig) loadEnv() error {
	var err error
	c.Host = envString("DB_HOST", c.Host)
	if c.Port, err = envInt("DB_PORT", c.Port); err != nil {
		return err
	}
	c.User = envString("DB_USER", c.User)
	c.Password = envString("DB_PASSWORD", c.Password)
	c.Database = envString("DB_NAME", c.Database)
	c.SSLMode = envString("DB_SSLMODE", c.SSLMode)
	if c.MaxConns, err = envInt("DB_MAX_CONNS", c.MaxConns); err != nil {
		return err
	}
	c.AllowInMemoryFallback = envBool("ALLOW_IN_MEMORY_FALLBACK", c.AllowInMemoryFallback)
	if c.VectorDim, err = envInt("VECTOR_DIM", c.VectorDim); err != nil {
		return err
	}
	if c.MaxRetries, err = envInt("STORE_MAX_RETRIES", c.MaxRetries); err != nil {
		return err
	}
	if c.BaseDelay, err = envDuration("STORE_BASE_DELAY", c.BaseDelay); err != nil {
		return err
	}
	if c.InitTimeout, err = envDuration("STORE_INIT_TIMEOUT", c.InitTimeout); err != nil {
		return err
	}
	return nil
}
