package database

import (
	"fmt"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
)

// DatabaseConfig holds the database-related configuration.
type DatabaseConfig struct {
	Type      string
	Path      string
	RedisAddr string
	RedisPass string
	RedisDB   int
}

// LoadDatabaseConfig loads database configuration from environment variables.
func LoadDatabaseConfig() (*DatabaseConfig, error) {
	dbType := os.Getenv("DATABASE_TYPE")
	if dbType == "" {
		return nil, fmt.Errorf("DATABASE_TYPE environment variable is required")
	}

	config := &DatabaseConfig{
		Type: dbType,
	}

	switch dbType {
	case "sqlite", "bolt":
		config.Path = os.Getenv("DATABASE_PATH")
		if config.Path == "" {
			return nil, fmt.Errorf("DATABASE_PATH is required for %s", dbType)
		}
	case "redis":
		config.RedisAddr = os.Getenv("REDIS_ADDR")
		if config.RedisAddr == "" {
			return nil, fmt.Errorf("REDIS_ADDR is required for RedisDB")
		}
		config.RedisPass = os.Getenv("REDIS_PASSWORD")
		dbStr := os.Getenv("REDIS_DB")
		if dbStr == "" {
			config.RedisDB = 0
		} else {
			db, err := strconv.Atoi(dbStr)
			if err != nil {
				return nil, fmt.Errorf("invalid REDIS_DB value: %w", err)
			}
			config.RedisDB = db
		}
	case "memory":
	default:
		return nil, fmt.Errorf("unsupported DATABASE_TYPE: %s", dbType)
	}

	return config, nil
}

// Open creates the Database described by cfg.
func Open(cfg *DatabaseConfig, logger *logrus.Logger) (Database, error) {
	switch cfg.Type {
	case "sqlite":
		return NewSQLiteDB(cfg.Path, logger)
	case "bolt":
		return NewBoltDB(cfg.Path, logger)
	case "redis":
		return NewRedisDB(cfg, logger)
	case "memory":
		return NewMemoryDB(), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
}
