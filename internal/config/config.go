package config

import (
	"time"

	"github.com/joho/godotenv"

	"relaychat-backend/internal/database"
	"relaychat-backend/pkg/env"
)

// Config holds all chat-service configuration, sourced from the environment
type Config struct {
	Env  string
	Port string

	JWTSecret string

	Cockroach *database.CockroachConfig
	Cassandra *database.CassandraConfig
	Redis     *database.RedisConfig
}

// Load reads configuration from the environment.
// A .env file is loaded first when present (development convenience);
// real deployments set variables or Docker secrets (*_FILE) directly.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Env:  env.GetString("ENV", "development"),
		Port: env.GetString("PORT", "8082"),

		JWTSecret: env.GetStringFromFile("JWT_SECRET", ""),

		Cockroach: &database.CockroachConfig{
			Host:     env.GetString("COCKROACH_HOST", "localhost"),
			Port:     env.GetInt("COCKROACH_PORT", 26257),
			User:     env.GetString("COCKROACH_USER", "root"),
			Password: env.GetStringFromFile("COCKROACH_PASSWORD", ""),
			Database: env.GetString("COCKROACH_DATABASE", "relaychat_db"),
			SSLMode:  env.GetString("COCKROACH_SSLMODE", "disable"),
		},
		Cassandra: &database.CassandraConfig{
			Hosts:    []string{env.GetString("CASSANDRA_HOST", "localhost")},
			Keyspace: env.GetString("CASSANDRA_KEYSPACE", "relaychat_ks"),
			Username: env.GetStringFromFile("CASSANDRA_USER", ""),
			Password: env.GetStringFromFile("CASSANDRA_PASSWORD", ""),
			Timeout:  env.GetDuration("CASSANDRA_TIMEOUT", 10*time.Second),
		},
		Redis: &database.RedisConfig{
			Host:     env.GetString("REDIS_HOST", "localhost"),
			Port:     env.GetInt("REDIS_PORT", 6379),
			Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
			DB:       env.GetInt("REDIS_DB", 0),
			PoolSize: env.GetInt("REDIS_POOL_SIZE", 10),
			Timeout:  env.GetDuration("REDIS_TIMEOUT", 5*time.Second),
		},
	}
}
