// Package config resolves engine settings from the environment, loading a
// local .env file the way the teacher's cmd/server did with godotenv.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything main needs to wire the engine together. Every
// field has a default so a bare environment still starts something
// runnable; DSN is the one value operators must actually supply (or the
// discrete DB_HOST/DB_PORT/DB_NAME/DB_USER/DB_PASSWORD fields, see
// storage.Connect).
type Config struct {
	DSN               string
	DBHost            string
	DBPort            int
	DBName            string
	DBUser            string
	DBPassword        string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	HTTPAddr          string
	DepthVenueBaseURL string
	DepthFetchLimit   int
	ShutdownTimeout   time.Duration
}

// Load reads .env (if present, non-fatal if absent) then builds a Config
// from the environment, falling back to defaults for anything unset.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		DSN:               os.Getenv("DB_DSN"),
		DBHost:            getString("DB_HOST", "host.docker.internal"),
		DBPort:            getInt("DB_PORT", 3306),
		DBName:            getString("DB_NAME", "tradecore"),
		DBUser:            getString("DB_USER", "tradecore"),
		DBPassword:        os.Getenv("DB_PASSWORD"),
		DBMaxOpenConns:    getInt("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:    getInt("DB_MAX_IDLE_CONNS", 10),
		DBConnMaxLifetime: getDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
		HTTPAddr:          getString("HTTP_ADDR", ":8080"),
		DepthVenueBaseURL: getString("DEPTH_VENUE_URL", "https://api.binance.com/api/v3/depth"),
		DepthFetchLimit:   getInt("DEPTH_FETCH_LIMIT", 20),
		ShutdownTimeout:   getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
