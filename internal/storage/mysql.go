// Package storage is the durable persistence layer: OrderStore, TradeStore
// and AccountStore (spec §4.3, §4.4), backed by MySQL/TiDB through
// database/sql and github.com/go-sql-driver/mysql, following the teacher's
// internal/db/mysql.go connection handling and internal/engine/engine.go's
// prepared-statement convention.
package storage

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"order-matching-engine/internal/config"
)

// convertURIToDSN converts a TiDB Cloud mysql:// URI to the go-sql-driver
// DSN format. Traditional DSNs pass through unchanged.
func convertURIToDSN(connectionString string) (string, error) {
	if !strings.HasPrefix(connectionString, "mysql://") {
		return connectionString, nil
	}

	u, err := url.Parse(connectionString)
	if err != nil {
		return "", fmt.Errorf("failed to parse URI: %w", err)
	}
	if u.Scheme != "mysql" {
		return "", fmt.Errorf("unsupported scheme: %s (expected mysql)", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("host is required")
	}

	var userInfo string
	if u.User != nil {
		username := u.User.Username()
		password, _ := u.User.Password()
		if password != "" {
			userInfo = username + ":" + password
		} else {
			userInfo = username
		}
	}

	database := strings.TrimPrefix(u.Path, "/")
	if database == "" {
		database = "tradecore"
	}

	return buildDSN(userInfo, hostWithDefaultPort(u.Host), database, u.Query()), nil
}

// buildDSNFromParts assembles a go-sql-driver DSN from the discrete
// DB_HOST/DB_PORT/DB_NAME/DB_USER/DB_PASSWORD fields cfg carries, the same
// per-field connection shape original_source's MatchingDB constructor reads
// from the environment (DB_HOST/DB_NAME/DB_USER/DB_PASSWORD/DB_PORT,
// defaulting host to "host.docker.internal" for a matcher that runs
// alongside a containerized database), translated from psycopg2 keyword
// arguments to a MySQL DSN. Used when no DB_DSN/URI is supplied at all.
func buildDSNFromParts(cfg config.Config) string {
	userInfo := cfg.DBUser
	if cfg.DBPassword != "" {
		userInfo += ":" + cfg.DBPassword
	}
	host := cfg.DBHost
	if cfg.DBPort != 0 {
		host = fmt.Sprintf("%s:%d", cfg.DBHost, cfg.DBPort)
	}
	return buildDSN(userInfo, host, cfg.DBName, url.Values{})
}

// hostWithDefaultPort appends TiDB's default 4000 port when a parsed URI
// host carries none — TiDB Cloud URIs commonly omit it, unlike a plain
// MySQL host:port pair.
func hostWithDefaultPort(host string) string {
	if strings.Contains(host, ":") {
		return host
	}
	return host + ":4000"
}

func buildDSN(userInfo, host, database string, existingParams url.Values) string {
	dsn := fmt.Sprintf("%s@tcp(%s)/%s", userInfo, host, database)

	defaultParams := url.Values{
		"parseTime": []string{"true"},
		"charset":   []string{"utf8mb4"},
		"collation": []string{"utf8mb4_unicode_ci"},
	}
	for key, values := range defaultParams {
		if !existingParams.Has(key) {
			existingParams[key] = values
		}
	}
	if len(existingParams) > 0 {
		dsn += "?" + existingParams.Encode()
	}
	return dsn
}

// Connect establishes a pooled MySQL/TiDB connection. cfg.DSN, when set, is
// a traditional DSN or a mysql:// TiDB Cloud URI and takes precedence; when
// empty, the discrete DB_HOST/DB_PORT/DB_NAME/DB_USER/DB_PASSWORD fields are
// assembled into one instead (the shape a docker-compose deployment without
// a single connection string tends to supply). Pool sizing is cfg's, not a
// hardcoded constant, so an operator can tune it per environment. Caller
// owns the returned handle and must Close it at shutdown — no module-level
// singleton is kept.
func Connect(cfg config.Config) (*sql.DB, error) {
	var resolved string
	if cfg.DSN != "" {
		var err error
		resolved, err = convertURIToDSN(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to process connection string: %w", err)
		}
	} else {
		resolved = buildDSNFromParts(cfg)
	}

	db, err := sql.Open("mysql", resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	maxOpen := cfg.DBMaxOpenConns
	if maxOpen == 0 {
		maxOpen = 25
	}
	maxIdle := cfg.DBMaxIdleConns
	if maxIdle == 0 {
		maxIdle = 10
	}
	lifetime := cfg.DBConnMaxLifetime
	if lifetime == 0 {
		lifetime = 30 * time.Minute
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)

	return db, nil
}
