package repository

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const defaultSQLitePath = "./kestrel.db"

// sqlitePragmas tune the embedded database for a single concurrent
// writer with many readers, which matches the recommendation workload.
var sqlitePragmas = map[string]string{
	"journal_mode": "WAL",
	"synchronous":  "NORMAL",
	"busy_timeout": "5000",
	"foreign_keys": "ON",
}

// openSQLite opens the Community-tier store. modernc.org/sqlite is pure
// Go, so the binary stays CGO-free.
func openSQLite(cfg domain.RepositoryConfig) (*sql.DB, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = defaultSQLitePath
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	q := url.Values{}
	for name, value := range sqlitePragmas {
		q.Add("_pragma", fmt.Sprintf("%s(%s)", name, value))
	}
	dsn := "file:" + path + "?" + q.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	return db, nil
}

// openPostgres opens the Pro-tier store.
func openPostgres(cfg domain.RepositoryConfig) (*sql.DB, error) {
	host := cfg.PostgresHost
	if host == "" {
		host = "localhost"
	}
	port := cfg.PostgresPort
	if port == 0 {
		port = 5432
	}
	dbname := cfg.PostgresDB
	if dbname == "" {
		dbname = "kestrel"
	}
	sslmode := cfg.PostgresSSLMode
	if sslmode == "" {
		sslmode = "disable"
	}

	parts := []string{
		"host=" + host,
		fmt.Sprintf("port=%d", port),
		"dbname=" + dbname,
		"sslmode=" + sslmode,
	}
	if cfg.PostgresUser != "" {
		parts = append(parts, "user="+cfg.PostgresUser)
	}
	if cfg.PostgresPassword != "" {
		parts = append(parts, "password="+cfg.PostgresPassword)
	}

	db, err := sql.Open("postgres", strings.Join(parts, " "))
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}
	return db, nil
}
