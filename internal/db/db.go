// Package db opens the Postgres connection used by the repositories.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/bitpanel/notification-service/internal/config"
)

// Open connects to Postgres and verifies the connection with a ping.
// The caller owns the returned handle and closes it at shutdown.
func Open(cfg config.DBConfig) (*sql.DB, error) {
	conn, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return conn, nil
}
