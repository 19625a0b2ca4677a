package postgres

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/deadmade/isopruefi-ingest/internal/config"
)

// Open connects to Postgres and verifies the connection. A failed ping here
// is a startup error; the workers do not run without their settings store.
func Open(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.PostgresMaxConn)
	db.SetMaxIdleConns(cfg.PostgresMaxIdle)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}
