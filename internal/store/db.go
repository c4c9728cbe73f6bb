package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// Manager owns the database handle and hands out repositories.
type Manager struct {
	db *sqlx.DB
}

// Open connects to Postgres and verifies the connection.
func Open(dsn string) (*Manager, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN is required")
	}
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	log.Info().Msg("postgres connected")
	return &Manager{db: db}, nil
}

// NewFromDB wraps an existing handle; used by tests with sqlmock.
func NewFromDB(db *sqlx.DB) *Manager {
	return &Manager{db: db}
}

// DB exposes the raw handle for repositories.
func (m *Manager) DB() *sqlx.DB {
	return m.db
}

// Ping verifies liveness for the readiness probe.
func (m *Manager) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

// Now returns the database clock. Workers use this instead of the process
// clock wherever windows are computed, so skewed hosts agree on time.
func (m *Manager) Now(ctx context.Context) (time.Time, error) {
	var now time.Time
	if err := m.db.GetContext(ctx, &now, "SELECT NOW()"); err != nil {
		return time.Time{}, fmt.Errorf("select now(): %w", err)
	}
	return now, nil
}

// Close releases the pool.
func (m *Manager) Close() error {
	return m.db.Close()
}
