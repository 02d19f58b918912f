package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// SQLStore keeps slots in a querygenie_settings table through database/sql.
// It works with the "postgres" (lib/pq), "pgx" and "sqlite3" drivers.
type SQLStore struct {
	db     *sql.DB
	driver string
}

const createSettingsTable = `
	CREATE TABLE IF NOT EXISTS querygenie_settings (
		slot  TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`

// OpenSQLStore opens dsn with driver, pings it and creates the settings table.
func OpenSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLStore{db: db, driver: driver}
	if _, err := db.ExecContext(ctx, createSettingsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create settings table: %w", err)
	}
	return s, nil
}

// rebind rewrites $N placeholders for drivers that only take "?".
func (s *SQLStore) rebind(query string) string {
	if s.driver != "sqlite3" {
		return query
	}
	for i := 9; i >= 1; i-- {
		query = strings.ReplaceAll(query, "$"+strconv.Itoa(i), "?")
	}
	return query
}

func (s *SQLStore) Get(ctx context.Context, slot string) (string, error) {
	query := s.rebind(`SELECT value FROM querygenie_settings WHERE slot = $1`)

	var value string
	err := s.db.QueryRowContext(ctx, query, slot).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", slot, err)
	}
	return value, nil
}

func (s *SQLStore) Set(ctx context.Context, slot, value string) error {
	query := s.rebind(`
		INSERT INTO querygenie_settings (slot, value)
		VALUES ($1, $2)
		ON CONFLICT (slot) DO UPDATE SET value = excluded.value`)

	if _, err := s.db.ExecContext(ctx, query, slot, value); err != nil {
		return fmt.Errorf("set %s: %w", slot, err)
	}
	return nil
}

func (s *SQLStore) Remove(ctx context.Context, slot string) error {
	query := s.rebind(`DELETE FROM querygenie_settings WHERE slot = $1`)

	if _, err := s.db.ExecContext(ctx, query, slot); err != nil {
		return fmt.Errorf("remove %s: %w", slot, err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
