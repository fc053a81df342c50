// Package storage provides the GORM-based SQLite layer for fleetmon.
//
// It keeps three tables: the latest value of every state key, the append-only
// history of those values and the append-only event log. Connection pooling
// and busy handling are configured from config.StorageConfig, and all models
// are auto-migrated on startup.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"fleetmon/internal/config"
)

// busyTimeoutMs is how long SQLite itself waits on a lock before reporting busy.
const busyTimeoutMs = 5000

// Storage wraps the GORM database instance.
type Storage struct {
	db          *gorm.DB
	busyRetries int
}

// StoreError reports a failed storage operation.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// New opens the SQLite database at cfg.Path and migrates the schema.
//
// Parameters:
//   - cfg: Storage configuration (path, pool sizes, busy retries)
//
// Returns:
//   - *Storage: Ready-to-use storage
//   - error: Open or migration failure
func New(cfg config.StorageConfig) (*Storage, error) {
	// Enable WAL and a busy timeout via DSN
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_busy_timeout", fmt.Sprint(busyTimeoutMs))
	dsn := cfg.Path + "?" + q.Encode()

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve sql.DB from GORM: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	models := []interface{}{
		&CurrentState{},
		&HistoricalState{},
		&Event{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to auto-migrate models: %w", err)
	}

	return &Storage{db: db, busyRetries: cfg.BusyRetries}, nil
}

// DB returns the underlying GORM database instance.
func (s *Storage) DB() *gorm.DB {
	return s.db
}

// Ping checks that the database answers.
func (s *Storage) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return &StoreError{Op: "ping", Err: err}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return &StoreError{Op: "ping", Err: err}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to retrieve sql.DB for closing: %w", err)
	}
	return sqlDB.Close()
}

// isBusy reports whether err is SQLite lock contention worth retrying.
func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// withRetry runs fn, retrying lock contention up to busyRetries times.
func (s *Storage) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isBusy(err) || attempt >= s.busyRetries {
			break
		}
		log.Warn().Err(err).Str("op", op).Int("attempt", attempt+1).Msg("Database busy, retrying")

		select {
		case <-ctx.Done():
			return &StoreError{Op: op, Err: ctx.Err()}
		case <-time.After(time.Duration(attempt+1) * 50 * time.Millisecond):
		}
	}
	return &StoreError{Op: op, Err: err}
}
