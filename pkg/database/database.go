package database

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/stockline/stockline-backend/pkg/config"
	"github.com/stockline/stockline-backend/pkg/errors"
	"github.com/stockline/stockline-backend/pkg/logger"
)

// RetryPolicy bounds how often a transaction is re-run after a
// serialization failure or deadlock.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy retries three times starting at 10ms.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:      3,
	InitialInterval: 10 * time.Millisecond,
	MaxInterval:     200 * time.Millisecond,
}

// RetryPolicyFrom reads the retry settings of cfg, falling back to
// DefaultRetryPolicy for unset fields.
func RetryPolicyFrom(cfg *config.DatabaseConfig) RetryPolicy {
	p := DefaultRetryPolicy
	if cfg.MaxRetries > 0 {
		p.MaxRetries = cfg.MaxRetries
	}
	if cfg.RetryInitialInterval > 0 {
		p.InitialInterval = cfg.RetryInitialInterval
	}
	if cfg.RetryMaxInterval > 0 {
		p.MaxInterval = cfg.RetryMaxInterval
	}
	return p
}

// Pool defaults for the ledger workload. Every stock mutation holds a row
// lock for one short transaction, so a few warm connections go a long way
// and idle ones are recycled quickly.
const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 5 * time.Minute
	defaultConnMaxIdleTime = time.Minute
)

// DB wraps sqlx.DB with transactions and the retry policy applied to them
type DB struct {
	*sqlx.DB
	logger *logger.Logger
	retry  RetryPolicy
}

// New creates a new database connection and tunes its pool from cfg
func New(cfg *config.DatabaseConfig, log *logger.Logger) (*DB, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	tunePool(db, cfg)
	retry := RetryPolicyFrom(cfg)

	log.Debug().
		Int("max_open_conns", db.Stats().MaxOpenConnections).
		Int("max_retries", retry.MaxRetries).
		Msg("database pool configured")

	return &DB{
		DB:     db,
		logger: log,
		retry:  retry,
	}, nil
}

// NewWithDSN creates a new database connection with a DSN string and default tuning
func NewWithDSN(dsn string, log *logger.Logger) (*DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	tunePool(db, &config.DatabaseConfig{})

	return &DB{
		DB:     db,
		logger: log,
		retry:  DefaultRetryPolicy,
	}, nil
}

// Wrap adapts an existing sqlx handle, e.g. one backed by sqlmock.
func Wrap(db *sqlx.DB, log *logger.Logger) *DB {
	return &DB{DB: db, logger: log, retry: DefaultRetryPolicy}
}

func tunePool(db *sqlx.DB, cfg *config.DatabaseConfig) {
	db.SetMaxOpenConns(orDefault(cfg.MaxOpenConns, defaultMaxOpenConns))
	db.SetMaxIdleConns(orDefault(cfg.MaxIdleConns, defaultMaxIdleConns))
	db.SetConnMaxLifetime(orDefault(cfg.ConnMaxLifetime, defaultConnMaxLifetime))
	db.SetConnMaxIdleTime(orDefault(cfg.ConnMaxIdleTime, defaultConnMaxIdleTime))
}

func orDefault[T int | time.Duration](v, def T) T {
	if v > 0 {
		return v
	}
	return def
}

// SetRetryPolicy replaces the policy used by RetryTransaction.
func (db *DB) SetRetryPolicy(p RetryPolicy) {
	db.retry = p
}

// RetryPolicy returns the policy used by RetryTransaction.
func (db *DB) RetryPolicy() RetryPolicy {
	return db.retry
}

// Ping checks the database connection
func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

// Health returns the health status of the database
func (db *DB) Health(ctx context.Context) map[string]string {
	status := map[string]string{
		"status": "up",
	}

	ctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		status["status"] = "down"
		status["error"] = err.Error()
	}

	return status
}

// Transaction executes a function within a transaction
func (db *DB) Transaction(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Error().Err(rbErr).Msg("failed to rollback transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// RetryTransaction runs fn in a fresh transaction per attempt, re-running
// it under the DB's retry policy. fn must not keep state across attempts.
func (db *DB) RetryTransaction(ctx context.Context, fn func(*sqlx.Tx) error) error {
	attempt := 0
	return WithRetry(ctx, db.retry, func() error {
		attempt++
		if attempt > 1 {
			db.logger.Debug().Int("attempt", attempt).Msg("retrying transaction after serialization failure")
		}
		return db.Transaction(ctx, fn)
	})
}

// WithRetry runs fn and re-runs it while it fails with a retryable postgres
// error. Once retries are exhausted the error surfaces as ConcurrencyConflict.
// Any other error is returned unchanged on the first attempt.
func WithRetry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = policy.InitialInterval
	eb.MaxInterval = policy.MaxInterval
	eb.MaxElapsedTime = 0

	var lastRetryable error
	op := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if IsRetryable(err) {
			lastRetryable = err
			return err
		}
		return backoff.Permanent(err)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(policy.MaxRetries)), ctx)
	err := backoff.Retry(op, b)
	if err != nil && lastRetryable != nil && err == lastRetryable {
		return errors.ConcurrencyConflict(err)
	}
	return err
}
