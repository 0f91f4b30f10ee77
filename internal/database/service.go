/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"juice-ledger-go/internal/models"
	"juice-ledger-go/internal/store"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy store.Store.
var _ store.Store = (*Service)(nil)

const (
	// MaxSpendRetries is the total execution attempts a spend gets. The
	// failure of the last attempt is terminal: it refunds instead of
	// requeueing.
	MaxSpendRetries = 5

	// DefaultCashOutDelay is the fixed holding period between a cash-out
	// being debited and becoming releasable on-chain.
	DefaultCashOutDelay = 24 * time.Hour
)

type Service struct {
	db           *sql.DB
	cashOutDelay time.Duration
}

func NewService(ctx context.Context, cfg models.DatabaseConfig, cashOutDelay time.Duration) (*Service, error) {
	// Validate configuration
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns < 0 {
		return nil, fmt.Errorf("max idle connections cannot be negative, got %d", cfg.MaxIdleConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}
	if cashOutDelay <= 0 {
		cashOutDelay = DefaultCashOutDelay
	}

	zap.L().Info("Opening SQLite database", zap.String("file", cfg.Path))
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	// Set connection timeouts and limits
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Test connection with timeout
	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, closeErr
		}
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	service := &Service{db: db, cashOutDelay: cashOutDelay}
	if err := service.InitSchema(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, closeErr
		}
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}

	zap.L().Info("Database service initialized successfully",
		zap.Duration("cash_out_delay", cashOutDelay))
	return service, nil
}

func (s *Service) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}

func (s *Service) InitSchema() error {
	schema := `
	-- Balance rows, one per user, created lazily on first mutation.
	-- Every mutation is a single guarded UPDATE; the CHECK is a backstop,
	-- never the primary guard.
	CREATE TABLE IF NOT EXISTS balances (
		user_id TEXT PRIMARY KEY,
		balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
		lifetime_purchased INTEGER NOT NULL DEFAULT 0,
		lifetime_spent INTEGER NOT NULL DEFAULT 0,
		lifetime_cashed_out INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Fiat purchases clearing toward credit. external_ref uniqueness is what
	-- makes provider confirmations idempotent.
	CREATE TABLE IF NOT EXISTS purchases (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		external_ref TEXT NOT NULL UNIQUE,
		fiat_amount INTEGER NOT NULL,
		credit_amount INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'clearing',
		risk_score INTEGER NOT NULL DEFAULT 0,
		risk_level TEXT NOT NULL DEFAULT '',
		clears_at TIMESTAMP NOT NULL,
		credited_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_purchases_user_id ON purchases(user_id);
	CREATE INDEX IF NOT EXISTS idx_purchases_due ON purchases(status, clears_at);

	-- Outbound payment attempts. Debited at initiation, refunded on failure.
	CREATE TABLE IF NOT EXISTS spends (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		amount INTEGER NOT NULL,
		project_id TEXT NOT NULL,
		chain_id TEXT NOT NULL,
		beneficiary TEXT NOT NULL,
		memo TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		retry_count INTEGER NOT NULL DEFAULT 0,
		tx_hash TEXT NOT NULL DEFAULT '',
		tokens_received TEXT NOT NULL DEFAULT '0',
		last_error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_spends_user_id ON spends(user_id);
	CREATE INDEX IF NOT EXISTS idx_spends_retriable ON spends(status, retry_count);

	-- Withdrawal requests. Debited at initiation, held until available_at.
	CREATE TABLE IF NOT EXISTS cash_outs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		amount INTEGER NOT NULL,
		destination TEXT NOT NULL,
		chain_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		available_at TIMESTAMP NOT NULL,
		tx_hash TEXT NOT NULL DEFAULT '',
		last_error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_cash_outs_user_id ON cash_outs(user_id);
	CREATE INDEX IF NOT EXISTS idx_cash_outs_releasable ON cash_outs(status, available_at);

	-- Append-only audit trail. Inserted only inside the same transaction as
	-- the status change and balance delta it records; never updated.
	CREATE TABLE IF NOT EXISTS ledger_events (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		amount INTEGER NOT NULL,
		purchase_id TEXT NOT NULL DEFAULT '',
		spend_id TEXT NOT NULL DEFAULT '',
		cash_out_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_events_user_id ON ledger_events(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_ledger_events_type ON ledger_events(event_type);

	-- Cursor rows for external consumers of ledger_events (e.g. the Formance
	-- exporter). Kept separate so the event log itself stays immutable.
	CREATE TABLE IF NOT EXISTS export_cursors (
		name TEXT PRIMARY KEY,
		last_row_id INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`

	_, err := s.db.Exec(schema)
	return err
}
