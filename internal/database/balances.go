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

	"go.uber.org/zap"
)

// Balance mutation helpers. All three run only inside the calling state
// machine's transaction -- a balance delta is never committed on its own.

// ensureBalanceRow creates the user's balance row with zeros if it does not
// exist yet. Balances are created lazily on first mutation.
func ensureBalanceRow(ctx context.Context, tx *sql.Tx, userId string, now time.Time) error {
	if _, err := tx.ExecContext(ctx, queryEnsureBalanceRow, userId, now); err != nil {
		return fmt.Errorf("failed to ensure balance row for %s: %w", userId, err)
	}
	return nil
}

// creditBalance increases balance and lifetime_purchased by amount.
func creditBalance(ctx context.Context, tx *sql.Tx, userId string, amount int64, now time.Time) error {
	if err := ensureBalanceRow(ctx, tx, userId, now); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, queryCreditBalance, amount, amount, now, userId); err != nil {
		return fmt.Errorf("failed to credit balance for %s: %w", userId, err)
	}
	return nil
}

// debitBalance attempts to decrease balance and increase the named lifetime
// counter by amount. The balance check happens in the UPDATE's WHERE clause,
// never as a prior read, so concurrent debits for the same user cannot both
// pass on funds sufficient for only one. Returns whether the debit applied.
func debitBalance(ctx context.Context, tx *sql.Tx, userId string, amount int64, counter models.LifetimeCounter, now time.Time) (bool, error) {
	if err := ensureBalanceRow(ctx, tx, userId, now); err != nil {
		return false, err
	}

	var query string
	switch counter {
	case models.CounterSpent:
		query = queryDebitBalanceSpent
	case models.CounterCashedOut:
		query = queryDebitBalanceCashedOut
	default:
		return false, fmt.Errorf("cannot debit against counter %q", counter)
	}

	result, err := tx.ExecContext(ctx, query, amount, amount, now, userId, amount)
	if err != nil {
		return false, fmt.Errorf("failed to debit balance for %s: %w", userId, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// refundBalance reverses a prior debit: balance goes back up, the named
// lifetime counter back down.
func refundBalance(ctx context.Context, tx *sql.Tx, userId string, amount int64, counter models.LifetimeCounter, now time.Time) error {
	var query string
	switch counter {
	case models.CounterSpent:
		query = queryRefundBalanceSpent
	case models.CounterCashedOut:
		query = queryRefundBalanceCashedOut
	default:
		return fmt.Errorf("cannot refund against counter %q", counter)
	}

	result, err := tx.ExecContext(ctx, query, amount, amount, now, userId)
	if err != nil {
		return fmt.Errorf("failed to refund balance for %s: %w", userId, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// A refund always follows a committed debit, so the row must exist.
		return fmt.Errorf("no balance row to refund for %s", userId)
	}
	return nil
}

// GetBalance returns the user's balance row. A user with no row yet reads as
// all zeros; the row itself is only created on first mutation.
func (s *Service) GetBalance(ctx context.Context, userId string) (*models.Balance, error) {
	var balance models.Balance
	err := s.db.QueryRowContext(ctx, queryGetBalance, userId).Scan(
		&balance.UserId, &balance.Balance, &balance.LifetimePurchased,
		&balance.LifetimeSpent, &balance.LifetimeCashedOut, &balance.UpdatedAt)
	if err == sql.ErrNoRows {
		return &models.Balance{UserId: userId}, nil
	}
	if err != nil {
		zap.L().Error("Failed to get balance", zap.String("user_id", userId), zap.Error(err))
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return &balance, nil
}

// VerifyBalance checks the accounting identity for a user:
// balance == lifetime_purchased - lifetime_spent - lifetime_cashed_out,
// and cross-checks every counter against the append-only event log.
func (s *Service) VerifyBalance(ctx context.Context, userId string) error {
	balance, err := s.GetBalance(ctx, userId)
	if err != nil {
		return fmt.Errorf("failed to get current balance: %w", err)
	}

	expected := balance.LifetimePurchased - balance.LifetimeSpent - balance.LifetimeCashedOut
	if balance.Balance != expected {
		zap.L().Error("Balance identity violated",
			zap.String("user_id", userId),
			zap.Int64("balance", balance.Balance),
			zap.Int64("lifetime_purchased", balance.LifetimePurchased),
			zap.Int64("lifetime_spent", balance.LifetimeSpent),
			zap.Int64("lifetime_cashed_out", balance.LifetimeCashedOut))
		return fmt.Errorf("balance identity violated for %s: balance=%d, counters imply %d",
			userId, balance.Balance, expected)
	}

	var deposits, spendUsage, spendRefunds, cashOutUsage, cashOutRefunds int64
	err = s.db.QueryRowContext(ctx, queryEventSums, userId).Scan(
		&deposits, &spendUsage, &spendRefunds, &cashOutUsage, &cashOutRefunds)
	if err != nil {
		return fmt.Errorf("failed to sum ledger events: %w", err)
	}

	if deposits != balance.LifetimePurchased {
		return fmt.Errorf("ledger drift for %s: deposit events sum to %d, lifetime_purchased is %d",
			userId, deposits, balance.LifetimePurchased)
	}
	if spent := spendUsage - spendRefunds; spent != balance.LifetimeSpent {
		return fmt.Errorf("ledger drift for %s: spend events imply %d spent, lifetime_spent is %d",
			userId, spent, balance.LifetimeSpent)
	}
	if cashedOut := cashOutUsage - cashOutRefunds; cashedOut != balance.LifetimeCashedOut {
		return fmt.Errorf("ledger drift for %s: cash-out events imply %d cashed out, lifetime_cashed_out is %d",
			userId, cashedOut, balance.LifetimeCashedOut)
	}

	zap.L().Debug("Balance verification successful",
		zap.String("user_id", userId),
		zap.Int64("balance", balance.Balance))
	return nil
}
