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

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func scanCashOut(row rowScanner) (*models.CashOut, error) {
	var co models.CashOut
	err := row.Scan(&co.Id, &co.UserId, &co.Amount, &co.Destination, &co.ChainId,
		&co.Status, &co.AvailableAt, &co.TxHash, &co.LastError, &co.CreatedAt, &co.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &co, nil
}

// InitiateCashOut debits the user immediately and creates a pending cash-out
// that becomes releasable only after the configured delay. The funds are
// earmarked from the moment of request, so a concurrent spend cannot take
// them, but the payout itself waits out the delay window.
func (s *Service) InitiateCashOut(ctx context.Context, req models.CashOutRequest) (*models.CashOut, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: cash-out amount %d", store.ErrInvalidAmount, req.Amount)
	}

	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	applied, err := debitBalance(ctx, tx, req.UserId, req.Amount, models.CounterCashedOut, now)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, fmt.Errorf("%w: user %s cannot cash out %d", store.ErrInsufficientBalance, req.UserId, req.Amount)
	}

	cashOut := &models.CashOut{
		Id:          uuid.New().String(),
		UserId:      req.UserId,
		Amount:      req.Amount,
		Destination: req.Destination,
		ChainId:     req.ChainId,
		Status:      models.CashOutStatusPending,
		AvailableAt: now.Add(s.cashOutDelay),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err = tx.ExecContext(ctx, queryInsertCashOut,
		cashOut.Id, cashOut.UserId, cashOut.Amount, cashOut.Destination, cashOut.ChainId,
		cashOut.Status, cashOut.AvailableAt, cashOut.CreatedAt, cashOut.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert cash-out: %w", err)
	}

	if err := insertLedgerEvent(ctx, tx, models.LedgerEvent{
		UserId:    cashOut.UserId,
		Type:      models.LedgerEventUsage,
		Amount:    cashOut.Amount,
		CashOutId: cashOut.Id,
	}, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Cash-out initiated",
		zap.String("cash_out_id", cashOut.Id),
		zap.String("user_id", cashOut.UserId),
		zap.Int64("amount", cashOut.Amount),
		zap.String("destination", cashOut.Destination),
		zap.Time("available_at", cashOut.AvailableAt))
	return cashOut, nil
}

func (s *Service) GetCashOut(ctx context.Context, cashOutId string) (*models.CashOut, error) {
	cashOut, err := scanCashOut(s.db.QueryRowContext(ctx, queryGetCashOut, cashOutId))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: cash-out %s", store.ErrNotFound, cashOutId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cash-out: %w", err)
	}
	return cashOut, nil
}

func (s *Service) GetCashOuts(ctx context.Context, userId string) ([]models.CashOut, error) {
	return s.queryCashOuts(ctx, queryGetUserCashOuts, userId)
}

// ListReleasableCashOuts returns pending cash-outs whose delay has elapsed,
// oldest due first.
func (s *Service) ListReleasableCashOuts(ctx context.Context, limit int) ([]models.CashOut, error) {
	return s.queryCashOuts(ctx, queryListReleasableCashOuts, time.Now().UTC(), limit)
}

func (s *Service) queryCashOuts(ctx context.Context, query string, args ...interface{}) ([]models.CashOut, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cash-outs: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var cashOuts []models.CashOut
	for rows.Next() {
		cashOut, err := scanCashOut(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cash-out: %w", err)
		}
		cashOuts = append(cashOuts, *cashOut)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cash-out rows: %w", err)
	}
	return cashOuts, nil
}

// MarkCashOutProcessing claims a released cash-out for payout. A pending
// cash-out can still be cancelled right up until this claim succeeds.
func (s *Service) MarkCashOutProcessing(ctx context.Context, cashOutId string) error {
	result, err := s.db.ExecContext(ctx, queryMarkCashOutProcessing, time.Now().UTC(), cashOutId)
	if err != nil {
		return fmt.Errorf("failed to mark cash-out processing: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 1 {
		return nil
	}
	return s.classifyCashOutFailure(ctx, cashOutId, models.CashOutStatusProcessing, "mark processing")
}

// CompleteCashOut finalizes a paid-out cash-out. The debit happened at
// initiation; completion only records the on-chain receipt.
func (s *Service) CompleteCashOut(ctx context.Context, cashOutId, txHash string) error {
	result, err := s.db.ExecContext(ctx, queryCompleteCashOut, txHash, time.Now().UTC(), cashOutId)
	if err != nil {
		return fmt.Errorf("failed to complete cash-out: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 1 {
		zap.L().Info("Cash-out completed",
			zap.String("cash_out_id", cashOutId),
			zap.String("tx_hash", txHash))
		return nil
	}
	return s.classifyCashOutFailure(ctx, cashOutId, models.CashOutStatusCompleted, "complete")
}

// CancelCashOut cancels a still-pending cash-out and refunds the earmarked
// funds in the same transaction. Once the payout claim has moved the
// cash-out to processing cancellation is refused: the funds may already be
// in flight on chain.
func (s *Service) CancelCashOut(ctx context.Context, cashOutId string) error {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, queryCancelCashOut, now, cashOutId)
	if err != nil {
		return fmt.Errorf("failed to cancel cash-out: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return s.classifyCashOutFailure(ctx, cashOutId, models.CashOutStatusCancelled, "cancel")
	}

	cashOut, err := scanCashOut(tx.QueryRowContext(ctx, queryGetCashOut, cashOutId))
	if err != nil {
		return fmt.Errorf("failed to load cancelled cash-out: %w", err)
	}

	if err := refundBalance(ctx, tx, cashOut.UserId, cashOut.Amount, models.CounterCashedOut, now); err != nil {
		return err
	}
	if err := insertLedgerEvent(ctx, tx, models.LedgerEvent{
		UserId:    cashOut.UserId,
		Type:      models.LedgerEventRefund,
		Amount:    cashOut.Amount,
		CashOutId: cashOut.Id,
	}, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Cash-out cancelled and refunded",
		zap.String("cash_out_id", cashOut.Id),
		zap.String("user_id", cashOut.UserId),
		zap.Int64("amount", cashOut.Amount))
	return nil
}

// ReleaseCashOutForRetry returns a processing cash-out to pending after a
// failed payout attempt. The user's funds stay debited so the next sweep can
// try the payout again; nothing is refunded until an operator cancels.
func (s *Service) ReleaseCashOutForRetry(ctx context.Context, cashOutId, payoutError string) error {
	result, err := s.db.ExecContext(ctx, queryReleaseCashOutForRetry,
		payoutError, time.Now().UTC(), cashOutId)
	if err != nil {
		return fmt.Errorf("failed to release cash-out for retry: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 1 {
		zap.L().Warn("Cash-out released for retry",
			zap.String("cash_out_id", cashOutId),
			zap.String("error", payoutError))
		return nil
	}
	return s.classifyCashOutFailure(ctx, cashOutId, models.CashOutStatusPending, "release for retry")
}

func (s *Service) classifyCashOutFailure(ctx context.Context, cashOutId string, target models.CashOutStatus, action string) error {
	cashOut, err := s.GetCashOut(ctx, cashOutId)
	if err != nil {
		return err
	}
	if cashOut.Status == target {
		return fmt.Errorf("%w: cash-out %s already %s", store.ErrDuplicateEvent, cashOutId, target)
	}
	return fmt.Errorf("%w: cannot %s cash-out %s in status %s", store.ErrInvalidTransition, action, cashOutId, cashOut.Status)
}
