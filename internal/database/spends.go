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
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func scanSpend(row rowScanner) (*models.Spend, error) {
	var sp models.Spend
	var tokensReceived string
	err := row.Scan(&sp.Id, &sp.UserId, &sp.Amount, &sp.ProjectId, &sp.ChainId,
		&sp.Beneficiary, &sp.Memo, &sp.Status, &sp.RetryCount, &sp.TxHash,
		&tokensReceived, &sp.LastError, &sp.CreatedAt, &sp.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sp.TokensReceived, err = decimal.NewFromString(tokensReceived)
	if err != nil {
		return nil, fmt.Errorf("failed to parse tokens_received %q: %w", tokensReceived, err)
	}
	return &sp, nil
}

// InitiateSpend debits the user and creates the pending spend in one
// transaction. If the guarded debit finds insufficient balance the whole
// transaction rolls back and no spend row exists. The on-chain execution
// itself is asynchronous: the execution collaborator picks the spend up via
// ListRetriableSpends.
func (s *Service) InitiateSpend(ctx context.Context, req models.SpendRequest) (*models.Spend, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: spend amount %d", store.ErrInvalidAmount, req.Amount)
	}

	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	applied, err := debitBalance(ctx, tx, req.UserId, req.Amount, models.CounterSpent, now)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, fmt.Errorf("%w: user %s cannot spend %d", store.ErrInsufficientBalance, req.UserId, req.Amount)
	}

	spend := &models.Spend{
		Id:             uuid.New().String(),
		UserId:         req.UserId,
		Amount:         req.Amount,
		ProjectId:      req.ProjectId,
		ChainId:        req.ChainId,
		Beneficiary:    req.Beneficiary,
		Memo:           req.Memo,
		Status:         models.SpendStatusPending,
		TokensReceived: decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	_, err = tx.ExecContext(ctx, queryInsertSpend,
		spend.Id, spend.UserId, spend.Amount, spend.ProjectId, spend.ChainId,
		spend.Beneficiary, spend.Memo, spend.Status, spend.CreatedAt, spend.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert spend: %w", err)
	}

	if err := insertLedgerEvent(ctx, tx, models.LedgerEvent{
		UserId:  spend.UserId,
		Type:    models.LedgerEventUsage,
		Amount:  spend.Amount,
		SpendId: spend.Id,
	}, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Spend initiated",
		zap.String("spend_id", spend.Id),
		zap.String("user_id", spend.UserId),
		zap.Int64("amount", spend.Amount),
		zap.String("project_id", spend.ProjectId),
		zap.String("chain_id", spend.ChainId))
	return spend, nil
}

func (s *Service) GetSpend(ctx context.Context, spendId string) (*models.Spend, error) {
	spend, err := scanSpend(s.db.QueryRowContext(ctx, queryGetSpend, spendId))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: spend %s", store.ErrNotFound, spendId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get spend: %w", err)
	}
	return spend, nil
}

func (s *Service) GetSpends(ctx context.Context, userId string) ([]models.Spend, error) {
	return s.querySpends(ctx, queryGetUserSpends, userId)
}

// ListRetriableSpends returns pending spends still inside their retry budget,
// oldest first. This is the execution collaborator's work queue; a spend at
// the retry limit never appears here.
func (s *Service) ListRetriableSpends(ctx context.Context, limit int) ([]models.Spend, error) {
	return s.querySpends(ctx, queryListRetriableSpends, MaxSpendRetries, limit)
}

func (s *Service) querySpends(ctx context.Context, query string, args ...interface{}) ([]models.Spend, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query spends: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var spends []models.Spend
	for rows.Next() {
		spend, err := scanSpend(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan spend: %w", err)
		}
		spends = append(spends, *spend)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating spend rows: %w", err)
	}
	return spends, nil
}

// MarkSpendExecuting claims a pending spend for execution.
func (s *Service) MarkSpendExecuting(ctx context.Context, spendId string) error {
	result, err := s.db.ExecContext(ctx, queryMarkSpendExecuting, time.Now().UTC(), spendId)
	if err != nil {
		return fmt.Errorf("failed to mark spend executing: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 1 {
		return nil
	}
	return s.classifySpendFailure(ctx, spendId, models.SpendStatusExecuting, "mark executing")
}

// CompleteSpend finalizes a successful execution. The debit happened at
// initiation, so completion records the receipt and nothing else.
func (s *Service) CompleteSpend(ctx context.Context, spendId, txHash string, tokensReceived decimal.Decimal) error {
	result, err := s.db.ExecContext(ctx, queryCompleteSpend,
		txHash, tokensReceived.String(), time.Now().UTC(), spendId)
	if err != nil {
		return fmt.Errorf("failed to complete spend: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 1 {
		zap.L().Info("Spend completed",
			zap.String("spend_id", spendId),
			zap.String("tx_hash", txHash),
			zap.String("tokens_received", tokensReceived.String()))
		return nil
	}
	return s.classifySpendFailure(ctx, spendId, models.SpendStatusCompleted, "complete")
}

// RequeueSpend returns a spend to pending after a failed execution attempt,
// consuming one retry. The guard refuses an increment that would reach
// MaxSpendRetries: the last permitted failure comes back as ErrRetryExhausted
// and the caller must fail the spend terminally, so an exhausted spend can
// never sit in pending where the work queue would skip it forever.
func (s *Service) RequeueSpend(ctx context.Context, spendId, execError string) error {
	result, err := s.db.ExecContext(ctx, queryRequeueSpend,
		execError, time.Now().UTC(), spendId, MaxSpendRetries)
	if err != nil {
		return fmt.Errorf("failed to requeue spend: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 1 {
		zap.L().Warn("Spend requeued for retry",
			zap.String("spend_id", spendId),
			zap.String("error", execError))
		return nil
	}

	spend, err := s.GetSpend(ctx, spendId)
	if err != nil {
		return err
	}
	switch spend.Status {
	case models.SpendStatusPending, models.SpendStatusExecuting:
		return fmt.Errorf("%w: spend %s failed %d of %d attempts", store.ErrRetryExhausted,
			spendId, spend.RetryCount+1, MaxSpendRetries)
	default:
		return fmt.Errorf("%w: cannot requeue spend %s in status %s", store.ErrInvalidTransition, spendId, spend.Status)
	}
}

// FailSpend terminally fails a spend and refunds the initiation debit, both
// in one transaction. This debit-then-refund-on-failure pairing is the whole
// point of the spend state machine: no failure path strands the user's funds.
func (s *Service) FailSpend(ctx context.Context, spendId, execError string) error {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, queryFailSpend, execError, now, spendId)
	if err != nil {
		return fmt.Errorf("failed to fail spend: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return s.classifySpendFailure(ctx, spendId, models.SpendStatusFailed, "fail")
	}

	spend, err := scanSpend(tx.QueryRowContext(ctx, queryGetSpend, spendId))
	if err != nil {
		return fmt.Errorf("failed to load failed spend: %w", err)
	}

	if err := refundBalance(ctx, tx, spend.UserId, spend.Amount, models.CounterSpent, now); err != nil {
		return err
	}
	if err := insertLedgerEvent(ctx, tx, models.LedgerEvent{
		UserId:  spend.UserId,
		Type:    models.LedgerEventRefund,
		Amount:  spend.Amount,
		SpendId: spend.Id,
	}, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Warn("Spend failed and refunded",
		zap.String("spend_id", spend.Id),
		zap.String("user_id", spend.UserId),
		zap.Int64("amount", spend.Amount),
		zap.String("error", execError))
	return nil
}

// classifySpendFailure turns a refused guarded update into the right
// sentinel: a repeat of the target status is a duplicate event, anything
// else is an invalid transition.
func (s *Service) classifySpendFailure(ctx context.Context, spendId string, target models.SpendStatus, action string) error {
	spend, err := s.GetSpend(ctx, spendId)
	if err != nil {
		return err
	}
	if spend.Status == target {
		return fmt.Errorf("%w: spend %s already %s", store.ErrDuplicateEvent, spendId, target)
	}
	return fmt.Errorf("%w: cannot %s spend %s in status %s", store.ErrInvalidTransition, action, spendId, spend.Status)
}
