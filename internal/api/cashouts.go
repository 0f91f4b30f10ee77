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

package api

import (
	"context"
	"errors"
	"fmt"

	"juice-ledger-go/internal/models"
	"juice-ledger-go/internal/store"

	"go.uber.org/zap"
)

// InitiateCashOut debits the user and opens the cash-out delay window.
func (s *LedgerService) InitiateCashOut(ctx context.Context, req models.CashOutRequest) (*models.CashOutResult, error) {
	if req.UserId == "" || req.Destination == "" || req.ChainId == "" {
		return &models.CashOutResult{
			Success: false,
			Error:   "user_id, destination, and chain_id are required",
		}, nil
	}

	cashOut, err := s.store.InitiateCashOut(ctx, req)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientBalance) {
			zap.L().Info("Cash-out refused for insufficient balance",
				zap.String("user_id", req.UserId),
				zap.Int64("amount", req.Amount))
		} else {
			zap.L().Error("Cash-out initiation failed",
				zap.String("user_id", req.UserId),
				zap.Int64("amount", req.Amount),
				zap.Error(err))
		}
		return &models.CashOutResult{
			Success: false,
			Error:   err.Error(),
		}, nil
	}

	balance, err := s.store.GetBalance(ctx, req.UserId)
	if err != nil {
		zap.L().Error("Balance lookup failed after cash-out initiation",
			zap.String("user_id", req.UserId),
			zap.Error(err))
		return &models.CashOutResult{
			Success: true,
			CashOut: cashOut,
		}, nil
	}

	return &models.CashOutResult{
		Success:    true,
		CashOut:    cashOut,
		NewBalance: balance.Balance,
	}, nil
}

// CancelCashOut refunds a cash-out still inside its delay window. A repeated
// cancel is acknowledged without a second refund.
func (s *LedgerService) CancelCashOut(ctx context.Context, cashOutId string) (*models.CashOutResult, error) {
	if cashOutId == "" {
		return &models.CashOutResult{
			Success: false,
			Error:   "cash_out_id is required",
		}, nil
	}

	err := s.store.CancelCashOut(ctx, cashOutId)
	if err != nil && !errors.Is(err, store.ErrDuplicateEvent) {
		if errors.Is(err, store.ErrInvalidTransition) {
			zap.L().Info("Cash-out cancellation refused",
				zap.String("cash_out_id", cashOutId),
				zap.Error(err))
		} else {
			zap.L().Error("Cash-out cancellation failed",
				zap.String("cash_out_id", cashOutId),
				zap.Error(err))
		}
		return &models.CashOutResult{
			Success: false,
			Error:   err.Error(),
		}, nil
	}

	cashOut, lookupErr := s.store.GetCashOut(ctx, cashOutId)
	if lookupErr != nil {
		return &models.CashOutResult{Success: true}, nil
	}
	balance, lookupErr := s.store.GetBalance(ctx, cashOut.UserId)
	if lookupErr != nil {
		return &models.CashOutResult{Success: true, CashOut: cashOut}, nil
	}
	return &models.CashOutResult{
		Success:    true,
		CashOut:    cashOut,
		NewBalance: balance.Balance,
	}, nil
}

// RecordPayoutResult applies the on-chain outcome of a payout attempt. A
// failure releases the cash-out back to pending so a later sweep retries it;
// the user's funds stay debited either way.
func (s *LedgerService) RecordPayoutResult(ctx context.Context, cashOutId string, outcome models.PayoutOutcome) error {
	if cashOutId == "" {
		return fmt.Errorf("cash_out_id is required")
	}

	var err error
	if outcome.Success {
		err = s.store.CompleteCashOut(ctx, cashOutId, outcome.TxHash)
	} else {
		err = s.store.ReleaseCashOutForRetry(ctx, cashOutId, outcome.Error)
	}
	if errors.Is(err, store.ErrDuplicateEvent) {
		zap.L().Info("Duplicate payout result acknowledged", zap.String("cash_out_id", cashOutId))
		return nil
	}
	return err
}

// GetCashOutHistory returns all cash-outs for a user, newest first.
func (s *LedgerService) GetCashOutHistory(ctx context.Context, userId string) ([]models.CashOut, error) {
	if userId == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	cashOuts, err := s.store.GetCashOuts(ctx, userId)
	if err != nil {
		zap.L().Error("Failed to get cash-out history", zap.String("user_id", userId), zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve cash-outs")
	}
	return cashOuts, nil
}
