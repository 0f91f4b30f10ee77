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

// InitiateSpend debits the user toward an on-chain payment target. The
// debit is immediate; execution happens asynchronously and a terminal
// failure refunds through RecordExecutionResult.
func (s *LedgerService) InitiateSpend(ctx context.Context, req models.SpendRequest) (*models.SpendResult, error) {
	if req.UserId == "" || req.ProjectId == "" || req.ChainId == "" || req.Beneficiary == "" {
		return &models.SpendResult{
			Success: false,
			Error:   "user_id, project_id, chain_id, and beneficiary are required",
		}, nil
	}

	spend, err := s.store.InitiateSpend(ctx, req)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientBalance) {
			zap.L().Info("Spend refused for insufficient balance",
				zap.String("user_id", req.UserId),
				zap.Int64("amount", req.Amount))
		} else {
			zap.L().Error("Spend initiation failed",
				zap.String("user_id", req.UserId),
				zap.Int64("amount", req.Amount),
				zap.Error(err))
		}
		return &models.SpendResult{
			Success: false,
			Error:   err.Error(),
		}, nil
	}

	balance, err := s.store.GetBalance(ctx, req.UserId)
	if err != nil {
		zap.L().Error("Balance lookup failed after spend initiation",
			zap.String("user_id", req.UserId),
			zap.Error(err))
		return &models.SpendResult{
			Success: true,
			Spend:   spend,
		}, nil
	}

	return &models.SpendResult{
		Success:    true,
		Spend:      spend,
		NewBalance: balance.Balance,
	}, nil
}

// RecordExecutionResult applies the on-chain outcome of a spend attempt. A
// success completes the spend; a failure requeues it for another attempt, or
// fails it terminally with a refund once the retry budget is exhausted.
func (s *LedgerService) RecordExecutionResult(ctx context.Context, spendId string, outcome models.ExecutionOutcome) error {
	if spendId == "" {
		return fmt.Errorf("spend_id is required")
	}

	if outcome.Success {
		err := s.store.CompleteSpend(ctx, spendId, outcome.TxHash, outcome.TokensReceived)
		if errors.Is(err, store.ErrDuplicateEvent) {
			zap.L().Info("Duplicate execution result acknowledged", zap.String("spend_id", spendId))
			return nil
		}
		return err
	}

	err := s.store.RequeueSpend(ctx, spendId, outcome.Error)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrRetryExhausted):
		zap.L().Warn("Spend retry budget exhausted, failing terminally",
			zap.String("spend_id", spendId),
			zap.String("error", outcome.Error))
		return s.store.FailSpend(ctx, spendId, outcome.Error)
	case errors.Is(err, store.ErrDuplicateEvent):
		zap.L().Info("Duplicate execution result acknowledged", zap.String("spend_id", spendId))
		return nil
	default:
		return err
	}
}

// GetSpendHistory returns all spends for a user, newest first.
func (s *LedgerService) GetSpendHistory(ctx context.Context, userId string) ([]models.Spend, error) {
	if userId == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	spends, err := s.store.GetSpends(ctx, userId)
	if err != nil {
		zap.L().Error("Failed to get spend history", zap.String("user_id", userId), zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve spends")
	}
	return spends, nil
}
