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
	"fmt"

	"juice-ledger-go/internal/models"

	"go.uber.org/zap"
)

// GetBalance returns the user's current balance with lifetime counters.
func (s *LedgerService) GetBalance(ctx context.Context, userId string) (*models.Balance, error) {
	if userId == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	balance, err := s.store.GetBalance(ctx, userId)
	if err != nil {
		zap.L().Error("Failed to get balance", zap.String("user_id", userId), zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve balance")
	}
	return balance, nil
}

// GetLedgerHistory returns a page of the user's ledger events, newest first.
func (s *LedgerService) GetLedgerHistory(ctx context.Context, userId string, limit, offset int) ([]models.LedgerEvent, error) {
	if userId == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	events, err := s.store.GetLedgerEvents(ctx, userId, limit, offset)
	if err != nil {
		zap.L().Error("Failed to get ledger history", zap.String("user_id", userId), zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve ledger history")
	}
	return events, nil
}

// VerifyBalance audits the user's balance against the lifetime counters and
// the event log.
func (s *LedgerService) VerifyBalance(ctx context.Context, userId string) error {
	if userId == "" {
		return fmt.Errorf("user_id is required")
	}
	return s.store.VerifyBalance(ctx, userId)
}
