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

	"juice-ledger-go/internal/config"
	"juice-ledger-go/internal/store"
)

// LedgerService is the operation surface over the credit ledger. It applies
// the risk policy, translates store sentinels into caller-facing results,
// and owns the retry decision for failed executions.
type LedgerService struct {
	store      store.Store
	riskPolicy *config.RiskPolicy
}

func NewLedgerService(st store.Store, riskPolicy *config.RiskPolicy) *LedgerService {
	if riskPolicy == nil {
		riskPolicy = config.DefaultRiskPolicy()
	}
	return &LedgerService{
		store:      st,
		riskPolicy: riskPolicy,
	}
}

func (s *LedgerService) HealthCheck(ctx context.Context) error {
	if _, err := s.store.GetBalance(ctx, "health-check"); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
