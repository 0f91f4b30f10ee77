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

package prime

import (
	"context"
	"fmt"

	"juice-ledger-go/internal/config"
	"juice-ledger-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SpendService executes claimed spends as on-chain transfers to the project
// beneficiary, through the same per-chain wallets the payout path uses.
type SpendService struct {
	service     *Service
	portfolioId string
	wallets     map[string]config.PayoutWallet
}

func NewSpendService(service *Service, portfolioId string, wallets map[string]config.PayoutWallet) *SpendService {
	return &SpendService{
		service:     service,
		portfolioId: portfolioId,
		wallets:     wallets,
	}
}

// ExecuteSpend submits the on-chain transfer for one spend. The spend id is
// the Prime idempotency key: a spend retried after an ambiguous failure
// cannot pay the beneficiary twice.
func (s *SpendService) ExecuteSpend(ctx context.Context, spend models.Spend) models.ExecutionOutcome {
	wallet, ok := s.wallets[spend.ChainId]
	if !ok {
		zap.L().Error("No wallet configured for chain",
			zap.String("spend_id", spend.Id),
			zap.String("chain_id", spend.ChainId))
		return models.ExecutionOutcome{
			Success: false,
			Error:   fmt.Sprintf("no wallet configured for chain %s", spend.ChainId),
		}
	}

	amount := decimal.NewFromInt(spend.Amount).Div(decimal.NewFromInt(wallet.CreditsPerUnit))
	asset := wallet.Symbol
	if wallet.Network != "" {
		asset = fmt.Sprintf("%s-%s", wallet.Symbol, wallet.Network)
	}

	withdrawal, err := s.service.CreateWithdrawal(ctx, CreateWithdrawalParams{
		PortfolioId:        s.portfolioId,
		WalletId:           wallet.WalletId,
		DestinationAddress: spend.Beneficiary,
		Amount:             amount.String(),
		Asset:              asset,
		IdempotencyKey:     spend.Id,
	})
	if err != nil {
		return models.ExecutionOutcome{
			Success: false,
			Error:   err.Error(),
		}
	}

	return models.ExecutionOutcome{
		Success:        true,
		TxHash:         withdrawal.ActivityId,
		TokensReceived: amount,
	}
}
