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

// PayoutService pays released cash-outs on chain through Prime withdrawals.
type PayoutService struct {
	service     *Service
	portfolioId string
	wallets     map[string]config.PayoutWallet
}

func NewPayoutService(service *Service, portfolioId string, wallets map[string]config.PayoutWallet) *PayoutService {
	return &PayoutService{
		service:     service,
		portfolioId: portfolioId,
		wallets:     wallets,
	}
}

// ExecutePayout submits the withdrawal for one cash-out. The cash-out id is
// the Prime idempotency key, so a payout retried after an ambiguous failure
// cannot pay the same cash-out twice.
func (p *PayoutService) ExecutePayout(ctx context.Context, cashOut models.CashOut) models.PayoutOutcome {
	wallet, ok := p.wallets[cashOut.ChainId]
	if !ok {
		zap.L().Error("No payout wallet configured for chain",
			zap.String("cash_out_id", cashOut.Id),
			zap.String("chain_id", cashOut.ChainId))
		return models.PayoutOutcome{
			Success: false,
			Error:   fmt.Sprintf("no payout wallet configured for chain %s", cashOut.ChainId),
		}
	}

	amount := decimal.NewFromInt(cashOut.Amount).Div(decimal.NewFromInt(wallet.CreditsPerUnit))
	asset := wallet.Symbol
	if wallet.Network != "" {
		asset = fmt.Sprintf("%s-%s", wallet.Symbol, wallet.Network)
	}

	withdrawal, err := p.service.CreateWithdrawal(ctx, CreateWithdrawalParams{
		PortfolioId:        p.portfolioId,
		WalletId:           wallet.WalletId,
		DestinationAddress: cashOut.Destination,
		Amount:             amount.String(),
		Asset:              asset,
		IdempotencyKey:     cashOut.Id,
	})
	if err != nil {
		return models.PayoutOutcome{
			Success: false,
			Error:   err.Error(),
		}
	}

	return models.PayoutOutcome{
		Success: true,
		TxHash:  withdrawal.ActivityId,
	}
}
