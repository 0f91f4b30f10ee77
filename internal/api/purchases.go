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

// ConfirmPurchase handles a settlement confirmation from the payment
// provider. The risk level sizes the clearing hold; a redelivered
// confirmation is acknowledged as a duplicate without creating anything.
func (s *LedgerService) ConfirmPurchase(ctx context.Context, confirmation models.PaymentConfirmation) (*models.PurchaseResult, error) {
	if confirmation.UserId == "" || confirmation.ExternalRef == "" {
		zap.L().Error("Invalid payment confirmation",
			zap.String("user_id", confirmation.UserId),
			zap.String("external_ref", confirmation.ExternalRef))
		return &models.PurchaseResult{
			Success: false,
			Error:   "user_id and external_ref are required",
		}, nil
	}

	zap.L().Info("Processing payment confirmation",
		zap.String("user_id", confirmation.UserId),
		zap.String("external_ref", confirmation.ExternalRef),
		zap.Int64("fiat_amount", confirmation.FiatAmount),
		zap.Int64("credit_amount", confirmation.CreditAmount),
		zap.String("risk_level", confirmation.RiskLevel))

	purchase, err := s.store.CreatePurchase(ctx, store.CreatePurchaseParams{
		UserId:          confirmation.UserId,
		ExternalRef:     confirmation.ExternalRef,
		FiatAmount:      confirmation.FiatAmount,
		CreditAmount:    confirmation.CreditAmount,
		RiskScore:       confirmation.RiskScore,
		RiskLevel:       confirmation.RiskLevel,
		SettlementDelay: s.riskPolicy.SettlementDelay(confirmation.RiskLevel),
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEvent) {
			zap.L().Info("Duplicate payment confirmation acknowledged",
				zap.String("external_ref", confirmation.ExternalRef))
			return &models.PurchaseResult{
				Success:   true,
				Duplicate: true,
				Purchase:  purchase,
			}, nil
		}
		zap.L().Error("Payment confirmation failed",
			zap.String("external_ref", confirmation.ExternalRef),
			zap.Error(err))
		return &models.PurchaseResult{
			Success: false,
			Error:   err.Error(),
		}, nil
	}

	return &models.PurchaseResult{
		Success:  true,
		Purchase: purchase,
	}, nil
}

// ReportDispute handles a chargeback notification from the payment provider,
// keyed by the provider's reference. A dispute on an already-credited
// purchase is refused: those are resolved out of band, never by clawing back
// credits the user may have already spent.
func (s *LedgerService) ReportDispute(ctx context.Context, externalRef string) error {
	if externalRef == "" {
		return fmt.Errorf("external_ref is required")
	}

	purchase, err := s.store.GetPurchaseByRef(ctx, externalRef)
	if err != nil {
		return fmt.Errorf("failed to resolve dispute reference: %w", err)
	}

	err = s.store.MarkPurchaseDisputed(ctx, purchase.Id)
	if errors.Is(err, store.ErrDuplicateEvent) {
		zap.L().Info("Duplicate dispute acknowledged",
			zap.String("external_ref", externalRef),
			zap.String("purchase_id", purchase.Id))
		return nil
	}
	return err
}

// GetPurchaseHistory returns all purchases for a user, newest first.
func (s *LedgerService) GetPurchaseHistory(ctx context.Context, userId string) ([]models.Purchase, error) {
	if userId == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	purchases, err := s.store.GetPurchases(ctx, userId)
	if err != nil {
		zap.L().Error("Failed to get purchase history", zap.String("user_id", userId), zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve purchases")
	}
	return purchases, nil
}
