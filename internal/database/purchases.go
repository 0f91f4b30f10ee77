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
	"strings"
	"time"

	"juice-ledger-go/internal/models"
	"juice-ledger-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPurchase(row rowScanner) (*models.Purchase, error) {
	var p models.Purchase
	var creditedAt sql.NullTime
	err := row.Scan(&p.Id, &p.UserId, &p.ExternalRef, &p.FiatAmount, &p.CreditAmount,
		&p.Status, &p.RiskScore, &p.RiskLevel, &p.ClearsAt, &creditedAt, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	if creditedAt.Valid {
		t := creditedAt.Time
		p.CreditedAt = &t
	}
	return &p, nil
}

// CreatePurchase records a fiat funding attempt in clearing status. The
// settlement delay has already been sized from the risk level by the caller;
// clears_at is persisted so the hold survives restarts. A duplicate
// external_ref returns the existing purchase wrapped in ErrDuplicateEvent so
// provider re-confirmations stay no-ops.
func (s *Service) CreatePurchase(ctx context.Context, params store.CreatePurchaseParams) (*models.Purchase, error) {
	if params.CreditAmount <= 0 || params.FiatAmount <= 0 {
		return nil, fmt.Errorf("%w: fiat=%d credits=%d", store.ErrInvalidAmount, params.FiatAmount, params.CreditAmount)
	}
	if params.SettlementDelay <= 0 {
		return nil, fmt.Errorf("settlement delay must be positive, got %v", params.SettlementDelay)
	}

	// Fast path for redelivered confirmations.
	if existing, err := s.GetPurchaseByRef(ctx, params.ExternalRef); err == nil {
		zap.L().Warn("Duplicate purchase confirmation, returning existing record",
			zap.String("external_ref", params.ExternalRef),
			zap.String("purchase_id", existing.Id))
		return existing, fmt.Errorf("%w: external_ref %s already exists", store.ErrDuplicateEvent, params.ExternalRef)
	}

	now := time.Now().UTC()
	purchase := &models.Purchase{
		Id:           uuid.New().String(),
		UserId:       params.UserId,
		ExternalRef:  params.ExternalRef,
		FiatAmount:   params.FiatAmount,
		CreditAmount: params.CreditAmount,
		Status:       models.PurchaseStatusClearing,
		RiskScore:    params.RiskScore,
		RiskLevel:    params.RiskLevel,
		ClearsAt:     now.Add(params.SettlementDelay),
		CreatedAt:    now,
	}

	_, err := s.db.ExecContext(ctx, queryInsertPurchase,
		purchase.Id, purchase.UserId, purchase.ExternalRef, purchase.FiatAmount,
		purchase.CreditAmount, purchase.Status, purchase.RiskScore, purchase.RiskLevel,
		purchase.ClearsAt, purchase.CreatedAt)
	if err != nil {
		// Two confirmations racing past the fast path: the UNIQUE constraint
		// decides, and the loser reads back the winner's row.
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			existing, lookupErr := s.GetPurchaseByRef(ctx, params.ExternalRef)
			if lookupErr != nil {
				return nil, fmt.Errorf("failed to load purchase after unique conflict: %w", lookupErr)
			}
			return existing, fmt.Errorf("%w: external_ref %s already exists", store.ErrDuplicateEvent, params.ExternalRef)
		}
		return nil, fmt.Errorf("failed to insert purchase: %w", err)
	}

	zap.L().Info("Purchase created",
		zap.String("purchase_id", purchase.Id),
		zap.String("user_id", purchase.UserId),
		zap.String("external_ref", purchase.ExternalRef),
		zap.Int64("credit_amount", purchase.CreditAmount),
		zap.String("risk_level", purchase.RiskLevel),
		zap.Time("clears_at", purchase.ClearsAt))
	return purchase, nil
}

func (s *Service) GetPurchase(ctx context.Context, purchaseId string) (*models.Purchase, error) {
	purchase, err := scanPurchase(s.db.QueryRowContext(ctx, queryGetPurchase, purchaseId))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: purchase %s", store.ErrNotFound, purchaseId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get purchase: %w", err)
	}
	return purchase, nil
}

func (s *Service) GetPurchaseByRef(ctx context.Context, externalRef string) (*models.Purchase, error) {
	purchase, err := scanPurchase(s.db.QueryRowContext(ctx, queryGetPurchaseByRef, externalRef))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: external_ref %s", store.ErrNotFound, externalRef)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get purchase by ref: %w", err)
	}
	return purchase, nil
}

func (s *Service) GetPurchases(ctx context.Context, userId string) ([]models.Purchase, error) {
	rows, err := s.db.QueryContext(ctx, queryGetUserPurchases, userId)
	if err != nil {
		return nil, fmt.Errorf("failed to query purchases: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var purchases []models.Purchase
	for rows.Next() {
		purchase, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan purchase: %w", err)
		}
		purchases = append(purchases, *purchase)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating purchase rows: %w", err)
	}
	return purchases, nil
}

// MarkPurchaseDisputed moves a clearing purchase to disputed, terminally.
// Funds were never credited, so there is no balance effect; the dispute only
// blocks the credit path forever.
func (s *Service) MarkPurchaseDisputed(ctx context.Context, purchaseId string) error {
	result, err := s.db.ExecContext(ctx, queryMarkPurchaseDisputed, purchaseId)
	if err != nil {
		return fmt.Errorf("failed to mark purchase disputed: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 1 {
		zap.L().Warn("Purchase disputed", zap.String("purchase_id", purchaseId))
		return nil
	}

	purchase, err := s.GetPurchase(ctx, purchaseId)
	if err != nil {
		return err
	}
	switch purchase.Status {
	case models.PurchaseStatusDisputed:
		return fmt.Errorf("%w: purchase %s already disputed", store.ErrDuplicateEvent, purchaseId)
	default:
		return fmt.Errorf("%w: cannot dispute purchase %s in status %s", store.ErrInvalidTransition, purchaseId, purchase.Status)
	}
}

// CreditPurchase finalizes a clearing purchase whose settlement delay has
// passed: status flips to credited, the balance is credited, and a deposit
// event is appended, all in one transaction. The status and clears_at guards
// live in the UPDATE itself, so a disputed purchase can never credit and
// concurrent sweeps credit at most once.
func (s *Service) CreditPurchase(ctx context.Context, purchaseId string) error {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, queryCreditPurchase, now, purchaseId, now)
	if err != nil {
		return fmt.Errorf("failed to credit purchase: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}

	if rowsAffected == 0 {
		purchase, err := scanPurchase(tx.QueryRowContext(ctx, queryGetPurchase, purchaseId))
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: purchase %s", store.ErrNotFound, purchaseId)
		}
		if err != nil {
			return fmt.Errorf("failed to inspect purchase: %w", err)
		}
		switch purchase.Status {
		case models.PurchaseStatusCredited:
			return fmt.Errorf("%w: purchase %s already credited", store.ErrDuplicateEvent, purchaseId)
		case models.PurchaseStatusDisputed:
			return fmt.Errorf("%w: purchase %s is disputed", store.ErrInvalidTransition, purchaseId)
		default:
			return fmt.Errorf("%w: purchase %s still clearing until %s", store.ErrInvalidTransition,
				purchaseId, purchase.ClearsAt.Format(time.RFC3339))
		}
	}

	purchase, err := scanPurchase(tx.QueryRowContext(ctx, queryGetPurchase, purchaseId))
	if err != nil {
		return fmt.Errorf("failed to load credited purchase: %w", err)
	}

	if err := creditBalance(ctx, tx, purchase.UserId, purchase.CreditAmount, now); err != nil {
		return err
	}
	if err := insertLedgerEvent(ctx, tx, models.LedgerEvent{
		UserId:     purchase.UserId,
		Type:       models.LedgerEventDeposit,
		Amount:     purchase.CreditAmount,
		PurchaseId: purchase.Id,
	}, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Purchase credited",
		zap.String("purchase_id", purchase.Id),
		zap.String("user_id", purchase.UserId),
		zap.Int64("credit_amount", purchase.CreditAmount))
	return nil
}

// CreditDuePurchases sweeps all clearing purchases whose clears_at has passed
// and credits each one. Safe to run concurrently with request-driven credits:
// every CreditPurchase carries its own status guard, so the duplicate just
// loses the conditional update. Returns the number credited.
func (s *Service) CreditDuePurchases(ctx context.Context, limit int) (int, error) {
	rows, err := s.db.QueryContext(ctx, queryListDuePurchaseIds, time.Now().UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list due purchases: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan purchase id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("error iterating due purchases: %w", err)
	}
	rows.Close()

	credited := 0
	for _, id := range ids {
		if err := s.CreditPurchase(ctx, id); err != nil {
			// Lost the race to another sweep or a dispute landed in between.
			zap.L().Debug("Skipping purchase during sweep", zap.String("purchase_id", id), zap.Error(err))
			continue
		}
		credited++
	}
	return credited, nil
}
