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

package store

import (
	"context"
	"errors"
	"time"

	"juice-ledger-go/internal/models"

	"github.com/shopspring/decimal"
)

// Sentinel errors shared across all backend implementations. Every error a
// state-machine call can return wraps exactly one of these, so callers match
// with errors.Is and never parse messages.
var (
	// ErrInsufficientBalance: a guarded debit found balance < amount. The
	// dependent record (spend, cash-out) is never created.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrDuplicateEvent: a repeated external event for an already-terminal
	// record. Treated as no-op success at the service layer.
	ErrDuplicateEvent = errors.New("duplicate event")

	// ErrInvalidTransition: a status change that violates the state machine,
	// e.g. crediting a disputed purchase or cancelling a processing cash-out.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrRetryExhausted: a spend has already consumed its retry budget.
	ErrRetryExhausted = errors.New("retry budget exhausted")

	ErrNotFound      = errors.New("record not found")
	ErrInvalidAmount = errors.New("amount must be positive")
)

// CreatePurchaseParams contains the parameters for recording a fiat purchase.
type CreatePurchaseParams struct {
	UserId          string
	ExternalRef     string
	FiatAmount      int64
	CreditAmount    int64
	RiskScore       int
	RiskLevel       string
	SettlementDelay time.Duration
}

// Store defines the contract the ledger core exposes to collaborators.
// The SQLite backend is the source of truth; every state transition commits
// its status change, balance delta, and ledger event as one transaction.
type Store interface {
	// --- Purchase clearing ---

	// CreatePurchase records a confirmed fiat purchase in clearing state.
	// ExternalRef is unique: a repeated confirmation returns the EXISTING
	// purchase together with an error wrapping ErrDuplicateEvent. Callers
	// acknowledging duplicates as no-op success must read the returned
	// record instead of discarding it with the error.
	CreatePurchase(ctx context.Context, params CreatePurchaseParams) (*models.Purchase, error)
	GetPurchaseByRef(ctx context.Context, externalRef string) (*models.Purchase, error)
	MarkPurchaseDisputed(ctx context.Context, purchaseId string) error
	CreditPurchase(ctx context.Context, purchaseId string) error
	CreditDuePurchases(ctx context.Context, limit int) (int, error)
	GetPurchases(ctx context.Context, userId string) ([]models.Purchase, error)

	// --- Spends ---
	InitiateSpend(ctx context.Context, req models.SpendRequest) (*models.Spend, error)
	MarkSpendExecuting(ctx context.Context, spendId string) error
	CompleteSpend(ctx context.Context, spendId, txHash string, tokensReceived decimal.Decimal) error
	RequeueSpend(ctx context.Context, spendId, execError string) error
	FailSpend(ctx context.Context, spendId, execError string) error
	ListRetriableSpends(ctx context.Context, limit int) ([]models.Spend, error)
	GetSpend(ctx context.Context, spendId string) (*models.Spend, error)
	GetSpends(ctx context.Context, userId string) ([]models.Spend, error)

	// --- Cash-outs ---
	InitiateCashOut(ctx context.Context, req models.CashOutRequest) (*models.CashOut, error)
	ListReleasableCashOuts(ctx context.Context, limit int) ([]models.CashOut, error)
	MarkCashOutProcessing(ctx context.Context, cashOutId string) error
	CompleteCashOut(ctx context.Context, cashOutId, txHash string) error
	CancelCashOut(ctx context.Context, cashOutId string) error
	ReleaseCashOutForRetry(ctx context.Context, cashOutId, payoutError string) error
	GetCashOut(ctx context.Context, cashOutId string) (*models.CashOut, error)
	GetCashOuts(ctx context.Context, userId string) ([]models.CashOut, error)

	// --- Balances & audit ---
	GetBalance(ctx context.Context, userId string) (*models.Balance, error)
	GetLedgerEvents(ctx context.Context, userId string, limit, offset int) ([]models.LedgerEvent, error)
	VerifyBalance(ctx context.Context, userId string) error

	Close()
}
