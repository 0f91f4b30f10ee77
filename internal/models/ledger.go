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

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// All ledger amounts are int64 minor units (credit cents). Never float, and
// decimal only at the edges: display formatting and on-chain token amounts.

// PurchaseStatus is the clearing state of a fiat-funded purchase.
type PurchaseStatus string

const (
	PurchaseStatusClearing PurchaseStatus = "clearing"
	PurchaseStatusCredited PurchaseStatus = "credited"
	PurchaseStatusDisputed PurchaseStatus = "disputed"
)

// SpendStatus is the execution state of an outbound payment attempt.
type SpendStatus string

const (
	SpendStatusPending   SpendStatus = "pending"
	SpendStatusExecuting SpendStatus = "executing"
	SpendStatusCompleted SpendStatus = "completed"
	SpendStatusFailed    SpendStatus = "failed"
)

// CashOutStatus is the state of a withdrawal request.
type CashOutStatus string

const (
	CashOutStatusPending    CashOutStatus = "pending"
	CashOutStatusProcessing CashOutStatus = "processing"
	CashOutStatusCompleted  CashOutStatus = "completed"
	CashOutStatusCancelled  CashOutStatus = "cancelled"
)

// LedgerEventType classifies a balance-affecting event.
type LedgerEventType string

const (
	LedgerEventDeposit LedgerEventType = "deposit"
	LedgerEventUsage   LedgerEventType = "usage"
	LedgerEventRefund  LedgerEventType = "refund"
)

// LifetimeCounter names the running total a debit or refund applies to.
type LifetimeCounter string

const (
	CounterPurchased LifetimeCounter = "purchased"
	CounterSpent     LifetimeCounter = "spent"
	CounterCashedOut LifetimeCounter = "cashed_out"
)

// Balance is a user's current spendable credits plus lifetime totals.
// Invariant after every committed transaction:
// Balance == LifetimePurchased - LifetimeSpent - LifetimeCashedOut.
type Balance struct {
	UserId            string    `json:"user_id"`
	Balance           int64     `json:"balance"`
	LifetimePurchased int64     `json:"lifetime_purchased"`
	LifetimeSpent     int64     `json:"lifetime_spent"`
	LifetimeCashedOut int64     `json:"lifetime_cashed_out"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Purchase is one fiat funding attempt. ExternalRef is the payment provider's
// reference and is unique -- duplicate confirmations are no-ops.
type Purchase struct {
	Id           string         `json:"id"`
	UserId       string         `json:"user_id"`
	ExternalRef  string         `json:"external_ref"`
	FiatAmount   int64          `json:"fiat_amount"`
	CreditAmount int64          `json:"credit_amount"`
	Status       PurchaseStatus `json:"status"`
	RiskScore    int            `json:"risk_score"`
	RiskLevel    string         `json:"risk_level"`
	ClearsAt     time.Time      `json:"clears_at"`
	CreditedAt   *time.Time     `json:"credited_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Spend is one outbound payment attempt against a project on a chain.
// The balance debit happens at initiation; completion carries no further
// balance effect and failure refunds the debit.
type Spend struct {
	Id             string          `json:"id"`
	UserId         string          `json:"user_id"`
	Amount         int64           `json:"amount"`
	ProjectId      string          `json:"project_id"`
	ChainId        string          `json:"chain_id"`
	Beneficiary    string          `json:"beneficiary"`
	Memo           string          `json:"memo,omitempty"`
	Status         SpendStatus     `json:"status"`
	RetryCount     int             `json:"retry_count"`
	TxHash         string          `json:"tx_hash,omitempty"`
	TokensReceived decimal.Decimal `json:"tokens_received"`
	LastError      string          `json:"last_error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// CashOut is one withdrawal request. Debited immediately, releasable on-chain
// only once AvailableAt has passed.
type CashOut struct {
	Id          string        `json:"id"`
	UserId      string        `json:"user_id"`
	Amount      int64         `json:"amount"`
	Destination string        `json:"destination"`
	ChainId     string        `json:"chain_id"`
	Status      CashOutStatus `json:"status"`
	AvailableAt time.Time     `json:"available_at"`
	TxHash      string        `json:"tx_hash,omitempty"`
	LastError   string        `json:"last_error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// LedgerEvent is an immutable audit record of a single balance-affecting
// action. Rows are only ever inserted; reconciliation reads them back.
type LedgerEvent struct {
	Id         string          `json:"id"`
	UserId     string          `json:"user_id"`
	Type       LedgerEventType `json:"type"`
	Amount     int64           `json:"amount"`
	PurchaseId string          `json:"purchase_id,omitempty"`
	SpendId    string          `json:"spend_id,omitempty"`
	CashOutId  string          `json:"cash_out_id,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
