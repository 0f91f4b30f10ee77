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

import "github.com/shopspring/decimal"

// PaymentConfirmation is the inbound event from the payment provider when a
// fiat purchase settles. ExternalRef is the provider's unique reference;
// re-delivery of the same ref must not double-credit.
type PaymentConfirmation struct {
	UserId       string `json:"user_id"`
	ExternalRef  string `json:"external_ref"`
	FiatAmount   int64  `json:"fiat_amount"`
	CreditAmount int64  `json:"credit_amount"`
	RiskScore    int    `json:"risk_score"`
	RiskLevel    string `json:"risk_level"`
}

// SpendRequest is the inbound request to debit credits toward an on-chain
// payment target.
type SpendRequest struct {
	UserId      string `json:"user_id"`
	Amount      int64  `json:"amount"`
	ProjectId   string `json:"project_id"`
	ChainId     string `json:"chain_id"`
	Beneficiary string `json:"beneficiary"`
	Memo        string `json:"memo,omitempty"`
}

// CashOutRequest is the inbound request to withdraw credits back to crypto.
type CashOutRequest struct {
	UserId      string `json:"user_id"`
	Amount      int64  `json:"amount"`
	Destination string `json:"destination"`
	ChainId     string `json:"chain_id"`
}

// ExecutionOutcome is the on-chain execution result for a spend, reported by
// the execution collaborator.
type ExecutionOutcome struct {
	Success        bool            `json:"success"`
	TxHash         string          `json:"tx_hash,omitempty"`
	TokensReceived decimal.Decimal `json:"tokens_received"`
	Error          string          `json:"error,omitempty"`
}

// PayoutOutcome is the on-chain payout result for a cash-out, reported by the
// payout collaborator.
type PayoutOutcome struct {
	Success bool   `json:"success"`
	TxHash  string `json:"tx_hash,omitempty"`
	Error   string `json:"error,omitempty"`
}

// PurchaseResult reports the outcome of a payment confirmation.
type PurchaseResult struct {
	Success   bool      `json:"success"`
	Duplicate bool      `json:"duplicate,omitempty"`
	Purchase  *Purchase `json:"purchase,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// SpendResult reports the outcome of a spend initiation.
type SpendResult struct {
	Success    bool   `json:"success"`
	Spend      *Spend `json:"spend,omitempty"`
	NewBalance int64  `json:"new_balance"`
	Error      string `json:"error,omitempty"`
}

// CashOutResult reports the outcome of a cash-out initiation or cancellation.
type CashOutResult struct {
	Success    bool     `json:"success"`
	CashOut    *CashOut `json:"cash_out,omitempty"`
	NewBalance int64    `json:"new_balance"`
	Error      string   `json:"error,omitempty"`
}
