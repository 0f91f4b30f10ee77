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

const (
	// Balance queries. Debits and refunds are single conditional UPDATEs --
	// the WHERE clause is the concurrency guard, checked via RowsAffected.
	queryEnsureBalanceRow = `
		INSERT INTO balances (user_id, updated_at) VALUES (?, ?)
		ON CONFLICT(user_id) DO NOTHING`

	queryCreditBalance = `
		UPDATE balances
		SET balance = balance + ?, lifetime_purchased = lifetime_purchased + ?, updated_at = ?
		WHERE user_id = ?`

	queryDebitBalanceSpent = `
		UPDATE balances
		SET balance = balance - ?, lifetime_spent = lifetime_spent + ?, updated_at = ?
		WHERE user_id = ? AND balance >= ?`

	queryDebitBalanceCashedOut = `
		UPDATE balances
		SET balance = balance - ?, lifetime_cashed_out = lifetime_cashed_out + ?, updated_at = ?
		WHERE user_id = ? AND balance >= ?`

	queryRefundBalanceSpent = `
		UPDATE balances
		SET balance = balance + ?, lifetime_spent = lifetime_spent - ?, updated_at = ?
		WHERE user_id = ?`

	queryRefundBalanceCashedOut = `
		UPDATE balances
		SET balance = balance + ?, lifetime_cashed_out = lifetime_cashed_out - ?, updated_at = ?
		WHERE user_id = ?`

	queryGetBalance = `
		SELECT user_id, balance, lifetime_purchased, lifetime_spent, lifetime_cashed_out, updated_at
		FROM balances
		WHERE user_id = ?`

	// Purchase queries
	queryInsertPurchase = `
		INSERT INTO purchases (id, user_id, external_ref, fiat_amount, credit_amount,
			status, risk_score, risk_level, clears_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectPurchaseFields = `
		SELECT id, user_id, external_ref, fiat_amount, credit_amount,
		       status, risk_score, risk_level, clears_at, credited_at, created_at
		FROM purchases`

	queryGetPurchase      = selectPurchaseFields + ` WHERE id = ?`
	queryGetPurchaseByRef = selectPurchaseFields + ` WHERE external_ref = ?`

	queryGetUserPurchases = selectPurchaseFields + `
		WHERE user_id = ?
		ORDER BY created_at DESC`

	queryListDuePurchaseIds = `
		SELECT id FROM purchases
		WHERE status = 'clearing' AND clears_at <= ?
		ORDER BY clears_at
		LIMIT ?`

	queryMarkPurchaseDisputed = `
		UPDATE purchases SET status = 'disputed'
		WHERE id = ? AND status = 'clearing'`

	queryCreditPurchase = `
		UPDATE purchases SET status = 'credited', credited_at = ?
		WHERE id = ? AND status = 'clearing' AND clears_at <= ?`

	// Spend queries
	queryInsertSpend = `
		INSERT INTO spends (id, user_id, amount, project_id, chain_id, beneficiary,
			memo, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectSpendFields = `
		SELECT id, user_id, amount, project_id, chain_id, beneficiary, memo,
		       status, retry_count, tx_hash, tokens_received, last_error, created_at, updated_at
		FROM spends`

	queryGetSpend = selectSpendFields + ` WHERE id = ?`

	queryGetUserSpends = selectSpendFields + `
		WHERE user_id = ?
		ORDER BY created_at DESC`

	queryListRetriableSpends = selectSpendFields + `
		WHERE status = 'pending' AND retry_count < ?
		ORDER BY created_at
		LIMIT ?`

	queryMarkSpendExecuting = `
		UPDATE spends SET status = 'executing', updated_at = ?
		WHERE id = ? AND status = 'pending'`

	queryCompleteSpend = `
		UPDATE spends SET status = 'completed', tx_hash = ?, tokens_received = ?, updated_at = ?
		WHERE id = ? AND status = 'executing'`

	queryRequeueSpend = `
		UPDATE spends SET status = 'pending', retry_count = retry_count + 1, last_error = ?, updated_at = ?
		WHERE id = ? AND status IN ('pending', 'executing') AND retry_count + 1 < ?`

	queryFailSpend = `
		UPDATE spends SET status = 'failed', last_error = ?, updated_at = ?
		WHERE id = ? AND status IN ('pending', 'executing')`

	// Cash-out queries
	queryInsertCashOut = `
		INSERT INTO cash_outs (id, user_id, amount, destination, chain_id,
			status, available_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectCashOutFields = `
		SELECT id, user_id, amount, destination, chain_id, status, available_at,
		       tx_hash, last_error, created_at, updated_at
		FROM cash_outs`

	queryGetCashOut = selectCashOutFields + ` WHERE id = ?`

	queryGetUserCashOuts = selectCashOutFields + `
		WHERE user_id = ?
		ORDER BY created_at DESC`

	queryListReleasableCashOuts = selectCashOutFields + `
		WHERE status = 'pending' AND available_at <= ?
		ORDER BY available_at
		LIMIT ?`

	queryMarkCashOutProcessing = `
		UPDATE cash_outs SET status = 'processing', updated_at = ?
		WHERE id = ? AND status = 'pending'`

	queryCompleteCashOut = `
		UPDATE cash_outs SET status = 'completed', tx_hash = ?, updated_at = ?
		WHERE id = ? AND status = 'processing'`

	queryCancelCashOut = `
		UPDATE cash_outs SET status = 'cancelled', updated_at = ?
		WHERE id = ? AND status = 'pending'`

	queryReleaseCashOutForRetry = `
		UPDATE cash_outs SET status = 'pending', last_error = ?, updated_at = ?
		WHERE id = ? AND status = 'processing'`

	// Ledger event queries
	queryInsertLedgerEvent = `
		INSERT INTO ledger_events (id, user_id, event_type, amount,
			purchase_id, spend_id, cash_out_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetUserLedgerEvents = `
		SELECT id, user_id, event_type, amount, purchase_id, spend_id, cash_out_id, created_at
		FROM ledger_events
		WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?`

	queryListLedgerEventsAfter = `
		SELECT rowid, id, user_id, event_type, amount, purchase_id, spend_id, cash_out_id, created_at
		FROM ledger_events
		WHERE rowid > ?
		ORDER BY rowid
		LIMIT ?`

	// Reconciliation: the event log must reproduce both the balance and the
	// individual lifetime counters.
	queryEventSums = `
		SELECT
			COALESCE(SUM(CASE WHEN event_type = 'deposit' THEN amount ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN event_type = 'usage' AND spend_id != '' THEN amount ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN event_type = 'refund' AND spend_id != '' THEN amount ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN event_type = 'usage' AND cash_out_id != '' THEN amount ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN event_type = 'refund' AND cash_out_id != '' THEN amount ELSE 0 END), 0)
		FROM ledger_events
		WHERE user_id = ?`

	// Export cursor queries
	queryGetExportCursor = `
		SELECT last_row_id FROM export_cursors WHERE name = ?`

	querySetExportCursor = `
		INSERT INTO export_cursors (name, last_row_id, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET last_row_id = excluded.last_row_id, updated_at = excluded.updated_at`
)
