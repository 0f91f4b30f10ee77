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

type Portfolio struct {
	Id   string `json:"id"`
	Name string `json:"name"`
}

type Wallet struct {
	Id     string `json:"id"`
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
	Type   string `json:"type"`
}

// Withdrawal is a submitted Prime withdrawal for a cash-out payout.
type Withdrawal struct {
	ActivityId     string `json:"activity_id"`
	Asset          string `json:"asset"`
	Amount         string `json:"amount"`
	Destination    string `json:"destination"`
	IdempotencyKey string `json:"idempotency_key"`
}
