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

package formance

import (
	"context"
	"fmt"
	"strconv"

	"juice-ledger-go/internal/models"

	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// Numscript templates -- one per balance-affecting event type. All metadata
// is set inside the script via set_tx_meta() so the Formance transaction is
// fully self-describing.
//
// Account chart:
//   @world                    fiat on-ramp (purchase credits minted here)
//   @users:<user_id>          a user's credit balance
//   @treasury:spends          credits consumed by on-chain spends
//   @treasury:cash_outs       credits held for or consumed by payouts
// ---------------------------------------------------------------------------

const numscriptDeposit = `vars {
  asset $asset
  number $amount
  account $user_id
  string $event_id
  string $purchase_id
}

send [$asset $amount] (
  source = @world
  destination = @users:$user_id
)

set_tx_meta("event_type", "deposit")
set_tx_meta("event_id", $event_id)
set_tx_meta("purchase_id", $purchase_id)
`

const numscriptUsage = `vars {
  asset $asset
  number $amount
  account $user_id
  account $sink
  string $event_id
  string $link_id
}

send [$asset $amount] (
  source = @users:$user_id
  destination = @treasury:$sink
)

set_tx_meta("event_type", "usage")
set_tx_meta("event_id", $event_id)
set_tx_meta("link_id", $link_id)
`

const numscriptRefund = `vars {
  asset $asset
  number $amount
  account $user_id
  account $source
  string $event_id
  string $link_id
}

send [$asset $amount] (
  source = @treasury:$source
  destination = @users:$user_id
)

set_tx_meta("event_type", "refund")
set_tx_meta("event_id", $event_id)
set_tx_meta("link_id", $link_id)
`

// MirrorEvent posts a single ledger event as a Formance transaction. The
// event id is used as the transaction Reference, so replaying an event is a
// no-op: Formance rejects the duplicate reference with a CONFLICT and we
// swallow it.
func (s *Service) MirrorEvent(ctx context.Context, event models.LedgerEvent) error {
	script, vars, err := scriptForEvent(event)
	if err != nil {
		return err
	}

	postTx := shared.V2PostTransaction{
		Reference: strPtr(event.Id),
		Script: &shared.V2PostTransactionScript{
			Plain: script,
			Vars:  vars,
		},
	}
	if !event.CreatedAt.IsZero() {
		ts := event.CreatedAt
		postTx.Timestamp = &ts
	}

	_, err = s.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger:            s.ledger,
		V2PostTransaction: postTx,
	})
	if err != nil {
		if isConflictError(err) {
			zap.L().Debug("Event already mirrored", zap.String("event_id", event.Id))
			return nil
		}
		return fmt.Errorf("error mirroring event %s: %w", event.Id, err)
	}

	zap.L().Info("Event mirrored to Formance",
		zap.String("event_id", event.Id),
		zap.String("event_type", string(event.Type)),
		zap.String("user_id", event.UserId),
		zap.Int64("amount", event.Amount))
	return nil
}

// scriptForEvent selects the Numscript template and variable bindings for a
// ledger event. Usage and refund events are linked to exactly one of a spend
// or a cash-out; the link decides which treasury account the credits move
// through.
func scriptForEvent(event models.LedgerEvent) (string, map[string]string, error) {
	amount := strconv.FormatInt(event.Amount, 10)

	switch event.Type {
	case models.LedgerEventDeposit:
		return numscriptDeposit, map[string]string{
			"asset":       creditAsset,
			"amount":      amount,
			"user_id":     event.UserId,
			"event_id":    event.Id,
			"purchase_id": event.PurchaseId,
		}, nil

	case models.LedgerEventUsage:
		sink, linkId, err := eventLink(event)
		if err != nil {
			return "", nil, err
		}
		return numscriptUsage, map[string]string{
			"asset":    creditAsset,
			"amount":   amount,
			"user_id":  event.UserId,
			"sink":     sink,
			"event_id": event.Id,
			"link_id":  linkId,
		}, nil

	case models.LedgerEventRefund:
		source, linkId, err := eventLink(event)
		if err != nil {
			return "", nil, err
		}
		return numscriptRefund, map[string]string{
			"asset":    creditAsset,
			"amount":   amount,
			"user_id":  event.UserId,
			"source":   source,
			"event_id": event.Id,
			"link_id":  linkId,
		}, nil
	}
	return "", nil, fmt.Errorf("unknown ledger event type %q for event %s", event.Type, event.Id)
}

// eventLink returns the treasury account segment and the linked record id.
func eventLink(event models.LedgerEvent) (string, string, error) {
	switch {
	case event.SpendId != "":
		return "spends", event.SpendId, nil
	case event.CashOutId != "":
		return "cash_outs", event.CashOutId, nil
	}
	return "", "", fmt.Errorf("event %s has no spend or cash-out link", event.Id)
}
