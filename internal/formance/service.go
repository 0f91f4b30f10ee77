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
	"errors"
	"fmt"

	"juice-ledger-go/internal/models"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/sdkerrors"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"go.uber.org/zap"
)

// creditAsset is the Formance UMN notation for credits. Credits are integer
// units with no fractional part, hence precision zero.
const creditAsset = "JUICE/0"

// Service mirrors the SQLite ledger into a Formance Stack ledger for
// reconciliation. It is a read-side consumer: the mirror never feeds back
// into balances, and the sweeper runs fine with it disabled.
type Service struct {
	client *v3.Formance
	ledger string
}

// NewService connects to the stack and creates the ledger if it doesn't
// already exist.
func NewService(ctx context.Context, cfg models.FormanceConfig) (*Service, error) {
	if cfg.StackURL == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("formance config requires StackURL, ClientID, and ClientSecret")
	}
	if cfg.LedgerName == "" {
		cfg.LedgerName = "juice-credits"
	}

	zap.L().Info("Connecting to Formance Stack",
		zap.String("stack_url", cfg.StackURL),
		zap.String("ledger", cfg.LedgerName))

	client := v3.New(
		v3.WithServerURL(cfg.StackURL),
		v3.WithSecurity(shared.Security{
			ClientID:     v3.Pointer(cfg.ClientID),
			ClientSecret: v3.Pointer(cfg.ClientSecret),
		}),
	)

	svc := &Service{client: client, ledger: cfg.LedgerName}

	if err := svc.ensureLedger(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure ledger exists: %w", err)
	}

	zap.L().Info("Formance service initialized", zap.String("ledger", cfg.LedgerName))
	return svc, nil
}

// ensureLedger creates the ledger if it does not already exist.
func (s *Service) ensureLedger(ctx context.Context) error {
	_, err := s.client.Ledger.V2.CreateLedger(ctx, operations.V2CreateLedgerRequest{
		Ledger: s.ledger,
		V2CreateLedgerRequest: shared.V2CreateLedgerRequest{
			Metadata: map[string]string{
				"application": "juice-ledger",
			},
		},
	})
	if err != nil {
		var apiErr *sdkerrors.V2ErrorResponse
		if errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumLedgerAlreadyExists {
			zap.L().Info("Ledger already exists", zap.String("ledger", s.ledger))
			return nil
		}
		return err
	}
	zap.L().Info("Ledger created", zap.String("ledger", s.ledger))
	return nil
}

// Close is a no-op for the Formance backend (HTTP client needs no teardown).
func (s *Service) Close() {}

// isConflictError checks whether a Formance SDK error is a CONFLICT
// (duplicate reference).
func isConflictError(err error) bool {
	var apiErr *sdkerrors.V2ErrorResponse
	return errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumConflict
}

func strPtr(s string) *string { return &s }
