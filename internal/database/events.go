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
	"time"

	"juice-ledger-go/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// insertLedgerEvent appends one event inside the caller's transaction. The
// event log is append-only: nothing in this package updates or deletes a
// ledger_events row after this insert.
func insertLedgerEvent(ctx context.Context, tx *sql.Tx, event models.LedgerEvent, now time.Time) error {
	event.Id = uuid.New().String()
	event.CreatedAt = now
	_, err := tx.ExecContext(ctx, queryInsertLedgerEvent,
		event.Id, event.UserId, event.Type, event.Amount,
		event.PurchaseId, event.SpendId, event.CashOutId, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert ledger event: %w", err)
	}
	return nil
}

// GetLedgerEvents returns a page of a user's events, newest first.
func (s *Service) GetLedgerEvents(ctx context.Context, userId string, limit, offset int) ([]models.LedgerEvent, error) {
	rows, err := s.db.QueryContext(ctx, queryGetUserLedgerEvents, userId, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger events: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var events []models.LedgerEvent
	for rows.Next() {
		var event models.LedgerEvent
		err := rows.Scan(&event.Id, &event.UserId, &event.Type, &event.Amount,
			&event.PurchaseId, &event.SpendId, &event.CashOutId, &event.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger event rows: %w", err)
	}
	return events, nil
}

// ListLedgerEventsAfter returns events past the given rowid in insertion
// order, for the export tailer. The second return value is the rowid of the
// last event returned, or afterRowId when the batch is empty.
func (s *Service) ListLedgerEventsAfter(ctx context.Context, afterRowId int64, limit int) ([]models.LedgerEvent, int64, error) {
	rows, err := s.db.QueryContext(ctx, queryListLedgerEventsAfter, afterRowId, limit)
	if err != nil {
		return nil, afterRowId, fmt.Errorf("failed to query ledger events: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var events []models.LedgerEvent
	lastRowId := afterRowId
	for rows.Next() {
		var event models.LedgerEvent
		var rowId int64
		err := rows.Scan(&rowId, &event.Id, &event.UserId, &event.Type, &event.Amount,
			&event.PurchaseId, &event.SpendId, &event.CashOutId, &event.CreatedAt)
		if err != nil {
			return nil, afterRowId, fmt.Errorf("failed to scan ledger event: %w", err)
		}
		events = append(events, event)
		lastRowId = rowId
	}
	if err := rows.Err(); err != nil {
		return nil, afterRowId, fmt.Errorf("error iterating ledger event rows: %w", err)
	}
	return events, lastRowId, nil
}

// GetExportCursor returns the last exported rowid for the named consumer,
// or 0 when the consumer has never run.
func (s *Service) GetExportCursor(ctx context.Context, name string) (int64, error) {
	var lastRowId int64
	err := s.db.QueryRowContext(ctx, queryGetExportCursor, name).Scan(&lastRowId)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get export cursor: %w", err)
	}
	return lastRowId, nil
}

func (s *Service) SetExportCursor(ctx context.Context, name string, lastRowId int64) error {
	_, err := s.db.ExecContext(ctx, querySetExportCursor, name, lastRowId, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set export cursor: %w", err)
	}
	return nil
}
