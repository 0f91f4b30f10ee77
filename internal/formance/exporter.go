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
	"time"

	"juice-ledger-go/internal/models"

	"go.uber.org/zap"
)

const (
	exportCursorName      = "formance"
	defaultExportInterval = 30 * time.Second
	defaultExportBatch    = 100
)

// EventSource is the slice of the event log the exporter needs: a rowid
// cursor and a tail read. The SQLite service satisfies it.
type EventSource interface {
	GetExportCursor(ctx context.Context, name string) (int64, error)
	SetExportCursor(ctx context.Context, name string, lastRowId int64) error
	ListLedgerEventsAfter(ctx context.Context, afterRowId int64, limit int) ([]models.LedgerEvent, int64, error)
}

// Exporter tails the ledger event log and mirrors each event into Formance.
// The cursor only advances after a full batch mirrors successfully, so a
// crash mid-batch replays events -- which MirrorEvent absorbs via the
// transaction reference.
type Exporter struct {
	service  *Service
	source   EventSource
	interval time.Duration
	batch    int

	stopChan chan struct{}
	doneChan chan struct{}
}

// NewExporter creates an exporter polling at cfg.ExportInterval.
func NewExporter(service *Service, source EventSource, cfg models.FormanceConfig) *Exporter {
	interval := cfg.ExportInterval
	if interval <= 0 {
		interval = defaultExportInterval
	}
	return &Exporter{
		service:  service,
		source:   source,
		interval: interval,
		batch:    defaultExportBatch,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start launches the export loop. Call Stop to shut it down.
func (e *Exporter) Start(ctx context.Context) {
	zap.L().Info("Starting Formance exporter",
		zap.Duration("interval", e.interval),
		zap.Int("batch_limit", e.batch))
	go e.exportLoop(ctx)
}

// Stop signals the loop to exit and waits for it to drain.
func (e *Exporter) Stop() {
	close(e.stopChan)
	<-e.doneChan
	zap.L().Info("Formance exporter stopped")
}

func (e *Exporter) exportLoop(ctx context.Context) {
	defer close(e.doneChan)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := e.Export(ctx); err != nil {
				zap.L().Error("Export pass failed", zap.Error(err))
			}
		case <-e.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Export mirrors every event past the cursor, batch by batch, until the tail
// is drained. Safe to call from tooling as well as the loop.
func (e *Exporter) Export(ctx context.Context) error {
	cursor, err := e.source.GetExportCursor(ctx, exportCursorName)
	if err != nil {
		return err
	}

	for {
		events, lastRowId, err := e.source.ListLedgerEventsAfter(ctx, cursor, e.batch)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}

		for _, event := range events {
			if err := e.service.MirrorEvent(ctx, event); err != nil {
				// Leave the cursor where it is; the whole batch replays
				// next pass and already-mirrored events no-op.
				return err
			}
		}

		if err := e.source.SetExportCursor(ctx, exportCursorName, lastRowId); err != nil {
			return err
		}
		zap.L().Debug("Export batch mirrored",
			zap.Int("events", len(events)),
			zap.Int64("cursor", lastRowId))
		cursor = lastRowId
	}
}
