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

package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"juice-ledger-go/internal/api"
	"juice-ledger-go/internal/models"
	"juice-ledger-go/internal/store"

	"go.uber.org/zap"
)

const (
	defaultSweepInterval   = 30 * time.Second
	defaultCleanupInterval = 15 * time.Minute
	defaultProcessedTTL    = 6 * time.Hour
	defaultBatchLimit      = 100
)

// SpendExecutor performs the on-chain payment for a claimed spend.
type SpendExecutor interface {
	ExecuteSpend(ctx context.Context, spend models.Spend) models.ExecutionOutcome
}

// PayoutExecutor performs the on-chain payout for a claimed cash-out.
type PayoutExecutor interface {
	ExecutePayout(ctx context.Context, cashOut models.CashOut) models.PayoutOutcome
}

// Config contains configuration for the Sweeper.
type Config struct {
	ApiService      *api.LedgerService
	DbService       store.Store
	SpendExecutor   SpendExecutor
	PayoutExecutor  PayoutExecutor
	SweepInterval   time.Duration
	CleanupInterval time.Duration
	ProcessedTTL    time.Duration
	BatchLimit      int
}

// Sweeper drives every time-based transition in the ledger: it credits
// purchases whose clearing hold elapsed, executes pending spends, and pays
// out cash-outs whose delay window passed. All state lives in the database;
// the sweeper only discovers due work, so a restart loses nothing.
type Sweeper struct {
	apiService     *api.LedgerService
	dbService      store.Store
	spendExecutor  SpendExecutor
	payoutExecutor PayoutExecutor

	// In-flight guard so a slow execution is not picked up again by the
	// next tick. The database status guards are the real protection; this
	// just avoids pointless duplicate claims.
	inFlight map[string]time.Time
	mutex    sync.RWMutex

	sweepInterval   time.Duration
	cleanupInterval time.Duration
	processedTTL    time.Duration
	batchLimit      int

	stopChan chan struct{}
	doneChan chan struct{}
}

func New(cfg Config) *Sweeper {
	// Non-positive intervals would panic time.NewTicker in the loops.
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaultCleanupInterval
	}
	if cfg.ProcessedTTL <= 0 {
		cfg.ProcessedTTL = defaultProcessedTTL
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = defaultBatchLimit
	}
	return &Sweeper{
		apiService:      cfg.ApiService,
		dbService:       cfg.DbService,
		spendExecutor:   cfg.SpendExecutor,
		payoutExecutor:  cfg.PayoutExecutor,
		inFlight:        make(map[string]time.Time),
		sweepInterval:   cfg.SweepInterval,
		cleanupInterval: cfg.CleanupInterval,
		processedTTL:    cfg.ProcessedTTL,
		batchLimit:      cfg.BatchLimit,
		stopChan:        make(chan struct{}),
		doneChan:        make(chan struct{}),
	}
}

// Start begins the sweep loop.
func (s *Sweeper) Start(ctx context.Context) error {
	if s.dbService == nil {
		return fmt.Errorf("sweeper requires a database service")
	}

	go s.sweepLoop(ctx)
	go s.cleanupLoop(ctx)

	zap.L().Info("Sweeper started",
		zap.Duration("sweep_interval", s.sweepInterval),
		zap.Int("batch_limit", s.batchLimit))
	return nil
}

// Stop gracefully stops the sweeper.
func (s *Sweeper) Stop() {
	zap.L().Info("Stopping sweeper")
	close(s.stopChan)
	<-s.doneChan
	zap.L().Info("Sweeper stopped")
}

func (s *Sweeper) sweepLoop(ctx context.Context) {
	defer close(s.doneChan)

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	s.Sweep(ctx)

	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Sweep runs one full pass over all due work.
func (s *Sweeper) Sweep(ctx context.Context) {
	s.sweepPurchases(ctx)
	s.sweepSpends(ctx)
	s.sweepCashOuts(ctx)
}

// sweepPurchases credits every clearing purchase whose hold has elapsed.
func (s *Sweeper) sweepPurchases(ctx context.Context) {
	credited, err := s.dbService.CreditDuePurchases(ctx, s.batchLimit)
	if err != nil {
		zap.L().Error("Purchase sweep failed", zap.Error(err))
		return
	}
	if credited > 0 {
		zap.L().Info("Credited cleared purchases", zap.Int("count", credited))
	}
}

// sweepSpends claims pending spends and runs them through the executor. Each
// outcome is recorded through the service layer, which owns the
// retry-or-fail decision.
func (s *Sweeper) sweepSpends(ctx context.Context) {
	spends, err := s.dbService.ListRetriableSpends(ctx, s.batchLimit)
	if err != nil {
		zap.L().Error("Spend sweep failed", zap.Error(err))
		return
	}

	for _, spend := range spends {
		if s.isInFlight(spend.Id) {
			continue
		}
		if err := s.dbService.MarkSpendExecuting(ctx, spend.Id); err != nil {
			// Lost the claim to another sweeper instance.
			zap.L().Debug("Skipping spend", zap.String("spend_id", spend.Id), zap.Error(err))
			continue
		}
		s.markInFlight(spend.Id)

		outcome := s.spendExecutor.ExecuteSpend(ctx, spend)
		if err := s.apiService.RecordExecutionResult(ctx, spend.Id, outcome); err != nil {
			zap.L().Error("Failed to record execution result",
				zap.String("spend_id", spend.Id),
				zap.Error(err))
		}
		s.clearInFlight(spend.Id)
	}
}

// sweepCashOuts claims cash-outs past their delay window and pays them out.
func (s *Sweeper) sweepCashOuts(ctx context.Context) {
	cashOuts, err := s.dbService.ListReleasableCashOuts(ctx, s.batchLimit)
	if err != nil {
		zap.L().Error("Cash-out sweep failed", zap.Error(err))
		return
	}

	for _, cashOut := range cashOuts {
		if s.isInFlight(cashOut.Id) {
			continue
		}
		err := s.dbService.MarkCashOutProcessing(ctx, cashOut.Id)
		if err != nil {
			if !errors.Is(err, store.ErrDuplicateEvent) && !errors.Is(err, store.ErrInvalidTransition) {
				zap.L().Error("Failed to claim cash-out",
					zap.String("cash_out_id", cashOut.Id),
					zap.Error(err))
			}
			continue
		}
		s.markInFlight(cashOut.Id)

		outcome := s.payoutExecutor.ExecutePayout(ctx, cashOut)
		if err := s.apiService.RecordPayoutResult(ctx, cashOut.Id, outcome); err != nil {
			zap.L().Error("Failed to record payout result",
				zap.String("cash_out_id", cashOut.Id),
				zap.Error(err))
		}
		s.clearInFlight(cashOut.Id)
	}
}

func (s *Sweeper) isInFlight(id string) bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	_, exists := s.inFlight[id]
	return exists
}

func (s *Sweeper) markInFlight(id string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.inFlight[id] = time.Now()
}

func (s *Sweeper) clearInFlight(id string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.inFlight, id)
}

func (s *Sweeper) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanupInFlight()
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// cleanupInFlight drops stale entries left behind by executions that never
// returned. The database guard still protects those records.
func (s *Sweeper) cleanupInFlight() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	cutoff := time.Now().UTC().Add(-s.processedTTL)
	cleaned := 0
	for id, started := range s.inFlight {
		if started.Before(cutoff) {
			delete(s.inFlight, id)
			cleaned++
		}
	}
	if cleaned > 0 {
		zap.L().Warn("Dropped stale in-flight entries",
			zap.Int("cleaned", cleaned),
			zap.Int("remaining", len(s.inFlight)))
	}
}
