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

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"juice-ledger-go/internal/common"
	"juice-ledger-go/internal/config"
	"juice-ledger-go/internal/formance"
	"juice-ledger-go/internal/sweeper"

	"go.uber.org/zap"
)

func main() {
	once := flag.Bool("once", false, "Run a single sweep pass and exit (default: run continuously)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zap.L().Info("Starting Juice ledger sweeper")

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	sw := sweeper.New(sweeper.Config{
		ApiService:      services.ApiService,
		DbService:       services.DbService,
		SpendExecutor:   services.SpendService,
		PayoutExecutor:  services.PayoutService,
		SweepInterval:   cfg.Sweeper.Interval,
		CleanupInterval: cfg.Sweeper.CleanupInterval,
		ProcessedTTL:    cfg.Sweeper.ProcessedTTL,
		BatchLimit:      cfg.Sweeper.BatchLimit,
	})

	if *once {
		sw.Sweep(ctx)
		zap.L().Info("Single sweep pass complete")
		return
	}

	if err := sw.Start(ctx); err != nil {
		zap.L().Fatal("Failed to start sweeper", zap.Error(err))
	}

	// The reconciliation mirror is optional: enabled only when a Formance
	// stack is configured.
	var exporter *formance.Exporter
	if cfg.Formance.StackURL != "" {
		formanceService, err := formance.NewService(ctx, cfg.Formance)
		if err != nil {
			zap.L().Fatal("Failed to initialize Formance mirror", zap.Error(err))
		}
		exporter = formance.NewExporter(formanceService, services.DbService, cfg.Formance)
		exporter.Start(ctx)
	} else {
		zap.L().Info("No Formance stack configured, reconciliation mirror disabled")
	}

	zap.L().Info("Sweeper running",
		zap.Duration("interval", cfg.Sweeper.Interval),
		zap.Bool("formance_mirror", exporter != nil))
	zap.L().Info("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	zap.L().Info("Shutdown signal received, stopping...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		sw.Stop()
		if exporter != nil {
			exporter.Stop()
		}
		close(done)
	}()

	select {
	case <-done:
		zap.L().Info("Sweeper stopped gracefully")
	case <-shutdownCtx.Done():
		zap.L().Warn("Forced shutdown after timeout")
	}
}
