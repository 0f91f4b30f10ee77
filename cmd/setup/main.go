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
	"fmt"

	"juice-ledger-go/internal/common"
	"juice-ledger-go/internal/config"

	"go.uber.org/zap"
)

// setup initializes the SQLite schema, validates the risk policy and payout
// wallet mapping, and (unless --db-only) verifies Prime connectivity so the
// sweeper starts clean.
func main() {
	dbOnly := flag.Bool("db-only", false, "Initialize the database schema only, skip Prime checks")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ctx := context.Background()

	common.PrintHeader("Juice Ledger Setup", common.DefaultWidth)

	policy, err := config.LoadRiskPolicy(cfg.Ledger.RiskPolicyFile)
	if err != nil {
		zap.L().Fatal("Invalid risk policy", zap.Error(err))
	}
	for _, level := range []string{"low", "medium", "elevated", "high"} {
		fmt.Printf("  risk %-8s -> settlement delay %s\n", level, policy.SettlementDelay(level))
	}
	fmt.Printf("  cash-out delay  %s\n", cfg.Ledger.CashOutDelay)

	if *dbOnly {
		dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
		if err != nil {
			zap.L().Fatal("Failed to initialize database", zap.Error(err))
		}
		defer dbService.Close()

		common.PrintFooter("Database schema initialized at "+cfg.Database.Path, common.DefaultWidth)
		return
	}

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	fmt.Printf("\nDefault portfolio: %s (%s)\n", services.DefaultPortfolio.Name, services.DefaultPortfolio.Id)

	wallets, err := config.LoadPayoutWallets(cfg.Sweeper.WalletsFile)
	if err != nil {
		zap.L().Fatal("Invalid payout wallet mapping", zap.Error(err))
	}

	// Cross-check each mapped wallet against the portfolio's real wallets.
	missing := 0
	for chainId, wallet := range wallets {
		found, err := services.PrimeService.ListWallets(ctx, services.DefaultPortfolio.Id, "TRADING", []string{wallet.Symbol})
		if err != nil {
			zap.L().Fatal("Failed to list Prime wallets",
				zap.String("symbol", wallet.Symbol),
				zap.Error(err))
		}

		matched := false
		for _, w := range found {
			if w.Id == wallet.WalletId {
				matched = true
				break
			}
		}
		if matched {
			fmt.Printf("  chain %-12s -> %s wallet %s OK\n", chainId, wallet.Symbol, wallet.WalletId)
		} else {
			missing++
			fmt.Printf("  chain %-12s -> %s wallet %s NOT FOUND in portfolio\n", chainId, wallet.Symbol, wallet.WalletId)
			zap.L().Warn("Configured wallet not found in portfolio",
				zap.String("chain_id", chainId),
				zap.String("wallet_id", wallet.WalletId))
		}
	}

	if missing > 0 {
		common.PrintFooter(fmt.Sprintf("Setup finished with %d unresolved wallet(s) -- spends and payouts on those chains will fail", missing), common.DefaultWidth)
		return
	}
	common.PrintFooter("Setup complete", common.DefaultWidth)
}
