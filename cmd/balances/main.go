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

	"juice-ledger-go/internal/api"
	"juice-ledger-go/internal/common"
	"juice-ledger-go/internal/config"
	"juice-ledger-go/internal/models"

	"go.uber.org/zap"
)

func printBalance(balance *models.Balance) {
	fmt.Printf("\n┌─ User: %s\n", balance.UserId)
	fmt.Printf("│  Balance:            %s\n", common.FormatCredits(balance.Balance))
	fmt.Printf("│  Lifetime purchased: %s\n", common.FormatCredits(balance.LifetimePurchased))
	fmt.Printf("│  Lifetime spent:     %s\n", common.FormatCredits(balance.LifetimeSpent))
	fmt.Printf("│  Lifetime cashed out: %s\n", common.FormatCredits(balance.LifetimeCashedOut))
	fmt.Printf("│  Updated: %s\n", common.FormatTimestamp(balance.UpdatedAt))
	common.PrintBoxSeparator(78)
}

func printEvents(events []models.LedgerEvent) {
	if len(events) == 0 {
		fmt.Println("│  (no ledger events)")
		return
	}
	for i, event := range events {
		isLast := i == len(events)-1
		link := event.PurchaseId
		if link == "" {
			link = event.SpendId
		}
		if link == "" {
			link = event.CashOutId
		}
		fmt.Printf("%s %-8s %20s  %s  (%s)\n",
			common.BoxPrefix(isLast),
			event.Type,
			common.FormatCredits(event.Amount),
			common.FormatTimestamp(event.CreatedAt),
			link)
	}
}

func main() {
	userFlag := flag.String("user", "", "User id to report on (required)")
	limitFlag := flag.Int("limit", 20, "Number of ledger events to show")
	flag.Parse()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	if *userFlag == "" {
		logger.Fatal("--user is required")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx := context.Background()

	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	apiService := api.NewLedgerService(dbService, nil)

	common.PrintHeader("Juice Ledger Balance Report", common.DefaultWidth)

	balance, err := apiService.GetBalance(ctx, *userFlag)
	if err != nil {
		logger.Fatal("Failed to get balance", zap.String("user_id", *userFlag), zap.Error(err))
	}
	printBalance(balance)

	events, err := apiService.GetLedgerHistory(ctx, *userFlag, *limitFlag, 0)
	if err != nil {
		logger.Fatal("Failed to get ledger history", zap.String("user_id", *userFlag), zap.Error(err))
	}
	printEvents(events)

	if err := apiService.VerifyBalance(ctx, *userFlag); err != nil {
		logger.Error("BALANCE VERIFICATION FAILED", zap.String("user_id", *userFlag), zap.Error(err))
		common.PrintFooter("⚠ Ledger identity check FAILED -- see log above", common.DefaultWidth)
		return
	}
	common.PrintFooter("Ledger identity verified: balance == purchased - spent - cashed out", common.DefaultWidth)
}
