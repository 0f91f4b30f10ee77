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

func printSpend(spend *models.Spend) {
	fmt.Printf("  id:          %s\n", spend.Id)
	fmt.Printf("  user:        %s\n", spend.UserId)
	fmt.Printf("  amount:      %s\n", common.FormatCredits(spend.Amount))
	fmt.Printf("  project:     %s (chain %s)\n", spend.ProjectId, spend.ChainId)
	fmt.Printf("  beneficiary: %s\n", spend.Beneficiary)
	fmt.Printf("  status:      %s (retries: %d)\n", spend.Status, spend.RetryCount)
	if spend.TxHash != "" {
		fmt.Printf("  tx:          %s (tokens: %s)\n", spend.TxHash, spend.TokensReceived.String())
	}
	if spend.LastError != "" {
		fmt.Printf("  last error:  %s\n", spend.LastError)
	}
}

func main() {
	userFlag := flag.String("user", "", "User id (required)")
	amountFlag := flag.Int64("amount", 0, "Amount of credits to spend")
	projectFlag := flag.String("project", "", "Target project id")
	chainFlag := flag.String("chain", "", "Chain id the project lives on")
	beneficiaryFlag := flag.String("beneficiary", "", "On-chain beneficiary address")
	memoFlag := flag.String("memo", "", "Optional memo")
	listFlag := flag.Bool("list", false, "List spends for --user instead of initiating one")
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

	if *listFlag {
		spends, err := apiService.GetSpendHistory(ctx, *userFlag)
		if err != nil {
			logger.Fatal("Failed to list spends", zap.Error(err))
		}
		common.PrintHeader("Spends for "+*userFlag, common.DefaultWidth)
		if len(spends) == 0 {
			fmt.Println("No spends for user", *userFlag)
			return
		}
		for i := range spends {
			printSpend(&spends[i])
			if i < len(spends)-1 {
				common.PrintSeparator("-", 40)
			}
		}
		return
	}

	if *amountFlag <= 0 || *projectFlag == "" || *chainFlag == "" || *beneficiaryFlag == "" {
		logger.Fatal("Initiating a spend requires --amount, --project, --chain, and --beneficiary")
	}

	result, err := apiService.InitiateSpend(ctx, models.SpendRequest{
		UserId:      *userFlag,
		Amount:      *amountFlag,
		ProjectId:   *projectFlag,
		ChainId:     *chainFlag,
		Beneficiary: *beneficiaryFlag,
		Memo:        *memoFlag,
	})
	if err != nil {
		logger.Fatal("Failed to initiate spend", zap.Error(err))
	}
	if !result.Success {
		logger.Fatal("Spend refused", zap.String("reason", result.Error))
	}

	common.PrintHeader("Spend initiated (debited, queued for execution)", common.DefaultWidth)
	printSpend(result.Spend)
	fmt.Printf("  new balance: %s\n", common.FormatCredits(result.NewBalance))
}
