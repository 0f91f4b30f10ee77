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

type cashOutFlags struct {
	user        string
	amount      int64
	chain       string
	destination string
	cancel      string
	list        bool
}

func parseFlags() *cashOutFlags {
	f := &cashOutFlags{}
	flag.StringVar(&f.user, "user", "", "User id")
	flag.Int64Var(&f.amount, "amount", 0, "Amount of credits to cash out")
	flag.StringVar(&f.chain, "chain", "", "Chain id for the payout (must have a configured wallet)")
	flag.StringVar(&f.destination, "destination", "", "Destination address")
	flag.StringVar(&f.cancel, "cancel", "", "Cancel a pending cash-out by id")
	flag.BoolVar(&f.list, "list", false, "List cash-outs for --user")
	flag.Parse()
	return f
}

func printCashOut(cashOut *models.CashOut) {
	fmt.Printf("  id:           %s\n", cashOut.Id)
	fmt.Printf("  user:         %s\n", cashOut.UserId)
	fmt.Printf("  amount:       %s\n", common.FormatCredits(cashOut.Amount))
	fmt.Printf("  chain:        %s -> %s\n", cashOut.ChainId, cashOut.Destination)
	fmt.Printf("  status:       %s\n", cashOut.Status)
	fmt.Printf("  available at: %s\n", common.FormatTimestamp(cashOut.AvailableAt))
	if cashOut.TxHash != "" {
		fmt.Printf("  tx:           %s\n", cashOut.TxHash)
	}
	if cashOut.LastError != "" {
		fmt.Printf("  last error:   %s\n", cashOut.LastError)
	}
}

func listCashOuts(ctx context.Context, apiService *api.LedgerService, userId string) error {
	cashOuts, err := apiService.GetCashOutHistory(ctx, userId)
	if err != nil {
		return err
	}
	if len(cashOuts) == 0 {
		fmt.Println("No cash-outs for user", userId)
		return nil
	}
	for i := range cashOuts {
		printCashOut(&cashOuts[i])
		if i < len(cashOuts)-1 {
			common.PrintSeparator("-", 40)
		}
	}
	return nil
}

func main() {
	f := parseFlags()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

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

	switch {
	case f.list:
		if f.user == "" {
			logger.Fatal("--list requires --user")
		}
		common.PrintHeader("Cash-outs for "+f.user, common.DefaultWidth)
		if err := listCashOuts(ctx, apiService, f.user); err != nil {
			logger.Fatal("Failed to list cash-outs", zap.Error(err))
		}

	case f.cancel != "":
		result, err := apiService.CancelCashOut(ctx, f.cancel)
		if err != nil {
			logger.Fatal("Failed to cancel cash-out", zap.String("cash_out_id", f.cancel), zap.Error(err))
		}
		common.PrintHeader("Cash-out cancelled", common.DefaultWidth)
		printCashOut(result.CashOut)
		fmt.Printf("  new balance:  %s\n", common.FormatCredits(result.NewBalance))

	default:
		if f.user == "" || f.amount <= 0 || f.chain == "" || f.destination == "" {
			logger.Fatal("Initiating a cash-out requires --user, --amount, --chain, and --destination")
		}

		result, err := apiService.InitiateCashOut(ctx, models.CashOutRequest{
			UserId:      f.user,
			Amount:      f.amount,
			ChainId:     f.chain,
			Destination: f.destination,
		})
		if err != nil {
			logger.Fatal("Failed to initiate cash-out", zap.Error(err))
		}
		if !result.Success {
			logger.Fatal("Cash-out refused", zap.String("reason", result.Error))
		}

		common.PrintHeader("Cash-out initiated (funds debited, payout after delay)", common.DefaultWidth)
		printCashOut(result.CashOut)
		fmt.Printf("  new balance:  %s\n", common.FormatCredits(result.NewBalance))
	}
}
