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

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

// PayoutWallet maps one chain id to the Prime wallet cash-outs on that chain
// are paid from. CreditsPerUnit converts ledger credits to whole units of the
// payout asset (e.g. 100 credits per USDC).
type PayoutWallet struct {
	ChainId        string `yaml:"chain_id"`
	WalletId       string `yaml:"wallet_id"`
	Symbol         string `yaml:"symbol"`
	Network        string `yaml:"network"`
	CreditsPerUnit int64  `yaml:"credits_per_unit"`
}

type payoutWalletsFile struct {
	Wallets []PayoutWallet `yaml:"wallets"`
}

// LoadPayoutWallets reads the chain-to-wallet table from a YAML file and
// returns it keyed by chain id.
func LoadPayoutWallets(walletsFile string) (map[string]PayoutWallet, error) {
	var walletsPath string
	if filepath.IsAbs(walletsFile) {
		walletsPath = walletsFile
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		walletsPath = filepath.Join(wd, walletsFile)
	}

	data, err := os.ReadFile(walletsPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", walletsFile, err)
	}

	var parsed payoutWalletsFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", walletsFile, err)
	}
	if len(parsed.Wallets) == 0 {
		return nil, fmt.Errorf("%s defines no payout wallets", walletsFile)
	}

	wallets := make(map[string]PayoutWallet, len(parsed.Wallets))
	for i, wallet := range parsed.Wallets {
		if wallet.ChainId == "" {
			return nil, fmt.Errorf("payout wallet at index %d missing chain_id", i)
		}
		if wallet.WalletId == "" {
			return nil, fmt.Errorf("payout wallet %q missing wallet_id", wallet.ChainId)
		}
		if wallet.Symbol == "" {
			return nil, fmt.Errorf("payout wallet %q missing symbol", wallet.ChainId)
		}
		if wallet.CreditsPerUnit <= 0 {
			return nil, fmt.Errorf("payout wallet %q credits_per_unit must be positive", wallet.ChainId)
		}
		if _, exists := wallets[wallet.ChainId]; exists {
			return nil, fmt.Errorf("duplicate payout wallet for chain %q", wallet.ChainId)
		}
		wallets[wallet.ChainId] = wallet
	}

	return wallets, nil
}
