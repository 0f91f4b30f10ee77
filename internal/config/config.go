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
	"strconv"
	"time"

	"juice-ledger-go/internal/models"
)

func Load() (*models.Config, error) {
	cashOutDelay, err := getEnvDuration("CASH_OUT_DELAY", 24*time.Hour)
	if err != nil {
		return nil, err
	}

	sweepInterval, err := getEnvDuration("SWEEP_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, err
	}

	cleanupInterval, err := getEnvDuration("SWEEP_CLEANUP_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, err
	}

	processedTTL, err := getEnvDuration("SWEEP_PROCESSED_TTL", 6*time.Hour)
	if err != nil {
		return nil, err
	}

	exportInterval, err := getEnvDuration("FORMANCE_EXPORT_INTERVAL", 1*time.Minute)
	if err != nil {
		return nil, err
	}

	connMaxLifetime, err := getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	connMaxIdleTime, err := getEnvDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Second)
	if err != nil {
		return nil, err
	}

	pingTimeout, err := getEnvDuration("DB_PING_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	return &models.Config{
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "juice.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
			PingTimeout:     pingTimeout,
		},
		Ledger: models.LedgerConfig{
			CashOutDelay:   cashOutDelay,
			RiskPolicyFile: getEnvString("RISK_POLICY_FILE", ""),
		},
		Sweeper: models.SweeperConfig{
			Interval:        sweepInterval,
			CleanupInterval: cleanupInterval,
			ProcessedTTL:    processedTTL,
			BatchLimit:      getEnvInt("SWEEP_BATCH_LIMIT", 100),
			WalletsFile:     getEnvString("PAYOUT_WALLETS_FILE", "wallets.yaml"),
		},
		Formance: models.FormanceConfig{
			StackURL:       getEnvString("FORMANCE_STACK_URL", ""),
			ClientID:       getEnvString("FORMANCE_CLIENT_ID", ""),
			ClientSecret:   getEnvString("FORMANCE_CLIENT_SECRET", ""),
			LedgerName:     getEnvString("FORMANCE_LEDGER_NAME", "juice-credits"),
			ExportInterval: exportInterval,
		},
	}, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
