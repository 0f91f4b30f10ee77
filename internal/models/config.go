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

package models

import "time"

// Config represents the application configuration
type Config struct {
	Database DatabaseConfig
	Ledger   LedgerConfig
	Sweeper  SweeperConfig
	Formance FormanceConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// LedgerConfig holds the ledger's hold policies. Settlement delays are
// persisted per purchase at creation time from the risk policy table, so
// changing the table never re-times purchases already clearing.
type LedgerConfig struct {
	CashOutDelay   time.Duration
	RiskPolicyFile string
}

// SweeperConfig holds the background sweep settings
type SweeperConfig struct {
	Interval        time.Duration
	CleanupInterval time.Duration
	ProcessedTTL    time.Duration
	BatchLimit      int
	WalletsFile     string
}

// FormanceConfig holds the optional reconciliation-mirror settings. The
// exporter is enabled only when StackURL is set.
type FormanceConfig struct {
	StackURL       string
	ClientID       string
	ClientSecret   string
	LedgerName     string
	ExportInterval time.Duration
}
