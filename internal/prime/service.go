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

package prime

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"juice-ledger-go/internal/models"

	"github.com/coinbase-samples/prime-sdk-go/client"
	"github.com/coinbase-samples/prime-sdk-go/credentials"
	"github.com/coinbase-samples/prime-sdk-go/model"
	"github.com/coinbase-samples/prime-sdk-go/portfolios"
	"github.com/coinbase-samples/prime-sdk-go/transactions"
	"github.com/coinbase-samples/prime-sdk-go/wallets"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

type Service struct {
	client          client.RestClient
	portfoliosSvc   portfolios.PortfoliosService
	walletsSvc      wallets.WalletsService
	transactionsSvc transactions.TransactionsService
}

func NewService(creds *credentials.Credentials) (*Service, error) {
	httpClient, err := createCustomHttpClient()
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}

	restClient := client.NewRestClient(creds, httpClient)

	return &Service{
		client:          restClient,
		portfoliosSvc:   portfolios.NewPortfoliosService(restClient),
		walletsSvc:      wallets.NewWalletsService(restClient),
		transactionsSvc: transactions.NewTransactionsService(restClient),
	}, nil
}

func createCustomHttpClient() (http.Client, error) {
	tr := &http.Transport{
		ResponseHeaderTimeout: 30 * time.Second,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			DualStack: true,
			Timeout:   15 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   5,
		ExpectContinueTimeout: 5 * time.Second,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return http.Client{}, err
	}

	return http.Client{
		Transport: tr,
		Timeout:   60 * time.Second,
	}, nil
}

func (s *Service) ListPortfolios(ctx context.Context) ([]models.Portfolio, error) {
	request := &portfolios.ListPortfoliosRequest{}

	response, err := s.portfoliosSvc.ListPortfolios(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("unable to list portfolios: %w", err)
	}

	portfolioList := make([]models.Portfolio, len(response.Portfolios))
	for i, p := range response.Portfolios {
		portfolioList[i] = models.Portfolio{
			Id:   p.Id,
			Name: p.Name,
		}
	}

	return portfolioList, nil
}

func (s *Service) FindDefaultPortfolio(ctx context.Context) (*models.Portfolio, error) {
	portfolioList, err := s.ListPortfolios(ctx)
	if err != nil {
		return nil, err
	}

	for _, portfolio := range portfolioList {
		if portfolio.Name == "Default Portfolio" {
			return &portfolio, nil
		}
	}

	return nil, fmt.Errorf("default portfolio not found")
}

func (s *Service) ListWallets(ctx context.Context, portfolioId, walletType string, symbols []string) ([]models.Wallet, error) {
	request := &wallets.ListWalletsRequest{
		PortfolioId: portfolioId,
		Type:        walletType,
		Symbols:     symbols,
	}

	response, err := s.walletsSvc.ListWallets(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("unable to list wallets: %w", err)
	}

	walletList := make([]models.Wallet, len(response.Wallets))
	for i, w := range response.Wallets {
		walletList[i] = models.Wallet{
			Id:     w.Id,
			Name:   w.Name,
			Symbol: w.Symbol,
			Type:   w.Type,
		}
	}

	return walletList, nil
}

// CreateWithdrawalParams contains parameters for creating a withdrawal
type CreateWithdrawalParams struct {
	PortfolioId        string
	WalletId           string
	DestinationAddress string
	Amount             string
	Asset              string
	IdempotencyKey     string
}

// CreateWithdrawal submits an on-chain withdrawal from a Prime wallet. The
// idempotency key makes a retried submission safe: Prime deduplicates on it.
func (s *Service) CreateWithdrawal(ctx context.Context, params CreateWithdrawalParams) (*models.Withdrawal, error) {
	zap.L().Info("Creating withdrawal via Prime API",
		zap.String("portfolio_id", params.PortfolioId),
		zap.String("wallet_id", params.WalletId),
		zap.String("asset", params.Asset),
		zap.String("amount", params.Amount),
		zap.String("destination", params.DestinationAddress))

	// Parse asset string: USDC-ethereum-mainnet --> USDC, ethereum, mainnet
	// Or just: USDC --> USDC (Prime API picks the default network)
	parts := strings.Split(params.Asset, "-")
	symbol := parts[0]

	blockchainAddr := &model.BlockchainAddress{
		Address: params.DestinationAddress,
	}

	if len(parts) >= 3 {
		networkId := parts[1]
		networkType := parts[2]
		blockchainAddr.Network = &model.NetworkDetails{
			Id:   networkId,
			Type: networkType,
		}
		zap.L().Debug("Including network details in withdrawal",
			zap.String("network_id", networkId),
			zap.String("network_type", networkType))
	}

	request := &transactions.CreateWalletWithdrawalRequest{
		PortfolioId:       params.PortfolioId,
		SourceWalletId:    params.WalletId,
		Amount:            params.Amount,
		IdempotencyKey:    params.IdempotencyKey,
		Symbol:            symbol,
		DestinationType:   "DESTINATION_BLOCKCHAIN",
		BlockchainAddress: blockchainAddr,
	}

	response, err := s.transactionsSvc.CreateWalletWithdrawal(ctx, request)
	if err != nil {
		zap.L().Error("Failed to create withdrawal",
			zap.String("wallet_id", params.WalletId),
			zap.String("amount", params.Amount),
			zap.String("asset", params.Asset),
			zap.Error(err))
		return nil, fmt.Errorf("unable to create withdrawal: %w", err)
	}

	zap.L().Info("Withdrawal created successfully",
		zap.String("activity_id", response.ActivityId),
		zap.String("wallet_id", params.WalletId),
		zap.String("amount", params.Amount),
		zap.String("asset", params.Asset))

	return &models.Withdrawal{
		ActivityId:     response.ActivityId,
		Asset:          params.Asset,
		Amount:         params.Amount,
		Destination:    params.DestinationAddress,
		IdempotencyKey: params.IdempotencyKey,
	}, nil
}
