package sweeper

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"juice-ledger-go/internal/api"
	"juice-ledger-go/internal/config"
	"juice-ledger-go/internal/database"
	"juice-ledger-go/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type stubSpendExecutor struct {
	mutex    sync.Mutex
	outcomes []models.ExecutionOutcome
	calls    []string
}

func (e *stubSpendExecutor) ExecuteSpend(ctx context.Context, spend models.Spend) models.ExecutionOutcome {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.calls = append(e.calls, spend.Id)
	if len(e.outcomes) == 0 {
		return models.ExecutionOutcome{Success: true, TxHash: "0xdefault", TokensReceived: decimal.Zero}
	}
	outcome := e.outcomes[0]
	e.outcomes = e.outcomes[1:]
	return outcome
}

func (e *stubSpendExecutor) callCount() int {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return len(e.calls)
}

type stubPayoutExecutor struct {
	mutex    sync.Mutex
	outcomes []models.PayoutOutcome
	calls    []string
}

func (e *stubPayoutExecutor) ExecutePayout(ctx context.Context, cashOut models.CashOut) models.PayoutOutcome {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.calls = append(e.calls, cashOut.Id)
	if len(e.outcomes) == 0 {
		return models.PayoutOutcome{Success: true, TxHash: "0xdefault"}
	}
	outcome := e.outcomes[0]
	e.outcomes = e.outcomes[1:]
	return outcome
}

func (e *stubPayoutExecutor) callCount() int {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return len(e.calls)
}

const testPolicy = `bands:
  - level: low
    settlement_delay: 10ms
  - level: high
    settlement_delay: 1h
`

type testHarness struct {
	sweeper *Sweeper
	service *api.LedgerService
	db      *database.Service
	spends  *stubSpendExecutor
	payouts *stubPayoutExecutor
}

func setupSweeper(t *testing.T) *testHarness {
	t.Helper()
	dir := t.TempDir()

	policyPath := filepath.Join(dir, "risk_policy.yaml")
	if err := os.WriteFile(policyPath, []byte(testPolicy), 0o644); err != nil {
		t.Fatalf("failed to write policy file: %v", err)
	}
	policy, err := config.LoadRiskPolicy(policyPath)
	if err != nil {
		t.Fatalf("failed to load policy: %v", err)
	}

	db, err := database.NewService(context.Background(), models.DatabaseConfig{
		Path:         filepath.Join(dir, "test.db"),
		MaxOpenConns: 5,
		MaxIdleConns: 2,
		PingTimeout:  5 * time.Second,
	}, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("failed to create database service: %v", err)
	}
	t.Cleanup(db.Close)

	service := api.NewLedgerService(db, policy)
	spends := &stubSpendExecutor{}
	payouts := &stubPayoutExecutor{}
	sw := New(Config{
		ApiService:      service,
		DbService:       db,
		SpendExecutor:   spends,
		PayoutExecutor:  payouts,
		SweepInterval:   10 * time.Millisecond,
		CleanupInterval: time.Minute,
		ProcessedTTL:    time.Minute,
		BatchLimit:      100,
	})
	return &testHarness{sweeper: sw, service: service, db: db, spends: spends, payouts: payouts}
}

func (h *testHarness) fund(t *testing.T, userId string, amount int64) {
	t.Helper()
	ctx := context.Background()
	result, err := h.service.ConfirmPurchase(ctx, models.PaymentConfirmation{
		UserId:       userId,
		ExternalRef:  "fund-" + uuid.New().String(),
		FiatAmount:   amount,
		CreditAmount: amount,
		RiskLevel:    "low",
	})
	if err != nil || !result.Success {
		t.Fatalf("ConfirmPurchase failed: %v / %+v", err, result)
	}
	time.Sleep(50 * time.Millisecond)
	if err := h.db.CreditPurchase(ctx, result.Purchase.Id); err != nil {
		t.Fatalf("CreditPurchase failed: %v", err)
	}
}

func TestSweepCreditsDuePurchases(t *testing.T) {
	h := setupSweeper(t)
	ctx := context.Background()

	due, err := h.service.ConfirmPurchase(ctx, models.PaymentConfirmation{
		UserId: "user-1", ExternalRef: "sweep-due", FiatAmount: 100, CreditAmount: 100, RiskLevel: "low",
	})
	if err != nil || !due.Success {
		t.Fatalf("ConfirmPurchase failed: %v / %+v", err, due)
	}
	held, err := h.service.ConfirmPurchase(ctx, models.PaymentConfirmation{
		UserId: "user-2", ExternalRef: "sweep-held", FiatAmount: 100, CreditAmount: 100, RiskLevel: "high",
	})
	if err != nil || !held.Success {
		t.Fatalf("ConfirmPurchase failed: %v / %+v", err, held)
	}

	time.Sleep(50 * time.Millisecond)
	h.sweeper.Sweep(ctx)

	balance1, _ := h.service.GetBalance(ctx, "user-1")
	if balance1.Balance != 100 {
		t.Errorf("due purchase not credited, balance=%d", balance1.Balance)
	}
	balance2, _ := h.service.GetBalance(ctx, "user-2")
	if balance2.Balance != 0 {
		t.Errorf("held purchase credited early, balance=%d", balance2.Balance)
	}

	// The second sweep has nothing to do.
	h.sweeper.Sweep(ctx)
	balance1, _ = h.service.GetBalance(ctx, "user-1")
	if balance1.Balance != 100 {
		t.Errorf("second sweep double-credited, balance=%d", balance1.Balance)
	}
}

func TestSweepExecutesPendingSpends(t *testing.T) {
	h := setupSweeper(t)
	ctx := context.Background()
	h.fund(t, "user-1", 500)

	spendResult, err := h.service.InitiateSpend(ctx, models.SpendRequest{
		UserId: "user-1", Amount: 200, ProjectId: "proj-a", ChainId: "base-mainnet", Beneficiary: "0xabc",
	})
	if err != nil || !spendResult.Success {
		t.Fatalf("InitiateSpend failed: %v / %+v", err, spendResult)
	}

	h.spends.outcomes = []models.ExecutionOutcome{
		{Success: true, TxHash: "0xspent", TokensReceived: decimal.RequireFromString("199")},
	}
	h.sweeper.Sweep(ctx)

	if h.spends.callCount() != 1 {
		t.Fatalf("expected 1 execution, got %d", h.spends.callCount())
	}
	spend, _ := h.db.GetSpend(ctx, spendResult.Spend.Id)
	if spend.Status != models.SpendStatusCompleted || spend.TxHash != "0xspent" {
		t.Errorf("unexpected swept spend: %+v", spend)
	}

	// Completed spends are not re-executed.
	h.sweeper.Sweep(ctx)
	if h.spends.callCount() != 1 {
		t.Errorf("completed spend re-executed, %d calls", h.spends.callCount())
	}
}

func TestSweepRetriesFailedSpendUntilTerminal(t *testing.T) {
	h := setupSweeper(t)
	ctx := context.Background()
	h.fund(t, "user-1", 500)

	spendResult, _ := h.service.InitiateSpend(ctx, models.SpendRequest{
		UserId: "user-1", Amount: 200, ProjectId: "proj-a", ChainId: "base-mainnet", Beneficiary: "0xabc",
	})

	// Every attempt fails; the sweeper keeps requeueing until the retry
	// budget is gone, then the spend fails terminally and refunds.
	for i := 0; i <= database.MaxSpendRetries; i++ {
		h.spends.outcomes = append(h.spends.outcomes, models.ExecutionOutcome{Success: false, Error: "rpc timeout"})
	}
	for i := 0; i <= database.MaxSpendRetries; i++ {
		h.sweeper.Sweep(ctx)
	}

	spend, _ := h.db.GetSpend(ctx, spendResult.Spend.Id)
	if spend.Status != models.SpendStatusFailed {
		t.Fatalf("expected terminal failure, got %s after %d executions", spend.Status, h.spends.callCount())
	}
	if h.spends.callCount() != database.MaxSpendRetries {
		t.Errorf("expected exactly %d executions, got %d", database.MaxSpendRetries, h.spends.callCount())
	}
	balance, _ := h.service.GetBalance(ctx, "user-1")
	if balance.Balance != 500 {
		t.Errorf("terminal failure did not refund, balance=%d", balance.Balance)
	}
	if err := h.service.VerifyBalance(ctx, "user-1"); err != nil {
		t.Errorf("VerifyBalance failed: %v", err)
	}

	// Nothing left to execute.
	calls := h.spends.callCount()
	h.sweeper.Sweep(ctx)
	if h.spends.callCount() != calls {
		t.Errorf("failed spend re-executed")
	}
}

func TestSweepPaysOutReleasableCashOuts(t *testing.T) {
	h := setupSweeper(t)
	ctx := context.Background()
	h.fund(t, "user-1", 500)

	cashOutResult, err := h.service.InitiateCashOut(ctx, models.CashOutRequest{
		UserId: "user-1", Amount: 300, Destination: "0xdest", ChainId: "base-mainnet",
	})
	if err != nil || !cashOutResult.Success {
		t.Fatalf("InitiateCashOut failed: %v / %+v", err, cashOutResult)
	}

	// Inside the delay window the sweep must not touch it.
	h.sweeper.Sweep(ctx)
	if h.payouts.callCount() != 0 {
		t.Fatalf("cash-out paid out before its delay elapsed")
	}

	time.Sleep(50 * time.Millisecond)
	h.payouts.outcomes = []models.PayoutOutcome{{Success: true, TxHash: "0xpayout"}}
	h.sweeper.Sweep(ctx)

	if h.payouts.callCount() != 1 {
		t.Fatalf("expected 1 payout, got %d", h.payouts.callCount())
	}
	cashOut, _ := h.db.GetCashOut(ctx, cashOutResult.CashOut.Id)
	if cashOut.Status != models.CashOutStatusCompleted || cashOut.TxHash != "0xpayout" {
		t.Errorf("unexpected swept cash-out: %+v", cashOut)
	}
}

func TestSweepRetriesFailedPayout(t *testing.T) {
	h := setupSweeper(t)
	ctx := context.Background()
	h.fund(t, "user-1", 500)

	cashOutResult, _ := h.service.InitiateCashOut(ctx, models.CashOutRequest{
		UserId: "user-1", Amount: 300, Destination: "0xdest", ChainId: "base-mainnet",
	})
	time.Sleep(50 * time.Millisecond)

	h.payouts.outcomes = []models.PayoutOutcome{
		{Success: false, Error: "gateway unavailable"},
		{Success: true, TxHash: "0xpayout"},
	}

	// First sweep fails the payout; the cash-out goes back to pending with
	// the funds still debited.
	h.sweeper.Sweep(ctx)
	cashOut, _ := h.db.GetCashOut(ctx, cashOutResult.CashOut.Id)
	if cashOut.Status != models.CashOutStatusPending {
		t.Fatalf("expected pending after failed payout, got %s", cashOut.Status)
	}
	balance, _ := h.service.GetBalance(ctx, "user-1")
	if balance.Balance != 200 {
		t.Errorf("failed payout refunded funds, balance=%d", balance.Balance)
	}

	// Second sweep retries and completes.
	h.sweeper.Sweep(ctx)
	cashOut, _ = h.db.GetCashOut(ctx, cashOutResult.CashOut.Id)
	if cashOut.Status != models.CashOutStatusCompleted {
		t.Errorf("expected completed after retry, got %s", cashOut.Status)
	}
	if h.payouts.callCount() != 2 {
		t.Errorf("expected 2 payout attempts, got %d", h.payouts.callCount())
	}
}

func TestNewDefaultsNonPositiveIntervals(t *testing.T) {
	s := New(Config{})

	if s.sweepInterval != defaultSweepInterval {
		t.Errorf("sweep interval = %v, want %v", s.sweepInterval, defaultSweepInterval)
	}
	if s.cleanupInterval != defaultCleanupInterval {
		t.Errorf("cleanup interval = %v, want %v", s.cleanupInterval, defaultCleanupInterval)
	}
	if s.processedTTL != defaultProcessedTTL {
		t.Errorf("processed TTL = %v, want %v", s.processedTTL, defaultProcessedTTL)
	}
	if s.batchLimit != defaultBatchLimit {
		t.Errorf("batch limit = %d, want %d", s.batchLimit, defaultBatchLimit)
	}
}

// A zero-valued interval config must not panic the ticker loops.
func TestSweeperStartStopWithZeroIntervals(t *testing.T) {
	h := setupSweeper(t)
	ctx := context.Background()

	s := New(Config{
		ApiService:     h.service,
		DbService:      h.db,
		SpendExecutor:  h.spends,
		PayoutExecutor: h.payouts,
	})
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	s.Stop()
}

func TestSweeperStartStop(t *testing.T) {
	h := setupSweeper(t)
	ctx := context.Background()
	h.fund(t, "user-1", 100)

	if err := h.sweeper.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	h.sweeper.Stop()

	// Loop exited; a second Stop would panic, so just confirm the ledger is
	// still consistent after background sweeping.
	if err := h.service.VerifyBalance(ctx, "user-1"); err != nil {
		t.Errorf("VerifyBalance failed after background sweeps: %v", err)
	}
}
