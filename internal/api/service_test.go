package api

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"juice-ledger-go/internal/config"
	"juice-ledger-go/internal/database"
	"juice-ledger-go/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// testPolicy holds low-risk purchases for 10ms so tests can wait holds out,
// while high stays far enough away to compare against.
const testPolicy = `bands:
  - level: low
    settlement_delay: 10ms
  - level: medium
    settlement_delay: 50ms
  - level: high
    settlement_delay: 1h
`

func setupTestService(t *testing.T) (*LedgerService, *database.Service) {
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

	cfg := models.DatabaseConfig{
		Path:         filepath.Join(dir, "test.db"),
		MaxOpenConns: 5,
		MaxIdleConns: 2,
		PingTimeout:  5 * time.Second,
	}
	db, err := database.NewService(context.Background(), cfg, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("failed to create database service: %v", err)
	}
	t.Cleanup(db.Close)
	return NewLedgerService(db, policy), db
}

// confirmAndCredit funds a user through the full purchase path: confirm a
// low-risk purchase, wait out its clearing hold, credit it.
func confirmAndCredit(t *testing.T, service *LedgerService, db *database.Service, userId string, amount int64) {
	t.Helper()
	ctx := context.Background()
	result, err := service.ConfirmPurchase(ctx, models.PaymentConfirmation{
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
	if err := db.CreditPurchase(ctx, result.Purchase.Id); err != nil {
		t.Fatalf("CreditPurchase failed: %v", err)
	}
}

func TestConfirmPurchaseAppliesRiskPolicy(t *testing.T) {
	service, _ := setupTestService(t)
	ctx := context.Background()

	lowRisk, err := service.ConfirmPurchase(ctx, models.PaymentConfirmation{
		UserId: "user-1", ExternalRef: "pay-low", FiatAmount: 100, CreditAmount: 100, RiskLevel: "low",
	})
	if err != nil || !lowRisk.Success {
		t.Fatalf("ConfirmPurchase failed: %v / %+v", err, lowRisk)
	}
	highRisk, err := service.ConfirmPurchase(ctx, models.PaymentConfirmation{
		UserId: "user-1", ExternalRef: "pay-high", FiatAmount: 100, CreditAmount: 100, RiskLevel: "high",
	})
	if err != nil || !highRisk.Success {
		t.Fatalf("ConfirmPurchase failed: %v / %+v", err, highRisk)
	}
	unknownRisk, err := service.ConfirmPurchase(ctx, models.PaymentConfirmation{
		UserId: "user-1", ExternalRef: "pay-unknown", FiatAmount: 100, CreditAmount: 100, RiskLevel: "martian",
	})
	if err != nil || !unknownRisk.Success {
		t.Fatalf("ConfirmPurchase failed: %v / %+v", err, unknownRisk)
	}

	if !highRisk.Purchase.ClearsAt.After(lowRisk.Purchase.ClearsAt) {
		t.Errorf("high risk must hold longer than low risk: %v vs %v",
			highRisk.Purchase.ClearsAt, lowRisk.Purchase.ClearsAt)
	}
	// Unknown levels are held as long as the worst band.
	diff := unknownRisk.Purchase.ClearsAt.Sub(highRisk.Purchase.ClearsAt)
	if diff < -time.Minute || diff > time.Minute {
		t.Errorf("unknown risk level not held at the longest delay: %v vs %v",
			unknownRisk.Purchase.ClearsAt, highRisk.Purchase.ClearsAt)
	}
}

func TestConfirmPurchaseDuplicateIsAcknowledged(t *testing.T) {
	service, _ := setupTestService(t)
	ctx := context.Background()

	confirmation := models.PaymentConfirmation{
		UserId: "user-1", ExternalRef: "pay-dup", FiatAmount: 100, CreditAmount: 100, RiskLevel: "low",
	}
	first, err := service.ConfirmPurchase(ctx, confirmation)
	if err != nil || !first.Success || first.Duplicate {
		t.Fatalf("first confirmation: %v / %+v", err, first)
	}

	second, err := service.ConfirmPurchase(ctx, confirmation)
	if err != nil {
		t.Fatalf("redelivered confirmation errored: %v", err)
	}
	if !second.Success || !second.Duplicate {
		t.Errorf("expected duplicate acknowledgement, got %+v", second)
	}
	if second.Purchase == nil || second.Purchase.Id != first.Purchase.Id {
		t.Errorf("duplicate must return the original purchase, got %+v", second.Purchase)
	}
}

func TestConfirmPurchaseRejectsMissingFields(t *testing.T) {
	service, _ := setupTestService(t)

	result, err := service.ConfirmPurchase(context.Background(), models.PaymentConfirmation{
		ExternalRef: "pay-nouser", FiatAmount: 100, CreditAmount: 100,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success {
		t.Error("confirmation without user_id accepted")
	}
}

func TestReportDisputeBlocksCredit(t *testing.T) {
	service, db := setupTestService(t)
	ctx := context.Background()

	result, _ := service.ConfirmPurchase(ctx, models.PaymentConfirmation{
		UserId: "user-1", ExternalRef: "pay-dispute", FiatAmount: 100, CreditAmount: 100, RiskLevel: "low",
	})
	if err := service.ReportDispute(ctx, "pay-dispute"); err != nil {
		t.Fatalf("ReportDispute failed: %v", err)
	}
	// Redelivered dispute is a no-op.
	if err := service.ReportDispute(ctx, "pay-dispute"); err != nil {
		t.Errorf("duplicate dispute errored: %v", err)
	}

	// Even after the hold elapses the dispute blocks the credit.
	time.Sleep(50 * time.Millisecond)
	if err := db.CreditPurchase(ctx, result.Purchase.Id); err == nil {
		t.Error("disputed purchase credited")
	}

	balance, _ := service.GetBalance(ctx, "user-1")
	if balance.Balance != 0 {
		t.Errorf("disputed purchase reached balance: %d", balance.Balance)
	}
}

func TestReportDisputeUnknownRef(t *testing.T) {
	service, _ := setupTestService(t)
	if err := service.ReportDispute(context.Background(), "no-such-ref"); err == nil {
		t.Error("expected error for unknown external_ref")
	}
}

func TestRecordExecutionResultSuccess(t *testing.T) {
	service, db := setupTestService(t)
	ctx := context.Background()
	confirmAndCredit(t, service, db, "user-1", 500)

	spendResult, err := service.InitiateSpend(ctx, models.SpendRequest{
		UserId: "user-1", Amount: 200, ProjectId: "proj-a", ChainId: "base-mainnet", Beneficiary: "0xabc",
	})
	if err != nil || !spendResult.Success {
		t.Fatalf("InitiateSpend failed: %v / %+v", err, spendResult)
	}
	if spendResult.NewBalance != 300 {
		t.Errorf("expected new balance 300, got %d", spendResult.NewBalance)
	}

	if err := db.MarkSpendExecuting(ctx, spendResult.Spend.Id); err != nil {
		t.Fatal(err)
	}
	err = service.RecordExecutionResult(ctx, spendResult.Spend.Id, models.ExecutionOutcome{
		Success:        true,
		TxHash:         "0xhash",
		TokensReceived: decimal.RequireFromString("199.5"),
	})
	if err != nil {
		t.Fatalf("RecordExecutionResult failed: %v", err)
	}

	spend, _ := db.GetSpend(ctx, spendResult.Spend.Id)
	if spend.Status != models.SpendStatusCompleted {
		t.Errorf("expected completed, got %s", spend.Status)
	}

	// Redelivered success report is acknowledged.
	err = service.RecordExecutionResult(ctx, spendResult.Spend.Id, models.ExecutionOutcome{
		Success: true, TxHash: "0xhash",
	})
	if err != nil {
		t.Errorf("duplicate execution result errored: %v", err)
	}
}

func TestRecordExecutionResultRetriesThenFails(t *testing.T) {
	service, db := setupTestService(t)
	ctx := context.Background()
	confirmAndCredit(t, service, db, "user-1", 500)

	spendResult, _ := service.InitiateSpend(ctx, models.SpendRequest{
		UserId: "user-1", Amount: 200, ProjectId: "proj-a", ChainId: "base-mainnet", Beneficiary: "0xabc",
	})
	spendId := spendResult.Spend.Id

	// Failures before the last attempt requeue to pending.
	for i := 0; i < database.MaxSpendRetries-1; i++ {
		if err := db.MarkSpendExecuting(ctx, spendId); err != nil {
			t.Fatalf("claim %d failed: %v", i, err)
		}
		if err := service.RecordExecutionResult(ctx, spendId, models.ExecutionOutcome{
			Success: false, Error: "rpc timeout",
		}); err != nil {
			t.Fatalf("failure report %d errored: %v", i, err)
		}
		spend, _ := db.GetSpend(ctx, spendId)
		if spend.Status != models.SpendStatusPending {
			t.Fatalf("attempt %d: expected requeue to pending, got %s", i, spend.Status)
		}
	}

	// The final permitted failure tips it over: terminal failure with
	// refund, never a pending spend the work queue would skip.
	if err := db.MarkSpendExecuting(ctx, spendId); err != nil {
		t.Fatal(err)
	}
	if err := service.RecordExecutionResult(ctx, spendId, models.ExecutionOutcome{
		Success: false, Error: "rpc timeout",
	}); err != nil {
		t.Fatalf("terminal failure report errored: %v", err)
	}

	spend, _ := db.GetSpend(ctx, spendId)
	if spend.Status != models.SpendStatusFailed {
		t.Errorf("expected failed after exhausted retries, got %s", spend.Status)
	}
	balance, _ := service.GetBalance(ctx, "user-1")
	if balance.Balance != 500 || balance.LifetimeSpent != 0 {
		t.Errorf("terminal failure did not refund: %+v", balance)
	}
	if err := service.VerifyBalance(ctx, "user-1"); err != nil {
		t.Errorf("VerifyBalance failed: %v", err)
	}
}

func TestRecordPayoutResult(t *testing.T) {
	service, db := setupTestService(t)
	ctx := context.Background()
	confirmAndCredit(t, service, db, "user-1", 500)

	cashOutResult, err := service.InitiateCashOut(ctx, models.CashOutRequest{
		UserId: "user-1", Amount: 300, Destination: "0xdest", ChainId: "base-mainnet",
	})
	if err != nil || !cashOutResult.Success {
		t.Fatalf("InitiateCashOut failed: %v / %+v", err, cashOutResult)
	}
	cashOutId := cashOutResult.CashOut.Id

	// Wait out the (short test) cash-out delay.
	time.Sleep(50 * time.Millisecond)
	if err := db.MarkCashOutProcessing(ctx, cashOutId); err != nil {
		t.Fatal(err)
	}

	// A failed payout releases the cash-out for a later retry but keeps the
	// funds debited.
	if err := service.RecordPayoutResult(ctx, cashOutId, models.PayoutOutcome{
		Success: false, Error: "gateway unavailable",
	}); err != nil {
		t.Fatalf("RecordPayoutResult failure path errored: %v", err)
	}
	cashOut, _ := db.GetCashOut(ctx, cashOutId)
	if cashOut.Status != models.CashOutStatusPending {
		t.Errorf("expected pending after failed payout, got %s", cashOut.Status)
	}
	balance, _ := service.GetBalance(ctx, "user-1")
	if balance.Balance != 200 {
		t.Errorf("failed payout must keep funds debited, balance=%d", balance.Balance)
	}

	if err := db.MarkCashOutProcessing(ctx, cashOutId); err != nil {
		t.Fatal(err)
	}
	if err := service.RecordPayoutResult(ctx, cashOutId, models.PayoutOutcome{
		Success: true, TxHash: "0xpayout",
	}); err != nil {
		t.Fatalf("RecordPayoutResult success path errored: %v", err)
	}
	cashOut, _ = db.GetCashOut(ctx, cashOutId)
	if cashOut.Status != models.CashOutStatusCompleted || cashOut.TxHash != "0xpayout" {
		t.Errorf("unexpected completed cash-out: %+v", cashOut)
	}
}

func TestCancelCashOutThroughService(t *testing.T) {
	service, db := setupTestService(t)
	ctx := context.Background()
	confirmAndCredit(t, service, db, "user-1", 500)

	cashOutResult, _ := service.InitiateCashOut(ctx, models.CashOutRequest{
		UserId: "user-1", Amount: 300, Destination: "0xdest", ChainId: "base-mainnet",
	})

	cancelResult, err := service.CancelCashOut(ctx, cashOutResult.CashOut.Id)
	if err != nil || !cancelResult.Success {
		t.Fatalf("CancelCashOut failed: %v / %+v", err, cancelResult)
	}
	if cancelResult.NewBalance != 500 {
		t.Errorf("expected refunded balance 500, got %d", cancelResult.NewBalance)
	}

	// A repeat cancel succeeds without refunding again.
	repeat, err := service.CancelCashOut(ctx, cashOutResult.CashOut.Id)
	if err != nil || !repeat.Success {
		t.Fatalf("repeated cancel: %v / %+v", err, repeat)
	}
	if repeat.NewBalance != 500 {
		t.Errorf("repeated cancel changed balance to %d", repeat.NewBalance)
	}
}

func TestHealthCheck(t *testing.T) {
	service, _ := setupTestService(t)
	if err := service.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}
}
