package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"juice-ledger-go/internal/models"
	"juice-ledger-go/internal/store"

	"github.com/shopspring/decimal"
)

func TestInitiateSpendDebitsUpFront(t *testing.T) {
	service := setupTestDB(t)
	ctx := context.Background()
	fundUser(t, service, "user-1", 1000)

	spend, err := service.InitiateSpend(ctx, models.SpendRequest{
		UserId:      "user-1",
		Amount:      300,
		ProjectId:   "proj-a",
		ChainId:     "base-mainnet",
		Beneficiary: "0xabc",
	})
	if err != nil {
		t.Fatalf("InitiateSpend failed: %v", err)
	}
	if spend.Status != models.SpendStatusPending {
		t.Errorf("expected status pending, got %s", spend.Status)
	}

	balance, _ := service.GetBalance(ctx, "user-1")
	if balance.Balance != 700 || balance.LifetimeSpent != 300 {
		t.Errorf("expected balance=700 spent=300, got %+v", balance)
	}
	if err := service.VerifyBalance(ctx, "user-1"); err != nil {
		t.Errorf("VerifyBalance failed: %v", err)
	}
}

func TestInitiateSpendInsufficientBalance(t *testing.T) {
	service := setupTestDB(t)
	ctx := context.Background()
	fundUser(t, service, "user-1", 100)

	_, err := service.InitiateSpend(ctx, models.SpendRequest{
		UserId: "user-1", Amount: 101, ProjectId: "proj-a", ChainId: "base-mainnet", Beneficiary: "0xabc",
	})
	if !errors.Is(err, store.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	// The refused spend must leave nothing behind: no row, no debit, no event.
	spends, _ := service.GetSpends(ctx, "user-1")
	if len(spends) != 0 {
		t.Errorf("refused spend left %d rows", len(spends))
	}
	balance, _ := service.GetBalance(ctx, "user-1")
	if balance.Balance != 100 || balance.LifetimeSpent != 0 {
		t.Errorf("refused spend touched balance: %+v", balance)
	}
	events, _ := service.GetLedgerEvents(ctx, "user-1", 10, 0)
	if len(events) != 1 { // funding deposit only
		t.Errorf("refused spend left ledger events: %+v", events)
	}
}

func TestInitiateSpendForUnknownUser(t *testing.T) {
	service := setupTestDB(t)

	_, err := service.InitiateSpend(context.Background(), models.SpendRequest{
		UserId: "nobody", Amount: 1, ProjectId: "proj-a", ChainId: "base-mainnet", Beneficiary: "0xabc",
	})
	if !errors.Is(err, store.ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance for unknown user, got %v", err)
	}
}

func TestConcurrentSpendsOnlyOneWins(t *testing.T) {
	service := setupTestDB(t)
	ctx := context.Background()
	fundUser(t, service, "user-1", 100)

	// Both want 60 from a balance of 100. Exactly one can succeed.
	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := service.InitiateSpend(ctx, models.SpendRequest{
				UserId: "user-1", Amount: 60, ProjectId: "proj-a",
				ChainId: "base-mainnet", Beneficiary: fmt.Sprintf("0x%d", i),
			})
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	var succeeded, refused int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, store.ErrInsufficientBalance):
			refused++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || refused != 1 {
		t.Errorf("expected exactly one winner, got %d succeeded / %d refused", succeeded, refused)
	}

	balance, _ := service.GetBalance(ctx, "user-1")
	if balance.Balance != 40 {
		t.Errorf("expected balance=40 after one debit, got %d", balance.Balance)
	}
	if err := service.VerifyBalance(ctx, "user-1"); err != nil {
		t.Errorf("VerifyBalance failed: %v", err)
	}
}

func TestSpendExecutionLifecycle(t *testing.T) {
	service := setupTestDB(t)
	ctx := context.Background()
	fundUser(t, service, "user-1", 500)

	spend, err := service.InitiateSpend(ctx, models.SpendRequest{
		UserId: "user-1", Amount: 200, ProjectId: "proj-a", ChainId: "base-mainnet", Beneficiary: "0xabc",
	})
	if err != nil {
		t.Fatalf("InitiateSpend failed: %v", err)
	}

	if err := service.MarkSpendExecuting(ctx, spend.Id); err != nil {
		t.Fatalf("MarkSpendExecuting failed: %v", err)
	}
	// Claiming twice is a duplicate, not a crash.
	err = service.MarkSpendExecuting(ctx, spend.Id)
	if !errors.Is(err, store.ErrDuplicateEvent) {
		t.Errorf("expected ErrDuplicateEvent on double claim, got %v", err)
	}

	tokens := decimal.RequireFromString("199.5")
	if err := service.CompleteSpend(ctx, spend.Id, "0xhash", tokens); err != nil {
		t.Fatalf("CompleteSpend failed: %v", err)
	}

	got, _ := service.GetSpend(ctx, spend.Id)
	if got.Status != models.SpendStatusCompleted || got.TxHash != "0xhash" {
		t.Errorf("unexpected completed spend: %+v", got)
	}
	if !got.TokensReceived.Equal(tokens) {
		t.Errorf("expected tokens_received %s, got %s", tokens, got.TokensReceived)
	}

	// Completion is terminal for every mutation.
	if err := service.MarkSpendExecuting(ctx, spend.Id); !errors.Is(err, store.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition claiming a completed spend, got %v", err)
	}
	if err := service.RequeueSpend(ctx, spend.Id, "late failure"); !errors.Is(err, store.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition requeueing a completed spend, got %v", err)
	}
	if err := service.FailSpend(ctx, spend.Id, "late failure"); !errors.Is(err, store.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition failing a completed spend, got %v", err)
	}

	// The debit from initiation stands, untouched by completion.
	balance, _ := service.GetBalance(ctx, "user-1")
	if balance.Balance != 300 || balance.LifetimeSpent != 200 {
		t.Errorf("expected balance=300 spent=200, got %+v", balance)
	}
}

func TestFailSpendRefundsExactly(t *testing.T) {
	service := setupTestDB(t)
	ctx := context.Background()
	fundUser(t, service, "user-1", 500)

	before, _ := service.GetBalance(ctx, "user-1")

	spend, _ := service.InitiateSpend(ctx, models.SpendRequest{
		UserId: "user-1", Amount: 450, ProjectId: "proj-a", ChainId: "base-mainnet", Beneficiary: "0xabc",
	})
	if err := service.MarkSpendExecuting(ctx, spend.Id); err != nil {
		t.Fatalf("MarkSpendExecuting failed: %v", err)
	}
	if err := service.FailSpend(ctx, spend.Id, "execution reverted"); err != nil {
		t.Fatalf("FailSpend failed: %v", err)
	}

	// The round trip restores the exact pre-spend values.
	after, _ := service.GetBalance(ctx, "user-1")
	if after.Balance != before.Balance || after.LifetimeSpent != before.LifetimeSpent {
		t.Errorf("refund did not restore balance: before=%+v after=%+v", before, after)
	}
	if err := service.VerifyBalance(ctx, "user-1"); err != nil {
		t.Errorf("VerifyBalance failed: %v", err)
	}

	got, _ := service.GetSpend(ctx, spend.Id)
	if got.Status != models.SpendStatusFailed || got.LastError != "execution reverted" {
		t.Errorf("unexpected failed spend: %+v", got)
	}

	// usage + refund both present in the log.
	events, _ := service.GetLedgerEvents(ctx, "user-1", 10, 0)
	var usage, refund int
	for _, event := range events {
		if event.SpendId != spend.Id {
			continue
		}
		switch event.Type {
		case models.LedgerEventUsage:
			usage++
		case models.LedgerEventRefund:
			refund++
		}
	}
	if usage != 1 || refund != 1 {
		t.Errorf("expected one usage and one refund event, got %d/%d", usage, refund)
	}

	// A failed spend is terminal: no second refund.
	if err := service.FailSpend(ctx, spend.Id, "again"); !errors.Is(err, store.ErrDuplicateEvent) {
		t.Errorf("expected ErrDuplicateEvent on repeated fail, got %v", err)
	}
	final, _ := service.GetBalance(ctx, "user-1")
	if final.Balance != before.Balance {
		t.Errorf("repeated fail changed balance to %d", final.Balance)
	}
}

func TestRequeueSpendConsumesRetryBudget(t *testing.T) {
	service := setupTestDB(t)
	ctx := context.Background()
	fundUser(t, service, "user-1", 500)

	spend, _ := service.InitiateSpend(ctx, models.SpendRequest{
		UserId: "user-1", Amount: 100, ProjectId: "proj-a", ChainId: "base-mainnet", Beneficiary: "0xabc",
	})

	// Failures 1..MaxSpendRetries-1 requeue; every requeued spend must stay
	// visible to the work queue or it would strand its initiation debit.
	for i := 0; i < MaxSpendRetries-1; i++ {
		if err := service.MarkSpendExecuting(ctx, spend.Id); err != nil {
			t.Fatalf("claim %d failed: %v", i, err)
		}
		if err := service.RequeueSpend(ctx, spend.Id, "rpc timeout"); err != nil {
			t.Fatalf("requeue %d failed: %v", i, err)
		}
		listed := false
		retriable, _ := service.ListRetriableSpends(ctx, 100)
		for _, sp := range retriable {
			if sp.Id == spend.Id {
				listed = true
			}
		}
		if !listed {
			t.Fatalf("requeued spend missing from work queue after failure %d", i+1)
		}
	}

	got, _ := service.GetSpend(ctx, spend.Id)
	if got.RetryCount != MaxSpendRetries-1 {
		t.Errorf("expected retry_count=%d, got %d", MaxSpendRetries-1, got.RetryCount)
	}

	// The last permitted failure is terminal: the requeue is refused as
	// exhausted and the caller fails the spend, which refunds the debit.
	if err := service.MarkSpendExecuting(ctx, spend.Id); err != nil {
		t.Fatalf("final claim failed: %v", err)
	}
	err := service.RequeueSpend(ctx, spend.Id, "rpc timeout")
	if !errors.Is(err, store.ErrRetryExhausted) {
		t.Fatalf("expected ErrRetryExhausted, got %v", err)
	}
	if err := service.FailSpend(ctx, spend.Id, "rpc timeout"); err != nil {
		t.Fatalf("FailSpend after exhaustion failed: %v", err)
	}

	final, _ := service.GetSpend(ctx, spend.Id)
	if final.Status != models.SpendStatusFailed {
		t.Errorf("expected terminal failed status, got %s", final.Status)
	}
	balance, _ := service.GetBalance(ctx, "user-1")
	if balance.Balance != 500 || balance.LifetimeSpent != 0 {
		t.Errorf("exhausted spend did not refund: %+v", balance)
	}
	retriable, _ := service.ListRetriableSpends(ctx, 100)
	for _, sp := range retriable {
		if sp.Id == spend.Id {
			t.Error("failed spend still listed as retriable")
		}
	}
}

func TestListRetriableSpendsOrdersOldestFirst(t *testing.T) {
	service := setupTestDB(t)
	ctx := context.Background()
	fundUser(t, service, "user-1", 1000)

	first, _ := service.InitiateSpend(ctx, models.SpendRequest{
		UserId: "user-1", Amount: 100, ProjectId: "proj-a", ChainId: "base-mainnet", Beneficiary: "0xa",
	})
	second, _ := service.InitiateSpend(ctx, models.SpendRequest{
		UserId: "user-1", Amount: 100, ProjectId: "proj-a", ChainId: "base-mainnet", Beneficiary: "0xb",
	})

	retriable, err := service.ListRetriableSpends(ctx, 100)
	if err != nil {
		t.Fatalf("ListRetriableSpends failed: %v", err)
	}
	if len(retriable) != 2 {
		t.Fatalf("expected 2 retriable spends, got %d", len(retriable))
	}
	if retriable[0].Id != first.Id || retriable[1].Id != second.Id {
		t.Errorf("expected oldest first: got %s then %s", retriable[0].Id, retriable[1].Id)
	}

	// A claimed spend leaves the queue.
	if err := service.MarkSpendExecuting(ctx, first.Id); err != nil {
		t.Fatalf("MarkSpendExecuting failed: %v", err)
	}
	retriable, _ = service.ListRetriableSpends(ctx, 100)
	if len(retriable) != 1 || retriable[0].Id != second.Id {
		t.Errorf("expected only the unclaimed spend, got %+v", retriable)
	}
}
