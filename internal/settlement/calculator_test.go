package settlement

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bariqhq/bariq/internal/clock"
	"github.com/bariqhq/bariq/internal/transaction"
)

type creditStub struct{}

func (creditStub) Reserve(_ context.Context, _, _, _ string) error { return nil }
func (creditStub) Release(_ context.Context, _, _, _ string) error { return nil }

type readySink struct {
	mu    sync.Mutex
	ready []string // batch ids
}

func (s *readySink) SettlementReady(_, batchID, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = append(s.ready, batchID)
}

type fixture struct {
	calc *Calculator
	txns *transaction.Service
	clk  *clock.Fake
	sink *readySink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	txns := transaction.NewService(transaction.NewMemoryStore(), creditStub{}, nil, clk, slog.Default(), transaction.Limits{DefaultDays: 30})
	sink := &readySink{}
	calc := NewCalculator(NewMemoryStore(), txns, sink, 0.02, clk, slog.Default())
	return &fixture{calc: calc, txns: txns, clk: clk, sink: sink}
}

// paid creates, confirms and fully pays a transaction for the merchant.
func (f *fixture) paid(t *testing.T, merchantID, amount string) *transaction.Transaction {
	t.Helper()
	txn := f.confirmed(t, merchantID, amount)
	if _, err := f.txns.ApplyPayment(context.Background(), txn.ID, amount); err != nil {
		t.Fatal(err)
	}
	return txn
}

// returned creates, confirms and returns a transaction for the merchant.
func (f *fixture) returned(t *testing.T, merchantID, amount string) *transaction.Transaction {
	t.Helper()
	txn := f.confirmed(t, merchantID, amount)
	if _, err := f.txns.ProcessReturn(context.Background(), txn.ID, merchantID, "returned goods"); err != nil {
		t.Fatal(err)
	}
	return txn
}

func (f *fixture) confirmed(t *testing.T, merchantID, amount string) *transaction.Transaction {
	t.Helper()
	ctx := context.Background()
	txn, err := f.txns.Create(ctx, transaction.CreateRequest{
		MerchantID:      merchantID,
		CustomerID:      "cus_000000000000000000000001",
		PrincipalAmount: amount,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.txns.Confirm(ctx, txn.ID, ""); err != nil {
		t.Fatal(err)
	}
	return txn
}

func (f *fixture) window() (time.Time, time.Time) {
	return f.clk.Now().Add(-time.Hour), f.clk.Now().Add(time.Hour)
}

const merchant = "mer_000000000000000000000001"

func TestCreateBatchComputesFeeAndNet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.paid(t, merchant, "1000.00")
	f.paid(t, merchant, "500.00")

	start, end := f.window()
	b, err := f.calc.CreateBatch(ctx, merchant, start, end)
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if b.GrossAmount != "1500.00" || b.FeeAmount != "30.00" || b.NetAmount != "1470.00" {
		t.Errorf("got gross=%s fee=%s net=%s, want 1500.00/30.00/1470.00",
			b.GrossAmount, b.FeeAmount, b.NetAmount)
	}
	if b.State != StatePending || b.PaidCount != 2 || b.ReturnedCount != 0 {
		t.Errorf("got state=%s paid=%d returned=%d", b.State, b.PaidCount, b.ReturnedCount)
	}
	if len(b.TransactionIDs) != 2 {
		t.Errorf("got %d member transactions, want 2", len(b.TransactionIDs))
	}
}

func TestReturnsReduceGross(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.paid(t, merchant, "1000.00")
	f.returned(t, merchant, "400.00")

	start, end := f.window()
	b, err := f.calc.CreateBatch(ctx, merchant, start, end)
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if b.GrossAmount != "600.00" || b.FeeAmount != "12.00" || b.NetAmount != "588.00" {
		t.Errorf("got gross=%s fee=%s net=%s, want 600.00/12.00/588.00",
			b.GrossAmount, b.FeeAmount, b.NetAmount)
	}
	if b.PaidCount != 1 || b.ReturnedCount != 1 {
		t.Errorf("got paid=%d returned=%d, want 1/1", b.PaidCount, b.ReturnedCount)
	}
}

func TestNegativeGrossCarriesNoFee(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.returned(t, merchant, "300.00")

	start, end := f.window()
	b, err := f.calc.CreateBatch(ctx, merchant, start, end)
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if b.GrossAmount != "-300.00" || b.FeeAmount != "0.00" || b.NetAmount != "-300.00" {
		t.Errorf("got gross=%s fee=%s net=%s, want -300.00/0.00/-300.00",
			b.GrossAmount, b.FeeAmount, b.NetAmount)
	}
}

func TestTransactionBatchedAtMostOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	txn := f.paid(t, merchant, "1000.00")

	start, end := f.window()
	b1, err := f.calc.CreateBatch(ctx, merchant, start, end)
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	// Overlapping second run finds nothing: membership, not date ranges,
	// is the guard.
	if _, err := f.calc.CreateBatch(ctx, merchant, start, end); !errors.Is(err, ErrNothingToSettle) {
		t.Fatalf("second batch: err = %v, want ErrNothingToSettle", err)
	}

	got, _ := f.txns.Get(ctx, txn.ID)
	if got.SettlementID != b1.ID {
		t.Errorf("transaction settlementId = %q, want %q", got.SettlementID, b1.ID)
	}
}

// flakyLinkSource fails LinkSettlement a fixed number of times before
// delegating.
type flakyLinkSource struct {
	TransactionSource
	failures int
}

func (s *flakyLinkSource) LinkSettlement(ctx context.Context, transactionIDs []string, settlementID string) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("link unavailable")
	}
	return s.TransactionSource.LinkSettlement(ctx, transactionIDs, settlementID)
}

func TestLinkFailureLeavesNoBatchBehind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	src := &flakyLinkSource{TransactionSource: f.txns, failures: 1}
	store := NewMemoryStore()
	calc := NewCalculator(store, src, f.sink, 0.02, f.clk, slog.Default())

	txn := f.paid(t, merchant, "1000.00")
	start, end := f.window()

	if _, err := calc.CreateBatch(ctx, merchant, start, end); err == nil {
		t.Fatal("expected CreateBatch to fail on link error")
	}

	// The failed batch must not survive to be approved or transferred.
	pending, err := calc.ListPending(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending batches after link failure = %d, want 0", len(pending))
	}

	// The next run picks the same transactions up exactly once.
	b, err := calc.CreateBatch(ctx, merchant, start, end)
	if err != nil {
		t.Fatalf("retry CreateBatch: %v", err)
	}
	if len(b.TransactionIDs) != 1 || b.TransactionIDs[0] != txn.ID {
		t.Errorf("members = %v, want only %s", b.TransactionIDs, txn.ID)
	}
	got, _ := f.txns.Get(ctx, txn.ID)
	if got.SettlementID != b.ID {
		t.Errorf("transaction settlementId = %q, want %q", got.SettlementID, b.ID)
	}
}

func TestCreateBatchExcludesOutsideWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.paid(t, merchant, "100.00")
	f.clk.Advance(48 * time.Hour)
	inWindow := f.paid(t, merchant, "200.00")

	start := f.clk.Now().Add(-time.Hour)
	end := f.clk.Now().Add(time.Hour)
	b, err := f.calc.CreateBatch(ctx, merchant, start, end)
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if len(b.TransactionIDs) != 1 || b.TransactionIDs[0] != inWindow.ID {
		t.Errorf("members = %v, want only %s", b.TransactionIDs, inWindow.ID)
	}
}

func TestCreateBatchInvalidPeriod(t *testing.T) {
	f := newFixture(t)
	now := f.clk.Now()
	if _, err := f.calc.CreateBatch(context.Background(), merchant, now, now); !errors.Is(err, ErrInvalidPeriod) {
		t.Fatalf("err = %v, want ErrInvalidPeriod", err)
	}
}

func TestBatchLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.paid(t, merchant, "1000.00")
	start, end := f.window()
	b, err := f.calc.CreateBatch(ctx, merchant, start, end)
	if err != nil {
		t.Fatal(err)
	}

	// Transfer before approval is invalid.
	if _, err := f.calc.MarkTransferred(ctx, b.ID, "wire-1"); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("transfer pending: err = %v, want ErrInvalidStateTransition", err)
	}

	approved, err := f.calc.Approve(ctx, b.ID)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if approved.State != StateApproved || approved.ApprovedAt == nil {
		t.Errorf("got state=%s approvedAt=%v", approved.State, approved.ApprovedAt)
	}
	if len(f.sink.ready) != 1 || f.sink.ready[0] != b.ID {
		t.Errorf("settlement_ready events = %v, want [%s]", f.sink.ready, b.ID)
	}

	// Approve and reject are pending-only.
	if _, err := f.calc.Approve(ctx, b.ID); !errors.Is(err, ErrInvalidStateTransition) {
		t.Errorf("double approve: err = %v, want ErrInvalidStateTransition", err)
	}
	if _, err := f.calc.Reject(ctx, b.ID, "late"); !errors.Is(err, ErrInvalidStateTransition) {
		t.Errorf("reject approved: err = %v, want ErrInvalidStateTransition", err)
	}

	transferred, err := f.calc.MarkTransferred(ctx, b.ID, "wire-1")
	if err != nil {
		t.Fatalf("MarkTransferred: %v", err)
	}
	if transferred.State != StateTransferred || transferred.TransferReference != "wire-1" || transferred.TransferredAt == nil {
		t.Errorf("got %+v", transferred)
	}

	// Terminal.
	if _, err := f.calc.MarkTransferred(ctx, b.ID, "wire-2"); !errors.Is(err, ErrInvalidStateTransition) {
		t.Errorf("double transfer: err = %v, want ErrInvalidStateTransition", err)
	}
}

func TestRejectBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.paid(t, merchant, "1000.00")
	start, end := f.window()
	b, _ := f.calc.CreateBatch(ctx, merchant, start, end)

	rejected, err := f.calc.Reject(ctx, b.ID, "suspicious volume")
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if rejected.State != StateRejected || rejected.RejectReason != "suspicious volume" {
		t.Errorf("got state=%s reason=%q", rejected.State, rejected.RejectReason)
	}

	// Members stay linked even on rejection.
	if _, err := f.calc.CreateBatch(ctx, merchant, start, end); !errors.Is(err, ErrNothingToSettle) {
		t.Errorf("rebatch after reject: err = %v, want ErrNothingToSettle", err)
	}
}

func TestRunPeriodCoversAllMerchants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.paid(t, "mer_000000000000000000000001", "100.00")
	f.paid(t, "mer_000000000000000000000002", "200.00")
	f.confirmed(t, "mer_000000000000000000000003", "50.00") // not terminal, not settleable

	start, end := f.window()
	batches, err := f.calc.RunPeriod(ctx, start, end)
	if err != nil {
		t.Fatalf("RunPeriod: %v", err)
	}
	if len(batches) != 2 {
		t.Fatalf("got %d batches, want 2", len(batches))
	}
	seen := make(map[string]string)
	for _, b := range batches {
		seen[b.MerchantID] = b.GrossAmount
	}
	if seen["mer_000000000000000000000001"] != "100.00" || seen["mer_000000000000000000000002"] != "200.00" {
		t.Errorf("per-merchant gross = %v", seen)
	}
}

func TestPendingEmptyPeriod(t *testing.T) {
	f := newFixture(t)
	start, end := f.window()
	if _, err := f.calc.CreateBatch(context.Background(), merchant, start, end); !errors.Is(err, ErrNothingToSettle) {
		t.Fatalf("err = %v, want ErrNothingToSettle", err)
	}
}
