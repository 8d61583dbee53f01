package transaction

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/bariqhq/bariq/internal/clock"
	"github.com/bariqhq/bariq/internal/ledger"
)

// End-to-end purchase lifecycle against a real credit ledger.
func TestLifecycleAgainstLedger(t *testing.T) {
	ctx := context.Background()
	led := ledger.New(ledger.NewMemoryStore(), nil, slog.Default())
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	svc := NewService(NewMemoryStore(), led, nil, clk, slog.Default(), Limits{DefaultDays: 30})

	const customer = "cus_000000000000000000000001"
	if _, err := led.CreateProfile(ctx, customer, "5000.00"); err != nil {
		t.Fatal(err)
	}

	txn, err := svc.Create(ctx, CreateRequest{
		MerchantID:      "mer_000000000000000000000001",
		CustomerID:      customer,
		PrincipalAmount: "2000.00",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	profile, _ := led.Get(ctx, customer)
	if profile.AvailableCredit() != "3000.00" {
		t.Fatalf("available after create = %s, want 3000.00", profile.AvailableCredit())
	}

	if _, err := svc.Confirm(ctx, txn.ID, customer); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	// Partial payment leaves the full reservation in place.
	if _, err := svc.ApplyPayment(ctx, txn.ID, "1500.00"); err != nil {
		t.Fatalf("ApplyPayment: %v", err)
	}
	profile, _ = led.Get(ctx, customer)
	if profile.AvailableCredit() != "3000.00" {
		t.Errorf("available after partial payment = %s, want 3000.00", profile.AvailableCredit())
	}

	if _, err := svc.ApplyPayment(ctx, txn.ID, "500.00"); err != nil {
		t.Fatalf("ApplyPayment: %v", err)
	}
	profile, _ = led.Get(ctx, customer)
	if profile.AvailableCredit() != "5000.00" {
		t.Errorf("available after settlement = %s, want 5000.00", profile.AvailableCredit())
	}

	got, _ := svc.Get(ctx, txn.ID)
	if got.State != StatePaid {
		t.Errorf("state = %s, want paid", got.State)
	}
}

func TestCreateBlockedByCreditLimit(t *testing.T) {
	ctx := context.Background()
	led := ledger.New(ledger.NewMemoryStore(), nil, slog.Default())
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	svc := NewService(NewMemoryStore(), led, nil, clk, slog.Default(), Limits{DefaultDays: 30})

	const customer = "cus_000000000000000000000002"
	if _, err := led.CreateProfile(ctx, customer, "1000.00"); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Create(ctx, CreateRequest{
		MerchantID:      "mer_000000000000000000000001",
		CustomerID:      customer,
		PrincipalAmount: "800.00",
	}); err != nil {
		t.Fatal(err)
	}

	_, err := svc.Create(ctx, CreateRequest{
		MerchantID:      "mer_000000000000000000000001",
		CustomerID:      customer,
		PrincipalAmount: "300.00",
	})
	if !errors.Is(err, ledger.ErrInsufficientCredit) {
		t.Fatalf("err = %v, want ErrInsufficientCredit", err)
	}

	// The failed create must not leak a transaction or a reservation.
	profile, _ := led.Get(ctx, customer)
	if profile.UsedCredit != "800.00" {
		t.Errorf("used = %s, want 800.00", profile.UsedCredit)
	}
}
