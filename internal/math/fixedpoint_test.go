package math_test

import (
	"errors"
	stdmath "math"
	"testing"

	fpmath "BatchLedger/internal/math"
)

// ============================================================================
// Checked arithmetic
// ============================================================================

func TestAddOverflow(t *testing.T) {
	if _, err := fpmath.Add(stdmath.MaxInt64, 1); !errors.Is(err, fpmath.ErrOverflow) {
		t.Errorf("Add(max, 1) err = %v, want ErrOverflow", err)
	}

	got, err := fpmath.Add(40, 2)
	if err != nil {
		t.Fatalf("Add(40, 2) unexpected error: %v", err)
	}
	if got != 42 {
		t.Errorf("Add(40, 2) = %d, want 42", got)
	}
}

func TestSubOverflow(t *testing.T) {
	if _, err := fpmath.Sub(stdmath.MinInt64, 1); !errors.Is(err, fpmath.ErrOverflow) {
		t.Errorf("Sub(min, 1) err = %v, want ErrOverflow", err)
	}
}

func TestMulOverflow(t *testing.T) {
	if _, err := fpmath.Mul(stdmath.MaxInt64, 2); !errors.Is(err, fpmath.ErrOverflow) {
		t.Errorf("Mul(max, 2) err = %v, want ErrOverflow", err)
	}

	got, err := fpmath.Mul(-7, 6)
	if err != nil {
		t.Fatalf("Mul(-7, 6) unexpected error: %v", err)
	}
	if got != -42 {
		t.Errorf("Mul(-7, 6) = %d, want -42", got)
	}
}

func TestDivByZero(t *testing.T) {
	if _, err := fpmath.Div(1, 0); !errors.Is(err, fpmath.ErrOverflow) {
		t.Errorf("Div(1, 0) err = %v, want ErrOverflow", err)
	}
	if _, err := fpmath.Div(stdmath.MinInt64, -1); !errors.Is(err, fpmath.ErrOverflow) {
		t.Errorf("Div(min, -1) err = %v, want ErrOverflow", err)
	}
}

// ============================================================================
// e6 multiply / divide
// ============================================================================

func TestMulE6(t *testing.T) {
	// 100.5 * 2.0 = 201.0
	got, err := fpmath.MulE6(100_500_000, 2_000_000)
	if err != nil {
		t.Fatalf("MulE6 unexpected error: %v", err)
	}
	if got != 201_000_000 {
		t.Errorf("MulE6(100.5, 2.0) = %d, want 201000000", got)
	}
}

func TestMulE6LargeIntermediate(t *testing.T) {
	// (4e12 * 4e12) / 1e6 = 1.6e19 exceeds int64 even after scaling.
	if _, err := fpmath.MulE6(4_000_000_000_000, 4_000_000_000_000); !errors.Is(err, fpmath.ErrOverflow) {
		t.Errorf("MulE6 huge err = %v, want ErrOverflow", err)
	}

	// (3e12 * 3e12) / 1e6 = 9e18 is huge but still representable.
	if _, err := fpmath.MulE6(3_000_000_000_000, 3_000_000_000_000); err != nil {
		t.Errorf("MulE6 near-limit err = %v, want nil", err)
	}

	// 3e12 * 1e9 / 1e6 = 3e15 fits even though 3e12*1e9 exceeds int64.
	got, err := fpmath.MulE6(3_000_000_000_000, 1_000_000_000)
	if err != nil {
		t.Fatalf("MulE6 128-bit intermediate failed: %v", err)
	}
	if got != 3_000_000_000_000_000 {
		t.Errorf("MulE6 = %d, want 3000000000000000", got)
	}
}

func TestDivE6(t *testing.T) {
	// 100.0 / 2.0 = 50.0
	got, err := fpmath.DivE6(100_000_000, 2_000_000)
	if err != nil {
		t.Fatalf("DivE6 unexpected error: %v", err)
	}
	if got != 50_000_000 {
		t.Errorf("DivE6(100.0, 2.0) = %d, want 50000000", got)
	}

	if _, err := fpmath.DivE6(1, 0); !errors.Is(err, fpmath.ErrOverflow) {
		t.Errorf("DivE6(1, 0) err = %v, want ErrOverflow", err)
	}
}

// ============================================================================
// Position math helpers
// ============================================================================

func TestComputeAvgEntryPrice(t *testing.T) {
	// First fill: average is the fill price
	got, err := fpmath.ComputeAvgEntryPrice(0, 0, 1_000_000, 50_000_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 50_000_000_000 {
		t.Errorf("first fill avg = %d, want 50000000000", got)
	}

	// 1.0 @ 50,000 then 1.0 @ 60,000 → 55,000
	got, err = fpmath.ComputeAvgEntryPrice(1_000_000, 50_000_000_000, 1_000_000, 60_000_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 55_000_000_000 {
		t.Errorf("weighted avg = %d, want 55000000000", got)
	}
}

func TestComputePnL(t *testing.T) {
	// Long 1.0 BTC, entry 50,000, exit 55,000 → +5,000
	got, err := fpmath.ComputePnL(1, 55_000_000_000, 50_000_000_000, 1_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 5_000_000_000 {
		t.Errorf("long pnl = %d, want 5000000000", got)
	}

	// Short on the same move loses the same amount
	got, err = fpmath.ComputePnL(-1, 55_000_000_000, 50_000_000_000, 1_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != -5_000_000_000 {
		t.Errorf("short pnl = %d, want -5000000000", got)
	}
}

func TestComputeFee(t *testing.T) {
	// 1.0 BTC at 50,000 with 0.1% fee → 50
	got, err := fpmath.ComputeFee(1_000_000, 50_000_000_000, 1_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 50_000_000 {
		t.Errorf("fee = %d, want 50000000", got)
	}
}

// ============================================================================
// Funding
// ============================================================================

func TestComputeFundingPayment(t *testing.T) {
	// Long 2.0 BTC at index 50,000, rate +0.01% → pays 10
	payment, err := fpmath.ComputeFundingPayment(2_000_000, 50_000_000_000, 100, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payment != 10_000_000 {
		t.Errorf("long payment = %d, want 10000000", payment)
	}

	// The matching short receives the same amount
	short, err := fpmath.ComputeFundingPayment(2_000_000, 50_000_000_000, 100, -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if short != -payment {
		t.Errorf("short payment = %d, want %d (margin conserved)", short, -payment)
	}
}

func TestComputeFundingPaymentNegativeRate(t *testing.T) {
	// Negative rate: shorts pay longs
	payment, err := fpmath.ComputeFundingPayment(1_000_000, 50_000_000_000, -100, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payment >= 0 {
		t.Errorf("long payment with negative rate = %d, want < 0", payment)
	}
}
