package oracle

import (
	"context"
	"errors"
	"math"
	"math/big"
	"testing"
)

// stubReader returns canned balances per (token, account) pair.
type stubReader struct {
	balances map[string]*big.Int // key: token + "|" + account
	err      error
}

func (s *stubReader) BalanceOf(_ context.Context, token, account string) (*big.Int, error) {
	if s.err != nil {
		return nil, s.err
	}
	if b, ok := s.balances[token+"|"+account]; ok {
		return b, nil
	}
	return big.NewInt(0), nil
}

// human converts human units to an 18-decimal base-unit big.Int.
func human(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

const (
	tokCash = "0x0000000000000000000000000000000000000c01"
	tokSec  = "0x0000000000000000000000000000000000000c02"
	buyer   = "0x00000000000000000000000000000000000000b1"
	seller  = "0x00000000000000000000000000000000000000b2"
)

func TestSufficientBalances(t *testing.T) {
	o := New(&stubReader{balances: map[string]*big.Int{
		tokCash + "|" + buyer: human(2000),
		tokSec + "|" + seller: human(50),
	}}, tokCash, tokSec)

	res := o.CheckBalances(context.Background(), buyer, seller, 500, 10)
	if res.Status != StatusSufficient {
		t.Fatalf("expected SUFFICIENT, got %s (%s)", res.Status, res.Detail)
	}
	if res.CashCoverage != 4.0 {
		t.Errorf("cash coverage = %f, want 4.0", res.CashCoverage)
	}
	if res.SecuritiesCoverage != 5.0 {
		t.Errorf("securities coverage = %f, want 5.0", res.SecuritiesCoverage)
	}
}

func TestInsufficientCashLeg(t *testing.T) {
	o := New(&stubReader{balances: map[string]*big.Int{
		tokCash + "|" + buyer: human(100),
		tokSec + "|" + seller: human(50),
	}}, tokCash, tokSec)

	res := o.CheckBalances(context.Background(), buyer, seller, 500, 10)
	if res.Status != StatusInsufficient {
		t.Fatalf("expected INSUFFICIENT, got %s", res.Status)
	}
	if res.Detail == "" {
		t.Error("insufficient result should carry a detail message")
	}
}

func TestZeroRequiredYieldsInfiniteCoverage(t *testing.T) {
	o := New(&stubReader{balances: map[string]*big.Int{
		tokCash + "|" + buyer: human(100),
		tokSec + "|" + seller: human(50),
	}}, tokCash, tokSec)

	res := o.CheckBalances(context.Background(), buyer, seller, 0, 10)
	if !math.IsInf(res.CashCoverage, 1) {
		t.Errorf("cash coverage for zero required = %f, want +Inf", res.CashCoverage)
	}
	if res.Status != StatusSufficient {
		t.Errorf("expected SUFFICIENT, got %s", res.Status)
	}
}

func TestLookupFaultFailsClosed(t *testing.T) {
	o := New(&stubReader{err: errors.New("rpc timeout")}, tokCash, tokSec).WithMaxAttempts(1)

	res := o.CheckBalances(context.Background(), buyer, seller, 500, 10)
	if res.Status != StatusError {
		t.Fatalf("expected ERROR, got %s", res.Status)
	}
	if res.Detail == "" {
		t.Error("error result should carry a diagnostic message")
	}
}

func TestExactBalanceIsSufficient(t *testing.T) {
	o := New(&stubReader{balances: map[string]*big.Int{
		tokCash + "|" + buyer: human(500),
		tokSec + "|" + seller: human(10),
	}}, tokCash, tokSec)

	res := o.CheckBalances(context.Background(), buyer, seller, 500, 10)
	if res.Status != StatusSufficient {
		t.Fatalf("exact balance should be SUFFICIENT, got %s", res.Status)
	}
	if res.CashCoverage != 1.0 {
		t.Errorf("cash coverage = %f, want 1.0", res.CashCoverage)
	}
}
