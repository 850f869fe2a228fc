// Package oracle implements the balance oracle for trade validation.
//
// The oracle answers one question per trade: do both parties hold enough of
// their respective tokens to settle the cash and securities legs? Lookup
// failures are never permissive: any fault maps to StatusError, which the
// pipeline treats exactly like an insufficient balance.
package oracle

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/mbd888/tradegate/internal/retry"
)

// Status is the oracle's verdict on a balance check.
type Status string

const (
	StatusSufficient   Status = "SUFFICIENT"
	StatusInsufficient Status = "INSUFFICIENT"
	StatusError        Status = "ERROR"
)

// Result is the outcome of a two-leg balance check.
type Result struct {
	Status             Status  `json:"status"`
	CashBalance        float64 `json:"cash_balance"`
	SecuritiesBalance  float64 `json:"securities_balance"`
	CashCoverage       float64 `json:"cash_coverage_ratio"`       // balance / required, +Inf when required is 0
	SecuritiesCoverage float64 `json:"securities_coverage_ratio"` // balance / required, +Inf when required is 0
	Detail             string  `json:"detail,omitempty"`
}

// BalanceReader reads a token balance for an account. Implementations talk
// to a ledger node and may block on network I/O.
type BalanceReader interface {
	BalanceOf(ctx context.Context, token, account string) (*big.Int, error)
}

// tokenScale is the ERC-20 base-unit scale (18 decimals).
var tokenScale = new(big.Float).SetFloat64(1e18)

// Oracle checks the two legs of a DVP trade against on-ledger balances.
type Oracle struct {
	reader      BalanceReader
	cashToken   string
	secToken    string
	timeout     time.Duration
	maxAttempts int
}

// New creates a balance oracle for the given token pair.
func New(reader BalanceReader, cashToken, secToken string) *Oracle {
	return &Oracle{
		reader:      reader,
		cashToken:   cashToken,
		secToken:    secToken,
		timeout:     5 * time.Second,
		maxAttempts: 2,
	}
}

// WithTimeout overrides the per-check lookup timeout.
func (o *Oracle) WithTimeout(d time.Duration) *Oracle {
	o.timeout = d
	return o
}

// WithMaxAttempts overrides the number of lookup attempts per leg.
func (o *Oracle) WithMaxAttempts(n int) *Oracle {
	o.maxAttempts = n
	return o
}

// CheckBalances verifies that the cash party can cover requiredCash and the
// securities party can cover requiredSec. Read-only; no side effects.
// Any lookup fault returns StatusError; callers must treat that as
// insufficient (fail closed).
func (o *Oracle) CheckBalances(ctx context.Context, cashParty, secParty string, requiredCash, requiredSec float64) Result {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	cashBal, err := o.lookup(ctx, o.cashToken, cashParty)
	if err != nil {
		return Result{
			Status: StatusError,
			Detail: fmt.Sprintf("cash balance lookup failed: %v", err),
		}
	}

	secBal, err := o.lookup(ctx, o.secToken, secParty)
	if err != nil {
		return Result{
			Status:      StatusError,
			CashBalance: cashBal,
			Detail:      fmt.Sprintf("securities balance lookup failed: %v", err),
		}
	}

	res := Result{
		Status:             StatusSufficient,
		CashBalance:        cashBal,
		SecuritiesBalance:  secBal,
		CashCoverage:       coverage(cashBal, requiredCash),
		SecuritiesCoverage: coverage(secBal, requiredSec),
	}

	if cashBal < requiredCash || secBal < requiredSec {
		res.Status = StatusInsufficient
		res.Detail = fmt.Sprintf("cash %.4f/%.4f, securities %.4f/%.4f",
			cashBal, requiredCash, secBal, requiredSec)
	}

	return res
}

// lookup reads one balance with retries and converts base units to human units.
func (o *Oracle) lookup(ctx context.Context, token, account string) (float64, error) {
	var raw *big.Int
	err := retry.Do(ctx, o.maxAttempts, 200*time.Millisecond, func() error {
		var err error
		raw, err = o.reader.BalanceOf(ctx, token, account)
		return err
	})
	if err != nil {
		return 0, err
	}
	return toHuman(raw), nil
}

// coverage is balance divided by required, +Inf when nothing is required.
func coverage(balance, required float64) float64 {
	if required == 0 {
		return math.Inf(1)
	}
	return balance / required
}

// toHuman converts an 18-decimal base-unit balance to human units.
func toHuman(raw *big.Int) float64 {
	if raw == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(raw), tokenScale).Float64()
	return f
}
