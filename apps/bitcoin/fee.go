package bitcoin

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/shopspring/decimal"
)

// The wallet tool reports a failed coin selection as
//
//	Insufficient funds: <available> sat available of <needed> sat needed
//
// possibly wrapped by other error text. Both numbers are base units.
var insufficientFundsPattern = regexp.MustCompile(`Insufficient funds: (\d+) sat available of (\d+) sat needed`)

type InsufficientFunds struct {
	Available uint64
	Needed    uint64
}

func (f *InsufficientFunds) Shortfall() uint64 {
	if f.Needed <= f.Available {
		return 0
	}
	return f.Needed - f.Available
}

func IsInsufficientFundsMessage(msg string) bool {
	return insufficientFundsPattern.MatchString(msg)
}

func ParseInsufficientFunds(msg string) (*InsufficientFunds, error) {
	matches := insufficientFundsPattern.FindAllStringSubmatch(msg, -1)
	if len(matches) != 1 {
		return nil, fmt.Errorf("bitcoin.ParseInsufficientFunds(%q) => %d matches", msg, len(matches))
	}
	available, err := strconv.ParseUint(matches[0][1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bitcoin.ParseInsufficientFunds(%q) => %v", msg, err)
	}
	needed, err := strconv.ParseUint(matches[0][2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bitcoin.ParseInsufficientFunds(%q) => %v", msg, err)
	}
	if needed <= available {
		return nil, fmt.Errorf("bitcoin.ParseInsufficientFunds(%q) => needed %d available %d", msg, needed, available)
	}
	return &InsufficientFunds{Available: available, Needed: needed}, nil
}

// FeeFromShortfall derives the fee the wallet tool would have charged for
// sending amount, from its insufficient funds report.
func FeeFromShortfall(f *InsufficientFunds, amount uint64) (uint64, error) {
	if f.Needed <= amount {
		return 0, fmt.Errorf("bitcoin.FeeFromShortfall(%d, %d) => no fee", f.Needed, amount)
	}
	return f.Needed - amount, nil
}

// EstimateVBytes is advisory only, the fee is authoritative.
func EstimateVBytes(fee uint64, rate decimal.Decimal) uint64 {
	if rate.Sign() <= 0 {
		panic(rate.String())
	}
	return uint64(decimal.NewFromUint64(fee).Div(rate).Round(0).IntPart())
}
