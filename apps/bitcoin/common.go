package bitcoin

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	ValuePrecision = 8
	ValueSatoshi   = 100000000
	ValueDust      = 546

	// DescriptorPath is appended to the service xprv in the wallet policy.
	DescriptorPath = "84h/1h/0h/0/*"
	// DerivePath is used to derive the published xpub of every key share.
	DerivePath = "m/84'/1'/0'/0"
)

func ParseSatoshi(amount string) (uint64, error) {
	amt, err := decimal.NewFromString(amount)
	if err != nil {
		return 0, fmt.Errorf("decimal.NewFromString(%s) => %v", amount, err)
	}
	amt = amt.Mul(decimal.New(1, ValuePrecision))
	if !amt.IsInteger() || amt.Sign() < 0 || !amt.BigInt().IsUint64() {
		return 0, fmt.Errorf("invalid bitcoin amount %s", amount)
	}
	return amt.BigInt().Uint64(), nil
}

// ParseBaseUnits parses an integer amount of satoshi given as a string.
func ParseBaseUnits(amount string) (uint64, error) {
	amt, err := decimal.NewFromString(amount)
	if err != nil {
		return 0, fmt.Errorf("decimal.NewFromString(%s) => %v", amount, err)
	}
	if !amt.IsInteger() || amt.Sign() <= 0 || !amt.BigInt().IsUint64() {
		return 0, fmt.Errorf("invalid base units amount %s", amount)
	}
	if amt.String() != amount {
		return 0, fmt.Errorf("non canonical base units amount %s", amount)
	}
	return amt.BigInt().Uint64(), nil
}

func FormatSatoshi(satoshi uint64) string {
	return decimal.NewFromUint64(satoshi).Shift(-ValuePrecision).StringFixed(ValuePrecision)
}
