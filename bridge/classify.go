package bridge

import (
	"errors"
	"fmt"

	"github.com/MixinNetwork/bridge/apps/bitcoin"
)

type Direction int

const (
	DirectionDeposit Direction = iota + 1
	DirectionWithdraw
)

func (d Direction) String() string {
	switch d {
	case DirectionDeposit:
		return "deposit"
	case DirectionWithdraw:
		return "withdraw"
	}
	panic(int(d))
}

var (
	ErrMixedInputs          = errors.New("withdrawal spends inputs of other addresses")
	ErrNonDecreasingBalance = errors.New("withdrawal does not decrease the bridge balance")
	ErrNoBridgeInvolvement  = errors.New("transaction does not involve the bridge address")
	ErrAmbiguousSource      = errors.New("deposit has more than one source address")
	ErrZeroAmount           = errors.New("deposit amount is zero")
	ErrAmbiguousDestination = errors.New("withdrawal has more than one destination address")
)

// Transfer is a confirmed transaction seen from one bridge address.
type Transfer struct {
	TxId          string
	Direction     Direction
	Counterparty  string
	BridgeAddress string
	Amount        uint64
	BlockHeight   uint64
}

// Classify decides whether tx deposits to or withdraws from bridge. The
// amount of a withdrawal includes the network fee, which is burned together
// with the amount received by the counterparty.
func Classify(tx *bitcoin.Transaction, bridge string) (*Transfer, error) {
	var vinHasBridge, vinAllBridge = false, true
	for i := range tx.Vin {
		if tx.InputAddress(i) == bridge {
			vinHasBridge = true
		} else {
			vinAllBridge = false
		}
	}
	var voutHasBridge bool
	for _, out := range tx.Vout {
		if out.Address == bridge {
			voutHasBridge = true
		}
	}

	t := &Transfer{
		TxId:          tx.TxId,
		BridgeAddress: bridge,
		BlockHeight:   tx.Status.BlockHeight,
	}
	switch {
	case vinHasBridge && !vinAllBridge:
		return nil, classifyError(tx, bridge, ErrMixedInputs)
	case vinHasBridge && voutHasBridge:
		var source, change uint64
		for _, in := range tx.Vin {
			source += in.Prevout.Value
		}
		for _, out := range tx.Vout {
			if out.Address == bridge {
				change += out.Value
			}
		}
		if source <= change {
			return nil, classifyError(tx, bridge, ErrNonDecreasingBalance)
		}
		return classifyWithdraw(tx, t)
	case vinHasBridge:
		return classifyWithdraw(tx, t)
	case voutHasBridge:
		return classifyDeposit(tx, t)
	default:
		return nil, classifyError(tx, bridge, ErrNoBridgeInvolvement)
	}
}

func classifyDeposit(tx *bitcoin.Transaction, t *Transfer) (*Transfer, error) {
	sources := make(map[string]bool)
	for i := range tx.Vin {
		sources[tx.InputAddress(i)] = true
	}
	if len(sources) != 1 {
		return nil, classifyError(tx, t.BridgeAddress, ErrAmbiguousSource)
	}
	for a := range sources {
		t.Counterparty = a
	}
	for _, out := range tx.Vout {
		if out.Address == t.BridgeAddress {
			t.Amount += out.Value
		}
	}
	if t.Amount == 0 {
		return nil, classifyError(tx, t.BridgeAddress, ErrZeroAmount)
	}
	t.Direction = DirectionDeposit
	return t, nil
}

func classifyWithdraw(tx *bitcoin.Transaction, t *Transfer) (*Transfer, error) {
	var destination *bitcoin.Output
	for _, out := range tx.Vout {
		if out.Address == t.BridgeAddress {
			continue
		}
		if destination != nil && destination.Address != out.Address {
			return nil, classifyError(tx, t.BridgeAddress, ErrAmbiguousDestination)
		}
		if destination == nil {
			destination = &bitcoin.Output{Address: out.Address}
		}
		destination.Value += out.Value
	}
	if destination == nil {
		return nil, classifyError(tx, t.BridgeAddress, ErrAmbiguousDestination)
	}
	t.Direction = DirectionWithdraw
	t.Counterparty = destination.Address
	t.Amount = destination.Value + tx.Fee
	return t, nil
}

func classifyError(tx *bitcoin.Transaction, bridge string, err error) error {
	return fmt.Errorf("Classify(%s, %s) => %w", tx.TxId, bridge, err)
}
