package bridge

import (
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/MixinNetwork/bridge/apps/domichain"
	"github.com/MixinNetwork/mixin/logger"
)

var (
	ErrUnmatchedWithdraw = errors.New("withdrawal without burn")
	ErrBurnMismatch      = errors.New("withdrawal amount differs from its burn")
	ErrUnmatchedRecords  = errors.New("mints or burns without bitcoin transfer")
)

type Mismatch struct {
	Transfer *Transfer
	Mint     *domichain.Record
}

type ReconcileResult struct {
	MissedMints      []*Transfer
	AmountMismatches []*Mismatch
}

// Reconcile pairs every transfer with the first unconsumed record of its
// kind minted for the bridge address. Both inputs must be sorted by block.
// A matched record is consumed even when the amounts differ.
func Reconcile(transfers []*Transfer, records []*domichain.Record, addressToMints map[string][]string) (*ReconcileResult, error) {
	consumed := make([]bool, len(records))
	match := func(t *Transfer, kind domichain.RecordKind) *domichain.Record {
		mints := addressToMints[t.BridgeAddress]
		for i, r := range records {
			if consumed[i] || r.Kind != kind || !slices.Contains(mints, r.TokenMintAddress) {
				continue
			}
			consumed[i] = true
			return r
		}
		return nil
	}

	result := &ReconcileResult{}
	for _, t := range transfers {
		amount := strconv.FormatUint(t.Amount, 10)
		switch t.Direction {
		case DirectionDeposit:
			r := match(t, domichain.RecordMint)
			if r == nil {
				result.MissedMints = append(result.MissedMints, t)
			} else if r.Amount != amount {
				result.AmountMismatches = append(result.AmountMismatches, &Mismatch{Transfer: t, Mint: r})
			}
		case DirectionWithdraw:
			r := match(t, domichain.RecordBurn)
			if r == nil {
				return nil, fmt.Errorf("Reconcile(%s, %s) => %w", t.TxId, t.BridgeAddress, ErrUnmatchedWithdraw)
			}
			if r.Amount != amount {
				return nil, fmt.Errorf("Reconcile(%s, %s) => %w %s %s %s", t.TxId, t.BridgeAddress, ErrBurnMismatch, r.Signature, r.Amount, amount)
			}
		default:
			panic(t.Direction)
		}
	}

	var leftover []string
	for i, r := range records {
		if !consumed[i] {
			leftover = append(leftover, fmt.Sprintf("%s:%s:%s", r.Kind, r.Signature, r.TokenMintAddress))
		}
	}
	if len(leftover) > 0 {
		return nil, fmt.Errorf("Reconcile() => %w %v", ErrUnmatchedRecords, leftover)
	}
	return result, nil
}

// FilterMismatches drops the operator allow-listed transactions from the
// amount mismatches, each drop is logged.
func FilterMismatches(result *ReconcileResult, allow []string) *ReconcileResult {
	filtered := &ReconcileResult{MissedMints: result.MissedMints}
	for _, m := range result.AmountMismatches {
		if slices.Contains(allow, m.Transfer.TxId) {
			logger.Printf("bridge.FilterMismatches(%s, %s) => allowed %d %s", m.Transfer.TxId, m.Transfer.BridgeAddress, m.Transfer.Amount, m.Mint.Amount)
			continue
		}
		filtered.AmountMismatches = append(filtered.AmountMismatches, m)
	}
	return filtered
}
