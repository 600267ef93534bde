package bridge

import (
	"testing"

	"github.com/MixinNetwork/bridge/apps/domichain"
	"github.com/stretchr/testify/require"
)

func testRecord(kind domichain.RecordKind, sig, mint, amount string, block uint64) *domichain.Record {
	return &domichain.Record{Kind: kind, Signature: sig, TokenMintAddress: mint, Amount: amount, Block: block}
}

func TestReconcileMatched(t *testing.T) {
	require := require.New(t)

	transfers := []*Transfer{{TxId: "d1", Direction: DirectionDeposit, BridgeAddress: "BA1", Counterparty: "EXT1", Amount: 100000, BlockHeight: 840000}}
	records := []*domichain.Record{testRecord(domichain.RecordMint, "s1", "M1", "100000", 5)}
	mints := map[string][]string{"BA1": {"M1"}}

	result, err := Reconcile(transfers, records, mints)
	require.Nil(err)
	require.Len(result.MissedMints, 0)
	require.Len(result.AmountMismatches, 0)

	again, err := Reconcile(transfers, records, mints)
	require.Nil(err)
	require.Equal(result, again)
}

func TestReconcileMissedAndMismatch(t *testing.T) {
	require := require.New(t)

	missed := &Transfer{TxId: "d1", Direction: DirectionDeposit, BridgeAddress: "BA1", Amount: 100000, BlockHeight: 840000}
	result, err := Reconcile([]*Transfer{missed}, nil, map[string][]string{})
	require.Nil(err)
	require.Equal([]*Transfer{missed}, result.MissedMints)
	require.Len(result.AmountMismatches, 0)

	records := []*domichain.Record{testRecord(domichain.RecordMint, "s1", "M1", "99000", 5)}
	result, err = Reconcile([]*Transfer{missed}, records, map[string][]string{"BA1": {"M1"}})
	require.Nil(err)
	require.Len(result.MissedMints, 0)
	require.Len(result.AmountMismatches, 1)
	require.Equal(missed, result.AmountMismatches[0].Transfer)
	require.Equal("99000", result.AmountMismatches[0].Mint.Amount)

	allowed := FilterMismatches(result, []string{"d1"})
	require.Len(allowed.AmountMismatches, 0)
	require.Len(allowed.MissedMints, 0)
	kept := FilterMismatches(result, []string{"f697db2d2962b976150aae2c2292fdb3df3938c82fe67327aa5600d29fa0d75f"})
	require.Len(kept.AmountMismatches, 1)
}

func TestReconcileNoDoubleMatch(t *testing.T) {
	require := require.New(t)

	transfers := []*Transfer{
		{TxId: "d1", Direction: DirectionDeposit, BridgeAddress: "BA1", Amount: 100, BlockHeight: 1},
		{TxId: "d2", Direction: DirectionDeposit, BridgeAddress: "BA1", Amount: 200, BlockHeight: 2},
		{TxId: "d3", Direction: DirectionDeposit, BridgeAddress: "BA2", Amount: 300, BlockHeight: 3},
	}
	records := []*domichain.Record{
		testRecord(domichain.RecordMint, "s1", "M1", "100", 10),
		testRecord(domichain.RecordMint, "s3", "M2", "300", 11),
	}
	mints := map[string][]string{"BA1": {"M1"}, "BA2": {"M2"}}

	result, err := Reconcile(transfers, records, mints)
	require.Nil(err)
	require.Len(result.MissedMints, 1)
	require.Equal("d2", result.MissedMints[0].TxId)
	require.Len(result.AmountMismatches, 0)
}

func TestReconcileWithdrawals(t *testing.T) {
	require := require.New(t)

	mints := map[string][]string{"BA1": {"M1"}}
	deposit := &Transfer{TxId: "d1", Direction: DirectionDeposit, BridgeAddress: "BA1", Amount: 100000, BlockHeight: 1}
	withdraw := &Transfer{TxId: "w1", Direction: DirectionWithdraw, BridgeAddress: "BA1", Amount: 50000, BlockHeight: 2}
	records := []*domichain.Record{
		testRecord(domichain.RecordMint, "s1", "M1", "100000", 10),
		testRecord(domichain.RecordBurn, "s2", "M1", "50000", 11),
	}

	result, err := Reconcile([]*Transfer{deposit, withdraw}, records, mints)
	require.Nil(err)
	require.Len(result.MissedMints, 0)
	require.Len(result.AmountMismatches, 0)

	_, err = Reconcile([]*Transfer{deposit, withdraw}, records[:1], mints)
	require.ErrorIs(err, ErrUnmatchedWithdraw)

	records[1].Amount = "49700"
	_, err = Reconcile([]*Transfer{deposit, withdraw}, records, mints)
	require.ErrorIs(err, ErrBurnMismatch)

	records[1].Amount = "50000"
	_, err = Reconcile([]*Transfer{deposit}, records, mints)
	require.ErrorIs(err, ErrUnmatchedRecords)
	require.Contains(err.Error(), "burn:s2:M1")

	records = append(records, testRecord(domichain.RecordMint, "s9", "M9", "1", 12))
	_, err = Reconcile([]*Transfer{deposit, withdraw}, records, mints)
	require.ErrorIs(err, ErrUnmatchedRecords)
}
