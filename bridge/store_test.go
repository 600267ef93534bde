package bridge

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/MixinNetwork/bridge/apps/bdk"
	"github.com/stretchr/testify/require"
)

func TestSQLite3StoreOpen(t *testing.T) {
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "bridge.sqlite3")
	_, err := OpenSQLite3Store(path, "")
	require.NotNil(err)

	store, err := OpenSQLite3Store(path, "secret")
	require.Nil(err)
	ctx := context.Background()
	err = store.WriteProperty(ctx, catchupCheckpointKey, "2026-01-01T00:00:00Z")
	require.Nil(err)
	v, err := store.ReadProperty(ctx, catchupCheckpointKey)
	require.Nil(err)
	require.Equal("2026-01-01T00:00:00Z", v)
	require.Nil(store.Close())

	store, err = OpenSQLite3Store(path, "secret")
	require.Nil(err)
	defer store.Close()
	v, err = store.ReadProperty(ctx, catchupCheckpointKey)
	require.Nil(err)
	require.Equal("2026-01-01T00:00:00Z", v)
}

func TestSQLite3StoreKMSKeys(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	store := testStore(t)

	keys, err := store.ListKMSKeys(ctx)
	require.Nil(err)
	require.Len(keys, 0)

	err = store.WriteKMSKey(ctx, "arn:1", "tpub1")
	require.Nil(err)
	err = store.WriteKMSKey(ctx, "arn:2", "tpub2")
	require.Nil(err)
	err = store.WriteKMSKey(ctx, "arn:1", "tpub1")
	require.Nil(err)
	keys, err = store.ListKMSKeys(ctx)
	require.Nil(err)
	require.Len(keys, 2)
	require.Equal("arn:1", keys[0].ARN)
	require.Equal("tpub1", keys[0].Xpub)
	require.Equal("arn:2", keys[1].ARN)

	for _, xpub := range []string{"tpubA", "tpubB", "tpubC"} {
		require.Equal(pickKMSKey(keys, xpub), pickKMSKey(keys, xpub))
	}
}

func TestSQLite3StoreAddressesAndDeposits(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	store := testStore(t)

	multi := testBitcoinAddress(t)
	key := &bdk.GeneratedKey{Fingerprint: "a1b2c3d4", Mnemonic: "abandon ability", Xprv: "tprv8ZgxMBicQKsPd"}
	addr := &Address{
		MultiAddress:    multi,
		PublicKey00:     "tpub00",
		PublicKey01:     "tpub01",
		PublicKey02:     "tpub02",
		PublicKey03:     "tpub03",
		PublicKeyARN01:  "arn:1",
		PublicKeyName03: "projects/p",
		AccountAddress:  "owner",
	}
	err := store.WriteAddress(ctx, addr, key)
	require.Nil(err)
	err = store.WriteAddress(ctx, addr, key)
	require.NotNil(err)

	read, err := store.ReadAddress(ctx, multi)
	require.Nil(err)
	require.Equal("owner", read.AccountAddress)
	require.False(read.Minted)
	require.False(read.MintAddress.Valid)
	read, err = store.ReadAddress(ctx, testBitcoinAddress(t))
	require.Nil(err)
	require.Nil(read)

	addrs, err := store.ListBridgeAddresses(ctx)
	require.Nil(err)
	require.Equal([]string{multi}, addrs)

	byMint, err := store.ReadAddressByMint(ctx, "M1")
	require.Nil(err)
	require.Nil(byMint)

	hash := testTxId()
	err = store.WriteTransaction(ctx, &Transaction{TxHash: hash, MultiAddress: multi, Value: "100000", Confirmed: true})
	require.Nil(err)
	tx, err := store.ReadTransaction(ctx, hash)
	require.Nil(err)
	require.False(tx.Minted)
	require.Equal("100000", tx.Value)

	err = store.UpdateTransactionMinted(ctx, hash, "M1", "ATA1", "owner")
	require.Nil(err)
	err = store.UpdateTransactionMinted(ctx, hash, "M2", "ATA2", "owner")
	require.NotNil(err)
	tx, err = store.ReadTransaction(ctx, hash)
	require.Nil(err)
	require.True(tx.Minted)
	require.Equal(sql.NullString{String: "M1", Valid: true}, tx.MintAddress)
	require.Equal("ATA1", tx.AccountAddress.String)
	require.Equal("owner", tx.DomiAddress.String)

	read, err = store.ReadAddress(ctx, multi)
	require.Nil(err)
	require.True(read.Minted)
	require.Equal("M1", read.MintAddress.String)

	byMint, err = store.ReadAddressByMint(ctx, "M1")
	require.Nil(err)
	require.Equal(multi, byMint.MultiAddress)
	require.Equal(key, byMint.Key)

	mints, err := store.ReadAddressToMints(ctx)
	require.Nil(err)
	require.Equal(map[string][]string{multi: {"M1"}}, mints)
}

func TestSQLite3StoreWithdrawals(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	store := testStore(t)

	w := &Withdrawal{Signature: "sig1", MintAddress: "M1", MultiAddress: "BA1", WithdrawAddress: "EXT1", WithdrawAmount: "50000", AccountAddress: "owner"}
	consumed, err := store.CheckWithdrawalConsumed(ctx, "sig1")
	require.Nil(err)
	require.False(consumed)

	err = store.WriteWithdrawal(ctx, w)
	require.Nil(err)
	require.Equal(WithdrawalStateReserved, w.State)
	consumed, err = store.CheckWithdrawalConsumed(ctx, "sig1")
	require.Nil(err)
	require.True(consumed)
	err = store.WriteWithdrawal(ctx, &Withdrawal{Signature: "sig1"})
	require.ErrorIs(err, ErrSignatureConsumed)

	w.State = WithdrawalStateAborted
	w.Reason = sql.NullString{String: "signer noop", Valid: true}
	err = store.UpdateWithdrawal(ctx, w)
	require.Nil(err)
	consumed, err = store.CheckWithdrawalConsumed(ctx, "sig1")
	require.Nil(err)
	require.False(consumed)

	w = &Withdrawal{Signature: "sig1", MintAddress: "M1", MultiAddress: "BA1", WithdrawAddress: "EXT1", WithdrawAmount: "50000", AccountAddress: "owner"}
	err = store.WriteWithdrawal(ctx, w)
	require.Nil(err)
	read, err := store.ReadWithdrawal(ctx, "sig1")
	require.Nil(err)
	require.Equal(WithdrawalStateReserved, read.State)
	require.False(read.Reason.Valid)

	w.State, w.Fee = WithdrawalStateBurned, 300
	w.BurnSignature = sql.NullString{String: "burn1", Valid: true}
	err = store.UpdateWithdrawal(ctx, w)
	require.Nil(err)
	w.State = WithdrawalStateAborted
	err = store.UpdateWithdrawal(ctx, w)
	require.NotNil(err)
	w.State = WithdrawalStateReserved
	err = store.UpdateWithdrawal(ctx, w)
	require.NotNil(err)

	w.State = WithdrawalStateDone
	w.TransactionHash = sql.NullString{String: "b0b0", Valid: true}
	err = store.UpdateWithdrawal(ctx, w)
	require.Nil(err)
	read, err = store.ReadWithdrawal(ctx, "sig1")
	require.Nil(err)
	require.Equal(WithdrawalStateDone, read.State)
	require.Equal(uint64(300), read.Fee)
	require.Equal("burn1", read.BurnSignature.String)
	require.Equal("b0b0", read.TransactionHash.String)

	err = store.UpdateWithdrawal(ctx, &Withdrawal{Signature: "sig2", State: WithdrawalStateDone})
	require.NotNil(err)
}
