package bridge

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
	"slices"

	"github.com/MixinNetwork/bridge/apps/bdk"
	"github.com/MixinNetwork/bridge/apps/bitcoin"
	"github.com/MixinNetwork/bridge/apps/domichain"
	"github.com/MixinNetwork/bridge/common"
	"github.com/MixinNetwork/mixin/logger"
)

var ErrNoKMSKeys = errors.New("no kms keys registered")

// pickKMSKey spreads the addresses over the registered keys by the hash of
// the service xpub.
func pickKMSKey(keys []*KMSKey, xpub string) *KMSKey {
	sum := sha256.Sum256([]byte(xpub))
	n := new(big.Int).SetBytes(sum[:])
	i := n.Mod(n, big.NewInt(int64(len(keys)))).Int64()
	return keys[i]
}

// NewBridgeAddress allocates a fresh deposit address owned by account. A
// new service key is generated for every address and stored encrypted.
func (node *Node) NewBridgeAddress(ctx context.Context, account string) (*Address, error) {
	err := domichain.VerifyAddress(account)
	if err != nil {
		return nil, fmt.Errorf("%w %s", ErrInvalidAddress, account)
	}
	keys, err := node.store.ListKMSKeys(ctx)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, ErrNoKMSKeys
	}

	key, err := node.wallet.GenerateKey(ctx)
	if err != nil {
		return nil, err
	}
	derived, err := node.wallet.DeriveKey(ctx, key.Xprv)
	if err != nil {
		return nil, err
	}
	kms := pickKMSKey(keys, derived.Xpub)
	addr := &Address{
		PublicKey00:     derived.Xpub,
		PublicKey01:     kms.Xpub,
		PublicKey02:     node.conf.HardwareXpub,
		PublicKey03:     node.conf.GoogleKMSXpub,
		PublicKeyARN01:  kms.ARN,
		PublicKeyName03: node.conf.GoogleKMSName,
		AccountAddress:  account,
	}
	if !checkUniqueKeys(addr) {
		return nil, fmt.Errorf("node.NewBridgeAddress(%s) => duplicated keys", account)
	}

	descriptor, err := node.wallet.Compile(ctx, privatePolicy(&AddressKeys{Address: addr, Key: key}))
	if err != nil {
		return nil, err
	}
	err = node.wallet.WithWallet(ctx, func(w bdk.Wallet) error {
		addr.MultiAddress, err = w.NewAddress(ctx, descriptor)
		return err
	})
	if err != nil {
		return nil, err
	}
	multi, err := bitcoin.ParseAddress(addr.MultiAddress, node.conf.Network)
	if err != nil || multi != addr.MultiAddress {
		return nil, fmt.Errorf("bitcoin.ParseAddress(%s) => %s %v", addr.MultiAddress, multi, err)
	}

	err = node.store.WriteAddress(ctx, addr, key)
	logger.Printf("node.NewBridgeAddress(%s) => %s %s %v", account, addr.MultiAddress, kms.ARN, err)
	if err != nil {
		return nil, err
	}
	node.watchAddresses([]string{addr.MultiAddress})
	return addr, nil
}

func checkUniqueKeys(addr *Address) bool {
	keys := []string{addr.PublicKey00, addr.PublicKey01, addr.PublicKey02, addr.PublicKey03}
	return !slices.Contains(keys, "") && common.CheckUnique(keys...)
}
