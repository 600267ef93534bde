package bridge

import (
	"context"
	"fmt"
	"strconv"

	"github.com/MixinNetwork/bridge/apps/bitcoin"
	"github.com/MixinNetwork/mixin/logger"
)

// ProcessConfirmedDeposit mints the deposit of tx to the bridge address
// owner. It is the only path that mints, both the watchers and the catch-up
// repair end here. A deposit already minted is skipped. A deposit recorded
// but not minted is only retried when reconciled proves the mint is absent
// on chain, while a deposit recorded as minted with no mint on chain is an
// error that needs the operator.
func (node *Node) ProcessConfirmedDeposit(ctx context.Context, multi string, tx *bitcoin.Transaction, reconciled bool) error {
	node.depositMutex.Lock()
	defer node.depositMutex.Unlock()

	addr, err := node.store.ReadAddress(ctx, multi)
	if err != nil {
		return fmt.Errorf("store.ReadAddress(%s) => %v", multi, err)
	}
	if addr == nil {
		return fmt.Errorf("bridge.ProcessConfirmedDeposit(%s, %s) => unknown address", multi, tx.TxId)
	}

	bridges, err := node.store.ListBridgeAddresses(ctx)
	if err != nil {
		return err
	}
	for i := range tx.Vin {
		from := tx.InputAddress(i)
		for _, b := range bridges {
			if from == b {
				return fmt.Errorf("bridge.ProcessConfirmedDeposit(%s, %s) => input from bridge %s", multi, tx.TxId, b)
			}
		}
	}
	var outputs []*bitcoin.Output
	for _, out := range tx.Vout {
		if out.Address == multi {
			outputs = append(outputs, out)
		}
	}
	if len(outputs) != 1 || outputs[0].Value == 0 {
		return fmt.Errorf("bridge.ProcessConfirmedDeposit(%s, %s) => %d outputs", multi, tx.TxId, len(outputs))
	}
	value := outputs[0].Value

	old, err := node.store.ReadTransaction(ctx, tx.TxId)
	if err != nil {
		return fmt.Errorf("store.ReadTransaction(%s) => %v", tx.TxId, err)
	}
	switch {
	case old == nil:
		err = node.store.WriteTransaction(ctx, &Transaction{
			TxHash:       tx.TxId,
			MultiAddress: multi,
			Value:        strconv.FormatUint(value, 10),
			Confirmed:    true,
		})
		if err != nil {
			return fmt.Errorf("store.WriteTransaction(%s) => %v", tx.TxId, err)
		}
	case old.Minted && reconciled:
		return fmt.Errorf("bridge.ProcessConfirmedDeposit(%s, %s) => recorded minted %s but no mint on chain", multi, tx.TxId, old.MintAddress.String)
	case old.Minted:
		logger.Verbosef("bridge.ProcessConfirmedDeposit(%s, %s) => minted %s", multi, tx.TxId, old.MintAddress.String)
		return nil
	case old.MultiAddress != multi || old.Value != strconv.FormatUint(value, 10):
		return fmt.Errorf("bridge.ProcessConfirmedDeposit(%s, %s) => recorded %s %s", multi, tx.TxId, old.MultiAddress, old.Value)
	case !reconciled:
		return fmt.Errorf("bridge.ProcessConfirmedDeposit(%s, %s) => recorded without mint, catch-up required", multi, tx.TxId)
	}

	res, err := node.issuer.MintToOwner(ctx, addr.AccountAddress, value)
	logger.Printf("issuer.MintToOwner(%s, %s, %d) => %v %v", tx.TxId, addr.AccountAddress, value, res, err)
	if err != nil {
		return fmt.Errorf("issuer.MintToOwner(%s, %d) => %v", addr.AccountAddress, value, err)
	}
	err = node.store.UpdateTransactionMinted(ctx, tx.TxId, res.Mint, res.DestinationAccount, addr.AccountAddress)
	if err != nil {
		return fmt.Errorf("store.UpdateTransactionMinted(%s, %s) => %v", tx.TxId, res.Mint, err)
	}
	return nil
}
