package bridge

import (
	"context"
	"fmt"
	"sort"

	"github.com/MixinNetwork/bridge/apps/bitcoin"
	"github.com/MixinNetwork/bridge/apps/domichain"
	"github.com/MixinNetwork/mixin/logger"
	"golang.org/x/sync/errgroup"
)

const catchupAddressConcurrency = 4

// CatchUp reconciles the whole history of every bridge address with the
// mints and burns of the service address. Missed mints are repaired when
// repair is set, any other disagreement is returned as an error and the
// node must not start.
func (node *Node) CatchUp(ctx context.Context, repair bool) (*ReconcileResult, error) {
	addresses, err := node.store.ListBridgeAddresses(ctx)
	if err != nil {
		return nil, err
	}
	transfers, txs, err := node.fetchBridgeTransfers(ctx, addresses)
	if err != nil {
		return nil, err
	}
	records, err := node.fetchServiceRecords(ctx)
	if err != nil {
		return nil, err
	}
	addressToMints, err := node.store.ReadAddressToMints(ctx)
	if err != nil {
		return nil, err
	}
	logger.Printf("node.CatchUp(%d) => %d transfers %d records", len(addresses), len(transfers), len(records))

	result, err := Reconcile(transfers, records, addressToMints)
	if err != nil {
		return nil, err
	}
	result = FilterMismatches(result, node.conf.MismatchAllowList)
	for _, m := range result.AmountMismatches {
		logger.Printf("node.CatchUp() => mismatch %s %s %d %s %s", m.Transfer.TxId, m.Transfer.BridgeAddress, m.Transfer.Amount, m.Mint.Signature, m.Mint.Amount)
	}
	if len(result.AmountMismatches) > 0 {
		return result, fmt.Errorf("node.CatchUp() => %d amount mismatches", len(result.AmountMismatches))
	}

	for _, t := range result.MissedMints {
		logger.Printf("node.CatchUp() => missed %s %s %d %t", t.TxId, t.BridgeAddress, t.Amount, repair)
		if !repair {
			continue
		}
		err = node.ProcessConfirmedDeposit(ctx, t.BridgeAddress, txs[t.TxId], true)
		if err != nil {
			return result, fmt.Errorf("node.CatchUp() => repair %s %v", t.TxId, err)
		}
	}
	if !repair && len(result.MissedMints) > 0 {
		return result, fmt.Errorf("node.CatchUp() => %d missed mints", len(result.MissedMints))
	}
	return result, nil
}

func (node *Node) fetchBridgeTransfers(ctx context.Context, addresses []string) ([]*Transfer, map[string]*bitcoin.Transaction, error) {
	history := make([][]*bitcoin.Transaction, len(addresses))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(catchupAddressConcurrency)
	for i, addr := range addresses {
		g.Go(func() error {
			txs, err := node.indexer.GetAddressTransactions(gctx, addr)
			if err != nil {
				return fmt.Errorf("indexer.GetAddressTransactions(%s) => %v", addr, err)
			}
			history[i] = txs
			return nil
		})
	}
	err := g.Wait()
	if err != nil {
		return nil, nil, err
	}

	var transfers []*Transfer
	txs := make(map[string]*bitcoin.Transaction)
	for i, addr := range addresses {
		for _, tx := range history[i] {
			t, err := Classify(tx, addr)
			if err != nil {
				return nil, nil, err
			}
			transfers = append(transfers, t)
			txs[tx.TxId] = tx
		}
	}
	sort.SliceStable(transfers, func(i, j int) bool {
		a, b := transfers[i], transfers[j]
		if a.BlockHeight != b.BlockHeight {
			return a.BlockHeight < b.BlockHeight
		}
		if a.TxId != b.TxId {
			return a.TxId < b.TxId
		}
		return a.BridgeAddress < b.BridgeAddress
	})
	return transfers, txs, nil
}

func (node *Node) fetchServiceRecords(ctx context.Context) ([]*domichain.Record, error) {
	service := node.issuer.ServiceAddress()
	sigs, err := node.chain.GetSignaturesForAddress(ctx, service)
	if err != nil {
		return nil, fmt.Errorf("chain.GetSignaturesForAddress(%s) => %v", service, err)
	}
	txs, err := node.chain.GetParsedTransactions(ctx, sigs)
	if err != nil {
		return nil, err
	}
	var records []*domichain.Record
	for _, tx := range txs {
		rs, err := domichain.ExtractMintsAndBurns(tx, node.conf.TokenProgram)
		if err != nil {
			return nil, err
		}
		records = append(records, rs...)
	}
	domichain.SortRecords(records)
	return records, nil
}
