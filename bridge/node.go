package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MixinNetwork/bridge/apps/bitcoin"
	"github.com/MixinNetwork/bridge/common"
	"github.com/MixinNetwork/mixin/logger"
)

type Node struct {
	conf         *Configuration
	store        *SQLite3Store
	indexer      UtxoIndexer
	chain        AccountChain
	issuer       TokenIssuer
	wallet       WalletPolicyTool
	verifier     *Verifier
	orchestrator *Orchestrator

	depositMutex sync.Mutex
	watchMutex   sync.Mutex
	watchCtx     context.Context
	watching     map[string]bool
}

func NewNode(store *SQLite3Store, conf *Configuration, indexer UtxoIndexer, chain AccountChain, issuer TokenIssuer, wallet WalletPolicyTool) *Node {
	err := bitcoin.VerifyNetwork(conf.Network)
	if err != nil {
		panic(err)
	}
	verifier := NewVerifier(store, chain, issuer, conf.TokenProgram, conf.VerifyBlockWindow)
	return &Node{
		conf:         conf,
		store:        store,
		indexer:      indexer,
		chain:        chain,
		issuer:       issuer,
		wallet:       wallet,
		verifier:     verifier,
		orchestrator: NewOrchestrator(store, wallet, indexer, issuer, verifier, conf.Network),
		watching:     make(map[string]bool),
	}
}

// Boot refuses to serve until the catch-up agrees with both ledgers.
func (node *Node) Boot(ctx context.Context) error {
	_, err := node.CatchUp(ctx, true)
	if err != nil {
		return fmt.Errorf("node.CatchUp() => %v", err)
	}
	err = node.store.WriteProperty(ctx, catchupCheckpointKey, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return err
	}

	addresses, err := node.store.ListBridgeAddresses(ctx)
	if err != nil {
		return err
	}
	node.watchMutex.Lock()
	node.watchCtx = ctx
	node.watchMutex.Unlock()
	go node.watchAddresses(addresses)
	return nil
}

const catchupCheckpointKey = "catchup-checkpoint"

// watchAddresses starts one watcher per chunk of new addresses, the chunks
// start a little apart to be gentle with the remote.
func (node *Node) watchAddresses(addresses []string) {
	node.watchMutex.Lock()
	ctx := node.watchCtx
	var fresh []string
	for _, a := range addresses {
		if ctx != nil && !node.watching[a] {
			node.watching[a] = true
			fresh = append(fresh, a)
		}
	}
	node.watchMutex.Unlock()

	for i, chunk := range common.ChunkStrings(fresh, watcherChunkSize) {
		if i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(watcherChunkStagger):
			}
		}
		w := NewWatcher(node.conf.WebsocketURL, chunk, node.handleWatchedTransaction)
		go w.Run(ctx)
	}
}

// handleWatchedTransaction ignores the withdrawals the watchers also see.
func (node *Node) handleWatchedTransaction(ctx context.Context, address string, tx *bitcoin.Transaction) error {
	t, err := Classify(tx, address)
	if err != nil {
		return err
	}
	if t.Direction != DirectionDeposit {
		logger.Verbosef("node.handleWatchedTransaction(%s, %s) => %s", address, tx.TxId, t.Direction)
		return nil
	}
	return node.ProcessConfirmedDeposit(ctx, address, tx, false)
}

var ErrDepositNotConfirmed = errors.New("deposit not confirmed")

const (
	watchTxLookupAttempts = 5
	watchTxLookupDelay    = 2 * time.Second
	watchTxPollDelay      = 3 * time.Second
	watchTxTimeout        = 3 * time.Hour
)

// WatchTransaction waits for a deposit the owner reported and processes it
// once confirmed.
func (node *Node) WatchTransaction(ctx context.Context, txid, multi string) error {
	ctx, cancel := context.WithTimeout(ctx, watchTxTimeout)
	defer cancel()

	var tx *bitcoin.Transaction
	err := common.Retry(ctx, "WatchTransaction", common.RetryPolicy{
		Attempts: watchTxLookupAttempts,
		Initial:  watchTxLookupDelay,
		Max:      watchTxLookupDelay,
	}, func(err error) bool {
		return errors.Is(err, ErrDepositNotConfirmed)
	}, func() error {
		var err error
		tx, err = node.indexer.GetTransaction(ctx, txid)
		if err == nil && tx == nil {
			return ErrDepositNotConfirmed
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("indexer.GetTransaction(%s) => %v", txid, err)
	}

	for !tx.Status.Confirmed {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(watchTxPollDelay):
		}
		tx, err = node.indexer.GetTransaction(ctx, txid)
		if err != nil || tx == nil {
			return fmt.Errorf("indexer.GetTransaction(%s) => %v %v", txid, tx, err)
		}
	}
	return node.handleWatchedTransaction(ctx, multi, tx)
}
