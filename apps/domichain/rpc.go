package domichain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MixinNetwork/bridge/common"
	"github.com/MixinNetwork/mixin/logger"
	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"golang.org/x/sync/errgroup"
)

const (
	signaturesPageLimit  = 1000
	transactionsParallel = 16
	rpcTimeout           = 10 * time.Second
)

var ErrTransactionNotFound = errors.New("transaction not found")

var pollPolicy = common.RetryPolicy{
	Attempts: 8,
	Initial:  500 * time.Millisecond,
	Max:      10 * time.Second,
}

func NewClient(rpcEndpoint string) *Client {
	return &Client{
		rpcEndpoint: rpcEndpoint,
		rpcClient:   rpc.New(rpcEndpoint),
	}
}

type Client struct {
	rpcEndpoint string
	rpcClient   *rpc.Client
}

func (c *Client) getRPCClient() *rpc.Client {
	return c.rpcClient
}

func isRetryableRPCError(err error) bool {
	if errors.Is(err, ErrTransactionNotFound) {
		return true
	}
	reason := strings.ToLower(err.Error())
	switch {
	case strings.Contains(reason, "429"):
	case strings.Contains(reason, "too many requests"):
	case strings.Contains(reason, "timeout"):
	case strings.Contains(reason, "deadline exceeded"):
	default:
		return false
	}
	return true
}

// GetSignaturesForAddress returns all finalized and successful signatures
// of the address, newest first.
func (c *Client) GetSignaturesForAddress(ctx context.Context, address string) ([]string, error) {
	key, err := PublicKeyFromString(address)
	if err != nil {
		return nil, err
	}
	client := c.getRPCClient()
	limit := signaturesPageLimit
	seen := make(map[solana.Signature]bool)
	var all []string
	var before solana.Signature
	for {
		var page []*rpc.TransactionSignature
		err := common.Retry(ctx, "getSignaturesForAddress", pollPolicy, isRetryableRPCError, func() error {
			rctx, cancel := context.WithTimeout(ctx, rpcTimeout)
			defer cancel()
			res, err := client.GetSignaturesForAddressWithOpts(rctx, key, &rpc.GetSignaturesForAddressOpts{
				Limit:      &limit,
				Before:     before,
				Commitment: rpc.CommitmentFinalized,
			})
			page = res
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("domichain.GetSignaturesForAddress(%s, %s) => %v", address, before, err)
		}
		for _, s := range page {
			if seen[s.Signature] {
				return nil, fmt.Errorf("domichain.GetSignaturesForAddress(%s) => duplicate %s", address, s.Signature)
			}
			seen[s.Signature] = true
			if s.Err != nil || s.ConfirmationStatus != rpc.ConfirmationStatusFinalized {
				continue
			}
			all = append(all, s.Signature.String())
		}
		logger.Verbosef("domichain.GetSignaturesForAddress(%s, %s) => %d %d", address, before, len(page), len(all))
		if len(page) == 0 {
			return all, nil
		}
		before = page[len(page)-1].Signature
	}
}

// GetParsedTransaction polls until the transaction is visible at the
// finalized commitment, a null result is not final.
func (c *Client) GetParsedTransaction(ctx context.Context, signature string) (*ParsedTransaction, error) {
	_, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("solana.SignatureFromBase58(%s) => %v", signature, err)
	}
	client := c.getRPCClient()
	params := []any{signature, map[string]any{
		"encoding":                       "jsonParsed",
		"commitment":                     rpc.CommitmentFinalized,
		"maxSupportedTransactionVersion": 0,
	}}
	var tx *ParsedTransaction
	err = common.Retry(ctx, "getTransaction", pollPolicy, isRetryableRPCError, func() error {
		rctx, cancel := context.WithTimeout(ctx, rpcTimeout)
		defer cancel()
		var out *ParsedTransaction
		err := client.RPCCallForInto(rctx, &out, "getTransaction", params)
		if err != nil {
			return err
		}
		if out == nil {
			return ErrTransactionNotFound
		}
		tx = out
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("domichain.GetParsedTransaction(%s) => %v", signature, err)
	}
	if tx.Meta == nil {
		return nil, fmt.Errorf("domichain.GetParsedTransaction(%s) => meta is nil", signature)
	}
	return tx, nil
}

// GetParsedTransactions fetches the signatures concurrently, the result
// keeps the order of the input.
func (c *Client) GetParsedTransactions(ctx context.Context, signatures []string) ([]*ParsedTransaction, error) {
	txs := make([]*ParsedTransaction, len(signatures))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(transactionsParallel)
	for i, sig := range signatures {
		g.Go(func() error {
			tx, err := c.GetParsedTransaction(gctx, sig)
			if err != nil {
				return err
			}
			if tx.Failed() {
				return fmt.Errorf("domichain.GetParsedTransactions(%s) => failed %v", sig, tx.Meta.Err)
			}
			txs[i] = tx
			return nil
		})
	}
	return txs, g.Wait()
}

func (c *Client) GetBlockHeight(ctx context.Context) (uint64, error) {
	rctx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()
	height, err := c.getRPCClient().GetBlockHeight(rctx, rpc.CommitmentFinalized)
	if err != nil {
		return 0, fmt.Errorf("domichain.GetBlockHeight() => %v", err)
	}
	return height, nil
}

func (c *Client) getLatestBlockhash(ctx context.Context) (solana.Hash, error) {
	rctx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()
	block, err := c.getRPCClient().GetLatestBlockhash(rctx, rpc.CommitmentConfirmed)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("domichain.GetLatestBlockhash() => %v", err)
	}
	return block.Value.Blockhash, nil
}

func (c *Client) getMinimumBalanceForRentExemption(ctx context.Context, size uint64) (uint64, error) {
	rctx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()
	rent, err := c.getRPCClient().GetMinimumBalanceForRentExemption(rctx, size, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("domichain.GetMinimumBalanceForRentExemption(%d) => %v", size, err)
	}
	return rent, nil
}

func (c *Client) sendTransaction(ctx context.Context, tx *solana.Transaction) (string, error) {
	rctx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()
	sig, err := c.getRPCClient().SendTransactionWithOpts(rctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return "", fmt.Errorf("domichain.SendTransaction() => %v", err)
	}
	return sig.String(), nil
}
