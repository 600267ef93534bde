package bitcoin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/MixinNetwork/bridge/common"
	"github.com/MixinNetwork/mixin/logger"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	indexerPageSize    = 25
	indexerTimeout     = 10 * time.Second
	feesCacheDuration  = 60 * time.Second
	indexerRequestRate = 5
)

var ErrRateLimited = errors.New("indexer rate limited")

var indexerRetryPolicy = common.RetryPolicy{
	Attempts: 8,
	Initial:  2 * time.Second,
	Max:      2 * time.Minute,
}

type Prevout struct {
	Address string `json:"scriptpubkey_address"`
	Type    string `json:"scriptpubkey_type"`
	Value   uint64 `json:"value"`
}

type Input struct {
	TxId     string   `json:"txid"`
	Vout     uint32   `json:"vout"`
	Prevout  *Prevout `json:"prevout"`
	Coinbase bool     `json:"is_coinbase"`
}

type Output struct {
	Address string `json:"scriptpubkey_address"`
	Type    string `json:"scriptpubkey_type"`
	Value   uint64 `json:"value"`
}

type TransactionStatus struct {
	Confirmed   bool   `json:"confirmed"`
	BlockHeight uint64 `json:"block_height"`
	BlockHash   string `json:"block_hash"`
	BlockTime   int64  `json:"block_time"`
}

type Transaction struct {
	TxId   string            `json:"txid"`
	Vin    []*Input          `json:"vin"`
	Vout   []*Output         `json:"vout"`
	Fee    uint64            `json:"fee"`
	Size   uint64            `json:"size"`
	Weight uint64            `json:"weight"`
	Status TransactionStatus `json:"status"`
}

// InputAddress returns the source address of the i-th input, or an empty
// string when the indexer did not resolve it.
func (tx *Transaction) InputAddress(i int) string {
	in := tx.Vin[i]
	if in.Prevout == nil {
		return ""
	}
	return in.Prevout.Address
}

type RecommendedFees struct {
	FastestFee  decimal.Decimal `json:"fastestFee"`
	HalfHourFee decimal.Decimal `json:"halfHourFee"`
	HourFee     decimal.Decimal `json:"hourFee"`
	EconomyFee  decimal.Decimal `json:"economyFee"`
	MinimumFee  decimal.Decimal `json:"minimumFee"`
}

// Indexer talks to a mempool.space compatible REST API.
type Indexer struct {
	client  *resty.Client
	limiter *rate.Limiter

	feesMutex  sync.Mutex
	fees       *RecommendedFees
	feesCached time.Time
}

func NewIndexer(api string) *Indexer {
	client := resty.New()
	client.SetBaseURL(api)
	client.SetTimeout(indexerTimeout)
	client.SetHeader("Accept", "application/json")
	return &Indexer{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(indexerRequestRate), indexerRequestRate),
	}
}

func (i *Indexer) get(ctx context.Context, path string, params map[string]string, out any) (bool, error) {
	var found bool
	err := common.Retry(ctx, path, indexerRetryPolicy, func(err error) bool {
		return errors.Is(err, ErrRateLimited)
	}, func() error {
		err := i.limiter.Wait(ctx)
		if err != nil {
			return err
		}
		resp, err := i.client.R().SetContext(ctx).SetQueryParams(params).SetResult(out).Get(path)
		if err != nil {
			return fmt.Errorf("indexer.Get(%s) => %v", path, err)
		}
		switch resp.StatusCode() {
		case http.StatusOK:
			found = true
			return nil
		case http.StatusNotFound:
			found = false
			return nil
		case http.StatusTooManyRequests:
			return ErrRateLimited
		default:
			return fmt.Errorf("indexer.Get(%s) => %d %s", path, resp.StatusCode(), resp.String())
		}
	})
	return found, err
}

// GetAddressTransactions returns every confirmed transaction of the address,
// newest first, walking the chain history by last seen txid until a short page.
func (i *Indexer) GetAddressTransactions(ctx context.Context, address string) ([]*Transaction, error) {
	var all []*Transaction
	seen := make(map[string]bool)
	var cursor string
	for {
		path := fmt.Sprintf("/address/%s/txs/chain", address)
		if cursor != "" {
			path = path + "/" + cursor
		}
		var page []*Transaction
		_, err := i.get(ctx, path, nil, &page)
		if err != nil {
			return nil, err
		}
		for _, tx := range page {
			if seen[tx.TxId] {
				return nil, fmt.Errorf("bitcoin.GetAddressTransactions(%s) => duplicate %s after %s", address, tx.TxId, cursor)
			}
			seen[tx.TxId] = true
			if tx.Status.Confirmed {
				all = append(all, tx)
			}
		}
		logger.Verbosef("bitcoin.GetAddressTransactions(%s, %s) => %d %d", address, cursor, len(page), len(all))
		if len(page) < indexerPageSize {
			return all, nil
		}
		cursor = page[len(page)-1].TxId
	}
}

// GetTransaction returns nil without error when the indexer has not seen it.
func (i *Indexer) GetTransaction(ctx context.Context, txid string) (*Transaction, error) {
	var tx Transaction
	found, err := i.get(ctx, fmt.Sprintf("/tx/%s", txid), nil, &tx)
	if err != nil || !found {
		return nil, err
	}
	if tx.TxId != txid {
		return nil, fmt.Errorf("bitcoin.GetTransaction(%s) => %s", txid, tx.TxId)
	}
	return &tx, nil
}

// GetRecommendedFees caches the fee rates for a minute, the boolean reports
// whether the cached value was used.
func (i *Indexer) GetRecommendedFees(ctx context.Context) (*RecommendedFees, bool, error) {
	i.feesMutex.Lock()
	defer i.feesMutex.Unlock()

	if i.fees != nil && time.Since(i.feesCached) < feesCacheDuration {
		return i.fees, true, nil
	}
	var fees RecommendedFees
	found, err := i.get(ctx, "/v1/fees/recommended", nil, &fees)
	if err != nil {
		return nil, false, err
	}
	if !found || fees.FastestFee.Sign() <= 0 {
		return nil, false, fmt.Errorf("bitcoin.GetRecommendedFees() => %v", fees)
	}
	i.fees, i.feesCached = &fees, time.Now()
	return i.fees, false, nil
}
