package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/MixinNetwork/bridge/apps/bitcoin"
	"github.com/MixinNetwork/bridge/common"
	"github.com/MixinNetwork/mixin/logger"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

const (
	watcherChunkSize    = 10
	watcherChunkStagger = 2 * time.Second
	watcherPingPeriod   = 30 * time.Second
	watcherWriteTimeout = 10 * time.Second
)

var watcherIgnoredKeys = []string{
	"mempool-blocks",
	"transactions",
	"vBytesPerSecond",
	"rbfSummary",
	"da",
	"backend",
	"blocks",
	"mempoolInfo",
	"loadingIndicators",
	"conversions",
	"backendInfo",
	"fees",
	"pong",
}

type DepositHandler func(ctx context.Context, address string, tx *bitcoin.Transaction) error

// Watcher streams the confirmed transactions of a few bridge addresses from
// a mempool.space websocket and reconnects forever.
type Watcher struct {
	url       string
	addresses []string
	handler   DepositHandler
	backoff   *common.Backoff
	dialer    *websocket.Dialer
	ping      time.Duration
}

func NewWatcher(url string, addresses []string, handler DepositHandler) *Watcher {
	if len(addresses) == 0 || len(addresses) > watcherChunkSize {
		panic(len(addresses))
	}
	return &Watcher{
		url:       url,
		addresses: addresses,
		handler:   handler,
		backoff:   common.NewBackoff(time.Second, 500*time.Millisecond, 5*time.Minute, 10*time.Minute),
		dialer:    &websocket.Dialer{HandshakeTimeout: watcherWriteTimeout},
		ping:      watcherPingPeriod,
	}
}

func (w *Watcher) Run(ctx context.Context) {
	for {
		err := w.session(ctx)
		if ctx.Err() != nil {
			return
		}
		delay := w.backoff.NextDelay()
		logger.Printf("Watcher.Run(%v) => %v, reconnect in %s", w.addresses, err, delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (w *Watcher) session(ctx context.Context) error {
	conn, _, err := w.dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("websocket.Dial(%s) => %v", w.url, err)
	}
	defer conn.Close()

	var mutex sync.Mutex
	write := func(v any) error {
		mutex.Lock()
		defer mutex.Unlock()
		err := conn.SetWriteDeadline(time.Now().Add(watcherWriteTimeout))
		if err != nil {
			return err
		}
		return conn.WriteJSON(v)
	}
	err = write(map[string]any{"action": "init"})
	if err != nil {
		return err
	}
	err = write(map[string]any{"track-addresses": w.addresses})
	if err != nil {
		return err
	}
	logger.Verbosef("Watcher.session(%v) => subscribed", w.addresses)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(w.ping)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
				err := write(map[string]any{"action": "ping"})
				if err != nil {
					return err
				}
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		return conn.Close()
	})
	g.Go(func() error {
		for {
			typ, data, err := conn.ReadMessage()
			if err != nil {
				return err
			}
			if typ != websocket.TextMessage {
				continue
			}
			w.handleFrame(gctx, data)
		}
	})
	return g.Wait()
}

func (w *Watcher) handleFrame(ctx context.Context, data []byte) {
	deposits, rest, err := parseWatcherFrame(data, w.addresses)
	if err != nil {
		logger.Printf("Watcher.handleFrame(%s) => %v", string(data), err)
		return
	}
	if len(rest) > 0 {
		logger.Verbosef("Watcher.handleFrame(%v) => %v", w.addresses, slices.Sorted(maps.Keys(rest)))
	}
	for _, d := range deposits {
		err := w.handler(ctx, d.address, d.tx)
		logger.Printf("Watcher.handler(%s, %s) => %v", d.address, d.tx.TxId, err)
	}
}

type watchedDeposit struct {
	address string
	tx      *bitcoin.Transaction
}

// parseWatcherFrame returns the confirmed transactions of the watched
// addresses, and the frame keys left after the ignored ones are removed.
func parseWatcherFrame(data []byte, addresses []string) ([]*watchedDeposit, map[string]json.RawMessage, error) {
	var frame map[string]json.RawMessage
	err := json.Unmarshal(data, &frame)
	if err != nil {
		return nil, nil, err
	}
	for _, k := range watcherIgnoredKeys {
		delete(frame, k)
	}
	raw, found := frame["multi-address-transactions"]
	if !found {
		return nil, frame, nil
	}

	var updates map[string]struct {
		Confirmed []*bitcoin.Transaction `json:"confirmed"`
	}
	err = json.Unmarshal(raw, &updates)
	if err != nil {
		return nil, frame, err
	}
	var deposits []*watchedDeposit
	for _, addr := range addresses {
		for _, tx := range updates[addr].Confirmed {
			deposits = append(deposits, &watchedDeposit{address: addr, tx: tx})
		}
	}
	return deposits, frame, nil
}
