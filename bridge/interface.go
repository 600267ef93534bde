package bridge

import (
	"context"

	"github.com/MixinNetwork/bridge/apps/bdk"
	"github.com/MixinNetwork/bridge/apps/bitcoin"
	"github.com/MixinNetwork/bridge/apps/domichain"
)

type Configuration struct {
	StoreDir               string   `toml:"store-dir"`
	AESSecret              string   `toml:"aes-secret"`
	Network                string   `toml:"network"`
	IndexerAPI             string   `toml:"indexer-api"`
	WebsocketURL           string   `toml:"websocket-url"`
	DomichainRPC           string   `toml:"domichain-rpc"`
	TokenProgram           string   `toml:"token-program"`
	AssociatedTokenProgram string   `toml:"associated-token-program"`
	ServiceKey             string   `toml:"service-key"`
	BDKPath                string   `toml:"bdk-cli-path"`
	BDKPatchedPath         string   `toml:"bdk-cli-patched-path"`
	WalletDir              string   `toml:"wallet-dir"`
	HardwareXpub           string   `toml:"hardware-xpub"`
	GoogleKMSName          string   `toml:"google-kms-name"`
	GoogleKMSXpub          string   `toml:"google-kms-xpub"`
	MismatchAllowList      []string `toml:"mismatch-allow-list"`
	VerifyBlockWindow      uint64   `toml:"verify-block-window"`
	HTTPPort               int      `toml:"http-port"`
}

// WalletPolicyTool derives keys, compiles policies and runs every call that
// needs the temporary wallet directory under one exclusive lock.
type WalletPolicyTool interface {
	GenerateKey(ctx context.Context) (*bdk.GeneratedKey, error)
	DeriveKey(ctx context.Context, xprv string) (*bdk.DerivedKey, error)
	Compile(ctx context.Context, policy string) (string, error)
	WithWallet(ctx context.Context, fn func(w bdk.Wallet) error) error
}

type TokenIssuer interface {
	ServiceAddress() string
	ServiceTokenAccount(mint string) (string, error)
	MintToOwner(ctx context.Context, owner string, amount uint64) (*domichain.MintResult, error)
	Burn(ctx context.Context, mint string, amount uint64) (string, error)
}

type AccountChain interface {
	GetSignaturesForAddress(ctx context.Context, address string) ([]string, error)
	GetParsedTransaction(ctx context.Context, signature string) (*domichain.ParsedTransaction, error)
	GetParsedTransactions(ctx context.Context, signatures []string) ([]*domichain.ParsedTransaction, error)
	GetBlockHeight(ctx context.Context) (uint64, error)
}

type UtxoIndexer interface {
	GetAddressTransactions(ctx context.Context, address string) ([]*bitcoin.Transaction, error)
	GetTransaction(ctx context.Context, txid string) (*bitcoin.Transaction, error)
	GetRecommendedFees(ctx context.Context) (*bitcoin.RecommendedFees, bool, error)
}
