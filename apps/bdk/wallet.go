package bdk

import (
	"context"
	"fmt"

	"github.com/MixinNetwork/bridge/common"
	"github.com/shopspring/decimal"
)

const (
	SignerAWS    = "--aws_kms"
	SignerGoogle = "--google_kms"
)

type Balance struct {
	Satoshi struct {
		Immature         uint64 `json:"immature"`
		TrustedPending   uint64 `json:"trusted_pending"`
		UntrustedPending uint64 `json:"untrusted_pending"`
		Confirmed        uint64 `json:"confirmed"`
	} `json:"satoshi"`
}

type Policy struct {
	Id   string `json:"id"`
	Type string `json:"type"`
}

type Policies struct {
	External *Policy `json:"external"`
	Internal *Policy `json:"internal"`
}

type PSBT struct {
	PSBT        string `json:"psbt"`
	IsFinalized bool   `json:"is_finalized"`
}

// KMSSigner selects the patched tool and the cloud key it signs with.
type KMSSigner struct {
	Flag string
	Key  string
}

// Wallet is the set of calls that touch the temporary wallet directory,
// only valid inside Tool.WithWallet.
type Wallet interface {
	Sync(ctx context.Context, descriptor string) error
	Balance(ctx context.Context, descriptor string) (*Balance, error)
	Policies(ctx context.Context, descriptor string) (*Policies, error)
	NewAddress(ctx context.Context, descriptor string) (string, error)
	CreateTx(ctx context.Context, descriptor, to string, amount uint64, externalPolicy string, feeRate decimal.Decimal) (*PSBT, error)
	Sign(ctx context.Context, descriptor, psbt string, kms *KMSSigner) (*PSBT, error)
	Broadcast(ctx context.Context, descriptor, psbt string) (string, error)
}

type session struct {
	tool *Tool
}

func (s *session) Sync(ctx context.Context, descriptor string) error {
	return s.tool.run(ctx, s.tool.cliPath, nil, s.tool.walletArgs(descriptor, "sync")...)
}

func (s *session) Balance(ctx context.Context, descriptor string) (*Balance, error) {
	var b Balance
	err := s.tool.run(ctx, s.tool.cliPath, &b, s.tool.walletArgs(descriptor, "get_balance")...)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *session) Policies(ctx context.Context, descriptor string) (*Policies, error) {
	var p Policies
	err := s.tool.run(ctx, s.tool.cliPath, &p, s.tool.walletArgs(descriptor, "policies")...)
	if err != nil {
		return nil, err
	}
	if p.External == nil || p.External.Id == "" {
		return nil, fmt.Errorf("bdk.Policies() => no external policy")
	}
	return &p, nil
}

func (s *session) NewAddress(ctx context.Context, descriptor string) (string, error) {
	var out struct {
		Address string `json:"address"`
	}
	err := s.tool.run(ctx, s.tool.cliPath, &out, s.tool.walletArgs(descriptor, "get_new_address")...)
	if err != nil {
		return "", err
	}
	if out.Address == "" {
		return "", fmt.Errorf("bdk.NewAddress() => empty address")
	}
	return out.Address, nil
}

// ExternalPolicy selects the first two keys of the policy node id.
func ExternalPolicy(id string) string {
	return string(common.MarshalJSONOrPanic(map[string][]int{id: {0, 1}}))
}

func (s *session) CreateTx(ctx context.Context, descriptor, to string, amount uint64, externalPolicy string, feeRate decimal.Decimal) (*PSBT, error) {
	args := []string{
		"create_tx",
		"--to", fmt.Sprintf("%s:%d", to, amount),
		"--external_policy", externalPolicy,
	}
	if feeRate.IsPositive() {
		args = append(args, "--fee_rate", feeRate.String())
	}
	var p PSBT
	err := s.tool.run(ctx, s.tool.cliPath, &p, s.tool.walletArgs(descriptor, args...)...)
	if err != nil {
		return nil, err
	}
	if p.PSBT == "" {
		return nil, fmt.Errorf("bdk.CreateTx(%s, %d) => empty psbt", to, amount)
	}
	return &p, nil
}

func (s *session) Sign(ctx context.Context, descriptor, psbt string, kms *KMSSigner) (*PSBT, error) {
	program, args := s.tool.cliPath, []string{"sign", "--psbt", psbt}
	if kms != nil {
		switch kms.Flag {
		case SignerAWS, SignerGoogle:
		default:
			panic(kms.Flag)
		}
		program = s.tool.patchedPath
		args = append([]string{kms.Flag, kms.Key}, args...)
	}
	var p PSBT
	err := s.tool.run(ctx, program, &p, s.tool.walletArgs(descriptor, args...)...)
	if err != nil {
		return nil, err
	}
	if p.PSBT == "" {
		return nil, fmt.Errorf("bdk.Sign() => empty psbt")
	}
	return &p, nil
}

func (s *session) Broadcast(ctx context.Context, descriptor, psbt string) (string, error) {
	var out struct {
		TxId string `json:"txid"`
	}
	err := s.tool.run(ctx, s.tool.cliPath, &out, s.tool.walletArgs(descriptor, "broadcast", "--psbt", psbt)...)
	if err != nil {
		return "", err
	}
	if out.TxId == "" {
		return "", fmt.Errorf("bdk.Broadcast() => empty txid")
	}
	return out.TxId, nil
}
