package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MixinNetwork/bridge/apps/domichain"
	"github.com/MixinNetwork/mixin/logger"
)

const DefaultVerifyBlockWindow = 150

// VerificationError rejects a withdrawal request outright, it is never
// retried.
type VerificationError struct {
	reason string
}

func (e *VerificationError) Error() string {
	return e.reason
}

var (
	ErrTransactionFailed  = &VerificationError{"transfer transaction failed"}
	ErrSignatureMismatch  = &VerificationError{"transfer signature mismatch"}
	ErrTransferNotFound   = &VerificationError{"exactly one token transfer required"}
	ErrAuthorityMismatch  = &VerificationError{"transfer authority mismatch"}
	ErrDestinationInvalid = &VerificationError{"transfer destination is not the bridge account"}
	ErrMintMismatch       = &VerificationError{"transfer mint mismatch"}
	ErrAmountMismatch     = &VerificationError{"transfer amount mismatch"}
	ErrStaleBlockHeight   = &VerificationError{"block height out of window"}
	ErrInvalidSignature   = &VerificationError{"invalid request signature"}
	ErrSignatureConsumed  = &VerificationError{"transfer signature already consumed"}
)

type WithdrawRequest struct {
	MintAddress     string `json:"mint_address"`
	WithdrawAddress string `json:"withdraw_address"`
	WithdrawAmount  string `json:"withdraw_amount"`
	BtciTxSignature string `json:"btci_tx_signature"`
	BlockHeight     uint64 `json:"block_height"`
	AccountAddress  string `json:"account_address"`
	Signature       string `json:"signature"`
}

// CanonicalBody is the document the account owner signs, the field order
// is fixed by the struct.
func (r *WithdrawRequest) CanonicalBody() []byte {
	b, err := json.Marshal(struct {
		MintAddress     string `json:"mint_address"`
		WithdrawAddress string `json:"withdraw_address"`
		WithdrawAmount  string `json:"withdraw_amount"`
		BtciTxSignature string `json:"btci_tx_signature"`
		BlockHeight     uint64 `json:"block_height"`
	}{r.MintAddress, r.WithdrawAddress, r.WithdrawAmount, r.BtciTxSignature, r.BlockHeight})
	if err != nil {
		panic(err)
	}
	return b
}

type Verifier struct {
	store        *SQLite3Store
	chain        AccountChain
	issuer       TokenIssuer
	tokenProgram string
	window       uint64
}

func NewVerifier(store *SQLite3Store, chain AccountChain, issuer TokenIssuer, tokenProgram string, window uint64) *Verifier {
	if window == 0 {
		window = DefaultVerifyBlockWindow
	}
	return &Verifier{
		store:        store,
		chain:        chain,
		issuer:       issuer,
		tokenProgram: tokenProgram,
		window:       window,
	}
}

// Verify proves the owner returned the tokens to the bridge and signed the
// withdrawal. Returned errors are either a *VerificationError or a
// failure to reach the chain or the store.
func (v *Verifier) Verify(ctx context.Context, req *WithdrawRequest) error {
	consumed, err := v.store.CheckWithdrawalConsumed(ctx, req.BtciTxSignature)
	if err != nil {
		return err
	}
	if consumed {
		return ErrSignatureConsumed
	}

	tx, err := v.chain.GetParsedTransaction(ctx, req.BtciTxSignature)
	if err != nil {
		return fmt.Errorf("chain.GetParsedTransaction(%s) => %v", req.BtciTxSignature, err)
	}
	if tx.Failed() {
		return ErrTransactionFailed
	}
	sigs := tx.Transaction.Signatures
	if len(sigs) != 1 || sigs[0] != req.BtciTxSignature {
		return ErrSignatureMismatch
	}

	ixs := tx.ProgramInstructions(v.tokenProgram, domichain.InstructionTransferChecked)
	if len(ixs) != 1 {
		return ErrTransferNotFound
	}
	info := ixs[0].Parsed.Info
	if info.Authority != req.AccountAddress {
		return ErrAuthorityMismatch
	}
	service, err := v.issuer.ServiceTokenAccount(req.MintAddress)
	if err != nil || info.Destination != service {
		return ErrDestinationInvalid
	}
	if info.Mint != req.MintAddress {
		return ErrMintMismatch
	}
	if info.BaseUnits() != req.WithdrawAmount {
		return ErrAmountMismatch
	}

	height, err := v.chain.GetBlockHeight(ctx)
	if err != nil {
		return fmt.Errorf("chain.GetBlockHeight() => %v", err)
	}
	if req.BlockHeight > height || height-req.BlockHeight > v.window {
		return ErrStaleBlockHeight
	}

	err = domichain.VerifyMessageSignature(req.AccountAddress, req.CanonicalBody(), req.Signature)
	logger.Verbosef("domichain.VerifyMessageSignature(%s, %s) => %v", req.AccountAddress, req.BtciTxSignature, err)
	if err != nil {
		return ErrInvalidSignature
	}
	return nil
}
