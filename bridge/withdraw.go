package bridge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/MixinNetwork/bridge/apps/bdk"
	"github.com/MixinNetwork/bridge/apps/bitcoin"
	"github.com/MixinNetwork/mixin/logger"
	"github.com/gofrs/uuid/v5"
	"github.com/shopspring/decimal"
)

type WithdrawState int

const (
	StateRequestVerified WithdrawState = iota + 1
	StateDescriptorBuilt
	StateSynced
	StateFeeEstimated
	StateOneSig
	StateTwoSig
	StateThreeSig
	StateBurned
	StateBroadcast
	StateDone
	StateAborted
)

func (s WithdrawState) String() string {
	switch s {
	case StateRequestVerified:
		return "request-verified"
	case StateDescriptorBuilt:
		return "descriptor-built"
	case StateSynced:
		return "synced"
	case StateFeeEstimated:
		return "fee-estimated"
	case StateOneSig:
		return "one-sig"
	case StateTwoSig:
		return "two-sig"
	case StateThreeSig:
		return "three-sig"
	case StateBurned:
		return "burned"
	case StateBroadcast:
		return "broadcast"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	}
	panic(int(s))
}

var (
	ErrMintNotFound    = errors.New("mint address not found")
	ErrAmountBelowDust = errors.New("amount after fee below dust")
	ErrSignerNoop      = errors.New("signer did not change the psbt")
	ErrNotFinalized    = errors.New("psbt not finalized")
	ErrUnexpectedPSBT  = errors.New("psbt outputs or fee changed")
	ErrFeeUndetermined = errors.New("fee undetermined")
	ErrInvalidAddress  = errors.New("invalid address")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrBalanceTooLow   = errors.New("bridge balance below amount")
)

// BurnedNotBroadcastError means the tokens are gone but the bitcoin
// transaction did not reach the network. The fully signed packet is kept
// for the operator.
type BurnedNotBroadcastError struct {
	Signature string
	PSBT      string
	Err       error
}

func (e *BurnedNotBroadcastError) Error() string {
	return fmt.Sprintf("burned %s but broadcast failed => %v", e.Signature, e.Err)
}

func (e *BurnedNotBroadcastError) Unwrap() error {
	return e.Err
}

// WithdrawSession is the in memory state of one withdrawal, it only moves
// forward or to aborted.
type WithdrawSession struct {
	Id               string
	State            WithdrawState
	Descriptor       string
	PublicDescriptor string
	UnsignedPSBT     string
	OneSigPSBT       string
	TwoSigPSBT       string
	ThreeSigPSBT     string
	FeeRate          decimal.Decimal
	Fee              uint64
	VBytes           uint64
	SendAmount       uint64
	BurnSignature    string
	TxId             string
	Reason           string
}

func (s *WithdrawSession) advance(state WithdrawState) {
	if state <= s.State || s.State == StateAborted {
		panic(fmt.Errorf("WithdrawSession(%s) %s => %s", s.Id, s.State, state))
	}
	logger.Printf("WithdrawSession(%s) %s => %s", s.Id, s.State, state)
	s.State = state
}

func (s *WithdrawSession) abort(err error) {
	logger.Printf("WithdrawSession(%s) %s => aborted %v", s.Id, s.State, err)
	s.State, s.Reason = StateAborted, err.Error()
}

type FeeEstimate struct {
	Fee        uint64
	VBytes     uint64
	SendAmount uint64
	Rate       decimal.Decimal
	Fees       *bitcoin.RecommendedFees
}

type Orchestrator struct {
	store    *SQLite3Store
	wallet   WalletPolicyTool
	indexer  UtxoIndexer
	issuer   TokenIssuer
	verifier *Verifier
	network  string
}

func NewOrchestrator(store *SQLite3Store, wallet WalletPolicyTool, indexer UtxoIndexer, issuer TokenIssuer, verifier *Verifier, network string) *Orchestrator {
	return &Orchestrator{
		store:    store,
		wallet:   wallet,
		indexer:  indexer,
		issuer:   issuer,
		verifier: verifier,
		network:  network,
	}
}

func privatePolicy(key *AddressKeys) string {
	return fmt.Sprintf("thresh(2,pk(%s/%s),pk(%s),pk(%s),pk(%s))",
		key.Key.Xprv, bitcoin.DescriptorPath, key.PublicKey01, key.PublicKey02, key.PublicKey03)
}

func publicPolicy(addr *Address) string {
	return fmt.Sprintf("thresh(2,pk(%s),pk(%s),pk(%s),pk(%s))",
		addr.PublicKey00, addr.PublicKey01, addr.PublicKey02, addr.PublicKey03)
}

// Withdraw verifies the request, then pays the withdraw amount minus the
// network fee to the withdraw address and burns the whole amount. The
// request signature is reserved first so the same transfer is never paid
// twice.
func (o *Orchestrator) Withdraw(ctx context.Context, req *WithdrawRequest) (*WithdrawSession, error) {
	session := &WithdrawSession{Id: uuid.Must(uuid.NewV4()).String()}
	logger.Printf("Orchestrator.Withdraw(%s) => %s %s %s %s", session.Id, req.BtciTxSignature, req.MintAddress, req.WithdrawAddress, req.WithdrawAmount)

	amount, to, key, err := o.readRequest(ctx, req)
	if err != nil {
		session.abort(err)
		return session, err
	}
	err = o.verifier.Verify(ctx, req)
	if err != nil {
		session.abort(err)
		return session, err
	}
	w := &Withdrawal{
		Signature:       req.BtciTxSignature,
		MintAddress:     req.MintAddress,
		MultiAddress:    key.MultiAddress,
		WithdrawAddress: to,
		WithdrawAmount:  req.WithdrawAmount,
		AccountAddress:  req.AccountAddress,
	}
	err = o.store.WriteWithdrawal(ctx, w)
	if err != nil {
		session.abort(err)
		return session, err
	}
	session.advance(StateRequestVerified)

	err = o.wallet.WithWallet(ctx, func(wallet bdk.Wallet) error {
		err := o.sign(ctx, wallet, session, key, to, amount)
		if err != nil {
			return err
		}
		return o.burnAndBroadcast(ctx, wallet, session, w, amount)
	})
	if err != nil {
		if session.State < StateThreeSig {
			w.State, w.Reason = WithdrawalStateAborted, sql.NullString{String: err.Error(), Valid: true}
			uerr := o.store.UpdateWithdrawal(ctx, w)
			if uerr != nil {
				logger.Printf("store.UpdateWithdrawal(%s) => %v", w.Signature, uerr)
			}
		}
		session.abort(err)
		return session, err
	}

	w.State = WithdrawalStateDone
	w.TransactionHash = sql.NullString{String: session.TxId, Valid: true}
	err = o.store.UpdateWithdrawal(ctx, w)
	if err != nil {
		logger.Printf("store.UpdateWithdrawal(%s) => %v", w.Signature, err)
	}
	session.advance(StateDone)
	return session, nil
}

// burnAndBroadcast runs only with a finalized packet. A failed burn keeps
// the request signature reserved because the burn may still land.
func (o *Orchestrator) burnAndBroadcast(ctx context.Context, wallet bdk.Wallet, session *WithdrawSession, w *Withdrawal, amount uint64) error {
	burn, err := o.issuer.Burn(ctx, w.MintAddress, amount)
	if err != nil {
		return fmt.Errorf("issuer.Burn(%s, %d) => %v", w.MintAddress, amount, err)
	}
	session.BurnSignature = burn
	session.advance(StateBurned)
	w.State, w.Fee = WithdrawalStateBurned, session.Fee
	w.BurnSignature = sql.NullString{String: burn, Valid: true}
	err = o.store.UpdateWithdrawal(ctx, w)
	if err != nil {
		logger.Printf("store.UpdateWithdrawal(%s) => %v", w.Signature, err)
	}

	id, err := wallet.Broadcast(ctx, session.PublicDescriptor, session.ThreeSigPSBT)
	if err == nil && id == "" {
		err = fmt.Errorf("empty transaction id")
	}
	if err != nil {
		err = &BurnedNotBroadcastError{Signature: burn, PSBT: session.ThreeSigPSBT, Err: err}
		logger.Printf("Orchestrator.burnAndBroadcast(%s) => %v %s", session.Id, err, session.ThreeSigPSBT)
		return err
	}
	session.TxId = id
	session.advance(StateBroadcast)
	return nil
}

func (o *Orchestrator) readRequest(ctx context.Context, req *WithdrawRequest) (uint64, string, *AddressKeys, error) {
	amount, err := bitcoin.ParseBaseUnits(req.WithdrawAmount)
	if err != nil {
		return 0, "", nil, fmt.Errorf("%w %s", ErrInvalidAmount, req.WithdrawAmount)
	}
	to, err := bitcoin.ParseAddress(req.WithdrawAddress, o.network)
	if err != nil {
		return 0, "", nil, ErrInvalidAddress
	}
	key, err := o.store.ReadAddressByMint(ctx, req.MintAddress)
	if err != nil {
		return 0, "", nil, err
	}
	if key == nil {
		return 0, "", nil, ErrMintNotFound
	}
	if key.MultiAddress == to {
		return 0, "", nil, ErrInvalidAddress
	}
	return amount, to, key, nil
}

func (o *Orchestrator) sign(ctx context.Context, wallet bdk.Wallet, session *WithdrawSession, key *AddressKeys, to string, amount uint64) error {
	var err error
	session.Descriptor, err = o.wallet.Compile(ctx, privatePolicy(key))
	if err != nil {
		return err
	}
	session.PublicDescriptor, err = o.wallet.Compile(ctx, publicPolicy(key.Address))
	if err != nil {
		return err
	}
	session.advance(StateDescriptorBuilt)

	err = wallet.Sync(ctx, session.Descriptor)
	if err != nil {
		return err
	}
	session.advance(StateSynced)

	estimate, external, err := o.estimateFee(ctx, wallet, session.Descriptor, to, amount)
	if err != nil {
		return err
	}
	session.Fee, session.VBytes, session.SendAmount, session.FeeRate = estimate.Fee, estimate.VBytes, estimate.SendAmount, estimate.Rate
	unsigned, err := wallet.CreateTx(ctx, session.Descriptor, to, session.SendAmount, external, session.FeeRate)
	if err != nil {
		return err
	}
	err = o.checkPSBT(unsigned.PSBT, to, session)
	if err != nil {
		return err
	}
	session.UnsignedPSBT = unsigned.PSBT
	session.advance(StateFeeEstimated)

	one, err := o.signStage(ctx, wallet, session, session.Descriptor, session.UnsignedPSBT, nil, to)
	if err != nil {
		return err
	}
	session.OneSigPSBT = one.PSBT
	session.advance(StateOneSig)

	aws := &bdk.KMSSigner{Flag: bdk.SignerAWS, Key: key.PublicKeyARN01}
	two, err := o.signStage(ctx, wallet, session, session.PublicDescriptor, session.OneSigPSBT, aws, to)
	if err != nil {
		return err
	}
	session.TwoSigPSBT = two.PSBT
	session.advance(StateTwoSig)

	google := &bdk.KMSSigner{Flag: bdk.SignerGoogle, Key: key.PublicKeyName03}
	three, err := o.signStage(ctx, wallet, session, session.PublicDescriptor, session.TwoSigPSBT, google, to)
	if err != nil {
		return err
	}
	s, err := bitcoin.SummarizePSBT(three.PSBT, o.network)
	if err != nil {
		return err
	}
	if !three.IsFinalized || !s.Complete {
		return fmt.Errorf("Orchestrator.sign(%s) => %w %t %t", session.Id, ErrNotFinalized, three.IsFinalized, s.Complete)
	}
	session.ThreeSigPSBT = three.PSBT
	session.advance(StateThreeSig)
	return nil
}

func (o *Orchestrator) signStage(ctx context.Context, wallet bdk.Wallet, session *WithdrawSession, descriptor, input string, kms *bdk.KMSSigner, to string) (*bdk.PSBT, error) {
	signed, err := wallet.Sign(ctx, descriptor, input, kms)
	if err != nil {
		return nil, err
	}
	if signed.PSBT == input {
		return nil, fmt.Errorf("Orchestrator.signStage(%s, %s) => %w", session.Id, session.State, ErrSignerNoop)
	}
	return signed, o.checkPSBT(signed.PSBT, to, session)
}

// checkPSBT makes sure the packet still pays the send amount and charges
// exactly the estimated fee, so the burn equals what leaves the address.
func (o *Orchestrator) checkPSBT(b64, to string, session *WithdrawSession) error {
	s, err := bitcoin.SummarizePSBT(b64, o.network)
	if err != nil {
		return err
	}
	if s.PaysTo(to) != session.SendAmount || s.Fee != session.Fee {
		return fmt.Errorf("Orchestrator.checkPSBT(%s) => %w %d %d %d %d", session.Id, ErrUnexpectedPSBT, s.PaysTo(to), session.SendAmount, s.Fee, session.Fee)
	}
	return nil
}

// EstimateFee runs the fee discovery of a withdrawal without signing.
func (o *Orchestrator) EstimateFee(ctx context.Context, mint, address, amount string) (*FeeEstimate, error) {
	value, to, key, err := o.readRequest(ctx, &WithdrawRequest{
		MintAddress:     mint,
		WithdrawAddress: address,
		WithdrawAmount:  amount,
	})
	if err != nil {
		return nil, err
	}
	var estimate *FeeEstimate
	err = o.wallet.WithWallet(ctx, func(wallet bdk.Wallet) error {
		descriptor, err := o.wallet.Compile(ctx, privatePolicy(key))
		if err != nil {
			return err
		}
		err = wallet.Sync(ctx, descriptor)
		if err != nil {
			return err
		}
		estimate, _, err = o.estimateFee(ctx, wallet, descriptor, to, value)
		return err
	})
	return estimate, err
}

// estimateFee builds a trial transaction for the full amount at the
// fastest rate. When the balance cannot cover amount plus fee, the fee is
// recovered from the shortfall the wallet tool reports.
func (o *Orchestrator) estimateFee(ctx context.Context, wallet bdk.Wallet, descriptor, to string, amount uint64) (*FeeEstimate, string, error) {
	fees, cached, err := o.indexer.GetRecommendedFees(ctx)
	if err != nil {
		return nil, "", err
	}
	policies, err := wallet.Policies(ctx, descriptor)
	if err != nil {
		return nil, "", err
	}
	if policies.External == nil || policies.External.Id == "" {
		return nil, "", fmt.Errorf("Orchestrator.estimateFee(%s) => no external policy", to)
	}
	external := bdk.ExternalPolicy(policies.External.Id)
	balance, err := wallet.Balance(ctx, descriptor)
	if err != nil {
		return nil, "", err
	}
	if balance.Satoshi.Confirmed < amount {
		return nil, "", fmt.Errorf("Orchestrator.estimateFee(%s, %d, %d) => %w", to, amount, balance.Satoshi.Confirmed, ErrBalanceTooLow)
	}

	estimate := &FeeEstimate{Rate: fees.FastestFee, Fees: fees}
	trial, err := wallet.CreateTx(ctx, descriptor, to, amount, external, estimate.Rate)
	var ee *bdk.ExecError
	switch {
	case err == nil:
		s, err := bitcoin.SummarizePSBT(trial.PSBT, o.network)
		if err != nil {
			return nil, "", err
		}
		estimate.Fee = s.Fee
	case errors.As(err, &ee) && bitcoin.IsInsufficientFundsMessage(ee.Stderr):
		f, err := bitcoin.ParseInsufficientFunds(ee.Stderr)
		if err != nil {
			return nil, "", err
		}
		estimate.Fee, err = bitcoin.FeeFromShortfall(f, amount)
		if err != nil {
			return nil, "", err
		}
		logger.Verbosef("Orchestrator.estimateFee(%s, %d) => shortfall %d of %d", to, amount, f.Shortfall(), f.Needed)
	default:
		return nil, "", err
	}
	if estimate.Fee == 0 {
		return nil, "", fmt.Errorf("Orchestrator.estimateFee(%s, %d) => %w", to, amount, ErrFeeUndetermined)
	}
	if estimate.Fee >= amount || amount-estimate.Fee < bitcoin.ValueDust {
		return nil, "", fmt.Errorf("Orchestrator.estimateFee(%s, %d, %d) => %w", to, amount, estimate.Fee, ErrAmountBelowDust)
	}
	estimate.SendAmount = amount - estimate.Fee
	estimate.VBytes = bitcoin.EstimateVBytes(estimate.Fee, estimate.Rate)
	logger.Printf("Orchestrator.estimateFee(%s, %d) => %d %d %s %t", to, amount, estimate.Fee, estimate.VBytes, estimate.Rate, cached)
	return estimate, external, nil
}
