package domichain

import (
	"context"
	"fmt"

	"github.com/MixinNetwork/mixin/logger"
	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
)

type MintResult struct {
	Mint               string `json:"mint"`
	DestinationAccount string `json:"destination_account"`
	Amount             uint64 `json:"amount"`
	Signature          string `json:"signature"`
}

// Issuer creates one fixed supply token per deposit and burns the tokens
// returned by withdrawals. The payer key is the mint authority and owns
// the service token accounts.
type Issuer struct {
	client   *Client
	programs *Programs
	payer    solana.PrivateKey
}

func NewIssuer(client *Client, programs *Programs, payer string) (*Issuer, error) {
	key, err := solana.PrivateKeyFromBase58(payer)
	if err != nil {
		return nil, fmt.Errorf("solana.PrivateKeyFromBase58() => %v", err)
	}
	return &Issuer{client: client, programs: programs, payer: key}, nil
}

func (is *Issuer) Payer() solana.PublicKey {
	return is.payer.PublicKey()
}

// ServiceAddress signs every mint and burn of the bridge, its history is
// the account chain side of the reconciliation.
func (is *Issuer) ServiceAddress() string {
	return is.Payer().String()
}

// ServiceTokenAccount is where withdrawal requests send the tokens to be
// burned.
func (is *Issuer) ServiceTokenAccount(mint string) (string, error) {
	key, err := PublicKeyFromString(mint)
	if err != nil {
		return "", err
	}
	ata, err := is.programs.FindAssociatedTokenAddress(is.Payer(), key)
	if err != nil {
		return "", err
	}
	return ata.String(), nil
}

// BuildMintTransaction creates the mint, mints amount to the service
// account, locks the supply and transfers it all to the owner.
func (is *Issuer) BuildMintTransaction(ctx context.Context, owner string, amount uint64, mint solana.PrivateKey) (*solana.Transaction, *MintResult, error) {
	if amount == 0 {
		return nil, nil, fmt.Errorf("domichain.BuildMintTransaction(%s) => zero amount", owner)
	}
	wallet, err := PublicKeyFromString(owner)
	if err != nil {
		return nil, nil, err
	}
	payer, token := is.Payer(), mint.PublicKey()
	source, err := is.programs.FindAssociatedTokenAddress(payer, token)
	if err != nil {
		return nil, nil, err
	}
	destination, err := is.programs.FindAssociatedTokenAddress(wallet, token)
	if err != nil {
		return nil, nil, err
	}
	rent, err := is.client.getMinimumBalanceForRentExemption(ctx, mintSize)
	if err != nil {
		return nil, nil, err
	}
	blockhash, err := is.client.getLatestBlockhash(ctx)
	if err != nil {
		return nil, nil, err
	}

	createSource, err := is.programs.NewCreateAssociatedAccount(payer, payer, token).ValidateAndBuild()
	if err != nil {
		return nil, nil, err
	}
	createDestination, err := is.programs.NewCreateAssociatedAccount(payer, wallet, token).ValidateAndBuild()
	if err != nil {
		return nil, nil, err
	}
	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewCreateAccountInstruction(rent, mintSize, is.programs.Token, payer, token).Build(),
			is.programs.InitializeMint(token, payer),
			createSource,
			createDestination,
			is.programs.MintToChecked(amount, token, source, payer),
			is.programs.DisableMinting(token, payer),
			is.programs.TransferChecked(amount, source, token, destination, payer),
		},
		blockhash,
		solana.TransactionPayer(payer),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("solana.NewTransaction() => %v", err)
	}
	_, err = tx.Sign(BuildSignersGetter(is.payer, mint))
	if err != nil {
		return nil, nil, fmt.Errorf("solana.Sign() => %v", err)
	}
	return tx, &MintResult{
		Mint:               token.String(),
		DestinationAccount: destination.String(),
		Amount:             amount,
		Signature:          tx.Signatures[0].String(),
	}, nil
}

func (is *Issuer) MintToOwner(ctx context.Context, owner string, amount uint64) (*MintResult, error) {
	mint, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, err
	}
	tx, res, err := is.BuildMintTransaction(ctx, owner, amount, mint)
	if err != nil {
		return nil, err
	}
	sig, err := is.client.sendTransaction(ctx, tx)
	logger.Printf("domichain.MintToOwner(%s, %d) => %s %s %v", owner, amount, res.Mint, sig, err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (is *Issuer) BuildBurnTransaction(ctx context.Context, mint string, amount uint64) (*solana.Transaction, error) {
	if amount == 0 {
		return nil, fmt.Errorf("domichain.BuildBurnTransaction(%s) => zero amount", mint)
	}
	token, err := PublicKeyFromString(mint)
	if err != nil {
		return nil, err
	}
	source, err := is.programs.FindAssociatedTokenAddress(is.Payer(), token)
	if err != nil {
		return nil, err
	}
	blockhash, err := is.client.getLatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := solana.NewTransaction(
		[]solana.Instruction{is.programs.BurnChecked(amount, source, token, is.Payer())},
		blockhash,
		solana.TransactionPayer(is.Payer()),
	)
	if err != nil {
		return nil, fmt.Errorf("solana.NewTransaction() => %v", err)
	}
	_, err = tx.Sign(BuildSignersGetter(is.payer))
	if err != nil {
		return nil, fmt.Errorf("solana.Sign() => %v", err)
	}
	return tx, nil
}

// Burn destroys amount of mint held by the service token account.
func (is *Issuer) Burn(ctx context.Context, mint string, amount uint64) (string, error) {
	tx, err := is.BuildBurnTransaction(ctx, mint, amount)
	if err != nil {
		return "", err
	}
	sig, err := is.client.sendTransaction(ctx, tx)
	logger.Printf("domichain.Burn(%s, %d) => %s %v", mint, amount, sig, err)
	return sig, err
}
