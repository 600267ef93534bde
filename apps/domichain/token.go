package domichain

import (
	"errors"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
)

const (
	TokenDecimals uint8  = 8
	mintSize      uint64 = 82
)

// CreateAssociatedAccount creates the associated token account of the
// wallet for mint under the chain's own programs.
type CreateAssociatedAccount struct {
	Payer  solana.PublicKey
	Wallet solana.PublicKey
	Mint   solana.PublicKey

	programs *Programs
}

func (p *Programs) NewCreateAssociatedAccount(payer, wallet, mint solana.PublicKey) *CreateAssociatedAccount {
	return &CreateAssociatedAccount{
		Payer:    payer,
		Wallet:   wallet,
		Mint:     mint,
		programs: p,
	}
}

func (inst *CreateAssociatedAccount) Validate() error {
	if inst.Payer.IsZero() {
		return errors.New("payer not set")
	}
	if inst.Wallet.IsZero() {
		return errors.New("wallet not set")
	}
	if inst.Mint.IsZero() {
		return errors.New("mint not set")
	}
	_, err := inst.programs.FindAssociatedTokenAddress(inst.Wallet, inst.Mint)
	if err != nil {
		return fmt.Errorf("error while FindAssociatedTokenAddress: %w", err)
	}
	return nil
}

func (inst *CreateAssociatedAccount) ValidateAndBuild() (solana.Instruction, error) {
	err := inst.Validate()
	if err != nil {
		return nil, err
	}
	ata, _ := inst.programs.FindAssociatedTokenAddress(inst.Wallet, inst.Mint)
	accounts := solana.AccountMetaSlice{
		solana.Meta(inst.Payer).WRITE().SIGNER(),
		solana.Meta(ata).WRITE(),
		solana.Meta(inst.Wallet),
		solana.Meta(inst.Mint),
		solana.Meta(solana.SystemProgramID),
		solana.Meta(inst.programs.Token),
		solana.Meta(solana.SysVarRentPubkey),
	}
	return solana.NewInstruction(inst.programs.AssociatedToken, accounts, []byte{}), nil
}

// rebind moves an upstream token instruction onto the chain's token
// program, the instruction layouts are identical.
func (p *Programs) rebind(ix *token.Instruction) solana.Instruction {
	data, err := ix.Data()
	if err != nil {
		panic(err)
	}
	return solana.NewInstruction(p.Token, ix.Accounts(), data)
}

func (p *Programs) InitializeMint(mint, authority solana.PublicKey) solana.Instruction {
	ix := token.NewInitializeMint2InstructionBuilder().
		SetDecimals(TokenDecimals).
		SetMintAuthority(authority).
		SetMintAccount(mint).Build()
	return p.rebind(ix)
}

func (p *Programs) MintToChecked(amount uint64, mint, destination, authority solana.PublicKey) solana.Instruction {
	ix := token.NewMintToCheckedInstruction(amount, TokenDecimals, mint, destination, authority, nil).Build()
	return p.rebind(ix)
}

// DisableMinting drops the mint authority so the supply is fixed forever.
func (p *Programs) DisableMinting(mint, authority solana.PublicKey) solana.Instruction {
	ix := token.NewSetAuthorityInstructionBuilder().
		SetAuthorityType(token.AuthorityMintTokens).
		SetSubjectAccount(mint).
		SetAuthorityAccount(authority).Build()
	return p.rebind(ix)
}

func (p *Programs) TransferChecked(amount uint64, source, mint, destination, owner solana.PublicKey) solana.Instruction {
	ix := token.NewTransferCheckedInstruction(amount, TokenDecimals, source, mint, destination, owner, nil).Build()
	return p.rebind(ix)
}

func (p *Programs) BurnChecked(amount uint64, source, mint, owner solana.PublicKey) solana.Instruction {
	ix := token.NewBurnCheckedInstruction(amount, TokenDecimals, source, mint, owner, nil).Build()
	return p.rebind(ix)
}
