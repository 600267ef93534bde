package domichain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

const (
	InstructionMintToChecked   = "mintToChecked"
	InstructionMintTo          = "mintTo"
	InstructionBurnChecked     = "burnChecked"
	InstructionBurn            = "burn"
	InstructionTransferChecked = "transferChecked"
)

type TokenAmount struct {
	Amount         string `json:"amount"`
	Decimals       uint8  `json:"decimals"`
	UIAmountString string `json:"uiAmountString"`
}

type InstructionInfo struct {
	Mint          string       `json:"mint"`
	Account       string       `json:"account"`
	Source        string       `json:"source"`
	Destination   string       `json:"destination"`
	Authority     string       `json:"authority"`
	MintAuthority string       `json:"mintAuthority"`
	Amount        string       `json:"amount"`
	TokenAmount   *TokenAmount `json:"tokenAmount"`
}

// BaseUnits is the integer amount carried by either the checked or the
// plain instruction shape.
func (info *InstructionInfo) BaseUnits() string {
	if info.TokenAmount != nil {
		return info.TokenAmount.Amount
	}
	return info.Amount
}

type ParsedInfo struct {
	Type string          `json:"type"`
	Info InstructionInfo `json:"info"`
}

// UnmarshalJSON tolerates programs like memo whose parsed field is a string.
func (p *ParsedInfo) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		return nil
	}
	type plain ParsedInfo
	var v plain
	err := json.Unmarshal(b, &v)
	if err != nil {
		return err
	}
	*p = ParsedInfo(v)
	return nil
}

type ParsedInstruction struct {
	Program   string      `json:"program"`
	ProgramId string      `json:"programId"`
	Parsed    *ParsedInfo `json:"parsed"`
}

type ParsedAccountKey struct {
	Pubkey   string `json:"pubkey"`
	Signer   bool   `json:"signer"`
	Writable bool   `json:"writable"`
}

type ParsedMessage struct {
	AccountKeys  []*ParsedAccountKey  `json:"accountKeys"`
	Instructions []*ParsedInstruction `json:"instructions"`
}

type ParsedTransactionBody struct {
	Signatures []string      `json:"signatures"`
	Message    ParsedMessage `json:"message"`
}

type ParsedMeta struct {
	Err    json.RawMessage `json:"err"`
	Status json.RawMessage `json:"status"`
	Fee    uint64          `json:"fee"`
}

type ParsedTransaction struct {
	Slot        uint64                `json:"slot"`
	BlockTime   *int64                `json:"blockTime"`
	Meta        *ParsedMeta           `json:"meta"`
	Transaction ParsedTransactionBody `json:"transaction"`
}

func (tx *ParsedTransaction) Signature() string {
	if len(tx.Transaction.Signatures) == 0 {
		return ""
	}
	return tx.Transaction.Signatures[0]
}

func (tx *ParsedTransaction) Failed() bool {
	if tx.Meta == nil {
		return true
	}
	err := bytes.TrimSpace(tx.Meta.Err)
	return len(err) > 0 && !bytes.Equal(err, []byte("null"))
}

func (tx *ParsedTransaction) ProgramInstructions(program string, types ...string) []*ParsedInstruction {
	var ixs []*ParsedInstruction
	for _, ix := range tx.Transaction.Message.Instructions {
		if ix.ProgramId != program || ix.Parsed == nil {
			continue
		}
		for _, t := range types {
			if ix.Parsed.Type == t {
				ixs = append(ixs, ix)
				break
			}
		}
	}
	return ixs
}

type RecordKind int

const (
	RecordMint RecordKind = iota + 1
	RecordBurn
)

func (k RecordKind) String() string {
	switch k {
	case RecordMint:
		return "mint"
	case RecordBurn:
		return "burn"
	}
	panic(int(k))
}

// Record is a mint or burn of a bridge token observed on chain. Amount is
// the exact base units string of the instruction.
type Record struct {
	Kind             RecordKind
	Signature        string
	TokenMintAddress string
	Amount           string
	Block            uint64
	From             string
}

// ExtractMintsAndBurns returns the mint and burn records of the token
// program in tx. One transaction carries at most one mint.
func ExtractMintsAndBurns(tx *ParsedTransaction, tokenProgram string) ([]*Record, error) {
	if tx.Failed() {
		return nil, nil
	}
	var records []*Record
	mints := tx.ProgramInstructions(tokenProgram, InstructionMintToChecked, InstructionMintTo)
	if len(mints) > 1 {
		return nil, fmt.Errorf("domichain.ExtractMintsAndBurns(%s) => %d mints", tx.Signature(), len(mints))
	}
	for _, ix := range mints {
		r, err := buildRecord(tx, ix, RecordMint)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	for _, ix := range tx.ProgramInstructions(tokenProgram, InstructionBurnChecked, InstructionBurn) {
		r, err := buildRecord(tx, ix, RecordBurn)
		if err != nil {
			return nil, err
		}
		r.From = ix.Parsed.Info.Authority
		records = append(records, r)
	}
	return records, nil
}

func buildRecord(tx *ParsedTransaction, ix *ParsedInstruction, kind RecordKind) (*Record, error) {
	info := ix.Parsed.Info
	if info.Mint == "" || info.BaseUnits() == "" {
		return nil, fmt.Errorf("domichain.buildRecord(%s, %s) => invalid info %v", tx.Signature(), ix.Parsed.Type, info)
	}
	return &Record{
		Kind:             kind,
		Signature:        tx.Signature(),
		TokenMintAddress: info.Mint,
		Amount:           info.BaseUnits(),
		Block:            tx.Slot,
	}, nil
}

// SortRecords orders by block then signature, so the order never depends
// on the completion order of concurrent fetches.
func SortRecords(records []*Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Block != records[j].Block {
			return records[i].Block < records[j].Block
		}
		return records[i].Signature < records[j].Signature
	})
}
