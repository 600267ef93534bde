package domichain

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/stretchr/testify/require"
)

var (
	testTokenProgram = solana.NewWallet().PublicKey().String()
	testAtaProgram   = solana.NewWallet().PublicKey().String()
)

func TestExtractMintsAndBurns(t *testing.T) {
	require := require.New(t)

	mint := solana.NewWallet().PublicKey().String()
	tx := parseFixture(t, fmt.Sprintf(`{
	  "slot": 4242,
	  "meta": {"err": null, "fee": 5000},
	  "transaction": {
	    "signatures": ["sig-mint"],
	    "message": {
	      "accountKeys": [],
	      "instructions": [
	        {"program": "spl-memo", "programId": "MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr", "parsed": "hello"},
	        {"programId": "%s", "parsed": {"type": "initializeMint2", "info": {"mint": "%s", "decimals": 8}}},
	        {"programId": "%s", "parsed": {"type": "mintToChecked", "info": {"mint": "%s", "account": "acc", "mintAuthority": "auth", "tokenAmount": {"amount": "100000", "decimals": 8, "uiAmountString": "0.001"}}}},
	        {"programId": "%s", "parsed": {"type": "transferChecked", "info": {"mint": "%s", "source": "acc", "destination": "dst", "authority": "auth", "tokenAmount": {"amount": "100000", "decimals": 8}}}}
	      ]
	    }
	  }
	}`, testTokenProgram, mint, testTokenProgram, mint, testTokenProgram, mint))
	records, err := ExtractMintsAndBurns(tx, testTokenProgram)
	require.Nil(err)
	require.Len(records, 1)
	require.Equal(RecordMint, records[0].Kind)
	require.Equal("sig-mint", records[0].Signature)
	require.Equal(mint, records[0].TokenMintAddress)
	require.Equal("100000", records[0].Amount)
	require.Equal(uint64(4242), records[0].Block)

	records, err = ExtractMintsAndBurns(tx, solana.TokenProgramID.String())
	require.Nil(err)
	require.Len(records, 0)

	tx = parseFixture(t, fmt.Sprintf(`{
	  "slot": 5000,
	  "meta": {"err": null},
	  "transaction": {
	    "signatures": ["sig-burn"],
	    "message": {"instructions": [
	      {"programId": "%s", "parsed": {"type": "burn", "info": {"mint": "%s", "account": "acc", "authority": "user", "amount": "49700"}}},
	      {"programId": "%s", "parsed": {"type": "burnChecked", "info": {"mint": "%s", "account": "acc", "authority": "user", "tokenAmount": {"amount": "300", "decimals": 8}}}}
	    ]}
	  }
	}`, testTokenProgram, mint, testTokenProgram, mint))
	records, err = ExtractMintsAndBurns(tx, testTokenProgram)
	require.Nil(err)
	require.Len(records, 2)
	require.Equal(RecordBurn, records[0].Kind)
	require.Equal("49700", records[0].Amount)
	require.Equal("user", records[0].From)
	require.Equal("300", records[1].Amount)

	failed := parseFixture(t, fmt.Sprintf(`{
	  "slot": 1,
	  "meta": {"err": {"InstructionError": [0, "Custom"]}},
	  "transaction": {"signatures": ["sig-failed"], "message": {"instructions": [
	    {"programId": "%s", "parsed": {"type": "mintToChecked", "info": {"mint": "%s", "tokenAmount": {"amount": "1"}}}}
	  ]}}
	}`, testTokenProgram, mint))
	require.True(failed.Failed())
	records, err = ExtractMintsAndBurns(failed, testTokenProgram)
	require.Nil(err)
	require.Len(records, 0)

	double := parseFixture(t, fmt.Sprintf(`{
	  "slot": 1,
	  "meta": {"err": null},
	  "transaction": {"signatures": ["sig-double"], "message": {"instructions": [
	    {"programId": "%s", "parsed": {"type": "mintToChecked", "info": {"mint": "%s", "tokenAmount": {"amount": "1"}}}},
	    {"programId": "%s", "parsed": {"type": "mintTo", "info": {"mint": "%s", "amount": "2"}}}
	  ]}}
	}`, testTokenProgram, mint, testTokenProgram, mint))
	_, err = ExtractMintsAndBurns(double, testTokenProgram)
	require.NotNil(err)
}

func TestSortRecords(t *testing.T) {
	require := require.New(t)

	records := []*Record{
		{Signature: "c", Block: 3},
		{Signature: "b", Block: 1},
		{Signature: "a", Block: 3},
	}
	SortRecords(records)
	require.Equal("b", records[0].Signature)
	require.Equal("a", records[1].Signature)
	require.Equal("c", records[2].Signature)
}

func TestMessageSignature(t *testing.T) {
	require := require.New(t)

	key, err := solana.NewRandomPrivateKey()
	require.Nil(err)
	msg := []byte(`{"mint_address":"m"}`)
	sig, err := key.Sign(msg)
	require.Nil(err)

	public := key.PublicKey().String()
	require.Nil(VerifyAddress(public))
	require.Nil(VerifyMessageSignature(public, msg, sig.String()))
	require.NotNil(VerifyMessageSignature(public, []byte(`{"mint_address":"n"}`), sig.String()))
	require.NotNil(VerifyMessageSignature(public, msg, "not-a-signature"))
	other := solana.NewWallet().PublicKey().String()
	require.NotNil(VerifyMessageSignature(other, msg, sig.String()))
	require.NotNil(VerifyAddress("invalid"))
}

func TestTokenInstructions(t *testing.T) {
	require := require.New(t)

	programs, err := NewPrograms(testTokenProgram, testAtaProgram)
	require.Nil(err)
	payer := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	owner := solana.NewWallet().PublicKey()

	ata, err := programs.FindAssociatedTokenAddress(owner, mint)
	require.Nil(err)
	again, err := programs.FindAssociatedTokenAddress(owner, mint)
	require.Nil(err)
	require.Equal(ata, again)
	upstream, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	require.Nil(err)
	require.NotEqual(upstream, ata)

	create, err := programs.NewCreateAssociatedAccount(payer, owner, mint).ValidateAndBuild()
	require.Nil(err)
	require.Equal(programs.AssociatedToken, create.ProgramID())
	accounts := create.Accounts()
	require.Len(accounts, 7)
	require.Equal(ata, accounts[1].PublicKey)
	require.True(accounts[0].IsSigner)
	require.Equal(programs.Token, accounts[5].PublicKey)
	_, err = programs.NewCreateAssociatedAccount(payer, solana.PublicKey{}, mint).ValidateAndBuild()
	require.NotNil(err)

	ix := programs.MintToChecked(100000, mint, ata, payer)
	require.Equal(programs.Token, ix.ProgramID())
	data, err := ix.Data()
	require.Nil(err)
	require.Len(data, 10)
	require.Equal(byte(14), data[0])
	decoded := new(token.Instruction)
	err = decoded.UnmarshalWithDecoder(bin.NewBinDecoder(data))
	require.Nil(err)
	mintTo, ok := decoded.Impl.(*token.MintToChecked)
	require.True(ok)
	require.Equal(uint64(100000), *mintTo.Amount)
	require.Equal(TokenDecimals, *mintTo.Decimals)

	data, err = programs.BurnChecked(49700, ata, mint, payer).Data()
	require.Nil(err)
	require.Equal(byte(15), data[0])
	amount, err := bin.NewBinDecoder(data[1:9]).ReadUint64(bin.LE)
	require.Nil(err)
	require.Equal(uint64(49700), amount)

	data, err = programs.TransferChecked(7, ata, mint, ata, payer).Data()
	require.Nil(err)
	require.Equal(byte(12), data[0])

	data, err = programs.InitializeMint(mint, payer).Data()
	require.Nil(err)
	require.Len(data, 35)
	require.Equal([]byte{20, TokenDecimals}, data[:2])
	require.Equal(payer[:], data[2:34])
	require.Equal(byte(0), data[34])

	data, err = programs.DisableMinting(mint, payer).Data()
	require.Nil(err)
	require.Equal([]byte{6, 0, 0}, data)
}

func TestClientAndIssuer(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	sigs := make([]string, 4)
	for i := range sigs {
		var b [64]byte
		_, err := rand.Read(b[:])
		require.Nil(err)
		sigs[i] = solana.SignatureFromBytes(b[:]).String()
	}
	blockhash := solana.HashFromBytes(make([]byte, 32)).String()
	var nulls atomic.Int32
	srv := newRPCServer(t, func(method string, params []json.RawMessage) any {
		switch method {
		case "getSignaturesForAddress":
			var opts map[string]any
			if len(params) > 1 {
				_ = json.Unmarshal(params[1], &opts)
			}
			if opts["before"] != nil {
				return []any{}
			}
			return []map[string]any{
				{"signature": sigs[0], "slot": 9, "err": nil, "confirmationStatus": "finalized"},
				{"signature": sigs[1], "slot": 8, "err": map[string]any{"InstructionError": []any{0, "Custom"}}, "confirmationStatus": "finalized"},
				{"signature": sigs[2], "slot": 7, "err": nil, "confirmationStatus": "confirmed"},
				{"signature": sigs[3], "slot": 6, "err": nil, "confirmationStatus": "finalized"},
			}
		case "getTransaction":
			if nulls.Add(1) < 3 {
				return nil
			}
			return map[string]any{
				"slot":        9,
				"meta":        map[string]any{"err": nil},
				"transaction": map[string]any{"signatures": []string{sigs[0]}, "message": map[string]any{"instructions": []any{}}},
			}
		case "getBlockHeight":
			return 1234
		case "getMinimumBalanceForRentExemption":
			return 1461600
		case "getLatestBlockhash":
			return map[string]any{
				"context": map[string]any{"slot": 10},
				"value":   map[string]any{"blockhash": blockhash, "lastValidBlockHeight": 1300},
			}
		}
		return nil
	})
	defer srv.Close()

	client := NewClient(srv.URL)
	address := solana.NewWallet().PublicKey().String()
	list, err := client.GetSignaturesForAddress(ctx, address)
	require.Nil(err)
	require.Len(list, 2)
	require.Equal(sigs[0], list[0])
	require.Equal(sigs[3], list[1])

	tx, err := client.GetParsedTransaction(ctx, sigs[0])
	require.Nil(err)
	require.Equal(uint64(9), tx.Slot)
	require.Equal(sigs[0], tx.Signature())
	require.False(tx.Failed())
	require.Equal(int32(3), nulls.Load())

	height, err := client.GetBlockHeight(ctx)
	require.Nil(err)
	require.Equal(uint64(1234), height)

	programs, err := NewPrograms(testTokenProgram, testAtaProgram)
	require.Nil(err)
	payer, err := solana.NewRandomPrivateKey()
	require.Nil(err)
	issuer, err := NewIssuer(client, programs, payer.String())
	require.Nil(err)
	mint, err := solana.NewRandomPrivateKey()
	require.Nil(err)
	owner := solana.NewWallet().PublicKey()

	mtx, res, err := issuer.BuildMintTransaction(ctx, owner.String(), 100000, mint)
	require.Nil(err)
	require.Equal(mint.PublicKey().String(), res.Mint)
	require.Equal(uint64(100000), res.Amount)
	destination, err := programs.FindAssociatedTokenAddress(owner, mint.PublicKey())
	require.Nil(err)
	require.Equal(destination.String(), res.DestinationAccount)
	require.Len(mtx.Signatures, 2)
	require.Equal(mtx.Signatures[0].String(), res.Signature)
	require.Len(mtx.Message.Instructions, 7)
	_, _, err = issuer.BuildMintTransaction(ctx, owner.String(), 0, mint)
	require.NotNil(err)

	service, err := issuer.ServiceTokenAccount(res.Mint)
	require.Nil(err)
	source, err := programs.FindAssociatedTokenAddress(payer.PublicKey(), mint.PublicKey())
	require.Nil(err)
	require.Equal(source.String(), service)

	btx, err := issuer.BuildBurnTransaction(ctx, res.Mint, 100000)
	require.Nil(err)
	require.Len(btx.Signatures, 1)
	require.Len(btx.Message.Instructions, 1)
}

func parseFixture(t *testing.T, data string) *ParsedTransaction {
	var tx ParsedTransaction
	err := json.Unmarshal([]byte(data), &tx)
	require.Nil(t, err)
	return &tx
}

func newRPCServer(t *testing.T, handle func(method string, params []json.RawMessage) any) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Id     any               `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		err := json.NewDecoder(r.Body).Decode(&req)
		require.Nil(t, err)
		w.Header().Set("Content-Type", "application/json")
		err = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.Id,
			"result":  handle(req.Method, req.Params),
		})
		require.Nil(t, err)
	}))
}
