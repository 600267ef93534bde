package bridge

import (
	"context"
	"crypto/rand"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/MixinNetwork/bridge/apps/bdk"
	"github.com/MixinNetwork/bridge/apps/bitcoin"
	"github.com/MixinNetwork/bridge/apps/domichain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	solana "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	testNetwork      = bitcoin.NetworkTestnet
	testTokenProgram = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	testTxVSize      = 150
)

func testBitcoinAddress(t *testing.T) string {
	hash := make([]byte, 20)
	_, err := rand.Read(hash)
	require.Nil(t, err)
	addr, err := btcutil.NewAddressWitnessPubKeyHash(hash, bitcoin.NetConfig(testNetwork))
	require.Nil(t, err)
	return addr.EncodeAddress()
}

func testTxId() string {
	b := make([]byte, 32)
	_, err := rand.Read(b)
	if err != nil {
		panic(err)
	}
	return chainhash.Hash(b).String()
}

func testPayTo(t *testing.T, addr string) []byte {
	a, err := btcutil.DecodeAddress(addr, bitcoin.NetConfig(testNetwork))
	require.Nil(t, err)
	script, err := txscript.PayToAddrScript(a)
	require.Nil(t, err)
	return script
}

func testStore(t *testing.T) *SQLite3Store {
	path := filepath.Join(t.TempDir(), "bridge.sqlite3")
	store, err := OpenSQLite3Store(path, "bridge-test-secret")
	require.Nil(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

type fakeWallet struct {
	t       *testing.T
	mutex   sync.Mutex
	locked  bool
	entered int

	balance   uint64
	bridge    string
	address   string
	noopStage string
	broadcast error

	generated  int
	syncs      int
	trials     []uint64
	signers    []string
	broadcasts []string
}

func newFakeWallet(t *testing.T, bridge string, balance uint64) *fakeWallet {
	return &fakeWallet{t: t, bridge: bridge, balance: balance, address: bridge}
}

func (w *fakeWallet) GenerateKey(ctx context.Context) (*bdk.GeneratedKey, error) {
	w.generated += 1
	return &bdk.GeneratedKey{
		Fingerprint: fmt.Sprintf("%08x", w.generated),
		Mnemonic:    "test mnemonic",
		Xprv:        fmt.Sprintf("tprv%d", w.generated),
	}, nil
}

func (w *fakeWallet) DeriveKey(ctx context.Context, xprv string) (*bdk.DerivedKey, error) {
	return &bdk.DerivedKey{Xprv: xprv, Xpub: "tpub" + xprv[4:]}, nil
}

func (w *fakeWallet) Compile(ctx context.Context, policy string) (string, error) {
	return "wsh(" + policy + ")", nil
}

func (w *fakeWallet) WithWallet(ctx context.Context, fn func(w bdk.Wallet) error) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	require.False(w.t, w.locked)
	w.locked, w.entered = true, w.entered+1
	defer func() { w.locked = false }()
	return fn(w)
}

func (w *fakeWallet) checkLocked() {
	require.True(w.t, w.locked)
}

func (w *fakeWallet) Sync(ctx context.Context, descriptor string) error {
	w.checkLocked()
	w.syncs += 1
	return nil
}

func (w *fakeWallet) Balance(ctx context.Context, descriptor string) (*bdk.Balance, error) {
	w.checkLocked()
	var b bdk.Balance
	b.Satoshi.Confirmed = w.balance
	return &b, nil
}

func (w *fakeWallet) Policies(ctx context.Context, descriptor string) (*bdk.Policies, error) {
	w.checkLocked()
	return &bdk.Policies{External: &bdk.Policy{Id: "ext0", Type: "THRESH"}}, nil
}

func (w *fakeWallet) NewAddress(ctx context.Context, descriptor string) (string, error) {
	w.checkLocked()
	return w.address, nil
}

// CreateTx charges testTxVSize at the fee rate and reports a shortfall the
// way the wallet tool does.
func (w *fakeWallet) CreateTx(ctx context.Context, descriptor, to string, amount uint64, externalPolicy string, feeRate decimal.Decimal) (*bdk.PSBT, error) {
	w.checkLocked()
	require.Equal(w.t, `{"ext0":[0,1]}`, externalPolicy)
	w.trials = append(w.trials, amount)
	fee := uint64(feeRate.IntPart()) * testTxVSize
	if amount+fee > w.balance {
		return nil, &bdk.ExecError{
			Command: "wallet create_tx",
			Stderr:  fmt.Sprintf("Error: Insufficient funds: %d sat available of %d sat needed", w.balance, amount+fee),
			Err:     fmt.Errorf("exit status 1"),
		}
	}
	pkt := testPSBT(w.t, w.bridge, w.balance, to, amount, w.balance-amount-fee)
	b64, err := pkt.B64Encode()
	require.Nil(w.t, err)
	return &bdk.PSBT{PSBT: b64}, nil
}

func (w *fakeWallet) Sign(ctx context.Context, descriptor, b64 string, kms *bdk.KMSSigner) (*bdk.PSBT, error) {
	w.checkLocked()
	stage := "service"
	if kms != nil {
		stage = kms.Flag
	}
	w.signers = append(w.signers, stage)
	if stage == w.noopStage {
		return &bdk.PSBT{PSBT: b64}, nil
	}
	pkt, err := bitcoin.DecodePSBT(b64)
	require.Nil(w.t, err)
	in := &pkt.Inputs[0]
	in.Unknowns = append(in.Unknowns, &psbt.Unknown{Key: []byte{0xfc, byte(len(in.Unknowns))}, Value: []byte(stage)})
	finalized := stage == bdk.SignerGoogle
	if finalized {
		in.FinalScriptWitness = []byte{0x01, 0x01, 0x01}
	}
	out, err := pkt.B64Encode()
	require.Nil(w.t, err)
	return &bdk.PSBT{PSBT: out, IsFinalized: finalized}, nil
}

func (w *fakeWallet) Broadcast(ctx context.Context, descriptor, b64 string) (string, error) {
	w.checkLocked()
	w.broadcasts = append(w.broadcasts, b64)
	if w.broadcast != nil {
		return "", w.broadcast
	}
	return "b0b0" + testTxId()[4:], nil
}

func testPSBT(t *testing.T, from string, input uint64, to string, amount, change uint64) *psbt.Packet {
	hash := chainhash.DoubleHashH([]byte(from))
	outputs := []*wire.TxOut{wire.NewTxOut(int64(amount), testPayTo(t, to))}
	if change > 0 {
		outputs = append(outputs, wire.NewTxOut(int64(change), testPayTo(t, from)))
	}
	pkt, err := psbt.New([]*wire.OutPoint{wire.NewOutPoint(&hash, 0)}, outputs, 2, 0, []uint32{wire.MaxTxInSequenceNum})
	require.Nil(t, err)
	pkt.Inputs[0].WitnessUtxo = wire.NewTxOut(int64(input), testPayTo(t, from))
	return pkt
}

type fakeIssuer struct {
	mutex   sync.Mutex
	service solana.PublicKey
	mints   []*domichain.MintResult
	burns   []string
	burnErr error
}

func newFakeIssuer() *fakeIssuer {
	return &fakeIssuer{service: solana.NewWallet().PublicKey()}
}

func (is *fakeIssuer) ServiceAddress() string {
	return is.service.String()
}

func (is *fakeIssuer) ServiceTokenAccount(mint string) (string, error) {
	key, err := domichain.PublicKeyFromString(mint)
	if err != nil {
		return "", err
	}
	ata, _, err := solana.FindProgramAddress([][]byte{is.service.Bytes(), key.Bytes()}, solana.TokenProgramID)
	return ata.String(), err
}

func (is *fakeIssuer) MintToOwner(ctx context.Context, owner string, amount uint64) (*domichain.MintResult, error) {
	is.mutex.Lock()
	defer is.mutex.Unlock()
	res := &domichain.MintResult{
		Mint:               solana.NewWallet().PublicKey().String(),
		DestinationAccount: solana.NewWallet().PublicKey().String(),
		Amount:             amount,
		Signature:          solana.Signature{byte(len(is.mints) + 1)}.String(),
	}
	is.mints = append(is.mints, res)
	return res, nil
}

func (is *fakeIssuer) Burn(ctx context.Context, mint string, amount uint64) (string, error) {
	is.mutex.Lock()
	defer is.mutex.Unlock()
	if is.burnErr != nil {
		return "", is.burnErr
	}
	is.burns = append(is.burns, fmt.Sprintf("%s:%d", mint, amount))
	return solana.Signature{0xbb, byte(len(is.burns))}.String(), nil
}

type fakeChain struct {
	sigs   map[string][]string
	txs    map[string]*domichain.ParsedTransaction
	height uint64
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		sigs: make(map[string][]string),
		txs:  make(map[string]*domichain.ParsedTransaction),
	}
}

func (c *fakeChain) add(address string, tx *domichain.ParsedTransaction) {
	sig := tx.Signature()
	c.sigs[address] = append([]string{sig}, c.sigs[address]...)
	c.txs[sig] = tx
}

func (c *fakeChain) GetSignaturesForAddress(ctx context.Context, address string) ([]string, error) {
	return c.sigs[address], nil
}

func (c *fakeChain) GetParsedTransaction(ctx context.Context, signature string) (*domichain.ParsedTransaction, error) {
	tx := c.txs[signature]
	if tx == nil {
		return nil, domichain.ErrTransactionNotFound
	}
	return tx, nil
}

func (c *fakeChain) GetParsedTransactions(ctx context.Context, signatures []string) ([]*domichain.ParsedTransaction, error) {
	var txs []*domichain.ParsedTransaction
	for _, s := range signatures {
		tx, err := c.GetParsedTransaction(ctx, s)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func (c *fakeChain) GetBlockHeight(ctx context.Context) (uint64, error) {
	return c.height, nil
}

type fakeIndexer struct {
	history map[string][]*bitcoin.Transaction
	txs     map[string]*bitcoin.Transaction
	fees    *bitcoin.RecommendedFees
}

func newFakeIndexer() *fakeIndexer {
	return &fakeIndexer{
		history: make(map[string][]*bitcoin.Transaction),
		txs:     make(map[string]*bitcoin.Transaction),
		fees: &bitcoin.RecommendedFees{
			FastestFee:  decimal.NewFromInt(2),
			HalfHourFee: decimal.NewFromInt(2),
			HourFee:     decimal.NewFromInt(1),
			EconomyFee:  decimal.NewFromInt(1),
			MinimumFee:  decimal.NewFromInt(1),
		},
	}
}

func (i *fakeIndexer) add(tx *bitcoin.Transaction, addresses ...string) {
	i.txs[tx.TxId] = tx
	for _, a := range addresses {
		i.history[a] = append([]*bitcoin.Transaction{tx}, i.history[a]...)
	}
}

func (i *fakeIndexer) GetAddressTransactions(ctx context.Context, address string) ([]*bitcoin.Transaction, error) {
	return i.history[address], nil
}

func (i *fakeIndexer) GetTransaction(ctx context.Context, txid string) (*bitcoin.Transaction, error) {
	return i.txs[txid], nil
}

func (i *fakeIndexer) GetRecommendedFees(ctx context.Context) (*bitcoin.RecommendedFees, bool, error) {
	return i.fees, false, nil
}

type testEnv struct {
	store   *SQLite3Store
	wallet  *fakeWallet
	issuer  *fakeIssuer
	chain   *fakeChain
	indexer *fakeIndexer
	node    *Node
}

func newTestEnv(t *testing.T, bridge string, balance uint64) *testEnv {
	env := &testEnv{
		store:   testStore(t),
		wallet:  newFakeWallet(t, bridge, balance),
		issuer:  newFakeIssuer(),
		chain:   newFakeChain(),
		indexer: newFakeIndexer(),
	}
	conf := &Configuration{
		Network:           testNetwork,
		TokenProgram:      testTokenProgram,
		HardwareXpub:      "tpubHardware",
		GoogleKMSName:     "projects/p/locations/l/keyRings/r/cryptoKeys/k/cryptoKeyVersions/1",
		GoogleKMSXpub:     "tpubGoogle",
		MismatchAllowList: []string{"f697db2d2962b976150aae2c2292fdb3df3938c82fe67327aa5600d29fa0d75f"},
	}
	env.node = NewNode(env.store, conf, env.indexer, env.chain, env.issuer, env.wallet)
	return env
}

// register allocates the bridge address of the fake wallet to a new owner.
func (env *testEnv) register(t *testing.T) (*Address, solana.PrivateKey) {
	ctx := context.Background()
	err := env.store.WriteKMSKey(ctx, "arn:aws:kms:us-east-1:000000000000:key/test", "tpubAWS")
	require.Nil(t, err)
	owner := solana.NewWallet()
	addr, err := env.node.NewBridgeAddress(ctx, owner.PublicKey().String())
	require.Nil(t, err)
	return addr, owner.PrivateKey
}

func testDeposit(from, to string, value, height uint64) *bitcoin.Transaction {
	return &bitcoin.Transaction{
		TxId: testTxId(),
		Vin: []*bitcoin.Input{{
			TxId:    testTxId(),
			Prevout: &bitcoin.Prevout{Address: from, Value: value + 500},
		}},
		Vout:   []*bitcoin.Output{{Address: to, Value: value}},
		Fee:    500,
		Status: bitcoin.TransactionStatus{Confirmed: true, BlockHeight: height},
	}
}

func testWithdraw(from, to string, input, amount, fee, height uint64) *bitcoin.Transaction {
	tx := &bitcoin.Transaction{
		TxId: testTxId(),
		Vin: []*bitcoin.Input{{
			TxId:    testTxId(),
			Prevout: &bitcoin.Prevout{Address: from, Value: input},
		}},
		Vout:   []*bitcoin.Output{{Address: to, Value: amount}},
		Fee:    fee,
		Status: bitcoin.TransactionStatus{Confirmed: true, BlockHeight: height},
	}
	if change := input - amount - fee; change > 0 {
		tx.Vout = append(tx.Vout, &bitcoin.Output{Address: from, Value: change})
	}
	return tx
}

func testTokenTransaction(slot uint64, ixs ...*domichain.ParsedInstruction) *domichain.ParsedTransaction {
	sig := solana.Signature{}
	_, err := rand.Read(sig[:])
	if err != nil {
		panic(err)
	}
	return &domichain.ParsedTransaction{
		Slot: slot,
		Meta: &domichain.ParsedMeta{},
		Transaction: domichain.ParsedTransactionBody{
			Signatures: []string{sig.String()},
			Message:    domichain.ParsedMessage{Instructions: ixs},
		},
	}
}

func testTokenInstruction(typ string, info domichain.InstructionInfo) *domichain.ParsedInstruction {
	return &domichain.ParsedInstruction{
		Program:   "spl-token",
		ProgramId: testTokenProgram,
		Parsed:    &domichain.ParsedInfo{Type: typ, Info: info},
	}
}
