package bridge

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/MixinNetwork/bridge/apps/bdk"
	"github.com/MixinNetwork/bridge/common"
)

const (
	WithdrawalStateReserved = 1
	WithdrawalStateBurned   = 2
	WithdrawalStateDone     = 3
	WithdrawalStateAborted  = 4
)

type Address struct {
	MultiAddress    string
	PublicKey00     string
	PublicKey01     string
	PublicKey02     string
	PublicKey03     string
	PublicKeyARN01  string
	PublicKeyName03 string
	AccountAddress  string
	MintAddress     sql.NullString
	Minted          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AddressKeys is an address together with its decrypted service key.
type AddressKeys struct {
	*Address
	Key *bdk.GeneratedKey
}

type Transaction struct {
	TxHash         string
	MultiAddress   string
	Value          string
	Confirmed      bool
	Minted         bool
	MintAddress    sql.NullString
	AccountAddress sql.NullString
	DomiAddress    sql.NullString
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type KMSKey struct {
	ARN       string
	Xpub      string
	CreatedAt time.Time
}

type Withdrawal struct {
	Signature       string
	MintAddress     string
	MultiAddress    string
	WithdrawAddress string
	WithdrawAmount  string
	AccountAddress  string
	State           int
	Fee             uint64
	BurnSignature   sql.NullString
	TransactionHash sql.NullString
	Reason          sql.NullString
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

var addressCols = []string{"multi_address", "public_key_00", "public_key_01", "public_key_02", "public_key_03", "public_key_arn_01", "public_key_name_03", "account_address", "mint_address", "minted", "created_at", "updated_at"}

func (a *Address) values() []any {
	return []any{a.MultiAddress, a.PublicKey00, a.PublicKey01, a.PublicKey02, a.PublicKey03, a.PublicKeyARN01, a.PublicKeyName03, a.AccountAddress, a.MintAddress, a.Minted, a.CreatedAt, a.UpdatedAt}
}

func addressFromRow(row Row) (*Address, error) {
	var a Address
	err := row.Scan(&a.MultiAddress, &a.PublicKey00, &a.PublicKey01, &a.PublicKey02, &a.PublicKey03, &a.PublicKeyARN01, &a.PublicKeyName03, &a.AccountAddress, &a.MintAddress, &a.Minted, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &a, err
}

var transactionCols = []string{"tx_hash", "multi_address", "value", "confirmed", "minted", "mint_address", "account_address", "domi_address", "created_at", "updated_at"}

func (t *Transaction) values() []any {
	return []any{t.TxHash, t.MultiAddress, t.Value, t.Confirmed, t.Minted, t.MintAddress, t.AccountAddress, t.DomiAddress, t.CreatedAt, t.UpdatedAt}
}

var withdrawalCols = []string{"btci_tx_signature", "mint_address", "multi_address", "withdraw_address", "withdraw_amount", "account_address", "state", "fee", "burn_signature", "transaction_hash", "reason", "created_at", "updated_at"}

func (w *Withdrawal) values() []any {
	return []any{w.Signature, w.MintAddress, w.MultiAddress, w.WithdrawAddress, w.WithdrawAmount, w.AccountAddress, w.State, w.Fee, w.BurnSignature, w.TransactionHash, w.Reason, w.CreatedAt, w.UpdatedAt}
}

func (w *Withdrawal) consumed() bool {
	return w.State != WithdrawalStateAborted
}

func (s *SQLite3Store) encryptKey(key *bdk.GeneratedKey) string {
	b := common.MarshalJSONOrPanic(key)
	return base64.RawURLEncoding.EncodeToString(common.AESEncrypt(s.aesKey, b))
}

func (s *SQLite3Store) decryptKey(data string) (*bdk.GeneratedKey, error) {
	b, err := base64.RawURLEncoding.DecodeString(data)
	if err != nil {
		return nil, err
	}
	b, err = common.AESDecrypt(s.aesKey, b)
	if err != nil {
		return nil, err
	}
	var key bdk.GeneratedKey
	err = json.Unmarshal(b, &key)
	return &key, err
}

func (s *SQLite3Store) WriteKMSKey(ctx context.Context, arn, xpub string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer common.Rollback(tx)

	existed, err := s.checkExistence(ctx, tx, "SELECT xpub FROM kms_keys WHERE arn=?", arn)
	if err != nil || existed {
		return err
	}
	cols := []string{"arn", "xpub", "created_at"}
	err = s.execOne(ctx, tx, buildInsertionSQL("kms_keys", cols), arn, xpub, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("INSERT kms_keys %v", err)
	}
	return tx.Commit()
}

// ListKMSKeys keeps the registration order, address allocation indexes
// into it.
func (s *SQLite3Store) ListKMSKeys(ctx context.Context) ([]*KMSKey, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT arn,xpub,created_at FROM kms_keys ORDER BY created_at ASC, arn ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*KMSKey
	for rows.Next() {
		var k KMSKey
		err = rows.Scan(&k.ARN, &k.Xpub, &k.CreatedAt)
		if err != nil {
			return nil, err
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *SQLite3Store) WriteAddress(ctx context.Context, addr *Address, key *bdk.GeneratedKey) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer common.Rollback(tx)

	now := time.Now().UTC()
	addr.CreatedAt, addr.UpdatedAt = now, now
	err = s.execOne(ctx, tx, buildInsertionSQL("addresses", addressCols), addr.values()...)
	if err != nil {
		return fmt.Errorf("INSERT addresses %v", err)
	}
	cols := []string{"multi_address", "private_key_00", "created_at"}
	err = s.execOne(ctx, tx, buildInsertionSQL("keys", cols), addr.MultiAddress, s.encryptKey(key), now)
	if err != nil {
		return fmt.Errorf("INSERT keys %v", err)
	}
	return tx.Commit()
}

func (s *SQLite3Store) ReadAddress(ctx context.Context, multi string) (*Address, error) {
	query := fmt.Sprintf("SELECT %s FROM addresses WHERE multi_address=?", strings.Join(addressCols, ","))
	row := s.db.QueryRowContext(ctx, query, multi)
	return addressFromRow(row)
}

// ReadAddressByMint finds the deposit address whose deposit created mint,
// with the service key decrypted for signing.
func (s *SQLite3Store) ReadAddressByMint(ctx context.Context, mint string) (*AddressKeys, error) {
	var multi string
	row := s.db.QueryRowContext(ctx, "SELECT multi_address FROM transactions WHERE mint_address=? AND minted=?", mint, true)
	err := row.Scan(&multi)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	addr, err := s.ReadAddress(ctx, multi)
	if err != nil || addr == nil {
		return nil, err
	}

	var data string
	row = s.db.QueryRowContext(ctx, "SELECT private_key_00 FROM keys WHERE multi_address=?", multi)
	err = row.Scan(&data)
	if err != nil {
		return nil, fmt.Errorf("SELECT keys %s %v", multi, err)
	}
	key, err := s.decryptKey(data)
	if err != nil {
		return nil, fmt.Errorf("decryptKey(%s) => %v", multi, err)
	}
	return &AddressKeys{Address: addr, Key: key}, nil
}

func (s *SQLite3Store) ListBridgeAddresses(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT multi_address FROM addresses ORDER BY created_at ASC, multi_address ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var addrs []string
	for rows.Next() {
		var a string
		err = rows.Scan(&a)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, a)
	}
	return addrs, rows.Err()
}

// ReadAddressToMints maps every bridge address to the mints its recorded
// deposits created.
func (s *SQLite3Store) ReadAddressToMints(ctx context.Context) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT multi_address,mint_address FROM transactions WHERE minted=? ORDER BY created_at ASC", true)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	mints := make(map[string][]string)
	for rows.Next() {
		var addr, mint string
		err = rows.Scan(&addr, &mint)
		if err != nil {
			return nil, err
		}
		mints[addr] = append(mints[addr], mint)
	}
	return mints, rows.Err()
}

func (s *SQLite3Store) ReadTransaction(ctx context.Context, hash string) (*Transaction, error) {
	query := fmt.Sprintf("SELECT %s FROM transactions WHERE tx_hash=?", strings.Join(transactionCols, ","))
	row := s.db.QueryRowContext(ctx, query, hash)

	var t Transaction
	err := row.Scan(&t.TxHash, &t.MultiAddress, &t.Value, &t.Confirmed, &t.Minted, &t.MintAddress, &t.AccountAddress, &t.DomiAddress, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &t, err
}

func (s *SQLite3Store) WriteTransaction(ctx context.Context, t *Transaction) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer common.Rollback(tx)

	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	err = s.execOne(ctx, tx, buildInsertionSQL("transactions", transactionCols), t.values()...)
	if err != nil {
		return fmt.Errorf("INSERT transactions %v", err)
	}
	return tx.Commit()
}

// UpdateTransactionMinted records the mint of a deposit and points the
// deposit address to its latest mint in one transaction.
func (s *SQLite3Store) UpdateTransactionMinted(ctx context.Context, hash, mint, account, domi string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer common.Rollback(tx)

	var multi string
	var minted bool
	row := tx.QueryRowContext(ctx, "SELECT multi_address,minted FROM transactions WHERE tx_hash=?", hash)
	err = row.Scan(&multi, &minted)
	if err != nil {
		return fmt.Errorf("SELECT transactions %s %v", hash, err)
	}
	if minted {
		return fmt.Errorf("UpdateTransactionMinted(%s) => already minted", hash)
	}

	now := time.Now().UTC()
	err = s.execOne(ctx, tx, "UPDATE transactions SET minted=?, mint_address=?, account_address=?, domi_address=?, updated_at=? WHERE tx_hash=? AND minted=?",
		true, mint, account, domi, now, hash, false)
	if err != nil {
		return fmt.Errorf("UPDATE transactions %v", err)
	}
	err = s.execOne(ctx, tx, "UPDATE addresses SET mint_address=?, minted=?, updated_at=? WHERE multi_address=?", mint, true, now, multi)
	if err != nil {
		return fmt.Errorf("UPDATE addresses %v", err)
	}
	return tx.Commit()
}

func (s *SQLite3Store) ReadWithdrawal(ctx context.Context, signature string) (*Withdrawal, error) {
	query := fmt.Sprintf("SELECT %s FROM withdrawals WHERE btci_tx_signature=?", strings.Join(withdrawalCols, ","))
	row := s.db.QueryRowContext(ctx, query, signature)

	var w Withdrawal
	err := row.Scan(&w.Signature, &w.MintAddress, &w.MultiAddress, &w.WithdrawAddress, &w.WithdrawAmount, &w.AccountAddress, &w.State, &w.Fee, &w.BurnSignature, &w.TransactionHash, &w.Reason, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &w, err
}

// CheckWithdrawalConsumed reports whether the signature backs a withdrawal
// that was not aborted before its burn.
func (s *SQLite3Store) CheckWithdrawalConsumed(ctx context.Context, signature string) (bool, error) {
	w, err := s.ReadWithdrawal(ctx, signature)
	if err != nil || w == nil {
		return false, err
	}
	return w.consumed(), nil
}

// WriteWithdrawal reserves the request signature, it fails with
// ErrSignatureConsumed when another withdrawal holds it.
func (s *SQLite3Store) WriteWithdrawal(ctx context.Context, w *Withdrawal) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer common.Rollback(tx)

	var state int
	row := tx.QueryRowContext(ctx, "SELECT state FROM withdrawals WHERE btci_tx_signature=?", w.Signature)
	err = row.Scan(&state)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return err
	case state != WithdrawalStateAborted:
		return ErrSignatureConsumed
	default:
		err = s.execOne(ctx, tx, "DELETE FROM withdrawals WHERE btci_tx_signature=? AND state=?", w.Signature, WithdrawalStateAborted)
		if err != nil {
			return fmt.Errorf("DELETE withdrawals %v", err)
		}
	}

	now := time.Now().UTC()
	w.State, w.CreatedAt, w.UpdatedAt = WithdrawalStateReserved, now, now
	err = s.execOne(ctx, tx, buildInsertionSQL("withdrawals", withdrawalCols), w.values()...)
	if err != nil {
		return fmt.Errorf("INSERT withdrawals %v", err)
	}
	return tx.Commit()
}

// UpdateWithdrawal moves the withdrawal forward, an aborted withdrawal
// releases its signature for a retry.
func (s *SQLite3Store) UpdateWithdrawal(ctx context.Context, w *Withdrawal) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer common.Rollback(tx)

	var state int
	row := tx.QueryRowContext(ctx, "SELECT state FROM withdrawals WHERE btci_tx_signature=?", w.Signature)
	err = row.Scan(&state)
	if err != nil {
		return fmt.Errorf("SELECT withdrawals %s %v", w.Signature, err)
	}
	switch {
	case w.State == WithdrawalStateAborted && state != WithdrawalStateReserved:
		return fmt.Errorf("UpdateWithdrawal(%s) => abort from state %d", w.Signature, state)
	case w.State != WithdrawalStateAborted && w.State <= state:
		return fmt.Errorf("UpdateWithdrawal(%s) => state %d %d", w.Signature, state, w.State)
	}

	w.UpdatedAt = time.Now().UTC()
	err = s.execOne(ctx, tx, "UPDATE withdrawals SET state=?, fee=?, burn_signature=?, transaction_hash=?, reason=?, updated_at=? WHERE btci_tx_signature=?",
		w.State, w.Fee, w.BurnSignature, w.TransactionHash, w.Reason, w.UpdatedAt, w.Signature)
	if err != nil {
		return fmt.Errorf("UPDATE withdrawals %v", err)
	}
	return tx.Commit()
}
