package bitcoin

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

const (
	NetworkBitcoin = "bitcoin"
	NetworkTestnet = "testnet"
	NetworkSignet  = "signet"
	NetworkRegtest = "regtest"
)

func NetConfig(network string) *chaincfg.Params {
	switch network {
	case NetworkBitcoin:
		return &chaincfg.MainNetParams
	case NetworkTestnet:
		return &chaincfg.TestNet3Params
	case NetworkSignet:
		return &chaincfg.SigNetParams
	case NetworkRegtest:
		return &chaincfg.RegressionNetParams
	default:
		panic(network)
	}
}

func VerifyNetwork(network string) error {
	switch network {
	case NetworkBitcoin, NetworkTestnet, NetworkSignet, NetworkRegtest:
		return nil
	}
	return fmt.Errorf("invalid bitcoin network %s", network)
}

func ParseAddress(addr, network string) (string, error) {
	bda, err := btcutil.DecodeAddress(addr, NetConfig(network))
	if err != nil {
		return "", fmt.Errorf("btcutil.DecodeAddress(%s, %s) => %v", addr, network, err)
	}
	if !bda.IsForNet(NetConfig(network)) {
		return "", fmt.Errorf("bitcoin.ParseAddress(%s, %s) => wrong network", addr, network)
	}
	_, err = txscript.PayToAddrScript(bda)
	if err != nil {
		return "", fmt.Errorf("txscript.PayToAddrScript(%s, %s) => %v", addr, network, err)
	}
	return bda.EncodeAddress(), nil
}

// ScriptAddress returns the address paid by a script, or an empty string
// for scripts without a standard single address.
func ScriptAddress(script []byte, network string) string {
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(script, NetConfig(network))
	if err != nil || len(addrs) != 1 {
		return ""
	}
	return addrs[0].EncodeAddress()
}

func ParseCompressedPublicKey(public string) (*btcec.PublicKey, error) {
	b, err := hex.DecodeString(public)
	if err != nil {
		return nil, err
	}
	if len(b) != btcec.PubKeyBytesLenCompressed {
		return nil, fmt.Errorf("invalid compressed public key %s", public)
	}
	return btcec.ParsePubKey(b)
}

func VerifySignatureDER(public string, msg, sig []byte) error {
	pub, err := ParseCompressedPublicKey(public)
	if err != nil {
		return err
	}
	der, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return err
	}
	if der.Verify(msg, pub) {
		return nil
	}
	return fmt.Errorf("bitcoin.VerifySignatureDER(%s, %x, %x)", public, msg, sig)
}

// VerifyExtendedPublicKey checks an xpub produced by the wallet tool belongs
// to the network and is not private.
func VerifyExtendedPublicKey(xpub, network string) error {
	key, err := hdkeychain.NewKeyFromString(xpub)
	if err != nil {
		return fmt.Errorf("hdkeychain.NewKeyFromString(%s) => %v", xpub, err)
	}
	if key.IsPrivate() {
		return fmt.Errorf("bitcoin.VerifyExtendedPublicKey(%s) => private", xpub)
	}
	if !key.IsForNet(NetConfig(network)) {
		return fmt.Errorf("bitcoin.VerifyExtendedPublicKey(%s, %s) => wrong network", xpub, network)
	}
	return nil
}
