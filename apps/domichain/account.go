package domichain

import (
	"encoding/hex"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

func PublicKeyFromString(public string) (solana.PublicKey, error) {
	b, err := base58.Decode(public)
	if err != nil || len(b) != solana.PublicKeyLength {
		b, err = hex.DecodeString(public)
	}
	if err != nil || len(b) != solana.PublicKeyLength {
		return solana.PublicKey{}, fmt.Errorf("invalid public key %s", public)
	}
	return solana.PublicKeyFromBytes(b), nil
}

func VerifyAddress(public string) error {
	_, err := PublicKeyFromString(public)
	return err
}

// VerifyMessageSignature checks a base58 ed25519 signature of msg by public.
func VerifyMessageSignature(public string, msg []byte, signature string) error {
	pub, err := PublicKeyFromString(public)
	if err != nil {
		return err
	}
	b, err := base58.Decode(signature)
	if err != nil || len(b) != solana.SignatureLength {
		return fmt.Errorf("domichain.VerifyMessageSignature(%s) => invalid signature %s", public, signature)
	}
	sig := solana.SignatureFromBytes(b)
	if pub.Verify(msg, sig) {
		return nil
	}
	return fmt.Errorf("domichain.VerifyMessageSignature(%s, %x, %s)", public, msg, signature)
}

func BuildSignersGetter(keys ...solana.PrivateKey) func(key solana.PublicKey) *solana.PrivateKey {
	mapKeys := make(map[solana.PublicKey]*solana.PrivateKey)
	for _, k := range keys {
		mapKeys[k.PublicKey()] = &k
	}
	return func(key solana.PublicKey) *solana.PrivateKey {
		return mapKeys[key]
	}
}

// Programs holds the token and associated token account program ids of
// the chain, both differ from the upstream ones.
type Programs struct {
	Token           solana.PublicKey
	AssociatedToken solana.PublicKey
}

func NewPrograms(token, associated string) (*Programs, error) {
	t, err := PublicKeyFromString(token)
	if err != nil {
		return nil, fmt.Errorf("token program %s => %v", token, err)
	}
	a, err := PublicKeyFromString(associated)
	if err != nil {
		return nil, fmt.Errorf("associated token program %s => %v", associated, err)
	}
	return &Programs{Token: t, AssociatedToken: a}, nil
}

func (p *Programs) FindAssociatedTokenAddress(wallet, mint solana.PublicKey) (solana.PublicKey, error) {
	address, _, err := solana.FindProgramAddress(
		[][]byte{
			wallet[:],
			p.Token[:],
			mint[:],
		},
		p.AssociatedToken,
	)
	return address, err
}
