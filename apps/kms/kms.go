package kms

import (
	"context"
	"crypto/sha256"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

var (
	oidPublicKeyECDSA = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}
	oidCurveSecp256k1 = asn1.ObjectIdentifier{1, 3, 132, 0, 10}
)

const checkMessage = "bridge kms signer check"

const callTimeout = 10 * time.Second

// callContext bounds every remote KMS call.
func callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, callTimeout)
}

// Signer is a secp256k1 key held by a cloud KMS. The bridge only needs it
// to publish the key and to prove the key signs, the PSBT signatures are
// produced by the patched wallet tool.
type Signer interface {
	Key() string
	PublicKey(ctx context.Context) (*btcec.PublicKey, error)
	SignDigest(ctx context.Context, digest []byte) ([]byte, error)
	Close() error
}

func NewSigner(ctx context.Context, key string) (Signer, error) {
	switch {
	case strings.HasPrefix(key, "arn:aws:kms:"):
		return NewAWSSigner(ctx, key)
	case strings.HasPrefix(key, "projects/"):
		return NewGoogleSigner(ctx, key)
	}
	return nil, fmt.Errorf("kms.NewSigner(%s) => unknown key", key)
}

// Check signs a fixed digest and verifies it against the published key,
// returning the compressed public key hex.
func Check(ctx context.Context, s Signer) (string, error) {
	pub, err := s.PublicKey(ctx)
	if err != nil {
		return "", err
	}
	digest := sha256.Sum256([]byte(checkMessage))
	der, err := s.SignDigest(ctx, digest[:])
	if err != nil {
		return "", err
	}
	sig, err := ecdsa.ParseDERSignature(der)
	if err != nil {
		return "", fmt.Errorf("kms.Check(%s) => %v", s.Key(), err)
	}
	if !sig.Verify(digest[:], pub) {
		return "", fmt.Errorf("kms.Check(%s) => invalid signature %x", s.Key(), der)
	}
	return hex.EncodeToString(pub.SerializeCompressed()), nil
}

type subjectPublicKeyInfo struct {
	Algorithm pkix.AlgorithmIdentifier
	PublicKey asn1.BitString
}

// ParseSubjectPublicKeyInfo decodes the DER SPKI of a secp256k1 key, which
// crypto/x509 refuses because the curve is not one of its own.
func ParseSubjectPublicKeyInfo(der []byte) (*btcec.PublicKey, error) {
	var spki subjectPublicKeyInfo
	rest, err := asn1.Unmarshal(der, &spki)
	if err != nil {
		return nil, fmt.Errorf("asn1.Unmarshal() => %v", err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("asn1.Unmarshal() => %d trailing bytes", len(rest))
	}
	if !spki.Algorithm.Algorithm.Equal(oidPublicKeyECDSA) {
		return nil, fmt.Errorf("kms.ParseSubjectPublicKeyInfo() => algorithm %v", spki.Algorithm.Algorithm)
	}
	var curve asn1.ObjectIdentifier
	_, err = asn1.Unmarshal(spki.Algorithm.Parameters.FullBytes, &curve)
	if err != nil || !curve.Equal(oidCurveSecp256k1) {
		return nil, fmt.Errorf("kms.ParseSubjectPublicKeyInfo() => curve %v %v", curve, err)
	}
	return btcec.ParsePubKey(spki.PublicKey.Bytes)
}

func ParsePublicKeyPEM(data string) (*btcec.PublicKey, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, fmt.Errorf("kms.ParsePublicKeyPEM() => invalid pem")
	}
	return ParseSubjectPublicKeyInfo(block.Bytes)
}

type ecdsaSignature struct {
	R, S *big.Int
}

// NormalizeSignature rewrites a KMS DER signature to the low S form
// required by bitcoin.
func NormalizeSignature(der []byte) ([]byte, error) {
	var es ecdsaSignature
	rest, err := asn1.Unmarshal(der, &es)
	if err != nil || len(rest) > 0 {
		return nil, fmt.Errorf("kms.NormalizeSignature(%x) => %v", der, err)
	}
	if es.R.Sign() <= 0 || es.S.Sign() <= 0 {
		return nil, fmt.Errorf("kms.NormalizeSignature(%x) => invalid", der)
	}
	var r, s secp256k1.ModNScalar
	if r.SetByteSlice(es.R.Bytes()) || s.SetByteSlice(es.S.Bytes()) {
		return nil, fmt.Errorf("kms.NormalizeSignature(%x) => overflow", der)
	}
	return ecdsa.NewSignature(&r, &s).Serialize(), nil
}
