package kms

import (
	"context"
	"fmt"

	gkms "cloud.google.com/go/kms/apiv1"
	"cloud.google.com/go/kms/apiv1/kmspb"
	"github.com/MixinNetwork/mixin/logger"
	"github.com/btcsuite/btcd/btcec/v2"
)

// GoogleSigner uses a key version name like
// projects/P/locations/L/keyRings/R/cryptoKeys/K/cryptoKeyVersions/1.
type GoogleSigner struct {
	name   string
	client *gkms.KeyManagementClient
}

func NewGoogleSigner(ctx context.Context, name string) (*GoogleSigner, error) {
	client, err := gkms.NewKeyManagementClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("kms.NewKeyManagementClient() => %v", err)
	}
	return &GoogleSigner{name: name, client: client}, nil
}

func (s *GoogleSigner) Key() string {
	return s.name
}

func (s *GoogleSigner) PublicKey(ctx context.Context) (*btcec.PublicKey, error) {
	ctx, cancel := callContext(ctx)
	defer cancel()
	res, err := s.client.GetPublicKey(ctx, &kmspb.GetPublicKeyRequest{Name: s.name})
	if err != nil {
		return nil, fmt.Errorf("kms.GetPublicKey(%s) => %v", s.name, err)
	}
	if res.Algorithm != kmspb.CryptoKeyVersion_EC_SIGN_SECP256K1_SHA256 {
		return nil, fmt.Errorf("kms.GetPublicKey(%s) => algorithm %s", s.name, res.Algorithm)
	}
	return ParsePublicKeyPEM(res.Pem)
}

func (s *GoogleSigner) SignDigest(ctx context.Context, digest []byte) ([]byte, error) {
	ctx, cancel := callContext(ctx)
	defer cancel()
	res, err := s.client.AsymmetricSign(ctx, &kmspb.AsymmetricSignRequest{
		Name: s.name,
		Digest: &kmspb.Digest{
			Digest: &kmspb.Digest_Sha256{Sha256: digest},
		},
	})
	logger.Verbosef("kms.SignDigest(%s, %x) => %v", s.name, digest, err)
	if err != nil {
		return nil, fmt.Errorf("kms.AsymmetricSign(%s) => %v", s.name, err)
	}
	return NormalizeSignature(res.Signature)
}

func (s *GoogleSigner) Close() error {
	return s.client.Close()
}
