package kms

import (
	"context"
	"fmt"
	"strings"

	"github.com/MixinNetwork/mixin/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awskms "github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/btcsuite/btcd/btcec/v2"
)

type AWSSigner struct {
	arn    string
	client *awskms.Client
}

// NewAWSSigner loads the default credential chain, the region comes from
// the key ARN arn:aws:kms:REGION:ACCOUNT:key/ID.
func NewAWSSigner(ctx context.Context, arn string) (*AWSSigner, error) {
	parts := strings.Split(arn, ":")
	if len(parts) != 6 || parts[2] != "kms" || parts[3] == "" {
		return nil, fmt.Errorf("kms.NewAWSSigner(%s) => invalid arn", arn)
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(parts[3]))
	if err != nil {
		return nil, fmt.Errorf("config.LoadDefaultConfig(%s) => %v", parts[3], err)
	}
	return &AWSSigner{arn: arn, client: awskms.NewFromConfig(cfg)}, nil
}

func (s *AWSSigner) Key() string {
	return s.arn
}

func (s *AWSSigner) PublicKey(ctx context.Context) (*btcec.PublicKey, error) {
	ctx, cancel := callContext(ctx)
	defer cancel()
	out, err := s.client.GetPublicKey(ctx, &awskms.GetPublicKeyInput{
		KeyId: aws.String(s.arn),
	})
	if err != nil {
		return nil, fmt.Errorf("kms.GetPublicKey(%s) => %v", s.arn, err)
	}
	if out.KeySpec != types.KeySpecEccSecgP256k1 {
		return nil, fmt.Errorf("kms.GetPublicKey(%s) => key spec %s", s.arn, out.KeySpec)
	}
	return ParseSubjectPublicKeyInfo(out.PublicKey)
}

func (s *AWSSigner) SignDigest(ctx context.Context, digest []byte) ([]byte, error) {
	ctx, cancel := callContext(ctx)
	defer cancel()
	out, err := s.client.Sign(ctx, &awskms.SignInput{
		KeyId:            aws.String(s.arn),
		Message:          digest,
		MessageType:      types.MessageTypeDigest,
		SigningAlgorithm: types.SigningAlgorithmSpecEcdsaSha256,
	})
	logger.Verbosef("kms.SignDigest(%s, %x) => %v", s.arn, digest, err)
	if err != nil {
		return nil, fmt.Errorf("kms.Sign(%s) => %v", s.arn, err)
	}
	return NormalizeSignature(out.Signature)
}

func (s *AWSSigner) Close() error {
	return nil
}
