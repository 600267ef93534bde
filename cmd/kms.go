package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/MixinNetwork/bridge/apps/bitcoin"
	"github.com/MixinNetwork/bridge/apps/kms"
	"github.com/MixinNetwork/bridge/bridge"
	"github.com/MixinNetwork/bridge/config"
	"github.com/urfave/cli/v2"
)

func KMSPublicKeyCmd(c *cli.Context) error {
	ctx := context.Background()

	signer, err := kms.NewSigner(ctx, c.String("key"))
	if err != nil {
		return err
	}
	defer signer.Close()

	pub, err := kms.Check(ctx, signer)
	if err != nil {
		return err
	}
	fmt.Println(pub)
	return nil
}

// KMSRegisterCmd adds an AWS key to the pool new addresses pick their
// second key from, the key must sign before it is trusted.
func KMSRegisterCmd(c *cli.Context) error {
	ctx := context.Background()

	mc, err := config.ReadConfiguration(c.String("config"))
	if err != nil {
		return err
	}
	arn, xpub := c.String("arn"), c.String("xpub")
	err = bitcoin.VerifyExtendedPublicKey(xpub, mc.Bridge.Network)
	if err != nil {
		return err
	}
	signer, err := kms.NewAWSSigner(ctx, arn)
	if err != nil {
		return err
	}
	defer signer.Close()
	pub, err := kms.Check(ctx, signer)
	if err != nil {
		return err
	}

	db, err := bridge.OpenSQLite3Store(filepath.Join(mc.Bridge.StoreDir, "bridge.sqlite3"), mc.Bridge.AESSecret)
	if err != nil {
		return err
	}
	defer db.Close()
	err = db.WriteKMSKey(ctx, arn, xpub)
	if err != nil {
		return err
	}
	fmt.Printf("%s\t%s\t%s\n", arn, pub, xpub)
	return nil
}
