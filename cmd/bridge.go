package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/MixinNetwork/bridge/apps/bdk"
	"github.com/MixinNetwork/bridge/apps/bitcoin"
	"github.com/MixinNetwork/bridge/apps/domichain"
	"github.com/MixinNetwork/bridge/bridge"
	"github.com/MixinNetwork/bridge/config"
	"github.com/MixinNetwork/mixin/logger"
	"github.com/urfave/cli/v2"
)

func openNode(c *cli.Context) (*bridge.Node, *bridge.SQLite3Store, error) {
	mc, err := config.ReadConfiguration(c.String("config"))
	if err != nil {
		return nil, nil, err
	}
	conf := mc.Bridge
	for _, xpub := range []string{conf.HardwareXpub, conf.GoogleKMSXpub} {
		err = bitcoin.VerifyExtendedPublicKey(xpub, conf.Network)
		if err != nil {
			return nil, nil, err
		}
	}

	db, err := bridge.OpenSQLite3Store(filepath.Join(conf.StoreDir, "bridge.sqlite3"), conf.AESSecret)
	if err != nil {
		return nil, nil, err
	}
	programs, err := domichain.NewPrograms(conf.TokenProgram, conf.AssociatedTokenProgram)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	client := domichain.NewClient(conf.DomichainRPC)
	issuer, err := domichain.NewIssuer(client, programs, conf.ServiceKey)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	indexer := bitcoin.NewIndexer(conf.IndexerAPI)
	tool := bdk.NewTool(conf.Network, conf.BDKPath, conf.BDKPatchedPath, conf.WalletDir)
	node := bridge.NewNode(db, conf, indexer, client, issuer, tool)
	return node, db, nil
}

func BridgeBootCmd(c *cli.Context) error {
	logger.SetLevel(logger.VERBOSE)
	ctx := context.Background()

	node, db, err := openNode(c)
	if err != nil {
		return err
	}
	defer db.Close()

	err = node.Boot(ctx)
	if err != nil {
		return err
	}
	node.StartHTTP(c.App.Metadata["VERSION"].(string))
	return nil
}

func BridgeCatchupCmd(c *cli.Context) error {
	ctx := context.Background()

	node, db, err := openNode(c)
	if err != nil {
		return err
	}
	defer db.Close()

	result, err := node.CatchUp(ctx, c.Bool("repair"))
	if result != nil {
		for _, t := range result.MissedMints {
			fmt.Printf("missed\t%s\t%s\t%d\t%d\n", t.TxId, t.BridgeAddress, t.Amount, t.BlockHeight)
		}
		for _, m := range result.AmountMismatches {
			fmt.Printf("mismatch\t%s\t%s\t%d\t%s\t%s\n", m.Transfer.TxId, m.Transfer.BridgeAddress, m.Transfer.Amount, m.Mint.Signature, m.Mint.Amount)
		}
	}
	return err
}

func BridgeNewAddressCmd(c *cli.Context) error {
	ctx := context.Background()

	node, db, err := openNode(c)
	if err != nil {
		return err
	}
	defer db.Close()

	addr, err := node.NewBridgeAddress(ctx, c.String("account"))
	if err != nil {
		return err
	}
	fmt.Printf("%s\t%s\t%s\n", addr.MultiAddress, addr.AccountAddress, addr.PublicKeyARN01)
	return nil
}

func BridgeWatchTransactionCmd(c *cli.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
	defer cancel()

	node, db, err := openNode(c)
	if err != nil {
		return err
	}
	defer db.Close()

	return node.WatchTransaction(ctx, c.String("hash"), c.String("address"))
}
