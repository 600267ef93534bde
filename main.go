package main

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/MixinNetwork/bridge/cmd"
	"github.com/MixinNetwork/bridge/config"
	"github.com/urfave/cli/v2"
)

//go:embed README.md
var README string

//go:embed VERSION
var VERSION string

func main() {
	VERSION = strings.TrimSpace(VERSION)
	if strings.Contains(VERSION, "COMMIT") {
		panic("please build the application using make command.")
	}
	config.AppVersion = VERSION

	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Value:   "~/.mixin/bridge/config.toml",
		Usage:   "The configuration file path",
	}
	app := &cli.App{
		Name:                 "bridge",
		Usage:                "Bitcoin domichain bridge",
		Version:              VERSION,
		EnableBashCompletion: true,
		Metadata: map[string]any{
			"README":  README,
			"VERSION": VERSION,
		},
		Commands: []*cli.Command{
			{
				Name:   "boot",
				Usage:  "Run the catch-up then serve the bridge",
				Action: cmd.BridgeBootCmd,
				Flags:  []cli.Flag{configFlag},
			},
			{
				Name:   "catchup",
				Usage:  "Reconcile the deposits and withdrawals with the mints and burns",
				Action: cmd.BridgeCatchupCmd,
				Flags: []cli.Flag{
					configFlag,
					&cli.BoolFlag{
						Name:  "repair",
						Usage: "Mint the missed deposits",
					},
				},
			},
			{
				Name:   "address",
				Usage:  "Allocate a deposit address for an account",
				Action: cmd.BridgeNewAddressCmd,
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{
						Name:     "account",
						Usage:    "The domichain account owning the address",
						Required: true,
					},
				},
			},
			{
				Name:   "watch",
				Usage:  "Wait for a deposit transaction and mint it",
				Action: cmd.BridgeWatchTransactionCmd,
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{
						Name:     "hash",
						Usage:    "The bitcoin transaction hash",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "address",
						Usage:    "The deposit address",
						Required: true,
					},
				},
			},
			{
				Name:   "kms-pubkey",
				Usage:  "Check a KMS key signs and print its public key",
				Action: cmd.KMSPublicKeyCmd,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "key",
						Usage:    "The AWS key ARN or Google key version name",
						Required: true,
					},
				},
			},
			{
				Name:   "kms-register",
				Usage:  "Register an AWS KMS key for new deposit addresses",
				Action: cmd.KMSRegisterCmd,
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{
						Name:     "arn",
						Usage:    "The AWS key ARN",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "xpub",
						Usage:    "The extended public key of the KMS key",
						Required: true,
					},
				},
			},
			{
				Name:  "version",
				Usage: "Print the version",
				Action: func(c *cli.Context) error {
					fmt.Println(VERSION)
					return nil
				},
			},
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Println(err)
	}
}
