package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[umbractl] %v\n", err)
	os.Exit(1)
}

// actionDecorator wraps a command action so errors print uniformly.
func actionDecorator(f func(*cli.Context) error) func(*cli.Context) error {
	return func(c *cli.Context) error {
		if err := f(c); err != nil {
			fatal(err)
		}
		return nil
	}
}

func main() {
	app := cli.NewApp()
	app.Name = "umbractl"
	app.Usage = "inspect an umbra wallet database offline"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "walletdir",
			Usage: "path to the wallet database directory",
			Value: "wallet",
		},
	}
	app.Commands = []cli.Command{
		accountsCommand,
		balanceCommand,
		notesCommand,
		pendingCommand,
		metaCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}
