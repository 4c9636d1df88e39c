package main

import (
	"context"
	"fmt"
	"math/big"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/dgraph-io/badger/v4"
	"github.com/umbra-network/umbrad/walletdb"
	"github.com/umbra-network/umbrad/wire"
	"github.com/urfave/cli"
)

func openDB(ctx *cli.Context) (*walletdb.DB, error) {
	dir := ctx.GlobalString("walletdir")
	db, err := walletdb.OpenReadOnly(dir)
	if err != nil {
		return nil, fmt.Errorf("unable to open wallet db at %s: %v", dir, err)
	}
	return db, nil
}

var accountsCommand = cli.Command{
	Name:   "accounts",
	Usage:  "List wallet accounts.",
	Action: actionDecorator(listAccounts),
}

func listAccounts(ctx *cli.Context) error {
	db, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	return db.View(func(txn *badger.Txn) error {
		defaultID, err := db.DefaultAccountID(txn)
		if err != nil {
			return err
		}
		return db.ForEachAccount(context.Background(), txn,
			func(account *walletdb.AccountValue) error {
				head, err := db.GetHead(txn, account.ID)
				if err != nil {
					return err
				}
				headDesc := "unscanned"
				if head != nil {
					headDesc = fmt.Sprintf("%d (%s)", head.Sequence,
						head.Hash)
				}
				marker := " "
				if account.ID == defaultID {
					marker = "*"
				}
				viewOnly := ""
				if account.ViewOnly() {
					viewOnly = " [view-only]"
				}
				fmt.Printf("%s %-20s %s head=%s%s\n", marker,
					account.Name, account.PublicAddress, headDesc,
					viewOnly)
				return nil
			})
	})
}

var balanceCommand = cli.Command{
	Name:      "balance",
	Usage:     "Show the stored unconfirmed balances of an account.",
	ArgsUsage: "account-name",
	Action:    actionDecorator(showBalance),
}

func showBalance(ctx *cli.Context) error {
	if len(ctx.Args()) != 1 {
		return cli.ShowCommandHelp(ctx, "balance")
	}
	db, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	return db.View(func(txn *badger.Txn) error {
		account, err := findAccount(db, txn, ctx.Args().Get(0))
		if err != nil {
			return err
		}
		prefix := account.Prefix()
		return db.ForEachBalance(context.Background(), txn, prefix,
			func(assetID wire.AssetID, balance *walletdb.BalanceValue) error {
				name := assetID.String()
				if assetID == wire.NativeAssetID {
					name = "native"
				}
				fmt.Printf("%-64s %s (as of sequence %d)\n", name,
					balance.Unconfirmed, balance.Sequence)
				return nil
			})
	})
}

var notesCommand = cli.Command{
	Name:      "notes",
	Usage:     "List the decrypted notes of an account.",
	ArgsUsage: "account-name",
	Flags: []cli.Flag{
		cli.BoolFlag{
			Name:  "unspent",
			Usage: "only show unspent notes",
		},
	},
	Action: actionDecorator(listNotes),
}

func listNotes(ctx *cli.Context) error {
	if len(ctx.Args()) != 1 {
		return cli.ShowCommandHelp(ctx, "notes")
	}
	db, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	unspentOnly := ctx.Bool("unspent")
	total := new(big.Int)

	return db.View(func(txn *badger.Txn) error {
		account, err := findAccount(db, txn, ctx.Args().Get(0))
		if err != nil {
			return err
		}
		prefix := account.Prefix()
		err = forEachNote(db, txn, prefix, func(note *walletdb.NoteValue) error {
			if unspentOnly && note.Spent {
				return nil
			}
			decoded, err := note.DecodedNote()
			if err != nil {
				return err
			}
			status := "pending"
			if note.Sequence != nil {
				status = fmt.Sprintf("sequence %d", *note.Sequence)
			}
			if note.Spent {
				status += ", spent"
			}
			fmt.Printf("%12d %-64s (%s)\n", decoded.Value,
				decoded.AssetID, status)
			if !note.Spent {
				total.Add(total, new(big.Int).SetUint64(decoded.Value))
			}
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Printf("unspent total: %s\n", total)
		return nil
	})
}

var pendingCommand = cli.Command{
	Name:      "pending",
	Usage:     "List pending transactions of an account.",
	ArgsUsage: "account-name",
	Action:    actionDecorator(listPending),
}

func listPending(ctx *cli.Context) error {
	if len(ctx.Args()) != 1 {
		return cli.ShowCommandHelp(ctx, "pending")
	}
	db, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	return db.View(func(txn *badger.Txn) error {
		account, err := findAccount(db, txn, ctx.Args().Get(0))
		if err != nil {
			return err
		}
		prefix := account.Prefix()
		return db.ForEachPendingTransactionHash(context.Background(), txn,
			prefix, func(expiration uint32, txHash chainhash.Hash) error {
				expDesc := "never"
				if expiration != 0 {
					expDesc = fmt.Sprintf("%d", expiration)
				}
				fmt.Printf("%x expires %s\n", txHash, expDesc)
				return nil
			})
	})
}

var metaCommand = cli.Command{
	Name:   "meta",
	Usage:  "Show wallet metadata.",
	Action: actionDecorator(showMeta),
}

func showMeta(ctx *cli.Context) error {
	db, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	return db.View(func(txn *badger.Txn) error {
		defaultID, err := db.DefaultAccountID(txn)
		if err != nil {
			return err
		}
		fmt.Printf("accounts encrypted: %v\n", db.AccountsEncrypted())
		fmt.Printf("default account id: %s\n", defaultID)
		return nil
	})
}

func findAccount(db *walletdb.DB, txn *badger.Txn,
	name string) (*walletdb.AccountValue, error) {

	var found *walletdb.AccountValue
	err := db.ForEachAccount(context.Background(), txn,
		func(account *walletdb.AccountValue) error {
			if account.Name == name {
				found = account
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("no account named %q", name)
	}
	return found, nil
}

func forEachNote(db *walletdb.DB, txn *badger.Txn,
	prefix [walletdb.AccountPrefixSize]byte,
	fn func(*walletdb.NoteValue) error) error {

	return db.ForEachNote(context.Background(), txn, prefix,
		func(_ chainhash.Hash, note *walletdb.NoteValue) error {
			return fn(note)
		})
}
