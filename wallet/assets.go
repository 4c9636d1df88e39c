package wallet

import (
	"context"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/dgraph-io/badger/v4"
	"github.com/umbra-network/umbrad/walletdb"
	"github.com/umbra-network/umbrad/wire"
)

// connectMints upserts the account's asset table for every mint that
// concerns it: the account is (becoming) the owner, or it already tracks
// the asset. Supply accumulates only on the owner's record. Returns how
// many asset records were touched.
func (a *Account) connectMints(txn *badger.Txn, header *wire.BlockHeader,
	tx *wire.Transaction, txHash chainhash.Hash) (int, error) {

	touched := 0
	for i := range tx.Mints {
		mint := &tx.Mints[i]

		existing, err := a.db.GetAsset(txn, a.prefix, mint.Asset.ID)
		if err != nil {
			return 0, err
		}

		creatorIsUs := mint.Asset.Creator == a.value.PublicAddress
		transferredToUs := mint.TransferOwnershipTo != nil &&
			*mint.TransferOwnershipTo == a.value.PublicAddress
		if existing == nil && !creatorIsUs && !transferredToUs {
			continue
		}

		value := existing
		if value == nil {
			value = &walletdb.AssetValue{
				ID:       mint.Asset.ID,
				Name:     mint.Asset.Name,
				Metadata: mint.Asset.Metadata,
				Nonce:    mint.Asset.Nonce,
				Creator:  mint.Asset.Creator,
				Owner:    mint.Asset.Creator,
			}
		}

		// Preserve the earliest confirmation of the asset.
		if !value.Confirmed() {
			blockHash, sequence := header.Hash, header.Sequence
			created := txHash
			value.BlockHash = &blockHash
			value.Sequence = &sequence
			value.CreatedTransactionHash = &created
		}

		if mint.TransferOwnershipTo != nil {
			value.Owner = *mint.TransferOwnershipTo
		}

		if value.Owner == a.value.PublicAddress {
			supply := uint64(0)
			if value.Supply != nil {
				supply = *value.Supply
			}
			supply += mint.Value
			value.Supply = &supply
		} else {
			value.Supply = nil
		}

		if err := a.db.PutAsset(txn, a.prefix, value); err != nil {
			return 0, err
		}
		touched++
	}
	return touched, nil
}

// connectBurns decrements tracked supply for every burn of an asset the
// account owns. A burn that would take supply negative fails.
func (a *Account) connectBurns(txn *badger.Txn, tx *wire.Transaction) (int, error) {
	touched := 0
	for i := range tx.Burns {
		burn := &tx.Burns[i]

		existing, err := a.db.GetAsset(txn, a.prefix, burn.AssetID)
		if err != nil {
			return 0, err
		}
		if existing == nil {
			continue
		}
		if existing.Supply != nil {
			if *existing.Supply < burn.Value {
				return 0, ErrInvalidBurn
			}
			supply := *existing.Supply - burn.Value
			existing.Supply = &supply
			if err := a.db.PutAsset(txn, a.prefix, existing); err != nil {
				return 0, err
			}
		}
		touched++
	}
	return touched, nil
}

// disconnectMintsAndBurns unwinds a transaction's asset effects. Burns are
// reversed first, then mints, each list in reverse order, mirroring the
// connect path exactly.
func (a *Account) disconnectMintsAndBurns(txn *badger.Txn,
	header *wire.BlockHeader, tx *wire.Transaction,
	txHash chainhash.Hash) error {

	for i := len(tx.Burns) - 1; i >= 0; i-- {
		burn := &tx.Burns[i]
		existing, err := a.db.GetAsset(txn, a.prefix, burn.AssetID)
		if err != nil {
			return err
		}
		if existing == nil || existing.Supply == nil {
			continue
		}
		supply := *existing.Supply + burn.Value
		existing.Supply = &supply
		if err := a.db.PutAsset(txn, a.prefix, existing); err != nil {
			return err
		}
	}

	for i := len(tx.Mints) - 1; i >= 0; i-- {
		mint := &tx.Mints[i]
		existing, err := a.db.GetAsset(txn, a.prefix, mint.Asset.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			continue
		}

		if existing.Supply != nil {
			if *existing.Supply < mint.Value {
				return &walletdb.CorruptionError{
					Detail: "asset supply underflow while " +
						"disconnecting mint of " + mint.Asset.ID.String(),
				}
			}
			supply := *existing.Supply - mint.Value
			existing.Supply = &supply
		}

		// Undo an ownership transfer carried by this mint.
		if mint.TransferOwnershipTo != nil &&
			existing.Owner == *mint.TransferOwnershipTo {

			existing.Owner = mint.Asset.Creator
			if existing.Owner != a.value.PublicAddress {
				existing.Supply = nil
			}
		}

		// The mint that confirmed the asset is coming off the chain;
		// the asset reverts to unconfirmed.
		if existing.CreatedTransactionHash != nil &&
			*existing.CreatedTransactionHash == txHash {

			existing.BlockHash = nil
			existing.Sequence = nil
			existing.CreatedTransactionHash = nil
		}

		if err := a.db.PutAsset(txn, a.prefix, existing); err != nil {
			return err
		}
	}
	return nil
}

// GetAsset returns the account's record of an asset, or nil.
func (a *Account) GetAsset(txn *badger.Txn,
	assetID wire.AssetID) (*walletdb.AssetValue, error) {

	return a.db.GetAsset(txn, a.prefix, assetID)
}

// ForEachAsset iterates the account's asset records.
func (a *Account) ForEachAsset(ctx context.Context, txn *badger.Txn,
	fn func(asset *walletdb.AssetValue) error) error {

	return a.db.ForEachAsset(ctx, txn, a.prefix, fn)
}
