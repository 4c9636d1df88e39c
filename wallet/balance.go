package wallet

import (
	"context"
	"math/big"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/dgraph-io/badger/v4"
	"github.com/umbra-network/umbrad/walletdb"
	"github.com/umbra-network/umbrad/wire"
)

// Balance is the published view of one asset's funds under a confirmation
// policy. Unconfirmed is the running total over all on-chain transactions;
// Confirmed excludes the youngest window; Pending folds in transactions the
// wallet knows but the chain has not; Available is the spendable note sum.
type Balance struct {
	AssetID            wire.AssetID
	Unconfirmed        *big.Int
	UnconfirmedCount   int
	Confirmed          *big.Int
	Pending            *big.Int
	PendingCount       int
	Available          *big.Int
	AvailableNoteCount int
	BlockHash          chainhash.Hash
	Sequence           uint32
}

// Balance derives the balance of one asset at the given head with the
// given confirmation count. Every component is a single range scan over
// the sequence, pending or unspent indexes; cost is proportional to the
// window, not to wallet size.
func (a *Account) Balance(ctx context.Context, txn *badger.Txn,
	assetID wire.AssetID, head *walletdb.HeadValue,
	confirmations uint32) (*Balance, error) {

	stored, err := a.db.GetBalance(txn, a.prefix, assetID)
	if err != nil {
		return nil, err
	}

	balance := &Balance{
		AssetID:     assetID,
		Unconfirmed: new(big.Int).Set(stored.Unconfirmed),
		Confirmed:   new(big.Int).Set(stored.Unconfirmed),
		Pending:     new(big.Int).Set(stored.Unconfirmed),
		Available:   big.NewInt(0),
		BlockHash:   stored.BlockHash,
		Sequence:    stored.Sequence,
	}
	if head == nil {
		return balance, nil
	}

	// Confirmed: subtract the deltas of transactions inside the
	// confirmation window [H-C+1 .. H].
	if confirmations > 0 {
		start := wire.GenesisSequence
		if head.Sequence > confirmations {
			start = head.Sequence - confirmations + 1
		}
		err := a.db.ForEachTransactionHashInSequenceRange(ctx, txn, a.prefix,
			start, head.Sequence,
			func(_ uint32, txHash chainhash.Hash) error {
				record, err := a.db.GetTransaction(txn, a.prefix, txHash)
				if err != nil {
					return err
				}
				if record == nil {
					return &walletdb.CorruptionError{
						Detail: "sequence index references missing " +
							"transaction " + txHash.String(),
					}
				}
				if delta, ok := record.AssetBalanceDeltas[assetID]; ok {
					balance.Confirmed.Sub(balance.Confirmed,
						big.NewInt(delta))
					balance.UnconfirmedCount++
				}
				return nil
			})
		if err != nil {
			return nil, err
		}
	}

	// Available: sum unspent notes old enough to satisfy the policy.
	availableNotes := make(map[chainhash.Hash]uint64)
	if head.Sequence >= confirmations {
		maxSequence := head.Sequence - confirmations
		err := a.db.ForEachUnspentNoteHash(ctx, txn, a.prefix, assetID,
			func(value uint64, noteHash chainhash.Hash) error {
				nv, err := a.db.GetNote(txn, a.prefix, noteHash)
				if err != nil {
					return err
				}
				if nv == nil {
					return &walletdb.CorruptionError{
						Detail: "unspent index references missing " +
							"note " + noteHash.String(),
					}
				}
				if nv.Sequence == nil || *nv.Sequence > maxSequence {
					return nil
				}
				balance.Available.Add(balance.Available,
					new(big.Int).SetUint64(value))
				balance.AvailableNoteCount++
				availableNotes[noteHash] = value
				return nil
			})
		if err != nil {
			return nil, err
		}
	}

	// Pending: add the deltas of transactions not yet on chain, and
	// remove from Available any note a pending transaction plans to
	// spend.
	err = a.ForEachPendingTransaction(ctx, txn,
		func(_ chainhash.Hash, record *walletdb.TransactionValue) error {
			if record.OnChain() {
				return nil
			}
			if delta, ok := record.AssetBalanceDeltas[assetID]; ok {
				balance.Pending.Add(balance.Pending, big.NewInt(delta))
				balance.PendingCount++
			}
			for i := range record.Transaction.Spends {
				nullifier := record.Transaction.Spends[i].Nullifier
				noteHash, err := a.db.GetNoteHashByNullifier(txn,
					a.prefix, nullifier)
				if err != nil {
					return err
				}
				if noteHash == nil {
					continue
				}
				if value, ok := availableNotes[*noteHash]; ok {
					balance.Available.Sub(balance.Available,
						new(big.Int).SetUint64(value))
					balance.AvailableNoteCount--
					delete(availableNotes, *noteHash)
				}
			}
			return nil
		})
	if err != nil {
		return nil, err
	}

	return balance, nil
}

// Balances derives the balance of every asset the account has touched.
func (a *Account) Balances(ctx context.Context, txn *badger.Txn,
	head *walletdb.HeadValue, confirmations uint32) ([]*Balance, error) {

	var balances []*Balance
	err := a.db.ForEachBalance(ctx, txn, a.prefix,
		func(assetID wire.AssetID, _ *walletdb.BalanceValue) error {
			balance, err := a.Balance(ctx, txn, assetID, head, confirmations)
			if err != nil {
				return err
			}
			balances = append(balances, balance)
			return nil
		})
	if err != nil {
		return nil, err
	}
	return balances, nil
}
