package wallet

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"math/big"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/dgraph-io/badger/v4"
	"github.com/umbra-network/umbrad/walletdb"
	"github.com/umbra-network/umbrad/wire"
)

// Account is the single point of mutation for one account's notes,
// transactions, assets and balances. All write methods take the badger
// transaction threaded from the indexer so a whole block commits
// atomically per account.
type Account struct {
	db     *walletdb.DB
	value  *walletdb.AccountValue
	prefix [walletdb.AccountPrefixSize]byte
}

func newAccount(db *walletdb.DB, value *walletdb.AccountValue) *Account {
	return &Account{
		db:     db,
		value:  value,
		prefix: value.Prefix(),
	}
}

// newAccountID draws a fresh random account id.
func newAccountID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

// ID returns the account's stable identifier.
func (a *Account) ID() string { return a.value.ID }

// Name returns the account's display name.
func (a *Account) Name() string { return a.value.Name }

// PublicAddress returns the account's shielded address.
func (a *Account) PublicAddress() wire.PublicAddress { return a.value.PublicAddress }

// ViewOnly reports whether the account lacks a spending key.
func (a *Account) ViewOnly() bool { return a.value.ViewOnly() }

// ScanningEnabled reports whether the indexer should advance this account.
func (a *Account) ScanningEnabled() bool { return a.value.ScanningEnabled }

// CreatedAt returns the account birthday, or nil.
func (a *Account) CreatedAt() *walletdb.HeadValue { return a.value.CreatedAt }

// SpendingKey returns the account spending key, or nil for view-only
// accounts.
func (a *Account) SpendingKey() []byte {
	if a.value.SpendingKey == nil {
		return nil
	}
	return *a.value.SpendingKey
}

// Head returns the account's scan head, or nil when unscanned.
func (a *Account) Head(txn *badger.Txn) (*walletdb.HeadValue, error) {
	return a.db.GetHead(txn, a.value.ID)
}

// ConnectTransaction applies one block transaction to the account: new
// notes enter the indexes with their chain position, matched spends flip to
// spent, mints and burns update the asset table. The returned deltas are
// this transaction's net balance change per asset; the caller folds them
// into the block's balance update. No transaction record is written when
// the transaction did not touch the account.
func (a *Account) ConnectTransaction(txn *badger.Txn, header *wire.BlockHeader,
	tx *wire.Transaction,
	decryptedNotes []*DecryptedNote) (map[wire.AssetID]int64, error) {

	txHash := tx.Hash()
	deltas := make(map[wire.AssetID]int64)

	received := 0
	for _, dn := range decryptedNotes {
		if dn.ForSpender {
			continue
		}
		note, err := wire.NoteFromBytes(dn.SerializedNote)
		if err != nil {
			return nil, err
		}

		nv, err := a.db.GetNote(txn, a.prefix, dn.Hash)
		if err != nil {
			return nil, err
		}
		if nv == nil {
			nv = &walletdb.NoteValue{
				AccountID:       a.value.ID,
				TransactionHash: txHash,
			}
			copy(nv.Note[:], dn.SerializedNote)
		}
		blockHash, sequence := header.Hash, header.Sequence
		nv.Index = dn.Index
		nv.Nullifier = dn.Nullifier
		nv.BlockHash = &blockHash
		nv.Sequence = &sequence
		if err := a.db.PutNote(txn, a.prefix, dn.Hash, nv); err != nil {
			return nil, err
		}

		if dn.Nullifier != nil {
			err := a.db.PutNullifierNoteHash(txn, a.prefix, *dn.Nullifier, dn.Hash)
			if err != nil {
				return nil, err
			}
		}
		if err := a.db.PutSequenceNoteHash(txn, a.prefix, sequence, dn.Hash); err != nil {
			return nil, err
		}
		if err := a.db.DeleteNonChainNoteHash(txn, a.prefix, dn.Hash); err != nil {
			return nil, err
		}
		if !nv.Spent {
			err := a.db.PutUnspentNoteHash(txn, a.prefix, note.AssetID,
				note.Value, dn.Hash)
			if err != nil {
				return nil, err
			}
		}
		deltas[note.AssetID] += int64(note.Value)
		received++
	}

	spent, err := a.connectSpends(txn, tx, txHash, deltas)
	if err != nil {
		return nil, err
	}

	assetsTouched, err := a.connectMints(txn, header, tx, txHash)
	if err != nil {
		return nil, err
	}
	burned, err := a.connectBurns(txn, tx)
	if err != nil {
		return nil, err
	}
	assetsTouched += burned

	// A transaction that neither paid us, spent our notes, nor touched
	// our assets leaves no record behind.
	if received == 0 && spent == 0 && assetsTouched == 0 {
		return deltas, nil
	}

	existing, err := a.db.GetTransaction(txn, a.prefix, txHash)
	if err != nil {
		return nil, err
	}

	blockHash, sequence := header.Hash, header.Sequence
	record := &walletdb.TransactionValue{
		Transaction:        tx,
		Timestamp:          header.Timestamp,
		BlockHash:          &blockHash,
		Sequence:           &sequence,
		SubmittedSequence:  sequence,
		AssetBalanceDeltas: deltas,
	}
	if existing != nil {
		record.Timestamp = existing.Timestamp
		record.SubmittedSequence = existing.SubmittedSequence
		err := a.db.DeletePendingTransactionHash(txn, a.prefix,
			tx.Expiration, txHash)
		if err != nil {
			return nil, err
		}
	} else {
		err := a.db.PutTimestampTransactionHash(txn, a.prefix,
			uint64(record.Timestamp.UnixMilli()), txHash)
		if err != nil {
			return nil, err
		}
	}

	if err := a.db.PutTransaction(txn, a.prefix, txHash, record); err != nil {
		return nil, err
	}
	if err := a.db.PutSequenceTransactionHash(txn, a.prefix, sequence, txHash); err != nil {
		return nil, err
	}
	return deltas, nil
}

// connectSpends marks the account's notes matched by the transaction's
// nullifiers as spent and attributes the spends to the transaction.
func (a *Account) connectSpends(txn *badger.Txn, tx *wire.Transaction,
	txHash chainhash.Hash, deltas map[wire.AssetID]int64) (int, error) {

	spent := 0
	for i := range tx.Spends {
		nullifier := tx.Spends[i].Nullifier
		noteHash, err := a.db.GetNoteHashByNullifier(txn, a.prefix, nullifier)
		if err != nil {
			return 0, err
		}
		if noteHash == nil {
			continue
		}
		nv, err := a.db.GetNote(txn, a.prefix, *noteHash)
		if err != nil {
			return 0, err
		}
		if nv == nil {
			return 0, &walletdb.CorruptionError{
				Detail: "nullifier maps to a missing note " + noteHash.String(),
			}
		}
		note, err := nv.DecodedNote()
		if err != nil {
			return 0, err
		}

		if !nv.Spent {
			nv.Spent = true
			if err := a.db.PutNote(txn, a.prefix, *noteHash, nv); err != nil {
				return 0, err
			}
			err := a.db.DeleteUnspentNoteHash(txn, a.prefix, note.AssetID,
				note.Value, *noteHash)
			if err != nil {
				return 0, err
			}
		}
		deltas[note.AssetID] -= int64(note.Value)
		err = a.db.PutNullifierTransactionHash(txn, a.prefix, nullifier, txHash)
		if err != nil {
			return 0, err
		}
		spent++
	}
	return spent, nil
}

// DisconnectTransaction rolls one block transaction back off the account.
// Output notes lose their chain position and rejoin the non-chain set,
// matched spends flip back to unspent, mints and burns unwind in reverse,
// and the record re-enters the pending index. The stored record's deltas
// are returned so the caller can roll back the balance rows.
func (a *Account) DisconnectTransaction(txn *badger.Txn, header *wire.BlockHeader,
	tx *wire.Transaction) (map[wire.AssetID]int64, error) {

	txHash := tx.Hash()
	record, err := a.db.GetTransaction(txn, a.prefix, txHash)
	if err != nil || record == nil {
		return nil, err
	}

	for i := range tx.Outputs {
		noteHash := tx.Outputs[i].Commitment()
		nv, err := a.db.GetNote(txn, a.prefix, noteHash)
		if err != nil {
			return nil, err
		}
		if nv == nil {
			continue
		}
		note, err := nv.DecodedNote()
		if err != nil {
			return nil, err
		}

		if nv.Sequence != nil {
			err := a.db.DeleteSequenceNoteHash(txn, a.prefix, *nv.Sequence,
				noteHash)
			if err != nil {
				return nil, err
			}
		}
		if !nv.Spent && nv.OnChain() {
			err := a.db.DeleteUnspentNoteHash(txn, a.prefix, note.AssetID,
				note.Value, noteHash)
			if err != nil {
				return nil, err
			}
		}
		if nv.Nullifier != nil {
			err := a.db.DeleteNullifierNoteHash(txn, a.prefix, *nv.Nullifier)
			if err != nil {
				return nil, err
			}
		}

		nv.Index = nil
		nv.Nullifier = nil
		nv.BlockHash = nil
		nv.Sequence = nil
		if err := a.db.PutNote(txn, a.prefix, noteHash, nv); err != nil {
			return nil, err
		}
		if err := a.db.AddNonChainNoteHash(txn, a.prefix, noteHash); err != nil {
			return nil, err
		}
	}

	for i := range tx.Spends {
		nullifier := tx.Spends[i].Nullifier
		noteHash, err := a.db.GetNoteHashByNullifier(txn, a.prefix, nullifier)
		if err != nil {
			return nil, err
		}
		if noteHash == nil {
			continue
		}
		nv, err := a.db.GetNote(txn, a.prefix, *noteHash)
		if err != nil {
			return nil, err
		}
		if nv == nil {
			return nil, &walletdb.CorruptionError{
				Detail: "nullifier maps to a missing note " + noteHash.String(),
			}
		}
		if nv.Spent {
			nv.Spent = false
			if err := a.db.PutNote(txn, a.prefix, *noteHash, nv); err != nil {
				return nil, err
			}
			note, err := nv.DecodedNote()
			if err != nil {
				return nil, err
			}
			if nv.OnChain() {
				err := a.db.PutUnspentNoteHash(txn, a.prefix, note.AssetID,
					note.Value, *noteHash)
				if err != nil {
					return nil, err
				}
			}
		}
	}

	if err := a.disconnectMintsAndBurns(txn, header, tx, txHash); err != nil {
		return nil, err
	}

	record.BlockHash = nil
	record.Sequence = nil
	if err := a.db.PutTransaction(txn, a.prefix, txHash, record); err != nil {
		return nil, err
	}
	err = a.db.DeleteSequenceTransactionHash(txn, a.prefix, header.Sequence, txHash)
	if err != nil {
		return nil, err
	}
	err = a.db.PutPendingTransactionHash(txn, a.prefix, tx.Expiration, txHash)
	if err != nil {
		return nil, err
	}
	return record.AssetBalanceDeltas, nil
}

// AddPendingTransaction records a transaction learned from the mempool or
// created locally. Notes carry no chain position yet; matched spends are
// marked spent so the builder cannot double select them. Idempotent on the
// transaction hash.
func (a *Account) AddPendingTransaction(txn *badger.Txn, tx *wire.Transaction,
	decryptedNotes []*DecryptedNote, submittedSequence uint32) error {

	txHash := tx.Hash()
	existing, err := a.db.GetTransaction(txn, a.prefix, txHash)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	deltas := make(map[wire.AssetID]int64)

	received := 0
	for _, dn := range decryptedNotes {
		if dn.ForSpender {
			continue
		}
		note, err := wire.NoteFromBytes(dn.SerializedNote)
		if err != nil {
			return err
		}
		nv := &walletdb.NoteValue{
			AccountID:       a.value.ID,
			TransactionHash: txHash,
		}
		copy(nv.Note[:], dn.SerializedNote)
		if err := a.db.PutNote(txn, a.prefix, dn.Hash, nv); err != nil {
			return err
		}
		if err := a.db.AddNonChainNoteHash(txn, a.prefix, dn.Hash); err != nil {
			return err
		}
		deltas[note.AssetID] += int64(note.Value)
		received++
	}

	spent, err := a.connectSpends(txn, tx, txHash, deltas)
	if err != nil {
		return err
	}
	if received == 0 && spent == 0 {
		return nil
	}

	record := &walletdb.TransactionValue{
		Transaction:        tx,
		Timestamp:          time.Now().UTC(),
		SubmittedSequence:  submittedSequence,
		AssetBalanceDeltas: deltas,
	}
	if err := a.db.PutTransaction(txn, a.prefix, txHash, record); err != nil {
		return err
	}
	err = a.db.PutPendingTransactionHash(txn, a.prefix, tx.Expiration, txHash)
	if err != nil {
		return err
	}
	return a.db.PutTimestampTransactionHash(txn, a.prefix,
		uint64(record.Timestamp.UnixMilli()), txHash)
}

// ExpireTransaction removes a pending transaction's output notes and
// releases the spends it claimed. The transaction record itself is kept;
// DeleteTransaction erases it.
func (a *Account) ExpireTransaction(txn *badger.Txn, tx *wire.Transaction) error {
	txHash := tx.Hash()
	record, err := a.db.GetTransaction(txn, a.prefix, txHash)
	if err != nil {
		return err
	}
	if record == nil {
		return nil
	}
	if record.OnChain() {
		return &ErrInvalidTransaction{
			Reason: "cannot expire a transaction on the main chain",
		}
	}

	for i := range tx.Outputs {
		noteHash := tx.Outputs[i].Commitment()
		nv, err := a.db.GetNote(txn, a.prefix, noteHash)
		if err != nil {
			return err
		}
		if nv == nil {
			continue
		}
		if nv.Nullifier != nil {
			err := a.db.DeleteNullifierNoteHash(txn, a.prefix, *nv.Nullifier)
			if err != nil {
				return err
			}
		}
		if err := a.db.DeleteNonChainNoteHash(txn, a.prefix, noteHash); err != nil {
			return err
		}
		if err := a.db.DeleteNote(txn, a.prefix, noteHash); err != nil {
			return err
		}
	}

	for i := range tx.Spends {
		nullifier := tx.Spends[i].Nullifier
		spender, err := a.db.GetTransactionHashByNullifier(txn, a.prefix, nullifier)
		if err != nil {
			return err
		}
		if spender == nil || *spender != txHash {
			// Another transaction claimed the spend; leave it be.
			continue
		}
		noteHash, err := a.db.GetNoteHashByNullifier(txn, a.prefix, nullifier)
		if err != nil {
			return err
		}
		if noteHash != nil {
			nv, err := a.db.GetNote(txn, a.prefix, *noteHash)
			if err != nil {
				return err
			}
			if nv != nil && nv.Spent {
				nv.Spent = false
				if err := a.db.PutNote(txn, a.prefix, *noteHash, nv); err != nil {
					return err
				}
				if nv.OnChain() {
					note, err := nv.DecodedNote()
					if err != nil {
						return err
					}
					err = a.db.PutUnspentNoteHash(txn, a.prefix,
						note.AssetID, note.Value, *noteHash)
					if err != nil {
						return err
					}
				}
			}
		}
		err = a.db.DeleteNullifierTransactionHash(txn, a.prefix, nullifier)
		if err != nil {
			return err
		}
	}

	return a.db.DeletePendingTransactionHash(txn, a.prefix, tx.Expiration, txHash)
}

// DeleteTransaction expires a transaction and erases its record. Used when
// an operator orders a drop.
func (a *Account) DeleteTransaction(txn *badger.Txn, tx *wire.Transaction) error {
	txHash := tx.Hash()
	record, err := a.db.GetTransaction(txn, a.prefix, txHash)
	if err != nil {
		return err
	}
	if record == nil {
		return nil
	}

	if record.OnChain() {
		// Miners fee rollback path: the record is being dropped while
		// still carrying chain fields. Strip the per-sequence index
		// and the notes directly.
		err := a.db.DeleteSequenceTransactionHash(txn, a.prefix,
			*record.Sequence, txHash)
		if err != nil {
			return err
		}
		for i := range tx.Outputs {
			noteHash := tx.Outputs[i].Commitment()
			nv, err := a.db.GetNote(txn, a.prefix, noteHash)
			if err != nil {
				return err
			}
			if nv == nil {
				continue
			}
			note, err := nv.DecodedNote()
			if err != nil {
				return err
			}
			if nv.Sequence != nil {
				err := a.db.DeleteSequenceNoteHash(txn, a.prefix,
					*nv.Sequence, noteHash)
				if err != nil {
					return err
				}
			}
			if !nv.Spent {
				err := a.db.DeleteUnspentNoteHash(txn, a.prefix,
					note.AssetID, note.Value, noteHash)
				if err != nil {
					return err
				}
			}
			if nv.Nullifier != nil {
				err := a.db.DeleteNullifierNoteHash(txn, a.prefix,
					*nv.Nullifier)
				if err != nil {
					return err
				}
			}
			if err := a.db.DeleteNote(txn, a.prefix, noteHash); err != nil {
				return err
			}
		}
	} else if err := a.ExpireTransaction(txn, tx); err != nil {
		return err
	}

	err = a.db.DeleteTimestampTransactionHash(txn, a.prefix,
		uint64(record.Timestamp.UnixMilli()))
	if err != nil {
		return err
	}
	return a.db.DeleteTransaction(txn, a.prefix, txHash)
}

// UpdateUnconfirmedBalances folds a block's aggregate deltas into the
// per-asset balance rows. Called once per account per connected block.
func (a *Account) UpdateUnconfirmedBalances(txn *badger.Txn,
	deltas map[wire.AssetID]int64, blockHash chainhash.Hash,
	sequence uint32) error {

	for assetID, delta := range deltas {
		if delta == 0 {
			continue
		}
		balance, err := a.db.GetBalance(txn, a.prefix, assetID)
		if err != nil {
			return err
		}
		balance.Unconfirmed.Add(balance.Unconfirmed, big.NewInt(delta))
		balance.BlockHash = blockHash
		balance.Sequence = sequence
		if err := a.db.PutBalance(txn, a.prefix, assetID, balance); err != nil {
			return err
		}
	}
	return nil
}

// GetTransaction returns the account's record of a transaction, or nil.
func (a *Account) GetTransaction(txn *badger.Txn,
	txHash chainhash.Hash) (*walletdb.TransactionValue, error) {

	return a.db.GetTransaction(txn, a.prefix, txHash)
}

// GetDecryptedNote returns the account's record of a note, or nil.
func (a *Account) GetDecryptedNote(txn *badger.Txn,
	noteHash chainhash.Hash) (*walletdb.NoteValue, error) {

	return a.db.GetNote(txn, a.prefix, noteHash)
}

// ForEachPendingTransaction iterates the account's pending transaction
// records.
func (a *Account) ForEachPendingTransaction(ctx context.Context, txn *badger.Txn,
	fn func(txHash chainhash.Hash, record *walletdb.TransactionValue) error) error {

	return a.db.ForEachPendingTransactionHash(ctx, txn, a.prefix,
		func(_ uint32, txHash chainhash.Hash) error {
			record, err := a.db.GetTransaction(txn, a.prefix, txHash)
			if err != nil {
				return err
			}
			if record == nil {
				return &walletdb.CorruptionError{
					Detail: "pending index references missing " +
						"transaction " + txHash.String(),
				}
			}
			return fn(txHash, record)
		})
}

// ForEachExpiredTransaction iterates pending transactions whose expiration
// has passed at the given head sequence.
func (a *Account) ForEachExpiredTransaction(ctx context.Context, txn *badger.Txn,
	headSequence uint32,
	fn func(record *walletdb.TransactionValue) error) error {

	return a.db.ForEachExpiredTransactionHash(ctx, txn, a.prefix, headSequence,
		func(_ uint32, txHash chainhash.Hash) error {
			record, err := a.db.GetTransaction(txn, a.prefix, txHash)
			if err != nil {
				return err
			}
			if record == nil {
				return &walletdb.CorruptionError{
					Detail: "pending index references missing " +
						"transaction " + txHash.String(),
				}
			}
			return fn(record)
		})
}

// UnspentNote is one spendable note surfaced to the transaction builder.
type UnspentNote struct {
	Hash      chainhash.Hash
	Value     uint64
	Index     uint64
	Nullifier chainhash.Hash
	Note      *NoteRef
}

// ForEachUnspentNote iterates the account's unspent on-chain notes of one
// asset in ascending value order, limited to notes with at least the given
// number of confirmations at head.
func (a *Account) ForEachUnspentNote(ctx context.Context, txn *badger.Txn,
	assetID wire.AssetID, head *walletdb.HeadValue, confirmations uint32,
	fn func(*UnspentNote) error) error {

	if head == nil || head.Sequence < confirmations {
		return nil
	}
	maxSequence := head.Sequence - confirmations

	return a.db.ForEachUnspentNoteHash(ctx, txn, a.prefix, assetID,
		func(value uint64, noteHash chainhash.Hash) error {
			nv, err := a.db.GetNote(txn, a.prefix, noteHash)
			if err != nil {
				return err
			}
			if nv == nil {
				return &walletdb.CorruptionError{
					Detail: "unspent index references missing note " +
						noteHash.String(),
				}
			}
			if nv.Sequence == nil || *nv.Sequence > maxSequence {
				return nil
			}
			if nv.Index == nil || nv.Nullifier == nil {
				return &walletdb.CorruptionError{
					Detail: "on-chain note is missing tree fields " +
						noteHash.String(),
				}
			}
			return fn(&UnspentNote{
				Hash:      noteHash,
				Value:     value,
				Index:     *nv.Index,
				Nullifier: *nv.Nullifier,
				Note:      NewNoteRef(nv.Note[:]),
			})
		})
}
