package walletdb

import (
	"context"
	"encoding/binary"
	"math"
	"math/big"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/dgraph-io/badger/v4"
	"github.com/umbra-network/umbrad/wire"
)

// Per-store operations. Every method takes the badger transaction it must
// participate in; callers thread one transaction through a whole logical
// mutation so it commits atomically.

// ---------------------------------------------------------------------------
// meta

// DefaultAccountID returns the configured default account id, or empty.
func (d *DB) DefaultAccountID(txn *badger.Txn) (string, error) {
	raw, err := getItem(txn, metaKey(metaDefaultAccountName))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// SetDefaultAccountID records the default account id. An empty id clears it.
func (d *DB) SetDefaultAccountID(txn *badger.Txn, accountID string) error {
	if accountID == "" {
		return deleteIgnoreMissing(txn, metaKey(metaDefaultAccountName))
	}
	return txn.Set(metaKey(metaDefaultAccountName), []byte(accountID))
}

// ---------------------------------------------------------------------------
// heads

// SetHead stores the per-account scan head. A nil head marks the account as
// unscanned; its next scan walks from the genesis block.
func (d *DB) SetHead(txn *badger.Txn, accountID string, head *HeadValue) error {
	if head == nil {
		return txn.Set(headKey(accountID), nil)
	}
	return txn.Set(headKey(accountID), head.Encode())
}

// GetHead returns the per-account scan head, or nil when unscanned.
func (d *DB) GetHead(txn *badger.Txn, accountID string) (*HeadValue, error) {
	raw, err := getItem(txn, headKey(accountID))
	if err != nil || len(raw) == 0 {
		return nil, err
	}
	return DecodeHeadValue(raw)
}

// DeleteHead removes the per-account scan head row entirely.
func (d *DB) DeleteHead(txn *badger.Txn, accountID string) error {
	return deleteIgnoreMissing(txn, headKey(accountID))
}

// ---------------------------------------------------------------------------
// balances

// GetBalance returns the stored unconfirmed balance for an asset. Accounts
// that never touched the asset read as zero.
func (d *DB) GetBalance(txn *badger.Txn, prefix [AccountPrefixSize]byte,
	assetID wire.AssetID) (*BalanceValue, error) {

	raw, err := getItem(txn, balanceKey(prefix, assetID))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return &BalanceValue{Unconfirmed: big.NewInt(0)}, nil
	}
	return DecodeBalanceValue(raw)
}

// PutBalance stores the unconfirmed balance for an asset.
func (d *DB) PutBalance(txn *badger.Txn, prefix [AccountPrefixSize]byte,
	assetID wire.AssetID, balance *BalanceValue) error {

	return txn.Set(balanceKey(prefix, assetID), balance.Encode())
}

// ForEachBalance iterates every per-asset balance row of an account.
func (d *DB) ForEachBalance(ctx context.Context, txn *badger.Txn,
	prefix [AccountPrefixSize]byte,
	fn func(assetID wire.AssetID, balance *BalanceValue) error) error {

	scan := keyJoin(balancesPrefix, prefix[:])
	return forEachPrefix(ctx, txn, scan, func(key, value []byte) error {
		var assetID wire.AssetID
		copy(assetID[:], key[len(scan):])
		balance, err := DecodeBalanceValue(value)
		if err != nil {
			return err
		}
		return fn(assetID, balance)
	})
}

// ---------------------------------------------------------------------------
// decrypted notes

// PutNote stores a decrypted note under its hash.
func (d *DB) PutNote(txn *badger.Txn, prefix [AccountPrefixSize]byte,
	noteHash chainhash.Hash, note *NoteValue) error {

	return txn.Set(noteKey(prefix, noteHash), note.Encode())
}

// GetNote returns a decrypted note, or nil when unknown.
func (d *DB) GetNote(txn *badger.Txn, prefix [AccountPrefixSize]byte,
	noteHash chainhash.Hash) (*NoteValue, error) {

	raw, err := getItem(txn, noteKey(prefix, noteHash))
	if err != nil || raw == nil {
		return nil, err
	}
	return DecodeNoteValue(raw)
}

// DeleteNote removes a decrypted note row.
func (d *DB) DeleteNote(txn *badger.Txn, prefix [AccountPrefixSize]byte,
	noteHash chainhash.Hash) error {

	return deleteIgnoreMissing(txn, noteKey(prefix, noteHash))
}

// ForEachNote iterates every decrypted note of an account.
func (d *DB) ForEachNote(ctx context.Context, txn *badger.Txn,
	prefix [AccountPrefixSize]byte,
	fn func(noteHash chainhash.Hash, note *NoteValue) error) error {

	scan := keyJoin(decryptedNotesPrefix, prefix[:])
	return forEachPrefix(ctx, txn, scan, func(key, value []byte) error {
		var noteHash chainhash.Hash
		copy(noteHash[:], key[len(scan):])
		note, err := DecodeNoteValue(value)
		if err != nil {
			return err
		}
		return fn(noteHash, note)
	})
}

// ---------------------------------------------------------------------------
// nullifier -> note hash

// PutNullifierNoteHash records which of the account's notes a nullifier
// belongs to.
func (d *DB) PutNullifierNoteHash(txn *badger.Txn, prefix [AccountPrefixSize]byte,
	nullifier chainhash.Hash, noteHash chainhash.Hash) error {

	return txn.Set(nullifierNoteKey(prefix, nullifier), noteHash[:])
}

// GetNoteHashByNullifier resolves a nullifier to the account's note hash, or
// nil when the nullifier is not ours.
func (d *DB) GetNoteHashByNullifier(txn *badger.Txn, prefix [AccountPrefixSize]byte,
	nullifier chainhash.Hash) (*chainhash.Hash, error) {

	raw, err := getItem(txn, nullifierNoteKey(prefix, nullifier))
	if err != nil || raw == nil {
		return nil, err
	}
	if len(raw) != chainhash.HashSize {
		return nil, corruptf("nullifier row has length %d", len(raw))
	}
	var noteHash chainhash.Hash
	copy(noteHash[:], raw)
	return &noteHash, nil
}

// DeleteNullifierNoteHash removes a nullifier mapping.
func (d *DB) DeleteNullifierNoteHash(txn *badger.Txn,
	prefix [AccountPrefixSize]byte, nullifier chainhash.Hash) error {

	return deleteIgnoreMissing(txn, nullifierNoteKey(prefix, nullifier))
}

// ---------------------------------------------------------------------------
// sequence -> note hash

// PutSequenceNoteHash indexes a note hash under its chain sequence.
func (d *DB) PutSequenceNoteHash(txn *badger.Txn, prefix [AccountPrefixSize]byte,
	sequence uint32, noteHash chainhash.Hash) error {

	return txn.Set(sequenceNoteKey(prefix, sequence, noteHash), nil)
}

// DeleteSequenceNoteHash removes a sequence index entry for a note.
func (d *DB) DeleteSequenceNoteHash(txn *badger.Txn, prefix [AccountPrefixSize]byte,
	sequence uint32, noteHash chainhash.Hash) error {

	return deleteIgnoreMissing(txn, sequenceNoteKey(prefix, sequence, noteHash))
}

// ForEachNoteHashInSequenceRange iterates note hashes with sequence in
// [start, end] inclusive, in sequence order.
func (d *DB) ForEachNoteHashInSequenceRange(ctx context.Context, txn *badger.Txn,
	prefix [AccountPrefixSize]byte, start, end uint32,
	fn func(sequence uint32, noteHash chainhash.Hash) error) error {

	base := keyJoin(sequenceToNoteHashPrefix, prefix[:])
	lower := keyJoin(base, uint32Key(start))
	upper := keyJoin(base, uint32Key(end), maxHashKey())
	return forEachRange(ctx, txn, lower, upper, func(key, _ []byte) error {
		seq := binary.BigEndian.Uint32(key[len(base) : len(base)+4])
		var noteHash chainhash.Hash
		copy(noteHash[:], key[len(base)+4:])
		return fn(seq, noteHash)
	})
}

// ---------------------------------------------------------------------------
// non-chain note hashes

// AddNonChainNoteHash marks a note as known but not currently on chain.
func (d *DB) AddNonChainNoteHash(txn *badger.Txn, prefix [AccountPrefixSize]byte,
	noteHash chainhash.Hash) error {

	return txn.Set(nonChainNoteKey(prefix, noteHash), nil)
}

// DeleteNonChainNoteHash removes a non-chain marker.
func (d *DB) DeleteNonChainNoteHash(txn *badger.Txn, prefix [AccountPrefixSize]byte,
	noteHash chainhash.Hash) error {

	return deleteIgnoreMissing(txn, nonChainNoteKey(prefix, noteHash))
}

// ForEachNonChainNoteHash iterates the hashes of notes awaiting a chain
// position.
func (d *DB) ForEachNonChainNoteHash(ctx context.Context, txn *badger.Txn,
	prefix [AccountPrefixSize]byte,
	fn func(noteHash chainhash.Hash) error) error {

	scan := keyJoin(nonChainNoteHashesPrefix, prefix[:])
	return forEachPrefix(ctx, txn, scan, func(key, _ []byte) error {
		var noteHash chainhash.Hash
		copy(noteHash[:], key[len(scan):])
		return fn(noteHash)
	})
}

// ---------------------------------------------------------------------------
// transactions

// PutTransaction stores a per-account transaction record.
func (d *DB) PutTransaction(txn *badger.Txn, prefix [AccountPrefixSize]byte,
	txHash chainhash.Hash, value *TransactionValue) error {

	return txn.Set(transactionKey(prefix, txHash), value.Encode())
}

// GetTransaction returns a per-account transaction record, or nil.
func (d *DB) GetTransaction(txn *badger.Txn, prefix [AccountPrefixSize]byte,
	txHash chainhash.Hash) (*TransactionValue, error) {

	raw, err := getItem(txn, transactionKey(prefix, txHash))
	if err != nil || raw == nil {
		return nil, err
	}
	return DecodeTransactionValue(raw)
}

// DeleteTransaction removes a transaction record row.
func (d *DB) DeleteTransaction(txn *badger.Txn, prefix [AccountPrefixSize]byte,
	txHash chainhash.Hash) error {

	return deleteIgnoreMissing(txn, transactionKey(prefix, txHash))
}

// ForEachTransaction iterates every transaction record of an account.
func (d *DB) ForEachTransaction(ctx context.Context, txn *badger.Txn,
	prefix [AccountPrefixSize]byte,
	fn func(txHash chainhash.Hash, value *TransactionValue) error) error {

	scan := keyJoin(transactionsPrefix, prefix[:])
	return forEachPrefix(ctx, txn, scan, func(key, value []byte) error {
		var txHash chainhash.Hash
		copy(txHash[:], key[len(scan):])
		record, err := DecodeTransactionValue(value)
		if err != nil {
			return err
		}
		return fn(txHash, record)
	})
}

// ---------------------------------------------------------------------------
// sequence -> transaction hash

// PutSequenceTransactionHash indexes a transaction hash under its chain
// sequence.
func (d *DB) PutSequenceTransactionHash(txn *badger.Txn,
	prefix [AccountPrefixSize]byte, sequence uint32,
	txHash chainhash.Hash) error {

	return txn.Set(sequenceTransactionKey(prefix, sequence, txHash), nil)
}

// DeleteSequenceTransactionHash removes a sequence index entry.
func (d *DB) DeleteSequenceTransactionHash(txn *badger.Txn,
	prefix [AccountPrefixSize]byte, sequence uint32,
	txHash chainhash.Hash) error {

	return deleteIgnoreMissing(txn,
		sequenceTransactionKey(prefix, sequence, txHash))
}

// ForEachTransactionHashInSequenceRange iterates transaction hashes with
// sequence in [start, end] inclusive, in sequence order.
func (d *DB) ForEachTransactionHashInSequenceRange(ctx context.Context,
	txn *badger.Txn, prefix [AccountPrefixSize]byte, start, end uint32,
	fn func(sequence uint32, txHash chainhash.Hash) error) error {

	base := keyJoin(sequenceToTransactionHashPrefix, prefix[:])
	lower := keyJoin(base, uint32Key(start))
	upper := keyJoin(base, uint32Key(end), maxHashKey())
	return forEachRange(ctx, txn, lower, upper, func(key, _ []byte) error {
		seq := binary.BigEndian.Uint32(key[len(base) : len(base)+4])
		var txHash chainhash.Hash
		copy(txHash[:], key[len(base)+4:])
		return fn(seq, txHash)
	})
}

// ---------------------------------------------------------------------------
// pending transaction hashes

// PutPendingTransactionHash indexes a pending transaction under its
// expiration sequence. Transactions with no expiration sit at zero.
func (d *DB) PutPendingTransactionHash(txn *badger.Txn,
	prefix [AccountPrefixSize]byte, expiration uint32,
	txHash chainhash.Hash) error {

	return txn.Set(pendingTransactionKey(prefix, expiration, txHash), nil)
}

// DeletePendingTransactionHash removes a pending index entry.
func (d *DB) DeletePendingTransactionHash(txn *badger.Txn,
	prefix [AccountPrefixSize]byte, expiration uint32,
	txHash chainhash.Hash) error {

	return deleteIgnoreMissing(txn,
		pendingTransactionKey(prefix, expiration, txHash))
}

// ForEachPendingTransactionHash iterates every pending transaction of the
// account, regardless of expiration window.
func (d *DB) ForEachPendingTransactionHash(ctx context.Context, txn *badger.Txn,
	prefix [AccountPrefixSize]byte,
	fn func(expiration uint32, txHash chainhash.Hash) error) error {

	return d.forEachPendingInRange(ctx, txn, prefix, 0, math.MaxUint32, fn)
}

// ForEachExpiredTransactionHash iterates pending transactions whose
// expiration satisfies 0 < expiration <= headSequence.
func (d *DB) ForEachExpiredTransactionHash(ctx context.Context, txn *badger.Txn,
	prefix [AccountPrefixSize]byte, headSequence uint32,
	fn func(expiration uint32, txHash chainhash.Hash) error) error {

	if headSequence == 0 {
		return nil
	}
	return d.forEachPendingInRange(ctx, txn, prefix, 1, headSequence, fn)
}

func (d *DB) forEachPendingInRange(ctx context.Context, txn *badger.Txn,
	prefix [AccountPrefixSize]byte, start, end uint32,
	fn func(expiration uint32, txHash chainhash.Hash) error) error {

	base := keyJoin(pendingTransactionHashesPrefix, prefix[:])
	lower := keyJoin(base, uint32Key(start))
	upper := keyJoin(base, uint32Key(end), maxHashKey())
	return forEachRange(ctx, txn, lower, upper, func(key, _ []byte) error {
		expiration := binary.BigEndian.Uint32(key[len(base) : len(base)+4])
		var txHash chainhash.Hash
		copy(txHash[:], key[len(base)+4:])
		return fn(expiration, txHash)
	})
}

// ---------------------------------------------------------------------------
// timestamp -> transaction hash

// PutTimestampTransactionHash indexes a transaction hash under its record
// timestamp for chronological scans.
func (d *DB) PutTimestampTransactionHash(txn *badger.Txn,
	prefix [AccountPrefixSize]byte, millis uint64,
	txHash chainhash.Hash) error {

	return txn.Set(timestampTransactionKey(prefix, millis), txHash[:])
}

// DeleteTimestampTransactionHash removes a chronological index entry.
func (d *DB) DeleteTimestampTransactionHash(txn *badger.Txn,
	prefix [AccountPrefixSize]byte, millis uint64) error {

	return deleteIgnoreMissing(txn, timestampTransactionKey(prefix, millis))
}

// ForEachTransactionHashByTimestamp iterates transaction hashes in record
// timestamp order.
func (d *DB) ForEachTransactionHashByTimestamp(ctx context.Context,
	txn *badger.Txn, prefix [AccountPrefixSize]byte,
	fn func(millis uint64, txHash chainhash.Hash) error) error {

	scan := keyJoin(timestampToTransactionHashPrefix, prefix[:])
	return forEachPrefix(ctx, txn, scan, func(key, value []byte) error {
		millis := binary.BigEndian.Uint64(key[len(scan):])
		if len(value) != chainhash.HashSize {
			return corruptf("timestamp row has length %d", len(value))
		}
		var txHash chainhash.Hash
		copy(txHash[:], value)
		return fn(millis, txHash)
	})
}

// ---------------------------------------------------------------------------
// assets

// PutAsset stores an account's asset record.
func (d *DB) PutAsset(txn *badger.Txn, prefix [AccountPrefixSize]byte,
	asset *AssetValue) error {

	return txn.Set(assetKey(prefix, asset.ID), asset.Encode())
}

// GetAsset returns an account's asset record, or nil.
func (d *DB) GetAsset(txn *badger.Txn, prefix [AccountPrefixSize]byte,
	assetID wire.AssetID) (*AssetValue, error) {

	raw, err := getItem(txn, assetKey(prefix, assetID))
	if err != nil || raw == nil {
		return nil, err
	}
	return DecodeAssetValue(raw)
}

// DeleteAsset removes an account's asset record.
func (d *DB) DeleteAsset(txn *badger.Txn, prefix [AccountPrefixSize]byte,
	assetID wire.AssetID) error {

	return deleteIgnoreMissing(txn, assetKey(prefix, assetID))
}

// ForEachAsset iterates every asset record of an account.
func (d *DB) ForEachAsset(ctx context.Context, txn *badger.Txn,
	prefix [AccountPrefixSize]byte,
	fn func(asset *AssetValue) error) error {

	scan := keyJoin(assetsPrefix, prefix[:])
	return forEachPrefix(ctx, txn, scan, func(_, value []byte) error {
		asset, err := DecodeAssetValue(value)
		if err != nil {
			return err
		}
		return fn(asset)
	})
}

// ---------------------------------------------------------------------------
// unspent note hashes by value

// PutUnspentNoteHash indexes an unspent on-chain note under its asset and
// value for selection scans.
func (d *DB) PutUnspentNoteHash(txn *badger.Txn, prefix [AccountPrefixSize]byte,
	assetID wire.AssetID, value uint64, noteHash chainhash.Hash) error {

	return txn.Set(unspentNoteKey(prefix, assetID, value, noteHash), nil)
}

// DeleteUnspentNoteHash removes an unspent index entry.
func (d *DB) DeleteUnspentNoteHash(txn *badger.Txn, prefix [AccountPrefixSize]byte,
	assetID wire.AssetID, value uint64, noteHash chainhash.Hash) error {

	return deleteIgnoreMissing(txn,
		unspentNoteKey(prefix, assetID, value, noteHash))
}

// ForEachUnspentNoteHash iterates the unspent notes of one asset in
// ascending value order.
func (d *DB) ForEachUnspentNoteHash(ctx context.Context, txn *badger.Txn,
	prefix [AccountPrefixSize]byte, assetID wire.AssetID,
	fn func(value uint64, noteHash chainhash.Hash) error) error {

	scan := keyJoin(unspentNoteHashesByValuePrefix, prefix[:], assetID[:])
	return forEachPrefix(ctx, txn, scan, func(key, _ []byte) error {
		value := binary.BigEndian.Uint64(key[len(scan) : len(scan)+8])
		var noteHash chainhash.Hash
		copy(noteHash[:], key[len(scan)+8:])
		return fn(value, noteHash)
	})
}

// ---------------------------------------------------------------------------
// nullifier -> transaction hash

// PutNullifierTransactionHash records which transaction claimed a spend of
// the account's note.
func (d *DB) PutNullifierTransactionHash(txn *badger.Txn,
	prefix [AccountPrefixSize]byte, nullifier chainhash.Hash,
	txHash chainhash.Hash) error {

	return txn.Set(nullifierTransactionKey(prefix, nullifier), txHash[:])
}

// GetTransactionHashByNullifier resolves which transaction spent the note
// with this nullifier, or nil.
func (d *DB) GetTransactionHashByNullifier(txn *badger.Txn,
	prefix [AccountPrefixSize]byte,
	nullifier chainhash.Hash) (*chainhash.Hash, error) {

	raw, err := getItem(txn, nullifierTransactionKey(prefix, nullifier))
	if err != nil || raw == nil {
		return nil, err
	}
	if len(raw) != chainhash.HashSize {
		return nil, corruptf("nullifier spend row has length %d", len(raw))
	}
	var txHash chainhash.Hash
	copy(txHash[:], raw)
	return &txHash, nil
}

// DeleteNullifierTransactionHash removes a spend attribution.
func (d *DB) DeleteNullifierTransactionHash(txn *badger.Txn,
	prefix [AccountPrefixSize]byte, nullifier chainhash.Hash) error {

	return deleteIgnoreMissing(txn, nullifierTransactionKey(prefix, nullifier))
}

// ---------------------------------------------------------------------------

func deleteIgnoreMissing(txn *badger.Txn, key []byte) error {
	err := txn.Delete(key)
	if err == badger.ErrKeyNotFound {
		return nil
	}
	return err
}

func maxHashKey() []byte {
	pad := make([]byte, chainhash.HashSize)
	for i := range pad {
		pad[i] = 0xFF
	}
	return pad
}
