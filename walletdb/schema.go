package walletdb

import (
	"encoding/binary"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/spaolacci/murmur3"
	"github.com/umbra-network/umbrad/wire"
)

// Store key prefixes. Every store owns a single leading byte; composite keys
// append the 4-byte account prefix followed by big-endian ordered fields so
// the hot queries are plain lexicographic range scans.
var (
	// Key format: <prefix_id, name string>
	// Value format: opaque meta row
	metaPrefix = []byte{0x00}

	// Key format: <prefix_id, accountID string>
	// Value format: AccountValue, plaintext or encrypted envelope
	accountsPrefix = []byte{0x01}

	// Key format: <prefix_id, accountID string>
	// Value format: HeadValue; an empty value means the head is null
	headsPrefix = []byte{0x02}

	// Key format: <prefix_id, account prefix [4]byte, assetID [32]byte>
	// Value format: BalanceValue
	balancesPrefix = []byte{0x03}

	// Key format: <prefix_id, account prefix [4]byte, noteHash [32]byte>
	// Value format: NoteValue
	decryptedNotesPrefix = []byte{0x04}

	// Key format: <prefix_id, account prefix [4]byte, nullifier [32]byte>
	// Value format: noteHash [32]byte
	nullifierToNoteHashPrefix = []byte{0x05}

	// Key format: <prefix_id, account prefix [4]byte, sequence uint32 (big-endian),
	// noteHash [32]byte>
	// Value format: empty
	sequenceToNoteHashPrefix = []byte{0x06}

	// Key format: <prefix_id, account prefix [4]byte, noteHash [32]byte>
	// Value format: empty
	nonChainNoteHashesPrefix = []byte{0x07}

	// Key format: <prefix_id, account prefix [4]byte, txHash [32]byte>
	// Value format: TransactionValue
	transactionsPrefix = []byte{0x08}

	// Key format: <prefix_id, account prefix [4]byte, sequence uint32 (big-endian),
	// txHash [32]byte>
	// Value format: empty
	sequenceToTransactionHashPrefix = []byte{0x09}

	// Key format: <prefix_id, account prefix [4]byte, expiration uint32
	// (big-endian), txHash [32]byte>
	// Value format: empty
	pendingTransactionHashesPrefix = []byte{0x0a}

	// Key format: <prefix_id, account prefix [4]byte, timestamp millis uint64
	// (big-endian)>
	// Value format: txHash [32]byte
	timestampToTransactionHashPrefix = []byte{0x0b}

	// Key format: <prefix_id, account prefix [4]byte, assetID [32]byte>
	// Value format: AssetValue
	assetsPrefix = []byte{0x0c}

	// Key format: <prefix_id, account prefix [4]byte, assetID [32]byte,
	// value uint64 (big-endian), noteHash [32]byte>
	// Value format: empty
	unspentNoteHashesByValuePrefix = []byte{0x0d}

	// Key format: <prefix_id, account prefix [4]byte, nullifier [32]byte>
	// Value format: txHash [32]byte
	nullifierToTransactionHashPrefix = []byte{0x0e}

	// Key format: <prefix_id, accountID string>
	// Value format: empty tombstone
	accountIdsToCleanupPrefix = []byte{0x0f}
)

// AccountPrefixSize is the length of the per-account key shard.
const AccountPrefixSize = 4

// AccountPrefix shards the shared stores by account. Collisions only cost
// wasted iteration, never correctness, since full hashes follow the prefix
// in every composite key.
func AccountPrefix(accountID string) [AccountPrefixSize]byte {
	var prefix [AccountPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], murmur3.Sum32WithSeed([]byte(accountID), 1))
	return prefix
}

// keyJoin concatenates key parts into a fresh slice.
func keyJoin(parts ...[]byte) []byte {
	size := 0
	for _, p := range parts {
		size += len(p)
	}
	key := make([]byte, 0, size)
	for _, p := range parts {
		key = append(key, p...)
	}
	return key
}

func uint32Key(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b[:]
}

func uint64Key(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func accountKey(accountID string) []byte {
	return keyJoin(accountsPrefix, []byte(accountID))
}

func headKey(accountID string) []byte {
	return keyJoin(headsPrefix, []byte(accountID))
}

func cleanupKey(accountID string) []byte {
	return keyJoin(accountIdsToCleanupPrefix, []byte(accountID))
}

func metaKey(name string) []byte {
	return keyJoin(metaPrefix, []byte(name))
}

func balanceKey(prefix [AccountPrefixSize]byte, assetID wire.AssetID) []byte {
	return keyJoin(balancesPrefix, prefix[:], assetID[:])
}

func noteKey(prefix [AccountPrefixSize]byte, noteHash chainhash.Hash) []byte {
	return keyJoin(decryptedNotesPrefix, prefix[:], noteHash[:])
}

func nullifierNoteKey(prefix [AccountPrefixSize]byte, nullifier chainhash.Hash) []byte {
	return keyJoin(nullifierToNoteHashPrefix, prefix[:], nullifier[:])
}

func sequenceNoteKey(prefix [AccountPrefixSize]byte, sequence uint32,
	noteHash chainhash.Hash) []byte {

	return keyJoin(sequenceToNoteHashPrefix, prefix[:], uint32Key(sequence),
		noteHash[:])
}

func nonChainNoteKey(prefix [AccountPrefixSize]byte, noteHash chainhash.Hash) []byte {
	return keyJoin(nonChainNoteHashesPrefix, prefix[:], noteHash[:])
}

func transactionKey(prefix [AccountPrefixSize]byte, txHash chainhash.Hash) []byte {
	return keyJoin(transactionsPrefix, prefix[:], txHash[:])
}

func sequenceTransactionKey(prefix [AccountPrefixSize]byte, sequence uint32,
	txHash chainhash.Hash) []byte {

	return keyJoin(sequenceToTransactionHashPrefix, prefix[:],
		uint32Key(sequence), txHash[:])
}

func pendingTransactionKey(prefix [AccountPrefixSize]byte, expiration uint32,
	txHash chainhash.Hash) []byte {

	return keyJoin(pendingTransactionHashesPrefix, prefix[:],
		uint32Key(expiration), txHash[:])
}

func timestampTransactionKey(prefix [AccountPrefixSize]byte, millis uint64) []byte {
	return keyJoin(timestampToTransactionHashPrefix, prefix[:], uint64Key(millis))
}

func assetKey(prefix [AccountPrefixSize]byte, assetID wire.AssetID) []byte {
	return keyJoin(assetsPrefix, prefix[:], assetID[:])
}

func unspentNoteKey(prefix [AccountPrefixSize]byte, assetID wire.AssetID,
	value uint64, noteHash chainhash.Hash) []byte {

	return keyJoin(unspentNoteHashesByValuePrefix, prefix[:], assetID[:],
		uint64Key(value), noteHash[:])
}

func nullifierTransactionKey(prefix [AccountPrefixSize]byte,
	nullifier chainhash.Hash) []byte {

	return keyJoin(nullifierToTransactionHashPrefix, prefix[:], nullifier[:])
}

// accountShardedPrefixes lists every store sharded by the account prefix. Cleanup
// walks these ranges when purging a removed account.
func accountShardedPrefixes(prefix [AccountPrefixSize]byte) [][]byte {
	return [][]byte{
		keyJoin(balancesPrefix, prefix[:]),
		keyJoin(decryptedNotesPrefix, prefix[:]),
		keyJoin(nullifierToNoteHashPrefix, prefix[:]),
		keyJoin(sequenceToNoteHashPrefix, prefix[:]),
		keyJoin(nonChainNoteHashesPrefix, prefix[:]),
		keyJoin(transactionsPrefix, prefix[:]),
		keyJoin(sequenceToTransactionHashPrefix, prefix[:]),
		keyJoin(pendingTransactionHashesPrefix, prefix[:]),
		keyJoin(timestampToTransactionHashPrefix, prefix[:]),
		keyJoin(assetsPrefix, prefix[:]),
		keyJoin(unspentNoteHashesByValuePrefix, prefix[:]),
		keyJoin(nullifierToTransactionHashPrefix, prefix[:]),
	}
}
