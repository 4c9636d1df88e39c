package wallet

import (
	"context"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/umbra-network/umbrad/wire"
)

// decryptNoteBatchSize caps how many note ciphertexts are handed to the
// worker pool per call.
const decryptNoteBatchSize = 20

// HeadRef identifies the chain head.
type HeadRef struct {
	Hash     chainhash.Hash
	Sequence uint32
}

// BlockTransaction pairs a block transaction with the note commitment tree
// position of its first output.
type BlockTransaction struct {
	Transaction      *wire.Transaction
	InitialNoteIndex uint64
}

// Chain is the wallet's read-only view of the blockchain, served by the
// node. The wallet holds the chain by shared ownership; the chain never
// calls back into the wallet.
type Chain interface {
	// Head returns the current main chain tip, or ErrNoGenesis when the
	// chain is empty.
	Head() (*HeadRef, error)

	// HasBlock reports whether the block with the given hash is part of
	// the main chain.
	HasBlock(hash chainhash.Hash) (bool, error)

	// GetHeader returns the header for a block hash. Headers of blocks
	// detached by a reorg remain resolvable.
	GetHeader(hash chainhash.Hash) (*wire.BlockHeader, error)

	// GetHeaderAtSequence returns the main chain header at the given
	// sequence, or nil when past the tip.
	GetHeaderAtSequence(sequence uint32) (*wire.BlockHeader, error)

	// IterateBlockHeaders streams main chain headers from start to end
	// inclusive, calling fn for each. Iteration stops on fn error or
	// context cancellation.
	IterateBlockHeaders(ctx context.Context, start, end chainhash.Hash,
		fn func(*wire.BlockHeader) error) error

	// GetBlockTransactions returns the transactions of a block together
	// with each transaction's initial note commitment tree index.
	GetBlockTransactions(header *wire.BlockHeader) ([]BlockTransaction, error)

	// GetNoteWitness builds the Merkle witness for the note at the given
	// tree position, anchored confirmations blocks below the head.
	GetNoteWitness(index uint64, confirmations uint32) (*wire.Witness, error)

	// GetAssetByID resolves an asset registered on chain, or nil.
	GetAssetByID(id wire.AssetID) (*wire.Asset, error)

	// HasNullifier reports membership of the chain's nullifier set.
	HasNullifier(nullifier chainhash.Hash) (bool, error)
}

// DecryptNotesItem is one trial decryption request.
type DecryptNotesItem struct {
	SerializedNote    []byte
	IncomingViewKey   []byte
	OutgoingViewKey   []byte
	ViewKey           []byte
	CurrentNoteIndex  *uint64
	DecryptForSpender bool
}

// DecryptedNote is a successful trial decryption. ForSpender marks notes
// recovered through the outgoing view key: outputs the account sent to
// someone else. Index and Nullifier are set only when the request carried a
// tree position.
type DecryptedNote struct {
	Index          *uint64
	ForSpender     bool
	Hash           chainhash.Hash
	Nullifier      *chainhash.Hash
	SerializedNote []byte
}

// WorkerPool executes the CPU-heavy cryptography off the wallet task:
// trial note decryption and transaction proving/signing.
type WorkerPool interface {
	// DecryptNotes attempts each item and returns one entry per input;
	// nil marks a note that did not decrypt for the supplied keys.
	DecryptNotes(ctx context.Context, items []DecryptNotesItem) ([]*DecryptedNote, error)

	// PostTransaction proves and signs a raw transaction. Any surplus of
	// an asset between spends and outputs plus fee and burns comes back to the
	// spender as an automatic change output, and minted value is emitted
	// as a note to the minter.
	PostTransaction(ctx context.Context, raw *wire.RawTransaction,
		spendingKey []byte) (*wire.Transaction, error)
}

// Mempool accepts locally created transactions for relay.
type Mempool interface {
	// AcceptTransaction submits a transaction, reporting whether the
	// mempool took it.
	AcceptTransaction(tx *wire.Transaction) (bool, error)
}

// PeerNetwork broadcasts transactions to peers.
type PeerNetwork interface {
	BroadcastTransaction(tx *wire.Transaction)
}
