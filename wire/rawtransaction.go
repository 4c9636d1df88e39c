package wire

import (
	"github.com/decred/dcrd/chaincfg/chainhash"
)

// WitnessNode is one step of a Merkle authentication path. Side records
// whether the sibling hash sits to the left or the right.
type WitnessNode struct {
	Side          uint8
	HashOfSibling chainhash.Hash
}

// Witness side markers.
const (
	WitnessLeft uint8 = iota
	WitnessRight
)

// Witness proves inclusion of a note at a leaf position of the note
// commitment tree with the given root.
type Witness struct {
	RootHash chainhash.Hash
	TreeSize uint64
	AuthPath []WitnessNode
}

// RawSpend pairs a plaintext note with the witness anchoring it to the tree.
type RawSpend struct {
	Note    *Note
	Witness *Witness
}

// RawOutput is a plaintext note to be created by a transaction.
type RawOutput struct {
	Note *Note
}

// RawTransaction is the unproven form of a transaction assembled by the
// wallet. Posting it through the worker pool produces proofs, encrypts the
// outputs and yields a network Transaction.
type RawTransaction struct {
	Expiration uint32
	Fee        uint64
	Spends     []RawSpend
	Outputs    []RawOutput
	Mints      []Mint
	Burns      []Burn
}

// PostedSize estimates the wire size of the transaction this raw
// transaction will post to. Fee rate callers use it to derive a fee before
// proving happens.
func (raw *RawTransaction) PostedSize() int {
	size := 1 + 8 + 4 + 4*4
	size += len(raw.Spends) * (2*chainhash.HashSize + 8)
	size += len(raw.Outputs) * EncryptedNoteSize
	for i := range raw.Mints {
		size += AssetIDSize + AssetNameSize + AssetMetadataSize +
			PublicAddressSize + 1 + 8 + 1
		if raw.Mints[i].TransferOwnershipTo != nil {
			size += PublicAddressSize
		}
	}
	size += len(raw.Burns) * (AssetIDSize + 8)
	return size
}
