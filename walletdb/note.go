package walletdb

import (
	"bytes"
	"fmt"
	"io"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/umbra-network/umbrad/wire"
)

// NoteValue is a decrypted note owned by an account. The block fields are
// populated only while the containing transaction sits on the main chain; a
// disconnect nulls them out again.
type NoteValue struct {
	AccountID       string
	Note            [wire.NoteSize]byte
	Spent           bool
	TransactionHash chainhash.Hash

	// On-chain only.
	Index     *uint64
	Nullifier *chainhash.Hash
	BlockHash *chainhash.Hash
	Sequence  *uint32
}

// OnChain reports whether the note's containing transaction is currently on
// the main chain.
func (n *NoteValue) OnChain() bool {
	return n.Sequence != nil
}

// DecodedNote parses the embedded serialized note.
func (n *NoteValue) DecodedNote() (*wire.Note, error) {
	return wire.NoteFromBytes(n.Note[:])
}

// Encode serializes the note value.
func (n *NoteValue) Encode() []byte {
	var buf bytes.Buffer
	putString(&buf, n.AccountID)
	buf.Write(n.Note[:])
	putBool(&buf, n.Spent)
	putHash(&buf, n.TransactionHash)
	putOptionalUint64(&buf, n.Index)
	putOptionalHash(&buf, n.Nullifier)
	putOptionalHash(&buf, n.BlockHash)
	putOptionalUint32(&buf, n.Sequence)
	return buf.Bytes()
}

// DecodeNoteValue parses a serialized note value.
func DecodeNoteValue(raw []byte) (*NoteValue, error) {
	r := bytes.NewReader(raw)
	var n NoteValue
	var err error
	if n.AccountID, err = getString(r); err != nil {
		return nil, err
	}
	if _, err = io.ReadFull(r, n.Note[:]); err != nil {
		return nil, err
	}
	if n.Spent, err = getBool(r); err != nil {
		return nil, err
	}
	if n.TransactionHash, err = getHash(r); err != nil {
		return nil, err
	}
	if n.Index, err = getOptionalUint64(r); err != nil {
		return nil, err
	}
	if n.Nullifier, err = getOptionalHash(r); err != nil {
		return nil, err
	}
	if n.BlockHash, err = getOptionalHash(r); err != nil {
		return nil, err
	}
	if n.Sequence, err = getOptionalUint32(r); err != nil {
		return nil, err
	}
	if (n.Sequence == nil) != (n.BlockHash == nil) {
		return nil, fmt.Errorf("note value has mismatched block fields")
	}
	return &n, nil
}
