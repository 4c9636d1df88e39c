package wire

import (
	"io"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
)

// GenesisSequence is the sequence of the first block of the chain.
const GenesisSequence uint32 = 1

// BlockHeader carries the subset of a block header the wallet cares about.
// NoteSize is the size of the note commitment tree after connecting the
// block, which lets the wallet derive the tree position of every output it
// decrypts.
type BlockHeader struct {
	Sequence          uint32
	Hash              chainhash.Hash
	PreviousBlockHash chainhash.Hash
	Timestamp         time.Time
	NoteSize          uint64
}

// Serialize writes the header in its wire form.
func (h *BlockHeader) Serialize(w io.Writer) error {
	if err := writeUint32(w, h.Sequence); err != nil {
		return err
	}
	if _, err := w.Write(h.Hash[:]); err != nil {
		return err
	}
	if _, err := w.Write(h.PreviousBlockHash[:]); err != nil {
		return err
	}
	if err := writeUint64(w, uint64(h.Timestamp.UnixMilli())); err != nil {
		return err
	}
	return writeUint64(w, h.NoteSize)
}

// Deserialize reads a header from its wire form.
func (h *BlockHeader) Deserialize(r io.Reader) error {
	var err error
	if h.Sequence, err = readUint32(r); err != nil {
		return err
	}
	if _, err := io.ReadFull(r, h.Hash[:]); err != nil {
		return err
	}
	if _, err := io.ReadFull(r, h.PreviousBlockHash[:]); err != nil {
		return err
	}
	millis, err := readUint64(r)
	if err != nil {
		return err
	}
	h.Timestamp = time.UnixMilli(int64(millis)).UTC()
	h.NoteSize, err = readUint64(r)
	return err
}
