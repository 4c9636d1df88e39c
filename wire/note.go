package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"golang.org/x/crypto/blake2b"
)

const (
	// PublicAddressSize is the length of a shielded public address.
	PublicAddressSize = 32

	// MemoSize is the length of the memo field carried in every note.
	MemoSize = 32

	// NoteSize is the serialized length of a plaintext note. Notes are
	// fixed width so that store keys and ciphertext framing stay stable.
	NoteSize = PublicAddressSize + AssetIDSize + 8 + 32 + MemoSize + PublicAddressSize

	// EncryptedNoteSize is the length of a note ciphertext as found in a
	// transaction output: the plaintext width plus the ephemeral public
	// key and authentication tag added by the note encryption scheme.
	EncryptedNoteSize = NoteSize + 80
)

// PublicAddress is the shielded address notes are sent to.
type PublicAddress [PublicAddressSize]byte

// String returns the address as a hex string.
func (pa PublicAddress) String() string {
	return fmt.Sprintf("%x", pa[:])
}

// Note is the plaintext form of a shielded output. On chain only its
// commitment and an encrypted copy exist; the wallet obtains plaintext notes
// from the worker pool after a successful trial decryption.
type Note struct {
	Owner      PublicAddress
	AssetID    AssetID
	Value      uint64
	Randomness [32]byte
	Memo       [MemoSize]byte
	Sender     PublicAddress
}

// Serialize writes the note in its fixed width wire form.
func (n *Note) Serialize(w io.Writer) error {
	if _, err := w.Write(n.Owner[:]); err != nil {
		return err
	}
	if _, err := w.Write(n.AssetID[:]); err != nil {
		return err
	}
	if err := writeUint64(w, n.Value); err != nil {
		return err
	}
	if _, err := w.Write(n.Randomness[:]); err != nil {
		return err
	}
	if _, err := w.Write(n.Memo[:]); err != nil {
		return err
	}
	_, err := w.Write(n.Sender[:])
	return err
}

// Deserialize reads a note from its fixed width wire form.
func (n *Note) Deserialize(r io.Reader) error {
	var buf [NoteSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}
	return n.fromBytes(buf[:])
}

func (n *Note) fromBytes(b []byte) error {
	if len(b) != NoteSize {
		return fmt.Errorf("invalid note length %d, expected %d", len(b), NoteSize)
	}
	off := 0
	copy(n.Owner[:], b[off:off+PublicAddressSize])
	off += PublicAddressSize
	copy(n.AssetID[:], b[off:off+AssetIDSize])
	off += AssetIDSize
	n.Value = binary.BigEndian.Uint64(b[off : off+8])
	off += 8
	copy(n.Randomness[:], b[off:off+32])
	off += 32
	copy(n.Memo[:], b[off:off+MemoSize])
	off += MemoSize
	copy(n.Sender[:], b[off:off+PublicAddressSize])
	return nil
}

// Bytes returns the serialized note.
func (n *Note) Bytes() []byte {
	var buf bytes.Buffer
	buf.Grow(NoteSize)
	_ = n.Serialize(&buf)
	return buf.Bytes()
}

// NoteFromBytes parses a fixed width serialized note.
func NoteFromBytes(b []byte) (*Note, error) {
	var n Note
	if err := n.fromBytes(b); err != nil {
		return nil, err
	}
	return &n, nil
}

// Nullifier derives the spend tag for this note at the given leaf position
// in the note commitment tree. It is deterministic in the holder's view key,
// the position, and the note randomness, so the same note always reveals the
// same nullifier when spent.
func (n *Note) Nullifier(viewKey []byte, position uint64) chainhash.Hash {
	var pos [8]byte
	binary.BigEndian.PutUint64(pos[:], position)

	h, _ := blake2b.New256([]byte("umbra.nullifier"))
	h.Write(viewKey)
	h.Write(pos[:])
	h.Write(n.Randomness[:])

	var out chainhash.Hash
	copy(out[:], h.Sum(nil))
	return out
}
