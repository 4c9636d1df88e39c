package wire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"golang.org/x/crypto/blake2b"
)

const (
	// TxVersion is the current transaction serialization version.
	TxVersion uint8 = 1

	// maxTxComponents caps the count of any component list in a
	// deserialized transaction.
	maxTxComponents = 1 << 16
)

// Spend consumes a previously created note by revealing its nullifier and
// proving membership of the note commitment tree at the anchored root.
type Spend struct {
	Nullifier chainhash.Hash
	RootHash  chainhash.Hash
	TreeSize  uint64
}

// Output carries a newly created note in encrypted form. Only the holder of
// the right incoming view key (or the sender via the outgoing view key) can
// recover the plaintext.
type Output struct {
	EncryptedNote []byte
}

// Commitment returns the hash under which this output's note is appended to
// the note commitment tree. It is derivable by anyone, without decryption.
func (o *Output) Commitment() chainhash.Hash {
	var out chainhash.Hash
	sum := blake2b.Sum256(o.EncryptedNote)
	copy(out[:], sum[:])
	return out
}

// Mint creates new supply of an asset. The first mint of an asset also
// registers it on chain; a mint may optionally hand ownership of the asset
// to another address.
type Mint struct {
	Asset               Asset
	Value               uint64
	TransferOwnershipTo *PublicAddress
}

// Burn destroys supply of an asset.
type Burn struct {
	AssetID AssetID
	Value   uint64
}

// Transaction is a shielded transaction as relayed on the network. The
// wallet never inspects proofs; it treats spends, outputs, mints and burns
// as opaque facts established by the chain.
type Transaction struct {
	Version    uint8
	Fee        uint64
	Expiration uint32
	Spends     []Spend
	Outputs    []Output
	Mints      []Mint
	Burns      []Burn
}

// IsMinersFee reports whether this is the block subsidy transaction. The
// miners fee is the first transaction of a block and has no spends.
func (tx *Transaction) IsMinersFee() bool {
	return len(tx.Spends) == 0 && tx.Fee == 0 && len(tx.Mints) == 0 &&
		len(tx.Burns) == 0
}

// Serialize writes the transaction in its wire form.
func (tx *Transaction) Serialize(w io.Writer) error {
	if err := writeUint8(w, tx.Version); err != nil {
		return err
	}
	if err := writeUint64(w, tx.Fee); err != nil {
		return err
	}
	if err := writeUint32(w, tx.Expiration); err != nil {
		return err
	}

	if err := writeUint32(w, uint32(len(tx.Spends))); err != nil {
		return err
	}
	for i := range tx.Spends {
		s := &tx.Spends[i]
		if _, err := w.Write(s.Nullifier[:]); err != nil {
			return err
		}
		if _, err := w.Write(s.RootHash[:]); err != nil {
			return err
		}
		if err := writeUint64(w, s.TreeSize); err != nil {
			return err
		}
	}

	if err := writeUint32(w, uint32(len(tx.Outputs))); err != nil {
		return err
	}
	for i := range tx.Outputs {
		if len(tx.Outputs[i].EncryptedNote) != EncryptedNoteSize {
			return fmt.Errorf("output %d: invalid ciphertext length %d",
				i, len(tx.Outputs[i].EncryptedNote))
		}
		if _, err := w.Write(tx.Outputs[i].EncryptedNote); err != nil {
			return err
		}
	}

	if err := writeUint32(w, uint32(len(tx.Mints))); err != nil {
		return err
	}
	for i := range tx.Mints {
		m := &tx.Mints[i]
		if err := m.Asset.Serialize(w); err != nil {
			return err
		}
		if err := writeUint64(w, m.Value); err != nil {
			return err
		}
		if m.TransferOwnershipTo != nil {
			if err := writeUint8(w, 1); err != nil {
				return err
			}
			if _, err := w.Write(m.TransferOwnershipTo[:]); err != nil {
				return err
			}
		} else if err := writeUint8(w, 0); err != nil {
			return err
		}
	}

	if err := writeUint32(w, uint32(len(tx.Burns))); err != nil {
		return err
	}
	for i := range tx.Burns {
		b := &tx.Burns[i]
		if _, err := w.Write(b.AssetID[:]); err != nil {
			return err
		}
		if err := writeUint64(w, b.Value); err != nil {
			return err
		}
	}
	return nil
}

// Deserialize reads a transaction from its wire form.
func (tx *Transaction) Deserialize(r io.Reader) error {
	var err error
	if tx.Version, err = readUint8(r); err != nil {
		return err
	}
	if tx.Fee, err = readUint64(r); err != nil {
		return err
	}
	if tx.Expiration, err = readUint32(r); err != nil {
		return err
	}

	n, err := readComponentCount(r)
	if err != nil {
		return err
	}
	if n > 0 {
		tx.Spends = make([]Spend, n)
	}
	for i := range tx.Spends {
		s := &tx.Spends[i]
		if _, err := io.ReadFull(r, s.Nullifier[:]); err != nil {
			return err
		}
		if _, err := io.ReadFull(r, s.RootHash[:]); err != nil {
			return err
		}
		if s.TreeSize, err = readUint64(r); err != nil {
			return err
		}
	}

	if n, err = readComponentCount(r); err != nil {
		return err
	}
	if n > 0 {
		tx.Outputs = make([]Output, n)
	}
	for i := range tx.Outputs {
		ct := make([]byte, EncryptedNoteSize)
		if _, err := io.ReadFull(r, ct); err != nil {
			return err
		}
		tx.Outputs[i].EncryptedNote = ct
	}

	if n, err = readComponentCount(r); err != nil {
		return err
	}
	if n > 0 {
		tx.Mints = make([]Mint, n)
	}
	for i := range tx.Mints {
		m := &tx.Mints[i]
		if err := m.Asset.Deserialize(r); err != nil {
			return err
		}
		if m.Value, err = readUint64(r); err != nil {
			return err
		}
		flag, err := readUint8(r)
		if err != nil {
			return err
		}
		if flag == 1 {
			var to PublicAddress
			if _, err := io.ReadFull(r, to[:]); err != nil {
				return err
			}
			m.TransferOwnershipTo = &to
		}
	}

	if n, err = readComponentCount(r); err != nil {
		return err
	}
	if n > 0 {
		tx.Burns = make([]Burn, n)
	}
	for i := range tx.Burns {
		b := &tx.Burns[i]
		if _, err := io.ReadFull(r, b.AssetID[:]); err != nil {
			return err
		}
		if b.Value, err = readUint64(r); err != nil {
			return err
		}
	}
	return nil
}

func readComponentCount(r io.Reader) (uint32, error) {
	n, err := readUint32(r)
	if err != nil {
		return 0, err
	}
	if n > maxTxComponents {
		return 0, fmt.Errorf("component count %d exceeds maximum %d",
			n, maxTxComponents)
	}
	return n, nil
}

// Bytes returns the serialized transaction.
func (tx *Transaction) Bytes() []byte {
	var buf bytes.Buffer
	_ = tx.Serialize(&buf)
	return buf.Bytes()
}

// TxFromBytes parses a serialized transaction.
func TxFromBytes(b []byte) (*Transaction, error) {
	var tx Transaction
	if err := tx.Deserialize(bytes.NewReader(b)); err != nil {
		return nil, err
	}
	return &tx, nil
}

// Hash returns the transaction hash, a blake2b digest over the full wire
// serialization.
func (tx *Transaction) Hash() chainhash.Hash {
	var out chainhash.Hash
	sum := blake2b.Sum256(tx.Bytes())
	copy(out[:], sum[:])
	return out
}

// SerializeSize returns the length of the wire serialization in bytes.
func (tx *Transaction) SerializeSize() int {
	size := 1 + 8 + 4 + 4*4
	size += len(tx.Spends) * (2*chainhash.HashSize + 8)
	size += len(tx.Outputs) * EncryptedNoteSize
	for i := range tx.Mints {
		size += AssetIDSize + AssetNameSize + AssetMetadataSize +
			PublicAddressSize + 1 + 8 + 1
		if tx.Mints[i].TransferOwnershipTo != nil {
			size += PublicAddressSize
		}
	}
	size += len(tx.Burns) * (AssetIDSize + 8)
	return size
}
