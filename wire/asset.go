package wire

import (
	"bytes"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
)

const (
	// AssetIDSize is the length of an asset identifier.
	AssetIDSize = 32

	// AssetNameSize is the fixed width of an asset name on the wire.
	AssetNameSize = 32

	// AssetMetadataSize is the fixed width of asset metadata on the wire.
	AssetMetadataSize = 96
)

// AssetID uniquely identifies an asset. It is derived from the creator, the
// asset name and a nonce, so an asset cannot be re-created under a different
// owner.
type AssetID [AssetIDSize]byte

// String returns the asset id as a hex string.
func (id AssetID) String() string {
	return fmt.Sprintf("%x", id[:])
}

// NewAssetID derives the identifier for an asset created by creator with the
// given name and nonce.
func NewAssetID(creator PublicAddress, name [AssetNameSize]byte, nonce byte) AssetID {
	h, _ := blake2b.New256([]byte("umbra.asset"))
	h.Write(creator[:])
	h.Write(name[:])
	h.Write([]byte{nonce})

	var id AssetID
	copy(id[:], h.Sum(nil))
	return id
}

// AssetName pads a string into the fixed width wire representation of an
// asset name. Longer names are truncated.
func AssetName(s string) [AssetNameSize]byte {
	var name [AssetNameSize]byte
	copy(name[:], s)
	return name
}

// NativeAssetName is the name of the chain's native coin.
var NativeAssetName = AssetName("$UMB")

// NativeAssetID identifies the native coin. The native asset has no creator;
// it is minted exclusively through miners fee transactions.
var NativeAssetID = NewAssetID(PublicAddress{}, NativeAssetName, 0)

// Asset describes a created asset as recorded on chain.
type Asset struct {
	ID       AssetID
	Name     [AssetNameSize]byte
	Metadata [AssetMetadataSize]byte
	Creator  PublicAddress
	Nonce    byte
}

// Serialize writes the asset in its wire form.
func (a *Asset) Serialize(w io.Writer) error {
	if _, err := w.Write(a.ID[:]); err != nil {
		return err
	}
	if _, err := w.Write(a.Name[:]); err != nil {
		return err
	}
	if _, err := w.Write(a.Metadata[:]); err != nil {
		return err
	}
	if _, err := w.Write(a.Creator[:]); err != nil {
		return err
	}
	return writeUint8(w, a.Nonce)
}

// Deserialize reads an asset from its wire form.
func (a *Asset) Deserialize(r io.Reader) error {
	if _, err := io.ReadFull(r, a.ID[:]); err != nil {
		return err
	}
	if _, err := io.ReadFull(r, a.Name[:]); err != nil {
		return err
	}
	if _, err := io.ReadFull(r, a.Metadata[:]); err != nil {
		return err
	}
	if _, err := io.ReadFull(r, a.Creator[:]); err != nil {
		return err
	}
	nonce, err := readUint8(r)
	if err != nil {
		return err
	}
	a.Nonce = nonce
	return nil
}

// Bytes returns the serialized asset.
func (a *Asset) Bytes() []byte {
	var buf bytes.Buffer
	_ = a.Serialize(&buf)
	return buf.Bytes()
}
