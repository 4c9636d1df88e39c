package walletdb

import (
	"bytes"
	"io"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/umbra-network/umbrad/wire"
)

// AssetValue is an account's view of an asset it created or was given
// ownership of through a mint; an account that only receives notes of an
// asset has no record. Supply is tracked only on the owner's record; every
// other account carries a nil supply.
type AssetValue struct {
	ID       wire.AssetID
	Name     [wire.AssetNameSize]byte
	Metadata [wire.AssetMetadataSize]byte
	Nonce    byte
	Creator  wire.PublicAddress
	Owner    wire.PublicAddress

	// Set once the asset's creating transaction confirms.
	BlockHash              *chainhash.Hash
	Sequence               *uint32
	CreatedTransactionHash *chainhash.Hash

	Supply *uint64
}

// Confirmed reports whether the asset's creation has been seen on chain.
func (a *AssetValue) Confirmed() bool {
	return a.Sequence != nil
}

// Encode serializes the asset value.
func (a *AssetValue) Encode() []byte {
	var buf bytes.Buffer
	buf.Write(a.ID[:])
	buf.Write(a.Name[:])
	buf.Write(a.Metadata[:])
	putUint8(&buf, a.Nonce)
	buf.Write(a.Creator[:])
	buf.Write(a.Owner[:])
	putOptionalHash(&buf, a.BlockHash)
	putOptionalUint32(&buf, a.Sequence)
	putOptionalHash(&buf, a.CreatedTransactionHash)
	putOptionalUint64(&buf, a.Supply)
	return buf.Bytes()
}

// DecodeAssetValue parses a serialized asset value.
func DecodeAssetValue(raw []byte) (*AssetValue, error) {
	r := bytes.NewReader(raw)
	var a AssetValue
	var err error
	if _, err = io.ReadFull(r, a.ID[:]); err != nil {
		return nil, err
	}
	if _, err = io.ReadFull(r, a.Name[:]); err != nil {
		return nil, err
	}
	if _, err = io.ReadFull(r, a.Metadata[:]); err != nil {
		return nil, err
	}
	if a.Nonce, err = getUint8(r); err != nil {
		return nil, err
	}
	if _, err = io.ReadFull(r, a.Creator[:]); err != nil {
		return nil, err
	}
	if _, err = io.ReadFull(r, a.Owner[:]); err != nil {
		return nil, err
	}
	if a.BlockHash, err = getOptionalHash(r); err != nil {
		return nil, err
	}
	if a.Sequence, err = getOptionalUint32(r); err != nil {
		return nil, err
	}
	if a.CreatedTransactionHash, err = getOptionalHash(r); err != nil {
		return nil, err
	}
	if a.Supply, err = getOptionalUint64(r); err != nil {
		return nil, err
	}
	return &a, nil
}
