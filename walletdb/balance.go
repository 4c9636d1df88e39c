package walletdb

import (
	"bytes"
	"math/big"

	"github.com/decred/dcrd/chaincfg/chainhash"
)

// HeadValue is a block cursor: the hash and sequence of the last block an
// account has been advanced through.
type HeadValue struct {
	Hash     chainhash.Hash
	Sequence uint32
}

// Encode serializes the head value.
func (h *HeadValue) Encode() []byte {
	var buf bytes.Buffer
	putHash(&buf, h.Hash)
	putUint32(&buf, h.Sequence)
	return buf.Bytes()
}

// DecodeHeadValue parses a serialized head value.
func DecodeHeadValue(b []byte) (*HeadValue, error) {
	r := bytes.NewReader(b)
	var h HeadValue
	var err error
	if h.Hash, err = getHash(r); err != nil {
		return nil, err
	}
	if h.Sequence, err = getUint32(r); err != nil {
		return nil, err
	}
	return &h, nil
}

// BalanceValue is the running unconfirmed balance of one asset for one
// account: the sum of the balance deltas of every on-chain transaction.
type BalanceValue struct {
	Unconfirmed *big.Int
	BlockHash   chainhash.Hash
	Sequence    uint32
}

// Encode serializes the balance value.
func (b *BalanceValue) Encode() []byte {
	var buf bytes.Buffer
	putBigInt(&buf, b.Unconfirmed)
	putHash(&buf, b.BlockHash)
	putUint32(&buf, b.Sequence)
	return buf.Bytes()
}

// DecodeBalanceValue parses a serialized balance value.
func DecodeBalanceValue(raw []byte) (*BalanceValue, error) {
	r := bytes.NewReader(raw)
	var b BalanceValue
	var err error
	if b.Unconfirmed, err = getBigInt(r); err != nil {
		return nil, err
	}
	if b.BlockHash, err = getHash(r); err != nil {
		return nil, err
	}
	if b.Sequence, err = getUint32(r); err != nil {
		return nil, err
	}
	return &b, nil
}
