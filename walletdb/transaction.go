package walletdb

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/umbra-network/umbrad/wire"
)

// TransactionValue is the per-account record of a transaction the account
// participated in. AssetBalanceDeltas is the net change this transaction
// caused to the account's balance, per asset; the running BalanceValue is
// the sum of these deltas over all on-chain records.
type TransactionValue struct {
	Transaction *wire.Transaction
	Timestamp   time.Time

	// On-chain only.
	BlockHash *chainhash.Hash
	Sequence  *uint32

	// SubmittedSequence is the chain sequence at which this node first
	// learned of the transaction. Rebroadcast throttling keys off it.
	SubmittedSequence uint32

	AssetBalanceDeltas map[wire.AssetID]int64
}

// OnChain reports whether the record currently sits on the main chain.
func (t *TransactionValue) OnChain() bool {
	return t.Sequence != nil
}

// Encode serializes the transaction value. Delta entries are written in
// asset id order so encoding is deterministic.
func (t *TransactionValue) Encode() []byte {
	var buf bytes.Buffer
	putBytes(&buf, t.Transaction.Bytes())
	putUint64(&buf, uint64(t.Timestamp.UnixMilli()))
	putOptionalHash(&buf, t.BlockHash)
	putOptionalUint32(&buf, t.Sequence)
	putUint32(&buf, t.SubmittedSequence)

	ids := make([]wire.AssetID, 0, len(t.AssetBalanceDeltas))
	for id := range t.AssetBalanceDeltas {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
	putUint32(&buf, uint32(len(ids)))
	for _, id := range ids {
		buf.Write(id[:])
		putInt64(&buf, t.AssetBalanceDeltas[id])
	}
	return buf.Bytes()
}

// DecodeTransactionValue parses a serialized transaction value.
func DecodeTransactionValue(raw []byte) (*TransactionValue, error) {
	r := bytes.NewReader(raw)
	var t TransactionValue

	txBytes, err := getBytes(r)
	if err != nil {
		return nil, err
	}
	if t.Transaction, err = wire.TxFromBytes(txBytes); err != nil {
		return nil, err
	}
	millis, err := getUint64(r)
	if err != nil {
		return nil, err
	}
	t.Timestamp = time.UnixMilli(int64(millis)).UTC()
	if t.BlockHash, err = getOptionalHash(r); err != nil {
		return nil, err
	}
	if t.Sequence, err = getOptionalUint32(r); err != nil {
		return nil, err
	}
	if (t.Sequence == nil) != (t.BlockHash == nil) {
		return nil, fmt.Errorf("transaction value has mismatched block fields")
	}
	if t.SubmittedSequence, err = getUint32(r); err != nil {
		return nil, err
	}

	n, err := getUint32(r)
	if err != nil {
		return nil, err
	}
	t.AssetBalanceDeltas = make(map[wire.AssetID]int64, n)
	for i := uint32(0); i < n; i++ {
		var id wire.AssetID
		h, err := getHash(r)
		if err != nil {
			return nil, err
		}
		copy(id[:], h[:])
		delta, err := getInt64(r)
		if err != nil {
			return nil, err
		}
		t.AssetBalanceDeltas[id] = delta
	}
	return &t, nil
}
