package wire

import (
	"bytes"
	"testing"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
)

func testNote(seed byte) *Note {
	note := &Note{
		Owner:   PublicAddress{seed, 1},
		AssetID: NativeAssetID,
		Value:   uint64(seed) * 1000,
		Sender:  PublicAddress{seed, 2},
	}
	note.Randomness[0] = seed
	copy(note.Memo[:], "test memo")
	return note
}

func TestNoteSerialization(t *testing.T) {
	note := testNote(7)

	serialized := note.Bytes()
	require.Len(t, serialized, NoteSize)

	parsed, err := NoteFromBytes(serialized)
	require.NoError(t, err)
	require.Equal(t, note, parsed)

	// Truncated input must fail.
	_, err = NoteFromBytes(serialized[:NoteSize-1])
	require.Error(t, err)
}

func TestNoteNullifierDeterminism(t *testing.T) {
	note := testNote(3)
	viewKey := []byte("view key material")

	n1 := note.Nullifier(viewKey, 42)
	n2 := note.Nullifier(viewKey, 42)
	require.Equal(t, n1, n2)

	// Position and key both separate nullifiers.
	require.NotEqual(t, n1, note.Nullifier(viewKey, 43))
	require.NotEqual(t, n1, note.Nullifier([]byte("other key"), 42))
}

func TestAssetIDDerivation(t *testing.T) {
	creator := PublicAddress{0xAA}
	id1 := NewAssetID(creator, AssetName("token"), 0)
	id2 := NewAssetID(creator, AssetName("token"), 0)
	require.Equal(t, id1, id2)

	require.NotEqual(t, id1, NewAssetID(creator, AssetName("token"), 1))
	require.NotEqual(t, id1, NewAssetID(PublicAddress{0xBB}, AssetName("token"), 0))
	require.NotEqual(t, id1, NativeAssetID)
}

func testTransaction() *Transaction {
	to := PublicAddress{0xCC}
	return &Transaction{
		Version:    TxVersion,
		Fee:        12,
		Expiration: 1000,
		Spends: []Spend{{
			Nullifier: chainhash.Hash{1},
			RootHash:  chainhash.Hash{2},
			TreeSize:  77,
		}},
		Outputs: []Output{
			{EncryptedNote: bytes.Repeat([]byte{3}, EncryptedNoteSize)},
			{EncryptedNote: bytes.Repeat([]byte{4}, EncryptedNoteSize)},
		},
		Mints: []Mint{{
			Asset: Asset{
				ID:      NewAssetID(PublicAddress{5}, AssetName("gold"), 1),
				Name:    AssetName("gold"),
				Creator: PublicAddress{5},
				Nonce:   1,
			},
			Value:               500,
			TransferOwnershipTo: &to,
		}},
		Burns: []Burn{{AssetID: NativeAssetID, Value: 9}},
	}
}

func TestTransactionSerialization(t *testing.T) {
	tx := testTransaction()

	serialized := tx.Bytes()
	require.Len(t, serialized, tx.SerializeSize())

	parsed, err := TxFromBytes(serialized)
	require.NoError(t, err)
	require.Equal(t, tx, parsed)
}

func TestTransactionHashStability(t *testing.T) {
	tx := testTransaction()
	h1 := tx.Hash()
	h2 := tx.Hash()
	require.Equal(t, h1, h2)

	// Any mutation moves the hash.
	tx.Fee++
	require.NotEqual(t, h1, tx.Hash())
}

func TestTransactionInvalidOutputLength(t *testing.T) {
	tx := &Transaction{
		Version: TxVersion,
		Outputs: []Output{{EncryptedNote: []byte{1, 2, 3}}},
	}
	var buf bytes.Buffer
	require.Error(t, tx.Serialize(&buf))
}

func TestOutputCommitment(t *testing.T) {
	out := Output{EncryptedNote: bytes.Repeat([]byte{9}, EncryptedNoteSize)}
	require.Equal(t, out.Commitment(), out.Commitment())

	other := Output{EncryptedNote: bytes.Repeat([]byte{8}, EncryptedNoteSize)}
	require.NotEqual(t, out.Commitment(), other.Commitment())
}

func TestBlockHeaderSerialization(t *testing.T) {
	header := &BlockHeader{
		Sequence:          9,
		Hash:              chainhash.Hash{1},
		PreviousBlockHash: chainhash.Hash{2},
		Timestamp:         time.UnixMilli(1700000000000).UTC(),
		NoteSize:          123,
	}

	var buf bytes.Buffer
	require.NoError(t, header.Serialize(&buf))

	var parsed BlockHeader
	require.NoError(t, parsed.Deserialize(&buf))
	require.Equal(t, *header, parsed)
}

func TestMinersFeeClassification(t *testing.T) {
	minersFee := &Transaction{
		Version: TxVersion,
		Outputs: []Output{{EncryptedNote: make([]byte, EncryptedNoteSize)}},
	}
	require.True(t, minersFee.IsMinersFee())

	spend := testTransaction()
	require.False(t, spend.IsMinersFee())
}
