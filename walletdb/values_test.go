package walletdb

import (
	"math/big"
	"testing"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
	"github.com/umbra-network/umbrad/wire"
)

func uint32Ptr(v uint32) *uint32 { return &v }
func uint64Ptr(v uint64) *uint64 { return &v }
func hashPtr(h chainhash.Hash) *chainhash.Hash { return &h }
func bytesPtr(b []byte) *[]byte { return &b }

func TestHeadValueRoundTrip(t *testing.T) {
	head := &HeadValue{Hash: chainhash.Hash{1, 2, 3}, Sequence: 77}
	decoded, err := DecodeHeadValue(head.Encode())
	require.NoError(t, err)
	require.Equal(t, head, decoded)
}

func TestBalanceValueRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		value *big.Int
	}{
		{name: "zero", value: big.NewInt(0)},
		{name: "positive", value: big.NewInt(2000000000)},
		{name: "negative", value: big.NewInt(-987654321)},
		{name: "wide", value: new(big.Int).Lsh(big.NewInt(1), 100)},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			balance := &BalanceValue{
				Unconfirmed: test.value,
				BlockHash:   chainhash.Hash{9},
				Sequence:    12,
			}
			decoded, err := DecodeBalanceValue(balance.Encode())
			require.NoError(t, err)
			require.Equal(t, 0, balance.Unconfirmed.Cmp(decoded.Unconfirmed))
			require.Equal(t, balance.BlockHash, decoded.BlockHash)
			require.Equal(t, balance.Sequence, decoded.Sequence)
		})
	}
}

func TestNoteValueRoundTrip(t *testing.T) {
	onChain := &NoteValue{
		AccountID:       "acct-1",
		Spent:           true,
		TransactionHash: chainhash.Hash{4},
		Index:           uint64Ptr(42),
		Nullifier:       hashPtr(chainhash.Hash{5}),
		BlockHash:       hashPtr(chainhash.Hash{6}),
		Sequence:        uint32Ptr(7),
	}
	copy(onChain.Note[:], []byte("serialized note bytes"))

	decoded, err := DecodeNoteValue(onChain.Encode())
	require.NoError(t, err)
	require.Equal(t, onChain, decoded)
	require.True(t, decoded.OnChain())

	pending := &NoteValue{
		AccountID:       "acct-1",
		TransactionHash: chainhash.Hash{4},
	}
	decoded, err = DecodeNoteValue(pending.Encode())
	require.NoError(t, err)
	require.Equal(t, pending, decoded)
	require.False(t, decoded.OnChain())
}

func testWireTransaction() *wire.Transaction {
	return &wire.Transaction{
		Version:    wire.TxVersion,
		Fee:        3,
		Expiration: 90,
		Spends: []wire.Spend{{
			Nullifier: chainhash.Hash{1},
			TreeSize:  4,
		}},
		Outputs: []wire.Output{{
			EncryptedNote: make([]byte, wire.EncryptedNoteSize),
		}},
	}
}

func TestTransactionValueRoundTrip(t *testing.T) {
	assetA := wire.AssetID{0xA}
	assetB := wire.AssetID{0xB}

	onChain := &TransactionValue{
		Transaction:       testWireTransaction(),
		Timestamp:         time.UnixMilli(1600000000000).UTC(),
		BlockHash:         hashPtr(chainhash.Hash{2}),
		Sequence:          uint32Ptr(55),
		SubmittedSequence: 50,
		AssetBalanceDeltas: map[wire.AssetID]int64{
			assetA: -2000,
			assetB: 17,
		},
	}
	decoded, err := DecodeTransactionValue(onChain.Encode())
	require.NoError(t, err)
	require.Equal(t, onChain, decoded)

	pending := &TransactionValue{
		Transaction:        testWireTransaction(),
		Timestamp:          time.UnixMilli(1600000000001).UTC(),
		SubmittedSequence:  50,
		AssetBalanceDeltas: map[wire.AssetID]int64{},
	}
	decoded, err = DecodeTransactionValue(pending.Encode())
	require.NoError(t, err)
	require.Equal(t, pending, decoded)
	require.False(t, decoded.OnChain())
}

func TestAssetValueRoundTrip(t *testing.T) {
	confirmed := &AssetValue{
		ID:                     wire.AssetID{1},
		Name:                   wire.AssetName("gold"),
		Nonce:                  3,
		Creator:                wire.PublicAddress{4},
		Owner:                  wire.PublicAddress{5},
		BlockHash:              hashPtr(chainhash.Hash{6}),
		Sequence:               uint32Ptr(7),
		CreatedTransactionHash: hashPtr(chainhash.Hash{8}),
		Supply:                 uint64Ptr(100),
	}
	decoded, err := DecodeAssetValue(confirmed.Encode())
	require.NoError(t, err)
	require.Equal(t, confirmed, decoded)

	holder := &AssetValue{
		ID:      wire.AssetID{1},
		Name:    wire.AssetName("gold"),
		Creator: wire.PublicAddress{4},
		Owner:   wire.PublicAddress{4},
	}
	decoded, err = DecodeAssetValue(holder.Encode())
	require.NoError(t, err)
	require.Equal(t, holder, decoded)
	require.Nil(t, decoded.Supply)
}

func TestAccountValueRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		account *AccountValue
	}{
		{
			name: "spending account",
			account: &AccountValue{
				Version:         accountValueVersion,
				ID:              "id-1",
				Name:            "default",
				SpendingKey:     bytesPtr([]byte("spend")),
				ViewKey:         []byte("view"),
				IncomingViewKey: []byte("ivk"),
				OutgoingViewKey: []byte("ovk"),
				PublicAddress:   wire.PublicAddress{1},
				ScanningEnabled: true,
			},
		},
		{
			name: "view only with birthday",
			account: &AccountValue{
				Version:         accountValueVersion,
				ID:              "id-2",
				Name:            "watcher",
				ViewKey:         []byte("view"),
				IncomingViewKey: []byte("ivk"),
				OutgoingViewKey: []byte("ovk"),
				PublicAddress:   wire.PublicAddress{2},
				CreatedAt: &HeadValue{
					Hash:     chainhash.Hash{3},
					Sequence: 1000,
				},
				ProofAuthorizingKey: bytesPtr([]byte("pak")),
			},
		},
		{
			name: "multisig signer",
			account: &AccountValue{
				Version:         accountValueVersion,
				ID:              "id-3",
				Name:            "frost",
				ViewKey:         []byte("view"),
				IncomingViewKey: []byte("ivk"),
				OutgoingViewKey: []byte("ovk"),
				PublicAddress:   wire.PublicAddress{3},
				ScanningEnabled: true,
				MultisigKeys: &MultisigKeys{
					Variant:          MultisigSigner,
					Secret:           []byte("secret"),
					KeyPackage:       []byte("kp"),
					PublicKeyPackage: []byte("pkp"),
				},
			},
		},
		{
			name: "multisig coordinator",
			account: &AccountValue{
				Version:         accountValueVersion,
				ID:              "id-4",
				Name:            "coordinator",
				ViewKey:         []byte("view"),
				IncomingViewKey: []byte("ivk"),
				OutgoingViewKey: []byte("ovk"),
				MultisigKeys: &MultisigKeys{
					Variant:          MultisigCoordinator,
					PublicKeyPackage: []byte("pkp"),
				},
			},
		},
		{
			name: "multisig hardware signer",
			account: &AccountValue{
				Version:         accountValueVersion,
				ID:              "id-5",
				Name:            "ledger",
				ViewKey:         []byte("view"),
				IncomingViewKey: []byte("ivk"),
				OutgoingViewKey: []byte("ovk"),
				MultisigKeys: &MultisigKeys{
					Variant:          MultisigHardwareSigner,
					Identity:         []byte("ident"),
					PublicKeyPackage: []byte("pkp"),
				},
			},
		},
		{
			name: "multisig trusted dealer import",
			account: &AccountValue{
				Version:         accountValueVersion,
				ID:              "id-6",
				Name:            "dealer",
				ViewKey:         []byte("view"),
				IncomingViewKey: []byte("ivk"),
				OutgoingViewKey: []byte("ovk"),
				MultisigKeys: &MultisigKeys{
					Variant:          MultisigTrustedDealerImport,
					Identity:         []byte("ident"),
					KeyPackage:       []byte("kp"),
					PublicKeyPackage: []byte("pkp"),
				},
			},
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			decoded, err := DecodeAccountValue(test.account.Encode())
			require.NoError(t, err)
			require.Equal(t, test.account, decoded)
		})
	}
}

func TestAccountPrefixStability(t *testing.T) {
	p1 := AccountPrefix("account-id")
	p2 := AccountPrefix("account-id")
	require.Equal(t, p1, p2)
	require.NotEqual(t, p1, AccountPrefix("other-id"))
}
