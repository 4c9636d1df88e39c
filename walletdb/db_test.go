package walletdb

import (
	"context"
	"testing"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
	"github.com/umbra-network/umbrad/wire"
)

type dbHarness struct {
	t  *testing.T
	db *DB
}

func newDBHarness(t *testing.T) *dbHarness {
	t.Helper()

	db, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
	})
	return &dbHarness{t: t, db: db}
}

func (h *dbHarness) update(fn func(txn *badger.Txn) error) {
	h.t.Helper()
	require.NoError(h.t, h.db.Update(fn))
}

func (h *dbHarness) view(fn func(txn *badger.Txn) error) {
	h.t.Helper()
	require.NoError(h.t, h.db.View(fn))
}

func (h *dbHarness) putAccount(account *AccountValue) {
	h.t.Helper()
	h.update(func(txn *badger.Txn) error {
		return h.db.PutAccount(txn, account)
	})
}

func testAccount(id, name string) *AccountValue {
	return &AccountValue{
		Version:         accountValueVersion,
		ID:              id,
		Name:            name,
		SpendingKey:     bytesPtr([]byte("spend-" + id)),
		ViewKey:         []byte("view-" + id),
		IncomingViewKey: []byte("ivk-" + id),
		OutgoingViewKey: []byte("ovk-" + id),
		ScanningEnabled: true,
	}
}

func TestAccountPersistence(t *testing.T) {
	h := newDBHarness(t)
	account := testAccount("id-1", "default")
	h.putAccount(account)

	h.view(func(txn *badger.Txn) error {
		loaded, err := h.db.GetAccount(txn, "id-1")
		require.NoError(t, err)
		require.Equal(t, account, loaded)

		missing, err := h.db.GetAccount(txn, "nope")
		require.NoError(t, err)
		require.Nil(t, missing)
		return nil
	})
}

func TestAccountEncryptionEnvelope(t *testing.T) {
	h := newDBHarness(t)
	account := testAccount("id-1", "default")
	h.putAccount(account)

	passphrase := []byte("correct horse battery staple")
	require.NoError(t, h.db.EncryptAccounts(passphrase))
	require.True(t, h.db.AccountsEncrypted())

	// Unlocked: records read back as the original.
	h.view(func(txn *badger.Txn) error {
		loaded, err := h.db.GetAccount(txn, "id-1")
		require.NoError(t, err)
		require.Equal(t, account, loaded)
		return nil
	})

	// Locked: reads fail.
	h.db.Lock()
	require.True(t, h.db.Locked())
	err := h.db.View(func(txn *badger.Txn) error {
		_, err := h.db.GetAccount(txn, "id-1")
		return err
	})
	require.ErrorIs(t, err, ErrWalletLocked)

	// Wrong passphrase fails deterministically.
	require.ErrorIs(t, h.db.Unlock([]byte("wrong")), ErrAccountDecryptionFailed)
	require.True(t, h.db.Locked())

	// Right passphrase unlocks again.
	require.NoError(t, h.db.Unlock(passphrase))
	h.view(func(txn *badger.Txn) error {
		loaded, err := h.db.GetAccount(txn, "id-1")
		require.NoError(t, err)
		require.Equal(t, account, loaded)
		return nil
	})

	// Back to plaintext.
	require.NoError(t, h.db.DecryptAccounts(passphrase))
	require.False(t, h.db.AccountsEncrypted())
	h.view(func(txn *badger.Txn) error {
		loaded, err := h.db.GetAccount(txn, "id-1")
		require.NoError(t, err)
		require.Equal(t, account, loaded)
		return nil
	})
}

func TestHeadNullRoundTrip(t *testing.T) {
	h := newDBHarness(t)

	h.update(func(txn *badger.Txn) error {
		return h.db.SetHead(txn, "id-1", nil)
	})
	h.view(func(txn *badger.Txn) error {
		head, err := h.db.GetHead(txn, "id-1")
		require.NoError(t, err)
		require.Nil(t, head)
		return nil
	})

	head := &HeadValue{Hash: chainhash.Hash{1}, Sequence: 10}
	h.update(func(txn *badger.Txn) error {
		return h.db.SetHead(txn, "id-1", head)
	})
	h.view(func(txn *badger.Txn) error {
		loaded, err := h.db.GetHead(txn, "id-1")
		require.NoError(t, err)
		require.Equal(t, head, loaded)
		return nil
	})
}

func TestSequenceRangeScans(t *testing.T) {
	h := newDBHarness(t)
	prefix := AccountPrefix("id-1")
	ctx := context.Background()

	noteAt := func(seq uint32, tag byte) chainhash.Hash {
		return chainhash.Hash{tag, byte(seq)}
	}

	h.update(func(txn *badger.Txn) error {
		for _, seq := range []uint32{1, 2, 3, 5, 9} {
			err := h.db.PutSequenceNoteHash(txn, prefix, seq, noteAt(seq, 1))
			if err != nil {
				return err
			}
		}
		return nil
	})

	var got []uint32
	h.view(func(txn *badger.Txn) error {
		return h.db.ForEachNoteHashInSequenceRange(ctx, txn, prefix, 2, 5,
			func(seq uint32, _ chainhash.Hash) error {
				got = append(got, seq)
				return nil
			})
	})
	require.Equal(t, []uint32{2, 3, 5}, got)

	// A different account prefix sees nothing.
	other := AccountPrefix("id-2")
	var leaked []uint32
	h.view(func(txn *badger.Txn) error {
		return h.db.ForEachNoteHashInSequenceRange(ctx, txn, other, 0, 100,
			func(seq uint32, _ chainhash.Hash) error {
				leaked = append(leaked, seq)
				return nil
			})
	})
	require.Empty(t, leaked)
}

func TestPendingExpirationRanges(t *testing.T) {
	h := newDBHarness(t)
	prefix := AccountPrefix("id-1")
	ctx := context.Background()

	h.update(func(txn *badger.Txn) error {
		for i, expiration := range []uint32{0, 5, 10} {
			err := h.db.PutPendingTransactionHash(txn, prefix, expiration,
				chainhash.Hash{byte(i + 1)})
			if err != nil {
				return err
			}
		}
		return nil
	})

	// All pending, including the no-expiration bucket at zero.
	var all []uint32
	h.view(func(txn *badger.Txn) error {
		return h.db.ForEachPendingTransactionHash(ctx, txn, prefix,
			func(expiration uint32, _ chainhash.Hash) error {
				all = append(all, expiration)
				return nil
			})
	})
	require.Equal(t, []uint32{0, 5, 10}, all)

	// Expired at head 7: only the entry at 5. Zero never expires.
	var expired []uint32
	h.view(func(txn *badger.Txn) error {
		return h.db.ForEachExpiredTransactionHash(ctx, txn, prefix, 7,
			func(expiration uint32, _ chainhash.Hash) error {
				expired = append(expired, expiration)
				return nil
			})
	})
	require.Equal(t, []uint32{5}, expired)
}

func TestUnspentNotesOrderedByValue(t *testing.T) {
	h := newDBHarness(t)
	prefix := AccountPrefix("id-1")
	assetID := wire.NativeAssetID
	ctx := context.Background()

	h.update(func(txn *badger.Txn) error {
		for i, value := range []uint64{500, 20, 90000, 3} {
			err := h.db.PutUnspentNoteHash(txn, prefix, assetID, value,
				chainhash.Hash{byte(i + 1)})
			if err != nil {
				return err
			}
		}
		return nil
	})

	var values []uint64
	h.view(func(txn *badger.Txn) error {
		return h.db.ForEachUnspentNoteHash(ctx, txn, prefix, assetID,
			func(value uint64, _ chainhash.Hash) error {
				values = append(values, value)
				return nil
			})
	})
	require.Equal(t, []uint64{3, 20, 500, 90000}, values)
}

func TestCleanupDeletedAccounts(t *testing.T) {
	h := newDBHarness(t)
	ctx := context.Background()

	doomed := testAccount("doomed", "doomed")
	keeper := testAccount("keeper", "keeper")
	h.putAccount(doomed)
	h.putAccount(keeper)

	doomedPrefix := AccountPrefix("doomed")
	keeperPrefix := AccountPrefix("keeper")

	// Seed rows across the sharded stores for both accounts.
	h.update(func(txn *badger.Txn) error {
		for i := 0; i < 25; i++ {
			hash := chainhash.Hash{byte(i)}
			note := &NoteValue{AccountID: "doomed", TransactionHash: hash}
			if err := h.db.PutNote(txn, doomedPrefix, hash, note); err != nil {
				return err
			}
			err := h.db.PutSequenceNoteHash(txn, doomedPrefix, uint32(i), hash)
			if err != nil {
				return err
			}
		}
		keeperNote := &NoteValue{AccountID: "keeper", TransactionHash: chainhash.Hash{9}}
		return h.db.PutNote(txn, keeperPrefix, chainhash.Hash{9}, keeperNote)
	})

	require.NoError(t, h.db.RemoveAccount("doomed"))

	// The catalogue row is gone immediately.
	h.view(func(txn *badger.Txn) error {
		loaded, err := h.db.GetAccount(txn, "doomed")
		require.NoError(t, err)
		require.Nil(t, loaded)
		return nil
	})

	// Drain the queue in small batches until the tombstone clears.
	for i := 0; i < 100; i++ {
		deleted, err := h.db.CleanupDeletedAccounts(ctx, 10)
		require.NoError(t, err)
		if deleted == 0 {
			break
		}
	}

	var tombstones []string
	h.view(func(txn *badger.Txn) error {
		return h.db.ForEachCleanupTombstone(ctx, txn, func(id string) error {
			tombstones = append(tombstones, id)
			return nil
		})
	})
	require.Empty(t, tombstones)

	// Every doomed key is gone; the keeper's rows are untouched.
	h.view(func(txn *badger.Txn) error {
		count := 0
		err := h.db.ForEachNote(ctx, txn, doomedPrefix,
			func(chainhash.Hash, *NoteValue) error {
				count++
				return nil
			})
		require.NoError(t, err)
		require.Zero(t, count)

		keeperCount := 0
		err = h.db.ForEachNote(ctx, txn, keeperPrefix,
			func(chainhash.Hash, *NoteValue) error {
				keeperCount++
				return nil
			})
		require.NoError(t, err)
		require.Equal(t, 1, keeperCount)
		return nil
	})
}

func TestCleanupHonorsCancellation(t *testing.T) {
	h := newDBHarness(t)

	h.putAccount(testAccount("doomed", "doomed"))
	require.NoError(t, h.db.RemoveAccount("doomed"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.db.CleanupDeletedAccounts(ctx, 10)
	require.ErrorIs(t, err, context.Canceled)
}

func TestReopenPersistence(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(dir)
	require.NoError(t, err)
	account := testAccount("id-1", "default")
	require.NoError(t, db.Update(func(txn *badger.Txn) error {
		if err := db.PutAccount(txn, account); err != nil {
			return err
		}
		return db.SetDefaultAccountID(txn, "id-1")
	}))
	require.NoError(t, db.Close())

	db, err = Open(dir)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.View(func(txn *badger.Txn) error {
		loaded, err := db.GetAccount(txn, "id-1")
		require.NoError(t, err)
		require.Equal(t, account, loaded)

		defaultID, err := db.DefaultAccountID(txn)
		require.NoError(t, err)
		require.Equal(t, "id-1", defaultID)
		return nil
	}))
}
