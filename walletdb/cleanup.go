package walletdb

import (
	"context"

	"github.com/dgraph-io/badger/v4"
)

// RemoveAccount tombstones an account for asynchronous cleanup. Three writes
// happen atomically: the catalogue row and scan head go away, the account's
// balance rows are cleared, and a tombstone enters the cleanup queue. The
// bulk of the account's keys is purged incrementally by
// CleanupDeletedAccounts.
func (d *DB) RemoveAccount(accountID string) error {
	prefix := AccountPrefix(accountID)
	return d.Update(func(txn *badger.Txn) error {
		if err := deleteIgnoreMissing(txn, accountKey(accountID)); err != nil {
			return err
		}
		if err := d.DeleteHead(txn, accountID); err != nil {
			return err
		}

		var balanceKeys [][]byte
		scan := keyJoin(balancesPrefix, prefix[:])
		err := forEachPrefix(context.Background(), txn, scan,
			func(key, _ []byte) error {
				balanceKeys = append(balanceKeys, key)
				return nil
			})
		if err != nil {
			return err
		}
		for _, key := range balanceKeys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}

		return txn.Set(cleanupKey(accountID), nil)
	})
}

// TombstoneAccount queues an account id for incremental cleanup without
// touching the catalogue. Account resets use it after re-keying.
func (d *DB) TombstoneAccount(txn *badger.Txn, accountID string) error {
	return txn.Set(cleanupKey(accountID), nil)
}

// ForEachCleanupTombstone iterates account ids queued for cleanup.
func (d *DB) ForEachCleanupTombstone(ctx context.Context, txn *badger.Txn,
	fn func(accountID string) error) error {

	return forEachPrefix(ctx, txn, accountIdsToCleanupPrefix,
		func(key, _ []byte) error {
			return fn(string(key[len(accountIdsToCleanupPrefix):]))
		})
}

// CleanupDeletedAccounts deletes up to limit keys belonging to tombstoned
// accounts and removes each tombstone once its prefix range is fully
// cleared. It returns the number of keys deleted. Cancellation between
// batches leaves the queue consistent; the next call picks up where this
// one stopped.
func (d *DB) CleanupDeletedAccounts(ctx context.Context, limit int) (int, error) {
	var accountIDs []string
	err := d.View(func(txn *badger.Txn) error {
		return d.ForEachCleanupTombstone(ctx, txn, func(accountID string) error {
			accountIDs = append(accountIDs, accountID)
			return nil
		})
	})
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, accountID := range accountIDs {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}

		n, done, err := d.cleanupAccount(ctx, accountID, limit-deleted)
		deleted += n
		if err != nil {
			return deleted, err
		}
		if done {
			log.Debugf("Finished cleaning up removed account %s", accountID)
		}
		if deleted >= limit {
			return deleted, nil
		}
	}
	return deleted, nil
}

// cleanupAccount removes up to budget keys from one account's sharded
// ranges. done is true when the tombstone itself was removed.
func (d *DB) cleanupAccount(ctx context.Context, accountID string,
	budget int) (int, bool, error) {

	if budget <= 0 {
		return 0, false, nil
	}
	prefix := AccountPrefix(accountID)

	deleted := 0
	remaining := false
	err := d.Update(func(txn *badger.Txn) error {
		deleted = 0
		remaining = false

		var doomed [][]byte
		for _, scan := range accountShardedPrefixes(prefix) {
			if deleted+len(doomed) >= budget {
				remaining = true
				break
			}
			err := forEachPrefix(ctx, txn, scan, func(key, _ []byte) error {
				if deleted+len(doomed) >= budget {
					remaining = true
					return errStopIteration
				}
				doomed = append(doomed, key)
				return nil
			})
			if err != nil && err != errStopIteration {
				return err
			}
		}

		for _, key := range doomed {
			if err := txn.Delete(key); err != nil {
				return err
			}
			deleted++
		}

		if !remaining {
			return deleteIgnoreMissing(txn, cleanupKey(accountID))
		}
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return deleted, !remaining, nil
}
