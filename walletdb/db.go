package walletdb

import (
	"bytes"
	"context"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// currentDatabaseVersion is the schema version this build reads and writes.
// Opening a database with any other version fails.
const currentDatabaseVersion uint32 = 1

// Meta row names.
const (
	metaVersionName        = "version"
	metaDefaultAccountName = "defaultAccountId"
	metaAccountsEncrypted  = "accountsEncrypted"
)

// DB is the wallet's persistent store, an ordered embedded key-value
// database. Every mutation that touches more than one store runs inside a
// single badger transaction; readers get snapshot views.
type DB struct {
	db *badger.DB

	// mtx guards the envelope state below.
	mtx        sync.Mutex
	passphrase []byte
	encrypted  bool
}

// badgerSlogger adapts the package logger to badger's Logger interface.
type badgerSlogger struct{}

func (badgerSlogger) Errorf(format string, args ...interface{})   { log.Errorf(format, args...) }
func (badgerSlogger) Warningf(format string, args ...interface{}) { log.Warnf(format, args...) }
func (badgerSlogger) Infof(format string, args ...interface{})    { log.Debugf(format, args...) }
func (badgerSlogger) Debugf(format string, args ...interface{})   { log.Tracef(format, args...) }

// Open opens (creating if necessary) the wallet database in dir.
func Open(dir string) (*DB, error) {
	return open(dir, false)
}

// OpenReadOnly opens an existing wallet database without write access.
func OpenReadOnly(dir string) (*DB, error) {
	return open(dir, true)
}

func open(dir string, readOnly bool) (*DB, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(badgerSlogger{}).
		WithReadOnly(readOnly)

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	d := &DB{db: bdb}
	if err := d.checkVersion(readOnly); err != nil {
		bdb.Close()
		return nil, err
	}
	if err := d.loadEncryptedFlag(); err != nil {
		bdb.Close()
		return nil, err
	}

	log.Infof("Opened wallet database at %s (schema version %d)", dir,
		currentDatabaseVersion)
	return d, nil
}

func (d *DB) checkVersion(readOnly bool) error {
	check := func(txn *badger.Txn) error {
		raw, err := getItem(txn, metaKey(metaVersionName))
		if err != nil {
			return err
		}
		if raw == nil {
			if readOnly {
				return ErrUnsupportedVersion
			}
			return txn.Set(metaKey(metaVersionName),
				uint32Key(currentDatabaseVersion))
		}
		if len(raw) != 4 {
			return corruptf("meta version row has length %d", len(raw))
		}
		r := bytes.NewReader(raw)
		version, err := getUint32(r)
		if err != nil {
			return err
		}
		if version != currentDatabaseVersion {
			log.Errorf("Wallet database version %d is not supported "+
				"(want %d)", version, currentDatabaseVersion)
			return ErrUnsupportedVersion
		}
		return nil
	}
	if readOnly {
		return d.db.View(check)
	}
	return d.db.Update(check)
}

func (d *DB) loadEncryptedFlag() error {
	return d.db.View(func(txn *badger.Txn) error {
		raw, err := getItem(txn, metaKey(metaAccountsEncrypted))
		if err != nil {
			return err
		}
		d.encrypted = len(raw) == 1 && raw[0] == 1
		return nil
	})
}

// Close flushes and closes the backing store.
func (d *DB) Close() error {
	return d.db.Close()
}

// Update runs fn inside a single read-write transaction. All multi-store
// mutations in the wallet go through here so they commit atomically.
func (d *DB) Update(fn func(txn *badger.Txn) error) error {
	return d.db.Update(fn)
}

// View runs fn against a consistent snapshot of the store.
func (d *DB) View(fn func(txn *badger.Txn) error) error {
	return d.db.View(fn)
}

// RunValueLogGC reclaims badger value log space; the wallet scheduler does
// not call it. A return of badger.ErrNoRewrite simply means nothing needed
// collecting.
func (d *DB) RunValueLogGC(discardRatio float64) error {
	return d.db.RunValueLogGC(discardRatio)
}

// getItem fetches a key, returning (nil, nil) when it does not exist.
func getItem(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

// hasKey reports key existence without reading the value.
func hasKey(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// forEachPrefix iterates every key beginning with prefix in lexicographic
// order, checking ctx between items. fn receives the full key and value.
func forEachPrefix(ctx context.Context, txn *badger.Txn, prefix []byte,
	fn func(key, value []byte) error) error {

	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		item := it.Item()
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := fn(item.KeyCopy(nil), value); err != nil {
			return err
		}
	}
	return nil
}

// forEachRange iterates keys in [start, upper] inclusive, checking ctx
// between items.
func forEachRange(ctx context.Context, txn *badger.Txn, start, upper []byte,
	fn func(key, value []byte) error) error {

	opts := badger.DefaultIteratorOptions
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(start); it.Valid(); it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		item := it.Item()
		key := item.KeyCopy(nil)
		if bytes.Compare(key, upper) > 0 {
			return nil
		}
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return nil
}

// errStopIteration is used internally to break out of forEach loops early.
var errStopIteration = &stopIteration{}

type stopIteration struct{}

func (*stopIteration) Error() string { return "stop iteration" }
