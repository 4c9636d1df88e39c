package wallet

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/dgraph-io/badger/v4"
	"github.com/umbra-network/umbrad/monitoring"
	"github.com/umbra-network/umbrad/walletdb"
	"github.com/umbra-network/umbrad/wire"
)

// Config tunes the wallet engine.
type Config struct {
	// Confirmations is the default confirmation count for balance
	// queries and note selection.
	Confirmations uint32

	// RebroadcastAfter is how many blocks a pending transaction must sit
	// unconfirmed before it is rebroadcast.
	RebroadcastAfter uint32

	// ExpirationDelta is the default number of blocks ahead of the head
	// a created transaction expires at. Zero disables expiration.
	ExpirationDelta uint32

	// CleanupBatch caps how many keys of removed accounts are purged per
	// scheduler tick.
	CleanupBatch int

	// TickInterval is the pause between scheduler ticks.
	TickInterval time.Duration

	// DecryptWorkers bounds how many accounts decrypt a block's notes in
	// parallel.
	DecryptWorkers int

	// DecryptForSpender also recovers outputs the account sent to others
	// through its outgoing view key.
	DecryptForSpender bool

	// Metrics receives engine gauges and counters when set.
	Metrics *monitoring.WalletMetrics
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() *Config {
	return &Config{
		Confirmations:     2,
		RebroadcastAfter:  10,
		ExpirationDelta:   15,
		CleanupBatch:      1000,
		TickInterval:      time.Second,
		DecryptWorkers:    4,
		DecryptForSpender: true,
	}
}

// Wallet is the engine: it follows the chain through its processor,
// maintains per-account indexes in the store, answers balance queries and
// builds transactions. One Wallet owns one store; chain, worker pool,
// mempool and peer network are injected capabilities.
type Wallet struct {
	started atomic.Bool

	cfg     *Config
	db      *walletdb.DB
	chain   Chain
	workers WorkerPool
	mempool Mempool
	peers   PeerNetwork
	metrics *monitoring.WalletMetrics

	processor *ChainProcessor

	mtx              sync.RWMutex
	accounts         map[string]*Account
	defaultAccountID string

	// scanning guards mutual exclusion between the foreground rescan and
	// the scheduler's head update.
	scanning atomic.Bool

	createMtx sync.Mutex

	eventMtx               sync.RWMutex
	onAccountImported      []func(*Account)
	onAccountRemoved       []func(*Account)
	onTransactionCreated   []func(*wire.Transaction)
	onBroadcastTransaction []func(*wire.Transaction)
	onScanTransaction      []func(sequence, endSequence uint32)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Open loads the wallet state from the store and wires the chain processor.
// The wallet does not follow the chain until Start.
func Open(cfg *Config, db *walletdb.DB, chain Chain, workers WorkerPool,
	mempool Mempool, peers PeerNetwork) (*Wallet, error) {

	if cfg == nil {
		cfg = DefaultConfig()
	}

	w := &Wallet{
		cfg:      cfg,
		db:       db,
		chain:    chain,
		workers:  workers,
		mempool:  mempool,
		peers:    peers,
		metrics:  cfg.Metrics,
		accounts: make(map[string]*Account),
	}

	err := db.View(func(txn *badger.Txn) error {
		err := db.ForEachAccount(context.Background(), txn,
			func(value *walletdb.AccountValue) error {
				w.accounts[value.ID] = newAccount(db, value)
				return nil
			})
		if err != nil {
			return err
		}
		w.defaultAccountID, err = db.DefaultAccountID(txn)
		return err
	})
	if err != nil {
		return nil, err
	}

	cursor, err := w.earliestHead()
	if err != nil {
		return nil, err
	}
	if cursor == nil {
		w.processor = NewChainProcessor(chain, nil, 0)
	} else {
		hash := cursor.Hash
		w.processor = NewChainProcessor(chain, &hash, cursor.Sequence)
	}
	w.processor.OnAdd(w.connectBlock)
	w.processor.OnRemove(w.disconnectBlock)

	log.Infof("Wallet opened with %d accounts", len(w.accounts))
	return w, nil
}

// earliestHead returns the lowest scan head across accounts, or nil when
// any scanning-enabled account is unscanned.
func (w *Wallet) earliestHead() (*walletdb.HeadValue, error) {
	var earliest *walletdb.HeadValue
	err := w.db.View(func(txn *badger.Txn) error {
		for _, account := range w.accounts {
			if !account.ScanningEnabled() {
				continue
			}
			head, err := account.Head(txn)
			if err != nil {
				return err
			}
			if head == nil {
				earliest = nil
				return errStopIteration
			}
			if earliest == nil || head.Sequence < earliest.Sequence {
				earliest = head
			}
		}
		return nil
	})
	if err != nil && err != errStopIteration {
		return nil, err
	}
	return earliest, nil
}

var errStopIteration = &stopIteration{}

type stopIteration struct{}

func (*stopIteration) Error() string { return "stop iteration" }

// Start launches the scheduler loop. Each tick advances the head, services
// pending transactions and drains a slice of the cleanup queue.
func (w *Wallet) Start() error {
	if !w.started.CompareAndSwap(false, true) {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	w.wg.Add(1)
	go w.eventLoop(ctx)

	log.Info("Wallet started")
	return nil
}

// Stop aborts the scheduler and waits for the in-flight tick.
func (w *Wallet) Stop() error {
	if !w.started.CompareAndSwap(true, false) {
		return nil
	}
	w.cancel()
	w.wg.Wait()
	log.Info("Wallet stopped")
	return nil
}

// Close stops the wallet if needed and closes the store.
func (w *Wallet) Close() error {
	if err := w.Stop(); err != nil {
		return err
	}
	return w.db.Close()
}

// eventLoop is the single cooperative task driving the engine.
func (w *Wallet) eventLoop(ctx context.Context) {
	defer w.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if err := w.tick(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			var corruption *walletdb.CorruptionError
			if errors.As(err, &corruption) {
				log.Criticalf("Halting wallet event loop: %v", corruption)
				return
			}
			log.Errorf("Wallet tick failed: %v", err)
		}

		timer.Reset(w.cfg.TickInterval)
	}
}

func (w *Wallet) tick(ctx context.Context) error {
	if err := w.updateHead(ctx); err != nil {
		return err
	}
	return w.cleanupDeletedAccounts(ctx)
}

// updateHead advances the processor unless a foreground rescan holds the
// exclusion flag, then services pending transactions at the new head.
func (w *Wallet) updateHead(ctx context.Context) error {
	if !w.scanning.CompareAndSwap(false, true) {
		return nil
	}
	defer w.scanning.Store(false)

	changed, err := w.processor.Update(ctx)
	if err != nil {
		if errors.Is(err, ErrNoGenesis) {
			return nil
		}
		return err
	}
	if !changed {
		return nil
	}

	head, err := w.chain.Head()
	if err != nil {
		if errors.Is(err, ErrNoGenesis) {
			return nil
		}
		return err
	}
	if err := w.expireTransactions(ctx, head.Sequence); err != nil {
		return err
	}
	return w.rebroadcastTransactions(ctx, head)
}

// cleanupDeletedAccounts drains a bounded slice of the tombstone queue.
func (w *Wallet) cleanupDeletedAccounts(ctx context.Context) error {
	deleted, err := w.db.CleanupDeletedAccounts(ctx, w.cfg.CleanupBatch)
	if err != nil {
		return err
	}
	if deleted > 0 {
		log.Debugf("Cleanup removed %d keys of deleted accounts", deleted)
	}
	return nil
}

// ScanTransactions runs a foreground rescan from the earliest account head
// (or the supplied start hash) up to the processor's current tip, emitting
// per block progress. It excludes the scheduler's head update while it
// runs.
func (w *Wallet) ScanTransactions(ctx context.Context, fromHash *chainhash.Hash) error {
	if !w.scanning.CompareAndSwap(false, true) {
		return ErrScanInProgress
	}
	defer w.scanning.Store(false)

	tip := w.processor.Hash()
	if tip == nil {
		return ErrNoGenesis
	}
	endSequence := w.processor.Sequence()

	var start *wire.BlockHeader
	if fromHash != nil {
		header, err := w.chain.GetHeader(*fromHash)
		if err != nil {
			return err
		}
		if header == nil {
			return ErrNoGenesis
		}
		start = header
	} else {
		genesis, err := w.chain.GetHeaderAtSequence(wire.GenesisSequence)
		if err != nil {
			return err
		}
		if genesis == nil {
			return ErrNoGenesis
		}
		earliest, err := w.earliestHead()
		if err != nil {
			return err
		}
		if earliest == nil {
			start = genesis
		} else {
			header, err := w.chain.GetHeaderAtSequence(earliest.Sequence + 1)
			if err != nil {
				return err
			}
			if header == nil {
				return nil
			}
			start = header
		}
	}

	log.Infof("Scanning transactions from sequence %d to %d",
		start.Sequence, endSequence)

	return w.chain.IterateBlockHeaders(ctx, start.Hash, *tip,
		func(header *wire.BlockHeader) error {
			if err := w.connectBlock(ctx, header); err != nil {
				return err
			}
			w.emitScanTransaction(header.Sequence, endSequence)
			return ctx.Err()
		})
}

// ---------------------------------------------------------------------------
// accounts

// AccountKeys carries the key material of a new or imported account. Key
// generation itself happens outside the engine.
type AccountKeys struct {
	SpendingKey         *[]byte
	ViewKey             []byte
	IncomingViewKey     []byte
	OutgoingViewKey     []byte
	PublicAddress       wire.PublicAddress
	ProofAuthorizingKey *[]byte
	MultisigKeys        *walletdb.MultisigKeys
}

// ImportAccount registers an account from external key material. The
// account always starts unscanned; a createdAt birthday only lets the scan
// skip trial decryption of blocks before it. Duplicate names and keys are
// rejected.
func (w *Wallet) ImportAccount(name string, keys *AccountKeys,
	createdAt *walletdb.HeadValue) (*Account, error) {

	w.mtx.Lock()
	defer w.mtx.Unlock()

	for _, existing := range w.accounts {
		if existing.Name() == name {
			return nil, ErrDuplicateAccountName
		}
		if keys.SpendingKey != nil && existing.value.SpendingKey != nil &&
			bytes.Equal(*existing.value.SpendingKey, *keys.SpendingKey) {
			return nil, ErrDuplicateSpendingKey
		}
		if bytes.Equal(existing.value.ViewKey, keys.ViewKey) {
			return nil, ErrDuplicateViewKey
		}
	}

	id, err := newAccountID()
	if err != nil {
		return nil, err
	}
	value := &walletdb.AccountValue{
		Version:             accountRecordVersion,
		ID:                  id,
		Name:                name,
		SpendingKey:         keys.SpendingKey,
		ViewKey:             keys.ViewKey,
		IncomingViewKey:     keys.IncomingViewKey,
		OutgoingViewKey:     keys.OutgoingViewKey,
		PublicAddress:       keys.PublicAddress,
		ProofAuthorizingKey: keys.ProofAuthorizingKey,
		CreatedAt:           createdAt,
		ScanningEnabled:     true,
		MultisigKeys:        keys.MultisigKeys,
	}

	account := newAccount(w.db, value)
	err = w.db.Update(func(txn *badger.Txn) error {
		if err := w.db.PutAccount(txn, value); err != nil {
			return err
		}
		// A birthday lets the scan skip decryption up to it, but the
		// head still walks from genesis.
		if err := w.db.SetHead(txn, id, nil); err != nil {
			return err
		}
		if w.defaultAccountID == "" {
			w.defaultAccountID = id
			return w.db.SetDefaultAccountID(txn, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.accounts[id] = account
	w.emitAccountImported(account)
	log.Infof("Imported account %s (%s)", name, newLogClosure(func() string {
		return spew.Sdump(value.PublicAddress)
	}))
	return account, nil
}

// accountRecordVersion is written into newly created account records.
const accountRecordVersion uint16 = 4

// RemoveAccount tombstones an account; its keys are purged incrementally by
// the scheduler.
func (w *Wallet) RemoveAccount(name string) error {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	account, err := w.getAccountByNameLocked(name)
	if err != nil {
		return err
	}
	if err := w.db.RemoveAccount(account.ID()); err != nil {
		return err
	}
	delete(w.accounts, account.ID())

	if w.defaultAccountID == account.ID() {
		w.defaultAccountID = ""
		err := w.db.Update(func(txn *badger.Txn) error {
			return w.db.SetDefaultAccountID(txn, "")
		})
		if err != nil {
			return err
		}
	}

	w.emitAccountRemoved(account)
	log.Infof("Removed account %s", name)
	return nil
}

// resetAccount rebuilds an account under a fresh id, retaining its keys but
// abandoning every index, and queues the old id for cleanup. Used when a
// birthday turns out to sit on a forked branch.
func (w *Wallet) resetAccount(account *Account) error {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	oldID := account.ID()
	newID, err := newAccountID()
	if err != nil {
		return err
	}

	value := *account.value
	value.ID = newID
	value.CreatedAt = nil
	fresh := newAccount(w.db, &value)

	err = w.db.Update(func(txn *badger.Txn) error {
		if err := w.db.DeleteAccountRecord(txn, oldID); err != nil {
			return err
		}
		if err := w.db.DeleteHead(txn, oldID); err != nil {
			return err
		}
		if err := w.db.PutAccount(txn, &value); err != nil {
			return err
		}
		if err := w.db.SetHead(txn, newID, nil); err != nil {
			return err
		}
		if w.defaultAccountID == oldID {
			w.defaultAccountID = newID
			if err := w.db.SetDefaultAccountID(txn, newID); err != nil {
				return err
			}
		}
		return w.db.TombstoneAccount(txn, oldID)
	})
	if err != nil {
		return err
	}

	delete(w.accounts, oldID)
	w.accounts[newID] = fresh

	log.Warnf("Account %s was born on a forked branch; reset for rescan",
		account.Name())
	return nil
}

// RenameAccount changes an account's display name.
func (w *Wallet) RenameAccount(name, newName string) error {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	for _, existing := range w.accounts {
		if existing.Name() == newName {
			return ErrDuplicateAccountName
		}
	}
	account, err := w.getAccountByNameLocked(name)
	if err != nil {
		return err
	}
	account.value.Name = newName
	return w.db.Update(func(txn *badger.Txn) error {
		return w.db.PutAccount(txn, account.value)
	})
}

// SetDefaultAccount records which account operations use when none is
// named.
func (w *Wallet) SetDefaultAccount(name string) error {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	account, err := w.getAccountByNameLocked(name)
	if err != nil {
		return err
	}
	w.defaultAccountID = account.ID()
	return w.db.Update(func(txn *badger.Txn) error {
		return w.db.SetDefaultAccountID(txn, account.ID())
	})
}

// DefaultAccount returns the default account, or nil when none is set.
func (w *Wallet) DefaultAccount() *Account {
	w.mtx.RLock()
	defer w.mtx.RUnlock()
	return w.accounts[w.defaultAccountID]
}

// GetAccountByName resolves an account by display name.
func (w *Wallet) GetAccountByName(name string) (*Account, error) {
	w.mtx.RLock()
	defer w.mtx.RUnlock()
	return w.getAccountByNameLocked(name)
}

func (w *Wallet) getAccountByNameLocked(name string) (*Account, error) {
	for _, account := range w.accounts {
		if account.Name() == name {
			return account, nil
		}
	}
	return nil, ErrUnknownAccount
}

// Accounts returns a snapshot of all accounts.
func (w *Wallet) Accounts() []*Account {
	return w.accountList()
}

func (w *Wallet) accountList() []*Account {
	w.mtx.RLock()
	defer w.mtx.RUnlock()
	accounts := make([]*Account, 0, len(w.accounts))
	for _, account := range w.accounts {
		accounts = append(accounts, account)
	}
	if w.metrics != nil {
		w.metrics.Accounts.Set(float64(len(accounts)))
	}
	return accounts
}

func (w *Wallet) accountHead(account *Account) (*walletdb.HeadValue, error) {
	var head *walletdb.HeadValue
	err := w.db.View(func(txn *badger.Txn) error {
		var err error
		head, err = account.Head(txn)
		return err
	})
	return head, err
}

// GetBalance derives one asset's balance for an account at its own scan
// head.
func (w *Wallet) GetBalance(ctx context.Context, account *Account,
	assetID wire.AssetID, confirmations uint32) (*Balance, error) {

	var balance *Balance
	err := w.db.View(func(txn *badger.Txn) error {
		head, err := account.Head(txn)
		if err != nil {
			return err
		}
		balance, err = account.Balance(ctx, txn, assetID, head, confirmations)
		return err
	})
	return balance, err
}

// GetBalances derives every asset balance for an account at its own scan
// head.
func (w *Wallet) GetBalances(ctx context.Context, account *Account,
	confirmations uint32) ([]*Balance, error) {

	var balances []*Balance
	err := w.db.View(func(txn *badger.Txn) error {
		head, err := account.Head(txn)
		if err != nil {
			return err
		}
		balances, err = account.Balances(ctx, txn, head, confirmations)
		return err
	})
	return balances, err
}

// ---------------------------------------------------------------------------
// events

// OnAccountImported registers a listener for account imports.
func (w *Wallet) OnAccountImported(fn func(*Account)) {
	w.eventMtx.Lock()
	w.onAccountImported = append(w.onAccountImported, fn)
	w.eventMtx.Unlock()
}

// OnAccountRemoved registers a listener for account removals.
func (w *Wallet) OnAccountRemoved(fn func(*Account)) {
	w.eventMtx.Lock()
	w.onAccountRemoved = append(w.onAccountRemoved, fn)
	w.eventMtx.Unlock()
}

// OnTransactionCreated registers a listener for transactions posted by the
// builder.
func (w *Wallet) OnTransactionCreated(fn func(*wire.Transaction)) {
	w.eventMtx.Lock()
	w.onTransactionCreated = append(w.onTransactionCreated, fn)
	w.eventMtx.Unlock()
}

// OnBroadcastTransaction registers a listener for broadcasts.
func (w *Wallet) OnBroadcastTransaction(fn func(*wire.Transaction)) {
	w.eventMtx.Lock()
	w.onBroadcastTransaction = append(w.onBroadcastTransaction, fn)
	w.eventMtx.Unlock()
}

// OnScanTransaction registers a listener for rescan progress.
func (w *Wallet) OnScanTransaction(fn func(sequence, endSequence uint32)) {
	w.eventMtx.Lock()
	w.onScanTransaction = append(w.onScanTransaction, fn)
	w.eventMtx.Unlock()
}

func (w *Wallet) emitAccountImported(account *Account) {
	w.eventMtx.RLock()
	defer w.eventMtx.RUnlock()
	for _, fn := range w.onAccountImported {
		fn(account)
	}
}

func (w *Wallet) emitAccountRemoved(account *Account) {
	w.eventMtx.RLock()
	defer w.eventMtx.RUnlock()
	for _, fn := range w.onAccountRemoved {
		fn(account)
	}
}

func (w *Wallet) emitTransactionCreated(tx *wire.Transaction) {
	w.eventMtx.RLock()
	defer w.eventMtx.RUnlock()
	for _, fn := range w.onTransactionCreated {
		fn(tx)
	}
}

func (w *Wallet) emitBroadcastTransaction(tx *wire.Transaction) {
	w.eventMtx.RLock()
	defer w.eventMtx.RUnlock()
	for _, fn := range w.onBroadcastTransaction {
		fn(tx)
	}
}

func (w *Wallet) emitScanTransaction(sequence, endSequence uint32) {
	w.eventMtx.RLock()
	defer w.eventMtx.RUnlock()
	for _, fn := range w.onScanTransaction {
		fn(sequence, endSequence)
	}
}
