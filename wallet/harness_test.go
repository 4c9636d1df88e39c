package wallet

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
	"github.com/umbra-network/umbrad/walletdb"
	"github.com/umbra-network/umbrad/wire"
	"golang.org/x/crypto/blake2b"
)

// testKeys is the deterministic key bundle of one test identity. The mock
// worker pool resolves decryption and signing through byte equality, which
// is all the engine observes of the real cryptography.
type testKeys struct {
	spending []byte
	view     []byte
	incoming []byte
	outgoing []byte
	address  wire.PublicAddress
}

func newTestKeys(seed byte) *testKeys {
	k := &testKeys{
		spending: []byte{'s', 'p', seed},
		view:     []byte{'v', 'k', seed},
		incoming: []byte{'i', 'v', seed},
		outgoing: []byte{'o', 'v', seed},
	}
	k.address = wire.PublicAddress{0xAD, seed}
	return k
}

func (k *testKeys) accountKeys() *AccountKeys {
	spending := append([]byte(nil), k.spending...)
	return &AccountKeys{
		SpendingKey:     &spending,
		ViewKey:         k.view,
		IncomingViewKey: k.incoming,
		OutgoingViewKey: k.outgoing,
		PublicAddress:   k.address,
	}
}

// encryptNote is the mock note encryption: the plaintext followed by
// padding standing in for the ephemeral key and MAC.
func encryptNote(note *wire.Note) []byte {
	return append(note.Bytes(), make([]byte, wire.EncryptedNoteSize-wire.NoteSize)...)
}

// ---------------------------------------------------------------------------
// mock chain

type mockBlock struct {
	header wire.BlockHeader
	txs    []BlockTransaction
}

type mockChain struct {
	mtx        sync.Mutex
	main       []*mockBlock
	byHash     map[chainhash.Hash]*mockBlock
	nullifiers map[chainhash.Hash]struct{}
}

func newMockChain() *mockChain {
	return &mockChain{
		byHash:     make(map[chainhash.Hash]*mockBlock),
		nullifiers: make(map[chainhash.Hash]struct{}),
	}
}

func blockHash(prev chainhash.Hash, sequence uint32, txs []*wire.Transaction) chainhash.Hash {
	h, _ := blake2b.New256(nil)
	h.Write(prev[:])
	h.Write([]byte{byte(sequence >> 24), byte(sequence >> 16), byte(sequence >> 8),
		byte(sequence)})
	for _, tx := range txs {
		txHash := tx.Hash()
		h.Write(txHash[:])
	}
	var out chainhash.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// extend appends a block with the given transactions after parent. A nil
// parent extends the tip.
func (c *mockChain) extend(parent *mockBlock, txs ...*wire.Transaction) *mockBlock {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	var prevHash chainhash.Hash
	sequence := wire.GenesisSequence
	noteStart := uint64(0)
	if parent == nil && len(c.main) > 0 {
		parent = c.main[len(c.main)-1]
	}
	if parent != nil {
		prevHash = parent.header.Hash
		sequence = parent.header.Sequence + 1
		noteStart = parent.header.NoteSize
	}

	outputs := 0
	for _, tx := range txs {
		outputs += len(tx.Outputs)
	}

	block := &mockBlock{
		header: wire.BlockHeader{
			Sequence:          sequence,
			Hash:              blockHash(prevHash, sequence, txs),
			PreviousBlockHash: prevHash,
			Timestamp: time.UnixMilli(1700000000000 +
				int64(sequence)*60000).UTC(),
			NoteSize: noteStart + uint64(outputs),
		},
	}
	index := noteStart
	for _, tx := range txs {
		block.txs = append(block.txs, BlockTransaction{
			Transaction:      tx,
			InitialNoteIndex: index,
		})
		index += uint64(len(tx.Outputs))
	}
	c.byHash[block.header.Hash] = block
	return block
}

// adopt makes the given chain of blocks the main chain suffix after their
// common ancestor. Blocks must already be linked through extend.
func (c *mockChain) adopt(blocks ...*mockBlock) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	for _, block := range blocks {
		keep := int(block.header.Sequence) - 1
		if keep > len(c.main) {
			panic("adopting a block with a gap in the chain")
		}
		c.main = append(c.main[:keep], block)
	}
	c.rebuildNullifiers()
}

// truncate shrinks the main chain back to length blocks, as a reorg to a
// shorter competing branch would.
func (c *mockChain) truncate(length int) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.main = c.main[:length]
	c.rebuildNullifiers()
}

func (c *mockChain) rebuildNullifiers() {
	c.nullifiers = make(map[chainhash.Hash]struct{})
	for _, block := range c.main {
		for _, bt := range block.txs {
			for i := range bt.Transaction.Spends {
				c.nullifiers[bt.Transaction.Spends[i].Nullifier] = struct{}{}
			}
		}
	}
}

func (c *mockChain) Head() (*HeadRef, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if len(c.main) == 0 {
		return nil, ErrNoGenesis
	}
	tip := c.main[len(c.main)-1]
	return &HeadRef{Hash: tip.header.Hash, Sequence: tip.header.Sequence}, nil
}

func (c *mockChain) HasBlock(hash chainhash.Hash) (bool, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	block, ok := c.byHash[hash]
	if !ok {
		return false, nil
	}
	seq := int(block.header.Sequence)
	return seq <= len(c.main) && c.main[seq-1] == block, nil
}

func (c *mockChain) GetHeader(hash chainhash.Hash) (*wire.BlockHeader, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	block, ok := c.byHash[hash]
	if !ok {
		return nil, nil
	}
	header := block.header
	return &header, nil
}

func (c *mockChain) GetHeaderAtSequence(sequence uint32) (*wire.BlockHeader, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if sequence == 0 || int(sequence) > len(c.main) {
		return nil, nil
	}
	header := c.main[sequence-1].header
	return &header, nil
}

func (c *mockChain) IterateBlockHeaders(ctx context.Context, start,
	end chainhash.Hash, fn func(*wire.BlockHeader) error) error {

	c.mtx.Lock()
	startBlock, ok := c.byHash[start]
	endBlock, okEnd := c.byHash[end]
	c.mtx.Unlock()
	if !ok || !okEnd {
		return nil
	}

	for seq := startBlock.header.Sequence; seq <= endBlock.header.Sequence; seq++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		header, err := c.GetHeaderAtSequence(seq)
		if err != nil {
			return err
		}
		if header == nil {
			return nil
		}
		if err := fn(header); err != nil {
			return err
		}
	}
	return nil
}

func (c *mockChain) GetBlockTransactions(header *wire.BlockHeader) ([]BlockTransaction, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	block, ok := c.byHash[header.Hash]
	if !ok {
		return nil, nil
	}
	return block.txs, nil
}

func (c *mockChain) GetNoteWitness(index uint64, confirmations uint32) (*wire.Witness, error) {
	return &wire.Witness{TreeSize: index + 1}, nil
}

func (c *mockChain) GetAssetByID(id wire.AssetID) (*wire.Asset, error) {
	return nil, nil
}

func (c *mockChain) HasNullifier(nullifier chainhash.Hash) (bool, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	_, ok := c.nullifiers[nullifier]
	return ok, nil
}

// ---------------------------------------------------------------------------
// mock worker pool

type mockWorkerPool struct {
	mtx        sync.Mutex
	byIncoming map[string]*testKeys
	byOutgoing map[string]*testKeys
	bySpending map[string]*testKeys
	randomness uint64
}

func newMockWorkerPool() *mockWorkerPool {
	return &mockWorkerPool{
		byIncoming: make(map[string]*testKeys),
		byOutgoing: make(map[string]*testKeys),
		bySpending: make(map[string]*testKeys),
	}
}

func (p *mockWorkerPool) register(k *testKeys) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.byIncoming[string(k.incoming)] = k
	p.byOutgoing[string(k.outgoing)] = k
	p.bySpending[string(k.spending)] = k
}

func (p *mockWorkerPool) nextRandomness() [32]byte {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.randomness++
	var r [32]byte
	r[0] = byte(p.randomness)
	r[1] = byte(p.randomness >> 8)
	r[2] = byte(p.randomness >> 16)
	r[3] = 0x77
	return r
}

func (p *mockWorkerPool) DecryptNotes(_ context.Context,
	items []DecryptNotesItem) ([]*DecryptedNote, error) {

	results := make([]*DecryptedNote, len(items))
	for i, item := range items {
		note, err := wire.NoteFromBytes(item.SerializedNote[:wire.NoteSize])
		if err != nil {
			return nil, err
		}
		output := wire.Output{EncryptedNote: item.SerializedNote}
		hash := output.Commitment()

		p.mtx.Lock()
		incoming := p.byIncoming[string(item.IncomingViewKey)]
		outgoing := p.byOutgoing[string(item.OutgoingViewKey)]
		p.mtx.Unlock()

		switch {
		case incoming != nil && note.Owner == incoming.address:
			dn := &DecryptedNote{
				Hash:           hash,
				SerializedNote: note.Bytes(),
			}
			if item.CurrentNoteIndex != nil {
				index := *item.CurrentNoteIndex
				nullifier := note.Nullifier(item.ViewKey, index)
				dn.Index = &index
				dn.Nullifier = &nullifier
			}
			results[i] = dn

		case item.DecryptForSpender && outgoing != nil &&
			note.Sender == outgoing.address:
			dn := &DecryptedNote{
				ForSpender:     true,
				Hash:           hash,
				SerializedNote: note.Bytes(),
			}
			if item.CurrentNoteIndex != nil {
				index := *item.CurrentNoteIndex
				dn.Index = &index
			}
			results[i] = dn
		}
	}
	return results, nil
}

func (p *mockWorkerPool) PostTransaction(_ context.Context,
	raw *wire.RawTransaction, spendingKey []byte) (*wire.Transaction, error) {

	p.mtx.Lock()
	spender := p.bySpending[string(spendingKey)]
	p.mtx.Unlock()
	if spender == nil {
		return nil, &ErrInvalidTransaction{Reason: "unknown spending key"}
	}

	tx := &wire.Transaction{
		Version:    wire.TxVersion,
		Fee:        raw.Fee,
		Expiration: raw.Expiration,
		Mints:      raw.Mints,
		Burns:      raw.Burns,
	}

	inTotals := make(map[wire.AssetID]uint64)
	outTotals := make(map[wire.AssetID]uint64)

	for i := range raw.Spends {
		spend := &raw.Spends[i]
		position := spend.Witness.TreeSize - 1
		tx.Spends = append(tx.Spends, wire.Spend{
			Nullifier: spend.Note.Nullifier(spender.view, position),
			RootHash:  spend.Witness.RootHash,
			TreeSize:  spend.Witness.TreeSize,
		})
		inTotals[spend.Note.AssetID] += spend.Note.Value
	}

	for i := range raw.Outputs {
		tx.Outputs = append(tx.Outputs, wire.Output{
			EncryptedNote: encryptNote(raw.Outputs[i].Note),
		})
		outTotals[raw.Outputs[i].Note.AssetID] += raw.Outputs[i].Note.Value
	}

	// Minted value lands with the minter.
	for i := range raw.Mints {
		note := &wire.Note{
			Owner:      spender.address,
			AssetID:    raw.Mints[i].Asset.ID,
			Value:      raw.Mints[i].Value,
			Randomness: p.nextRandomness(),
			Sender:     spender.address,
		}
		tx.Outputs = append(tx.Outputs, wire.Output{
			EncryptedNote: encryptNote(note),
		})
	}

	// Surplus between spends and outputs plus fee and burns returns as
	// change.
	outTotals[wire.NativeAssetID] += raw.Fee
	for i := range raw.Burns {
		outTotals[raw.Burns[i].AssetID] += raw.Burns[i].Value
	}
	for assetID, in := range inTotals {
		out := outTotals[assetID]
		if in < out {
			return nil, &ErrInvalidTransaction{Reason: "overspent asset"}
		}
		if in > out {
			change := &wire.Note{
				Owner:      spender.address,
				AssetID:    assetID,
				Value:      in - out,
				Randomness: p.nextRandomness(),
				Sender:     spender.address,
			}
			tx.Outputs = append(tx.Outputs, wire.Output{
				EncryptedNote: encryptNote(change),
			})
		}
	}
	return tx, nil
}

// ---------------------------------------------------------------------------
// mock node surfaces

type mockMempool struct {
	mtx      sync.Mutex
	accepted []*wire.Transaction
}

func (m *mockMempool) AcceptTransaction(tx *wire.Transaction) (bool, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.accepted = append(m.accepted, tx)
	return true, nil
}

type mockPeers struct {
	mtx       sync.Mutex
	broadcast []*wire.Transaction
}

func (m *mockPeers) BroadcastTransaction(tx *wire.Transaction) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.broadcast = append(m.broadcast, tx)
}

func (m *mockPeers) count() int {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return len(m.broadcast)
}

// ---------------------------------------------------------------------------
// harness

type testHarness struct {
	t       *testing.T
	ctx     context.Context
	db      *walletdb.DB
	chain   *mockChain
	pool    *mockWorkerPool
	mempool *mockMempool
	peers   *mockPeers
	wallet  *Wallet
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	db, err := walletdb.Open(t.TempDir())
	require.NoError(t, err)

	chain := newMockChain()
	pool := newMockWorkerPool()
	mempool := &mockMempool{}
	peers := &mockPeers{}

	cfg := DefaultConfig()
	cfg.Confirmations = 0

	w, err := Open(cfg, db, chain, pool, mempool, peers)
	require.NoError(t, err)
	t.Cleanup(func() {
		w.Close()
	})

	return &testHarness{
		t:       t,
		ctx:     context.Background(),
		db:      db,
		chain:   chain,
		pool:    pool,
		mempool: mempool,
		peers:   peers,
		wallet:  w,
	}
}

// importAccount registers a fresh identity with the worker pool and the
// wallet.
func (h *testHarness) importAccount(name string, seed byte) (*Account, *testKeys) {
	h.t.Helper()

	keys := newTestKeys(seed)
	h.pool.register(keys)
	account, err := h.wallet.ImportAccount(name, keys.accountKeys(), nil)
	require.NoError(h.t, err)
	return account, keys
}

// coinbase builds a miners fee transaction paying value to the identity.
func (h *testHarness) coinbase(keys *testKeys, value uint64) *wire.Transaction {
	note := &wire.Note{
		Owner:      keys.address,
		AssetID:    wire.NativeAssetID,
		Value:      value,
		Randomness: h.pool.nextRandomness(),
	}
	return &wire.Transaction{
		Version: wire.TxVersion,
		Outputs: []wire.Output{{EncryptedNote: encryptNote(note)}},
	}
}

// mine extends the main chain tip with a block holding txs.
func (h *testHarness) mine(txs ...*wire.Transaction) *mockBlock {
	block := h.chain.extend(nil, txs...)
	h.chain.adopt(block)
	return block
}

// scan runs one scheduler head update, which connects and disconnects
// whatever the chain changed and services pending transactions.
func (h *testHarness) scan() {
	h.t.Helper()
	require.NoError(h.t, h.wallet.updateHead(h.ctx))
}

// balance fetches one asset balance at the account's own head.
func (h *testHarness) balance(account *Account, assetID wire.AssetID,
	confirmations uint32) *Balance {

	h.t.Helper()
	balance, err := h.wallet.GetBalance(h.ctx, account, assetID, confirmations)
	require.NoError(h.t, err)
	return balance
}

// send pays the outputs from account with the given fee.
func (h *testHarness) send(account *Account, to wire.PublicAddress, amount uint64,
	fee uint64, expiration *uint32) *wire.Transaction {

	h.t.Helper()
	tx, err := h.wallet.Send(h.ctx, account, []TransactionOutput{{
		PublicAddress: to,
		Amount:        amount,
		AssetID:       wire.NativeAssetID,
	}}, fee, expiration)
	require.NoError(h.t, err)
	return tx
}

// assetRecord fetches the account's stored record of one asset.
func (h *testHarness) assetRecord(account *Account,
	assetID wire.AssetID) *walletdb.AssetValue {

	h.t.Helper()
	var record *walletdb.AssetValue
	err := h.db.View(func(txn *badger.Txn) error {
		var err error
		record, err = account.GetAsset(txn, assetID)
		return err
	})
	require.NoError(h.t, err)
	return record
}

// accountSnapshot captures everything the engine stores for an account so
// reorg round trips can be compared exactly.
type accountSnapshot struct {
	head     *walletdb.HeadValue
	notes    map[chainhash.Hash]walletdb.NoteValue
	txs      map[chainhash.Hash]string
	balances map[wire.AssetID]string
}

func (h *testHarness) snapshot(account *Account) *accountSnapshot {
	h.t.Helper()

	snap := &accountSnapshot{
		notes:    make(map[chainhash.Hash]walletdb.NoteValue),
		txs:      make(map[chainhash.Hash]string),
		balances: make(map[wire.AssetID]string),
	}
	prefix := walletdb.AccountPrefix(account.ID())

	err := h.db.View(func(txn *badger.Txn) error {
		var err error
		snap.head, err = account.Head(txn)
		if err != nil {
			return err
		}
		err = h.db.ForEachNote(h.ctx, txn, prefix,
			func(hash chainhash.Hash, note *walletdb.NoteValue) error {
				snap.notes[hash] = *note
				return nil
			})
		if err != nil {
			return err
		}
		err = h.db.ForEachTransaction(h.ctx, txn, prefix,
			func(hash chainhash.Hash, record *walletdb.TransactionValue) error {
				snap.txs[hash] = string(record.Encode())
				return nil
			})
		if err != nil {
			return err
		}
		return h.db.ForEachBalance(h.ctx, txn, prefix,
			func(assetID wire.AssetID, balance *walletdb.BalanceValue) error {
				snap.balances[assetID] = balance.Unconfirmed.String()
				return nil
			})
	})
	require.NoError(h.t, err)
	return snap
}

func requireSameSnapshot(t *testing.T, want, got *accountSnapshot) {
	t.Helper()
	require.Equal(t, want.head, got.head)
	require.Equal(t, want.notes, got.notes)
	require.Equal(t, want.balances, got.balances)
	require.Equal(t, len(want.txs), len(got.txs))
	for hash, record := range want.txs {
		require.True(t, bytes.Equal([]byte(record), []byte(got.txs[hash])),
			"transaction record mismatch for %s", hash)
	}
}
