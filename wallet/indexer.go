package wallet

import (
	"context"
	"errors"

	goerrors "github.com/go-errors/errors"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/dgraph-io/badger/v4"
	"github.com/umbra-network/umbrad/walletdb"
	"github.com/umbra-network/umbrad/wire"
	"golang.org/x/sync/errgroup"
)

// ChainProcessor is a cursor over main chain blocks. Update compares the
// cursor with the chain head, rewinds along parent pointers to the fork
// point emitting remove events, then walks forward to the head emitting add
// events. Only the processor advances or rewinds accounts; it is the single
// writer.
type ChainProcessor struct {
	chain Chain

	hash     *chainhash.Hash
	sequence uint32

	onAdd    []func(ctx context.Context, header *wire.BlockHeader) error
	onRemove []func(ctx context.Context, header *wire.BlockHeader) error
}

// NewChainProcessor creates a processor starting at the given cursor. A nil
// hash starts before genesis.
func NewChainProcessor(chain Chain, hash *chainhash.Hash, sequence uint32) *ChainProcessor {
	return &ChainProcessor{
		chain:    chain,
		hash:     hash,
		sequence: sequence,
	}
}

// OnAdd registers a callback invoked for every block connected to the
// cursor, in chain order.
func (p *ChainProcessor) OnAdd(fn func(ctx context.Context, header *wire.BlockHeader) error) {
	p.onAdd = append(p.onAdd, fn)
}

// OnRemove registers a callback invoked for every block disconnected from
// the cursor, newest first.
func (p *ChainProcessor) OnRemove(fn func(ctx context.Context, header *wire.BlockHeader) error) {
	p.onRemove = append(p.onRemove, fn)
}

// Hash returns the cursor hash, or nil before genesis.
func (p *ChainProcessor) Hash() *chainhash.Hash {
	return p.hash
}

// Sequence returns the cursor sequence, zero before genesis.
func (p *ChainProcessor) Sequence() uint32 {
	return p.sequence
}

// Update advances the cursor toward the chain head. On cancellation the
// in-flight block finishes atomically and Update returns early; the
// returned flag reports whether the cursor moved at all.
func (p *ChainProcessor) Update(ctx context.Context) (bool, error) {
	head, err := p.chain.Head()
	if err != nil {
		return false, err
	}

	changed := false

	// Rewind to the fork point: walk back along parent pointers until
	// the cursor sits on the main chain again.
	for p.hash != nil {
		onMain, err := p.chain.HasBlock(*p.hash)
		if err != nil {
			return changed, err
		}
		if onMain {
			break
		}
		header, err := p.chain.GetHeader(*p.hash)
		if err != nil {
			return changed, err
		}
		if header == nil {
			return changed, &walletdb.CorruptionError{
				Detail: "processor cursor points at unknown block " +
					p.hash.String(),
			}
		}
		if err := p.emitRemove(ctx, header); err != nil {
			return changed, err
		}
		changed = true

		if header.Sequence == wire.GenesisSequence {
			p.hash = nil
			p.sequence = 0
		} else {
			parent := header.PreviousBlockHash
			p.hash = &parent
			p.sequence = header.Sequence - 1
		}
		if err := ctx.Err(); err != nil {
			return changed, err
		}
	}

	// Walk forward from the fork point to the new head.
	for {
		if p.hash != nil && *p.hash == head.Hash {
			return changed, nil
		}
		if err := ctx.Err(); err != nil {
			return changed, err
		}

		next, err := p.chain.GetHeaderAtSequence(p.sequence + 1)
		if err != nil {
			return changed, err
		}
		if next == nil {
			return changed, nil
		}
		if err := p.emitAdd(ctx, next); err != nil {
			return changed, err
		}
		hash := next.Hash
		p.hash = &hash
		p.sequence = next.Sequence
		changed = true
	}
}

func (p *ChainProcessor) emitAdd(ctx context.Context, header *wire.BlockHeader) error {
	for _, fn := range p.onAdd {
		if err := fn(ctx, header); err != nil {
			return err
		}
	}
	return nil
}

func (p *ChainProcessor) emitRemove(ctx context.Context, header *wire.BlockHeader) error {
	for _, fn := range p.onRemove {
		if err := fn(ctx, header); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Wallet block handlers

// connectBlock advances every eligible account through one block. Each
// account decrypts the block's outputs through the worker pool and applies
// the results inside a single store transaction. A failure on one account
// quarantines that account without halting the rest; store corruption is
// fatal.
func (w *Wallet) connectBlock(ctx context.Context, header *wire.BlockHeader) error {
	blockTxs, err := w.chain.GetBlockTransactions(header)
	if err != nil {
		return err
	}

	accounts := w.accountList()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.DecryptWorkers)

	for _, account := range accounts {
		account := account
		g.Go(func() error {
			err := w.connectBlockForAccount(gctx, account, header, blockTxs)
			if err == nil {
				return nil
			}
			var corruption *walletdb.CorruptionError
			if errors.As(err, &corruption) {
				return err
			}
			if errors.Is(err, context.Canceled) {
				return err
			}

			// Quarantine: null the head so the account rescans on
			// the next start, and keep the loop alive.
			log.Errorf("Failed to connect block %d for account %s, "+
				"quarantining: %s", header.Sequence, account.Name(),
				goerrors.Wrap(err, 0).ErrorStack())
			return w.db.Update(func(txn *badger.Txn) error {
				return w.db.SetHead(txn, account.ID(), nil)
			})
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if w.metrics != nil {
		w.metrics.BlocksConnected.Inc()
		w.metrics.HeadSequence.Set(float64(header.Sequence))
	}
	return nil
}

// accountAdvance describes how connectBlock treats one account for one
// block.
type accountAdvance int

const (
	advanceSkip accountAdvance = iota
	advanceDecrypt
	advanceHeadOnly
	advanceReset
)

// shouldAdvance decides whether the account walks through this block, and
// whether its transactions are worth decrypting. An account whose birthday
// sits on a forked branch is reset and rescanned.
func (w *Wallet) shouldAdvance(txn *badger.Txn, account *Account,
	header *wire.BlockHeader) (accountAdvance, error) {

	if !account.ScanningEnabled() {
		return advanceSkip, nil
	}

	head, err := account.Head(txn)
	if err != nil {
		return advanceSkip, err
	}
	switch {
	case head == nil:
		if header.Sequence != wire.GenesisSequence {
			return advanceSkip, nil
		}
	case head.Hash != header.PreviousBlockHash:
		return advanceSkip, nil
	}

	createdAt := account.CreatedAt()
	if createdAt != nil {
		if createdAt.Sequence == header.Sequence &&
			createdAt.Hash != header.Hash {
			// Birthday on a forked branch: the account must be
			// rebuilt from scratch under a fresh id.
			return advanceReset, nil
		}
		if header.Sequence < createdAt.Sequence {
			return advanceHeadOnly, nil
		}
	}
	return advanceDecrypt, nil
}

func (w *Wallet) connectBlockForAccount(ctx context.Context, account *Account,
	header *wire.BlockHeader, blockTxs []BlockTransaction) error {

	var advance accountAdvance
	err := w.db.View(func(txn *badger.Txn) error {
		var err error
		advance, err = w.shouldAdvance(txn, account, header)
		return err
	})
	if err != nil || advance == advanceSkip {
		return err
	}
	if advance == advanceReset {
		return w.resetAccount(account)
	}

	newHead := &walletdb.HeadValue{Hash: header.Hash, Sequence: header.Sequence}
	if advance == advanceHeadOnly {
		return w.db.Update(func(txn *badger.Txn) error {
			return w.db.SetHead(txn, account.ID(), newHead)
		})
	}

	// Trial decryption happens outside the store transaction: it is pure
	// compute over immutable block data.
	decrypted := make([][]*DecryptedNote, len(blockTxs))
	for i := range blockTxs {
		notes, err := w.decryptBlockNotes(ctx, account, &blockTxs[i])
		if err != nil {
			return err
		}
		decrypted[i] = notes
	}

	return w.db.Update(func(txn *badger.Txn) error {
		blockDeltas := make(map[wire.AssetID]int64)
		for i := range blockTxs {
			deltas, err := account.ConnectTransaction(txn, header,
				blockTxs[i].Transaction, decrypted[i])
			if err != nil {
				return err
			}
			for assetID, delta := range deltas {
				blockDeltas[assetID] += delta
			}
		}
		if len(blockDeltas) > 0 {
			err := account.UpdateUnconfirmedBalances(txn, blockDeltas,
				header.Hash, header.Sequence)
			if err != nil {
				return err
			}
		}
		return w.db.SetHead(txn, account.ID(), newHead)
	})
}

// decryptBlockNotes runs one transaction's outputs through the worker pool
// for one account, in bounded batches, threading the running tree index.
func (w *Wallet) decryptBlockNotes(ctx context.Context, account *Account,
	blockTx *BlockTransaction) ([]*DecryptedNote, error) {

	outputs := blockTx.Transaction.Outputs
	decrypted := make([]*DecryptedNote, 0, len(outputs))

	for start := 0; start < len(outputs); start += decryptNoteBatchSize {
		end := start + decryptNoteBatchSize
		if end > len(outputs) {
			end = len(outputs)
		}

		items := make([]DecryptNotesItem, 0, end-start)
		for i := start; i < end; i++ {
			index := blockTx.InitialNoteIndex + uint64(i)
			items = append(items, DecryptNotesItem{
				SerializedNote:    outputs[i].EncryptedNote,
				IncomingViewKey:   account.value.IncomingViewKey,
				OutgoingViewKey:   account.value.OutgoingViewKey,
				ViewKey:           account.value.ViewKey,
				CurrentNoteIndex:  &index,
				DecryptForSpender: w.cfg.DecryptForSpender,
			})
		}

		results, err := w.workers.DecryptNotes(ctx, items)
		if err != nil {
			return nil, err
		}
		for _, result := range results {
			if result == nil {
				continue
			}
			decrypted = append(decrypted, result)
			if w.metrics != nil {
				w.metrics.NotesDecrypted.Inc()
			}
		}
	}
	return decrypted, nil
}

// disconnectBlock rewinds every account sitting on this block. Transactions
// unwind in reverse block order; miners fee records are deleted outright.
func (w *Wallet) disconnectBlock(ctx context.Context, header *wire.BlockHeader) error {
	blockTxs, err := w.chain.GetBlockTransactions(header)
	if err != nil {
		return err
	}

	for _, account := range w.accountList() {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := w.disconnectBlockForAccount(account, header, blockTxs)
		if err != nil {
			return err
		}
	}

	if w.metrics != nil {
		w.metrics.BlocksDisconnected.Inc()
		w.metrics.HeadSequence.Set(float64(header.Sequence - 1))
	}
	return nil
}

func (w *Wallet) disconnectBlockForAccount(account *Account,
	header *wire.BlockHeader, blockTxs []BlockTransaction) error {

	return w.db.Update(func(txn *badger.Txn) error {
		head, err := account.Head(txn)
		if err != nil {
			return err
		}
		if head == nil || head.Hash != header.Hash {
			return nil
		}

		blockDeltas := make(map[wire.AssetID]int64)
		for i := len(blockTxs) - 1; i >= 0; i-- {
			tx := blockTxs[i].Transaction
			if tx.IsMinersFee() {
				record, err := account.GetTransaction(txn, tx.Hash())
				if err != nil {
					return err
				}
				if record != nil {
					for assetID, delta := range record.AssetBalanceDeltas {
						blockDeltas[assetID] += delta
					}
				}
				if err := account.DeleteTransaction(txn, tx); err != nil {
					return err
				}
				continue
			}

			deltas, err := account.DisconnectTransaction(txn, header, tx)
			if err != nil {
				return err
			}
			for assetID, delta := range deltas {
				blockDeltas[assetID] += delta
			}
		}

		// Roll the balance rows back by the block's aggregate deltas.
		for assetID := range blockDeltas {
			blockDeltas[assetID] = -blockDeltas[assetID]
		}
		if len(blockDeltas) > 0 {
			err := account.UpdateUnconfirmedBalances(txn, blockDeltas,
				header.PreviousBlockHash, header.Sequence-1)
			if err != nil {
				return err
			}
		}

		// A birthday pointing at the disconnected block rolls back to
		// the parent.
		createdAt := account.CreatedAt()
		if createdAt != nil && createdAt.Hash == header.Hash {
			account.value.CreatedAt = &walletdb.HeadValue{
				Hash:     header.PreviousBlockHash,
				Sequence: header.Sequence - 1,
			}
			if err := w.db.PutAccount(txn, account.value); err != nil {
				return err
			}
		}

		if header.Sequence == wire.GenesisSequence {
			return w.db.SetHead(txn, account.ID(), nil)
		}
		return w.db.SetHead(txn, account.ID(), &walletdb.HeadValue{
			Hash:     header.PreviousBlockHash,
			Sequence: header.Sequence - 1,
		})
	})
}
