package wallet

import (
	"bytes"
	"context"
	"crypto/rand"
	"sort"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/dgraph-io/badger/v4"
	"github.com/umbra-network/umbrad/walletdb"
	"github.com/umbra-network/umbrad/wire"
)

// TransactionOutput describes one payment of a transaction under
// construction.
type TransactionOutput struct {
	PublicAddress wire.PublicAddress
	Amount        uint64
	Memo          [wire.MemoSize]byte
	AssetID       wire.AssetID
}

// CreateTransactionOptions parameterizes CreateTransaction. Exactly one of
// Fee and FeeRate must be set. Expiration wins over ExpirationDelta; when
// neither is set the wallet's default delta applies. Notes overrides
// automatic selection with an explicit list of note hashes.
type CreateTransactionOptions struct {
	Account *Account
	Outputs []TransactionOutput
	Mints   []wire.Mint
	Burns   []wire.Burn

	Fee     *uint64
	FeeRate *uint64

	Expiration      *uint32
	ExpirationDelta *uint32

	Confirmations *uint32

	Notes []chainhash.Hash
}

// CreateTransaction selects spendable notes, fetches their witnesses and
// assembles a raw transaction covering the requested outputs, mints, burns
// and fee. A process wide mutex serializes builders so concurrent callers
// never select the same note.
func (w *Wallet) CreateTransaction(ctx context.Context,
	opts *CreateTransactionOptions) (*wire.RawTransaction, error) {

	w.createMtx.Lock()
	defer w.createMtx.Unlock()

	if (opts.Fee == nil) == (opts.FeeRate == nil) {
		return nil, &ErrInvalidTransaction{
			Reason: "exactly one of fee and feeRate is required",
		}
	}

	head, err := w.chain.Head()
	if err != nil {
		return nil, err
	}

	accountHead, err := w.accountHead(opts.Account)
	if err != nil {
		return nil, err
	}
	if accountHead == nil || accountHead.Hash != head.Hash {
		return nil, ErrAccountNotScanned
	}

	expiration, err := resolveExpiration(opts, head, w.cfg.ExpirationDelta)
	if err != nil {
		return nil, err
	}

	confirmations := w.cfg.Confirmations
	if opts.Confirmations != nil {
		confirmations = *opts.Confirmations
	}

	fee := uint64(0)
	if opts.Fee != nil {
		fee = *opts.Fee
	}

	raw := &wire.RawTransaction{
		Expiration: expiration,
		Fee:        fee,
		Mints:      opts.Mints,
		Burns:      opts.Burns,
	}
	for i := range opts.Outputs {
		out := &opts.Outputs[i]
		note := &wire.Note{
			Owner:   out.PublicAddress,
			AssetID: out.AssetID,
			Value:   out.Amount,
			Memo:    out.Memo,
			Sender:  opts.Account.PublicAddress(),
		}
		if _, err := rand.Read(note.Randomness[:]); err != nil {
			return nil, err
		}
		raw.Outputs = append(raw.Outputs, wire.RawOutput{Note: note})
	}

	if err := w.fund(ctx, raw, opts, accountHead, confirmations); err != nil {
		return nil, err
	}

	// With a fee rate the fee depends on the spend count, which depends
	// on the fee. Estimate from the funded shape, then re-fund once so
	// the final fee reflects the final spend count.
	if opts.FeeRate != nil {
		raw.Fee = feeForSize(*opts.FeeRate, raw.PostedSize())
		raw.Spends = nil
		if err := w.fund(ctx, raw, opts, accountHead, confirmations); err != nil {
			return nil, err
		}
	}

	return raw, nil
}

func resolveExpiration(opts *CreateTransactionOptions, head *HeadRef,
	defaultDelta uint32) (uint32, error) {

	if opts.Expiration != nil {
		if *opts.Expiration != 0 && *opts.Expiration <= head.Sequence {
			return 0, ErrInvalidExpiration
		}
		return *opts.Expiration, nil
	}
	delta := defaultDelta
	if opts.ExpirationDelta != nil {
		delta = *opts.ExpirationDelta
	}
	if delta == 0 {
		return 0, nil
	}
	return head.Sequence + delta, nil
}

// feeForSize computes a fee from a rate in atoms per kilobyte, rounding up.
func feeForSize(rate uint64, size int) uint64 {
	return (rate*uint64(size) + 999) / 1000
}

// fund covers every asset's shortfall by walking the account's unspent
// notes in store order and attaching their witnesses. Explicit note hashes
// seed the spends first.
func (w *Wallet) fund(ctx context.Context, raw *wire.RawTransaction,
	opts *CreateTransactionOptions, head *walletdb.HeadValue,
	confirmations uint32) error {

	needed := make(map[wire.AssetID]uint64)
	needed[wire.NativeAssetID] += raw.Fee
	for i := range raw.Outputs {
		needed[raw.Outputs[i].Note.AssetID] += raw.Outputs[i].Note.Value
	}
	for i := range raw.Burns {
		needed[raw.Burns[i].AssetID] += raw.Burns[i].Value
	}

	amountsFunded := make(map[wire.AssetID]uint64)
	used := make(map[chainhash.Hash]struct{})

	account := opts.Account
	err := w.db.View(func(txn *badger.Txn) error {
		// Explicit note list first.
		for _, noteHash := range opts.Notes {
			nv, err := account.GetDecryptedNote(txn, noteHash)
			if err != nil {
				return err
			}
			if nv == nil {
				return &ErrInvalidTransaction{
					Reason: "unknown note " + noteHash.String(),
				}
			}
			if nv.Spent || !nv.OnChain() || nv.Index == nil {
				return &ErrInvalidTransaction{
					Reason: "note is not spendable " + noteHash.String(),
				}
			}
			note, err := nv.DecodedNote()
			if err != nil {
				return err
			}
			if err := w.attachSpend(raw, note, *nv.Index, confirmations); err != nil {
				return err
			}
			used[noteHash] = struct{}{}
			amountsFunded[note.AssetID] += note.Value
		}

		// Deterministic per-asset order keeps selection reproducible.
		assetIDs := make([]wire.AssetID, 0, len(needed))
		for assetID := range needed {
			assetIDs = append(assetIDs, assetID)
		}
		sort.Slice(assetIDs, func(i, j int) bool {
			return bytes.Compare(assetIDs[i][:], assetIDs[j][:]) < 0
		})

		for _, assetID := range assetIDs {
			if err := ctx.Err(); err != nil {
				return err
			}
			need := needed[assetID]
			if amountsFunded[assetID] >= need {
				continue
			}

			err := account.ForEachUnspentNote(ctx, txn, assetID, head,
				confirmations, func(unspent *UnspentNote) error {
					if amountsFunded[assetID] >= need {
						return errStopFunding
					}
					if _, ok := used[unspent.Hash]; ok {
						return nil
					}

					// A nullifier already in the chain's set means
					// the wallet is behind; never double spend.
					onChain, err := w.chain.HasNullifier(unspent.Nullifier)
					if err != nil {
						return err
					}
					if onChain {
						return nil
					}

					note, err := unspent.Note.TakeReference()
					if err != nil {
						return err
					}
					noteCopy := *note
					unspent.Note.ReturnReference()

					err = w.attachSpend(raw, &noteCopy, unspent.Index,
						confirmations)
					if err != nil {
						return err
					}
					used[unspent.Hash] = struct{}{}
					amountsFunded[assetID] += unspent.Value
					return nil
				})
			if err != nil && err != errStopFunding {
				return err
			}

			if amountsFunded[assetID] < need {
				return &ErrNotEnoughFunds{
					AssetID: assetID,
					Have:    amountsFunded[assetID],
					Need:    need,
				}
			}
		}
		return nil
	})
	return err
}

var errStopFunding = &stopFunding{}

type stopFunding struct{}

func (*stopFunding) Error() string { return "funding complete" }

func (w *Wallet) attachSpend(raw *wire.RawTransaction, note *wire.Note,
	index uint64, confirmations uint32) error {

	witness, err := w.chain.GetNoteWitness(index, confirmations)
	if err != nil {
		return err
	}
	raw.Spends = append(raw.Spends, wire.RawSpend{
		Note:    note,
		Witness: witness,
	})
	return nil
}

// Post proves and signs a raw transaction through the worker pool and
// verifies the result. Only when broadcast is requested does it record the
// transaction as pending in every account and hand it to the mempool and
// peers.
func (w *Wallet) Post(ctx context.Context, raw *wire.RawTransaction,
	account *Account, broadcast bool) (*wire.Transaction, error) {

	spendingKey := account.SpendingKey()
	if spendingKey == nil {
		return nil, &ErrInvalidTransaction{
			Reason: "account " + account.Name() + " is view-only",
		}
	}

	tx, err := w.workers.PostTransaction(ctx, raw, spendingKey)
	if err != nil {
		return nil, err
	}
	if err := w.verifyCreatedTransaction(tx); err != nil {
		return nil, err
	}

	w.emitTransactionCreated(tx)

	if broadcast {
		if err := w.AddPendingTransaction(ctx, tx); err != nil {
			return nil, err
		}
		if err := w.broadcastTransaction(tx); err != nil {
			return nil, err
		}
	}
	return tx, nil
}

// verifyCreatedTransaction applies the consensus level guardrails the
// wallet can check locally before a transaction leaves the node.
func (w *Wallet) verifyCreatedTransaction(tx *wire.Transaction) error {
	head, err := w.chain.Head()
	if err != nil {
		return err
	}
	if tx.Expiration != 0 && tx.Expiration <= head.Sequence {
		return ErrInvalidExpiration
	}
	if len(tx.Spends) == 0 && len(tx.Mints) == 0 && len(tx.Burns) == 0 {
		return &ErrInvalidTransaction{Reason: "transaction moves no funds"}
	}
	return nil
}

func (w *Wallet) broadcastTransaction(tx *wire.Transaction) error {
	accepted, err := w.mempool.AcceptTransaction(tx)
	if err != nil {
		return err
	}
	if !accepted {
		log.Debugf("Mempool did not accept transaction %s", tx.Hash())
	}
	w.peers.BroadcastTransaction(tx)
	w.emitBroadcastTransaction(tx)
	if w.metrics != nil {
		w.metrics.TransactionsBroadcast.Inc()
	}
	return nil
}

// AddPendingTransaction records a transaction the chain has not confirmed
// yet in every account it concerns, decrypting its outputs without tree
// positions. Safe to call more than once per transaction.
func (w *Wallet) AddPendingTransaction(ctx context.Context,
	tx *wire.Transaction) error {

	submitted := uint32(0)
	if head, err := w.chain.Head(); err == nil {
		submitted = head.Sequence
	}

	for _, account := range w.accountList() {
		decrypted, err := w.decryptPendingNotes(ctx, account, tx)
		if err != nil {
			return err
		}
		err = w.db.Update(func(txn *badger.Txn) error {
			return account.AddPendingTransaction(txn, tx, decrypted, submitted)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// decryptPendingNotes trial decrypts a pending transaction's outputs. No
// tree index is supplied, so the results carry no nullifiers.
func (w *Wallet) decryptPendingNotes(ctx context.Context, account *Account,
	tx *wire.Transaction) ([]*DecryptedNote, error) {

	decrypted := make([]*DecryptedNote, 0)
	for start := 0; start < len(tx.Outputs); start += decryptNoteBatchSize {
		end := start + decryptNoteBatchSize
		if end > len(tx.Outputs) {
			end = len(tx.Outputs)
		}
		items := make([]DecryptNotesItem, 0, end-start)
		for i := start; i < end; i++ {
			items = append(items, DecryptNotesItem{
				SerializedNote:    tx.Outputs[i].EncryptedNote,
				IncomingViewKey:   account.value.IncomingViewKey,
				OutgoingViewKey:   account.value.OutgoingViewKey,
				ViewKey:           account.value.ViewKey,
				DecryptForSpender: w.cfg.DecryptForSpender,
			})
		}
		results, err := w.workers.DecryptNotes(ctx, items)
		if err != nil {
			return nil, err
		}
		for _, result := range results {
			if result != nil {
				decrypted = append(decrypted, result)
			}
		}
	}
	return decrypted, nil
}

// rebroadcastTransactions re-verifies and re-broadcasts pending
// transactions the network may have dropped. SubmittedSequence is bumped
// regardless of validity so retries stay throttled.
func (w *Wallet) rebroadcastTransactions(ctx context.Context, head *HeadRef) error {
	for _, account := range w.accountList() {
		type candidate struct {
			txHash chainhash.Hash
			record *walletdb.TransactionValue
		}
		var candidates []candidate

		err := w.db.View(func(txn *badger.Txn) error {
			return account.ForEachPendingTransaction(ctx, txn,
				func(txHash chainhash.Hash,
					record *walletdb.TransactionValue) error {

					if record.OnChain() {
						return nil
					}
					if head.Sequence-record.SubmittedSequence <
						w.cfg.RebroadcastAfter {
						return nil
					}
					candidates = append(candidates, candidate{
						txHash: txHash,
						record: record,
					})
					return nil
				})
		})
		if err != nil {
			return err
		}

		for _, c := range candidates {
			if err := ctx.Err(); err != nil {
				return err
			}

			valid := w.verifyCreatedTransaction(c.record.Transaction) == nil

			c.record.SubmittedSequence = head.Sequence
			prefix := walletdb.AccountPrefix(account.ID())
			err := w.db.Update(func(txn *badger.Txn) error {
				return w.db.PutTransaction(txn, prefix, c.txHash, c.record)
			})
			if err != nil {
				return err
			}

			if !valid {
				continue
			}
			log.Debugf("Rebroadcasting transaction %s for account %s",
				c.txHash, account.Name())
			if err := w.broadcastTransaction(c.record.Transaction); err != nil {
				return err
			}
		}
	}
	return nil
}

// expireTransactions expires every pending transaction whose expiration
// sequence has passed at the given head.
func (w *Wallet) expireTransactions(ctx context.Context, headSequence uint32) error {
	for _, account := range w.accountList() {
		var expired []*walletdb.TransactionValue
		err := w.db.View(func(txn *badger.Txn) error {
			return account.ForEachExpiredTransaction(ctx, txn, headSequence,
				func(record *walletdb.TransactionValue) error {
					expired = append(expired, record)
					return nil
				})
		})
		if err != nil {
			return err
		}

		for _, record := range expired {
			record := record
			err := w.db.Update(func(txn *badger.Txn) error {
				return account.ExpireTransaction(txn, record.Transaction)
			})
			if err != nil {
				return err
			}
			log.Debugf("Expired transaction %s for account %s at sequence %d",
				record.Transaction.Hash(), account.Name(), headSequence)
		}
	}
	return nil
}

// Send assembles, posts and broadcasts a payment from the account.
func (w *Wallet) Send(ctx context.Context, account *Account,
	outputs []TransactionOutput, fee uint64, expiration *uint32) (*wire.Transaction, error) {

	raw, err := w.CreateTransaction(ctx, &CreateTransactionOptions{
		Account:    account,
		Outputs:    outputs,
		Fee:        &fee,
		Expiration: expiration,
	})
	if err != nil {
		return nil, err
	}
	return w.Post(ctx, raw, account, true)
}

// Mint assembles, posts and broadcasts an asset mint by the account.
func (w *Wallet) Mint(ctx context.Context, account *Account, mint wire.Mint,
	fee uint64) (*wire.Transaction, error) {

	raw, err := w.CreateTransaction(ctx, &CreateTransactionOptions{
		Account: account,
		Mints:   []wire.Mint{mint},
		Fee:     &fee,
	})
	if err != nil {
		return nil, err
	}
	return w.Post(ctx, raw, account, true)
}

// Burn assembles, posts and broadcasts an asset burn by the account.
func (w *Wallet) Burn(ctx context.Context, account *Account, burn wire.Burn,
	fee uint64) (*wire.Transaction, error) {

	raw, err := w.CreateTransaction(ctx, &CreateTransactionOptions{
		Account: account,
		Burns:   []wire.Burn{burn},
		Fee:     &fee,
	})
	if err != nil {
		return nil, err
	}
	return w.Post(ctx, raw, account, true)
}
