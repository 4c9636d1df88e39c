package walletdb

import (
	"context"

	"github.com/dgraph-io/badger/v4"
)

// PutAccount stores an account record, sealing it when the wallet's account
// store is encrypted. Sealing requires the wallet to be unlocked.
func (d *DB) PutAccount(txn *badger.Txn, account *AccountValue) error {
	plaintext := account.Encode()

	d.mtx.Lock()
	encrypted, passphrase := d.encrypted, d.passphrase
	d.mtx.Unlock()

	if !encrypted {
		raw := make([]byte, 0, len(plaintext)+1)
		raw = append(raw, accountTagDecrypted)
		raw = append(raw, plaintext...)
		return txn.Set(accountKey(account.ID), raw)
	}

	if passphrase == nil {
		return ErrWalletLocked
	}
	salt, err := newEnvelopeSalt()
	if err != nil {
		return err
	}
	sealed, err := deriveMasterKey(passphrase, salt).sealAccount(salt, plaintext)
	if err != nil {
		return err
	}
	return txn.Set(accountKey(account.ID), sealed)
}

// GetAccount loads an account record, opening the envelope when needed.
func (d *DB) GetAccount(txn *badger.Txn, accountID string) (*AccountValue, error) {
	raw, err := getItem(txn, accountKey(accountID))
	if err != nil || raw == nil {
		return nil, err
	}
	return d.decodeStoredAccount(raw)
}

// DeleteAccountRecord removes the account catalogue row only. RemoveAccount
// is the operation callers want; this exists for resets that re-key an
// account under a new id.
func (d *DB) DeleteAccountRecord(txn *badger.Txn, accountID string) error {
	return deleteIgnoreMissing(txn, accountKey(accountID))
}

// ForEachAccount iterates every stored account record.
func (d *DB) ForEachAccount(ctx context.Context, txn *badger.Txn,
	fn func(account *AccountValue) error) error {

	return forEachPrefix(ctx, txn, accountsPrefix, func(_, value []byte) error {
		account, err := d.decodeStoredAccount(value)
		if err != nil {
			return err
		}
		return fn(account)
	})
}

func (d *DB) decodeStoredAccount(raw []byte) (*AccountValue, error) {
	if len(raw) == 0 {
		return nil, corruptf("empty account record")
	}
	switch raw[0] {
	case accountTagDecrypted:
		return DecodeAccountValue(raw[1:])

	case accountTagEncrypted:
		d.mtx.Lock()
		passphrase := d.passphrase
		d.mtx.Unlock()
		if passphrase == nil {
			return nil, ErrWalletLocked
		}
		salt, nonce, ciphertext, err := openEnvelope(raw[1:])
		if err != nil {
			return nil, err
		}
		plaintext, err := deriveMasterKey(passphrase, salt).
			openAccount(nonce, ciphertext)
		if err != nil {
			return nil, err
		}
		return DecodeAccountValue(plaintext)
	}
	return nil, corruptf("unknown account envelope tag %d", raw[0])
}

// AccountsEncrypted reports whether account records are stored sealed.
func (d *DB) AccountsEncrypted() bool {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return d.encrypted
}

// Locked reports whether an encrypted account store is currently locked.
func (d *DB) Locked() bool {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return d.encrypted && d.passphrase == nil
}

// Unlock verifies the passphrase against a stored record and retains it for
// envelope operations until Lock is called.
func (d *DB) Unlock(passphrase []byte) error {
	d.mtx.Lock()
	if !d.encrypted {
		d.mtx.Unlock()
		return ErrWalletNotEncrypted
	}
	d.passphrase = append([]byte(nil), passphrase...)
	d.mtx.Unlock()

	// Verify against the first stored record. A mismatch locks back up.
	err := d.View(func(txn *badger.Txn) error {
		return d.ForEachAccount(context.Background(), txn,
			func(*AccountValue) error {
				return errStopIteration
			})
	})
	if err != nil && err != errStopIteration {
		d.Lock()
		return err
	}
	return nil
}

// Lock drops the retained passphrase.
func (d *DB) Lock() {
	d.mtx.Lock()
	for i := range d.passphrase {
		d.passphrase[i] = 0
	}
	d.passphrase = nil
	d.mtx.Unlock()
}

// EncryptAccounts reseals every stored account record under a passphrase
// and leaves the wallet unlocked.
func (d *DB) EncryptAccounts(passphrase []byte) error {
	d.mtx.Lock()
	if d.encrypted {
		d.mtx.Unlock()
		return ErrWalletEncrypted
	}
	d.mtx.Unlock()

	err := d.Update(func(txn *badger.Txn) error {
		var accounts []*AccountValue
		err := d.ForEachAccount(context.Background(), txn,
			func(account *AccountValue) error {
				accounts = append(accounts, account)
				return nil
			})
		if err != nil {
			return err
		}

		for _, account := range accounts {
			salt, err := newEnvelopeSalt()
			if err != nil {
				return err
			}
			sealed, err := deriveMasterKey(passphrase, salt).
				sealAccount(salt, account.Encode())
			if err != nil {
				return err
			}
			if err := txn.Set(accountKey(account.ID), sealed); err != nil {
				return err
			}
		}
		return txn.Set(metaKey(metaAccountsEncrypted), []byte{1})
	})
	if err != nil {
		return err
	}

	d.mtx.Lock()
	d.encrypted = true
	d.passphrase = append([]byte(nil), passphrase...)
	d.mtx.Unlock()
	return nil
}

// DecryptAccounts opens every sealed record with the passphrase and stores
// the records in plaintext again.
func (d *DB) DecryptAccounts(passphrase []byte) error {
	d.mtx.Lock()
	if !d.encrypted {
		d.mtx.Unlock()
		return ErrWalletNotEncrypted
	}
	d.passphrase = append([]byte(nil), passphrase...)
	d.mtx.Unlock()

	err := d.Update(func(txn *badger.Txn) error {
		var accounts []*AccountValue
		err := d.ForEachAccount(context.Background(), txn,
			func(account *AccountValue) error {
				accounts = append(accounts, account)
				return nil
			})
		if err != nil {
			return err
		}

		for _, account := range accounts {
			raw := append([]byte{accountTagDecrypted}, account.Encode()...)
			if err := txn.Set(accountKey(account.ID), raw); err != nil {
				return err
			}
		}
		return deleteIgnoreMissing(txn, metaKey(metaAccountsEncrypted))
	})
	if err != nil {
		d.Lock()
		return err
	}

	d.mtx.Lock()
	d.encrypted = false
	d.passphrase = nil
	d.mtx.Unlock()
	return nil
}
