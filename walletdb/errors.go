package walletdb

import (
	"errors"
	"fmt"
)

var (
	// ErrAccountDecryptionFailed is returned when an encrypted account
	// record cannot be opened with the supplied passphrase.
	ErrAccountDecryptionFailed = errors.New("failed to decrypt account record")

	// ErrWalletLocked is returned when an operation requires the wallet
	// master key but the wallet has not been unlocked.
	ErrWalletLocked = errors.New("wallet is locked")

	// ErrWalletNotEncrypted is returned when a passphrase operation is
	// attempted against a wallet whose accounts are stored in plaintext.
	ErrWalletNotEncrypted = errors.New("wallet accounts are not encrypted")

	// ErrWalletEncrypted is returned when EncryptAccounts is called on a
	// wallet that already carries encrypted account records.
	ErrWalletEncrypted = errors.New("wallet accounts are already encrypted")

	// ErrUnsupportedVersion is returned on open when the database schema
	// version is not one this build understands.
	ErrUnsupportedVersion = errors.New("unsupported wallet database version")
)

// CorruptionError describes a missing or malformed row in a place where a
// store invariant guarantees one must exist. It is fatal to the wallet event
// loop.
type CorruptionError struct {
	Detail string
}

// Error returns a human readable string describing the error.
func (e *CorruptionError) Error() string {
	return fmt.Sprintf("wallet database corruption: %s", e.Detail)
}

// corruptf builds a CorruptionError from a format string.
func corruptf(format string, args ...interface{}) *CorruptionError {
	return &CorruptionError{Detail: fmt.Sprintf(format, args...)}
}
