package wallet

import (
	"errors"
	"fmt"

	"github.com/umbra-network/umbrad/wire"
)

var (
	// ErrAccountNotScanned is returned when transaction creation is
	// attempted before the spending account has reached the chain head.
	ErrAccountNotScanned = errors.New("account is not synced to the chain head")

	// ErrInvalidExpiration is returned when a requested expiration
	// sequence is not in the future of the chain head.
	ErrInvalidExpiration = errors.New("expiration sequence must be higher than the chain head")

	// ErrInvalidBurn is returned when a burn would take an asset's
	// tracked supply negative.
	ErrInvalidBurn = errors.New("burn value exceeds asset supply")

	// ErrUnknownAccount is returned when no account matches the
	// requested name or id.
	ErrUnknownAccount = errors.New("unknown account")

	// ErrUnknownAsset is returned when an asset id cannot be resolved
	// through the account or the chain.
	ErrUnknownAsset = errors.New("unknown asset")

	// ErrNoGenesis is returned when the chain has no blocks to scan.
	ErrNoGenesis = errors.New("chain has no genesis block")

	// ErrDuplicateAccountName is returned on import when the name is
	// already taken.
	ErrDuplicateAccountName = errors.New("account name is already in use")

	// ErrDuplicateSpendingKey is returned on import when another account
	// already carries the same spending key.
	ErrDuplicateSpendingKey = errors.New("spending key is already in use")

	// ErrDuplicateViewKey is returned on import when another account
	// already carries the same view key.
	ErrDuplicateViewKey = errors.New("view key is already in use")

	// ErrScanInProgress is returned when a rescan is requested while one
	// is already running.
	ErrScanInProgress = errors.New("a scan is already in progress")

	// ErrWalletNotStarted is returned by operations that need the event
	// loop when the wallet is stopped.
	ErrWalletNotStarted = errors.New("wallet is not started")
)

// ErrNotEnoughFunds is returned when note selection cannot cover the
// required amount of an asset.
type ErrNotEnoughFunds struct {
	AssetID wire.AssetID
	Have    uint64
	Need    uint64
}

// Error returns a human readable string describing the error.
func (e *ErrNotEnoughFunds) Error() string {
	return fmt.Sprintf("insufficient funds for asset %s: have %d, need %d",
		e.AssetID, e.Have, e.Need)
}

// ErrInvalidTransaction is returned when a created or rebroadcast
// transaction fails local verification.
type ErrInvalidTransaction struct {
	Reason string
}

// Error returns a human readable string describing the error.
func (e *ErrInvalidTransaction) Error() string {
	return fmt.Sprintf("invalid transaction: %s", e.Reason)
}
