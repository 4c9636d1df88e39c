package walletdb

import (
	"bytes"
	"fmt"

	"github.com/umbra-network/umbrad/wire"
)

// Account record schema version.
const accountValueVersion uint16 = 4

// Envelope tag bytes ahead of every stored account record.
const (
	accountTagDecrypted byte = 0
	accountTagEncrypted byte = 1
)

// MultisigKeys variants. Encoders branch on the variant tag.
const (
	// MultisigSigner holds a participant secret and both key packages.
	MultisigSigner uint8 = iota

	// MultisigCoordinator holds only the group public key package.
	MultisigCoordinator

	// MultisigHardwareSigner keeps the secret on a device and stores just
	// an identity plus the public key package.
	MultisigHardwareSigner

	// MultisigTrustedDealerImport is key material handed out by a trusted
	// dealer: identity, key package and public key package.
	MultisigTrustedDealerImport
)

// MultisigKeys is the per-participant key bundle of a multisig account. The
// populated fields depend on Variant.
type MultisigKeys struct {
	Variant          uint8
	Secret           []byte
	Identity         []byte
	KeyPackage       []byte
	PublicKeyPackage []byte
}

func (m *MultisigKeys) encode(buf *bytes.Buffer) {
	putUint8(buf, m.Variant)
	switch m.Variant {
	case MultisigSigner:
		putBytes(buf, m.Secret)
		putBytes(buf, m.KeyPackage)
		putBytes(buf, m.PublicKeyPackage)
	case MultisigCoordinator:
		putBytes(buf, m.PublicKeyPackage)
	case MultisigHardwareSigner:
		putBytes(buf, m.Identity)
		putBytes(buf, m.PublicKeyPackage)
	case MultisigTrustedDealerImport:
		putBytes(buf, m.Identity)
		putBytes(buf, m.KeyPackage)
		putBytes(buf, m.PublicKeyPackage)
	}
}

func decodeMultisigKeys(r *bytes.Reader) (*MultisigKeys, error) {
	variant, err := getUint8(r)
	if err != nil {
		return nil, err
	}
	m := &MultisigKeys{Variant: variant}
	switch variant {
	case MultisigSigner:
		if m.Secret, err = getBytes(r); err != nil {
			return nil, err
		}
		if m.KeyPackage, err = getBytes(r); err != nil {
			return nil, err
		}
		m.PublicKeyPackage, err = getBytes(r)
	case MultisigCoordinator:
		m.PublicKeyPackage, err = getBytes(r)
	case MultisigHardwareSigner:
		if m.Identity, err = getBytes(r); err != nil {
			return nil, err
		}
		m.PublicKeyPackage, err = getBytes(r)
	case MultisigTrustedDealerImport:
		if m.Identity, err = getBytes(r); err != nil {
			return nil, err
		}
		if m.KeyPackage, err = getBytes(r); err != nil {
			return nil, err
		}
		m.PublicKeyPackage, err = getBytes(r)
	default:
		return nil, fmt.Errorf("unknown multisig keys variant %d", variant)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// AccountValue is the stored form of a wallet account. SpendingKey is nil
// for view-only accounts. CreatedAt is the account birthday; scans before it
// skip trial decryption.
type AccountValue struct {
	Version             uint16
	ID                  string
	Name                string
	SpendingKey         *[]byte
	ViewKey             []byte
	IncomingViewKey     []byte
	OutgoingViewKey     []byte
	PublicAddress       wire.PublicAddress
	ProofAuthorizingKey *[]byte
	CreatedAt           *HeadValue
	ScanningEnabled     bool
	MultisigKeys        *MultisigKeys
}

// ViewOnly reports whether this account can only watch, not spend.
func (a *AccountValue) ViewOnly() bool {
	return a.SpendingKey == nil
}

// Prefix returns the account's 4-byte shard of the shared stores.
func (a *AccountValue) Prefix() [AccountPrefixSize]byte {
	return AccountPrefix(a.ID)
}

// Encode serializes the account record body, without the envelope tag.
func (a *AccountValue) Encode() []byte {
	var buf bytes.Buffer
	putUint32(&buf, uint32(a.Version))
	putString(&buf, a.ID)
	putString(&buf, a.Name)
	putOptionalBytes(&buf, a.SpendingKey)
	putBytes(&buf, a.ViewKey)
	putBytes(&buf, a.IncomingViewKey)
	putBytes(&buf, a.OutgoingViewKey)
	buf.Write(a.PublicAddress[:])
	putOptionalBytes(&buf, a.ProofAuthorizingKey)
	if a.CreatedAt != nil {
		putBool(&buf, true)
		putHash(&buf, a.CreatedAt.Hash)
		putUint32(&buf, a.CreatedAt.Sequence)
	} else {
		putBool(&buf, false)
	}
	putBool(&buf, a.ScanningEnabled)
	if a.MultisigKeys != nil {
		putBool(&buf, true)
		a.MultisigKeys.encode(&buf)
	} else {
		putBool(&buf, false)
	}
	return buf.Bytes()
}

// DecodeAccountValue parses a serialized account record body.
func DecodeAccountValue(raw []byte) (*AccountValue, error) {
	r := bytes.NewReader(raw)
	var a AccountValue

	version, err := getUint32(r)
	if err != nil {
		return nil, err
	}
	a.Version = uint16(version)
	if a.ID, err = getString(r); err != nil {
		return nil, err
	}
	if a.Name, err = getString(r); err != nil {
		return nil, err
	}
	if a.SpendingKey, err = getOptionalBytes(r); err != nil {
		return nil, err
	}
	if a.ViewKey, err = getBytes(r); err != nil {
		return nil, err
	}
	if a.IncomingViewKey, err = getBytes(r); err != nil {
		return nil, err
	}
	if a.OutgoingViewKey, err = getBytes(r); err != nil {
		return nil, err
	}
	h, err := getHash(r)
	if err != nil {
		return nil, err
	}
	copy(a.PublicAddress[:], h[:])
	if a.ProofAuthorizingKey, err = getOptionalBytes(r); err != nil {
		return nil, err
	}
	hasCreatedAt, err := getBool(r)
	if err != nil {
		return nil, err
	}
	if hasCreatedAt {
		var created HeadValue
		if created.Hash, err = getHash(r); err != nil {
			return nil, err
		}
		if created.Sequence, err = getUint32(r); err != nil {
			return nil, err
		}
		a.CreatedAt = &created
	}
	if a.ScanningEnabled, err = getBool(r); err != nil {
		return nil, err
	}
	hasMultisig, err := getBool(r)
	if err != nil {
		return nil, err
	}
	if hasMultisig {
		if a.MultisigKeys, err = decodeMultisigKeys(r); err != nil {
			return nil, err
		}
	}
	return &a, nil
}
