package walletdb

import (
	"bytes"
	"crypto/rand"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Master key derivation parameters for argon2id. Changing these is a schema
// migration: the salt alone does not fix them.
const (
	kdfTime    uint32 = 1
	kdfMemory  uint32 = 64 * 1024
	kdfThreads uint8  = 4
	kdfKeyLen  uint32 = chacha20poly1305.KeySize

	envelopeSaltSize = 16
)

// masterKey holds the unlocked symmetric key for account record envelopes.
type masterKey struct {
	key []byte
}

// deriveMasterKey stretches a passphrase into an AEAD key.
func deriveMasterKey(passphrase, salt []byte) *masterKey {
	key := argon2.IDKey(passphrase, salt, kdfTime, kdfMemory, kdfThreads, kdfKeyLen)
	return &masterKey{key: key}
}

// sealAccount wraps a plaintext account record into an encrypted envelope:
// tag byte, salt, nonce, ciphertext.
func (mk *masterKey) sealAccount(salt, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(mk.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteByte(accountTagEncrypted)
	buf.Write(salt)
	buf.Write(nonce)
	buf.Write(aead.Seal(nil, nonce, plaintext, nil))
	return buf.Bytes(), nil
}

// openEnvelope splits a stored encrypted record into salt, nonce and
// ciphertext. The caller has already consumed the tag byte.
func openEnvelope(raw []byte) (salt, nonce, ciphertext []byte, err error) {
	nonceSize := chacha20poly1305.NonceSizeX
	if len(raw) < envelopeSaltSize+nonceSize {
		return nil, nil, nil, ErrAccountDecryptionFailed
	}
	salt = raw[:envelopeSaltSize]
	nonce = raw[envelopeSaltSize : envelopeSaltSize+nonceSize]
	ciphertext = raw[envelopeSaltSize+nonceSize:]
	return salt, nonce, ciphertext, nil
}

// openAccount decrypts an envelope produced by sealAccount. A wrong key
// fails the AEAD tag check and surfaces as ErrAccountDecryptionFailed.
func (mk *masterKey) openAccount(nonce, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(mk.key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAccountDecryptionFailed
	}
	return plaintext, nil
}

// newEnvelopeSalt draws a fresh KDF salt.
func newEnvelopeSalt() ([]byte, error) {
	salt := make([]byte, envelopeSaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	return salt, nil
}
