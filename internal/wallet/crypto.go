package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/sha3"

	"github.com/quoroomlabs/quoroom/internal/errs"
)

// Keypair is a freshly generated signing key. PrivateKeyHex must never be
// persisted or logged in the clear; callers encrypt it immediately.
type Keypair struct {
	PrivateKeyHex string
	Address       string // 0x + 40 lowercase hex chars
}

// GenerateKeypair creates a secp256k1 key and derives its EVM address: the
// last 20 bytes of Keccak-256 over the uncompressed public key.
func GenerateKeypair() (*Keypair, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	pub := priv.PubKey().SerializeUncompressed()

	h := sha3.NewLegacyKeccak256()
	h.Write(pub[1:]) // drop the 0x04 prefix byte
	digest := h.Sum(nil)

	return &Keypair{
		PrivateKeyHex: hex.EncodeToString(priv.Serialize()),
		Address:       "0x" + hex.EncodeToString(digest[12:]),
	}, nil
}

// deriveKey turns the custody secret into the 32-byte AES key.
func deriveKey(secret string) [32]byte {
	return sha256.Sum256([]byte(secret))
}

// Encrypt seals plaintext with AES-256-GCM under a key derived from the
// custody secret. The nonce is prepended; the whole blob is base64.
func Encrypt(secret, plaintext string) (string, error) {
	if secret == "" {
		return "", errs.New(errs.KindInvalidInput, "wallet custody secret is empty")
	}
	key := deriveKey(secret)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt. Tampering or a wrong secret
// fails GCM authentication.
func Decrypt(secret, blob string) (string, error) {
	if secret == "" {
		return "", errs.New(errs.KindInvalidInput, "wallet custody secret is empty")
	}
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", errs.New(errs.KindInvalidInput, "malformed key blob")
	}
	key := deriveKey(secret)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(raw) < gcm.NonceSize() {
		return "", errs.New(errs.KindInvalidInput, "malformed key blob")
	}
	nonce, sealed := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", errs.New(errs.KindUnauthorized, "key decryption failed")
	}
	return string(plain), nil
}
