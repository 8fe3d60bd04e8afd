package wallet

import (
	"encoding/hex"
	"regexp"
	"testing"

	"github.com/quoroomlabs/quoroom/internal/errs"
)

var addressRe = regexp.MustCompile(`^0x[0-9a-f]{40}$`)

func TestGenerateKeypair(t *testing.T) {
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	if !addressRe.MatchString(kp.Address) {
		t.Errorf("address = %q, want 0x + 40 lowercase hex", kp.Address)
	}
	raw, err := hex.DecodeString(kp.PrivateKeyHex)
	if err != nil || len(raw) != 32 {
		t.Errorf("private key hex = %d chars, decode err %v", len(kp.PrivateKeyHex), err)
	}

	other, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	if other.Address == kp.Address || other.PrivateKeyHex == kp.PrivateKeyHex {
		t.Error("two keypairs are identical")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	const secret = "custody-secret"
	const plain = "deadbeef0123456789"

	blob, err := Encrypt(secret, plain)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if blob == plain {
		t.Fatal("ciphertext equals plaintext")
	}

	got, err := Decrypt(secret, blob)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if got != plain {
		t.Errorf("round trip = %q, want %q", got, plain)
	}

	// Same plaintext seals to different blobs because the nonce is fresh.
	blob2, err := Encrypt(secret, plain)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if blob2 == blob {
		t.Error("nonce reuse: identical ciphertexts")
	}
}

func TestDecryptFailures(t *testing.T) {
	blob, err := Encrypt("right-secret", "payload")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if _, err := Decrypt("wrong-secret", blob); !errs.IsKind(err, errs.KindUnauthorized) {
		t.Errorf("wrong secret err = %v, want unauthorized", err)
	}
	if _, err := Decrypt("right-secret", "not base64!!"); !errs.IsKind(err, errs.KindInvalidInput) {
		t.Errorf("bad blob err = %v, want invalid_input", err)
	}
	if _, err := Encrypt("", "x"); !errs.IsKind(err, errs.KindInvalidInput) {
		t.Errorf("empty secret err = %v, want invalid_input", err)
	}
}
