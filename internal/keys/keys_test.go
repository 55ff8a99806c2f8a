package keys

import (
	"strings"
	"testing"
)

func TestHashAPIKey_PepperChangesHash(t *testing.T) {
	k, err := NewAPIKey()
	if err != nil {
		t.Fatalf("NewAPIKey: %v", err)
	}
	a := HashAPIKey("pepper-a", k)
	b := HashAPIKey("pepper-b", k)
	if a == b {
		t.Error("different peppers produced the same hash")
	}
	if a != HashAPIKey("pepper-a", k) {
		t.Error("hash is not deterministic")
	}
}

func TestCipher_RoundTrip(t *testing.T) {
	c, err := NewCipher("correct horse battery staple")
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	secret := "AIzaSy-personal-model-key"
	enc, err := c.Encrypt(secret)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if strings.Contains(enc, secret) {
		t.Error("ciphertext contains plaintext")
	}
	dec, err := c.Decrypt(enc)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if dec != secret {
		t.Errorf("Decrypt = %q, want %q", dec, secret)
	}
}

func TestCipher_WrongKeyFails(t *testing.T) {
	a, _ := NewCipher("passphrase-a")
	b, _ := NewCipher("passphrase-b")
	enc, err := a.Encrypt("secret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := b.Decrypt(enc); err == nil {
		t.Error("decrypt with wrong key succeeded")
	}
}

func TestCipher_GarbageFails(t *testing.T) {
	c, _ := NewCipher("passphrase")
	for _, payload := range []string{"", "%%%", "AAAA"} {
		if _, err := c.Decrypt(payload); err == nil {
			t.Errorf("Decrypt(%q) succeeded, want error", payload)
		}
	}
}

func TestNewCipher_EmptyPassphrase(t *testing.T) {
	if _, err := NewCipher(""); err == nil {
		t.Error("NewCipher(\"\") succeeded, want error")
	}
}
