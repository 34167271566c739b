package signalcrypto

import (
	"bytes"
	"testing"
)

func TestDeriveAccessKey(t *testing.T) {
	profileKey := bytes.Repeat([]byte{0x11}, 32)

	key, err := DeriveAccessKey(profileKey)
	if err != nil {
		t.Fatal(err)
	}
	if len(key) != 16 {
		t.Fatalf("access key %d bytes, want 16", len(key))
	}

	// Deterministic per profile key.
	again, err := DeriveAccessKey(profileKey)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(key, again) {
		t.Fatal("derivation not deterministic")
	}

	other, err := DeriveAccessKey(bytes.Repeat([]byte{0x22}, 32))
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(key, other) {
		t.Fatal("distinct profile keys derived the same access key")
	}

	if _, err := DeriveAccessKey(make([]byte, 16)); err == nil {
		t.Fatal("short profile key accepted")
	}
}

func TestVerifyAccessKey(t *testing.T) {
	key, err := DeriveAccessKey(bytes.Repeat([]byte{0x33}, 32))
	if err != nil {
		t.Fatal(err)
	}
	if !VerifyAccessKey(key, key) {
		t.Fatal("matching key rejected")
	}
	wrong := bytes.Clone(key)
	wrong[0] ^= 1
	if VerifyAccessKey(key, wrong) {
		t.Fatal("wrong key accepted")
	}
	if VerifyAccessKey(nil, key) {
		t.Fatal("empty stored key accepted")
	}
}
