package provisioncrypto

import (
	"bytes"
	"testing"

	"github.com/gwillem/signal-mock/internal/libsignal"
)

func TestProvisionEnvelopeRoundTrip(t *testing.T) {
	// The linking client's ephemeral key pair.
	client, err := libsignal.GenerateIdentityKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	defer client.Destroy()

	clientPub, err := client.PublicKey.Serialize()
	if err != nil {
		t.Fatal(err)
	}

	plaintext := []byte("provision message payload")
	body, ephemeralPub, err := EncryptProvisionEnvelope(clientPub, plaintext)
	if err != nil {
		t.Fatal(err)
	}
	if body[0] != 0x01 {
		t.Fatalf("version byte 0x%02x, want 0x01", body[0])
	}
	if len(ephemeralPub) != 33 {
		t.Fatalf("ephemeral public key %d bytes, want 33", len(ephemeralPub))
	}

	got, err := DecryptProvisionEnvelope(client.PrivateKey, ephemeralPub, body)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round-trip mismatch: %q", got)
	}
}

func TestDecryptProvisionEnvelopeRejectsTampering(t *testing.T) {
	client, err := libsignal.GenerateIdentityKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	defer client.Destroy()

	clientPub, err := client.PublicKey.Serialize()
	if err != nil {
		t.Fatal(err)
	}

	body, ephemeralPub, err := EncryptProvisionEnvelope(clientPub, []byte("payload"))
	if err != nil {
		t.Fatal(err)
	}

	// Flip a ciphertext bit: the MAC must catch it.
	tampered := bytes.Clone(body)
	tampered[20] ^= 0x01
	if _, err := DecryptProvisionEnvelope(client.PrivateKey, ephemeralPub, tampered); err == nil {
		t.Fatal("tampered envelope decrypted")
	}

	// Wrong version byte.
	tampered = bytes.Clone(body)
	tampered[0] = 0x02
	if _, err := DecryptProvisionEnvelope(client.PrivateKey, ephemeralPub, tampered); err == nil {
		t.Fatal("wrong version accepted")
	}

	// Truncated body.
	if _, err := DecryptProvisionEnvelope(client.PrivateKey, ephemeralPub, body[:32]); err == nil {
		t.Fatal("truncated body accepted")
	}
}
