// Package provisioncrypto implements the cryptography of Signal's device
// provisioning envelope: ECDH against the linking client's ephemeral key,
// HKDF key derivation, AES-256-CBC and HMAC-SHA256 framing.
package provisioncrypto

import (
	"fmt"

	"github.com/gwillem/signal-mock/internal/libsignal"
)

const (
	provisionVersion = 0x01
	macSize          = 32
	ivSize           = 16
	// Minimum body: version(1) + iv(16) + at least 1 block(16) + mac(32) = 65
	minBodySize = 1 + ivSize + 16 + macSize
)

// EncryptProvisionEnvelope encrypts a serialized ProvisionMessage for the
// linking client's public key. A fresh ephemeral key is generated per call.
//
// Body wire format: version(1) || iv(16) || ciphertext(variable) || mac(32).
// Returns the body and the serialized ephemeral public key the client needs
// for its side of the ECDH.
func EncryptProvisionEnvelope(theirPublicKeyBytes, plaintext []byte) (body, ephemeralPub []byte, err error) {
	theirPub, err := libsignal.DeserializePublicKey(theirPublicKeyBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("provision: deserialize public key: %w", err)
	}
	defer theirPub.Destroy()

	ephemeral, err := libsignal.GeneratePrivateKey()
	if err != nil {
		return nil, nil, fmt.Errorf("provision: generate ephemeral key: %w", err)
	}
	defer ephemeral.Destroy()

	sharedSecret, err := ephemeral.Agree(theirPub)
	if err != nil {
		return nil, nil, fmt.Errorf("provision: ECDH agree: %w", err)
	}

	cipherKey, macKey, err := DeriveProvisioningKeys(sharedSecret)
	if err != nil {
		return nil, nil, fmt.Errorf("provision: derive keys: %w", err)
	}

	ivAndCt, err := EncryptAESCBC(cipherKey, plaintext)
	if err != nil {
		return nil, nil, fmt.Errorf("provision: %w", err)
	}

	body = make([]byte, 0, 1+len(ivAndCt)+macSize)
	body = append(body, provisionVersion)
	body = append(body, ivAndCt...)
	body = append(body, ComputeMAC(macKey, body)...)

	ephemeralPubKey, err := ephemeral.PublicKey()
	if err != nil {
		return nil, nil, fmt.Errorf("provision: ephemeral public key: %w", err)
	}
	defer ephemeralPubKey.Destroy()

	ephemeralPub, err = ephemeralPubKey.Serialize()
	if err != nil {
		return nil, nil, fmt.Errorf("provision: serialize ephemeral key: %w", err)
	}

	return body, ephemeralPub, nil
}

// DecryptProvisionEnvelope decrypts a provisioning envelope body using
// the recipient's private key and the sender's ephemeral public key bytes.
// The inverse of EncryptProvisionEnvelope; the harness uses it to check
// what a linking client would see.
func DecryptProvisionEnvelope(ourKey *libsignal.PrivateKey, theirPublicKeyBytes, body []byte) ([]byte, error) {
	if len(body) < minBodySize {
		return nil, fmt.Errorf("provision: body too short (%d bytes)", len(body))
	}

	if body[0] != provisionVersion {
		return nil, fmt.Errorf("provision: unsupported version 0x%02x", body[0])
	}

	theirPub, err := libsignal.DeserializePublicKey(theirPublicKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("provision: deserialize public key: %w", err)
	}
	defer theirPub.Destroy()

	sharedSecret, err := ourKey.Agree(theirPub)
	if err != nil {
		return nil, fmt.Errorf("provision: ECDH agree: %w", err)
	}

	cipherKey, macKey, err := DeriveProvisioningKeys(sharedSecret)
	if err != nil {
		return nil, fmt.Errorf("provision: derive keys: %w", err)
	}

	macOffset := len(body) - macSize
	mac := body[macOffset:]
	authenticated := body[:macOffset]

	if err := VerifyMAC(macKey, authenticated, mac); err != nil {
		return nil, fmt.Errorf("provision: %w", err)
	}

	iv := body[1 : 1+ivSize]
	ct := body[1+ivSize : macOffset]

	plaintext, err := DecryptAESCBC(cipherKey, iv, ct)
	if err != nil {
		return nil, fmt.Errorf("provision: %w", err)
	}

	return plaintext, nil
}
