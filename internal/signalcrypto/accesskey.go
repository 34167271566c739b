package signalcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"fmt"
)

// DeriveAccessKey derives the 16-byte unidentified access key from a
// 32-byte profile key: AES-256-GCM over 16 zero bytes with a zero nonce,
// truncated to 16 bytes. Matches Signal-Android's UnidentifiedAccess.
func DeriveAccessKey(profileKey []byte) ([]byte, error) {
	if len(profileKey) != 32 {
		return nil, fmt.Errorf("accesskey: profile key must be 32 bytes, got %d", len(profileKey))
	}

	block, err := aes.NewCipher(profileKey)
	if err != nil {
		return nil, fmt.Errorf("accesskey: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("accesskey: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	zeros := make([]byte, 16)
	sealed := gcm.Seal(nil, nonce, zeros, nil)
	return sealed[:16], nil
}

// VerifyAccessKey compares a presented access key against the stored one in
// constant time.
func VerifyAccessKey(stored, presented []byte) bool {
	return len(stored) == 16 && hmac.Equal(stored, presented)
}
