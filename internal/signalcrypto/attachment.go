// Package signalcrypto implements Signal's attachment and access-key
// cryptography: AES-256-CBC with an appended HMAC-SHA256 for CDN blobs,
// and the unidentified-access-key derivation from profile keys.
package signalcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
)

const attachmentMACSize = 32

// EncryptedAttachment is the output of EncryptAttachment.
type EncryptedAttachment struct {
	// Blob is iv(16) || ciphertext || mac(32), the bytes stored on the CDN.
	Blob []byte
	// Key is 64 bytes: 32-byte AES key followed by 32-byte HMAC key.
	Key []byte
	// Digest is SHA-256 over the full blob.
	Digest []byte
	// Size is the padded plaintext size the attachment pointer advertises.
	Size int
}

// EncryptAttachment encrypts plaintext in Signal's attachment format with a
// freshly generated key pair: AES-256-CBC with PKCS7 padding, HMAC-SHA256
// over iv||ciphertext appended.
func EncryptAttachment(plaintext []byte) (*EncryptedAttachment, error) {
	key := make([]byte, 64)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("attachment: generate key: %w", err)
	}

	aesKey := key[:32]
	hmacKey := key[32:]

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, fmt.Errorf("attachment: create cipher: %w", err)
	}

	pad := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := make([]byte, len(plaintext)+pad)
	copy(padded, plaintext)
	for i := len(plaintext); i < len(padded); i++ {
		padded[i] = byte(pad)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("attachment: generate IV: %w", err)
	}

	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	blob := make([]byte, 0, len(iv)+len(ct)+attachmentMACSize)
	blob = append(blob, iv...)
	blob = append(blob, ct...)

	mac := hmac.New(sha256.New, hmacKey)
	mac.Write(blob)
	blob = mac.Sum(blob)

	digest := sha256.Sum256(blob)

	return &EncryptedAttachment{
		Blob:   blob,
		Key:    key,
		Digest: digest[:],
		Size:   len(padded),
	}, nil
}

// DecryptAttachment decrypts a Signal attachment blob.
// The data format is: IV (16 bytes) || AES-CBC ciphertext || HMAC-SHA256 (32 bytes).
// The key is 64 bytes: 32 bytes AES key + 32 bytes HMAC key.
func DecryptAttachment(data, key []byte) ([]byte, error) {
	if len(key) != 64 {
		return nil, fmt.Errorf("attachment: key must be 64 bytes, got %d", len(key))
	}

	ivLen := aes.BlockSize
	if len(data) < ivLen+attachmentMACSize+aes.BlockSize {
		return nil, fmt.Errorf("attachment: data too short (%d bytes)", len(data))
	}

	aesKey := key[:32]
	hmacKey := key[32:]

	iv := data[:ivLen]
	ct := data[ivLen : len(data)-attachmentMACSize]
	expectedMAC := data[len(data)-attachmentMACSize:]

	mac := hmac.New(sha256.New, hmacKey)
	mac.Write(data[:len(data)-attachmentMACSize])
	if !hmac.Equal(mac.Sum(nil), expectedMAC) {
		return nil, fmt.Errorf("attachment: HMAC verification failed")
	}

	if len(ct)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("attachment: ciphertext not block-aligned")
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, fmt.Errorf("attachment: create cipher: %w", err)
	}
	plaintext := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ct)

	if len(plaintext) == 0 {
		return nil, fmt.Errorf("attachment: empty plaintext")
	}
	padLen := int(plaintext[len(plaintext)-1])
	if padLen == 0 || padLen > aes.BlockSize || padLen > len(plaintext) {
		return nil, fmt.Errorf("attachment: invalid PKCS7 padding")
	}
	for _, b := range plaintext[len(plaintext)-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("attachment: invalid PKCS7 padding bytes")
		}
	}
	return plaintext[:len(plaintext)-padLen], nil
}
