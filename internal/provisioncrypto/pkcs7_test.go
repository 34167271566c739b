package provisioncrypto

import (
	"bytes"
	"testing"
)

func TestPKCS7RoundTrip(t *testing.T) {
	for _, size := range []int{0, 1, 15, 16, 17, 31, 32, 100} {
		data := bytes.Repeat([]byte{0xAB}, size)
		padded := PKCS7Pad(data, 16)
		if len(padded)%16 != 0 {
			t.Fatalf("size %d: padded length %d not block-aligned", size, len(padded))
		}
		unpadded, err := PKCS7Unpad(padded, 16)
		if err != nil {
			t.Fatalf("size %d: %v", size, err)
		}
		if !bytes.Equal(unpadded, data) {
			t.Fatalf("size %d: round-trip mismatch", size)
		}
	}
}

func TestPKCS7UnpadRejectsBadPadding(t *testing.T) {
	cases := map[string][]byte{
		"empty":             {},
		"unaligned":         bytes.Repeat([]byte{1}, 15),
		"zero pad byte":     append(bytes.Repeat([]byte{1}, 15), 0),
		"oversized pad":     append(bytes.Repeat([]byte{1}, 15), 17),
		"inconsistent pad":  {1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 2, 3, 3},
	}
	for name, data := range cases {
		if _, err := PKCS7Unpad(data, 16); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
