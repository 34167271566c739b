package provisioncrypto

import "testing"

func TestVerifyMAC(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	data := []byte("authenticated data")

	mac := ComputeMAC(key, data)
	if len(mac) != 32 {
		t.Fatalf("mac length %d, want 32", len(mac))
	}
	if err := VerifyMAC(key, data, mac); err != nil {
		t.Fatal(err)
	}

	mac[0] ^= 0xFF
	if err := VerifyMAC(key, data, mac); err == nil {
		t.Fatal("tampered MAC verified")
	}

	mac[0] ^= 0xFF
	if err := VerifyMAC([]byte("another-key-another-key-another!"), data, mac); err == nil {
		t.Fatal("wrong key verified")
	}
}
