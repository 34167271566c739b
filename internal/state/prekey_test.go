package state

import (
	"fmt"
	"testing"
)

func newTestAccount(t *testing.T, s *State) (*Account, *Device) {
	t.Helper()
	account, device, err := s.Register(RegisterOptions{
		Number:            s.NextE164(),
		Password:          "secret",
		RegistrationID:    100,
		PNIRegistrationID: 200,
		FetchesMessages:   true,
	}, false)
	if err != nil {
		t.Fatal(err)
	}
	return account, device
}

func testPreKeys(ids ...int) []*PreKey {
	keys := make([]*PreKey, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, &PreKey{KeyID: id, PublicKey: []byte(fmt.Sprintf("pk-%02d", id))})
	}
	return keys
}

func TestConsumePreKeysFIFO(t *testing.T) {
	s := New()
	account, device := newTestAccount(t, s)

	err := s.SetDeviceKeys(account.ACI, device.ID, IdentityACI, KeyUpload{
		SignedPreKey:   &SignedPreKey{KeyID: 100, PublicKey: make([]byte, 33)},
		OneTimePreKeys: testPreKeys(1, 2, 3, 4, 5),
	})
	if err != nil {
		t.Fatal(err)
	}

	issued := 5
	for want := 1; want <= 3; want++ {
		bundles, err := s.ConsumePreKeys(ACIFor(account.ACI), device.ID, false)
		if err != nil {
			t.Fatal(err)
		}
		if len(bundles) != 1 {
			t.Fatalf("got %d bundles, want 1", len(bundles))
		}
		b := bundles[0]
		if b.PreKey == nil || b.PreKey.KeyID != want {
			t.Fatalf("consumed key %+v, want id %d", b.PreKey, want)
		}
		if b.SignedPreKey == nil || b.SignedPreKey.KeyID != 100 {
			t.Fatalf("signed prekey missing from bundle")
		}
		if b.RegistrationID != 100 {
			t.Fatalf("registration id %d, want 100", b.RegistrationID)
		}
	}

	remaining, _, err := s.PreKeyCounts(account.ACI, device.ID, IdentityACI)
	if err != nil {
		t.Fatal(err)
	}
	consumed := 3
	if remaining != issued-consumed {
		t.Fatalf("remaining %d, want %d", remaining, issued-consumed)
	}
}

func TestConsumePreKeysEmptyQueueServesSignedOnly(t *testing.T) {
	s := New()
	account, device := newTestAccount(t, s)

	err := s.SetDeviceKeys(account.ACI, device.ID, IdentityACI, KeyUpload{
		SignedPreKey: &SignedPreKey{KeyID: 7, PublicKey: make([]byte, 33)},
	})
	if err != nil {
		t.Fatal(err)
	}

	bundles, err := s.ConsumePreKeys(ACIFor(account.ACI), device.ID, false)
	if err != nil {
		t.Fatal(err)
	}
	if bundles[0].PreKey != nil {
		t.Fatalf("expected no one-time key, got %+v", bundles[0].PreKey)
	}
	if bundles[0].SignedPreKey.KeyID != 7 {
		t.Fatalf("signed prekey id %d, want 7", bundles[0].SignedPreKey.KeyID)
	}
}

func TestConsumePreKeysPqFallsBackToLastResort(t *testing.T) {
	s := New()
	account, device := newTestAccount(t, s)

	err := s.SetDeviceKeys(account.ACI, device.ID, IdentityACI, KeyUpload{
		SignedPreKey:    &SignedPreKey{KeyID: 1, PublicKey: make([]byte, 33)},
		PqLastResortKey: &KyberPreKey{KeyID: 9000},
		OneTimePqKeys:   []*KyberPreKey{{KeyID: 10}},
	})
	if err != nil {
		t.Fatal(err)
	}

	bundles, err := s.ConsumePreKeys(ACIFor(account.ACI), device.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	if bundles[0].PqPreKey.KeyID != 10 {
		t.Fatalf("expected one-shot kyber key 10, got %d", bundles[0].PqPreKey.KeyID)
	}

	bundles, err = s.ConsumePreKeys(ACIFor(account.ACI), device.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	if bundles[0].PqPreKey.KeyID != 9000 {
		t.Fatalf("expected last-resort kyber key, got %d", bundles[0].PqPreKey.KeyID)
	}
}

func TestConsumePreKeysUnknownDevice(t *testing.T) {
	s := New()
	account, _ := newTestAccount(t, s)

	if _, err := s.ConsumePreKeys(ACIFor(account.ACI), 42, false); err == nil {
		t.Fatal("expected error for unknown device")
	}
}

func TestSignedPreKeyReplacedNeverUnset(t *testing.T) {
	s := New()
	account, device := newTestAccount(t, s)

	upload := func(spk *SignedPreKey) {
		t.Helper()
		if err := s.SetDeviceKeys(account.ACI, device.ID, IdentityACI, KeyUpload{SignedPreKey: spk}); err != nil {
			t.Fatal(err)
		}
	}
	upload(&SignedPreKey{KeyID: 1, PublicKey: make([]byte, 33)})
	// An upload without a signed prekey must not clear the current one.
	if err := s.SetDeviceKeys(account.ACI, device.ID, IdentityACI, KeyUpload{OneTimePreKeys: testPreKeys(1)}); err != nil {
		t.Fatal(err)
	}
	upload(&SignedPreKey{KeyID: 2, PublicKey: make([]byte, 33)})

	bundles, err := s.ConsumePreKeys(ACIFor(account.ACI), device.ID, false)
	if err != nil {
		t.Fatal(err)
	}
	if bundles[0].SignedPreKey.KeyID != 2 {
		t.Fatalf("signed prekey id %d, want 2 (replaced)", bundles[0].SignedPreKey.KeyID)
	}
}

func TestPNIBundleUsesPNIRegistrationID(t *testing.T) {
	s := New()
	account, device := newTestAccount(t, s)

	err := s.SetDeviceKeys(account.ACI, device.ID, IdentityPNI, KeyUpload{
		SignedPreKey: &SignedPreKey{KeyID: 1, PublicKey: make([]byte, 33)},
	})
	if err != nil {
		t.Fatal(err)
	}

	bundles, err := s.ConsumePreKeys(PNIFor(account.PNI), device.ID, false)
	if err != nil {
		t.Fatal(err)
	}
	if bundles[0].RegistrationID != 200 {
		t.Fatalf("pni registration id %d, want 200", bundles[0].RegistrationID)
	}
}
