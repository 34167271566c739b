package state

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestRegisterConflictsOnTakenNumber(t *testing.T) {
	s := New()
	number := s.NextE164()

	_, _, err := s.Register(RegisterOptions{Number: number, Password: "a", RegistrationID: 1, PNIRegistrationID: 1}, false)
	if err != nil {
		t.Fatal(err)
	}

	_, _, err = s.Register(RegisterOptions{Number: number, ACI: uuid.New(), Password: "b", RegistrationID: 2, PNIRegistrationID: 2}, false)
	if !errors.Is(err, ErrNumberTaken) {
		t.Fatalf("expected ErrNumberTaken, got %v", err)
	}
}

func TestRegisterReassignReleasesNumber(t *testing.T) {
	s := New()
	number := s.NextE164()

	first, _, err := s.Register(RegisterOptions{Number: number, Password: "a", RegistrationID: 1, PNIRegistrationID: 1}, false)
	if err != nil {
		t.Fatal(err)
	}

	second, _, err := s.Register(RegisterOptions{Number: number, Password: "b", RegistrationID: 2, PNIRegistrationID: 2}, true)
	if err != nil {
		t.Fatal(err)
	}
	if second.ACI == first.ACI {
		t.Fatal("reassigned account kept the old ACI")
	}
	if _, ok := s.Account(ACIFor(first.ACI)); ok {
		t.Fatal("old account still registered")
	}
}

func TestRegistrationIDRange(t *testing.T) {
	s := New()
	for _, id := range []int{0, -1, 1 << 14, 1<<14 + 5} {
		_, _, err := s.Register(RegisterOptions{Number: s.NextE164(), RegistrationID: id, PNIRegistrationID: 1}, false)
		if !errors.Is(err, ErrInvalidRegistrationID) {
			t.Fatalf("registration id %d: expected ErrInvalidRegistrationID, got %v", id, err)
		}
	}
	// Bounds are inclusive-exclusive: [1, 2^14).
	_, _, err := s.Register(RegisterOptions{Number: s.NextE164(), RegistrationID: 1<<14 - 1, PNIRegistrationID: 1}, false)
	if err != nil {
		t.Fatal(err)
	}
}

func TestAuthenticate(t *testing.T) {
	s := New()
	account, device := newTestAccount(t, s)

	gotAccount, gotDevice, err := s.Authenticate(account.ACI.String()+".1", "secret")
	if err != nil {
		t.Fatal(err)
	}
	if gotAccount.ACI != account.ACI || gotDevice.ID != device.ID {
		t.Fatal("authenticated wrong device")
	}

	// Bare ACI authenticates the primary.
	if _, d, err := s.Authenticate(account.ACI.String(), "secret"); err != nil || d.ID != PrimaryDeviceID {
		t.Fatalf("bare aci auth: device=%v err=%v", d, err)
	}

	if _, _, err := s.Authenticate(account.ACI.String()+".1", "wrong"); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("expected ErrBadCredentials, got %v", err)
	}
	if _, _, err := s.Authenticate(uuid.NewString()+".1", "secret"); !errors.Is(err, ErrNoAccount) {
		t.Fatalf("expected ErrNoAccount, got %v", err)
	}
}

func TestLinkDeviceAssignsSequentialIDs(t *testing.T) {
	s := New()
	account, _ := newTestAccount(t, s)

	for want := 2; want <= 4; want++ {
		d, err := s.LinkDevice(account.ACI, LinkDeviceOptions{Password: "p", RegistrationID: 50, PNIRegistrationID: 51})
		if err != nil {
			t.Fatal(err)
		}
		if d.ID != want {
			t.Fatalf("device id %d, want %d", d.ID, want)
		}
	}
}

func TestNextE164Unique(t *testing.T) {
	s := New()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		n := s.NextE164()
		if seen[n] {
			t.Fatalf("duplicate number %s", n)
		}
		seen[n] = true
		if n[0] != '+' {
			t.Fatalf("number %s missing leading +", n)
		}
	}
}

func TestEmptyAttachmentPreallocated(t *testing.T) {
	s := New()
	key := s.EmptyAttachmentKey()
	data, ok := s.GetCDN(key)
	if !ok {
		t.Fatal("empty attachment missing")
	}
	if len(data) != 0 {
		t.Fatalf("empty attachment has %d bytes", len(data))
	}
}
