package state

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestStorageWriteAndRead(t *testing.T) {
	s := New()
	account, _ := newTestAccount(t, s)

	write := StorageWrite{
		Manifest: StorageManifest{Version: 1, Value: []byte("manifest-v1")},
		InsertItem: []StorageItem{
			{Key: []byte("k1"), Value: []byte("v1")},
			{Key: []byte("k2"), Value: []byte("v2")},
		},
	}
	if _, err := s.WriteStorage(account.ACI, write); err != nil {
		t.Fatal(err)
	}

	items, err := s.ReadStorageItems(account.ACI, [][]byte{[]byte("k1"), []byte("k2"), []byte("missing")})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if !bytes.Equal(items[0].Value, []byte("v1")) || !bytes.Equal(items[1].Value, []byte("v2")) {
		t.Fatalf("round-trip mismatch: %+v", items)
	}
}

func TestStorageWriteConflictReturnsCurrentManifest(t *testing.T) {
	s := New()
	account, _ := newTestAccount(t, s)

	if _, err := s.WriteStorage(account.ACI, StorageWrite{Manifest: StorageManifest{Version: 3, Value: []byte("v3")}}); err != nil {
		t.Fatal(err)
	}

	// Same version: conflict, current manifest comes back.
	current, err := s.WriteStorage(account.ACI, StorageWrite{
		Manifest:   StorageManifest{Version: 3, Value: []byte("dupe")},
		InsertItem: []StorageItem{{Key: []byte("k"), Value: []byte("v")}},
	})
	if !errors.Is(err, ErrManifestConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if current.Version != 3 || !bytes.Equal(current.Value, []byte("v3")) {
		t.Fatalf("conflict returned %+v, want version 3", current)
	}

	// The conflicting write must not have applied its inserts.
	items, err := s.ReadStorageItems(account.ACI, [][]byte{[]byte("k")})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 0 {
		t.Fatalf("conflicting insert applied: %+v", items)
	}

	// Retry at version 4 succeeds.
	if _, err := s.WriteStorage(account.ACI, StorageWrite{Manifest: StorageManifest{Version: 4, Value: []byte("v4")}}); err != nil {
		t.Fatal(err)
	}
	m, err := s.StorageManifestIfNewer(account.ACI, 3)
	if err != nil {
		t.Fatal(err)
	}
	if m == nil || m.Version != 4 {
		t.Fatalf("manifest after retry: %+v", m)
	}
}

func TestStorageManifestIfNewer(t *testing.T) {
	s := New()
	account, _ := newTestAccount(t, s)

	m, err := s.StorageManifestIfNewer(account.ACI, 0)
	if err != nil {
		t.Fatal(err)
	}
	if m != nil {
		t.Fatalf("expected no manifest before first write, got %+v", m)
	}

	if _, err := s.WriteStorage(account.ACI, StorageWrite{Manifest: StorageManifest{Version: 2}}); err != nil {
		t.Fatal(err)
	}
	if m, _ := s.StorageManifestIfNewer(account.ACI, 2); m != nil {
		t.Fatalf("client at version 2 should be current, got %+v", m)
	}
	if m, _ := s.StorageManifestIfNewer(account.ACI, 1); m == nil || m.Version != 2 {
		t.Fatalf("client at version 1 should see version 2, got %+v", m)
	}
}

func TestStorageClearAllAndDelete(t *testing.T) {
	s := New()
	account, _ := newTestAccount(t, s)

	if _, err := s.WriteStorage(account.ACI, StorageWrite{
		Manifest:   StorageManifest{Version: 1},
		InsertItem: []StorageItem{{Key: []byte("a"), Value: []byte("1")}, {Key: []byte("b"), Value: []byte("2")}},
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := s.WriteStorage(account.ACI, StorageWrite{
		Manifest:  StorageManifest{Version: 2},
		DeleteKey: [][]byte{[]byte("a")},
	}); err != nil {
		t.Fatal(err)
	}
	items, _ := s.ReadStorageItems(account.ACI, [][]byte{[]byte("a"), []byte("b")})
	if len(items) != 1 || !bytes.Equal(items[0].Key, []byte("b")) {
		t.Fatalf("after delete: %+v", items)
	}

	if _, err := s.WriteStorage(account.ACI, StorageWrite{
		Manifest: StorageManifest{Version: 3},
		ClearAll: true,
	}); err != nil {
		t.Fatal(err)
	}
	items, _ = s.ReadStorageItems(account.ACI, [][]byte{[]byte("b")})
	if len(items) != 0 {
		t.Fatalf("after clearAll: %+v", items)
	}
}

func TestWaitForManifestSignaledOnWrite(t *testing.T) {
	s := New()
	account, _ := newTestAccount(t, s)

	ch, err := s.WaitForManifest(account.ACI, 0)
	if err != nil {
		t.Fatal(err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _ = s.WriteStorage(account.ACI, StorageWrite{Manifest: StorageManifest{Version: 5, Value: []byte("v5")}})
	}()

	select {
	case m := <-ch:
		if m.Version != 5 {
			t.Fatalf("waiter saw version %d, want 5", m.Version)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never signaled")
	}
}

func TestWaitForManifestImmediateWhenAlreadyNewer(t *testing.T) {
	s := New()
	account, _ := newTestAccount(t, s)

	if _, err := s.WriteStorage(account.ACI, StorageWrite{Manifest: StorageManifest{Version: 2}}); err != nil {
		t.Fatal(err)
	}
	ch, err := s.WaitForManifest(account.ACI, 1)
	if err != nil {
		t.Fatal(err)
	}
	select {
	case m := <-ch:
		if m.Version != 2 {
			t.Fatalf("got version %d, want 2", m.Version)
		}
	default:
		t.Fatal("expected immediate delivery")
	}
}
