package state

import (
	"slices"

	"github.com/google/uuid"
)

// StorageManifest is the current encrypted manifest of an account's
// storage service records.
type StorageManifest struct {
	Version uint64
	Value   []byte
}

// StorageItem is one encrypted record addressed by its opaque key.
type StorageItem struct {
	Key   []byte
	Value []byte
}

type accountStorage struct {
	manifest *StorageManifest
	items    map[string][]byte
}

func newAccountStorage() *accountStorage {
	return &accountStorage{items: make(map[string][]byte)}
}

// StorageWrite is a validated WriteOperation.
type StorageWrite struct {
	Manifest   StorageManifest
	InsertItem []StorageItem
	DeleteKey  [][]byte
	ClearAll   bool
}

// StorageManifestIfNewer returns the current manifest when its version is
// strictly greater than since; a nil manifest means the client is current.
func (s *State) StorageManifestIfNewer(aci uuid.UUID, since uint64) (*StorageManifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accountsByACI[aci]
	if !ok {
		return nil, ErrNoAccount
	}
	m := account.storage.manifest
	if m == nil || m.Version <= since {
		return nil, nil
	}
	return m, nil
}

// WriteStorage applies a write operation atomically. A manifest version not
// strictly greater than the current one fails with ErrManifestConflict and
// returns the current manifest so the client can recover. On success every
// waiter registered via WaitForManifest is signaled with the new manifest.
func (s *State) WriteStorage(aci uuid.UUID, write StorageWrite) (*StorageManifest, error) {
	s.mu.Lock()

	account, ok := s.accountsByACI[aci]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNoAccount
	}

	st := account.storage
	if st.manifest != nil && write.Manifest.Version <= st.manifest.Version {
		current := st.manifest
		s.mu.Unlock()
		return current, ErrManifestConflict
	}

	if write.ClearAll {
		st.items = make(map[string][]byte)
	}
	for _, key := range write.DeleteKey {
		delete(st.items, string(key))
	}
	for _, item := range write.InsertItem {
		st.items[string(item.Key)] = slices.Clone(item.Value)
	}
	manifest := &StorageManifest{Version: write.Manifest.Version, Value: slices.Clone(write.Manifest.Value)}
	st.manifest = manifest

	waiters := s.manifestWaiters[aci]
	delete(s.manifestWaiters, aci)
	s.mu.Unlock()

	for _, ch := range waiters {
		ch <- manifest
	}
	return manifest, nil
}

// ReadStorageItems returns the stored items for the requested keys, in
// request order, skipping absent keys.
func (s *State) ReadStorageItems(aci uuid.UUID, keys [][]byte) ([]StorageItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accountsByACI[aci]
	if !ok {
		return nil, ErrNoAccount
	}
	var items []StorageItem
	for _, key := range keys {
		if value, ok := account.storage.items[string(key)]; ok {
			items = append(items, StorageItem{Key: slices.Clone(key), Value: slices.Clone(value)})
		}
	}
	return items, nil
}

// WaitForManifest registers a waiter that receives the next manifest
// written for the account. If a manifest newer than since already exists
// it is delivered immediately. The returned channel has capacity one; each
// write signals all waiters registered at that moment.
func (s *State) WaitForManifest(aci uuid.UUID, since uint64) (<-chan *StorageManifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accountsByACI[aci]
	if !ok {
		return nil, ErrNoAccount
	}
	ch := make(chan *StorageManifest, 1)
	if m := account.storage.manifest; m != nil && m.Version > since {
		ch <- m
		return ch, nil
	}
	s.manifestWaiters[aci] = append(s.manifestWaiters[aci], ch)
	return ch, nil
}
