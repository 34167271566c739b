package state

import "slices"

// PutCDN stores a blob under a fresh 32-hex CDN key and returns the key.
func (s *State) PutCDN(data []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putCDNLocked(data)
}

func (s *State) putCDNLocked(data []byte) string {
	key := RandomHex(16)
	s.cdn[key] = slices.Clone(data)
	return key
}

// PutCDNAt stores a blob under a caller-chosen key (upload form flow).
func (s *State) PutCDNAt(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cdn[key] = slices.Clone(data)
}

// GetCDN fetches a blob by CDN key.
func (s *State) GetCDN(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.cdn[key]
	return data, ok
}

// EmptyAttachmentKey is the CDN key of the zero-byte blob allocated at
// startup.
func (s *State) EmptyAttachmentKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emptyAttachmentKey
}
