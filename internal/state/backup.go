package state

import "github.com/google/uuid"

// SetBackupIDRequests stores the blinded backup-id credential requests an
// account submitted via PUT /v1/archives/backupid.
func (s *State) SetBackupIDRequests(aci uuid.UUID, messagesRequest, mediaRequest []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accountsByACI[aci]
	if !ok {
		return ErrNoAccount
	}
	account.BackupIDRequest = messagesRequest
	account.MediaIDRequest = mediaRequest
	return nil
}

// SetBackupPublicKey binds the public key that signs backup requests.
func (s *State) SetBackupPublicKey(aci uuid.UUID, publicKey []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accountsByACI[aci]
	if !ok {
		return ErrNoAccount
	}
	account.BackupPublicKey = publicKey
	return nil
}

// BackupBindings returns the stored backup credential material.
func (s *State) BackupBindings(aci uuid.UUID) (messagesRequest, mediaRequest, publicKey []byte, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accountsByACI[aci]
	if !ok {
		return nil, nil, nil, ErrNoAccount
	}
	return account.BackupIDRequest, account.MediaIDRequest, account.BackupPublicKey, nil
}
