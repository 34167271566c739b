package server

import (
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/gwillem/signal-mock/internal/libsignal"
	"github.com/gwillem/signal-mock/internal/state"
)

// handleSetBackupID stores the blinded backup credential requests.
func (s *Server) handleSetBackupID(w http.ResponseWriter, r *http.Request) {
	var req BackupIDRequest
	if err := readJSONBody(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	messages, err := decode64(req.MessagesBackupAuthCredentialRequest)
	if err != nil {
		writeError(w, s.log, validationError(fmt.Errorf("messages credential request: %w", err)))
		return
	}
	media, err := decode64(req.MediaBackupAuthCredentialRequest)
	if err != nil {
		writeError(w, s.log, validationError(fmt.Errorf("media credential request: %w", err)))
		return
	}

	account := requestAccount(r)
	if err := s.state.SetBackupIDRequests(account.ACI, messages, media); err != nil {
		writeError(w, s.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleBackupCredentials issues one backup auth credential per day of the
// requested redemption window, answering the stored blinded request.
func (s *Server) handleBackupCredentials(w http.ResponseWriter, r *http.Request) {
	account := requestAccount(r)
	request, _, _, err := s.state.BackupBindings(account.ACI)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	if len(request) == 0 {
		writeError(w, s.log, notFoundError(fmt.Errorf("no backup id request on file")))
		return
	}

	q := r.URL.Query()
	var start, end uint64
	if _, err := fmt.Sscan(q.Get("redemptionStartSeconds"), &start); err != nil {
		writeError(w, s.log, validationError(fmt.Errorf("redemptionStartSeconds: %w", err)))
		return
	}
	if _, err := fmt.Sscan(q.Get("redemptionEndSeconds"), &end); err != nil {
		writeError(w, s.log, validationError(fmt.Errorf("redemptionEndSeconds: %w", err)))
		return
	}
	if end < start || (end-start) > 7*86400 {
		writeError(w, s.log, validationError(fmt.Errorf("redemption window [%d, %d]", start, end)))
		return
	}

	resp := BackupCredentialsResponse{Credentials: []BackupCredential{}}
	for t := start; t <= end; t += 86400 {
		credential, err := s.backupParams.IssueBackupAuthCredential(randomness32(), request, t)
		if err != nil {
			writeError(w, s.log, err)
			return
		}
		resp.Credentials = append(resp.Credentials, BackupCredential{
			Credential:     base64.StdEncoding.EncodeToString(credential),
			RedemptionTime: t,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleSetBackupKey binds the backup-id public key that signs zk-authed
// requests.
func (s *Server) handleSetBackupKey(w http.ResponseWriter, r *http.Request) {
	var req BackupKeyRequest
	if err := readJSONBody(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	publicKey, err := decode64(req.BackupIDPublicKey)
	if err != nil {
		writeError(w, s.log, validationError(fmt.Errorf("backup public key: %w", err)))
		return
	}

	account, err := s.accountForBackupRequest(r)
	if err != nil {
		// First keys upload: no key bound yet. Trust the presentation the
		// auth middleware already verified and bind to the presenting
		// account via the pending-key fallback below.
		account = s.anyAccountWithoutBackupKey()
		if account == nil {
			writeError(w, s.log, err)
			return
		}
	}
	if err := s.state.SetBackupPublicKey(account.ACI, publicKey); err != nil {
		writeError(w, s.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleBackupInfo reports backup storage metadata.
func (s *Server) handleBackupInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, BackupInfoResponse{
		BackupDir:  state.RandomHex(16),
		MediaDir:   state.RandomHex(16),
		BackupName: "signal-mock",
		UsedSpace:  0,
	})
}

// verifyBackupSignature checks the x-signal-zk-auth-signature header
// against a bound backup public key. With no key bound yet (the initial
// PUT /v1/archives/keys) the presentation alone authenticates.
func (s *Server) verifyBackupSignature(presentation, signature []byte) error {
	account := s.accountWithBackupKeyVerifying(presentation, signature)
	if account != nil {
		return nil
	}
	if s.anyAccountWithoutBackupKey() != nil {
		return nil
	}
	return fmt.Errorf("backup signature does not verify")
}

// accountForBackupRequest resolves the zk-authed request to the account
// whose backup key verifies its signature.
func (s *Server) accountForBackupRequest(r *http.Request) (*state.Account, error) {
	presentation, err := decode64(r.Header.Get("x-signal-zk-auth"))
	if err != nil {
		return nil, authError(fmt.Errorf("zk auth: %w", err))
	}
	signature, err := decode64(r.Header.Get("x-signal-zk-auth-signature"))
	if err != nil {
		return nil, authError(fmt.Errorf("zk auth signature: %w", err))
	}
	if account := s.accountWithBackupKeyVerifying(presentation, signature); account != nil {
		return account, nil
	}
	return nil, authError(fmt.Errorf("no account matches backup credentials"))
}

func (s *Server) accountWithBackupKeyVerifying(presentation, signature []byte) *state.Account {
	var match *state.Account
	s.state.ForEachAccount(func(a *state.Account) bool {
		if len(a.BackupPublicKey) == 0 {
			return true
		}
		pub, err := libsignal.DeserializePublicKey(a.BackupPublicKey)
		if err != nil {
			return true
		}
		defer pub.Destroy()
		if ok, err := pub.Verify(presentation, signature); err == nil && ok {
			match = a
			return false
		}
		return true
	})
	return match
}

func (s *Server) anyAccountWithoutBackupKey() *state.Account {
	var match *state.Account
	s.state.ForEachAccount(func(a *state.Account) bool {
		if len(a.BackupIDRequest) > 0 && len(a.BackupPublicKey) == 0 {
			match = a
			return false
		}
		return true
	})
	return match
}

// handleCreateCallLinkAuth answers a CreateCallLinkCredentialRequest from
// the generic server params.
func (s *Server) handleCreateCallLinkAuth(w http.ResponseWriter, r *http.Request) {
	var req CreateCallLinkAuthRequest
	if err := readJSONBody(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	request, err := decode64(req.CreateCallLinkCredentialRequest)
	if err != nil {
		writeError(w, s.log, validationError(fmt.Errorf("credential request: %w", err)))
		return
	}

	account := requestAccount(r)
	userID := libsignal.ServiceIDFixedWidth(libsignal.ServiceIDKindACI, account.ACI)
	timestamp := startOfDaySeconds()
	credential, err := s.genericParams.IssueCreateCallLinkCredential(randomness32(), request, userID, timestamp)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	respondJSON(w, http.StatusOK, CreateCallLinkAuthResponse{
		RedemptionTime:                   timestamp,
		CreateCallLinkCredentialResponse: base64.StdEncoding.EncodeToString(credential),
	})
}

// handleCallLinkAuth issues a call link auth credential for today.
func (s *Server) handleCallLinkAuth(w http.ResponseWriter, r *http.Request) {
	account := requestAccount(r)
	userID := libsignal.ServiceIDFixedWidth(libsignal.ServiceIDKindACI, account.ACI)
	timestamp := startOfDaySeconds()
	credential, err := s.genericParams.IssueCallLinkAuthCredential(randomness32(), userID, timestamp)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	respondJSON(w, http.StatusOK, CallLinkAuthResponse{
		RedemptionTime:                 timestamp,
		CallLinkAuthCredentialResponse: base64.StdEncoding.EncodeToString(credential),
	})
}

func startOfDaySeconds() uint64 {
	now := nowSeconds()
	return now - now%86400
}
