package server

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/gwillem/signal-mock/internal/libsignal"
	"github.com/gwillem/signal-mock/internal/state"
)

// profileCredentialTTL is how far ahead issued profile key credentials
// expire; the expiration is then truncated down to a day boundary.
const profileCredentialTTL = 7 * 24 * time.Hour

func (s *Server) handleSetProfile(w http.ResponseWriter, r *http.Request) {
	var write ProfileWrite
	if err := readJSONBody(r, &write); err != nil {
		writeError(w, s.log, err)
		return
	}
	if write.Version == "" {
		writeError(w, s.log, validationError(fmt.Errorf("missing profile version")))
		return
	}

	account := requestAccount(r)
	err := s.state.SetProfile(account.ACI, write.Version, &state.Profile{
		Name:               write.Name,
		About:              write.About,
		AboutEmoji:         write.AboutEmoji,
		PhoneNumberSharing: write.PhoneNumberSharing,
		Commitment:         write.Commitment,
	})
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) resolveProfileTarget(r *http.Request) (*state.Account, error) {
	sid, err := state.ParseServiceID(mux.Vars(r)["serviceId"])
	if err != nil {
		return nil, notFoundError(err)
	}
	account, ok := s.state.Account(sid)
	if !ok {
		return nil, notFoundError(state.ErrNoAccount)
	}
	return account, nil
}

// handleGetProfile serves a versioned profile, optionally minting an
// expiring profile key credential when a credential request rides along.
func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	account, err := s.resolveProfileTarget(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	resp := ProfileResponse{
		UnrestrictedUnidentifiedAccess: account.UnrestrictedUnidentifiedAccess,
	}
	if identityKey, err := s.state.IdentityKey(state.ACIFor(account.ACI)); err == nil {
		resp.IdentityKey = base64.RawStdEncoding.EncodeToString(identityKey)
	}
	if len(account.UnidentifiedAccessKey) > 0 {
		resp.UnidentifiedAccess = base64.StdEncoding.EncodeToString(account.UnidentifiedAccessKey)
	}

	profile, ok := s.state.ProfileAt(account.ACI, vars["version"])
	if ok {
		resp.Name = base64.StdEncoding.EncodeToString(profile.Name)
		resp.About = base64.StdEncoding.EncodeToString(profile.About)
		resp.AboutEmoji = base64.StdEncoding.EncodeToString(profile.AboutEmoji)
	}

	if requestHex := vars["credentialRequest"]; requestHex != "" {
		if !ok || len(profile.Commitment) == 0 {
			writeError(w, s.log, notFoundError(fmt.Errorf("no profile commitment at version %s", vars["version"])))
			return
		}
		request, err := hex.DecodeString(requestHex)
		if err != nil {
			writeError(w, s.log, validationError(fmt.Errorf("credential request: %w", err)))
			return
		}
		aci := libsignal.ServiceIDFixedWidth(libsignal.ServiceIDKindACI, account.ACI)
		expiration := uint64(time.Now().Add(profileCredentialTTL).Truncate(24*time.Hour).Unix())
		credential, err := s.zkSecret.IssueExpiringProfileKeyCredential(
			randomness32(), request, aci, profile.Commitment, expiration)
		if err != nil {
			writeError(w, s.log, err)
			return
		}
		resp.Credential = base64.StdEncoding.EncodeToString(credential)
	}

	respondJSON(w, http.StatusOK, resp)
}
