package server

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/gwillem/signal-mock/internal/libsignal"
	"github.com/gwillem/signal-mock/internal/state"
)

// handleRegistration registers a primary device. The number and password
// arrive as Basic credentials, matching the client registration flow.
func (s *Server) handleRegistration(w http.ResponseWriter, r *http.Request) {
	number, password, ok := basicCredentials(r)
	if !ok {
		writeError(w, s.log, authError(fmt.Errorf("missing registration credentials")))
		return
	}

	var req PrimaryRegistrationRequest
	if err := readJSONBody(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}

	attrs := req.AccountAttributes
	uak, _ := decode64(attrs.UnidentifiedAccessKey)

	// A recovery password matching the registered primary authorizes
	// taking over the number.
	reassign := false
	if existing, found := s.state.AccountByE164(number); found {
		if primary, ok := existing.Devices[state.PrimaryDeviceID]; ok && req.RecoveryPassword != "" && primary.Password == req.RecoveryPassword {
			reassign = true
		}
	}

	account, device, err := s.state.Register(state.RegisterOptions{
		Number:            number,
		Password:          password,
		RegistrationID:    attrs.RegistrationID,
		PNIRegistrationID: attrs.PNIRegistrationID,
		DeviceName:        attrs.Name,
		FetchesMessages:   attrs.FetchesMessages,

		UnidentifiedAccessKey:          uak,
		UnrestrictedUnidentifiedAccess: attrs.UnrestrictedUnidentifiedAccess,
	}, reassign)
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	if err := s.installRegistrationKeys(account.ACI, device.ID, &req); err != nil {
		writeError(w, s.log, err)
		return
	}

	respondJSON(w, http.StatusOK, PrimaryRegistrationResponse{
		UUID:           account.ACI.String(),
		PNI:            account.PNI.String(),
		Number:         account.Number,
		StorageCapable: true,
	})
}

// installRegistrationKeys stores the identity keys and initial signed /
// last-resort prekeys carried in an atomic registration request.
func (s *Server) installRegistrationKeys(aci uuid.UUID, deviceID int, req *PrimaryRegistrationRequest) error {
	for _, flavor := range []struct {
		identity    state.Identity
		identityKey string
		signed      *SignedPreKeyEntity
		lastResort  *KyberPreKeyEntity
	}{
		{state.IdentityACI, req.ACIIdentityKey, req.ACISignedPreKey, req.ACIPqLastResortPreKey},
		{state.IdentityPNI, req.PNIIdentityKey, req.PNISignedPreKey, req.PNIPqLastResortPreKey},
	} {
		up := state.KeyUpload{}
		if flavor.identityKey != "" {
			identityKey, err := decode64(flavor.identityKey)
			if err != nil {
				return validationError(fmt.Errorf("%s identity key: %w", flavor.identity, err))
			}
			up.IdentityKey = identityKey
		}
		var err error
		if up.SignedPreKey, err = signedPreKeyFromEntity(flavor.signed); err != nil {
			return validationError(err)
		}
		if up.PqLastResortKey, err = kyberPreKeyFromEntity(flavor.lastResort); err != nil {
			return validationError(err)
		}
		if err := s.verifyUploadSignatures(up.IdentityKey, &up); err != nil {
			return err
		}
		if err := s.state.SetDeviceKeys(aci, deviceID, flavor.identity, up); err != nil {
			return err
		}
	}
	return nil
}

// Verification sessions always come back verified; the harness has no SMS
// to deliver.
func (s *Server) handleCreateVerificationSession(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, verifiedSession(uuid.NewString()))
}

func (s *Server) handleVerificationSession(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, verifiedSession(mux.Vars(r)["id"]))
}

func (s *Server) handleVerificationCode(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, verifiedSession(mux.Vars(r)["id"]))
}

func verifiedSession(id string) VerificationSessionResponse {
	return VerificationSessionResponse{
		ID:                   id,
		AllowedToRequestCode: true,
		RequestedInformation: []string{},
		Verified:             true,
	}
}

func (s *Server) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	account := requestAccount(r)
	respondJSON(w, http.StatusOK, WhoAmIResponse{
		UUID:   account.ACI.String(),
		PNI:    account.PNI.String(),
		Number: account.Number,
	})
}

func (s *Server) handleSetAccountAttributes(w http.ResponseWriter, r *http.Request) {
	var attrs AccountAttributes
	if err := readJSONBody(r, &attrs); err != nil {
		writeError(w, s.log, err)
		return
	}

	account := requestAccount(r)
	device := requestDevice(r)
	device.FetchesMessages = attrs.FetchesMessages
	if attrs.Name != "" {
		device.Name = attrs.Name
	}
	if uak, err := decode64(attrs.UnidentifiedAccessKey); err == nil && len(uak) == 16 {
		account.UnidentifiedAccessKey = uak
	}
	account.UnrestrictedUnidentifiedAccess = attrs.UnrestrictedUnidentifiedAccess
	w.WriteHeader(http.StatusNoContent)
}

const (
	minUsernameHashes = 1
	maxUsernameHashes = 20
)

func (s *Server) handleReserveUsername(w http.ResponseWriter, r *http.Request) {
	var req ReserveUsernameRequest
	if err := readJSONBody(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	if len(req.UsernameHashes) < minUsernameHashes || len(req.UsernameHashes) > maxUsernameHashes {
		writeError(w, s.log, validationError(fmt.Errorf("usernameHashes length %d outside [%d, %d]",
			len(req.UsernameHashes), minUsernameHashes, maxUsernameHashes)))
		return
	}

	hashes := make([][]byte, 0, len(req.UsernameHashes))
	for _, h := range req.UsernameHashes {
		hash, err := base64.RawURLEncoding.DecodeString(h)
		if err != nil {
			writeError(w, s.log, validationError(fmt.Errorf("username hash: %w", err)))
			return
		}
		hashes = append(hashes, hash)
	}

	account := requestAccount(r)
	chosen, err := s.state.ReserveUsername(account.ACI, hashes)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	respondJSON(w, http.StatusOK, ReserveUsernameResponse{
		UsernameHash: base64.RawURLEncoding.EncodeToString(chosen),
	})
}

func (s *Server) handleConfirmUsername(w http.ResponseWriter, r *http.Request) {
	var req ConfirmUsernameRequest
	if err := readJSONBody(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	hash, err := base64.RawURLEncoding.DecodeString(req.UsernameHash)
	if err != nil {
		writeError(w, s.log, validationError(fmt.Errorf("username hash: %w", err)))
		return
	}
	proof, err := base64.RawURLEncoding.DecodeString(req.ZkProof)
	if err != nil {
		writeError(w, s.log, validationError(fmt.Errorf("zk proof: %w", err)))
		return
	}
	if err := libsignal.VerifyUsernameProof(proof, hash); err != nil {
		writeError(w, s.log, validationError(err))
		return
	}

	account := requestAccount(r)
	if err := s.state.ConfirmUsername(account.ACI, hash); err != nil {
		writeError(w, s.log, err)
		return
	}

	var resp ConfirmUsernameResponse
	if req.EncryptedUsername != "" {
		encrypted, err := base64.RawURLEncoding.DecodeString(req.EncryptedUsername)
		if err != nil {
			writeError(w, s.log, validationError(fmt.Errorf("encrypted username: %w", err)))
			return
		}
		handle, err := s.state.SetUsernameLink(account.ACI, encrypted)
		if err != nil {
			writeError(w, s.log, err)
			return
		}
		resp.UsernameLinkHandle = handle.String()
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteUsername(w http.ResponseWriter, r *http.Request) {
	account := requestAccount(r)
	if err := s.state.DeleteUsername(account.ACI); err != nil {
		writeError(w, s.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLookupUsernameHash(w http.ResponseWriter, r *http.Request) {
	hash, err := base64.RawURLEncoding.DecodeString(mux.Vars(r)["hash"])
	if err != nil {
		writeError(w, s.log, validationError(fmt.Errorf("username hash: %w", err)))
		return
	}
	account, ok := s.state.AccountByUsernameHash(hash)
	if !ok {
		writeError(w, s.log, notFoundError(fmt.Errorf("username hash not registered")))
		return
	}
	respondJSON(w, http.StatusOK, UsernameHashLookupResponse{UUID: account.ACI.String()})
}

func (s *Server) handleSetUsernameLink(w http.ResponseWriter, r *http.Request) {
	var req UsernameLinkRequest
	if err := readJSONBody(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	encrypted, err := base64.RawURLEncoding.DecodeString(req.UsernameLinkEncryptedValue)
	if err != nil {
		writeError(w, s.log, validationError(fmt.Errorf("username link value: %w", err)))
		return
	}
	account := requestAccount(r)
	handle, err := s.state.SetUsernameLink(account.ACI, encrypted)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	respondJSON(w, http.StatusOK, UsernameLinkResponse{UsernameLinkHandle: handle.String()})
}

func (s *Server) handleGetUsernameLink(w http.ResponseWriter, r *http.Request) {
	handle, err := uuid.Parse(mux.Vars(r)["uuid"])
	if err != nil {
		writeError(w, s.log, validationError(fmt.Errorf("link handle: %w", err)))
		return
	}
	value, ok := s.state.UsernameLinkValue(handle)
	if !ok {
		writeError(w, s.log, notFoundError(fmt.Errorf("username link not found")))
		return
	}
	respondJSON(w, http.StatusOK, UsernameLinkValueResponse{
		UsernameLinkEncryptedValue: base64.RawURLEncoding.EncodeToString(value),
	})
}

// randomness32 fills 32 bytes for deterministic zkgroup issuance entry points.
func randomness32() [32]byte {
	var out [32]byte
	rand.Read(out[:])
	return out
}
