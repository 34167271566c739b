package server

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/gwillem/signal-mock/internal/libsignal"
	"github.com/gwillem/signal-mock/internal/state"
)

const publicKeyLen = 33

func signedPreKeyFromEntity(e *SignedPreKeyEntity) (*state.SignedPreKey, error) {
	if e == nil {
		return nil, nil
	}
	if e.KeyID < 0 {
		return nil, fmt.Errorf("signed prekey id %d negative", e.KeyID)
	}
	pub, err := decode64(e.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("signed prekey public key: %w", err)
	}
	if len(pub) != publicKeyLen {
		return nil, fmt.Errorf("signed prekey public key must be %d bytes, got %d", publicKeyLen, len(pub))
	}
	sig, err := decode64(e.Signature)
	if err != nil {
		return nil, fmt.Errorf("signed prekey signature: %w", err)
	}
	return &state.SignedPreKey{KeyID: e.KeyID, PublicKey: pub, Signature: sig}, nil
}

func kyberPreKeyFromEntity(e *KyberPreKeyEntity) (*state.KyberPreKey, error) {
	if e == nil {
		return nil, nil
	}
	if e.KeyID < 0 {
		return nil, fmt.Errorf("kyber prekey id %d negative", e.KeyID)
	}
	pub, err := decode64(e.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("kyber prekey public key: %w", err)
	}
	sig, err := decode64(e.Signature)
	if err != nil {
		return nil, fmt.Errorf("kyber prekey signature: %w", err)
	}
	return &state.KyberPreKey{KeyID: e.KeyID, PublicKey: pub, Signature: sig}, nil
}

func preKeyFromEntity(e PreKeyEntity) (*state.PreKey, error) {
	if e.KeyID < 0 {
		return nil, fmt.Errorf("prekey id %d negative", e.KeyID)
	}
	pub, err := decode64(e.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("prekey public key: %w", err)
	}
	if len(pub) != publicKeyLen {
		return nil, fmt.Errorf("prekey public key must be %d bytes, got %d", publicKeyLen, len(pub))
	}
	return &state.PreKey{KeyID: e.KeyID, PublicKey: pub}, nil
}

// verifyUploadSignatures checks every signed key in an upload against the
// identity key it claims to be signed by.
func (s *Server) verifyUploadSignatures(identityKey []byte, up *state.KeyUpload) error {
	if up.SignedPreKey == nil && up.PqLastResortKey == nil && len(up.OneTimePqKeys) == 0 {
		return nil
	}
	if len(identityKey) == 0 {
		return validationError(fmt.Errorf("signed keys uploaded without an identity key"))
	}
	identity, err := libsignal.DeserializePublicKey(identityKey)
	if err != nil {
		return validationError(fmt.Errorf("identity key: %w", err))
	}
	defer identity.Destroy()

	verify := func(name string, pub, sig []byte) error {
		ok, err := identity.Verify(pub, sig)
		if err != nil {
			return validationError(fmt.Errorf("%s signature: %w", name, err))
		}
		if !ok {
			return validationError(fmt.Errorf("%s signature does not verify", name))
		}
		return nil
	}

	if up.SignedPreKey != nil {
		if err := verify("signed prekey", up.SignedPreKey.PublicKey, up.SignedPreKey.Signature); err != nil {
			return err
		}
	}
	if up.PqLastResortKey != nil {
		if err := verify("last-resort kyber prekey", up.PqLastResortKey.PublicKey, up.PqLastResortKey.Signature); err != nil {
			return err
		}
	}
	for _, k := range up.OneTimePqKeys {
		if err := verify("kyber prekey", k.PublicKey, k.Signature); err != nil {
			return err
		}
	}
	return nil
}

// handleKeys serves GET (count) and PUT (upload) on /v2/keys.
func (s *Server) handleKeys(w http.ResponseWriter, r *http.Request) {
	identity, err := state.ParseIdentity(r.URL.Query().Get("identity"))
	if err != nil {
		writeError(w, s.log, validationError(err))
		return
	}
	account := requestAccount(r)
	device := requestDevice(r)

	if r.Method == http.MethodGet {
		ec, pq, err := s.state.PreKeyCounts(account.ACI, device.ID, identity)
		if err != nil {
			writeError(w, s.log, err)
			return
		}
		respondJSON(w, http.StatusOK, PreKeyCountResponse{Count: ec, PqCount: pq})
		return
	}

	var req PreKeyUpload
	if err := readJSONBody(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}

	up := state.KeyUpload{}
	if req.IdentityKey != "" {
		if up.IdentityKey, err = decode64(req.IdentityKey); err != nil {
			writeError(w, s.log, validationError(fmt.Errorf("identity key: %w", err)))
			return
		}
	}
	if up.SignedPreKey, err = signedPreKeyFromEntity(req.SignedPreKey); err != nil {
		writeError(w, s.log, validationError(err))
		return
	}
	if up.PqLastResortKey, err = kyberPreKeyFromEntity(req.PqLastResortKey); err != nil {
		writeError(w, s.log, validationError(err))
		return
	}
	for _, e := range req.PreKeys {
		pk, err := preKeyFromEntity(e)
		if err != nil {
			writeError(w, s.log, validationError(err))
			return
		}
		up.OneTimePreKeys = append(up.OneTimePreKeys, pk)
	}
	for _, e := range req.PqPreKeys {
		kk, err := kyberPreKeyFromEntity(&e)
		if err != nil {
			writeError(w, s.log, validationError(err))
			return
		}
		up.OneTimePqKeys = append(up.OneTimePqKeys, kk)
	}

	identityForVerify := up.IdentityKey
	if len(identityForVerify) == 0 {
		if ks := device.Keys[identity]; ks != nil {
			identityForVerify = ks.IdentityKey
		}
	}
	if err := s.verifyUploadSignatures(identityForVerify, &up); err != nil {
		writeError(w, s.log, err)
		return
	}

	if err := s.state.SetDeviceKeys(account.ACI, device.ID, identity, up); err != nil {
		writeError(w, s.log, err)
		return
	}

	// A completed key upload is the terminal provisioning transition.
	s.provisioning.keysUploaded(account.ACI, device)

	w.WriteHeader(http.StatusOK)
}

// resolveKeysTarget names the account a sealed-sender prekey fetch targets.
func (s *Server) resolveKeysTarget(r *http.Request) (*state.Account, error) {
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

// handleGetKeys serves prekey bundles for one device or all ("*").
func (s *Server) handleGetKeys(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sid, err := state.ParseServiceID(vars["serviceId"])
	if err != nil {
		writeError(w, s.log, notFoundError(err))
		return
	}

	deviceID := 0
	if raw := vars["deviceId"]; raw != "" && raw != "*" {
		deviceID, err = strconv.Atoi(raw)
		if err != nil || deviceID < state.PrimaryDeviceID {
			writeError(w, s.log, validationError(fmt.Errorf("device id %q", raw)))
			return
		}
	}

	withPq := r.URL.Query().Get("pq") == "true"
	bundles, err := s.state.ConsumePreKeys(sid, deviceID, withPq)
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	resp := PreKeyResponse{}
	if identityKey, err := s.state.IdentityKey(sid); err == nil {
		resp.IdentityKey = base64.RawStdEncoding.EncodeToString(identityKey)
	}
	for _, b := range bundles {
		info := PreKeyDeviceInfo{
			DeviceID:       b.DeviceID,
			RegistrationID: b.RegistrationID,
			SignedPreKey:   signedPreKeyToEntity(b.SignedPreKey),
		}
		if b.PreKey != nil {
			info.PreKey = &PreKeyEntity{
				KeyID:     b.PreKey.KeyID,
				PublicKey: base64.RawStdEncoding.EncodeToString(b.PreKey.PublicKey),
			}
		}
		if b.PqPreKey != nil {
			info.PqPreKey = kyberPreKeyToEntity(b.PqPreKey)
		}
		resp.Devices = append(resp.Devices, info)
	}
	respondJSON(w, http.StatusOK, resp)
}

func signedPreKeyToEntity(k *state.SignedPreKey) *SignedPreKeyEntity {
	if k == nil {
		return nil
	}
	return &SignedPreKeyEntity{
		KeyID:     k.KeyID,
		PublicKey: base64.RawStdEncoding.EncodeToString(k.PublicKey),
		Signature: base64.RawStdEncoding.EncodeToString(k.Signature),
	}
}

func kyberPreKeyToEntity(k *state.KyberPreKey) *KyberPreKeyEntity {
	if k == nil {
		return nil
	}
	return &KyberPreKeyEntity{
		KeyID:     k.KeyID,
		PublicKey: base64.RawStdEncoding.EncodeToString(k.PublicKey),
		Signature: base64.RawStdEncoding.EncodeToString(k.Signature),
	}
}
