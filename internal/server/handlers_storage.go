package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/gwillem/signal-mock/internal/proto"
	"github.com/gwillem/signal-mock/internal/state"
)

// handleStorageAuth hands back storage credentials. The mock reuses the
// device's own credentials; a real deployment would mint short-lived ones.
func (s *Server) handleStorageAuth(w http.ResponseWriter, r *http.Request) {
	device := requestDevice(r)
	respondJSON(w, http.StatusOK, StorageAuthResponse{
		Username: device.AuthName(),
		Password: device.Password,
	})
}

// handleStorageManifest returns the current manifest, 404 when none was
// ever written.
func (s *Server) handleStorageManifest(w http.ResponseWriter, r *http.Request) {
	account := requestAccount(r)
	manifest, err := s.state.StorageManifestIfNewer(account.ACI, 0)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	if manifest == nil {
		writeError(w, s.log, notFoundError(fmt.Errorf("no storage manifest")))
		return
	}
	s.respondManifest(w, http.StatusOK, manifest)
}

// handleStorageManifestVersion returns the manifest only when newer than
// the client's version, 204 otherwise.
func (s *Server) handleStorageManifestVersion(w http.ResponseWriter, r *http.Request) {
	since, err := strconv.ParseUint(mux.Vars(r)["version"], 10, 64)
	if err != nil {
		writeError(w, s.log, validationError(fmt.Errorf("version: %w", err)))
		return
	}

	account := requestAccount(r)
	manifest, err := s.state.StorageManifestIfNewer(account.ACI, since)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	if manifest == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.respondManifest(w, http.StatusOK, manifest)
}

// handleStorageWrite applies a WriteOperation atomically. A stale manifest
// version yields 409 with the current manifest in the body.
func (s *Server) handleStorageWrite(w http.ResponseWriter, r *http.Request) {
	var op proto.WriteOperation
	if err := readProtoBody(r, &op); err != nil {
		writeError(w, s.log, err)
		return
	}
	if op.GetManifest() == nil {
		writeError(w, s.log, validationError(fmt.Errorf("write operation without manifest")))
		return
	}

	write := state.StorageWrite{
		Manifest: state.StorageManifest{
			Version: op.GetManifest().GetVersion(),
			Value:   op.GetManifest().GetValue(),
		},
		ClearAll: op.GetClearAll(),
	}
	for _, item := range op.GetInsertItem() {
		write.InsertItem = append(write.InsertItem, state.StorageItem{Key: item.GetKey(), Value: item.GetValue()})
	}
	write.DeleteKey = op.GetDeleteKey()

	account := requestAccount(r)
	manifest, err := s.state.WriteStorage(account.ACI, write)
	if errors.Is(err, state.ErrManifestConflict) {
		s.respondManifest(w, http.StatusConflict, manifest)
		return
	}
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleStorageRead answers a ReadOperation with the stored items.
func (s *Server) handleStorageRead(w http.ResponseWriter, r *http.Request) {
	var op proto.ReadOperation
	if err := readProtoBody(r, &op); err != nil {
		writeError(w, s.log, err)
		return
	}

	account := requestAccount(r)
	items, err := s.state.ReadStorageItems(account.ACI, op.GetReadKey())
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	resp := &proto.StorageItems{}
	for _, item := range items {
		resp.Items = append(resp.Items, &proto.StorageItem{Key: item.Key, Value: item.Value})
	}
	if err := respondProto(w, http.StatusOK, resp); err != nil {
		s.log.Error().Err(err).Msg("respond storage items")
	}
}

func (s *Server) respondManifest(w http.ResponseWriter, status int, manifest *state.StorageManifest) {
	msg := &proto.StorageManifest{Version: manifest.Version, Value: manifest.Value}
	if err := respondProto(w, status, msg); err != nil {
		s.log.Error().Err(err).Msg("respond manifest")
	}
}
