package server

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/gwillem/signal-mock/internal/state"
)

// handleAttachmentForm issues an upload form with a fresh CDN key. The
// signed upload location points back at this server.
func (s *Server) handleAttachmentForm(w http.ResponseWriter, r *http.Request) {
	key := state.RandomHex(16)
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	respondJSON(w, http.StatusOK, AttachmentUploadForm{
		CDN:     2,
		Key:     key,
		Headers: map[string]string{},
		SignedUploadLocation: fmt.Sprintf("%s://%s/attachments/upload/%s", scheme, r.Host, key),
	})
}

// handleAttachmentUpload stores the raw body under the form's CDN key.
func (s *Server) handleAttachmentUpload(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, s.log, protocolError(fmt.Errorf("read upload: %w", err)))
		return
	}
	s.state.PutCDNAt(mux.Vars(r)["key"], data)
	w.WriteHeader(http.StatusOK)
}

// handleAttachmentDownload serves a stored blob.
func (s *Server) handleAttachmentDownload(w http.ResponseWriter, r *http.Request) {
	data, ok := s.state.GetCDN(mux.Vars(r)["key"])
	if !ok {
		writeError(w, s.log, notFoundError(state.ErrNoAttachment))
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
