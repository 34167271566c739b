package server

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/gwillem/signal-mock/internal/signalcrypto"
	"github.com/gwillem/signal-mock/internal/state"
)

type contextKey int

const (
	ctxAccount contextKey = iota
	ctxDevice
	ctxSealedSender
	ctxGroupAuth
)

// requestAccount returns the authenticated account, nil for sealed sends.
func requestAccount(r *http.Request) *state.Account {
	a, _ := r.Context().Value(ctxAccount).(*state.Account)
	return a
}

// requestDevice returns the authenticated device, nil for sealed sends.
func requestDevice(r *http.Request) *state.Device {
	d, _ := r.Context().Value(ctxDevice).(*state.Device)
	return d
}

// sealedSender reports whether the request authenticated with an
// unidentified-access key instead of device credentials.
func sealedSender(r *http.Request) bool {
	v, _ := r.Context().Value(ctxSealedSender).(bool)
	return v
}

// basicCredentials pulls Basic credentials from the Authorization header,
// falling back to the login/password query parameters the WebSocket
// upgrade uses.
func basicCredentials(r *http.Request) (username, password string, ok bool) {
	if username, password, ok = r.BasicAuth(); ok {
		return username, password, true
	}
	q := r.URL.Query()
	if login := q.Get("login"); login != "" {
		return login, q.Get("password"), true
	}
	return "", "", false
}

// authDevice wraps a handler with Basic device authentication.
func (s *Server) authDevice(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := basicCredentials(r)
		if !ok {
			writeError(w, s.log, authError(fmt.Errorf("missing credentials")))
			return
		}
		account, device, err := s.state.Authenticate(username, password)
		if err != nil {
			writeError(w, s.log, authError(err))
			return
		}
		ctx := context.WithValue(r.Context(), ctxAccount, account)
		ctx = context.WithValue(ctx, ctxDevice, device)
		next(w, r.WithContext(ctx))
	}
}

// authDeviceOrAccessKey accepts either device credentials or a valid
// Unidentified-Access-Key for the destination account named by resolve.
func (s *Server) authDeviceOrAccessKey(resolve func(r *http.Request) (*state.Account, error), next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if keyB64 := r.Header.Get("Unidentified-Access-Key"); keyB64 != "" {
			key, err := base64.StdEncoding.DecodeString(keyB64)
			if err != nil {
				writeError(w, s.log, authError(fmt.Errorf("bad access key encoding: %w", err)))
				return
			}
			dest, err := resolve(r)
			if err != nil {
				writeError(w, s.log, err)
				return
			}
			if !dest.UnrestrictedUnidentifiedAccess {
				stored := dest.UnidentifiedAccessKey
				if len(stored) == 0 && len(dest.ProfileKey) == 32 {
					stored, _ = signalcrypto.DeriveAccessKey(dest.ProfileKey)
				}
				if !signalcrypto.VerifyAccessKey(stored, key) {
					writeError(w, s.log, authError(fmt.Errorf("access key rejected")))
					return
				}
			}
			ctx := context.WithValue(r.Context(), ctxSealedSender, true)
			next(w, r.WithContext(ctx))
			return
		}
		s.authDevice(next)(w, r)
	}
}

// groupAuth carries a verified zk auth presentation for group endpoints.
type groupAuth struct {
	PublicParams []byte // 97-byte group public params
	Presentation []byte
}

// requestGroupAuth returns the verified group credentials of the request.
func requestGroupAuth(r *http.Request) *groupAuth {
	g, _ := r.Context().Value(ctxGroupAuth).(*groupAuth)
	return g
}

// authGroup wraps a handler with zkgroup anonymous authentication. The
// presentation arrives either as Basic credentials (username = base64
// group public params, password = base64 presentation) or in a Group-Auth
// header holding base64(publicParams || presentation).
func (s *Server) authGroup(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ga, err := parseGroupAuth(r)
		if err != nil {
			writeError(w, s.log, authError(err))
			return
		}
		if err := s.zkSecret.VerifyAuthCredentialPresentation(ga.PublicParams, ga.Presentation, nowSeconds()); err != nil {
			writeError(w, s.log, forbiddenError(err))
			return
		}
		ctx := context.WithValue(r.Context(), ctxGroupAuth, ga)
		next(w, r.WithContext(ctx))
	}
}

const groupPublicParamsLen = 97

func parseGroupAuth(r *http.Request) (*groupAuth, error) {
	if h := r.Header.Get("Group-Auth"); h != "" {
		raw, err := base64.StdEncoding.DecodeString(h)
		if err != nil {
			return nil, fmt.Errorf("bad Group-Auth encoding: %w", err)
		}
		if len(raw) <= groupPublicParamsLen {
			return nil, fmt.Errorf("Group-Auth too short (%d bytes)", len(raw))
		}
		return &groupAuth{PublicParams: raw[:groupPublicParamsLen], Presentation: raw[groupPublicParamsLen:]}, nil
	}

	username, password, ok := r.BasicAuth()
	if !ok {
		return nil, fmt.Errorf("missing group credentials")
	}
	params, err := base64.StdEncoding.DecodeString(username)
	if err != nil {
		return nil, fmt.Errorf("bad group public params: %w", err)
	}
	presentation, err := base64.StdEncoding.DecodeString(password)
	if err != nil {
		return nil, fmt.Errorf("bad group presentation: %w", err)
	}
	if len(params) != groupPublicParamsLen {
		return nil, fmt.Errorf("group public params must be %d bytes, got %d", groupPublicParamsLen, len(params))
	}
	return &groupAuth{PublicParams: params, Presentation: presentation}, nil
}

// authBackup wraps a handler with the dual x-signal-zk-auth headers:
// a backup credential presentation plus a signature over it by the
// account's backup-id public key.
func (s *Server) authBackup(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		presentationB64 := r.Header.Get("x-signal-zk-auth")
		signatureB64 := r.Header.Get("x-signal-zk-auth-signature")
		if presentationB64 == "" || signatureB64 == "" {
			writeError(w, s.log, authError(fmt.Errorf("missing zk auth headers")))
			return
		}
		presentation, err := base64.StdEncoding.DecodeString(presentationB64)
		if err != nil {
			writeError(w, s.log, authError(fmt.Errorf("bad zk auth encoding: %w", err)))
			return
		}
		signature, err := base64.StdEncoding.DecodeString(signatureB64)
		if err != nil {
			writeError(w, s.log, authError(fmt.Errorf("bad zk auth signature encoding: %w", err)))
			return
		}
		if err := s.backupParams.VerifyBackupAuthPresentation(presentation, nowSeconds()); err != nil {
			writeError(w, s.log, authError(err))
			return
		}
		if err := s.verifyBackupSignature(presentation, signature); err != nil {
			writeError(w, s.log, authError(err))
			return
		}
		next(w, r)
	}
}
