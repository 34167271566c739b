// Package server implements the mock Signal service: the REST surface, the
// WebSocket multiplexer, the provisioning coordinator, and the credential
// mint, all over the in-memory state package.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/gwillem/signal-mock/internal/libsignal"
	"github.com/gwillem/signal-mock/internal/state"
)

const serverCertificateID = 1

// senderCertificateTTL is how far in the future minted sender certificates
// expire.
const senderCertificateTTL = 24 * time.Hour

// Server is the protocol engine. It owns the state, the certificate
// material, and both transports.
type Server struct {
	cfg   *Config
	log   zerolog.Logger
	state *state.State

	router       *mux.Router
	provisioning *provisioningCoordinator

	trustRootPriv *libsignal.PrivateKey
	serverCert    *libsignal.ServerCertificate
	serverCertKey *libsignal.PrivateKey
	zkSecret      *libsignal.ServerSecretParams
	zkPublic      []byte
	genericParams libsignal.GenericServerSecretParams
	backupParams  libsignal.GenericServerSecretParams

	httpServer *http.Server
	listener   net.Listener
}

// New builds a Server from its config: loads the trust root, mints the
// sealed-sender server certificate, and deserializes the zk param bundles.
func New(cfg *Config, log zerolog.Logger) (*Server, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	trustRootPriv, err := libsignal.DeserializePrivateKey(cfg.TrustRoot.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("server: trust root private key: %w", err)
	}

	certKey, err := libsignal.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("server: generate certificate key: %w", err)
	}
	certPub, err := certKey.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("server: certificate public key: %w", err)
	}
	defer certPub.Destroy()

	serverCert, err := libsignal.NewServerCertificate(serverCertificateID, certPub, trustRootPriv)
	if err != nil {
		return nil, fmt.Errorf("server: mint server certificate: %w", err)
	}

	zkSecret, err := libsignal.DeserializeServerSecretParams(cfg.ZKParams.SecretParams)
	if err != nil {
		return nil, fmt.Errorf("server: zk secret params: %w", err)
	}

	s := &Server{
		cfg:           cfg,
		log:           log,
		state:         state.New(),
		trustRootPriv: trustRootPriv,
		serverCert:    serverCert,
		serverCertKey: certKey,
		zkSecret:      zkSecret,
		zkPublic:      cfg.ZKParams.PublicParams,
		genericParams: libsignal.GenericServerSecretParams(cfg.GenericZKParams.SecretParams),
		backupParams:  libsignal.GenericServerSecretParams(cfg.BackupZKParams.SecretParams),
	}
	s.provisioning = newProvisioningCoordinator(cfg.Timeout)
	s.router = s.buildRouter()
	return s, nil
}

// State exposes the in-memory store to the test façade.
func (s *Server) State() *state.State { return s.state }

// Provisioning exposes the coordinator to the test façade.
func (s *Server) Provisioning() *provisioningCoordinator { return s.provisioning }

// Timeout is the configured harness wait bound.
func (s *Server) Timeout() time.Duration { return s.cfg.Timeout }

// Handler returns the root HTTP handler (REST + WebSocket upgrade paths).
func (s *Server) Handler() http.Handler { return s.router }

// Listen binds the listener and starts serving. host defaults to
// 127.0.0.1. With HTTPS key/cert paths configured the listener speaks TLS.
func (s *Server) Listen(port int, host string) error {
	if host == "" {
		host = "127.0.0.1"
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}

	s.httpServer = &http.Server{Handler: s.router}

	if s.cfg.HTTPSCertPath != "" && s.cfg.HTTPSKeyPath != "" {
		cert, err := tls.LoadX509KeyPair(s.cfg.HTTPSCertPath, s.cfg.HTTPSKeyPath)
		if err != nil {
			ln.Close()
			return fmt.Errorf("server: load TLS keypair: %w", err)
		}
		ln = tls.NewListener(ln, &tls.Config{Certificates: []tls.Certificate{cert}})
	}
	s.listener = ln

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("serve")
		}
	}()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("listening")
	return nil
}

// Address returns the bound listener address.
func (s *Server) Address() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close shuts the listener down and drops all connections. State is
// discarded with the process.
func (s *Server) Close() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// SenderCertificate mints a sealed-sender certificate for a device.
func (s *Server) SenderCertificate(account *state.Account, device *state.Device) ([]byte, error) {
	ks := device.Keys[state.IdentityACI]
	if ks == nil || len(ks.IdentityKey) == 0 {
		return nil, fmt.Errorf("device %s.%d has no identity key", account.ACI, device.ID)
	}
	identity, err := libsignal.DeserializePublicKey(ks.IdentityKey)
	if err != nil {
		return nil, fmt.Errorf("sender certificate: identity key: %w", err)
	}
	defer identity.Destroy()

	expires := uint64(time.Now().Add(senderCertificateTTL).UnixMilli())
	cert, err := libsignal.NewSenderCertificate(
		account.ACI.String(), account.Number, uint32(device.ID),
		identity, expires, s.serverCert, s.serverCertKey)
	if err != nil {
		return nil, fmt.Errorf("mint sender certificate: %w", err)
	}
	defer cert.Destroy()

	return cert.Serialize()
}
