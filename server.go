// Package signalmock runs an in-memory Signal server for integration
// tests: real clients register, link, exchange keys and messages against
// it while the test harness drives provisioning and observes state
// through this façade.
package signalmock

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gwillem/signal-mock/internal/queue"
	"github.com/gwillem/signal-mock/internal/server"
	"github.com/gwillem/signal-mock/internal/state"
)

// PendingProvision is a linking attempt awaiting harness completion.
type PendingProvision = server.PendingProvision

// PendingProvisionResponse completes a pending provision.
type PendingProvisionResponse = server.PendingProvisionResponse

// PrimaryInfo is the provisioning material of a primary device.
type PrimaryInfo = server.PrimaryInfo

// Config is the server's immutable startup material.
type Config = server.Config

// LoadConfig reads the trust root and zk param bundles from a certs
// directory.
func LoadConfig(certsDir string) (*Config, error) {
	return server.LoadConfig(certsDir)
}

// Server is the test-facing mock server: the protocol engine plus the
// orchestration hooks the harness drives.
type Server struct {
	srv *server.Server
	log zerolog.Logger
}

// New builds a server from config. A zero-value logger disables output.
func New(cfg *Config, log zerolog.Logger) (*Server, error) {
	srv, err := server.New(cfg, log)
	if err != nil {
		return nil, err
	}
	return &Server{srv: srv, log: log}, nil
}

// Listen binds the HTTPS/WebSocket listener.
func (s *Server) Listen(port int, host string) error {
	return s.srv.Listen(port, host)
}

// Address returns the bound listener address.
func (s *Server) Address() net.Addr {
	return s.srv.Address()
}

// Close shuts the server down. All in-memory state is discarded.
func (s *Server) Close() error {
	return s.srv.Close()
}

// State exposes the in-memory store for test assertions.
func (s *Server) State() *state.State {
	return s.srv.State()
}

// Handler returns the root HTTP handler for in-process test listeners.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler()
}

// WaitForProvision blocks until a linking client requests provisioning and
// returns the pending attempt for the harness to complete.
func (s *Server) WaitForProvision(ctx context.Context) (*PendingProvision, error) {
	return s.srv.Provisioning().WaitForProvision(ctx)
}

// WaitForStorageManifest blocks until the account's storage manifest
// version exceeds since and returns it.
func (s *Server) WaitForStorageManifest(ctx context.Context, aci uuid.UUID, since uint64) (*state.StorageManifest, error) {
	timer := time.NewTimer(s.srv.Timeout())
	defer timer.Stop()
	for {
		ch, err := s.State().WaitForManifest(aci, since)
		if err != nil {
			return nil, err
		}
		select {
		case manifest := <-ch:
			if manifest.Version > since {
				return manifest, nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, fmt.Errorf("storage manifest after %d: %w", since, queue.ErrTimeout)
		}
	}
}
