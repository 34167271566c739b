package server

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gproto "google.golang.org/protobuf/proto"

	"github.com/gwillem/signal-mock/internal/proto"
	"github.com/gwillem/signal-mock/internal/provisioncrypto"
	"github.com/gwillem/signal-mock/internal/queue"
	"github.com/gwillem/signal-mock/internal/state"
)

// PrimaryInfo is what the harness supplies about the primary device that
// completes a link: the identity material a real primary would transfer in
// the provision message.
type PrimaryInfo struct {
	ACI        uuid.UUID
	PNI        uuid.UUID
	Number     string
	ProfileKey []byte
	MasterKey  []byte
	UserAgent  string

	ACIIdentityPublic  []byte
	ACIIdentityPrivate []byte
	PNIIdentityPublic  []byte
	PNIIdentityPrivate []byte
}

// PendingProvisionResponse is the harness's answer to a pending provision:
// the tsdevice/sgnl URL scanned from the linking client plus the primary.
type PendingProvisionResponse struct {
	ProvisionURL string
	Primary      *PrimaryInfo
}

// PendingProvision is one linking attempt awaiting harness input. The
// handler blocks on the response queue; Complete blocks on the result
// queue until the linked device has uploaded its keys.
type PendingProvision struct {
	UUID string

	responseQueue *queue.Queue[*PendingProvisionResponse]
	resultQueue   *queue.Queue[*state.Device]
}

// Complete hands the provision URL and primary to the waiting handler and
// blocks until the link reaches its terminal state: the new device
// registered and its keys uploaded.
func (p *PendingProvision) Complete(ctx context.Context, resp *PendingProvisionResponse) (*state.Device, error) {
	p.responseQueue.Push(resp)
	device, err := p.resultQueue.Shift(ctx)
	if err != nil {
		return nil, fmt.Errorf("provision %s: %w", p.UUID, err)
	}
	return device, nil
}

// pendingLink tracks one link attempt between code issuance and key
// upload.
type pendingLink struct {
	primary *PrimaryInfo
	result  *queue.Queue[*state.Device]
}

// provisioningCoordinator bridges the provisioning HTTP handlers, the
// provisioning WebSocket, and the test harness. A link attempt moves
// through four states: advertised (URL issued) → code-issued →
// device-registered → keys-uploaded (terminal).
type provisioningCoordinator struct {
	timeout time.Duration

	provisionQueue *queue.Queue[*PendingProvision]

	mu      sync.Mutex
	byCode  map[string]*pendingLink // code-issued
	byKey   map[string]*pendingLink // device-registered: "{aci}.{registrationId}"
	sockets map[string]chan *proto.ProvisionEnvelope
}

func newProvisioningCoordinator(timeout time.Duration) *provisioningCoordinator {
	return &provisioningCoordinator{
		timeout:        timeout,
		provisionQueue: queue.New[*PendingProvision](timeout),
		byCode:         make(map[string]*pendingLink),
		byKey:          make(map[string]*pendingLink),
		sockets:        make(map[string]chan *proto.ProvisionEnvelope),
	}
}

// WaitForProvision blocks until a linking client requests provisioning.
func (c *provisioningCoordinator) WaitForProvision(ctx context.Context) (*PendingProvision, error) {
	return c.provisionQueue.Shift(ctx)
}

// advertise enqueues a new pending provision for the harness.
func (c *provisioningCoordinator) advertise(uuid string) *PendingProvision {
	pending := &PendingProvision{
		UUID:          uuid,
		responseQueue: queue.New[*PendingProvisionResponse](c.timeout),
		resultQueue:   queue.New[*state.Device](c.timeout),
	}
	c.provisionQueue.Push(pending)
	return pending
}

// issueCode binds a fresh provisioning code to the pending link.
func (c *provisioningCoordinator) issueCode(pending *PendingProvision, primary *PrimaryInfo) string {
	code := newProvisioningCode()
	c.mu.Lock()
	c.byCode[code] = &pendingLink{primary: primary, result: pending.resultQueue}
	c.mu.Unlock()
	return code
}

// takeCode consumes a provisioning code. Each code maps to exactly one
// pending link and is spent on success.
func (c *provisioningCoordinator) takeCode(code string) (*pendingLink, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	link, ok := c.byCode[code]
	if ok {
		delete(c.byCode, code)
	}
	return link, ok
}

// deviceRegistered re-keys the pending link under the registered device's
// identity so the key upload can find it.
func (c *provisioningCoordinator) deviceRegistered(link *pendingLink, aci uuid.UUID, registrationID int) {
	c.mu.Lock()
	c.byKey[fmt.Sprintf("%s.%d", aci, registrationID)] = link
	c.mu.Unlock()
}

// keysUploaded completes the link when the registered device's keys land.
// A key upload with no pending link is the common case and a no-op.
func (c *provisioningCoordinator) keysUploaded(aci uuid.UUID, device *state.Device) {
	c.mu.Lock()
	key := fmt.Sprintf("%s.%d", aci, device.RegistrationID)
	link, ok := c.byKey[key]
	if ok {
		delete(c.byKey, key)
	}
	c.mu.Unlock()
	if ok {
		link.result.Push(device)
	}
}

// attachSocket registers a provisioning WebSocket waiting for the
// envelope addressed to its uuid.
func (c *provisioningCoordinator) attachSocket(uuid string) chan *proto.ProvisionEnvelope {
	ch := make(chan *proto.ProvisionEnvelope, 1)
	c.mu.Lock()
	c.sockets[uuid] = ch
	c.mu.Unlock()
	return ch
}

func (c *provisioningCoordinator) detachSocket(uuid string) {
	c.mu.Lock()
	delete(c.sockets, uuid)
	c.mu.Unlock()
}

// deliverEnvelope pushes the encrypted provision message to a waiting
// provisioning socket, if one is attached for the uuid.
func (c *provisioningCoordinator) deliverEnvelope(uuid string, env *proto.ProvisionEnvelope) {
	c.mu.Lock()
	ch, ok := c.sockets[uuid]
	c.mu.Unlock()
	if ok {
		select {
		case ch <- env:
		default:
		}
	}
}

// newProvisioningCode mints a six-digit code, the shape clients expect.
func newProvisioningCode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		panic(fmt.Sprintf("provisioning code randomness: %v", err))
	}
	return fmt.Sprintf("%06d", n.Int64())
}

// provisionURLKeys extracts the uuid and ephemeral public key from a
// linking URL (sgnl://linkdevice?uuid=...&pub_key=...).
func provisionURLKeys(provisionURL string) (string, []byte, error) {
	u, err := url.Parse(provisionURL)
	if err != nil {
		return "", nil, fmt.Errorf("provision url: %w", err)
	}
	q := u.Query()
	id := q.Get("uuid")
	if id == "" {
		return "", nil, fmt.Errorf("provision url missing uuid")
	}
	pubB64 := q.Get("pub_key")
	if pubB64 == "" {
		return "", nil, fmt.Errorf("provision url missing pub_key")
	}
	// Both padded and unpadded URL encodings appear in the wild.
	pubB64 = strings.TrimRight(pubB64, "=")
	pub, err := base64.RawURLEncoding.DecodeString(pubB64)
	if err != nil {
		if pub, err = base64.RawStdEncoding.DecodeString(pubB64); err != nil {
			return "", nil, fmt.Errorf("provision url pub_key: %w", err)
		}
	}
	return id, pub, nil
}

// buildProvisionMessage assembles and encrypts the provision message for
// the linking client's ephemeral key.
func buildProvisionMessage(primary *PrimaryInfo, code string, clientPub []byte) (*proto.ProvisionEnvelope, error) {
	aci := primary.ACI.String()
	pni := primary.PNI.String()
	version := uint32(proto.ProvisioningVersion_CURRENT)
	userAgent := primary.UserAgent
	if userAgent == "" {
		userAgent = "signal-mock"
	}

	msg := &proto.ProvisionMessage{
		AciIdentityKeyPublic:  primary.ACIIdentityPublic,
		AciIdentityKeyPrivate: primary.ACIIdentityPrivate,
		PniIdentityKeyPublic:  primary.PNIIdentityPublic,
		PniIdentityKeyPrivate: primary.PNIIdentityPrivate,
		Aci:                   &aci,
		Pni:                   &pni,
		Number:                &primary.Number,
		ProvisioningCode:      &code,
		UserAgent:             &userAgent,
		ProfileKey:            primary.ProfileKey,
		ProvisioningVersion:   &version,
		MasterKey:             primary.MasterKey,
	}
	plaintext, err := gproto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal provision message: %w", err)
	}

	body, ephemeralPub, err := provisioncrypto.EncryptProvisionEnvelope(clientPub, plaintext)
	if err != nil {
		return nil, err
	}
	return &proto.ProvisionEnvelope{PublicKey: ephemeralPub, Body: body}, nil
}
