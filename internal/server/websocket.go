package server

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	gproto "google.golang.org/protobuf/proto"

	"github.com/gwillem/signal-mock/internal/proto"
	"github.com/gwillem/signal-mock/internal/state"
)

// wsConn wraps a WebSocket connection with protobuf framing. Writes are
// serialized; reads happen from one goroutine.
type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

// ReadMessage reads and unmarshals a WebSocketMessage from the connection.
func (c *wsConn) ReadMessage(ctx context.Context) (*proto.WebSocketMessage, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ws: read: %w", err)
	}
	msg := new(proto.WebSocketMessage)
	if err := gproto.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("ws: unmarshal: %w", err)
	}
	return msg, nil
}

// WriteMessage marshals and sends a WebSocketMessage.
func (c *wsConn) WriteMessage(ctx context.Context, msg *proto.WebSocketMessage) error {
	data, err := gproto.Marshal(msg)
	if err != nil {
		return fmt.Errorf("ws: marshal: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.Write(ctx, websocket.MessageBinary, data); err != nil {
		return fmt.Errorf("ws: write: %w", err)
	}
	return nil
}

// SendRequest sends a server-initiated request frame.
func (c *wsConn) SendRequest(ctx context.Context, id uint64, verb, path string, body []byte) error {
	msg := &proto.WebSocketMessage{
		Type: proto.WebSocketMessage_REQUEST.Enum(),
		Request: &proto.WebSocketRequestMessage{
			Id:   &id,
			Verb: &verb,
			Path: &path,
			Body: body,
		},
	}
	return c.WriteMessage(ctx, msg)
}

// SendResponse answers a client request frame.
func (c *wsConn) SendResponse(ctx context.Context, id uint64, status uint32, message string, headers []string, body []byte) error {
	msg := &proto.WebSocketMessage{
		Type: proto.WebSocketMessage_RESPONSE.Enum(),
		Response: &proto.WebSocketResponseMessage{
			Id:      &id,
			Status:  &status,
			Message: &message,
			Headers: headers,
			Body:    body,
		},
	}
	return c.WriteMessage(ctx, msg)
}

// Close sends a normal closure frame and then closes the connection.
func (c *wsConn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "")
}

// handleWebSocket upgrades the authenticated duplex connection. The
// credentials arrive as login/password query parameters.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	username, password, ok := basicCredentials(r)
	if !ok {
		writeError(w, s.log, authError(fmt.Errorf("missing websocket credentials")))
		return
	}
	account, device, err := s.state.Authenticate(username, password)
	if err != nil {
		writeError(w, s.log, authError(err))
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket accept")
		return
	}

	session := &wsSession{
		srv:     s,
		conn:    newWSConn(ws),
		account: account,
		device:  device,
		pending: make(map[uint64]string),
		sent:    make(map[string]bool),
	}
	session.run(r.Context())
}

// wsSession is one live authenticated WebSocket: it answers client
// requests through the shared router and pushes queued envelopes as
// server-initiated requests.
type wsSession struct {
	srv     *Server
	conn    *wsConn
	account *state.Account
	device  *state.Device

	nextID uint64

	mu      sync.Mutex
	pending map[uint64]string // outbound request id → envelope GUID
	sent    map[string]bool   // GUIDs pushed on this connection, not yet acked
}

func (ss *wsSession) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	defer ss.conn.Close()

	log := ss.srv.log.With().Str("aci", ss.account.ACI.String()).Int("deviceId", ss.device.ID).Logger()
	log.Debug().Msg("websocket connected")

	var notify <-chan struct{}
	if ss.device.FetchesMessages {
		ch, err := ss.srv.state.AttachConsumer(ss.account.ACI, ss.device.ID)
		if err != nil {
			log.Error().Err(err).Msg("attach consumer")
			return
		}
		notify = ch
		defer ss.srv.state.DetachConsumer(ss.account.ACI, ss.device.ID, ch)
		go ss.deliverLoop(ctx, notify)
	}

	for {
		msg, err := ss.conn.ReadMessage(ctx)
		if err != nil {
			log.Debug().Err(err).Msg("websocket closed")
			return
		}
		switch msg.GetType() {
		case proto.WebSocketMessage_REQUEST:
			ss.handleRequest(ctx, msg.GetRequest())
		case proto.WebSocketMessage_RESPONSE:
			ss.handleResponse(msg.GetResponse())
		default:
			log.Debug().Int32("type", int32(msg.GetType())).Msg("unknown frame type")
		}
	}
}

// deliverLoop drains the backlog, signals queue/empty exactly once, then
// forwards live pushes in enqueue order.
func (ss *wsSession) deliverLoop(ctx context.Context, notify <-chan struct{}) {
	ss.pushQueued(ctx)
	ss.sendQueueEmpty(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-notify:
			ss.pushQueued(ctx)
		}
	}
}

// pushQueued sends every queued envelope not already in flight on this
// connection, preserving enqueue order.
func (ss *wsSession) pushQueued(ctx context.Context) {
	envelopes, err := ss.srv.state.QueuedMessages(ss.account.ACI, ss.device.ID)
	if err != nil {
		return
	}
	for _, env := range envelopes {
		ss.mu.Lock()
		if ss.sent[env.GUID] {
			ss.mu.Unlock()
			continue
		}
		ss.nextID++
		id := ss.nextID
		ss.sent[env.GUID] = true
		ss.pending[id] = env.GUID
		ss.mu.Unlock()

		body, err := gproto.Marshal(envelopeProto(env))
		if err != nil {
			ss.srv.log.Error().Err(err).Msg("marshal envelope")
			continue
		}
		if err := ss.conn.SendRequest(ctx, id, http.MethodPut, "/api/v1/message", body); err != nil {
			return
		}
	}
}

func (ss *wsSession) sendQueueEmpty(ctx context.Context) {
	ss.mu.Lock()
	ss.nextID++
	id := ss.nextID
	ss.mu.Unlock()
	_ = ss.conn.SendRequest(ctx, id, http.MethodPut, "/api/v1/queue/empty", nil)
}

// handleResponse resolves a client response to an outbound push: a 2xx
// acknowledges the envelope and removes it from the queue.
func (ss *wsSession) handleResponse(resp *proto.WebSocketResponseMessage) {
	ss.mu.Lock()
	guid, ok := ss.pending[resp.GetId()]
	if ok {
		delete(ss.pending, resp.GetId())
	}
	ss.mu.Unlock()
	if !ok {
		return
	}

	if resp.GetStatus() >= 200 && resp.GetStatus() < 300 {
		_, _ = ss.srv.state.AckMessage(ss.account.ACI, ss.device.ID, guid)
		return
	}
	// Rejected: leave it queued for the next connection.
	ss.mu.Lock()
	delete(ss.sent, guid)
	ss.mu.Unlock()
}

// handleRequest dispatches a client request frame through the same router
// the HTTP listener uses and writes the response frame back.
func (ss *wsSession) handleRequest(ctx context.Context, req *proto.WebSocketRequestMessage) {
	status, headers, body := ss.srv.dispatchWS(ctx, ss.device, req)
	message := http.StatusText(int(status))
	if err := ss.conn.SendResponse(ctx, req.GetId(), status, message, headers, body); err != nil {
		ss.srv.log.Debug().Err(err).Msg("websocket respond")
	}
}

// dispatchWS replays a WebSocket request frame as an HTTP request against
// the router. The connection's device credentials authenticate it.
func (s *Server) dispatchWS(ctx context.Context, device *state.Device, req *proto.WebSocketRequestMessage) (uint32, []string, []byte) {
	httpReq, err := http.NewRequestWithContext(ctx, req.GetVerb(), req.GetPath(), bytes.NewReader(req.GetBody()))
	if err != nil {
		return http.StatusBadRequest, nil, nil
	}
	httpReq.SetBasicAuth(device.AuthName(), device.Password)
	for _, h := range req.GetHeaders() {
		if name, value, ok := strings.Cut(h, ":"); ok {
			httpReq.Header.Set(strings.TrimSpace(name), strings.TrimSpace(value))
		}
	}

	rec := &wsResponseRecorder{header: make(http.Header), status: http.StatusOK}
	s.router.ServeHTTP(rec, httpReq)

	var headers []string
	for name, values := range rec.header {
		for _, v := range values {
			headers = append(headers, name+":"+v)
		}
	}
	return uint32(rec.status), headers, rec.body.Bytes()
}

// wsResponseRecorder captures a handler's response for framing.
type wsResponseRecorder struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (r *wsResponseRecorder) Header() http.Header         { return r.header }
func (r *wsResponseRecorder) WriteHeader(status int)      { r.status = status }
func (r *wsResponseRecorder) Write(p []byte) (int, error) { return r.body.Write(p) }

// handleProvisioningWebSocket serves the unauthenticated provisioning
// socket: it issues a provisioning address and, once the harness completes
// the pending provision, forwards the encrypted provision envelope.
func (s *Server) handleProvisioningWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.log.Debug().Err(err).Msg("provisioning websocket accept")
		return
	}
	conn := newWSConn(ws)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeout)
	defer cancel()

	id := uuid.NewString()
	ch := s.provisioning.attachSocket(id)
	defer s.provisioning.detachSocket(id)

	addr := &proto.ProvisioningUuid{Uuid: &id}
	addrBody, err := gproto.Marshal(addr)
	if err != nil {
		s.log.Error().Err(err).Msg("marshal provisioning uuid")
		return
	}
	if err := conn.SendRequest(ctx, 1, http.MethodPut, "/v1/address", addrBody); err != nil {
		return
	}

	// The client acks the address; read frames until the envelope is ready.
	go func() {
		for {
			if _, err := conn.ReadMessage(ctx); err != nil {
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
		return
	case envelope := <-ch:
		body, err := gproto.Marshal(envelope)
		if err != nil {
			s.log.Error().Err(err).Msg("marshal provision envelope")
			return
		}
		if err := conn.SendRequest(ctx, 2, http.MethodPut, "/v1/message", body); err != nil {
			return
		}
		// Give the client a moment to ack before closing.
		timer := time.NewTimer(time.Second)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
	}
}
