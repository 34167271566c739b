package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gproto "google.golang.org/protobuf/proto"

	"github.com/gwillem/signal-mock/internal/proto"
	"github.com/gwillem/signal-mock/internal/state"
)

// wsDial opens the authenticated WebSocket against a test listener.
func wsDial(t *testing.T, ts *httptest.Server, device *state.Device, password string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") +
		"/v1/websocket/?login=" + url.QueryEscape(device.AuthName()) +
		"&password=" + url.QueryEscape(password)
	conn, _, err := websocket.Dial(context.Background(), wsURL, nil)
	require.NoError(t, err)
	return conn
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) *proto.WebSocketMessage {
	t.Helper()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	msg := new(proto.WebSocketMessage)
	require.NoError(t, gproto.Unmarshal(data, msg))
	return msg
}

func writeFrame(t *testing.T, ctx context.Context, conn *websocket.Conn, msg *proto.WebSocketMessage) {
	t.Helper()
	data, err := gproto.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageBinary, data))
}

func ackFrame(id uint64) *proto.WebSocketMessage {
	status := uint32(200)
	message := "OK"
	return &proto.WebSocketMessage{
		Type: proto.WebSocketMessage_RESPONSE.Enum(),
		Response: &proto.WebSocketResponseMessage{
			Id:      &id,
			Status:  &status,
			Message: &message,
		},
	}
}

func TestWebSocketBacklogDeliveryAndQueueEmpty(t *testing.T) {
	srv := newTestServer(t)
	id := newTestIdentity(t)
	account, device, password := registerTestAccount(t, srv, id)

	// Two envelopes queued before the connection.
	for i := 0; i < 2; i++ {
		require.NoError(t, srv.State().QueueMessage(state.ACIFor(account.ACI), &state.Envelope{
			Type: 6, DeviceID: device.ID, Content: []byte{byte(i)},
		}))
	}

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	conn := wsDial(t, ts, device, password)
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// The backlog arrives in enqueue order, then queue/empty exactly once.
	var sawEmpty bool
	var delivered [][]byte
	for len(delivered) < 2 || !sawEmpty {
		msg := readFrame(t, ctx, conn)
		require.Equal(t, proto.WebSocketMessage_REQUEST, msg.GetType())
		req := msg.GetRequest()
		switch req.GetPath() {
		case "/api/v1/message":
			var env proto.Envelope
			require.NoError(t, gproto.Unmarshal(req.GetBody(), &env))
			delivered = append(delivered, env.GetContent())
			writeFrame(t, ctx, conn, ackFrame(req.GetId()))
		case "/api/v1/queue/empty":
			require.False(t, sawEmpty, "queue/empty sent more than once")
			sawEmpty = true
			writeFrame(t, ctx, conn, ackFrame(req.GetId()))
		default:
			t.Fatalf("unexpected request path %q", req.GetPath())
		}
	}
	assert.Equal(t, [][]byte{{0}, {1}}, delivered)

	// Acks drained the queue.
	require.Eventually(t, func() bool {
		queued, err := srv.State().QueuedMessages(account.ACI, device.ID)
		return err == nil && len(queued) == 0
	}, 2*time.Second, 10*time.Millisecond)

	// A live send is pushed over the open connection.
	require.NoError(t, srv.State().QueueMessage(state.ACIFor(account.ACI), &state.Envelope{
		Type: 6, DeviceID: device.ID, Content: []byte{0xAA},
	}))
	msg := readFrame(t, ctx, conn)
	require.Equal(t, "/api/v1/message", msg.GetRequest().GetPath())
	var env proto.Envelope
	require.NoError(t, gproto.Unmarshal(msg.GetRequest().GetBody(), &env))
	assert.Equal(t, []byte{0xAA}, env.GetContent())
}

func TestWebSocketUnackedMessageStaysQueued(t *testing.T) {
	srv := newTestServer(t)
	id := newTestIdentity(t)
	account, device, password := registerTestAccount(t, srv, id)

	require.NoError(t, srv.State().QueueMessage(state.ACIFor(account.ACI), &state.Envelope{
		Type: 6, DeviceID: device.ID, Content: []byte("keep me"),
	}))

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	conn := wsDial(t, ts, device, password)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Read the push but disconnect without acking.
	msg := readFrame(t, ctx, conn)
	require.Equal(t, "/api/v1/message", msg.GetRequest().GetPath())
	conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool {
		queued, err := srv.State().QueuedMessages(account.ACI, device.ID)
		return err == nil && len(queued) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketDispatchesClientRequests(t *testing.T) {
	srv := newTestServer(t)
	id := newTestIdentity(t)
	account, device, password := registerTestAccount(t, srv, id)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	conn := wsDial(t, ts, device, password)
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Consume the initial queue/empty.
	empty := readFrame(t, ctx, conn)
	require.Equal(t, "/api/v1/queue/empty", empty.GetRequest().GetPath())
	writeFrame(t, ctx, conn, ackFrame(empty.GetRequest().GetId()))

	// A client request over the socket routes through the same handlers.
	verb := http.MethodGet
	path := "/v1/accounts/whoami"
	reqID := uint64(77)
	writeFrame(t, ctx, conn, &proto.WebSocketMessage{
		Type: proto.WebSocketMessage_REQUEST.Enum(),
		Request: &proto.WebSocketRequestMessage{
			Id:   &reqID,
			Verb: &verb,
			Path: &path,
		},
	})

	resp := readFrame(t, ctx, conn)
	require.Equal(t, proto.WebSocketMessage_RESPONSE, resp.GetType())
	require.Equal(t, reqID, resp.GetResponse().GetId())
	require.Equal(t, uint32(200), resp.GetResponse().GetStatus())
	assert.Contains(t, string(resp.GetResponse().GetBody()), account.ACI.String())
}

func TestWebSocketRejectsBadCredentials(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/websocket/?login=nobody.1&password=wrong"
	_, _, err := websocket.Dial(context.Background(), wsURL, nil)
	require.Error(t, err)
}
