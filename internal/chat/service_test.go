package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"

	"github.com/vkboi5/FlatBuddies-sub000/internal/identity"
	"github.com/vkboi5/FlatBuddies-sub000/internal/message"
	"github.com/vkboi5/FlatBuddies-sub000/internal/presence"
	"github.com/vkboi5/FlatBuddies-sub000/internal/relationship"
	"github.com/vkboi5/FlatBuddies-sub000/internal/room"
	wsrv "github.com/vkboi5/FlatBuddies-sub000/internal/ws"
)

// bufConn is an in-memory net.Conn that records written frames without
// blocking, so handlers can be driven synchronously.
type bufConn struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (c *bufConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.buf.Len() == 0 {
		return 0, io.EOF
	}
	return c.buf.Read(p)
}

func (c *bufConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, net.ErrClosed
	}
	return c.buf.Write(p)
}

func (c *bufConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *bufConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *bufConn) LocalAddr() net.Addr                { return nil }
func (c *bufConn) RemoteAddr() net.Addr               { return nil }
func (c *bufConn) SetDeadline(t time.Time) error      { return nil }
func (c *bufConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *bufConn) SetWriteDeadline(t time.Time) error { return nil }

type testEnv struct {
	service    *Service
	dispatcher *wsrv.MessageDispatcher
	store      *relationship.MemoryStore
}

func newTestEnv(t *testing.T, users ...string) *testEnv {
	t.Helper()

	store := relationship.NewMemoryStore()
	verifier := identity.StaticVerifier{}
	for _, u := range users {
		store.AddUser(u)
		verifier["tok-"+u] = u
	}

	engine := relationship.NewEngine(store, nil)
	registry := presence.NewRegistry()
	rooms := room.NewRouter()
	pipeline := message.NewPipeline(message.NewMemoryStore(), engine, registry, rooms)

	service := NewService(ServiceConfig{
		Verifier: verifier,
		Engine:   engine,
		Pipeline: pipeline,
		Registry: registry,
		Rooms:    rooms,
	})
	engine.SetNotifier(service)

	dispatcher := wsrv.NewMessageDispatcher()
	service.Register(dispatcher)

	return &testEnv{
		service:    service,
		dispatcher: dispatcher,
		store:      store,
	}
}

func newConn(id string) *wsrv.Connection {
	return &wsrv.Connection{
		ID:        id,
		Conn:      &bufConn{},
		CreatedAt: time.Now(),
		LastPing:  time.Now(),
	}
}

// frames decodes and drains every server frame written to the connection.
func frames(t *testing.T, conn *wsrv.Connection) []map[string]interface{} {
	t.Helper()

	bc := conn.Conn.(*bufConn)
	var out []map[string]interface{}
	for {
		frame, err := ws.ReadFrame(bc)
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("read frame: %v", err)
		}

		var m map[string]interface{}
		if err := json.Unmarshal(frame.Payload, &m); err != nil {
			t.Fatalf("decode frame payload: %v", err)
		}
		out = append(out, m)
	}
}

// lastOfType returns the most recent frame of the given type, failing the
// test if none was written.
func lastOfType(t *testing.T, fs []map[string]interface{}, msgType string) map[string]interface{} {
	t.Helper()
	for i := len(fs) - 1; i >= 0; i-- {
		if fs[i]["type"] == msgType {
			return fs[i]
		}
	}
	t.Fatalf("no %q frame in %v", msgType, fs)
	return nil
}

func (e *testEnv) dispatch(conn *wsrv.Connection, format string, args ...interface{}) {
	e.dispatcher.Dispatch(conn, []byte(fmt.Sprintf(format, args...)))
}

// authenticate connects and authenticates a user, draining the handshake
// frames.
func (e *testEnv) authenticate(t *testing.T, user string) *wsrv.Connection {
	t.Helper()

	conn := newConn("conn-" + user)
	e.service.OnConnect(conn)
	e.dispatch(conn, `{"type":"auth","token":"tok-%s"}`, user)

	fs := frames(t, conn)
	authed := lastOfType(t, fs, "authenticated")
	if authed["user_id"] != user {
		t.Fatalf("authenticated user_id = %v, want %s", authed["user_id"], user)
	}
	return conn
}

// --- Authentication ---

func TestAuthSuccess(t *testing.T) {
	env := newTestEnv(t, "alice")
	env.authenticate(t, "alice")
}

func TestAuthInvalidTokenClosesConnection(t *testing.T) {
	env := newTestEnv(t, "alice")

	conn := newConn("conn-1")
	env.service.OnConnect(conn)
	env.dispatch(conn, `{"type":"auth","token":"bogus"}`)

	fs := frames(t, conn)
	errFrame := lastOfType(t, fs, "error")
	if errFrame["code"] != "auth_failed" {
		t.Fatalf("error code = %v, want auth_failed", errFrame["code"])
	}
	if !conn.Conn.(*bufConn).isClosed() {
		t.Fatal("connection must be closed after failed auth")
	}
}

func TestAuthTimeout(t *testing.T) {
	env := newTestEnv(t, "alice")
	env.service.authTimeout = 20 * time.Millisecond

	conn := newConn("conn-1")
	env.service.OnConnect(conn)

	time.Sleep(80 * time.Millisecond)

	if !conn.Conn.(*bufConn).isClosed() {
		t.Fatal("unauthenticated connection must be closed after the deadline")
	}
	errFrame := lastOfType(t, frames(t, conn), "error")
	if errFrame["code"] != "auth_timeout" {
		t.Fatalf("error code = %v, want auth_timeout", errFrame["code"])
	}
}

func TestActionsRequireAuth(t *testing.T) {
	env := newTestEnv(t, "alice")

	conn := newConn("conn-1")
	env.service.OnConnect(conn)
	env.dispatch(conn, `{"type":"like","target_id":"alice"}`)

	errFrame := lastOfType(t, frames(t, conn), "error")
	if errFrame["code"] != "not_authenticated" {
		t.Fatalf("error code = %v, want not_authenticated", errFrame["code"])
	}
}

// --- Matching flow ---

func TestMutualLikeDeliversMatchEvents(t *testing.T) {
	env := newTestEnv(t, "alice", "bob")

	alice := env.authenticate(t, "alice")
	bob := env.authenticate(t, "bob")

	env.dispatch(alice, `{"type":"like","target_id":"bob"}`)
	result := lastOfType(t, frames(t, alice), "like_result")
	if result["outcome"] != "liked" {
		t.Fatalf("first like outcome = %v, want liked", result["outcome"])
	}

	env.dispatch(bob, `{"type":"like","target_id":"alice"}`)
	result = lastOfType(t, frames(t, bob), "like_result")
	if result["outcome"] != "matched" {
		t.Fatalf("second like outcome = %v, want matched", result["outcome"])
	}

	// Both sides receive the match event.
	ev := lastOfType(t, frames(t, alice), "match_event")
	if ev["peer_id"] != "bob" {
		t.Fatalf("alice match_event peer = %v, want bob", ev["peer_id"])
	}
}

func TestJoinRequiresMatch(t *testing.T) {
	env := newTestEnv(t, "alice", "bob")

	alice := env.authenticate(t, "alice")
	env.dispatch(alice, `{"type":"join","peer_id":"bob"}`)

	errFrame := lastOfType(t, frames(t, alice), "error")
	if errFrame["code"] != "not_matched" {
		t.Fatalf("error code = %v, want not_matched", errFrame["code"])
	}
}

func TestJoinAfterMatch(t *testing.T) {
	env := newTestEnv(t, "alice", "bob")

	alice := env.authenticate(t, "alice")
	bob := env.authenticate(t, "bob")
	env.dispatch(alice, `{"type":"like","target_id":"bob"}`)
	env.dispatch(bob, `{"type":"like","target_id":"alice"}`)

	env.dispatch(alice, `{"type":"join","peer_id":"bob"}`)
	env.dispatch(bob, `{"type":"join","peer_id":"alice"}`)

	aliceJoined := lastOfType(t, frames(t, alice), "joined")
	bobJoined := lastOfType(t, frames(t, bob), "joined")
	if aliceJoined["room_id"] != bobJoined["room_id"] {
		t.Fatalf("room ids differ: %v vs %v", aliceJoined["room_id"], bobJoined["room_id"])
	}
}

// --- Messaging ---

func TestMessageDeliveryAndAck(t *testing.T) {
	env := newTestEnv(t, "alice", "bob")

	alice := env.authenticate(t, "alice")
	bob := env.authenticate(t, "bob")
	env.dispatch(alice, `{"type":"like","target_id":"bob"}`)
	env.dispatch(bob, `{"type":"like","target_id":"alice"}`)
	frames(t, alice)
	frames(t, bob)

	env.dispatch(alice, `{"type":"message","peer_id":"bob","text":"hey bob"}`)

	ack := lastOfType(t, frames(t, alice), "message_sent")
	if ack["delivered"] != true {
		t.Fatalf("ack delivered = %v, want true", ack["delivered"])
	}
	incoming := lastOfType(t, frames(t, bob), "message")
	if incoming["from"] != "alice" || incoming["text"] != "hey bob" {
		t.Fatalf("incoming = %v", incoming)
	}
}

func TestMessageToOfflinePeer(t *testing.T) {
	env := newTestEnv(t, "alice", "bob")

	alice := env.authenticate(t, "alice")
	bob := env.authenticate(t, "bob")
	env.dispatch(alice, `{"type":"like","target_id":"bob"}`)
	env.dispatch(bob, `{"type":"like","target_id":"alice"}`)

	env.service.OnDisconnect(bob.ID)

	env.dispatch(alice, `{"type":"message","peer_id":"bob","text":"you there?"}`)
	ack := lastOfType(t, frames(t, alice), "message_sent")
	if ack["delivered"] != false {
		t.Fatalf("ack delivered = %v, want false for offline peer", ack["delivered"])
	}

	// Bob reconnects and finds the message in history and unread counts.
	bob2 := env.authenticate(t, "bob")
	env.dispatch(bob2, `{"type":"unread_counts"}`)
	counts := lastOfType(t, frames(t, bob2), "unread_counts")
	if counts["counts"].(map[string]interface{})["alice"] != float64(1) {
		t.Fatalf("unread counts = %v, want alice:1", counts["counts"])
	}

	env.dispatch(bob2, `{"type":"history","peer_id":"alice"}`)
	hist := lastOfType(t, frames(t, bob2), "history")
	msgs := hist["messages"].([]interface{})
	if len(msgs) != 1 {
		t.Fatalf("history = %v, want 1 message", msgs)
	}

	env.dispatch(bob2, `{"type":"mark_read","peer_id":"alice"}`)
	marked := lastOfType(t, frames(t, bob2), "marked_read")
	if marked["count"] != float64(1) {
		t.Fatalf("marked_read count = %v, want 1", marked["count"])
	}
}

func TestMessageRequiresMatch(t *testing.T) {
	env := newTestEnv(t, "alice", "bob")

	alice := env.authenticate(t, "alice")
	env.dispatch(alice, `{"type":"message","peer_id":"bob","text":"hi"}`)

	errFrame := lastOfType(t, frames(t, alice), "error")
	if errFrame["code"] != "not_matched" {
		t.Fatalf("error code = %v, want not_matched", errFrame["code"])
	}
}

// --- Unmatch ---

func TestUnmatchTearsDownRoom(t *testing.T) {
	env := newTestEnv(t, "alice", "bob")

	alice := env.authenticate(t, "alice")
	bob := env.authenticate(t, "bob")
	env.dispatch(alice, `{"type":"like","target_id":"bob"}`)
	env.dispatch(bob, `{"type":"like","target_id":"alice"}`)
	env.dispatch(alice, `{"type":"join","peer_id":"bob"}`)
	env.dispatch(bob, `{"type":"join","peer_id":"alice"}`)
	frames(t, alice)
	frames(t, bob)

	env.dispatch(alice, `{"type":"unmatch","target_id":"bob"}`)

	result := lastOfType(t, frames(t, alice), "unmatch_result")
	if result["outcome"] != "unmatched" {
		t.Fatalf("outcome = %v, want unmatched", result["outcome"])
	}
	left := lastOfType(t, frames(t, bob), "left")
	if left["peer_id"] != "alice" {
		t.Fatalf("bob left peer = %v, want alice", left["peer_id"])
	}

	// Sends between the pair are rejected now.
	env.dispatch(bob, `{"type":"message","peer_id":"alice","text":"wait"}`)
	errFrame := lastOfType(t, frames(t, bob), "error")
	if errFrame["code"] != "not_matched" {
		t.Fatalf("error code = %v, want not_matched", errFrame["code"])
	}

	// Repeating the unmatch reports there is nothing to dissolve.
	env.dispatch(alice, `{"type":"unmatch","target_id":"bob"}`)
	result = lastOfType(t, frames(t, alice), "unmatch_result")
	if result["outcome"] != "not_matched" {
		t.Fatalf("repeat outcome = %v, want not_matched", result["outcome"])
	}
}

// --- Connection lifecycle ---

func TestLastConnectionWins(t *testing.T) {
	env := newTestEnv(t, "alice", "bob")

	bob := env.authenticate(t, "bob")
	env.dispatch(bob, `{"type":"like","target_id":"alice"}`)

	first := newConn("conn-alice-1")
	env.service.OnConnect(first)
	env.dispatch(first, `{"type":"auth","token":"tok-alice"}`)

	second := newConn("conn-alice-2")
	env.service.OnConnect(second)
	env.dispatch(second, `{"type":"auth","token":"tok-alice"}`)

	if !first.Conn.(*bufConn).isClosed() {
		t.Fatal("superseded connection must be closed")
	}

	// Messages route to the new connection.
	env.dispatch(second, `{"type":"like","target_id":"bob"}`)
	frames(t, second)
	env.dispatch(bob, `{"type":"message","peer_id":"alice","text":"hello"}`)
	incoming := lastOfType(t, frames(t, second), "message")
	if incoming["text"] != "hello" {
		t.Fatalf("incoming on new conn = %v", incoming)
	}
}

func TestStaleDisconnectKeepsNewConnection(t *testing.T) {
	env := newTestEnv(t, "alice", "bob")

	first := newConn("conn-alice-1")
	env.service.OnConnect(first)
	env.dispatch(first, `{"type":"auth","token":"tok-alice"}`)

	second := newConn("conn-alice-2")
	env.service.OnConnect(second)
	env.dispatch(second, `{"type":"auth","token":"tok-alice"}`)

	// The old connection's disconnect arrives after the new registration.
	env.service.OnDisconnect(first.ID)

	bob := env.authenticate(t, "bob")
	env.dispatch(bob, `{"type":"like","target_id":"alice"}`)
	env.dispatch(second, `{"type":"like","target_id":"bob"}`)
	frames(t, second)

	env.dispatch(bob, `{"type":"message","peer_id":"alice","text":"still here?"}`)
	ack := lastOfType(t, frames(t, bob), "message_sent")
	if ack["delivered"] != true {
		t.Fatal("new connection must remain registered after stale disconnect")
	}
}
