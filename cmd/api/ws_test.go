package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/Jishnu-21/chat-app/internal/data"
	"github.com/Jishnu-21/chat-app/internal/events"
)

// wsTestEnv bundles a running server with two registered users.
type wsTestEnv struct {
	srv   *httptest.Server
	users *fakeUsers
	msgs  *fakeMsgs
	s     *Server
	alice *data.User
	bob   *data.User
}

func newWSTestEnv(t *testing.T) *wsTestEnv {
	t.Helper()

	users := newFakeUsers()
	msgs := &fakeMsgs{}
	e, srv, _ := newTestRouter(t, users, msgs)

	ts := httptest.NewServer(e)
	t.Cleanup(ts.Close)

	return &wsTestEnv{
		srv:   ts,
		users: users,
		msgs:  msgs,
		s:     srv,
		alice: users.add("alice"),
		bob:   users.add("bob"),
	}
}

func (env *wsTestEnv) token(t *testing.T, u *data.User) string {
	t.Helper()
	token, _, err := env.s.auth.GenerateToken(u.ID, u.Username)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	return token
}

func (env *wsTestEnv) wsURL(token string) string {
	return "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws?token=" + token
}

// connect dials the websocket endpoint and fails the test on rejection.
func (env *wsTestEnv) connect(t *testing.T, u *data.User) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL(env.token(t, u)), nil)
	if err != nil {
		t.Fatalf("dial failed for %s: %v", u.Username, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) events.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env events.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("expected an event, read failed: %v", err)
	}
	return env
}

// expectStatus reads one event and asserts it is the given presence change.
func expectStatus(t *testing.T, conn *websocket.Conn, userID, status string) {
	t.Helper()
	env := readEvent(t, conn)
	if env.Event != events.UserStatus {
		t.Fatalf("expected user:status, got %s", env.Event)
	}
	var payload events.StatusUpdate
	if err := env.Bind(&payload); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if payload.UserID != userID || payload.Status != status {
		t.Fatalf("expected status %s=%s, got %+v", userID, status, payload)
	}
}

// waitForConnections polls the hub until the user has exactly n live
// connections, failing the test if that never happens.
func waitForConnections(t *testing.T, env *wsTestEnv, userID string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for env.s.hub.ConnectionCount(userID) != n {
		if time.Now().After(deadline) {
			t.Fatalf("user %s never reached %d connections (have %d)", userID, n, env.s.hub.ConnectionCount(userID))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// expectSilence asserts no event arrives within the window. A read after
// the deadline fires poisons the connection, so this is only usable as the
// final read on a connection.
func expectSilence(t *testing.T, conn *websocket.Conn, window time.Duration) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(window))
	var env events.Envelope
	if err := conn.ReadJSON(&env); err == nil {
		t.Fatalf("expected no event, got %s", env.Event)
	}
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	env, err := events.New(event, data)
	if err != nil {
		t.Fatalf("events.New failed: %v", err)
	}
	if err := conn.WriteJSON(env); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
}

func TestWS_AdmissionGate(t *testing.T) {
	env := newWSTestEnv(t)

	deleted := env.users.add("ghost")
	ghostToken := env.token(t, deleted)
	env.users.mu.Lock()
	delete(env.users.byID, deleted.ID.Hex())
	env.users.mu.Unlock()

	cases := map[string]string{
		"missing token":            env.wsURL(""),
		"garbage token":            env.wsURL("not-a-token"),
		"subject no longer exists": env.wsURL(ghostToken),
	}

	for name, url := range cases {
		conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			conn.Close()
			t.Fatalf("%s: expected handshake rejection", name)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401 refusal, got %+v", name, resp)
		}
	}

	// a valid token for an existing user is admitted
	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL(env.token(t, env.alice)), nil)
	if err != nil {
		t.Fatalf("valid credential refused: %v", err)
	}
	conn.Close()
}

func TestWS_PresenceLifecycle(t *testing.T) {
	env := newWSTestEnv(t)

	aliceConn := env.connect(t, env.alice)
	expectStatus(t, aliceConn, env.alice.ID.Hex(), data.StatusOnline)

	bobConn := env.connect(t, env.bob)
	expectStatus(t, bobConn, env.bob.ID.Hex(), data.StatusOnline)
	expectStatus(t, aliceConn, env.bob.ID.Hex(), data.StatusOnline)

	// A second device for bob joins and leaves. Neither is a presence
	// transition, so alice must hear nothing from either.
	bobConn2 := env.connect(t, env.bob)
	waitForConnections(t, env, env.bob.ID.Hex(), 2)
	bobConn2.Close()
	waitForConnections(t, env, env.bob.ID.Hex(), 1)

	// Closing the last device is a transition: everyone still connected
	// hears offline. Had the device churn above emitted anything, that
	// event would arrive here instead and fail the assertion.
	bobConn.Close()
	expectStatus(t, aliceConn, env.bob.ID.Hex(), data.StatusOffline)

	// A fresh join is the next thing alice hears — no stray presence
	// events were queued by the multi-device churn.
	carol := env.users.add("carol")
	env.connect(t, carol)
	expectStatus(t, aliceConn, carol.ID.Hex(), data.StatusOnline)

	// The offline transition is persisted fire-and-forget.
	deadline := time.Now().Add(2 * time.Second)
	for {
		env.users.mu.Lock()
		recorded := strings.Join(env.users.statusW, ",")
		env.users.mu.Unlock()
		if strings.Contains(recorded, env.bob.ID.Hex()+":"+data.StatusOffline) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("offline transition never persisted, recorded: %s", recorded)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWS_MessageDeliveryAndEcho(t *testing.T) {
	env := newWSTestEnv(t)

	aliceConn := env.connect(t, env.alice)
	expectStatus(t, aliceConn, env.alice.ID.Hex(), data.StatusOnline)
	bobConn := env.connect(t, env.bob)
	expectStatus(t, bobConn, env.bob.ID.Hex(), data.StatusOnline)
	expectStatus(t, aliceConn, env.bob.ID.Hex(), data.StatusOnline)

	sendEvent(t, aliceConn, events.MessageSend, events.SendMessage{To: env.bob.ID.Hex(), Message: "hi"})

	// Bob receives exactly one message:receive from alice.
	got := readEvent(t, bobConn)
	if got.Event != events.MessageReceive {
		t.Fatalf("expected message:receive, got %s", got.Event)
	}
	var received events.ReceiveMessage
	if err := got.Bind(&received); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if received.From != env.alice.ID.Hex() || received.Message != "hi" {
		t.Fatalf("unexpected payload: %+v", received)
	}
	if _, err := time.Parse(time.RFC3339, received.Timestamp); err != nil {
		t.Fatalf("timestamp not RFC3339: %q", received.Timestamp)
	}
	expectSilence(t, bobConn, 300*time.Millisecond)

	// Alice gets the persisted record echoed back for reconciliation.
	echoed := readEvent(t, aliceConn)
	if echoed.Event != events.MessageSent {
		t.Fatalf("expected message:sent, got %s", echoed.Event)
	}
	var sent events.SentMessage
	if err := echoed.Bind(&sent); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if sent.ID == "" || sent.To != env.bob.ID.Hex() || sent.Message != "hi" {
		t.Fatalf("unexpected echo payload: %+v", sent)
	}

	if env.msgs.savedCount() != 1 {
		t.Fatalf("expected 1 persisted message, got %d", env.msgs.savedCount())
	}
}

func TestWS_StorageFailureDoesNotBlockDelivery(t *testing.T) {
	env := newWSTestEnv(t)
	env.msgs.failSave = true

	aliceConn := env.connect(t, env.alice)
	expectStatus(t, aliceConn, env.alice.ID.Hex(), data.StatusOnline)
	bobConn := env.connect(t, env.bob)
	expectStatus(t, bobConn, env.bob.ID.Hex(), data.StatusOnline)
	expectStatus(t, aliceConn, env.bob.ID.Hex(), data.StatusOnline)

	sendEvent(t, aliceConn, events.MessageSend, events.SendMessage{To: env.bob.ID.Hex(), Message: "still works"})

	// Real-time delivery is independent of the storage path.
	got := readEvent(t, bobConn)
	if got.Event != events.MessageReceive {
		t.Fatalf("expected message:receive despite storage failure, got %s", got.Event)
	}

	// No persisted echo: the sender's client treats the message as failed.
	expectSilence(t, aliceConn, 500*time.Millisecond)
}

func TestWS_OfflineRecipient(t *testing.T) {
	env := newWSTestEnv(t)

	aliceConn := env.connect(t, env.alice)
	expectStatus(t, aliceConn, env.alice.ID.Hex(), data.StatusOnline)

	// Bob is not connected: nothing is delivered, but storage still runs.
	sendEvent(t, aliceConn, events.MessageSend, events.SendMessage{To: env.bob.ID.Hex(), Message: "catch up later"})

	echoed := readEvent(t, aliceConn)
	if echoed.Event != events.MessageSent {
		t.Fatalf("expected only the message:sent echo, got %s", echoed.Event)
	}

	if env.msgs.savedCount() != 1 {
		t.Fatalf("expected message persisted for later history, got %d", env.msgs.savedCount())
	}
}

func TestWS_TypingOrderAndIsolation(t *testing.T) {
	env := newWSTestEnv(t)
	carol := env.users.add("carol")

	aliceConn := env.connect(t, env.alice)
	expectStatus(t, aliceConn, env.alice.ID.Hex(), data.StatusOnline)
	bobConn := env.connect(t, env.bob)
	expectStatus(t, bobConn, env.bob.ID.Hex(), data.StatusOnline)
	expectStatus(t, aliceConn, env.bob.ID.Hex(), data.StatusOnline)
	carolConn := env.connect(t, carol)
	expectStatus(t, carolConn, carol.ID.Hex(), data.StatusOnline)
	expectStatus(t, aliceConn, carol.ID.Hex(), data.StatusOnline)
	expectStatus(t, bobConn, carol.ID.Hex(), data.StatusOnline)

	sendEvent(t, aliceConn, events.UserTyping, events.TypingRequest{To: env.bob.ID.Hex(), IsTyping: true})
	sendEvent(t, aliceConn, events.UserTyping, events.TypingRequest{To: env.bob.ID.Hex(), IsTyping: false})

	for i, want := range []bool{true, false} {
		got := readEvent(t, bobConn)
		if got.Event != events.UserTyping {
			t.Fatalf("event %d: expected user:typing, got %s", i, got.Event)
		}
		var notice events.TypingNotice
		if err := got.Bind(&notice); err != nil {
			t.Fatalf("Bind failed: %v", err)
		}
		if notice.From != env.alice.ID.Hex() || notice.IsTyping != want {
			t.Fatalf("event %d: unexpected payload %+v", i, notice)
		}
	}

	// Events targeted at bob must never reach carol.
	expectSilence(t, carolConn, 300*time.Millisecond)
}

func TestWS_UnknownAndMalformedFramesDropped(t *testing.T) {
	env := newWSTestEnv(t)

	aliceConn := env.connect(t, env.alice)
	expectStatus(t, aliceConn, env.alice.ID.Hex(), data.StatusOnline)
	bobConn := env.connect(t, env.bob)
	expectStatus(t, bobConn, env.bob.ID.Hex(), data.StatusOnline)
	expectStatus(t, aliceConn, env.bob.ID.Hex(), data.StatusOnline)

	// Unknown event name, raw garbage, and a send to a bad recipient id:
	// all dropped without killing the connection.
	sendEvent(t, aliceConn, "user:eval", map[string]string{"cmd": "rm"})
	if err := aliceConn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}
	sendEvent(t, aliceConn, events.MessageSend, events.SendMessage{To: "not-an-id", Message: "x"})
	sendEvent(t, aliceConn, events.MessageSend, events.SendMessage{To: bson.NewObjectID().Hex(), Message: "nobody home"})

	// The connection survives and still relays valid traffic.
	sendEvent(t, aliceConn, events.UserTyping, events.TypingRequest{To: env.bob.ID.Hex(), IsTyping: true})

	got := readEvent(t, bobConn)
	if got.Event != events.UserTyping {
		t.Fatalf("expected user:typing after dropped frames, got %s", got.Event)
	}
}
