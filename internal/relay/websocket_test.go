package relay

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"stampchat/internal/store"
)

// startTestServer brings up the full HTTP surface around a relay backed by
// the given store and returns the ws:// URL of the upgrade endpoint.
func startTestServer(t *testing.T, st store.MessageStore, opts Options) string {
	t.Helper()

	r := NewRelay(st, opts)
	go r.Run()
	t.Cleanup(func() {
		require.NoError(t, r.Shutdown(2*time.Second))
	})

	cfg := &Config{AllowedOrigins: []string{"*"}, StampsDir: t.TempDir()}
	server := httptest.NewServer(NewHandler(r, cfg).Routes())
	t.Cleanup(server.Close)

	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

func dialSession(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()

	header := map[string][]string{"Origin": {"http://test.example.com"}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, env Envelope) {
	t.Helper()
	payload, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))
}

func readFrame(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(payload, &env))
	return env
}

// nextFrameOfType skips frames until one of the wanted type arrives.
func nextFrameOfType(t *testing.T, conn *websocket.Conn, want EventType) Envelope {
	t.Helper()
	for i := 0; i < 20; i++ {
		env := readFrame(t, conn)
		if env.Event == want {
			return env
		}
	}
	t.Fatalf("no %s frame arrived", want)
	return Envelope{}
}

func expectNoFrame(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, payload, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected no frame, got: %s", payload)
	}
}

func TestRelayEndToEndScenario(t *testing.T) {
	st := store.NewMemoryStore()
	wsURL := startTestServer(t, st, Options{HistoryLimit: 100, PresenceCounter: true})

	alice := dialSession(t, wsURL)

	env := readFrame(t, alice)
	require.Equal(t, EventOnlineCount, env.Event)
	require.Equal(t, 1, *env.Count)

	// Alice joins into an empty room: no history, just the notice.
	sendFrame(t, alice, Envelope{Event: EventJoin, Name: "Alice"})
	env = readFrame(t, alice)
	require.Equal(t, EventSystem, env.Event)
	require.Equal(t, "Alice joined", env.Text)

	sendFrame(t, alice, Envelope{Event: EventChat, Text: "hi"})
	env = readFrame(t, alice)
	require.Equal(t, EventChat, env.Event)
	require.Equal(t, "Alice", env.Name)
	require.Equal(t, "hi", env.Text)
	require.Nil(t, env.Image)

	bob := dialSession(t, wsURL)

	env = readFrame(t, bob)
	require.Equal(t, EventOnlineCount, env.Event)
	require.Equal(t, 2, *env.Count)
	env = readFrame(t, alice)
	require.Equal(t, EventOnlineCount, env.Event)
	require.Equal(t, 2, *env.Count)

	// Bob joins: exactly one history item, in order, then his notice.
	sendFrame(t, bob, Envelope{Event: EventJoin, Name: "Bob"})
	env = readFrame(t, bob)
	require.Equal(t, EventHistory, env.Event)
	require.Equal(t, "Alice", env.Name)
	require.Equal(t, "hi", env.Text)
	env = readFrame(t, bob)
	require.Equal(t, EventSystem, env.Event)
	require.Equal(t, "Bob joined", env.Text)

	env = readFrame(t, alice)
	require.Equal(t, EventSystem, env.Event)
	require.Equal(t, "Bob joined", env.Text)

	// Bob leaves: remaining sessions see the new count, then the notice.
	require.NoError(t, bob.Close())

	count := nextFrameOfType(t, alice, EventOnlineCount)
	require.Equal(t, 1, *count.Count)
	leave := nextFrameOfType(t, alice, EventSystem)
	require.Equal(t, "Bob left", leave.Text)
}

func TestChatBeforeJoinIsIgnoredOverWire(t *testing.T) {
	st := store.NewMemoryStore()
	wsURL := startTestServer(t, st, Options{HistoryLimit: 100})

	conn := dialSession(t, wsURL)
	sendFrame(t, conn, Envelope{Event: EventChat, Text: "too early"})
	expectNoFrame(t, conn)

	msgs, err := st.RecentHistory(context.Background(), 0)
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestAdminFlowOverWire(t *testing.T) {
	st := store.NewMemoryStore()
	wsURL := startTestServer(t, st, Options{HistoryLimit: 100, AdminSecret: "s3cret"})

	admin := dialSession(t, wsURL)
	sendFrame(t, admin, Envelope{Event: EventJoin, Name: "Root"})
	readFrame(t, admin)

	// Wrong secret, then a premature clear: both silently ignored. Frame
	// order is preserved per connection, so the chat echo arriving next
	// proves neither produced a reply.
	sendFrame(t, admin, Envelope{Event: EventAdminCheck, Secret: "guess"})
	sendFrame(t, admin, Envelope{Event: EventAdminClear})
	sendFrame(t, admin, Envelope{Event: EventChat, Text: "to be purged"})
	env := readFrame(t, admin)
	require.Equal(t, EventChat, env.Event)
	require.Equal(t, "to be purged", env.Text)

	sendFrame(t, admin, Envelope{Event: EventAdminCheck, Secret: "s3cret"})
	env = readFrame(t, admin)
	require.Equal(t, EventAdminOK, env.Event)

	sendFrame(t, admin, Envelope{Event: EventAdminClear})
	require.Equal(t, EventClearScreen, readFrame(t, admin).Event)
	env = readFrame(t, admin)
	require.Equal(t, EventSystem, env.Event)
	require.Equal(t, "chat history was cleared by an administrator", env.Text)

	msgs, err := st.RecentHistory(context.Background(), 0)
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestShutdownCompletesWithConnectedSessions(t *testing.T) {
	r := NewRelay(store.NewMemoryStore(), Options{})
	go r.Run()

	cfg := &Config{AllowedOrigins: []string{"*"}, StampsDir: t.TempDir()}
	server := httptest.NewServer(NewHandler(r, cfg).Routes())
	defer server.Close()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"

	conn := dialSession(t, wsURL)
	sendFrame(t, conn, Envelope{Event: EventJoin, Name: "Alice"})
	env := readFrame(t, conn)
	require.Equal(t, EventSystem, env.Event) // both pumps are live

	// Shutdown must finish ahead of its deadline even though the client
	// never closed its side.
	start := time.Now()
	require.NoError(t, r.Shutdown(2*time.Second))
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestMalformedFrameIsDropped(t *testing.T) {
	wsURL := startTestServer(t, store.NewMemoryStore(), Options{})

	conn := dialSession(t, wsURL)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	// The connection survives; the next valid frame is handled and nothing
	// was produced for the malformed one.
	sendFrame(t, conn, Envelope{Event: EventJoin, Name: "Alice"})
	env := readFrame(t, conn)
	require.Equal(t, EventSystem, env.Event)
	require.Equal(t, "Alice joined", env.Text)
}
