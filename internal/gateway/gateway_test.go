package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/quangdm/shopchat/internal/assistant"
	"github.com/quangdm/shopchat/internal/domain"
	"github.com/quangdm/shopchat/internal/store"
)

// stubAssistant serves scripted replies and records invocations.
type stubAssistant struct {
	replies     map[string]string
	initErr     error
	initProfile *domain.UserProfile
	panicOn     string
}

func (a *stubAssistant) InitProfile(_ context.Context, _, _ string, _ map[string]any) (*assistant.ProfileResult, error) {
	if a.initErr != nil {
		return nil, a.initErr
	}
	profile := a.initProfile
	if profile == nil {
		profile = domain.GuestProfile()
	}
	return &assistant.ProfileResult{Profile: profile, Welcome: "Welcome!"}, nil
}

func (a *stubAssistant) Respond(_ context.Context, _, query string, _ map[string]any) string {
	if a.panicOn != "" && query == a.panicOn {
		panic("boom")
	}
	if reply, ok := a.replies[query]; ok {
		return reply
	}
	return "reply:" + query
}

func newTestStore(t *testing.T) store.SessionStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestServer(t *testing.T, svc Assistant, st store.SessionStore) (*httptest.Server, *Registry) {
	t.Helper()
	registry := NewRegistry()
	handler := NewHandler(svc, st, registry, "*", 10)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, registry
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, payload string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(payload)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	var event map[string]any
	if err := json.Unmarshal(data, &event); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	return event
}

func TestConnectEmitsWelcomeWithSessionID(t *testing.T) {
	srv, registry := newTestServer(t, &stubAssistant{}, newTestStore(t))
	conn := dial(t, srv, "")

	event := readEvent(t, conn)
	if event["type"] != "welcome" {
		t.Fatalf("Expected welcome event, got %v", event["type"])
	}
	if id, _ := event["sessionId"].(string); id == "" {
		t.Error("Expected a non-empty session id")
	}
	if ts, _ := event["timestamp"].(string); ts == "" {
		t.Error("Expected a timestamp on the event")
	}

	waitFor(t, func() bool { return registry.Count() == 1 })
}

func TestResumeKnownSession(t *testing.T) {
	st := newTestStore(t)
	if err := st.MergeContext(context.Background(), "known-session", map[string]any{"a": 1}); err != nil {
		t.Fatalf("MergeContext failed: %v", err)
	}

	srv, _ := newTestServer(t, &stubAssistant{}, st)
	conn := dial(t, srv, "?session=known-session")

	event := readEvent(t, conn)
	if event["sessionId"] != "known-session" {
		t.Errorf("Expected resumed session id, got %v", event["sessionId"])
	}
}

func TestResumeUnknownSessionGetsFreshID(t *testing.T) {
	srv, _ := newTestServer(t, &stubAssistant{}, newTestStore(t))
	conn := dial(t, srv, "?session=never-seen")

	event := readEvent(t, conn)
	if event["sessionId"] == "never-seen" {
		t.Error("Unknown resume token must not be honored")
	}
}

func TestPingPong(t *testing.T) {
	srv, _ := newTestServer(t, &stubAssistant{}, newTestStore(t))
	conn := dial(t, srv, "")
	readEvent(t, conn) // welcome

	send(t, conn, `{"type":"ping"}`)
	event := readEvent(t, conn)
	if event["type"] != "pong" {
		t.Errorf("Expected pong, got %v", event["type"])
	}
}

func TestChatEmitsTypingMessageTyping(t *testing.T) {
	svc := &stubAssistant{replies: map[string]string{"hello": "**hi there**"}}
	srv, _ := newTestServer(t, svc, newTestStore(t))
	conn := dial(t, srv, "")
	readEvent(t, conn) // welcome

	send(t, conn, `{"type":"chat","message":"hello"}`)

	first := readEvent(t, conn)
	if first["type"] != "typing" || first["isTyping"] != true {
		t.Fatalf("Expected typing:true first, got %v", first)
	}

	second := readEvent(t, conn)
	if second["type"] != "message" {
		t.Fatalf("Expected message second, got %v", second)
	}
	if second["message"] != "**hi there**" {
		t.Errorf("Unexpected reply: %v", second["message"])
	}
	if second["isMarkdown"] != true {
		t.Error("Expected isMarkdown:true on message events")
	}

	third := readEvent(t, conn)
	if third["type"] != "typing" || third["isTyping"] != false {
		t.Fatalf("Expected typing:false last, got %v", third)
	}
}

func TestInitProfileSuccess(t *testing.T) {
	svc := &stubAssistant{initProfile: &domain.UserProfile{DisplayName: "Anna", Role: domain.RoleCustomer}}
	srv, _ := newTestServer(t, svc, newTestStore(t))
	conn := dial(t, srv, "")
	readEvent(t, conn) // welcome

	send(t, conn, `{"type":"init_profile","token":"tok-1","context":{"currentPage":"home"}}`)
	event := readEvent(t, conn)
	if event["type"] != "profile_initialized" {
		t.Fatalf("Expected profile_initialized, got %v", event["type"])
	}
	if event["welcome"] != "Welcome!" {
		t.Errorf("Unexpected welcome text: %v", event["welcome"])
	}
	profile, _ := event["profile"].(map[string]any)
	if profile["name"] != "Anna" {
		t.Errorf("Unexpected profile payload: %v", event["profile"])
	}
}

func TestInitProfileFailureEmitsProfileError(t *testing.T) {
	svc := &stubAssistant{initErr: errors.New("store down")}
	srv, _ := newTestServer(t, svc, newTestStore(t))
	conn := dial(t, srv, "")
	readEvent(t, conn) // welcome

	send(t, conn, `{"type":"init_profile"}`)
	event := readEvent(t, conn)
	if event["type"] != "profile_error" {
		t.Fatalf("Expected profile_error, got %v", event["type"])
	}
}

func TestHistoryAndClear(t *testing.T) {
	st := newTestStore(t)
	if err := st.AddMessage(context.Background(), "known-session", domain.Message{
		ID: "m-1", Role: domain.RoleUser, Content: "earlier question", Timestamp: time.Now(),
	}); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}

	srv, _ := newTestServer(t, &stubAssistant{}, st)
	conn := dial(t, srv, "?session=known-session")
	readEvent(t, conn) // welcome

	send(t, conn, `{"type":"get_conversation_history"}`)
	event := readEvent(t, conn)
	if event["type"] != "conversation_history" {
		t.Fatalf("Expected conversation_history, got %v", event["type"])
	}
	messages, _ := event["messages"].([]any)
	if len(messages) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(messages))
	}

	send(t, conn, `{"type":"clear_conversation"}`)
	event = readEvent(t, conn)
	if event["type"] != "conversation_cleared" {
		t.Fatalf("Expected conversation_cleared, got %v", event["type"])
	}

	// History comes back as an empty array, never null.
	send(t, conn, `{"type":"get_conversation_history"}`)
	event = readEvent(t, conn)
	messages, ok := event["messages"].([]any)
	if !ok {
		t.Fatalf("Expected messages array, got %T", event["messages"])
	}
	if len(messages) != 0 {
		t.Errorf("Expected empty history after clear, got %d messages", len(messages))
	}
}

func TestMalformedFrameKeepsConnectionAlive(t *testing.T) {
	srv, _ := newTestServer(t, &stubAssistant{}, newTestStore(t))
	conn := dial(t, srv, "")
	readEvent(t, conn) // welcome

	send(t, conn, `this is not json`)
	event := readEvent(t, conn)
	if event["type"] != "error" || event["error"] != "Invalid message format" {
		t.Fatalf("Expected invalid-format error, got %v", event)
	}

	// The connection is still usable.
	send(t, conn, `{"type":"ping"}`)
	if event := readEvent(t, conn); event["type"] != "pong" {
		t.Errorf("Expected pong after error, got %v", event["type"])
	}
}

func TestUnknownTypeNamesIt(t *testing.T) {
	srv, _ := newTestServer(t, &stubAssistant{}, newTestStore(t))
	conn := dial(t, srv, "")
	readEvent(t, conn) // welcome

	send(t, conn, `{"type":"teleport"}`)
	event := readEvent(t, conn)
	if event["type"] != "error" {
		t.Fatalf("Expected error event, got %v", event["type"])
	}
	if msg, _ := event["error"].(string); !strings.Contains(msg, "teleport") {
		t.Errorf("Expected the unknown type to be named, got %q", msg)
	}
}

func TestHandlerPanicIsContained(t *testing.T) {
	svc := &stubAssistant{panicOn: "crash"}
	srv, _ := newTestServer(t, svc, newTestStore(t))
	conn := dial(t, srv, "")
	readEvent(t, conn) // welcome

	send(t, conn, `{"type":"chat","message":"crash"}`)

	// typing:true goes out before the panic, then typing:false from the
	// deferred send, then the recovery error.
	sawInternalError := false
	for i := 0; i < 3; i++ {
		event := readEvent(t, conn)
		if event["type"] == "error" && event["error"] == "Internal error" {
			sawInternalError = true
		}
	}
	if !sawInternalError {
		t.Fatal("Expected an Internal error event after handler panic")
	}

	// The read loop survived the panic.
	send(t, conn, `{"type":"ping"}`)
	if event := readEvent(t, conn); event["type"] != "pong" {
		t.Errorf("Expected pong after panic, got %v", event["type"])
	}
}

func TestDisconnectKeepsStoreRecord(t *testing.T) {
	st := newTestStore(t)
	srv, registry := newTestServer(t, &stubAssistant{}, st)

	conn := dial(t, srv, "")
	event := readEvent(t, conn)
	sessionID, _ := event["sessionId"].(string)

	// Give the session a store record, as a real chat turn would.
	if err := st.MergeContext(context.Background(), sessionID, map[string]any{"currentPage": "home"}); err != nil {
		t.Fatalf("MergeContext failed: %v", err)
	}

	if err := conn.Close(websocket.StatusNormalClosure, "bye"); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	waitFor(t, func() bool { return registry.Count() == 0 })

	ok, err := st.HasSession(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("HasSession failed: %v", err)
	}
	if !ok {
		t.Error("Expected session record to survive disconnect")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Condition not met within deadline")
}
