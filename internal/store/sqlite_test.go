package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/quangdm/shopchat/internal/domain"
)

func newTestStore(t *testing.T) SessionStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func addMessages(t *testing.T, s SessionStore, sessionID string, contents ...string) {
	t.Helper()
	for i, content := range contents {
		msg := domain.Message{
			ID:      sessionID + "-msg-" + content,
			Role:    domain.RoleUser,
			Content: content,
		}
		if i%2 == 1 {
			msg.Role = domain.RoleAssistant
		}
		if err := s.AddMessage(context.Background(), sessionID, msg); err != nil {
			t.Fatalf("AddMessage(%q) failed: %v", content, err)
		}
	}
}

func TestConversationHistoryOrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	addMessages(t, s, "sess-1", "one", "two", "three", "four", "five")

	history, err := s.ConversationHistory(ctx, "sess-1", 3)
	if err != nil {
		t.Fatalf("ConversationHistory failed: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(history))
	}
	// Most recent 3, oldest first.
	want := []string{"three", "four", "five"}
	for i, msg := range history {
		if msg.Content != want[i] {
			t.Errorf("history[%d] = %q, want %q", i, msg.Content, want[i])
		}
	}
}

func TestConversationHistoryReturnsAllWhenUnderLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	addMessages(t, s, "sess-1", "a", "b", "c")

	history, err := s.ConversationHistory(ctx, "sess-1", 10)
	if err != nil {
		t.Fatalf("ConversationHistory failed: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(history))
	}
	for i, want := range []string{"a", "b", "c"} {
		if history[i].Content != want {
			t.Errorf("history[%d] = %q, want %q", i, history[i].Content, want)
		}
	}
}

func TestConversationHistoryIsolatedPerSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	addMessages(t, s, "sess-1", "a", "b")
	addMessages(t, s, "sess-2", "x")

	history, err := s.ConversationHistory(ctx, "sess-2", 10)
	if err != nil {
		t.Fatalf("ConversationHistory failed: %v", err)
	}
	if len(history) != 1 || history[0].Content != "x" {
		t.Fatalf("Expected only sess-2 messages, got %+v", history)
	}
}

func TestMessageToolCallsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msg := domain.Message{
		ID:      "m1",
		Role:    domain.RoleAssistant,
		Content: "done",
		ToolCalls: []domain.ToolCallRecord{
			{Name: "search-products", Arguments: map[string]any{"query": "shoes"}, Result: "3 results"},
		},
	}
	if err := s.AddMessage(ctx, "sess-1", msg); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}

	history, err := s.ConversationHistory(ctx, "sess-1", 10)
	if err != nil {
		t.Fatalf("ConversationHistory failed: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(history))
	}
	if len(history[0].ToolCalls) != 1 {
		t.Fatalf("Expected 1 tool call, got %d", len(history[0].ToolCalls))
	}
	if history[0].ToolCalls[0].Name != "search-products" {
		t.Errorf("Tool call name = %q", history[0].ToolCalls[0].Name)
	}
	if history[0].ToolCalls[0].Result != "3 results" {
		t.Errorf("Tool call result = %q", history[0].ToolCalls[0].Result)
	}
}

func TestMergeContextDisjointKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.MergeContext(ctx, "sess-1", map[string]any{"a": float64(1)}); err != nil {
		t.Fatalf("MergeContext failed: %v", err)
	}
	if err := s.MergeContext(ctx, "sess-1", map[string]any{"b": float64(2)}); err != nil {
		t.Fatalf("MergeContext failed: %v", err)
	}

	got, err := s.Context(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Context failed: %v", err)
	}
	if got["a"] != float64(1) || got["b"] != float64(2) {
		t.Errorf("Expected {a:1, b:2}, got %v", got)
	}
}

func TestMergeContextLastWriteWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.MergeContext(ctx, "sess-1", map[string]any{"a": float64(1)}); err != nil {
		t.Fatalf("MergeContext failed: %v", err)
	}
	if err := s.MergeContext(ctx, "sess-1", map[string]any{"a": float64(2)}); err != nil {
		t.Fatalf("MergeContext failed: %v", err)
	}

	got, err := s.Context(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Context failed: %v", err)
	}
	if got["a"] != float64(2) {
		t.Errorf("Expected a=2, got %v", got["a"])
	}
	if len(got) != 1 {
		t.Errorf("Expected exactly 1 key, got %v", got)
	}
}

func TestContextForUnknownSessionIsEmpty(t *testing.T) {
	s := newTestStore(t)

	got, err := s.Context(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Context failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Expected empty context, got %v", got)
	}
}

func TestSaveProfileReplacesWholesale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := &domain.UserProfile{ID: "u1", DisplayName: "An", Email: "an@example.com", Role: domain.RoleCustomer}
	if err := s.SaveProfile(ctx, "sess-1", first); err != nil {
		t.Fatalf("SaveProfile failed: %v", err)
	}

	// Second save omits the email; the stored profile must not keep it.
	second := &domain.UserProfile{Role: domain.RoleGuest, IsGuest: true}
	if err := s.SaveProfile(ctx, "sess-1", second); err != nil {
		t.Fatalf("SaveProfile failed: %v", err)
	}

	got, err := s.Profile(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Profile failed: %v", err)
	}
	if got == nil {
		t.Fatal("Expected profile, got nil")
	}
	if !got.IsGuest || got.Role != domain.RoleGuest {
		t.Errorf("Expected guest profile, got %+v", got)
	}
	if got.Email != "" || got.DisplayName != "" {
		t.Errorf("Expected old fields dropped, got %+v", got)
	}
}

func TestClearConversationKeepsSessionValid(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	addMessages(t, s, "sess-1", "a", "b", "c")
	if err := s.MergeContext(ctx, "sess-1", map[string]any{"page": "home"}); err != nil {
		t.Fatalf("MergeContext failed: %v", err)
	}

	if err := s.ClearConversation(ctx, "sess-1"); err != nil {
		t.Fatalf("ClearConversation failed: %v", err)
	}

	history, err := s.ConversationHistory(ctx, "sess-1", 10)
	if err != nil {
		t.Fatalf("ConversationHistory failed: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("Expected empty history, got %d messages", len(history))
	}

	sessCtx, err := s.Context(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Context failed: %v", err)
	}
	if len(sessCtx) != 0 {
		t.Errorf("Expected empty context, got %v", sessCtx)
	}

	exists, err := s.HasSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("HasSession failed: %v", err)
	}
	if !exists {
		t.Error("Expected session to survive clear")
	}

	// The session must still accept new messages.
	addMessages(t, s, "sess-1", "after-clear")
	history, err = s.ConversationHistory(ctx, "sess-1", 10)
	if err != nil {
		t.Fatalf("ConversationHistory failed: %v", err)
	}
	if len(history) != 1 || history[0].Content != "after-clear" {
		t.Errorf("Expected fresh history after clear, got %+v", history)
	}
}

func TestRemoveSessionDeletesEverything(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	addMessages(t, s, "sess-1", "a")
	if err := s.SaveProfile(ctx, "sess-1", domain.GuestProfile()); err != nil {
		t.Fatalf("SaveProfile failed: %v", err)
	}

	if err := s.RemoveSession(ctx, "sess-1"); err != nil {
		t.Fatalf("RemoveSession failed: %v", err)
	}

	exists, err := s.HasSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("HasSession failed: %v", err)
	}
	if exists {
		t.Error("Expected session to be gone")
	}

	history, err := s.ConversationHistory(ctx, "sess-1", 10)
	if err != nil {
		t.Fatalf("ConversationHistory failed: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("Expected no messages, got %d", len(history))
	}
}

func TestStatsCountsSessionsAndMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	addMessages(t, s, "sess-1", "a", "b")
	addMessages(t, s, "sess-2", "x")

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Sessions != 2 {
		t.Errorf("Expected 2 sessions, got %d", stats.Sessions)
	}
	if stats.Messages != 3 {
		t.Errorf("Expected 3 messages, got %d", stats.Messages)
	}
}

func TestCleanupExpiredSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	addMessages(t, s, "sess-1", "a")

	// A zero TTL makes every session expired.
	removed, err := s.CleanupExpiredSessions(ctx, -time.Second)
	if err != nil {
		t.Fatalf("CleanupExpiredSessions failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Expected 1 removed session, got %d", removed)
	}

	exists, err := s.HasSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("HasSession failed: %v", err)
	}
	if exists {
		t.Error("Expected expired session to be removed")
	}
}
