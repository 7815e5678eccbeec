// Package assistant implements the profile initialization flow and the
// query orchestrator: prompt assembly, the multi-round tool-calling
// loop, and the failure degradation ladder.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quangdm/shopchat/internal/audit"
	"github.com/quangdm/shopchat/internal/domain"
	"github.com/quangdm/shopchat/internal/llm"
	"github.com/quangdm/shopchat/internal/metrics"
	"github.com/quangdm/shopchat/internal/store"
)

// ToolBridge is the tool-server surface consumed by the orchestrator.
type ToolBridge interface {
	Tools() []domain.ToolDescriptor
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// Service drives profile initialization and chat turns for all sessions.
type Service struct {
	store        store.SessionStore
	model        llm.ChatModel
	bridge       ToolBridge // nil when tool mode is disabled
	audit        *audit.Logger
	historyLimit int
}

// NewService creates the assistant service. bridge may be nil to disable
// tool mode entirely.
func NewService(st store.SessionStore, model llm.ChatModel, bridge ToolBridge, log *audit.Logger, historyLimit int) *Service {
	if historyLimit <= 0 {
		historyLimit = 10
	}
	return &Service{
		store:        st,
		model:        model,
		bridge:       bridge,
		audit:        log,
		historyLimit: historyLimit,
	}
}

// ProfileResult is the outcome of InitProfile, handed to the gateway for
// its profile_initialized event.
type ProfileResult struct {
	Profile *domain.UserProfile `json:"profile"`
	Welcome string              `json:"welcome"`
	Cart    *domain.CartInfo    `json:"cart,omitempty"`
}

// InitProfile builds the session's user profile and cart snapshot,
// persists them, and synthesizes the personalized welcome message.
func (s *Service) InitProfile(ctx context.Context, sessionID, token string, clientCtx map[string]any) (*ProfileResult, error) {
	profile := s.fetchProfile(ctx, sessionID, token)
	if token != "" {
		profile.AccessToken = token
	}

	var cart *domain.CartInfo
	if token != "" {
		cart = s.fetchCart(ctx, sessionID, token)
	}

	if err := s.store.SaveProfile(ctx, sessionID, profile); err != nil {
		return nil, fmt.Errorf("save profile: %w", err)
	}

	merged := map[string]any{}
	for k, v := range clientCtx {
		merged[k] = v
	}
	if cart != nil {
		merged["cartItemCount"] = cart.ItemCount
		merged["cartTotal"] = cart.Total
	}
	if len(merged) > 0 {
		if err := s.store.MergeContext(ctx, sessionID, merged); err != nil {
			return nil, fmt.Errorf("merge context: %w", err)
		}
	}

	welcome := WelcomeMessage(profile, merged, cart, time.Now())

	if err := s.store.AddMessage(ctx, sessionID, domain.Message{
		ID:        uuid.NewString(),
		Role:      domain.RoleAssistant,
		Content:   welcome,
		Timestamp: time.Now(),
	}); err != nil {
		return nil, fmt.Errorf("persist welcome message: %w", err)
	}

	s.audit.Log(audit.Event{SessionID: sessionID, Kind: audit.KindProfileInit, Detail: profile.Role})

	return &ProfileResult{Profile: profile, Welcome: welcome, Cart: cart}, nil
}

// fetchProfile calls get-user-profile through the bridge. Any failure,
// bridge error or unparseable payload alike, degrades to the
// deterministic guest profile.
func (s *Service) fetchProfile(ctx context.Context, sessionID, token string) *domain.UserProfile {
	if s.bridge == nil {
		return domain.GuestProfile()
	}

	args := map[string]any{}
	if token != "" {
		args["accessToken"] = token
	}

	raw, err := s.bridge.CallTool(ctx, "get-user-profile", args)
	if err != nil {
		slog.Warn("Profile lookup failed, using guest profile", "session_id", sessionID, "error", err)
		return domain.GuestProfile()
	}

	var profile domain.UserProfile
	if err := json.Unmarshal([]byte(raw), &profile); err != nil {
		slog.Warn("Profile payload unparseable, using guest profile", "session_id", sessionID, "error", err)
		return domain.GuestProfile()
	}
	if profile.Role == "" {
		profile.Role = domain.RoleCustomer
	}
	return &profile
}

// fetchCart calls get-cart. Failure here is tolerated: the cart is simply
// omitted from the welcome flow.
func (s *Service) fetchCart(ctx context.Context, sessionID, token string) *domain.CartInfo {
	if s.bridge == nil {
		return nil
	}

	raw, err := s.bridge.CallTool(ctx, "get-cart", map[string]any{"accessToken": token})
	if err != nil {
		slog.Warn("Cart lookup failed, omitting cart info", "session_id", sessionID, "error", err)
		return nil
	}

	var cart domain.CartInfo
	if err := json.Unmarshal([]byte(raw), &cart); err != nil {
		slog.Warn("Cart payload unparseable, omitting cart info", "session_id", sessionID, "error", err)
		return nil
	}
	return &cart
}

// Respond runs one chat turn for a session and returns the final
// assistant text. It never returns an error: the degradation ladder
// guarantees a usable reply from one of its tiers.
func (s *Service) Respond(ctx context.Context, sessionID, query string, clientCtx map[string]any) string {
	history, err := s.store.ConversationHistory(ctx, sessionID, s.historyLimit)
	if err != nil {
		slog.Warn("Failed to load history", "session_id", sessionID, "error", err)
	}

	if len(clientCtx) > 0 {
		if err := s.store.MergeContext(ctx, sessionID, clientCtx); err != nil {
			slog.Warn("Failed to merge client context", "session_id", sessionID, "error", err)
		}
	}

	sessCtx, err := s.store.Context(ctx, sessionID)
	if err != nil {
		slog.Warn("Failed to load context", "session_id", sessionID, "error", err)
		sessCtx = map[string]any{}
	}

	if err := s.store.AddMessage(ctx, sessionID, domain.Message{
		ID:              uuid.NewString(),
		Role:            domain.RoleUser,
		Content:         query,
		Timestamp:       time.Now(),
		ContextSnapshot: clientCtx,
	}); err != nil {
		slog.Warn("Failed to persist user message", "session_id", sessionID, "error", err)
	}
	s.audit.Log(audit.Event{SessionID: sessionID, Kind: audit.KindUserMessage, Content: query})

	system := buildSystemPrompt(sessCtx, history)

	var tools []domain.ToolDescriptor
	if s.bridge != nil {
		tools = s.bridge.Tools()
	}

	text, records, err := s.generate(ctx, sessionID, system, query, tools)
	if err != nil {
		// Tier 2: the model rejected tool use. Retry the whole query
		// context-only with the same prompt content.
		if errors.Is(err, llm.ErrToolUseUnsupported) {
			slog.Warn("Model rejected tool use, retrying context-only", "session_id", sessionID, "error", err)
			metrics.Fallbacks.WithLabelValues("context_only").Inc()
			s.audit.Log(audit.Event{SessionID: sessionID, Kind: audit.KindFallback, Detail: "context_only"})
			records = nil
			text, err = s.generateContextOnly(ctx, system, query)
		}

		// Tier 3: static canned response. No I/O, cannot fail.
		if err != nil {
			slog.Error("All generation tiers failed, using canned response", "session_id", sessionID, "error", err)
			metrics.Fallbacks.WithLabelValues("canned").Inc()
			s.audit.Log(audit.Event{SessionID: sessionID, Kind: audit.KindFallback, Detail: "canned"})
			records = nil
			text = CannedResponse(query)
		}
	}

	if err := s.store.AddMessage(ctx, sessionID, domain.Message{
		ID:        uuid.NewString(),
		Role:      domain.RoleAssistant,
		Content:   text,
		Timestamp: time.Now(),
		ToolCalls: records,
	}); err != nil {
		slog.Warn("Failed to persist assistant message", "session_id", sessionID, "error", err)
	}
	s.audit.Log(audit.Event{SessionID: sessionID, Kind: audit.KindAssistantReply, Content: text})

	return text
}

// generate runs the preferred, tool-enabled path: one completion, the
// tool-call loop, and a tool-free wrap-up completion when tools fired.
func (s *Service) generate(ctx context.Context, sessionID, system, query string, tools []domain.ToolDescriptor) (string, []domain.ToolCallRecord, error) {
	first, err := s.model.Complete(ctx, llm.Request{
		System:   system,
		Messages: []llm.Message{{Role: domain.RoleUser, Content: query}},
		Tools:    tools,
	})
	if err != nil {
		return "", nil, err
	}

	if len(first.ToolCalls) == 0 {
		return first.Text, nil, nil
	}

	messages := []llm.Message{{Role: domain.RoleUser, Content: query}}
	records := make([]domain.ToolCallRecord, 0, len(first.ToolCalls))

	for _, call := range first.ToolCalls {
		args, result := s.executeToolCall(ctx, sessionID, call)
		records = append(records, domain.ToolCallRecord{
			Name:      call.Name,
			Arguments: args,
			Result:    result,
		})
		// One assistant/tool-result pair per call, keyed by call id.
		messages = append(messages,
			llm.Message{Role: domain.RoleAssistant, ToolCalls: []llm.ToolCall{call}},
			llm.Message{Role: domain.RoleUser, ToolCallID: call.ID, Content: result},
		)
	}

	final, err := s.model.Complete(ctx, llm.Request{System: system, Messages: messages})
	if err != nil {
		return "", nil, err
	}
	return final.Text, records, nil
}

// executeToolCall parses the call's JSON arguments and invokes the
// bridge. Every failure is converted into a textual tool result so one
// bad call never aborts the loop.
func (s *Service) executeToolCall(ctx context.Context, sessionID string, call llm.ToolCall) (map[string]any, string) {
	args := map[string]any{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			slog.Warn("Tool call has invalid arguments", "session_id", sessionID, "tool", call.Name, "error", err)
			return nil, fmt.Sprintf("Error: invalid tool arguments: %v", err)
		}
	}

	result, err := s.bridge.CallTool(ctx, call.Name, args)
	if err != nil {
		slog.Warn("Tool call failed", "session_id", sessionID, "tool", call.Name, "error", err)
		s.audit.Log(audit.Event{SessionID: sessionID, Kind: audit.KindToolCall, Tool: call.Name, Detail: err.Error()})
		return args, fmt.Sprintf("Error: %v", err)
	}

	s.audit.Log(audit.Event{SessionID: sessionID, Kind: audit.KindToolCall, Tool: call.Name, Content: result})
	return args, result
}

// generateContextOnly is the tool-free fallback path: same prompt
// content, single completion.
func (s *Service) generateContextOnly(ctx context.Context, system, query string) (string, error) {
	res, err := s.model.Complete(ctx, llm.Request{
		System:   system,
		Messages: []llm.Message{{Role: domain.RoleUser, Content: query}},
	})
	if err != nil {
		return "", err
	}
	return res.Text, nil
}
