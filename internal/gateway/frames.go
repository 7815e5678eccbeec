package gateway

import (
	"time"

	"github.com/quangdm/shopchat/internal/domain"
)

// inboundFrame is the tagged union read from the client. Type selects the
// handler; the remaining fields are per-type payloads.
type inboundFrame struct {
	Type    string         `json:"type"`
	Message string         `json:"message,omitempty"`
	Token   string         `json:"token,omitempty"`
	Context map[string]any `json:"context,omitempty"`
	Limit   int            `json:"limit,omitempty"`
}

// eventBase carries the fields every outbound event shares.
type eventBase struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

func newBase(eventType string) eventBase {
	return eventBase{Type: eventType, Timestamp: time.Now().UTC().Format(time.RFC3339)}
}

type welcomeEvent struct {
	eventBase
	SessionID string `json:"sessionId"`
}

type profileInitializedEvent struct {
	eventBase
	Profile *domain.UserProfile `json:"profile"`
	Welcome string              `json:"welcome"`
	Cart    *domain.CartInfo    `json:"cart,omitempty"`
}

type profileErrorEvent struct {
	eventBase
	Error string `json:"error"`
}

type messageEvent struct {
	eventBase
	Message    string `json:"message"`
	IsMarkdown bool   `json:"isMarkdown"`
}

type typingEvent struct {
	eventBase
	IsTyping bool `json:"isTyping"`
}

type historyEvent struct {
	eventBase
	Messages []domain.Message `json:"messages"`
}

type clearedEvent struct {
	eventBase
}

type pongEvent struct {
	eventBase
}

type errorEvent struct {
	eventBase
	Error string `json:"error"`
}
