package assistant

import (
	"encoding/json"
	"strings"

	"github.com/quangdm/shopchat/internal/domain"
)

// domainDescription anchors every system prompt to the marketplace.
const domainDescription = `You are the shopping assistant for a multi-shop e-commerce marketplace. ` +
	`Shoppers ask about products, prices, promotions, their cart, and checkout. ` +
	`Use the available tools to look up real data instead of guessing. ` +
	`Be concise and friendly, and answer in the language the user writes in.`

const markdownDirective = `Format your answer in lightweight Markdown (bold, lists, short paragraphs).`

// buildSystemPrompt combines the domain description, the session context,
// and the recent history into one system message.
func buildSystemPrompt(sessCtx map[string]any, history []domain.Message) string {
	var b strings.Builder
	b.WriteString(domainDescription)

	if len(sessCtx) > 0 {
		// json.Marshal sorts map keys, keeping the prompt deterministic.
		if data, err := json.Marshal(sessCtx); err == nil {
			b.WriteString("\n\nSession context:\n")
			b.Write(data)
		}
	}

	if len(history) > 0 {
		b.WriteString("\n\nRecent conversation:")
		for _, msg := range history {
			b.WriteString("\n")
			b.WriteString(string(msg.Role))
			b.WriteString(": ")
			b.WriteString(msg.Content)
		}
	}

	b.WriteString("\n\n")
	b.WriteString(markdownDirective)
	return b.String()
}
