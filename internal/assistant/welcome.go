package assistant

import (
	"fmt"
	"strings"
	"time"

	"github.com/quangdm/shopchat/internal/domain"
)

// capabilityList is the fixed feature summary appended to every welcome
// message.
const capabilityList = `Here's what I can help with:
- Search products across every shop
- Check prices, stock, and promotions
- Manage your cart and walk you through checkout
- Answer questions about shops and orders`

// WelcomeMessage synthesizes the personalized greeting shown after
// profile initialization. It is a pure function of its inputs: identical
// (profile, context, cart, now) always produce identical output.
func WelcomeMessage(profile *domain.UserProfile, sessCtx map[string]any, cart *domain.CartInfo, now time.Time) string {
	var b strings.Builder

	b.WriteString(timeGreeting(now.Hour()))
	if profile != nil && profile.DisplayName != "" {
		b.WriteString(", **")
		b.WriteString(profile.DisplayName)
		b.WriteString("**!")
	} else {
		b.WriteString("! Welcome to the shop.")
	}
	b.WriteString("\n\n")

	b.WriteString(roleBlurb(profile))
	b.WriteString("\n")

	if block := cartBlock(profile, cart); block != "" {
		b.WriteString("\n")
		b.WriteString(block)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(capabilityList)

	if page, ok := sessCtx["currentPage"].(string); ok && page != "" {
		b.WriteString("\n\nI can see you're on the ")
		b.WriteString(page)
		b.WriteString(" page right now — feel free to ask about it.")
	}

	return b.String()
}

func timeGreeting(hour int) string {
	switch {
	case hour < 12:
		return "Good morning"
	case hour < 18:
		return "Good afternoon"
	default:
		return "Good evening"
	}
}

func roleBlurb(profile *domain.UserProfile) string {
	if profile == nil || profile.IsGuest {
		return "You're browsing as a guest. Sign in to see your orders and keep a cart across visits."
	}
	switch profile.Role {
	case domain.RoleAdmin:
		return "You're signed in as an administrator. Ask me about shops, users, or platform activity."
	case domain.RoleShopOwner:
		return "You're signed in as a shop owner. Ask me about your products, orders, or revenue."
	default:
		return "Ask me anything about products, your orders, or your cart."
	}
}

// cartBlock renders the cart summary. Guests get nothing; authenticated
// users get either an item summary or an empty-cart nudge.
func cartBlock(profile *domain.UserProfile, cart *domain.CartInfo) string {
	if profile == nil || profile.IsGuest {
		return ""
	}
	if cart.HasItems() {
		example := cart.Items[0]
		return fmt.Sprintf(
			"You have %d item(s) in your cart, including *%s*. Ask me about your \"cart\" or \"checkout\" whenever you're ready.",
			cart.ItemCount, example.Name,
		)
	}
	return "Your cart is empty — tell me what you're looking for and I'll track it down."
}
