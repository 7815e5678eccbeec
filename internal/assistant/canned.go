package assistant

import "strings"

// Canned replies used when every generation tier has failed. Selection is
// a keyword match on the query; this tier performs no I/O and cannot fail.
const (
	cannedAbout = `We're a multi-shop marketplace where independent sellers list their products side by side. ` +
		`I'm the shopping assistant — I can search products, compare prices, and help you through checkout.`

	cannedContact = `You can reach the team through the **Contact** page, or just tell me what went wrong ` +
		`and I'll point you to the right place.`

	cannedDefault = `I'm having trouble reaching my brain right now, but here's what I can normally help with:
- Search products across every shop
- Check prices, stock, and promotions
- Manage your cart and walk you through checkout

Please try again in a moment.`
)

// CannedResponse selects a static reply for the query.
func CannedResponse(query string) string {
	q := strings.ToLower(query)
	switch {
	case strings.Contains(q, "about") || strings.Contains(q, "who are you"):
		return cannedAbout
	case strings.Contains(q, "contact") || strings.Contains(q, "support") || strings.Contains(q, "help me reach"):
		return cannedContact
	default:
		return cannedDefault
	}
}
