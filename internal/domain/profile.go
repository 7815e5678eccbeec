package domain

// User roles recognized by the welcome flow.
const (
	RoleGuest     = "guest"
	RoleAdmin     = "admin"
	RoleShopOwner = "shop-owner"
	RoleCustomer  = "user"
)

// UserProfile describes the user bound to a session. A profile is always
// replaced wholesale, never partially updated.
type UserProfile struct {
	ID          string `json:"id,omitempty"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"name,omitempty"`
	Role        string `json:"role"`
	IsGuest     bool   `json:"isGuest"`
	AccessToken string `json:"-"`
}

// GuestProfile returns the deterministic fallback profile used when the
// profile lookup fails or returns unparseable data.
func GuestProfile() *UserProfile {
	return &UserProfile{
		Role:    RoleGuest,
		IsGuest: true,
	}
}

// CartItem is a single line item in a user's cart snapshot.
type CartItem struct {
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// CartInfo is the cart snapshot fetched during profile initialization.
type CartInfo struct {
	ItemCount int        `json:"itemCount"`
	Items     []CartItem `json:"items,omitempty"`
	Total     float64    `json:"total"`
}

// HasItems reports whether the cart contains at least one line item.
func (c *CartInfo) HasItems() bool {
	return c != nil && c.ItemCount > 0 && len(c.Items) > 0
}
