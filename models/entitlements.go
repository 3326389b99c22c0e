package models

// Entitlements describes what an account has purchased. It is fetched per
// catalog operation that needs it since it can change between sessions.
type Entitlements struct {
	Products []string `json:"products"`
	Offers   []string `json:"offers"`
	Assets   []string `json:"assets"`
}

// OfferSet returns the owned offers as a set for entitlement checks. The
// result is never nil, so an account without offers yields an empty set
// rather than "no entitlement context".
func (e Entitlements) OfferSet() map[string]bool {
	offers := make(map[string]bool, len(e.Offers))
	for _, id := range e.Offers {
		offers[id] = true
	}
	return offers
}

// Device is a device registered on the account.
type Device struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Model    string `json:"model"`
	Serial   string `json:"serial"`
	LastSeen string `json:"lastSeen"`
}
