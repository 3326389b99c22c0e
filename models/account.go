package models

// AccountState holds the device identity and session tokens that are
// persisted between runs. The device serial is generated exactly once and
// survives logout; the challenge pair is kept so a new session can be
// obtained without re-challenging.
type AccountState struct {
	DeviceSerial    string `json:"deviceSerial"`
	DeviceName      string `json:"deviceName"`
	ChallengeID     string `json:"challengeId"`
	ChallengeSecret string `json:"challengeSecret"`

	// CookieToken authenticates requests against the tenant's web endpoints.
	CookieToken string `json:"cookieToken"`

	// BearerToken is the JWT presented on catalog API calls.
	BearerToken string `json:"bearerToken"`
}
