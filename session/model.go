package session

// Session is the server-side record behind an issued access token.
type Session struct {
	SessionID   string
	PrincipalID string

	// Method is the first factor that opened the session ("password" or "magic_link").
	Method string

	SecondFactorVerified bool
	EmergencyBypass      bool

	FingerprintHash [32]byte

	CreatedAt int64
	ExpiresAt int64
}
