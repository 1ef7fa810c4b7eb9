package goLinkAuth

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/goLinkAuth/password"
)

// Config holds every tunable of an [Engine]. Build it from [DefaultConfig]
// or [LoadConfig] and treat it as immutable once passed to the [Builder].
type Config struct {
	MagicLink    MagicLinkConfig
	SecondFactor SecondFactorConfig
	Policy       PolicyConfig
	Session      SessionConfig
	JWT          JWTConfig
	Password     PasswordConfig
	RateLimit    RateLimitConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
}

/*
====================================
MAGIC LINK CONFIG
====================================
*/

// MagicLinkConfig controls issued login links.
type MagicLinkConfig struct {
	TokenTTL   time.Duration
	TokenBytes int

	// BaseURL is the consume endpoint. "token" and "pid" query parameters
	// are appended to it.
	BaseURL string

	// AllowedRedirects lists path prefixes a post-login redirect may start
	// with. Absolute URLs are always rejected. Empty allows any local path.
	AllowedRedirects []string
}

/*
====================================
SECOND FACTOR CONFIG
====================================
*/

// SecondFactorConfig controls TOTP enrollment and the pending challenge.
type SecondFactorConfig struct {
	Issuer             string
	Drift              uint
	BackupCodeCount    int
	PendingTTL         time.Duration
	MaxPendingAttempts int
	RedisPrefix        string
}

/*
====================================
POLICY CONFIG
====================================
*/

// PolicyConfig is the read-only policy consulted by the login state machine.
type PolicyConfig struct {
	// RequiredRoles are roles that must configure a second factor.
	RequiredRoles []string
	GracePeriod   time.Duration

	LockoutThreshold int
	LockoutDuration  time.Duration

	// EmergencyDisable is the deployment-time override. It is OR'ed with the
	// runtime flag stored by SetEmergencyOverride.
	EmergencyDisable bool

	// AdminRoles may toggle the runtime override and are counted for the
	// sole-administrator grace bypass.
	AdminRoles []string
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls server-side sessions.
type SessionConfig struct {
	RedisPrefix string
	TTL         time.Duration

	// BindFingerprint rejects a session presented from a different
	// ip/user-agent pair than the one it was created with.
	BindFingerprint bool
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls access tokens. A token never outlives its session:
// the effective lifetime is min(AccessTTL, Session.TTL).
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte `mapstructure:"-"`
	PublicKey     []byte `mapstructure:"-"`
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds argon2id parameters for the password first factor.
type PasswordConfig struct {
	Enabled     bool
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// HasherParams converts c to the argon2id parameters of [password.NewHasher].
func (c PasswordConfig) HasherParams() password.Params {
	return password.Params{
		Memory:      c.Memory,
		Time:        c.Time,
		Parallelism: c.Parallelism,
		SaltLength:  c.SaltLength,
		KeyLength:   c.KeyLength,
	}
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig controls Redis fixed-window throttles. A zero max disables
// the matching throttle.
type RateLimitConfig struct {
	EnableIPThrottle       bool
	MaxMagicLinkRequests   int
	MaxMagicLinkRequestsIP int
	MagicLinkWindow        time.Duration
	MaxLoginAttempts       int
	LoginCooldownDuration  time.Duration
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

func defaultConfig() Config {
	return Config{
		MagicLink: MagicLinkConfig{
			TokenTTL:   15 * time.Minute,
			TokenBytes: 32,
		},
		SecondFactor: SecondFactorConfig{
			Issuer:             "goLinkAuth",
			Drift:              1,
			BackupCodeCount:    10,
			PendingTTL:         5 * time.Minute,
			MaxPendingAttempts: 5,
			RedisPrefix:        "lpf",
		},
		Policy: PolicyConfig{
			GracePeriod:      7 * 24 * time.Hour,
			LockoutThreshold: 5,
			LockoutDuration:  15 * time.Minute,
			AdminRoles:       []string{"admin"},
		},
		Session: SessionConfig{
			RedisPrefix:     "ls",
			TTL:             12 * time.Hour,
			BindFingerprint: false,
		},
		JWT: JWTConfig{
			AccessTTL:     12 * time.Hour,
			SigningMethod: "ed25519",
			Issuer:        "goLinkAuth",
		},
		Password: PasswordConfig{
			Enabled:     true,
			Memory:      65536,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		RateLimit: RateLimitConfig{
			EnableIPThrottle:       true,
			MaxMagicLinkRequests:   5,
			MaxMagicLinkRequestsIP: 20,
			MagicLinkWindow:        15 * time.Minute,
			MaxLoginAttempts:       5,
			LoginCooldownDuration:  15 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

// DefaultConfig returns the defaults used by [New]. JWT keys are not set.
func DefaultConfig() Config {
	return defaultConfig()
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.MagicLink.AllowedRedirects = cloneStrings(cfg.MagicLink.AllowedRedirects)
	out.Policy.RequiredRoles = cloneStrings(cfg.Policy.RequiredRoles)
	out.Policy.AdminRoles = cloneStrings(cfg.Policy.AdminRoles)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func cloneStrings(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid field of c.
func (c *Config) Validate() error {
	// Magic link
	if c.MagicLink.TokenTTL <= 0 {
		return errors.New("MagicLink TokenTTL must be > 0")
	}
	if c.MagicLink.TokenTTL > 24*time.Hour {
		return errors.New("MagicLink TokenTTL must be <= 24h")
	}
	if c.MagicLink.TokenBytes < 16 {
		return errors.New("MagicLink TokenBytes must be >= 16")
	}
	if c.MagicLink.BaseURL == "" {
		return errors.New("MagicLink BaseURL is required")
	}
	u, err := url.Parse(c.MagicLink.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("MagicLink BaseURL must be an absolute URL")
	}
	for _, p := range c.MagicLink.AllowedRedirects {
		if !strings.HasPrefix(p, "/") {
			return errors.New("MagicLink AllowedRedirects entries must start with /")
		}
	}

	// Second factor
	if c.SecondFactor.Drift > 3 {
		return errors.New("SecondFactor Drift must be <= 3")
	}
	if c.SecondFactor.BackupCodeCount < 1 || c.SecondFactor.BackupCodeCount > 32 {
		return errors.New("SecondFactor BackupCodeCount must be between 1 and 32")
	}
	if c.SecondFactor.PendingTTL <= 0 {
		return errors.New("SecondFactor PendingTTL must be > 0")
	}
	if c.SecondFactor.MaxPendingAttempts < 0 {
		return errors.New("SecondFactor MaxPendingAttempts must be >= 0")
	}
	if strings.TrimSpace(c.SecondFactor.Issuer) == "" {
		return errors.New("SecondFactor Issuer is required")
	}

	// Policy
	if c.Policy.LockoutThreshold < 1 {
		return errors.New("Policy LockoutThreshold must be >= 1")
	}
	if c.Policy.LockoutDuration <= 0 {
		return errors.New("Policy LockoutDuration must be > 0")
	}
	if c.Policy.GracePeriod < 0 {
		return errors.New("Policy GracePeriod must be >= 0")
	}
	for _, r := range c.Policy.RequiredRoles {
		if strings.TrimSpace(r) == "" {
			return errors.New("Policy RequiredRoles contains an empty role")
		}
	}
	if len(c.Policy.AdminRoles) == 0 {
		return errors.New("Policy AdminRoles must not be empty")
	}

	// Session
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}
	if c.Session.RedisPrefix == "" || c.Session.RedisPrefix == c.SecondFactor.RedisPrefix {
		return errors.New("Session RedisPrefix must be set and differ from SecondFactor RedisPrefix")
	}

	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.SigningMethod != "ed25519" && c.JWT.SigningMethod != "hs256" {
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PrivateKey) == 0 {
		return errors.New("ed25519 requires PrivateKey")
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PublicKey) == 0 {
		return errors.New("ed25519 requires PublicKey")
	}
	if c.JWT.SigningMethod == "hs256" && len(c.JWT.PrivateKey) < 32 {
		return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
	}

	// Password
	if c.Password.Enabled {
		if c.Password.Memory < 8*1024 {
			return errors.New("Password Memory must be >= 8192 KB")
		}
		if c.Password.Time < 1 {
			return errors.New("Password Time must be >= 1")
		}
		if c.Password.Parallelism < 1 {
			return errors.New("Password Parallelism must be >= 1")
		}
		if c.Password.SaltLength < 16 {
			return errors.New("Password SaltLength must be >= 16")
		}
		if c.Password.KeyLength < 16 {
			return errors.New("Password KeyLength must be >= 16")
		}
	}

	// Rate limits
	if c.RateLimit.MaxMagicLinkRequests < 0 || c.RateLimit.MaxMagicLinkRequestsIP < 0 || c.RateLimit.MaxLoginAttempts < 0 {
		return errors.New("RateLimit maxima must be >= 0")
	}
	if (c.RateLimit.MaxMagicLinkRequests > 0 || c.RateLimit.MaxMagicLinkRequestsIP > 0) && c.RateLimit.MagicLinkWindow <= 0 {
		return errors.New("RateLimit MagicLinkWindow must be > 0")
	}
	if c.RateLimit.MaxLoginAttempts > 0 && c.RateLimit.LoginCooldownDuration <= 0 {
		return errors.New("RateLimit LoginCooldownDuration must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	return nil
}
