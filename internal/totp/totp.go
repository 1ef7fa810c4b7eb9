package totp

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base32"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
)

const (
	// SecretBytes is the raw entropy of a generated shared secret (160 bits).
	SecretBytes = 20
	// Period is the length of one time step.
	Period = 30 * time.Second
	// CodeDigits is the length of a derived code.
	CodeDigits = 6
)

// ErrInvalidSecret is returned when a secret is not decodable base32 or is too short.
var ErrInvalidSecret = errors.New("invalid totp secret")

var secretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateSecret returns a fresh base32 (unpadded) shared secret suitable
// for authenticator apps.
func GenerateSecret() (string, error) {
	raw := make([]byte, SecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return secretEncoding.EncodeToString(raw), nil
}

// ValidateSecret reports whether secret decodes to at least SecretBytes bytes.
func ValidateSecret(secret string) error {
	normalized := strings.ToUpper(strings.TrimSpace(secret))
	normalized = strings.TrimRight(normalized, "=")
	raw, err := secretEncoding.DecodeString(normalized)
	if err != nil || len(raw) < SecretBytes {
		return ErrInvalidSecret
	}
	return nil
}

// ProvisioningURI builds the otpauth:// URI rendered as a QR code during setup.
func ProvisioningURI(issuer, account, secret string) string {
	label := url.PathEscape(issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", issuer)
	v.Set("period", strconv.Itoa(int(Period/time.Second)))
	v.Set("digits", strconv.Itoa(CodeDigits))
	v.Set("algorithm", "SHA1")

	return "otpauth://totp/" + label + "?" + v.Encode()
}

// Step returns the time-step counter containing now.
func Step(now time.Time) uint64 {
	unix := now.Unix()
	if unix < 0 {
		return 0
	}
	return uint64(unix) / uint64(Period/time.Second)
}

// DeriveCode computes the 6-digit code for secret at the given time step.
func DeriveCode(secret string, step uint64) (string, error) {
	code, err := hotp.GenerateCodeCustom(secret, step, hotp.ValidateOpts{
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", ErrInvalidSecret
	}
	return code, nil
}

// VerifyCode checks candidate against the codes for the current step and
// drift steps on either side.
func VerifyCode(candidate, secret string, now time.Time, drift uint) bool {
	_, ok := MatchStep(candidate, secret, now, drift)
	return ok
}

// MatchStep is VerifyCode that also reports which step candidate belongs to,
// so callers can refuse any step at or before the last accepted one. Every
// offset is evaluated with a constant-time comparison and the matching step
// is selected with a mask; when two steps share a code the later one wins.
func MatchStep(candidate, secret string, now time.Time, drift uint) (uint64, bool) {
	if !IsValidCodeFormat(candidate) {
		return 0, false
	}

	base := Step(now)
	matched := 0
	var step uint64
	for offset := -int64(drift); offset <= int64(drift); offset++ {
		if offset < 0 && uint64(-offset) > base {
			continue
		}
		at := uint64(int64(base) + offset)
		expected, err := DeriveCode(secret, at)
		if err != nil {
			return 0, false
		}
		eq := subtle.ConstantTimeCompare([]byte(expected), []byte(candidate))
		mask := -uint64(eq)
		step = (at & mask) | (step &^ mask)
		matched |= eq
	}
	if matched != 1 {
		return 0, false
	}
	return step, true
}

// IsValidCodeFormat reports whether code is exactly CodeDigits ASCII digits.
func IsValidCodeFormat(code string) bool {
	return len(code) == CodeDigits && isDigits(code)
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
