package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// DefaultMaxPasswordBytes bounds the input handed to argon2 when
// Params.MaxPasswordBytes is zero.
const DefaultMaxPasswordBytes = 1024

const (
	minMemoryKB    = 8 * 1024
	minTime        = 1
	minParallelism = 1
	minSaltLength  = 16
	minKeyLength   = 16
	minPassBytes   = 10
	phcPrefix      = "$argon2id$"
)

var (
	// ErrMalformedHash is returned for stored hashes that are not argon2id PHC
	// strings this package can verify.
	ErrMalformedHash = errors.New("malformed argon2id hash")
	// ErrPasswordLength is returned for passwords outside the accepted length.
	ErrPasswordLength = errors.New("password length out of range")
	// ErrWeakParams is returned by NewHasher for costs below the minimums.
	ErrWeakParams = errors.New("argon2id parameters below minimum")
)

// Params are the argon2id costs. Memory is in KiB.
type Params struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32

	// MaxPasswordBytes caps the password length for Hash and Verify.
	MaxPasswordBytes int
}

// Hasher hashes new passwords with its Params and verifies stored hashes
// with the params encoded in them. Safe for concurrent use.
type Hasher struct {
	params Params
}

// NewHasher validates p against the minimum costs.
func NewHasher(p Params) (*Hasher, error) {
	switch {
	case p.Memory < minMemoryKB:
		return nil, fmt.Errorf("%w: memory %d KiB < %d", ErrWeakParams, p.Memory, minMemoryKB)
	case p.Time < minTime:
		return nil, fmt.Errorf("%w: time %d < %d", ErrWeakParams, p.Time, minTime)
	case p.Parallelism < minParallelism:
		return nil, fmt.Errorf("%w: parallelism %d < %d", ErrWeakParams, p.Parallelism, minParallelism)
	case p.SaltLength < minSaltLength:
		return nil, fmt.Errorf("%w: salt length %d < %d", ErrWeakParams, p.SaltLength, minSaltLength)
	case p.KeyLength < minKeyLength:
		return nil, fmt.Errorf("%w: key length %d < %d", ErrWeakParams, p.KeyLength, minKeyLength)
	}
	if p.MaxPasswordBytes <= 0 {
		p.MaxPasswordBytes = DefaultMaxPasswordBytes
	}
	return &Hasher{params: p}, nil
}

// Hash returns a PHC string for password with a fresh salt. Bytes are hashed
// as given; no Unicode normalization happens.
func (h *Hasher) Hash(password string) (string, error) {
	if len(password) < minPassBytes || len(password) > h.params.MaxPasswordBytes {
		return "", ErrPasswordLength
	}

	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.Memory, h.params.Parallelism, h.params.KeyLength)

	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		phcPrefix, argon2.Version,
		h.params.Memory, h.params.Time, h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether password matches encoded. Over-long passwords are
// refused with ErrPasswordLength before any hashing; unparsable hashes yield
// ErrMalformedHash.
func (h *Hasher) Verify(password, encoded string) (bool, error) {
	if len(password) > h.params.MaxPasswordBytes {
		return false, ErrPasswordLength
	}
	stored, err := decode(encoded)
	if err != nil {
		return false, err
	}

	key := argon2.IDKey([]byte(password), stored.salt, stored.time, stored.memory, stored.parallelism, uint32(len(stored.key)))
	return subtle.ConstantTimeCompare(key, stored.key) == 1, nil
}

// NeedsRehash reports whether encoded was made with lower costs or a
// different key length than h uses for new hashes.
func (h *Hasher) NeedsRehash(encoded string) (bool, error) {
	stored, err := decode(encoded)
	if err != nil {
		return false, err
	}
	return stored.memory < h.params.Memory ||
		stored.time < h.params.Time ||
		stored.parallelism < h.params.Parallelism ||
		uint32(len(stored.key)) != h.params.KeyLength, nil
}

type storedHash struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

// decode parses $argon2id$v=19$m=..,t=..,p=..$salt$key. Padded and unpadded
// base64 are both accepted.
func decode(encoded string) (*storedHash, error) {
	if !strings.HasPrefix(encoded, phcPrefix) {
		return nil, ErrMalformedHash
	}
	parts := strings.Split(strings.TrimPrefix(encoded, phcPrefix), "$")
	if len(parts) != 4 {
		return nil, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[0], "v=%d", &version); err != nil || version != argon2.Version {
		return nil, fmt.Errorf("%w: version %q", ErrMalformedHash, parts[0])
	}

	var s storedHash
	if n, err := fmt.Sscanf(parts[1], "m=%d,t=%d,p=%d", &s.memory, &s.time, &s.parallelism); err != nil || n != 3 {
		return nil, fmt.Errorf("%w: params %q", ErrMalformedHash, parts[1])
	}
	if parts[1] != fmt.Sprintf("m=%d,t=%d,p=%d", s.memory, s.time, s.parallelism) {
		return nil, fmt.Errorf("%w: params %q", ErrMalformedHash, parts[1])
	}
	if s.memory < minMemoryKB || s.time < minTime || s.parallelism < minParallelism {
		return nil, fmt.Errorf("%w: params %q", ErrMalformedHash, parts[1])
	}

	var err error
	if s.salt, err = decodeB64(parts[2]); err != nil || len(s.salt) < minSaltLength {
		return nil, fmt.Errorf("%w: salt", ErrMalformedHash)
	}
	if s.key, err = decodeB64(parts[3]); err != nil || len(s.key) == 0 {
		return nil, fmt.Errorf("%w: key", ErrMalformedHash)
	}
	return &s, nil
}

func decodeB64(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}
