package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrRedisUnavailable wraps Redis failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrNotFound is returned for missing or expired sessions.
	ErrNotFound = errors.New("session not found")
)

const deleteSessionScript = `
local existed = redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
return existed
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

// Store is a Redis-backed session store with a per-principal index used for
// forced logout.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore creates a session [Store]; prefix sets the key namespace ("ls" when empty).
func NewStore(redisClient redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "ls"
	}
	return &Store{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":s:" + sessionID
}

func (s *Store) principalKey(principalID string) string {
	return s.prefix + ":p:" + principalID
}

// Save persists sess with ttl and indexes it under its principal.
func (s *Store) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	principalKey := s.principalKey(sess.PrincipalID)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.SessionID), data, ttl)
		pipe.SAdd(ctx, principalKey, sess.SessionID)
		pipe.Expire(ctx, principalKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get loads a session. Sessions past ExpiresAt at now are removed and
// reported as ErrNotFound.
func (s *Store) Get(ctx context.Context, sessionID string, now time.Time) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, err
	}
	sess.SessionID = sessionID

	if sess.ExpiresAt <= now.Unix() {
		if _, err := s.Delete(ctx, sess.PrincipalID, sessionID); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return sess, nil
}

// Delete removes one session and reports whether it existed.
func (s *Store) Delete(ctx context.Context, principalID, sessionID string) (bool, error) {
	n, err := deleteSessionLua.Run(ctx, s.redis,
		[]string{s.key(sessionID), s.principalKey(principalID)},
		sessionID,
	).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n == 1, nil
}

// DeleteAllForPrincipal removes every indexed session of a principal and
// returns how many were removed. A session saved concurrently with this call
// may survive until its own expiry.
func (s *Store) DeleteAllForPrincipal(ctx context.Context, principalID string) (int, error) {
	principalKey := s.principalKey(principalID)

	ids, err := s.redis.SMembers(ctx, principalKey).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}

	var delCmd *redis.IntCmd
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		delCmd = pipe.Del(ctx, keys...)
		pipe.SRem(ctx, principalKey, toArgs(ids)...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(delCmd.Val()), nil
}

// ActiveSessionIDs returns the indexed session IDs of a principal.
func (s *Store) ActiveSessionIDs(ctx context.Context, principalID string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.principalKey(principalID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ids, nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

func toArgs(ids []string) []interface{} {
	out := make([]interface{}, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
